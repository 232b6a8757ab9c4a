package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"olx_monitor/models"
	"olx_monitor/services"
)

func newFilterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Manage saved searches",
	}
	cmd.AddCommand(newFilterCreateCommand(a))
	cmd.AddCommand(newFilterListCommand(a))
	cmd.AddCommand(newFilterSubscribeCommand(a))
	return cmd
}

func newFilterCreateCommand(a *app) *cobra.Command {
	var (
		f              models.Filter
		price, area    string
		apartmentTypes string
		regionID       int
		cityID         int
		distance       int
		chatID         int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a filter and optionally subscribe a Telegram chat to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f.Criteria = models.Criteria{
				Price:          models.RangeExpr(price),
				Area:           models.RangeExpr(area),
				ApartmentTypes: models.SplitList(apartmentTypes),
			}
			flags := cmd.Flags()
			if flags.Changed("region-id") {
				f.Criteria.RegionID = &regionID
			}
			if flags.Changed("city-id") {
				f.Criteria.CityID = &cityID
			}
			if flags.Changed("distance") {
				f.Criteria.Distance = &distance
			}

			if err := services.ValidateFilter(f, a.cfg.Catalog); err != nil {
				return err
			}

			repo, err := a.repository(ctx)
			if err != nil {
				return err
			}

			f.ID = uuid.New()
			f.IsActive = true
			f.CreatedAt = time.Now()
			if err := repo.SaveFilter(ctx, f); err != nil {
				return err
			}

			if flags.Changed("chat-id") {
				if err := repo.SaveSubscriber(ctx, models.Subscriber{FilterID: f.ID, ChatID: chatID, CreatedAt: time.Now()}); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderFilters([]models.Filter{f}))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.Name, "name", "", "filter name")
	flags.StringVar(&f.Category, "category", "", "category, e.g. нерухомість")
	flags.StringVar(&f.Subcategory, "subcategory", "", "subcategory, e.g. квартири")
	flags.StringVar(&f.Type, "type", "", "offer type, e.g. довгострокова оренда")
	flags.StringVar(&price, "price", "", `price range "from,to"`)
	flags.StringVar(&area, "area", "", `total area range "from,to"`)
	flags.StringVar(&apartmentTypes, "apartment-type", "", "comma separated apartment types")
	flags.IntVar(&regionID, "region-id", 0, "region id")
	flags.IntVar(&cityID, "city-id", 0, "city id")
	flags.IntVar(&distance, "distance", 0, "search radius in km")
	flags.Int64Var(&chatID, "chat-id", 0, "Telegram chat to subscribe")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("category")
	cmd.MarkFlagRequired("subcategory")

	return cmd
}

func newFilterListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := a.repository(ctx)
			if err != nil {
				return err
			}

			filters, err := repo.FindActiveFilters(ctx)
			if err != nil {
				return err
			}
			if len(filters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active filters")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFilters(filters))
			return nil
		},
	}
}

func newFilterSubscribeCommand(a *app) *cobra.Command {
	var (
		filterID string
		chatID   int64
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe a Telegram chat to a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := uuid.Parse(filterID)
			if err != nil {
				return fmt.Errorf("invalid --filter-id: %w", err)
			}

			repo, err := a.repository(ctx)
			if err != nil {
				return err
			}

			f, err := repo.FindFilterByID(ctx, id)
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("unknown filter: %s", id)
			}

			if err := repo.SaveSubscriber(ctx, models.Subscriber{FilterID: id, ChatID: chatID, CreatedAt: time.Now()}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Chat %d subscribed to %q\n", chatID, f.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&filterID, "filter-id", "", "filter to subscribe to")
	cmd.Flags().Int64Var(&chatID, "chat-id", 0, "Telegram chat id")
	cmd.MarkFlagRequired("filter-id")
	cmd.MarkFlagRequired("chat-id")

	return cmd
}
