package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"olx_monitor/models"
	"olx_monitor/scraper"
	"olx_monitor/services"
)

const timeLayout = "2006-01-02 15:04"

var (
	primaryColor = lipgloss.Color("#7C3AED")
	mutedColor   = lipgloss.Color("#6B7280")
	errorColor   = lipgloss.Color("#EF4444")
	warningColor = lipgloss.Color("#EAB308")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func renderFilters(filters []models.Filter) string {
	t := newTable("ID", "Name", "Category", "Price", "Area", "Last checked")
	for _, f := range filters {
		path := strings.Join(nonEmpty(f.Category, f.Subcategory, f.Type), " / ")
		lastChecked := "Never"
		if f.LastChecked != nil {
			lastChecked = f.LastChecked.Local().Format(timeLayout)
		}
		t.Row(f.ID.String(), f.Name, path, orDash(string(f.Criteria.Price)), orDash(string(f.Criteria.Area)), lastChecked)
	}
	return t.String()
}

func renderRunStats(s scraper.RunStats) string {
	t := newTable("Filters", "Failed", "Found", "New", "Price changes", "Removed", "Notify failures").
		Row(
			fmt.Sprintf("%d/%d", s.FiltersProcessed, s.FiltersTotal),
			strconv.Itoa(s.FiltersFailed),
			strconv.Itoa(s.ListingsFound),
			strconv.Itoa(s.Created),
			strconv.Itoa(s.PriceChanged),
			strconv.Itoa(s.Removed),
			strconv.Itoa(s.NotificationsFailed),
		)

	out := titleStyle.Render("Run complete") + "\n" + t.String()
	if s.Cancelled {
		out += "\n" + lipgloss.NewStyle().Foreground(warningColor).Render("Run was cancelled before all filters were checked")
	}
	return out
}

func renderDashboard(s services.DashboardStats) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Listings") + "\n")
	b.WriteString(newTable("Total", "Active", "Removed", "Active filters").
		Row(strconv.Itoa(s.TotalListings), strconv.Itoa(s.ActiveListings), strconv.Itoa(s.RemovedListings), strconv.Itoa(s.ActiveFilters)).
		String())

	b.WriteString("\n" + titleStyle.Render("Prices of active listings") + "\n")
	b.WriteString(newTable("Min", "Max", "Average", "Median").
		Row(services.FormatPrice(s.Prices.Min), services.FormatPrice(s.Prices.Max),
			services.FormatPrice(s.Prices.Avg), services.FormatPrice(s.Prices.Median)).
		String())

	if len(s.Categories) > 0 {
		names := make([]string, 0, len(s.Categories))
		for name := range s.Categories {
			names = append(names, name)
		}
		sort.Strings(names)

		t := newTable("Category", "Active", "Average price")
		for _, name := range names {
			c := s.Categories[name]
			t.Row(orDash(name), strconv.Itoa(c.Count), services.FormatPrice(c.AvgPrice))
		}
		b.WriteString("\n" + titleStyle.Render("By category") + "\n" + t.String())
	}

	if len(s.Recent) > 0 {
		t := newTable("Seen", "Title", "Price", "Status")
		for _, l := range s.Recent {
			status := "active"
			if !l.IsActive {
				status = "removed"
			}
			t.Row(l.CreatedAt.Local().Format(timeLayout), l.Title, services.FormatPrice(l.Price)+" "+l.Currency, status)
		}
		b.WriteString("\n" + titleStyle.Render("Recent listings") + "\n" + t.String())
	}

	return b.String()
}

func renderPriceHistory(history []models.PriceHistory, stats services.PriceStatistics) string {
	if len(history) == 0 {
		return mutedStyle.Render("No price changes recorded")
	}

	t := newTable("Changed at", "Old", "New")
	for _, h := range history {
		t.Row(h.ChangedAt.Local().Format(timeLayout), services.FormatPrice(h.OldPrice), services.FormatPrice(h.NewPrice))
	}

	summary := newTable("Changes", "Min", "Max", "Average", "Total change").
		Row(
			strconv.Itoa(stats.ChangeCount),
			services.FormatPrice(stats.Min),
			services.FormatPrice(stats.Max),
			services.FormatPrice(stats.Average),
			fmt.Sprintf("%s (%s%%)", services.FormatPrice(stats.TotalChange), services.FormatPrice(stats.TotalChangePercent)),
		)

	return titleStyle.Render("Price history") + "\n" + t.String() + "\n" + summary.String()
}

func renderLogs(entries []models.MonitorLog) string {
	t := newTable("Time", "Level", "Filter", "Message").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(entries) {
				switch entries[row].Level {
				case models.LogLevelError:
					return cellStyle.Foreground(errorColor)
				case models.LogLevelWarn:
					return cellStyle.Foreground(warningColor)
				}
			}
			return cellStyle
		})

	for _, e := range entries {
		t.Row(e.Timestamp.Local().Format("01-02 15:04:05"), string(e.Level), orDash(shortID(e.FilterID)), e.Message)
	}
	return t.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
