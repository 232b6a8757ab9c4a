package services

import (
	"fmt"
	"strings"

	"olx_monitor/config"
	"olx_monitor/models"
)

const maxFilterNameLength = 255

// ValidationError rejects a filter definition at creation time.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateFilter checks the category path against the catalog, the price and
// area ranges, and the name.
func ValidateFilter(f models.Filter, catalog *config.Catalog) error {
	if catalog == nil {
		catalog = config.DefaultCatalog()
	}

	if err := validateCategory(f, catalog); err != nil {
		return err
	}
	if err := validateRange("price", f.Criteria.Price); err != nil {
		return err
	}
	if err := validateRange("area", f.Criteria.Area); err != nil {
		return err
	}
	return validateName(f.Name)
}

func validateCategory(f models.Filter, catalog *config.Catalog) error {
	subcategories, ok := catalog.Categories[f.Category]
	if !ok {
		return invalid("category", "unknown category %q", f.Category)
	}

	node, ok := subcategories[f.Subcategory]
	if !ok {
		return invalid("subcategory", "unknown subcategory %q for category %q", f.Subcategory, f.Category)
	}

	if len(node.Types) == 0 {
		if f.Type != "" {
			return invalid("type", "subcategory %q takes no type, got %q", f.Subcategory, f.Type)
		}
		return nil
	}
	if _, ok := node.Types[f.Type]; !ok {
		return invalid("type", "unknown type %q for subcategory %q", f.Type, f.Subcategory)
	}
	return nil
}

func validateRange(field string, expr models.RangeExpr) error {
	var from, to *int
	for _, b := range expr.Bounds() {
		v := b.Value
		if v < 0 {
			return invalid(field, "%s bound must not be negative", b.Key)
		}
		if b.Key == "from" {
			from = &v
		} else {
			to = &v
		}
	}

	if from != nil && to != nil && *from >= *to {
		return invalid(field, "from (%d) must be less than to (%d)", *from, *to)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name", "must not be empty")
	}
	if len(name) > maxFilterNameLength {
		return invalid("name", "must not exceed %d characters", maxFilterNameLength)
	}
	return nil
}
