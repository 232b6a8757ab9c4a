package scraper

import "olx_monitor/config"

// Catalog resolves human readable names to the numeric codes of the search API.
type Catalog interface {
	CategoryID(category, subcategory, typ string) int
	ApartmentTypeID(name string) (int, bool)
}

// StaticCatalog serves lookups from a config.Catalog table.
type StaticCatalog struct {
	tables *config.Catalog
}

func NewStaticCatalog(tables *config.Catalog) *StaticCatalog {
	if tables == nil {
		tables = config.DefaultCatalog()
	}
	return &StaticCatalog{tables: tables}
}

// CategoryID returns 0 when the path is unknown.
func (c *StaticCatalog) CategoryID(category, subcategory, typ string) int {
	node, ok := c.tables.Categories[category][subcategory]
	if !ok {
		return 0
	}
	if typ == "" {
		return node.Code
	}
	return node.Types[typ]
}

func (c *StaticCatalog) ApartmentTypeID(name string) (int, bool) {
	id, ok := c.tables.ApartmentTypes[name]
	return id, ok && id != 0
}
