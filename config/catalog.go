package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog holds the name -> code tables used to build search parameters.
type Catalog struct {
	Categories     map[string]map[string]CategoryNode `yaml:"categories"`
	ApartmentTypes map[string]int                     `yaml:"apartment_types"`
}

// CategoryNode is a subcategory. Code is used when the filter has no type,
// Types when it does.
type CategoryNode struct {
	Code  int            `yaml:"code"`
	Types map[string]int `yaml:"types"`
}

// DefaultCatalog returns the built-in tables.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Categories: map[string]map[string]CategoryNode{
			"нерухомість": {
				"квартири": {Types: map[string]int{
					"довгострокова оренда": 1760,
					"продаж":               1758,
				}},
				"будинки": {Types: map[string]int{
					"продаж": 1309,
					"оренда": 1310,
				}},
			},
			"транспорт": {
				"легкові автомобілі": {Code: 1318},
				"мотоцикли":          {Code: 1319},
			},
		},
		ApartmentTypes: map[string]int{
			"царський будинок":        1,
			"житловий фонд 2001-2010": 10,
			"житловий фонд від 2011":  11,
		},
	}
}

// LoadCatalog reads the tables from path, falling back to the defaults when
// the file does not exist.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultCatalog(), nil
		}
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if c.Categories == nil {
		c.Categories = map[string]map[string]CategoryNode{}
	}
	if c.ApartmentTypes == nil {
		c.ApartmentTypes = map[string]int{}
	}
	return &c, nil
}
