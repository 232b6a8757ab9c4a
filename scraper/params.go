package scraper

import (
	"fmt"
	"strconv"
	"strings"

	"olx_monitor/models"
)

const (
	// PageSize is the number of results requested per page. A shorter page
	// ends the pagination loop.
	PageSize = 40

	DefaultCurrency = "UAH"

	apartmentTypeKey = "filter_enum_property_type_appartments_sale"
	areaKey          = "filter_float_total_area"
	priceKey         = "filter_float_price"
)

// SearchParam is one flat key/value pair of the search protocol.
type SearchParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Encoder maps a filter onto search parameters. It holds no state besides
// the lookup tables, so Encode is a pure function of filter and offset.
type Encoder struct {
	catalog Catalog
}

func NewEncoder(catalog Catalog) *Encoder {
	return &Encoder{catalog: catalog}
}

func (e *Encoder) Encode(filter models.Filter, offset int) []SearchParam {
	c := filter.Criteria

	params := []SearchParam{
		{Key: "category_id", Value: strconv.Itoa(e.catalog.CategoryID(filter.Category, filter.Subcategory, filter.Type))},
		{Key: "region_id", Value: optionalInt(c.RegionID)},
		{Key: "city_id", Value: optionalInt(c.CityID)},
		{Key: "distance", Value: optionalInt(c.Distance)},
		{Key: "currency", Value: DefaultCurrency},
		{Key: "limit", Value: strconv.Itoa(PageSize)},
		{Key: "offset", Value: strconv.Itoa(offset)},
	}

	params = append(params, e.apartmentTypes(c.ApartmentTypes)...)
	params = append(params, rangeParams(areaKey, c.Area)...)
	params = append(params, rangeParams(priceKey, c.Price)...)

	return params
}

// apartmentTypes emits resolved codes under contiguous indexes; unknown
// names are dropped without leaving a gap.
func (e *Encoder) apartmentTypes(names []string) []SearchParam {
	var params []SearchParam
	for _, name := range names {
		id, ok := e.catalog.ApartmentTypeID(strings.TrimSpace(name))
		if !ok {
			continue
		}
		params = append(params, SearchParam{
			Key:   fmt.Sprintf("%s[%d]", apartmentTypeKey, len(params)),
			Value: strconv.Itoa(id),
		})
	}
	return params
}

func rangeParams(key string, expr models.RangeExpr) []SearchParam {
	var params []SearchParam
	for _, b := range expr.Bounds() {
		params = append(params, SearchParam{
			Key:   key + ":" + b.Key,
			Value: strconv.Itoa(b.Value),
		})
	}
	return params
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
