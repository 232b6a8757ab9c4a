package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Filter is a saved search definition monitored on every run.
type Filter struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Category    string     `json:"category" db:"category"`
	Subcategory string     `json:"subcategory" db:"subcategory"`
	Type        string     `json:"type" db:"type"`
	Criteria    Criteria   `json:"criteria" db:"criteria"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	LastChecked *time.Time `json:"last_checked" db:"last_checked"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// WithLastChecked returns a copy of the filter with the checkpoint moved to t.
func (f Filter) WithLastChecked(t time.Time) Filter {
	f.LastChecked = &t
	return f
}

// Criteria holds the optional search constraints of a filter.
type Criteria struct {
	Price          RangeExpr `json:"price,omitempty"`
	Area           RangeExpr `json:"area,omitempty"`
	ApartmentTypes []string  `json:"apartment_type,omitempty"`
	RegionID       *int      `json:"region_id,omitempty"`
	CityID         *int      `json:"city_id,omitempty"`
	Distance       *int      `json:"distance,omitempty"`
}

// RangeBound is one side of a parsed range expression.
type RangeBound struct {
	Key   string // "from" or "to"
	Value int
}

// RangeExpr is a "from,to" range as typed by the user, e.g. "10000,15000" or ",15000".
type RangeExpr string

// Bounds parses the expression leniently. Only the first two segments count,
// blank segments are skipped but keep their position, and every value is
// truncated to its leading integer ("12.7" -> 12, "abc" -> 0).
func (r RangeExpr) Bounds() []RangeBound {
	raw := strings.TrimSpace(string(r))
	if raw == "" {
		return nil
	}

	var bounds []RangeBound
	for i, part := range strings.Split(raw, ",") {
		if i > 1 {
			break
		}
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := "from"
		if i == 1 {
			key = "to"
		}
		bounds = append(bounds, RangeBound{Key: key, Value: LeadingInt(part)})
	}
	return bounds
}

// LeadingInt returns the integer prefix of s, or 0 when there is none.
func LeadingInt(s string) int {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var result int
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		result = result*10 + int(c-'0')
	}
	if neg {
		return -result
	}
	return result
}

// SplitList splits a comma separated list, trimming and dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
