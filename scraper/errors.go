package scraper

import "fmt"

// SearchError means the fetch for a filter has to be abandoned for this cycle.
type SearchError struct {
	Op     string // transport, status, decode, protocol, pagination
	Filter string
	Err    error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %s (filter %s): %v", e.Op, e.Filter, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}
