package search

import (
	"fmt"
	"strconv"
	"strings"
)

type FilterParams struct {
	Query       string
	City        string
	Category    string
	MinPrice    *float64
	MaxPrice    *float64
	MinBedrooms *int
	MinGuests   *int
	SortBy      string
	Limit       int64
	Offset      int64
}

// BuildFilter returns the Meilisearch filter expression for params. The tenant
// clause is always first.
func BuildFilter(tenantID string, params FilterParams) string {
	filters := []string{fmt.Sprintf("tenant_id = %s", quote(tenantID))}

	if params.City != "" {
		filters = append(filters, fmt.Sprintf("city = %s", quote(params.City)))
	}
	if params.Category != "" {
		filters = append(filters, fmt.Sprintf("category = %s", quote(strings.ToLower(params.Category))))
	}

	// Price range filter
	if params.MinPrice != nil {
		filters = append(filters, "base_price >= "+strconv.FormatFloat(*params.MinPrice, 'f', -1, 64))
	}
	if params.MaxPrice != nil {
		filters = append(filters, "base_price <= "+strconv.FormatFloat(*params.MaxPrice, 'f', -1, 64))
	}

	if params.MinBedrooms != nil {
		filters = append(filters, fmt.Sprintf("bedrooms >= %d", *params.MinBedrooms))
	}
	if params.MinGuests != nil {
		filters = append(filters, fmt.Sprintf("max_guests >= %d", *params.MinGuests))
	}

	return strings.Join(filters, " AND ")
}

// quote wraps a filter value in double quotes, escaping embedded quotes
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}
