package repositories

import (
	"sort"
	"strings"
)

// MergeStockAdjustments sums deltas per product and returns the product ids with a non-zero
// net change in sorted order. Blank ids or zero deltas fail with ProductErrorInvalidAdjustment.
func MergeStockAdjustments(adjustments []StockAdjustment) (map[string]int64, []string, error) {
	totals := make(map[string]int64, len(adjustments))
	for _, adj := range adjustments {
		id := strings.TrimSpace(adj.ProductID)
		if id == "" || adj.Delta == 0 {
			return nil, nil, NewProductError(ProductErrorInvalidAdjustment, id, "product id and non-zero delta are required", nil)
		}
		totals[id] += adj.Delta
	}
	ids := make([]string, 0, len(totals))
	for id, delta := range totals {
		if delta != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return totals, ids, nil
}
