// Package aggregate reorders and truncates result pages for display
package aggregate

import (
	"github.com/derWhity/nereid/internal/models"
	"golang.org/x/text/cases"
)

// PinnedOrder is a list of asset DIDs that have to appear in front of a result list in exactly this order
type PinnedOrder []string

// Active checks if the order would change anything when applied
func (p PinnedOrder) Active() bool {
	return len(p) > 0
}

var folder = cases.Fold()

// DIDs are compared case-insensitively
func normalize(did string) string {
	return folder.String(did)
}

// index maps every DID of the order to its position. Duplicates keep their first position
func (p PinnedOrder) index() map[string]int {
	idx := make(map[string]int, len(p))
	for i, did := range p {
		key := normalize(did)
		if _, ok := idx[key]; !ok {
			idx[key] = i
		}
	}
	return idx
}

// Reorder moves the assets listed in priority to the front of the result - in the order of the priority list - and
// keeps the remaining assets in their relative order behind them. Afterwards, the list is cut down to limit items.
// A limit <= 0 does not limit the list.
//
// The pagination metadata of the result is kept as is since trimming only affects what is displayed.
// Without a priority list, the result is passed through unchanged. The given result is never modified.
func Reorder(result models.PagedResult, priority PinnedOrder, limit int) models.PagedResult {
	ret := result
	ret.Items = make([]models.AssetRecord, 0, len(result.Items))
	if !priority.Active() {
		ret.Items = append(ret.Items, result.Items...)
		return ret
	}
	idx := priority.index()
	pinned := make([][]models.AssetRecord, len(priority))
	var rest []models.AssetRecord
	for _, item := range result.Items {
		if pos, ok := idx[normalize(item.DID)]; ok {
			pinned[pos] = append(pinned[pos], item)
		} else {
			rest = append(rest, item)
		}
	}
	for _, items := range pinned {
		ret.Items = append(ret.Items, items...)
	}
	ret.Items = append(ret.Items, rest...)
	if limit > 0 && len(ret.Items) > limit {
		ret.Items = ret.Items[:limit:limit]
	}
	return ret
}
