// Package pricing attaches the best available price to asset records
package pricing

import (
	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// PriceSource looks up the best prices for a batch of datatokens. Tokens without a known price are missing in the
// returned map
type PriceSource interface {
	BestPrices(ctx context.Context, tokens []models.TokenRef) (map[models.TokenRef]*models.Price, error)
}

// Enricher sets the prices on asset records
type Enricher struct {
	source PriceSource
	logger *logrus.Entry
}

// NewEnricher creates a new enricher using the given price source
func NewEnricher(source PriceSource, logger *logrus.Entry) *Enricher {
	return &Enricher{source: source, logger: logger}
}

// Enrich returns a copy of the records with their prices set. All prices are fetched in one batch.
// Order and length of the records are kept. Records whose price is unknown keep the price they had.
// If the price source fails, the error is logged and the records are returned unchanged
func (e *Enricher) Enrich(ctx context.Context, records []models.AssetRecord) []models.AssetRecord {
	if len(records) == 0 {
		return records
	}
	refs := tokenRefs(records)
	if len(refs) == 0 {
		return records
	}
	prices, err := e.source.BestPrices(ctx, refs)
	if err != nil {
		logger := e.logger.WithError(err).WithField(log.FldCount, len(refs))
		if ctx.Err() != nil {
			logger.Debug("Price lookup aborted")
		} else {
			logger.Warn("Failed to fetch prices - showing assets without them")
		}
		return records
	}
	ret := make([]models.AssetRecord, len(records))
	copy(ret, records)
	for i := range ret {
		if p, ok := prices[ret[i].Token()]; ok && p != nil {
			price := *p
			ret[i].Price = &price
		}
	}
	return ret
}

// tokenRefs collects the distinct datatokens of the records
func tokenRefs(records []models.AssetRecord) []models.TokenRef {
	seen := make(map[models.TokenRef]bool, len(records))
	var ret []models.TokenRef
	for i := range records {
		ref := records[i].Token()
		if ref.Address == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		ret = append(ret, ref)
	}
	return ret
}
