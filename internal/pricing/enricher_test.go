package pricing

import (
	"testing"

	"github.com/derWhity/nereid/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

type fakeSource struct {
	prices map[models.TokenRef]*models.Price
	err    error
	calls  [][]models.TokenRef
}

func (s *fakeSource) BestPrices(ctx context.Context, tokens []models.TokenRef) (map[models.TokenRef]*models.Price, error) {
	s.calls = append(s.calls, tokens)
	if s.err != nil {
		return nil, s.err
	}
	return s.prices, nil
}

func record(did string, chainID int, token string) models.AssetRecord {
	return models.AssetRecord{DID: did, ChainID: chainID, Datatoken: models.Datatoken{Address: token}}
}

func fixed(v string) *models.Price {
	return &models.Price{Value: decimal.RequireFromString(v), Type: models.PriceTypeFixed}
}

func newEnricher(src PriceSource) (*Enricher, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewEnricher(src, logrus.NewEntry(logger)), hook
}

func TestEnrich(t *testing.T) {
	src := &fakeSource{prices: map[models.TokenRef]*models.Price{
		{ChainID: 1, Address: "0x1"}:   fixed("3"),
		{ChainID: 137, Address: "0x1"}: fixed("5"),
	}}
	e, hook := newEnricher(src)
	in := []models.AssetRecord{
		record("did:op:a", 1, "0x1"),
		record("did:op:b", 137, "0x1"),
		record("did:op:c", 1, "0x2"),
		record("did:op:d", 1, "0x1"),
	}

	out := e.Enrich(context.Background(), in)

	require.Len(t, out, 4)
	assert.Equal(t, []string{"did:op:a", "did:op:b", "did:op:c", "did:op:d"}, (&models.PagedResult{Items: out}).DIDs())
	assert.True(t, out[0].Price.Value.Equal(decimal.NewFromInt(3)))
	assert.True(t, out[1].Price.Value.Equal(decimal.NewFromInt(5)))
	assert.Nil(t, out[2].Price, "unknown prices stay unset")
	assert.True(t, out[3].Price.Value.Equal(decimal.NewFromInt(3)))
	// One batch with each token once
	require.Len(t, src.calls, 1)
	assert.ElementsMatch(t, []models.TokenRef{{ChainID: 1, Address: "0x1"}, {ChainID: 137, Address: "0x1"}, {ChainID: 1, Address: "0x2"}}, src.calls[0])
	// Input untouched
	for _, r := range in {
		assert.Nil(t, r.Price)
	}
	assert.Empty(t, hook.AllEntries())
}

func TestEnrich_Idempotent(t *testing.T) {
	src := &fakeSource{prices: map[models.TokenRef]*models.Price{{ChainID: 1, Address: "0x1"}: fixed("2")}}
	e, _ := newEnricher(src)
	in := []models.AssetRecord{record("did:op:a", 1, "0x1"), record("did:op:b", 1, "0x9")}

	once := e.Enrich(context.Background(), in)
	twice := e.Enrich(context.Background(), once)

	assert.Equal(t, once, twice)
}

func TestEnrich_KeepsExistingPrice(t *testing.T) {
	e, _ := newEnricher(&fakeSource{prices: map[models.TokenRef]*models.Price{}})
	in := []models.AssetRecord{record("did:op:a", 1, "0x1")}
	in[0].Price = fixed("7")

	out := e.Enrich(context.Background(), in)

	require.NotNil(t, out[0].Price)
	assert.True(t, out[0].Price.Value.Equal(decimal.NewFromInt(7)))
}

func TestEnrich_SourceFailure(t *testing.T) {
	e, hook := newEnricher(&fakeSource{err: errors.New("subgraph down")})
	in := []models.AssetRecord{record("did:op:a", 1, "0x1"), record("did:op:b", 1, "0x2")}

	out := e.Enrich(context.Background(), in)

	assert.Equal(t, in, out)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestEnrich_NothingToPrice(t *testing.T) {
	src := &fakeSource{}
	e, _ := newEnricher(src)

	assert.Empty(t, e.Enrich(context.Background(), nil))
	out := e.Enrich(context.Background(), []models.AssetRecord{{DID: "did:op:no-token"}})

	assert.Len(t, out, 1)
	assert.Empty(t, src.calls)
}

func TestEnrich_AddressCaseIsIgnored(t *testing.T) {
	src := &fakeSource{prices: map[models.TokenRef]*models.Price{{ChainID: 1, Address: "0xabc"}: fixed("4")}}
	e, _ := newEnricher(src)
	in := []models.AssetRecord{
		record("did:op:a", 1, "0xAbC"),
		record("did:op:b", 1, "0xabc"),
	}

	out := e.Enrich(context.Background(), in)

	require.Len(t, src.calls, 1)
	assert.Equal(t, []models.TokenRef{{ChainID: 1, Address: "0xabc"}}, src.calls[0])
	for _, r := range out {
		require.NotNil(t, r.Price, r.DID)
		assert.True(t, r.Price.Value.Equal(decimal.NewFromInt(4)))
	}
}
