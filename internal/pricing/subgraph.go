package pricing

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/go-kit/kit/endpoint"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"
)

// Maximum number of chains queried at the same time
const maxParallelChains = 4

const priceQuery = `query BestPrices($datatokens: [String!]) {
  fixedRateExchanges(where: {datatoken_in: $datatokens, active: true}) {
    id
    rate
    datatoken { id }
    baseToken { symbol }
  }
  pools(where: {datatoken_in: $datatokens, active: true}) {
    id
    spotPrice
    datatoken { id }
    baseToken { symbol }
  }
  dispensers(where: {datatoken_in: $datatokens, active: true}) {
    id
    datatoken { id }
  }
}`

// Subgraph is the price source reading the exchanges, pools and dispensers of the chains' subgraphs
type Subgraph struct {
	chains map[int]endpoint.Endpoint
	logger *logrus.Entry
}

// NewSubgraph creates a price source for the subgraphs given by chain ID. If httpClient is nil, the default HTTP client
// is used
func NewSubgraph(urls map[int]string, httpClient *http.Client, logger *logrus.Entry) (*Subgraph, error) {
	var opts []httptransport.ClientOption
	if httpClient != nil {
		opts = append(opts, httptransport.SetClient(httpClient))
	}
	chains := make(map[int]endpoint.Endpoint, len(urls))
	for chainID, u := range urls {
		tgt, err := url.Parse(u)
		if err != nil || tgt.Scheme == "" || tgt.Host == "" {
			return nil, errors.Errorf("Invalid subgraph URL '%s' for chain %d", u, chainID)
		}
		chains[chainID] = httptransport.NewClient(http.MethodPost, tgt, encodeGraphQLRequest, decodeGraphQLResponse, opts...).Endpoint()
	}
	return &Subgraph{chains: chains, logger: logger}, nil
}

// BestPrices looks up the best price of each token. The chains are queried concurrently. A chain failing leaves its
// tokens without price - only if all chains fail, an error is returned
func (s *Subgraph) BestPrices(ctx context.Context, tokens []models.TokenRef) (map[models.TokenRef]*models.Price, error) {
	byChain := map[int][]models.TokenRef{}
	for _, t := range tokens {
		byChain[t.ChainID] = append(byChain[t.ChainID], t)
	}
	var (
		mtx      sync.Mutex
		ret      = make(map[models.TokenRef]*models.Price, len(tokens))
		queried  int
		failures []error
		g        errgroup.Group
	)
	g.SetLimit(maxParallelChains)
	for chainID, refs := range byChain {
		ep, ok := s.chains[chainID]
		if !ok {
			s.logger.WithField(log.FldChains, chainID).Debug("No subgraph configured for chain - skipping prices")
			continue
		}
		queried++
		chainID, refs := chainID, refs
		g.Go(func() error {
			prices, err := s.chainPrices(ctx, ep, refs)
			mtx.Lock()
			defer mtx.Unlock()
			if err != nil {
				s.logger.WithError(err).WithField(log.FldChains, chainID).Warn("Failed to query the subgraph")
				failures = append(failures, err)
				return nil
			}
			for ref, p := range prices {
				ret[ref] = p
			}
			return nil
		})
	}
	_ = g.Wait()
	if queried > 0 && len(failures) == queried {
		return nil, errors.Wrapf(failures[0], "BestPrices: all %d subgraphs failed", queried)
	}
	return ret, nil
}

// chainPrices queries the subgraph of one chain and picks the best price per token
func (s *Subgraph) chainPrices(ctx context.Context, ep endpoint.Endpoint, refs []models.TokenRef) (map[models.TokenRef]*models.Price, error) {
	// The subgraph stores addresses in lower case
	byAddress := make(map[string]models.TokenRef, len(refs))
	addresses := make([]string, 0, len(refs))
	for _, ref := range refs {
		addr := strings.ToLower(ref.Address)
		byAddress[addr] = ref
		addresses = append(addresses, addr)
	}
	res, err := ep(ctx, graphQLRequest{
		Query:     priceQuery,
		Variables: map[string]interface{}{"datatokens": addresses},
	})
	if err != nil {
		return nil, err
	}
	best := bestPrices(res.(*priceData))
	ret := make(map[models.TokenRef]*models.Price, len(best))
	for addr, p := range best {
		if ref, ok := byAddress[addr]; ok {
			ret[ref] = p
		}
	}
	return ret, nil
}

// bestPrices selects the best offer per datatoken address: an active dispenser makes the asset free, otherwise the
// lowest rate of all exchanges and pools wins
func bestPrices(data *priceData) map[string]*models.Price {
	ret := map[string]*models.Price{}
	offer := func(token string, p *models.Price) {
		cur, ok := ret[token]
		if !ok || (cur.Type != models.PriceTypeFree && p.Value.LessThan(cur.Value)) {
			ret[token] = p
		}
	}
	for _, d := range data.Dispensers {
		ret[d.Datatoken.ID] = &models.Price{Value: decimal.Zero, Type: models.PriceTypeFree, Address: d.ID}
	}
	for _, x := range data.FixedRateExchanges {
		if v, err := decimal.NewFromString(x.Rate); err == nil {
			offer(x.Datatoken.ID, &models.Price{Value: v, Type: models.PriceTypeFixed, Address: x.ID, Token: x.BaseToken.Symbol})
		}
	}
	for _, p := range data.Pools {
		if v, err := decimal.NewFromString(p.SpotPrice); err == nil && v.IsPositive() {
			offer(p.Datatoken.ID, &models.Price{Value: v, Type: models.PriceTypePool, Address: p.ID, Token: p.BaseToken.Symbol})
		}
	}
	return ret
}

// --- Wire format ---

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   *priceData     `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type entityRef struct {
	ID string `json:"id"`
}

type tokenSymbol struct {
	Symbol string `json:"symbol"`
}

type priceData struct {
	FixedRateExchanges []struct {
		ID        string      `json:"id"`
		Rate      string      `json:"rate"`
		Datatoken entityRef   `json:"datatoken"`
		BaseToken tokenSymbol `json:"baseToken"`
	} `json:"fixedRateExchanges"`
	Pools []struct {
		ID        string      `json:"id"`
		SpotPrice string      `json:"spotPrice"`
		Datatoken entityRef   `json:"datatoken"`
		BaseToken tokenSymbol `json:"baseToken"`
	} `json:"pools"`
	Dispensers []struct {
		ID        string    `json:"id"`
		Datatoken entityRef `json:"datatoken"`
	} `json:"dispensers"`
}

func encodeGraphQLRequest(ctx context.Context, r *http.Request, request interface{}) error {
	return httptransport.EncodeJSONRequest(ctx, r, request)
}

func decodeGraphQLResponse(_ context.Context, r *http.Response) (interface{}, error) {
	if r.StatusCode < 200 || r.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 512))
		return nil, errors.Errorf("Subgraph returned status %d: %s", r.StatusCode, strings.TrimSpace(string(body)))
	}
	var resp graphQLResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "Failed to decode subgraph response")
	}
	if len(resp.Errors) > 0 {
		return nil, errors.Errorf("Subgraph query failed: %s", resp.Errors[0].Message)
	}
	if resp.Data == nil {
		return nil, errors.New("Subgraph returned no data")
	}
	return resp.Data, nil
}
