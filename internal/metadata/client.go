// Package metadata talks to the metadata cache - the search backend holding the published assets of all chains
package metadata

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/query"
	"github.com/go-kit/kit/endpoint"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

const searchPath = "/api/aquarius/assets/query"

// Client runs searches against the metadata cache
type Client struct {
	search endpoint.Endpoint
	logger *logrus.Entry
}

// NewClient creates a client for the metadata cache available at the given base URI. If httpClient is nil, the
// default HTTP client is used
func NewClient(baseURI string, httpClient *http.Client, logger *logrus.Entry) (*Client, error) {
	tgt, err := url.Parse(strings.TrimSuffix(baseURI, "/") + searchPath)
	if err != nil {
		return nil, errors.Wrapf(err, "Invalid metadata cache URI '%s'", baseURI)
	}
	if tgt.Scheme == "" || tgt.Host == "" {
		return nil, errors.Errorf("Invalid metadata cache URI '%s': scheme and host are required", baseURI)
	}
	var opts []httptransport.ClientOption
	if httpClient != nil {
		opts = append(opts, httptransport.SetClient(httpClient))
	}
	logger = logger.WithField(log.FldURL, tgt.String())
	ep := httptransport.NewClient(http.MethodPost, tgt, encodeSearchRequest, decodeSearchResponse, opts...).Endpoint()
	return &Client{
		search: loggingMiddleware(logger)(ep),
		logger: logger,
	}, nil
}

// Search runs the query and returns the page of results
func (c *Client) Search(ctx context.Context, q query.SearchQuery) (*models.PagedResult, error) {
	res, err := c.search(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.(*models.PagedResult), nil
}

// ResolveDIDs looks up the assets with the given identifiers on the chains given. The assets are returned in the
// order of the metadata cache - identifiers that are not found are left out
func (c *Client) ResolveDIDs(ctx context.Context, dids []string, chainIDs []int) (*models.PagedResult, error) {
	if len(dids) == 0 {
		return models.EmptyPagedResult(), nil
	}
	q, err := query.Build(
		query.BaseQueryParams{ChainIDs: chainIDs},
		query.WithFilters(query.Terms("id", dids...)),
		query.WithPageSize(len(dids)),
		query.WithPurgatory(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "ResolveDIDs: failed to build query")
	}
	return c.Search(ctx, q)
}

// loggingMiddleware logs each call to the metadata cache on debug level
func loggingMiddleware(logger *logrus.Entry) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request interface{}) (interface{}, error) {
			defer func(begin time.Time) {
				fields := logrus.Fields{log.FldDuration: time.Since(begin)}
				if q, ok := request.(query.SearchQuery); ok {
					fields[log.FldChains] = q.ChainIDs
					fields[log.FldSearch] = q.Text
					fields[log.FldPage] = q.Pagination.Page
					fields[log.FldLimit] = q.Pagination.Size
				}
				logger.WithFields(fields).Debug("Metadata cache queried")
			}(time.Now())
			return next(ctx, request)
		}
	}
}

// --- Wire format ---

type searchResponse struct {
	Results      []ddo `json:"results"`
	Page         int   `json:"page"`
	TotalPages   int   `json:"total_pages"`
	TotalResults int   `json:"total_results"`
}

type ddo struct {
	ID            string `json:"id"`
	ChainID       int    `json:"chainId"`
	DataToken     string `json:"dataToken"`
	DataTokenInfo struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"dataTokenInfo"`
	Created string       `json:"created"`
	Service []ddoService `json:"service"`
}

type ddoService struct {
	Type       string `json:"type"`
	Attributes struct {
		Main struct {
			Name   string `json:"name"`
			Type   string `json:"type"`
			Author string `json:"author"`
		} `json:"main"`
	} `json:"attributes"`
}

// record converts the document into the asset record shown in result lists
func (d *ddo) record() models.AssetRecord {
	rec := models.AssetRecord{
		DID:     d.ID,
		ChainID: d.ChainID,
		Datatoken: models.Datatoken{
			Address: d.DataTokenInfo.Address,
			Name:    d.DataTokenInfo.Name,
			Symbol:  d.DataTokenInfo.Symbol,
		},
	}
	if rec.Datatoken.Address == "" {
		rec.Datatoken.Address = d.DataToken
	}
	if created, err := time.Parse(time.RFC3339, d.Created); err == nil {
		rec.Created = created
	}
	for _, svc := range d.Service {
		if svc.Type == "metadata" {
			rec.Name = svc.Attributes.Main.Name
			rec.Type = svc.Attributes.Main.Type
			rec.Author = svc.Attributes.Main.Author
			break
		}
	}
	return rec
}

func encodeSearchRequest(ctx context.Context, r *http.Request, request interface{}) error {
	q, ok := request.(query.SearchQuery)
	if !ok {
		return errors.Errorf("Unexpected request type %T", request)
	}
	return httptransport.EncodeJSONRequest(ctx, r, EncodeQuery(q))
}

func decodeSearchResponse(_ context.Context, r *http.Response) (interface{}, error) {
	if r.StatusCode < 200 || r.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 512))
		return nil, errors.Errorf("Metadata cache returned status %d: %s", r.StatusCode, strings.TrimSpace(string(body)))
	}
	var resp searchResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "Failed to decode metadata cache response")
	}
	ret := &models.PagedResult{
		Items:        make([]models.AssetRecord, len(resp.Results)),
		Page:         resp.Page,
		TotalPages:   resp.TotalPages,
		TotalResults: resp.TotalResults,
	}
	for i := range resp.Results {
		ret.Items[i] = resp.Results[i].record()
	}
	return ret, nil
}
