package metadata

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/derWhity/nereid/internal/query"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

const cannedResponse = `{
	"results": [
		{
			"id": "did:op:a",
			"chainId": 137,
			"dataToken": "0xaaa",
			"dataTokenInfo": {"address": "0xaaa", "name": "Alpha Token", "symbol": "ALPHA-1"},
			"created": "2021-06-01T10:00:00Z",
			"service": [
				{"type": "access"},
				{"type": "metadata", "attributes": {"main": {"name": "Alpha", "type": "dataset", "author": "Jane"}}}
			]
		},
		{
			"id": "did:op:b",
			"chainId": 1,
			"dataToken": "0xbbb",
			"created": "not a date",
			"service": [{"type": "metadata", "attributes": {"main": {"name": "Beta", "type": "algorithm"}}}]
		}
	],
	"page": 1,
	"total_pages": 3,
	"total_results": 21
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	c, err := NewClient(srv.URL+"/", srv.Client(), logrus.NewEntry(logger))
	require.NoError(t, err)
	return c
}

func TestSearch(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, searchPath, r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(cannedResponse))
	})
	q := query.MustBuild(query.BaseQueryParams{ChainIDs: []int{137, 1}}, query.WithPagination(9, 2))

	res, err := c.Search(context.Background(), q)

	require.NoError(t, err)
	assert.Equal(t, []string{"did:op:a", "did:op:b"}, res.DIDs())
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 21, res.TotalResults)

	a := res.Items[0]
	assert.Equal(t, "Alpha", a.Name)
	assert.Equal(t, "dataset", a.Type)
	assert.Equal(t, "Jane", a.Author)
	assert.Equal(t, 137, a.ChainID)
	assert.Equal(t, "ALPHA-1", a.Datatoken.Symbol)
	assert.Equal(t, time.Date(2021, 6, 1, 10, 0, 0, 0, time.UTC), a.Created)
	assert.Nil(t, a.Price)

	b := res.Items[1]
	assert.Equal(t, "0xbbb", b.Datatoken.Address, "falls back to the plain token address")
	assert.True(t, b.Created.IsZero())

	// JSON numbers are decoded as float64
	assert.Equal(t, float64(18), body["from"])
	assert.Equal(t, float64(9), body["size"])
}

func TestSearch_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index missing", http.StatusBadGateway)
	})

	res, err := c.Search(context.Background(), query.MustBuild(query.BaseQueryParams{ChainIDs: []int{1}}))

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "index missing")
}

func TestSearch_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{"))
	})

	_, err := c.Search(context.Background(), query.MustBuild(query.BaseQueryParams{ChainIDs: []int{1}}))

	assert.Error(t, err)
}

func TestSearch_Cancelled(t *testing.T) {
	unblock := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	})
	defer close(unblock)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.Search(ctx, query.MustBuild(query.BaseQueryParams{ChainIDs: []int{1}}))

	require.Error(t, err)
	assert.Equal(t, context.Canceled, ctx.Err())
}

func TestResolveDIDs(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(cannedResponse))
	})

	res, err := c.ResolveDIDs(context.Background(), []string{"did:op:a", "did:op:b"}, []int{1, 137})

	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, float64(2), body["size"])
	filters := body["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	want := []interface{}{
		map[string]interface{}{"terms": map[string]interface{}{"chainId": []interface{}{float64(1), float64(137)}}},
		map[string]interface{}{"terms": map[string]interface{}{"id": []interface{}{"did:op:a", "did:op:b"}}},
	}
	if diff := cmp.Diff(want, filters); diff != "" {
		t.Errorf("unexpected filters (-want +got):\n%s", diff)
	}
}

func TestResolveDIDs_NoIdentifiers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	res, err := c.ResolveDIDs(context.Background(), nil, []int{1})

	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 0, res.TotalResults)
}

func TestNewClient_InvalidURI(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewClient("not-a-uri", nil, logrus.NewEntry(logger))
	assert.Error(t, err)
}
