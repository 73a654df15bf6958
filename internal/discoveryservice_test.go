package internal

import (
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/derWhity/nereid/internal/aggregate"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/query"
	"github.com/derWhity/nereid/internal/section"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

// stubBackend answers searches with a fixed list of assets
type stubBackend struct {
	mtx      sync.Mutex
	items    []models.AssetRecord
	fail     bool
	block    bool
	searches []query.SearchQuery
	resolved [][]string
}

func newStubBackend(dids ...string) *stubBackend {
	b := &stubBackend{}
	for _, did := range dids {
		b.items = append(b.items, models.AssetRecord{DID: did, Name: "Asset " + did, ChainID: 137})
	}
	return b
}

func (b *stubBackend) answer(ctx context.Context, items []models.AssetRecord) (*models.PagedResult, error) {
	if b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b.fail {
		return nil, errors.New("backend unavailable")
	}
	return &models.PagedResult{Items: items, Page: 1, TotalPages: 1, TotalResults: len(items)}, nil
}

func (b *stubBackend) Search(ctx context.Context, q query.SearchQuery) (*models.PagedResult, error) {
	b.mtx.Lock()
	b.searches = append(b.searches, q)
	items := append([]models.AssetRecord(nil), b.items...)
	b.mtx.Unlock()
	return b.answer(ctx, items)
}

func (b *stubBackend) ResolveDIDs(ctx context.Context, dids []string, chainIDs []int) (*models.PagedResult, error) {
	b.mtx.Lock()
	b.resolved = append(b.resolved, dids)
	wanted := map[string]bool{}
	for _, did := range dids {
		wanted[did] = true
	}
	var items []models.AssetRecord
	for _, item := range b.items {
		if wanted[item.DID] {
			items = append(items, item)
		}
	}
	b.mtx.Unlock()
	return b.answer(ctx, items)
}

func (b *stubBackend) setFailing(fail bool) {
	b.mtx.Lock()
	b.fail = fail
	b.mtx.Unlock()
}

func (b *stubBackend) searchCount() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.searches)
}

func (b *stubBackend) lastSearch() query.SearchQuery {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.searches[len(b.searches)-1]
}

func newBoard(t *testing.T, backend section.Backend) *section.Board {
	logger, _ := test.NewNullLogger()
	entry := logrus.NewEntry(logger)
	board := section.NewBoard(func(visitorID, name string) *section.Runner {
		return section.NewRunner(name, backend, nil, section.Options{}, entry)
	}, time.Minute, entry)
	t.Cleanup(board.Close)
	return board
}

func defaultConfig(t *testing.T) models.AppConfig {
	conf, err := models.GetDefaultConfig()
	require.NoError(t, err)
	return *conf
}

func TestHomeSections_RecentlyPublished(t *testing.T) {
	conf := defaultConfig(t)
	prefs := &models.Preferences{VisitorID: "v", ChainIDs: []int{137, 1}}

	specs, err := homeSections(conf, prefs)

	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, TitleRecentlyPublished, specs[0].title)
	in := specs[0].inputs
	assert.False(t, in.ByIdentifiers)
	assert.False(t, in.Priority.Active())
	want := query.SearchQuery{
		ChainIDs:   []int{1, 137},
		Sort:       query.Sort{Field: query.SortCreated, Direction: query.Ascending},
		Pagination: query.Pagination{Size: 9},
	}
	if diff := cmp.Diff(want, in.Query); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestHomeSections_FeaturedCategories(t *testing.T) {
	conf := defaultConfig(t)
	conf.DisplayCap = 2
	conf.Featured = []models.FeaturedCategory{
		{Title: "Top Sales", Assets: []string{"did:op:c", "did:op:a", "did:op:b"}},
		{Title: "Empty"},
	}
	prefs := &models.Preferences{VisitorID: "v", ChainIDs: []int{1}}

	specs, err := homeSections(conf, prefs)

	require.NoError(t, err)
	require.Len(t, specs, 2)

	top := specs[0].inputs
	assert.Equal(t, "featured:0", specs[0].name)
	assert.Equal(t, aggregate.PinnedOrder{"did:op:c", "did:op:a", "did:op:b"}, top.Priority)
	assert.Equal(t, 2, top.Cap)
	assert.Equal(t, 3, top.Query.Pagination.Size)
	assert.Equal(t, []query.FilterTerm{query.Terms("id", "did:op:c", "did:op:a", "did:op:b")}, top.Query.Filters)

	empty := specs[1].inputs
	assert.True(t, empty.ByIdentifiers)
	assert.Empty(t, empty.Identifiers)
}

func TestHomeSections_CategoriesWithoutAssets(t *testing.T) {
	conf := defaultConfig(t)
	conf.Featured = []models.FeaturedCategory{{Title: "Datasets"}, {Title: "Algorithms"}}
	prefs := &models.Preferences{VisitorID: "v", ChainIDs: []int{1}}

	specs, err := homeSections(conf, prefs)

	require.NoError(t, err)
	require.Len(t, specs, 2)
	for _, spec := range specs {
		assert.False(t, spec.inputs.ByIdentifiers)
		assert.Empty(t, spec.inputs.Query.Filters)
		assert.Equal(t, 9, spec.inputs.Query.Pagination.Size)
	}
}

func TestHomeSections_SameTitleKeepsSeparateSections(t *testing.T) {
	conf := defaultConfig(t)
	conf.Featured = []models.FeaturedCategory{
		{Title: "Picks", Assets: []string{"did:op:a"}},
		{Title: "Picks", Assets: []string{"did:op:b"}},
	}
	prefs := &models.Preferences{VisitorID: "v", ChainIDs: []int{1}}

	specs, err := homeSections(conf, prefs)

	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.NotEqual(t, specs[0].name, specs[1].name)
	assert.Equal(t, aggregate.PinnedOrder{"did:op:a"}, specs[0].inputs.Priority)
	assert.Equal(t, aggregate.PinnedOrder{"did:op:b"}, specs[1].inputs.Priority)
}

func TestSearchQuery(t *testing.T) {
	conf := defaultConfig(t)
	prefs := &models.Preferences{VisitorID: "v", ChainIDs: []int{56}}

	q, err := searchQuery(conf, prefs, SearchRequest{
		Text:      "  weather ",
		Sort:      "price",
		Type:      "algorithm",
		Page:      3,
		Size:      20,
		SortOrder: "desc",
	})

	require.NoError(t, err)
	want := query.SearchQuery{
		ChainIDs:   []int{56},
		Text:       "weather",
		Filters:    []query.FilterTerm{query.Term("type", "algorithm")},
		Sort:       query.Sort{Field: query.SortPrice, Direction: query.Descending},
		Pagination: query.Pagination{Size: 20, Page: 2},
	}
	if diff := cmp.Diff(want, q); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}

	for _, req := range []SearchRequest{
		{Sort: "color"},
		{SortOrder: "up"},
		{Type: "movie"},
		{Page: -1},
		{Size: maxSearchPageSize + 1},
	} {
		_, err := searchQuery(conf, prefs, req)
		assertHTTPError(t, err, http.StatusBadRequest, ErrCodeIllegalValue)
	}
}

func TestDiscoveryService_Timeout(t *testing.T) {
	ctx, _ := loggerCtx(t)
	dir := t.TempDir()
	filename := filepath.Join(dir, "config.json")
	writeConfig(t, filename, `{"requestTimeout": "20ms"}`)
	cs := NewConfigService(filename)
	require.NoError(t, cs.Load(ctx))
	ps := newPreferenceService(t)
	backend := newStubBackend("did:op:a")
	backend.block = true
	ds := NewDiscoveryService(newBoard(t, backend), ps, cs, logrus.NewEntry(logrus.New()))

	p, err := ps.CreateVisitor(ctx)
	require.NoError(t, err)

	_, err = ds.Sections(asVisitor(ctx, p.VisitorID), SectionRequest{})

	assert.Equal(t, ErrSectionTimeout, err)
}

func TestDiscoveryService_ClosedBoard(t *testing.T) {
	ctx, _ := loggerCtx(t)
	ps := newPreferenceService(t)
	board := newBoard(t, newStubBackend())
	ds := NewDiscoveryService(board, ps, NewConfigService(filepath.Join(t.TempDir(), "none.json")), logrus.NewEntry(logrus.New()))
	p, err := ps.CreateVisitor(ctx)
	require.NoError(t, err)
	board.Close()

	_, err = ds.Bookmarks(asVisitor(ctx, p.VisitorID), SectionRequest{})

	assert.Equal(t, ErrShuttingDown, err)
}

func TestDiscoveryService_Forget(t *testing.T) {
	ctx, _ := loggerCtx(t)
	ps := newPreferenceService(t)
	board := newBoard(t, newStubBackend("did:op:a"))
	ds := NewDiscoveryService(board, ps, NewConfigService(filepath.Join(t.TempDir(), "none.json")), logrus.NewEntry(logrus.New()))
	p, err := ps.CreateVisitor(ctx)
	require.NoError(t, err)
	ctx = asVisitor(ctx, p.VisitorID)
	_, err = ds.Sections(ctx, SectionRequest{})
	require.NoError(t, err)
	before, err := board.Runner(p.VisitorID, sectionRecent)
	require.NoError(t, err)

	require.NoError(t, ds.Forget(ctx))

	after, err := board.Runner(p.VisitorID, sectionRecent)
	require.NoError(t, err)
	assert.NotSame(t, before, after, "a forgotten visitor starts with fresh sections")
	assert.Equal(t, ErrVisitorRequired, ds.Forget(context.Background()))
}
