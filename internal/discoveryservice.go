package internal

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/derWhity/nereid/internal/aggregate"
	"github.com/derWhity/nereid/internal/ctxhelper"
	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/query"
	"github.com/derWhity/nereid/internal/section"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"
)

const (
	// TitleRecentlyPublished is the title of the home page section shown when no categories are featured
	TitleRecentlyPublished = "Recently Published"
	// TitleBookmarks is the title of the bookmarks section
	TitleBookmarks = "Bookmarks"
	// TitleSearch is the title of the search result section
	TitleSearch = "Search Results"

	sectionBookmarks = "bookmarks"
	sectionSearch    = "search"
	sectionRecent    = "recent"

	// Upper bound for the page size of a search
	maxSearchPageSize = 100
)

// SectionView is a section as it is sent to the frontend
type SectionView struct {
	Title string       `json:"title"`
	Phase models.Phase `json:"phase"`
	models.SectionState
}

// DiscoveryService provides the result sections shown on the pages of the marketplace
type DiscoveryService interface {
	// Sections returns the sections of the home page
	Sections(ctx context.Context, req SectionRequest) ([]SectionView, error)
	// Bookmarks returns the section listing the current visitor's bookmarked assets
	Bookmarks(ctx context.Context, req SectionRequest) (*SectionView, error)
	// Search runs a search for the current visitor. A newer search of the same visitor supersedes the older one
	Search(ctx context.Context, req SearchRequest) (*SectionView, error)
	// Forget closes the sections of the current visitor
	Forget(ctx context.Context) error
}

// -- DiscoveryService implementation ----------------------------------------------------------------------------------

type discoveryService struct {
	logger *logrus.Entry
	board  *section.Board
	prefs  PreferenceService
	config ConfigService
}

// NewDiscoveryService creates a new DiscoveryService instance using the runners of the given board
func NewDiscoveryService(
	board *section.Board,
	ps PreferenceService,
	cs ConfigService,
	logger *logrus.Entry,
) DiscoveryService {
	return &discoveryService{logger, board, ps, cs}
}

// sectionSpec is a section to show along with the inputs it needs
type sectionSpec struct {
	title  string
	name   string
	inputs section.Inputs
}

// baseParams returns the query parameters all sections of a visitor start with
func baseParams(conf models.AppConfig, prefs *models.Preferences) query.BaseQueryParams {
	return query.BaseQueryParams{
		ChainIDs: prefs.ChainIDs,
		Sort: query.Sort{
			Field:     query.SortField(conf.DefaultSort.Field),
			Direction: query.Direction(conf.DefaultSort.Direction),
		},
		Pagination: query.Pagination{Size: conf.PageSize},
	}
}

// homeSections returns the sections of the home page. If any of the featured categories lists assets, each
// category shows exactly its assets in the listed order
func homeSections(conf models.AppConfig, prefs *models.Preferences) ([]sectionSpec, error) {
	base := baseParams(conf, prefs)
	if len(conf.Featured) == 0 {
		q, err := query.Build(base)
		if err != nil {
			return nil, err
		}
		return []sectionSpec{{
			title:  TitleRecentlyPublished,
			name:   sectionRecent,
			inputs: section.Inputs{ChainIDs: prefs.ChainIDs, Query: q, WithPrices: true},
		}}, nil
	}
	pinned := conf.HasFeaturedAssets()
	specs := make([]sectionSpec, 0, len(conf.Featured))
	for i, cat := range conf.Featured {
		// Titles need not be unique - the position identifies the category
		spec := sectionSpec{title: cat.Title, name: fmt.Sprintf("featured:%d", i)}
		switch {
		case pinned && len(cat.Assets) == 0:
			// Nothing to show - an identifier section without identifiers stays empty
			spec.inputs = section.Inputs{ChainIDs: prefs.ChainIDs, ByIdentifiers: true}
		case pinned:
			q, err := query.Build(
				base,
				query.WithFilters(query.Terms("id", cat.Assets...)),
				query.WithPageSize(len(cat.Assets)),
			)
			if err != nil {
				return nil, err
			}
			spec.inputs = section.Inputs{
				ChainIDs:   prefs.ChainIDs,
				Query:      q,
				Priority:   aggregate.PinnedOrder(cat.Assets),
				Cap:        conf.DisplayCap,
				WithPrices: true,
			}
		default:
			q, err := query.Build(base)
			if err != nil {
				return nil, err
			}
			spec.inputs = section.Inputs{ChainIDs: prefs.ChainIDs, Query: q, WithPrices: true}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Sections returns the sections of the home page
func (s *discoveryService) Sections(ctx context.Context, req SectionRequest) ([]SectionView, error) {
	prefs, err := s.prefs.Get(ctx)
	if err != nil {
		return nil, err
	}
	conf := s.config.GetConfig(ctx)
	specs, err := homeSections(conf, prefs)
	if err != nil {
		return nil, MakeErrorWithData(http.StatusInternalServerError, ErrCodeUnknown, "Invalid section configuration", err)
	}
	return s.show(ctx, prefs.VisitorID, conf, specs, req.Refresh)
}

// Bookmarks returns the section listing the current visitor's bookmarked assets
func (s *discoveryService) Bookmarks(ctx context.Context, req SectionRequest) (*SectionView, error) {
	prefs, err := s.prefs.Get(ctx)
	if err != nil {
		return nil, err
	}
	spec := sectionSpec{
		title: TitleBookmarks,
		name:  sectionBookmarks,
		inputs: section.Inputs{
			ChainIDs:      prefs.ChainIDs,
			ByIdentifiers: true,
			Identifiers:   prefs.Bookmarks,
			Priority:      aggregate.PinnedOrder(prefs.Bookmarks),
			WithPrices:    true,
		},
	}
	views, err := s.show(ctx, prefs.VisitorID, s.config.GetConfig(ctx), []sectionSpec{spec}, req.Refresh)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// searchQuery builds the query of a search request
func searchQuery(conf models.AppConfig, prefs *models.Preferences, req SearchRequest) (query.SearchQuery, error) {
	if err := validate.Var(req.Sort, "omitempty,oneof=created price name relevance"); err != nil {
		return query.SearchQuery{}, illegalParameter("sort", req.Sort)
	}
	if err := validate.Var(req.SortOrder, "omitempty,oneof=asc desc"); err != nil {
		return query.SearchQuery{}, illegalParameter("sortOrder", req.SortOrder)
	}
	if err := validate.Var(req.Type, "omitempty,oneof=dataset algorithm"); err != nil {
		return query.SearchQuery{}, illegalParameter("type", req.Type)
	}
	if err := validate.Var(req.Page, "gte=0"); err != nil {
		return query.SearchQuery{}, illegalParameter("page", fmt.Sprint(req.Page))
	}
	if err := validate.Var(req.Size, fmt.Sprintf("gte=0,lte=%d", maxSearchPageSize)); err != nil {
		return query.SearchQuery{}, illegalParameter("size", fmt.Sprint(req.Size))
	}
	base := baseParams(conf, prefs)
	overrides := []query.Override{query.WithText(strings.TrimSpace(req.Text))}
	if req.Sort != "" || req.SortOrder != "" {
		field, dir := base.Sort.Field, base.Sort.Direction
		if req.Sort != "" {
			field = query.SortField(req.Sort)
		}
		if req.SortOrder != "" {
			dir = query.Direction(req.SortOrder)
		}
		overrides = append(overrides, query.WithSort(field, dir))
	}
	if req.Type != "" {
		overrides = append(overrides, query.WithFilters(query.Term("type", req.Type)))
	}
	if req.Size > 0 {
		overrides = append(overrides, query.WithPageSize(req.Size))
	}
	if req.Page > 1 {
		overrides = append(overrides, query.WithPage(req.Page-1))
	}
	q, err := query.Build(base, overrides...)
	if err != nil {
		return query.SearchQuery{}, MakeErrorWithData(http.StatusBadRequest, ErrCodeIllegalValue, "Invalid search", err.Error())
	}
	return q, nil
}

func illegalParameter(name, value string) error {
	return MakeErrorWithData(
		http.StatusBadRequest,
		ErrCodeIllegalValue,
		fmt.Sprintf("Illegal value '%s' for parameter '%s'", value, name),
		map[string]string{"field": name},
	)
}

// Search runs a search for the current visitor
func (s *discoveryService) Search(ctx context.Context, req SearchRequest) (*SectionView, error) {
	prefs, err := s.prefs.Get(ctx)
	if err != nil {
		return nil, err
	}
	conf := s.config.GetConfig(ctx)
	q, err := searchQuery(conf, prefs, req)
	if err != nil {
		return nil, err
	}
	ctxhelper.LoggerOr(ctx, s.logger).WithFields(logrus.Fields{
		log.FldSearch: q.Text,
		log.FldPage:   q.Pagination.Page,
		log.FldLimit:  q.Pagination.Size,
	}).Debug("Searching")
	spec := sectionSpec{
		title:  TitleSearch,
		name:   sectionSearch,
		inputs: section.Inputs{ChainIDs: prefs.ChainIDs, Query: q, WithPrices: true},
	}
	views, err := s.show(ctx, prefs.VisitorID, conf, []sectionSpec{spec}, req.Refresh)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Forget closes the sections of the current visitor. Requests still waiting for them fail with ErrShuttingDown
func (s *discoveryService) Forget(ctx context.Context) error {
	visitorID, err := visitorOf(ctx)
	if err != nil {
		return err
	}
	s.board.Drop(visitorID)
	return nil
}

// show hands the inputs to the visitor's runners and waits for all of them to settle
func (s *discoveryService) show(
	ctx context.Context,
	visitorID string,
	conf models.AppConfig,
	specs []sectionSpec,
	refresh bool,
) ([]SectionView, error) {
	if timeout := time.Duration(conf.RequestTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	views := make([]SectionView, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range specs {
		i := i
		g.Go(func() error {
			state, err := s.settle(gctx, visitorID, specs[i], refresh)
			if err != nil {
				return err
			}
			views[i] = SectionView{Title: specs[i].title, Phase: state.Phase(), SectionState: state}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger := ctxhelper.LoggerOr(ctx, s.logger).WithField(log.FldVisitor, visitorID)
		switch err {
		case context.DeadlineExceeded:
			logger.Warn("Sections did not settle in time")
			return nil, ErrSectionTimeout
		case section.ErrClosed:
			return nil, ErrShuttingDown
		}
		return nil, err
	}
	return views, nil
}

// settle updates the section's runner and waits for its result. A runner purged while waiting is replaced once
func (s *discoveryService) settle(
	ctx context.Context,
	visitorID string,
	spec sectionSpec,
	refresh bool,
) (models.SectionState, error) {
	for attempt := 0; ; attempt++ {
		r, err := s.board.Runner(visitorID, spec.name)
		if err != nil {
			return models.SectionState{}, err
		}
		if refresh {
			r.Reload(spec.inputs)
		} else {
			r.Update(spec.inputs)
		}
		state, err := r.Await(ctx)
		if err == section.ErrClosed && attempt == 0 {
			continue
		}
		return state, err
	}
}
