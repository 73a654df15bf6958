package internal

import (
	"github.com/go-kit/kit/endpoint"
	"golang.org/x/net/context"
)

// DiscoveryEndpoints is a collection of endpoints to the discovery service
type DiscoveryEndpoints struct {
	Sections  endpoint.Endpoint
	Bookmarks endpoint.Endpoint
	Search    endpoint.Endpoint
}

// PreferenceEndpoints is a collection of endpoints for working with the preference service
type PreferenceEndpoints struct {
	CreateVisitor       endpoint.Endpoint
	DeleteVisitor       endpoint.Endpoint
	Get                 endpoint.Endpoint
	SetChains           endpoint.Endpoint
	AddBookmark         endpoint.Endpoint
	RemoveBookmark      endpoint.Endpoint
	PlaceBookmarkBefore endpoint.Endpoint
}

// The base for all responses which always contains an "ok" property to show if the call was successful and a
// data element containing the result of the request
type basicResponse struct {
	OK   bool        `json:"ok"`
	Data interface{} `json:"data,omitempty"`
}

// -- Discovery --------------------------------------------------------------------------------------------------------

// MakeDiscoveryEndpoints creates the endpoints needed to use the discovery service
func MakeDiscoveryEndpoints(s DiscoveryService, ps PreferenceService) DiscoveryEndpoints {
	ensure := EnsureVisitor(ps)
	return DiscoveryEndpoints{
		Sections:  ensure(MakeSectionsEndpoint(s)),
		Bookmarks: ensure(MakeBookmarksEndpoint(s)),
		Search:    ensure(MakeSearchEndpoint(s)),
	}
}

// MakeSectionsEndpoint returns an endpoint calling the Sections method of the DiscoveryService
func MakeSectionsEndpoint(s DiscoveryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		views, err := s.Sections(ctx, request.(SectionRequest))
		if err != nil {
			return nil, err
		}
		return basicResponse{true, views}, nil
	}
}

// MakeBookmarksEndpoint returns an endpoint calling the Bookmarks method of the DiscoveryService
func MakeBookmarksEndpoint(s DiscoveryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		view, err := s.Bookmarks(ctx, request.(SectionRequest))
		if err != nil {
			return nil, err
		}
		return basicResponse{true, view}, nil
	}
}

// MakeSearchEndpoint returns an endpoint calling the Search method of the DiscoveryService
func MakeSearchEndpoint(s DiscoveryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		view, err := s.Search(ctx, request.(SearchRequest))
		if err != nil {
			return nil, err
		}
		return basicResponse{true, view}, nil
	}
}

// -- Preferences ------------------------------------------------------------------------------------------------------

// MakePreferenceEndpoints creates the endpoints needed to use the preference service. Removing a visitor also
// closes their sections on the discovery service
func MakePreferenceEndpoints(s PreferenceService, ds DiscoveryService) PreferenceEndpoints {
	ensure := EnsureVisitor(s)
	return PreferenceEndpoints{
		CreateVisitor:       MakeCreateVisitorEndpoint(s),
		DeleteVisitor:       ensure(MakeDeleteVisitorEndpoint(s, ds)),
		Get:                 ensure(MakeGetPreferencesEndpoint(s)),
		SetChains:           ensure(MakeSetChainsEndpoint(s)),
		AddBookmark:         ensure(MakeAddBookmarkEndpoint(s)),
		RemoveBookmark:      ensure(MakeRemoveBookmarkEndpoint(s)),
		PlaceBookmarkBefore: ensure(MakePlaceBookmarkBeforeEndpoint(s)),
	}
}

// MakeCreateVisitorEndpoint returns an endpoint calling the CreateVisitor method of the PreferenceService
func MakeCreateVisitorEndpoint(s PreferenceService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		p, err := s.CreateVisitor(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

// MakeDeleteVisitorEndpoint returns an endpoint removing the current visitor and the sections shown to them
func MakeDeleteVisitorEndpoint(s PreferenceService, ds DiscoveryService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		if err := s.DeleteVisitor(ctx); err != nil {
			return nil, err
		}
		if err := ds.Forget(ctx); err != nil {
			return nil, err
		}
		return basicResponse{OK: true}, nil
	}
}

// MakeGetPreferencesEndpoint returns an endpoint calling the Get method of the PreferenceService
func MakeGetPreferencesEndpoint(s PreferenceService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		p, err := s.Get(ctx)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

// MakeSetChainsEndpoint returns an endpoint calling the SetChains method of the PreferenceService
func MakeSetChainsEndpoint(s PreferenceService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(chainsRequest)
		p, err := s.SetChains(ctx, req.ChainIDs)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

// MakeAddBookmarkEndpoint returns an endpoint calling the AddBookmark method of the PreferenceService
func MakeAddBookmarkEndpoint(s PreferenceService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(bookmarkRequest)
		p, err := s.AddBookmark(ctx, req.DID)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

// MakeRemoveBookmarkEndpoint returns an endpoint calling the RemoveBookmark method of the PreferenceService
func MakeRemoveBookmarkEndpoint(s PreferenceService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(bookmarkRequest)
		p, err := s.RemoveBookmark(ctx, req.DID)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}

// MakePlaceBookmarkBeforeEndpoint returns an endpoint calling the PlaceBookmarkBefore method of the
// PreferenceService
func MakePlaceBookmarkBeforeEndpoint(s PreferenceService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(reorderRequest)
		p, err := s.PlaceBookmarkBefore(ctx, req.DID, req.OtherDID)
		if err != nil {
			return nil, err
		}
		return basicResponse{true, p}, nil
	}
}
