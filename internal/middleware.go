package internal

import (
	"github.com/derWhity/nereid/internal/ctxhelper"
	"github.com/go-kit/kit/endpoint"
	"golang.org/x/net/context"
)

// EnsureVisitor is a middleware that checks if the current call has been made by a registered visitor
func EnsureVisitor(ps PreferenceService) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request interface{}) (response interface{}, err error) {
			visitorID := ctxhelper.Visitor(ctx)
			if visitorID == "" {
				// Nobody known
				return nil, ErrVisitorRequired
			}
			if err := ps.Touch(ctx, visitorID); err != nil {
				return nil, err
			}
			return next(ctx, request)
		}
	}
}
