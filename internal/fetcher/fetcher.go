// Package fetcher runs search requests so that only the latest request of a consumer is ever honored
package fetcher

import (
	"fmt"
	"sync"

	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/query"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

var (
	// ErrCancelled is the outcome of a request that has been superseded by a newer one or whose consumer has been torn
	// down. It is expected and must not be reported as a failure
	ErrCancelled = errors.New("request cancelled")
)

// Searcher runs a search against the search backend
type Searcher interface {
	Search(ctx context.Context, q query.SearchQuery) (*models.PagedResult, error)
}

// Request is a single call to the backend returning one page of assets
type Request func(ctx context.Context) (*models.PagedResult, error)

// FetchError is a failed request that has been reported already
type FetchError struct {
	Kind models.ErrorKind
	Err  error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Cause returns the error the request has failed with
func (e *FetchError) Cause() error {
	return e.Err
}

// Outcome is the result of a request - either a result page or an error. Err is ErrCancelled if the result of the
// request must be ignored
type Outcome struct {
	// The ID of the token the request ran with
	Token  string
	Result *models.PagedResult
	Err    error
}

// Cancelled checks if the outcome belongs to a cancelled request
func (o Outcome) Cancelled() bool {
	return o.Err == ErrCancelled
}

// ErrorKind returns the kind of error the outcome carries or ErrorKindNone
func (o Outcome) ErrorKind() models.ErrorKind {
	if fe, ok := o.Err.(*FetchError); ok {
		return fe.Kind
	}
	if o.Err != nil && o.Err != ErrCancelled {
		return models.ErrorKindNetwork
	}
	return models.ErrorKindNone
}

// Fetcher holds at most one request in flight. Starting a new request cancels the previous one
type Fetcher struct {
	searcher Searcher
	logger   *logrus.Entry
	mtx      sync.Mutex
	current  *CancelToken
	closed   bool
}

// New creates a new fetcher sending its searches to the given searcher
func New(s Searcher, logger *logrus.Entry) *Fetcher {
	return &Fetcher{searcher: s, logger: logger}
}

// Fetch runs the search for the given query. See Run
func (f *Fetcher) Fetch(ctx context.Context, q query.SearchQuery) Outcome {
	return f.Run(ctx, func(ctx context.Context) (*models.PagedResult, error) {
		return f.searcher.Search(ctx, q)
	})
}

// Run executes the request with a new cancel token and cancels the request currently in flight. See RunWith
func (f *Fetcher) Run(ctx context.Context, req Request) Outcome {
	return f.RunWith(f.Begin(ctx), req)
}

// Begin issues a new cancel token and cancels the one in flight. Tokens are honored in the order Begin is called, so
// a consumer starting requests from several goroutines has to call Begin before handing the request off.
// Returns nil once the fetcher is closed
func (f *Fetcher) Begin(ctx context.Context) *CancelToken {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.closed {
		return nil
	}
	if f.current != nil {
		f.current.Cancel()
	}
	f.current = NewCancelToken(ctx)
	return f.current
}

// RunWith executes the request guarded by a token issued by Begin.
// RunWith never panics on backend failures: errors are logged once and returned inside the outcome. If the token is
// nil, or the request is superseded or the fetcher is closed before it returns, its result is dropped and the outcome
// carries ErrCancelled
func (f *Fetcher) RunWith(tok *CancelToken, req Request) Outcome {
	if tok == nil {
		return Outcome{Err: ErrCancelled}
	}
	defer f.finish(tok)
	logger := f.logger.WithField(log.FldToken, tok.ID())
	if !f.honored(tok) {
		logger.Debug("Request superseded before it started")
		return Outcome{Token: tok.ID(), Err: ErrCancelled}
	}

	res, err := req(tok.Context())
	if !f.honored(tok) || (err != nil && tok.Context().Err() != nil) {
		logger.Debug("Dropping result of cancelled request")
		return Outcome{Token: tok.ID(), Err: ErrCancelled}
	}
	if err != nil {
		logger.WithError(err).Error("Search request failed")
		return Outcome{Token: tok.ID(), Err: &FetchError{Kind: models.ErrorKindNetwork, Err: err}}
	}
	if res == nil {
		res = models.EmptyPagedResult()
	}
	return Outcome{Token: tok.ID(), Result: res}
}

// Cancel cancels the request currently in flight, if any
func (f *Fetcher) Cancel() {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.current != nil {
		f.current.Cancel()
	}
}

// Close cancels the request in flight. All requests started afterwards are cancelled right away
func (f *Fetcher) Close() {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.closed = true
	if f.current != nil {
		f.current.Cancel()
	}
}

// honored checks if the request of the token is still the one to be honored
func (f *Fetcher) honored(tok *CancelToken) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return !f.closed && f.current == tok && !tok.Cancelled()
}

func (f *Fetcher) finish(tok *CancelToken) {
	f.mtx.Lock()
	if f.current == tok {
		f.current = nil
	}
	f.mtx.Unlock()
	tok.release()
}
