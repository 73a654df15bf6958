package fetcher

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/context"
)

// CancelToken belongs to exactly one request. It can be cancelled once - either because a newer request supersedes
// it or because its owner is torn down
type CancelToken struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewCancelToken creates a token whose context is derived from the given parent context
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{
		id:     uuid.New(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the unique ID of the token
func (t *CancelToken) ID() string {
	return t.id.String()
}

// Context returns the context the request guarded by this token has to run in
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// Cancel aborts the request. Only the first call has an effect - it returns true, all later calls return false
func (t *CancelToken) Cancel() bool {
	cancelled := false
	t.once.Do(func() {
		cancelled = true
		close(t.done)
		t.cancel()
	})
	return cancelled
}

// Cancelled checks if the token has been cancelled
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// release frees the resources of the token's context without marking it as cancelled
func (t *CancelToken) release() {
	t.cancel()
}
