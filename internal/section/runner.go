// Package section keeps the state of the result sections shown to a visitor up to date
package section

import (
	"sort"
	"sync"
	"time"

	"github.com/derWhity/nereid/internal/aggregate"
	"github.com/derWhity/nereid/internal/fetcher"
	"github.com/derWhity/nereid/internal/log"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/query"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

var (
	// ErrClosed is returned when waiting on a runner that has been closed
	ErrClosed = errors.New("section runner closed")
)

// Backend is the search backend a section loads its assets from
type Backend interface {
	fetcher.Searcher
	// ResolveDIDs looks up the assets with the given identifiers
	ResolveDIDs(ctx context.Context, dids []string, chainIDs []int) (*models.PagedResult, error)
}

// Enricher sets the prices on asset records
type Enricher interface {
	Enrich(ctx context.Context, records []models.AssetRecord) []models.AssetRecord
}

// Inputs are everything the result of a section depends on
type Inputs struct {
	// The chains selected by the visitor. Replaces the chains of Query
	ChainIDs []int
	// The query for sections backed by a search
	Query query.SearchQuery
	// Set for sections showing a list of known assets - Identifiers is used instead of Query then
	ByIdentifiers bool
	// The identifiers of the assets to show
	Identifiers []string
	// Assets to move to the top of the result, in this order
	Priority aggregate.PinnedOrder
	// Maximum number of assets shown. 0 shows all
	Cap int
	// Look up the prices of the assets shown
	WithPrices bool
}

// normalized returns a deep copy of the inputs with the chain selection sorted and free of duplicates
func (in Inputs) normalized() Inputs {
	ret := in
	seen := map[int]bool{}
	ret.ChainIDs = make([]int, 0, len(in.ChainIDs))
	for _, id := range in.ChainIDs {
		if !seen[id] {
			seen[id] = true
			ret.ChainIDs = append(ret.ChainIDs, id)
		}
	}
	sort.Ints(ret.ChainIDs)
	ret.Query.ChainIDs = ret.ChainIDs
	ret.Query.Filters = append([]query.FilterTerm(nil), in.Query.Filters...)
	ret.Identifiers = append([]string(nil), in.Identifiers...)
	ret.Priority = append(aggregate.PinnedOrder(nil), in.Priority...)
	return ret
}

// empty checks if the inputs select nothing, so there is no need to ask the backend
func (in Inputs) empty() bool {
	return len(in.ChainIDs) == 0 || (in.ByIdentifiers && len(in.Identifiers) == 0)
}

var equalInputs = cmpopts.EquateEmpty()

// Options change the behaviour of a runner
type Options struct {
	// Keep showing the previous result if loading fails
	KeepResultOnError bool
	// Maximum time a search may take. 0 does not limit it
	Timeout time.Duration
}

// loadResult is sent back from a loading goroutine to the control goroutine
type loadResult struct {
	generation uint64
	outcome    fetcher.Outcome
}

// updateRequest changes the inputs of the runner. Without inputs, the current ones are loaded again
type updateRequest struct {
	inputs *Inputs
	force  bool
}

// Runner owns the state of one section. All state changes happen in its control goroutine
type Runner struct {
	name     string
	backend  Backend
	enricher Enricher
	opts     Options
	fetcher  *fetcher.Fetcher
	logger   *logrus.Entry

	update  chan updateRequest
	result  chan loadResult
	state   chan chan models.SectionState
	wait    chan chan models.SectionState
	closing chan struct{}
	done    chan struct{}
	loaders sync.WaitGroup
	once    sync.Once

	// Written by the control goroutine before done is closed
	final models.SectionState
}

// NewRunner creates and starts a new section runner. If enricher is nil, no prices are looked up
func NewRunner(name string, backend Backend, enricher Enricher, opts Options, logger *logrus.Entry) *Runner {
	logger = logger.WithField(log.FldSection, name)
	r := &Runner{
		name:     name,
		backend:  backend,
		enricher: enricher,
		opts:     opts,
		fetcher:  fetcher.New(backend, logger),
		logger:   logger,
		update:   make(chan updateRequest),
		result:   make(chan loadResult),
		state:    make(chan chan models.SectionState),
		wait:     make(chan chan models.SectionState),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.control()
	return r
}

// Name returns the name of the section
func (r *Runner) Name() string {
	return r.name
}

// Update sets new inputs. Inputs equal to the current ones do nothing - otherwise the section starts loading and
// the request in flight is cancelled
func (r *Runner) Update(in Inputs) {
	in = in.normalized()
	r.send(updateRequest{inputs: &in})
}

// Reload sets new inputs and loads the section even if the inputs have not changed
func (r *Runner) Reload(in Inputs) {
	in = in.normalized()
	r.send(updateRequest{inputs: &in, force: true})
}

// Refresh loads the section again using the current inputs
func (r *Runner) Refresh() {
	r.send(updateRequest{force: true})
}

func (r *Runner) send(req updateRequest) {
	select {
	case r.update <- req:
	case <-r.done:
	}
}

// State returns the current state of the section
func (r *Runner) State() models.SectionState {
	answer := make(chan models.SectionState, 1)
	select {
	case r.state <- answer:
		return <-answer
	case <-r.done:
		return r.final
	}
}

// Await blocks until the section has settled and returns its state
func (r *Runner) Await(ctx context.Context) (models.SectionState, error) {
	answer := make(chan models.SectionState, 1)
	select {
	case r.wait <- answer:
	case <-r.done:
		return r.final, ErrClosed
	case <-ctx.Done():
		return models.SectionState{}, ctx.Err()
	}
	select {
	case s := <-answer:
		return s, nil
	case <-r.done:
		return r.final, ErrClosed
	case <-ctx.Done():
		return models.SectionState{}, ctx.Err()
	}
}

// Close stops the runner and cancels the request in flight. Results arriving afterwards are dropped
func (r *Runner) Close() {
	r.once.Do(func() {
		close(r.closing)
		<-r.done
		r.loaders.Wait()
	})
}

// control is the control goroutine of the runner
func (r *Runner) control() {
	var (
		state      models.SectionState
		inputs     Inputs
		hasInputs  bool
		generation uint64
		previous   *models.PagedResult
		waiters    []chan models.SectionState
	)
	settle := func(s models.SectionState) {
		state = s
		for _, w := range waiters {
			w <- s
		}
		waiters = nil
	}
	for {
		select {
		case req := <-r.update:
			if req.inputs != nil {
				if !req.force && hasInputs && cmp.Equal(inputs, *req.inputs, equalInputs) {
					continue
				}
				inputs, hasInputs = *req.inputs, true
			} else if !hasInputs {
				continue
			}
			generation++
			if inputs.empty() {
				r.fetcher.Cancel()
				r.logger.Debug("Nothing selected - skipping search")
				previous = models.EmptyPagedResult()
				settle(models.NewSectionState(previous, false, models.ErrorKindNone))
				continue
			}
			if state.Result != nil {
				previous = state.Result
			}
			state = models.NewSectionState(nil, true, models.ErrorKindNone)
			// The token is issued here so that tokens are superseded in the order the inputs arrived
			tok := r.fetcher.Begin(context.Background())
			r.loaders.Add(1)
			go r.load(generation, tok, inputs)
		case res := <-r.result:
			if res.generation != generation || res.outcome.Cancelled() {
				continue
			}
			if res.outcome.Err != nil {
				var keep *models.PagedResult
				if r.opts.KeepResultOnError {
					keep = previous
				}
				settle(models.NewSectionState(keep, false, res.outcome.ErrorKind()))
				continue
			}
			previous = res.outcome.Result
			settle(models.NewSectionState(res.outcome.Result, false, models.ErrorKindNone))
		case answer := <-r.state:
			answer <- state
		case answer := <-r.wait:
			if state.Settled() {
				answer <- state
			} else {
				waiters = append(waiters, answer)
			}
		case <-r.closing:
			r.fetcher.Close()
			r.final = state
			close(r.done)
			return
		}
	}
}

// load runs the whole pipeline of one generation: fetching, pinning and pricing
func (r *Runner) load(generation uint64, tok *fetcher.CancelToken, in Inputs) {
	defer r.loaders.Done()
	outcome := r.fetcher.RunWith(tok, func(ctx context.Context) (*models.PagedResult, error) {
		res, err := r.fetch(ctx, in)
		if err != nil || res == nil {
			return res, err
		}
		ordered := aggregate.Reorder(*res, in.Priority, in.Cap)
		if in.WithPrices && r.enricher != nil {
			ordered.Items = r.enricher.Enrich(ctx, ordered.Items)
		}
		return &ordered, nil
	})
	select {
	case r.result <- loadResult{generation: generation, outcome: outcome}:
	case <-r.done:
	}
}

func (r *Runner) fetch(ctx context.Context, in Inputs) (*models.PagedResult, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	if in.ByIdentifiers {
		return r.backend.ResolveDIDs(ctx, in.Identifiers, in.ChainIDs)
	}
	return r.backend.Search(ctx, in.Query)
}
