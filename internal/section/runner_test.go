package section

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/derWhity/nereid/internal/aggregate"
	"github.com/derWhity/nereid/internal/models"
	"github.com/derWhity/nereid/internal/pricing"
	"github.com/derWhity/nereid/internal/query"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/context"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	res *models.PagedResult
	err error
}

// call is a request that reached the backend. It returns once the test replies - or when it is cancelled, unless the
// backend ignores cancellation
type call struct {
	ctx   context.Context
	q     query.SearchQuery
	dids  []string
	reply chan reply
}

type fakeBackend struct {
	calls        chan *call
	ignoreCancel bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(chan *call, 16)}
}

func (b *fakeBackend) do(c *call) (*models.PagedResult, error) {
	b.calls <- c
	if b.ignoreCancel {
		r := <-c.reply
		return r.res, r.err
	}
	select {
	case r := <-c.reply:
		return r.res, r.err
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (b *fakeBackend) Search(ctx context.Context, q query.SearchQuery) (*models.PagedResult, error) {
	return b.do(&call{ctx: ctx, q: q, reply: make(chan reply, 1)})
}

func (b *fakeBackend) ResolveDIDs(ctx context.Context, dids []string, chainIDs []int) (*models.PagedResult, error) {
	return b.do(&call{ctx: ctx, dids: dids, reply: make(chan reply, 1)})
}

func (b *fakeBackend) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-b.calls:
		return c
	case <-time.After(time.Second):
		require.FailNow(t, "no backend call")
		return nil
	}
}

func (b *fakeBackend) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-b.calls:
		assert.Fail(t, "unexpected backend call", "%+v", c.q)
	case <-time.After(30 * time.Millisecond):
	}
}

// fixedPrices prices every asset at one unit
type fixedPrices struct{}

func (fixedPrices) BestPrices(ctx context.Context, tokens []models.TokenRef) (map[models.TokenRef]*models.Price, error) {
	ret := map[models.TokenRef]*models.Price{}
	for _, t := range tokens {
		ret[t] = &models.Price{Value: decimal.NewFromInt(1), Type: models.PriceTypeFixed}
	}
	return ret, nil
}

type failingPrices struct{}

func (failingPrices) BestPrices(ctx context.Context, tokens []models.TokenRef) (map[models.TokenRef]*models.Price, error) {
	return nil, errors.New("subgraph down")
}

func newLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newRunner(t *testing.T, b Backend, source pricing.PriceSource, opts Options) *Runner {
	var e Enricher
	if source != nil {
		e = pricing.NewEnricher(source, newLogger())
	}
	r := NewRunner("test", b, e, opts, newLogger())
	t.Cleanup(r.Close)
	return r
}

func results(dids ...string) *models.PagedResult {
	items := make([]models.AssetRecord, len(dids))
	for i, did := range dids {
		items[i] = models.AssetRecord{DID: did, ChainID: 1, Datatoken: models.Datatoken{Address: "0x" + did}}
	}
	return &models.PagedResult{Items: items, Page: 1, TotalPages: 1, TotalResults: len(dids)}
}

func inputs(chains ...int) Inputs {
	return Inputs{
		ChainIDs: chains,
		Query:    query.MustBuild(query.BaseQueryParams{}, query.WithPageSize(9)),
	}
}

func await(t *testing.T, r *Runner) models.SectionState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := r.Await(ctx)
	require.NoError(t, err)
	return s
}

func TestRunner_IdleUntilUpdated(t *testing.T) {
	r := newRunner(t, newFakeBackend(), nil, Options{})

	s := r.State()

	assert.Equal(t, models.PhaseIdle, s.Phase())
	assert.Nil(t, s.Result)
}

func TestRunner_Pipeline(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, fixedPrices{}, Options{})
	in := inputs(137, 1, 137)
	in.Priority = aggregate.PinnedOrder{"did:op:c"}
	in.Cap = 2
	in.WithPrices = true

	r.Update(in)
	assert.Equal(t, models.PhaseLoading, r.State().Phase())
	c := b.next(t)
	assert.Equal(t, []int{1, 137}, c.q.ChainIDs, "chain selection is used as a set")
	c.reply <- reply{res: results("did:op:a", "did:op:b", "did:op:c")}

	s := await(t, r)
	assert.Equal(t, models.PhaseReady, s.Phase())
	assert.Equal(t, []string{"did:op:c", "did:op:a"}, s.Result.DIDs())
	assert.Equal(t, 3, s.Result.TotalResults)
	for _, item := range s.Result.Items {
		require.NotNil(t, item.Price)
		assert.True(t, item.Price.Value.Equal(decimal.NewFromInt(1)))
	}
}

func TestRunner_LoadingHidesPreviousResult(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, nil, Options{KeepResultOnError: true})
	r.Update(inputs(1))
	b.next(t).reply <- reply{res: results("did:op:a")}
	require.Equal(t, models.PhaseReady, await(t, r).Phase())

	r.Update(inputs(1, 56))
	s := r.State()

	assert.True(t, s.IsLoading)
	assert.Nil(t, s.Result)
	b.next(t).reply <- reply{res: results("did:op:b")}
	assert.Equal(t, []string{"did:op:b"}, await(t, r).Result.DIDs())
}

func TestRunner_SupersededResultIsDropped(t *testing.T) {
	b := newFakeBackend()
	b.ignoreCancel = true
	r := newRunner(t, b, nil, Options{})

	r.Update(inputs(1))
	callA := b.next(t)
	r.Update(inputs(56))
	callB := b.next(t)

	// B resolves first, A resolves afterwards
	callB.reply <- reply{res: results("did:op:b")}
	s := await(t, r)
	callA.reply <- reply{res: results("did:op:a")}
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, []string{"did:op:b"}, s.Result.DIDs())
	assert.Equal(t, []string{"did:op:b"}, r.State().Result.DIDs())
	assert.Error(t, callA.ctx.Err(), "A has been cancelled")
}

func TestRunner_EmptyChainSelection(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, nil, Options{})

	r.Update(inputs())
	s := await(t, r)

	assert.Equal(t, models.PhaseReady, s.Phase())
	assert.Equal(t, models.EmptyPagedResult(), s.Result)
	b.assertNoCall(t)
}

func TestRunner_EmptySelectionCancelsInFlight(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, nil, Options{})
	r.Update(inputs(1))
	c := b.next(t)

	r.Update(inputs())

	assert.Empty(t, await(t, r).Result.Items)
	select {
	case <-c.ctx.Done():
	case <-time.After(time.Second):
		assert.Fail(t, "request in flight not cancelled")
	}
}

func TestRunner_ByIdentifiers(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, nil, Options{})

	r.Update(Inputs{ChainIDs: []int{1}, ByIdentifiers: true})
	assert.Empty(t, await(t, r).Result.Items)
	b.assertNoCall(t)

	ids := []string{"did:op:y", "did:op:x"}
	r.Update(Inputs{ChainIDs: []int{1}, ByIdentifiers: true, Identifiers: ids, Priority: ids})
	c := b.next(t)
	assert.Equal(t, ids, c.dids)
	c.reply <- reply{res: results("did:op:x", "did:op:y")}

	assert.Equal(t, ids, await(t, r).Result.DIDs())
}

func TestRunner_Failure(t *testing.T) {
	for _, keep := range []bool{false, true} {
		b := newFakeBackend()
		r := newRunner(t, b, nil, Options{KeepResultOnError: keep})
		r.Update(inputs(1))
		b.next(t).reply <- reply{res: results("did:op:a")}
		await(t, r)

		r.Refresh()
		b.next(t).reply <- reply{err: errors.New("backend down")}
		s := await(t, r)

		assert.Equal(t, models.PhaseFailed, s.Phase())
		assert.Equal(t, models.ErrorKindNetwork, s.Error)
		assert.False(t, s.IsLoading)
		if keep {
			require.NotNil(t, s.Result)
			assert.Equal(t, []string{"did:op:a"}, s.Result.DIDs())
		} else {
			assert.Nil(t, s.Result)
		}

		// Recovers on the next successful load
		r.Refresh()
		b.next(t).reply <- reply{res: results("did:op:b")}
		s = await(t, r)
		assert.Equal(t, models.PhaseReady, s.Phase())
		assert.Equal(t, models.ErrorKindNone, s.Error)
	}
}

func TestRunner_PriceFailureIsNoSectionError(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, failingPrices{}, Options{})
	in := inputs(1)
	in.WithPrices = true

	r.Update(in)
	b.next(t).reply <- reply{res: results("did:op:a")}
	s := await(t, r)

	assert.Equal(t, models.PhaseReady, s.Phase())
	require.Len(t, s.Result.Items, 1)
	assert.Nil(t, s.Result.Items[0].Price)
}

func TestRunner_SameInputsAreNoOp(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, nil, Options{})
	r.Update(inputs(1, 56))
	b.next(t).reply <- reply{res: results("did:op:a")}
	await(t, r)

	r.Update(inputs(56, 1))
	b.assertNoCall(t)

	r.Refresh()
	b.next(t).reply <- reply{res: results("did:op:b")}
	assert.Equal(t, []string{"did:op:b"}, await(t, r).Result.DIDs())
}

func TestRunner_Timeout(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, nil, Options{Timeout: 20 * time.Millisecond})

	r.Update(inputs(1))
	b.next(t)
	s := await(t, r)

	assert.Equal(t, models.ErrorKindNetwork, s.Error)
}

func TestRunner_Close(t *testing.T) {
	b := newFakeBackend()
	r := NewRunner("test", b, nil, Options{}, newLogger())
	r.Update(inputs(1))
	c := b.next(t)

	r.Close()

	assert.Error(t, c.ctx.Err())
	_, err := r.Await(context.Background())
	assert.Equal(t, ErrClosed, err)
	assert.True(t, r.State().IsLoading)
	// Calls after closing do not block
	r.Update(inputs(56))
	r.Refresh()
	r.Close()
}

func TestRunner_AwaitContext(t *testing.T) {
	r := newRunner(t, newFakeBackend(), nil, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Await(ctx)

	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestRunner_Reload(t *testing.T) {
	b := newFakeBackend()
	r := newRunner(t, b, nil, Options{})
	r.Refresh()
	b.assertNoCall(t)

	r.Reload(inputs(1))
	b.next(t).reply <- reply{res: results("did:op:a")}
	await(t, r)

	r.Reload(inputs(1))
	b.next(t).reply <- reply{res: results("did:op:b")}
	assert.Equal(t, []string{"did:op:b"}, await(t, r).Result.DIDs())
}

// slowBackend answers every search after a short delay unless the request is cancelled first
type slowBackend struct {
	delay time.Duration
}

func (b slowBackend) Search(ctx context.Context, q query.SearchQuery) (*models.PagedResult, error) {
	select {
	case <-time.After(b.delay):
		return results(fmt.Sprintf("did:op:%v", q.ChainIDs)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b slowBackend) ResolveDIDs(ctx context.Context, dids []string, chainIDs []int) (*models.PagedResult, error) {
	return b.Search(ctx, query.SearchQuery{ChainIDs: chainIDs})
}

func TestRunner_RapidUpdatesSettleOnLatest(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(8))
	b := slowBackend{delay: 2 * time.Millisecond}

	for i := 0; i < 300; i++ {
		r := NewRunner("test", b, nil, Options{}, newLogger())
		r.Update(inputs(1))
		r.Update(inputs(2))
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s, err := r.Await(ctx)
		cancel()
		r.Close()
		require.NoError(t, err, "run %d stayed in loading", i)
		assert.Equal(t, []string{"did:op:[2]"}, s.Result.DIDs(), "run %d", i)
	}
}
