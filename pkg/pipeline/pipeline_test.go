package pipeline

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

type interceptorFunc struct {
	resolve func(ex *exchange.Exchange) bool
	handle  func(ex *exchange.Exchange) error
}

func (f *interceptorFunc) Resolve(ex *exchange.Exchange) bool {
	if f.resolve == nil {
		return true
	}
	return f.resolve(ex)
}

func (f *interceptorFunc) Handle(ex *exchange.Exchange) error {
	if f.handle == nil {
		return nil
	}
	return f.handle(ex)
}

type noopService struct{}

func (noopService) Handle(*exchange.Exchange) error { return nil }

type entry struct {
	desc plugin.Descriptor
	impl any
}

func icpt(name string, point plugin.InterceptPoint, priority int, impl *interceptorFunc) entry {
	return entry{
		desc: plugin.Descriptor{Name: name, Kind: plugin.KindInterceptor, Point: point, Priority: priority, EnabledByDefault: true},
		impl: impl,
	}
}

func buildRegistry(t *testing.T, entries ...entry) *plugin.Registry {
	t.Helper()
	c := plugin.NewCatalog()
	for _, e := range entries {
		impl := e.impl
		require.NoError(t, c.Register(e.desc, func() (any, error) { return impl, nil }))
	}
	m := plugin.NewManager(c)
	require.NoError(t, m.Discover(context.Background(), c))
	reg, err := m.Bootstrap(context.Background())
	require.NoError(t, err)
	return reg
}

func newExchange() *exchange.Exchange {
	return exchange.New(httptest.NewRequest("GET", "/ping", nil))
}

type syncExecutor struct {
	mu    sync.Mutex
	tasks int
}

func (e *syncExecutor) Submit(task func(ctx context.Context)) error {
	e.mu.Lock()
	e.tasks++
	e.mu.Unlock()
	task(context.Background())
	return nil
}

type fullExecutor struct{}

func (fullExecutor) Submit(func(context.Context)) error { return errors.New("queue full") }

func TestChainShortCircuitsOnCompletedResponse(t *testing.T) {
	var trail []string
	step := func(name string, complete bool) Chainable {
		return Wrap(nil, func(ex *exchange.Exchange) error {
			trail = append(trail, name)
			if complete {
				ex.MarkComplete()
			}
			return nil
		})
	}
	head := Pipe(step("first", false), nil, step("second", true), step("third", false))
	require.NoError(t, head.HandleRequest(newExchange()))
	assert.Equal(t, []string{"first", "second"}, trail)
}

func TestChainPropagatesErrors(t *testing.T) {
	called := false
	boom := errors.New("boom")
	head := Pipe(
		Wrap(nil, func(*exchange.Exchange) error { return boom }),
		Wrap(nil, func(*exchange.Exchange) error { called = true; return nil }),
	)
	assert.ErrorIs(t, head.HandleRequest(newExchange()), boom)
	assert.False(t, called)
}

func TestWrapDelegatesToExistingNext(t *testing.T) {
	var trail []string
	terminal := HandlerFunc(func(*exchange.Exchange) error { trail = append(trail, "terminal"); return nil })
	node := Wrap(terminal, func(*exchange.Exchange) error { trail = append(trail, "work"); return nil })
	require.NoError(t, node.HandleRequest(newExchange()))
	assert.Equal(t, []string{"work", "terminal"}, trail)
	assert.Nil(t, Pipe())
}

func TestDispatchHonoursPriority(t *testing.T) {
	var seen string
	reg := buildRegistry(t,
		icpt("late", plugin.Response, 10, &interceptorFunc{handle: func(ex *exchange.Exchange) error {
			seen = ex.Header().Get("X-First")
			return nil
		}}),
		icpt("early", plugin.Response, 5, &interceptorFunc{handle: func(ex *exchange.Exchange) error {
			ex.Header().Set("X-First", "done")
			return nil
		}}),
	)
	d := NewDispatcher(reg, nil)
	require.NoError(t, d.Dispatch(plugin.Response, newExchange()))
	assert.Equal(t, "done", seen)
}

func TestDispatchSkipsWhenResolveIsFalse(t *testing.T) {
	handled := false
	reg := buildRegistry(t, icpt("picky", plugin.RequestAfterAuth, 0, &interceptorFunc{
		resolve: func(ex *exchange.Exchange) bool { return strings.HasPrefix(ex.Path(), "/other") },
		handle:  func(*exchange.Exchange) error { handled = true; return nil },
	}))
	require.NoError(t, NewDispatcher(reg, nil).Dispatch(plugin.RequestAfterAuth, newExchange()))
	assert.False(t, handled)
}

func TestDispatchStopsAtCompletion(t *testing.T) {
	var trail []string
	reg := buildRegistry(t,
		icpt("a", plugin.RequestBeforeAuth, 1, &interceptorFunc{handle: func(ex *exchange.Exchange) error {
			trail = append(trail, "a")
			ex.MarkComplete()
			return nil
		}}),
		icpt("b", plugin.RequestBeforeAuth, 2, &interceptorFunc{handle: func(*exchange.Exchange) error {
			trail = append(trail, "b")
			return nil
		}}),
	)
	require.NoError(t, NewDispatcher(reg, nil).Dispatch(plugin.RequestBeforeAuth, newExchange()))
	assert.Equal(t, []string{"a"}, trail)
}

func TestDispatchIsolatesFaults(t *testing.T) {
	var faults []string
	ran := false
	reg := buildRegistry(t,
		icpt("panicky-resolve", plugin.Response, 1, &interceptorFunc{resolve: func(*exchange.Exchange) bool { panic("resolve") }}),
		icpt("panicky-handle", plugin.Response, 2, &interceptorFunc{handle: func(*exchange.Exchange) error { panic("handle") }}),
		icpt("erroring", plugin.Response, 3, &interceptorFunc{handle: func(*exchange.Exchange) error { return errors.New("nope") }}),
		icpt("healthy", plugin.Response, 4, &interceptorFunc{handle: func(*exchange.Exchange) error { ran = true; return nil }}),
	)
	d := NewDispatcher(reg, nil, WithFaultObserver(func(rec *plugin.Record, point plugin.InterceptPoint, err error) {
		assert.Equal(t, plugin.Response, point)
		assert.Equal(t, xerrors.CodeInterceptorFault, xerrors.CodeOf(err))
		faults = append(faults, rec.Name)
	}))
	require.NoError(t, d.Dispatch(plugin.Response, newExchange()))
	assert.True(t, ran)
	assert.Equal(t, []string{"panicky-resolve", "panicky-handle", "erroring"}, faults)
}

func TestAsyncRunsInFullOnDetachedExchange(t *testing.T) {
	var trail []string
	var status int
	reg := buildRegistry(t,
		icpt("one", plugin.ResponseAsync, 1, &interceptorFunc{handle: func(ex *exchange.Exchange) error {
			trail = append(trail, "one")
			status = ex.Status()
			return nil
		}}),
		icpt("two", plugin.ResponseAsync, 2, &interceptorFunc{handle: func(*exchange.Exchange) error {
			trail = append(trail, "two")
			return nil
		}}),
	)
	exec := &syncExecutor{}
	ex := newExchange()
	ex.SetStatus(201)
	ex.MarkComplete()

	require.NoError(t, NewDispatcher(reg, exec).Dispatch(plugin.ResponseAsync, ex))
	assert.Equal(t, []string{"one", "two"}, trail)
	assert.Equal(t, 201, status)
	assert.Equal(t, 1, exec.tasks)
}

func TestAsyncSurvivesCancelledRequest(t *testing.T) {
	var ctxErr error
	reg := buildRegistry(t, icpt("late", plugin.ResponseAsync, 0, &interceptorFunc{handle: func(ex *exchange.Exchange) error {
		ctxErr = ex.Context().Err()
		return nil
	}}))
	ctx, cancel := context.WithCancel(context.Background())
	ex := exchange.New(httptest.NewRequest("GET", "/ping", nil).WithContext(ctx))
	cancel()
	require.NoError(t, NewDispatcher(reg, &syncExecutor{}).Dispatch(plugin.ResponseAsync, ex))
	assert.NoError(t, ctxErr)
}

func TestAsyncReportsSaturatedExecutor(t *testing.T) {
	reg := buildRegistry(t, icpt("late", plugin.ResponseAsync, 0, &interceptorFunc{}))
	err := NewDispatcher(reg, fullExecutor{}).Dispatch(plugin.ResponseAsync, newExchange())
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))

	empty := buildRegistry(t)
	assert.NoError(t, NewDispatcher(empty, fullExecutor{}).Dispatch(plugin.ResponseAsync, newExchange()))
}

func TestDontInterceptAndContentFiltering(t *testing.T) {
	var trail []string
	record := func(name string) *interceptorFunc {
		return &interceptorFunc{handle: func(*exchange.Exchange) error { trail = append(trail, name); return nil }}
	}
	body := icpt("body", plugin.RequestAfterAuth, 1, record("body"))
	body.desc.RequiresContent = true
	reg := buildRegistry(t,
		entry{desc: plugin.Descriptor{Name: "raw", Kind: plugin.KindService, EnabledByDefault: true,
			DefaultRoute: "/raw", DontIntercept: []plugin.InterceptPoint{plugin.Response}}, impl: noopService{}},
		body,
		icpt("plain", plugin.RequestAfterAuth, 2, record("plain")),
		icpt("resp", plugin.Response, 1, record("resp")),
	)
	d := NewDispatcher(reg, nil)

	ex := newExchange()
	ex.SetPipelineInfo(exchange.PipelineInfo{Type: exchange.PipelineService, Name: "raw", URI: "/raw"})
	assert.True(t, d.RequiresContent(plugin.RequestAfterAuth, ex))
	ex.SetFilterRequiringContent(true)
	require.NoError(t, d.Dispatch(plugin.RequestAfterAuth, ex))
	require.NoError(t, d.Dispatch(plugin.Response, ex))
	assert.Equal(t, []string{"plain"}, trail)
	assert.False(t, d.RequiresContent(plugin.Response, ex))

	trail = nil
	other := newExchange()
	require.NoError(t, d.Dispatch(plugin.RequestAfterAuth, other))
	require.NoError(t, d.Dispatch(plugin.Response, other))
	assert.Equal(t, []string{"body", "plain", "resp"}, trail)
}

func TestDispatchAgainstHolderSeesSwaps(t *testing.T) {
	hits := 0
	holder := plugin.NewHolder(nil)
	d := NewDispatcher(holder, nil)
	require.NoError(t, d.Dispatch(plugin.Response, newExchange()))

	holder.Swap(buildRegistry(t, icpt("count", plugin.Response, 0, &interceptorFunc{handle: func(*exchange.Exchange) error {
		hits++
		return nil
	}})))
	require.NoError(t, d.Dispatch(plugin.Response, newExchange()))
	assert.Equal(t, 1, hits)
}

type deferredExecutor struct {
	tasks []func(ctx context.Context)
}

func (e *deferredExecutor) Submit(task func(ctx context.Context)) error {
	e.tasks = append(e.tasks, task)
	return nil
}

func TestDispatchKeepsPinnedSnapshotAcrossSwaps(t *testing.T) {
	var trail []string
	record := func(name string) *interceptorFunc {
		return &interceptorFunc{handle: func(*exchange.Exchange) error { trail = append(trail, name); return nil }}
	}
	old := buildRegistry(t,
		icpt("before", plugin.RequestBeforeAuth, 0, record("before")),
		icpt("resp", plugin.Response, 0, record("resp")),
		icpt("async", plugin.ResponseAsync, 0, record("async")),
	)
	holder := plugin.NewHolder(old)
	exec := &deferredExecutor{}
	d := NewDispatcher(holder, exec)

	ex := newExchange()
	require.NoError(t, d.Dispatch(plugin.RequestBeforeAuth, ex))
	assert.Same(t, old, SnapshotOf(holder, ex))

	holder.Swap(buildRegistry(t))
	require.NoError(t, d.Dispatch(plugin.Response, ex))
	require.NoError(t, d.Dispatch(plugin.ResponseAsync, ex))
	require.Len(t, exec.tasks, 1)
	exec.tasks[0](context.Background())

	assert.Equal(t, []string{"before", "resp", "async"}, trail)

	trail = nil
	fresh := newExchange()
	require.NoError(t, d.Dispatch(plugin.Response, fresh))
	assert.Empty(t, trail)
}

func TestPinIgnoresNilRegistry(t *testing.T) {
	reg := buildRegistry(t)
	ex := newExchange()
	Pin(ex, nil)
	assert.Nil(t, ex.Snapshot())
	assert.Same(t, reg, SnapshotOf(reg, ex))
	assert.Same(t, reg, SnapshotOf(plugin.NewHolder(nil), ex))
}
