package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// RegistrySource returns the registry snapshot to dispatch against. Both
// *plugin.Registry and *plugin.Holder satisfy it.
type RegistrySource interface {
	Current() *plugin.Registry
}

// Pin fixes the registry snapshot ex is processed against. Later lookups
// through SnapshotOf return reg even if the source has been swapped since.
func Pin(ex *exchange.Exchange, reg *plugin.Registry) {
	if reg != nil {
		ex.SetSnapshot(reg)
	}
}

// SnapshotOf returns the snapshot pinned on ex. When none is pinned, the
// current snapshot of source is pinned and returned.
func SnapshotOf(source RegistrySource, ex *exchange.Exchange) *plugin.Registry {
	if reg, ok := ex.Snapshot().(*plugin.Registry); ok && reg != nil {
		return reg
	}
	reg := source.Current()
	Pin(ex, reg)
	return reg
}

// Executor runs work outside the request goroutine.
type Executor interface {
	Submit(task func(ctx context.Context)) error
}

// FaultObserver is told about every interceptor fault.
type FaultObserver func(rec *plugin.Record, point plugin.InterceptPoint, err error)

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used to report interceptor faults.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithFaultObserver registers a callback invoked on every interceptor fault.
func WithFaultObserver(fn FaultObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// Dispatcher invokes the interceptors bound to an intercept point.
type Dispatcher struct {
	source   RegistrySource
	executor Executor
	log      *slog.Logger
	observe  FaultObserver
}

// NewDispatcher creates a dispatcher. executor may be nil, in which case
// RESPONSE_ASYNC interceptors run inline after the response was flushed.
func NewDispatcher(source RegistrySource, executor Executor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{source: source, executor: executor}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.Named("dispatcher")
	}
	return d
}

// Dispatch runs the interceptors bound to point against ex.
//
// For synchronous points the interceptors run in priority order and the
// dispatch stops as soon as the response is complete. RESPONSE_ASYNC is
// handed to the executor on a detached copy of the exchange and always runs
// in full.
func (d *Dispatcher) Dispatch(point plugin.InterceptPoint, ex *exchange.Exchange) error {
	if point.IsAsync() {
		return d.dispatchAsync(ex)
	}
	reg := SnapshotOf(d.source, ex)
	service := d.serviceOf(reg, ex)
	for _, rec := range reg.InterceptorsFor(point) {
		if ex.ResponseComplete() {
			return nil
		}
		if !d.applies(rec, service, point, ex) {
			continue
		}
		d.invoke(rec, point, ex)
	}
	return nil
}

// RunAsync runs every RESPONSE_ASYNC interceptor against ex without
// honouring the completion flag.
func (d *Dispatcher) RunAsync(ex *exchange.Exchange) {
	reg := SnapshotOf(d.source, ex)
	service := d.serviceOf(reg, ex)
	for _, rec := range reg.InterceptorsFor(plugin.ResponseAsync) {
		if !d.applies(rec, service, plugin.ResponseAsync, ex) {
			continue
		}
		d.invoke(rec, plugin.ResponseAsync, ex)
	}
}

// RequiresContent reports whether an interceptor applicable to ex at point
// needs the request body.
func (d *Dispatcher) RequiresContent(point plugin.InterceptPoint, ex *exchange.Exchange) bool {
	reg := SnapshotOf(d.source, ex)
	service := d.serviceOf(reg, ex)
	for _, rec := range reg.InterceptorsFor(point) {
		if !rec.Descriptor.RequiresContent {
			continue
		}
		if service != nil && !service.Descriptor.Intercepts(point) {
			return false
		}
		if d.resolve(rec, point, ex) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) dispatchAsync(ex *exchange.Exchange) error {
	if len(SnapshotOf(d.source, ex).InterceptorsFor(plugin.ResponseAsync)) == 0 {
		return nil
	}
	detached := ex.Detach()
	if d.executor == nil {
		d.RunAsync(detached)
		return nil
	}
	if err := d.executor.Submit(func(context.Context) { d.RunAsync(detached) }); err != nil {
		d.log.Warn("async interceptors rejected by executor",
			slog.String("exchange_id", ex.ID()),
			slog.Any("error", err))
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "submit async interceptors")
	}
	return nil
}

func (d *Dispatcher) serviceOf(reg *plugin.Registry, ex *exchange.Exchange) *plugin.Record {
	info := ex.PipelineInfo()
	if info.Type != exchange.PipelineService || info.Name == "" {
		return nil
	}
	rec, _ := reg.Get(plugin.KindService, info.Name)
	return rec
}

func (d *Dispatcher) applies(rec *plugin.Record, service *plugin.Record, point plugin.InterceptPoint, ex *exchange.Exchange) bool {
	if service != nil && !service.Descriptor.Intercepts(point) {
		return false
	}
	if rec.Descriptor.RequiresContent && ex.FilterRequiringContent() {
		return false
	}
	return d.resolve(rec, point, ex)
}

func (d *Dispatcher) resolve(rec *plugin.Record, point plugin.InterceptPoint, ex *exchange.Exchange) (ok bool) {
	interceptor := rec.Instance.(plugin.Interceptor)
	defer func() {
		if r := recover(); r != nil {
			d.fault(rec, point, ex, "resolve", fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	return interceptor.Resolve(ex)
}

func (d *Dispatcher) invoke(rec *plugin.Record, point plugin.InterceptPoint, ex *exchange.Exchange) {
	interceptor := rec.Instance.(plugin.Interceptor)
	defer func() {
		if r := recover(); r != nil {
			d.fault(rec, point, ex, "handle", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := interceptor.Handle(ex); err != nil {
		d.fault(rec, point, ex, "handle", err)
	}
}

func (d *Dispatcher) fault(rec *plugin.Record, point plugin.InterceptPoint, ex *exchange.Exchange, stage string, cause error) {
	err := xerrors.Wrap(xerrors.CodeInterceptorFault, cause,
		fmt.Sprintf("interceptor %s failed in %s", rec.Name, stage),
		xerrors.WithMetadata("interceptor", rec.Name),
		xerrors.WithMetadata("point", point.String()))
	d.log.Warn("interceptor fault",
		slog.String("interceptor", rec.Name),
		slog.String("point", point.String()),
		slog.String("stage", stage),
		slog.String("exchange_id", ex.ID()),
		slog.Any("error", cause))
	if d.observe != nil {
		d.observe(rec, point, err)
	}
}
