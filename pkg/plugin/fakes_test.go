package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// journal records lifecycle events across fakes in call order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeProvider struct {
	name     string
	j        *journal
	injected []string
	values   map[string]any
	failInit bool
	panicAt  string
}

func (p *fakeProvider) Inject(ip InjectionPoint, value any) error {
	if p.panicAt == "inject" {
		panic("inject exploded")
	}
	p.injected = append(p.injected, ip.Name)
	if p.values == nil {
		p.values = make(map[string]any)
	}
	p.values[ip.Name] = value
	return nil
}

func (p *fakeProvider) Init(ctx *ExecutionContext) error {
	p.name = ctx.Name
	if p.panicAt == "init" {
		panic("init exploded")
	}
	if p.failInit {
		return errors.New("init failed")
	}
	p.j.add("init %s", ctx.Name)
	return nil
}

func (p *fakeProvider) Stop(ctx *ExecutionContext) error {
	p.j.add("stop %s", ctx.Name)
	return nil
}

func (p *fakeProvider) Get(caller *Record) (any, error) {
	return "value-of-" + p.name, nil
}

type fakeService struct {
	values map[string]any
}

func (s *fakeService) Inject(ip InjectionPoint, value any) error {
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[ip.Name] = value
	return nil
}

func (s *fakeService) Handle(ex *exchange.Exchange) error { return nil }

type fakeInterceptor struct{}

func (fakeInterceptor) Resolve(*exchange.Exchange) bool { return true }

func (fakeInterceptor) Handle(*exchange.Exchange) error { return nil }

func (fakeInterceptor) Run(context.Context) error { return nil }

// testCatalog registers one factory per implementation id used by the tests.
func testCatalog(j *journal, tweak map[string]func(*fakeProvider)) *Catalog {
	c := NewCatalog()
	for _, id := range []string{"a", "b", "c_a", "d_c", "e_b", "c1", "c2", "self", "p", "q"} {
		id := id
		_ = c.RegisterImplementation(id, func() (any, error) {
			p := &fakeProvider{j: j}
			if fn := tweak[id]; fn != nil {
				fn(p)
			}
			return p, nil
		})
	}
	_ = c.RegisterImplementation("service", func() (any, error) { return &fakeService{}, nil })
	_ = c.RegisterImplementation("interceptor", func() (any, error) { return fakeInterceptor{}, nil })
	_ = c.RegisterImplementation("broken", func() (any, error) { return nil, errors.New("no instance") })
	_ = c.RegisterImplementation("wrong-kind", func() (any, error) { return struct{}{}, nil })
	return c
}

func provider(name string, deps ...string) Descriptor {
	d := Descriptor{Name: name, ImplementationID: name, Kind: KindProvider, EnabledByDefault: true}
	for i, dep := range deps {
		d.Injections = append(d.Injections, InjectionPoint{Target: TargetField, Name: dep, Order: i})
	}
	return d
}

func service(name, route string, enabled bool, deps ...string) Descriptor {
	d := Descriptor{Name: name, ImplementationID: "service", Kind: KindService, DefaultRoute: route, EnabledByDefault: enabled}
	for i, dep := range deps {
		d.Injections = append(d.Injections, InjectionPoint{Target: TargetField, Name: dep, Order: i})
	}
	return d
}

func interceptor(name string, point InterceptPoint, priority int) Descriptor {
	return Descriptor{Name: name, ImplementationID: "interceptor", Kind: KindInterceptor,
		Point: point, Priority: priority, EnabledByDefault: true}
}

type mapSource struct {
	cfg     map[string]map[string]any
	enabled map[string]bool
}

func (s mapSource) ConfigFor(name string) map[string]any { return cloneConfig(s.cfg[name]) }
func (s mapSource) IsExplicitlyEnabled(name string) (bool, bool) {
	v, ok := s.enabled[name]
	return v, ok
}
func (s mapSource) All() map[string]any { return map[string]any{"scope": "all"} }
