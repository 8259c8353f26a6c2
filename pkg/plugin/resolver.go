package plugin

import (
	"fmt"
	"strings"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
)

var (
	// ErrMissingDependency reports a dependency that does not exist, is
	// disabled, has the wrong type or is itself broken.
	ErrMissingDependency = xerrors.New(xerrors.CodeMissingDependency, "")
	// ErrCyclicDependency reports membership in a dependency cycle.
	ErrCyclicDependency = xerrors.New(xerrors.CodeCyclicDependency, "")
)

type resolution uint8

const (
	unvisited resolution = iota
	inProgress
	satisfied
	unsatisfied
)

// Resolution is the outcome of resolving a provider set.
type Resolution struct {
	// Order lists the satisfiable providers so that every provider comes
	// after all of its dependencies.
	Order []Descriptor
	// Failures holds one error per unsatisfiable provider.
	Failures map[string]error
}

// Resolver decides which descriptors have transitively satisfiable
// dependencies. Results are memoized for the lifetime of the resolver, so a
// broken provider is diagnosed once and every dependant sees the same answer.
type Resolver struct {
	known   map[string]Descriptor
	names   []string
	state   map[string]resolution
	reasons map[string]error
	stack   []string
	sorted  []Descriptor
}

// NewResolver builds a resolver over the known providers. When a name is
// declared twice the first declaration wins.
func NewResolver(known []Descriptor) *Resolver {
	r := &Resolver{
		known:   make(map[string]Descriptor, len(known)),
		state:   make(map[string]resolution, len(known)),
		reasons: make(map[string]error),
	}
	for _, d := range known {
		if _, dup := r.known[d.Name]; dup {
			continue
		}
		r.known[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	return r
}

// Satisfiable reports whether d's dependencies are transitively satisfiable
// by the known providers.
func Satisfiable(d Descriptor, known []Descriptor) bool {
	return NewResolver(known).Satisfiable(d)
}

// Satisfiable reports whether d can be instantiated. d may be one of the
// known providers or any other descriptor depending on them.
func (r *Resolver) Satisfiable(d Descriptor) bool {
	return r.Check(d) == nil
}

// Check is Satisfiable with the reason of the failure.
func (r *Resolver) Check(d Descriptor) error {
	if known, ok := r.known[d.Name]; ok && d.Kind == KindProvider && known.ImplementationID == d.ImplementationID {
		if r.visit(d.Name) {
			return nil
		}
		return r.reasons[d.Name]
	}
	for _, ip := range d.SortedInjections() {
		if err := r.dependency(d.Name, ip); err != nil {
			return err
		}
	}
	return nil
}

// Resolve resolves every known provider in discovery order.
func (r *Resolver) Resolve() Resolution {
	for _, name := range r.names {
		r.visit(name)
	}
	failures := make(map[string]error, len(r.reasons))
	for name, err := range r.reasons {
		failures[name] = err
	}
	return Resolution{Order: append([]Descriptor(nil), r.sorted...), Failures: failures}
}

// Reason returns why a known provider is unsatisfiable, or nil.
func (r *Resolver) Reason(name string) error {
	return r.reasons[name]
}

func (r *Resolver) visit(name string) bool {
	switch r.state[name] {
	case satisfied:
		return true
	case unsatisfied:
		return false
	case inProgress:
		r.markCycle(name)
		return false
	}

	d := r.known[name]
	r.state[name] = inProgress
	r.stack = append(r.stack, name)

	ok := true
	for _, ip := range d.SortedInjections() {
		if err := r.dependency(name, ip); err != nil {
			r.fail(name, err)
			ok = false
			break
		}
	}

	r.stack = r.stack[:len(r.stack)-1]
	if r.state[name] == unsatisfied {
		return false
	}
	if !ok {
		r.state[name] = unsatisfied
		return false
	}
	r.state[name] = satisfied
	r.sorted = append(r.sorted, d)
	return true
}

// dependency checks a single injection of owner.
func (r *Resolver) dependency(owner string, ip InjectionPoint) error {
	if IsReserved(ip.Name) {
		return nil
	}
	dep, exists := r.known[ip.Name]
	if !exists {
		return xerrors.Wrap(xerrors.CodeMissingDependency, nil,
			fmt.Sprintf("%s depends on %s, which does not exist or is disabled", owner, ip.Name),
			xerrors.WithMetadata("dependency", ip.Name))
	}
	if ip.ExpectedType != "" && dep.ProvidedType != "" && ip.ExpectedType != dep.ProvidedType {
		return xerrors.New(xerrors.CodeMissingDependency,
			fmt.Sprintf("%s expects %s to provide %s, but it provides %s", owner, ip.Name, ip.ExpectedType, dep.ProvidedType),
			xerrors.WithMetadata("dependency", ip.Name))
	}
	if !r.visit(ip.Name) {
		if errorsIsCycle(r.reasons[owner]) {
			return r.reasons[owner]
		}
		return xerrors.Wrap(xerrors.CodeMissingDependency, r.reasons[ip.Name],
			fmt.Sprintf("%s depends on %s, which cannot be satisfied", owner, ip.Name),
			xerrors.WithMetadata("dependency", ip.Name))
	}
	return nil
}

// markCycle flags every node of the stack from name upwards as cyclic.
func (r *Resolver) markCycle(name string) {
	start := len(r.stack) - 1
	for start >= 0 && r.stack[start] != name {
		start--
	}
	if start < 0 {
		return
	}
	members := r.stack[start:]
	path := strings.Join(append(append([]string(nil), members...), name), " -> ")
	for _, member := range members {
		r.state[member] = unsatisfied
		r.fail(member, xerrors.New(xerrors.CodeCyclicDependency,
			fmt.Sprintf("%s is part of the dependency cycle %s", member, path)))
	}
}

func (r *Resolver) fail(name string, err error) {
	if _, set := r.reasons[name]; !set {
		r.reasons[name] = err
	}
}

func errorsIsCycle(err error) bool {
	return err != nil && xerrors.CodeOf(err) == xerrors.CodeCyclicDependency
}
