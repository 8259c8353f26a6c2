package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
)

// ErrInitializationFailure reports a plugin whose factory, injection or Init
// hook failed.
var ErrInitializationFailure = xerrors.New(xerrors.CodeInitializationFailure, "")

// Option modifies the behaviour of a Manager.
type Option func(*Manager)

// WithConfigSource supplies plugin configuration and enable overrides.
// Without it, injecting the reserved "config" name is a configuration error.
func WithConfigSource(src ConfigSource) Option {
	return func(m *Manager) {
		m.config = src
	}
}

// WithRegistryHandle supplies the value injected for the reserved
// "registry" name. Without it, injecting "registry" is a configuration error.
func WithRegistryHandle(h Handle) Option {
	return func(m *Manager) {
		m.handle = h
	}
}

// WithFailurePolicy overrides how bootstrap failures are escalated.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.failure = p
		}
	}
}

// WithPolicyEnforcer overrides the admission check run before instantiation.
func WithPolicyEnforcer(e PolicyEnforcer) Option {
	return func(m *Manager) {
		if e != nil {
			m.enforcer = e
		}
	}
}

// WithLogger sets the logger used for bootstrap diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// Manager turns descriptors into a Registry: it filters disabled plugins,
// resolves provider dependencies, instantiates and injects plugins in
// dependency order and runs their Init hooks.
//
// A Manager is not safe for concurrent use. Bootstrap may be called again
// after Load to build a fresh snapshot.
type Manager struct {
	factories FactoryLookup
	config    ConfigSource
	handle    Handle
	failure   FailurePolicy
	enforcer  PolicyEnforcer
	log       *slog.Logger

	descriptors map[Kind][]Descriptor
	seq         map[Kind]map[string]int
	rejected    []Diagnostic
}

// NewManager constructs a manager instantiating plugins through factories.
func NewManager(factories FactoryLookup, opts ...Option) *Manager {
	m := &Manager{
		factories: factories,
		failure:   RequiredPolicy,
		enforcer:  CapabilityEnforcer{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("plugins")
	}
	return m
}

// Load replaces the descriptor set, partitioned by kind. Invalid and
// duplicate descriptors are rejected with a diagnostic.
func (m *Manager) Load(descriptors []Descriptor) error {
	if m.factories == nil {
		return xerrors.New(xerrors.CodeConfigurationError, "plugin manager has no factory lookup")
	}
	m.descriptors = make(map[Kind][]Descriptor)
	m.seq = make(map[Kind]map[string]int)
	m.rejected = nil
	for i, d := range descriptors {
		if err := d.Validate(); err != nil {
			m.rejected = append(m.rejected, Diagnostic{Kind: d.Kind, Name: d.Name,
				Err: xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid descriptor")})
			continue
		}
		if m.seq[d.Kind] == nil {
			m.seq[d.Kind] = make(map[string]int)
		}
		if _, dup := m.seq[d.Kind][d.Name]; dup {
			m.rejected = append(m.rejected, Diagnostic{Kind: d.Kind, Name: d.Name,
				Err: xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("duplicate %s name %s", d.Kind, d.Name))})
			continue
		}
		m.seq[d.Kind][d.Name] = i
		m.descriptors[d.Kind] = append(m.descriptors[d.Kind], d)
	}
	return nil
}

// Discover loads the descriptors yielded by scanner.
func (m *Manager) Discover(ctx context.Context, scanner Scanner) error {
	descriptors, err := scanner.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}
	return m.Load(descriptors)
}

// Bootstrap builds a new registry snapshot from the loaded descriptors.
//
// Broken plugins are excluded together with their dependants and recorded
// as diagnostics. The returned error is non-nil only for configuration
// errors and for failures the FailurePolicy escalates.
func (m *Manager) Bootstrap(ctx context.Context) (*Registry, error) {
	reg := newRegistry()
	reg.diagnostics = append(reg.diagnostics, m.rejected...)

	enabled := make(map[Kind][]Descriptor, len(m.descriptors))
	for _, kind := range Kinds() {
		for _, d := range m.descriptors[kind] {
			if !m.isEnabled(d) {
				m.log.Debug("plugin disabled", slog.String("kind", string(kind)), slog.String("name", d.Name))
				continue
			}
			enabled[kind] = append(enabled[kind], d)
		}
	}
	if err := m.checkReserved(enabled); err != nil {
		return nil, err
	}

	resolver := NewResolver(enabled[KindProvider])
	resolution := resolver.Resolve()
	for _, d := range enabled[KindProvider] {
		if cause, failed := resolution.Failures[d.Name]; failed {
			if fatal := m.fail(reg, d, cause); fatal != nil {
				return nil, m.abort(ctx, reg, fatal)
			}
		}
	}

	live := make(map[string]*Record, len(resolution.Order))
	for _, d := range resolution.Order {
		rec, err := m.instantiate(ctx, d, live)
		if err != nil {
			if fatal := m.fail(reg, d, err); fatal != nil {
				return nil, m.abort(ctx, reg, fatal)
			}
			continue
		}
		live[d.Name] = rec
		reg.add(rec)
	}

	for _, kind := range Kinds()[1:] {
		for _, d := range enabled[kind] {
			if err := resolver.Check(d); err != nil {
				if fatal := m.fail(reg, d, err); fatal != nil {
					return nil, m.abort(ctx, reg, fatal)
				}
				continue
			}
			rec, err := m.instantiate(ctx, d, live)
			if err != nil {
				if fatal := m.fail(reg, d, err); fatal != nil {
					return nil, m.abort(ctx, reg, fatal)
				}
				continue
			}
			reg.add(rec)
		}
	}

	reg.freeze()
	m.log.Info("plugin registry ready",
		slog.Int("plugins", reg.Len()),
		slog.Int("excluded", len(reg.diagnostics)))
	return reg, nil
}

func (m *Manager) isEnabled(d Descriptor) bool {
	if m.config != nil {
		if v, set := m.config.IsExplicitlyEnabled(d.Name); set {
			return v
		}
	}
	return d.EnabledByDefault
}

func (m *Manager) policyFor(name string) Policy {
	if src, ok := m.config.(PolicySource); ok {
		return src.PolicyFor(name)
	}
	return Policy{}
}

func (m *Manager) configFor(name string) map[string]any {
	if m.config == nil {
		return map[string]any{}
	}
	return m.config.ConfigFor(name)
}

// checkReserved fails when a reserved capability is requested but its
// collaborator was not supplied.
func (m *Manager) checkReserved(enabled map[Kind][]Descriptor) error {
	for _, kind := range Kinds() {
		for _, d := range enabled[kind] {
			if m.config == nil && d.Injects(ReservedConfig) {
				return xerrors.New(xerrors.CodeConfigurationError,
					fmt.Sprintf("%s %s injects %q but no configuration source is set", kind, d.Name, ReservedConfig))
			}
			if m.handle == nil && d.Injects(ReservedRegistry) {
				return xerrors.New(xerrors.CodeConfigurationError,
					fmt.Sprintf("%s %s injects %q but no registry handle is set", kind, d.Name, ReservedRegistry))
			}
		}
	}
	return nil
}

func (m *Manager) instantiate(ctx context.Context, d Descriptor, live map[string]*Record) (*Record, error) {
	if err := m.enforcer.Validate(d, m.policyFor(d.Name)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "rejected by policy")
	}
	for _, ip := range d.Injections {
		if IsReserved(ip.Name) {
			continue
		}
		if _, ok := live[ip.Name]; !ok {
			return nil, xerrors.New(xerrors.CodeMissingDependency,
				fmt.Sprintf("%s depends on %s, which is not live", d.Name, ip.Name),
				xerrors.WithMetadata("dependency", ip.Name))
		}
	}

	factory, ok := m.factories.Factory(d.ImplementationID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("no implementation registered as %s", d.ImplementationID))
	}
	var instance any
	if err := protect(func() (err error) { instance, err = factory(); return err }); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create instance")
	}
	if instance == nil || !implements(d.Kind, instance) {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("implementation %s is not a %s", d.ImplementationID, d.Kind))
	}

	rec := &Record{
		Name:        d.Name,
		Description: d.Description,
		Enabled:     true,
		Instance:    instance,
		Config:      m.configFor(d.Name),
		Descriptor:  d,
		seq:         m.seq[d.Kind][d.Name],
	}

	if len(d.Injections) > 0 {
		target, ok := instance.(Injectable)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("%s declares injections but does not accept them", d.Name))
		}
		for _, ip := range d.SortedInjections() {
			value, err := m.valueFor(ip, rec, live)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("resolve %s", ip.Name))
			}
			if err := protect(func() error { return target.Inject(ip, value) }); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("inject %s", ip.Name))
			}
		}
	}

	if initable, ok := instance.(Initializable); ok {
		execCtx := &ExecutionContext{C: ctx, Name: d.Name, Config: rec.Config, Registry: m.handle}
		if err := protect(func() error { return initable.Init(execCtx.Clone()) }); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "init")
		}
	}
	return rec, nil
}

func (m *Manager) valueFor(ip InjectionPoint, caller *Record, live map[string]*Record) (any, error) {
	switch ip.Name {
	case ReservedConfig:
		if scope, _ := ip.Param("scope"); scope == "all" {
			return m.config.All(), nil
		}
		return cloneConfig(caller.Config), nil
	case ReservedRegistry:
		return m.handle, nil
	}
	provider := live[ip.Name].Instance.(Provider)
	var value any
	err := protect(func() (err error) { value, err = provider.Get(caller); return err })
	return value, err
}

// fail records an exclusion and asks the failure policy whether to abort.
func (m *Manager) fail(reg *Registry, d Descriptor, cause error) error {
	diag := Diagnostic{Kind: d.Kind, Name: d.Name, Err: cause}
	reg.diagnostics = append(reg.diagnostics, diag)
	m.log.Warn("plugin excluded",
		slog.String("kind", string(d.Kind)),
		slog.String("name", d.Name),
		slog.String("code", string(diag.Code())),
		slog.Any("error", cause))
	return m.failure(diag, m.policyFor(d.Name))
}

func (m *Manager) abort(ctx context.Context, reg *Registry, fatal error) error {
	if err := reg.Close(ctx); err != nil {
		return errors.Join(fatal, err)
	}
	return fatal
}

// protect converts a panic raised by plugin code into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
