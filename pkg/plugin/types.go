package plugin

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is the functional category of a plugin.
type Kind string

const (
	KindProvider      Kind = "provider"
	KindService       Kind = "service"
	KindInterceptor   Kind = "interceptor"
	KindAuthenticator Kind = "authenticator"
	KindAuthorizer    Kind = "authorizer"
	KindTokenManager  Kind = "token-manager"
	KindInitializer   Kind = "initializer"
)

// Kinds returns every kind in bootstrap order. Providers come first because
// every other kind may depend on them.
func Kinds() []Kind {
	return []Kind{
		KindProvider,
		KindInitializer,
		KindAuthenticator,
		KindAuthorizer,
		KindTokenManager,
		KindInterceptor,
		KindService,
	}
}

// ParseKind converts the textual form of a kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Kinds(), k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown plugin kind %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// InterceptPoint is a stage of request handling at which interceptors run.
// Values are ordered by their position in the request lifecycle.
type InterceptPoint int

const (
	PointNone InterceptPoint = iota
	RequestBeforeExchangeInit
	RequestBeforeAuth
	RequestAfterAuth
	Response
	ResponseAsync
)

var pointNames = map[InterceptPoint]string{
	PointNone:                 "NONE",
	RequestBeforeExchangeInit: "REQUEST_BEFORE_EXCHANGE_INIT",
	RequestBeforeAuth:         "REQUEST_BEFORE_AUTH",
	RequestAfterAuth:          "REQUEST_AFTER_AUTH",
	Response:                  "RESPONSE",
	ResponseAsync:             "RESPONSE_ASYNC",
}

// InterceptPoints returns the stages in request order.
func InterceptPoints() []InterceptPoint {
	return []InterceptPoint{RequestBeforeExchangeInit, RequestBeforeAuth, RequestAfterAuth, Response, ResponseAsync}
}

func (p InterceptPoint) String() string {
	if name, ok := pointNames[p]; ok {
		return name
	}
	return fmt.Sprintf("InterceptPoint(%d)", int(p))
}

// IsAsync reports whether the stage runs after the response was sent.
func (p InterceptPoint) IsAsync() bool { return p == ResponseAsync }

// IsRequest reports whether the stage runs before the service.
func (p InterceptPoint) IsRequest() bool {
	return p >= RequestBeforeExchangeInit && p <= RequestAfterAuth
}

// ParseInterceptPoint accepts both the canonical names and the short forms
// BEFORE_EXCHANGE_INIT, BEFORE_AUTH and AFTER_AUTH.
func ParseInterceptPoint(s string) (InterceptPoint, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "RE") {
		name = "REQUEST_" + name
	}
	for p, n := range pointNames {
		if n == name && p != PointNone {
			return p, nil
		}
	}
	return PointNone, fmt.Errorf("unknown intercept point %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p InterceptPoint) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *InterceptPoint) UnmarshalText(text []byte) error {
	parsed, err := ParseInterceptPoint(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// InitPoint tells when an initializer runs relative to the listener start.
type InitPoint string

const (
	BeforeStartup InitPoint = "BEFORE_STARTUP"
	AfterStartup  InitPoint = "AFTER_STARTUP"
)

// AuthorizerType decides how an authorizer vote is combined with the others.
type AuthorizerType string

const (
	// Allower grants access when it allows and no vetoer denies.
	Allower AuthorizerType = "ALLOWER"
	// Vetoer denies access whenever it does not allow.
	Vetoer AuthorizerType = "VETOER"
)

// Capability expresses a sensitive feature a plugin requests access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// TargetKind describes how an injected value reaches the instance. It only
// documents the plugin's intent; every target is applied through Inject.
type TargetKind string

const (
	TargetField       TargetKind = "field"
	TargetConstructor TargetKind = "constructor"
	TargetMethod      TargetKind = "method"
)

// Reserved dependency names. They are always satisfiable and never looked up
// among providers.
const (
	ReservedConfig   = "config"
	ReservedRegistry = "registry"
)

// IsReserved reports whether name refers to a built-in capability.
func IsReserved(name string) bool {
	return name == ReservedConfig || name == ReservedRegistry
}

// InjectionPoint is one dependency request declared by a plugin.
type InjectionPoint struct {
	Target TargetKind `yaml:"target"`
	// Name is a provider name or a reserved capability.
	Name string `yaml:"name"`
	// Order fixes the injection sequence within one plugin.
	Order int `yaml:"order"`
	// ExpectedType, when set, must match the provider's ProvidedType.
	ExpectedType string         `yaml:"expectedType"`
	Params       map[string]any `yaml:"params"`
}

// Param returns a literal parameter supplied with the injection.
func (ip InjectionPoint) Param(key string) (any, bool) {
	v, ok := ip.Params[key]
	return v, ok
}

// Descriptor is the static metadata of a discovered plugin. It is plain data;
// the runtime never inspects plugin instances to build it.
type Descriptor struct {
	Name             string           `yaml:"name"`
	ImplementationID string           `yaml:"implementation"`
	Description      string           `yaml:"description"`
	Kind             Kind             `yaml:"kind"`
	Injections       []InjectionPoint `yaml:"injections"`
	Priority         int              `yaml:"priority"`
	EnabledByDefault bool             `yaml:"enabledByDefault"`
	Capabilities     []Capability     `yaml:"capabilities"`

	// Interceptor attributes.
	Point           InterceptPoint `yaml:"interceptPoint"`
	RequiresContent bool           `yaml:"requiresContent"`

	// Service attributes.
	DefaultRoute  string           `yaml:"defaultRoute"`
	Secure        bool             `yaml:"secure"`
	DontIntercept []InterceptPoint `yaml:"dontIntercept"`

	// Provider attributes.
	ProvidedType string `yaml:"providedType"`

	InitPoint      InitPoint      `yaml:"initPoint"`
	AuthorizerType AuthorizerType `yaml:"authorizerType"`
}

// SortedInjections returns the injections in ascending declaration order.
// Equal orders keep their declared position.
func (d Descriptor) SortedInjections() []InjectionPoint {
	out := slices.Clone(d.Injections)
	slices.SortStableFunc(out, func(a, b InjectionPoint) int { return a.Order - b.Order })
	return out
}

// Injects reports whether the descriptor names dep among its injections.
func (d Descriptor) Injects(dep string) bool {
	return slices.ContainsFunc(d.Injections, func(ip InjectionPoint) bool { return ip.Name == dep })
}

// Intercepts reports whether interceptors bound to p may run for a service
// described by d.
func (d Descriptor) Intercepts(p InterceptPoint) bool {
	return !slices.Contains(d.DontIntercept, p)
}

// Validate checks the kind-specific attributes.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if _, err := ParseKind(string(d.Kind)); err != nil {
		return fmt.Errorf("plugin %s: %w", d.Name, err)
	}
	if d.ImplementationID == "" {
		return fmt.Errorf("plugin %s: implementation id cannot be empty", d.Name)
	}
	for _, ip := range d.Injections {
		if strings.TrimSpace(ip.Name) == "" {
			return fmt.Errorf("plugin %s: injection without dependency name", d.Name)
		}
	}
	switch d.Kind {
	case KindInterceptor:
		if d.Point == PointNone {
			return fmt.Errorf("interceptor %s: intercept point is required", d.Name)
		}
	case KindService:
		if d.DefaultRoute != "" && !strings.HasPrefix(d.DefaultRoute, "/") {
			return fmt.Errorf("service %s: default route must start with /", d.Name)
		}
	case KindInitializer:
		if d.InitPoint != "" && d.InitPoint != BeforeStartup && d.InitPoint != AfterStartup {
			return fmt.Errorf("initializer %s: unknown init point %q", d.Name, d.InitPoint)
		}
	case KindAuthorizer:
		if d.AuthorizerType != "" && d.AuthorizerType != Allower && d.AuthorizerType != Vetoer {
			return fmt.Errorf("authorizer %s: unknown type %q", d.Name, d.AuthorizerType)
		}
	}
	return nil
}

// Record is the live counterpart of a descriptor. Records are created once
// by the Manager and must be treated as read-only afterwards.
type Record struct {
	Name        string
	Description string
	// Enabled is computed at bootstrap; only enabled records are published.
	Enabled    bool
	Instance   any
	Config     map[string]any
	Descriptor Descriptor

	seq int
}

// Kind returns the kind of the record.
func (r *Record) Kind() Kind { return r.Descriptor.Kind }

// Priority returns the ordering priority; lower runs first.
func (r *Record) Priority() int { return r.Descriptor.Priority }
