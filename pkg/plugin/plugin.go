package plugin

import (
	"context"
	"time"

	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
)

// Factory creates a fresh, not yet injected plugin instance.
type Factory func() (any, error)

// Injectable receives dependencies one injection point at a time, in
// ascending declaration order, before Init is called.
type Injectable interface {
	Inject(point InjectionPoint, value any) error
}

// Initializable plugins receive their resolved configuration once all
// dependencies are injected.
type Initializable interface {
	Init(ctx *ExecutionContext) error
}

// Stoppable plugins release resources when the registry is closed.
type Stoppable interface {
	Stop(ctx *ExecutionContext) error
}

// ExecutionContext is passed to lifecycle hooks.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// Name is the plugin name.
	Name string
	// Config is the plugin specific configuration block.
	Config map[string]any
	// Registry gives access to the published registry snapshot.
	Registry Handle
}

// Clone returns a copy of the execution context so plugins can safely mutate the config map.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Config = cloneConfig(c.Config)
	return &dup
}

// Handle exposes the currently published registry.
type Handle interface {
	Current() *Registry
}

// Provider supplies a named capability to the plugins that inject it.
type Provider interface {
	// Get returns the value injected into caller.
	Get(caller *Record) (any, error)
}

// Interceptor observes or mutates an exchange at its intercept point.
type Interceptor interface {
	// Resolve reports whether the interceptor applies to the exchange.
	Resolve(ex *exchange.Exchange) bool
	Handle(ex *exchange.Exchange) error
}

// Service produces the response for requests routed to it.
type Service interface {
	Handle(ex *exchange.Exchange) error
}

// AuthOutcome is the result of one authentication attempt.
type AuthOutcome int

const (
	NotAttempted AuthOutcome = iota
	NotAuthenticated
	Authenticated
)

// Authenticator verifies the credentials carried by a request.
type Authenticator interface {
	// Authenticate sets the account on success.
	Authenticate(ex *exchange.Exchange) (AuthOutcome, error)
	// Challenge adds the headers asking the client to authenticate.
	Challenge(ex *exchange.Exchange)
}

// Authorizer votes on whether a request may proceed.
type Authorizer interface {
	IsAllowed(ex *exchange.Exchange) bool
	IsAuthenticationRequired(ex *exchange.Exchange) bool
}

// TokenManager authenticates token bearers and issues tokens to
// authenticated accounts.
type TokenManager interface {
	Authenticator
	Issue(acc *exchange.Account) (token string, expires time.Time, err error)
	Invalidate(acc *exchange.Account)
}

// Initializer runs once around server startup, at its InitPoint.
type Initializer interface {
	Run(ctx context.Context) error
}

// implements reports whether instance satisfies the interface of kind.
func implements(kind Kind, instance any) bool {
	switch kind {
	case KindProvider:
		_, ok := instance.(Provider)
		return ok
	case KindService:
		_, ok := instance.(Service)
		return ok
	case KindInterceptor:
		_, ok := instance.(Interceptor)
		return ok
	case KindAuthenticator:
		_, ok := instance.(Authenticator)
		return ok
	case KindAuthorizer:
		_, ok := instance.(Authorizer)
		return ok
	case KindTokenManager:
		_, ok := instance.(TokenManager)
		return ok
	case KindInitializer:
		_, ok := instance.(Initializer)
		return ok
	}
	return false
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
