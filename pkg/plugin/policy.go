package plugin

import (
	"fmt"
	"slices"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
)

// Policy governs how a plugin is admitted and how its failures are treated.
type Policy struct {
	// Required promotes any bootstrap failure of the plugin to a fatal error.
	Required            bool         `yaml:"required" mapstructure:"required"`
	AllowedCapabilities []Capability `yaml:"allowed-capabilities" mapstructure:"allowed-capabilities"`
	DeniedCapabilities  []Capability `yaml:"denied-capabilities" mapstructure:"denied-capabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p Policy) Merge(other Policy) Policy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	p.Required = p.Required || other.Required
	return p
}

// MergePolicies combines the default and plugin specific policies.
func MergePolicies(defaults Policy, plugin *Policy) Policy {
	if plugin == nil {
		return defaults
	}
	return plugin.Merge(defaults)
}

// PolicyEnforcer admits or rejects a plugin before it is instantiated.
type PolicyEnforcer interface {
	Validate(d Descriptor, policy Policy) error
}

// CapabilityEnforcer checks the declared capabilities against the policy.
type CapabilityEnforcer struct{}

// Validate rejects denied capabilities and, when an allow list exists, any
// capability outside it.
func (CapabilityEnforcer) Validate(d Descriptor, policy Policy) error {
	for _, c := range d.Capabilities {
		if slices.Contains(policy.DeniedCapabilities, c) {
			return fmt.Errorf("capability %s is explicitly denied", c)
		}
		if len(policy.AllowedCapabilities) > 0 && !slices.Contains(policy.AllowedCapabilities, c) {
			return fmt.Errorf("capability %s not permitted", c)
		}
	}
	return nil
}

// Diagnostic records why a plugin was excluded during bootstrap.
type Diagnostic struct {
	Kind Kind
	Name string
	Err  error
}

// Code returns the error code of the diagnostic.
func (d Diagnostic) Code() xerrors.Code { return xerrors.CodeOf(d.Err) }

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s %s excluded: %v", d.Kind, d.Name, d.Err)
}

// FailurePolicy decides whether an excluded plugin aborts the bootstrap. A
// nil return isolates the failure.
type FailurePolicy func(d Diagnostic, policy Policy) error

// Isolate never aborts the bootstrap.
func Isolate(Diagnostic, Policy) error { return nil }

// RequiredPolicy aborts the bootstrap when a plugin marked required fails.
func RequiredPolicy(d Diagnostic, policy Policy) error {
	if !policy.Required {
		return nil
	}
	return xerrors.Wrap(d.Code(), d.Err, fmt.Sprintf("required plugin %s failed", d.Name),
		xerrors.WithSeverity(xerrors.SeverityCritical), xerrors.WithAlert(true))
}

// RequirePlugins aborts the bootstrap when one of names fails, regardless of
// configuration.
func RequirePlugins(names ...string) FailurePolicy {
	return func(d Diagnostic, policy Policy) error {
		if slices.Contains(names, d.Name) {
			policy.Required = true
		}
		return RequiredPolicy(d, policy)
	}
}
