package plugin

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigSource supplies per-plugin configuration during bootstrap.
type ConfigSource interface {
	// ConfigFor returns the configuration block of the named plugin.
	ConfigFor(name string) map[string]any
	// IsExplicitlyEnabled returns the configured override, if any.
	IsExplicitlyEnabled(name string) (enabled bool, set bool)
	// All returns the whole configuration, for plugins injecting config with
	// scope "all".
	All() map[string]any
}

// PolicySource supplies per-plugin policies.
type PolicySource interface {
	PolicyFor(name string) Policy
}

// ManagerConfig describes how plugins are declared, enabled and configured.
type ManagerConfig struct {
	// DescriptorFiles lists YAML files declaring additional plugins.
	DescriptorFiles []string                `yaml:"descriptor-files" mapstructure:"descriptor-files"`
	Defaults        Policy                  `yaml:"defaults" mapstructure:"defaults"`
	Args            map[string]PluginConfig `yaml:"args" mapstructure:"args"`

	// Root is the whole configuration tree, exposed through All.
	Root map[string]any `yaml:"-" mapstructure:"-"`
}

// PluginConfig is the configuration block for a single plugin.
type PluginConfig struct {
	Enabled *bool          `yaml:"enabled" mapstructure:"enabled"`
	Config  map[string]any `yaml:"config" mapstructure:"config"`
	Policy  *Policy        `yaml:"policy" mapstructure:"policy"`
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	if cfg.Args == nil {
		cfg.Args = map[string]PluginConfig{}
	}
	return cfg, cfg.Validate()
}

// Validate ensures the configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for name, pc := range c.Args {
		if strings.TrimSpace(name) == "" {
			return errors.New("plugin name cannot be empty")
		}
		if pc.Policy == nil {
			continue
		}
		for _, denied := range pc.Policy.DeniedCapabilities {
			for _, allowed := range pc.Policy.AllowedCapabilities {
				if denied == allowed {
					return fmt.Errorf("plugin %s: capability %s both allowed and denied", name, denied)
				}
			}
		}
	}
	return nil
}

// lookup finds the block of name. Keys may have been lower-cased by the
// configuration loader, so the match falls back to case-insensitive.
func (c ManagerConfig) lookup(name string) (PluginConfig, bool) {
	if pc, ok := c.Args[name]; ok {
		return pc, true
	}
	for key, pc := range c.Args {
		if strings.EqualFold(key, name) {
			return pc, true
		}
	}
	return PluginConfig{}, false
}

// ConfigFor implements ConfigSource.
func (c ManagerConfig) ConfigFor(name string) map[string]any {
	pc, _ := c.lookup(name)
	return cloneConfig(pc.Config)
}

// IsExplicitlyEnabled implements ConfigSource. Both the enabled field of
// the block and an "enabled" key inside its config count as overrides.
func (c ManagerConfig) IsExplicitlyEnabled(name string) (bool, bool) {
	pc, ok := c.lookup(name)
	if !ok {
		return false, false
	}
	if pc.Enabled != nil {
		return *pc.Enabled, true
	}
	if v, ok := pc.Config["enabled"].(bool); ok {
		return v, true
	}
	return false, false
}

// All implements ConfigSource.
func (c ManagerConfig) All() map[string]any {
	return cloneConfig(c.Root)
}

// PolicyFor implements PolicySource.
func (c ManagerConfig) PolicyFor(name string) Policy {
	pc, _ := c.lookup(name)
	return MergePolicies(c.Defaults, pc.Policy)
}
