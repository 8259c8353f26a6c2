package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Scanner yields the descriptors of the discoverable plugins. It is called
// once per bootstrap.
type Scanner interface {
	Discover(ctx context.Context) ([]Descriptor, error)
}

// FactoryLookup resolves implementation ids into factories.
type FactoryLookup interface {
	Factory(implementationID string) (Factory, bool)
}

// Catalog is an in-process scanner backed by registered implementations.
// Compiled-in plugins register a descriptor and a factory; descriptor files
// may declare more plugins reusing the same implementations.
type Catalog struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	factories   map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// RegisterImplementation makes a factory available under id.
func (c *Catalog) RegisterImplementation(id string, f Factory) error {
	if id == "" {
		return errors.New("implementation id cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("implementation %s: factory cannot be nil", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[id]; exists {
		return fmt.Errorf("implementation %s already registered", id)
	}
	c.factories[id] = f
	return nil
}

// Register declares a plugin and, when f is not nil, its implementation.
func (c *Catalog) Register(d Descriptor, f Factory) error {
	if d.ImplementationID == "" {
		d.ImplementationID = d.Name
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if f != nil {
		if err := c.RegisterImplementation(d.ImplementationID, f); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.descriptors {
		if existing.Kind == d.Kind && existing.Name == d.Name {
			return fmt.Errorf("%s %s already registered", d.Kind, d.Name)
		}
	}
	c.descriptors = append(c.descriptors, d)
	return nil
}

// MustRegister is Register for package initialisation; it panics on error.
func (c *Catalog) MustRegister(d Descriptor, f Factory) {
	if err := c.Register(d, f); err != nil {
		panic(err)
	}
}

// Discover implements Scanner.
func (c *Catalog) Discover(context.Context) ([]Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Descriptor(nil), c.descriptors...), nil
}

// Factory implements FactoryLookup.
func (c *Catalog) Factory(id string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[id]
	return f, ok
}

// descriptorFile is the layout of a YAML descriptor file.
type descriptorFile struct {
	Plugins []Descriptor `yaml:"plugins"`
}

// FileScanner reads descriptors from YAML files.
type FileScanner struct {
	Paths []string
}

// Discover implements Scanner.
func (s FileScanner) Discover(ctx context.Context) ([]Descriptor, error) {
	var out []Descriptor
	for _, path := range s.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read descriptor file: %w", err)
		}
		var file descriptorFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("unmarshal descriptor file %s: %w", path, err)
		}
		for _, d := range file.Plugins {
			if d.ImplementationID == "" {
				d.ImplementationID = d.Name
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// MultiScanner merges scanners in order. A later descriptor with the same
// kind and name replaces the earlier one in place.
type MultiScanner []Scanner

// Discover implements Scanner.
func (m MultiScanner) Discover(ctx context.Context) ([]Descriptor, error) {
	type key struct {
		kind Kind
		name string
	}
	index := make(map[key]int)
	var out []Descriptor
	for _, s := range m {
		if s == nil {
			continue
		}
		found, err := s.Discover(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range found {
			k := key{d.Kind, d.Name}
			if i, ok := index[k]; ok {
				out[i] = d
				continue
			}
			index[k] = len(out)
			out = append(out, d)
		}
	}
	return out, nil
}
