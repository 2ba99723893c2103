package preprocess

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// moduleName is the short module every transformer class lives in.
	moduleName = "feature_store"
	// packagePrefix is the optional fully qualified prefix of a class path.
	packagePrefix = "colony.preprocess."
)

// Factory builds an unfitted transformer from step params.
type Factory func(params map[string]any) (Transformer, error)

// Registration binds a transformer class name to its factory.
// Revision identifies the implementation; bump it whenever the behaviour of
// the transformer changes so that previously logged fingerprints no longer
// match.
type Registration struct {
	Name     string
	Revision int
	New      Factory
}

// ClassPath returns the canonical class path of the registration.
func (r Registration) ClassPath() string {
	return moduleName + "." + r.Name
}

// SourceHash identifies the implementation behind a class path.
func (r Registration) SourceHash() string {
	sum := sha256.Sum256([]byte(r.ClassPath() + "@" + strconv.Itoa(r.Revision)))
	return hex.EncodeToString(sum[:])
}

// Registry maps transformer class names to factories.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Registration)}
}

// Register adds a transformer class. Registering the same name twice is an error.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" || strings.Contains(reg.Name, ".") {
		return fmt.Errorf("invalid transformer name %q", reg.Name)
	}
	if reg.New == nil {
		return fmt.Errorf("transformer %q has no factory", reg.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[reg.Name]; exists {
		return fmt.Errorf("transformer %q already registered", reg.Name)
	}
	r.items[reg.Name] = reg
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Lookup resolves a class path. Accepted forms are "ClassName",
// "feature_store.ClassName" and "colony.preprocess.feature_store.ClassName".
func (r *Registry) Lookup(classPath string) (Registration, error) {
	name, err := className(classPath)
	if err != nil {
		return Registration{}, err
	}
	r.mu.RLock()
	reg, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return Registration{}, fmt.Errorf("unknown transformer class %q (available: %v)", classPath, r.Names())
	}
	return reg, nil
}

// Names returns the registered class names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for n := range r.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func className(classPath string) (string, error) {
	p := strings.TrimPrefix(strings.TrimSpace(classPath), packagePrefix)
	if i := strings.LastIndex(p, "."); i >= 0 {
		if p[:i] != moduleName {
			return "", fmt.Errorf("unknown transformer class %q: module %q not found", classPath, p[:i])
		}
		p = p[i+1:]
	}
	if p == "" {
		return "", fmt.Errorf("empty class path")
	}
	return p, nil
}

var defaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, reg := range builtins() {
		r.MustRegister(reg)
	}
	return r
}

// DefaultRegistry returns the registry holding the built-in transformers.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a transformer class to the default registry.
func Register(reg Registration) error {
	return defaultRegistry.Register(reg)
}
