package port

import (
	"fmt"
	"sort"
	"sync"

	"github.com/loomlang/loom/internal/errors"
)

// VerifierFactory builds a Verifier from implementation-specific options.
type VerifierFactory func(options map[string]string) (Verifier, error)

// GeneratorFactory builds a Generator from implementation-specific options.
type GeneratorFactory func(options map[string]string) (Generator, error)

// Registry maps strategy names to factories so verification strategies
// and generators can be selected by configuration without the pipeline
// depending on concrete implementations.
type Registry struct {
	mu         sync.RWMutex
	verifiers  map[string]VerifierFactory
	generators map[string]GeneratorFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		verifiers:  make(map[string]VerifierFactory),
		generators: make(map[string]GeneratorFactory),
	}
}

// RegisterVerifier registers a verifier strategy factory under name.
// Re-registering a name replaces the prior factory.
func (r *Registry) RegisterVerifier(name string, factory VerifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[name] = factory
}

// RegisterGenerator registers a generator factory under name.
func (r *Registry) RegisterGenerator(name string, factory GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = factory
}

// NewVerifier builds the verifier strategy registered under name.
func (r *Registry) NewVerifier(name string, options map[string]string) (Verifier, error) {
	r.mu.RLock()
	factory, ok := r.verifiers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errors.ErrUnknownStrategy, name, r.VerifierNames())
	}
	return factory(options)
}

// NewGenerator builds the generator registered under name.
func (r *Registry) NewGenerator(name string, options map[string]string) (Generator, error) {
	r.mu.RLock()
	factory, ok := r.generators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: generator %q (registered: %v)", errors.ErrUnknownStrategy, name, r.GeneratorNames())
	}
	return factory(options)
}

// VerifierNames returns the registered verifier strategy names, sorted.
func (r *Registry) VerifierNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GeneratorNames returns the registered generator names, sorted.
func (r *Registry) GeneratorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the process-wide registry populated with the
// built-in ports.
var DefaultRegistry = NewRegistry()
