package engine

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"beamdose/internal/models"
)

// Registry maps engine names to engine instances. It is created once by the
// application and passed to whatever needs engines; there is no global
// instance. Engines stay registered for the registry's lifetime.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]DoseEngine
	schemas map[string]*Schema
	order   []string
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		engines: make(map[string]DoseEngine),
		schemas: make(map[string]*Schema),
		logger:  logger,
	}
}

// Register adds an engine under its name and asks it to declare its
// parameters. Names must be non-empty, unique and free of the parameter key
// separator.
func (r *Registry) Register(e DoseEngine) error {
	if e == nil {
		return fmt.Errorf("%w: nil engine", ErrInvalidEngineName)
	}
	name := e.Name()
	if strings.TrimSpace(name) == "" || strings.Contains(name, ParameterKeySeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidEngineName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.engines[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEngine, name)
	}

	schema := newSchema(name)
	if err := e.DeclareParameters(schema); err != nil {
		return fmt.Errorf("declare parameters of %s: %w", name, err)
	}

	r.engines[name] = e
	r.schemas[name] = schema
	r.order = append(r.order, name)

	r.logger.Info("registered dose engine",
		zap.String("engine", name),
		zap.Int("parameters", len(schema.specs)),
		zap.Bool("inverse_capable", IsInverseCapable(e)))
	return nil
}

// Unregister is not supported: engines live as long as the registry.
func (r *Registry) Unregister(name string) error {
	return fmt.Errorf("%w: unregister %s", ErrUnsupportedOperation, name)
}

// Get returns the engine registered under name
func (r *Registry) Get(name string) (DoseEngine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotFound, name)
	}
	return e, nil
}

// Schema returns the parameter schema of an engine
func (r *Registry) Schema(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotFound, name)
	}
	return s, nil
}

// Names returns the registered engine names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ApplyDefaults adds the engine's parameter defaults to params without
// overwriting values already present
func (r *Registry) ApplyDefaults(name string, params models.ParameterSet) (int, error) {
	s, err := r.Schema(name)
	if err != nil {
		return 0, err
	}
	return s.ApplyDefaults(params), nil
}
