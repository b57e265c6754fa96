package engine

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"beamdose/internal/models"
)

// ParameterKeySeparator joins engine and parameter names in beam storage
const ParameterKeySeparator = "."

// ParameterKey returns the namespaced storage key "<engine>.<parameter>"
func ParameterKey(engineName, parameter string) string {
	return engineName + ParameterKeySeparator + parameter
}

// ParameterKind is the declared type of an engine parameter
type ParameterKind int

const (
	ParamFloat ParameterKind = iota
	ParamInt
	ParamChoice
	ParamBool
	ParamString
)

func (k ParameterKind) String() string {
	switch k {
	case ParamFloat:
		return "float"
	case ParamInt:
		return "int"
	case ParamChoice:
		return "choice"
	case ParamBool:
		return "bool"
	case ParamString:
		return "string"
	default:
		return "unknown"
	}
}

// valueKind maps a parameter kind to the Value tag that stores it
func (k ParameterKind) valueKind() models.ValueKind {
	switch k {
	case ParamFloat:
		return models.KindFloat
	case ParamInt:
		return models.KindInt
	case ParamBool:
		return models.KindBool
	default:
		return models.KindString
	}
}

// ParameterSpec declares one engine parameter
type ParameterSpec struct {
	Name        string
	Description string
	Kind        ParameterKind
	Default     models.Value

	// Min and Max bound numeric parameters when HasBounds is set
	HasBounds bool
	Min, Max  float64

	// Choices lists the allowed values of a choice parameter
	Choices []string
}

// Schema is the set of parameters an engine declares
type Schema struct {
	engine string
	specs  []ParameterSpec
	index  map[string]int
}

func newSchema(engineName string) *Schema {
	return &Schema{engine: engineName, index: make(map[string]int)}
}

// Engine returns the name of the engine owning the schema
func (s *Schema) Engine() string {
	return s.engine
}

// Add declares a parameter. The default must satisfy the declaration.
func (s *Schema) Add(spec ParameterSpec) error {
	if spec.Name == "" || strings.Contains(spec.Name, ParameterKeySeparator) {
		return fmt.Errorf("%w: name %q", ErrInvalidParameter, spec.Name)
	}
	if _, ok := s.index[spec.Name]; ok {
		return fmt.Errorf("%w: %s declared twice", ErrInvalidParameter, spec.Name)
	}
	if spec.HasBounds && spec.Min > spec.Max {
		return fmt.Errorf("%w: %s bounds [%g, %g]", ErrInvalidParameter, spec.Name, spec.Min, spec.Max)
	}
	if spec.Kind == ParamChoice && len(spec.Choices) == 0 {
		return fmt.Errorf("%w: choice %s without choices", ErrInvalidParameter, spec.Name)
	}
	if err := spec.check(spec.Default); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	s.index[spec.Name] = len(s.specs)
	s.specs = append(s.specs, spec)
	return nil
}

// AddFloat declares a bounded float parameter
func (s *Schema) AddFloat(name, description string, def, lo, hi float64) error {
	return s.Add(ParameterSpec{
		Name: name, Description: description, Kind: ParamFloat,
		Default: models.FloatValue(def), HasBounds: true, Min: lo, Max: hi,
	})
}

// AddInt declares a bounded integer parameter
func (s *Schema) AddInt(name, description string, def, lo, hi int64) error {
	return s.Add(ParameterSpec{
		Name: name, Description: description, Kind: ParamInt,
		Default: models.IntValue(def), HasBounds: true, Min: float64(lo), Max: float64(hi),
	})
}

// AddBool declares a boolean parameter
func (s *Schema) AddBool(name, description string, def bool) error {
	return s.Add(ParameterSpec{Name: name, Description: description, Kind: ParamBool, Default: models.BoolValue(def)})
}

// AddString declares a free-form string parameter
func (s *Schema) AddString(name, description, def string) error {
	return s.Add(ParameterSpec{Name: name, Description: description, Kind: ParamString, Default: models.StringValue(def)})
}

// AddChoice declares a parameter restricted to one of choices
func (s *Schema) AddChoice(name, description, def string, choices []string) error {
	return s.Add(ParameterSpec{
		Name: name, Description: description, Kind: ParamChoice,
		Default: models.StringValue(def), Choices: choices,
	})
}

// Specs returns the declarations in declaration order
func (s *Schema) Specs() []ParameterSpec {
	return slices.Clone(s.specs)
}

// Lookup returns the declaration of name
func (s *Schema) Lookup(name string) (ParameterSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return ParameterSpec{}, false
	}
	return s.specs[i], true
}

// Key returns the storage key of one of the schema's parameters
func (s *Schema) Key(name string) string {
	return ParameterKey(s.engine, name)
}

// Parse decodes a string-encoded parameter value and validates it
func (s *Schema) Parse(name, raw string) (models.Value, error) {
	spec, ok := s.Lookup(name)
	if !ok {
		return models.Value{}, fmt.Errorf("%w: %s", ErrUnknownParameter, s.Key(name))
	}
	v, err := models.ParseValue(spec.Kind.valueKind(), strings.TrimSpace(raw))
	if err != nil {
		return models.Value{}, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
	}
	if err := spec.check(v); err != nil {
		return models.Value{}, err
	}
	return v, nil
}

// Validate checks a value against the declaration of name
func (s *Schema) Validate(name string, v models.Value) error {
	spec, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, s.Key(name))
	}
	return spec.check(v)
}

// ApplyDefaults copies every declared default into params under its
// namespaced key, skipping keys that already have a value. It returns the
// number of parameters added.
func (s *Schema) ApplyDefaults(params models.ParameterSet) int {
	added := 0
	for _, spec := range s.specs {
		if params.SetIfAbsent(s.Key(spec.Name), spec.Default) {
			added++
		}
	}
	return added
}

func (spec ParameterSpec) check(v models.Value) error {
	if v.Kind() != spec.Kind.valueKind() {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrInvalidParameter, spec.Name, spec.Kind, v.Kind())
	}
	switch spec.Kind {
	case ParamFloat, ParamInt:
		f, _ := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s=%s is not a finite number", ErrInvalidParameter, spec.Name, v)
		}
		if spec.HasBounds && (f < spec.Min || f > spec.Max) {
			return fmt.Errorf("%w: %s=%s outside [%g, %g]", ErrInvalidParameter, spec.Name, v, spec.Min, spec.Max)
		}
	case ParamChoice:
		str, _ := v.Str()
		if !slices.Contains(spec.Choices, str) {
			return fmt.Errorf("%w: %s=%q not one of %v", ErrInvalidParameter, spec.Name, str, spec.Choices)
		}
	}
	return nil
}
