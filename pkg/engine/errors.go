package engine

import (
	"errors"
	"fmt"
)

var (
	ErrEngineNotFound       = errors.New("dose engine not found")
	ErrUnsupportedOperation = errors.New("operation not supported by dose engine")
	ErrDuplicateEngine      = errors.New("dose engine already registered")
	ErrInvalidEngineName    = errors.New("invalid dose engine name")
	ErrInvalidParameter     = errors.New("invalid engine parameter")
	ErrUnknownParameter     = errors.New("parameter not declared by engine")
)

// ComputationError is returned when an engine fails to compute a dose. The
// message is the engine's own reason, passed through unchanged.
type ComputationError struct {
	Engine string
	Beam   string
	Reason string
}

func (e *ComputationError) Error() string {
	return e.Reason
}

// Errorf builds a ComputationError with a formatted reason. Engines use it
// to report failures; the orchestrator fills in Engine and Beam.
func Errorf(format string, args ...any) *ComputationError {
	return &ComputationError{Reason: fmt.Sprintf(format, args...)}
}

// AsComputationError converts any engine failure into a ComputationError,
// keeping the original message verbatim.
func AsComputationError(err error, engineName, beamName string) *ComputationError {
	var ce *ComputationError
	if errors.As(err, &ce) {
		out := *ce
		if out.Engine == "" {
			out.Engine = engineName
		}
		if out.Beam == "" {
			out.Beam = beamName
		}
		return &out
	}
	return &ComputationError{Engine: engineName, Beam: beamName, Reason: err.Error()}
}
