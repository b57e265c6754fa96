// Package builtin provides simple dose engines for tests, demos and
// pipeline validation. They are not physics models.
package builtin

import (
	"fmt"

	"beamdose/pkg/engine"
)

// Register adds every builtin engine to r
func Register(r *engine.Registry) error {
	for _, e := range []engine.DoseEngine{NewUniform(), NewGaussianBeam()} {
		if err := r.Register(e); err != nil {
			return fmt.Errorf("register builtin engine: %w", err)
		}
	}
	return nil
}
