// Package resample maps volumes onto the lattice of a reference volume
// through their composed affine transforms.
package resample

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
	"beamdose/pkg/geometry"
	"beamdose/pkg/interpolation"
)

// ErrResample wraps every failure of a resample call
var ErrResample = errors.New("resample failed")

// Params controls the resampling kernel and parallelism
type Params struct {
	// Method is the interpolation kernel, linear by default
	Method interpolation.Method

	// Background is returned for reference voxels that map outside the input
	Background float64

	// NumWorkers is the number of goroutines sharing the reference slabs.
	// Zero means runtime.NumCPU().
	NumWorkers int
}

// Resampler resamples input volumes onto reference lattices. It never
// mutates its inputs and always returns a freshly allocated grid.
type Resampler struct {
	params Params
}

// NewResampler creates a resampler. A nil params uses linear interpolation,
// zero background and all CPUs.
func NewResampler(params *Params) *Resampler {
	r := &Resampler{}
	if params != nil {
		r.params = *params
	}
	if r.params.NumWorkers <= 0 {
		r.params.NumWorkers = runtime.NumCPU()
	}
	return r
}

// Resample maps input onto the reference lattice. inputWorld is the input's
// composed parent transform chain (nil means identity); the reference is
// taken to live in world space.
func (r *Resampler) Resample(input *models.Volume, inputWorld mat.Matrix, reference *models.Volume) (*models.Volume, error) {
	return r.ResampleTo(input, inputWorld, reference, nil)
}

// ResampleTo is Resample for a reference that itself sits under a parent
// transform chain.
func (r *Resampler) ResampleTo(input *models.Volume, inputWorld mat.Matrix, reference *models.Volume, referenceWorld mat.Matrix) (*models.Volume, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: input: %v", ErrResample, err)
	}
	if err := reference.ValidateGeometry(); err != nil {
		return nil, fmt.Errorf("%w: reference: %v", ErrResample, err)
	}

	refToInput, err := IndexTransform(input, inputWorld, reference, referenceWorld)
	if err != nil {
		return nil, err
	}

	out := &models.Volume{
		Name:        input.Name,
		TransformID: reference.TransformID,
		Attributes:  make(map[string]string, len(input.Attributes)),
		Data:        make([]float64, reference.NumVoxels()),
	}
	out.CopyGeometryFrom(reference)
	for k, v := range input.Attributes {
		out.Attributes[k] = v
	}

	// same lattice in the same frame: every voxel maps onto itself
	if input.SameLattice(reference) && geometry.EqualApprox(orIdentity(inputWorld), orIdentity(referenceWorld), 0) {
		copy(out.Data, input.Data)
		return out, nil
	}

	sampler := interpolation.NewSampler(input.Data, input.Dimensions, r.params.Method, r.params.Background)
	r.fill(out, refToInput, sampler)

	return out, nil
}

func orIdentity(m mat.Matrix) mat.Matrix {
	if m == nil {
		return geometry.Identity()
	}
	return m
}

// IndexTransform returns the map from reference voxel indices to
// (fractional) input voxel indices:
//
//	inverse(inputWorld · inputIJKToRAS) · referenceWorld · referenceIJKToRAS
//
// Resampling iterates the reference grid and pulls samples from the input,
// so this is the direction the loop needs.
func IndexTransform(input *models.Volume, inputWorld mat.Matrix, reference *models.Volume, referenceWorld mat.Matrix) (*mat.Dense, error) {
	for name, m := range map[string]mat.Matrix{"input": inputWorld, "reference": referenceWorld} {
		if m == nil {
			continue
		}
		if err := geometry.CheckAffine(m); err != nil {
			return nil, fmt.Errorf("%w: %s transform: %v", ErrResample, name, err)
		}
	}

	inputLocalToWorld := geometry.Compose(inputWorld, geometry.IJKToRAS(input))
	worldToInput, err := geometry.Invert(inputLocalToWorld)
	if err != nil {
		return nil, fmt.Errorf("%w: input index-to-world: %v", ErrResample, err)
	}

	referenceToWorld := geometry.Compose(referenceWorld, geometry.IJKToRAS(reference))
	if _, err := geometry.Invert(referenceToWorld); err != nil {
		return nil, fmt.Errorf("%w: reference index-to-world: %v", ErrResample, err)
	}

	return geometry.Compose(worldToInput, referenceToWorld), nil
}

// fill samples every reference voxel. Slabs along k are spread over the
// worker goroutines; each voxel is written by exactly one worker.
func (r *Resampler) fill(out *models.Volume, refToInput *mat.Dense, sampler *interpolation.Sampler) {
	nx, ny, nz := out.Dimensions[0], out.Dimensions[1], out.Dimensions[2]

	var m [3][4]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			m[row][col] = refToInput.At(row, col)
		}
	}

	slabs := make(chan int, nz)
	for k := 0; k < nz; k++ {
		slabs <- k
	}
	close(slabs)

	workers := r.params.NumWorkers
	if workers > nz {
		workers = nz
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range slabs {
				fk := float64(k)
				for j := 0; j < ny; j++ {
					fj := float64(j)
					// row-constant part of the affine map
					bx := m[0][1]*fj + m[0][2]*fk + m[0][3]
					by := m[1][1]*fj + m[1][2]*fk + m[1][3]
					bz := m[2][1]*fj + m[2][2]*fk + m[2][3]
					base := k*nx*ny + j*nx
					for i := 0; i < nx; i++ {
						fi := float64(i)
						out.Data[base+i] = sampler.At(m[0][0]*fi+bx, m[1][0]*fi+by, m[2][0]*fi+bz)
					}
				}
			}
		}()
	}
	wg.Wait()
}
