// Package interpolation samples flat row-major volumes at fractional voxel
// coordinates.
package interpolation

import (
	"fmt"
	"math"
)

// Method selects the interpolation kernel
type Method int

const (
	// Linear is trilinear interpolation between the 8 surrounding voxels
	Linear Method = iota
	// Nearest picks the closest voxel
	Nearest
)

// ParseMethod converts a config string into a Method
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "linear", "trilinear":
		return Linear, nil
	case "nearest", "nearest-neighbor":
		return Nearest, nil
	default:
		return Linear, fmt.Errorf("unknown interpolation method %q (must be linear or nearest)", s)
	}
}

func (m Method) String() string {
	if m == Nearest {
		return "nearest"
	}
	return "linear"
}

// boundaryTolerance absorbs rounding noise from composed transforms so that
// coordinates landing on the last voxel are not treated as outside the grid.
const boundaryTolerance = 1e-6

// Sampler reads a volume with a fixed kernel and background value
type Sampler struct {
	data       []float64
	nx, ny, nz int
	method     Method
	background float64
}

// NewSampler wraps a sample array of the given dimensions
func NewSampler(data []float64, dims [3]int, method Method, background float64) *Sampler {
	return &Sampler{
		data:       data,
		nx:         dims[0],
		ny:         dims[1],
		nz:         dims[2],
		method:     method,
		background: background,
	}
}

// At returns the interpolated value at continuous index (x, y, z).
// Points outside the grid return the background value.
func (s *Sampler) At(x, y, z float64) float64 {
	x, okX := clampAxis(x, s.nx)
	y, okY := clampAxis(y, s.ny)
	z, okZ := clampAxis(z, s.nz)
	if !okX || !okY || !okZ {
		return s.background
	}

	if s.method == Nearest {
		i := int(math.Round(x))
		j := int(math.Round(y))
		k := int(math.Round(z))
		return s.data[k*s.nx*s.ny+j*s.nx+i]
	}
	return s.trilinear(x, y, z)
}

func (s *Sampler) trilinear(x, y, z float64) float64 {
	i0, fx := split(x, s.nx)
	j0, fy := split(y, s.ny)
	k0, fz := split(z, s.nz)

	i1 := min(i0+1, s.nx-1)
	j1 := min(j0+1, s.ny-1)
	k1 := min(k0+1, s.nz-1)

	slab := s.nx * s.ny
	at := func(i, j, k int) float64 { return s.data[k*slab+j*s.nx+i] }

	// Skip the neighbour reads on exact grid points. This keeps identity
	// resampling bit-exact.
	if fx == 0 && fy == 0 && fz == 0 {
		return at(i0, j0, k0)
	}

	c00 := at(i0, j0, k0)*(1-fx) + at(i1, j0, k0)*fx
	c10 := at(i0, j1, k0)*(1-fx) + at(i1, j1, k0)*fx
	c01 := at(i0, j0, k1)*(1-fx) + at(i1, j0, k1)*fx
	c11 := at(i0, j1, k1)*(1-fx) + at(i1, j1, k1)*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz
}

// clampAxis maps a coordinate into [0, n-1], reporting false when it lies
// outside the grid by more than the boundary tolerance.
func clampAxis(v float64, n int) (float64, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	upper := float64(n - 1)
	if v < -boundaryTolerance || v > upper+boundaryTolerance {
		return 0, false
	}
	if v < 0 {
		return 0, true
	}
	if v > upper {
		return upper, true
	}
	// snap to the nearest integer when within tolerance
	if r := math.Round(v); math.Abs(v-r) < boundaryTolerance {
		return r, true
	}
	return v, true
}

// split returns the lower voxel index and the fractional offset from it
func split(v float64, n int) (int, float64) {
	i := int(math.Floor(v))
	if i >= n-1 {
		return n - 1, 0
	}
	return i, v - float64(i)
}
