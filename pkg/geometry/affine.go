// Package geometry provides the 4x4 homogeneous affine transforms that place
// volume grids in patient space, and the transform table that chains them.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
)

var (
	ErrNotInvertible = errors.New("transform is not invertible")
	ErrNotAffine     = errors.New("matrix is not a 4x4 affine transform")
)

// Identity returns a new 4x4 identity matrix
func Identity() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// FromRowMajor builds a 4x4 matrix from 16 row-major values
func FromRowMajor(values [16]float64) *mat.Dense {
	data := make([]float64, 16)
	copy(data, values[:])
	return mat.NewDense(4, 4, data)
}

// Translation returns a pure translation
func Translation(x, y, z float64) *mat.Dense {
	m := Identity()
	m.Set(0, 3, x)
	m.Set(1, 3, y)
	m.Set(2, 3, z)
	return m
}

// RotationX returns a rotation about the x axis (angle in degrees)
func RotationX(deg float64) *mat.Dense {
	c, s := cosSin(deg)
	return FromRowMajor([16]float64{
		1, 0, 0, 0,
		0, c, -s, 0,
		0, s, c, 0,
		0, 0, 0, 1,
	})
}

// RotationY returns a rotation about the y axis (angle in degrees)
func RotationY(deg float64) *mat.Dense {
	c, s := cosSin(deg)
	return FromRowMajor([16]float64{
		c, 0, s, 0,
		0, 1, 0, 0,
		-s, 0, c, 0,
		0, 0, 0, 1,
	})
}

// RotationZ returns a rotation about the z axis (angle in degrees)
func RotationZ(deg float64) *mat.Dense {
	c, s := cosSin(deg)
	return FromRowMajor([16]float64{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// cosSin snaps multiples of 90 degrees to exact values so that axis-aligned
// rotations do not leak rounding noise into index arithmetic.
func cosSin(deg float64) (float64, float64) {
	if q := deg / 90; q == math.Trunc(q) {
		switch int(math.Mod(math.Mod(q, 4)+4, 4)) {
		case 0:
			return 1, 0
		case 1:
			return 0, 1
		case 2:
			return -1, 0
		case 3:
			return 0, -1
		}
	}
	rad := deg * math.Pi / 180
	return math.Cos(rad), math.Sin(rad)
}

// CheckAffine verifies that m is 4x4 with a [0 0 0 1] bottom row
func CheckAffine(m mat.Matrix) error {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return fmt.Errorf("%w: got %dx%d", ErrNotAffine, r, c)
	}
	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || m.At(3, 3) != 1 {
		return fmt.Errorf("%w: bottom row must be [0 0 0 1]", ErrNotAffine)
	}
	return nil
}

// Compose multiplies the matrices left to right: Compose(A, B, C) = A·B·C,
// so C is applied first.
func Compose(ms ...mat.Matrix) *mat.Dense {
	out := Identity()
	for _, m := range ms {
		if m == nil {
			continue
		}
		var next mat.Dense
		next.Mul(out, m)
		out = &next
	}
	return out
}

// Invert returns the inverse of m. Singular or numerically ill-conditioned
// matrices are reported as ErrNotInvertible.
func Invert(m mat.Matrix) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInvertible, err)
	}
	for _, v := range inv.RawMatrix().Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNotInvertible
		}
	}
	return &inv, nil
}

// Apply transforms a point by a 4x4 affine matrix
func Apply(m mat.Matrix, p [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = m.At(r, 0)*p[0] + m.At(r, 1)*p[1] + m.At(r, 2)*p[2] + m.At(r, 3)
	}
	return out
}

// EqualApprox compares two matrices element-wise within tol
func EqualApprox(a, b mat.Matrix, tol float64) bool {
	return mat.EqualApprox(a, b, tol)
}

// IJKToRAS returns the map from voxel index space of v to its local frame:
// the direction columns scaled by spacing, translated by the origin.
func IJKToRAS(v *models.Volume) *mat.Dense {
	m := Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, v.Direction[r][c]*v.Spacing[c])
		}
		m.Set(r, 3, v.Origin[r])
	}
	return m
}

// RASToIJK returns the inverse of IJKToRAS
func RASToIJK(v *models.Volume) (*mat.Dense, error) {
	return Invert(IJKToRAS(v))
}
