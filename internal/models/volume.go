package models

import (
	"errors"
	"fmt"
)

// Attribute keys used to tag dose volumes
const (
	AttrDoseVolume    = "DoseVolume"
	AttrDoseUnitName  = "DoseUnitName"
	AttrDoseUnitValue = "DoseUnitValue"

	DefaultDoseUnitName = "Gy"
)

// ErrInvalidGeometry is returned by Validate for malformed grids
var ErrInvalidGeometry = errors.New("invalid volume geometry")

// Volume is a dense scalar grid with its placement in patient space.
//
// Samples are stored as a 1D array in row-major order, so the voxel (i, j, k)
// lives at k*nx*ny + j*nx + i.
type Volume struct {
	// ID is assigned by the scene store when the volume is added
	ID string

	// Name is the display name of the volume
	Name string

	// Dimensions is the number of voxels along i, j and k
	Dimensions [3]int

	// Spacing is the physical size of a voxel along each axis in mm
	Spacing [3]float64

	// Origin is the position of voxel (0, 0, 0) in the volume's frame
	Origin [3]float64

	// Direction holds the unit axis directions as columns:
	// Direction[r][c] is component r of axis c.
	Direction [3][3]float64

	// Data holds one sample per voxel
	Data []float64

	// TransformID references the parent transform in the scene's transform
	// table. Empty means identity.
	TransformID string

	// Attributes is a free-form string store
	Attributes map[string]string

	// Display holds visualization defaults, nil until configured
	Display *DisplaySettings
}

// IdentityDirection returns the 3x3 identity orientation
func IdentityDirection() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// NewVolume allocates a zero-filled volume with identity orientation
func NewVolume(name string, dims [3]int, spacing, origin [3]float64) *Volume {
	v := &Volume{
		Name:       name,
		Dimensions: dims,
		Spacing:    spacing,
		Origin:     origin,
		Direction:  IdentityDirection(),
		Attributes: make(map[string]string),
	}
	if n := v.NumVoxels(); n > 0 {
		v.Data = make([]float64, n)
	}
	return v
}

// NumVoxels returns the product of the dimensions
func (v *Volume) NumVoxels() int {
	return v.Dimensions[0] * v.Dimensions[1] * v.Dimensions[2]
}

// Index returns the flat array index of voxel (i, j, k)
func (v *Volume) Index(i, j, k int) int {
	return k*v.Dimensions[0]*v.Dimensions[1] + j*v.Dimensions[0] + i
}

// ValidateGeometry checks that dimensions and spacing are positive
func (v *Volume) ValidateGeometry() error {
	if v == nil {
		return fmt.Errorf("%w: nil volume", ErrInvalidGeometry)
	}
	for axis := 0; axis < 3; axis++ {
		if v.Dimensions[axis] <= 0 {
			return fmt.Errorf("%w: dimension %d is %d", ErrInvalidGeometry, axis, v.Dimensions[axis])
		}
		if !(v.Spacing[axis] > 0) {
			return fmt.Errorf("%w: spacing %d is %g", ErrInvalidGeometry, axis, v.Spacing[axis])
		}
	}
	return nil
}

// Validate checks the grid invariants: positive dimensions and spacing and a
// sample array that matches the dimensions.
func (v *Volume) Validate() error {
	if err := v.ValidateGeometry(); err != nil {
		return err
	}
	if len(v.Data) != v.NumVoxels() {
		return fmt.Errorf("%w: %d samples for %dx%dx%d grid", ErrInvalidGeometry,
			len(v.Data), v.Dimensions[0], v.Dimensions[1], v.Dimensions[2])
	}
	return nil
}

// HasData reports whether the volume carries a sample array
func (v *Volume) HasData() bool {
	return v != nil && len(v.Data) > 0
}

// SameLattice reports whether two volumes share dimensions, spacing, origin
// and orientation exactly.
func (v *Volume) SameLattice(o *Volume) bool {
	return v.Dimensions == o.Dimensions &&
		v.Spacing == o.Spacing &&
		v.Origin == o.Origin &&
		v.Direction == o.Direction
}

// CopyGeometryFrom copies dimensions, spacing, origin and orientation from ref
func (v *Volume) CopyGeometryFrom(ref *Volume) {
	v.Dimensions = ref.Dimensions
	v.Spacing = ref.Spacing
	v.Origin = ref.Origin
	v.Direction = ref.Direction
}

// Clone returns a deep copy of the volume. The ID is kept.
func (v *Volume) Clone() *Volume {
	c := *v
	if v.Data != nil {
		c.Data = make([]float64, len(v.Data))
		copy(c.Data, v.Data)
	}
	c.Attributes = make(map[string]string, len(v.Attributes))
	for k, val := range v.Attributes {
		c.Attributes[k] = val
	}
	if v.Display != nil {
		d := *v.Display
		c.Display = &d
	}
	return &c
}

// SetAttribute sets a string attribute, allocating the map if needed
func (v *Volume) SetAttribute(key, value string) {
	if v.Attributes == nil {
		v.Attributes = make(map[string]string)
	}
	v.Attributes[key] = value
}

// MarkAsDose tags the volume as a dose distribution in the given unit
func (v *Volume) MarkAsDose(unit string) {
	if unit == "" {
		unit = DefaultDoseUnitName
	}
	v.SetAttribute(AttrDoseVolume, "1")
	v.SetAttribute(AttrDoseUnitName, unit)
	v.SetAttribute(AttrDoseUnitValue, "1.0")
}

// IsDose reports whether the volume was tagged by MarkAsDose
func (v *Volume) IsDose() bool {
	return v != nil && v.Attributes[AttrDoseVolume] == "1"
}

// DisplaySettings holds window/level and threshold defaults for a volume
type DisplaySettings struct {
	WindowMin float64
	WindowMax float64

	// LowerThreshold hides voxels below it when ThresholdEnabled is set, so a
	// zero background renders transparent
	LowerThreshold   float64
	ThresholdEnabled bool

	Visible bool
	Opacity float64
}

// Window returns the width of the display window
func (d DisplaySettings) Window() float64 {
	return d.WindowMax - d.WindowMin
}

// Level returns the centre of the display window
func (d DisplaySettings) Level() float64 {
	return (d.WindowMax + d.WindowMin) / 2
}
