package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"beamdose/internal/models"
)

// Viewer extracts windowed 2D slices from a dose volume
type Viewer struct {
	volume  *models.Volume
	display models.DisplaySettings
}

// NewViewer creates a viewer using the volume's display settings, or the
// fallback display when it has none
func NewViewer(volume *models.Volume) *Viewer {
	display := DoseDisplay(0, DefaultDisplayOptions())
	if volume.Display != nil {
		display = *volume.Display
	}
	return &Viewer{volume: volume, display: display}
}

// gray maps a sample through the window to a 16-bit intensity. Thresholded
// voxels render black.
func (v *Viewer) gray(value float64) color.Gray16 {
	if v.display.ThresholdEnabled && value < v.display.LowerThreshold {
		return color.Gray16{}
	}
	width := v.display.Window()
	if width <= 0 {
		return color.Gray16{}
	}
	scaled := (value - v.display.WindowMin) / width
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled*65535)))}
}

// ExtractSlice extracts a 2D slice along the given index axis (i/x, j/y, k/z)
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	nx, ny, nz := v.volume.Dimensions[0], v.volume.Dimensions[1], v.volume.Dimensions[2]
	data := v.volume.Data

	var img *image.Gray16

	switch axis {
	case "x", "X", "i":
		if position >= nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, nx)
		}
		img = image.NewGray16(image.Rect(0, 0, nz, ny))
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				img.SetGray16(z, y, v.gray(data[z*nx*ny+y*nx+position]))
			}
		}

	case "y", "Y", "j":
		if position >= ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, ny)
		}
		img = image.NewGray16(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, z, v.gray(data[z*nx*ny+position*nx+x]))
			}
		}

	case "z", "Z", "k":
		if position >= nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, nz)
		}
		img = image.NewGray16(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, y, v.gray(data[position*nx*ny+y*nx+x]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the given axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X", "i":
		maxPos = v.volume.Dimensions[0]
	case "y", "Y", "j":
		maxPos = v.volume.Dimensions[1]
	case "z", "Z", "k":
		maxPos = v.volume.Dimensions[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return fmt.Errorf("save slice %d: %w", pos, err)
		}
	}

	return nil
}
