package builtin

import (
	"context"
	"math"

	"beamdose/internal/models"
	"beamdose/pkg/engine"
	"beamdose/pkg/geometry"
)

// GaussianBeamName is the registry name of the GaussianBeam engine
const GaussianBeamName = "GaussianBeam"

// GaussianBeam computes a pencil-beam-like dose on a cubic grid aligned with
// the beam. In the beam frame the beam travels along +y through the
// isocenter at the origin; the grid is placed in the patient frame by
// rotating it about z by the gantry angle around the isocenter.
type GaussianBeam struct{}

// NewGaussianBeam creates the engine
func NewGaussianBeam() *GaussianBeam {
	return &GaussianBeam{}
}

func (g *GaussianBeam) Name() string { return GaussianBeamName }

func (g *GaussianBeam) DeclareParameters(s *engine.Schema) error {
	if err := s.AddFloat("PeakDose", "Dose at the isocenter in Gy", 1.0, 0, 1000); err != nil {
		return err
	}
	if err := s.AddFloat("Sigma", "Lateral spread in mm", 10, 0.1, 500); err != nil {
		return err
	}
	if err := s.AddFloat("Attenuation", "Depth attenuation per mm", 0.005, 0, 1); err != nil {
		return err
	}
	if err := s.AddFloat("FieldSize", "Edge length of the dose grid in mm", 100, 1, 1000); err != nil {
		return err
	}
	if err := s.AddFloat("Resolution", "Dose grid spacing in mm", 2.5, 0.1, 50); err != nil {
		return err
	}
	return s.AddChoice("Profile", "Lateral profile", "gaussian", []string{"gaussian", "flat"})
}

func (g *GaussianBeam) ComputeDose(ctx context.Context, bc *engine.BeamContext, dose *models.Volume) error {
	var p struct {
		peak, sigma, mu, field, res float64
		profile                     string
	}
	var err error
	for name, dst := range map[string]*float64{
		"PeakDose": &p.peak, "Sigma": &p.sigma, "Attenuation": &p.mu,
		"FieldSize": &p.field, "Resolution": &p.res,
	} {
		if *dst, err = bc.Float(name); err != nil {
			return err
		}
	}
	if p.profile, err = bc.String("Profile"); err != nil {
		return err
	}
	if p.res > p.field {
		return engine.Errorf("resolution %g mm is coarser than the %g mm field", p.res, p.field)
	}

	n := int(math.Floor(p.field/p.res)) + 1
	half := float64(n-1) * p.res / 2
	grid := models.NewVolume(dose.Name, [3]int{n, n, n}, [3]float64{p.res, p.res, p.res}, [3]float64{-half, -half, -half})

	twoSigma2 := 2 * p.sigma * p.sigma
	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		z := grid.Origin[2] + float64(k)*p.res
		for j := 0; j < n; j++ {
			depth := grid.Origin[1] + float64(j)*p.res
			axial := p.peak * math.Exp(-p.mu*depth)
			for i := 0; i < n; i++ {
				x := grid.Origin[0] + float64(i)*p.res
				lateral := 1.0
				switch p.profile {
				case "gaussian":
					lateral = math.Exp(-(x*x + z*z) / twoSigma2)
				case "flat":
					if math.Max(math.Abs(x), math.Abs(z)) > p.sigma {
						lateral = 0
					}
				}
				grid.Data[grid.Index(i, j, k)] = axial * lateral
			}
		}
	}

	dose.CopyGeometryFrom(grid)
	dose.Data = grid.Data

	iso := bc.Beam.Isocenter
	bc.SetDoseTransform(geometry.Compose(
		geometry.Translation(iso[0], iso[1], iso[2]),
		geometry.RotationZ(-bc.Beam.GantryAngle),
	))
	return nil
}
