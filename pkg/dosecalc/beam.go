package dosecalc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"beamdose/internal/models"
	"beamdose/pkg/engine"
	"beamdose/pkg/geometry"
	"beamdose/pkg/scene"
)

// CalculateBeamDose computes the dose of one beam with its plan's engine and
// attaches the result to the beam, replacing any earlier result. The dose
// grid is kept in the engine's native geometry; it is only resampled onto
// the reference lattice during accumulation.
func (c *Calculator) CalculateBeamDose(ctx context.Context, beamID string) (*models.Volume, error) {
	r, err := c.resolveBeam(beamID)
	if err != nil {
		return nil, err
	}
	eng, err := c.registry.Get(r.plan.EngineName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	dose, err := c.calculateBeam(ctx, r, eng)
	c.metrics.RecordBeam(eng.Name(), time.Since(start), err)
	if err != nil {
		c.logger.Error("beam dose calculation failed",
			zap.String("beam", r.beam.Name),
			zap.String("engine", eng.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Info("calculated beam dose",
		zap.String("beam", r.beam.Name),
		zap.String("engine", eng.Name()),
		zap.String("volume", dose.ID),
		zap.Duration("duration", time.Since(start)),
	)
	return dose, nil
}

func (c *Calculator) calculateBeam(ctx context.Context, r *resolved, eng engine.DoseEngine) (_ *models.Volume, err error) {
	if err := c.removeBeamResults(ctx, r.beam, eng); err != nil {
		return nil, fmt.Errorf("remove previous results of beam %s: %w", r.beam.Name, err)
	}

	if _, err := c.registry.ApplyDefaults(eng.Name(), r.beam.Parameters); err != nil {
		return nil, err
	}

	dose := &models.Volume{
		Name:       r.beam.Name + DoseVolumeSuffix,
		Attributes: make(map[string]string),
	}
	bc := engine.NewBeamContext(eng.Name(), r.beam, r.plan, r.reference)

	if err := eng.ComputeDose(ctx, bc, dose); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, engine.AsComputationError(err, eng.Name(), r.beam.Name)
	}
	if err := dose.Validate(); err != nil {
		return nil, &engine.ComputationError{
			Engine: eng.Name(),
			Beam:   r.beam.Name,
			Reason: fmt.Sprintf("engine %s returned an unusable dose grid: %v", eng.Name(), err),
		}
	}

	if m := bc.DoseTransform(); m != nil {
		if err := geometry.CheckAffine(m); err != nil {
			return nil, &engine.ComputationError{
				Engine: eng.Name(),
				Beam:   r.beam.Name,
				Reason: fmt.Sprintf("engine %s set an invalid dose transform: %v", eng.Name(), err),
			}
		}
		var tid string
		tid, err = c.store.AddTransform(m, r.reference.TransformID)
		if err != nil {
			return nil, err
		}
		dose.TransformID = tid
		defer func() {
			if err != nil {
				c.discardTransform(tid)
			}
		}()
	} else if dose.TransformID == "" {
		dose.TransformID = r.reference.TransformID
	}

	// intermediates stored before a later failure are dropped with it
	defer func() {
		if err != nil {
			c.discardIntermediates(r.beam)
		}
	}()
	for _, v := range bc.Intermediates() {
		if _, err := c.store.AddVolume(v); err != nil {
			return nil, err
		}
		if err := c.store.AddIntermediate(r.beam.ID, v.ID); err != nil {
			_ = c.store.RemoveNode(v.ID)
			return nil, err
		}
	}

	dose.MarkAsDose(c.params.Unit)
	dose.Display = c.display(r.plan.PrescriptionDose)
	if study := r.reference.Attributes[scene.AttrStudy]; study != "" {
		dose.SetAttribute(scene.AttrStudy, study)
	}

	if _, err := c.store.AddVolume(dose); err != nil {
		return nil, err
	}
	if err := c.store.AttachDose(r.beam.ID, dose.ID, true); err != nil {
		_ = c.store.RemoveNode(dose.ID)
		return nil, err
	}
	if owned := dose.TransformID; owned != "" && owned != r.reference.TransformID {
		c.mu.Lock()
		c.owned[dose.ID] = owned
		c.mu.Unlock()
	}
	return dose, nil
}

// discardTransform removes a transform added for a dose that never made it
// into the store
func (c *Calculator) discardTransform(id string) {
	if err := c.store.RemoveTransform(id); err != nil {
		c.logger.Warn("failed to discard dose transform", zap.String("transform", id), zap.Error(err))
	}
}

func (c *Calculator) discardIntermediates(beam *models.Beam) {
	ids, err := c.store.TakeIntermediates(beam.ID)
	if err != nil {
		c.logger.Warn("failed to discard intermediates", zap.String("beam", beam.Name), zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := c.removeVolume(id); err != nil {
			c.logger.Warn("failed to discard intermediate", zap.String("volume", id), zap.Error(err))
		}
	}
}

// removeBeamResults deletes the beam's intermediates and dose volume. eng
// may be nil, in which case no engine cleanup hook runs.
func (c *Calculator) removeBeamResults(ctx context.Context, beam *models.Beam, eng engine.DoseEngine) error {
	if cleaner, ok := eng.(engine.IntermediateCleaner); ok {
		if err := cleaner.RemoveIntermediateResults(ctx, beam); err != nil {
			return err
		}
	}

	ids, err := c.store.TakeIntermediates(beam.ID)
	if err != nil {
		return err
	}
	removed := 0
	for _, id := range ids {
		if err := c.removeVolume(id); err != nil {
			return err
		}
		removed++
	}

	doseID, err := c.store.DetachDose(beam.ID)
	if err != nil {
		return err
	}
	if doseID != "" {
		if err := c.removeVolume(doseID); err != nil {
			return err
		}
	}

	c.metrics.RecordIntermediatesRemoved(removed)
	if removed > 0 || doseID != "" {
		c.logger.Debug("removed beam results",
			zap.String("beam", beam.Name),
			zap.Int("intermediates", removed),
			zap.Bool("dose", doseID != ""),
		)
	}
	return nil
}

// removeVolume deletes a volume and any transform registered for it.
// Volumes already gone from the store are not an error.
func (c *Calculator) removeVolume(id string) error {
	if err := c.store.RemoveNode(id); err != nil && !errors.Is(err, scene.ErrNodeNotFound) {
		return err
	}

	c.mu.Lock()
	tid, ok := c.owned[id]
	delete(c.owned, id)
	c.mu.Unlock()
	if ok {
		if err := c.store.RemoveTransform(tid); err != nil && !errors.Is(err, geometry.ErrTransformNotFound) {
			return err
		}
	}
	return nil
}

// CalculateDoseInfluence computes the beam's dose-influence matrix: one row
// per voxel of the plan's reference volume, one column per beamlet. Engines
// that are not inverse capable fail with engine.ErrUnsupportedOperation.
func (c *Calculator) CalculateDoseInfluence(ctx context.Context, beamID string) (*mat.Dense, error) {
	r, err := c.resolveBeam(beamID)
	if err != nil {
		return nil, err
	}
	eng, err := c.registry.Get(r.plan.EngineName)
	if err != nil {
		return nil, err
	}
	if !engine.IsInverseCapable(eng) {
		return nil, fmt.Errorf("%w: %s cannot compute dose influence", engine.ErrUnsupportedOperation, eng.Name())
	}
	if _, err := c.registry.ApplyDefaults(eng.Name(), r.beam.Parameters); err != nil {
		return nil, err
	}

	bc := engine.NewBeamContext(eng.Name(), r.beam, r.plan, r.reference)
	m, err := eng.(engine.InverseEngine).ComputeDoseInfluence(ctx, bc)
	if err != nil {
		if errors.Is(err, engine.ErrUnsupportedOperation) {
			return nil, err
		}
		return nil, engine.AsComputationError(err, eng.Name(), r.beam.Name)
	}
	if m == nil {
		return nil, &engine.ComputationError{Engine: eng.Name(), Beam: r.beam.Name,
			Reason: fmt.Sprintf("engine %s returned no influence matrix", eng.Name())}
	}
	if rows, _ := m.Dims(); rows != r.reference.NumVoxels() {
		return nil, &engine.ComputationError{Engine: eng.Name(), Beam: r.beam.Name,
			Reason: fmt.Sprintf("influence matrix has %d rows, reference has %d voxels", rows, r.reference.NumVoxels())}
	}
	return m, nil
}
