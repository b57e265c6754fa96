package dosecalc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"beamdose/internal/models"
	"beamdose/pkg/accumulation"
	"beamdose/pkg/engine"
	"beamdose/pkg/scene"
)

// State is the phase of a plan calculation
type State int

const (
	StateIdle State = iota
	StateRunning
	StateAccumulating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateAccumulating:
		return "accumulating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the state of the latest calculation of a plan. BeamIndex is the
// beam being computed while Running and the failed beam when a beam failed;
// it is -1 otherwise.
type Status struct {
	State     State
	BeamIndex int
	Err       error
}

// ProgressFunc receives the completed fraction of a plan calculation. It is
// called synchronously on the calculating goroutine.
type ProgressFunc func(fraction float64)

// Status returns the state of the plan's latest calculation
func (c *Calculator) Status(planID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.status[planID]; ok {
		return st
	}
	return Status{State: StateIdle, BeamIndex: -1}
}

func (c *Calculator) setStatus(planID string, plan *models.Plan, st Status) {
	c.mu.Lock()
	c.status[planID] = st
	c.mu.Unlock()

	c.logger.Debug("plan state",
		zap.String("plan", plan.Name),
		zap.Stringer("state", st.State),
		zap.Int("beam", st.BeamIndex),
	)
}

// CalculatePlanDose computes every beam of the plan in order and
// accumulates the weighted beam doses into the plan's total-dose volume.
//
// Before beam i of N starts, onProgress receives i/(N+1); the last slot is
// the accumulation, after which 1.0 is reported. The first failing beam stops
// the calculation and its error is returned as is; beams already computed
// keep their results. The total-dose volume is created on the first success
// and only its contents change on later runs.
func (c *Calculator) CalculatePlanDose(ctx context.Context, planID string, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	plan, err := c.store.Plan(planID)
	if err != nil {
		return err
	}

	err = c.calculatePlan(ctx, plan, onProgress)
	c.metrics.RecordPlan(err)
	if err != nil {
		st := c.Status(planID)
		if st.State != StateRunning {
			st.BeamIndex = -1
		}
		st.State = StateFailed
		st.Err = err
		c.setStatus(planID, plan, st)
		c.logger.Error("plan dose calculation failed", zap.String("plan", plan.Name), zap.Error(err))
		return err
	}

	c.setStatus(planID, plan, Status{State: StateDone, BeamIndex: -1})
	onProgress(1.0)
	c.logger.Info("calculated plan dose", zap.String("plan", plan.Name), zap.Int("beams", len(plan.BeamIDs)))
	return nil
}

func (c *Calculator) calculatePlan(ctx context.Context, plan *models.Plan, onProgress ProgressFunc) error {
	reference, err := c.referenceOf(plan)
	if err != nil {
		return err
	}
	beams, err := c.store.Beams(plan.ID)
	if err != nil {
		return err
	}

	n := float64(len(beams) + 1)
	for i, beam := range beams {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.setStatus(plan.ID, plan, Status{State: StateRunning, BeamIndex: i})
		onProgress(float64(i) / n)

		if _, err := c.CalculateBeamDose(ctx, beam.ID); err != nil {
			return err
		}
	}

	c.setStatus(plan.ID, plan, Status{State: StateAccumulating, BeamIndex: -1})
	onProgress(float64(len(beams)) / n)
	return c.accumulatePlan(ctx, plan, reference, beams)
}

func (c *Calculator) accumulatePlan(ctx context.Context, plan *models.Plan, reference *models.Volume, beams []*models.Beam) error {
	inputs := make([]accumulation.Input, 0, len(beams))
	for i, beam := range beams {
		if beam.DoseVolumeID == "" {
			return &accumulation.InputError{Index: i, Name: beam.Name, Err: fmt.Errorf("%w: beam has no dose", accumulation.ErrInput)}
		}
		dose, err := c.store.Volume(beam.DoseVolumeID)
		if err != nil {
			return &accumulation.InputError{Index: i, Name: beam.Name, Err: fmt.Errorf("%w: %v", accumulation.ErrInput, err)}
		}
		world, err := c.store.WorldTransform(dose)
		if err != nil {
			return &accumulation.InputError{Index: i, Name: beam.Name, Err: err}
		}
		inputs = append(inputs, accumulation.Input{Volume: dose, Weight: beam.Weight, WorldTransform: world})
	}

	referenceWorld, err := c.store.WorldTransform(reference)
	if err != nil {
		return err
	}

	total, existing := c.totalDoseVolume(plan)
	display := c.params.Display
	err = c.accumulator.Accumulate(ctx, reference, total, inputs, accumulation.Options{
		ReferenceWorld:   referenceWorld,
		PrescriptionDose: plan.PrescriptionDose,
		Display:          &display,
		Unit:             c.params.Unit,
	})
	if err != nil {
		return err
	}
	if total.Display == nil {
		total.Display = c.display(0)
	}
	if study := reference.Attributes[scene.AttrStudy]; study != "" {
		total.SetAttribute(scene.AttrStudy, study)
	}

	if !existing {
		if _, err := c.store.AddVolume(total); err != nil {
			return err
		}
	}
	return c.store.SetTotalDose(plan.ID, total.ID)
}

// totalDoseVolume returns the plan's total-dose volume, or a new unstored
// one when the plan has none yet
func (c *Calculator) totalDoseVolume(plan *models.Plan) (*models.Volume, bool) {
	if plan.TotalDoseVolumeID != "" {
		if v, err := c.store.Volume(plan.TotalDoseVolumeID); err == nil {
			return v, true
		}
	}
	return &models.Volume{
		Name:       plan.Name + TotalDoseVolumeSuffix,
		Attributes: make(map[string]string),
	}, false
}

// RemoveIntermediateResults deletes the intermediate results and dose
// volume of every beam in the plan, running eng's cleanup hook per beam.
// eng is passed explicitly so results left by a previously selected engine
// can be cleaned with that engine; nil skips the hooks.
func (c *Calculator) RemoveIntermediateResults(ctx context.Context, planID string, eng engine.DoseEngine) error {
	beams, err := c.store.Beams(planID)
	if err != nil {
		return err
	}
	var errs []error
	for _, beam := range beams {
		if err := c.removeBeamResults(ctx, beam, eng); err != nil {
			errs = append(errs, fmt.Errorf("beam %s: %w", beam.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RemovePlanResults tears down everything the calculator produced for the
// plan, using the plan's selected engine for cleanup hooks
func (c *Calculator) RemovePlanResults(ctx context.Context, planID string) error {
	plan, err := c.store.Plan(planID)
	if err != nil {
		return err
	}
	eng, err := c.registry.Get(plan.EngineName)
	if err != nil {
		c.logger.Warn("plan engine not registered, skipping cleanup hooks",
			zap.String("plan", plan.Name), zap.String("engine", plan.EngineName))
		eng = nil
	}

	if err := c.RemoveIntermediateResults(ctx, planID, eng); err != nil {
		return err
	}
	if id := plan.TotalDoseVolumeID; id != "" {
		if err := c.removeVolume(id); err != nil {
			return err
		}
		if err := c.store.SetTotalDose(planID, ""); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delete(c.status, planID)
	c.mu.Unlock()
	return nil
}
