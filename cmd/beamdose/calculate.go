package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"beamdose/internal/models"
	"beamdose/pkg/config"
	"beamdose/pkg/dosecalc"
	"beamdose/pkg/engine"
	"beamdose/pkg/engine/builtin"
	"beamdose/pkg/logging"
	"beamdose/pkg/metrics"
	"beamdose/pkg/planio"
	"beamdose/pkg/scene"
	"beamdose/pkg/visualization"
)

type calculateOptions struct {
	slicesDir   string
	showMetrics bool
	beam        string
}

func newCalculateCmd(global *globalOptions) *cobra.Command {
	opts := &calculateOptions{}

	cmd := &cobra.Command{
		Use:   "calculate <plan.yaml>",
		Short: "Calculate the dose of a plan",
		Long: `Calculate the dose of every beam in a plan file and accumulate the
weighted beam doses into the plan's total dose on the reference grid.

Examples:
  # Calculate a plan
  beamdose calculate prostate.yaml

  # Calculate one beam only
  beamdose calculate prostate.yaml --beam B2

  # Export axial, coronal and sagittal slices of the total dose
  beamdose calculate prostate.yaml --slices-dir slices`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalculate(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.slicesDir, "slices-dir", "", "Export JPEG slices of the total dose (overrides output.slicesDir)")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "Print pipeline metrics after the run")
	cmd.Flags().StringVar(&opts.beam, "beam", "", "Only calculate the named beam")
	return cmd
}

// session is everything a command needs to run calculations
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *engine.Registry
}

func newSession(cmd *cobra.Command, global *globalOptions) (*session, error) {
	cfg, err := config.LoadConfig(global.configPath)
	if err != nil {
		return nil, err
	}
	if global.logLevel != "" {
		cfg.Logging.Level = global.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	registry := engine.NewRegistry(logger)
	if err := builtin.Register(registry); err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, registry: registry}, nil
}

func runCalculate(cmd *cobra.Command, global *globalOptions, opts *calculateOptions, planPath string) error {
	s, err := newSession(cmd, global)
	if err != nil {
		return err
	}
	defer s.logger.Sync() //nolint:errcheck

	pf, err := planio.ReadFile(planPath)
	if err != nil {
		return err
	}
	store := scene.NewStore()
	plan, err := planio.Load(pf, store, s.registry)
	if err != nil {
		return err
	}

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if s.cfg.Metrics.Enabled || opts.showMetrics {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
	}

	params, err := s.cfg.CalculatorParams()
	if err != nil {
		return err
	}
	calc := dosecalc.NewCalculator(store, s.registry, params,
		dosecalc.WithLogger(s.logger),
		dosecalc.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	if opts.beam != "" {
		if err := calculateBeam(ctx, cmd, store, calc, plan, opts.beam); err != nil {
			return err
		}
	} else {
		err := calc.CalculatePlanDose(ctx, plan.ID, func(fraction float64) {
			cmd.Printf("Progress: %3.0f%%\n", fraction*100)
		})
		if err != nil {
			return fmt.Errorf("plan %s: %w", plan.Name, err)
		}
		if err := reportPlan(cmd, store, plan, s.cfg, opts); err != nil {
			return err
		}
	}
	cmd.Printf("Completed in %.2f seconds\n", time.Since(start).Seconds())

	if reg != nil {
		return printMetrics(cmd, reg)
	}
	return nil
}

func calculateBeam(ctx context.Context, cmd *cobra.Command, store *scene.Store, calc *dosecalc.Calculator, plan *models.Plan, name string) error {
	beams, err := store.Beams(plan.ID)
	if err != nil {
		return err
	}
	for _, b := range beams {
		if b.Name != name {
			continue
		}
		dose, err := calc.CalculateBeamDose(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("beam %s: %w", name, err)
		}
		printStatistics(cmd, dose.Name, visualization.ComputeStatistics(dose, -1))
		return nil
	}
	return fmt.Errorf("plan %s has no beam %q", plan.Name, name)
}

func reportPlan(cmd *cobra.Command, store *scene.Store, plan *models.Plan, cfg *config.Config, opts *calculateOptions) error {
	total, err := store.Volume(plan.TotalDoseVolumeID)
	if err != nil {
		return err
	}

	threshold := -1.0
	if total.Display != nil && total.Display.ThresholdEnabled {
		threshold = total.Display.LowerThreshold
	}
	printStatistics(cmd, total.Name, visualization.ComputeStatistics(total, threshold))

	slicesDir := opts.slicesDir
	if slicesDir == "" && cfg.Output.ExportSlices {
		slicesDir = cfg.Output.SlicesDir
	}
	if slicesDir == "" {
		return nil
	}

	viewer := visualization.NewViewer(total)
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(slicesDir, axis)
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			return fmt.Errorf("save %s-axis slices: %w", axis, err)
		}
		cmd.Printf("Saved %s-axis slices to: %s\n", axis, axisDir)
	}
	return nil
}

func printStatistics(cmd *cobra.Command, name string, st visualization.DoseStatistics) {
	cmd.Printf("\nDose statistics for %s\n", name)
	cmd.Printf("=======================================\n")
	cmd.Printf("Voxels:  %d\n", st.Voxels)
	cmd.Printf("Min:     %.4f Gy\n", st.Min)
	cmd.Printf("Max:     %.4f Gy\n", st.Max)
	cmd.Printf("Mean:    %.4f Gy\n", st.Mean)
	cmd.Printf("StdDev:  %.4f Gy\n", st.StdDev)
	cmd.Printf("D98:     %.4f Gy\n", st.D98)
	cmd.Printf("D95:     %.4f Gy\n", st.D95)
	cmd.Printf("D50:     %.4f Gy\n", st.D50)
	cmd.Printf("D2:      %.4f Gy\n", st.D2)
}

func printMetrics(cmd *cobra.Command, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	cmd.Println()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
			return err
		}
	}
	return nil
}
