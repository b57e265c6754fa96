package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"beamdose/pkg/config"
	"beamdose/pkg/engine/builtin"
	"beamdose/pkg/planio"
)

func newInitConfigCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "beamdose.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := refuseOverwrite(path, force); err != nil {
				return err
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			cmd.Printf("Default configuration written to: %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func newExamplePlanCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "example-plan <path>",
		Short: "Write an example two-beam plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := refuseOverwrite(args[0], force); err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if err := planio.Write(f, examplePlan()); err != nil {
				return err
			}
			cmd.Printf("Example plan written to: %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func refuseOverwrite(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return nil
}

func examplePlan() *planio.PlanFile {
	half := 0.5
	return &planio.PlanFile{
		Name:         "Example",
		Engine:       builtin.GaussianBeamName,
		Prescription: 2.0,
		Reference: planio.ReferenceSpec{
			Name:       "CT",
			Dimensions: [3]int{41, 41, 41},
			Spacing:    [3]float64{2.5, 2.5, 2.5},
			Origin:     [3]float64{-50, -50, -50},
		},
		Beams: []planio.BeamSpec{
			{Name: "AP", Weight: &half, Gantry: 0, Parameters: map[string]string{"PeakDose": "2.0"}},
			{Name: "PA", Weight: &half, Gantry: 180, Parameters: map[string]string{"PeakDose": "2.0"}},
		},
	}
}
