package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"beamdose/pkg/engine"
)

func newEnginesCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List the registered dose engines and their parameters",
		Long: `List every registered dose engine with its parameters, defaults and
bounds. Parameters are stored on beams as "<engine>.<parameter>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, global)
			if err != nil {
				return err
			}
			return listEngines(cmd, s.registry)
		},
	}
}

func listEngines(cmd *cobra.Command, registry *engine.Registry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, name := range registry.Names() {
		e, err := registry.Get(name)
		if err != nil {
			return err
		}
		schema, err := registry.Schema(name)
		if err != nil {
			return err
		}

		inverse := ""
		if engine.IsInverseCapable(e) {
			inverse = " (inverse capable)"
		}
		fmt.Fprintf(w, "%s%s\n", name, inverse)
		for _, spec := range schema.Specs() {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", schema.Key(spec.Name), spec.Kind, spec.Default, bounds(spec), spec.Description)
		}
	}
	return w.Flush()
}

func bounds(spec engine.ParameterSpec) string {
	switch {
	case spec.Kind == engine.ParamChoice:
		return "{" + strings.Join(spec.Choices, ", ") + "}"
	case spec.HasBounds:
		return fmt.Sprintf("[%g, %g]", spec.Min, spec.Max)
	default:
		return "-"
	}
}
