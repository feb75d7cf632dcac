package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/trailpipe/internal/config"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate CONFIG",
	Short: "Check a configuration file without importing",
	Long: `Load and validate a configuration file.

Unknown input and output types are reported and ignored. The command fails
when no usable input or output remains.`,
	Example: `  trailpipe validate config.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE:    runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	inputs, outputs := cfg.Inputs(), cfg.Outputs()
	fmt.Fprintf(out, "%s: %d input(s), %d output(s)\n", args[0], len(inputs), len(outputs))
	for _, in := range inputs {
		target := in.Bucket
		if target == "" {
			target = "trail discovery"
		}
		fmt.Fprintf(out, "  input  %s account=%s %s\n", in.Type, in.Account, target)
	}
	for _, o := range outputs {
		fmt.Fprintf(out, "  output %s\n", o.Type)
	}
	return nil
}
