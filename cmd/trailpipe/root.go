package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// errAuthFailures makes the process exit nonzero after every other input ran.
var errAuthFailures = errors.New("one or more inputs had no usable credentials")

var importFlags importOptions

var rootCmd = &cobra.Command{
	Use:   "trailpipe [flags] CONFIG",
	Short: "Import CloudTrail logs from S3 into log pipelines",
	Long: `Trailpipe - CloudTrail import

Trailpipe reads one day of CloudTrail log files for every configured
account, tags each record with its input type and static fields, and
forwards it to every configured output (redis, stdout, sqs, cloudwatch,
lambda, dynamodb).`,
	Example: `  trailpipe config.yaml                          # Import today (UTC)
  trailpipe --date 2024-03-05 config.yaml        # Import a specific day
  trailpipe --aws_role auditor config.toml       # Assume a role in every account
  trailpipe --workers 4 --debug config.json      # Parallel objects, verbose logs`,
	Args:          cobra.ExactArgs(1),
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := importFlags
		opts.ConfigPath = args[0]
		opts.Stdout = cmd.OutOrStdout()
		return runImport(cmd.Context(), opts)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Trailpipe {{.Version}}
`)

	flags := rootCmd.Flags()
	flags.StringVar(&importFlags.AWSKey, "aws_key", "", "AWS access key used for every input")
	flags.StringVar(&importFlags.AWSSecret, "aws_secret", "", "AWS secret key used for every input")
	flags.StringVar(&importFlags.AWSRole, "aws_role", "", "Role to assume in every input's account")
	flags.StringVar(&importFlags.Region, "aws_region", "us-east-1", "Region for inputs that set none")
	flags.StringVar(&importFlags.Date, "date", "", "Day to import, YYYY-MM-DD (default today, UTC)")
	flags.BoolVar(&importFlags.Debug, "debug", false, "Enable debug logging")
	flags.IntVar(&importFlags.Workers, "workers", 0, "Objects processed in parallel per input (default from config)")
}
