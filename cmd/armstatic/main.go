// Command armstatic is the thin driver named in spec.md §6.3: it
// loads a binary, runs the static analysis, and writes the line-
// oriented report alongside it. Flag parsing follows the teacher's
// cmd/trc_pkt_lister Config-struct-plus-RunE shape, generalized from
// "flag" to cobra per the pack's recurring cobra-CLI convention.
package main

import (
	"fmt"
	"os"

	"armstatic"
	"armstatic/binary"
	"armstatic/report"

	"github.com/spf13/cobra"
)

// Config holds this command's resolved flags.
type Config struct {
	BinaryPath string
	OutputPath string
	Verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &Config{}

	cmd := &cobra.Command{
		Use:   "armstatic <path-to-binary>",
		Short: "Static control-flow analysis for ARM AArch32/Thumb/Thumb2 binaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.BinaryPath = args[0]
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfg.OutputPath, "output", "o", "", "static-file output path (default: <path-to-binary>.static)")
	cmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "log debug-level diagnostics (written to stdout)")
	return cmd
}

// run implements §6.3: load the binary, run analysis, write the
// static file. Any fatal error is returned for Execute to report on
// stderr with a nonzero exit code.
func run(cfg *Config) error {
	minLevel := armstatic.SeverityInfo
	if cfg.Verbose {
		minLevel = armstatic.SeverityDebug
	}
	log := armstatic.NewStdLogger(minLevel)

	b, err := binary.Open(cfg.BinaryPath)
	if err != nil {
		log.Error(err)
		return fmt.Errorf("opening %s: %w", cfg.BinaryPath, err)
	}
	defer b.Close()
	b.WithLogger(log)

	if _, err := b.WithFunctions(); err != nil {
		log.Error(err)
		return fmt.Errorf("analyzing %s: %w", cfg.BinaryPath, err)
	}

	outPath := cfg.OutputPath
	if outPath == "" {
		outPath = cfg.BinaryPath + ".static"
	}
	if err := report.WriteFile(outPath, b); err != nil {
		log.Error(err)
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	log.Logf(armstatic.SeverityInfo, "wrote %s", outPath)
	return nil
}
