// Package cli implements the healthingest command line: one-off ingestion
// of files and directories against the configured store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/healthingest/internal/app"
	"github.com/JonMunkholm/healthingest/internal/config"
	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/logging"
	"github.com/JonMunkholm/healthingest/internal/pipeline"
)

var version = "dev"

// ingestFlags override the configured ingest policies when set.
type ingestFlags struct {
	strict     bool
	quarantine bool
	deepScan   bool
	domain     string
	encoding   string
	commit     bool
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.strict, "strict", false, "fail files on pre-scan warnings")
	cmd.Flags().BoolVar(&f.quarantine, "quarantine", false, "hold high-risk files instead of failing them")
	cmd.Flags().BoolVar(&f.deepScan, "deep-scan", true, "run content anomaly and binary sniffing checks")
	cmd.Flags().StringVar(&f.domain, "domain", "", "expected domain type (default: detect)")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "encoding to try first")
	cmd.Flags().BoolVar(&f.commit, "commit", false, "persist batches without unresolved duplicates")
}

// options layers explicitly set flags over the configured defaults.
func (f *ingestFlags) options(cmd *cobra.Command, a *app.App) (pipeline.Options, error) {
	opts := a.Options()
	opts.EncodingHint = f.encoding
	if cmd.Flags().Changed("strict") {
		opts.Strict = f.strict
	}
	if cmd.Flags().Changed("quarantine") {
		opts.AllowQuarantine = f.quarantine
	}
	if cmd.Flags().Changed("deep-scan") {
		opts.DeepScan = f.deepScan
	}
	domain, ok := core.ParseDomainType(f.domain)
	if !ok {
		return opts, fmt.Errorf("unknown domain %q", f.domain)
	}
	opts.ExpectedDomain = domain
	return opts, nil
}

func newRootCmd() *cobra.Command {
	var envFile, logLevel, logFormat string

	cmd := &cobra.Command{
		Use:           "healthingest",
		Short:         "Validate and ingest healthcare data files",
		Long:          "healthingest detects, parses, scans and validates CSV, XLSX, XML, JSON, HL7 v2 and FHIR files, and optionally persists the records.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
			} else {
				_ = godotenv.Load()
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "environment file to load (default: .env if present)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override LOG_FORMAT")

	setup := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		// Logs go to stderr so stdout carries only JSON.
		slog.SetDefault(logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format))
		return app.New(cmd.Context(), cfg)
	}

	cmd.AddCommand(newFileCmd(setup))
	cmd.AddCommand(newDirCmd(setup))
	cmd.AddCommand(newSchemasCmd(setup))
	return cmd
}

type setupFunc func(cmd *cobra.Command) (*app.App, error)

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

// Execute runs the CLI until done or interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
