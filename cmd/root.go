// Package cmd implements the ocrbase command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	infraconfig "github.com/jonesrussell/ocrbase/infrastructure/config"
	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/internal/bootstrap"
	"github.com/jonesrussell/ocrbase/internal/config"
)

// deps is filled by the root command before any subcommand runs.
type deps struct {
	cfgFile string
	debug   bool

	Config *config.Config
	Logger infralogger.Logger
}

func (d *deps) load() error {
	cfg, err := config.Load(d.cfgFile)
	if err != nil {
		return err
	}
	if d.debug {
		cfg.Service.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	log, err := bootstrap.CreateLogger(cfg)
	if err != nil {
		return err
	}
	d.Config, d.Logger = cfg, log
	return nil
}

// NewRootCommand builds the ocrbase command tree.
func NewRootCommand() *cobra.Command {
	d := &deps{}

	root := &cobra.Command{
		Use:           "ocrbase",
		Short:         "Document OCR and structured extraction API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Annotations:   map[string]string{annotationNoConfig: "true"},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationNoConfig] != "" {
				return nil
			}
			return d.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if d.Logger != nil {
				_ = d.Logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&d.cfgFile, "config", infraconfig.ConfigPath("config.yml"),
		"config file (env CONFIG_PATH)")
	root.PersistentFlags().BoolVar(&d.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		serveCommand(d),
		workerCommand(d),
		migrateCommand(d),
		versionCommand(),
	)
	return root
}

// Execute runs the CLI until it finishes or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

var version = "dev"

// annotationNoConfig marks commands that run without loading config.yml.
const annotationNoConfig = "ocrbase/no-config"

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version number",
		Annotations: map[string]string{annotationNoConfig: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("ocrbase version %s\n", version)
		},
	}
}
