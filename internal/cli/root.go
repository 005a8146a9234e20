package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/raptscallions/storage/internal/config"
	"github.com/raptscallions/storage/internal/storage"
)

const version = "0.1.0-dev"

type rootOptions struct {
	cfgFile string
	verbose bool
}

// NewRootCmd builds the storagectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "storagectl",
		Short: "Manage objects in the configured storage backend",
		Long: `storagectl talks to the storage backend selected by STORAGE_BACKEND.

Backends are configured through STORAGE_* environment variables, optionally
seeded from a YAML file passed with --config. Environment variables win.

Upload a file:
  storagectl upload reports/q3.pdf ./q3.pdf

Serve local signed URLs:
  storagectl serve --addr :8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), opts.verbose)
			if opts.cfgFile != "" {
				config.SetConfigFile(opts.cfgFile)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "YAML config file (keys as env vars without the STORAGE_ prefix)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")

	cmd.AddCommand(
		newUploadCmd(),
		newDownloadCmd(),
		newDeleteCmd(),
		newExistsCmd(),
		newSignCmd(),
		newConfigCmd(),
		newBackendsCmd(),
		newServeCmd(),
	)

	return cmd
}

// Execute runs storagectl with os.Args.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// setupLogging configures zerolog based on verbosity.
func setupLogging(out io.Writer, verbose bool) {
	output := zerolog.ConsoleWriter{Out: out}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// openBackend resolves the configuration and returns the active backend.
func openBackend() (string, storage.Backend, error) {
	cfg, err := config.Get()
	if err != nil {
		return "", nil, err
	}

	ensureBuiltins()

	b, err := storage.GetBackend(cfg.Backend)
	if err != nil {
		return "", nil, err
	}
	return cfg.Backend, b, nil
}

func ensureBuiltins() {
	reg := storage.DefaultFactory().Registry()
	if !reg.Has(storage.BackendLocal) {
		storage.RegisterBuiltins(reg, config.Default())
	}
}
