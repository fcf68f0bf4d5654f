package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"genrelay/internal/domain"
)

// Version is set at build time.
var Version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "genrelay",
		Short: "genrelay - multi-provider generation dispatcher",
		Long: `genrelay sends a generation request to the first provider in a
preference chain that can serve it, retrying transient failures and falling
back to the next provider when one gives up.

Run 'genrelay doctor' to see which providers are usable with the current
environment, or 'genrelay serve' to expose the dispatcher over HTTP.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file path (default $GENRELAY_CONFIG or ./genrelay.yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override the configured log level (debug|info|warn|error)")

	root.AddCommand(
		newGenerateCmd(g),
		newServeCmd(g),
		newChainCmd(g),
		newDoctorCmd(g),
		newEncryptCmd(),
	)
	return root
}

// resolveConfigPath picks the config file: flag, then GENRELAY_CONFIG, then
// ./genrelay.yaml.
func (g *globalFlags) resolveConfigPath() string {
	if g.configPath != "" {
		return g.configPath
	}
	if p := os.Getenv("GENRELAY_CONFIG"); p != "" {
		return p
	}
	return "genrelay.yaml"
}

// Exit codes: 1 generic, 2 bad input or configuration, 3 every provider failed,
// 4 deadline.
func exitCode(err error) int {
	var agg *domain.AggregateFailure
	switch {
	case errors.As(err, &agg) && agg.TimedOut:
		return 4
	case errors.As(err, &agg):
		return 3
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrConfiguration), errors.Is(err, domain.ErrConfigLoad):
		return 2
	default:
		return 1
	}
}
