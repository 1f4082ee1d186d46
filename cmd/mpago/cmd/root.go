// Package cmd implements the CLI commands for mpago.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mpago/mpago/internal/config"
	"github.com/mpago/mpago/internal/observability"
	"github.com/mpago/mpago/internal/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "mpago",
	Short:   "local publish/subscribe IPC substrate over named FIFOs",
	Version: version.Short(),
	Long: `mpago hosts named topics backed by FIFOs under a root directory,
accepting join requests from clients and fanning published records out to
every attached client with per-client backpressure.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./mpago.yaml, /etc/mpago/mpago.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("root", "", "topic root directory (overrides config)")

	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	mustBindPFlag("topic.root", rootCmd.PersistentFlags().Lookup("root"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mpago")
		viper.SetConfigType("yaml")
		viper.SetConfigName("mpago")
	}

	viper.SetEnvPrefix("MPAGO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig re-derives a *config.Config from the bound viper state, the
// way serve/inspect need it once cobra flags are parsed.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process-wide slog logger from the loaded config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	return observability.NewLogger(cfg)
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
