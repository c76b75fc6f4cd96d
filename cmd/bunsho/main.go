// Package main is the Bunsho CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/cli"
	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/bunsho/config.yaml"

var (
	flagConfig    string
	flagDotEnv    string
	flagDebug     bool
	flagOutput    string
	flagServerURL string
)

var rootCmd = &cobra.Command{
	Use:   "bunsho",
	Short: "Local document knowledge index with block-level search and rendering",
	Long: `bunsho shreds markdown and office documents into addressable blocks,
indexes them for keyword and semantic search, and renders documents back
either verbatim or with unmatched blocks collapsed into placeholders.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.ParseFormat(flagOutput); err != nil {
			return err
		}
		return config.LoadDotEnv(flagDotEnv)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bunsho version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDotEnv, "env-file", ".env", "dotenv file with BUNSHO_* overrides (ignored when missing)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text or json")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// outputFormat returns the validated --output value.
func outputFormat() cli.OutputFormat {
	f, _ := cli.ParseFormat(flagOutput)
	return f
}

// loadConfig loads config from path. When path is the default, a config.yaml
// in the working directory takes precedence, and when neither exists the
// built-in defaults are used. It returns the path actually loaded, empty for
// defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger builds the logger for cfg, honoring --debug.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return utils.NewLoggerWithOptions(utils.LogOptions{
		Debug:      cfg.Debug || flagDebug,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}

// setup loads config and logger and opens every component.
func setup() (*config.Config, string, *zap.Logger, *Components, error) {
	cfg, path, err := loadConfig(flagConfig)
	if err != nil {
		return nil, "", nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, "", nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path))
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, "", nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return cfg, path, logger, components, nil
}
