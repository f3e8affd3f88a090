package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ghithu-reconciliation-service/cmd/ghithu/config"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	verbose      bool
	outputFormat string
	outputFile   string
	version      = "dev"
	commit       = "unknown"
	date         = "unknown"

	// initErr holds a config file failure until a command can report it
	// with the right exit code.
	initErr   error
	appConfig *config.AppConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ghithu",
	Short: "Water bill collection reconciliation",
	Long: `Ghithu reconciles the field collection ledger kept in Google Sheets
against the billing system, builds the weekly collection report, extracts
overdue debt for new assignments and serves the debt dashboard figures.

Examples:
  ghithu report --start 02/06/2025 --end 06/06/2025 --deadline 10/06/2025
  ghithu report --start 02/06/2025 --end 06/06/2025 --deadline 10/06/2025 --group "Sang Sơn" -f pdf -o tuan23.pdf
  ghithu filter --year 2025 --period 6 --dots 1,2 --min-periods 2 --min-amount 200000
  ghithu dashboard -f json
  ghithu outstanding debtors --op ">=" --periods 3
  ghithu version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// An interrupt cancels the running command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./ghithu.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "console", "output format: console, json, csv, xlsx, pdf")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file path (default: stdout)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads .env, the config file and GHITHU_* variables.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %s\n", err)
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			initErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("check the path given to --config and the YAML syntax")
			return
		}
	} else {
		viper.SetConfigName("ghithu")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/ghithu")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", viper.ConfigFileUsed(), err)
				return
			}
		}
	}

	if viper.GetBool("verbose") && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setup loads the configuration and installs the global logger before
// any command runs.
func setup(cmd *cobra.Command, args []string) error {
	if initErr != nil {
		return initErr
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(config.CreateLoggerConfig(cfg, verbose))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log.Output, err)
	}
	logger.SetGlobalLogger(log)
	appConfig = cfg
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
