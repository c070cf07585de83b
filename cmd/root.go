// Package cmd provides the command-line interface for ocrwatch.
//
// Configuration System:
//
//	Values are resolved with the following precedence:
//	1. Command-line flags (--input-dir, --workers, etc.) - highest priority
//	2. Environment variables (OCRWATCH_INPUT_DIR, OCR_INPUT_DIRECTORY, etc.)
//	3. Configuration file (.ocrwatch.yaml or .ocrwatch.toml)
//	4. Built-in defaults - lowest priority
//
// Environment Variables:
//
//	OCRWATCH_CONFIG_FILE: Path to a configuration file
//	OCR_INPUT_DIRECTORY:  Directory to watch
//	OCR_OUTPUT_DIRECTORY: Directory receiving the output pairs
//	OCR_WORKERS:          Number of files processed concurrently
//	And every key following the OCRWATCH_<SECTION>_<OPTION> pattern
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/ocrwatch/internal/config"
)

var (
	cfgFile string

	// configErr holds a failure to read an explicitly named or malformed
	// configuration file. It is reported by the first command that needs
	// the configuration.
	configErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ocrwatch",
	Short: "Watch a directory and turn incoming PDFs into searchable, base64 encoded copies",
	Long: `ocrwatch watches an input directory for new PDF files. Each file is
processed once it has stopped growing: ocrmypdf adds a text layer when it is
installed, otherwise the original bytes are passed through. Two files are
written atomically to the output directory for every input:

  name_ocr.pdf     the processed (or original) document
  name.base64      the same bytes, base64 encoded

Running ocrwatch without a subcommand is the same as "ocrwatch watch".

Quick Start:
  ocrwatch -i ./inbox                     Watch ./inbox, write to ./inbox/base64
  ocrwatch scan -i ./inbox -o ./out       Process existing files and exit
  ocrwatch doctor -i ./inbox              Check the environment
  ocrwatch config show --format toml      Print the effective configuration`,
	SilenceUsage: true,
	RunE:         runWatch,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .ocrwatch.yaml, can also use OCRWATCH_CONFIG_FILE env var)")
	addPipelineFlags(rootCmd.PersistentFlags())
	if err := bindPipelineFlags(viper.GetViper(), rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

// initConfig registers defaults and environment bindings, then reads the
// configuration file if there is one.
//
// Configuration file lookup (highest to lowest):
//  1. --config flag
//  2. OCRWATCH_CONFIG_FILE environment variable
//  3. .ocrwatch.{yaml,yml,toml,json} in the current directory, then in $HOME
func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil {
		configErr = err
		return
	}

	explicit := true
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		v.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(filepath.Join(home, ".config", "ocrwatch"))
		}
		v.SetConfigName(config.ConfigFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("reading config file: %w", err)
		}
		return
	}
	fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
}

// loadConfig applies the flags that do not map one-to-one onto a key and
// returns the validated configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	v := viper.GetViper()
	applyFlagOverrides(v, cmd.Flags())
	return config.LoadFrom(v)
}
