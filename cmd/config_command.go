package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/conneroisu/ocrwatch/internal/config"
)

var (
	configShowFormat string
	configInitPath   string
	configOverwrite  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after flags, environment variables, the
configuration file and defaults have been merged and resolved.

Examples:
  ocrwatch config show -i ./inbox
  OCR_WORKERS=8 ocrwatch config show -i ./inbox --format toml`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and report warnings",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a configuration file holding every key with its default value.
The format follows the file extension: .toml, .yaml/.yml or .json.

Examples:
  ocrwatch config init
  ocrwatch config init --path ~/.config/ocrwatch/.ocrwatch.yaml`,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd, configInitCmd)

	addFormatFlag(configShowCmd, &configShowFormat, formatYAML, formatTOML, formatJSON)
	configInitCmd.Flags().StringVarP(&configInitPath, "path", "p", config.ConfigFileName+".toml", "Destination for the configuration file")
	configInitCmd.Flags().BoolVar(&configOverwrite, "overwrite", false, "Overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return writeSettings(cmd.OutOrStdout(), cfg.Settings(), configShowFormat)
}

func writeSettings(out io.Writer, settings map[string]interface{}, format string) error {
	switch format {
	case formatYAML:
		return writeYAML(out, settings)
	case formatJSON:
		return writeJSON(out, settings)
	case formatTOML:
		data, err := toml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("encoding toml: %w", err)
		}
		_, err = out.Write(data)
		return err
	default:
		return unsupportedFormat(format, formatYAML, formatTOML, formatJSON)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	validation := cfg.Validation()
	if validation.HasWarnings() {
		fmt.Fprint(out, validation.String())
		return nil
	}
	fmt.Fprintln(out, "Configuration is valid")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	target := strings.TrimSpace(configInitPath)
	if target == "" {
		return fmt.Errorf("--path cannot be empty")
	}

	format, err := formatForPath(target)
	if err != nil {
		return err
	}

	if !configOverwrite {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("check config path: %w", err)
		}
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory %q: %w", dir, err)
		}
	}

	sample := config.Defaults()
	sample.Input.Dir = "./inbox"
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if err := writeSettings(f, sample.Settings(), format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
	return nil
}

func formatForPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return formatTOML, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".json":
		return formatJSON, nil
	default:
		return "", fmt.Errorf("cannot infer the format of %s: use a .toml, .yaml or .json extension", path)
	}
}
