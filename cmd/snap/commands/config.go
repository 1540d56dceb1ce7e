package commands

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/thoreinstein/snap/internal/config"
	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/paths"
)

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage snap configuration",
	Long: `Manage snap configuration stored in $XDG_CONFIG_HOME/snap/config.yaml.

Without a subcommand, lists the effective configuration.`,
	Example: `  # Write a default config file
  snap config init

  # Show the effective configuration
  snap config

  # Get one value
  snap config get archive_dir`,
	RunE: runConfigList,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Long: `Write the default configuration as YAML. Without a path the file is written
to the default config location. An existing file is kept unless --force is
given.`,
	Example: `  # Default location
  snap config init

  # Project-local config
  snap config init ./config.yaml`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	RunE:        runConfigInit,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a single effective configuration value by key.

Supports dot notation for nested keys. Array values are printed one per line.`,
	Example: `  snap config get exclude
  snap config get exit_codes.identical`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration",
	Long:  `List the effective configuration, defaults and overrides applied, in YAML format.`,
	RunE:  runConfigList,
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := paths.ConfigFile()
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return snaperrors.NewUserError(errors.Newf("config file already exists at %s", path), "use --force to overwrite")
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	w := cmd.OutOrStdout()

	if !viper.IsSet(key) {
		return snaperrors.NewUserError(errors.Newf("unknown key %q", key), "run 'snap config list' to see all keys")
	}

	switch v := viper.Get(key).(type) {
	case []any:
		for _, item := range v {
			fmt.Fprintln(w, item)
		}
	case []string:
		for _, item := range v {
			fmt.Fprintln(w, item)
		}
	default:
		fmt.Fprintln(w, viper.GetString(key))
	}
	return nil
}

func runConfigList(cmd *cobra.Command, _ []string) error {
	data, err := yaml.Marshal(loaded)
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}
	if used := viper.ConfigFileUsed(); used != "" && !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}
