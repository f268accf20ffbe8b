package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/cockpit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the cockpit configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a commented default config file",
	Long: `Write the default configuration with comments. Without a path it goes to
.cockpit/config.yaml in the current directory. Existing files are kept
unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := localConfigPath
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		data, err := config.Render(cfg)
		if err != nil {
			return err
		}
		if used := configPath(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configSetLevelCmd = &cobra.Command{
	Use:       "set-level debug|info|warn|error",
	Short:     "Change the log level in the config file",
	Long:      `Change log.level in the config file. A running serve picks the change up without a restart.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"debug", "info", "warn", "error"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		level := strings.ToLower(args[0])
		if !slices.Contains(cmd.ValidArgs, level) {
			return fmt.Errorf("unknown log level %q", args[0])
		}
		section := cfg.Log
		section.Level = level
		path := configPath()
		if err := config.SaveSection(path, "log", section); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "log.level = %s in %s\n", level, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configSetLevelCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}
