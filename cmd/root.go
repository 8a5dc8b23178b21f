// Package cmd implements the scorebot command line.
package cmd

import (
	"github.com/leighmacdonald/scorebot/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	runMode    string
)

var rootCmd = &cobra.Command{
	Use:   "scorebot",
	Short: "Follow a dedicated server match over rcon and its log file",
	Long: `scorebot connects to a HL/Source dedicated server over rcon, follows the
server log file and reports match events until the game is over.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute(version string) error {
	rootCmd.Version = version

	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path, defaults to scorebot.yaml in the user config dir")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&runMode, "mode", "", "override the configured run mode (release, debug)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(classifyCmd)
}

// loadSettings reads the config named by --config, or the default one,
// creating it with defaults on first run.
func loadSettings() (*config.Settings, error) {
	settings := config.NewSettings()

	if configFile != "" {
		if errRead := settings.ReadFilePath(configFile); errRead != nil {
			return nil, errors.Wrapf(errRead, "Failed to read %s", configFile)
		}
	} else if errRead := settings.ReadDefaultOrCreate(); errRead != nil {
		return nil, errors.Wrap(errRead, "Failed to read default config")
	}

	if logLevel != "" {
		settings.LogLevel = logLevel
	}

	if runMode != "" {
		settings.RunMode = config.RunMode(runMode)
	}

	if errValidate := settings.Validate(); errValidate != nil {
		return nil, errValidate
	}

	return settings, nil
}
