package cmd

import (
	"context"
	"fmt"

	"github.com/404wolf/firefuse/common"
	"github.com/spf13/cobra"
)

var (
	logFile  string
	logLevel string
	silent   bool
)

// validateLogLevel checks the --log-level flag before any command runs
func validateLogLevel() error {
	if _, ok := common.ParseLevel(logLevel); !ok {
		return fmt.Errorf("invalid log level: %s. Valid levels are: trace, debug, info, warn, error", logLevel)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "firefuse",
	Short: "Serve a FirePick controller as a virtual filesystem",
	Long: "Expose the live state of a FirePick camera and motion controller as " +
		"files: status, configuration, camera frames, vision pipelines and firmware I/O",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateLogLevel()
	},
}

func InitRoot() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (defaults to logFile of the mount config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "disable stdout logging")

	MountInit()
	ConfigInit()
}

func Execute() error {
	InitRoot()
	return rootCmd.ExecuteContext(context.Background())
}
