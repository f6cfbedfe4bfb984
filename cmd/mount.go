package cmd

import (
	"fmt"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse"
	"github.com/404wolf/firefuse/firefuse/firerest"
	"github.com/spf13/cobra"
)

var settingsFile string

// Mount flags and the viper keys they override
var mountFlagKeys = map[string]string{
	"config-path":      "configPath",
	"export-dir":       "exportDir",
	"camera-file":      "cameraFile",
	"camera-command":   "cameraCommand",
	"capture-interval": "captureInterval",
	"idle-period":      "idlePeriod",
	"monitor-duration": "monitorDuration",
	"firestep":         "firestepDevice",
	"max-handles":      "maxHandles",
	"auto-unmount":     "autoUnmount",
	"allow-other":      "allowOther",
	"fuse-debug":       "fuseDebug",
}

var mountCmd = &cobra.Command{
	Use:   "mount <directory>",
	Short: "Mount firefuse to a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := newViper(defaultSearchPaths...)
		if settingsFile != "" {
			v.SetConfigFile(settingsFile)
		}
		for flag, key := range mountFlagKeys {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return err
			}
		}

		config, err := LoadConfig(v)
		if err != nil {
			return fmt.Errorf("loading mount config: %w", err)
		}
		config.MountPoint = args[0]
		if logFile != "" {
			config.LogFile = logFile
		}

		client := common.NewClient(config, config.LogFile, logLevel, silent)
		configText, err := firerest.ReadText(client.Fs, config.ConfigPath)
		if err != nil {
			client.Logger.Errorw("Could not read config.json", "path", config.ConfigPath, "error", err)
			return err
		}

		root, err := firefuse.New(client, configText)
		if err != nil {
			client.Logger.Errorw("Invalid config.json", "path", config.ConfigPath, "error", err)
			return err
		}
		return root.Mount(cmd.Context(), func() {
			client.Logger.Infow("Mounted firefuse", "mountPoint", config.MountPoint, "config", config.ConfigPath)
		})
	},
}

func MountInit() {
	defaults := common.DefaultConfig()
	flags := mountCmd.Flags()

	flags.StringVar(&settingsFile, "settings", "", "firefuse.yaml to read instead of searching for one")
	flags.String("config-path", defaults.ConfigPath, "FireREST config.json served at /config.json")
	flags.String("export-dir", defaults.ExportDir, "directory saved images are mirrored into (empty disables)")
	flags.String("camera-file", "", "JPEG file to capture camera frames from")
	flags.String("camera-command", "", "command printing a JPEG camera frame to stdout")
	flags.Int("capture-interval", defaults.CaptureInterval, "milliseconds between camera captures")
	flags.Int("idle-period", defaults.IdlePeriod, "minimum milliseconds between idle recomputations")
	flags.Int("monitor-duration", defaults.MonitorDuration, "milliseconds monitor.jpg shows the last pipeline output")
	flags.String("firestep", "", "serial device of the FireStep firmware")
	flags.Int("max-handles", defaults.MaxHandles, "maximum simultaneously open snapshot handles (0 is unlimited)")
	flags.Bool("auto-unmount", defaults.AutoUnmountOnExit, "automatically unmount directory on exit")
	flags.Bool("allow-other", false, "allow other users to access the mount")
	flags.Bool("fuse-debug", false, "enable go fuse's debug mode")

	rootCmd.AddCommand(mountCmd)
}
