package cmd

import (
	"errors"
	"fmt"

	common "github.com/404wolf/firefuse/common"
	"github.com/spf13/viper"
)

// Directories searched for firefuse.yaml, in order
var defaultSearchPaths = []string{".", "$HOME/.config/firefuse", "/etc/firefuse"}

// newViper creates a viper instance seeded with the default mount
// configuration. Values from firefuse.yaml in searchPaths and FIREFUSE_*
// environment variables override the defaults.
func newViper(searchPaths ...string) *viper.Viper {
	v := viper.New()

	defaults := common.DefaultConfig()
	v.SetDefault("mountPoint", defaults.MountPoint)
	v.SetDefault("configPath", defaults.ConfigPath)
	v.SetDefault("logFile", defaults.LogFile)
	v.SetDefault("exportDir", defaults.ExportDir)
	v.SetDefault("cameraFile", defaults.CameraFile)
	v.SetDefault("cameraCommand", defaults.CameraCommand)
	v.SetDefault("captureInterval", defaults.CaptureInterval)
	v.SetDefault("idlePeriod", defaults.IdlePeriod)
	v.SetDefault("monitorDuration", defaults.MonitorDuration)
	v.SetDefault("firestepDevice", defaults.FirestepDevice)
	v.SetDefault("maxHandles", defaults.MaxHandles)
	v.SetDefault("autoUnmount", defaults.AutoUnmountOnExit)
	v.SetDefault("allowOther", defaults.AllowOther)
	v.SetDefault("fuseDebug", defaults.GoFuseDebug)

	v.SetConfigName("firefuse")
	v.SetConfigType("yaml")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("FIREFUSE")
	v.AutomaticEnv()
	return v
}

// LoadConfig reads firefuse.yaml, if there is one, and maps everything v knows
// onto a FirefuseConfig.
func LoadConfig(v *viper.Viper) (common.FirefuseConfig, error) {
	var config common.FirefuseConfig
	if err := v.ReadInConfig(); err != nil {
		// It's okay if there's no config file
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, err
		}
	}
	if err := v.Unmarshal(&config); err != nil {
		return config, err
	}
	if err := validateConfig(config); err != nil {
		return config, err
	}
	return config, nil
}

// validateConfig rejects durations the background tasks cannot run with
func validateConfig(config common.FirefuseConfig) error {
	if config.CaptureInterval <= 0 {
		return fmt.Errorf("captureInterval must be positive, got %d", config.CaptureInterval)
	}
	if config.IdlePeriod < 0 {
		return fmt.Errorf("idlePeriod must not be negative, got %d", config.IdlePeriod)
	}
	if config.MonitorDuration < 0 {
		return fmt.Errorf("monitorDuration must not be negative, got %d", config.MonitorDuration)
	}
	return nil
}
