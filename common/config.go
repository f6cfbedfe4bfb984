package common

// FirefuseConfig configures one mount. The yaml and mapstructure keys are the
// keys of firefuse.yaml; lc tags become the comments of `firefuse config`.
type FirefuseConfig struct {
	// The root directory of the mounted firefuse filesystem.
	MountPoint string `yaml:"mountPoint" mapstructure:"mountPoint" lc:"set by the mount argument"`

	// Path of the FireREST config.json served at /config.json
	ConfigPath string `yaml:"configPath" mapstructure:"configPath" lc:"served verbatim at /config.json"`

	// Log file that /firelog points readers to
	LogFile string `yaml:"logFile" mapstructure:"logFile" lc:"also the target of --log-file"`

	// Directory saved images are mirrored into. Empty disables exporting.
	ExportDir string `yaml:"exportDir" mapstructure:"exportDir" lc:"empty disables exporting saved.png"`

	// Read camera frames from this JPEG file on every capture
	CameraFile string `yaml:"cameraFile" mapstructure:"cameraFile" lc:"JPEG file re-read on every capture"`

	// Capture camera frames by running this command and reading its stdout
	CameraCommand string `yaml:"cameraCommand" mapstructure:"cameraCommand" lc:"command printing one JPEG to stdout"`

	// How often the camera is sampled, in milliseconds
	CaptureInterval int `yaml:"captureInterval" mapstructure:"captureInterval" lc:"milliseconds"`

	// Minimum milliseconds between idle recomputations of derived images
	IdlePeriod int `yaml:"idlePeriod" mapstructure:"idlePeriod" lc:"milliseconds"`

	// How long monitor.jpg keeps showing the last pipeline output, in milliseconds
	MonitorDuration int `yaml:"monitorDuration" mapstructure:"monitorDuration" lc:"milliseconds"`

	// Serial device of the FireStep firmware. Empty uses a null link.
	FirestepDevice string `yaml:"firestepDevice" mapstructure:"firestepDevice" lc:"empty uses a null link"`

	// Upper bound on simultaneously open snapshot handles
	MaxHandles int `yaml:"maxHandles" mapstructure:"maxHandles" lc:"0 is unlimited"`

	// Automatically unmount the directory you mounted to on exit
	AutoUnmountOnExit bool `yaml:"autoUnmount" mapstructure:"autoUnmount"`

	// Let users other than the mounting user access the filesystem
	AllowOther bool `yaml:"allowOther" mapstructure:"allowOther" lc:"needs user_allow_other in /etc/fuse.conf"`

	// Whether to enable go fuse's debug mode
	GoFuseDebug bool `yaml:"fuseDebug" mapstructure:"fuseDebug"`
}

// DefaultConfig returns the configuration used when no flags, environment
// variables or config file override a value.
func DefaultConfig() FirefuseConfig {
	return FirefuseConfig{
		ConfigPath:        "/var/firefuse/config.json",
		LogFile:           "/var/log/firefuse.log",
		ExportDir:         "/var/firefuse",
		CaptureInterval:   500,
		IdlePeriod:        5000,
		MonitorDuration:   3000,
		MaxHandles:        1024,
		AutoUnmountOnExit: true,
	}
}
