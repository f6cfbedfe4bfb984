// Package firerest decodes the FireREST config.json the filesystem serves at
// /config.json. The text itself is served verbatim; the decoded form drives
// which cameras, CVE pipelines and CNC drives exist.
package firerest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/jsonc"
)

// DefaultCamera is the camera used when the config names none
const DefaultCamera = "1"

type Config struct {
	CV  CVConfig               `json:"cv"`
	CNC map[string]DriveConfig `json:"cnc"`
}

type CVConfig struct {
	CameraMap map[string]CameraConfig `json:"camera_map"`
	CVEMap    map[string]CVEConfig    `json:"cve_map"`
}

type CameraConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CVEConfig is one configured vision pipeline
type CVEConfig struct {
	// Firesight is the pipeline definition, a JSON array of stages
	Firesight json.RawMessage `json:"firesight"`
	// Properties are the default pipeline arguments
	Properties json.RawMessage `json:"properties"`
}

// DriveConfig is one machine-control drive
type DriveConfig struct {
	// Serial is the device the drive's firmware listens on
	Serial string `json:"serial"`
}

// Parse decodes config text. Comments and trailing commas are tolerated and
// empty text yields an empty config.
func Parse(text string) (*Config, error) {
	config := &Config{}
	data := bytes.TrimSpace([]byte(text))
	if len(data) == 0 {
		return config, nil
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), config); err != nil {
		return nil, fmt.Errorf("parsing config.json: %w", err)
	}
	return config, nil
}

// Cameras returns the configured camera names, sorted. Without a camera map
// the default camera is used.
func (c *Config) Cameras() []string {
	if len(c.CV.CameraMap) == 0 {
		return []string{DefaultCamera}
	}
	return sortedKeys(c.CV.CameraMap)
}

// HasCamera reports whether name is a configured camera
func (c *Config) HasCamera(name string) bool {
	if len(c.CV.CameraMap) == 0 {
		return name == DefaultCamera
	}
	_, ok := c.CV.CameraMap[name]
	return ok
}

// CVENames returns the configured CVE pipeline names, sorted
func (c *Config) CVENames() []string {
	return sortedKeys(c.CV.CVEMap)
}

// CVE returns the configuration of the named pipeline. Unknown pipelines get
// an empty definition.
func (c *Config) CVE(name string) CVEConfig {
	cve := c.CV.CVEMap[name]
	if len(cve.Firesight) == 0 {
		cve.Firesight = json.RawMessage("[]")
	}
	if len(cve.Properties) == 0 {
		cve.Properties = json.RawMessage("{}")
	}
	return cve
}

// Drives returns the configured CNC drive names, sorted
func (c *Config) Drives() []string {
	return sortedKeys(c.CNC)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
