package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CameraFile is the YAML document listing the cameras to supervise.
type CameraFile struct {
	Cameras []Camera `yaml:"cameras"`
}

// Camera defines one supervised camera. Zero-valued overrides fall back to
// the environment-wide defaults.
type Camera struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`

	// ManifestProbe turns on the HEAD existence check for cameras whose
	// manifest is served as a plain file.
	ManifestProbe *bool `yaml:"manifest_probe"`

	StallTimeoutMs        int `yaml:"stall_timeout_ms"`
	HealthCheckIntervalMs int `yaml:"health_check_interval_ms"`
	MaxRetryAttempts      int `yaml:"max_retry_attempts"`
}

// IsEnabled reports whether the camera should be supervised. Cameras are
// enabled unless the file says otherwise.
func (c Camera) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoadCameras reads and validates the camera file at path.
func LoadCameras(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading camera file: %w", err)
	}
	return ParseCameras(data)
}

// ParseCameras parses a camera file body and returns the enabled cameras.
func ParseCameras(data []byte) ([]Camera, error) {
	var f CameraFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing camera file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera file: %w", err)
	}

	out := make([]Camera, 0, len(f.Cameras))
	for _, c := range f.Cameras {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Validate checks ids are present and unique.
func (f *CameraFile) Validate() error {
	if len(f.Cameras) == 0 {
		return errors.New("no cameras defined")
	}
	seen := make(map[string]bool, len(f.Cameras))
	for i, c := range f.Cameras {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("camera %d: id is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("camera %s: duplicate id", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// CamerasFromList builds cameras from a comma separated id list, used when
// no camera file is configured (CAMERA_IDS=1,2,3).
func CamerasFromList(list string) []Camera {
	var out []Camera
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, Camera{ID: id, Name: "camera " + id})
	}
	return out
}
