// Package config provides configuration loading and management for innerear.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Dataset describes where the CT volume and surface models live
	Dataset Dataset `yaml:"dataset"`

	// Display controls the window and the look of the scene
	Display Display `yaml:"display"`

	// Log controls logger level and encoding
	Log Log `yaml:"log"`
}

// Dataset selects between a fixed manifest of file names and discovery of
// the upstream atlas layout.
type Dataset struct {
	// Dir is the base directory. Empty means the working directory.
	Dir string `yaml:"dir"`

	// Mode is "manifest" or "discover".
	Mode string `yaml:"mode"`

	// VolumeFile is the CT volume file name used in manifest mode.
	VolumeFile string `yaml:"volumeFile"`

	// Structures lists the expected surface files in manifest mode.
	Structures []Structure `yaml:"structures"`

	// VolumeDir and ModelDir are relative to Dir and used in discover mode.
	VolumeDir string `yaml:"volumeDir"`
	ModelDir  string `yaml:"modelDir"`

	// VolumeExt and ModelExt are the file extensions matched in discover mode.
	VolumeExt string `yaml:"volumeExt"`
	ModelExt  string `yaml:"modelExt"`
}

// Structure is one expected surface file with optional display overrides.
type Structure struct {
	File string `yaml:"file"`
	Name string `yaml:"name,omitempty"`

	// Color is an RGB triple in [0,1]. Nil means use the palette.
	Color []float64 `yaml:"color,omitempty"`

	// Opacity in [0,1]. Nil means use the default rule.
	Opacity *float64 `yaml:"opacity,omitempty"`
}

// Display holds window and rendering settings.
type Display struct {
	Width       int       `yaml:"width"`
	Height      int       `yaml:"height"`
	Title       string    `yaml:"title"`
	Background  []float64 `yaml:"background"`
	Supersample int       `yaml:"supersample"`

	// ColorWindow and ColorLevel map CT intensities to gray on the cutting planes.
	ColorWindow float64 `yaml:"colorWindow"`
	ColorLevel  float64 `yaml:"colorLevel"`

	// Palette is cycled by structure index when a structure has no color.
	Palette []NamedColor `yaml:"palette"`

	// ReducedOpacity lists file names drawn at ReducedOpacityValue.
	ReducedOpacity      []string `yaml:"reducedOpacity"`
	ReducedOpacityValue float64  `yaml:"reducedOpacityValue"`

	// SnapshotDir receives snapshot and slice exports from the viewer.
	SnapshotDir string `yaml:"snapshotDir"`
}

// NamedColor is a palette entry.
type NamedColor struct {
	Name string     `yaml:"name"`
	RGB  [3]float64 `yaml:"rgb"`
}

// Log configures the zap logger.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is console or json.
	Format string `yaml:"format"`
}

const (
	ModeManifest = "manifest"
	ModeDiscover = "discover"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Dataset.Mode = ModeManifest
	cfg.Dataset.VolumeFile = "volume.ct"
	cfg.Dataset.Structures = []Structure{
		{File: "cochlea.mesh", Name: "Cochlea"},
		{File: "canal_lateral.mesh", Name: "Lateral Canal"},
		{File: "canal_posterior.mesh", Name: "Posterior Canal"},
		{File: "canal_superior.mesh", Name: "Superior Canal"},
	}
	// Layout of the inner-ear-2018-02 atlas zip
	cfg.Dataset.VolumeDir = filepath.Join("inner-ear-2018-02", "image-volumes")
	cfg.Dataset.ModelDir = filepath.Join("inner-ear-2018-02", "models")
	cfg.Dataset.VolumeExt = ".nrrd"
	cfg.Dataset.ModelExt = ".vtk"

	cfg.Display.Width = 800
	cfg.Display.Height = 800
	cfg.Display.Title = "Inner Ear"
	cfg.Display.Background = []float64{0, 0, 0}
	cfg.Display.Supersample = 1
	cfg.Display.ColorWindow = 2000
	cfg.Display.ColorLevel = 1000
	cfg.Display.Palette = DefaultPalette()
	cfg.Display.ReducedOpacity = []string{
		"Model_3_Temporal_Bone.vtk",
		"Model_21_Internal_Jugular_Vein.vtk",
		"Model_24_Internal_Carotid_Artery.vtk",
	}
	cfg.Display.ReducedOpacityValue = 0.1
	cfg.Display.SnapshotDir = "snapshots"

	cfg.Log.Level = "info"
	cfg.Log.Format = "console"

	return cfg
}

// DefaultPalette returns the eight structure colors in cycle order.
func DefaultPalette() []NamedColor {
	return []NamedColor{
		{Name: "Light Green", RGB: [3]float64{0.6, 1.0, 0.6}},
		{Name: "Green", RGB: [3]float64{0.0, 1.0, 0.0}},
		{Name: "Blue", RGB: [3]float64{0.0, 0.0, 1.0}},
		{Name: "Gray", RGB: [3]float64{0.5, 0.5, 0.5}},
		{Name: "Light Blue", RGB: [3]float64{0.6, 0.8, 1.0}},
		{Name: "Pink", RGB: [3]float64{1.0, 0.7, 0.7}},
		{Name: "Red", RGB: [3]float64{1.0, 0.0, 0.0}},
		{Name: "Brownish", RGB: [3]float64{0.6, 0.4, 0.2}},
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A manifest given in the file replaces the default one instead of merging into it
	var probe struct {
		Dataset struct {
			Structures yaml.Node `yaml:"structures"`
		} `yaml:"dataset"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if probe.Dataset.Structures.Kind != 0 {
		cfg.Dataset.Structures = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Dataset.Mode {
	case ModeManifest:
		if c.Dataset.VolumeFile == "" {
			return errors.New("dataset.volumeFile is required in manifest mode")
		}
		if len(c.Dataset.Structures) == 0 {
			return errors.New("dataset.structures must list at least one file in manifest mode")
		}
		for i, s := range c.Dataset.Structures {
			if s.File == "" {
				return fmt.Errorf("dataset.structures[%d].file is empty", i)
			}
			if s.Color != nil && len(s.Color) != 3 {
				return fmt.Errorf("dataset.structures[%d].color must have 3 components", i)
			}
			if s.Opacity != nil && (*s.Opacity < 0 || *s.Opacity > 1) {
				return fmt.Errorf("dataset.structures[%d].opacity must be within [0,1]", i)
			}
		}
	case ModeDiscover:
		if c.Dataset.VolumeDir == "" || c.Dataset.ModelDir == "" {
			return errors.New("dataset.volumeDir and dataset.modelDir are required in discover mode")
		}
	default:
		return fmt.Errorf("unknown dataset.mode %q", c.Dataset.Mode)
	}

	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.Supersample < 1 {
		return fmt.Errorf("display.supersample must be at least 1, got %d", c.Display.Supersample)
	}
	if c.Display.ColorWindow <= 0 {
		return fmt.Errorf("display.colorWindow must be positive, got %g", c.Display.ColorWindow)
	}
	if len(c.Display.Palette) == 0 {
		return errors.New("display.palette must not be empty")
	}
	if len(c.Display.Background) != 3 {
		return errors.New("display.background must have 3 components")
	}

	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
