package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ModeManifest, cfg.Dataset.Mode)
	assert.Equal(t, "volume.ct", cfg.Dataset.VolumeFile)
	require.Len(t, cfg.Dataset.Structures, 4)
	assert.Equal(t, "cochlea.mesh", cfg.Dataset.Structures[0].File)

	assert.Equal(t, 800, cfg.Display.Width)
	assert.Equal(t, 800, cfg.Display.Height)
	assert.Equal(t, 2000.0, cfg.Display.ColorWindow)
	assert.Equal(t, 1000.0, cfg.Display.ColorLevel)
	assert.Len(t, cfg.Display.Palette, 8)
	assert.Equal(t, 0.1, cfg.Display.ReducedOpacityValue)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "innerear.yaml")
	content := `
dataset:
  dir: /data/ear
  structures:
    - file: only.vtk
      color: [1, 0, 0]
      opacity: 0.5
display:
  width: 640
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/ear", cfg.Dataset.Dir)
	require.Len(t, cfg.Dataset.Structures, 1, "manifest in file replaces the default one")
	assert.Equal(t, "only.vtk", cfg.Dataset.Structures[0].File)
	assert.Equal(t, []float64{1, 0, 0}, cfg.Dataset.Structures[0].Color)
	require.NotNil(t, cfg.Dataset.Structures[0].Opacity)
	assert.Equal(t, 0.5, *cfg.Dataset.Structures[0].Opacity)

	assert.Equal(t, 640, cfg.Display.Width)
	assert.Equal(t, 800, cfg.Display.Height, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Dataset.Mode = "guess" }},
		{"no volume file", func(c *Config) { c.Dataset.VolumeFile = "" }},
		{"empty manifest", func(c *Config) { c.Dataset.Structures = nil }},
		{"empty structure file", func(c *Config) { c.Dataset.Structures[0].File = "" }},
		{"short color", func(c *Config) { c.Dataset.Structures[0].Color = []float64{1} }},
		{"opacity out of range", func(c *Config) {
			o := 1.5
			c.Dataset.Structures[0].Opacity = &o
		}},
		{"discover without dirs", func(c *Config) {
			c.Dataset.Mode = ModeDiscover
			c.Dataset.ModelDir = ""
		}},
		{"zero width", func(c *Config) { c.Display.Width = 0 }},
		{"zero supersample", func(c *Config) { c.Display.Supersample = 0 }},
		{"zero window", func(c *Config) { c.Display.ColorWindow = 0 }},
		{"empty palette", func(c *Config) { c.Display.Palette = nil }},
		{"bad background", func(c *Config) { c.Display.Background = []float64{0} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "innerear.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
