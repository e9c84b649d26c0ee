// Package config provides configuration loading and management for voxelcarve.
// It handles loading configuration from YAML files and provides default values
// matching the calibrated blue-screen rig the carver was first tuned for.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"voxelcarve/internal/models"
	"voxelcarve/pkg/lattice"
)

// Output encodings understood by the grid writer.
const (
	EncodingASCII  = "ascii"
	EncodingBinary = "binary"
)

// Scalar field orderings understood by the grid writer.
const (
	OrderLattice = "lattice"
	OrderVTK     = "vtk"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input locations
	Input struct {
		// Projections is the file holding one 3x4 projection matrix per view
		Projections string `yaml:"projections"`

		// ProjectionVar names the variable to read from MAT-file projection sources
		ProjectionVar string `yaml:"projectionVar"`

		// ImagesDir is the directory (or .zip archive) holding the view images
		ImagesDir string `yaml:"imagesDir"`
	} `yaml:"input"`

	// Voxel lattice parameters
	Lattice struct {
		// Resolution is the number of samples along each axis
		Resolution int `yaml:"resolution"`

		// Scale multiplies the centered unit cube to fit the working volume
		Scale float64 `yaml:"scale"`

		// ZOffset shifts the grid along z to the rig's working distance
		ZOffset float64 `yaml:"zOffset"`
	} `yaml:"lattice"`

	// Silhouette extraction parameters
	Silhouette struct {
		// KeyColor is the background reference color in normalized RGB
		KeyColor [3]float64 `yaml:"keyColor,flow"`

		// Tolerance is the largest summed channel distance still treated as background
		Tolerance float64 `yaml:"tolerance"`

		// KernelSize is the side of the square structuring element for opening
		KernelSize int `yaml:"kernelSize"`

		// MaskChannel selects the color channel the mask is read from (0=R, 1=G, 2=B)
		MaskChannel int `yaml:"maskChannel"`
	} `yaml:"silhouette"`

	// Carving parameters
	Carving struct {
		// Cutoff is the vote count a voxel must strictly exceed to be occupied
		Cutoff float64 `yaml:"cutoff"`

		// NumWorkers specifies how many views are processed concurrently
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"carving"`

	// Output parameters
	Output struct {
		// File is the destination .vtr grid file
		File string `yaml:"file"`

		// Encoding is either "ascii" or "binary"
		Encoding string `yaml:"encoding"`

		// Order is either "lattice" (generation order) or "vtk" (x fastest)
		Order string `yaml:"order"`

		// SaveIntermediaryResults determines whether silhouettes, occupancy
		// slices and the vote histogram are written alongside the grid
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary results are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// SummaryFile, when set, receives the run summary as YAML
		SummaryFile string `yaml:"summaryFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Projections = "uploads_spacecarving/data/dino_Ps.mat"
	cfg.Input.ProjectionVar = "P"
	cfg.Input.ImagesDir = "uploads_spacecarving/data"

	cfg.Lattice.Resolution = 120
	cfg.Lattice.Scale = 0.2
	cfg.Lattice.ZOffset = -0.62

	cfg.Silhouette.KeyColor = [3]float64{0.0, 0.0, 0.75}
	cfg.Silhouette.Tolerance = 1.1
	cfg.Silhouette.KernelSize = 5
	cfg.Silhouette.MaskChannel = 0

	cfg.Carving.Cutoff = 25
	cfg.Carving.NumWorkers = runtime.NumCPU() // Use all available cores by default

	cfg.Output.File = "res_space/shape.vtr"
	cfg.Output.Encoding = EncodingASCII
	cfg.Output.Order = OrderLattice
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks that every parameter is usable. Failures wrap
// models.ErrConfiguration.
func (c *Config) Validate() error {
	if c.Lattice.Resolution < 2 || c.Lattice.Resolution > lattice.MaxResolution {
		return fmt.Errorf("%w: lattice resolution must be in [2, %d], got %d", models.ErrConfiguration, lattice.MaxResolution, c.Lattice.Resolution)
	}
	if !(c.Lattice.Scale > 0) || math.IsInf(c.Lattice.Scale, 0) {
		return fmt.Errorf("%w: lattice scale must be positive and finite, got %v", models.ErrConfiguration, c.Lattice.Scale)
	}
	if math.IsNaN(c.Lattice.ZOffset) || math.IsInf(c.Lattice.ZOffset, 0) {
		return fmt.Errorf("%w: lattice z offset must be finite", models.ErrConfiguration)
	}
	if c.Silhouette.KernelSize <= 0 {
		return fmt.Errorf("%w: kernel size must be positive, got %d", models.ErrConfiguration, c.Silhouette.KernelSize)
	}
	if c.Silhouette.Tolerance < 0 || math.IsNaN(c.Silhouette.Tolerance) {
		return fmt.Errorf("%w: tolerance must be non-negative, got %v", models.ErrConfiguration, c.Silhouette.Tolerance)
	}
	if c.Silhouette.MaskChannel < 0 || c.Silhouette.MaskChannel > 2 {
		return fmt.Errorf("%w: mask channel must be 0, 1 or 2, got %d", models.ErrConfiguration, c.Silhouette.MaskChannel)
	}
	if math.IsNaN(c.Carving.Cutoff) {
		return fmt.Errorf("%w: cutoff must be a number", models.ErrConfiguration)
	}
	if c.Carving.NumWorkers < 1 {
		return fmt.Errorf("%w: number of workers must be positive, got %d", models.ErrConfiguration, c.Carving.NumWorkers)
	}
	switch c.Output.Encoding {
	case EncodingASCII, EncodingBinary:
	default:
		return fmt.Errorf("%w: unknown output encoding %q", models.ErrConfiguration, c.Output.Encoding)
	}
	switch c.Output.Order {
	case OrderLattice, OrderVTK:
	default:
		return fmt.Errorf("%w: unknown output order %q", models.ErrConfiguration, c.Output.Order)
	}
	if c.Output.File == "" {
		return fmt.Errorf("%w: output file is required", models.ErrConfiguration)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Fields absent from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", models.ErrConfiguration, err)
	}

	return cfg, nil
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
