// Package config provides configuration loading and management for laplacesmooth.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"laplacesmooth/internal/models"
	"laplacesmooth/pkg/smoothing"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Solver parameters
	Solver struct {
		// NumCores specifies how many goroutines share each relaxation sweep
		NumCores int `yaml:"numCores"`

		// Epsilon is the residual threshold for convergence, in field units
		Epsilon float64 `yaml:"epsilon"`

		// MaxIterations caps the number of sweeps per pyramid level
		MaxIterations int `yaml:"maxIterations"`

		// Levels is the pyramid depth (1 disables the pyramid)
		Levels int `yaml:"levels"`

		// Alpha is the step size; 0 selects the largest stable step
		Alpha float64 `yaml:"alpha"`

		// BandWidth is the half-width in voxels of the blend band
		BandWidth float64 `yaml:"bandWidth"`

		// FreezeObserved keeps observed voxels unchanged
		FreezeObserved bool `yaml:"freezeObserved"`
	} `yaml:"solver"`

	// Input parameters
	Input struct {
		// SliceSpacing is the voxel size in mm assigned to JPEG slice stacks,
		// whose files carry no geometry
		SliceSpacing [3]float64 `yaml:"sliceSpacing"`

		// Workers bounds concurrent slice decoding
		Workers int `yaml:"workers"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults writes the solution of every pyramid level
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where level solutions are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// ConvergencePlot is the path of the residual plot; empty disables it
		ConvergencePlot string `yaml:"convergencePlot"`

		// Verbose prints the residual after every sweep
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	defaults := smoothing.DefaultParams()
	cfg.Solver.NumCores = runtime.NumCPU()
	cfg.Solver.Epsilon = defaults.Epsilon
	cfg.Solver.MaxIterations = defaults.MaxIterations
	cfg.Solver.Levels = defaults.Levels
	cfg.Solver.Alpha = defaults.Alpha
	cfg.Solver.BandWidth = defaults.BandWidth
	cfg.Solver.FreezeObserved = defaults.FreezeObserved

	cfg.Input.SliceSpacing = [3]float64{1, 1, 1}
	cfg.Input.Workers = runtime.NumCPU()

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks the configuration for values the solver would reject
func (c *Config) Validate() error {
	if c.Solver.NumCores < 0 {
		return fmt.Errorf("numCores must be non-negative, got %d", c.Solver.NumCores)
	}
	for i, s := range c.Input.SliceSpacing {
		if s <= 0 {
			return fmt.Errorf("sliceSpacing[%d] must be positive, got %g", i, s)
		}
	}
	if c.Output.SaveIntermediaryResults && c.Output.IntermediaryDir == "" {
		return fmt.Errorf("intermediaryDir is required when saving intermediary results")
	}
	return c.SmoothingParams().Validate()
}

// SmoothingParams maps the solver section to smoothing parameters
func (c *Config) SmoothingParams() smoothing.Params {
	p := smoothing.DefaultParams()
	p.Epsilon = c.Solver.Epsilon
	p.MaxIterations = c.Solver.MaxIterations
	p.Levels = c.Solver.Levels
	p.Alpha = c.Solver.Alpha
	p.BandWidth = c.Solver.BandWidth
	p.FreezeObserved = c.Solver.FreezeObserved
	if c.Solver.NumCores > 0 {
		p.NumCores = c.Solver.NumCores
	}
	return p
}

// SliceSpacing returns the configured slice stack voxel size
func (c *Config) SliceSpacing() models.Spacing {
	s := c.Input.SliceSpacing
	return models.Spacing{X: s[0], Y: s[1], Z: s[2]}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
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
