package smoothing

import (
	"fmt"
	"math"
	"runtime"

	"laplacesmooth/pkg/boundary"
)

// DefaultLevels is the default pyramid depth. Three levels is a tuned default
// for typical field-map sizes, not a limit; any depth ≥ 1 is accepted.
const DefaultLevels = 3

// ProgressCallback reports the residual after every sweep. Level 0 is the native grid.
type ProgressCallback func(level, iteration int, residual float64)

// Params holds the solver configuration
type Params struct {
	// Epsilon is the convergence threshold on the residual norm, in field units
	// (the RMS size of one relaxation correction)
	Epsilon float64

	// MaxIterations caps the number of sweeps per pyramid level
	MaxIterations int

	// Levels is the pyramid depth used by RunPyramid (1 = native grid only)
	Levels int

	// Alpha is the relaxation step size. 0 selects the largest stable step
	// for the grid being solved; larger values than that are rejected.
	Alpha float64

	// BandWidth is the half-width in voxels of the graded blend band
	BandWidth float64

	// FreezeObserved keeps observed voxels at their input values (hard
	// inpainting). When false, observed voxels inside the blend band relax
	// as well (soft smoothing).
	FreezeObserved bool

	// NumCores is the number of goroutines used per sweep
	NumCores int

	// Progress is optional
	Progress ProgressCallback
}

// DefaultParams returns the default configuration
func DefaultParams() Params {
	return Params{
		Epsilon:        0.01,
		MaxIterations:  100,
		Levels:         DefaultLevels,
		BandWidth:      boundary.DefaultBandWidth,
		FreezeObserved: true,
		NumCores:       runtime.NumCPU(),
	}
}

// Validate checks parameter ranges that do not depend on the grid
func (p Params) Validate() error {
	switch {
	case p.Epsilon < 0 || math.IsNaN(p.Epsilon):
		return fmt.Errorf("%w: epsilon %g", ErrInvalidParams, p.Epsilon)
	case p.MaxIterations < 0:
		return fmt.Errorf("%w: maxIterations %d", ErrInvalidParams, p.MaxIterations)
	case p.Levels < 1:
		return fmt.Errorf("%w: levels %d", ErrInvalidParams, p.Levels)
	case p.Alpha < 0 || math.IsNaN(p.Alpha):
		return fmt.Errorf("%w: alpha %g", ErrUnstableStep, p.Alpha)
	case p.BandWidth < 0:
		return fmt.Errorf("%w: bandWidth %g", ErrInvalidParams, p.BandWidth)
	}
	return nil
}
