// Package smoothing fills missing regions of a 3D scalar field by relaxing a
// discrete Laplace equation from the observed voxels inwards, either directly
// on the native grid or coarse-to-fine over a resolution pyramid.
//
// The package is a pure transform: inputs are never modified and every run
// returns a freshly allocated volume owned by the caller.
package smoothing

import (
	"fmt"

	"laplacesmooth/internal/models"
	"laplacesmooth/pkg/boundary"
	"laplacesmooth/pkg/resampling"
	"laplacesmooth/pkg/stencil"
)

// Result is the outcome of a run
type Result struct {
	// Field is the smoothed volume on the input grid (or the target grid when one is set)
	Field *models.Volume

	// Residual, Iterations and Converged describe the native-level solve
	Residual   float64
	Iterations int
	Converged  bool

	// Levels lists every level that was solved, coarsest first
	Levels []LevelResult
}

// Smoother mirrors the configure-then-run lifecycle: set the input and masks,
// then call Run or RunPyramid any number of times
type Smoother struct {
	params    Params
	input     *models.Volume
	mask      *models.Volume
	inputMask *models.Volume
	target    *models.Volume
}

// New creates a smoother with the given parameters
func New(params Params) *Smoother {
	return &Smoother{params: params}
}

// SetInput sets the field to smooth and resets the validity mask to all-observed.
// Passing nil clears the input and the mask.
func (s *Smoother) SetInput(v *models.Volume) {
	s.input = v
	if v == nil {
		s.mask = nil
		return
	}
	mask := models.NewLike(v)
	mask.Fill(1)
	s.mask = mask
}

// SetMask sets the validity mask (1 = observed, 0 = missing)
func (s *Smoother) SetMask(mask *models.Volume) {
	s.mask = mask
}

// SetInputMask restricts the voxels the solver may overwrite
func (s *Smoother) SetInputMask(mask *models.Volume) {
	s.inputMask = mask
}

// SetTarget resamples results onto the grid of target. Pass nil to keep the input grid.
func (s *Smoother) SetTarget(target *models.Volume) {
	s.target = target
}

// Params returns the configured parameters
func (s *Smoother) Params() Params {
	return s.params
}

// Run solves on the native grid only
func (s *Smoother) Run() (*Result, error) {
	if s.input == nil {
		return nil, ErrNoInput
	}
	res, err := RunSingleLevel(s.input, s.mask, s.inputMask, s.params)
	return s.toTarget(res), err
}

// RunPyramid solves coarse-to-fine over s.params.Levels levels
func (s *Smoother) RunPyramid() (*Result, error) {
	if s.input == nil {
		return nil, ErrNoInput
	}
	res, err := RunPyramid(s.input, s.mask, s.inputMask, s.params)
	return s.toTarget(res), err
}

// MissingRegion returns a volume marking the voxels the current mask treats as
// missing, or nil when no input is set
func (s *Smoother) MissingRegion() *models.Volume {
	if s.mask == nil {
		return nil
	}
	region := models.NewLike(s.mask)
	for i, m := range s.mask.Data {
		if !boundary.IsValid(m) {
			region.Data[i] = 1
		}
	}
	return region
}

func (s *Smoother) toTarget(res *Result) *Result {
	if res == nil || res.Field == nil || s.target == nil {
		return res
	}
	res.Field = resampling.ResampleToGrid(res.Field, s.target)
	return res
}

// validate checks grids and parameters. mask may be nil (all observed);
// inputMask may be nil (all writable).
func validate(field, mask, inputMask *models.Volume, p Params) error {
	if field == nil {
		return ErrNoInput
	}
	if err := field.Validate(); err != nil {
		return fmt.Errorf("invalid field: %w", err)
	}
	if mask != nil {
		if err := models.CheckSameGrid("mask", field, mask); err != nil {
			return err
		}
	}
	if inputMask != nil {
		if err := models.CheckSameGrid("input mask", field, inputMask); err != nil {
			return err
		}
	}
	if err := p.Validate(); err != nil {
		return err
	}

	set, err := stencil.InitializeFactors(field.VoxelSize)
	if err != nil {
		return err
	}
	if p.Alpha > 0 && p.Alpha > set.MaxStableAlpha() {
		return fmt.Errorf("%w: alpha %g, bound %g", ErrUnstableStep, p.Alpha, set.MaxStableAlpha())
	}
	return nil
}

func hasValid(mask *models.Volume) bool {
	for _, m := range mask.Data {
		if boundary.IsValid(m) {
			return true
		}
	}
	return false
}

func allValid(field *models.Volume) *models.Volume {
	mask := models.NewLike(field)
	mask.Fill(1)
	return mask
}

// RunSingleLevel solves on the native grid. When the mask has no observed
// voxel the result holds an unmodified copy of field and the error wraps
// ErrNoValidData.
func RunSingleLevel(field, mask, inputMask *models.Volume, p Params) (*Result, error) {
	if err := validate(field, mask, inputMask, p); err != nil {
		return nil, err
	}
	if mask == nil {
		mask = allValid(field)
	}
	if !hasValid(mask) {
		return &Result{Field: field.Clone()}, ErrNoValidData
	}

	out, lr, err := solveLevel(0, 1, field, mask, inputMask, nil, p)
	if err != nil {
		return nil, err
	}
	return &Result{
		Field:      out,
		Residual:   lr.Residual,
		Iterations: lr.Iterations,
		Converged:  lr.Converged,
		Levels:     []LevelResult{lr},
	}, nil
}

// RunPyramid solves coarse-to-fine. For each coarse level (factor 2^(L−1) down
// to 2) the observed data is blurred with a masked Gaussian of σ = factor/2
// voxels and downsampled; the level is solved starting from the upsampled
// solution of the previous level. The native grid is solved last, warm-started
// from the finest coarse solution. Levels whose grid would be thinner than two
// voxels, or that keep no observed voxel, are skipped. The input mask only
// applies to the native level.
func RunPyramid(field, mask, inputMask *models.Volume, p Params) (*Result, error) {
	if err := validate(field, mask, inputMask, p); err != nil {
		return nil, err
	}
	if mask == nil {
		mask = allValid(field)
	}
	if !hasValid(mask) {
		return &Result{Field: field.Clone()}, ErrNoValidData
	}

	result := &Result{}
	var prev *models.Volume
	prevFactor := 0

	for level := p.Levels - 1; level >= 1; level-- {
		factor := 1 << level
		if resampling.CoarseExtent(field.Width, factor) < 2 ||
			resampling.CoarseExtent(field.Height, factor) < 2 ||
			resampling.CoarseExtent(field.Depth, factor) < 2 {
			continue
		}

		coarseField, coarseMask := coarsen(field, mask, factor)
		if !hasValid(coarseMask) {
			continue
		}

		var guess *models.Volume
		if prev != nil {
			guess = resampling.Upsample(prev, prevFactor/factor, coarseField)
		}
		out, lr, err := solveLevel(level, factor, coarseField, coarseMask, nil, guess, p)
		if err != nil {
			return nil, err
		}
		result.Levels = append(result.Levels, lr)
		prev, prevFactor = out, factor
	}

	var guess *models.Volume
	if prev != nil {
		guess = resampling.Upsample(prev, prevFactor, field)
	}
	out, lr, err := solveLevel(0, 1, field, mask, inputMask, guess, p)
	if err != nil {
		return nil, err
	}

	result.Field = out
	result.Residual = lr.Residual
	result.Iterations = lr.Iterations
	result.Converged = lr.Converged
	result.Levels = append(result.Levels, lr)
	return result, nil
}

// coarsen blurs the observed data and the mask and samples both on the grid
// coarser by factor. A coarse voxel counts as observed when at least half of
// the blurred neighbourhood was observed.
func coarsen(field, mask *models.Volume, factor int) (*models.Volume, *models.Volume) {
	sigma := float64(factor) / 2
	blurred, weight := resampling.BlurWithPadding(field, mask, sigma)

	coarseField := resampling.Downsample(blurred, factor)
	coarseMask := resampling.Downsample(weight, factor)
	for i, w := range coarseMask.Data {
		if w >= boundary.ValidThreshold {
			coarseMask.Data[i] = 1
		} else {
			coarseMask.Data[i] = 0
		}
	}
	return coarseField, coarseMask
}
