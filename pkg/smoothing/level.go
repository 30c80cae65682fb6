package smoothing

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"laplacesmooth/internal/models"
	"laplacesmooth/pkg/boundary"
	"laplacesmooth/pkg/padding"
	"laplacesmooth/pkg/relaxation"
	"laplacesmooth/pkg/stencil"
)

// LevelResult holds the diagnostics of one pyramid level
type LevelResult struct {
	// Level is 0 for the native grid and increases towards coarser grids
	Level int

	// Factor is the downsampling factor relative to the native grid
	Factor int

	Width, Height, Depth int

	Residual   float64
	Iterations int
	Converged  bool

	// History holds the residual before the first sweep and after each sweep
	History []float64

	// Field is the level solution on its own grid
	Field *models.Volume
}

// workspace is the transient padded state of one level solve
type workspace struct {
	set     stencil.Set
	field   *models.Volume
	mask    *models.Volume
	region  relaxation.Region
	valid   []bool
	weights *models.Volume
}

// analyze pads the inputs and derives domain, weights and the active set.
// inputMask may be nil, meaning every voxel is writable.
func analyze(field, mask, inputMask *models.Volume, p Params) (*workspace, error) {
	set, err := stencil.InitializeFactors(field.VoxelSize)
	if err != nil {
		return nil, err
	}

	pm := padding.Enlarge(mask)
	var pim *models.Volume
	if inputMask != nil {
		pim = padding.Enlarge(inputMask)
	}
	inside := padding.Interior(pm.Width, pm.Height, pm.Depth)

	n := len(pm.Data)
	ws := &workspace{
		set:   set,
		mask:  pm,
		valid: make([]bool, n),
		region: relaxation.Region{
			Domain: make([]bool, n),
			Active: make([]bool, n),
		},
	}
	writable := make([]bool, n)
	for i := range inside {
		if !inside[i] {
			continue
		}
		ws.valid[i] = boundary.IsValid(pm.Data[i])
		writable[i] = pim == nil || pim.Data[i] >= 0.5
		// missing voxels we may not write hold no usable data
		ws.region.Domain[i] = ws.valid[i] || writable[i]
	}

	// exterior and excluded voxels never carry values into the solve
	ws.field = padding.SetPaddingToZero(padding.Enlarge(field), ws.region.Domain)

	ws.weights = boundary.CalculateBoundaryWeights(pm, ws.region.Domain, set, p.BandWidth)
	for i := range ws.weights.Data {
		frozen := !ws.region.Domain[i] || !writable[i] || (ws.valid[i] && p.FreezeObserved)
		if frozen {
			ws.weights.Data[i] = 1
		}
		ws.region.Active[i] = ws.weights.Data[i] < 1
	}
	ws.region.Weights = ws.weights.Data
	return ws, nil
}

// boundaryMean is the mean observed value on the valid side of the interface,
// falling back to the mean of all observed voxels
func (ws *workspace) boundaryMean() float64 {
	b := boundary.CalculateBoundary(ws.mask, ws.region.Domain, ws.set)

	var onBoundary, all []float64
	for i, v := range ws.valid {
		if !v || !ws.region.Domain[i] {
			continue
		}
		all = append(all, ws.field.Data[i])
		if b.Data[i] == 1 {
			onBoundary = append(onBoundary, ws.field.Data[i])
		}
	}
	switch {
	case len(onBoundary) > 0:
		return stat.Mean(onBoundary, nil)
	case len(all) > 0:
		return stat.Mean(all, nil)
	}
	return 0
}

// initialGuess seeds active missing voxels from the warm start when given,
// otherwise with the boundary mean
func (ws *workspace) initialGuess(guess *models.Volume) []float64 {
	start := make([]float64, len(ws.field.Data))
	copy(start, ws.field.Data)

	var pg *models.Volume
	fill := 0.0
	if guess != nil {
		pg = padding.Enlarge(guess)
	} else {
		fill = ws.boundaryMean()
	}
	for i, active := range ws.region.Active {
		if !active || ws.valid[i] {
			continue
		}
		if pg != nil {
			start[i] = pg.Data[i]
		} else {
			start[i] = fill
		}
	}
	return start
}

// solveLevel runs one complete solve on the grid of field and returns a new
// volume in which only active voxels differ from field
func solveLevel(level, factor int, field, mask, inputMask, guess *models.Volume, p Params) (*models.Volume, LevelResult, error) {
	ws, err := analyze(field, mask, inputMask, p)
	if err != nil {
		return nil, LevelResult{}, err
	}

	lattice := relaxation.NewLattice(ws.field.Width, ws.field.Height, ws.field.Depth, ws.set)
	solver := relaxation.Solver{
		Epsilon:       p.Epsilon,
		MaxIterations: p.MaxIterations,
		Alpha:         p.Alpha,
		Workers:       p.NumCores,
	}
	if p.Progress != nil {
		solver.Progress = func(iteration int, residual float64) {
			p.Progress(level, iteration, residual)
		}
	}

	res, err := solver.Solve(lattice, ws.initialGuess(guess), ws.region)
	if err != nil {
		return nil, LevelResult{}, fmt.Errorf("level %d: %w", level, err)
	}

	solved := *ws.field
	solved.Data = res.Field
	reduced := padding.Reduce(&solved)

	out := field.Clone()
	for z := 0; z < out.Depth; z++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				if ws.region.Active[ws.field.Index(x+padding.Halo, y+padding.Halo, z+padding.Halo)] {
					i := out.Index(x, y, z)
					out.Data[i] = reduced.Data[i]
				}
			}
		}
	}

	return out, LevelResult{
		Level:      level,
		Factor:     factor,
		Width:      out.Width,
		Height:     out.Height,
		Depth:      out.Depth,
		Residual:   res.Residual,
		Iterations: res.Iterations,
		Converged:  res.Converged,
		History:    res.History,
		Field:      out,
	}, nil
}
