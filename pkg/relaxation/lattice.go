package relaxation

import (
	"fmt"

	"laplacesmooth/pkg/stencil"
)

// Lattice is a padded voxel grid together with the stencil expressed as flat
// index offsets on that grid
type Lattice struct {
	Width, Height, Depth int

	// Offsets are the flat-index deltas of the 13 stencil directions
	Offsets [stencil.NumDirections]int

	// Factors are the matching direction weights
	Factors [stencil.NumDirections]float64

	// MaxAlpha is the stability bound 1/(2·ΣFactors)
	MaxAlpha float64
}

// NewLattice binds a direction set to a padded grid
func NewLattice(width, height, depth int, set stencil.Set) Lattice {
	l := Lattice{
		Width:    width,
		Height:   height,
		Depth:    depth,
		Offsets:  set.IndexOffsets(width, height),
		MaxAlpha: set.MaxStableAlpha(),
	}
	for k, d := range set.Directions() {
		l.Factors[k] = d.Factor
	}
	return l
}

// Len returns the number of voxels in the lattice
func (l Lattice) Len() int {
	return l.Width * l.Height * l.Depth
}

// Region describes which voxels take part in a solve.
//
// Domain voxels are defined: they hold meaningful values and act as neighbours.
// Active voxels are the subset the solver updates. Weights are the blend weights
// in [0,1]; an active voxel moves by (1-w) of the full relaxation step.
type Region struct {
	Domain  []bool
	Active  []bool
	Weights []float64
}

// ActiveCount returns the number of voxels the solver updates
func (r Region) ActiveCount() int {
	n := 0
	for _, a := range r.Active {
		if a {
			n++
		}
	}
	return n
}

// check verifies slice lengths and that no halo voxel is part of the domain,
// which is what makes unchecked neighbour indexing safe
func (l Lattice) check(field []float64, r Region) error {
	n := l.Len()
	if len(field) != n || len(r.Domain) != n || len(r.Active) != n || len(r.Weights) != n {
		return fmt.Errorf("region sizes (%d, %d, %d, %d) do not match lattice of %d voxels",
			len(field), len(r.Domain), len(r.Active), len(r.Weights), n)
	}

	for z := 0; z < l.Depth; z++ {
		for y := 0; y < l.Height; y++ {
			for x := 0; x < l.Width; x++ {
				edge := x == 0 || y == 0 || z == 0 || x == l.Width-1 || y == l.Height-1 || z == l.Depth-1
				i := z*l.Width*l.Height + y*l.Width + x
				if edge && r.Domain[i] {
					return fmt.Errorf("halo voxel (%d,%d,%d) is part of the domain", x, y, z)
				}
				if r.Active[i] && !r.Domain[i] {
					return fmt.Errorf("active voxel (%d,%d,%d) is outside the domain", x, y, z)
				}
			}
		}
	}
	return nil
}
