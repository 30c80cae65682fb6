package models

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is matched by every DimensionMismatchError
var ErrDimensionMismatch = errors.New("volume dimensions do not match")

// Spacing is the physical size of a voxel in mm along each axis
type Spacing struct {
	X, Y, Z float64
}

// Volume represents a regularly sampled 3D scalar field.
// Masks, boundary maps and weight fields are Volumes on the same grid.
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	// (index z*Width*Height + y*Width + x)
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize Spacing

	// Origin is the world position of voxel (0,0,0) in mm
	Origin [3]float64

	// Orientation holds the world direction of the x, y and z axes as columns
	Orientation [3][3]float64
}

// IdentityOrientation is the axis-aligned orientation matrix
var IdentityOrientation = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// NewVolume allocates a zero-filled volume with unit spacing and an identity orientation
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:        make([]float64, width*height*depth),
		Width:       width,
		Height:      height,
		Depth:       depth,
		VoxelSize:   Spacing{X: 1, Y: 1, Z: 1},
		Orientation: IdentityOrientation,
	}
}

// NewLike allocates a zero-filled volume on the same grid as v
func NewLike(v *Volume) *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	return &out
}

// Clone returns a deep copy of v
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Index returns the flat index of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the value at voxel (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores value at voxel (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Fill sets every voxel to value
func (v *Volume) Fill(value float64) {
	for i := range v.Data {
		v.Data[i] = value
	}
}

// Validate checks the data length invariant
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("invalid volume extents %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("volume data has %d values, expected %dx%dx%d = %d",
			len(v.Data), v.Width, v.Height, v.Depth, v.Len())
	}
	return nil
}

// SameExtents reports whether v and o have identical dimensions
func (v *Volume) SameExtents(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// VoxelToWorld maps a continuous voxel coordinate to world coordinates in mm
func (v *Volume) VoxelToWorld(x, y, z float64) [3]float64 {
	local := [3]float64{x * v.VoxelSize.X, y * v.VoxelSize.Y, z * v.VoxelSize.Z}
	var w [3]float64
	for r := 0; r < 3; r++ {
		w[r] = v.Origin[r] + v.Orientation[r][0]*local[0] + v.Orientation[r][1]*local[1] + v.Orientation[r][2]*local[2]
	}
	return w
}

// WorldToVoxel maps world coordinates in mm to a continuous voxel coordinate.
// The orientation matrix is assumed orthonormal.
func (v *Volume) WorldToVoxel(w [3]float64) (x, y, z float64) {
	d := [3]float64{w[0] - v.Origin[0], w[1] - v.Origin[1], w[2] - v.Origin[2]}
	var local [3]float64
	for c := 0; c < 3; c++ {
		local[c] = v.Orientation[0][c]*d[0] + v.Orientation[1][c]*d[1] + v.Orientation[2][c]*d[2]
	}
	return local[0] / v.VoxelSize.X, local[1] / v.VoxelSize.Y, local[2] / v.VoxelSize.Z
}

// DimensionMismatchError reports two volumes that should share a grid but do not
type DimensionMismatchError struct {
	// Name identifies the offending volume (e.g. "mask", "input mask")
	Name string

	// Want and Got are the expected and actual extents
	Want, Got [3]int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s dimensions %dx%dx%d do not match field %dx%dx%d",
		e.Name, e.Got[0], e.Got[1], e.Got[2], e.Want[0], e.Want[1], e.Want[2])
}

// Is lets errors.Is(err, ErrDimensionMismatch) match
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckSameGrid returns a *DimensionMismatchError when o does not match ref
func CheckSameGrid(name string, ref, o *Volume) error {
	if ref.SameExtents(o) && len(o.Data) == len(ref.Data) {
		return nil
	}
	return &DimensionMismatchError{
		Name: name,
		Want: [3]int{ref.Width, ref.Height, ref.Depth},
		Got:  [3]int{o.Width, o.Height, o.Depth},
	}
}
