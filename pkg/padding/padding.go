// Package padding adds and removes the one-voxel halo that lets stencil code
// address every neighbour of an interior voxel without bounds checks.
package padding

import "laplacesmooth/internal/models"

// Halo is the halo thickness in voxels. One voxel covers the 26-neighbourhood.
const Halo = 1

// Enlarge returns a copy of v with a zero-filled halo on every side.
// The origin moves one voxel back along each axis so world positions are preserved.
func Enlarge(v *models.Volume) *models.Volume {
	w, h, d := v.Width+2*Halo, v.Height+2*Halo, v.Depth+2*Halo
	out := &models.Volume{
		Data:        make([]float64, w*h*d),
		Width:       w,
		Height:      h,
		Depth:       d,
		VoxelSize:   v.VoxelSize,
		Orientation: v.Orientation,
		Origin:      v.VoxelToWorld(-Halo, -Halo, -Halo),
	}

	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			src := v.Index(0, y, z)
			dst := out.Index(Halo, y+Halo, z+Halo)
			copy(out.Data[dst:dst+v.Width], v.Data[src:src+v.Width])
		}
	}
	return out
}

// Reduce strips the halo added by Enlarge, restoring the original extents and origin
func Reduce(v *models.Volume) *models.Volume {
	w, h, d := v.Width-2*Halo, v.Height-2*Halo, v.Depth-2*Halo
	out := &models.Volume{
		Data:        make([]float64, w*h*d),
		Width:       w,
		Height:      h,
		Depth:       d,
		VoxelSize:   v.VoxelSize,
		Orientation: v.Orientation,
		Origin:      v.VoxelToWorld(Halo, Halo, Halo),
	}

	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			src := v.Index(Halo, y+Halo, z+Halo)
			dst := out.Index(0, y, z)
			copy(out.Data[dst:dst+w], v.Data[src:src+w])
		}
	}
	return out
}

// Interior marks the non-halo voxels of a padded grid
func Interior(width, height, depth int) []bool {
	inside := make([]bool, width*height*depth)
	for z := Halo; z < depth-Halo; z++ {
		for y := Halo; y < height-Halo; y++ {
			row := z*width*height + y*width
			for x := Halo; x < width-Halo; x++ {
				inside[row+x] = true
			}
		}
	}
	return inside
}

// SetPaddingToZero returns a copy of v with every voxel not marked in keep set to zero
func SetPaddingToZero(v *models.Volume, keep []bool) *models.Volume {
	out := v.Clone()
	for i := range out.Data {
		if !keep[i] {
			out.Data[i] = 0
		}
	}
	return out
}
