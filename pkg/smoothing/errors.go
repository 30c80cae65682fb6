package smoothing

import (
	"errors"

	"laplacesmooth/internal/models"
	"laplacesmooth/pkg/relaxation"
	"laplacesmooth/pkg/stencil"
)

// Errors returned by the smoother. Dimension errors carry a
// *models.DimensionMismatchError with the offending extents.
var (
	ErrDimensionMismatch = models.ErrDimensionMismatch
	ErrDegenerateSpacing = stencil.ErrDegenerateSpacing
	ErrUnstableStep      = relaxation.ErrUnstableStep
	ErrNoValidData       = errors.New("validity mask contains no observed voxels")
	ErrNoInput           = errors.New("no input volume set")
	ErrInvalidParams     = errors.New("invalid smoothing parameters")
)
