// Package volumeio loads and stores scalar volumes for the command-line tool.
// Two formats are supported: a raw little-endian data file described by a
// YAML header, and a directory of JPEG slices ordered by slice number.
package volumeio

import (
	"fmt"
	"os"
	"path/filepath"

	"laplacesmooth/internal/models"
)

// Loader reads a volume from path
type Loader interface {
	Load(path string) (*models.Volume, error)
}

// Storer writes a volume to path
type Storer interface {
	Store(path string, v *models.Volume) error
}

// Format is a Loader that can also store what it loads
type Format interface {
	Loader
	Storer
}

// FormatFor picks SliceStack for directories and for paths without an
// extension, and RawFormat (a YAML header path) otherwise
func FormatFor(path string) Format {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return &SliceStack{}
	}
	if filepath.Ext(path) == "" {
		return &SliceStack{}
	}
	return &RawFormat{}
}

// Open loads the volume at path using the format chosen by FormatFor
func Open(path string) (*models.Volume, error) {
	v, err := FormatFor(path).Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return v, nil
}

// Save stores v at path using the format chosen by FormatFor
func Save(path string, v *models.Volume) error {
	if err := FormatFor(path).Store(path, v); err != nil {
		return fmt.Errorf("failed to store %s: %w", path, err)
	}
	return nil
}
