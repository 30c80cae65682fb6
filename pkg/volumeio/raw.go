package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"laplacesmooth/internal/models"
)

// Supported sample types of raw data files
const (
	Float64 = "float64"
	Float32 = "float32"
)

// ErrUnsupportedType is returned for an unknown raw sample type
var ErrUnsupportedType = errors.New("unsupported raw sample type")

// Header describes a raw volume. It is stored as YAML next to the data file.
type Header struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Depth  int `yaml:"depth"`

	// Spacing is the voxel size in mm along x, y and z
	Spacing [3]float64 `yaml:"spacing"`

	// Origin is the world position of voxel (0,0,0) in mm
	Origin [3]float64 `yaml:"origin"`

	// Orientation holds the axis directions as columns; omitted means identity
	Orientation *[3][3]float64 `yaml:"orientation,omitempty"`

	// DataFile is the raw data path, relative to the header
	DataFile string `yaml:"dataFile"`

	// DType is float64 (default) or float32
	DType string `yaml:"dtype"`
}

// RawFormat reads and writes a YAML header plus a little-endian data file in
// x-fastest order
type RawFormat struct {
	// DType selects the sample type written by Store; empty means float64
	DType string
}

// Load reads the header at path and the data file it references
func (f *RawFormat) Load(path string) (*models.Volume, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h Header
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if h.Width <= 0 || h.Height <= 0 || h.Depth <= 0 {
		return nil, fmt.Errorf("invalid extents %dx%dx%d in header", h.Width, h.Height, h.Depth)
	}
	if h.DataFile == "" {
		return nil, fmt.Errorf("header has no dataFile")
	}

	size, err := sampleSize(h.DType)
	if err != nil {
		return nil, err
	}
	dataPath := h.DataFile
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(filepath.Dir(path), dataPath)
	}
	file, err := os.Open(dataPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	// reject extents the data file cannot fill before allocating
	if !fits(h.Width, h.Height, h.Depth, info.Size()/size) {
		return nil, fmt.Errorf("header describes %dx%dx%d voxels but %s holds %d bytes",
			h.Width, h.Height, h.Depth, dataPath, info.Size())
	}

	v := models.NewVolume(h.Width, h.Height, h.Depth)
	if h.Spacing != [3]float64{} {
		v.VoxelSize = models.Spacing{X: h.Spacing[0], Y: h.Spacing[1], Z: h.Spacing[2]}
	}
	v.Origin = h.Origin
	if h.Orientation != nil {
		v.Orientation = *h.Orientation
	}

	if err := readSamples(bufio.NewReader(file), h.DType, v.Data); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dataPath, err)
	}
	return v, nil
}

// Store writes a header to path and the samples to the same name with a .raw extension
func (f *RawFormat) Store(path string, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	dtype := f.DType
	if dtype == "" {
		dtype = Float64
	}

	dataPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".raw"
	orientation := v.Orientation
	h := Header{
		Width:       v.Width,
		Height:      v.Height,
		Depth:       v.Depth,
		Spacing:     [3]float64{v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z},
		Origin:      v.Origin,
		Orientation: &orientation,
		DataFile:    filepath.Base(dataPath),
		DType:       dtype,
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(dataPath)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := writeSamples(w, dtype, v.Data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	header, err := yaml.Marshal(&h)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	return os.WriteFile(path, header, 0644)
}

func sampleSize(dtype string) (int64, error) {
	switch dtype {
	case "", Float64:
		return 8, nil
	case Float32:
		return 4, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, dtype)
}

// fits reports whether width·height·depth <= samples without overflowing
func fits(width, height, depth int, samples int64) bool {
	w, h, d := int64(width), int64(height), int64(depth)
	return w <= samples && h <= samples/w && d <= samples/(w*h)
}

func readSamples(r *bufio.Reader, dtype string, out []float64) error {
	switch dtype {
	case "", Float64:
		return binary.Read(r, binary.LittleEndian, out)
	case Float32:
		buf := make([]float32, len(out))
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return err
		}
		for i, x := range buf {
			out[i] = float64(x)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedType, dtype)
}

func writeSamples(w *bufio.Writer, dtype string, data []float64) error {
	switch dtype {
	case Float64:
		return binary.Write(w, binary.LittleEndian, data)
	case Float32:
		buf := make([]float32, len(data))
		for i, x := range data {
			buf[i] = float32(x)
		}
		return binary.Write(w, binary.LittleEndian, buf)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedType, dtype)
}
