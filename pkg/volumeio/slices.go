package volumeio

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"laplacesmooth/internal/models"
)

// SliceStack reads and writes a volume as a directory of grayscale JPEG
// slices, one per z position. Grey values map to [0,1].
type SliceStack struct {
	// Spacing is assigned to loaded volumes; zero means unit spacing
	Spacing models.Spacing

	// Workers bounds concurrent decoding; 0 uses runtime.NumCPU()
	Workers int

	// Quality is the JPEG quality used by Store; 0 means 90
	Quality int
}

// Load decodes every .jpg/.jpeg file in dir, ordered by the number in its name
func (s *SliceStack) Load(dir string) (*models.Volume, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !file.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			imageFiles = append(imageFiles, file.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no JPG images found in %s", dir)
	}

	// slice order follows the number in the filename, not lexical order
	sort.SliceStable(imageFiles, func(i, j int) bool {
		return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
	})

	slices := make([][]float64, len(imageFiles))
	bounds := make([]image.Rectangle, len(imageFiles))

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for z, name := range imageFiles {
		z, name := z, name
		g.Go(func() error {
			img, err := loadImage(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("failed to load image %s: %w", name, err)
			}
			bounds[z] = img.Bounds()
			slices[z] = imageToFloat(img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	width, height := bounds[0].Dx(), bounds[0].Dy()
	v := models.NewVolume(width, height, len(slices))
	if s.Spacing != (models.Spacing{}) {
		v.VoxelSize = s.Spacing
	}
	plane := width * height
	for z, data := range slices {
		if bounds[z].Dx() != width || bounds[z].Dy() != height {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				imageFiles[z], bounds[z].Dx(), bounds[z].Dy(), width, height)
		}
		copy(v.Data[z*plane:(z+1)*plane], data)
	}
	return v, nil
}

// Store writes one JPEG per z-slice to dir as 000.jpg, 001.jpg, ...
// Values are clamped to [0,1].
func (s *SliceStack) Store(dir string, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	quality := s.Quality
	if quality <= 0 {
		quality = 90
	}

	plane := v.Width * v.Height
	var g errgroup.Group
	g.SetLimit(max(1, runtime.NumCPU()))
	for z := 0; z < v.Depth; z++ {
		z := z
		g.Go(func() error {
			img := floatToImage(v.Data[z*plane:(z+1)*plane], v.Width, v.Height)
			return saveImage(filepath.Join(dir, fmt.Sprintf("%03d.jpg", z)), img, quality)
		})
	}
	return g.Wait()
}

// extractNumber returns the digits of a filename as an integer, or 0
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return jpeg.Decode(file)
}

func saveImage(path string, img image.Image, quality int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: quality}); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}

// imageToFloat converts an image to row-major grey values in [0,1]
func imageToFloat(img image.Image) []float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	result := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			result[y*width+x] = float64(gray.Y) / 65535.0
		}
	}
	return result
}

// floatToImage converts grey values in [0,1] to a 16-bit image
func floatToImage(data []float64, width, height int) image.Image {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			value := min(1, max(0, data[y*width+x]))
			img.SetGray16(x, y, color.Gray16{Y: uint16(value*65535.0 + 0.5)})
		}
	}
	return img
}
