package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"laplacesmooth/internal/models"
	"laplacesmooth/pkg/config"
	"laplacesmooth/pkg/smoothing"
	"laplacesmooth/pkg/visualization"
	"laplacesmooth/pkg/volumeio"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Field to smooth: a .yaml raw header or a directory of JPEG slices")
	maskPath := flag.String("mask", "", "Validity mask (1 = observed, 0 = missing); default: all observed")
	inputMaskPath := flag.String("input-mask", "", "Optional mask of voxels the solver may overwrite")
	outputPath := flag.String("output", "smoothed.yaml", "Output path: a .yaml raw header or a directory")
	configPath := flag.String("config", "laplacesmooth.yaml", "Configuration file")
	createConfig := flag.Bool("create-config", false, "Write a default configuration file and exit")
	pyramid := flag.Bool("pyramid", true, "Solve coarse-to-fine over a resolution pyramid")
	levels := flag.Int("levels", smoothing.DefaultLevels, "Pyramid depth")
	epsilon := flag.Float64("epsilon", 0.01, "Residual threshold for convergence (field units)")
	maxIterations := flag.Int("max-iterations", 100, "Maximum sweeps per level")
	numCores := flag.Int("cores", 0, "Number of goroutines per sweep (default: all available)")
	soft := flag.Bool("soft", false, "Let observed voxels near missing data relax as well")
	referencePath := flag.String("reference", "", "Ground truth volume to compare the result against")
	plotPath := flag.String("plot", "", "Save a residual convergence plot to this path (.png, .svg, .pdf)")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save result slices along all axes")
	slicesDir := flag.String("slices-dir", "smoothed_slices", "Directory to save extracted slices")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save the solution of every pyramid level")
	flag.Parse()

	if *createConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Explicit flags take precedence over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "levels":
			cfg.Solver.Levels = *levels
		case "epsilon":
			cfg.Solver.Epsilon = *epsilon
		case "max-iterations":
			cfg.Solver.MaxIterations = *maxIterations
		case "cores":
			cfg.Solver.NumCores = *numCores
		case "soft":
			cfg.Solver.FreezeObserved = !*soft
		case "plot":
			cfg.Output.ConvergencePlot = *plotPath
		case "save-intermediary":
			cfg.Output.SaveIntermediaryResults = *saveIntermediary
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("MISSING-DATA LAPLACIAN SMOOTHING")
	fmt.Println("================================")

	// Step 1: Load volumes
	fmt.Println("Step 1: Loading volumes...")
	field, err := load(cfg, *inputPath)
	if err != nil {
		log.Fatalf("Failed to load input: %v", err)
	}
	fmt.Printf("Loaded %dx%dx%d volume, voxel size %.3gx%.3gx%.3g mm\n",
		field.Width, field.Height, field.Depth, field.VoxelSize.X, field.VoxelSize.Y, field.VoxelSize.Z)

	params := cfg.SmoothingParams()
	if cfg.Output.Verbose {
		params.Progress = func(level, iteration int, residual float64) {
			fmt.Printf("  level %d sweep %d: residual %.6g\n", level, iteration, residual)
		}
	}
	smoother := smoothing.New(params)
	smoother.SetInput(field)

	if *maskPath != "" {
		mask, err := load(cfg, *maskPath)
		if err != nil {
			log.Fatalf("Failed to load mask: %v", err)
		}
		smoother.SetMask(mask)
	}
	if *inputMaskPath != "" {
		inputMask, err := load(cfg, *inputMaskPath)
		if err != nil {
			log.Fatalf("Failed to load input mask: %v", err)
		}
		smoother.SetInputMask(inputMask)
	}

	// Step 2: Solve
	fmt.Printf("Step 2: Relaxing missing regions (%d levels, epsilon %g, %d sweeps max)...\n",
		levelsUsed(*pyramid, params.Levels), params.Epsilon, params.MaxIterations)
	startTime := time.Now()
	var result *smoothing.Result
	if *pyramid {
		result, err = smoother.RunPyramid()
	} else {
		result, err = smoother.Run()
	}
	if errors.Is(err, smoothing.ErrNoValidData) {
		log.Printf("Warning: %v; writing the input unchanged", err)
	} else if err != nil {
		log.Fatalf("Smoothing failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nSmoothing completed in %.2f seconds\n", processingTime.Seconds())
	for _, l := range result.Levels {
		fmt.Printf("- level %d (%dx%dx%d): %d sweeps, residual %.6g, converged %v\n",
			l.Level, l.Width, l.Height, l.Depth, l.Iterations, l.Residual, l.Converged)
	}
	if !result.Converged && len(result.Levels) > 0 {
		fmt.Println("Warning: native level did not reach the residual threshold")
	}

	// Step 3: Save
	fmt.Println("\nStep 3: Saving result...")
	if err := volumeio.Save(*outputPath, result.Field); err != nil {
		log.Fatalf("Failed to save result: %v", err)
	}
	fmt.Printf("Output saved to: %s\n", *outputPath)

	if cfg.Output.SaveIntermediaryResults {
		for _, l := range result.Levels {
			path := filepath.Join(cfg.Output.IntermediaryDir, fmt.Sprintf("level_%d.yaml", l.Level))
			if err := volumeio.Save(path, l.Field); err != nil {
				fmt.Printf("Warning: Failed to save level %d: %v\n", l.Level, err)
			}
		}
		fmt.Printf("Level solutions saved to: %s\n", cfg.Output.IntermediaryDir)
	}

	if cfg.Output.ConvergencePlot != "" && len(result.Levels) > 0 {
		if err := visualization.PlotConvergence(result.Levels, cfg.Output.ConvergencePlot); err != nil {
			fmt.Printf("Warning: Failed to plot convergence: %v\n", err)
		} else {
			fmt.Printf("Convergence plot saved to: %s\n", cfg.Output.ConvergencePlot)
		}
	}

	if *referencePath != "" {
		reference, err := load(cfg, *referencePath)
		if err != nil {
			log.Fatalf("Failed to load reference: %v", err)
		}
		printMetrics(reference, result.Field, smoother)
	}

	// Extract and save slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting result slices along all axes...")
		viewer := visualization.NewViewer(result.Field)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}
		fmt.Println("Slice extraction completed!")
	}
}

// load opens a volume, assigning the configured spacing to JPEG slice stacks
func load(cfg *config.Config, path string) (*models.Volume, error) {
	if stack, ok := volumeio.FormatFor(path).(*volumeio.SliceStack); ok {
		stack.Spacing = cfg.SliceSpacing()
		stack.Workers = cfg.Input.Workers
		return stack.Load(path)
	}
	return volumeio.Open(path)
}

func levelsUsed(pyramid bool, levels int) int {
	if pyramid {
		return levels
	}
	return 1
}

// printMetrics compares the result with a reference over the whole volume and,
// when a mask is set, over the filled voxels only
func printMetrics(reference, result *models.Volume, s *smoothing.Smoother) {
	overall, err := smoothing.Compare(reference, result, nil)
	if err != nil {
		log.Printf("Warning: Failed to compare with reference: %v", err)
		return
	}
	fmt.Printf("\nComparison with reference:\n")
	fmt.Printf("=======================================\n")
	fmt.Printf("Root Mean Square Error (RMSE): %.6g\n", overall.RMSE)
	fmt.Printf("Maximum Absolute Error: %.6g\n", overall.MaxAbsError)
	fmt.Printf("Correlation: %.4f\n", overall.Correlation)
	fmt.Printf("Structural Similarity Index (SSIM): %.4f\n", overall.SSIM)

	missing := s.MissingRegion()
	if missing == nil || !missing.SameExtents(result) {
		return
	}
	filled, err := smoothing.Compare(reference, result, missing)
	if err != nil || filled.Voxels == 0 {
		return
	}
	fmt.Printf("Filled voxels (%d): RMSE %.6g, max error %.6g\n", filled.Voxels, filled.RMSE, filled.MaxAbsError)
}
