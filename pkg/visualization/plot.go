package visualization

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"laplacesmooth/pkg/smoothing"
)

// PlotConvergence draws the residual history of every level against the sweep
// number and saves it to path; the format follows the file extension
// (.png, .svg, .pdf, ...). The residual axis is logarithmic unless no level
// has a positive residual.
func PlotConvergence(levels []smoothing.LevelResult, path string) error {
	if len(levels) == 0 {
		return fmt.Errorf("no levels to plot")
	}

	logScale := false
	for _, l := range levels {
		for _, r := range l.History {
			if r > 0 {
				logScale = true
			}
		}
	}

	p := plot.New()
	p.Title.Text = "Relaxation convergence"
	p.X.Label.Text = "Sweep"
	p.Y.Label.Text = "Residual"
	if logScale {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	for i, l := range levels {
		pts := make(plotter.XYs, 0, len(l.History))
		for it, r := range l.History {
			// zero residuals cannot be drawn on a log axis
			if logScale && r <= 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(it), Y: r})
		}
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("level %d (%dx%dx%d)", l.Level, l.Width, l.Height, l.Depth), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save convergence plot: %w", err)
	}
	return nil
}
