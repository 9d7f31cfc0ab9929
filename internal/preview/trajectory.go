// Package preview renders scan plans and recorded scans for a quick visual
// check before or after running them on the bench.
package preview

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/scan"
)

// Default image size.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 8 * vg.Inch
)

var (
	pathColor   = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	vertexColor = color.RGBA{R: 68, G: 1, B: 84, A: 255}
	sampleColor = color.RGBA{R: 53, G: 183, B: 121, A: 255}
	startColor  = color.RGBA{R: 253, G: 231, B: 37, A: 255}
)

// Plan is what RenderTrajectory draws: the visiting order and, for fly
// scans, the planned acquisition positions along the path.
type Plan struct {
	Title      string
	Trajectory []geom.Position2D
	Samples    []geom.Position2D
}

// StepPlan builds the Plan of a step scan.
func StepPlan(cfg scan.StepScanConfig) (Plan, error) {
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}
	traj, err := scan.StepTrajectory(cfg)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Title:      fmt.Sprintf("Step scan %s %dx%d", cfg.Pattern, cfg.XPoints, cfg.YPoints),
		Trajectory: traj,
	}, nil
}

type fixedProfile scan.MotionProfile

func (p fixedProfile) SelectForDistance(float64) scan.MotionProfile { return scan.MotionProfile(p) }

// FlyPlan builds the Plan of a fly scan sampled at rateHz along every
// motion of the trajectory.
func FlyPlan(cfg scan.FlyScanConfig, rateHz float64) (Plan, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Plan{}, err
	}
	if !(rateHz > 0) {
		return Plan{}, fmt.Errorf("acquisition rate must be positive, got %v", rateHz)
	}
	traj, err := scan.FlyTrajectory(cfg)
	if err != nil {
		return Plan{}, err
	}
	motions, err := scan.CreateMotions(traj, fixedProfile(cfg.Profile))
	if err != nil {
		return Plan{}, err
	}
	var samples []geom.Position2D
	for i, m := range motions {
		samples = append(samples, m.AcquisitionPositions(traj[i], rateHz)...)
	}
	return Plan{
		Title: fmt.Sprintf("Fly scan %s %dx%d at %.1f Hz (%d samples)",
			cfg.Pattern, cfg.XPoints, cfg.YPoints, rateHz, len(samples)),
		Trajectory: traj,
		Samples:    samples,
	}, nil
}

// RenderTrajectory writes plan as an image in format ("png", "svg" or
// "pdf").
func RenderTrajectory(w io.Writer, plan Plan, format string) error {
	p, err := trajectoryPlot(plan)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(DefaultWidth, DefaultHeight, format)
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	return nil
}

// SaveTrajectory writes plan to file, choosing the format from its
// extension.
func SaveTrajectory(file string, plan Plan) error {
	p, err := trajectoryPlot(plan)
	if err != nil {
		return err
	}
	if err := p.Save(DefaultWidth, DefaultHeight, file); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

func trajectoryPlot(plan Plan) (*plot.Plot, error) {
	if len(plan.Trajectory) == 0 {
		return nil, errors.New("empty trajectory")
	}

	p := plot.New()
	p.Title.Text = plan.Title
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.Add(plotter.NewGrid())

	path := toXYs(plan.Trajectory)
	if len(path) > 1 {
		line, err := plotter.NewLine(path)
		if err != nil {
			return nil, fmt.Errorf("trajectory line: %w", err)
		}
		line.Color = pathColor
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("path", line)
	}

	vertices, err := plotter.NewScatter(path)
	if err != nil {
		return nil, fmt.Errorf("trajectory points: %w", err)
	}
	vertices.GlyphStyle.Color = vertexColor
	vertices.GlyphStyle.Radius = vg.Points(2.5)
	vertices.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(vertices)
	p.Legend.Add("grid", vertices)

	if len(plan.Samples) > 0 {
		samples, err := plotter.NewScatter(toXYs(plan.Samples))
		if err != nil {
			return nil, fmt.Errorf("sample points: %w", err)
		}
		samples.GlyphStyle.Color = sampleColor
		samples.GlyphStyle.Radius = vg.Points(1)
		samples.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(samples)
		p.Legend.Add("samples", samples)
	}

	start, err := plotter.NewScatter(path[:1])
	if err != nil {
		return nil, fmt.Errorf("start point: %w", err)
	}
	start.GlyphStyle.Color = startColor
	start.GlyphStyle.Radius = vg.Points(5)
	start.GlyphStyle.Shape = draw.RingGlyph{}
	p.Add(start)
	p.Legend.Add("start", start)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func toXYs(ps []geom.Position2D) plotter.XYs {
	out := make(plotter.XYs, len(ps))
	for i, pos := range ps {
		out[i] = plotter.XY{X: pos.X, Y: pos.Y}
	}
	return out
}
