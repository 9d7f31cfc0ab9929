package preview

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scanbench/internal/scan"
)

// AssetsHost serves the echarts javascript for rendered pages.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// RenderResultsHTML writes an HTML scatter map of the mean of one channel
// over the scanned positions.
func RenderResultsHTML(w io.Writer, title string, points []scan.PointResult, channel int) error {
	if len(points) == 0 {
		return errors.New("no points to render")
	}
	if channel < 0 {
		return fmt.Errorf("channel %d out of range", channel)
	}

	data := make([]opts.ScatterData, 0, len(points))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if channel >= len(p.Mean) {
			return fmt.Errorf("point %d has %d channels, want channel %d", p.Index, len(p.Mean), channel)
		}
		v := p.Mean[channel]
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		data = append(data, opts.ScatterData{Value: []interface{}{p.Position.X, p.Position.Y, v}})
	}
	if lo == hi {
		hi = lo + 1
	}

	name := fmt.Sprintf("channel %d", channel)
	if channel < len(scan.DefaultChannels) {
		name = scan.DefaultChannels[channel]
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%s points=%d", name, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (mm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render scan map: %w", err)
	}
	return nil
}
