// Command scan-preview renders the planned trajectory of the configured step
// or fly scan to an image, or a recorded scan from the journal to HTML.
//
// Usage:
//
//	go run ./cmd/scan-preview [flags]
//
// Flags:
//
//	-config   Bench configuration JSON (built-in defaults when empty)
//	-mode     step or fly (default: step)
//	-rate     Fly-scan acquisition rate in Hz (default: the configured rate)
//	-out      Output file; the extension picks the format (default: scan-plan.png)
//	-scan     Journal scan id to render as an HTML map instead of a plan
//	-channel  Channel shown in the HTML map (default: 0)
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/scanbench/internal/config"
	"github.com/banshee-data/scanbench/internal/journal"
	"github.com/banshee-data/scanbench/internal/preview"
	"github.com/banshee-data/scanbench/internal/scan"
)

func main() {
	configFile := flag.String("config", "", "Bench configuration JSON")
	mode := flag.String("mode", "step", "Scan mode: step or fly")
	rate := flag.Float64("rate", 0, "Fly-scan acquisition rate in Hz (0 uses the configured rate)")
	out := flag.String("out", "scan-plan.png", "Output file")
	scanID := flag.String("scan", "", "Journal scan id to render as HTML")
	channel := flag.Int("channel", 0, "Channel shown in the HTML map")
	flag.Parse()

	cfg := config.DefaultBenchConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadBenchConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load configuration: %v", err)
		}
	}

	if *scanID != "" {
		if err := renderRecorded(cfg.GetJournalPath(), *scanID, *channel, *out); err != nil {
			log.Fatalf("failed to render scan %s: %v", *scanID, err)
		}
		log.Printf("wrote %s", *out)
		return
	}

	plan, err := buildPlan(cfg, *mode, *rate)
	if err != nil {
		log.Fatalf("failed to plan %s scan: %v", *mode, err)
	}
	if err := preview.SaveTrajectory(*out, plan); err != nil {
		log.Fatalf("failed to save preview: %v", err)
	}
	log.Printf("wrote %s: %d vertices, %d samples", *out, len(plan.Trajectory), len(plan.Samples))
}

func buildPlan(cfg *config.BenchConfig, mode string, rateHz float64) (preview.Plan, error) {
	switch mode {
	case "step":
		if cfg.StepScan == nil {
			return preview.Plan{}, errors.New("no step_scan in configuration")
		}
		return preview.StepPlan(*cfg.StepScan)
	case "fly":
		if cfg.FlyScan == nil {
			return preview.Plan{}, errors.New("no fly_scan in configuration")
		}
		if rateHz <= 0 {
			rateHz = cfg.FlyScan.DesiredRateHz
		}
		return preview.FlyPlan(*cfg.FlyScan, rateHz)
	default:
		return preview.Plan{}, fmt.Errorf("unknown mode %q: expected step or fly", mode)
	}
}

func renderRecorded(journalPath, scanID string, channel int, out string) error {
	store, err := journal.Open(journalPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Scan(scanID)
	if err != nil {
		return err
	}
	points, err := store.Points(scanID)
	if err != nil {
		return err
	}
	results := make([]scan.PointResult, len(points))
	for i, p := range points {
		results[i] = p.Result()
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s scan %s (%s)", rec.Kind, rec.ID, rec.Status)
	if err := preview.RenderResultsHTML(f, title, results, channel); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
