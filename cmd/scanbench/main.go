// Command scanbench runs one step or fly scan on the two-axis probe bench
// and serves the bench debug pages while it runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/scanbench/internal/acquisition"
	"github.com/banshee-data/scanbench/internal/config"
	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/executor"
	"github.com/banshee-data/scanbench/internal/flyscan"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/journal"
	"github.com/banshee-data/scanbench/internal/monitoring/metrics"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/serialmux"
	"github.com/banshee-data/scanbench/internal/timeutil"
	"github.com/banshee-data/scanbench/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to bench configuration JSON (built-in defaults when empty)")
	mode        = flag.String("mode", "step", "Scan mode: step or fly")
	simulate    = flag.Bool("simulate", false, "Use the simulated stage and probe")
	listen      = flag.String("listen", "localhost:8090", "Listen address for /debug and /metrics (empty disables)")
	hold        = flag.Bool("hold", false, "Keep serving debug pages after the scan until interrupted")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// sim field parameters
const (
	simFieldAmplitude = 0.5
	simFieldWidthMM   = 2.0
)

type serialOpener func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

func openRealSerial(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	return serialmux.NewRealSerialMux(path, opts)
}

// bench holds the wired components of one scanbench process.
type bench struct {
	cfg     *config.BenchConfig
	bus     *eventbus.Bus
	adapter *motion.Adapter
	acq     executor.AcquisitionPort
	store   *journal.Store
	rec     *journal.Recorder
	metrics *metrics.Metrics
	serials []serialmux.SerialMuxInterface
	stage   serialmux.SerialMuxInterface

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type benchOptions struct {
	simulate bool
	registry prometheus.Registerer
	open     serialOpener
}

// newBench opens the journal, the stage and the probe described by cfg and
// starts their background routines. Close releases everything.
func newBench(ctx context.Context, cfg *config.BenchConfig, opts benchOptions) (*bench, error) {
	if opts.open == nil {
		opts.open = openRealSerial
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &bench{cfg: cfg, bus: eventbus.New(), cancel: cancel}
	if err := b.wire(ctx, opts); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *bench) wire(ctx context.Context, opts benchOptions) error {
	cfg := b.cfg
	var err error
	b.store, err = journal.Open(cfg.GetJournalPath())
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	b.rec = journal.NewRecorder(b.store, nil)
	b.rec.Attach(b.bus)

	b.metrics, err = metrics.New(opts.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	b.metrics.Attach(b.bus)

	ctrl, err := b.openController(ctx, opts)
	if err != nil {
		return err
	}
	mc := cfg.Motion
	b.adapter = motion.NewAdapter(ctrl, b.bus, motion.Options{
		Selector:      mc.GetSelector(),
		SettleDelay:   mc.GetSettleDelay(),
		PollInterval:  mc.GetPollInterval(),
		MoveTimeout:   mc.GetMoveTimeout(),
		TravelLimitMM: mc.GetTravelLimitMM(),
	})
	if err := b.metrics.TrackQueueDepth(b.adapter.QueueLen); err != nil {
		return err
	}

	mon := motion.NewMonitor(b.adapter, b.bus, nil, mc.GetPositionInterval())
	b.goRun(ctx, "position monitor", mon.Run)

	b.acq, err = b.openAcquisition(ctx, opts)
	return err
}

func (b *bench) goRun(ctx context.Context, name string, fn func(context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("%s stopped: %v", name, err)
		}
	}()
}

func (b *bench) openSerial(ctx context.Context, open serialOpener, path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
	port, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	b.serials = append(b.serials, port)
	b.goRun(ctx, "serial monitor "+path, port.Monitor)
	return port, nil
}

func (b *bench) openController(ctx context.Context, opts benchOptions) (motion.Controller, error) {
	if opts.simulate {
		log.Print("using simulated stage")
		return motion.NewSimController(nil), nil
	}
	mc := b.cfg.Motion
	port, err := b.openSerial(ctx, opts.open, mc.GetSerialPort(), mc.GetPortOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open stage port: %w", err)
	}
	b.stage = port
	ctrl, err := motion.NewSerialController(port, mc.GetCalibration())
	if err != nil {
		return nil, err
	}
	enableCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ctrl.Enable(enableCtx); err != nil {
		return nil, fmt.Errorf("failed to enable stage: %w", err)
	}
	log.Printf("stage controller on %s", mc.GetSerialPort())
	return ctrl, nil
}

func (b *bench) openAcquisition(ctx context.Context, opts benchOptions) (executor.AcquisitionPort, error) {
	ac := b.cfg.Acquisition
	if !opts.simulate && ac.GetSerialPort() != "" {
		port, err := b.openSerial(ctx, opts.open, ac.GetSerialPort(), ac.GetPortOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open probe port: %w", err)
		}
		src := acquisition.NewLineSource(port, ac.GetChannels(), nil)
		src.SetTrigger(ac.GetTriggerCommand())
		log.Printf("probe on %s", ac.GetSerialPort())
		return src, nil
	}

	log.Print("using simulated probe")
	src, err := acquisition.NewNoiseSource(acquisition.NoiseOptions{
		Channels:   ac.GetChannels(),
		Sigma:      ac.GetNoiseSigma(),
		SampleTime: ac.GetSampleTime(),
		Seed:       ac.GetSeed(),
		Field:      acquisition.DipoleField(b.fieldCenter(), simFieldAmplitude, simFieldWidthMM),
		Position:   b.adapter.CurrentPosition,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// fieldCenter puts the simulated dipole in the middle of the configured
// scan zone.
func (b *bench) fieldCenter() geom.Position2D {
	var z scan.ScanZone
	switch {
	case b.cfg.StepScan != nil:
		z = b.cfg.StepScan.Zone
	case b.cfg.FlyScan != nil:
		z = b.cfg.FlyScan.Zone
	default:
		return geom.Position2D{}
	}
	return geom.Position2D{X: (z.XMin + z.XMax) / 2, Y: (z.YMin + z.YMax) / 2}
}

func (b *bench) executorOptions() executor.Options {
	return executor.Options{
		MotionTimeout: b.cfg.Executor.GetMotionTimeout(),
		PollInterval:  b.cfg.Executor.GetPollInterval(),
		Selector:      b.cfg.Motion.GetSelector(),
	}
}

// Routes mounts the stage port, journal and metrics pages on mux.
func (b *bench) Routes(mux *http.ServeMux) error {
	if b.stage != nil {
		b.stage.AttachAdminRoutes(mux)
	}
	if err := b.store.AttachAdminRoutes(mux); err != nil {
		return err
	}
	mux.Handle("/metrics", b.metrics.Handler())
	return nil
}

// RunStep executes the configured step scan.
func (b *bench) RunStep(ctx context.Context) (*scan.Scan, error) {
	if b.cfg.StepScan == nil {
		return nil, errors.New("no step_scan in configuration")
	}
	s := scan.NewStepScan()
	s.SetEventCapacity(b.cfg.Executor.GetEventCapacity())
	log.Printf("starting step scan %s", s.ID)

	exec := executor.NewStepExecutor(b.adapter, b.acq, b.bus, b.executorOptions())
	return s, exec.Execute(ctx, s, *b.cfg.StepScan)
}

// RunFly measures the acquisition rate, then executes the configured fly
// scan if it is feasible at that rate.
func (b *bench) RunFly(ctx context.Context) (*scan.Scan, error) {
	if b.cfg.FlyScan == nil {
		return nil, errors.New("no fly_scan in configuration")
	}
	validator := b.cfg.Feasibility.GetValidator(timeutil.RealClock{})

	meter := flyscan.NewRateMeter(nil)
	meter.MaxAge = validator.MaxAge
	log.Printf("measuring acquisition rate for %s", meter.Window)
	capability, err := meter.MeasureOrCached(ctx, b.acq, false)
	if err != nil {
		return nil, fmt.Errorf("rate measurement failed: %w", err)
	}
	log.Printf("acquisition capability: %s", capability)

	s := scan.NewFlyScan()
	s.SetEventCapacity(b.cfg.Executor.GetEventCapacity())
	log.Printf("starting fly scan %s", s.ID)

	exec := executor.NewFlyExecutor(b.adapter, b.acq, b.bus, validator, b.executorOptions())
	err = exec.Execute(ctx, s, *b.cfg.FlyScan, capability)
	stats := exec.LastRun()
	log.Printf("fly scan %s: %d samples, %d dropped, %d motions completed",
		s.ID, stats.SamplesTaken, stats.DroppedSamples, stats.Motions.Completed)
	return s, err
}

// EmergencyStop halts the stage and drops queued motions.
func (b *bench) EmergencyStop() error {
	if b.adapter == nil {
		return nil
	}
	return b.adapter.EmergencyStop()
}

// Close stops background routines and releases the stage, ports and
// journal. It is safe on a partially built bench.
func (b *bench) Close() {
	if b.adapter != nil {
		b.adapter.Close()
	}
	b.cancel()
	for _, s := range b.serials {
		if err := s.Close(); err != nil {
			log.Printf("failed to close serial port: %v", err)
		}
	}
	b.wg.Wait()
	if b.metrics != nil {
		b.metrics.Detach()
	}
	if b.rec != nil {
		b.rec.Detach()
		if n := b.rec.Errors(); n > 0 {
			log.Printf("journal: %d events failed to persist", n)
		}
	}
	if b.store != nil {
		b.store.Close()
	}
}

// watchSignals cancels the scan on the first signal and triggers an
// emergency stop on the second.
func watchSignals(sigs <-chan os.Signal, cancel context.CancelFunc, estop func() error) {
	sig, ok := <-sigs
	if !ok {
		return
	}
	log.Printf("received %s, cancelling scan (signal again for emergency stop)", sig)
	cancel()

	sig, ok = <-sigs
	if !ok {
		return
	}
	log.Printf("received %s, emergency stop", sig)
	if err := estop(); err != nil {
		log.Printf("emergency stop failed: %v", err)
	}
}

func loadConfig(path string) (*config.BenchConfig, error) {
	if path == "" {
		cfg := config.DefaultBenchConfig()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	return config.LoadBenchConfig(path)
}

func serve(ctx context.Context, wg *sync.WaitGroup, addr string, h http.Handler) {
	server := &http.Server{Addr: addr, Handler: h}
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server on %s: %v", addr, err)
			}
		}()
		log.Printf("serving on %s", addr)

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shutdown server gracefully: %v", err)
		}
	}()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("scanbench", version.String())
		return
	}
	if *mode != "step" && *mode != "fly" {
		log.Fatalf("unknown mode %q: expected step or fly", *mode)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	os.Exit(run(cfg))
}

func run(cfg *config.BenchConfig) int {
	log.Printf("scanbench %s", version.String())

	// serveCtx outlives the scan so -hold can keep the pages up
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	scanCtx, cancelScan := context.WithCancel(serveCtx)
	defer cancelScan()

	b, err := newBench(serveCtx, cfg, benchOptions{simulate: *simulate || cfg.GetSimulate()})
	if err != nil {
		log.Printf("failed to set up bench: %v", err)
		return 1
	}
	defer b.Close()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go watchSignals(sigs, func() { cancelScan(); stopServing() }, b.EmergencyStop)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer stopServing()

	mux := http.NewServeMux()
	if err := b.Routes(mux); err != nil {
		log.Printf("failed to attach routes: %v", err)
		return 1
	}
	if *listen != "" {
		serve(serveCtx, &wg, *listen, mux)
	}
	if addr := cfg.GetMetricsAddr(); addr != "" {
		serve(serveCtx, &wg, addr, b.metrics.Handler())
	}

	var s *scan.Scan
	if *mode == "fly" {
		s, err = b.RunFly(scanCtx)
	} else {
		s, err = b.RunStep(scanCtx)
	}
	switch {
	case err == nil:
		log.Printf("scan %s completed with %d points", s.ID, s.PointCount())
	case errors.Is(err, executor.ErrScanCancelled):
		log.Printf("scan %s cancelled after %d points", s.ID, s.PointCount())
		err = nil
	default:
		log.Printf("scan failed: %v", err)
	}

	if *hold && *listen != "" && serveCtx.Err() == nil {
		log.Print("scan finished, serving until interrupted")
		<-serveCtx.Done()
	}
	if err != nil {
		return 1
	}
	return 0
}
