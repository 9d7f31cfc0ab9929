package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/scanbench/internal/flyscan"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/serialmux"
	"github.com/banshee-data/scanbench/internal/timeutil"
	"github.com/banshee-data/scanbench/internal/units"
)

// DefaultConfigPath is where the bench CLI looks for its config when no
// -config flag is given.
const DefaultConfigPath = "config/bench.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

//go:embed bench.defaults.json
var defaultsJSON []byte

// BenchConfig is the root bench configuration. Every leaf is a pointer so
// a partial file only overrides what it names; the Get* methods supply the
// defaults for anything left unset.
type BenchConfig struct {
	Motion      MotionConfig      `json:"motion"`
	Acquisition AcquisitionConfig `json:"acquisition"`
	Feasibility FeasibilityConfig `json:"feasibility"`
	Executor    ExecutorConfig    `json:"executor"`

	StepScan *scan.StepScanConfig `json:"step_scan,omitempty"`
	FlyScan  *scan.FlyScanConfig  `json:"fly_scan,omitempty"`

	JournalPath *string `json:"journal_path,omitempty"`
	MetricsAddr *string `json:"metrics_addr,omitempty"`
	Simulate    *bool   `json:"simulate,omitempty"`
}

// MotionConfig covers the stage controller link and the motion queue.
type MotionConfig struct {
	SerialPort         *string             `json:"serial_port,omitempty"`
	BaudRate           *int                `json:"baud_rate,omitempty"`
	MicronsPerStep     *float64            `json:"microns_per_step,omitempty"`
	TravelLimitMM      *float64            `json:"travel_limit_mm,omitempty"`
	SlowProfile        *scan.MotionProfile `json:"slow_profile,omitempty"`
	FastProfile        *scan.MotionProfile `json:"fast_profile,omitempty"`
	ProfileThresholdMM *float64            `json:"profile_threshold_mm,omitempty"`
	MoveTimeout        *string             `json:"move_timeout,omitempty"`      // duration string like "30s"
	SettleDelay        *string             `json:"settle_delay,omitempty"`      // duration string like "250ms"
	PollInterval       *string             `json:"poll_interval,omitempty"`     // worker stop polling
	PositionInterval   *string             `json:"position_interval,omitempty"` // position monitor period
}

// AcquisitionConfig covers the probe. An empty serial port selects the
// simulated noise source.
type AcquisitionConfig struct {
	SerialPort     *string  `json:"serial_port,omitempty"`
	BaudRate       *int     `json:"baud_rate,omitempty"`
	Channels       *int     `json:"channels,omitempty"`
	NoiseSigma     *float64 `json:"noise_sigma,omitempty"`
	SampleTime     *string  `json:"sample_time,omitempty"`
	Seed           *uint64  `json:"seed,omitempty"`
	TriggerCommand *string  `json:"trigger_command,omitempty"`
}

// FeasibilityConfig tunes the fly-scan rate check.
type FeasibilityConfig struct {
	CVThresholdPct *float64 `json:"cv_threshold_pct,omitempty"`
	Sigma          *float64 `json:"sigma,omitempty"`
	MaxAge         *string  `json:"max_age,omitempty"`
}

// ExecutorConfig tunes the scan loop.
type ExecutorConfig struct {
	PollInterval  *string `json:"poll_interval,omitempty"`
	MotionTimeout *string `json:"motion_timeout,omitempty"`
	EventCapacity *int    `json:"event_capacity,omitempty"`
}

// envOverrides are applied after the file is parsed. Unset variables leave
// the pointers nil.
type envOverrides struct {
	SerialPort  *string `env:"SCANBENCH_SERIAL_PORT"`
	JournalPath *string `env:"SCANBENCH_JOURNAL_PATH"`
	Simulate    *bool   `env:"SCANBENCH_SIMULATE"`
}

// EmptyBenchConfig returns a BenchConfig with every field unset.
func EmptyBenchConfig() *BenchConfig {
	return &BenchConfig{}
}

// DefaultBenchConfig returns the embedded defaults.
func DefaultBenchConfig() *BenchConfig {
	cfg := EmptyBenchConfig()
	if err := json.Unmarshal(defaultsJSON, cfg); err != nil {
		panic(fmt.Sprintf("embedded bench defaults: %v", err))
	}
	return cfg
}

// LoadBenchConfig loads a BenchConfig from a JSON file, applies the
// SCANBENCH_* environment overrides and validates the result.
func LoadBenchConfig(path string) (*BenchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBenchConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays SCANBENCH_SERIAL_PORT, SCANBENCH_JOURNAL_PATH and
// SCANBENCH_SIMULATE onto c.
func (c *BenchConfig) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.SerialPort != nil {
		c.Motion.SerialPort = o.SerialPort
	}
	if o.JournalPath != nil {
		c.JournalPath = o.JournalPath
	}
	if o.Simulate != nil {
		c.Simulate = o.Simulate
	}
	return nil
}

// Validate checks that set values are usable.
func (c *BenchConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"motion.move_timeout", c.Motion.MoveTimeout},
		{"motion.settle_delay", c.Motion.SettleDelay},
		{"motion.poll_interval", c.Motion.PollInterval},
		{"motion.position_interval", c.Motion.PositionInterval},
		{"acquisition.sample_time", c.Acquisition.SampleTime},
		{"feasibility.max_age", c.Feasibility.MaxAge},
		{"executor.poll_interval", c.Executor.PollInterval},
		{"executor.motion_timeout", c.Executor.MotionTimeout},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, v)
		}
	}

	if c.Motion.BaudRate != nil && *c.Motion.BaudRate <= 0 {
		return fmt.Errorf("motion.baud_rate must be positive, got %d", *c.Motion.BaudRate)
	}
	if c.Acquisition.BaudRate != nil && *c.Acquisition.BaudRate <= 0 {
		return fmt.Errorf("acquisition.baud_rate must be positive, got %d", *c.Acquisition.BaudRate)
	}
	if err := c.Motion.GetCalibration().Validate(); err != nil {
		return fmt.Errorf("motion.microns_per_step: %w", err)
	}
	if c.Motion.TravelLimitMM != nil && *c.Motion.TravelLimitMM < 0 {
		return fmt.Errorf("motion.travel_limit_mm must be non-negative, got %f", *c.Motion.TravelLimitMM)
	}
	if err := c.Motion.GetSelector().Validate(); err != nil {
		return fmt.Errorf("motion profiles: %w", err)
	}
	if c.Acquisition.Channels != nil && *c.Acquisition.Channels <= 0 {
		return fmt.Errorf("acquisition.channels must be positive, got %d", *c.Acquisition.Channels)
	}
	if c.Acquisition.NoiseSigma != nil && *c.Acquisition.NoiseSigma < 0 {
		return fmt.Errorf("acquisition.noise_sigma must be non-negative, got %f", *c.Acquisition.NoiseSigma)
	}
	if c.Feasibility.CVThresholdPct != nil && *c.Feasibility.CVThresholdPct <= 0 {
		return fmt.Errorf("feasibility.cv_threshold_pct must be positive, got %f", *c.Feasibility.CVThresholdPct)
	}
	if c.Feasibility.Sigma != nil && *c.Feasibility.Sigma < 0 {
		return fmt.Errorf("feasibility.sigma must be non-negative, got %f", *c.Feasibility.Sigma)
	}
	if c.Executor.EventCapacity != nil && *c.Executor.EventCapacity <= 0 {
		return fmt.Errorf("executor.event_capacity must be positive, got %d", *c.Executor.EventCapacity)
	}
	if c.StepScan != nil {
		if err := c.StepScan.Validate(); err != nil {
			return fmt.Errorf("step_scan: %w", err)
		}
	}
	if c.FlyScan != nil {
		if err := c.FlyScan.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("fly_scan: %w", err)
		}
	}
	return nil
}

// GetJournalPath returns the journal database path or the default.
func (c *BenchConfig) GetJournalPath() string {
	if c.JournalPath == nil || *c.JournalPath == "" {
		return "scanbench.db"
	}
	return *c.JournalPath
}

// GetMetricsAddr returns the metrics listen address. Empty disables the
// endpoint.
func (c *BenchConfig) GetMetricsAddr() string {
	if c.MetricsAddr == nil {
		return ""
	}
	return *c.MetricsAddr
}

// GetSimulate reports whether the bench should run without hardware.
func (c *BenchConfig) GetSimulate() bool {
	if c.Simulate == nil {
		return false
	}
	return *c.Simulate
}

// GetSerialPort returns the stage controller device path or the default.
func (m MotionConfig) GetSerialPort() string {
	if m.SerialPort == nil || *m.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *m.SerialPort
}

// GetPortOptions returns the serial settings for the stage controller.
func (m MotionConfig) GetPortOptions() serialmux.PortOptions {
	opts := serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate}
	if m.BaudRate != nil {
		opts.BaudRate = *m.BaudRate
	}
	return opts
}

// GetCalibration returns the step calibration or the default.
func (m MotionConfig) GetCalibration() units.Calibration {
	if m.MicronsPerStep == nil {
		return units.DefaultCalibration()
	}
	return units.Calibration{MicronsPerStep: *m.MicronsPerStep}
}

// GetTravelLimitMM returns the per-axis travel limit or the default.
func (m MotionConfig) GetTravelLimitMM() float64 {
	if m.TravelLimitMM == nil {
		return units.DefaultTravelLimitMM
	}
	return *m.TravelLimitMM
}

// GetSelector builds the slow/fast profile selector, falling back to the
// stock profiles for anything unset.
func (m MotionConfig) GetSelector() scan.ProfileSelector {
	sel := scan.DefaultProfileSelector()
	if m.SlowProfile != nil {
		sel.Slow = *m.SlowProfile
	}
	if m.FastProfile != nil {
		sel.Fast = *m.FastProfile
	}
	if m.ProfileThresholdMM != nil {
		sel.ThresholdMM = *m.ProfileThresholdMM
	}
	return sel
}

// GetMoveTimeout returns the per-move stop timeout or the default.
func (m MotionConfig) GetMoveTimeout() time.Duration {
	return parseDuration(m.MoveTimeout, 30*time.Second)
}

// GetSettleDelay returns the post-command settle delay or the default.
func (m MotionConfig) GetSettleDelay() time.Duration {
	return parseDuration(m.SettleDelay, 250*time.Millisecond)
}

// GetPollInterval returns the motion worker poll interval or the default.
func (m MotionConfig) GetPollInterval() time.Duration {
	return parseDuration(m.PollInterval, 100*time.Millisecond)
}

// GetPositionInterval returns the position monitor period or the default.
func (m MotionConfig) GetPositionInterval() time.Duration {
	return parseDuration(m.PositionInterval, 150*time.Millisecond)
}

// GetSerialPort returns the probe device path. Empty means simulated.
func (a AcquisitionConfig) GetSerialPort() string {
	if a.SerialPort == nil {
		return ""
	}
	return *a.SerialPort
}

// GetPortOptions returns the serial settings for the probe MCU.
func (a AcquisitionConfig) GetPortOptions() serialmux.PortOptions {
	opts := serialmux.PortOptions{BaudRate: 115200}
	if a.BaudRate != nil {
		opts.BaudRate = *a.BaudRate
	}
	return opts
}

// GetChannels returns the channel count or the default.
func (a AcquisitionConfig) GetChannels() int {
	if a.Channels == nil {
		return len(scan.DefaultChannels)
	}
	return *a.Channels
}

// GetNoiseSigma returns the simulated noise sigma in volts or the default.
func (a AcquisitionConfig) GetNoiseSigma() float64 {
	if a.NoiseSigma == nil {
		return 0.001
	}
	return *a.NoiseSigma
}

// GetSampleTime returns the simulated conversion time or the default.
func (a AcquisitionConfig) GetSampleTime() time.Duration {
	return parseDuration(a.SampleTime, 20*time.Millisecond)
}

// GetSeed returns the simulated noise seed or the default.
func (a AcquisitionConfig) GetSeed() uint64 {
	if a.Seed == nil {
		return 1
	}
	return *a.Seed
}

// GetTriggerCommand returns the probe trigger command or the default.
func (a AcquisitionConfig) GetTriggerCommand() string {
	if a.TriggerCommand == nil || *a.TriggerCommand == "" {
		return "m"
	}
	return *a.TriggerCommand
}

// GetValidator builds a feasibility validator on clock.
func (f FeasibilityConfig) GetValidator(clock timeutil.Clock) flyscan.Validator {
	v := flyscan.NewValidator()
	if f.CVThresholdPct != nil {
		v.CVThresholdPct = *f.CVThresholdPct
	}
	if f.Sigma != nil {
		v.Sigma = *f.Sigma
	}
	v.MaxAge = parseDuration(f.MaxAge, flyscan.DefaultMaxAge)
	if clock != nil {
		v.Clock = clock
	}
	return v
}

// GetPollInterval returns the executor poll interval or the default.
func (e ExecutorConfig) GetPollInterval() time.Duration {
	return parseDuration(e.PollInterval, 50*time.Millisecond)
}

// GetMotionTimeout returns the executor's per-move wait or the default.
func (e ExecutorConfig) GetMotionTimeout() time.Duration {
	return parseDuration(e.MotionTimeout, 30*time.Second)
}

// GetEventCapacity returns the scan event buffer size or the default.
func (e ExecutorConfig) GetEventCapacity() int {
	if e.EventCapacity == nil {
		return scan.DefaultEventCapacity
	}
	return *e.EventCapacity
}

func parseDuration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}
