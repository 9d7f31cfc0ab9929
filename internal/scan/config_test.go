package scan

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepScanConfig_Validate(t *testing.T) {
	base := stepConfig(2, 3)
	assert.NoError(t, base.Validate())
	assert.Equal(t, 6, base.TotalPoints())

	tests := []struct {
		name  string
		mut   func(*StepScanConfig)
		field string
	}{
		{"y points", func(c *StepScanConfig) { c.YPoints = 0 }, "y_points"},
		{"negative stabilization", func(c *StepScanConfig) { c.StabilizationDelay = -time.Millisecond }, "stabilization_delay"},
		{"averaging", func(c *StepScanConfig) { c.AveragingPerPosition = 0 }, "averaging_per_position"},
		{"uncertainty", func(c *StepScanConfig) { c.UncertaintyVolts = 0 }, "uncertainty_volts"},
		{"pattern", func(c *StepScanConfig) { c.Pattern = "" }, "pattern"},
		{"zone", func(c *StepScanConfig) { c.Zone.YMin = 20 }, "scan_zone.y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mut(&cfg)
			var cfgErr *ConfigurationError
			if assert.True(t, errors.As(cfg.Validate(), &cfgErr)) {
				assert.Equal(t, tt.field, cfgErr.Field)
			}
		})
	}
}

func TestStepScanConfig_EstimatedDuration(t *testing.T) {
	cfg := stepConfig(2, 2)
	cfg.StabilizationDelay = 50 * time.Millisecond
	cfg.AveragingPerPosition = 3
	assert.Equal(t, 4*(50*time.Millisecond+300*time.Millisecond), cfg.EstimatedDuration())
}

func TestFlyScanConfig(t *testing.T) {
	cfg := flyConfig().WithDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 9, cfg.TotalGridPoints())
	assert.InDelta(t, 20.0, cfg.RequiredMinimumRateHz(), 1e-12)

	cfg.XPoints = 1
	assert.Error(t, cfg.Validate())

	cfg = flyConfig()
	assert.Error(t, cfg.Validate(), "zero gap without defaults")

	cfg = flyConfig().WithDefaults()
	cfg.DesiredRateHz = -1
	assert.Error(t, cfg.Validate())

	cfg = flyConfig().WithDefaults()
	cfg.Profile.MinSpeed = 20
	assert.Error(t, cfg.Validate())
}
