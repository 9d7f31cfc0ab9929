package acquisition

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

// DefaultTriggerCommand asks the acquisition MCU for one conversion.
const DefaultTriggerCommand = "m"

// Querier sends a command line and returns the reply line.
type Querier interface {
	Query(ctx context.Context, command string) (string, error)
}

// LineSource reads samples from an MCU that answers each trigger with a
// comma separated line of channel values.
type LineSource struct {
	line     Querier
	trigger  string
	channels int
	timeout  time.Duration
	clock    timeutil.Clock
}

// NewLineSource builds a LineSource expecting channels values per reply.
func NewLineSource(line Querier, channels int, clock timeutil.Clock) *LineSource {
	if channels <= 0 {
		channels = len(scan.DefaultChannels)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &LineSource{
		line:     line,
		trigger:  DefaultTriggerCommand,
		channels: channels,
		timeout:  time.Second,
		clock:    clock,
	}
}

// SetTrigger replaces the trigger command. An empty command is ignored.
func (l *LineSource) SetTrigger(cmd string) {
	if cmd != "" {
		l.trigger = cmd
	}
}

func (l *LineSource) AcquireSample(ctx context.Context) (scan.Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	reply, err := l.line.Query(ctx, l.trigger)
	if err != nil {
		return scan.Measurement{}, fmt.Errorf("acquire: %w", err)
	}
	values, err := ParseSampleLine(reply, l.channels)
	if err != nil {
		return scan.Measurement{}, err
	}
	return scan.Measurement{Timestamp: l.clock.Now(), Values: values}, nil
}

// ParseSampleLine parses "v1,v2,...". Whitespace around values is ignored.
func ParseSampleLine(line string, channels int) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != channels {
		return nil, fmt.Errorf("sample line has %d values, expected %d: %q", len(fields), channels, line)
	}
	out := make([]float64, channels)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
