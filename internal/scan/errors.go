package scan

import (
	"errors"
	"fmt"
)

// ErrEventBufferFull is returned by mutations that would grow the pending
// event buffer past its capacity. The owner must drain before continuing.
var ErrEventBufferFull = errors.New("scan event buffer full")

// ConfigurationError reports an invalid scan, motion or fly-scan setting. It
// is raised before execution starts, never from inside the scan loop.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StateTransitionError reports an operation that is not allowed in the
// current state of a scan or atomic motion.
type StateTransitionError struct {
	Entity string
	Op     string
	From   string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from state %s", e.Entity, e.Op, e.From)
}
