package scan

// Status is the lifecycle state of a scan.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsFinal reports whether s is terminal.
func (s Status) IsFinal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether s is RUNNING or PAUSED.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// Kind distinguishes step scans from fly scans.
type Kind string

const (
	KindStep Kind = "STEP"
	KindFly  Kind = "FLY"
)
