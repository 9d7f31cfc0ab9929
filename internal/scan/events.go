package scan

import (
	"github.com/banshee-data/scanbench/internal/geom"
)

// Scan event topics.
const (
	TopicScanStarted       = "scan.started"
	TopicScanPointAcquired = "scan.point_acquired"
	TopicScanCompleted     = "scan.completed"
	TopicScanFailed        = "scan.failed"
	TopicScanCancelled     = "scan.cancelled"
	TopicScanPaused        = "scan.paused"
	TopicScanResumed       = "scan.resumed"
)

// ScanStarted is emitted when a scan enters RUNNING. Config is the
// StepScanConfig or FlyScanConfig the scan was started with.
type ScanStarted struct {
	ScanID         string
	Kind           Kind
	Config         any
	ExpectedPoints int
}

func (ScanStarted) Topic() string { return TopicScanStarted }

// ScanPointAcquired carries one averaged point.
type ScanPointAcquired struct {
	ScanID      string
	PointIndex  int
	Position    geom.Position2D
	Measurement PointResult
}

func (ScanPointAcquired) Topic() string { return TopicScanPointAcquired }

type ScanCompleted struct {
	ScanID      string
	TotalPoints int
}

func (ScanCompleted) Topic() string { return TopicScanCompleted }

type ScanFailed struct {
	ScanID string
	Reason string
}

func (ScanFailed) Topic() string { return TopicScanFailed }

type ScanCancelled struct {
	ScanID string
}

func (ScanCancelled) Topic() string { return TopicScanCancelled }

type ScanPaused struct {
	ScanID            string
	CurrentPointIndex int
}

func (ScanPaused) Topic() string { return TopicScanPaused }

type ScanResumed struct {
	ScanID               string
	ResumeFromPointIndex int
}

func (ScanResumed) Topic() string { return TopicScanResumed }
