package motion

import "github.com/banshee-data/scanbench/internal/geom"

const (
	TopicMotionStarted   = "motion.started"
	TopicMotionCompleted = "motion.completed"
	TopicMotionFailed    = "motion.failed"
	TopicPositionUpdated = "motion.position_updated"
	TopicEmergencyStop   = "motion.emergency_stop"
)

// MotionStarted is published by the worker just before a move is dispatched
// to the controller.
type MotionStarted struct {
	MotionID string
	Target   geom.Position2D
}

// MotionCompleted is published once both axes report stopped.
type MotionCompleted struct {
	MotionID      string
	FinalPosition geom.Position2D
	DurationMs    float64
}

// MotionFailed reports a command that errored, timed out, was stopped in
// flight, or was dropped from the queue.
type MotionFailed struct {
	MotionID string
	Error    string
}

// PositionUpdated is published by Monitor when the stage moves.
type PositionUpdated struct {
	Position geom.Position2D
	IsMoving bool
}

// EmergencyStopTriggered is published after both axes were told to abort.
type EmergencyStopTriggered struct {
	DroppedCommands int
}

func (MotionStarted) Topic() string          { return TopicMotionStarted }
func (MotionCompleted) Topic() string        { return TopicMotionCompleted }
func (MotionFailed) Topic() string           { return TopicMotionFailed }
func (PositionUpdated) Topic() string        { return TopicPositionUpdated }
func (EmergencyStopTriggered) Topic() string { return TopicEmergencyStop }
