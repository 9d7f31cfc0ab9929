package scan

// DefaultProfileThresholdMM separates short (slow) from long (fast) moves.
const DefaultProfileThresholdMM = 5.0

var (
	// DefaultSlowProfile is used for short, precise repositioning moves.
	DefaultSlowProfile = MotionProfile{MinSpeed: 0.1, TargetSpeed: 1.0, Acceleration: 0.5, Deceleration: 0.5}
	// DefaultFastProfile is used for long traversals.
	DefaultFastProfile = MotionProfile{MinSpeed: 0.5, TargetSpeed: 10.0, Acceleration: 5.0, Deceleration: 5.0}
)

// ProfileSelector picks a speed envelope by displacement length.
type ProfileSelector struct {
	Slow        MotionProfile
	Fast        MotionProfile
	ThresholdMM float64
}

// DefaultProfileSelector returns the stock slow/fast selector.
func DefaultProfileSelector() ProfileSelector {
	return ProfileSelector{
		Slow:        DefaultSlowProfile,
		Fast:        DefaultFastProfile,
		ThresholdMM: DefaultProfileThresholdMM,
	}
}

// SelectForDistance returns Slow for distances below the threshold and Fast
// otherwise. A distance equal to the threshold selects Fast.
func (s ProfileSelector) SelectForDistance(distance float64) MotionProfile {
	if distance < s.ThresholdMM {
		return s.Slow
	}
	return s.Fast
}

// Validate checks both profiles and the threshold.
func (s ProfileSelector) Validate() error {
	if err := s.Slow.Validate(); err != nil {
		return err
	}
	if err := s.Fast.Validate(); err != nil {
		return err
	}
	if s.ThresholdMM < 0 {
		return configErr("profile_threshold_mm", "must be >= 0, got %v", s.ThresholdMM)
	}
	return nil
}
