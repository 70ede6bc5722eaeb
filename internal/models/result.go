package models

// RunMetrics holds the optional kinematic measurements captured during a
// sprint, submitted alongside the finish time.
type RunMetrics struct {
	StepCount          int     `json:"step_count,omitempty"`
	AvgStepLengthM     float64 `json:"avg_step_length_m,omitempty"`
	MaxSpeedMS         float64 `json:"max_speed_ms,omitempty"`
	MaxAccelerationMS2 float64 `json:"max_acceleration_ms2,omitempty"`
	DistanceM          float64 `json:"distance_m,omitempty"`
}

// DuelResult is one runner's confirmed time for a completed duel.
type DuelResult struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	TimeMs   int64  `json:"time_ms"`
}
