// pkg/core/trial.go
package core

import "time"

// Maneuver names.
const (
	ManeuverSquareLap      = "square"
	ManeuverLeaderFollower = "formation"
	ManeuverDiagnostic     = "diagnostic"
	ManeuverSpeedSweep     = "sweep"
	ManeuverMoveForward    = "forward"
)

// TrialMetadata is written into the log file preamble.
type TrialMetadata struct {
	Start                time.Time `json:"start"`
	Distance             float64   `json:"distance"`
	Velocity             float64   `json:"velocity"`
	HorizontalSeparation float64   `json:"horizontalSeparation"`
	HeightAboveDefault   float64   `json:"heightAboveDefault"`
	Trial                int       `json:"trial"`
}

// Trial is one maneuver execution and its single log file.
type Trial struct {
	ID         uint          `json:"id"`
	URI        string        `json:"uri"`
	Maneuver   string        `json:"maneuver"`
	LogPath    string        `json:"logPath"`
	Metadata   TrialMetadata `json:"metadata"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    time.Time     `json:"endedAt"`
	Rows       int           `json:"rows"`
	Dropped    int           `json:"dropped"`
	Overspeeds int           `json:"overspeeds"`
	Error      string        `json:"error,omitempty"`
}

// Duration returns how long the trial ran. Zero until the trial has ended.
func (t Trial) Duration() time.Duration {
	if t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}
