package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&Trial{},
	&TelemetrySample{},
	&StatusSnapshot{},
}

////////////////////////
// TRIAL MODELS
////////////////////////

// Trial is one maneuver execution and its log file
type Trial struct {
	gorm.Model
	URI                  string       `json:"uri" gorm:"size:127;index:idx_trial_uri"`
	Maneuver             string       `json:"maneuver" gorm:"size:32"`
	LogPath              string       `json:"logPath" gorm:"size:255"`
	StartedAt            time.Time    `json:"startedAt" gorm:"index:idx_trial_started_at"`
	EndedAt              sql.NullTime `json:"endedAt"`
	Distance             float64      `json:"distance"`
	Velocity             float64      `json:"velocity"`
	HorizontalSeparation float64      `json:"horizontalSeparation"`
	HeightAboveDefault   float64      `json:"heightAboveDefault"`
	TrialNumber          int          `json:"trial"`
	Rows                 int          `json:"rows"`
	Dropped              int          `json:"dropped"`
	Overspeeds           int          `json:"overspeeds"`
	Error                string       `json:"error" gorm:"size:2000"`
	// TrackWKT is the flown path as a LINESTRING Z in lab coordinates.
	TrackWKT    string         `json:"trackWkt" gorm:"type:text"`
	TrackLength float64        `json:"trackLength"` // meters, ground plane
	Metadata    datatypes.JSON `json:"metadata"`
	Samples     []TelemetrySample
}

func (*Trial) TableName() string {
	return "trials"
}

// TelemetrySample is one validated telemetry record
type TelemetrySample struct {
	ID               uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	TrialID          uint      `json:"trialId" gorm:"index:idx_sample_trial_id"`
	Trial            Trial     `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:TrialID;"`
	Time             time.Time `json:"time" gorm:"index:idx_sample_time"`
	VehicleTimestamp uint64    `json:"timestamp"`
	URI              string    `json:"uri" gorm:"size:127"`
	X                float64   `json:"x"`
	Y                float64   `json:"y"`
	Z                float64   `json:"z"`
	VX               float64   `json:"vx"`
	VY               float64   `json:"vy"`
	VZ               float64   `json:"vz"`
	BatteryVoltage   float64   `json:"batteryVoltage"`
	BatteryPercent   float64   `json:"batteryPercent"`
}

func (*TelemetrySample) TableName() string {
	return "telemetry_samples"
}

////////////////////////
// MONITORING
////////////////////////

// StatusSnapshot is a periodic per-vehicle health record written by the monitor
type StatusSnapshot struct {
	ID      uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time    time.Time      `json:"time" gorm:"index:idx_status_time"`
	URI     string         `json:"uri" gorm:"size:127"`
	Samples uint64         `json:"samples"`
	StaleMs int64          `json:"staleMs"`
	State   datatypes.JSON `json:"state"`
}

func (*StatusSnapshot) TableName() string {
	return "status_snapshots"
}
