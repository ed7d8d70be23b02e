package logging

import (
	"path/filepath"
	"time"
)

// SessionFiles are the per-run log files under the logs dir. Names carry
// the session start so consecutive runs never share a file.
type SessionFiles struct {
	Log  string
	OTel string
}

func NewSessionFiles(logsDir, app string, start time.Time) SessionFiles {
	stamp := start.Format("20060102_150405")
	return SessionFiles{
		Log:  filepath.Join(logsDir, app+"."+stamp+".log"),
		OTel: filepath.Join(logsDir, app+"."+stamp+".otel.jsonl"),
	}
}
