// Package trialfile owns the on-disk trial log: one file per trial with a
// fixed preamble followed by one CSV row per telemetry sample.
package trialfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

// maxDailyIndex bounds the per-day name scan.
const maxDailyIndex = 10000

var (
	// ErrFileCollision is returned when no unused log name is left for the day.
	ErrFileCollision = errors.New("no free trial log name")
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("trial log closed")
)

// Name returns the log file name for a date and daily index.
func Name(day time.Time, index int) string {
	return fmt.Sprintf("%s-%d.csv", day.Format(dateLayout), index)
}

// Create allocates the next unused <date>-<n>.csv in folder and writes the
// preamble. Each candidate is created exclusively, so two processes sharing
// a folder never receive the same file.
func Create(folder string, meta core.TrialMetadata) (string, error) {
	if meta.Start.IsZero() {
		meta.Start = time.Now()
	}

	if err := os.MkdirAll(folder, 0755); err != nil {
		return "", fmt.Errorf("error creating log folder: %w", err)
	}

	for i := 0; i < maxDailyIndex; i++ {
		path := filepath.Join(folder, Name(meta.Start, i))

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("error creating trial log %s: %w", path, err)
		}

		if err := writePreamble(f, meta); err != nil {
			f.Close()
			return "", fmt.Errorf("error writing preamble to %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("error closing trial log %s: %w", path, err)
		}
		return path, nil
	}

	return "", fmt.Errorf("%w in %s for %s", ErrFileCollision, folder, meta.Start.Format(dateLayout))
}

func writePreamble(f *os.File, meta core.TrialMetadata) error {
	var b bytes.Buffer
	b.WriteString(Header + "\n")
	b.WriteString(Delimiter + "\n")
	fmt.Fprintf(&b, "%s: %s\n", KeyDate, meta.Start.Format(dateLayout))
	fmt.Fprintf(&b, "%s: %s\n", KeyTime, meta.Start.Format(timeLayout))
	fmt.Fprintf(&b, "%s: %s\n", KeyDistance, FormatFloat(meta.Distance))
	fmt.Fprintf(&b, "%s: %s\n", KeyVelocity, FormatFloat(meta.Velocity))
	fmt.Fprintf(&b, "%s: %s\n", KeyHorizontalSeparation, FormatFloat(meta.HorizontalSeparation))
	fmt.Fprintf(&b, "%s: %s\n", KeyHeightAboveDefault, FormatFloat(meta.HeightAboveDefault))
	fmt.Fprintf(&b, "%s: %d\n", KeyTrial, meta.Trial)
	b.WriteString(Delimiter + "\n")

	if _, err := f.Write(b.Bytes()); err != nil {
		return err
	}
	return f.Sync()
}

// Writer appends data rows to an existing trial log. It never creates or
// truncates, so the preamble cannot be rewritten through it.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	rows   int
	closed bool
}

// OpenAppend opens an existing trial log for appending rows.
func OpenAppend(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, fmt.Errorf("error opening trial log for append: %w", err)
	}
	return &Writer{f: f, path: path}, nil
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string {
	return w.path
}

// WriteRow appends one record as a single write.
func (w *Writer) WriteRow(rec core.TelemetryRecord) error {
	line := FormatRow(rec)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("error appending row to %s: %w", w.path, err)
	}
	w.rows++
	return nil
}

// Rows returns the number of rows written through this writer.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close syncs and closes the file. Further writes return ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	syncErr := w.f.Sync()
	if err := w.f.Close(); err != nil {
		return err
	}
	return syncErr
}

// FormatRow renders a record as one newline-terminated data row.
func FormatRow(rec core.TelemetryRecord) []byte {
	st := rec.State
	b := make([]byte, 0, 128)
	b = strconv.AppendUint(b, rec.Timestamp, 10)
	b = append(b, ',')
	b = append(b, rec.URI...)
	for _, v := range []float64{
		st.Position.X, st.Position.Y, st.Position.Z,
		st.Velocity.X, st.Velocity.Y, st.Velocity.Z,
		st.BatteryVoltage, st.BatteryPercent,
	} {
		b = append(b, ',')
		b = append(b, FormatFloat(v)...)
	}
	return append(b, '\n')
}
