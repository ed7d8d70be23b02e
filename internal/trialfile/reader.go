package trialfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/aerolab/flighttrials/pkg/core"
)

// ErrBadPreamble is returned when a file does not start with a trial log preamble.
var ErrBadPreamble = errors.New("malformed trial log preamble")

// Preamble is the parsed metadata block of a trial log.
type Preamble struct {
	Columns              []string
	Date                 string
	Time                 string
	Distance             float64
	Velocity             float64
	HorizontalSeparation float64
	HeightAboveDefault   float64
	Trial                int
}

// Log is a parsed trial log. Skipped counts data rows that could not be
// parsed, such as a last line truncated by a crash.
type Log struct {
	Path     string
	Preamble Preamble
	Records  []core.TelemetryRecord
	Skipped  int
}

// Read parses the trial log at path.
func Read(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.Path = path
	return l, nil
}

// Parse reads a trial log from r.
func Parse(r io.Reader) (*Log, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	l := &Log{}

	if !sc.Scan() {
		return nil, fmt.Errorf("%w: empty file", ErrBadPreamble)
	}
	l.Preamble.Columns = strings.Split(strings.TrimSpace(sc.Text()), ",")

	if !sc.Scan() || strings.TrimSpace(sc.Text()) != Delimiter {
		return nil, fmt.Errorf("%w: missing opening delimiter", ErrBadPreamble)
	}

	closed := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == Delimiter {
			closed = true
			break
		}
		if err := l.Preamble.set(line); err != nil {
			return nil, err
		}
	}
	if !closed {
		return nil, fmt.Errorf("%w: missing closing delimiter", ErrBadPreamble)
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := ParseRow(line)
		if err != nil {
			l.Skipped++
			continue
		}
		l.Records = append(l.Records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return l, nil
}

func (p *Preamble) set(line string) error {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return fmt.Errorf("%w: %q", ErrBadPreamble, line)
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	var err error
	switch key {
	case KeyDate:
		p.Date = value
	case KeyTime:
		p.Time = value
	case KeyDistance:
		p.Distance, err = strconv.ParseFloat(value, 64)
	case KeyVelocity:
		p.Velocity, err = strconv.ParseFloat(value, 64)
	case KeyHorizontalSeparation:
		p.HorizontalSeparation, err = strconv.ParseFloat(value, 64)
	case KeyHeightAboveDefault:
		p.HeightAboveDefault, err = strconv.ParseFloat(value, 64)
	case KeyTrial:
		p.Trial, err = strconv.Atoi(value)
	}
	// unknown keys from other log variants are ignored
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPreamble, key, err)
	}
	return nil
}

// ParseRow parses one data row.
func ParseRow(line string) (core.TelemetryRecord, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 10 {
		return core.TelemetryRecord{}, fmt.Errorf("expected 10 fields, got %d", len(fields))
	}

	ts, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return core.TelemetryRecord{}, fmt.Errorf("timestamp: %w", err)
	}

	var vals [8]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(fields[i+2], 64)
		if err != nil {
			return core.TelemetryRecord{}, fmt.Errorf("%s: %w", strings.Split(Header, ",")[i+2], err)
		}
	}

	return core.TelemetryRecord{
		URI:       fields[1],
		Timestamp: ts,
		State: core.VehicleState{
			Position:       core.Vec3{X: vals[0], Y: vals[1], Z: vals[2]},
			Velocity:       core.Vec3{X: vals[3], Y: vals[4], Z: vals[5]},
			BatteryVoltage: vals[6],
			BatteryPercent: vals[7],
		},
	}, nil
}
