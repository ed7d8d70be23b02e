package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/aerolab/flighttrials/internal/trialfile"
	"gonum.org/v1/gonum/stat"
)

// Summary describes one trial log.
type Summary struct {
	Path         string    `json:"path"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Trial        int       `json:"trial"`
	Distance     float64   `json:"distance"`
	Velocity     float64   `json:"velocity"`
	Samples      int       `json:"samples"`
	Skipped      int       `json:"skipped"`
	Duration     float64   `json:"duration"` // seconds
	StartVoltage float64   `json:"startVoltage"`
	EndVoltage   float64   `json:"endVoltage"`
	MeanSpeed    float64   `json:"meanSpeed"`
	MaxSpeed     float64   `json:"maxSpeed"`
	Voltage      LinearFit `json:"voltage"`
	BatteryLevel LinearFit `json:"batteryLevel"`
}

// Summarize reads a trial log, drops samples without a valid battery reading
// and fits voltage and battery level over time.
func Summarize(path string) (Summary, error) {
	l, err := trialfile.Read(path)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Path:     path,
		Date:     l.Preamble.Date,
		Time:     l.Preamble.Time,
		Trial:    l.Preamble.Trial,
		Distance: l.Preamble.Distance,
		Velocity: l.Preamble.Velocity,
		Skipped:  l.Skipped,
	}

	records := Filter(l.Records, ValidBattery())
	s.Samples = len(records)
	if len(records) == 0 {
		return s, fmt.Errorf("%s: %w", path, ErrInsufficientData)
	}

	xs := Seconds(records)
	s.Duration = xs[len(xs)-1]
	s.StartVoltage = records[0].State.BatteryVoltage
	s.EndVoltage = records[len(records)-1].State.BatteryVoltage

	speeds := GroundSpeeds(records)
	s.MeanSpeed = stat.Mean(speeds, nil)
	s.MaxSpeed = slices.Max(speeds)

	if s.Voltage, err = FitBatteryDrain(records); err != nil {
		return s, fmt.Errorf("%s: voltage: %w", path, err)
	}
	if s.BatteryLevel, err = FitBatteryPercent(records); err != nil {
		return s, fmt.Errorf("%s: battery level: %w", path, err)
	}
	return s, nil
}

// SummarizeFolder summarizes every *.csv in folder in name order. Logs that
// cannot be summarized are reported in the joined error and left out.
func SummarizeFolder(folder string) ([]Summary, error) {
	paths, err := filepath.Glob(filepath.Join(folder, "*.csv"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	var (
		out  []Summary
		errs []error
	)
	for _, p := range paths {
		s, err := Summarize(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}

// SummaryColumns is the header of the summary table.
var SummaryColumns = []string{
	"file", "date", "time", "trial", "distance", "velocity",
	"samples", "skipped", "duration_s", "start_v", "end_v",
	"mean_speed", "max_speed",
	"v_slope", "v_intercept", "v_r",
	"pct_slope", "pct_intercept", "pct_r",
}

// WriteSummaryCSV writes summaries as a CSV table with SummaryColumns.
func WriteSummaryCSV(w io.Writer, summaries []Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryColumns); err != nil {
		return err
	}
	f := trialfile.FormatFloat
	for _, s := range summaries {
		row := []string{
			filepath.Base(s.Path), s.Date, s.Time, strconv.Itoa(s.Trial),
			f(s.Distance), f(s.Velocity),
			strconv.Itoa(s.Samples), strconv.Itoa(s.Skipped),
			f(s.Duration), f(s.StartVoltage), f(s.EndVoltage),
			f(s.MeanSpeed), f(s.MaxSpeed),
			f(s.Voltage.Slope), f(s.Voltage.Intercept), f(s.Voltage.R),
			f(s.BatteryLevel.Slope), f(s.BatteryLevel.Intercept), f(s.BatteryLevel.R),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryFile writes the summary table to path.
func WriteSummaryFile(path string, summaries []Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSummaryCSV(f, summaries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
