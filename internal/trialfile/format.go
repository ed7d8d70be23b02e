package trialfile

import (
	"math"
	"strconv"
	"strings"
)

// Header is the column header row of every trial log.
const Header = "timestamp,uri,x,y,z,vx,vy,vz,batteryV,battery%"

// Delimiter brackets the metadata block.
const Delimiter = "=========================================="

// Metadata keys in preamble order.
const (
	KeyDate                 = "date"
	KeyTime                 = "time"
	KeyDistance             = "distance"
	KeyVelocity             = "velocity"
	KeyHorizontalSeparation = "horizontalSeparation"
	KeyHeightAboveDefault   = "heightAboveDefault"
	KeyTrial                = "trial"
)

// dateLayout and timeLayout format the preamble's date and time lines.
const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// FormatFloat renders v the way the analysis tooling has always read it:
// shortest round-trip digits, integral values keep a trailing ".0", and
// very small or very large magnitudes use exponent form.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
