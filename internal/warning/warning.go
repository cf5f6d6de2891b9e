// Package warning turns distance samples into warning classifications.
// Classification is a pure mapping with no I/O so it can be exercised
// exhaustively in tests.
package warning

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Level is one of the four ordinal warning categories.
type Level int

const (
	Level1 Level = iota + 1
	Level2
	Level3
	Level4
)

// String returns the literal stored and uploaded for the level.
func (l Level) String() string {
	switch l {
	case Level1:
		return "WARNING-1"
	case Level2:
		return "WARNING-2"
	case Level3:
		return "WARNING-3"
	case Level4:
		return "WARNING-4"
	}
	return fmt.Sprintf("WARNING-?(%d)", int(l))
}

// ParseLevel maps a stored level literal back to its Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "WARNING-1":
		return Level1, nil
	case "WARNING-2":
		return Level2, nil
	case "WARNING-3":
		return Level3, nil
	case "WARNING-4":
		return Level4, nil
	}
	return 0, fmt.Errorf("unknown warning level %q", s)
}

// MarshalJSON emits the same literal the store and the log upload use.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Record is one persisted classification event. Records are immutable once
// created; the store only appends them.
type Record struct {
	Timestamp string  `json:"timestamp"`
	Level     Level   `json:"level"`
	Distance  float64 `json:"distance"`
	Xn        float64 `json:"xn"`
}

// TimestampFormat is UTC ISO-8601 with a trailing Z.
const TimestampFormat = "2006-01-02T15:04:05Z"

// NewRecord classifies distance and stamps the record with t in UTC.
func NewRecord(distance float64, t time.Time) Record {
	level, xn := Classify(distance)
	return Record{
		Timestamp: t.UTC().Format(TimestampFormat),
		Level:     level,
		Distance:  distance,
		Xn:        xn,
	}
}

// Classify maps a distance sample to a warning level and the derived xn
// value. xn is always in [0, 4). The distance is not validated or clamped;
// negative and zero distances classify like any other value.
func Classify(distance float64) (Level, float64) {
	t := 7*(distance*10) + 3
	xn := math.Mod(t, 4)
	// math.Mod keeps the sign of the dividend; fold negatives back into range.
	if xn < 0 {
		xn += 4
	}
	switch {
	case xn <= 1.5:
		return Level1, xn
	case xn <= 2.1:
		return Level2, xn
	case xn <= 3.1:
		return Level3, xn
	default:
		return Level4, xn
	}
}
