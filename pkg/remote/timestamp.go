package remote

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a remote modification time normalized to seconds since the
// Unix epoch, or unknown when the hub did not provide a usable value.
// The zero value is unknown.
type Timestamp struct {
	seconds float64
	known   bool
}

// Epoch returns a known timestamp of the given seconds since the Unix epoch.
func Epoch(seconds float64) Timestamp {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return Timestamp{}
	}
	return Timestamp{seconds: seconds, known: true}
}

// Unknown is the timestamp of a file whose modification time could not be
// extracted.
var Unknown = Timestamp{}

// FromTime converts a wall clock time into a known timestamp.
func FromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return Unknown
	}
	return Epoch(float64(t.UnixNano()) / 1e9)
}

// Seconds returns the epoch seconds and whether the timestamp is known.
func (t Timestamp) Seconds() (float64, bool) {
	return t.seconds, t.known
}

// Known reports whether the timestamp carries a value.
func (t Timestamp) Known() bool {
	return t.known
}

// Time returns the timestamp as a time.Time in the local zone, or the zero
// time when unknown.
func (t Timestamp) Time() time.Time {
	if !t.known {
		return time.Time{}
	}
	sec, frac := math.Modf(t.seconds)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func (t Timestamp) String() string {
	if !t.known {
		return "unknown"
	}
	return t.Time().Format(time.RFC3339)
}

// DateTime is the structured form of a remote modification time.
type DateTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// Timestamp interprets the date in the local zone, the same clock the local
// filesystem reports modification times in.
func (d DateTime) Timestamp() Timestamp {
	if d.Year == 0 || d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 {
		return Unknown
	}
	return FromTime(time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, time.Local))
}

// ParseModified normalizes the modification time value of a data file.
// It accepts a numeric epoch (any Go number type, json.Number or a numeric
// string), a DateTime, *DateTime or time.Time. Anything else is Unknown;
// extraction failures never surface as errors.
func ParseModified(raw any) Timestamp {
	switch v := raw.(type) {
	case nil:
		return Unknown
	case Timestamp:
		return v
	case float64:
		return Epoch(v)
	case float32:
		return Epoch(float64(v))
	case int:
		return Epoch(float64(v))
	case int32:
		return Epoch(float64(v))
	case int64:
		return Epoch(float64(v))
	case uint32:
		return Epoch(float64(v))
	case uint64:
		return Epoch(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Unknown
		}
		return Epoch(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Unknown
		}
		return Epoch(f)
	case DateTime:
		return v.Timestamp()
	case *DateTime:
		if v == nil {
			return Unknown
		}
		return v.Timestamp()
	case time.Time:
		return FromTime(v)
	default:
		return Unknown
	}
}

// UnmarshalJSON accepts either a JSON number (or numeric string) or a
// structured {year, month, day, hour, minute, second} object.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Unknown
		return nil
	}

	switch data[0] {
	case '{':
		var dt DateTime
		if err := json.Unmarshal(data, &dt); err != nil {
			*t = Unknown
			return nil
		}
		*t = dt.Timestamp()
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*t = Unknown
			return nil
		}
		*t = ParseModified(s)
	default:
		*t = ParseModified(json.Number(data))
	}

	return nil
}

// MarshalJSON writes known timestamps as epoch seconds and unknown ones as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.known {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(t.seconds, 'f', -1, 64)), nil
}
