package timeutil

import (
	"encoding/json"
	"strconv"
	"time"
)

// Time is serialized as milliseconds since the Unix epoch, the resolution
// profile creation times are persisted with.
type Time struct {
	t time.Time
}

// FromMillis returns the Time for ms milliseconds since the Unix epoch.
// Zero means "unknown" and yields the zero Time.
func FromMillis(ms int64) Time {
	if ms == 0 {
		return Time{}
	}
	return Time{t: time.UnixMilli(ms)}
}

func New(t time.Time) Time {
	return Time{t: t}
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == "{}" {
		return nil
	}
	if s[0] == '"' {
		tt, err := time.Parse(`"`+time.RFC3339Nano+`"`, s)
		if err != nil {
			return err
		}
		t.t = tt
	} else {
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*t = FromMillis(i)
	}
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Millis())
}

// Millis returns the milliseconds since the Unix epoch, 0 for the zero Time.
func (t Time) Millis() int64 {
	if t.t.IsZero() {
		return 0
	}
	return t.t.UnixMilli()
}

func (t Time) IsZero() bool {
	return t.t.IsZero()
}

func (t Time) Time() time.Time {
	return t.t
}
