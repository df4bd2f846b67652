package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FlexTime is a timestamp that marshals as RFC 3339 but unmarshals from
// either an RFC 3339 string or a numeric epoch in milliseconds. Older
// snapshots stored completion timestamps as raw millisecond numbers.
type FlexTime struct {
	time.Time
}

// NewFlexTime normalizes t to UTC so values compare and round-trip cleanly.
func NewFlexTime(t time.Time) FlexTime {
	return FlexTime{Time: t.UTC()}
}

// MarshalJSON encodes the zero value as null so "never set" survives a
// round trip.
func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to parse timestamp: %w", err)
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("failed to parse timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	var millis float64
	if err := json.Unmarshal(data, &millis); err != nil {
		return fmt.Errorf("failed to parse timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(millis)).UTC()
	return nil
}
