// internal/model/sentat.go
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var sentAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// SentAt is the client supplied creation time. Clients send either a JSON
// number (epoch milliseconds) or a string, and the original form is kept.
type SentAt struct {
	raw     string
	numeric bool
}

// SentAtMillis builds a numeric SentAt from epoch milliseconds.
func SentAtMillis(ms int64) SentAt {
	return SentAt{raw: strconv.FormatInt(ms, 10), numeric: true}
}

// SentAtString builds a string SentAt.
func SentAtString(s string) SentAt {
	return SentAt{raw: s}
}

func (s SentAt) IsZero() bool { return s.raw == "" }

func (s SentAt) String() string { return s.raw }

// Time interprets the value. Numbers and numeric strings are epoch
// milliseconds. ok is false when the value cannot be parsed.
func (s SentAt) Time() (t time.Time, ok bool) {
	raw := strings.TrimSpace(s.raw)
	if raw == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		// ParseFloat also accepts NaN and Inf spellings, which are not timestamps
		if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(f)).UTC(), true
	}
	for _, layout := range sentAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (s SentAt) MarshalJSON() ([]byte, error) {
	if s.raw == "" {
		return []byte("null"), nil
	}
	if s.numeric {
		return []byte(s.raw), nil
	}
	return json.Marshal(s.raw)
}

func (s *SentAt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = SentAt{}
	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SentAt{raw: str}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("timestamp must be a number or a string: %w", err)
		}
		*s = SentAt{raw: n.String(), numeric: true}
	}
	return nil
}
