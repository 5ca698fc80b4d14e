package detection

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// TimestampKind tags how a timestamp arrived from the backend.
type TimestampKind int

const (
	TimestampMissing TimestampKind = iota
	TimestampEpoch
	TimestampText
)

// Timestamp keeps the raw timestamp untouched until render time, so a malformed
// date string never fails normalization and epoch seconds keep full precision.
type Timestamp struct {
	Kind    TimestampKind `json:"kind"`
	Seconds float64       `json:"seconds,omitempty"`
	Text    string        `json:"text,omitempty"`
}

// Canonical is the schema-independent detection record.
// Confidence and Motion are nil when absent or not a finite number.
// CropURL is empty when the record has no crop.
type Canonical struct {
	Label      string    `json:"label"`
	HumanID    string    `json:"human_id"`
	Confidence *float64  `json:"confidence"`
	Timestamp  Timestamp `json:"timestamp"`
	Posture    string    `json:"posture"`
	Motion     *float64  `json:"motion"`
	ScaleHint  bool      `json:"scale_hint"`
	CropURL    string    `json:"crop_url"`
}

// Normalize maps a raw record to its canonical form. It never fails.
func Normalize(raw Raw) Canonical {
	return Canonical{
		Label:      firstText(raw, "label", "class"),
		HumanID:    firstText(raw, "human_id", "id"),
		Confidence: ToNumber(raw["confidence"]),
		Timestamp:  toTimestamp(raw["timestamp"]),
		Posture:    firstText(raw, "posture_hint"),
		Motion:     ToNumber(raw["motion_score"]),
		ScaleHint:  Truthy(raw["child_by_scale_hint"]),
		CropURL:    firstText(raw, "crop_url", "crop_path"),
	}
}

// NormalizeAll normalizes every element, preserving order.
func NormalizeAll(raws []Raw) []Canonical {
	out := make([]Canonical, len(raws))
	for i, raw := range raws {
		out[i] = Normalize(raw)
	}
	return out
}

// ToNumber converts JSON numbers and numeric strings to a finite float.
// Everything else, including empty strings and booleans, yields nil.
func ToNumber(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Truthy applies JavaScript truthiness: "", 0, NaN, false and null are false.
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	case json.Number:
		f, err := strconv.ParseFloat(b.String(), 64)
		return err == nil && f != 0 && !math.IsNaN(f)
	case float64:
		return b != 0 && !math.IsNaN(b)
	case int:
		return b != 0
	default:
		return true
	}
}

func firstText(raw Raw, keys ...string) string {
	for _, key := range keys {
		if !Truthy(raw[key]) {
			continue
		}
		if s := textOf(raw[key]); s != "" {
			return s
		}
	}
	return ""
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		// Objects and arrays have no sensible text form in a table cell.
		return ""
	}
}

func toTimestamp(v any) Timestamp {
	switch t := v.(type) {
	case nil:
		return Timestamp{Kind: TimestampMissing}
	case json.Number, float64, int, int64:
		if n := ToNumber(t); n != nil {
			return Timestamp{Kind: TimestampEpoch, Seconds: *n}
		}
		return Timestamp{Kind: TimestampText, Text: textOf(t)}
	case string:
		return Timestamp{Kind: TimestampText, Text: t}
	default:
		return Timestamp{Kind: TimestampMissing}
	}
}
