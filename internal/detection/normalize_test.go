package detection

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeOne(t *testing.T, body string) Raw {
	t.Helper()
	list, err := DecodeList([]byte("[" + body + "]"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

func TestNormalizeCurrentSchema(t *testing.T) {
	raw := decodeOne(t, `{
		"timestamp": "2024-03-01T10:11:12.345",
		"source": "camera",
		"frame": 12,
		"label": "child",
		"human_id": "Child3",
		"track_id": 4,
		"confidence": 0.8712,
		"bbox": [1, 2, 3, 4],
		"crop_url": "/detections/child/20240301_Child3.jpg",
		"posture_hint": "standing/upright",
		"motion_score": 3.5,
		"child_by_scale_hint": true
	}`)

	got := Normalize(raw)

	assert.Equal(t, "child", got.Label)
	assert.Equal(t, "Child3", got.HumanID)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.8712, *got.Confidence, 1e-9)
	assert.Equal(t, Timestamp{Kind: TimestampText, Text: "2024-03-01T10:11:12.345"}, got.Timestamp)
	assert.Equal(t, "standing/upright", got.Posture)
	require.NotNil(t, got.Motion)
	assert.Equal(t, 3.5, *got.Motion)
	assert.True(t, got.ScaleHint)
	assert.Equal(t, "/detections/child/20240301_Child3.jpg", got.CropURL)
}

func TestNormalizeLegacySchema(t *testing.T) {
	raw := decodeOne(t, `{"class": "man", "id": "Man1", "confidence": 0.66, "timestamp": 1700000000, "crop_path": "detections/man/a.jpg"}`)

	got := Normalize(raw)

	assert.Equal(t, "man", got.Label)
	assert.Equal(t, "Man1", got.HumanID)
	assert.Equal(t, Timestamp{Kind: TimestampEpoch, Seconds: 1700000000}, got.Timestamp)
	assert.Equal(t, "detections/man/a.jpg", got.CropURL)
	assert.Empty(t, got.Posture)
	assert.Nil(t, got.Motion)
	assert.False(t, got.ScaleHint)
}

func TestNormalizePrecedenceSkipsEmpty(t *testing.T) {
	raw := decodeOne(t, `{"label": "", "class": "woman", "human_id": null, "id": 7, "crop_url": "", "crop_path": "p.jpg"}`)

	got := Normalize(raw)

	assert.Equal(t, "woman", got.Label)
	assert.Equal(t, "7", got.HumanID)
	assert.Equal(t, "p.jpg", got.CropURL)
}

func TestNormalizeNewSchemaWinsOverOld(t *testing.T) {
	raw := decodeOne(t, `{"label": "child", "class": "man", "human_id": "Child1", "id": "Man9", "crop_url": "a", "crop_path": "b"}`)

	got := Normalize(raw)

	assert.Equal(t, "child", got.Label)
	assert.Equal(t, "Child1", got.HumanID)
	assert.Equal(t, "a", got.CropURL)
}

func TestNormalizeInvalidNumbersBecomeNil(t *testing.T) {
	cases := []string{
		`{"confidence": "not-a-number", "motion_score": "NaN"}`,
		`{"confidence": true, "motion_score": ""}`,
		`{"confidence": {"v": 1}, "motion_score": [1]}`,
		`{"confidence": null}`,
		`{}`,
	}
	for _, body := range cases {
		got := Normalize(decodeOne(t, body))
		assert.Nil(t, got.Confidence, body)
		assert.Nil(t, got.Motion, body)
	}
}

func TestNormalizeNumericStrings(t *testing.T) {
	got := Normalize(decodeOne(t, `{"confidence": " 0.5 ", "motion_score": "12"}`))

	require.NotNil(t, got.Confidence)
	require.NotNil(t, got.Motion)
	assert.Equal(t, 0.5, *got.Confidence)
	assert.Equal(t, 12.0, *got.Motion)
}

func TestNormalizeNeverProducesNonFinite(t *testing.T) {
	raws := []Raw{
		{"confidence": math.NaN(), "motion_score": math.Inf(1)},
		{"confidence": "Infinity", "motion_score": "-Inf"},
		{"confidence": json.Number("1e400")},
	}
	for _, raw := range raws {
		got := Normalize(raw)
		assert.Nil(t, got.Confidence)
		assert.Nil(t, got.Motion)
	}
}

func TestNormalizeScaleHintTruthiness(t *testing.T) {
	cases := map[string]bool{
		`{"child_by_scale_hint": true}`:    true,
		`{"child_by_scale_hint": 1}`:       true,
		`{"child_by_scale_hint": "false"}`: true,
		`{"child_by_scale_hint": false}`:   false,
		`{"child_by_scale_hint": 0}`:       false,
		`{"child_by_scale_hint": ""}`:      false,
		`{}`:                               false,
	}
	for body, want := range cases {
		assert.Equal(t, want, Normalize(decodeOne(t, body)).ScaleHint, body)
	}
}

func TestNormalizeTimestampKinds(t *testing.T) {
	assert.Equal(t, TimestampMissing, Normalize(decodeOne(t, `{}`)).Timestamp.Kind)
	assert.Equal(t, TimestampMissing, Normalize(decodeOne(t, `{"timestamp": null}`)).Timestamp.Kind)
	assert.Equal(t, Timestamp{Kind: TimestampText, Text: "garbage"}, Normalize(decodeOne(t, `{"timestamp": "garbage"}`)).Timestamp)
	assert.Equal(t, Timestamp{Kind: TimestampEpoch, Seconds: 1700000000.25}, Normalize(decodeOne(t, `{"timestamp": 1700000000.25}`)).Timestamp)
}

func TestNormalizeNonObjectElement(t *testing.T) {
	list, err := DecodeList([]byte(`[5, "x", null, {"label": "man"}]`))
	require.NoError(t, err)
	require.Len(t, list, 4)

	got := NormalizeAll(list)
	assert.Equal(t, Canonical{}, got[0])
	assert.Equal(t, "man", got[3].Label)
}

func TestDecodeList(t *testing.T) {
	list, err := DecodeList([]byte(`{"error": "nope"}`))
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)

	list, err = DecodeList([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = DecodeList([]byte(`<html>500</html>`))
	assert.Error(t, err)

	_, err = DecodeList([]byte(`[] trailing`))
	assert.Error(t, err)

	_, err = DecodeList(nil)
	assert.Error(t, err)
}
