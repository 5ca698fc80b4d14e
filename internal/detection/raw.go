// Package detection turns detection records from either backend schema into a
// single canonical shape.
//
// The older backend sends `class`, `id` and `crop_path`; the current one sends
// `label`, `human_id` and `crop_url`, plus posture/motion hints and ISO-8601
// timestamps. Nothing outside this package needs to know which one it talks to.
package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Raw is one untrusted detection record as decoded from the backend.
// Numbers are kept as json.Number so their text survives decoding.
type Raw map[string]any

// DecodeList decodes a /get_detections body. A body that is valid JSON but not
// an array yields an empty list; elements that are not objects become empty
// records. Only malformed JSON is an error.
func DecodeList(body []byte) ([]Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("detection: trailing data after JSON value")
	}

	items, ok := payload.([]any)
	if !ok {
		return []Raw{}, nil
	}

	out := make([]Raw, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			obj = map[string]any{}
		}
		out = append(out, Raw(obj))
	}
	return out, nil
}
