package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Envelope is one decoded frame. The raw JSON is kept as received so that
// fields unknown to this package reach handlers unchanged.
type Envelope struct {
	Type string
	raw  []byte
}

// Parse decodes a text frame into an Envelope.
func Parse(data []byte) (Envelope, error) {
	if !gjson.ValidBytes(data) {
		return Envelope{}, ErrMalformedFrame
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	t := root.Get(FieldType)
	if t.Type != gjson.String || t.Str == "" {
		return Envelope{}, ErrMissingType
	}

	return Envelope{Type: t.Str, raw: data}, nil
}

// New builds an outbound envelope holding only its type.
func New(msgType MessageType) Envelope {
	raw, _ := sjson.SetBytes([]byte(`{}`), FieldType, msgType)
	return Envelope{Type: msgType, raw: raw}
}

// With returns a copy of e with the field at path set to value.
func (e Envelope) With(path string, value any) (Envelope, error) {
	if path == FieldType {
		s, ok := value.(string)
		if !ok || s == "" {
			return e, ErrMissingType
		}
		e.Type = s
	}

	src := make([]byte, len(e.raw))
	copy(src, e.raw)
	if len(src) == 0 {
		src = []byte(`{}`)
	}

	raw, err := sjson.SetBytes(src, path, value)
	if err != nil {
		return e, fmt.Errorf("set %s: %w", path, err)
	}
	e.raw = raw
	return e, nil
}

// Stamp sets the timestamp field to t in Unix milliseconds.
func (e Envelope) Stamp(t time.Time) Envelope {
	stamped, err := e.With(FieldTimestamp, t.UnixMilli())
	if err != nil {
		return e
	}
	return stamped
}

// Get reads any field of the envelope with a gjson path.
func (e Envelope) Get(path string) gjson.Result {
	return gjson.GetBytes(e.raw, path)
}

// Data returns the "data" field, which does not exist for every type.
func (e Envelope) Data() gjson.Result {
	return e.Get(FieldData)
}

// TaskID returns the task_id field, looking inside data when the top level
// does not carry one.
func (e Envelope) TaskID() string {
	if id := e.Get(FieldTaskID); id.Exists() {
		return id.String()
	}
	return e.Get(FieldData + "." + FieldTaskID).String()
}

// Timestamp returns the envelope timestamp. Values below 1e11 are read as
// Unix seconds (possibly fractional), anything larger as milliseconds.
func (e Envelope) Timestamp() (time.Time, bool) {
	ts := e.Get(FieldTimestamp)
	if ts.Type != gjson.Number {
		return time.Time{}, false
	}

	v := ts.Float()
	if v < 1e11 {
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	}
	return time.UnixMilli(int64(v)), true
}

// Decode unmarshals the whole envelope into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Bytes returns the encoded envelope. The slice must not be modified.
func (e Envelope) Bytes() []byte {
	return e.raw
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if len(e.raw) == 0 {
		return nil, ErrMissingType
	}
	return e.raw, nil
}

// String returns the raw JSON text.
func (e Envelope) String() string {
	return string(e.raw)
}
