package entry

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// wireEntry is the serialized form shared by the gob (badger) and JSON
// (postgres) codecs: DN plus attributes in insertion order, so a round trip
// preserves deterministic output ordering.
type wireEntry struct {
	DN    string      `json:"dn"`
	Attrs []Attribute `json:"attrs"`
}

func (e *Entry) toWire() wireEntry {
	return wireEntry{DN: e.DN, Attrs: e.Attributes()}
}

func (e *Entry) fromWire(w wireEntry) {
	e.DN = w.DN
	e.attrs = make(map[string]Attribute, len(w.Attrs))
	e.order = e.order[:0]
	for _, a := range w.Attrs {
		e.Set(a.Type, a.Values...)
	}
}

// MarshalBinary encodes e with gob for KV backends.
func (e *Entry) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e.toWire()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a gob-encoded entry.
func (e *Entry) UnmarshalBinary(data []byte) error {
	var w wireEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	e.fromWire(w)
	return nil
}

// MarshalJSON encodes e for SQL backends that store attributes as jsonb.
func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toWire())
}

// UnmarshalJSON decodes the jsonb form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.fromWire(w)
	return nil
}
