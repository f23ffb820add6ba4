package authstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// bufferTag is the JSON shape raw byte sequences take inside the creds
// and keys documents: {"type":"Buffer","data":[...]}. Centralizing the
// encode/decode in one pair (spec.md §9 "Binary-aware codec") means both
// documents share one exact round-trip behavior. Data is deliberately
// []int, not []byte: encoding/json special-cases []byte as a base64
// string, which is not the tagged-array wire shape this codec must
// produce.
type bufferTag struct {
	Type string `json:"type"`
	Data []int  `json:"data"`
}

// BufferJSON wraps a raw byte slice so that encoding/json emits and
// parses it as the tagged Buffer object instead of a base64 string,
// matching the wire shape spec.md §6 requires for both whatsapp_sessions
// columns.
type BufferJSON struct {
	Bytes []byte
}

// NewBufferJSON wraps b; b is not copied.
func NewBufferJSON(b []byte) BufferJSON {
	return BufferJSON{Bytes: b}
}

func (b BufferJSON) MarshalJSON() ([]byte, error) {
	data := make([]int, len(b.Bytes))
	for i, v := range b.Bytes {
		data[i] = int(v)
	}
	return json.Marshal(bufferTag{Type: "Buffer", Data: data})
}

func (b *BufferJSON) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		b.Bytes = nil
		return nil
	}

	var tag bufferTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("authstore: decode buffer json: %w", err)
	}
	if tag.Type != "Buffer" {
		return fmt.Errorf("authstore: unexpected buffer tag %q", tag.Type)
	}
	out := make([]byte, len(tag.Data))
	for i, v := range tag.Data {
		out[i] = byte(v)
	}
	b.Bytes = out
	return nil
}
