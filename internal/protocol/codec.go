package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serializes an Envelope for transmission over the signaling socket.
func Encode(env Envelope) ([]byte, error) {
	return marshal(env)
}

// Decode parses and validates a single envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// UnmarshalJSON accepts the legacy "sdpmlineindex" key as an alias of
// "sdp_mline_index".
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	var aux struct {
		plain
		LegacyMLineIndex *int `json:"sdpmlineindex,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Envelope(aux.plain)
	if e.SDPMLineIndex == nil {
		e.SDPMLineIndex = aux.LegacyMLineIndex
	}
	return nil
}

// MarshalJSON keeps the key that names the failing value on error envelopes
// even when that value is empty, encoding it as null.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Type != TypeError {
		return marshal(plain(e))
	}

	var aux struct {
		Type   Type            `json:"type"`
		Reason string          `json:"reason"`
		Target json.RawMessage `json:"target,omitempty"`
		Got    json.RawMessage `json:"got,omitempty"`
	}
	aux.Type, aux.Reason = e.Type, e.Reason

	var err error
	switch e.Reason {
	case ReasonTargetNotFound, ReasonHelloRequired:
		aux.Target, err = nullable(e.Target)
	case ReasonUnknownType:
		aux.Got, err = nullable(e.Got)
	default:
		return marshal(plain(e))
	}
	if err != nil {
		return nil, err
	}
	return marshal(aux)
}

func nullable(s string) (json.RawMessage, error) {
	if s == "" {
		return json.RawMessage("null"), nil
	}
	return marshal(s)
}

// Frame is the relay's view of an inbound message: only the routing keys are
// interpreted, the rest of the object is carried through untouched.
type Frame struct {
	Type   Type
	PeerID string
	To     string

	fields map[string]json.RawMessage
}

// ParseFrame decodes data as a JSON object and extracts its routing keys.
// A missing or non-string "type" yields an empty or raw Type so the caller
// can answer with unknown-type; everything else that is not a JSON object
// with string ids is ErrMalformed.
func ParseFrame(data []byte) (*Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	f := &Frame{fields: fields}

	if raw, ok := fields["type"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err != nil {
			t = string(raw)
		}
		f.Type = Type(t)
	}

	var err error
	if f.PeerID, err = f.optionalString("peer_id"); err != nil {
		return nil, err
	}
	if f.To, err = f.optionalString("to"); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Frame) optionalString(key string) (string, error) {
	raw, ok := f.fields[key]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %q must be a string", ErrMalformed, key)
	}
	return s, nil
}

// Forward re-encodes the frame with "from" set to sender. All other keys keep
// their original values.
func (f *Frame) Forward(sender string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(f.fields)+1)
	for k, v := range f.fields {
		out[k] = v
	}
	from, err := marshal(sender)
	if err != nil {
		return nil, err
	}
	out["from"] = from
	return marshal(out)
}

// marshal encodes v without HTML escaping so SDP and candidate text pass
// through as written.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
