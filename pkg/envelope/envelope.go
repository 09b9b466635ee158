// Package envelope implements the versioned JSON messaging envelope shared
// by every role (client, balancer, pre/post processor, decoder front-end).
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is this build's message protocol version. A peer whose
// prot_ver exceeds this constant cannot be served.
const ProtocolVersion = 1

// MsgType enumerates the message kinds carried by the envelope.
type MsgType int

const (
	MsgUndefined MsgType = iota
	MsgSuppLangRequest
	MsgSuppLangResponse
	MsgTranslationJobRequest
	MsgTranslationJobResponse
	MsgProcessorRequest
	MsgProcessorResponse
)

// StatusCode enumerates the response status codes.
type StatusCode int

const (
	StatusUndefined StatusCode = iota
	StatusOK
	StatusPartial
	StatusError
	StatusCanceled
)

// Sentinel errors returned by Parse, Field and VerifyVersion
// (ErrProtocolMismatch comes only from VerifyVersion). They are never surfaced verbatim to
// clients — callers map them to a job-scoped error response or close the
// connection, per the missing-job-id rule.
var (
	ErrProtocolMismatch = errors.New("envelope: protocol version mismatch")
	ErrMalformedFrame   = errors.New("envelope: malformed JSON frame")
	ErrMissingField     = errors.New("envelope: missing mandatory field")
)

// wireHeader is the mandatory envelope header present on every frame.
type wireHeader struct {
	ProtVer  int        `json:"prot_ver"`
	MsgType  MsgType    `json:"msg_type"`
	StatCode StatusCode `json:"stat_code,omitempty"`
	StatMsg  string     `json:"stat_msg,omitempty"`
}

// Envelope is a versioned JSON message. It holds the raw decoded fields so
// that Field can report MissingField for fields the caller never set, and
// Serialize only emits fields that were actually set (no defaulting on
// read).
type Envelope struct {
	header wireHeader
	fields map[string]json.RawMessage
}

// Build creates a new outbound envelope of the given message type, stamped
// with this build's protocol version.
func Build(t MsgType) *Envelope {
	return &Envelope{
		header: wireHeader{ProtVer: ProtocolVersion, MsgType: t},
		fields: make(map[string]json.RawMessage),
	}
}

// MsgType returns the envelope's message type.
func (e *Envelope) MsgType() MsgType {
	return e.header.MsgType
}

// SetStatus sets the response status code and message. Only meaningful on
// response envelopes.
func (e *Envelope) SetStatus(code StatusCode, msg string) {
	e.header.StatCode = code
	e.header.StatMsg = msg
}

// Status returns the response status code and message.
func (e *Envelope) Status() (StatusCode, string) {
	return e.header.StatCode, e.header.StatMsg
}

// SetField stores an arbitrary JSON-encodable value under name.
func (e *Envelope) SetField(name string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("envelope: encoding field %q: %w", name, err)
	}
	if e.fields == nil {
		e.fields = make(map[string]json.RawMessage)
	}
	e.fields[name] = raw
	return nil
}

// Field decodes the named field into dst. It returns ErrMissingField
// wrapped with the field name if the field was never set or was absent on
// the wire — absence is always an error, never a default.
func (e *Envelope) Field(name string, dst interface{}) error {
	raw, ok := e.fields[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMissingField, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("envelope: decoding field %q: %w", name, err)
	}
	return nil
}

// HasField reports whether name was present on the wire (or set locally).
func (e *Envelope) HasField(name string) bool {
	_, ok := e.fields[name]
	return ok
}

// VerifyVersion checks the envelope's prot_ver against ProtocolVersion.
// A peer version strictly greater than ours is rejected; equal or lower is
// accepted.
func (e *Envelope) VerifyVersion() error {
	if e.header.ProtVer > ProtocolVersion {
		return fmt.Errorf("%w: peer=%d local=%d", ErrProtocolMismatch, e.header.ProtVer, ProtocolVersion)
	}
	return nil
}

// Serialize renders the envelope as its deterministic wire JSON. Field
// ordering is not part of the contract.
func (e *Envelope) Serialize() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.fields)+4)
	for k, v := range e.fields {
		out[k] = v
	}

	protVer, err := json.Marshal(e.header.ProtVer)
	if err != nil {
		return nil, err
	}
	out["prot_ver"] = protVer

	msgType, err := json.Marshal(e.header.MsgType)
	if err != nil {
		return nil, err
	}
	out["msg_type"] = msgType

	if e.header.StatCode != StatusUndefined {
		statCode, err := json.Marshal(e.header.StatCode)
		if err != nil {
			return nil, err
		}
		out["stat_code"] = statCode
		statMsg, err := json.Marshal(e.header.StatMsg)
		if err != nil {
			return nil, err
		}
		out["stat_msg"] = statMsg
	}

	return json.Marshal(out)
}

// Parse decodes bytes into an Envelope. It fails with ErrMalformedFrame on
// JSON errors, ErrMissingField if prot_ver or msg_type is absent, and
// VerifyVersion reports ErrProtocolMismatch separately so callers can
// choose how to react: a job-scoped error reply when a job id is known,
// otherwise connection close.
func Parse(data []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	e := &Envelope{fields: raw}

	protVerRaw, ok := raw["prot_ver"]
	if !ok {
		return nil, fmt.Errorf("%w: \"prot_ver\"", ErrMissingField)
	}
	if err := json.Unmarshal(protVerRaw, &e.header.ProtVer); err != nil {
		return nil, fmt.Errorf("%w: prot_ver: %v", ErrMalformedFrame, err)
	}

	msgTypeRaw, ok := raw["msg_type"]
	if !ok {
		return nil, fmt.Errorf("%w: \"msg_type\"", ErrMissingField)
	}
	if err := json.Unmarshal(msgTypeRaw, &e.header.MsgType); err != nil {
		return nil, fmt.Errorf("%w: msg_type: %v", ErrMalformedFrame, err)
	}

	if statRaw, ok := raw["stat_code"]; ok {
		_ = json.Unmarshal(statRaw, &e.header.StatCode)
	}
	if statMsgRaw, ok := raw["stat_msg"]; ok {
		_ = json.Unmarshal(statMsgRaw, &e.header.StatMsg)
	}

	return e, nil
}
