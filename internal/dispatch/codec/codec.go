// Package codec converts commands and events to and from their wire envelope.
//
// Payloads are carried as canonical JSON: object keys sorted, no insignificant
// whitespace, numbers preserved as written. Two payloads with the same fields
// encode to the same bytes, which is what content hashes are computed over.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// ErrEnvelopeInvalid indicates an envelope without a type.
var ErrEnvelopeInvalid = errors.New("envelope is invalid")

// Envelope is the serialized form of a command or event.
type Envelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Seq           uint64          `json:"seq,omitempty"`
	Cycle         int             `json:"cycle,omitempty"`
}

// Canonical marshals v and normalizes the result.
func Canonical(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalRaw(raw)
}

// CanonicalRaw normalizes already encoded JSON. Empty input becomes "{}".
func CanonicalRaw(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode payload: trailing data")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Hash returns the hex sha256 of a type name and its canonical payload.
func Hash(typ string, payload json.RawMessage) (string, error) {
	canonical, err := CanonicalRaw(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.New()
	sum.Write([]byte(typ))
	sum.Write([]byte{0})
	sum.Write(canonical)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// EncodeEvent builds the envelope of an event.
func EncodeEvent(evt event.Event) (Envelope, error) {
	if err := evt.Validate(); err != nil {
		return Envelope{}, err
	}
	payload, err := Canonical(evt.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", evt.Type, err)
	}
	return Envelope{
		Type:          string(evt.Type),
		Payload:       payload,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
		Seq:           evt.Seq,
		Cycle:         evt.Cycle,
	}, nil
}

// EncodeEvents encodes events in order.
func EncodeEvents(events []event.Event) ([]Envelope, error) {
	out := make([]Envelope, 0, len(events))
	for _, evt := range events {
		env, err := EncodeEvent(evt)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// EncodeCommand builds the envelope of a command.
func EncodeCommand(cmd command.Command) (Envelope, error) {
	if err := cmd.Validate(); err != nil {
		return Envelope{}, err
	}
	payload, err := Canonical(cmd.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", cmd.Type, err)
	}
	return Envelope{
		Type:          string(cmd.Type),
		Payload:       payload,
		CorrelationID: cmd.CorrelationID,
		CausationID:   cmd.CausationID,
		Seq:           cmd.Seq,
	}, nil
}

// DecodeCommand rebuilds a command through the catalogue.
func DecodeCommand(reg *command.Registry, env Envelope) (command.Command, error) {
	if strings.TrimSpace(env.Type) == "" {
		return command.Command{}, fmt.Errorf("%w: type is required", ErrEnvelopeInvalid)
	}
	cmd, err := reg.Decode(command.Type(env.Type), env.Payload,
		command.WithCorrelationID(env.CorrelationID),
		command.WithCausationID(env.CausationID),
	)
	if err != nil {
		return command.Command{}, err
	}
	return cmd, nil
}

// DecodeEvent rebuilds an event through the catalogue, keeping the
// envelope's sequencing fields.
func DecodeEvent(reg *event.Registry, env Envelope) (event.Event, error) {
	if strings.TrimSpace(env.Type) == "" {
		return event.Event{}, fmt.Errorf("%w: type is required", ErrEnvelopeInvalid)
	}
	evt, err := reg.Decode(event.Type(env.Type), env.Payload)
	if err != nil {
		return event.Event{}, err
	}
	evt.CorrelationID = env.CorrelationID
	evt.CausationID = env.CausationID
	evt.Seq = env.Seq
	evt.Cycle = env.Cycle
	return evt, nil
}
