// Package v1 defines the instant realtime protocol v1 envelope.
//
// It is shared between the server and Go clients (tools/scripts/ws-smoke.go)
// so the wire shape has a single source.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is offered during the websocket handshake.
const Subprotocol = "instant.realtime.v1"

// MaxTypeLen bounds the event name.
const MaxTypeLen = 64

// Type constants (wire-stable).
const (
	// TypeReady is sent once after the connection is admitted (server -> client).
	TypeReady = "ready"

	// TypeHello is an optional client greeting (client -> server).
	TypeHello = "hello"
	// TypeHelloAck answers hello (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeEcho returns the payload of every inbound event to its sender.
	TypeEcho = "echo"

	// TypeSendDirect relays a direct message to the room named by "to".
	TypeSendDirect = "ims:sendDirect"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitzero"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope structure. Event types are open: any
// well-formed name is accepted and at least echoed.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if len(e.Type) > MaxTypeLen {
		return fmt.Errorf("type too long: max=%d bytes", MaxTypeLen)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return errors.New("invalid payload")
	}
	return nil
}

// ---- Payloads ----

// ReadyPayload describes the admitted connection.
type ReadyPayload struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Rooms     []string `json:"rooms"`
}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
