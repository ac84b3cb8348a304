// Package protocol defines the wire format spoken between the live runtime and
// its clients: the message envelope, the closed set of message kinds, stable
// error codes, and constructors for every server-originated frame.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind identifies the type of a wire envelope.
type MessageKind string

const (
	KindMount          MessageKind = "MOUNT"
	KindUnmount        MessageKind = "UNMOUNT"
	KindCallAction     MessageKind = "CALL_ACTION"
	KindActionResponse MessageKind = "ACTION_RESPONSE"
	KindPropertyUpdate MessageKind = "PROPERTY_UPDATE"
	KindStateUpdate    MessageKind = "STATE_UPDATE"
	KindBroadcast      MessageKind = "BROADCAST"
	KindError          MessageKind = "ERROR"
	KindAuth           MessageKind = "AUTH"
)

// Reserved component identifiers. RoomRelay marks frames that are not tied to
// a specific component instance (server-side room injection); System marks
// connection-level frames such as AUTH and uncorrelated errors.
const (
	RoomRelay = "room-relay"
	System    = "system"
)

// Envelope is the JSON wire envelope. Payload is opaque to the transport; its
// schema depends on Kind.
type Envelope struct {
	Kind           MessageKind     `json:"type"`
	ComponentID    string          `json:"componentId"`
	Action         string          `json:"action,omitempty"`
	Property       string          `json:"property,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	Room           string          `json:"room,omitempty"`
	RequestID      string          `json:"requestId,omitempty"`
	ResponseID     string          `json:"responseId,omitempty"`
	ExpectResponse bool            `json:"expectResponse,omitempty"`
}

// MountPayload is the payload of a MOUNT envelope.
type MountPayload struct {
	Component string          `json:"component"`
	Props     json.RawMessage `json:"props,omitempty"`
	Room      string          `json:"room,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// PropertyPayload is the payload of a PROPERTY_UPDATE envelope.
type PropertyPayload struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// AuthPayload is the payload of an AUTH envelope.
type AuthPayload struct {
	Token string `json:"token"`
}

// BroadcastPayload is the payload of a BROADCAST frame.
type BroadcastPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// inboundKinds is the set of envelope kinds a client may send. Server-only
// kinds (STATE_UPDATE, BROADCAST) arriving inbound are a protocol violation.
var inboundKinds = map[MessageKind]bool{
	KindMount:          true,
	KindUnmount:        true,
	KindCallAction:     true,
	KindPropertyUpdate: true,
	KindAuth:           true,
}

// Decode parses and structurally validates an inbound envelope. It returns a
// *WireError carrying an INVALID_PAYLOAD code for any malformed frame so the
// caller can surface the reason without inspecting error strings.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &WireError{Code: CodeInvalidPayload, Message: "malformed JSON envelope"}
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) validate() error {
	if !inboundKinds[e.Kind] {
		return &WireError{Code: CodeInvalidPayload, Message: fmt.Sprintf("unknown or server-only message kind %q", e.Kind)}
	}

	switch e.Kind {
	case KindMount:
		if e.ComponentID == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "MOUNT requires a client-chosen componentId"}
		}
		var p MountPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Component == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "MOUNT payload requires a component name"}
		}
	case KindUnmount:
		if e.ComponentID == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "UNMOUNT requires a componentId"}
		}
	case KindCallAction:
		if e.ComponentID == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "CALL_ACTION requires a componentId"}
		}
		if e.Action == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "CALL_ACTION requires an action name"}
		}
	case KindPropertyUpdate:
		if e.ComponentID == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "PROPERTY_UPDATE requires a componentId"}
		}
		var p PropertyPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Key == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "PROPERTY_UPDATE payload requires a key"}
		}
	case KindAuth:
		var p AuthPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil || p.Token == "" {
			return &WireError{Code: CodeInvalidPayload, Message: "AUTH payload requires a token"}
		}
	}
	return nil
}

// Now returns the envelope timestamp for server-originated frames, in
// milliseconds since the Unix epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}
