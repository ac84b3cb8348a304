package protocol

import (
	"encoding/json"
	"fmt"
)

// statePayload wraps the full serialised state of a component for a
// STATE_UPDATE frame.
type statePayload struct {
	State any `json:"state"`
}

// resultPayload wraps a successful action result for an ACTION_RESPONSE frame.
type resultPayload struct {
	Result any `json:"result"`
}

// errorBody is the payload of an ERROR frame.
type errorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// NewStateUpdateFrame returns a serialised STATE_UPDATE frame carrying the
// component's full current state.
func NewStateUpdateFrame(componentID string, state any) ([]byte, error) {
	payload, err := json.Marshal(statePayload{State: state})
	if err != nil {
		return nil, fmt.Errorf("marshal state payload: %w", err)
	}
	return json.Marshal(Envelope{
		Kind:        KindStateUpdate,
		ComponentID: componentID,
		Payload:     payload,
		Timestamp:   Now(),
	})
}

// NewActionResponseFrame returns a serialised ACTION_RESPONSE frame correlated
// to the request that produced it. The responseId echoes the client-minted
// requestId verbatim.
func NewActionResponseFrame(componentID, responseID string, result any) ([]byte, error) {
	payload, err := json.Marshal(resultPayload{Result: result})
	if err != nil {
		return nil, fmt.Errorf("marshal action result: %w", err)
	}
	return json.Marshal(Envelope{
		Kind:        KindActionResponse,
		ComponentID: componentID,
		Payload:     payload,
		Timestamp:   Now(),
		ResponseID:  responseID,
	})
}

// NewBroadcastFrame returns a serialised BROADCAST frame for a room event. The
// componentId identifies the emitter, or RoomRelay for server-side injection.
func NewBroadcastFrame(componentID, roomID, event string, data json.RawMessage) ([]byte, error) {
	payload, err := json.Marshal(BroadcastPayload{Type: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast payload: %w", err)
	}
	return json.Marshal(Envelope{
		Kind:        KindBroadcast,
		ComponentID: componentID,
		Room:        roomID,
		Payload:     payload,
		Timestamp:   Now(),
	})
}

// NewErrorFrame returns a serialised ERROR frame. responseID may be empty for
// uncorrelated errors; componentID falls back to the System sentinel.
func NewErrorFrame(componentID, responseID string, code Code, message string) ([]byte, error) {
	if componentID == "" {
		componentID = System
	}
	payload, err := json.Marshal(errorBody{Code: code, Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshal error body: %w", err)
	}
	return json.Marshal(Envelope{
		Kind:        KindError,
		ComponentID: componentID,
		Payload:     payload,
		Timestamp:   Now(),
		ResponseID:  responseID,
	})
}

// NewAuthAckFrame returns a serialised ACTION_RESPONSE acknowledging a
// successful AUTH exchange on the system channel.
func NewAuthAckFrame(responseID, subject string) ([]byte, error) {
	return NewActionResponseFrame(System, responseID, map[string]string{"userId": subject})
}
