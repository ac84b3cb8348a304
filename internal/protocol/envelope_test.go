package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeValidEnvelopes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		kind MessageKind
	}{
		{
			name: "mount",
			raw:  `{"type":"MOUNT","componentId":"c1","payload":{"component":"Counter","room":"r"}}`,
			kind: KindMount,
		},
		{
			name: "unmount",
			raw:  `{"type":"UNMOUNT","componentId":"c1"}`,
			kind: KindUnmount,
		},
		{
			name: "call action",
			raw:  `{"type":"CALL_ACTION","componentId":"c1","action":"increment","requestId":"q1","expectResponse":true}`,
			kind: KindCallAction,
		},
		{
			name: "property update",
			raw:  `{"type":"PROPERTY_UPDATE","componentId":"c1","payload":{"key":"count","value":5}}`,
			kind: KindPropertyUpdate,
		},
		{
			name: "auth",
			raw:  `{"type":"AUTH","componentId":"system","payload":{"token":"tok"}}`,
			kind: KindAuth,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env, err := Decode([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if env.Kind != tc.kind {
				t.Errorf("Kind = %q, want %q", env.Kind, tc.kind)
			}
		})
	}
}

func TestDecodeRejectsMalformedEnvelopes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"unknown kind", `{"type":"NOPE","componentId":"c1"}`},
		{"server-only kind", `{"type":"STATE_UPDATE","componentId":"c1"}`},
		{"mount without componentId", `{"type":"MOUNT","payload":{"component":"Counter"}}`},
		{"mount without component name", `{"type":"MOUNT","componentId":"c1","payload":{}}`},
		{"call action without action", `{"type":"CALL_ACTION","componentId":"c1"}`},
		{"call action without componentId", `{"type":"CALL_ACTION","action":"x"}`},
		{"property update without key", `{"type":"PROPERTY_UPDATE","componentId":"c1","payload":{"value":1}}`},
		{"auth without token", `{"type":"AUTH","componentId":"system","payload":{}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatal("Decode() succeeded, want error")
			}
			var werr *WireError
			if !errors.As(err, &werr) {
				t.Fatalf("Decode() error = %T, want *WireError", err)
			}
			if werr.Code != CodeInvalidPayload {
				t.Errorf("Code = %q, want %q", werr.Code, CodeInvalidPayload)
			}
		})
	}
}

func TestActionResponseFrameEchoesRequestID(t *testing.T) {
	t.Parallel()

	frame, err := NewActionResponseFrame("c1", "q-42", map[string]int{"count": 3})
	if err != nil {
		t.Fatalf("NewActionResponseFrame() error = %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Kind != KindActionResponse {
		t.Errorf("Kind = %q, want %q", env.Kind, KindActionResponse)
	}
	if env.ResponseID != "q-42" {
		t.Errorf("ResponseID = %q, want q-42", env.ResponseID)
	}
	if env.Timestamp == 0 {
		t.Error("Timestamp not set")
	}

	var payload struct {
		Result map[string]int `json:"result"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Result["count"] != 3 {
		t.Errorf("result.count = %d, want 3", payload.Result["count"])
	}
}

func TestErrorFrameFallsBackToSystem(t *testing.T) {
	t.Parallel()

	frame, err := NewErrorFrame("", "q1", CodeAuthInvalid, "bad token")
	if err != nil {
		t.Fatalf("NewErrorFrame() error = %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.ComponentID != System {
		t.Errorf("ComponentID = %q, want %q", env.ComponentID, System)
	}
	if env.ResponseID != "q1" {
		t.Errorf("ResponseID = %q, want q1", env.ResponseID)
	}

	var body struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if body.Code != CodeAuthInvalid {
		t.Errorf("code = %q, want %q", body.Code, CodeAuthInvalid)
	}
}

func TestBroadcastFrameCarriesRoomAndEvent(t *testing.T) {
	t.Parallel()

	frame, err := NewBroadcastFrame(RoomRelay, "chat", "message:new", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("NewBroadcastFrame() error = %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Kind != KindBroadcast {
		t.Errorf("Kind = %q, want %q", env.Kind, KindBroadcast)
	}
	if env.Room != "chat" {
		t.Errorf("Room = %q, want chat", env.Room)
	}
	if env.ComponentID != RoomRelay {
		t.Errorf("ComponentID = %q, want %q", env.ComponentID, RoomRelay)
	}

	var payload BroadcastPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != "message:new" {
		t.Errorf("payload.type = %q, want message:new", payload.Type)
	}
}
