package components

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/live"
	"github.com/fluxstack/fluxlive/internal/protocol"
)

// testConn implements live.Conn in memory.
type testConn struct {
	id string

	mu        sync.Mutex
	sent      [][]byte
	responses [][]byte
	authCtx   *auth.Context
}

func newTestConn(id string) *testConn {
	return &testConn{id: id, authCtx: auth.Anonymous()}
}

func (c *testConn) ID() string { return c.id }

func (c *testConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frame)
	return true
}

func (c *testConn) SendResponse(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, frame)
	return true
}

func (c *testConn) AuthContext() *auth.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCtx
}

func (c *testConn) SetAuthContext(authCtx *auth.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCtx = authCtx
}

func (c *testConn) frames() []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Envelope, 0, len(c.sent))
	for _, raw := range c.sent {
		var env protocol.Envelope
		if json.Unmarshal(raw, &env) == nil {
			out = append(out, &env)
		}
	}
	return out
}

func (c *testConn) responseEnvelopes() []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Envelope, 0, len(c.responses))
	for _, raw := range c.responses {
		var env protocol.Envelope
		if json.Unmarshal(raw, &env) == nil {
			out = append(out, &env)
		}
	}
	return out
}

func (c *testConn) framesOfKind(kind protocol.MessageKind) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, env := range c.frames() {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// waitResponses blocks until the reserved lane holds at least n frames.
func (c *testConn) waitResponses(t *testing.T, n int) []*protocol.Envelope {
	t.Helper()
	waitFor(t, func() bool { return len(c.responseEnvelopes()) >= n }, "timed out waiting for responses")
	return c.responseEnvelopes()
}

func newComponentRuntime(t *testing.T, defs ...*live.Definition) *live.Runtime {
	t.Helper()
	rt := live.NewRuntime(live.Options{
		GuardTimeout:    time.Second,
		RoomGrace:       time.Minute,
		MaxStateHistory: 8,
	}, zerolog.Nop())
	for _, def := range defs {
		if err := rt.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}
	return rt
}

func mount(t *testing.T, rt *live.Runtime, conn *testConn, instID, component, roomID string) {
	t.Helper()
	payload, _ := json.Marshal(protocol.MountPayload{Component: component, Room: roomID})
	rt.Registry.Mount(conn, &protocol.Envelope{
		Kind:        protocol.KindMount,
		ComponentID: instID,
		Payload:     payload,
	})
}

func callAction(rt *live.Runtime, conn *testConn, instID, action, requestID string, payload string) {
	env := &protocol.Envelope{
		Kind:           protocol.KindCallAction,
		ComponentID:    instID,
		Action:         action,
		RequestID:      requestID,
		ExpectResponse: true,
	}
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	rt.Registry.DispatchAction(context.Background(), conn, env)
}

func stateOf(t *testing.T, env *protocol.Envelope) live.State {
	t.Helper()
	var body struct {
		State live.State `json:"state"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal state payload: %v", err)
	}
	return body.State
}

func resultOf(t *testing.T, env *protocol.Envelope) map[string]any {
	t.Helper()
	var body struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal result payload: %v", err)
	}
	return body.Result
}
