package live

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/auth"
	"github.com/fluxstack/fluxlive/internal/protocol"
)

// fakeConn implements Conn in memory, recording both outbound lanes.
type fakeConn struct {
	id string

	mu        sync.Mutex
	sent      [][]byte
	responses [][]byte
	full      bool
	authCtx   *auth.Context
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, authCtx: auth.Anonymous()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.sent = append(c.sent, frame)
	return true
}

func (c *fakeConn) SendResponse(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, frame)
	return true
}

func (c *fakeConn) AuthContext() *auth.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCtx
}

func (c *fakeConn) SetAuthContext(authCtx *auth.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCtx = authCtx
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) responseFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.responses...)
}

// waitResponses blocks until the reserved lane holds at least n frames.
func (c *fakeConn) waitResponses(t *testing.T, n int) [][]byte {
	t.Helper()
	waitFor(t, func() bool { return len(c.responseFrames()) >= n }, "timed out waiting for response frames")
	return c.responseFrames()
}

// waitSent blocks until the droppable lane holds at least n frames.
func (c *fakeConn) waitSent(t *testing.T, n int) [][]byte {
	t.Helper()
	waitFor(t, func() bool { return len(c.sentFrames()) >= n }, "timed out waiting for sent frames")
	return c.sentFrames()
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

func decodeEnv(t *testing.T, frame []byte) *protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame %s: %v", frame, err)
	}
	return &env
}

func decodeErrorBody(t *testing.T, env *protocol.Envelope) (protocol.Code, string) {
	t.Helper()
	var body struct {
		Code    protocol.Code `json:"code"`
		Message string        `json:"message"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return body.Code, body.Message
}

func decodeState(t *testing.T, env *protocol.Envelope) State {
	t.Helper()
	var body struct {
		State State `json:"state"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		t.Fatalf("unmarshal state payload: %v", err)
	}
	return body.State
}

// scriptedComp is a component whose hooks are supplied per test.
type scriptedComp struct {
	init        func(inst *Instance) error
	destroy     func(inst *Instance)
	authChanged func(inst *Instance, authCtx *auth.Context)
	handle      func(ctx context.Context, inst *Instance, action string, payload json.RawMessage) (any, error)
}

func (c *scriptedComp) HandleAction(ctx context.Context, inst *Instance, action string, payload json.RawMessage) (any, error) {
	if c.handle == nil {
		return nil, nil
	}
	return c.handle(ctx, inst, action, payload)
}

func (c *scriptedComp) Init(inst *Instance) error {
	if c.init == nil {
		return nil
	}
	return c.init(inst)
}

func (c *scriptedComp) Destroy(inst *Instance) {
	if c.destroy != nil {
		c.destroy(inst)
	}
}

func (c *scriptedComp) AuthChanged(inst *Instance, authCtx *auth.Context) {
	if c.authChanged != nil {
		c.authChanged(inst, authCtx)
	}
}

// staticGuard returns a fixed validation result.
type staticGuard struct {
	authCtx *auth.Context
	err     error
}

func (g staticGuard) Validate(context.Context, string) (*auth.Context, error) {
	return g.authCtx, g.err
}

// stallGuard blocks until the validation context is cancelled.
type stallGuard struct{}

func (stallGuard) Validate(ctx context.Context, _ string) (*auth.Context, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestRuntime(opts Options) *Runtime {
	if opts.GuardTimeout == 0 {
		opts.GuardTimeout = time.Second
	}
	if opts.RoomGrace == 0 {
		opts.RoomGrace = time.Minute
	}
	if opts.MaxStateHistory == 0 {
		opts.MaxStateHistory = 16
	}
	return NewRuntime(opts, zerolog.Nop())
}

func mountEnv(componentID, component, roomID string, props string) *protocol.Envelope {
	p := protocol.MountPayload{Component: component, Room: roomID}
	if props != "" {
		p.Props = json.RawMessage(props)
	}
	raw, _ := json.Marshal(p)
	return &protocol.Envelope{
		Kind:           protocol.KindMount,
		ComponentID:    componentID,
		RequestID:      "rq-mount-" + componentID,
		ExpectResponse: true,
		Payload:        raw,
	}
}

func actionEnv(componentID, action, requestID string, payload string) *protocol.Envelope {
	env := &protocol.Envelope{
		Kind:           protocol.KindCallAction,
		ComponentID:    componentID,
		Action:         action,
		RequestID:      requestID,
		ExpectResponse: true,
	}
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	return env
}
