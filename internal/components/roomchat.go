package components

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxstack/fluxlive/internal/live"
	"github.com/fluxstack/fluxlive/internal/protocol"
)

// MessageNewEvent is the room event carrying one chat message.
const MessageNewEvent = "message:new"

// messagesKey is the room scratchpad key holding the capped message history.
const messagesKey = "messages"

// ChatMessage is one chat entry, shared on the wire and in the scratchpad.
type ChatMessage struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// RoomChat is a room-scoped chat component. Message history lives in the room
// scratchpad, so it survives unmounts until the room itself is destroyed.
type RoomChat struct {
	maxMessages int

	mu    sync.Mutex
	unsub func()
}

// NewRoomChatDefinition returns the RoomChat component definition. maxMessages
// caps both the per-instance state list and the room scratchpad history.
func NewRoomChatDefinition(maxMessages int) *live.Definition {
	return &live.Definition{
		Name: "RoomChat",
		DefaultState: live.State{
			"messages":   []ChatMessage{},
			"activeRoom": "",
		},
		Actions: []string{"sendMessage", "switchRoom"},
		New:     func() live.Component { return &RoomChat{maxMessages: maxMessages} },
	}
}

// Init loads the active room's history from the scratchpad and subscribes to
// incoming messages.
func (rc *RoomChat) Init(inst *live.Instance) error {
	roomID := inst.RoomID()
	inst.SetStateSilently(live.State{
		"activeRoom": roomID,
		"messages":   rc.history(inst, roomID),
	})
	rc.subscribe(inst, roomID)
	return nil
}

// Destroy drops the message subscription.
func (rc *RoomChat) Destroy(_ *live.Instance) {
	rc.mu.Lock()
	unsub := rc.unsub
	rc.unsub = nil
	rc.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

type sendMessagePayload struct {
	Text string `json:"text"`
	User string `json:"user"`
}

type switchRoomPayload struct {
	Room string `json:"room"`
}

// HandleAction implements live.Component.
func (rc *RoomChat) HandleAction(_ context.Context, inst *live.Instance, action string, payload json.RawMessage) (any, error) {
	switch action {
	case "sendMessage":
		return rc.sendMessage(inst, payload)
	case "switchRoom":
		return rc.switchRoom(inst, payload)
	default:
		return nil, protocol.Errf(protocol.CodeActionNotPublic, "unknown action %q", action)
	}
}

func (rc *RoomChat) sendMessage(inst *live.Instance, payload json.RawMessage) (any, error) {
	var p sendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Text == "" {
		return nil, protocol.Errf(protocol.CodeInvalidPayload, "sendMessage requires text")
	}

	roomID := rc.activeRoom(inst)
	if roomID == "" {
		return nil, protocol.Errf(protocol.CodeActionFailed, "not in a room")
	}

	author := p.User
	if author == "" {
		author = inst.UserID()
	}
	msg := ChatMessage{
		ID:        uuid.NewString(),
		User:      author,
		Text:      p.Text,
		Timestamp: time.Now().UnixMilli(),
	}

	rc.appendHistory(inst, roomID, msg)
	inst.SetState(live.State{"messages": rc.history(inst, roomID)})
	inst.EmitRoomEvent(MessageNewEvent, msg)

	return map[string]string{"messageId": msg.ID}, nil
}

// switchRoom moves the chat to another room. activeRoom changes silently;
// the message list flush carries the full state, so the client still sees the
// new room in the same STATE_UPDATE as its history.
func (rc *RoomChat) switchRoom(inst *live.Instance, payload json.RawMessage) (any, error) {
	var p switchRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Room == "" {
		return nil, protocol.Errf(protocol.CodeInvalidPayload, "switchRoom requires a room")
	}

	prev := rc.activeRoom(inst)
	if prev == p.Room {
		return map[string]string{"room": prev}, nil
	}

	rc.mu.Lock()
	unsub := rc.unsub
	rc.unsub = nil
	rc.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if prev != "" {
		inst.Room(prev).Leave()
	}

	inst.Room(p.Room).Join()
	rc.subscribe(inst, p.Room)

	inst.SetStateSilently(live.State{"activeRoom": p.Room})
	inst.SetState(live.State{"messages": rc.history(inst, p.Room)})

	return map[string]string{"room": p.Room}, nil
}

func (rc *RoomChat) subscribe(inst *live.Instance, roomID string) {
	if roomID == "" {
		return
	}
	unsub := inst.Room(roomID).On(MessageNewEvent, func(payload json.RawMessage, _ string) {
		var msg ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		// The emitter already wrote the message to the scratchpad before
		// emitting; only append when it is not there yet.
		history := rc.history(inst, roomID)
		if len(history) == 0 || history[len(history)-1].ID != msg.ID {
			rc.appendHistory(inst, roomID, msg)
			history = append(history, msg)
		}
		inst.SetState(live.State{"messages": history})
	})
	rc.mu.Lock()
	rc.unsub = unsub
	rc.mu.Unlock()
}

func (rc *RoomChat) activeRoom(inst *live.Instance) string {
	v, _ := inst.Get("activeRoom")
	s, _ := v.(string)
	return s
}

// history reads the capped message list from the room scratchpad.
func (rc *RoomChat) history(inst *live.Instance, roomID string) []ChatMessage {
	if roomID == "" {
		return []ChatMessage{}
	}
	v, ok := inst.RoomState(roomID).Get(messagesKey)
	if !ok {
		return []ChatMessage{}
	}
	msgs, ok := v.([]ChatMessage)
	if !ok {
		return []ChatMessage{}
	}
	return append([]ChatMessage(nil), msgs...)
}

// appendHistory appends one message to the scratchpad, trimming to the cap.
func (rc *RoomChat) appendHistory(inst *live.Instance, roomID string, msg ChatMessage) {
	inst.RoomState(roomID).Update(func(state map[string]any) {
		msgs, _ := state[messagesKey].([]ChatMessage)
		msgs = append(msgs, msg)
		if rc.maxMessages > 0 && len(msgs) > rc.maxMessages {
			msgs = msgs[len(msgs)-rc.maxMessages:]
		}
		state[messagesKey] = msgs
	})
}
