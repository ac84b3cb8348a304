package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/components"
	"github.com/fluxstack/fluxlive/internal/httputil"
	"github.com/fluxstack/fluxlive/internal/live"
	"github.com/fluxstack/fluxlive/internal/protocol"
)

// RoomsHandler serves the room injection and stats endpoints used by external
// producers.
type RoomsHandler struct {
	runtime     *live.Runtime
	sanitizer   *bluemonday.Policy
	maxMessages int
	log         zerolog.Logger
}

// NewRoomsHandler creates a rooms handler. maxMessages caps the per-room chat
// history scratchpad.
func NewRoomsHandler(runtime *live.Runtime, maxMessages int, logger zerolog.Logger) *RoomsHandler {
	return &RoomsHandler{
		runtime:     runtime,
		sanitizer:   bluemonday.StrictPolicy(),
		maxMessages: maxMessages,
		log:         logger.With().Str("component", "api.rooms").Logger(),
	}
}

type postMessageRequest struct {
	User string `json:"user"`
	Text string `json:"text"`
}

type emitRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PostMessage handles POST /api/v1/rooms/:roomId/messages. The message text
// is sanitized, appended to the room's capped chat history, and injected as a
// message:new event with no emitter exclusion.
func (h *RoomsHandler) PostMessage(c fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "roomId is required")
	}

	var body postMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "invalid request body")
	}

	text := strings.TrimSpace(h.sanitizer.Sanitize(body.Text))
	if text == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "text is required")
	}

	author := body.User
	if author == "" {
		author = "anonymous"
	}

	msg := components.ChatMessage{
		ID:        uuid.NewString(),
		User:      author,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}

	// Write to the scratchpad first so subscriber handlers observe a history
	// that already contains the message.
	h.runtime.Rooms.State(roomID).Update(func(state map[string]any) {
		msgs, _ := state["messages"].([]components.ChatMessage)
		msgs = append(msgs, msg)
		if h.maxMessages > 0 && len(msgs) > h.maxMessages {
			msgs = msgs[len(msgs)-h.maxMessages:]
		}
		state["messages"] = msgs
	})

	payload, err := json.Marshal(msg)
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.CodeInternal, "message serialization failed")
	}

	notified := h.runtime.Bus.Inject(roomID, components.MessageNewEvent, payload)
	return httputil.Success(c, fiber.Map{"notified": notified})
}

// Emit handles POST /api/v1/rooms/:roomId/emit: arbitrary event injection.
func (h *RoomsHandler) Emit(c fiber.Ctx) error {
	roomID := c.Params("roomId")
	if roomID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "roomId is required")
	}

	var body emitRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "invalid request body")
	}
	if body.Event == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.CodeInvalidPayload, "event is required")
	}

	notified := h.runtime.Bus.Inject(roomID, body.Event, body.Data)
	return httputil.Success(c, fiber.Map{"notified": notified})
}

// Stats handles GET /api/v1/rooms/stats.
func (h *RoomsHandler) Stats(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{
		"rooms":  h.runtime.Rooms.Snapshot(),
		"events": h.runtime.Bus.Stats(),
	})
}
