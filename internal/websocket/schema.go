package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionEvent Action = "event"
	ActionAck   Action = "ack"
	ActionPing  Action = "ping"
	// ActionLeave discards the live attempt and closes the stream.
	ActionLeave Action = "leave"
)

// RequestPayload is one client message. Event is set for ActionEvent only.
type RequestPayload struct {
	Action Action         `json:"action" binding:"required,oneof=event ack ping leave"`
	Event  *proctor.Event `json:"event,omitempty" binding:"required_if=Action event"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot Event = "snapshot"
	EventNotice   Event = "notice"
	EventSignal   Event = "signal"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

type SnapshotResponse struct {
	Event   Event             `json:"event"`
	Attempt model.AttemptView `json:"attempt"`
}

type NoticeResponse struct {
	Event  Event          `json:"event"`
	Notice proctor.Notice `json:"notice"`
}

// SignalResponse carries the cross-window ASSESSMENT_COMPLETED message.
type SignalResponse struct {
	Event  Event                  `json:"event"`
	Signal model.CompletionSignal `json:"signal"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
