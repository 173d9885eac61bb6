package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"golang.org/x/time/rate"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ProctorHandler streams browser events into an attempt's proctoring monitor
// and pushes the attempt's notices back to the page.
type ProctorHandler struct {
	svc       *service.AssessmentService
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	eventRate rate.Limit
	burst     int
}

func NewProctorHandler(svc *service.AssessmentService, log zerolog.Logger, allowedOrigins []string, eventsPerSecond float64, burst int) *ProctorHandler {
	if burst <= 0 {
		burst = 1
	}
	return &ProctorHandler{
		svc:       svc,
		log:       log.With().Str("component", "proctor_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
		eventRate: rate.Limit(eventsPerSecond),
		burst:     burst,
	}
}

// ProctorStream godoc
// WS /ws/v1/student/assessments/:id/proctor?token=...
func (h *ProctorHandler) ProctorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	studentID := claims.UserID
	assessmentID := c.Param("id")

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("assessment_id", assessmentID).
		Logger()

	cancel, err := h.svc.Watch(c.Request.Context(), studentID, assessmentID, func(n proctor.Notice) {
		h.forward(conn, wsLog, n)
	})
	if errors.Is(err, proctor.ErrAttemptClosed) {
		// Finished attempts get their stored result and nothing to proctor.
		if view, err := h.svc.View(c.Request.Context(), studentID, assessmentID, true); err == nil {
			_ = conn.WriteTyped(ws.SnapshotResponse{Event: ws.EventSnapshot, Attempt: view})
		}
		return
	}
	if err != nil {
		_ = conn.WriteError(err.Error())
		return
	}
	defer cancel()

	view, err := h.svc.View(c.Request.Context(), studentID, assessmentID, false)
	if err != nil {
		_ = conn.WriteError(err.Error())
		return
	}
	if err := conn.WriteTyped(ws.SnapshotResponse{Event: ws.EventSnapshot, Attempt: view}); err != nil {
		return
	}

	wsLog.Info().Msg("Proctoring stream connected")

	limiter := rate.NewLimiter(h.eventRate, h.burst)
	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if fields := validator.Struct(&msg); fields != nil {
			_ = conn.WriteError("invalid message: " + joinFields(fields))
			continue
		}

		switch msg.Action {
		case ws.ActionEvent:
			if !limiter.Allow() {
				wsLog.Warn().Str("kind", string(msg.Event.Kind)).Msg("Dropping event over rate limit")
				_ = conn.WriteError(string(response.ErrRateLimitExceeded))
				continue
			}
			if err := h.svc.Dispatch(studentID, assessmentID, *msg.Event); err != nil {
				_ = conn.WriteError(err.Error())
			}
		case ws.ActionAck:
			view, err := h.svc.Acknowledge(c.Request.Context(), studentID, assessmentID)
			if err != nil {
				_ = conn.WriteError(err.Error())
				continue
			}
			_ = conn.WriteTyped(ws.SnapshotResponse{Event: ws.EventSnapshot, Attempt: view})
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		case ws.ActionLeave:
			cancel()
			h.svc.Leave(studentID, assessmentID)
			wsLog.Info().Msg("Student left the assessment")
			return
		}
	}
}

// forward writes a notice and, on completion, the cross-window signal.
func (h *ProctorHandler) forward(conn *ws.Conn, log zerolog.Logger, n proctor.Notice) {
	if err := conn.WriteTyped(ws.NoticeResponse{Event: ws.EventNotice, Notice: n}); err != nil {
		log.Debug().Err(err).Msg("Notice write failed")
		return
	}
	if n.Kind == proctor.NoticeCompleted && n.Result != nil {
		_ = conn.WriteTyped(ws.SignalResponse{
			Event:  ws.EventSignal,
			Signal: model.NewCompletionSignal(n.Result),
		})
	}
}

func joinFields(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for _, msg := range fields {
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
