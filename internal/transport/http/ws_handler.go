package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"skillquiz-service/internal/app"
	"skillquiz-service/internal/domain"
	"skillquiz-service/internal/logger"
)

type WSHandler struct {
	service  *app.QuizService
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, log *logger.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type subjectPayload struct {
	Subject string `json:"subject"`
}

type answerPayload struct {
	Position int `json:"position"`
	Option   int `json:"option"`
}

type positionPayload struct {
	Position int `json:"position"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// questionPayload is the client view of a question. The correct index is never sent while in progress.
type questionPayload struct {
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Category string   `json:"category"`
}

type viewPayload struct {
	ID              string                    `json:"id"`
	Subject         string                    `json:"subject"`
	Status          domain.Status             `json:"status"`
	CurrentPosition int                       `json:"currentPosition"`
	TotalQuestions  int                       `json:"totalQuestions"`
	Responses       []domain.Answer           `json:"responses"`
	Deadline        int64                     `json:"deadline,omitempty"`
	Remaining       int                       `json:"remaining"`
	Analytics       *domain.AnalyticsSnapshot `json:"analytics,omitempty"`
	Question        *questionPayload          `json:"question,omitempty"`
}

func toViewPayload(v domain.SessionView) viewPayload {
	out := viewPayload{
		ID:              v.ID,
		Subject:         v.Subject,
		Status:          v.Status,
		CurrentPosition: v.CurrentPosition,
		TotalQuestions:  v.TotalQuestions,
		Responses:       v.Responses,
		Remaining:       v.Remaining,
		Analytics:       v.Analytics,
	}
	if !v.Deadline.IsZero() {
		out.Deadline = v.Deadline.UnixMilli()
	}
	if v.Question != nil {
		out.Question = &questionPayload{
			Prompt:   v.Question.Prompt,
			Options:  v.Question.Options,
			Category: v.Question.Category,
		}
	}
	return out
}

// ServeWS upgrades the request and binds one quiz session to the connection. The optional userId and
// name query parameters attach an authenticated profile. Closing the connection abandons the session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	profile := domain.Profile{
		ID:   r.URL.Query().Get("userId"),
		Name: r.URL.Query().Get("name"),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := h.service.Create(profile)
	defer h.service.Abandon(sessionID)
	log := h.log.With("session_id", sessionID, "user_id", profile.ID)

	events, cancel, err := h.service.Subscribe(sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: toErrorPayload(err)})
		return
	}
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// Only the writer goroutine touches the connection for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- eventMessage(event):
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if view, err := h.service.View(sessionID); err == nil {
		send <- outboundMessage{Type: "session", Payload: toViewPayload(view)}
	}

read:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		for _, msg := range h.dispatch(r.Context(), sessionID, inbound) {
			select {
			case send <- msg:
			case <-writerDone:
				break read
			}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
	log.Info("ws session closed")
}

func (h *WSHandler) dispatch(ctx context.Context, sessionID string, inbound inboundMessage) []outboundMessage {
	fail := func(err error) []outboundMessage {
		return []outboundMessage{{Type: "error", Payload: toErrorPayload(err)}}
	}
	viewReply := func(view domain.SessionView, err error) []outboundMessage {
		if err != nil {
			return fail(err)
		}
		return []outboundMessage{{Type: "view", Payload: toViewPayload(view)}}
	}

	switch inbound.Type {
	case "start", "restart":
		var payload subjectPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Subject == "" {
			return fail(errInvalidPayload)
		}
		var (
			view domain.SessionView
			err  error
		)
		if inbound.Type == "start" {
			view, err = h.service.Start(ctx, sessionID, payload.Subject)
		} else {
			view, err = h.service.Restart(ctx, sessionID, payload.Subject)
		}
		if err != nil {
			return fail(err)
		}
		return []outboundMessage{{Type: "started", Payload: toViewPayload(view)}}
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fail(errInvalidPayload)
		}
		return viewReply(h.service.Answer(ctx, sessionID, payload.Position, payload.Option))
	case "navigate":
		var payload positionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return fail(errInvalidPayload)
		}
		return viewReply(h.service.Navigate(sessionID, payload.Position))
	case "next":
		view, result, err := h.service.Next(ctx, sessionID)
		if err != nil {
			return fail(err)
		}
		out := []outboundMessage{{Type: "view", Payload: toViewPayload(view)}}
		if result != nil {
			out = append(out, outboundMessage{Type: "result", Payload: result})
		}
		return out
	case "prev":
		return viewReply(h.service.Prev(sessionID))
	case "complete":
		result, err := h.service.Complete(ctx, sessionID)
		if err != nil {
			return fail(err)
		}
		return []outboundMessage{{Type: "result", Payload: result}}
	case "reset":
		if err := h.service.Reset(sessionID); err != nil {
			return fail(err)
		}
		return viewReply(h.service.View(sessionID))
	case "view":
		return viewReply(h.service.View(sessionID))
	case "save":
		if err := h.service.Save(ctx, sessionID); err != nil {
			return fail(err)
		}
		return []outboundMessage{{Type: "saved", Payload: map[string]string{"sessionId": sessionID}}}
	default:
		return fail(errUnsupportedMessage)
	}
}

func eventMessage(event domain.Event) outboundMessage {
	switch event.Type {
	case domain.EventTick:
		return outboundMessage{Type: string(event.Type), Payload: map[string]int{"remaining": event.Remaining}}
	case domain.EventAnalytics:
		return outboundMessage{Type: string(event.Type), Payload: event.Analytics}
	case domain.EventCompleted:
		return outboundMessage{Type: string(event.Type), Payload: event.Result}
	default:
		return outboundMessage{Type: string(event.Type), Payload: map[string]string{"message": event.Notice}}
	}
}

var (
	errInvalidPayload     = errors.New("invalid payload")
	errUnsupportedMessage = errors.New("unsupported message type")
)

func toErrorPayload(err error) errorPayload {
	return errorPayload{Code: errorCode(err), Message: err.Error()}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSubject):
		return "invalid_subject"
	case errors.Is(err, domain.ErrOutOfRangeAnswer):
		return "out_of_range_answer"
	case errors.Is(err, domain.ErrPositionOutOfRange):
		return "position_out_of_range"
	case errors.Is(err, domain.ErrSessionNotInProgress):
		return "not_in_progress"
	case errors.Is(err, domain.ErrSessionAlreadyStarted):
		return "already_started"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrResultNotReady):
		return "result_not_ready"
	case errors.Is(err, domain.ErrProfileRequired):
		return "profile_required"
	case errors.Is(err, domain.ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, errInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, errUnsupportedMessage):
		return "unsupported"
	default:
		return "internal"
	}
}
