package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tillpoint/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxIDLength      = 80
)

// Error is the JSON error envelope returned to register clients.
type Error struct {
	Code    string
	Message string
	Status  int
	Field   string
	Reason  string
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    oneLine(code, maxCodeLength),
		Message: oneLine(message, maxMessageLength),
		Status:  status,
	}
}

// WithField names the request field the error refers to, so the register can highlight it.
func (e Error) WithField(field, reason string) Error {
	e.Field = oneLine(field, maxCodeLength)
	if e.Field != "" {
		e.Reason = oneLine(reason, 256)
	}
	return e
}

type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason,omitempty"`
	StationID string `json:"station_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteJSON writes payload with the given status, 200 when zero.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes err, stamping the station, request and trace ids carried by ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		Field:     err.Field,
		Reason:    err.Reason,
		StationID: oneLine(requestctx.Station(ctx), maxIDLength),
		RequestID: oneLine(middleware.GetReqID(ctx), maxIDLength),
		TraceID:   oneLine(requestctx.TraceID(ctx), 64),
	})
}

func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
