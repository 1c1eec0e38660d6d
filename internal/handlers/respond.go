package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/repositories"
	"github.com/tillpoint/api/internal/services"
)

const (
	maxRegisterRequestBody = 16 * 1024
	stationParam           = "stationId"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRegisterRequestBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes the request payload. An error response has already been
// written when false is returned.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxRegisterRequestBody)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody) && optional:
			return true
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("request body must be valid JSON: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

func stationID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, stationParam))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// writeServiceError maps service and repository failures onto the error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	if ve, ok := services.IsValidation(err); ok {
		status := http.StatusUnprocessableEntity
		if ve.Field == "stationId" {
			status = http.StatusBadRequest
		}
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", err.Error(), status).WithField(ve.Field, ve.Reason))
		return
	}

	switch {
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
		return
	case errors.Is(err, services.ErrHeldTransactionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("held_transaction_not_found", err.Error(), http.StatusNotFound))
		return
	case errors.Is(err, services.ErrShiftAlreadyClosed):
		httpx.WriteError(ctx, w, httpx.NewError("shift_already_closed", err.Error(), http.StatusConflict))
		return
	case errors.Is(err, services.ErrShiftAlreadyOpen):
		httpx.WriteError(ctx, w, httpx.NewError("shift_already_open", err.Error(), http.StatusConflict))
		return
	case errors.Is(err, services.ErrShiftNotOpen):
		httpx.WriteError(ctx, w, httpx.NewError("shift_not_open", err.Error(), http.StatusConflict))
		return
	case errors.Is(err, services.ErrStaleResult):
		httpx.WriteError(ctx, w, httpx.NewError("stale_result", err.Error(), http.StatusConflict))
		return
	case errors.Is(err, services.ErrExternalUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", err.Error(), http.StatusServiceUnavailable))
		return
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", err.Error(), http.StatusGatewayTimeout))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("persistence_unavailable", err.Error(), http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("persistence_failed", err.Error(), http.StatusBadGateway))
		}
		return
	}

	httpx.WriteError(ctx, w, httpx.NewError("internal_error", err.Error(), http.StatusInternalServerError))
}
