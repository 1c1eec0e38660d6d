package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/services"
)

// ShiftHandlers exposes cash drawer shift endpoints for a station.
type ShiftHandlers struct {
	shifts services.ShiftService
}

// NewShiftHandlers constructs shift handlers.
func NewShiftHandlers(shifts services.ShiftService) *ShiftHandlers {
	return &ShiftHandlers{shifts: shifts}
}

// Routes registers shift endpoints under a station scoped router.
func (h *ShiftHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/shift", h.current)
	r.Post("/shift:open", h.open)
	r.Post("/shift:close", h.close)
}

type openShiftRequest struct {
	StartingFloat decimal.Decimal `json:"startingFloat"`
}

type closeShiftRequest struct {
	ShiftID string          `json:"shiftId"`
	Counted decimal.Decimal `json:"counted"`
	Note    string          `json:"note"`
}

func (h *ShiftHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.shifts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("shift_unavailable", "shift service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *ShiftHandlers) current(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	session, err := h.shifts.CurrentShift(r.Context(), stationID(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newShiftResponse(session))
}

func (h *ShiftHandlers) open(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req openShiftRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}
	session, err := h.shifts.OpenShift(r.Context(), services.OpenShiftCommand{
		StationID:     stationID(r),
		StartingFloat: req.StartingFloat,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newShiftResponse(session))
}

func (h *ShiftHandlers) close(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req closeShiftRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	result, err := h.shifts.CloseShift(r.Context(), services.CloseShiftCommand{
		StationID: stationID(r),
		ShiftID:   strings.TrimSpace(req.ShiftID),
		Counted:   req.Counted,
		Note:      req.Note,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newShiftCloseResponse(result))
}
