package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/platform/httpx"
	"github.com/cagedesk/cagedesk/internal/shared"
)

// Handler wires HTTP endpoints for the session lifecycle.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs session handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.openSession)
	r.Get("/sessions/current", h.currentSession)
	r.Get("/sessions/{id}", h.getSession)
	r.Get("/sessions/{id}/summary", h.getSummary)
	r.Post("/sessions/{id}/close", h.closeSession)
	r.Get("/sessions/{id}/shifts", h.listShifts)
	r.Post("/sessions/{id}/shifts", h.startShift)
	r.Post("/shifts/{id}/end", h.endShift)
}

type openSessionRequest struct {
	OpeningFloat float64         `json:"opening_float" validate:"gte=0"`
	OpeningChips chips.Breakdown `json:"opening_chips"`
}

type startShiftRequest struct {
	CashierID int64  `json:"cashier_id" validate:"required"`
	PIN       string `json:"pin" validate:"required"`
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess, err := h.service.Open(r.Context(), OpenInput{
		OpeningFloat: req.OpeningFloat,
		OpeningChips: req.OpeningChips,
		CashierID:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Warn("session open failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Current(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sess, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.GetSummary(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Close(r.Context(), CloseInput{
		SessionID: id,
		CloserID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Warn("session close failed", slog.Int64("session_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listShifts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shifts, err := h.service.ListShifts(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"shifts": shifts})
}

func (h *Handler) startShift(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req startShiftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	shift, err := h.service.StartShift(r.Context(), StartShiftInput{
		SessionID: id,
		CashierID: req.CashierID,
		PIN:       req.PIN,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidPIN) {
			httpx.Problem(w, http.StatusUnauthorized, "Invalid PIN", "cashier pin did not match")
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, shift)
}

func (h *Handler) endShift(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	shift, err := h.service.EndShift(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shift)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "path id must be a positive integer")
		return 0, false
	}
	return id, true
}
