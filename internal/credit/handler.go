package credit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cagedesk/cagedesk/internal/chips"
	"github.com/cagedesk/cagedesk/internal/platform/httpx"
	"github.com/cagedesk/cagedesk/internal/pools"
	"github.com/cagedesk/cagedesk/internal/shared"
)

// Handler wires HTTP endpoints for the credit ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs credit handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers credit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions/{id}/credit", h.issue)
	r.Post("/sessions/{id}/credit/settle", h.settle)
	r.Get("/sessions/{id}/credit/records", h.listRecords)
	r.Get("/sessions/{id}/credit/requests", h.listRequests)
	r.Post("/credit-requests/{id}/approve", h.approve)
	r.Post("/credit-requests/{id}/reject", h.reject)
	r.Get("/players/{id}/credit", h.playerStanding)
}

type issueRequest struct {
	PlayerID  int64           `json:"player_id" validate:"required"`
	Amount    float64         `json:"amount" validate:"gt=0"`
	Breakdown chips.Breakdown `json:"breakdown" validate:"required"`
}

type settleRequest struct {
	PlayerID int64   `json:"player_id" validate:"required"`
	Amount   float64 `json:"amount" validate:"gt=0"`
	Mode     string  `json:"mode" validate:"required"`
}

type rejectRequest struct {
	Note string `json:"note"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Issue(r.Context(), IssueInput{
		SessionID: sessionID,
		PlayerID:  req.PlayerID,
		Amount:    req.Amount,
		Breakdown: req.Breakdown,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Warn("credit issue failed", slog.Int64("session_id", sessionID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Pending {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	allocations, err := h.service.Settle(r.Context(), SettleInput{
		SessionID: sessionID,
		PlayerID:  req.PlayerID,
		Amount:    req.Amount,
		Mode:      pools.PayMode(req.Mode),
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Warn("credit settle failed", slog.Int64("session_id", sessionID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"settled": allocations})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}
	var playerID int64
	if raw := r.URL.Query().Get("player_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "player_id must be an integer")
			return
		}
		playerID = id
	}
	records, err := h.service.ListRecords(r.Context(), sessionID, playerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}
	status := RequestStatus(r.URL.Query().Get("status"))
	requests, err := h.service.ListRequests(r.Context(), sessionID, status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.ApproveRequest(r.Context(), requestID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Warn("credit approval failed", slog.Int64("request_id", requestID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	rejected, err := h.service.RejectRequest(r.Context(), requestID, shared.ActorFromContext(r.Context()), req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rejected)
}

func (h *Handler) playerStanding(w http.ResponseWriter, r *http.Request) {
	playerID, ok := pathID(w, r)
	if !ok {
		return
	}
	profile, err := h.service.PlayerStanding(r.Context(), playerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "path id must be a positive integer")
		return 0, false
	}
	return id, true
}
