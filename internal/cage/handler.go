package cage

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
	"github.com/cagedesk/cagedesk/internal/txlog"
)

// Handler wires HTTP endpoints for the cage operations.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs cage handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers cage routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions/{id}/buy-in", h.buyIn)
	r.Post("/sessions/{id}/payout", h.payout)
	r.Post("/sessions/{id}/expense", h.expense)
	r.Post("/sessions/{id}/dealer-tip", h.dealerTip)
	r.Post("/sessions/{id}/deposit-cash", h.depositCash)
	r.Post("/sessions/{id}/deposit-chips", h.depositChips)
	r.Post("/sessions/{id}/float", h.addFloat)
	r.Post("/sessions/{id}/adjust", h.adjust)
	r.Get("/sessions/{id}/transactions", h.listTransactions)
	r.Get("/transactions/{id}", h.getTransaction)
	r.Post("/transactions/{id}/reverse", h.reverse)
	r.Patch("/transactions/{id}/note", h.rename)
}

type buyInRequest struct {
	PlayerID  int64           `json:"player_id"`
	Amount    float64         `json:"amount" validate:"gt=0"`
	Mode      string          `json:"mode" validate:"required"`
	Breakdown chips.Breakdown `json:"breakdown" validate:"required"`
	Note      string          `json:"note"`
	Code      string          `json:"code"`
}

type payoutRequest struct {
	PlayerID   int64           `json:"player_id"`
	CashAmount float64         `json:"cash_amount" validate:"gte=0"`
	Breakdown  chips.Breakdown `json:"breakdown" validate:"required"`
	Note       string          `json:"note"`
	Code       string          `json:"code"`
}

type outflowRequest struct {
	Amount   float64 `json:"amount" validate:"gt=0"`
	Category string  `json:"category"`
	Note     string  `json:"note"`
	Code     string  `json:"code"`
}

type depositCashRequest struct {
	PlayerID int64   `json:"player_id"`
	Amount   float64 `json:"amount" validate:"gt=0"`
	Mode     string  `json:"mode" validate:"required"`
	Note     string  `json:"note"`
	Code     string  `json:"code"`
}

type depositChipsRequest struct {
	PlayerID  int64           `json:"player_id"`
	Breakdown chips.Breakdown `json:"breakdown" validate:"required"`
	Note      string          `json:"note"`
	Code      string          `json:"code"`
}

type addFloatRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Note   string  `json:"note"`
	Code   string  `json:"code"`
}

type adjustRequest struct {
	Pool  string  `json:"pool" validate:"required"`
	Delta float64 `json:"delta" validate:"required"`
	Note  string  `json:"note" validate:"required"`
	Code  string  `json:"code"`
}

type noteRequest struct {
	Note string `json:"note" validate:"required"`
}

func (h *Handler) buyIn(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[buyInRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.BuyIn(r.Context(), BuyInInput{
		SessionID: sessionID,
		PlayerID:  req.PlayerID,
		Amount:    req.Amount,
		Mode:      pools.PayMode(req.Mode),
		Breakdown: req.Breakdown,
		Note:      req.Note,
		Code:      req.Code,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "buy-in", sessionID, result, err)
}

func (h *Handler) payout(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[payoutRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.Payout(r.Context(), PayoutInput{
		SessionID:  sessionID,
		PlayerID:   req.PlayerID,
		CashAmount: req.CashAmount,
		Breakdown:  req.Breakdown,
		Note:       req.Note,
		Code:       req.Code,
		ActorID:    shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "payout", sessionID, result, err)
}

func (h *Handler) expense(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[outflowRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.Expense(r.Context(), OutflowInput{
		SessionID: sessionID,
		Amount:    req.Amount,
		Category:  req.Category,
		Note:      req.Note,
		Code:      req.Code,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "expense", sessionID, result, err)
}

func (h *Handler) dealerTip(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[outflowRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.DealerTip(r.Context(), OutflowInput{
		SessionID: sessionID,
		Amount:    req.Amount,
		Category:  req.Category,
		Note:      req.Note,
		Code:      req.Code,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "dealer-tip", sessionID, result, err)
}

func (h *Handler) depositCash(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[depositCashRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.DepositCash(r.Context(), DepositCashInput{
		SessionID: sessionID,
		PlayerID:  req.PlayerID,
		Amount:    req.Amount,
		Mode:      pools.PayMode(req.Mode),
		Note:      req.Note,
		Code:      req.Code,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "deposit-cash", sessionID, result, err)
}

func (h *Handler) depositChips(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[depositChipsRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.DepositChips(r.Context(), DepositChipsInput{
		SessionID: sessionID,
		PlayerID:  req.PlayerID,
		Breakdown: req.Breakdown,
		Note:      req.Note,
		Code:      req.Code,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "deposit-chips", sessionID, result, err)
}

func (h *Handler) addFloat(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[addFloatRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.AddFloat(r.Context(), AddFloatInput{
		SessionID: sessionID,
		Amount:    req.Amount,
		Note:      req.Note,
		Code:      req.Code,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "add-float", sessionID, result, err)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeOp[adjustRequest](h, w, r)
	if !ok {
		return
	}
	result, err := h.service.AdjustBalance(r.Context(), AdjustInput{
		SessionID: sessionID,
		Pool:      pools.Pool(req.Pool),
		Delta:     req.Delta,
		Note:      req.Note,
		Code:      req.Code,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	h.respond(w, r, "adjust", sessionID, result, err)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r)
	if !ok {
		return
	}
	filter := txlog.Filter{SessionID: sessionID}
	q := r.URL.Query()
	filter.Type = txlog.Type(q.Get("type"))
	if raw := q.Get("player_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "player_id must be an integer")
			return
		}
		filter.PlayerID = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tx)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	_ = httpx.DecodeJSON(r, &req)
	result, err := h.service.Reverse(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	if err != nil {
		h.logger.Warn("reversal failed", slog.Int64("transaction_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.RenameTransaction(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeOp parses the path id, decodes the body, and validates it.
func decodeOp[T any](h *Handler, w http.ResponseWriter, r *http.Request) (int64, T, bool) {
	var req T
	id, ok := pathID(w, r)
	if !ok {
		return 0, req, false
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return 0, req, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return 0, req, false
	}
	return id, req, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, sessionID int64, result Result, err error) {
	if err != nil {
		h.logger.Warn("cage operation failed",
			slog.String("op", op), slog.Int64("session_id", sessionID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "path id must be a positive integer")
		return 0, false
	}
	return id, true
}
