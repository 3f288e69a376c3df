package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradekeep/journal-service/internal/database"
	"github.com/tradekeep/journal-service/internal/engine"
	"github.com/tradekeep/journal-service/internal/models"
	"github.com/tradekeep/journal-service/internal/service"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler creates a new Handler
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

type fillRequest struct {
	Kind       string          `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

func (r *fillRequest) toFill() models.Fill {
	return models.Fill{
		Kind:       r.Kind,
		Quantity:   r.Quantity,
		Price:      r.Price,
		ExecutedAt: r.ExecutedAt,
	}
}

type createTradeRequest struct {
	UserID              string                `json:"user_id"`
	Symbol              string                `json:"symbol"`
	Direction           string                `json:"direction"`
	TradeClass          string                `json:"trade_class"`
	Horizon             string                `json:"horizon,omitempty"`
	Option              *models.OptionDetails `json:"option,omitempty"`
	Fills               []fillRequest         `json:"fills"`
	Pattern             string                `json:"pattern,omitempty"`
	Session             string                `json:"session,omitempty"`
	Mistakes            []string              `json:"mistakes,omitempty"`
	Notes               string                `json:"notes,omitempty"`
	AllowExtendedWindow bool                  `json:"allow_extended_window,omitempty"`
}

// CreateTrade handles POST /trades
func (h *Handler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade := &models.Trade{
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Class:     req.TradeClass,
		Horizon:   req.Horizon,
		Option:    req.Option,
		Pattern:   req.Pattern,
		Session:   req.Session,
		Mistakes:  req.Mistakes,
		Notes:     req.Notes,
	}
	for _, f := range req.Fills {
		trade.Fills = append(trade.Fills, f.toFill())
	}

	if err := h.svc.CreateTrade(r.Context(), trade, req.AllowExtendedWindow); err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, trade)
}

// GetTrade handles GET /trades/{id}
func (h *Handler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	trade, err := h.svc.GetTrade(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, trade)
}

// ListTrades handles GET /trades?user_id=&from=&to=&closed=&limit=
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	opts := database.ListOptions{
		ClosedOnly: r.URL.Query().Get("closed") == "true",
	}
	var ok bool
	if opts.From, ok = queryTime(w, r, "from"); !ok {
		return
	}
	if opts.To, ok = queryTime(w, r, "to"); !ok {
		return
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}

	trades, err := h.svc.ListUserTrades(r.Context(), userID, opts)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, trades)
}

type fillMutationRequest struct {
	fillRequest
	AllowExtendedWindow bool `json:"allow_extended_window,omitempty"`
}

// AddFill handles POST /trades/{id}/fills
func (h *Handler) AddFill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var req fillMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := h.svc.AddFill(r.Context(), id, req.toFill(), req.AllowExtendedWindow)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, trade)
}

// AmendFill handles PUT /trades/{id}/fills/{fillID}
func (h *Handler) AmendFill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	fillID, ok := pathInt(w, r, "fillID")
	if !ok {
		return
	}
	var req fillMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := h.svc.AmendFill(r.Context(), id, fillID, req.toFill(), req.AllowExtendedWindow)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, trade)
}

// RemoveFill handles DELETE /trades/{id}/fills/{fillID}
func (h *Handler) RemoveFill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	fillID, ok := pathInt(w, r, "fillID")
	if !ok {
		return
	}
	allowExtended := r.URL.Query().Get("allow_extended_window") == "true"

	trade, err := h.svc.RemoveFill(r.Context(), id, fillID, allowExtended)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, trade)
}

// UpdateJournal handles PATCH /trades/{id}/journal
func (h *Handler) UpdateJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var fields database.JournalFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, err := h.svc.UpdateJournal(r.Context(), id, fields)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, trade)
}

// DeleteTrade handles DELETE /trades/{id}
func (h *Handler) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteTrade(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetUserStats handles GET /users/{userID}/stats
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	filter, ok := statsFilter(w, r)
	if !ok {
		return
	}

	result, err := h.svc.GetUserStats(r.Context(), userID, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetUserBreakdown handles GET /users/{userID}/breakdown?group_by=
func (h *Handler) GetUserBreakdown(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	groupBy := r.URL.Query().Get("group_by")
	filter, ok := statsFilter(w, r)
	if !ok {
		return
	}

	result, err := h.svc.GetUserBreakdown(r.Context(), userID, groupBy, filter)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetUserStreaks handles GET /users/{userID}/streaks
func (h *Handler) GetUserStreaks(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	result, err := h.svc.GetDrawdownAndStreaks(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// GetLeaderboard handles GET /leaderboard?window=
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	if window == "" {
		window = engine.WindowAll
	}

	result, err := h.svc.GetLeaderboard(r.Context(), window)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var fieldErr *models.FieldError
	switch {
	case errors.Is(err, database.ErrTradeNotFound), errors.Is(err, database.ErrFillNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &fieldErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrOverExit),
		errors.Is(err, engine.ErrDayTradeWindow),
		errors.Is(err, engine.ErrZeroEntryValue),
		errors.Is(err, engine.ErrNoEntryFill):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func queryTime(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		http.Error(w, "invalid "+name+": expected RFC3339 timestamp", http.StatusBadRequest)
		return nil, false
	}
	return &t, true
}

func statsFilter(w http.ResponseWriter, r *http.Request) (*engine.StatsFilter, bool) {
	from, ok := queryTime(w, r, "from")
	if !ok {
		return nil, false
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return nil, false
	}
	if from == nil && to == nil {
		return nil, true
	}
	return &engine.StatsFilter{From: from, To: to}, true
}
