package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stellarfest/gamehall/gamehall/database/repositories"
	"github.com/stellarfest/gamehall/gamehall/economy"
	"github.com/stellarfest/gamehall/gamehall/logger"
	"github.com/stellarfest/gamehall/gamehall/period"
	"github.com/stellarfest/gamehall/gamehall/realtime"
)

// Handler exposes the period lifecycle and the economy action surface.
// Authentication happens upstream; the resolved role arrives on each
// request body and is checked against the capability table.
type Handler struct {
	periods *period.Machine
	engine  *economy.Engine
	catalog repositories.CatalogRepository
	hub     *realtime.Hub
}

func New(periods *period.Machine, engine *economy.Engine, catalog repositories.CatalogRepository, hub *realtime.Hub) *Handler {
	return &Handler{periods: periods, engine: engine, catalog: catalog, hub: hub}
}

func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	// The websocket route stays outside the logging middleware: wrapping the
	// ResponseWriter would hide http.Hijacker from the upgrader.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(requestLogger)
	api.HandleFunc("/periods/{economy}", h.periodList).Methods(http.MethodGet)
	api.HandleFunc("/periods/{economy}/status", h.periodStatus).Methods(http.MethodGet)
	api.HandleFunc("/periods/{economy}/start", h.periodStart).Methods(http.MethodPost)
	api.HandleFunc("/periods/{economy}/pause", h.periodPause).Methods(http.MethodPost)
	api.HandleFunc("/periods/{economy}/resume", h.periodResume).Methods(http.MethodPost)
	api.HandleFunc("/periods/{economy}/end", h.periodEnd).Methods(http.MethodPost)
	api.HandleFunc("/actions", h.action).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/ledger", h.ledger).Methods(http.MethodGet)
	api.HandleFunc("/catalog/items", h.catalogItems).Methods(http.MethodGet)
	api.HandleFunc("/catalog/items/{id}/recipes", h.itemRecipes).Methods(http.MethodGet)

	r.HandleFunc("/ws/status", h.hub.HandleWS)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.LogRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (h *Handler) periodStatus(w http.ResponseWriter, r *http.Request) {
	economyName := mux.Vars(r)["economy"]
	status, err := h.periods.Status(r.Context(), economyName)
	if err != nil {
		if errors.Is(err, period.ErrUnknownEconomy) {
			sendNotFound(w, err.Error())
			return
		}
		slog.Error("Status query failed",
			slog.String("type", "error"),
			slog.Any("error", err))
		sendInternalError(w)
		return
	}
	sendSuccess(w, status, "")
}

type periodControlRequest struct {
	ActorRole       economy.Role `json:"actor_role"`
	PeriodID        int64        `json:"period_id,omitempty"`
	DurationMinutes int          `json:"duration_minutes,omitempty"`
}

func (h *Handler) periodStart(w http.ResponseWriter, r *http.Request) {
	h.periodControl(w, r, func(req periodControlRequest, economyName string) error {
		duration := time.Duration(req.DurationMinutes) * time.Minute
		_, err := h.periods.Start(r.Context(), economyName, req.PeriodID, duration)
		return err
	})
}

func (h *Handler) periodPause(w http.ResponseWriter, r *http.Request) {
	h.periodControl(w, r, func(req periodControlRequest, economyName string) error {
		_, err := h.periods.Pause(r.Context(), economyName)
		return err
	})
}

func (h *Handler) periodResume(w http.ResponseWriter, r *http.Request) {
	h.periodControl(w, r, func(req periodControlRequest, economyName string) error {
		_, err := h.periods.Resume(r.Context(), economyName)
		return err
	})
}

func (h *Handler) periodEnd(w http.ResponseWriter, r *http.Request) {
	h.periodControl(w, r, func(req periodControlRequest, economyName string) error {
		_, err := h.periods.End(r.Context(), economyName)
		return err
	})
}

func (h *Handler) periodControl(w http.ResponseWriter, r *http.Request, transition func(periodControlRequest, string) error) {
	var req periodControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendBadRequest(w, "invalid request body")
		return
	}
	if !economy.HasCapability(req.ActorRole, economy.CapabilityControlPeriod) {
		sendForbidden(w, "role is not permitted to control periods")
		return
	}

	economyName := mux.Vars(r)["economy"]
	if err := transition(req, economyName); err != nil {
		h.sendPeriodError(w, err)
		return
	}

	status, err := h.periods.Status(r.Context(), economyName)
	if err != nil {
		sendInternalError(w)
		return
	}
	sendSuccess(w, status, "period updated")
}

func (h *Handler) sendPeriodError(w http.ResponseWriter, err error) {
	var invariant *period.InvariantError
	switch {
	case errors.Is(err, period.ErrPeriodConflict):
		sendConflict(w, err.Error())
	case errors.Is(err, period.ErrNoRunningPeriod),
		errors.Is(err, period.ErrNoPausedPeriod),
		errors.Is(err, period.ErrNoActivePeriod),
		errors.Is(err, period.ErrPeriodNotFound),
		errors.Is(err, period.ErrUnknownEconomy):
		sendNotFound(w, err.Error())
	case errors.As(err, &invariant):
		slog.Error("Period invariant violated",
			slog.String("type", "error"),
			slog.Any("error", err))
		sendInternalError(w)
	default:
		slog.Error("Period transition failed",
			slog.String("type", "error"),
			slog.Any("error", err))
		sendInternalError(w)
	}
}

type actionRequest struct {
	ActorRole    economy.Role         `json:"actor_role"`
	TargetUserID string               `json:"target_user_id"`
	ActionKind   economy.ActionKind   `json:"action_kind"`
	Params       economy.ActionParams `json:"params"`
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendBadRequest(w, "invalid request body")
		return
	}
	if req.TargetUserID == "" {
		sendBadRequest(w, "target_user_id is required")
		return
	}

	result := h.engine.Dispatch(r.Context(), req.ActorRole, req.TargetUserID, req.ActionKind, req.Params)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	sendJSON(w, status, result)
}

func (h *Handler) periodList(w http.ResponseWriter, r *http.Request) {
	economyName := mux.Vars(r)["economy"]
	periods, err := h.periods.List(r.Context(), economyName)
	if err != nil {
		if errors.Is(err, period.ErrUnknownEconomy) {
			sendNotFound(w, err.Error())
			return
		}
		slog.Error("Period list failed",
			slog.String("type", "error"),
			slog.Any("error", err))
		sendInternalError(w)
		return
	}
	sendSuccess(w, periods, "")
}

func (h *Handler) catalogItems(w http.ResponseWriter, r *http.Request) {
	var (
		items interface{}
		err   error
	)
	if family := r.URL.Query().Get("family"); family != "" {
		items, err = h.catalog.ItemsByFamily(r.Context(), family)
	} else {
		items, err = h.catalog.AllItems(r.Context())
	}
	if err != nil {
		slog.Error("Catalog query failed",
			slog.String("type", "error"),
			slog.Any("error", err))
		sendInternalError(w)
		return
	}
	sendSuccess(w, items, "")
}

func (h *Handler) itemRecipes(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	recipes, err := h.catalog.RecipesByOutput(r.Context(), itemID)
	if err != nil {
		slog.Error("Recipe query failed",
			slog.String("type", "error"),
			slog.String("item_id", itemID),
			slog.Any("error", err))
		sendInternalError(w)
		return
	}
	sendSuccess(w, recipes, "")
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	snap, err := h.engine.Snapshot(r.Context(), userID)
	if err != nil {
		slog.Error("Ledger query failed",
			slog.String("type", "error"),
			slog.String("user_id", userID),
			slog.Any("error", err))
		sendInternalError(w)
		return
	}
	sendSuccess(w, snap, "")
}
