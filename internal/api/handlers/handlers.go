// Package handlers implements the HTTP handlers for the Cubeline analytical
// engine: the conversational chat endpoint, direct agent invocation, schema
// discovery, and dashboard aggregates.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cubeline/cubeline/internal/engine"
	"github.com/cubeline/cubeline/internal/planner"
	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine    *engine.Engine
	Planner   *planner.Service
	Warehouse *warehouse.Warehouse
	Meta      *warehouse.Metadata
}

// New creates a Handlers instance.
func New(eng *engine.Engine, pl *planner.Service, wh *warehouse.Warehouse, meta *warehouse.Metadata) *Handlers {
	return &Handlers{Engine: eng, Planner: pl, Warehouse: wh, Meta: meta}
}

// ── Chat ─────────────────────────────────────────────────────

type chatRequest struct {
	Query        string `json:"query"`
	SessionID    string `json:"session_id"`
	ResetContext bool   `json:"reset_context"`
}

type chatResponse struct {
	SessionID string               `json:"session_id"`
	Result    *models.EngineResult `json:"result"`
}

// Chat answers one conversational turn: plan the query, execute the plan,
// and return the assembled result.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.ResetContext {
		h.Engine.ResetContext(req.SessionID)
	}

	turns := h.Engine.Context(req.SessionID)
	plan := h.Planner.Plan(r.Context(), req.Query, turns)
	result := h.Engine.Execute(r.Context(), req.SessionID, req.Query, plan)

	log.Info().
		Str("session", req.SessionID).
		Str("status", string(result.Status)).
		Int("steps", len(result.Steps)).
		Msg("chat turn answered")
	respondJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Result: result})
}

// ── Direct agent invocation ──────────────────────────────────

type invokeRequest struct {
	Agent      string        `json:"agent"`
	Operation  string        `json:"operation"`
	Parameters models.Params `json:"parameters"`
}

// InvokeAgent runs a single agent operation without planning. Validation is
// the same as for a one-step plan.
func (h *Handlers) InvokeAgent(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	out, engErr := h.Engine.Invoke(r.Context(), req.Agent, req.Operation, req.Parameters)
	if engErr != nil {
		status := http.StatusInternalServerError
		if engErr.Kind == models.ErrInvalidPlan {
			status = http.StatusBadRequest
		}
		respondJSON(w, status, map[string]any{
			"error": engErr.Reason,
			"kind":  engErr.Kind,
		})
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// ── Conversation context ─────────────────────────────────────

func (h *Handlers) GetContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	turns := h.Engine.Context(sessionID)
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (h *Handlers) ResetContext(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	h.Engine.ResetContext(sessionID)
	respondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "reset"})
}

// ── Schema & dashboard ───────────────────────────────────────

// GetSchema describes the star schema: hierarchies, known dimension values,
// and measures. Clients use it to populate query builders.
func (h *Handlers) GetSchema(w http.ResponseWriter, _ *http.Request) {
	dimensions := make(map[string]any, len(h.Meta.Hierarchies))
	for name, hier := range h.Meta.Hierarchies {
		values := map[string][]string{}
		for _, level := range hier.Levels {
			if vals, ok := h.Meta.Values[level]; ok {
				values[level] = vals
			}
		}
		dimensions[name] = map[string]any{
			"hierarchy": hier.Levels,
			"values":    values,
		}
	}
	dimensions["customer"] = map[string]any{
		"hierarchy": []string{"customer_segment"},
		"values":    map[string][]string{"customer_segment": h.Meta.Values["customer_segment"]},
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"dimensions": dimensions,
		"measures":   h.Meta.Measures,
		"fact_table": "fact_sales",
	})
}

// GetStats returns headline totals for the dashboard.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	rows, _, err := h.Warehouse.Query(r.Context(), `SELECT COUNT(*)           AS total_transactions,
ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(SUM(f.profit), 2)        AS total_profit,
ROUND(AVG(f.profit_margin), 2) AS avg_margin,
ROUND(AVG(f.revenue), 2)       AS avg_order_value
FROM fact_sales f`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) == 0 {
		respondJSON(w, http.StatusOK, models.Row{})
		return
	}
	respondJSON(w, http.StatusOK, rows[0])
}

// RevenueByRegion, RevenueByYear, and RevenueByCategory feed the dashboard's
// fixed breakdown panels.
func (h *Handlers) RevenueByRegion(w http.ResponseWriter, r *http.Request) {
	h.breakdown(w, r, `SELECT g.region,
ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(SUM(f.profit), 2)        AS total_profit,
ROUND(AVG(f.profit_margin), 2) AS avg_margin
FROM fact_sales f
JOIN dim_geography g ON f.geo_key = g.geo_key
GROUP BY g.region
ORDER BY total_revenue DESC`)
}

func (h *Handlers) RevenueByYear(w http.ResponseWriter, r *http.Request) {
	h.breakdown(w, r, `SELECT d.year,
ROUND(SUM(f.revenue), 2) AS total_revenue,
ROUND(SUM(f.profit), 2)  AS total_profit
FROM fact_sales f
JOIN dim_date d ON f.date_key = d.date_key
GROUP BY d.year
ORDER BY d.year`)
}

func (h *Handlers) RevenueByCategory(w http.ResponseWriter, r *http.Request) {
	h.breakdown(w, r, `SELECT p.category,
ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(AVG(f.profit_margin), 2) AS avg_margin
FROM fact_sales f
JOIN dim_product p ON f.product_key = p.product_key
GROUP BY p.category
ORDER BY total_revenue DESC`)
}

func (h *Handlers) breakdown(w http.ResponseWriter, r *http.Request, sql string) {
	rows, _, err := h.Warehouse.Query(r.Context(), sql)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []models.Row{}
	}
	respondJSON(w, http.StatusOK, rows)
}

// ── Health ───────────────────────────────────────────────────

// Health reports liveness, verifying the warehouse is reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Warehouse.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("health check: warehouse unreachable")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"service": "cubeline",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "cubeline",
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
