// Package api exposes campaign operations over HTTP for dashboard and
// automation clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/coverage"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/orchestrator"
	"github.com/sells-group/outreach-engine/internal/store"
)

// Engine is the slice of the orchestrator the API drives.
type Engine interface {
	Create(ctx context.Context, req orchestrator.CreateRequest) (*model.Campaign, *coverage.Selection, error)
	Execute(ctx context.Context, campaignID string) error
	Pause(ctx context.Context, campaignID string) error
	Status(ctx context.Context, campaignID string) (*model.Campaign, error)
	Analytics(ctx context.Context, campaignID string) (*model.Analytics, error)
}

// Lister is the slice of the store the API reads directly.
type Lister interface {
	ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]model.Campaign, error)
	ListTargets(ctx context.Context, campaignID string) ([]model.PostalTarget, error)
}

// Server holds the HTTP handler dependencies. Execution runs detached from
// the request on base, so a client disconnect never cancels a campaign.
type Server struct {
	engine Engine
	store  Lister
	base   context.Context
}

// New creates a Server. base bounds the lifetime of detached campaign runs.
func New(base context.Context, engine Engine, lister Lister) *Server {
	return &Server{engine: engine, store: lister, base: base}
}

// Router builds the chi router with CORS and logging middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/targets", s.handleTargets)
			r.Get("/analytics", s.handleAnalytics)
			r.Post("/execute", s.handleExecute)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleExecute)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name      string   `json:"name"`
		Keywords  []string `json:"keywords"`
		Geography string   `json:"geography"`
		Profile   string   `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	campaign, selection, err := s.engine.Create(r.Context(), orchestrator.CreateRequest{
		Name:      payload.Name,
		Keywords:  payload.Keywords,
		Geography: payload.Geography,
		Profile:   model.CoverageProfile(payload.Profile),
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respond(w, http.StatusCreated, map[string]any{
		"campaign":  campaign,
		"selection": selection,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context(), store.CampaignFilter{
		Status: model.CampaignStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]any{"data": campaigns})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	campaign, err := s.engine.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respond(w, http.StatusOK, campaign)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]any{"data": targets})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.engine.Analytics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respond(w, http.StatusOK, analytics)
}

// handleExecute starts or resumes a campaign run and returns immediately.
// The run itself continues on the server's base context.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	campaign, err := s.engine.Status(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if !orchestrator.CanTransition(campaign.Status, model.CampaignRunning) {
		respondError(w, http.StatusConflict, "campaign cannot run from status "+string(campaign.Status))
		return
	}

	go func() {
		if err := s.engine.Execute(s.base, id); err != nil {
			zap.L().Error("campaign run failed",
				zap.String("component", "api"),
				zap.String("campaign_id", id),
				zap.Error(err),
			)
		}
	}()

	respond(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"campaign_id": id,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Pause(r.Context(), id); err != nil {
		var te *orchestrator.TransitionError
		if errors.As(err, &te) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{
		"status":      string(model.CampaignPaused),
		"campaign_id": id,
	})
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respond(w, code, map[string]string{"error": msg})
}
