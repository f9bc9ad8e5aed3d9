// Package api exposes the link tracker REST surface over a chi router.
// Handlers translate HTTP requests into coordinator reads and mutations;
// all persistence decisions live in the coordinator.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/linkdeck/coordinator"
	"github.com/hazyhaar/linkdeck/idgen"
	"github.com/hazyhaar/linkdeck/snapshot"
)

// Service holds the handlers for the links API.
type Service struct {
	coord       *coordinator.Coordinator
	logger      *slog.Logger
	activityCap int
	newLinkID   idgen.Generator
	newActID    idgen.Generator
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithActivityCap sets the activity retention length. Default: 50.
func WithActivityCap(n int) Option {
	return func(s *Service) { s.activityCap = n }
}

// WithIDGenerators replaces the link and activity ID generators (tests).
func WithIDGenerators(link, activity idgen.Generator) Option {
	return func(s *Service) {
		s.newLinkID = link
		s.newActID = activity
	}
}

// WithClock replaces the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the API service.
func New(coord *coordinator.Coordinator, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		coord:       coord,
		logger:      logger,
		activityCap: snapshot.DefaultActivityCap,
		newLinkID:   idgen.Prefixed("lnk_", idgen.Default),
		newActID:    idgen.Prefixed("act_", idgen.Default),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHTTP mounts the REST surface on the given router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/links", s.handleListLinks)
	r.Post("/links", s.handleAddLink)
	r.Put("/links/{id}", s.handleUpdateLink)
	r.Delete("/links/{id}", s.handleDeleteLink)
	r.Post("/links/{id}/click", s.handleClickLink)
	r.Get("/activities", s.handleListActivities)
	r.Get("/health", s.handleHealth)
}

// linkRequest is the caller-supplied body for add and update.
type linkRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (lr linkRequest) validate() error {
	if strings.TrimSpace(lr.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(lr.URL) == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

func (s *Service) handleListLinks(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Read(r.Context())
	writeJSON(w, http.StatusOK, snap.Links)
}

func (s *Service) handleAddLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	link := snapshot.Link{
		ID:          s.newLinkID(),
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		Category:    req.Category,
		CreatedAt:   s.now().UTC(),
	}
	actID := s.newActID()
	_, err := s.coord.Mutate(r.Context(), func(sn *snapshot.Snapshot) error {
		sn.AddLink(link, actID, s.activityCap)
		return nil
	})
	if err != nil {
		s.logger.Error("add link failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Service) handleUpdateLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fields := snapshot.LinkFields{
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		Category:    req.Category,
	}
	now := s.now().UTC()
	actID := s.newActID()
	var updated snapshot.Link
	_, err := s.coord.Mutate(r.Context(), func(sn *snapshot.Snapshot) error {
		l, err := sn.UpdateLink(id, fields, now, actID, s.activityCap)
		if err != nil {
			return err
		}
		updated = l
		return nil
	})
	if err != nil {
		s.writeMutateError(w, "update link", id, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := s.now().UTC()
	actID := s.newActID()
	_, err := s.coord.Mutate(r.Context(), func(sn *snapshot.Snapshot) error {
		_, err := sn.DeleteLink(id, now, actID, s.activityCap)
		return err
	})
	if err != nil {
		s.writeMutateError(w, "delete link", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Service) handleClickLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	now := s.now().UTC()
	actID := s.newActID()
	var clicked snapshot.Link
	_, err := s.coord.Mutate(r.Context(), func(sn *snapshot.Snapshot) error {
		l, err := sn.ClickLink(id, now, actID, s.activityCap)
		if err != nil {
			return err
		}
		clicked = l
		return nil
	})
	if err != nil {
		s.writeMutateError(w, "click link", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": clicked.ID, "clicks": clicked.Clicks})
}

func (s *Service) handleListActivities(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Read(r.Context())
	writeJSON(w, http.StatusOK, snap.Activities)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Health())
}

func (s *Service) writeMutateError(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, snapshot.ErrLinkNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Error(op+" failed", "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
