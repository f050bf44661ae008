// Package httpapi exposes the lifecycle engine over HTTP/JSON with a chi
// router. Handlers translate wire shapes and map domain errors to status
// codes; every rule lives in the engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mesh-intelligence/zeromonos/internal/lifecycle"
	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to a lifecycle.Engine.
type Server struct {
	engine *lifecycle.Engine
	logger *slog.Logger
	router chi.Router
}

// New builds the router for engine.
func New(engine *lifecycle.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/residues", func(rr chi.Router) {
			rr.Get("/", s.listResidues)
			rr.Post("/", s.createResidue)
			rr.Get("/search/{query}", s.searchResidues)
			rr.Get("/{id}", s.getResidue)
			rr.Delete("/{id}", s.deleteResidue)
		})
		api.Route("/requests", func(rq chi.Router) {
			rq.Get("/", s.listRequests)
			rq.Post("/", s.createRequest)
			rq.Get("/municipality/{query}", s.listRequestsByMunicipality)
			rq.Get("/{token}", s.getRequest)
			rq.Put("/{token}/{action}", s.transition)
			rq.Delete("/{token}", s.deleteRequest)
		})
		api.Get("/statuses/request/{token}", s.listStatuses)
		api.Get("/statuses/request/{token}/filter/{status}", s.listStatusesWithStatus)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, types.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: malformed JSON body: %v", types.ErrValidation, err)
	}
	return nil
}

func residueID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid residue id %q", types.ErrValidation, raw)
	}
	return id, nil
}

// Residues

func (s *Server) listResidues(w http.ResponseWriter, r *http.Request) {
	residues, err := s.engine.ListResidues(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResiduesJSON(residues))
}

func (s *Server) searchResidues(w http.ResponseWriter, r *http.Request) {
	residues, err := s.engine.SearchResidues(r.Context(), chi.URLParam(r, "query"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResiduesJSON(residues))
}

func (s *Server) getResidue(w http.ResponseWriter, r *http.Request) {
	id, err := residueID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.GetResidue(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResidueJSON(res))
}

func (s *Server) createResidue(w http.ResponseWriter, r *http.Request) {
	var body createResidueBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.CreateResidue(r.Context(), types.NewResidue{
		Name:        body.Name,
		Description: body.Description,
		Weight:      body.Weight,
		Volume:      body.Volume,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResidueJSON(res))
}

func (s *Server) deleteResidue(w http.ResponseWriter, r *http.Request) {
	id, err := residueID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.DeleteResidue(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Requests

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.engine.ListRequests(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestsJSON(requests))
}

func (s *Server) listRequestsByMunicipality(w http.ResponseWriter, r *http.Request) {
	requests, err := s.engine.ListRequestsByMunicipality(r.Context(), chi.URLParam(r, "query"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestsJSON(requests))
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.GetRequest(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestJSON(req))
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.engine.CreateRequest(r.Context(), body.toNewRequest())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(token))
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	action, err := types.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.engine.ApplyTransition(r.Context(), chi.URLParam(r, "token"), action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestJSON(req))
}

func (s *Server) deleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRequest(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Statuses

func (s *Server) listStatuses(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Statuses(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusesJSON(entries))
}

func (s *Server) listStatusesWithStatus(w http.ResponseWriter, r *http.Request) {
	status, err := types.ParseStatus(chi.URLParam(r, "status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.engine.StatusesWithStatus(r.Context(), chi.URLParam(r, "token"), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusesJSON(entries))
}
