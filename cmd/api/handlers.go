package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cortexkg/cortex/engine/domain"
	"github.com/cortexkg/cortex/engine/knowledge"
	"github.com/cortexkg/cortex/engine/persist"
	"github.com/cortexkg/cortex/engine/suggest"
	"github.com/cortexkg/cortex/engine/vector"
	"github.com/cortexkg/cortex/pkg/vcache"
)

type apiServer struct {
	svc       *knowledge.Service
	suggester *suggest.Suggester
	store     persist.Store
	embedder  *vcache.CachedEmbedder
	logger    *slog.Logger
}

func (s *apiServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/nodes", s.handleAddNode)
	mux.HandleFunc("GET /api/nodes", s.handleQuery)
	mux.HandleFunc("GET /api/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("PATCH /api/nodes/{id}", s.handleUpdateNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", s.handleDeleteNode)
	mux.HandleFunc("POST /api/nodes/{id}/improve", s.handleImproveNode)
	mux.HandleFunc("GET /api/nodes/{id}/related", s.handleFindRelated)
	mux.HandleFunc("GET /api/nodes/{id}/insights", s.handleInsights)
	mux.HandleFunc("GET /api/nodes/{id}/suggestions", s.handleSuggestions)

	mux.HandleFunc("POST /api/relationships", s.handleAddRelationship)
	mux.HandleFunc("PATCH /api/relationships/{source}/{target}", s.handleUpdateRelationship)
	mux.HandleFunc("DELETE /api/relationships/{source}/{target}", s.handleDeleteRelationship)

	mux.HandleFunc("POST /api/analysis", s.handleAnalysis)
	mux.HandleFunc("POST /api/learn", s.handleLearn)
	mux.HandleFunc("GET /api/validate", s.handleValidate)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("POST /api/cluster", s.handleCluster)
	mux.HandleFunc("POST /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy to HTTP statuses.
func (s *apiServer) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrProvider):
		s.logger.Error("provider failure", "err", err)
		writeError(w, http.StatusBadGateway, "embedding provider unavailable")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var n domain.Node
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.AddNode(r.Context(), n); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": n.ID})
}

func (s *apiServer) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.GetNode(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *apiServer) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	var patch domain.NodePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := s.svc.UpdateNode(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *apiServer) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteNode(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleImproveNode(w http.ResponseWriter, r *http.Request) {
	var patch domain.NodePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := s.svc.ImproveNode(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *apiServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nodes := s.svc.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (s *apiServer) handleFindRelated(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nodes, err := s.svc.FindRelated(r.PathValue("id"), params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (s *apiServer) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.svc.SuggestImprovements(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (s *apiServer) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.suggester == nil {
		writeError(w, http.StatusServiceUnavailable, "similarity suggestions not configured")
		return
	}
	n, err := s.svc.GetNode(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	suggestions, err := s.suggester.For(r.Context(), n)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *apiServer) handleAddRelationship(w http.ResponseWriter, r *http.Request) {
	var rel domain.Relationship
	if err := json.NewDecoder(r.Body).Decode(&rel); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.AddRelationship(r.Context(), rel); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *apiServer) handleUpdateRelationship(w http.ResponseWriter, r *http.Request) {
	var patch domain.RelationshipPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rel, err := s.svc.UpdateRelationship(r.Context(), r.PathValue("source"), r.PathValue("target"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *apiServer) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.DeleteRelationship(r.Context(), r.PathValue("source"), r.PathValue("target"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *apiServer) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var params domain.QueryParams
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.svc.FindPatterns(r.Context(), params))
}

func (s *apiServer) handleLearn(w http.ResponseWriter, r *http.Request) {
	var a knowledge.Analysis
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.svc.Learn(r.Context(), a); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *apiServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ValidateGraph())
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetStats())
}

// clusterRequest is the body for POST /api/cluster.
type clusterRequest struct {
	Vectors [][]float64 `json:"vectors"`
	K       int         `json:"k"`
}

func (s *apiServer) handleCluster(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	clusters, err := vector.KMeans(req.Vectors, req.K)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": clusters})
}

func (s *apiServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	snap := s.svc.Snapshot()
	if err := s.store.Save(r.Context(), snap); err != nil {
		s.logger.Error("snapshot save failed", "err", err)
		writeError(w, http.StatusInternalServerError, "snapshot save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":         len(snap.Nodes),
		"relationships": len(snap.Relationships),
		"taken_at":      snap.TakenAt,
	})
}

func (s *apiServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.embedder == nil {
		writeError(w, http.StatusServiceUnavailable, "embedding cache not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.embedder.Stats())
}

// parseQueryParams builds node query filters from URL parameters.
func parseQueryParams(r *http.Request) (domain.QueryParams, error) {
	q := r.URL.Query()
	var p domain.QueryParams

	if v := q.Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			p.Types = append(p.Types, domain.NodeType(t))
		}
	}
	if v := q.Get("tags"); v != "" {
		p.Tags = strings.Split(v, ",")
	}
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, errors.New("invalid min_confidence")
		}
		p.MinConfidence = &f
	}
	if v := q.Get("max_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, errors.New("invalid max_confidence")
		}
		p.MaxConfidence = &f
	}
	if v := q.Get("updated_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, errors.New("invalid updated_after")
		}
		p.UpdatedAfter = &t
	}
	if v := q.Get("updated_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, errors.New("invalid updated_before")
		}
		p.UpdatedBefore = &t
	}
	if v := q.Get("rel_type"); v != "" {
		rt := domain.RelType(v)
		p.RelType = &rt
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.New("invalid offset")
		}
		p.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.New("invalid limit")
		}
		p.Limit = n
	}
	return p, nil
}
