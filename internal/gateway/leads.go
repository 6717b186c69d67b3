package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (g *Gateway) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID == "" {
		respondError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	page := parseIntParam(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	size := parseIntParam(q.Get("size"), defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	leads, err := g.store.ListLeads(r.Context(), workspaceID, size, (page-1)*size)
	if err != nil {
		g.log.Error("list leads failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"leads": leads,
		"page":  page,
		"size":  size,
	})
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (g *Gateway) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := g.store.ListWorkspaces(r.Context())
	if err != nil {
		g.log.Error("list workspaces failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Credentials stay server-side.
	views := make([]map[string]any, 0, len(workspaces))
	for _, ws := range workspaces {
		views = append(views, map[string]any{
			"id":         ws.ID,
			"provider":   ws.Provider,
			"created_at": ws.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"workspaces": views})
}

func (g *Gateway) handlePutWorkspace(w http.ResponseWriter, r *http.Request) {
	var ws model.Workspace
	if err := json.NewDecoder(r.Body).Decode(&ws); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ws.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := g.store.PutWorkspace(r.Context(), ws); err != nil {
		g.log.Error("put workspace failed", zap.String("workspace_id", ws.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": ws.ID, "status": "saved"})
}
