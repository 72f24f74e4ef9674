package api

import (
	"net/http"
	"time"

	"github.com/ignite/sheet-dispatch/internal/groups"
	"github.com/ignite/sheet-dispatch/internal/pkg/httputil"
	"github.com/ignite/sheet-dispatch/internal/splitter"
)

const (
	defaultOutputLimit = 10
	maxOutputLimit     = 100
)

// CatalogSource supplies the current catalog snapshot. *groups.Directory
// satisfies it.
type CatalogSource interface {
	Snapshot() *groups.Snapshot
}

// Handlers contains the HTTP handlers
type Handlers struct {
	catalog   CatalogSource
	outputDir string
}

// NewHandlers creates the handlers.
func NewHandlers(catalog CatalogSource, outputDir string) *Handlers {
	return &Handlers{catalog: catalog, outputDir: outputDir}
}

// GroupsResponse is the body of GET /api/groups.
type GroupsResponse struct {
	LoadedAt  time.Time      `json:"loaded_at"`
	CityCount int            `json:"city_count"`
	Groups    []groups.Group `json:"groups"`
}

// OutputsResponse is the body of GET /api/outputs.
type OutputsResponse struct {
	Files []splitter.FileInfo `json:"files"`
}

// HealthCheck reports liveness.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.Text(w, http.StatusOK, "ok")
}

// GetGroups returns the catalog the bot is currently routing with.
//
//	GET /api/groups
func (h *Handlers) GetGroups(w http.ResponseWriter, r *http.Request) {
	snap := h.catalog.Snapshot()
	resp := GroupsResponse{
		LoadedAt:  snap.LoadedAt(),
		CityCount: snap.CityCount(),
		Groups:    []groups.Group{},
	}
	if c := snap.Catalog(); c != nil && c.Groups != nil {
		resp.Groups = c.Groups
	}
	httputil.OK(w, resp)
}

// ListOutputs returns the most recent output files.
//
//	GET /api/outputs?limit=N
func (h *Handlers) ListOutputs(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.QueryInt(w, r, "limit", defaultOutputLimit, maxOutputLimit)
	if !ok {
		return
	}
	files, err := splitter.RecentOutputs(h.outputDir, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, OutputsResponse{Files: files})
}
