package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/tozd/go/errors"

	"github.com/abramin/namelens/internal/cache"
	"github.com/abramin/namelens/internal/mapping"
	"github.com/abramin/namelens/internal/query"
	"github.com/abramin/namelens/internal/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RecordResponse is a mapping record with its resolved owner.
type RecordResponse struct {
	mapping.Record
	Owner string `json:"owner,omitempty"`
}

// LookupResponse is the body of a completed lookup.
type LookupResponse struct {
	Version string           `json:"version"`
	Type    mapping.Type     `json:"type"`
	Query   string           `json:"query"`
	BuildID string           `json:"build_id"`
	Records []RecordResponse `json:"records"`
}

// PendingResponse is returned with 202 while the version is still building.
type PendingResponse struct {
	Version string `json:"version"`
	State   string `json:"state"`
	Message string `json:"message"`
}

// VersionsResponse lists known versions and the state of cached ones.
type VersionsResponse struct {
	Versions []string       `json:"versions"`
	Latest   string         `json:"latest,omitempty"`
	Cache    []cache.Status `json:"cache"`
}

// DefaultResponse is a guild's default version.
type DefaultResponse struct {
	Guild   string `json:"guild"`
	Version string `json:"version"`
	Set     bool   `json:"set"`
}

// DefaultsResponse lists every guild with a default version.
type DefaultsResponse struct {
	Defaults []DefaultResponse `json:"defaults"`
}

// DefaultRequest is the body of PUT /api/guilds/:guild/default.
type DefaultRequest struct {
	Version string `json:"version" binding:"required"`
}

// StatsResponse combines cache and store statistics.
type StatsResponse struct {
	Cache []cache.Status `json:"cache"`
	Store *store.Stats   `json:"store,omitempty"`
}

// writeError maps err to a status code and writes it.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case mapping.IsNoSuchVersion(err):
		status, code = http.StatusNotFound, "NO_SUCH_VERSION"
	case errors.Is(err, query.ErrInvalidVersion):
		status, code = http.StatusBadRequest, "INVALID_VERSION"
	case errors.Is(err, query.ErrEmptyName):
		status, code = http.StatusBadRequest, "INVALID_NAME"
	case mapping.IsParseError(err):
		code = "PARSE_ERROR"
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStats returns cache state and stored history statistics.
func (s *Server) handleStats(c *gin.Context) {
	resp := StatsResponse{Cache: s.svc.Cache().Statuses()}
	if s.store != nil {
		stats, err := s.store.GetStats(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		resp.Store = stats
	}
	c.JSON(http.StatusOK, resp)
}

// handleVersions handles GET /api/versions.
func (s *Server) handleVersions(c *gin.Context) {
	versions, err := s.svc.Versions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := VersionsResponse{
		Versions: versions,
		Cache:    s.svc.Cache().Statuses(),
	}
	if resp.Versions == nil {
		resp.Versions = []string{}
	}
	if len(versions) > 0 {
		resp.Latest = versions[len(versions)-1]
	}
	c.JSON(http.StatusOK, resp)
}

// handleLookup handles GET /api/lookup/:type?name=&version=&guild=.
//
// Response:
//
//	200 OK: LookupResponse
//	202 Accepted: PendingResponse, the version is still building
//	400 Bad Request: unknown type or empty name
//	404 Not Found: unknown version
func (s *Server) handleLookup(c *gin.Context) {
	t, err := mapping.ParseType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_TYPE"})
		return
	}

	req := query.Request{
		Type:    t,
		Name:    c.Query("name"),
		Version: c.Query("version"),
		Guild:   c.Query("guild"),
	}
	res, err := s.svc.Lookup(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Pending {
		c.JSON(http.StatusAccepted, PendingResponse{
			Version: res.Version,
			State:   cache.StateBuilding.String(),
			Message: query.BuildingNotice,
		})
		return
	}

	records := make([]RecordResponse, len(res.Records))
	for i, r := range res.Records {
		records[i] = RecordResponse{Record: r, Owner: res.Dataset.Owner(r)}
	}
	c.JSON(http.StatusOK, LookupResponse{
		Version: res.Version,
		Type:    t,
		Query:   req.Name,
		BuildID: res.Dataset.BuildID(),
		Records: records,
	})
}

// handleReload rebuilds a version and swaps it in once built.
func (s *Server) handleReload(c *gin.Context) {
	ctx := c.Request.Context()
	version, err := s.svc.Cache().Resolve(ctx, c.Param("version"))
	if err != nil {
		writeError(c, err)
		return
	}
	ds, err := s.svc.Cache().Reload(ctx, version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds.Stats())
}

// handleInvalidate drops a published version.
func (s *Server) handleInvalidate(c *gin.Context) {
	version := c.Param("version")
	c.JSON(http.StatusOK, gin.H{
		"version":     version,
		"invalidated": s.svc.Cache().Invalidate(version),
	})
}

func (s *Server) handleListDefaults(c *gin.Context) {
	defaults, err := s.svc.ListDefaults(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := DefaultsResponse{Defaults: make([]DefaultResponse, 0, len(defaults))}
	for _, d := range defaults {
		resp.Defaults = append(resp.Defaults, DefaultResponse{Guild: d.Guild, Version: d.Version, Set: true})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetDefault(c *gin.Context) {
	guild := c.Param("guild")
	version, set, err := s.svc.Default(c.Request.Context(), guild)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DefaultResponse{Guild: guild, Version: version, Set: set})
}

func (s *Server) handleSetDefault(c *gin.Context) {
	guild := c.Param("guild")
	var req DefaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if err := s.svc.SetDefault(c.Request.Context(), guild, req.Version); err != nil {
		writeError(c, err)
		return
	}
	slog.InfoContext(c.Request.Context(), "guild default updated", "guild", guild, "version", req.Version)
	s.handleGetDefault(c)
}

func (s *Server) handleClearDefault(c *gin.Context) {
	guild := c.Param("guild")
	if _, err := s.svc.ClearDefault(c.Request.Context(), guild); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DefaultResponse{Guild: guild, Version: cache.Latest})
}
