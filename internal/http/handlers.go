package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathomd/internal/ingest"
	"github.com/fathomlabs/fathomd/internal/metastore"
	"github.com/fathomlabs/fathomd/internal/query"
	"github.com/fathomlabs/fathomd/internal/scope"
	"github.com/fathomlabs/fathomd/internal/status"
)

// IndexRequest is the request body for POST /api/v1/index. Exactly one of
// Path and URL selects the source: a local tree or a repository to clone.
type IndexRequest struct {
	Path      string `json:"path"`
	URL       string `json:"url"`
	Project   string `json:"project"`
	Dataset   string `json:"dataset"`
	Repo      string `json:"repo"`
	Branch    string `json:"branch"`
	CommitSHA string `json:"commit_sha"`
	Force     bool   `json:"force"`

	// Incremental reindexes only changed files against the recorded
	// baseline instead of walking the whole tree.
	Incremental bool `json:"incremental"`
}

// PagesRequest is the request body for POST /api/v1/pages.
type PagesRequest struct {
	Project string        `json:"project"`
	Dataset string        `json:"dataset"`
	Force   bool          `json:"force"`
	Pages   []ingest.Page `json:"pages"`
}

// ClearRequest is the request body for POST /api/v1/clear.
type ClearRequest struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
}

// ClearResponse is the response body for POST /api/v1/clear.
type ClearResponse struct {
	Cleared    bool   `json:"cleared"`
	Collection string `json:"collection"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req query.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.deps.Query.Search(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" && req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path or url is required")
	}
	if req.Path != "" && req.URL != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path and url are mutually exclusive")
	}

	ctx := c.Request().Context()
	job := ingest.Job{
		Root:      req.Path,
		Project:   req.Project,
		Dataset:   req.Dataset,
		Repo:      req.Repo,
		Branch:    req.Branch,
		CommitSHA: req.CommitSHA,
		Force:     req.Force,
	}

	switch {
	case req.URL != "":
		result, err := s.deps.Indexer.IndexRepository(ctx, req.URL, job)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, result)
	case req.Incremental:
		result, err := s.deps.Indexer.ReindexByChange(ctx, job)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, result)
	default:
		result, err := s.deps.Indexer.IndexCodebase(ctx, job)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func (s *Server) handlePages(c echo.Context) error {
	var req PagesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Pages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "pages field is required")
	}

	result, err := s.deps.Indexer.IndexPages(c.Request().Context(), ingest.PageJob{
		Pages:   req.Pages,
		Project: req.Project,
		Dataset: req.Dataset,
		Force:   req.Force,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleStatus(c echo.Context) error {
	var req status.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" || req.Dataset == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path and dataset fields are required")
	}

	report, err := s.deps.Status.Check(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleClear(c echo.Context) error {
	var req ClearRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Dataset == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "dataset field is required")
	}

	collection, err := s.deps.Clearer.Clear(c.Request().Context(), req.Project, req.Dataset)
	if err != nil {
		return mapError(err)
	}

	s.logger.Info("cleared dataset",
		zap.String("project", req.Project),
		zap.String("dataset", req.Dataset),
		zap.String("collection", collection),
	)
	return c.JSON(http.StatusOK, ClearResponse{Cleared: true, Collection: collection})
}

// mapError translates domain errors into HTTP status codes.
func mapError(err error) error {
	switch {
	case errors.Is(err, query.ErrEmptyQuery),
		errors.Is(err, ingest.ErrInvalidJob),
		errors.Is(err, scope.ErrProjectRequired),
		errors.Is(err, scope.ErrDatasetRequired),
		errors.Is(err, scope.ErrReservedName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, metastore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}
