// Package server exposes imports over HTTP: upload, status polling, results,
// re-analysis and paged row browsing.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tabimport/internal/decoder"
	"tabimport/internal/errs"
	"tabimport/internal/job"
	"tabimport/internal/logging"
	"tabimport/internal/storage"
)

// DefaultMaxUploadBytes caps a multipart upload when Options leaves it unset.
const DefaultMaxUploadBytes = 64 << 20

type Options struct {
	MaxUploadBytes int64
}

// Server holds the routes. Uploaded jobs are started through the manager and
// run in the background; clients poll the status route.
type Server struct {
	ctl       *job.Controller
	mgr       *job.Manager
	log       *slog.Logger
	maxUpload int64
	engine    *gin.Engine
}

func New(ctl *job.Controller, mgr *job.Manager, opt Options, log *slog.Logger) *Server {
	if opt.MaxUploadBytes <= 0 {
		opt.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		ctl:       ctl,
		mgr:       mgr,
		log:       logging.OrDiscard(log),
		maxUpload: opt.MaxUploadBytes,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1 := r.Group("/v1/imports")
	v1.POST("", s.upload)
	v1.GET("/:id", s.get)
	v1.GET("/:id/status", s.status)
	v1.POST("/:id/analyze", s.analyze)
	v1.GET("/:id/rows", s.rows)
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

type uploadForm struct {
	OrganizationID string                `form:"organization_id" binding:"required,max=128"`
	RenameMap      string                `form:"rename_map"`
	File           *multipart.FileHeader `form:"file" binding:"required"`
}

func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	var form uploadForm
	if err := c.ShouldBind(&form); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.fail(c, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if _, err := decoder.KindFromFilename(form.File.Filename); err != nil {
		s.fail(c, errs.KindUnsupportedFormat.HTTPStatus(), err)
		return
	}

	var rename map[string]string
	if form.RenameMap != "" {
		if err := json.Unmarshal([]byte(form.RenameMap), &rename); err != nil {
			s.fail(c, http.StatusBadRequest, fmt.Errorf("rename_map: %w", err))
			return
		}
	}

	data, err := readPart(form.File)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	j, err := s.ctl.Upload(ctx, form.OrganizationID, form.File.Filename, data, rename)
	if err != nil {
		s.failErr(c, err)
		return
	}
	if err := s.mgr.Submit(ctx, j.ID); err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) get(c *gin.Context) {
	j, err := s.ctl.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) status(c *gin.Context) {
	v, err := s.ctl.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) analyze(c *gin.Context) {
	id := c.Param("id")
	if err := s.mgr.Submit(c.Request.Context(), id); err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "queued"})
}

type rowsQuery struct {
	Sort     string `form:"sort" binding:"max=256"`
	Dir      string `form:"dir" binding:"omitempty,oneof=asc desc"`
	Q        string `form:"q" binding:"max=256"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=1000"`
}

func (s *Server) rows(c *gin.Context) {
	var q rowsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	page, err := s.ctl.Rows(c.Request.Context(), c.Param("id"), storage.RowQuery{
		Sort:     q.Sort,
		Desc:     q.Dir == "desc",
		Search:   q.Q,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// failErr maps domain errors to status codes.
func (s *Server) failErr(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, job.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, job.ErrShuttingDown):
		code = http.StatusServiceUnavailable
	case errs.KindOf(err) != errs.KindUnknown:
		code = errs.KindOf(err).HTTPStatus()
	}
	s.fail(c, code, err)
}

func (s *Server) fail(c *gin.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "status", code, "error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Truncate(time.Microsecond),
			"client", c.ClientIP(),
		)
	}
}
