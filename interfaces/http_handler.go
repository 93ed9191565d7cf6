package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"resume-pipeline/cache"
	"resume-pipeline/domain"
	"resume-pipeline/ratelimit"
)

// JobStore is the slice of the status store the HTTP layer needs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID, ownerID string) (*domain.Job, error)
}

// BlobSaver stores uploaded resume bytes.
type BlobSaver interface {
	Save(ctx context.Context, jobID string, data []byte) (string, error)
}

// Pipeline is the fire-and-forget trigger surface of the orchestrator.
type Pipeline interface {
	StartParsing(jobID, ownerID, storagePath, contentType string)
	StartScoring(jobID, ownerID, jobDescription string)
}

// Gates holds the three admission tiers the routes are wired through.
type Gates struct {
	Default *ratelimit.Gate
	Strict  *ratelimit.Gate
	AI      *ratelimit.Gate
}

type HTTPHandler struct {
	Store    JobStore
	Blobs    BlobSaver
	Pipeline Pipeline
	Cache    *cache.ResultCache
}

func NewHTTPHandler(router *gin.Engine, store JobStore, blobs BlobSaver, pipe Pipeline, resultCache *cache.ResultCache, gates Gates) {
	h := &HTTPHandler{Store: store, Blobs: blobs, Pipeline: pipe, Cache: resultCache}

	router.GET("/healthz", h.Health)

	router.POST("/upload", ratelimit.Middleware(gates.Strict), h.Upload)
	router.GET("/jobs/:id", ratelimit.Middleware(gates.Default), h.GetJob)
	router.POST("/jobs/:id/score", ratelimit.Middleware(gates.AI), h.Rescore)

	admin := router.Group("/cache", ratelimit.Middleware(gates.Strict))
	admin.GET("/stats", h.CacheStats)
	admin.DELETE("/jobs/:id", h.InvalidateJob)
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Upload accepts a resume file, stores it, creates the job in uploaded
// state and triggers parsing. The response returns before any pipeline
// work happens.
func (h *HTTPHandler) Upload(c *gin.Context) {
	ownerID := strings.TrimSpace(c.PostForm("owner_id"))
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	header, err := c.FormFile("resume_file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resume_file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read uploaded file"})
		return
	}

	jobID := uuid.NewString()
	storagePath, err := h.Blobs.Save(c.Request.Context(), jobID, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store uploaded file"})
		return
	}

	contentType := resolveContentType(header.Header.Get("Content-Type"), header.Filename)
	job := &domain.Job{
		ID:          jobID,
		OwnerID:     ownerID,
		Status:      domain.StatusUploaded,
		StoragePath: storagePath,
		ContentType: contentType,
	}
	if err := h.Store.Create(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	h.Pipeline.StartParsing(jobID, ownerID, storagePath, contentType)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": domain.StatusUploaded,
	})
}

// GetJob returns current status plus whatever stage output exists. A job in
// error surfaces its message verbatim; a parsed job with a scoring error
// still exposes the parsed fields.
func (h *HTTPHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")
	ownerID := strings.TrimSpace(c.Query("owner_id"))
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	job, err := h.Store.Get(c.Request.Context(), jobID, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	resp := gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.ErrorMessage != "" {
		resp["error_message"] = job.ErrorMessage
	}
	if job.ParsedJSON != nil && *job.ParsedJSON != "" {
		resp["parsed"] = json.RawMessage(*job.ParsedJSON)
	}
	if job.Status == domain.StatusScored && job.ScoreJSON != nil && *job.ScoreJSON != "" {
		resp["score"] = json.RawMessage(*job.ScoreJSON)
	}
	c.JSON(http.StatusOK, resp)
}

// Rescore re-runs the scoring stage, optionally against a job description.
// Only jobs that already parsed qualify.
func (h *HTTPHandler) Rescore(c *gin.Context) {
	jobID := c.Param("id")

	var req struct {
		OwnerID        string `json:"owner_id" binding:"required"`
		JobDescription string `json:"job_description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Store.Get(c.Request.Context(), jobID, req.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	if job.Status != domain.StatusParsed && job.Status != domain.StatusScored {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job is not ready for scoring",
			"status": job.Status,
		})
		return
	}

	h.Pipeline.StartScoring(jobID, req.OwnerID, req.JobDescription)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": domain.StatusScoring,
	})
}

func (h *HTTPHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Cache.Stats(c.Request.Context()))
}

func (h *HTTPHandler) InvalidateJob(c *gin.Context) {
	ok := h.Cache.Invalidate(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"invalidated": ok})
}

func resolveContentType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
