package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores and fetchers when the requested
// job or blob does not exist.
var ErrNotFound = errors.New("not found")

// BlobFetcher loads the raw uploaded bytes for a job.
type BlobFetcher interface {
	FetchBytes(ctx context.Context, storagePath string) ([]byte, error)
}

// TextExtractor turns raw file bytes into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (*ExtractResult, error)
}

// ResumeParser turns extracted text into structured resume fields.
type ResumeParser interface {
	ParseStructured(ctx context.Context, text string, metadata map[string]string) (*ResumeFields, error)
}

// Scorer rates parsed resume fields, optionally against a job description.
type Scorer interface {
	Score(ctx context.Context, fields *ResumeFields, jobDescription string) (*ScorePayload, error)
}

// StatusStore is the durable job record the pipeline writes through.
type StatusStore interface {
	Get(ctx context.Context, jobID, ownerID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID, ownerID string, status Status, errorMessage string) error
	WriteParsed(ctx context.Context, jobID, ownerID string, fields *ResumeFields) error
	WriteScored(ctx context.Context, jobID, ownerID string, payload *ScorePayload) error
}

// AuditRecord describes one pipeline stage execution.
type AuditRecord struct {
	JobID        string     `json:"job_id"`
	OwnerID      string     `json:"owner_id"`
	Stage        string     `json:"stage"`
	Method       string     `json:"method,omitempty"`
	CacheHit     bool       `json:"cache_hit"`
	Usage        TokenUsage `json:"usage"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	At           time.Time  `json:"at"`
}

// AuditSink receives stage audit records. Implementations are best-effort:
// a failed Record must never influence job status.
type AuditSink interface {
	Record(ctx context.Context, entry AuditRecord)
}
