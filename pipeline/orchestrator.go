// Package pipeline drives a job through parsing and scoring as
// fire-and-forget background stages.
//
// The state machine:
//
//	uploaded --parse--> parsing --ok--> parsed --score--> scoring --ok--> scored
//	parsing --fail--> error (terminal)
//	scoring --fail--> parsed (errorMessage set; scoring is optional)
//
// Nothing serializes two concurrent triggers for the same job: the last
// status write wins. Callers trigger once per upload-completion event.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"resume-pipeline/cache"
	"resume-pipeline/domain"
)

// Orchestrator owns every status transition after upload. Stage failures
// become status writes; they never propagate out of the background task.
type Orchestrator struct {
	store   domain.StatusStore
	blobs   domain.BlobFetcher
	extract domain.TextExtractor
	parser  domain.ResumeParser
	scorer  domain.Scorer
	cache   *cache.ResultCache
	audit   domain.AuditSink
	runner  Runner
	log     logrus.FieldLogger

	minTextLength int
	cacheTTL      time.Duration
}

// Options carries the pipeline policy knobs.
type Options struct {
	// MinTextLength rejects extractions below a usable size. This is a
	// data-quality gate, not a transport error.
	MinTextLength int
	CacheTTL      time.Duration
}

// New wires an orchestrator. All collaborators are constructed by the
// caller at startup; nothing here is lazily initialized.
func New(
	store domain.StatusStore,
	blobs domain.BlobFetcher,
	extract domain.TextExtractor,
	parser domain.ResumeParser,
	scorer domain.Scorer,
	resultCache *cache.ResultCache,
	audit domain.AuditSink,
	runner Runner,
	log logrus.FieldLogger,
	opts Options,
) *Orchestrator {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = 50
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	return &Orchestrator{
		store:         store,
		blobs:         blobs,
		extract:       extract,
		parser:        parser,
		scorer:        scorer,
		cache:         resultCache,
		audit:         audit,
		runner:        runner,
		log:           log,
		minTextLength: opts.MinTextLength,
		cacheTTL:      opts.CacheTTL,
	}
}

// StartParsing schedules the parse stage for a freshly uploaded job and
// returns immediately. On success the scoring stage is chained without any
// further trigger.
func (o *Orchestrator) StartParsing(jobID, ownerID, storagePath, contentType string) {
	o.runner.Submit(func() {
		o.runParse(jobID, ownerID, storagePath, contentType)
	})
}

// StartScoring schedules the scoring stage alone. This is the external
// rescore trigger for jobs already parsed (or scored, when the caller wants
// a fresh job-description variant).
func (o *Orchestrator) StartScoring(jobID, ownerID, jobDescription string) {
	o.runner.Submit(func() {
		o.runScore(jobID, ownerID, jobDescription)
	})
}

func (o *Orchestrator) runParse(jobID, ownerID, storagePath, contentType string) {
	ctx := context.Background()
	log := o.log.WithFields(logrus.Fields{"job_id": jobID, "stage": "parse"})
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("parse stage panicked: %v", r)
			o.failParse(ctx, log, jobID, ownerID, "internal error during parsing", "", started)
		}
	}()

	// The parsing status lands before any fetch or extraction work begins.
	if err := o.store.UpdateStatus(ctx, jobID, ownerID, domain.StatusParsing, ""); err != nil {
		log.WithError(err).Error("failed to mark job as parsing")
		return
	}

	data, err := o.blobs.FetchBytes(ctx, storagePath)
	if err != nil {
		log.WithError(err).Error("fetch failed")
		o.failParse(ctx, log, jobID, ownerID, "failed to fetch the uploaded file", "", started)
		return
	}

	extracted, err := o.extract.ExtractText(ctx, data, contentType)
	if err != nil {
		log.WithError(err).Error("extraction failed")
		o.failParse(ctx, log, jobID, ownerID, "failed to extract text from the uploaded file", "", started)
		return
	}

	if n := len(extracted.Text); n < o.minTextLength {
		msg := fmt.Sprintf("extracted text too short to be a resume: %d characters (minimum %d)", n, o.minTextLength)
		log.Warn(msg)
		o.failParse(ctx, log, jobID, ownerID, msg, extracted.Method, started)
		return
	}

	fields, err := o.parser.ParseStructured(ctx, extracted.Text, extracted.Metadata)
	if err != nil {
		log.WithError(err).Error("structured parsing failed")
		o.failParse(ctx, log, jobID, ownerID, "failed to parse resume content", extracted.Method, started)
		return
	}

	if err := o.store.WriteParsed(ctx, jobID, ownerID, fields); err != nil {
		log.WithError(err).Error("failed to persist parsed fields")
		o.failParse(ctx, log, jobID, ownerID, "failed to store parsed resume", extracted.Method, started)
		return
	}
	if err := o.store.UpdateStatus(ctx, jobID, ownerID, domain.StatusParsed, ""); err != nil {
		log.WithError(err).Error("failed to mark job as parsed")
		return
	}

	o.record(ctx, domain.AuditRecord{
		JobID:      jobID,
		OwnerID:    ownerID,
		Stage:      "parse",
		Method:     extracted.Method,
		Success:    true,
		DurationMS: time.Since(started).Milliseconds(),
		At:         time.Now(),
	})
	log.Info("parse stage complete")

	// Parsed jobs flow straight into scoring; no external trigger.
	o.runner.Submit(func() {
		o.runScore(jobID, ownerID, "")
	})
}

// failParse moves the job to the terminal error state. Parsing failures
// stop the pipeline: scoring is never attempted for them.
func (o *Orchestrator) failParse(ctx context.Context, log logrus.FieldLogger, jobID, ownerID, message, method string, started time.Time) {
	if err := o.store.UpdateStatus(ctx, jobID, ownerID, domain.StatusError, message); err != nil {
		log.WithError(err).Error("failed to mark job as errored")
	}
	o.record(ctx, domain.AuditRecord{
		JobID:        jobID,
		OwnerID:      ownerID,
		Stage:        "parse",
		Method:       method,
		Success:      false,
		ErrorMessage: message,
		DurationMS:   time.Since(started).Milliseconds(),
		At:           time.Now(),
	})
}

func (o *Orchestrator) runScore(jobID, ownerID, jobDescription string) {
	ctx := context.Background()
	log := o.log.WithFields(logrus.Fields{"job_id": jobID, "stage": "score"})
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("score stage panicked: %v", r)
			o.failScore(ctx, log, jobID, ownerID, "internal error during scoring", false, started)
		}
	}()

	job, err := o.store.Get(ctx, jobID, ownerID)
	if err != nil {
		log.WithError(err).Error("failed to load job for scoring")
		return
	}

	fields, err := parsedFields(job)
	if err != nil {
		log.WithError(err).Error("job has no usable parsed fields")
		o.failScore(ctx, log, jobID, ownerID, "no parsed resume data available for scoring", false, started)
		return
	}

	if err := o.store.UpdateStatus(ctx, jobID, ownerID, domain.StatusScoring, ""); err != nil {
		log.WithError(err).Error("failed to mark job as scoring")
		return
	}

	payload, hit := o.cache.Get(ctx, jobID, jobDescription)
	if !hit {
		payload, err = o.scorer.Score(ctx, fields, jobDescription)
		if err != nil {
			log.WithError(err).Error("scoring call failed")
			o.failScore(ctx, log, jobID, ownerID, "scoring failed: "+err.Error(), false, started)
			return
		}
		// A failed cache write is invisible to the job; the payload still
		// lands in the status store below.
		o.cache.Set(ctx, jobID, payload, jobDescription, o.cacheTTL)
	}

	if err := o.store.WriteScored(ctx, jobID, ownerID, payload); err != nil {
		log.WithError(err).Error("failed to persist score")
		o.failScore(ctx, log, jobID, ownerID, "failed to store score", hit, started)
		return
	}
	if err := o.store.UpdateStatus(ctx, jobID, ownerID, domain.StatusScored, ""); err != nil {
		log.WithError(err).Error("failed to mark job as scored")
		return
	}

	o.record(ctx, domain.AuditRecord{
		JobID:      jobID,
		OwnerID:    ownerID,
		Stage:      "score",
		Method:     payload.Model,
		CacheHit:   hit,
		Usage:      payload.Usage,
		Success:    true,
		DurationMS: time.Since(started).Milliseconds(),
		At:         time.Now(),
	})
	log.WithField("cache_hit", hit).Info("score stage complete")
}

// failScore returns the job to parsed rather than error: a failed score
// must never erase the fact that parsing succeeded, and the owner can
// retry scoring later.
func (o *Orchestrator) failScore(ctx context.Context, log logrus.FieldLogger, jobID, ownerID, message string, cacheHit bool, started time.Time) {
	if err := o.store.UpdateStatus(ctx, jobID, ownerID, domain.StatusParsed, message); err != nil {
		log.WithError(err).Error("failed to return job to parsed")
	}
	o.record(ctx, domain.AuditRecord{
		JobID:        jobID,
		OwnerID:      ownerID,
		Stage:        "score",
		CacheHit:     cacheHit,
		Success:      false,
		ErrorMessage: message,
		DurationMS:   time.Since(started).Milliseconds(),
		At:           time.Now(),
	})
}

// record hands an audit entry to the sink. The sink is best-effort by
// contract, so even a panicking implementation cannot disturb job status.
func (o *Orchestrator) record(ctx context.Context, entry domain.AuditRecord) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Debugf("audit sink panicked: %v", r)
		}
	}()
	o.audit.Record(ctx, entry)
}

func parsedFields(job *domain.Job) (*domain.ResumeFields, error) {
	if job.ParsedJSON == nil || *job.ParsedJSON == "" {
		return nil, fmt.Errorf("job %s has no parsed fields", job.ID)
	}
	var fields domain.ResumeFields
	if err := json.Unmarshal([]byte(*job.ParsedJSON), &fields); err != nil {
		return nil, fmt.Errorf("decode parsed fields for job %s: %w", job.ID, err)
	}
	return &fields, nil
}
