package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/cache"
	"resume-pipeline/domain"
)

// syncRunner executes tasks inline so tests observe the full stage chain
// deterministically.
type syncRunner struct{}

func (syncRunner) Submit(task func()) { task() }

// recorder keeps a cross-fake event log so ordering between collaborators
// can be asserted.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeStore struct {
	mu       sync.Mutex
	rec      *recorder
	job      domain.Job
	statuses []domain.Status
}

func newFakeStore(job domain.Job) *fakeStore {
	return &fakeStore{rec: &recorder{}, job: job}
}

func (s *fakeStore) Get(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jobID != s.job.ID || ownerID != s.job.OwnerID {
		return nil, domain.ErrNotFound
	}
	snapshot := s.job
	return &snapshot, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, jobID, ownerID string, status domain.Status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.add("status:" + string(status))
	s.job.Status = status
	if errorMessage != "" {
		s.job.ErrorMessage = errorMessage
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) WriteParsed(ctx context.Context, jobID, ownerID string, fields *domain.ResumeFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	encoded := string(data)
	s.job.ParsedJSON = &encoded
	return nil
}

func (s *fakeStore) WriteScored(ctx context.Context, jobID, ownerID string, payload *domain.ScorePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded := string(data)
	s.job.ScoreJSON = &encoded
	return nil
}

func (s *fakeStore) snapshot() domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

func (s *fakeStore) transitions() []domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Status(nil), s.statuses...)
}

type fakeBlobs struct {
	rec  *recorder
	data []byte
	err  error
}

func (b *fakeBlobs) FetchBytes(ctx context.Context, storagePath string) ([]byte, error) {
	if b.rec != nil {
		b.rec.add("fetch")
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.data, nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (*domain.ExtractResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &domain.ExtractResult{Text: e.text, Method: "unipdf"}, nil
}

type fakeParser struct {
	err error
}

func (p *fakeParser) ParseStructured(ctx context.Context, text string, metadata map[string]string) (*domain.ResumeFields, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ResumeFields{Name: "Jane Doe", TextLength: len(text)}, nil
}

type fakeScorer struct {
	mu      sync.Mutex
	calls   int
	err     error
	payload *domain.ScorePayload
}

func (s *fakeScorer) Score(ctx context.Context, fields *domain.ResumeFields, jobDescription string) (*domain.ScorePayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.payload != nil {
		return s.payload, nil
	}
	return &domain.ScorePayload{OverallScore: 77, Model: "gemini-2.0-flash"}, nil
}

func (s *fakeScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditRecord
	panics  bool
}

func (a *fakeAudit) Record(ctx context.Context, entry domain.AuditRecord) {
	if a.panics {
		panic("audit sink down")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *fakeAudit) list() []domain.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditRecord(nil), a.entries...)
}

// memRedis is a minimal in-memory stand-in for the cache backend.
type memRedis struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    map[string]map[string]struct{}
}

func newMemRedis() *memRedis {
	return &memRedis{entries: map[string][]byte{}, sets: map[string]map[string]struct{}{}}
}

func (m *memRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value.([]byte)
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
		delete(m.sets, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *memRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = map[string]struct{}{}
		m.sets[key] = set
	}
	for _, member := range members {
		set[member.(string)] = struct{}{}
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (m *memRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var members []string
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return redis.NewStringSliceResult(members, nil)
}

func (m *memRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (m *memRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	return redis.NewScanCmdResult(nil, 0, nil)
}

type env struct {
	store  *fakeStore
	blobs  *fakeBlobs
	ext    *fakeExtractor
	scorer *fakeScorer
	audit  *fakeAudit
	orch   *Orchestrator
}

func newEnv(t *testing.T, job domain.Job, runner Runner) *env {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := newFakeStore(job)
	blobs := &fakeBlobs{rec: store.rec, data: []byte("%PDF-1.4 ...")}
	ext := &fakeExtractor{text: strings.Repeat("professional backend engineer ", 10)}
	scorer := &fakeScorer{}
	audit := &fakeAudit{}
	resultCache := cache.NewResultCache(newMemRedis(), time.Hour, log)

	return &env{
		store:  store,
		blobs:  blobs,
		ext:    ext,
		scorer: scorer,
		audit:  audit,
		orch: New(store, blobs, ext, &fakeParser{}, scorer, resultCache, audit, runner, log, Options{
			MinTextLength: 50,
		}),
	}
}

func uploadedJob() domain.Job {
	return domain.Job{
		ID:          "job-1",
		OwnerID:     "owner-1",
		Status:      domain.StatusUploaded,
		StoragePath: "jo/job-1",
		ContentType: "application/pdf",
	}
}

func TestOrchestrator_HappyPath_ParsesThenScores(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")

	assert.Equal(t, []domain.Status{
		domain.StatusParsing,
		domain.StatusParsed,
		domain.StatusScoring,
		domain.StatusScored,
	}, e.store.transitions())

	job := e.store.snapshot()
	require.NotNil(t, job.ParsedJSON)
	require.NotNil(t, job.ScoreJSON)
	assert.Empty(t, job.ErrorMessage)
	assert.Equal(t, 1, e.scorer.callCount())

	entries := e.audit.list()
	require.Len(t, entries, 2)
	assert.Equal(t, "parse", entries[0].Stage)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "score", entries[1].Stage)
	assert.False(t, entries[1].CacheHit)
}

func TestOrchestrator_ParsingStatusPrecedesFetch(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")

	events := e.store.rec.list()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "status:parsing", events[0])
	assert.Equal(t, "fetch", events[1])
}

func TestOrchestrator_FetchFailure_IsTerminal(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})
	e.blobs.err = domain.ErrNotFound

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")

	assert.Equal(t, []domain.Status{domain.StatusParsing, domain.StatusError}, e.store.transitions())
	assert.Equal(t, 0, e.scorer.callCount())
	assert.NotEmpty(t, e.store.snapshot().ErrorMessage)
}

func TestOrchestrator_ExtractionFailure_IsTerminal(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})
	e.ext.err = errors.New("corrupt xref table")

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")

	assert.Equal(t, []domain.Status{domain.StatusParsing, domain.StatusError}, e.store.transitions())
	assert.Equal(t, 0, e.scorer.callCount())
}

func TestOrchestrator_ShortExtractedText_IsTerminal(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})
	e.ext.text = strings.Repeat("x", 40) // below the 50-character floor

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")

	job := e.store.snapshot()
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Contains(t, job.ErrorMessage, "too short")
	assert.Equal(t, 0, e.scorer.callCount(), "scoring must never run after a failed parse")
}

func TestOrchestrator_ScoringFailure_ReturnsToParsed(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})
	e.scorer.err = errors.New("model overloaded")

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")

	job := e.store.snapshot()
	assert.Equal(t, domain.StatusParsed, job.Status, "a scoring failure must not erase a successful parse")
	assert.Contains(t, job.ErrorMessage, "scoring failed")
	require.NotNil(t, job.ParsedJSON, "parsed fields survive a scoring failure")
	assert.Nil(t, job.ScoreJSON)
}

func TestOrchestrator_Rescore_HitsCacheAndSkipsScorer(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")
	require.Equal(t, domain.StatusScored, e.store.snapshot().Status)
	require.Equal(t, 1, e.scorer.callCount())
	firstScore := *e.store.snapshot().ScoreJSON

	// Second run with the same inputs: the cache answers, the scorer does not.
	e.orch.StartScoring("job-1", "owner-1", "")

	assert.Equal(t, domain.StatusScored, e.store.snapshot().Status)
	assert.Equal(t, 1, e.scorer.callCount())

	var first, second domain.ScorePayload
	require.NoError(t, json.Unmarshal([]byte(firstScore), &first))
	require.NoError(t, json.Unmarshal([]byte(*e.store.snapshot().ScoreJSON), &second))
	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.True(t, second.Cached)

	entries := e.audit.list()
	last := entries[len(entries)-1]
	assert.True(t, last.CacheHit)
}

func TestOrchestrator_Rescore_NewDescriptionCallsScorer(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")
	require.Equal(t, 1, e.scorer.callCount())

	e.orch.StartScoring("job-1", "owner-1", "senior golang engineer, fintech")
	assert.Equal(t, 2, e.scorer.callCount())
}

func TestOrchestrator_ScoreWithoutParsedFields_ReturnsToParsed(t *testing.T) {
	job := uploadedJob()
	job.Status = domain.StatusParsed
	e := newEnv(t, job, syncRunner{})

	e.orch.StartScoring("job-1", "owner-1", "")

	snapshot := e.store.snapshot()
	assert.Equal(t, domain.StatusParsed, snapshot.Status)
	assert.Contains(t, snapshot.ErrorMessage, "no parsed resume data")
	assert.Equal(t, 0, e.scorer.callCount())
}

func TestOrchestrator_AuditFailureDoesNotAffectStatus(t *testing.T) {
	e := newEnv(t, uploadedJob(), syncRunner{})
	e.audit.panics = true

	e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")

	assert.Equal(t, domain.StatusScored, e.store.snapshot().Status)
}

func TestOrchestrator_FireAndForget(t *testing.T) {
	e := newEnv(t, uploadedJob(), GoRunner{})

	done := make(chan struct{})
	go func() {
		e.orch.StartParsing("job-1", "owner-1", "jo/job-1", "application/pdf")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartParsing blocked instead of returning immediately")
	}

	require.Eventually(t, func() bool {
		return e.store.snapshot().Status == domain.StatusScored
	}, 2*time.Second, 10*time.Millisecond)
}
