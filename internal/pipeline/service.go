package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/dedupe"
	"github.com/JonMunkholm/healthingest/internal/logging"
	"github.com/JonMunkholm/healthingest/internal/report"
)

var (
	// ErrBatchNotFound is returned for unknown, expired or committed batches.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrUnresolvedDuplicates is returned when committing a batch that
	// still has Pending candidates.
	ErrUnresolvedDuplicates = errors.New("batch has unresolved duplicates")
	// ErrQuarantined is returned when committing a quarantined batch that
	// was not released with the force action.
	ErrQuarantined = errors.New("batch is quarantined")
	// ErrCandidateNotFound is returned when no candidate has the index.
	ErrCandidateNotFound = errors.New("duplicate candidate not found")
)

// ServiceConfig holds the service policies.
type ServiceConfig struct {
	MaxConcurrent int
	MaxWait       time.Duration
	// Timeout bounds one Ingest call.
	Timeout time.Duration
	// RetryAttempts is how often Submit tries to get a slot.
	RetryAttempts int
	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration
	// BatchTTL is how long an uncommitted batch is kept.
	BatchTTL time.Duration
}

// Defaults for zero ServiceConfig fields.
const (
	DefaultTimeout       = 10 * time.Minute
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 2 * time.Second
	DefaultBatchTTL      = time.Hour
)

// Service ingests files through the limiter and keeps pending batches
// until they are committed or expire.
type Service struct {
	pipeline  *Pipeline
	limiter   *Limiter
	store     core.Store
	publisher core.Publisher
	observer  Observer
	cfg       ServiceConfig
	now       func() time.Time

	mu      sync.Mutex
	batches map[string]*batch
}

type batch struct {
	report     report.Report
	records    []*core.Record
	candidates []core.DuplicateCandidate
	released   bool
	expiresAt  time.Time
}

// BatchView is the externally visible state of a pending batch.
type BatchView struct {
	ID          string                    `json:"batch_id"`
	Report      report.Report             `json:"report"`
	Duplicates  []core.DuplicateCandidate `json:"duplicates,omitempty"`
	Unresolved  int                       `json:"unresolved"`
	Quarantined bool                      `json:"quarantined"`
	Records     int                       `json:"records"`
	Pending     bool                      `json:"pending"`
	ExpiresAt   time.Time                 `json:"expires_at"`
}

// CommitResult is the outcome of Commit.
type CommitResult struct {
	BatchID string `json:"batch_id"`
	core.PersistResult
	Published bool `json:"published"`
}

// NewService builds a service. store is required; publisher may be nil.
func NewService(p *Pipeline, store core.Store, publisher core.Publisher, cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.BatchTTL <= 0 {
		cfg.BatchTTL = DefaultBatchTTL
	}
	return &Service{
		pipeline:  p,
		limiter:   NewLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		store:     store,
		publisher: publisher,
		observer:  p.observer,
		cfg:       cfg,
		now:       time.Now,
		batches:   make(map[string]*batch),
	}
}

// Limiter returns the service's limiter.
func (s *Service) Limiter() *Limiter { return s.limiter }

// Pipeline returns the service's pipeline.
func (s *Service) Pipeline() *Pipeline { return s.pipeline }

// Submit ingests one file. Limiter saturation is retried with linear
// backoff; any other acquire error is returned. A report that is not
// Failed is kept as a pending batch under the report id.
func (s *Service) Submit(ctx context.Context, file core.RawFile, opts Options) (BatchView, error) {
	log := logging.WithFields(ctx, "file", file.Filename)

	var err error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		if err = s.limiter.Acquire(ctx); err == nil {
			break
		}
		if !errors.Is(err, ErrTooManyIngests) || attempt == s.cfg.RetryAttempts {
			return BatchView{}, fmt.Errorf("submit %s: %w", file.Filename, err)
		}
		wait := s.cfg.RetryBackoff * time.Duration(attempt)
		log.Info("ingest slots busy, retrying", "attempt", attempt, "wait", wait)
		select {
		case <-ctx.Done():
			return BatchView{}, fmt.Errorf("submit %s: %w", file.Filename, ctx.Err())
		case <-time.After(wait):
		}
	}
	defer s.limiter.Release()

	ictx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	res := s.pipeline.Ingest(ictx, file, opts)

	if res.Report.Status == core.StatusFailed {
		return BatchView{ID: res.Report.ID, Report: res.Report}, nil
	}

	b := &batch{
		report:     res.Report,
		records:    res.Records,
		candidates: append([]core.DuplicateCandidate(nil), res.Report.Duplicates...),
		expiresAt:  s.now().Add(s.cfg.BatchTTL),
	}
	s.mu.Lock()
	s.batches[res.Report.ID] = b
	view := s.viewLocked(res.Report.ID, b)
	s.mu.Unlock()
	return view, nil
}

// Submission is one file's outcome in IngestAll.
type Submission struct {
	Filename string
	Batch    BatchView
	Err      error
}

// IngestAll submits files concurrently, at most the limiter's capacity at
// a time. Per-file errors are reported in the submissions; only ctx
// cancellation stops the whole run.
func (s *Service) IngestAll(ctx context.Context, files []core.RawFile, opts Options) ([]Submission, error) {
	out := make([]Submission, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limiter.MaxConcurrent())

	for i, f := range files {
		g.Go(func() error {
			view, err := s.Submit(gctx, f, opts)
			out[i] = Submission{Filename: f.Filename, Batch: view, Err: err}
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("ingest all: %w", err)
	}
	return out, nil
}

// Get returns a pending batch.
func (s *Service) Get(id string) (BatchView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookupLocked(id)
	if err != nil {
		return BatchView{}, err
	}
	return s.viewLocked(id, b), nil
}

// List returns every pending batch, oldest expiry first.
func (s *Service) List() []BatchView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BatchView, 0, len(s.batches))
	for id, b := range s.batches {
		out = append(out, s.viewLocked(id, b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Resolve sets the resolution of the candidate for record index.
func (s *Service) Resolve(id string, index int, res core.Resolution) (BatchView, error) {
	if res == core.ResolutionPending {
		return BatchView{}, fmt.Errorf("%w: %q", dedupe.ErrInvalidResolution, res)
	}
	if _, ok := core.ParseResolution(string(res)); !ok {
		return BatchView{}, fmt.Errorf("%w: %q", dedupe.ErrInvalidResolution, res)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookupLocked(id)
	if err != nil {
		return BatchView{}, err
	}
	for i := range b.candidates {
		if b.candidates[i].Index == index {
			b.candidates[i].Resolution = res
			return s.viewLocked(id, b), nil
		}
	}
	return BatchView{}, fmt.Errorf("%w: index %d", ErrCandidateNotFound, index)
}

// ResolveAll applies a bulk action to every Pending candidate. Force also
// releases a quarantined batch.
func (s *Service) ResolveAll(ctx context.Context, id, action string) (BatchView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.lookupLocked(id)
	if err != nil {
		return BatchView{}, err
	}
	n, err := dedupe.ResolveAll(b.candidates, action)
	if err != nil {
		return BatchView{}, err
	}
	if action == dedupe.ActionForce && b.report.Quarantined && !b.released {
		b.released = true
		logging.WithFields(ctx, "batch_id", id).Warn("quarantined batch released by force")
	}
	logging.WithFields(ctx, "batch_id", id).Info("bulk resolution applied", "action", action, "changed", n)
	return s.viewLocked(id, b), nil
}

// Commit persists a fully resolved batch and publishes its report. The
// batch is removed once persisted; a failed persist leaves it pending.
func (s *Service) Commit(ctx context.Context, id string) (CommitResult, error) {
	log := logging.WithFields(ctx, "batch_id", id)

	s.mu.Lock()
	b, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		return CommitResult{}, err
	}
	if b.report.Quarantined && !b.released {
		s.mu.Unlock()
		return CommitResult{}, fmt.Errorf("commit %s: %w", id, ErrQuarantined)
	}
	writes, skipped, err := dedupe.Plan(b.records, b.candidates)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, dedupe.ErrUnresolved) {
			return CommitResult{}, fmt.Errorf("commit %s: %w: %v", id, ErrUnresolvedDuplicates, err)
		}
		return CommitResult{}, fmt.Errorf("commit %s: %w", id, err)
	}
	// Take the batch so a concurrent Commit cannot persist it twice.
	delete(s.batches, id)
	s.mu.Unlock()

	result := CommitResult{BatchID: id}
	if len(writes) > 0 {
		pr, err := s.store.Persist(ctx, writes)
		if err != nil {
			s.mu.Lock()
			s.batches[id] = b
			s.mu.Unlock()
			log.Error("persist failed", "error", err)
			return CommitResult{}, fmt.Errorf("commit %s: persist: %w", id, err)
		}
		result.PersistResult = pr
	}
	result.Skipped += skipped
	s.observer.Committed(result.PersistResult)

	if s.publisher != nil {
		msg := core.Message{
			ReportID:    b.report.ID,
			Filename:    b.report.File.Filename,
			Status:      b.report.Status,
			Report:      b.report,
			Records:     writes,
			PublishedAt: s.now().UTC(),
		}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			log.Warn("publish failed; records are persisted", "error", err)
		} else {
			result.Published = true
		}
	}

	log.Info("batch committed",
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"published", result.Published,
	)
	return result, nil
}

// Discard drops a pending batch without persisting it.
func (s *Service) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookupLocked(id); err != nil {
		return err
	}
	delete(s.batches, id)
	return nil
}

// lookupLocked returns a live batch. Expired batches are removed.
func (s *Service) lookupLocked(id string) (*batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if !s.now().Before(b.expiresAt) {
		delete(s.batches, id)
		return nil, fmt.Errorf("%w: %s (expired)", ErrBatchNotFound, id)
	}
	return b, nil
}

func (s *Service) viewLocked(id string, b *batch) BatchView {
	return BatchView{
		ID:          id,
		Report:      b.report,
		Duplicates:  append([]core.DuplicateCandidate(nil), b.candidates...),
		Unresolved:  dedupe.Unresolved(b.candidates),
		Quarantined: b.report.Quarantined && !b.released,
		Records:     len(b.records),
		Pending:     true,
		ExpiresAt:   b.expiresAt,
	}
}
