// Package scan orchestrates bulk duplication scans over the learner
// population: blocking, parallel pair evaluation, scoring and flag
// routing, with a persisted report per run.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/learnersafe/heron/internal/blocking"
	"github.com/learnersafe/heron/internal/domain"
	"github.com/learnersafe/heron/internal/flags"
	"github.com/learnersafe/heron/internal/normalize"
	"github.com/learnersafe/heron/internal/rules"
	"github.com/learnersafe/heron/internal/score"
)

// ErrScanRunning is returned when a scan is triggered while another one
// holds the lease for the same population.
var ErrScanRunning = errors.New("a scan is already running for this population")

// Options selects the scan mode.
type Options struct {
	// Incremental restricts the scan to learners changed since Since.
	// Candidate pairs are still drawn against the full population so a
	// changed record can match an unchanged one.
	Incremental bool
	Since       time.Time
}

// Scanner runs bulk duplication scans. At most one scan is active per
// population at a time, enforced by an in-process guard plus a cache
// lease so multiple nodes sharing a Redis cannot double-scan.
type Scanner struct {
	repo    domain.Repository
	engine  *rules.Engine
	scorer  *score.Scorer
	gen     *blocking.Generator
	flags   *flags.Manager
	cache   domain.Cache
	bus     domain.EventBus
	cfg     domain.DetectionConfig
	normOpt normalize.Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewScanner wires the scan orchestrator. The cache and bus may be nil;
// without a cache the lease is process-local only.
func NewScanner(repo domain.Repository, engine *rules.Engine, mgr *flags.Manager, cache domain.Cache, bus domain.EventBus, cfg domain.DetectionConfig) *Scanner {
	return &Scanner{
		repo:    repo,
		engine:  engine,
		scorer:  score.NewScorer(cfg.MinConfidence),
		gen:     blocking.NewGenerator(cfg),
		flags:   mgr,
		cache:   cache,
		bus:     bus,
		cfg:     cfg,
		normOpt: normalize.Options{PhoneCountryCode: cfg.PhoneCountryCode},
	}
}

// Start begins a scan asynchronously and returns its initial report.
// A second trigger while one is active fails with ErrScanRunning.
func (s *Scanner) Start(ctx context.Context, opts Options) (*domain.ScanReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrScanRunning
	}
	s.running = true
	s.mu.Unlock()

	acquired, err := s.acquireLease(ctx)
	if err != nil || !acquired {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire scan lease: %w", err)
		}
		return nil, ErrScanRunning
	}

	now := time.Now().UTC()
	report := &domain.ScanReport{
		ID:          uuid.New().String(),
		Population:  s.cfg.Population,
		Status:      domain.ScanRunning,
		Incremental: opts.Incremental,
		StartedAt:   now,
	}
	if opts.Incremental {
		since := opts.Since
		report.Since = &since
	}

	if err := s.repo.SaveScanReport(ctx, report); err != nil {
		s.release(ctx)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to persist scan report: %w", err)
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.publish(ctx, domain.TopicScanStarted, report)

	slog.Info("scan started",
		"scan_id", report.ID,
		"population", report.Population,
		"incremental", report.Incremental,
	)

	go s.run(scanCtx, report, opts)

	snapshot := *report
	return &snapshot, nil
}

// Cancel requests cooperative cancellation of the active scan, if any.
func (s *Scanner) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// progress guards the report counters shared by the scan workers.
type progress struct {
	mu      sync.Mutex
	created int
	updated int
	pairs   int
	errs    []domain.ScanError
}

func (p *progress) addError(e domain.ScanError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, e)
}

func (s *Scanner) run(ctx context.Context, report *domain.ScanReport, opts Options) {
	finishCtx := context.Background()

	learners, err := s.repo.ListLearners(ctx)
	if err != nil {
		s.finish(finishCtx, report, domain.ScanFailed, &progress{
			errs: []domain.ScanError{{Stage: "load", Message: err.Error()}},
		})
		return
	}

	population := make([]*domain.NormalizedIdentity, 0, len(learners))
	for _, l := range learners {
		population = append(population, normalize.Identity(l, s.normOpt))
	}

	pairs, err := s.candidatePairs(ctx, population, report, opts)
	if err != nil {
		s.finish(finishCtx, report, domain.ScanFailed, &progress{
			errs: []domain.ScanError{{Stage: "load", Message: err.Error()}},
		})
		return
	}

	prog := &progress{}
	workers := s.cfg.WorkerCount
	if workers <= 0 {
		workers = 8
	}

	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	go s.reportProgress(finishCtx, report, prog, stopProgress, progressDone)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, pair := range pairs {
		pair := pair
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.evaluatePair(gctx, pair, prog)
			return nil
		})
	}
	g.Wait()

	close(stopProgress)
	<-progressDone

	status := domain.ScanCompleted
	if ctx.Err() != nil {
		status = domain.ScanCancelled
	}
	s.finish(finishCtx, report, status, prog)
}

// candidatePairs blocks the population into candidate pairs. An
// incremental scan restricts the output to pairs touching a learner
// changed since the watermark, but changed learners are still compared
// against the whole population: a fresh duplicate enrollment of an old,
// untouched record is the most common duplicate shape.
func (s *Scanner) candidatePairs(ctx context.Context, population []*domain.NormalizedIdentity, report *domain.ScanReport, opts Options) ([]*domain.CandidatePair, error) {
	if !opts.Incremental {
		report.LearnersScanned = len(population)
		return s.gen.Pairs(population), nil
	}

	changedLearners, err := s.repo.ListLearnersChangedSince(ctx, opts.Since)
	if err != nil {
		return nil, err
	}
	changed := make(map[string]bool, len(changedLearners))
	for _, l := range changedLearners {
		changed[l.ID] = true
	}
	report.LearnersScanned = len(changed)
	return s.gen.PairsSince(population, changed), nil
}

// reportProgress periodically persists the interim counters onto the
// running report and publishes a progress event, so a report poll or a
// bus subscriber can watch a long scan advance.
func (s *Scanner) reportProgress(ctx context.Context, report *domain.ScanReport, prog *progress, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := s.cfg.ProgressInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.flushProgress(ctx, report, prog)
		}
	}
}

func (s *Scanner) flushProgress(ctx context.Context, report *domain.ScanReport, prog *progress) {
	prog.mu.Lock()
	snap := *report
	snap.PairsEvaluated = prog.pairs
	snap.FlagsCreated = prog.created
	snap.FlagsUpdated = prog.updated
	snap.Errors = append([]domain.ScanError(nil), prog.errs...)
	prog.mu.Unlock()

	if err := s.repo.SaveScanReport(ctx, &snap); err != nil {
		slog.Warn("failed to persist scan progress",
			"scan_id", snap.ID,
			"error", err,
		)
	}
	s.publish(ctx, domain.TopicScanProgress, &snap)
}

// evaluatePair runs one candidate pair through the rule engine, the
// scorer and the flag manager. Failures are recorded on the report and
// never abort the scan.
func (s *Scanner) evaluatePair(ctx context.Context, pair *domain.CandidatePair, prog *progress) {
	prog.mu.Lock()
	prog.pairs++
	prog.mu.Unlock()

	hits, evalErrs := s.engine.Evaluate(ctx, pair)
	for _, err := range evalErrs {
		prog.addError(domain.ScanError{
			LearnerID:          pair.A.LearnerID,
			DuplicateLearnerID: pair.B.LearnerID,
			Stage:              "evaluate",
			Message:            err.Error(),
		})
	}

	result, ok := s.scorer.Score(hits)
	if !ok {
		return
	}

	outcome, err := s.flags.Upsert(ctx, &flags.Detection{
		LearnerID:          pair.A.LearnerID,
		DuplicateLearnerID: pair.B.LearnerID,
		PrimaryType:        result.PrimaryType,
		Confidence:         result.Confidence,
		Details:            result.Details,
	})
	if err != nil {
		prog.addError(domain.ScanError{
			LearnerID:          pair.A.LearnerID,
			DuplicateLearnerID: pair.B.LearnerID,
			Stage:              "flag",
			Message:            err.Error(),
		})
		return
	}

	prog.mu.Lock()
	switch outcome {
	case flags.OutcomeCreated:
		prog.created++
	case flags.OutcomeUpdated:
		prog.updated++
	}
	prog.mu.Unlock()
}

// Check runs an on-demand duplication check for one learner against the
// current population. Findings go through the same flag routing as a
// bulk scan and the resulting detections are returned to the caller.
func (s *Scanner) Check(ctx context.Context, learnerID string) ([]*flags.Detection, error) {
	target, err := s.repo.GetLearner(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	learners, err := s.repo.ListLearners(ctx)
	if err != nil {
		return nil, err
	}

	population := make([]*domain.NormalizedIdentity, 0, len(learners))
	for _, l := range learners {
		population = append(population, normalize.Identity(l, s.normOpt))
	}

	normalized := normalize.Identity(target, s.normOpt)
	pairs := s.gen.PairsFor(normalized, population)

	var detections []*flags.Detection
	for _, pair := range pairs {
		hits, _ := s.engine.Evaluate(ctx, pair)
		result, ok := s.scorer.Score(hits)
		if !ok {
			continue
		}

		d := &flags.Detection{
			LearnerID:          pair.A.LearnerID,
			DuplicateLearnerID: pair.B.LearnerID,
			PrimaryType:        result.PrimaryType,
			Confidence:         result.Confidence,
			Details:            result.Details,
		}
		if _, err := s.flags.Upsert(ctx, d); err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}

	return detections, nil
}

// finish releases the lease first so the report only reads as done once
// a new scan can actually start.
func (s *Scanner) finish(ctx context.Context, report *domain.ScanReport, status domain.ScanStatus, prog *progress) {
	s.release(ctx)
	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	now := time.Now().UTC()
	report.Status = status
	report.PairsEvaluated = prog.pairs
	report.FlagsCreated = prog.created
	report.FlagsUpdated = prog.updated
	report.Errors = prog.errs
	report.FinishedAt = &now

	if err := s.repo.SaveScanReport(ctx, report); err != nil {
		slog.Error("failed to persist final scan report",
			"scan_id", report.ID,
			"error", err,
		)
	}

	s.publish(ctx, domain.TopicScanCompleted, report)

	slog.Info("scan finished",
		"scan_id", report.ID,
		"status", report.Status,
		"learners_scanned", report.LearnersScanned,
		"pairs_evaluated", report.PairsEvaluated,
		"flags_created", report.FlagsCreated,
		"flags_updated", report.FlagsUpdated,
		"errors", len(report.Errors),
	)
}

func (s *Scanner) leaseKey() string {
	return "scan:lease:" + s.cfg.Population
}

func (s *Scanner) acquireLease(ctx context.Context) (bool, error) {
	if s.cache == nil {
		return true, nil
	}
	ttl := s.cfg.LeaseTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.cache.SetNX(ctx, s.leaseKey(), []byte(time.Now().UTC().Format(time.RFC3339)), ttl)
}

func (s *Scanner) release(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.leaseKey()); err != nil {
		slog.Warn("failed to release scan lease", "error", err)
	}
}

func (s *Scanner) publish(ctx context.Context, topic string, report *domain.ScanReport) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(report)
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish scan event",
			"topic", topic,
			"scan_id", report.ID,
			"error", err,
		)
	}
}
