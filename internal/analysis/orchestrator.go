// Package analysis runs the analysis job lifecycle: trigger, background
// processing on a bounded worker pool, and recovery of abandoned jobs.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/analyzer"
	"github.com/hyperjump/docstat/internal/apperr"
	"github.com/hyperjump/docstat/internal/models"
	"github.com/hyperjump/docstat/internal/storage"
	"github.com/hyperjump/docstat/pkg/utils"
)

const (
	// MaxErrorMessageRunes bounds the stored failure message.
	MaxErrorMessageRunes = 250

	interruptedMessage = "analysis interrupted before completion"
	persistTimeout     = 10 * time.Second
)

// Options tunes the worker pool and the supervisor.
type Options struct {
	Workers       int
	QueueSize     int
	WordCloudSize int
	JobTimeout    time.Duration
	SweepInterval time.Duration
	StuckAfter    time.Duration
}

// DefaultOptions returns the values used for unset fields.
func DefaultOptions() Options {
	return Options{
		Workers:       4,
		QueueSize:     256,
		WordCloudSize: analyzer.DefaultTopN,
		JobTimeout:    2 * time.Minute,
		SweepInterval: 30 * time.Second,
		StuckAfter:    10 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.WordCloudSize <= 0 {
		o.WordCloudSize = d.WordCloudSize
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = d.JobTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.StuckAfter <= 0 {
		o.StuckAfter = d.StuckAfter
	}
	return o
}

// ResultKind classifies what GetResult found.
type ResultKind int

const (
	ResultNotFound ResultKind = iota
	ResultInProgress
	ResultFailed
	ResultCompleted
)

// Result is the outcome of GetResult. Job is nil for ResultNotFound.
type Result struct {
	Kind ResultKind
	Job  *models.AnalysisJob
}

// Stats describes the job table and the worker pool.
type Stats struct {
	Jobs     map[models.JobStatus]int64 `json:"jobs"`
	Queued   int                        `json:"queued"`
	InFlight int                        `json:"in_flight"`
	Workers  int                        `json:"workers"`
}

type task struct {
	jobID  string
	fileID string
}

// Orchestrator owns the job state machine for every file.
// Pending -> Processing -> Completed | Failed; no other transitions happen.
type Orchestrator struct {
	jobs    storage.JobStore
	fetcher ContentFetcher
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	queue chan task

	mu       sync.Mutex
	inFlight map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an Orchestrator. Call Start to run workers and the supervisor.
func New(jobs storage.JobStore, fetcher ContentFetcher, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:     jobs,
		fetcher:  fetcher,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan task, opts.QueueSize),
		inFlight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers and the supervisor. It is safe to call more than once.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		for i := 0; i < o.opts.Workers; i++ {
			o.wg.Add(1)
			go o.worker()
		}
		o.wg.Add(1)
		go o.supervise()
		o.logger.Info("Analysis workers started",
			zap.Int("workers", o.opts.Workers),
			zap.Int("queue_size", o.opts.QueueSize))
	})
}

// Shutdown stops workers and waits for them or for ctx.
// Jobs interrupted mid-run are recorded as Failed; queued Pending jobs stay Pending.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopOnce.Do(o.cancel)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger creates a Pending job for fileID unless one exists and returns the
// job's current status. created reports whether this call created the job.
// Existing jobs, including Failed ones, are returned unchanged.
func (o *Orchestrator) Trigger(ctx context.Context, fileID string) (models.JobStatus, bool, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return "", false, apperr.New(apperr.Invalid, "fileId is required")
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return "", false, apperr.New(apperr.Invalid, "fileId must be a valid UUID")
	}

	now := o.now().UTC()
	job, created, err := o.jobs.CreateJobIfAbsent(ctx, &models.AnalysisJob{
		ID:        uuid.NewString(),
		FileID:    fileID,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", false, apperr.Wrap(apperr.Internal, err, "create analysis job")
	}
	if !created {
		o.logger.Debug("Analysis already exists",
			zap.String("file_id", fileID),
			zap.String("status", string(job.Status)))
		return job.Status, false, nil
	}

	o.logger.Info("Analysis triggered", zap.String("file_id", fileID), zap.String("job_id", job.ID))
	o.enqueue(task{jobID: job.ID, fileID: fileID})
	return job.Status, true, nil
}

// GetResult reports the job for fileID.
func (o *Orchestrator) GetResult(ctx context.Context, fileID string) (Result, error) {
	job, err := o.jobs.GetJobByFileID(ctx, fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Kind: ResultNotFound}, nil
		}
		return Result{}, apperr.Wrap(apperr.Internal, err, "get analysis result")
	}
	switch job.Status {
	case models.JobStatusCompleted:
		return Result{Kind: ResultCompleted, Job: job}, nil
	case models.JobStatusFailed:
		return Result{Kind: ResultFailed, Job: job}, nil
	default:
		return Result{Kind: ResultInProgress, Job: job}, nil
	}
}

// GetStatus returns the job for fileID or an apperr.NotFound error.
func (o *Orchestrator) GetStatus(ctx context.Context, fileID string) (*models.AnalysisJob, error) {
	job, err := o.jobs.GetJobByFileID(ctx, fileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, err, "analysis status not found for file %s", fileID)
		}
		return nil, apperr.Wrap(apperr.Internal, err, "get analysis status")
	}
	return job, nil
}

// Stats reports job counts by status and current pool load.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.jobs.CountJobsByStatus(ctx)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.Internal, err, "count jobs")
	}
	o.mu.Lock()
	inFlight := len(o.inFlight)
	o.mu.Unlock()
	return Stats{Jobs: counts, Queued: len(o.queue), InFlight: inFlight, Workers: o.opts.Workers}, nil
}

// enqueue schedules t unless it is already queued or running.
// A full queue leaves the job Pending for the supervisor.
func (o *Orchestrator) enqueue(t task) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[t.jobID]; ok {
		return false
	}
	select {
	case o.queue <- t:
		o.inFlight[t.jobID] = struct{}{}
		return true
	default:
		o.logger.Warn("Analysis queue full, deferring job",
			zap.String("job_id", t.jobID),
			zap.String("file_id", t.fileID))
		return false
	}
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	delete(o.inFlight, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) isInFlight(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[jobID]
	return ok
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case t := <-o.queue:
			o.process(t)
			o.release(t.jobID)
		}
	}
}

// process runs one job. Errors after the Processing transition end in Failed.
func (o *Orchestrator) process(t task) {
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.JobTimeout)
	defer cancel()

	logger := o.logger.With(zap.String("job_id", t.jobID), zap.String("file_id", t.fileID))
	owned := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during analysis", zap.Any("panic", r))
			if owned {
				o.fail(ctx, t, fmt.Errorf("analysis panicked: %v", r), logger)
			}
		}
	}()

	job, err := o.jobs.GetJob(ctx, t.jobID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Failed to load job", zap.Error(err))
		}
		return
	}
	if job.Status != models.JobStatusPending {
		return
	}
	ok, err := o.jobs.MarkProcessing(ctx, t.jobID, o.now())
	if err != nil {
		logger.Warn("Failed to mark job processing", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	owned = true

	res, err := o.analyze(ctx, t.fileID)
	if err != nil {
		o.fail(ctx, t, err, logger)
		return
	}

	pctx, pcancel := persistContext(ctx)
	defer pcancel()
	if err := o.jobs.CompleteJob(pctx, t.jobID, res, o.now()); err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			logger.Warn("Job left Processing before completion", zap.Error(err))
			return
		}
		o.fail(ctx, t, fmt.Errorf("failed to save analysis result: %w", err), logger)
		return
	}
	logger.Info("Analysis completed",
		zap.Int("paragraphs", res.ParagraphCount),
		zap.Int("words", res.WordCount),
		zap.Int("symbols", res.SymbolCount))
}

func (o *Orchestrator) analyze(ctx context.Context, fileID string) (storage.JobResult, error) {
	data, err := o.fetcher.FetchContent(ctx, fileID)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.NotFound, apperr.ContentMissing:
			return storage.JobResult{}, fmt.Errorf("file content not found: %s", apperr.Message(err))
		default:
			return storage.JobResult{}, fmt.Errorf("failed to fetch file content: %w", err)
		}
	}
	if len(data) == 0 {
		return storage.JobResult{}, errors.New("received empty file content from storage service")
	}
	// Invalid byte sequences become U+FFFD.
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	stats := analyzer.Analyze(text)
	return storage.JobResult{
		ParagraphCount: stats.ParagraphCount,
		WordCount:      stats.WordCount,
		SymbolCount:    stats.SymbolCount,
		WordCloud:      analyzer.TopN(stats.WordFrequencies, o.opts.WordCloudSize),
	}, nil
}

// fail records cause on a Processing job. The write is detached from ctx so a
// cancelled or timed out job is still recorded.
func (o *Orchestrator) fail(ctx context.Context, t task, cause error, logger *zap.Logger) {
	msg := o.failureMessage(ctx, cause)
	logger.Warn("Analysis failed", zap.String("reason", msg))

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := o.jobs.FailJob(pctx, t.jobID, msg, o.now()); err != nil && !errors.Is(err, storage.ErrStateConflict) {
		logger.Error("Failed to record analysis failure", zap.Error(err))
	}
}

func (o *Orchestrator) failureMessage(ctx context.Context, cause error) string {
	var msg string
	switch {
	case o.ctx.Err() != nil:
		msg = interruptedMessage
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		msg = fmt.Sprintf("analysis timed out after %s", o.opts.JobTimeout)
	default:
		msg = cause.Error()
	}
	return utils.Truncate(msg, MaxErrorMessageRunes)
}

func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (o *Orchestrator) supervise() {
	defer o.wg.Done()
	o.Sweep(o.ctx)
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.Sweep(o.ctx)
		}
	}
}

// Sweep re-enqueues Pending jobs that nobody is working on and fails
// Processing jobs that nobody is working on once they are older than StuckAfter.
func (o *Orchestrator) Sweep(ctx context.Context) {
	pending, err := o.jobs.ListJobsByStatus(ctx, models.JobStatusPending)
	if err != nil {
		o.logger.Warn("Sweep: failed to list pending jobs", zap.Error(err))
	}
	requeued := 0
	for _, job := range pending {
		if o.enqueue(task{jobID: job.ID, fileID: job.FileID}) {
			requeued++
		}
	}

	processing, err := o.jobs.ListJobsByStatus(ctx, models.JobStatusProcessing)
	if err != nil {
		o.logger.Warn("Sweep: failed to list processing jobs", zap.Error(err))
	}
	cutoff := o.now().Add(-o.opts.StuckAfter)
	recovered := 0
	for _, job := range processing {
		if o.isInFlight(job.ID) || job.UpdatedAt.After(cutoff) {
			continue
		}
		err := o.jobs.FailJob(ctx, job.ID, interruptedMessage, o.now())
		if err != nil {
			if !errors.Is(err, storage.ErrStateConflict) {
				o.logger.Warn("Sweep: failed to fail stuck job", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		recovered++
	}
	if requeued > 0 || recovered > 0 {
		o.logger.Info("Sweep finished", zap.Int("requeued", requeued), zap.Int("failed_stuck", recovered))
	}
}
