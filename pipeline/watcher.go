package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"golang.org/x/sync/semaphore"
)

type WatcherConfig struct {
	Interval        time.Duration
	Workers         int
	BatchSize       int
	StaleClaimAfter time.Duration
	MaxAttempts     int
	OrphanAfter     time.Duration
}

// CycleReport counts what one watcher cycle did.
type CycleReport struct {
	Scheduled    int
	Rescheduled  int
	Redispatched int
	Abandoned    int
	Orphans      int
}

// VideoWatcher polls the ledger for jobs ready for stage 2 and runs them on a bounded pool.
// Each cycle also recovers stale claims and re-dispatches submissions the queue never saw.
type VideoWatcher struct {
	Deps
	stage      *VideoStage
	dispatcher Dispatcher
	cfg        WatcherConfig

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inflight sync.Map // job id -> struct{}

	mu           sync.Mutex
	redispatched map[uint64]time.Time
}

// NewVideoWatcher builds a watcher. A nil stage disables scheduling, which leaves a
// sweep-only watcher for operator tooling.
func NewVideoWatcher(deps Deps, stage *VideoStage, dispatcher Dispatcher, cfg WatcherConfig) *VideoWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &VideoWatcher{
		Deps:         deps.withDefaults(),
		stage:        stage,
		dispatcher:   dispatcher,
		cfg:          cfg,
		sem:          semaphore.NewWeighted(int64(cfg.Workers)),
		redispatched: make(map[uint64]time.Time),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight jobs.
func (w *VideoWatcher) Run(ctx context.Context) error {
	w.Logger.InfoWithContextf(ctx, "[Video Watcher] Started, polling every %s with %d workers", w.cfg.Interval, w.cfg.Workers)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		report := w.RunCycle(ctx)
		if report != (CycleReport{}) {
			w.Logger.InfoWithContextf(ctx, "[Video Watcher] Cycle scheduled=%d rescheduled=%d redispatched=%d abandoned=%d orphans=%d",
				report.Scheduled, report.Rescheduled, report.Redispatched, report.Abandoned, report.Orphans)
		}

		select {
		case <-ctx.Done():
			w.Logger.InfoWithContextf(ctx, "[Video Watcher] Shutting down, waiting for in-flight jobs...")
			w.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one stale sweep, one orphan sweep and one scan.
func (w *VideoWatcher) RunCycle(ctx context.Context) CycleReport {
	report := w.SweepStale(ctx)
	if ctx.Err() != nil {
		return report
	}
	report.Orphans = w.SweepOrphans(ctx)
	if ctx.Err() != nil || w.stage == nil {
		return report
	}
	report.Scheduled = w.scan(ctx)
	return report
}

// Wait blocks until every scheduled job has finished.
func (w *VideoWatcher) Wait() {
	w.wg.Wait()
}

func (w *VideoWatcher) scan(ctx context.Context) int {
	jobs, err := w.Ledger.FindReadyForVideo(ctx, w.cfg.BatchSize)
	if err != nil {
		w.Logger.ErrorWithContextf(ctx, err, "[Video Watcher] Failed to scan for ready jobs")
		return 0
	}

	scheduled := 0
	for _, job := range jobs {
		if _, running := w.inflight.Load(job.ID); running {
			continue
		}
		if !w.schedule(ctx, job.ID) {
			// pool is full, the rest waits for the next cycle
			break
		}
		scheduled++
	}
	return scheduled
}

// schedule starts the job on the pool. It returns false when the job is already running
// here or no worker is free.
func (w *VideoWatcher) schedule(ctx context.Context, jobID uint64) bool {
	if _, running := w.inflight.LoadOrStore(jobID, struct{}{}); running {
		return false
	}
	if !w.sem.TryAcquire(1) {
		w.inflight.Delete(jobID)
		return false
	}

	// in-flight jobs finish even when the watcher is stopping
	jobCtx := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		defer w.inflight.Delete(jobID)

		result, err := w.stage.Process(jobCtx, jobID, entity.VideoParams{})
		switch {
		case err != nil:
			w.Logger.ErrorWithContextf(jobCtx, err, "[Video Watcher] Job %d could not be processed", jobID)
		case result.Outcome == OutcomeSkipped:
			w.Logger.DebugWithContextf(jobCtx, "[Video Watcher] Job %d skipped: %s", jobID, result.Message)
		}
	}()
	return true
}

// SweepStale recovers processing jobs whose claim outlived the staleness timeout. Exhausted
// jobs are failed, stale video claims go back to the pool, stale audio claims back to the queue.
func (w *VideoWatcher) SweepStale(ctx context.Context) CycleReport {
	var report CycleReport
	cutoff := w.Clock().Add(-w.cfg.StaleClaimAfter)

	for _, status := range []entity.JobStatus{entity.JobStatusProcessingVideo, entity.JobStatusProcessingAudio} {
		jobs, err := w.Ledger.FindStale(ctx, status, cutoff, w.cfg.BatchSize)
		if err != nil {
			w.Logger.ErrorWithContextf(ctx, err, "[Video Watcher] Failed to scan for stale %s jobs", status)
			continue
		}

		for idx := range jobs {
			job := &jobs[idx]
			stage := StageVideo
			if status == entity.JobStatusProcessingAudio {
				stage = StageAudio
			}

			switch {
			case job.Attempts >= w.cfg.MaxAttempts:
				result, err := w.abandon(ctx, job, cutoff, stage)
				if err != nil {
					w.Logger.ErrorWithContextf(ctx, err, "[Video Watcher] Failed to abandon stale job %d", job.ID)
				} else if result.Outcome == OutcomeFailed {
					report.Abandoned++
				}

			case status == entity.JobStatusProcessingVideo:
				if w.stage != nil && w.schedule(ctx, job.ID) {
					w.Metrics.Reclaimed(ctx, StageVideo, "rescheduled")
					report.Rescheduled++
				}

			default:
				if w.redispatch(ctx, job.ID, w.cfg.StaleClaimAfter) {
					w.Metrics.Reclaimed(ctx, StageAudio, "redispatched")
					report.Redispatched++
				}
			}
		}
	}

	return report
}

// SweepOrphans re-dispatches SUBMITTED jobs that were never picked up and returns how many
// were published. Each published job gets its updated_at bumped so it is not picked again
// before the next orphan window. While the queue still holds ready messages the consumer is
// behind rather than missing a message, so the sweep waits for the backlog to drain.
func (w *VideoWatcher) SweepOrphans(ctx context.Context) int {
	if w.dispatcher == nil || w.cfg.OrphanAfter <= 0 {
		return 0
	}

	if q, ok := w.dispatcher.(QueueDepth); ok {
		depth, err := q.Depth(ctx)
		switch {
		case err != nil:
			w.Logger.WarningWithContextf(ctx, "[Video Watcher] Could not read queue depth, sweeping orphans anyway: %v", err)
		case depth > 0:
			w.Logger.DebugWithContextf(ctx, "[Video Watcher] Queue holds %d messages, skipping orphan sweep", depth)
			return 0
		}
	}

	jobs, err := w.Ledger.FindOrphanedSubmissions(ctx, w.Clock().Add(-w.cfg.OrphanAfter), w.cfg.BatchSize)
	if err != nil {
		w.Logger.ErrorWithContextf(ctx, err, "[Video Watcher] Failed to scan for orphaned submissions")
		return 0
	}

	published := 0
	for _, job := range jobs {
		if err := w.dispatcher.Dispatch(ctx, job.ID); err != nil {
			w.Logger.WarningWithContextf(ctx, "[Video Watcher] Failed to re-dispatch orphaned job %d: %v", job.ID, err)
			continue
		}
		if _, err := w.Ledger.Touch(ctx, job.ID, entity.JobStatusSubmitted); err != nil {
			w.Logger.WarningWithContextf(ctx, "[Video Watcher] Failed to mark job %d as re-dispatched: %v", job.ID, err)
		}
		w.Logger.InfoWithContextf(ctx, "[Video Watcher] Re-dispatched orphaned job %d", job.ID)
		published++
	}
	return published
}

// redispatch publishes a stale audio job at most once per window.
func (w *VideoWatcher) redispatch(ctx context.Context, jobID uint64, window time.Duration) bool {
	if w.dispatcher == nil {
		return false
	}

	now := w.Clock()
	w.mu.Lock()
	for id, at := range w.redispatched {
		if now.Sub(at) >= window {
			delete(w.redispatched, id)
		}
	}
	_, recent := w.redispatched[jobID]
	w.mu.Unlock()
	if recent {
		return false
	}

	if err := w.dispatcher.Dispatch(ctx, jobID); err != nil {
		w.Logger.WarningWithContextf(ctx, "[Video Watcher] Failed to re-dispatch stale audio job %d: %v", jobID, err)
		return false
	}

	w.mu.Lock()
	w.redispatched[jobID] = now
	w.mu.Unlock()
	w.Logger.WarningWithContextf(ctx, "[Video Watcher] Re-dispatched stale audio job %d", jobID)
	return true
}
