package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	// OutcomeErrored means the attempt could not conclude, the job was left as it was.
	OutcomeErrored Outcome = "errored"
)

// StageResult reports how one stage attempt concluded.
type StageResult struct {
	JobID   uint64
	Status  entity.JobStatus // status after the attempt
	Outcome Outcome
	Message string
	Job     *entity.Job
	// Err is set for skipped and failed attempts: ErrClaimLost, ErrProcessing or ErrStaleClaim.
	Err error
}

// Concluded reports whether the attempt left nothing to retry.
func (r StageResult) Concluded() bool {
	return r.Outcome != OutcomeErrored
}

type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxTries:        4,
	}
}

func retry[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(policy.MaxTries))
}

// Deps are the collaborators shared by every pipeline component. Zero fields get no-op defaults.
type Deps struct {
	Ledger    JobLedger
	Artifacts ArtifactStore
	Logger    Logger
	Metrics   *Metrics
	Tracer    trace.Tracer
	Clock     func() time.Time
	Retry     RetryPolicy
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = nopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = NopMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = tracenoop.NewTracerProvider().Tracer("pipeline")
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Retry.MaxTries == 0 {
		d.Retry = DefaultRetryPolicy()
	}
	return d
}

// fetch reads an artifact, retrying everything except a missing object.
func (d Deps) fetch(ctx context.Context, ref string) ([]byte, error) {
	return retry(ctx, d.Retry, func() ([]byte, error) {
		data, err := d.Artifacts.Get(ctx, ref)
		if errors.Is(err, utils.ErrArtifactNotFound) || errors.Is(err, utils.ErrInvalidArtifactRef) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	})
}

func (d Deps) download(ctx context.Context, ref, localPath string) error {
	_, err := retry(ctx, d.Retry, func() (struct{}, error) {
		err := d.Artifacts.Download(ctx, ref, localPath)
		if errors.Is(err, utils.ErrArtifactNotFound) || errors.Is(err, utils.ErrInvalidArtifactRef) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	})
	return err
}

// finish records the end of a claim, retrying ledger errors. It returns false when the claim was lost.
func (d Deps) finish(ctx context.Context, job *entity.Job, to entity.JobStatus, fields map[string]any) (bool, error) {
	from := job.Status
	ok, err := retry(ctx, d.Retry, func() (bool, error) {
		ok, err := d.Ledger.Finish(ctx, job, to, fields)
		if errors.Is(err, repository.ErrInvalidTransition) {
			return false, backoff.Permanent(err)
		}
		return ok, err
	})
	if err != nil {
		return false, fmt.Errorf("%w: failed to record %s for job %d: %w", ErrTransient, to, job.ID, err)
	}
	if ok {
		d.Metrics.Transition(ctx, from, to)
	}
	return ok, nil
}

// current re-reads a job after a lost claim so the result reports what actually happened.
func (d Deps) current(ctx context.Context, job *entity.Job, stage, message string) StageResult {
	d.Metrics.ClaimConflict(ctx, stage)
	result := StageResult{
		JobID:   job.ID,
		Status:  job.Status,
		Outcome: OutcomeSkipped,
		Message: message,
		Job:     job,
		Err:     ErrClaimLost,
	}
	if latest, err := d.Ledger.FindByID(ctx, job.ID); err == nil {
		result.Status = latest.Status
		result.Job = latest
	}
	return result
}

// abandon fails a job whose stale claims used up every attempt.
func (d Deps) abandon(ctx context.Context, job *entity.Job, cutoff time.Time, stage string) (StageResult, error) {
	message := staleMessage(job)
	from := job.Status
	ok, err := d.Ledger.FailStale(ctx, job, cutoff, message)
	if err != nil {
		return StageResult{JobID: job.ID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, ledgerError(err)
	}
	if !ok {
		return d.current(ctx, job, stage, "stale claim was recovered by another worker"), nil
	}

	d.Metrics.Transition(ctx, from, entity.JobStatusFailed)
	d.Metrics.Reclaimed(ctx, stage, "failed")
	d.Logger.WarningWithContextf(ctx, "[Stale Claim] Job %d failed: %s", job.ID, message)

	job.Status = entity.JobStatusFailed
	job.ErrorMessage = &message
	return StageResult{
		JobID:   job.ID,
		Status:  entity.JobStatusFailed,
		Outcome: OutcomeFailed,
		Message: message,
		Job:     job,
		Err:     ErrStaleClaim,
	}, nil
}

// failJob records FAILED with the cause as error message.
func (d Deps) failJob(ctx context.Context, job *entity.Job, stage string, cause error) (StageResult, error) {
	message := cause.Error()
	ok, err := d.finish(ctx, job, entity.JobStatusFailed, map[string]any{"error_message": message})
	if err != nil {
		d.Logger.ErrorWithContextf(ctx, err, "[%s Stage] Failed to record failure of job %d", stageLabel(stage), job.ID)
		return StageResult{JobID: job.ID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, err
	}
	if !ok {
		return d.current(ctx, job, stage, "claim lost before failure was recorded"), nil
	}

	job.ErrorMessage = &message
	d.Logger.ErrorWithContextf(ctx, cause, "[%s Stage] Job %d failed: %s", stageLabel(stage), job.ID, message)
	return StageResult{
		JobID:   job.ID,
		Status:  entity.JobStatusFailed,
		Outcome: OutcomeFailed,
		Message: message,
		Job:     job,
		Err:     cause,
	}, nil
}

func stageLabel(stage string) string {
	if stage == StageVideo {
		return "Video"
	}
	return "Audio"
}

func staleMessage(job *entity.Job) string {
	return fmt.Sprintf("%v: %s claim abandoned after %d attempts", ErrStaleClaim, job.Status, job.Attempts)
}

type nopLogger struct{}

func (nopLogger) DebugWithContextf(context.Context, string, ...any) {}
func (nopLogger) InfoWithContextf(context.Context, string, ...any) {}
func (nopLogger) WarningWithContextf(context.Context, string, ...any) {}
func (nopLogger) ErrorWithContextf(context.Context, error, string, ...any) {}
