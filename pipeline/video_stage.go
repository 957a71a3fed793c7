package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
)

type VideoConfig struct {
	StaleClaimAfter time.Duration
	MaxAttempts     int
	Defaults        entity.VideoParams
	// WorkspaceRoot is where per-job temp directories are created, "" means os.TempDir.
	WorkspaceRoot string
	// HeartbeatInterval refreshes the claim while the job runs, 0 means a third of StaleClaimAfter.
	HeartbeatInterval time.Duration
}

// VideoStage turns an AUDIO_COMPLETE job into COMPLETED. The watcher pool and the
// synchronous HTTP trigger both call Process.
type VideoStage struct {
	Deps
	generator VideoGenerator
	cfg       VideoConfig
}

func NewVideoStage(deps Deps, generator VideoGenerator, cfg VideoConfig) *VideoStage {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &VideoStage{
		Deps:      deps.withDefaults(),
		generator: generator,
		cfg:       cfg,
	}
}

func (s *VideoStage) Process(ctx context.Context, jobID uint64, params entity.VideoParams) (StageResult, error) {
	started := time.Now()
	ctx, span := s.Tracer.Start(ctx, "pipeline.video_stage", trace.WithAttributes(attribute.Int64("job.id", int64(jobID))))
	defer span.End()

	result, err := s.process(ctx, jobID, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("job.outcome", string(result.Outcome)))
	s.Metrics.StageFinished(ctx, StageVideo, result.Outcome, started)
	return result, err
}

func (s *VideoStage) process(ctx context.Context, jobID uint64, params entity.VideoParams) (StageResult, error) {
	job, err := s.Ledger.FindByID(ctx, jobID)
	if err != nil {
		return StageResult{JobID: jobID, Outcome: OutcomeErrored}, ledgerError(err)
	}

	// a take-over without explicit params reuses what the first attempt ran with
	if params == (entity.VideoParams{}) && len(job.InferenceParams) > 0 {
		if err := json.Unmarshal(job.InferenceParams, &params); err != nil {
			s.Logger.WarningWithContextf(ctx, "[Video Stage] Ignoring unreadable params of job %d: %v", job.ID, err)
		}
	}
	params = params.WithDefaults(s.cfg.Defaults)
	encoded, err := json.Marshal(params)
	if err != nil {
		return StageResult{JobID: jobID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, err
	}

	cutoff := s.Clock().Add(-s.cfg.StaleClaimAfter)
	switch {
	case job.Status == entity.JobStatusAudioComplete && job.PathAudioOutput != nil:
		ok, err := s.Ledger.Claim(ctx, job, entity.JobStatusProcessingVideo, datatypes.JSON(encoded))
		if err != nil {
			return StageResult{JobID: jobID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, ledgerError(err)
		}
		if !ok {
			return s.current(ctx, job, StageVideo, "claimed by another worker"), nil
		}
		s.Metrics.Transition(ctx, entity.JobStatusAudioComplete, entity.JobStatusProcessingVideo)

	case job.Status == entity.JobStatusProcessingVideo && job.ClaimStale(cutoff):
		if job.Attempts >= s.cfg.MaxAttempts {
			return s.abandon(ctx, job, cutoff, StageVideo)
		}
		ok, err := s.Ledger.TakeOver(ctx, job, cutoff, datatypes.JSON(encoded))
		if err != nil {
			return StageResult{JobID: jobID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, ledgerError(err)
		}
		if !ok {
			return s.current(ctx, job, StageVideo, "stale claim was recovered by another worker"), nil
		}
		s.Metrics.Reclaimed(ctx, StageVideo, "taken_over")
		s.Logger.WarningWithContextf(ctx, "[Video Stage] Took over stale claim on job %d (attempt %d)", job.ID, job.Attempts)

	case job.Status == entity.JobStatusProcessingVideo:
		return StageResult{
			JobID:   job.ID,
			Status:  job.Status,
			Outcome: OutcomeSkipped,
			Message: "video generation is already in progress",
			Job:     job,
			Err:     ErrClaimLost,
		}, nil

	case job.Status.IsTerminal():
		return StageResult{
			JobID:   job.ID,
			Status:  job.Status,
			Outcome: OutcomeSkipped,
			Message: fmt.Sprintf("job is %s", job.Status),
			Job:     job,
		}, nil

	default:
		return StageResult{JobID: job.ID, Status: job.Status, Outcome: OutcomeSkipped, Job: job},
			fmt.Errorf("%w: job %d is %s without generated audio", ErrNotReady, job.ID, job.Status)
	}

	s.Logger.InfoWithContextf(ctx, "[Video Stage] Processing job %d (attempt %d)", job.ID, job.Attempts)
	return s.run(ctx, job, params)
}

func (s *VideoStage) run(ctx context.Context, job *entity.Job, params entity.VideoParams) (StageResult, error) {
	workCtx, keeper := s.keepClaim(ctx, job, heartbeatInterval(s.cfg.HeartbeatInterval, s.cfg.StaleClaimAfter), StageVideo)
	ref, err := s.generate(workCtx, job, params)
	interrupted := workCtx.Err() != nil
	if keeper.Stop() {
		if ref != "" {
			if err := s.Artifacts.Delete(ctx, ref); err != nil {
				s.Logger.WarningWithContextf(ctx, "[Video Stage] Failed to delete unused video %s: %v", ref, err)
			}
		}
		return s.current(ctx, job, StageVideo, "claim lost during video generation"), nil
	}
	if err != nil {
		if interrupted {
			return StageResult{JobID: job.ID, Status: job.Status, Outcome: OutcomeErrored, Job: job},
				transientError("video generation for job %d interrupted: %v", job.ID, ctx.Err())
		}
		return s.failJob(ctx, job, StageVideo, err)
	}

	ok, err := s.finish(ctx, job, entity.JobStatusCompleted, map[string]any{"path_video_output": ref})
	if err != nil {
		s.Logger.ErrorWithContextf(ctx, err, "[Video Stage] Failed to record video for job %d", job.ID)
		return StageResult{JobID: job.ID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, err
	}
	if !ok {
		if err := s.Artifacts.Delete(ctx, ref); err != nil {
			s.Logger.WarningWithContextf(ctx, "[Video Stage] Failed to delete unused video %s: %v", ref, err)
		}
		s.Logger.WarningWithContextf(ctx, "[Video Stage] Lost claim on job %d before completion", job.ID)
		return s.current(ctx, job, StageVideo, "claim lost before completion"), nil
	}

	job.PathVideoOutput = &ref
	s.Logger.InfoWithContextf(ctx, "[Video Stage] Job %d completed, video stored at %s", job.ID, ref)
	return StageResult{
		JobID:   job.ID,
		Status:  entity.JobStatusCompleted,
		Outcome: OutcomeCompleted,
		Job:     job,
	}, nil
}

// generate runs the collaborator in a scoped workspace and stores its output.
func (s *VideoStage) generate(ctx context.Context, job *entity.Job, params entity.VideoParams) (string, error) {
	workspace, err := os.MkdirTemp(s.cfg.WorkspaceRoot, fmt.Sprintf("job_%d_", job.ID))
	if err != nil {
		return "", processingError("failed to create workspace: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			s.Logger.WarningWithContextf(ctx, "[Video Stage] Failed to remove workspace %s: %v", workspace, err)
		}
	}()

	req := entity.VideoRequest{
		AudioPath:  filepath.Join(workspace, "audio"+utils.Extension(*job.PathAudioOutput)),
		OutputPath: filepath.Join(workspace, "output.mp4"),
		Params:     params,
	}
	if err := s.download(ctx, *job.PathAudioOutput, req.AudioPath); err != nil {
		return "", processingError("failed to download audio: %v", err)
	}
	if job.PathVideoInput != nil {
		req.VideoPath = filepath.Join(workspace, "video"+utils.Extension(path.Base(*job.PathVideoInput)))
		if err := s.download(ctx, *job.PathVideoInput, req.VideoPath); err != nil {
			return "", processingError("failed to download reference video: %v", err)
		}
	}

	if err := s.generator.GenerateVideo(ctx, req); err != nil {
		return "", processingError("video generation failed: %v", err)
	}
	if info, err := os.Stat(req.OutputPath); err != nil || info.Size() == 0 {
		return "", processingError("video generation produced no output")
	}

	object := utils.VideoOutputObjectName(job.ID)
	ref, err := retry(ctx, s.Retry, func() (string, error) {
		return s.Artifacts.Upload(ctx, utils.BucketOutputs, object, req.OutputPath, "video/mp4")
	})
	if err != nil {
		return "", processingError("failed to store generated video: %v", err)
	}
	return ref, nil
}
