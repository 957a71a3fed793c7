package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type AudioConfig struct {
	StaleClaimAfter time.Duration
	MaxAttempts     int
	SampleRate      int
	// HeartbeatInterval refreshes the claim while the job runs, 0 means a third of StaleClaimAfter.
	HeartbeatInterval time.Duration
}

// AudioStage turns a SUBMITTED job into AUDIO_COMPLETE. The queue consumer and the
// synchronous HTTP trigger both call Process.
type AudioStage struct {
	Deps
	generator AudioGenerator
	cfg       AudioConfig
}

func NewAudioStage(deps Deps, generator AudioGenerator, cfg AudioConfig) *AudioStage {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &AudioStage{
		Deps:      deps.withDefaults(),
		generator: generator,
		cfg:       cfg,
	}
}

func (s *AudioStage) Process(ctx context.Context, jobID uint64) (StageResult, error) {
	started := time.Now()
	ctx, span := s.Tracer.Start(ctx, "pipeline.audio_stage", trace.WithAttributes(attribute.Int64("job.id", int64(jobID))))
	defer span.End()

	result, err := s.process(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("job.outcome", string(result.Outcome)))
	s.Metrics.StageFinished(ctx, StageAudio, result.Outcome, started)
	return result, err
}

func (s *AudioStage) process(ctx context.Context, jobID uint64) (StageResult, error) {
	job, err := s.Ledger.FindByID(ctx, jobID)
	if err != nil {
		return StageResult{JobID: jobID, Outcome: OutcomeErrored}, ledgerError(err)
	}

	cutoff := s.Clock().Add(-s.cfg.StaleClaimAfter)
	switch {
	case job.Status == entity.JobStatusSubmitted:
		ok, err := s.Ledger.Claim(ctx, job, entity.JobStatusProcessingAudio, nil)
		if err != nil {
			return StageResult{JobID: jobID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, ledgerError(err)
		}
		if !ok {
			return s.current(ctx, job, StageAudio, "claimed by another worker"), nil
		}
		s.Metrics.Transition(ctx, entity.JobStatusSubmitted, entity.JobStatusProcessingAudio)

	case job.Status == entity.JobStatusProcessingAudio && job.ClaimStale(cutoff):
		if job.Attempts >= s.cfg.MaxAttempts {
			return s.abandon(ctx, job, cutoff, StageAudio)
		}
		ok, err := s.Ledger.TakeOver(ctx, job, cutoff, nil)
		if err != nil {
			return StageResult{JobID: jobID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, ledgerError(err)
		}
		if !ok {
			return s.current(ctx, job, StageAudio, "stale claim was recovered by another worker"), nil
		}
		s.Metrics.Reclaimed(ctx, StageAudio, "taken_over")
		s.Logger.WarningWithContextf(ctx, "[Audio Stage] Took over stale claim on job %d (attempt %d)", job.ID, job.Attempts)

	case job.Status == entity.JobStatusProcessingAudio:
		return StageResult{
			JobID:   job.ID,
			Status:  job.Status,
			Outcome: OutcomeSkipped,
			Message: "audio generation is already in progress",
			Job:     job,
			Err:     ErrClaimLost,
		}, nil

	default:
		s.Logger.InfoWithContextf(ctx, "[Audio Stage] Skipping job %d in status %s", job.ID, job.Status)
		return StageResult{
			JobID:   job.ID,
			Status:  job.Status,
			Outcome: OutcomeSkipped,
			Message: fmt.Sprintf("job is %s", job.Status),
			Job:     job,
		}, nil
	}

	s.Logger.InfoWithContextf(ctx, "[Audio Stage] Processing job %d (attempt %d)", job.ID, job.Attempts)
	return s.run(ctx, job)
}

func (s *AudioStage) run(ctx context.Context, job *entity.Job) (StageResult, error) {
	workCtx, keeper := s.keepClaim(ctx, job, heartbeatInterval(s.cfg.HeartbeatInterval, s.cfg.StaleClaimAfter), StageAudio)
	ref, err := s.generate(workCtx, job)
	interrupted := workCtx.Err() != nil
	if keeper.Stop() {
		if ref != "" {
			if err := s.Artifacts.Delete(ctx, ref); err != nil {
				s.Logger.WarningWithContextf(ctx, "[Audio Stage] Failed to delete unused audio %s: %v", ref, err)
			}
		}
		return s.current(ctx, job, StageAudio, "claim lost during audio generation"), nil
	}
	if err != nil {
		if interrupted {
			return StageResult{JobID: job.ID, Status: job.Status, Outcome: OutcomeErrored, Job: job},
				transientError("audio generation for job %d interrupted: %v", job.ID, ctx.Err())
		}
		return s.failJob(ctx, job, StageAudio, err)
	}

	ok, err := s.finish(ctx, job, entity.JobStatusAudioComplete, map[string]any{"path_audio_output": ref})
	if err != nil {
		s.Logger.ErrorWithContextf(ctx, err, "[Audio Stage] Failed to record audio for job %d", job.ID)
		return StageResult{JobID: job.ID, Status: job.Status, Outcome: OutcomeErrored, Job: job}, err
	}
	if !ok {
		if err := s.Artifacts.Delete(ctx, ref); err != nil {
			s.Logger.WarningWithContextf(ctx, "[Audio Stage] Failed to delete unused audio %s: %v", ref, err)
		}
		s.Logger.WarningWithContextf(ctx, "[Audio Stage] Lost claim on job %d before completion", job.ID)
		return s.current(ctx, job, StageAudio, "claim lost before completion"), nil
	}

	job.PathAudioOutput = &ref
	s.Logger.InfoWithContextf(ctx, "[Audio Stage] Job %d audio stored at %s", job.ID, ref)
	return StageResult{
		JobID:   job.ID,
		Status:  entity.JobStatusAudioComplete,
		Outcome: OutcomeCompleted,
		Job:     job,
	}, nil
}

// generate loads the inputs, calls the collaborator and stores the audio.
func (s *AudioStage) generate(ctx context.Context, job *entity.Job) (string, error) {
	req, err := s.loadInputs(ctx, job)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Prompt) == 0 {
		return "", processingError("no inputs provided")
	}

	audio, err := s.generator.GenerateAudio(ctx, req)
	if err != nil {
		return "", processingError("audio generation failed: %v", err)
	}
	if len(audio) == 0 {
		return "", processingError("audio generation returned no audio")
	}

	object := utils.AudioOutputObjectName()
	ref, err := retry(ctx, s.Retry, func() (string, error) {
		return s.Artifacts.Put(ctx, utils.BucketAudios, object, bytes.NewReader(audio), int64(len(audio)), "audio/wav")
	})
	if err != nil {
		return "", processingError("failed to store generated audio: %v", err)
	}
	return ref, nil
}

// loadInputs reads the text and the optional voice prompt. A missing object counts as absent.
func (s *AudioStage) loadInputs(ctx context.Context, job *entity.Job) (entity.AudioRequest, error) {
	req := entity.AudioRequest{SampleRate: s.cfg.SampleRate}

	if job.PathText != nil {
		data, err := s.fetch(ctx, *job.PathText)
		switch {
		case errors.Is(err, utils.ErrArtifactNotFound):
			s.Logger.WarningWithContextf(ctx, "[Audio Stage] Text %s of job %d is missing", *job.PathText, job.ID)
		case err != nil:
			return req, processingError("failed to load text: %v", err)
		default:
			req.Text = string(data)
		}
	}

	if job.PathAudioInput != nil {
		data, err := s.fetch(ctx, *job.PathAudioInput)
		switch {
		case errors.Is(err, utils.ErrArtifactNotFound):
			s.Logger.WarningWithContextf(ctx, "[Audio Stage] Voice prompt %s of job %d is missing", *job.PathAudioInput, job.ID)
		case err != nil:
			return req, processingError("failed to load voice prompt: %v", err)
		default:
			req.Prompt = data
			req.PromptName = path.Base(*job.PathAudioInput)
		}
	}

	return req, nil
}
