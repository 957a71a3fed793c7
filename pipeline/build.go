package pipeline

import (
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/infra"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
)

// Pipeline holds every coordination component of one process, built over the shared infrastructure.
type Pipeline struct {
	Deps     Deps
	Ingestor *Ingestor
	Status   *StatusReader
	Audio    *AudioStage
	Video    *VideoStage
	Watcher  *VideoWatcher
}

func NewPipeline(cfg *config.EnvConfig, inf *infra.Infra, repo *repository.Repository) (*Pipeline, error) {
	if err := cfg.ValidateClaimTimeouts(); err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(inf.Telemetry.Meter())
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Ledger:    repo.JobRepo,
		Artifacts: inf.Artifacts,
		Logger:    inf.Logger,
		Metrics:   metrics,
		Tracer:    inf.Telemetry.Tracer(),
	}

	// a nil *RedisClient must not end up inside the interface
	var cache StatusCache
	if inf.Redis != nil {
		cache = inf.Redis
	}

	dispatcher := inf.Produce.DispatchService
	video := NewVideoStage(deps, inf.LatentSync, VideoConfig{
		StaleClaimAfter: cfg.Pipeline.StaleClaimAfter,
		MaxAttempts:     cfg.Pipeline.MaxStageAttempts,
		Defaults: entity.VideoParams{
			UnetConfigPath: cfg.LatentSync.UnetConfigPath,
			CheckpointPath: cfg.LatentSync.CheckpointPath,
			InferenceSteps: cfg.LatentSync.InferenceSteps,
			GuidanceScale:  cfg.LatentSync.GuidanceScale,
		},
	})

	return &Pipeline{
		Deps:     deps,
		Ingestor: NewIngestor(deps, dispatcher),
		Status:   NewStatusReader(deps, cache, cfg.Pipeline.StatusCacheTTL),
		Audio: NewAudioStage(deps, inf.TTS, AudioConfig{
			StaleClaimAfter: cfg.Pipeline.StaleClaimAfter,
			MaxAttempts:     cfg.Pipeline.MaxStageAttempts,
			SampleRate:      cfg.TTS.SampleRate,
		}),
		Video: video,
		Watcher: NewVideoWatcher(deps, video, dispatcher, WatcherConfig{
			Interval:        cfg.Pipeline.WatcherInterval,
			Workers:         cfg.Pipeline.WatcherWorkers,
			BatchSize:       cfg.Pipeline.WatcherBatchSize,
			StaleClaimAfter: cfg.Pipeline.StaleClaimAfter,
			MaxAttempts:     cfg.Pipeline.MaxStageAttempts,
			OrphanAfter:     cfg.Pipeline.OrphanAfter,
		}),
	}, nil
}
