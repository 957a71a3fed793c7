package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/infra"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
)

// jobStore is the slice of the ledger the CLI touches.
type jobStore interface {
	FindByID(ctx context.Context, id uint64) (*entity.Job, error)
	List(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error)
	Stats(ctx context.Context) (map[entity.JobStatus]int64, error)
	Touch(ctx context.Context, id uint64, status entity.JobStatus) (bool, error)
	Fail(ctx context.Context, id uint64, from entity.JobStatus, message string) (bool, error)
}

type session struct {
	Jobs       jobStore
	Dispatcher pipeline.Dispatcher
	// Sweeper runs recovery cycles without scheduling stage 2 work.
	Sweeper func(staleAfter time.Duration) *pipeline.VideoWatcher
	Close   func()
}

type sessionOpener func(ctx context.Context, envFile string) (*session, error)

type commandContext struct {
	envFile string
	open    sessionOpener
}

func newCommandContext(open sessionOpener) *commandContext {
	return &commandContext{open: open}
}

func (c *commandContext) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := c.open(ctx, c.envFile)
	if err != nil {
		return err
	}
	if s.Close != nil {
		defer s.Close()
	}
	return fn(s)
}

func openSession(ctx context.Context, envFile string) (*session, error) {
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("No %s file found, continuing with environment variables", envFile)
	}

	cfg := config.NewConfig()
	inf := infra.InitInfra(cfg)
	if err := repository.Migrate(inf.Postgres.DB); err != nil {
		_ = inf.Close(ctx)
		return nil, err
	}
	repo := repository.InitRepository(inf.Postgres.DB)

	deps := pipeline.Deps{
		Ledger:    repo.JobRepo,
		Artifacts: inf.Artifacts,
		Logger:    inf.Logger,
	}
	pc := cfg.EnvConfig.Pipeline
	return &session{
		Jobs:       repo.JobRepo,
		Dispatcher: inf.Produce.DispatchService,
		Sweeper: func(staleAfter time.Duration) *pipeline.VideoWatcher {
			if staleAfter <= 0 {
				staleAfter = pc.StaleClaimAfter
			}
			return pipeline.NewVideoWatcher(deps, nil, inf.Produce.DispatchService, pipeline.WatcherConfig{
				BatchSize:       pc.WatcherBatchSize,
				StaleClaimAfter: staleAfter,
				MaxAttempts:     pc.MaxStageAttempts,
				OrphanAfter:     pc.OrphanAfter,
			})
		},
		Close: func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := inf.Close(closeCtx); err != nil {
				log.Printf("Failed to close connections: %v", err)
			}
		},
	}, nil
}
