package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/consumer/worker"
	infraPkg "github.com/tnqbao/gau-lipsync-orchestrator/infra"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
)

const shutdownTimeout = 30 * time.Second

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	if err := repository.Migrate(infra.Postgres.DB); err != nil {
		log.Fatalf("Failed to migrate job ledger: %v", err)
	}
	repo := repository.InitRepository(infra.Postgres.DB)

	p, err := pipeline.NewPipeline(cfg.EnvConfig, infra, repo)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	role := cfg.EnvConfig.Consumer.Role
	var audioConsumer *worker.AudioConsumer
	if role == "all" || role == "audio" {
		channel, err := infra.RabbitMQ.NewChannel()
		if err != nil {
			log.Fatalf("Failed to open consumer channel: %v", err)
		}
		audioConsumer = worker.NewAudioConsumer(channel, cfg.EnvConfig.RabbitMQ.DispatchQueue, cfg.EnvConfig.RabbitMQ.Prefetch, p.Audio, infra.Logger)
		if err := audioConsumer.Start(ctx); err != nil {
			infra.Logger.ErrorWithContextf(ctx, err, "Failed to start audio consumer: %v", err)
			log.Fatalf("Failed to start audio consumer: %v", err)
		}
	}

	watcherDone := make(chan struct{})
	if role == "all" || role == "video" {
		go func() {
			defer close(watcherDone)
			_ = p.Watcher.Run(ctx)
		}()
	} else {
		close(watcherDone)
	}

	infra.Logger.InfoWithContextf(ctx, "Consumer started with role %s", role)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel()

	drained := make(chan struct{})
	go func() {
		if audioConsumer != nil {
			audioConsumer.Wait()
		}
		<-watcherDone
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownTimeout):
		infra.Logger.WarningWithContextf(ctx, "In-flight jobs did not finish in %s, leaving them to stale claim recovery", shutdownTimeout)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := infra.Close(closeCtx); err != nil {
		log.Printf("Failed to close infrastructure: %v", err)
	}

	log.Println("Consumer exited properly")
}
