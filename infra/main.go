package infra

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/infra/produce"
)

// ArtifactStore is implemented by MinioStore and S3Store.
type ArtifactStore interface {
	EnsureBuckets(ctx context.Context) error
	Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Download(ctx context.Context, ref, localPath string) error
	Upload(ctx context.Context, bucket, object, localPath, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

type Infra struct {
	Redis      *RedisClient
	Postgres   *PostgresClient
	Logger     *LoggerClient
	Telemetry  *Telemetry
	RabbitMQ   *RabbitMQClient
	Produce    *produce.Produce
	Artifacts  ArtifactStore
	TTS        *TTSService
	LatentSync *LatentSyncRunner
}

func InitInfra(cfg *config.Config) *Infra {
	logger := InitLoggerClient(cfg.EnvConfig)
	if logger == nil {
		panic("Failed to initialize Logger service")
	}

	telemetry := InitTelemetry(cfg.EnvConfig)

	postgres := InitPostgresClient(cfg.EnvConfig)
	if postgres == nil {
		panic("Failed to initialize Postgres service")
	}

	// Redis is optional, nil disables the status cache
	redis := InitRedisClient(cfg.EnvConfig)

	rabbitMQ := InitRabbitMQClient(cfg.EnvConfig)
	if rabbitMQ == nil {
		panic("Failed to initialize RabbitMQ service")
	}

	publishChannel, err := rabbitMQ.NewChannel()
	if err != nil {
		panic("Failed to open RabbitMQ publish channel: " + err.Error())
	}
	produceService := produce.InitProduce(publishChannel, cfg.EnvConfig.RabbitMQ.DispatchQueue)

	artifacts := InitArtifactStore(cfg.EnvConfig)
	if err := artifacts.EnsureBuckets(context.Background()); err != nil {
		log.Printf("Warning: failed to ensure artifact buckets: %v", err)
	}

	return &Infra{
		Redis:      redis,
		Postgres:   postgres,
		Logger:     logger,
		Telemetry:  telemetry,
		RabbitMQ:   rabbitMQ,
		Produce:    produceService,
		Artifacts:  artifacts,
		TTS:        InitTTSService(cfg.EnvConfig),
		LatentSync: InitLatentSyncRunner(cfg.EnvConfig),
	}
}

func InitArtifactStore(cfg *config.EnvConfig) ArtifactStore {
	switch cfg.Artifact.Driver {
	case "s3":
		return InitS3Store(cfg)
	case "", "minio":
		return InitMinioStore(cfg)
	default:
		panic("Unknown artifact driver: " + cfg.Artifact.Driver)
	}
}

// Close releases connections and flushes telemetry.
func (i *Infra) Close(ctx context.Context) error {
	var errs []error
	if i.RabbitMQ != nil {
		errs = append(errs, i.RabbitMQ.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.Postgres != nil {
		errs = append(errs, i.Postgres.Close())
	}
	if i.Telemetry != nil {
		errs = append(errs, i.Telemetry.Shutdown(ctx))
	}
	if i.Logger != nil {
		errs = append(errs, i.Logger.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
