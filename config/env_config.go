package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	Postgres struct {
		HOST     string
		Database string
		Username string
		Password string
		Port     string
		SSLMode  string
	}
	JWT struct {
		SecretKey string
		Algorithm string
	}
	CORS struct {
		AllowDomains string
	}
	Redis struct {
		Password  string
		Database  int
		RedisHost string
		RedisPort string
	}
	RabbitMQ struct {
		Host          string
		Port          string
		Username      string
		Password      string
		DispatchQueue string
		Prefetch      int
	}
	Artifact struct {
		Driver string // minio or s3
	}
	Minio struct {
		Endpoint     string
		RootUser     string
		RootPassword string
		UseSSL       bool
	}
	S3 struct {
		Region    string
		Endpoint  string
		AccessKey string
		SecretKey string
	}
	Pipeline struct {
		WatcherInterval  time.Duration
		WatcherWorkers   int
		WatcherBatchSize int
		StaleClaimAfter  time.Duration
		MaxStageAttempts int
		OrphanAfter      time.Duration
		StatusCacheTTL   time.Duration
	}
	TTS struct {
		ServiceURL string
		Timeout    time.Duration
		SampleRate int
	}
	LatentSync struct {
		Python         string
		WorkDir        string
		Module         string
		UnetConfigPath string
		CheckpointPath string
		InferenceSteps int
		GuidanceScale  float64
		Timeout        time.Duration
	}
	Grafana struct {
		OTLPEndpoint string
		Insecure     bool
		ServiceName  string
	}
	InternalAuth struct {
		PrivateKey  string
		ServiceName string
	}
	HTTP struct {
		Port string
	}
	Consumer struct {
		Role string // audio, video or all
	}

	Environment struct {
		Mode  string
		Group string
	}
}

func LoadEnvConfig() *EnvConfig {
	var config EnvConfig

	// Postgres
	config.Postgres.HOST = os.Getenv("PGPOOL_HOST")
	config.Postgres.Database = os.Getenv("PGPOOL_DB")
	config.Postgres.Username = os.Getenv("PGPOOL_USER")
	config.Postgres.Password = os.Getenv("PGPOOL_PASSWORD")
	config.Postgres.Port = getEnv("PGPOOL_PORT", "5432")
	config.Postgres.SSLMode = getEnv("PGPOOL_SSLMODE", "disable")

	// JWT is optional: public routes are only guarded when a secret is configured
	config.JWT.SecretKey = os.Getenv("JWT_SECRET_KEY")
	config.JWT.Algorithm = getEnv("JWT_ALGORITHM", "HS256")

	config.CORS.AllowDomains = os.Getenv("ALLOWED_DOMAINS")

	config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	config.Redis.Database, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	config.Redis.RedisHost = getEnv("REDIS_HOST", "localhost")
	config.Redis.RedisPort = getEnv("REDIS_PORT", "6379")

	// RabbitMQ
	config.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	config.RabbitMQ.Port = getEnv("RABBITMQ_PORT", "5672")
	config.RabbitMQ.Username = getEnv("RABBITMQ_USER", "guest")
	config.RabbitMQ.Password = getEnv("RABBITMQ_PASSWORD", "guest")
	config.RabbitMQ.DispatchQueue = getEnv("DISPATCH_QUEUE", "job_queue")
	config.RabbitMQ.Prefetch = getEnvInt("RABBITMQ_PREFETCH", 1)

	// Artifact store
	config.Artifact.Driver = strings.ToLower(getEnv("ARTIFACT_DRIVER", "minio"))

	// MINIO_ENDPOINT may carry a scheme, the client wants host:port only
	minioEndpoint := getEnv("MINIO_ENDPOINT", "minio:9000")
	if strings.HasPrefix(minioEndpoint, "https://") {
		config.Minio.Endpoint = strings.TrimPrefix(minioEndpoint, "https://")
		config.Minio.UseSSL = true
	} else {
		config.Minio.Endpoint = strings.TrimPrefix(minioEndpoint, "http://")
	}
	config.Minio.RootUser = getEnv("MINIO_ROOT_USER", "minio")
	config.Minio.RootPassword = getEnv("MINIO_ROOT_PASSWORD", "minio123")
	if val := os.Getenv("MINIO_USE_SSL"); val != "" {
		config.Minio.UseSSL, _ = strconv.ParseBool(val)
	}

	config.S3.Region = getEnv("S3_REGION", "us-east-1")
	config.S3.Endpoint = os.Getenv("S3_ENDPOINT")
	config.S3.AccessKey = os.Getenv("S3_ACCESS_KEY")
	config.S3.SecretKey = os.Getenv("S3_SECRET_KEY")

	// Pipeline tuning
	config.Pipeline.WatcherInterval = getEnvSeconds("WATCHER_INTERVAL_SECONDS", 10)
	config.Pipeline.WatcherWorkers = getEnvInt("WATCHER_WORKERS", 2)
	config.Pipeline.WatcherBatchSize = getEnvInt("WATCHER_BATCH_SIZE", 50)
	config.Pipeline.StaleClaimAfter = getEnvSeconds("STALE_CLAIM_SECONDS", 5400)
	config.Pipeline.MaxStageAttempts = getEnvInt("MAX_STAGE_ATTEMPTS", 3)
	config.Pipeline.OrphanAfter = getEnvSeconds("ORPHAN_SUBMISSION_SECONDS", 300)
	config.Pipeline.StatusCacheTTL = getEnvSeconds("STATUS_CACHE_TTL_SECONDS", 300)

	// Audio generation collaborator
	config.TTS.ServiceURL = getEnv("TTS_SERVICE_URL", "http://ai-audio:8000")
	config.TTS.Timeout = getEnvSeconds("TTS_TIMEOUT_SECONDS", 600)
	config.TTS.SampleRate = getEnvInt("TTS_SAMPLE_RATE", 24000)

	// Video generation collaborator
	config.LatentSync.Python = getEnv("LATENTSYNC_PYTHON", "python")
	config.LatentSync.WorkDir = getEnv("LATENTSYNC_DIR", "/app/LatentSync")
	config.LatentSync.Module = getEnv("LATENTSYNC_MODULE", "scripts.inference")
	config.LatentSync.UnetConfigPath = getEnv("LATENTSYNC_UNET_CONFIG", "configs/unet/stage2.yaml")
	config.LatentSync.CheckpointPath = getEnv("LATENTSYNC_CKPT", "checkpoints/latentsync_unet.pt")
	config.LatentSync.InferenceSteps = getEnvInt("LATENTSYNC_STEPS", 20)
	config.LatentSync.GuidanceScale = getEnvFloat("LATENTSYNC_GUIDANCE", 2.0)
	config.LatentSync.Timeout = getEnvSeconds("LATENTSYNC_TIMEOUT_SECONDS", 3600)

	// Grafana/OpenTelemetry, empty endpoint disables export
	grafanaEndpoint := os.Getenv("GRAFANA_OTLP_ENDPOINT")
	// Remove protocol for OpenTelemetry client to avoid duplicate protocols
	if strings.HasPrefix(grafanaEndpoint, "https://") {
		config.Grafana.OTLPEndpoint = strings.TrimPrefix(grafanaEndpoint, "https://")
	} else if strings.HasPrefix(grafanaEndpoint, "http://") {
		config.Grafana.OTLPEndpoint = strings.TrimPrefix(grafanaEndpoint, "http://")
		config.Grafana.Insecure = true
	} else {
		config.Grafana.OTLPEndpoint = grafanaEndpoint
	}
	config.Grafana.ServiceName = getEnv("SERVICE_NAME", "gau-lipsync-orchestrator")

	config.InternalAuth.PrivateKey = os.Getenv("PRIVATE_KEY")
	config.InternalAuth.ServiceName = getEnv("INTERNAL_SERVICE_NAME", "pipeline")

	config.HTTP.Port = getEnv("HTTP_PORT", "8080")
	config.Consumer.Role = strings.ToLower(getEnv("CONSUMER_ROLE", "all"))

	config.Environment.Mode = getEnv("DEPLOY_ENV", "development")
	config.Environment.Group = getEnv("GROUP_NAME", "local")

	return &config
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func getEnvFloat(key string, fallback float64) float64 {
	val, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

// ValidateClaimTimeouts rejects a stale claim window that a healthy collaborator call can outlast.
func (c *EnvConfig) ValidateClaimTimeouts() error {
	stale := c.Pipeline.StaleClaimAfter
	if stale <= c.LatentSync.Timeout {
		return fmt.Errorf("STALE_CLAIM_SECONDS (%s) must exceed LATENTSYNC_TIMEOUT_SECONDS (%s)", stale, c.LatentSync.Timeout)
	}
	if stale <= c.TTS.Timeout {
		return fmt.Errorf("STALE_CLAIM_SECONDS (%s) must exceed TTS_TIMEOUT_SECONDS (%s)", stale, c.TTS.Timeout)
	}
	return nil
}
