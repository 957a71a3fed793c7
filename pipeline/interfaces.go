package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"gorm.io/datatypes"
)

// JobLedger is the shared job table. *repository.JobRepository implements it.
type JobLedger interface {
	Create(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uint64) (*entity.Job, error)
	List(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error)
	FindReadyForVideo(ctx context.Context, limit int) ([]entity.Job, error)
	FindStale(ctx context.Context, status entity.JobStatus, cutoff time.Time, limit int) ([]entity.Job, error)
	FindOrphanedSubmissions(ctx context.Context, cutoff time.Time, limit int) ([]entity.Job, error)
	Touch(ctx context.Context, id uint64, status entity.JobStatus) (bool, error)
	Heartbeat(ctx context.Context, id uint64, status entity.JobStatus, attempts int) (bool, error)
	Claim(ctx context.Context, job *entity.Job, to entity.JobStatus, params datatypes.JSON) (bool, error)
	TakeOver(ctx context.Context, job *entity.Job, cutoff time.Time, params datatypes.JSON) (bool, error)
	Finish(ctx context.Context, job *entity.Job, to entity.JobStatus, fields map[string]any) (bool, error)
	Fail(ctx context.Context, id uint64, from entity.JobStatus, message string) (bool, error)
	FailStale(ctx context.Context, job *entity.Job, cutoff time.Time, message string) (bool, error)
	Ping(ctx context.Context) error
}

type ArtifactStore interface {
	Put(ctx context.Context, bucket, object string, reader io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Download(ctx context.Context, ref, localPath string) error
	Upload(ctx context.Context, bucket, object, localPath, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Dispatcher hands a job id to the audio stage queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uint64) error
}

// QueueDepth is implemented by dispatchers that can report how many messages wait in the queue.
type QueueDepth interface {
	Depth(ctx context.Context) (int, error)
}

type AudioGenerator interface {
	GenerateAudio(ctx context.Context, req entity.AudioRequest) ([]byte, error)
}

// VideoGenerator writes req.OutputPath or returns an error.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req entity.VideoRequest) error
}

type StatusCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

type Logger interface {
	DebugWithContextf(ctx context.Context, format string, args ...any)
	InfoWithContextf(ctx context.Context, format string, args ...any)
	WarningWithContextf(ctx context.Context, format string, args ...any)
	ErrorWithContextf(ctx context.Context, err error, format string, args ...any)
}
