package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
)

const dispatchTimeout = 10 * time.Second

// Upload is one client file of a submission.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64 // -1 when unknown
	Reader      io.Reader
}

type SubmitRequest struct {
	Text  string
	Audio *Upload // voice prompt
	Video *Upload // reference video
}

// Ingestor stores submitted inputs, records the job and hands it to the audio stage queue.
type Ingestor struct {
	Deps
	dispatcher Dispatcher
}

func NewIngestor(deps Deps, dispatcher Dispatcher) *Ingestor {
	return &Ingestor{
		Deps:       deps.withDefaults(),
		dispatcher: dispatcher,
	}
}

// Submit returns the SUBMITTED job. A failed dispatch does not fail the submission,
// the watcher's orphan sweep publishes the job again later.
func (i *Ingestor) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	hasText := strings.TrimSpace(req.Text) != ""
	if !hasText && req.Audio == nil {
		return nil, fmt.Errorf("%w: either text_content or audio_file is required", ErrValidation)
	}

	var stored []string
	cleanup := func() {
		for _, ref := range stored {
			if err := i.Artifacts.Delete(context.WithoutCancel(ctx), ref); err != nil {
				i.Logger.WarningWithContextf(ctx, "[Ingestion] Failed to delete orphaned artifact %s: %v", ref, err)
			}
		}
	}

	job := &entity.Job{}

	if hasText {
		ref, err := i.Artifacts.Put(ctx, utils.BucketTexts, utils.TextObjectName(),
			strings.NewReader(req.Text), int64(len(req.Text)), "text/plain; charset=utf-8")
		if err != nil {
			return nil, fmt.Errorf("%w: failed to store text: %w", ErrTransient, err)
		}
		stored = append(stored, ref)
		job.PathText = &ref
	}

	if req.Audio != nil {
		ref, err := i.put(ctx, utils.BucketAudios, utils.AudioInputObjectName(req.Audio.Filename), req.Audio, "audio/wav")
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: failed to store audio: %w", ErrTransient, err)
		}
		stored = append(stored, ref)
		job.PathAudioInput = &ref
	}

	if req.Video != nil {
		ref, err := i.put(ctx, utils.BucketVideos, utils.VideoInputObjectName(req.Video.Filename), req.Video, "video/mp4")
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("%w: failed to store video: %w", ErrTransient, err)
		}
		stored = append(stored, ref)
		job.PathVideoInput = &ref
	}

	if err := i.Ledger.Create(ctx, job); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: failed to create job: %w", ErrTransient, err)
	}
	i.Metrics.Submitted(ctx)
	i.Logger.InfoWithContextf(ctx, "[Ingestion] Created job %d", job.ID)

	if i.dispatcher != nil {
		dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		if err := i.dispatcher.Dispatch(dispatchCtx, job.ID); err != nil {
			i.Logger.ErrorWithContextf(ctx, err, "[Ingestion] Failed to dispatch job %d, it will be re-dispatched by the orphan sweep", job.ID)
		}
	}

	return job, nil
}

func (i *Ingestor) put(ctx context.Context, bucket, object string, upload *Upload, fallbackType string) (string, error) {
	contentType := upload.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = fallbackType
	}
	size := upload.Size
	if size == 0 {
		size = -1
	}
	return i.Artifacts.Put(ctx, bucket, object, upload.Reader, size, contentType)
}
