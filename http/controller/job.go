package controller

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/http/controller/dto"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
)

func (ctrl *Controller) SubmitJob(c *gin.Context) {
	ctx := c.Request.Context()

	audio, closeAudio, err := formUpload(c, "audio_file")
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to read audio_file: %v", err)
		utils.JSON400(c, "Invalid audio_file")
		return
	}
	defer closeAudio()

	video, closeVideo, err := formUpload(c, "video_file")
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to read video_file: %v", err)
		utils.JSON400(c, "Invalid video_file")
		return
	}
	defer closeVideo()

	job, err := ctrl.Pipeline.Ingestor.Submit(ctx, pipeline.SubmitRequest{
		Text:  c.PostForm("text_content"),
		Audio: audio,
		Video: video,
	})
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Job] Rejected submission: %v", err)
		utils.JSON400(c, "Either text_content or audio_file must be provided")
		return
	case errors.Is(err, pipeline.ErrTransient):
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to submit job: %v", err)
		utils.JSON503(c, "Job storage is temporarily unavailable")
		return
	case err != nil:
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to submit job: %v", err)
		utils.JSON500(c, "Failed to submit job")
		return
	}

	utils.JSON201(c, dto.NewJobResponseDTO(job))
}

func (ctrl *Controller) GetJob(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		utils.JSON400(c, "Invalid job id")
		return
	}

	job, err := ctrl.Pipeline.Status.Get(ctx, id)
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		utils.JSON404(c, "Job not found")
		return
	case err != nil:
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to load job %d: %v", id, err)
		utils.JSON503(c, "Job storage is temporarily unavailable")
		return
	}

	utils.JSON200(c, dto.NewJobResponseDTO(job))
}

func (ctrl *Controller) ListJobs(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.ListJobsQueryDTO
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.JSON400(c, "Invalid query parameters")
		return
	}

	jobs, err := ctrl.Pipeline.Status.List(ctx, entity.JobStatus(query.Status), query.Limit)
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		utils.JSON400(c, err.Error())
		return
	case err != nil:
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to list jobs: %v", err)
		utils.JSON503(c, "Job storage is temporarily unavailable")
		return
	}

	resp := dto.JobListResponseDTO{Jobs: make([]dto.JobResponseDTO, 0, len(jobs)), Count: len(jobs)}
	for idx := range jobs {
		resp.Jobs = append(resp.Jobs, dto.NewJobResponseDTO(&jobs[idx]))
	}
	utils.JSON200(c, resp)
}

func (ctrl *Controller) Health(c *gin.Context) {
	if err := ctrl.Pipeline.Status.Ping(c.Request.Context()); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(c.Request.Context(), err, "[Health] Ledger unreachable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	utils.JSON200(c, gin.H{"status": "ok"})
}

// formUpload opens an optional multipart file. A missing field yields a nil upload.
func formUpload(c *gin.Context, field string) (*pipeline.Upload, func(), error) {
	header, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, err
	}

	file, err := header.Open()
	if err != nil {
		return nil, func() {}, err
	}
	return uploadFrom(header, file), func() { _ = file.Close() }, nil
}

func uploadFrom(header *multipart.FileHeader, file multipart.File) *pipeline.Upload {
	return &pipeline.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	}
}
