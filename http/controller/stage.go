package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/http/controller/dto"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
)

// ProcessAudio runs stage 1 inline. It shares the claim logic with the queue consumer,
// so calling it for an already handled job is harmless.
func (ctrl *Controller) ProcessAudio(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ProcessAudioRequestDTO
	if err := c.ShouldBind(&req); err != nil || req.JobID == nil {
		utils.JSON422(c, "job_id is required")
		return
	}
	jobID := *req.JobID

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Process Audio] Processing job %d", jobID)
	result, err := ctrl.Pipeline.Audio.Process(ctx, jobID)
	if err != nil {
		ctrl.stageError(c, jobID, err)
		return
	}

	resp := dto.StageResponseDTO{
		Status:    "success",
		JobID:     jobID,
		JobStatus: result.Status,
		Message:   result.Message,
	}
	if result.Job != nil {
		resp.PathAudioOutput = result.Job.PathAudioOutput
	}

	switch {
	case errors.Is(result.Err, pipeline.ErrClaimLost):
		resp.Status = "error"
		c.JSON(http.StatusConflict, resp)
	case result.Outcome == pipeline.OutcomeFailed:
		resp.Status = "error"
		utils.JSON200(c, resp)
	default:
		utils.JSON200(c, resp)
	}
}

// ProcessVideo runs stage 2 inline for one job.
func (ctrl *Controller) ProcessVideo(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ProcessVideoRequestDTO
	if err := c.ShouldBind(&req); err != nil {
		utils.JSON422(c, "Invalid request payload")
		return
	}
	if req.JobID == nil {
		utils.JSON422(c, "job_id is required")
		return
	}
	jobID := *req.JobID

	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Process Video] Processing job %d", jobID)
	result, err := ctrl.Pipeline.Video.Process(ctx, jobID, req.Params())
	if err != nil {
		ctrl.stageError(c, jobID, err)
		return
	}

	resp := dto.StageResponseDTO{
		Status:    "success",
		JobID:     jobID,
		JobStatus: result.Status,
		Message:   result.Message,
	}
	if result.Job != nil {
		resp.PathVideoOutput = result.Job.PathVideoOutput
	}

	switch {
	case errors.Is(result.Err, pipeline.ErrClaimLost):
		resp.Status = "error"
		c.JSON(http.StatusConflict, resp)
	case result.Outcome == pipeline.OutcomeFailed:
		resp.Status = "error"
		c.JSON(http.StatusInternalServerError, resp)
	case result.Status != entity.JobStatusCompleted:
		// skipped on a FAILED job
		resp.Status = "error"
		utils.JSON200(c, resp)
	default:
		utils.JSON200(c, resp)
	}
}

func (ctrl *Controller) stageError(c *gin.Context, jobID uint64, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		utils.JSON404(c, "Job not found")
	case errors.Is(err, pipeline.ErrNotReady):
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Process] %v", err)
		utils.JSON400(c, err.Error())
	case errors.Is(err, pipeline.ErrTransient):
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Process] Job %d hit an infrastructure error: %v", jobID, err)
		utils.JSON503(c, "Temporarily unavailable, retry later")
	default:
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Process] Job %d failed: %v", jobID, err)
		utils.JSON500(c, err.Error())
	}
}
