package dto

import "github.com/tnqbao/gau-lipsync-orchestrator/entity"

// ProcessAudioRequestDTO is accepted as JSON or form data.
type ProcessAudioRequestDTO struct {
	JobID *uint64 `json:"job_id" form:"job_id"`
}

type ProcessVideoRequestDTO struct {
	JobID          *uint64 `json:"job_id" form:"job_id"`
	UnetConfigPath string  `json:"unet_config_path" form:"unet_config_path"`
	CheckpointPath string  `json:"inference_ckpt_path" form:"inference_ckpt_path"`
	InferenceSteps int     `json:"inference_steps" form:"inference_steps" binding:"omitempty,min=1,max=1000"`
	GuidanceScale  float64 `json:"guidance_scale" form:"guidance_scale" binding:"omitempty,gt=0"`
}

func (r ProcessVideoRequestDTO) Params() entity.VideoParams {
	return entity.VideoParams{
		UnetConfigPath: r.UnetConfigPath,
		CheckpointPath: r.CheckpointPath,
		InferenceSteps: r.InferenceSteps,
		GuidanceScale:  r.GuidanceScale,
	}
}

type StageResponseDTO struct {
	Status          string           `json:"status"` // success or error
	JobID           uint64           `json:"job_id"`
	JobStatus       entity.JobStatus `json:"job_status,omitempty"`
	Message         string           `json:"message,omitempty"`
	PathAudioOutput *string          `json:"path_audio_output,omitempty"`
	PathVideoOutput *string          `json:"path_video_output,omitempty"`
}
