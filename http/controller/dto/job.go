package dto

import (
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
)

// JobResponseDTO is the client-facing projection of a ledger row.
type JobResponseDTO struct {
	ID              uint64           `json:"id"`
	Status          entity.JobStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	PathText        *string          `json:"path_text"`
	PathAudioInput  *string          `json:"path_audio_input"`
	PathAudioOutput *string          `json:"path_audio_output"`
	PathVideoInput  *string          `json:"path_video_input"`
	PathVideoOutput *string          `json:"path_video_output"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
	Attempts        int              `json:"attempts"`
}

func NewJobResponseDTO(job *entity.Job) JobResponseDTO {
	return JobResponseDTO{
		ID:              job.ID,
		Status:          job.Status,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.LastUpdated(),
		PathText:        job.PathText,
		PathAudioInput:  job.PathAudioInput,
		PathAudioOutput: job.PathAudioOutput,
		PathVideoInput:  job.PathVideoInput,
		PathVideoOutput: job.PathVideoOutput,
		ErrorMessage:    job.ErrorMessage,
		Attempts:        job.Attempts,
	}
}

type JobListResponseDTO struct {
	Jobs  []JobResponseDTO `json:"jobs"`
	Count int              `json:"count"`
}

type ListJobsQueryDTO struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}
