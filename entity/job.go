package entity

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus represents where a job sits in the audio-then-video pipeline
type JobStatus string

const (
	JobStatusSubmitted       JobStatus = "SUBMITTED"
	JobStatusProcessingAudio JobStatus = "PROCESSING_AUDIO"
	JobStatusAudioComplete   JobStatus = "AUDIO_COMPLETE"
	JobStatusProcessingVideo JobStatus = "PROCESSING_VIDEO"
	JobStatusCompleted       JobStatus = "COMPLETED"
	JobStatusFailed          JobStatus = "FAILED"
)

// Job is the single ledger row shared by ingestion, the audio coordinator and the video watcher.
// Artifact paths use the "bucket/object" reference format.
type Job struct {
	ID              uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Status          JobStatus  `json:"status" gorm:"type:varchar(32);not null;default:'SUBMITTED';index;check:chk_jobs_status,status IN ('SUBMITTED','PROCESSING_AUDIO','AUDIO_COMPLETE','PROCESSING_VIDEO','COMPLETED','FAILED')"`
	CreatedAt       time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt       *time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
	PathText        *string    `json:"path_text" gorm:"type:varchar(1024)"`
	PathAudioInput  *string    `json:"path_audio_input" gorm:"type:varchar(1024)"`
	PathAudioOutput *string    `json:"path_audio_output" gorm:"type:varchar(1024)"`
	PathVideoInput  *string    `json:"path_video_input" gorm:"type:varchar(1024)"`
	PathVideoOutput *string    `json:"path_video_output" gorm:"type:varchar(1024)"`
	ErrorMessage    *string    `json:"error_message,omitempty" gorm:"type:text"`

	// ClaimedAt is set while a stage holds the job and drives stale claim recovery
	ClaimedAt       *time.Time     `json:"claimed_at,omitempty" gorm:"index"`
	Attempts        int            `json:"attempts" gorm:"not null;default:0"`
	InferenceParams datatypes.JSON `json:"inference_params,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusSubmitted:       {JobStatusProcessingAudio, JobStatusFailed},
	JobStatusProcessingAudio: {JobStatusAudioComplete, JobStatusFailed},
	JobStatusAudioComplete:   {JobStatusProcessingVideo, JobStatusFailed},
	JobStatusProcessingVideo: {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether the state machine allows moving from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusSubmitted, JobStatusProcessingAudio, JobStatusAudioComplete,
		JobStatusProcessingVideo, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) IsProcessing() bool {
	return s == JobStatusProcessingAudio || s == JobStatusProcessingVideo
}

// LastUpdated never returns a zero value so pollers always see a timestamp.
func (j *Job) LastUpdated() time.Time {
	if j.UpdatedAt == nil || j.UpdatedAt.IsZero() {
		return j.CreatedAt
	}
	return *j.UpdatedAt
}

// ClaimStale reports whether the current claim started before cutoff. A processing job
// without a claim timestamp counts as stale.
func (j *Job) ClaimStale(cutoff time.Time) bool {
	if !j.Status.IsProcessing() {
		return false
	}
	return j.ClaimedAt == nil || j.ClaimedAt.Before(cutoff)
}
