package entity

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusSubmitted, JobStatusProcessingAudio, true},
		{JobStatusProcessingAudio, JobStatusAudioComplete, true},
		{JobStatusProcessingAudio, JobStatusFailed, true},
		{JobStatusAudioComplete, JobStatusProcessingVideo, true},
		{JobStatusProcessingVideo, JobStatusCompleted, true},
		{JobStatusProcessingVideo, JobStatusFailed, true},
		{JobStatusSubmitted, JobStatusAudioComplete, false},
		{JobStatusAudioComplete, JobStatusProcessingAudio, false},
		{JobStatusProcessingVideo, JobStatusAudioComplete, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusSubmitted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	all := []JobStatus{
		JobStatusSubmitted, JobStatusProcessingAudio, JobStatusAudioComplete,
		JobStatusProcessingVideo, JobStatusCompleted, JobStatusFailed,
	}
	for _, from := range []JobStatus{JobStatusCompleted, JobStatusFailed} {
		for _, to := range all {
			if CanTransition(from, to) {
				t.Fatalf("terminal status %s must not move to %s", from, to)
			}
		}
	}
}

func TestLastUpdatedFallsBackToCreatedAt(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	job := &Job{CreatedAt: created}
	if !job.LastUpdated().Equal(created) {
		t.Fatalf("expected created_at fallback, got %s", job.LastUpdated())
	}

	updated := created.Add(time.Minute)
	job.UpdatedAt = &updated
	if !job.LastUpdated().Equal(updated) {
		t.Fatalf("expected updated_at, got %s", job.LastUpdated())
	}
}

func TestClaimStale(t *testing.T) {
	now := time.Now()
	old := now.Add(-time.Hour)
	job := &Job{Status: JobStatusProcessingVideo, ClaimedAt: &old}
	if !job.ClaimStale(now.Add(-time.Minute)) {
		t.Fatal("expected claim to be stale")
	}
	fresh := now
	job.ClaimedAt = &fresh
	if job.ClaimStale(now.Add(-time.Minute)) {
		t.Fatal("fresh claim reported stale")
	}
	job.ClaimedAt = nil
	if !job.ClaimStale(now.Add(-time.Minute)) {
		t.Fatal("processing job without claim timestamp should be stale")
	}
	job.Status = JobStatusCompleted
	if job.ClaimStale(now.Add(-time.Minute)) {
		t.Fatal("terminal job cannot hold a stale claim")
	}
}
