package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
)

func TestStatusGetFillsUpdatedAt(t *testing.T) {
	h := newHarness(t)
	job := h.submitText(t, "hello")

	got, err := pipeline.NewStatusReader(h.deps, nil, time.Minute).Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UpdatedAt == nil || !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Fatalf("updated_at = %v, want created_at %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestStatusGetUnknownJob(t *testing.T) {
	h := newHarness(t)

	_, err := pipeline.NewStatusReader(h.deps, nil, time.Minute).Get(context.Background(), 42)
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStatusCachesOnlyTerminalJobs(t *testing.T) {
	h := newHarness(t)
	pending := h.submitText(t, "still going")
	h.audioGen.Err = errors.New("boom")
	failed := h.submitText(t, "doomed")
	if _, err := h.audioStage(3).Process(context.Background(), failed.ID); err != nil {
		t.Fatalf("audio: %v", err)
	}

	ledger := &countingLedger{JobLedger: h.ledger}
	deps := h.deps
	deps.Ledger = ledger
	cache := newMemoryCache()
	reader := pipeline.NewStatusReader(deps, cache, time.Minute)

	for range 2 {
		if _, err := reader.Get(context.Background(), pending.ID); err != nil {
			t.Fatalf("get pending: %v", err)
		}
	}
	if ledger.Finds() != 2 || cache.Len() != 0 {
		t.Fatalf("pending job: finds=%d cached=%d", ledger.Finds(), cache.Len())
	}

	for range 2 {
		got, err := reader.Get(context.Background(), failed.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Status != entity.JobStatusFailed || got.ErrorMessage == nil {
			t.Fatalf("job = %+v", got)
		}
	}
	if ledger.Finds() != 3 || cache.Len() != 1 {
		t.Fatalf("failed job: finds=%d cached=%d", ledger.Finds(), cache.Len())
	}
}

func TestStatusList(t *testing.T) {
	h := newHarness(t)
	for range 3 {
		h.submitText(t, "hello")
	}
	reader := pipeline.NewStatusReader(h.deps, nil, time.Minute)

	if _, err := reader.List(context.Background(), "DONE", 10); !errors.Is(err, pipeline.ErrValidation) {
		t.Fatalf("unknown status err = %v", err)
	}

	jobs, err := reader.List(context.Background(), entity.JobStatusSubmitted, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID < jobs[1].ID {
		t.Fatalf("jobs = %+v, want two newest first", jobs)
	}
	for _, job := range jobs {
		if job.UpdatedAt == nil {
			t.Fatalf("job %d has no updated_at", job.ID)
		}
	}

	jobs, err = reader.List(context.Background(), "", 0)
	if err != nil || len(jobs) != 3 {
		t.Fatalf("default list = %d jobs, %v", len(jobs), err)
	}
	if err := reader.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
