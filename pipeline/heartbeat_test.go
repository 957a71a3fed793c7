package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
)

func (h *harness) beatingVideoStage(t *testing.T) *pipeline.VideoStage {
	return pipeline.NewVideoStage(h.deps, h.videoGen, pipeline.VideoConfig{
		StaleClaimAfter:   staleAfter,
		MaxAttempts:       3,
		Defaults:          videoDefaults,
		WorkspaceRoot:     t.TempDir(),
		HeartbeatInterval: 5 * time.Millisecond,
	})
}

func TestVideoStageHeartbeatKeepsLongRunClaimed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.audioComplete(t)
	h.videoGen.Started = make(chan struct{}, 2)
	h.videoGen.Release = make(chan struct{})

	done := make(chan stageRun, 1)
	go func() {
		result, err := h.beatingVideoStage(t).Process(ctx, job.ID, entity.VideoParams{})
		done <- stageRun{result, err}
	}()
	<-h.videoGen.Started

	claimedAt := *h.reload(t, job.ID).ClaimedAt
	h.clock.Advance(staleAfter + time.Minute)
	waitUntil(t, "heartbeat after the clock jump", func() bool {
		current := h.reload(t, job.ID)
		return current.ClaimedAt != nil && current.ClaimedAt.After(claimedAt.Add(staleAfter))
	})

	second, err := h.videoStage(t, 3).Process(ctx, job.ID, entity.VideoParams{})
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if second.Outcome != pipeline.OutcomeSkipped || !errors.Is(second.Err, pipeline.ErrClaimLost) {
		t.Fatalf("second result = %+v, want skipped with ErrClaimLost", second)
	}
	if report := h.watcher(t, pipeline.WatcherConfig{}).SweepStale(ctx); report != (pipeline.CycleReport{}) {
		t.Fatalf("stale sweep touched a live claim: %+v", report)
	}
	if calls := h.videoGen.Calls(); calls != 1 {
		t.Fatalf("generator calls = %d, want 1", calls)
	}

	close(h.videoGen.Release)
	first := <-done
	if first.err != nil || first.result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("first result = %+v, %v", first.result, first.err)
	}
	if got := h.reload(t, job.ID); got.Status != entity.JobStatusCompleted || got.Attempts != 1 {
		t.Fatalf("job = %s attempts %d, want COMPLETED attempts 1", got.Status, got.Attempts)
	}
}

func TestVideoStageStopsWhenClaimIsTakenAway(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.audioComplete(t)
	h.videoGen.Started = make(chan struct{}, 1)
	h.videoGen.Release = make(chan struct{})
	defer close(h.videoGen.Release)

	done := make(chan stageRun, 1)
	go func() {
		result, err := h.beatingVideoStage(t).Process(ctx, job.ID, entity.VideoParams{})
		done <- stageRun{result, err}
	}()
	<-h.videoGen.Started

	if ok, err := h.ledger.Fail(ctx, job.ID, entity.JobStatusProcessingVideo, "cancelled by operator"); err != nil || !ok {
		t.Fatalf("fail = %v, %v", ok, err)
	}

	var run stageRun
	select {
	case run = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stage kept running after losing its claim")
	}
	if run.err != nil || run.result.Outcome != pipeline.OutcomeSkipped || !errors.Is(run.result.Err, pipeline.ErrClaimLost) {
		t.Fatalf("result = %+v, %v", run.result, run.err)
	}
	got := h.reload(t, job.ID)
	if got.Status != entity.JobStatusFailed || *got.ErrorMessage != "cancelled by operator" || got.PathVideoOutput != nil {
		t.Fatalf("job = %+v", got)
	}
}

func TestAudioStageHeartbeatKeepsLongRunClaimed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.submitText(t, "hello")
	h.audioGen.Started = make(chan struct{}, 2)
	h.audioGen.Release = make(chan struct{})

	stage := pipeline.NewAudioStage(h.deps, h.audioGen, pipeline.AudioConfig{
		StaleClaimAfter:   staleAfter,
		MaxAttempts:       3,
		SampleRate:        24000,
		HeartbeatInterval: 5 * time.Millisecond,
	})
	done := make(chan stageRun, 1)
	go func() {
		result, err := stage.Process(ctx, job.ID)
		done <- stageRun{result, err}
	}()
	<-h.audioGen.Started

	claimedAt := *h.reload(t, job.ID).ClaimedAt
	h.clock.Advance(staleAfter + time.Minute)
	waitUntil(t, "heartbeat after the clock jump", func() bool {
		current := h.reload(t, job.ID)
		return current.ClaimedAt != nil && current.ClaimedAt.After(claimedAt.Add(staleAfter))
	})

	second, err := h.audioStage(3).Process(ctx, job.ID)
	if err != nil || !errors.Is(second.Err, pipeline.ErrClaimLost) {
		t.Fatalf("second result = %+v, %v", second, err)
	}

	close(h.audioGen.Release)
	first := <-done
	if first.err != nil || first.result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("first result = %+v, %v", first.result, first.err)
	}
	if calls := h.audioGen.Calls(); calls != 1 {
		t.Fatalf("generator calls = %d, want 1", calls)
	}
}

func TestConcurrentVideoStagesRunJobOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.audioComplete(t)
	h.videoGen.Started = make(chan struct{}, 2)
	h.videoGen.Release = make(chan struct{})

	const workers = 2
	stages := make([]*pipeline.VideoStage, workers)
	for i := range stages {
		stages[i] = h.videoStage(t, 3)
	}

	start := make(chan struct{})
	runs := make(chan stageRun, workers)
	var wg sync.WaitGroup
	for _, stage := range stages {
		wg.Add(1)
		go func(stage *pipeline.VideoStage) {
			defer wg.Done()
			<-start
			result, err := stage.Process(ctx, job.ID, entity.VideoParams{})
			runs <- stageRun{result, err}
		}(stage)
	}
	close(start)

	// the loser returns without reaching the generator, the winner is held inside it
	<-h.videoGen.Started
	var loser stageRun
	select {
	case loser = <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("no worker gave up the claim")
	}
	close(h.videoGen.Release)
	wg.Wait()
	winner := <-runs

	if loser.err != nil || loser.result.Outcome != pipeline.OutcomeSkipped || !errors.Is(loser.result.Err, pipeline.ErrClaimLost) {
		t.Fatalf("loser = %+v, %v", loser.result, loser.err)
	}
	if winner.err != nil || winner.result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("winner = %+v, %v", winner.result, winner.err)
	}
	if calls := h.videoGen.Calls(); calls != 1 {
		t.Fatalf("generator calls = %d, want 1", calls)
	}
	if got := h.reload(t, job.ID); got.Status != entity.JobStatusCompleted || got.Attempts != 1 {
		t.Fatalf("job = %s attempts %d", got.Status, got.Attempts)
	}
}

func TestConcurrentWatchersRunJobOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.audioComplete(t)

	watchers := []*pipeline.VideoWatcher{
		h.watcher(t, pipeline.WatcherConfig{Workers: 1}),
		h.watcher(t, pipeline.WatcherConfig{Workers: 1}),
	}
	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w *pipeline.VideoWatcher) {
			defer wg.Done()
			w.RunCycle(ctx)
			w.Wait()
		}(w)
	}
	wg.Wait()

	if calls := h.videoGen.Calls(); calls != 1 {
		t.Fatalf("generator calls = %d, want 1", calls)
	}
	if got := h.reload(t, job.ID); got.Status != entity.JobStatusCompleted || got.Attempts != 1 {
		t.Fatalf("job = %s attempts %d", got.Status, got.Attempts)
	}
}
