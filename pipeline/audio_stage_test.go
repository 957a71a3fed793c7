package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/testsupport"
)

func TestAudioStageProcessesSubmittedJob(t *testing.T) {
	h := newHarness(t)
	job := h.submitText(t, "hello there")

	result, err := h.audioStage(3).Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != pipeline.OutcomeCompleted || result.Status != entity.JobStatusAudioComplete {
		t.Fatalf("result = %+v", result)
	}

	got := h.reload(t, job.ID)
	if got.Status != entity.JobStatusAudioComplete {
		t.Fatalf("status = %s", got.Status)
	}
	if !hasPrefix(got.PathAudioOutput, "audios/audio-") || !strings.HasSuffix(*got.PathAudioOutput, ".wav") {
		t.Fatalf("path_audio_output = %v", got.PathAudioOutput)
	}
	if data, ok := h.store.Object(*got.PathAudioOutput); !ok || string(data) != "RIFF-fake-wav" {
		t.Fatalf("stored audio = %q, %v", data, ok)
	}
	if ct := h.store.ContentType(*got.PathAudioOutput); ct != "audio/wav" {
		t.Fatalf("content type = %q", ct)
	}

	reqs := h.audioGen.Requests()
	if len(reqs) != 1 || reqs[0].Text != "hello there" || reqs[0].SampleRate != 24000 {
		t.Fatalf("generator requests = %+v", reqs)
	}
}

func TestAudioStagePassesVoicePrompt(t *testing.T) {
	h := newHarness(t)
	job, err := h.ingestor().Submit(context.Background(), pipeline.SubmitRequest{
		Text:  "clone me",
		Audio: &pipeline.Upload{Filename: "me.wav", Size: 6, Reader: strings.NewReader("prompt")},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := h.audioStage(3).Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	req := h.audioGen.Requests()[0]
	if string(req.Prompt) != "prompt" || !strings.HasSuffix(req.PromptName, ".wav") {
		t.Fatalf("prompt = %q name = %q", req.Prompt, req.PromptName)
	}
}

func TestAudioStageRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	job := h.submitText(t, "hello")
	stage := h.audioStage(3)

	if _, err := stage.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	first := h.reload(t, job.ID)

	result, err := stage.Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if result.Outcome != pipeline.OutcomeSkipped || result.Status != entity.JobStatusAudioComplete {
		t.Fatalf("second result = %+v", result)
	}
	if calls := h.audioGen.Calls(); calls != 1 {
		t.Fatalf("generator calls = %d, want 1", calls)
	}
	if got := h.reload(t, job.ID); *got.PathAudioOutput != *first.PathAudioOutput {
		t.Fatal("audio output was overwritten")
	}
}

func TestAudioStageConcurrentDeliveriesRunOnce(t *testing.T) {
	h := newHarness(t)
	h.audioGen.Started = make(chan struct{}, 2)
	h.audioGen.Release = make(chan struct{})
	job := h.submitText(t, "hello")
	stage := h.audioStage(3)

	var wg sync.WaitGroup
	var first pipeline.StageResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = stage.Process(context.Background(), job.ID)
	}()
	<-h.audioGen.Started

	second, err := stage.Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Outcome != pipeline.OutcomeSkipped {
		t.Fatalf("second delivery outcome = %s", second.Outcome)
	}

	close(h.audioGen.Release)
	wg.Wait()

	if first.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("first delivery outcome = %s", first.Outcome)
	}
	if calls := h.audioGen.Calls(); calls != 1 {
		t.Fatalf("generator calls = %d, want 1", calls)
	}
}

func TestAudioStageGeneratorFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t)
	h.audioGen.Err = errors.New("model exploded")
	job := h.submitText(t, "hello")

	result, err := h.audioStage(3).Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != pipeline.OutcomeFailed || !errors.Is(result.Err, pipeline.ErrProcessing) {
		t.Fatalf("result = %+v", result)
	}

	got := h.reload(t, job.ID)
	if got.Status != entity.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "model exploded") {
		t.Fatalf("error_message = %v", got.ErrorMessage)
	}
	if got.PathAudioOutput != nil {
		t.Fatal("failed job must not have audio output")
	}
}

func TestAudioStageEmptyAudioFails(t *testing.T) {
	h := newHarness(t)
	h.audioGen.Output = nil
	job := h.submitText(t, "hello")

	result, _ := h.audioStage(3).Process(context.Background(), job.ID)
	if result.Status != entity.JobStatusFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
}

func TestAudioStageMissingInputsFails(t *testing.T) {
	h := newHarness(t)
	missing := "texts/text-gone.txt"
	job := &entity.Job{PathText: &missing}
	if err := h.ledger.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := h.audioStage(3).Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != entity.JobStatusFailed || !strings.Contains(result.Message, "no inputs provided") {
		t.Fatalf("result = %+v", result)
	}
	if h.audioGen.Calls() != 0 {
		t.Fatal("generator must not run without inputs")
	}
}

func TestAudioStageUnknownJob(t *testing.T) {
	h := newHarness(t)

	_, err := h.audioStage(3).Process(context.Background(), 999)
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAudioStageTakesOverStaleClaim(t *testing.T) {
	h := newHarness(t)
	job := h.submitText(t, "hello")
	h.claim(t, job, entity.JobStatusProcessingAudio) // worker that died mid-run

	stage := h.audioStage(3)
	result, _ := stage.Process(context.Background(), job.ID)
	if result.Outcome != pipeline.OutcomeSkipped || h.audioGen.Calls() != 0 {
		t.Fatalf("fresh claim must be left alone: %+v", result)
	}

	h.clock.Advance(staleAfter + 1)
	result, err := stage.Process(context.Background(), job.ID)
	if err != nil || result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("take-over = %+v, %v", result, err)
	}
	if got := h.reload(t, job.ID); got.Attempts != 2 || got.Status != entity.JobStatusAudioComplete {
		t.Fatalf("row = %+v", got)
	}
}

func TestAudioStageAbandonsExhaustedStaleClaim(t *testing.T) {
	h := newHarness(t)
	job := h.submitText(t, "hello")
	h.claim(t, job, entity.JobStatusProcessingAudio)
	h.clock.Advance(staleAfter + 1)

	result, err := h.audioStage(1).Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Outcome != pipeline.OutcomeFailed || !errors.Is(result.Err, pipeline.ErrStaleClaim) {
		t.Fatalf("result = %+v", result)
	}
	got := h.reload(t, job.ID)
	if got.Status != entity.JobStatusFailed || got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "stale claim") {
		t.Fatalf("row = %+v", got)
	}
}

func TestAudioStageTransientReadIsRetriedThenFails(t *testing.T) {
	h := newHarness(t)
	job := h.submitText(t, "hello")
	h.store.GetErr = testsupport.ErrInjected

	result, err := h.audioStage(3).Process(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Status != entity.JobStatusFailed || !strings.Contains(result.Message, "failed to load text") {
		t.Fatalf("result = %+v", result)
	}
}
