package pipeline_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/infra"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
	"github.com/tnqbao/gau-lipsync-orchestrator/testsupport"
)

const staleAfter = 30 * time.Minute

var videoDefaults = entity.VideoParams{
	UnetConfigPath: "configs/unet/stage2.yaml",
	CheckpointPath: "checkpoints/latentsync_unet.pt",
	InferenceSteps: 20,
	GuidanceScale:  2.0,
}

type harness struct {
	clock      *testsupport.Clock
	ledger     *repository.JobRepository
	store      *testsupport.MemoryArtifactStore
	dispatcher *testsupport.RecordingDispatcher
	audioGen   *testsupport.FakeAudioGenerator
	videoGen   *testsupport.FakeVideoGenerator
	deps       pipeline.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := testsupport.NewClock()
	h := &harness{
		clock:      clock,
		ledger:     testsupport.OpenLedger(t, clock),
		store:      testsupport.NewMemoryArtifactStore(),
		dispatcher: &testsupport.RecordingDispatcher{},
		audioGen:   &testsupport.FakeAudioGenerator{Output: []byte("RIFF-fake-wav")},
		videoGen:   &testsupport.FakeVideoGenerator{Output: []byte("fake-mp4")},
	}
	h.deps = pipeline.Deps{
		Ledger:    h.ledger,
		Artifacts: h.store,
		Logger:    infra.DiscardLogger(),
		Clock:     clock.Now,
		Retry: pipeline.RetryPolicy{
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			MaxTries:        2,
		},
	}
	return h
}

func (h *harness) ingestor() *pipeline.Ingestor {
	return pipeline.NewIngestor(h.deps, h.dispatcher)
}

func (h *harness) audioStage(maxAttempts int) *pipeline.AudioStage {
	return pipeline.NewAudioStage(h.deps, h.audioGen, pipeline.AudioConfig{
		StaleClaimAfter: staleAfter,
		MaxAttempts:     maxAttempts,
		SampleRate:      24000,
	})
}

func (h *harness) videoStage(t *testing.T, maxAttempts int) *pipeline.VideoStage {
	return pipeline.NewVideoStage(h.deps, h.videoGen, pipeline.VideoConfig{
		StaleClaimAfter: staleAfter,
		MaxAttempts:     maxAttempts,
		Defaults:        videoDefaults,
		WorkspaceRoot:   t.TempDir(),
	})
}

func (h *harness) submitText(t *testing.T, text string) *entity.Job {
	t.Helper()
	job, err := h.ingestor().Submit(context.Background(), pipeline.SubmitRequest{Text: text})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

// audioComplete submits a job and runs stage 1 on it.
func (h *harness) audioComplete(t *testing.T) *entity.Job {
	t.Helper()
	job := h.submitText(t, "hello there")
	result, err := h.audioStage(3).Process(context.Background(), job.ID)
	if err != nil || result.Outcome != pipeline.OutcomeCompleted {
		t.Fatalf("audio stage = %+v, %v", result, err)
	}
	return h.reload(t, job.ID)
}

func (h *harness) reload(t *testing.T, id uint64) *entity.Job {
	t.Helper()
	job, err := h.ledger.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload job %d: %v", id, err)
	}
	return job
}

func (h *harness) claim(t *testing.T, job *entity.Job, to entity.JobStatus) {
	t.Helper()
	ok, err := h.ledger.Claim(context.Background(), job, to, nil)
	if err != nil || !ok {
		t.Fatalf("claim %s = %v, %v", to, ok, err)
	}
}

func hasPrefix(ref *string, prefix string) bool {
	return ref != nil && strings.HasPrefix(*ref, prefix)
}

// memoryCache is a StatusCache over a map.
type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return infra.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// countingLedger counts FindByID calls.
type countingLedger struct {
	pipeline.JobLedger
	mu    sync.Mutex
	finds int
}

func (l *countingLedger) FindByID(ctx context.Context, id uint64) (*entity.Job, error) {
	l.mu.Lock()
	l.finds++
	l.mu.Unlock()
	return l.JobLedger.FindByID(ctx, id)
}

func (l *countingLedger) Finds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finds
}

// waitUntil polls cond until it holds or a few seconds pass.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type stageRun struct {
	result pipeline.StageResult
	err    error
}
