package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"github.com/tnqbao/gau-lipsync-orchestrator/pipeline"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
	"github.com/tnqbao/gau-lipsync-orchestrator/testsupport"
)

type cliTestEnv struct {
	clock      *testsupport.Clock
	ledger     *repository.JobRepository
	dispatcher *testsupport.RecordingDispatcher
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	clock := testsupport.NewClock()
	return &cliTestEnv{
		clock:      clock,
		ledger:     testsupport.OpenLedger(t, clock),
		dispatcher: &testsupport.RecordingDispatcher{},
	}
}

func (env *cliTestEnv) open(ctx context.Context, envFile string) (*session, error) {
	deps := pipeline.Deps{Ledger: env.ledger, Clock: env.clock.Now}
	return &session{
		Jobs:       env.ledger,
		Dispatcher: env.dispatcher,
		Sweeper: func(staleAfter time.Duration) *pipeline.VideoWatcher {
			if staleAfter <= 0 {
				staleAfter = time.Hour
			}
			return pipeline.NewVideoWatcher(deps, nil, env.dispatcher, pipeline.WatcherConfig{
				StaleClaimAfter: staleAfter,
				OrphanAfter:     5 * time.Minute,
			})
		},
	}, nil
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(newCommandContext(env.open))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliTestEnv) createJob(t *testing.T) *entity.Job {
	t.Helper()
	text := "texts/text-" + fmt.Sprint(time.Now().UnixNano()) + ".txt"
	job := &entity.Job{PathText: &text}
	if err := env.ledger.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func TestJobsListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	first := env.createJob(t)
	second := env.createJob(t)
	if _, err := env.ledger.Fail(context.Background(), second.ID, entity.JobStatusSubmitted, "tts unreachable"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	out, _, err := env.run(t, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "SUBMITTED")
	requireContains(t, out, "FAILED")
	requireContains(t, out, "tts unreachable")

	out, _, err = env.run(t, "jobs", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("jobs list --status: %v", err)
	}
	if strings.Contains(out, "SUBMITTED") {
		t.Fatalf("filtered list contains SUBMITTED job:\n%s", out)
	}

	if _, _, err := env.run(t, "jobs", "list", "--status", "DONE"); err == nil {
		t.Fatal("expected error for unknown status")
	}

	out, _, err = env.run(t, "jobs", "show", fmt.Sprint(first.ID))
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, *first.PathText)
	requireContains(t, out, "Audio output")

	if _, _, err := env.run(t, "jobs", "show", "999"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("show unknown job err = %v", err)
	}
	if _, _, err := env.run(t, "jobs", "show", "abc"); err == nil {
		t.Fatal("expected error for invalid id")
	}
}

func TestJobsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "No jobs found")
}

func TestJobsStats(t *testing.T) {
	env := setupCLITestEnv(t)
	env.createJob(t)
	env.createJob(t)

	out, _, err := env.run(t, "jobs", "stats")
	if err != nil {
		t.Fatalf("jobs stats: %v", err)
	}
	requireContains(t, out, "SUBMITTED")
	requireContains(t, out, "2")
}

func TestJobsRedispatch(t *testing.T) {
	env := setupCLITestEnv(t)
	job := env.createJob(t)

	out, _, err := env.run(t, "jobs", "redispatch", fmt.Sprint(job.ID))
	if err != nil {
		t.Fatalf("jobs redispatch: %v", err)
	}
	requireContains(t, out, "redispatched")
	if got := env.dispatcher.Dispatched(); len(got) != 1 || got[0] != job.ID {
		t.Fatalf("dispatched = %v", got)
	}

	stored, err := env.ledger.FindByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.UpdatedAt == nil {
		t.Fatal("redispatch did not touch the job")
	}

	if _, err := env.ledger.Fail(context.Background(), job.ID, entity.JobStatusSubmitted, "stop"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, _, err := env.run(t, "jobs", "redispatch", fmt.Sprint(job.ID)); err == nil {
		t.Fatal("expected error redispatching a FAILED job")
	}
	if len(env.dispatcher.Dispatched()) != 1 {
		t.Fatal("FAILED job was dispatched")
	}
}

func TestJobsFail(t *testing.T) {
	env := setupCLITestEnv(t)
	job := env.createJob(t)

	if _, _, err := env.run(t, "jobs", "fail", fmt.Sprint(job.ID)); err == nil {
		t.Fatal("expected error without --reason")
	}

	out, _, err := env.run(t, "jobs", "fail", fmt.Sprint(job.ID), "--reason", "bad input")
	if err != nil {
		t.Fatalf("jobs fail: %v", err)
	}
	requireContains(t, out, "marked FAILED")

	stored, err := env.ledger.FindByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != entity.JobStatusFailed || stored.ErrorMessage == nil || *stored.ErrorMessage != "bad input" {
		t.Fatalf("stored = %+v", stored)
	}

	if _, _, err := env.run(t, "jobs", "fail", fmt.Sprint(job.ID), "-r", "again"); err == nil || !strings.Contains(err.Error(), "already FAILED") {
		t.Fatalf("second fail err = %v", err)
	}
}

func TestJobsReclaim(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	orphan := env.createJob(t)
	stuck := env.createJob(t)
	ok, err := env.ledger.Claim(ctx, stuck, entity.JobStatusProcessingAudio, nil)
	if err != nil || !ok {
		t.Fatalf("claim = %v, %v", ok, err)
	}
	env.clock.Advance(10 * time.Minute)

	out, _, err := env.run(t, "jobs", "reclaim", "--stale-after", "5m")
	if err != nil {
		t.Fatalf("jobs reclaim: %v", err)
	}
	requireContains(t, out, "Redispatched")

	got := env.dispatcher.Dispatched()
	if len(got) != 2 || got[0] != stuck.ID || got[1] != orphan.ID {
		t.Fatalf("dispatched = %v, want [%d %d]", got, stuck.ID, orphan.ID)
	}
}
