package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// StatusReader serves read-only job projections. COMPLETED and FAILED rows never change,
// so only those are cached.
type StatusReader struct {
	Deps
	cache StatusCache
	ttl   time.Duration
}

func NewStatusReader(deps Deps, cache StatusCache, ttl time.Duration) *StatusReader {
	return &StatusReader{
		Deps:  deps.withDefaults(),
		cache: cache,
		ttl:   ttl,
	}
}

func cacheKey(id uint64) string {
	return fmt.Sprintf("lipsync:job:%d", id)
}

func (r *StatusReader) Get(ctx context.Context, id uint64) (*entity.Job, error) {
	if r.cache != nil {
		var cached entity.Job
		if err := r.cache.Get(ctx, cacheKey(id), &cached); err == nil && cached.ID == id {
			return normalize(&cached), nil
		}
	}

	job, err := r.Ledger.FindByID(ctx, id)
	if err != nil {
		return nil, ledgerError(err)
	}
	normalize(job)

	if r.cache != nil && job.Status.IsTerminal() {
		if err := r.cache.Set(ctx, cacheKey(id), job, r.ttl); err != nil {
			r.Logger.WarningWithContextf(ctx, "[Status] Failed to cache job %d: %v", id, err)
		}
	}

	return job, nil
}

// List returns recent jobs, newest first.
func (r *StatusReader) List(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	jobs, err := r.Ledger.List(ctx, status, limit)
	if err != nil {
		return nil, ledgerError(err)
	}
	for idx := range jobs {
		normalize(&jobs[idx])
	}
	return jobs, nil
}

func (r *StatusReader) Ping(ctx context.Context) error {
	if err := r.Ledger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return nil
}

// normalize fills updated_at with created_at for rows never mutated since insertion.
func normalize(job *entity.Job) *entity.Job {
	if job.UpdatedAt == nil || job.UpdatedAt.IsZero() {
		createdAt := job.CreatedAt
		job.UpdatedAt = &createdAt
	}
	return job
}
