package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobRepository is the job ledger. Every mutation is a single-row conditional UPDATE
// and reports whether it applied, so callers can treat a false result as a lost claim.
type JobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db, now: defaultClock}
}

// WithClock returns a copy that stamps mutations with the given clock.
func (r *JobRepository) WithClock(now func() time.Time) *JobRepository {
	return &JobRepository{db: r.db, now: now}
}

var (
	clockMu   sync.Mutex
	lastStamp time.Time
)

// defaultClock never returns the same or an earlier instant twice within a process.
func defaultClock() time.Time {
	// Postgres keeps microseconds, keep in-memory values comparable with stored ones
	now := time.Now().UTC().Truncate(time.Microsecond)

	clockMu.Lock()
	defer clockMu.Unlock()
	if !now.After(lastStamp) {
		now = lastStamp.Add(time.Microsecond)
	}
	lastStamp = now
	return now
}

// stamp is the updated_at for a mutation fenced on the observed job. It stays after the
// observed value even when another process's clock ran ahead of ours.
func (r *JobRepository) stamp(observed *entity.Job) time.Time {
	now := r.now()
	if floor := observed.LastUpdated().Add(time.Microsecond); now.Before(floor) {
		return floor
	}
	return now
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	if job.PathText == nil && job.PathAudioInput == nil {
		return errors.New("job requires a text or audio input path")
	}
	job.Status = entity.JobStatusSubmitted
	job.CreatedAt = r.now()
	job.UpdatedAt = nil
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepository) FindByID(ctx context.Context, id uint64) (*entity.Job, error) {
	var job entity.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// List returns the newest jobs first, optionally filtered by status.
func (r *JobRepository) List(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	query := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindReadyForVideo returns jobs whose audio is done and which no watcher has claimed yet.
func (r *JobRepository) FindReadyForVideo(ctx context.Context, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND path_audio_output IS NOT NULL", entity.JobStatusAudioComplete).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindStale returns jobs held in a processing status whose claim started before cutoff.
func (r *JobRepository) FindStale(ctx context.Context, status entity.JobStatus, cutoff time.Time, limit int) ([]entity.Job, error) {
	if !status.IsProcessing() {
		return nil, fmt.Errorf("status %s cannot hold a claim", status)
	}
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", status, cutoff.UTC()).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindOrphanedSubmissions returns SUBMITTED jobs untouched since cutoff, typically because
// the dispatch publish failed after the row was inserted.
func (r *JobRepository) FindOrphanedSubmissions(ctx context.Context, cutoff time.Time, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND COALESCE(updated_at, created_at) < ?", entity.JobStatusSubmitted, cutoff.UTC()).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Touch bumps updated_at on a job still in the given status. Used to record a re-dispatch.
func (r *JobRepository) Touch(ctx context.Context, id uint64, status entity.JobStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ?", id, status).
		Update("updated_at", r.now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Heartbeat refreshes claimed_at on a claim that is still held at the given attempt, so
// stale claim recovery leaves a long running stage alone. updated_at does not move.
func (r *JobRepository) Heartbeat(ctx context.Context, id uint64, status entity.JobStatus, attempts int) (bool, error) {
	if !status.IsProcessing() {
		return false, fmt.Errorf("%w: %s holds no claim", ErrInvalidTransition, status)
	}
	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", id, status, attempts).
		Update("claimed_at", r.now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Claim moves the job out of its observed status into a processing status. The update only
// applies when both status and attempts still match what the caller observed, and on success
// the job is updated in place so later Finish calls are fenced by the new attempt number.
func (r *JobRepository) Claim(ctx context.Context, job *entity.Job, to entity.JobStatus, params datatypes.JSON) (bool, error) {
	if !to.IsProcessing() {
		return false, fmt.Errorf("%w: claim target %s is not a processing status", ErrInvalidTransition, to)
	}
	if !entity.CanTransition(job.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}

	now := r.stamp(job)
	updates := map[string]any{
		"status":        to,
		"claimed_at":    now,
		"attempts":      job.Attempts + 1,
		"error_message": nil,
		"updated_at":    now,
	}
	if params != nil {
		updates["inference_params"] = params
	}

	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	job.Status = to
	job.ClaimedAt = &now
	job.Attempts++
	job.ErrorMessage = nil
	job.UpdatedAt = &now
	if params != nil {
		job.InferenceParams = params
	}
	return true, nil
}

// TakeOver re-claims a processing job whose claim went stale. The status does not move,
// only the claim timestamp and attempt number, so pollers never see a reversal.
func (r *JobRepository) TakeOver(ctx context.Context, job *entity.Job, cutoff time.Time, params datatypes.JSON) (bool, error) {
	if !job.Status.IsProcessing() {
		return false, fmt.Errorf("%w: %s holds no claim", ErrInvalidTransition, job.Status)
	}

	now := r.stamp(job)
	updates := map[string]any{
		"claimed_at": now,
		"attempts":   job.Attempts + 1,
		"updated_at": now,
	}
	if params != nil {
		updates["inference_params"] = params
	}

	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND attempts = ? AND (claimed_at IS NULL OR claimed_at < ?)",
			job.ID, job.Status, job.Attempts, cutoff.UTC()).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	job.ClaimedAt = &now
	job.Attempts++
	job.UpdatedAt = &now
	if params != nil {
		job.InferenceParams = params
	}
	return true, nil
}

// Finish concludes the claim held by job. Path columns in fields are write-once: the update
// is refused when any of them is already set.
func (r *JobRepository) Finish(ctx context.Context, job *entity.Job, to entity.JobStatus, fields map[string]any) (bool, error) {
	if !job.Status.IsProcessing() {
		return false, fmt.Errorf("%w: %s holds no claim", ErrInvalidTransition, job.Status)
	}
	if !entity.CanTransition(job.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}

	now := r.stamp(job)
	updates := map[string]any{
		"status":     to,
		"claimed_at": nil,
		"updated_at": now,
	}
	query := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts)
	for column, value := range fields {
		updates[column] = value
		if strings.HasPrefix(column, "path_") {
			query = query.Where(column + " IS NULL")
		}
	}

	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	job.Status = to
	job.ClaimedAt = nil
	job.UpdatedAt = &now
	return true, nil
}

// Fail moves a job to FAILED if it is still in the expected status. It is not fenced by
// attempts and is meant for operators and stale claim sweeps.
func (r *JobRepository) Fail(ctx context.Context, id uint64, from entity.JobStatus, message string) (bool, error) {
	if !entity.CanTransition(from, entity.JobStatusFailed) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, entity.JobStatusFailed)
	}
	now := r.now()
	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":        entity.JobStatusFailed,
			"error_message": message,
			"claimed_at":    nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailStale fails a processing job only if its claim is still the stale one the caller observed.
func (r *JobRepository) FailStale(ctx context.Context, job *entity.Job, cutoff time.Time, message string) (bool, error) {
	if !job.Status.IsProcessing() {
		return false, fmt.Errorf("%w: %s holds no claim", ErrInvalidTransition, job.Status)
	}
	now := r.stamp(job)
	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND attempts = ? AND (claimed_at IS NULL OR claimed_at < ?)",
			job.ID, job.Status, job.Attempts, cutoff.UTC()).
		Updates(map[string]any{
			"status":        entity.JobStatusFailed,
			"error_message": message,
			"claimed_at":    nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Stats counts jobs per status.
func (r *JobRepository) Stats(ctx context.Context) (map[entity.JobStatus]int64, error) {
	var rows []struct {
		Status entity.JobStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&entity.Job{}).
		Select("status, COUNT(1) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[entity.JobStatus]int64, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

func (r *JobRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
