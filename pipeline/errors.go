package pipeline

import (
	"errors"
	"fmt"

	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
)

// Error kinds. Stage and ingestion errors wrap exactly one of these.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("job not found")
	ErrTransient  = errors.New("transient infrastructure error")
	ErrProcessing = errors.New("processing error")
	ErrStaleClaim = errors.New("stale claim")

	// ErrNotReady means stage 2 was asked to run before the job has audio.
	ErrNotReady = errors.New("job not ready")
	// ErrClaimLost means another worker holds or finished the job.
	ErrClaimLost = errors.New("claim lost")
)

func ledgerError(err error) error {
	if errors.Is(err, repository.ErrJobNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func transientError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

func processingError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProcessing, fmt.Sprintf(format, args...))
}
