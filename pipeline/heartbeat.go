package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/entity"
)

// claimKeeper refreshes a claim's heartbeat while a stage works on the job. If the claim
// turns out to be gone, the work context is cancelled.
type claimKeeper struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	lost   atomic.Bool
	once   sync.Once
}

// heartbeatInterval is a third of the stale window unless configured.
func heartbeatInterval(configured, staleAfter time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return staleAfter / 3
}

// keepClaim starts the heartbeat loop for the claim job currently holds. The returned context
// must be used for the work and Stop must be called before the claim is concluded.
func (d Deps) keepClaim(ctx context.Context, job *entity.Job, interval time.Duration, stage string) (context.Context, *claimKeeper) {
	workCtx, cancel := context.WithCancel(ctx)
	k := &claimKeeper{cancel: cancel}
	if interval <= 0 {
		return workCtx, k
	}

	id, status, attempts := job.ID, job.Status, job.Attempts
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-workCtx.Done():
				return
			case <-ticker.C:
				ok, err := d.Ledger.Heartbeat(workCtx, id, status, attempts)
				if err != nil {
					if workCtx.Err() == nil {
						d.Logger.WarningWithContextf(ctx, "[%s Stage] Heartbeat for job %d failed: %v", stageLabel(stage), id, err)
					}
					continue
				}
				if !ok {
					d.Logger.WarningWithContextf(ctx, "[%s Stage] Job %d is no longer held at attempt %d, stopping work", stageLabel(stage), id, attempts)
					k.lost.Store(true)
					cancel()
					return
				}
			}
		}
	}()
	return workCtx, k
}

// Stop ends the heartbeat loop and reports whether the claim was lost meanwhile.
func (k *claimKeeper) Stop() bool {
	k.once.Do(func() {
		k.cancel()
		k.wg.Wait()
	})
	return k.lost.Load()
}
