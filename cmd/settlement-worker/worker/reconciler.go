package worker

import (
	"context"
	"time"

	"github.com/sonicvault/vaultd/common/settlement"
)

const reconcileBatchSize = 50

// Reconciler periodically sweeps for claims stranded mid-settlement:
// reserved claims whose stream message was lost and submitted claims
// whose worker died before the confirmation poll finished.
type Reconciler struct {
	coordinator *settlement.Coordinator
	interval    time.Duration
	logger      Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(coordinator *settlement.Coordinator, interval time.Duration, logger Logger) *Reconciler {
	return &Reconciler{
		coordinator: coordinator,
		interval:    interval,
		logger:      logger,
	}
}

// Start runs the reconcile loop until the context is cancelled
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("starting reconciler", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			recovered, err := r.coordinator.Recover(ctx, reconcileBatchSize)
			if err != nil {
				r.logger.Error("reconcile sweep failed", "error", err)
				continue
			}
			if recovered > 0 {
				r.logger.Info("reconciled stale claims", "count", recovered)
			}
		}
	}
}
