// Package worker runs the background reconciliation sweep for
// payments stuck in the pending state.  The provider widget can be
// abandoned at any point; this sweep is what guarantees a held
// capacity slot never outlives its payment window.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reconciler is the part of the booking orchestrator the worker
// drives.
type Reconciler interface {
	Reconcile(ctx context.Context, pendingTimeout time.Duration) (int, error)
}

// PaymentReconcileWorker periodically settles stale pending payments.
type PaymentReconcileWorker struct {
	orchestrator   Reconciler
	interval       time.Duration
	pendingTimeout time.Duration
}

// NewPaymentReconcileWorker builds a worker that runs every interval
// and treats payments pending for longer than pendingTimeout as
// stale.
func NewPaymentReconcileWorker(orchestrator Reconciler, interval, pendingTimeout time.Duration) *PaymentReconcileWorker {
	return &PaymentReconcileWorker{
		orchestrator:   orchestrator,
		interval:       interval,
		pendingTimeout: pendingTimeout,
	}
}

// Start runs the sweep loop until the context is cancelled.  It is
// intended to be launched in its own goroutine.
func (w *PaymentReconcileWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logrus.Info("payment reconcile worker started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("payment reconcile worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *PaymentReconcileWorker) sweep(ctx context.Context) {
	settled, err := w.orchestrator.Reconcile(ctx, w.pendingTimeout)
	if err != nil {
		logrus.WithError(err).Error("payment reconcile sweep failed")
		return
	}
	if settled > 0 {
		logrus.WithField("settled", settled).Info("stale pending payments settled")
	}
}
