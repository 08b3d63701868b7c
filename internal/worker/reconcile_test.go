package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func init() {
	logrus.SetOutput(io.Discard)
}

type countingReconciler struct {
	mu       sync.Mutex
	calls    int
	lastWait time.Duration
	err      error
}

func (c *countingReconciler) Reconcile(_ context.Context, pendingTimeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastWait = pendingTimeout
	return 1, c.err
}

func (c *countingReconciler) snapshot() (int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, c.lastWait
}

func TestWorker_SweepsOnInterval(t *testing.T) {
	rec := &countingReconciler{}
	w := NewPaymentReconcileWorker(rec, 10*time.Millisecond, 30*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	_, wait := rec.snapshot()
	require.Equal(t, 30*time.Minute, wait)
}

func TestWorker_KeepsRunningAfterSweepError(t *testing.T) {
	rec := &countingReconciler{err: errors.New("provider unreachable")}
	w := NewPaymentReconcileWorker(rec, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
