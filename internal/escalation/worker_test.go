package escalation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(ctx context.Context) ([]Outcome, error) {
	c.calls.Add(1)
	return []Outcome{{Action: ActionFinalDecline}}, c.err
}

func TestWorkerSweepsUntilCancelled(t *testing.T) {
	s := &countingSweeper{err: errors.New("boom")}
	w := NewWorker(s, nil).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerIgnoresNonPositiveInterval(t *testing.T) {
	w := NewWorker(nil, nil).WithInterval(0)
	assert.Equal(t, time.Minute, w.interval)
	w.drain(context.Background())
}
