package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cashio/logger"
)

func newMockLogger() *logger.MockLogger {
	return logger.NewMockLogger().AllowAll()
}

func TestManager_StartStopWait(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	var iterations atomic.Int32
	require.NoError(t, mgr.Start("loop", func(ctx context.Context) bool {
		iterations.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}

		return true
	}))

	assert.Eventually(t, func() bool { return iterations.Load() > 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, mgr.Count())

	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())

	// restartable after Wait
	done := make(chan struct{})
	require.NoError(t, mgr.Start("once", func(context.Context) bool {
		close(done)
		return false
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	mgr.Wait()
}

func TestManager_TaskEndsItself(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	var n atomic.Int32
	require.NoError(t, mgr.Start("three", func(context.Context) bool {
		return n.Add(1) < 3
	}))

	mgr.Wait()
	assert.Equal(t, int32(3), n.Load())
}

func TestManager_Panic(t *testing.T) {
	l := newMockLogger()
	mgr := NewManager(context.Background(), l)

	require.NoError(t, mgr.Start("boom", func(context.Context) bool {
		panic("boom")
	}))

	mgr.Wait()
	l.AssertCalled(t, "Error", "task: panic", mock.Anything)
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(ctx, newMockLogger())
	cancel()

	err := mgr.Start("late", func(context.Context) bool { return false })
	require.ErrorIs(t, err, ErrStopped)
}
