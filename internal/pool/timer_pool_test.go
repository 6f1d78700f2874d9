package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerPool(t *testing.T) {
	t.Run("reused timer fires once per Get", func(t *testing.T) {
		timer := GetTimer(5 * time.Millisecond)
		<-timer.C
		PutTimer(timer)

		timer = GetTimer(5 * time.Millisecond)
		select {
		case <-timer.C:
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}
		PutTimer(timer)
	})

	t.Run("put before firing drops the tick", func(t *testing.T) {
		timer := GetTimer(time.Hour)
		PutTimer(timer)

		timer = GetTimer(20 * time.Millisecond)
		start := time.Now()
		<-timer.C
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
		PutTimer(timer)
	})

	t.Run("concurrent use", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(time.Millisecond)
				<-timer.C
				PutTimer(timer)
			}()
		}
		wg.Wait()
	})
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
