package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestRealClock_Timer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(5 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	c := NewMockClock(epoch)
	c.Sleep(250 * time.Millisecond)
	c.Sleep(100 * time.Millisecond)

	assert.Equal(t, epoch.Add(350*time.Millisecond), c.Now())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 100 * time.Millisecond}, c.Sleeps())
	assert.Equal(t, 350*time.Millisecond, c.Since(epoch))
}

func TestMockClock_TimerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-timer.C():
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())
}

func TestMockClock_ZeroTimerFiresImmediately(t *testing.T) {
	c := NewMockClock(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero-duration After should already be due")
	}
}

func TestMockClock_Ticker(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(100 * time.Millisecond)

	c.Advance(100 * time.Millisecond)
	<-ticker.C()

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestSleepContext(t *testing.T) {
	t.Run("mock clock advances", func(t *testing.T) {
		c := NewMockClock(epoch)
		require.NoError(t, SleepContext(context.Background(), c, time.Second))
		assert.Equal(t, epoch.Add(time.Second), c.Now())
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := SleepContext(ctx, RealClock{}, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("non-positive duration", func(t *testing.T) {
		assert.NoError(t, SleepContext(context.Background(), RealClock{}, 0))
	})
}
