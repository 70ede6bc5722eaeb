package countdown

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainLatest(t *testing.T, ch <-chan int) int {
	t.Helper()
	var v int
	got := false
	for {
		select {
		case v = <-ch:
			got = true
		default:
			if !got {
				t.Fatal("no remaining value published")
			}
			return v
		}
	}
}

func TestCountdownCompletesExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := NewTimer(clock, clock.Now().Add(3*time.Second), zerolog.Nop())
	defer timer.Stop()

	require.Equal(t, 3, drainLatest(t, timer.Remaining()))

	for i := 0; i < 60; i++ {
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
		clock.Advance(TickInterval)
	}

	select {
	case <-timer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never completed")
	}
	assert.Equal(t, 0, drainLatest(t, timer.Remaining()))

	// A completed timer's Done channel stays closed; Stop is a no-op.
	timer.Stop()
	select {
	case <-timer.Done():
	default:
		t.Fatal("done channel not closed after completion")
	}
}

func TestCountdownPublishesWholeSeconds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := NewTimer(clock, clock.Now().Add(2*time.Second), zerolog.Nop())
	defer timer.Stop()

	require.Equal(t, 2, drainLatest(t, timer.Remaining()))

	// One second of ticks drops the display to 1.
	for i := 0; i < 20; i++ {
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
		clock.Advance(TickInterval)
	}
	require.Eventually(t, func() bool {
		select {
		case v := <-timer.Remaining():
			return v == 1
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopCancelsWithoutCompletion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := NewTimer(clock, clock.Now().Add(10*time.Second), zerolog.Nop())

	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	timer.Stop()

	select {
	case <-timer.Done():
		t.Fatal("cancelled countdown fired completion")
	default:
	}

	// Stop is idempotent.
	timer.Stop()
}

func TestZeroDurationCompletesImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := NewTimer(clock, clock.Now(), zerolog.Nop())
	defer timer.Stop()

	select {
	case <-timer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never completed")
	}
	assert.Equal(t, 0, drainLatest(t, timer.Remaining()))
}
