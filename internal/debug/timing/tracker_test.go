package timing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerAccumulatesInOrder(t *testing.T) {
	tt := NewTracker()

	for _, op := range []string{"tile", "extract", "tile"} {
		ctx := tt.StartTiming(context.Background(), op)
		time.Sleep(time.Millisecond)
		assert.Positive(t, tt.EndTiming(ctx))
	}

	assert.Equal(t, []string{"tile", "extract"}, tt.Operations())
	assert.GreaterOrEqual(t, tt.GetTotalTime("tile"), 2*time.Millisecond)

	totals := tt.Totals()
	require.Len(t, totals, 2)
	assert.Equal(t, tt.GetTotalTime("extract"), totals["extract"])
}

func TestTrackerIgnoresUntimedContext(t *testing.T) {
	tt := NewTracker()
	assert.Zero(t, tt.EndTiming(context.Background()))
	assert.Empty(t, tt.Operations())
	assert.Zero(t, tt.GetTotalTime("score"))
}

func TestTrackerMemoryIsBoundedByOperations(t *testing.T) {
	tt := NewTracker()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				tt.EndTiming(tt.StartTiming(context.Background(), "stitch"))
			}
		}()
	}
	wg.Wait()

	assert.Positive(t, tt.GetTotalTime("stitch"))
	assert.Len(t, tt.totals, 1)
	assert.Len(t, tt.order, 1)
}

func TestStartTimingKeepsParentContext(t *testing.T) {
	tt := NewTracker()
	parent, cancel := context.WithCancel(context.Background())
	ctx := tt.StartTiming(parent, "stitch")
	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
