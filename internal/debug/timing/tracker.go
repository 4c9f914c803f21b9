package timing

import (
	"context"
	"sync"
	"time"
)

type timingKey struct{}

type TimingInfo struct {
	Operation string
	StartTime time.Time
}

// Tracker accumulates a running total per operation. Memory grows with the
// number of distinct operations, not with the number of calls.
type Tracker struct {
	totals map[string]time.Duration
	order  []string
	mu     sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		totals: make(map[string]time.Duration),
	}
}

func (tt *Tracker) StartTiming(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, timingKey{}, TimingInfo{
		Operation: operation,
		StartTime: time.Now(),
	})
}

// EndTiming records the time elapsed since the matching StartTiming call.
// It returns zero when ctx carries no timing.
func (tt *Tracker) EndTiming(ctx context.Context) time.Duration {
	info, ok := ctx.Value(timingKey{}).(TimingInfo)
	if !ok {
		return 0
	}

	duration := time.Since(info.StartTime)

	tt.mu.Lock()
	if _, seen := tt.totals[info.Operation]; !seen {
		tt.order = append(tt.order, info.Operation)
	}
	tt.totals[info.Operation] += duration
	tt.mu.Unlock()

	return duration
}

// Operations lists recorded operations in first-seen order.
func (tt *Tracker) Operations() []string {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	result := make([]string, len(tt.order))
	copy(result, tt.order)
	return result
}

func (tt *Tracker) GetTotalTime(operation string) time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	return tt.totals[operation]
}

// Totals returns the accumulated time of every operation.
func (tt *Tracker) Totals() map[string]time.Duration {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	result := make(map[string]time.Duration, len(tt.totals))
	for op, d := range tt.totals {
		result[op] = d
	}
	return result
}
