package tools

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SlidingWindow allows at most Limit dispatches in any Window. Wait blocks
// until the oldest dispatch ages out, or until ctx is done.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	times  []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func (w *SlidingWindow) Wait(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		now := w.now()
		w.prune(now)
		if len(w.times) < w.limit {
			w.times = append(w.times, now)
			return nil
		}
		wait := w.window - now.Sub(w.times[0])
		log.Warn().Dur("wait", wait).Int("limit", w.limit).Msg("submission rate limit reached, waiting")
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (w *SlidingWindow) prune(now time.Time) {
	i := 0
	for i < len(w.times) && now.Sub(w.times[i]) >= w.window {
		i++
	}
	w.times = w.times[i:]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
