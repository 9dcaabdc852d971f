package strategy

import (
	"context"
	"time"

	"github.com/CorventLabs/corvent/common"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination"
)

// Interval accumulates queued operations and flushes them on a background
// ticker. Timer flushes suppress claiming (claim-bearing flushes come from
// the worker loops); explicit Flush is supported as usual.
type Interval struct {
	Manual

	cancel context.CancelFunc
	done   chan struct{}
}

// NewInterval returns an interval strategy flushing every interval until
// Close is called.
func NewInterval(ctx context.Context, repo coordination.Repository, cfg Config, interval time.Duration) *Interval {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)

	s := &Interval{
		Manual: Manual{acc: newAccumulator(repo, cfg)},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.loop(ctx, interval)

	return s
}

func (s *Interval) loop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	logger := common.NewLoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.acc.mu.Lock()
			empty := s.acc.pend.empty()
			s.acc.mu.Unlock()

			if empty {
				continue
			}

			if err := s.autoFlush(ctx); err != nil {
				logger.Errorf("interval flush failed, keeping queue: %v", err)
			}
		}
	}
}

func (s *Interval) autoFlush(ctx context.Context) error {
	_, err := s.acc.flush(ctx, mmodel.FlagSuppressClaim)
	return err
}

// Close stops the background ticker and flushes what is still queued.
func (s *Interval) Close() error {
	s.cancel()
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.acc.flush(ctx, mmodel.FlagSuppressClaim)

	return err
}

var (
	_ Strategy = (*Interval)(nil)
	_ Strategy = (*Immediate)(nil)
	_ Strategy = (*Manual)(nil)
)
