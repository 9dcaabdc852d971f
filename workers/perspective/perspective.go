// Package perspective materialises read-models from the event stream. The
// worker claims perspective checkpoints through the coordinator, feeds
// ordered events into pure Apply functions and persists the result together
// with the checkpoint advance.
package perspective

import (
	"context"
	"sync"
	"time"

	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/coordination"
	"github.com/CorventLabs/corvent/coordination/strategy"
	"github.com/CorventLabs/corvent/hooks"
)

// ApplyFunc folds one event into the current read-model data. It must be
// pure: no I/O, deterministic.
type ApplyFunc func(current []byte, event mmodel.Event) ([]byte, error)

// Registry maps perspective names to their Apply functions.
type Registry struct {
	mu       sync.RWMutex
	appliers map[string]ApplyFunc
}

// NewRegistry returns an empty perspective registry.
func NewRegistry() *Registry {
	return &Registry{appliers: make(map[string]ApplyFunc)}
}

// Register binds an Apply function to a perspective name.
func (r *Registry) Register(perspectiveName string, fn ApplyFunc) {
	r.mu.Lock()
	r.appliers[perspectiveName] = fn
	r.mu.Unlock()
}

// Lookup resolves a perspective name.
func (r *Registry) Lookup(perspectiveName string) (ApplyFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.appliers[perspectiveName]
	if !ok {
		return nil, common.ValidationError{
			Message: "perspective is not registered: " + perspectiveName,
			Err:     cn.ErrPerspectiveNotRegistered,
		}
	}

	return fn, nil
}

// Store persists read-model rows. Save must write the row and advance the
// checkpoint's last_event_id in the same transaction.
type Store interface {
	Get(ctx context.Context, perspectiveName, streamID string) ([]byte, error)
	Save(ctx context.Context, perspectiveName, streamID string, data []byte, lastEventID string) error
}

// Invalidator drops derived caches of a read-model row after Save; the
// Redis cache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, perspectiveName, streamID string) error
}

// Config holds the perspective loop knobs.
type Config struct {
	PollingInterval    time.Duration
	IdleThresholdPolls int
	DebugMode          bool
}

// Worker is the perspective loop of one instance.
type Worker struct {
	strategy strategy.Strategy
	repo     coordination.Repository
	store    Store
	registry *Registry
	hooks    *hooks.Registry
	cache    Invalidator
	cfg      Config

	idle chan struct{}
}

// New returns a perspective worker. cache may be nil.
func New(strat strategy.Strategy, repo coordination.Repository, store Store, registry *Registry, hookRegistry *hooks.Registry, cache Invalidator, cfg Config) *Worker {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 100 * time.Millisecond
	}

	if cfg.IdleThresholdPolls <= 0 {
		cfg.IdleThresholdPolls = 2
	}

	return &Worker{
		strategy: strat,
		repo:     repo,
		store:    store,
		registry: registry,
		hooks:    hookRegistry,
		cache:    cache,
		cfg:      cfg,
		idle:     make(chan struct{}, 1),
	}
}

// Idle signals after IdleThresholdPolls consecutive empty batches.
func (w *Worker) Idle() <-chan struct{} {
	return w.idle
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger := common.NewLoggerFromContext(ctx)

	emptyPolls := 0

	ticker := time.NewTicker(w.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		batch, err := w.strategy.Flush(ctx, mmodel.FlagClaimPerspective)
		if err != nil {
			logger.Errorf("perspective flush failed: %v", err)
		} else if len(batch.PerspectiveWork) == 0 {
			emptyPolls++

			if emptyPolls == w.cfg.IdleThresholdPolls {
				select {
				case w.idle <- struct{}{}:
				default:
				}
			}
		} else {
			emptyPolls = 0
			w.processBatch(ctx, batch)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one flush-and-process cycle for embedded tests.
func (w *Worker) Poll(ctx context.Context) (*mmodel.WorkBatch, error) {
	batch, err := w.strategy.Flush(ctx, mmodel.FlagClaimPerspective)
	if err != nil {
		return nil, err
	}

	w.processBatch(ctx, batch)

	return batch, nil
}

func (w *Worker) processBatch(ctx context.Context, batch *mmodel.WorkBatch) {
	logger := common.NewLoggerFromContext(ctx)

	for _, item := range batch.PerspectiveWork {
		if err := w.processCheckpoint(ctx, item); err != nil {
			logger.Errorf("perspective %s stream %s failed: %v", item.PerspectiveName, item.StreamID, err)
		}
	}
}

// processCheckpoint loads the unapplied events of a claimed checkpoint,
// folds them through Apply and persists the outcome. Nothing is persisted
// when any Apply raises: the queued failure names the offending event id,
// the checkpoint goes sticky-failed keeping only the error text, and the
// read-model row stays unchanged.
func (w *Worker) processCheckpoint(ctx context.Context, item mmodel.WorkItem) error {
	events, err := w.repo.LoadEvents(ctx, item.StreamID, item.LastEventID)
	if err != nil {
		// Transient infrastructure: leave the row leased, retry later.
		return err
	}

	if len(events) == 0 {
		return w.strategy.QueuePerspectiveCompletion(ctx, mmodel.PerspectiveCompletion{
			PerspectiveName: item.PerspectiveName,
			StreamID:        item.StreamID,
			LastEventID:     item.LastEventID,
		})
	}

	apply, err := w.registry.Lookup(item.PerspectiveName)
	if err != nil {
		return w.strategy.QueuePerspectiveFailure(ctx, mmodel.PerspectiveFailure{
			PerspectiveName: item.PerspectiveName,
			StreamID:        item.StreamID,
			Error:           err.Error(),
		})
	}

	data, err := w.store.Get(ctx, item.PerspectiveName, item.StreamID)
	if err != nil {
		return err
	}

	if err := w.hooks.RunInline(ctx, hooks.PrePerspectiveInline, nil); err != nil {
		return err
	}

	for _, event := range events {
		next, applyErr := apply(data, event)
		if applyErr != nil {
			return w.strategy.QueuePerspectiveFailure(ctx, mmodel.PerspectiveFailure{
				PerspectiveName: item.PerspectiveName,
				StreamID:        item.StreamID,
				EventID:         event.EventID,
				Error:           applyErr.Error(),
			})
		}

		data = next
	}

	lastEventID := events[len(events)-1].EventID

	if err := w.store.Save(ctx, item.PerspectiveName, item.StreamID, data, lastEventID); err != nil {
		return err
	}

	if w.cache != nil {
		if err := w.cache.Invalidate(ctx, item.PerspectiveName, item.StreamID); err != nil {
			common.NewLoggerFromContext(ctx).Warnf("cache invalidation failed for %s/%s: %v", item.PerspectiveName, item.StreamID, err)
		}
	}

	if err := w.hooks.RunInline(ctx, hooks.PostPerspectiveInline, nil); err != nil {
		return err
	}

	return w.strategy.QueuePerspectiveCompletion(ctx, mmodel.PerspectiveCompletion{
		PerspectiveName: item.PerspectiveName,
		StreamID:        item.StreamID,
		LastEventID:     lastEventID,
	})
}
