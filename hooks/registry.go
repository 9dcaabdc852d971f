// Package hooks holds the two extension points of the worker pipeline:
// lifecycle stage receptors and priority-ordered tag hooks. Inline stages
// run synchronously in the transactional path; Async stages go through a
// bounded queue drained by a pool.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/CorventLabs/corvent/common"
	"github.com/CorventLabs/corvent/common/mmodel"
)

// Stage is a lifecycle extension point, in per-message order.
type Stage int

const (
	PreDistributeAsync Stage = iota
	PreDistributeInline
	PostDistributeAsync
	PostDistributeInline
	PrePerspectiveInline
	PostPerspectiveInline
)

// DefaultPriority is assigned to hooks registered without one.
const DefaultPriority = -100

// LifecycleFunc runs at a lifecycle stage.
type LifecycleFunc func(ctx context.Context, envelope *mmodel.MessageEnvelope) error

// TagHookFunc runs for a tagged message.
type TagHookFunc func(ctx context.Context, tag string, envelope *mmodel.MessageEnvelope) error

// TagHook is a registered hook with its ordering priority; lower runs first.
type TagHook struct {
	TagType  string
	HookType string
	Priority int
	Fn       TagHookFunc
}

type asyncTask struct {
	fn       LifecycleFunc
	envelope *mmodel.MessageEnvelope
}

// Registry stores lifecycle and tag hooks.
type Registry struct {
	mu        sync.RWMutex
	lifecycle map[Stage][]LifecycleFunc
	tagHooks  []TagHook
	universal []TagHook

	queue  chan asyncTask
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry returns a registry with workers draining asyncQueue-sized
// bounded queue of async hooks.
func NewRegistry(asyncQueue, asyncWorkers int) *Registry {
	if asyncQueue <= 0 {
		asyncQueue = 256
	}

	if asyncWorkers <= 0 {
		asyncWorkers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		lifecycle: make(map[Stage][]LifecycleFunc),
		queue:     make(chan asyncTask, asyncQueue),
		cancel:    cancel,
	}

	for i := 0; i < asyncWorkers; i++ {
		r.wg.Add(1)

		go r.drain(ctx)
	}

	return r
}

func (r *Registry) drain(ctx context.Context) {
	defer r.wg.Done()

	logger := common.NewLoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.queue:
			if err := task.fn(ctx, task.envelope); err != nil {
				logger.Errorf("async hook failed: %v", err)
			}
		}
	}
}

// Close stops the async pool.
func (r *Registry) Close() error {
	r.cancel()
	r.wg.Wait()

	return nil
}

// RegisterLifecycle adds a receptor at a stage.
func (r *Registry) RegisterLifecycle(stage Stage, fn LifecycleFunc) {
	r.mu.Lock()
	r.lifecycle[stage] = append(r.lifecycle[stage], fn)
	r.mu.Unlock()
}

// RunInline runs the stage's hooks synchronously; the first error aborts
// and blocks progress of the step.
func (r *Registry) RunInline(ctx context.Context, stage Stage, envelope *mmodel.MessageEnvelope) error {
	r.mu.RLock()
	fns := r.lifecycle[stage]
	r.mu.RUnlock()

	for _, fn := range fns {
		if err := fn(ctx, envelope); err != nil {
			return err
		}
	}

	return nil
}

// RunAsync enqueues the stage's hooks out-of-band. A full queue drops the
// hook invocation with a log line rather than blocking the worker path.
func (r *Registry) RunAsync(ctx context.Context, stage Stage, envelope *mmodel.MessageEnvelope) {
	logger := common.NewLoggerFromContext(ctx)

	r.mu.RLock()
	fns := r.lifecycle[stage]
	r.mu.RUnlock()

	for _, fn := range fns {
		select {
		case r.queue <- asyncTask{fn: fn, envelope: envelope}:
		default:
			logger.Warnf("async hook queue full, dropping stage %d hook", stage)
		}
	}
}

// RegisterTagHook adds a hook for one tag type.
func (r *Registry) RegisterTagHook(tagType, hookType string, priority int, fn TagHookFunc) {
	r.mu.Lock()
	r.tagHooks = append(r.tagHooks, TagHook{TagType: tagType, HookType: hookType, Priority: priority, Fn: fn})
	r.mu.Unlock()
}

// RegisterUniversalHook adds a hook firing for every tagged message
// regardless of tag type.
func (r *Registry) RegisterUniversalHook(hookType string, priority int, fn TagHookFunc) {
	r.mu.Lock()
	r.universal = append(r.universal, TagHook{HookType: hookType, Priority: priority, Fn: fn})
	r.mu.Unlock()
}

// HooksFor returns the hooks of a tag type sorted by ascending priority,
// always including the universal hooks.
func (r *Registry) HooksFor(tagType string) []TagHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TagHook

	for _, h := range r.tagHooks {
		if h.TagType == tagType {
			out = append(out, h)
		}
	}

	out = append(out, r.universal...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})

	return out
}

// RunTagHooks fires the hooks of a tag in priority order.
func (r *Registry) RunTagHooks(ctx context.Context, tag string, envelope *mmodel.MessageEnvelope) error {
	for _, h := range r.HooksFor(tag) {
		if err := h.Fn(ctx, tag, envelope); err != nil {
			return err
		}
	}

	return nil
}
