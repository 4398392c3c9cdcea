package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/matome/internal/fingerprint"
	"github.com/hyperjump/matome/internal/generation"
	"github.com/hyperjump/matome/internal/merge"
	"github.com/hyperjump/matome/internal/models"
)

const defaultRetention = time.Hour

// Orchestrator executes merge plans. Deterministic plans finish inside
// Submit; generative plans run in a goroutine against the generation
// collaborator with a per-task cancellation context. Within one document
// at most one generative task per section is active at a time; later
// submissions queue FIFO behind it, because the second fragment's original
// is only well defined once the first merge is settled.
type Orchestrator struct {
	store     *Store
	generator generation.Generator
	queueSize int
	retention time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	active  map[string]string   // section key -> running generative task ID
	queues  map[string][]queued // section key -> waiting generative submissions
	dedup   map[string]string   // input-pair key -> task ID
	pairs   map[string]string   // task ID -> input-pair key
}

type queued struct {
	id   string
	plan models.MergePlan
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithQueueSize bounds how many generative submissions may wait per
// section. Zero or negative means unbounded.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) { o.queueSize = n }
}

// WithRetention sets how long terminal tasks stay pollable.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

// NewOrchestrator creates an orchestrator running generative merges
// through generator.
func NewOrchestrator(store *Store, generator generation.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		generator: generator,
		retention: defaultRetention,
		logger:    zap.NewNop(),
		cancels:   make(map[string]context.CancelFunc),
		active:    make(map[string]string),
		queues:    make(map[string][]queued),
		dedup:     make(map[string]string),
		pairs:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit executes or schedules plan for a section of document and returns
// the task ID to poll. Deterministic plans return an already-completed
// task. Generative plans return a pending task that starts as soon as the
// section has no earlier active task; identical (original, fragment) pairs
// for the same document share one task instead of issuing a second
// collaborator call.
func (o *Orchestrator) Submit(ctx context.Context, document string, plan models.MergePlan) (string, error) {
	o.store.Sweep(o.retention)

	if plan.Strategy != models.MergeGenerative {
		return o.submitDeterministic(document, plan), nil
	}

	pairKey := document + "\x00" + fingerprint.Pair(plan.Original, plan.Fragment)
	sectionKey := document + "\x00" + plan.SectionTitle

	o.mu.Lock()
	if id, ok := o.dedup[pairKey]; ok {
		// Share the task while it is in flight or completed; a failed or
		// cancelled task never satisfies a resubmission.
		if existing, err := o.store.Get(id); err == nil &&
			(!existing.Terminal() || existing.Status == models.TaskCompleted) {
			o.mu.Unlock()
			o.logger.Debug("reusing merge task for identical inputs",
				zap.String("task_id", id), zap.String("section", plan.SectionTitle))
			return id, nil
		}
		delete(o.dedup, pairKey)
		delete(o.pairs, id)
	}

	if _, busy := o.active[sectionKey]; busy {
		if o.queueSize > 0 && len(o.queues[sectionKey]) >= o.queueSize {
			o.mu.Unlock()
			return "", ErrSectionBusy
		}
		id := o.register(document, plan, pairKey)
		o.queues[sectionKey] = append(o.queues[sectionKey], queued{id: id, plan: plan})
		o.mu.Unlock()
		o.logger.Debug("queued generative merge behind active task",
			zap.String("task_id", id), zap.String("section", plan.SectionTitle))
		return id, nil
	}

	id := o.register(document, plan, pairKey)
	o.start(sectionKey, id, plan)
	o.mu.Unlock()
	return id, nil
}

// submitDeterministic records a deterministic merge as a task born
// completed, so every merge is observable through the same polling surface.
func (o *Orchestrator) submitDeterministic(document string, plan models.MergePlan) string {
	task := &models.Task{
		ID:       uuid.New().String(),
		Document: document,
		Section:  plan.SectionTitle,
		Strategy: plan.Strategy,
		Status:   models.TaskCompleted,
		Result: &models.TaskResult{
			MergedBody:  plan.Merged,
			Diff:        merge.Preview(plan.Original, plan.Merged),
			Fingerprint: fingerprint.Body(plan.Merged),
		},
	}
	o.store.Create(task)
	return task.ID
}

// register creates a pending generative task under the orchestrator lock.
func (o *Orchestrator) register(document string, plan models.MergePlan, pairKey string) string {
	task := &models.Task{
		ID:       uuid.New().String(),
		Document: document,
		Section:  plan.SectionTitle,
		Strategy: plan.Strategy,
		Status:   models.TaskPending,
	}
	o.store.Create(task)
	o.dedup[pairKey] = task.ID
	o.pairs[task.ID] = pairKey
	return task.ID
}

// start marks id active for sectionKey and launches its merge goroutine.
// Callers must hold o.mu.
func (o *Orchestrator) start(sectionKey, id string, plan models.MergePlan) {
	runCtx, cancel := context.WithCancel(context.Background())
	o.cancels[id] = cancel
	o.active[sectionKey] = id
	go o.run(runCtx, sectionKey, id, plan)
}

// run executes one generative merge and then lets the section's queue
// advance. The task may have been cancelled while pending or running; the
// store's terminal guard makes any late transition a no-op.
func (o *Orchestrator) run(ctx context.Context, sectionKey, id string, plan models.MergePlan) {
	if !o.store.transition(id, models.TaskRunning, nil) {
		o.finish(sectionKey, id)
		return
	}

	merged, err := o.generator.Merge(ctx, plan.Original, plan.Fragment, plan.Summary)
	switch {
	case ctx.Err() != nil:
		// Cancelled; Cancel already moved the task to its terminal state.
		o.logger.Info("generative merge cancelled",
			zap.String("task_id", id), zap.String("section", plan.SectionTitle))
	case err != nil:
		o.store.transition(id, models.TaskFailed, func(t *models.Task) {
			t.Error = err.Error()
		})
		o.logger.Warn("generative merge failed",
			zap.String("task_id", id), zap.String("section", plan.SectionTitle), zap.Error(err))
	default:
		body := merge.PreserveHeading(plan.Original, merged)
		o.store.transition(id, models.TaskCompleted, func(t *models.Task) {
			t.Result = &models.TaskResult{
				MergedBody:  body,
				Diff:        merge.Preview(plan.Original, body),
				Fingerprint: fingerprint.Body(body),
			}
		})
		o.logger.Info("generative merge completed",
			zap.String("task_id", id), zap.String("section", plan.SectionTitle))
	}
	o.finish(sectionKey, id)
}

// finish releases id's slot for sectionKey and starts the next queued
// submission, if any.
func (o *Orchestrator) finish(sectionKey, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cancel, ok := o.cancels[id]; ok {
		cancel()
		delete(o.cancels, id)
	}
	if o.active[sectionKey] == id {
		delete(o.active, sectionKey)
	}
	if queue := o.queues[sectionKey]; len(queue) > 0 {
		next := queue[0]
		o.queues[sectionKey] = queue[1:]
		if len(o.queues[sectionKey]) == 0 {
			delete(o.queues, sectionKey)
		}
		o.start(sectionKey, next.id, next.plan)
	}
}

// Poll returns a snapshot of the task. It has no side effects and any
// number of callers may poll the same task concurrently.
func (o *Orchestrator) Poll(id string) (models.Task, error) {
	return o.store.Get(id)
}

// List returns snapshots of every retained task in creation order.
func (o *Orchestrator) List() []models.Task {
	return o.store.List()
}

// Cancel requests cooperative cancellation. A pending or running task
// moves to cancelled immediately, so no later poll observes running; its
// collaborator call is signalled through its context, and a result that
// arrives anyway is discarded. Cancelling a terminal task is a no-op;
// only an unknown ID is an error.
func (o *Orchestrator) Cancel(id string) error {
	if _, err := o.store.Get(id); err != nil {
		return err
	}

	cancelled := o.store.transition(id, models.TaskCancelled, nil)

	o.mu.Lock()
	if cancel, ok := o.cancels[id]; ok {
		cancel()
		delete(o.cancels, id)
	}
	// A pending task may still sit in its section queue; drop it so it
	// never starts.
	for key, queue := range o.queues {
		for i, q := range queue {
			if q.id == id {
				o.queues[key] = append(queue[:i:i], queue[i+1:]...)
				if len(o.queues[key]) == 0 {
					delete(o.queues, key)
				}
				break
			}
		}
	}
	o.mu.Unlock()

	if cancelled {
		o.logger.Info("merge task cancelled", zap.String("task_id", id))
	}
	return nil
}

// Release marks a task's result as consumed so dedup stops handing out its
// ID. Commits call this after applying a task's result; the task itself
// stays pollable until the retention sweep drops it.
func (o *Orchestrator) Release(id string) {
	o.mu.Lock()
	if pairKey, ok := o.pairs[id]; ok {
		delete(o.pairs, id)
		if o.dedup[pairKey] == id {
			delete(o.dedup, pairKey)
		}
	}
	o.mu.Unlock()
}

// Close cancels every in-flight task.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, cancel := range o.cancels {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return nil
}
