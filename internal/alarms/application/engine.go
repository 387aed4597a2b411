package application

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/eventing"
	"alarm-engine/internal/observability/metrics"
)

const (
	defaultWorkers       = 8
	defaultQueueSize     = 1024
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 200 * time.Millisecond
)

// Engine routes events to per-entity coordinators. Each entity hashes to one
// shard worker, so events for an entity are processed strictly in order while
// different shards run in parallel.
type Engine struct {
	deps      *collaborators
	rules     RuleSource
	index     atomic.Pointer[FilterIndex]
	shards    []*shard
	workers   int
	queueSize int
	attempts  int
	backoff   time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

type job struct {
	event *Event
	tick  time.Time
	done  chan error
}

type shard struct {
	id           int
	inbox        chan job
	coordinators map[alarms.EntityID]*Coordinator
	synced       map[alarms.EntityID]*FilterIndex
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithWorkers sets the shard count.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueSize sets the per-shard inbox capacity.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithRetry sets how often a failed alarm store dispatch is retried.
func WithRetry(attempts int, backoff time.Duration) EngineOption {
	return func(e *Engine) {
		if attempts > 0 {
			e.attempts = attempts
		}
		if backoff >= 0 {
			e.backoff = backoff
		}
	}
}

// WithDurationPolicy selects how DURATION windows behave outside the schedule.
func WithDurationPolicy(policy DurationPolicy) EngineOption {
	return func(e *Engine) {
		if policy.Valid() {
			e.deps.policy = policy
		}
	}
}

// WithPublisher assigns the lifecycle publisher.
func WithPublisher(publisher LifecyclePublisher) EngineOption {
	return func(e *Engine) {
		e.deps.publisher = publisher
	}
}

// WithRelations assigns the relation resolver used by RELATED targets.
func WithRelations(relations RelationResolver) EngineOption {
	return func(e *Engine) {
		e.deps.relations = relations
	}
}

// WithStateStore persists rule condition states.
func WithStateStore(states RuleStateStore) EngineOption {
	return func(e *Engine) {
		e.deps.states = states
	}
}

// WithEngineClock assigns a clock.
func WithEngineClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.deps.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.deps.logger = logger
		}
	}
}

// NewEngine constructs an engine. Call ReloadRules and Start before submitting events.
func NewEngine(rules RuleSource, resolver *Resolver, owners OwnershipResolver, store AlarmStore, opts ...EngineOption) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("alarms: nil rule source")
	}
	if resolver == nil {
		return nil, errors.New("alarms: nil resolver")
	}
	if owners == nil {
		return nil, errors.New("alarms: nil ownership resolver")
	}
	if store == nil {
		return nil, errors.New("alarms: nil alarm store")
	}
	e := &Engine{
		deps: &collaborators{
			resolver: resolver,
			store:    store,
			owners:   owners,
			clock:    systemClock{},
			policy:   DurationAccumulate,
			logger:   zap.NewNop(),
		},
		rules:     rules,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		attempts:  defaultRetryAttempts,
		backoff:   defaultRetryBackoff,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.shards = make([]*shard, e.workers)
	for i := range e.shards {
		e.shards[i] = &shard{
			id:           i,
			inbox:        make(chan job, e.queueSize),
			coordinators: make(map[alarms.EntityID]*Coordinator),
			synced:       make(map[alarms.EntityID]*FilterIndex),
		}
	}
	e.index.Store(&FilterIndex{})
	return e, nil
}

// ReloadRules rebuilds the rule index from the rule source and swaps it in.
// Coordinators pick up the new table before their next event. Invalid rules
// are skipped and returned joined.
func (e *Engine) ReloadRules(ctx context.Context) error {
	list, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("alarms: list rules: %w", err)
	}
	idx, errs := BuildFilterIndex(list, e.deps.logger)
	e.index.Store(idx)
	metrics.SetRulesLoaded(idx.Len())
	e.deps.logger.Info("rules loaded", zap.Int("rules", idx.Len()), zap.Int("rejected", len(errs)))
	return errors.Join(errs...)
}

// Start launches the shard workers.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		for _, s := range e.shards {
			e.wg.Add(1)
			go e.run(ctx, s)
		}
		go func() {
			e.wg.Wait()
			close(e.doneCh)
		}()
	})
}

// Stop drains queued jobs and waits for the workers to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	// An engine that was never started has no workers to wait for.
	e.startOnce.Do(func() { close(e.doneCh) })
	<-e.doneCh
	if e.cancel != nil {
		e.cancel()
	}
}

// Submit enqueues an event without waiting for it to be processed.
func (e *Engine) Submit(ev Event) error {
	return e.enqueue(ev, nil)
}

// Process enqueues an event and waits for its outcome.
func (e *Engine) Process(ctx context.Context, ev Event) error {
	n := 1
	if ev.Kind.alarmNotification() {
		n = len(e.shards)
	}
	done := make(chan error, n)
	if err := e.enqueue(ev, done); err != nil {
		return err
	}
	var errs []error
	for i := 0; i < n; i++ {
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-e.doneCh:
			return ErrEngineStopped
		}
	}
	return errors.Join(errs...)
}

// Tick asks every shard to advance time-based conditions to at.
func (e *Engine) Tick(at time.Time) {
	for _, s := range e.shards {
		select {
		case <-e.stopCh:
			return
		default:
		}
		select {
		case s.inbox <- job{tick: at.UTC()}:
		default:
			e.deps.logger.Warn("tick dropped, shard queue full", zap.Int("shard", s.id))
		}
	}
}

func (e *Engine) enqueue(ev Event, done chan error) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("alarms: unsupported event kind %q", ev.Kind)
	}
	select {
	case <-e.stopCh:
		return ErrEngineStopped
	default:
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Kind.alarmNotification() {
		for _, s := range e.shards {
			if err := e.offer(s, job{event: &ev, done: done}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := ev.Entity.Validate(); err != nil {
		return err
	}
	return e.offer(e.shardFor(ev.Entity), job{event: &ev, done: done})
}

func (e *Engine) offer(s *shard, j job) error {
	select {
	case s.inbox <- j:
		metrics.SetQueueDepth(s.id, len(s.inbox))
		return nil
	default:
		return ErrQueueFull
	}
}

func (e *Engine) shardFor(entity alarms.EntityID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entity.String()))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

func (e *Engine) run(ctx context.Context, s *shard) {
	defer e.wg.Done()
	for {
		select {
		case j := <-s.inbox:
			e.handle(ctx, s, j)
		case <-e.stopCh:
			for {
				select {
				case j := <-s.inbox:
					e.handle(ctx, s, j)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, s *shard, j job) {
	metrics.SetQueueDepth(s.id, len(s.inbox))
	var err error
	switch {
	case j.event == nil:
		e.tickShard(ctx, s, j.tick)
	case j.event.Kind.alarmNotification():
		err = e.notifyShard(ctx, s, *j.event)
	default:
		err = e.processEvent(ctx, s, *j.event)
	}
	metrics.SetCoordinators(s.id, len(s.coordinators))
	if j.done != nil {
		j.done <- err
	}
}

func (e *Engine) processEvent(ctx context.Context, s *shard, ev Event) error {
	start := time.Now()
	c, ok := s.coordinators[ev.Entity]
	if !ok {
		c = newCoordinator(e.deps, ev.Entity, ev.TenantID, ev.ProfileID)
		s.coordinators[ev.Entity] = c
	}
	if ev.ProfileID != "" && ev.ProfileID != c.profileID {
		c.profileID = ev.ProfileID
		delete(s.synced, ev.Entity)
	}
	if ev.TenantID != "" && ev.TenantID != c.tenantID {
		c.tenantID = ev.TenantID
		delete(s.synced, ev.Entity)
	}
	e.sync(ctx, s, c)
	ctx = eventing.WithCorrelationID(eventing.WithTenantID(ctx, c.tenantID), ev.ID)
	err := e.retry(ctx, func() error { return c.Process(ctx, ev) })
	e.finish(s, c, ev, err, start)
	return err
}

func (e *Engine) notifyShard(ctx context.Context, s *shard, ev Event) error {
	var errs []error
	for _, c := range s.coordinators {
		e.sync(ctx, s, c)
		start := time.Now()
		scoped := ev
		scoped.Entity = c.entity
		scopedCtx := eventing.WithCorrelationID(eventing.WithTenantID(ctx, c.tenantID), ev.ID)
		err := e.retry(scopedCtx, func() error { return c.Process(scopedCtx, scoped) })
		e.finish(s, c, scoped, err, start)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) tickShard(ctx context.Context, s *shard, at time.Time) {
	for _, c := range s.coordinators {
		e.sync(ctx, s, c)
		if err := e.retry(ctx, func() error { return c.Tick(ctx, at) }); err != nil {
			e.deps.logger.Error("tick dispatch abandoned",
				zap.String("entity_id", c.entity.String()),
				zap.Error(err))
		}
		if c.Idle() {
			delete(s.coordinators, c.entity)
			delete(s.synced, c.entity)
		}
	}
}

// sync installs the current rule table on the coordinator.
func (e *Engine) sync(ctx context.Context, s *shard, c *Coordinator) {
	idx := e.index.Load()
	if s.synced[c.entity] == idx {
		return
	}
	c.SetRules(ctx, idx.Match(c.tenantID, c.entity, c.profileID))
	s.synced[c.entity] = idx
}

func (e *Engine) finish(s *shard, c *Coordinator, ev Event, err error, start time.Time) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		e.deps.logger.Error("event dispatch abandoned",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("tenant_id", c.tenantID),
			zap.String("entity_id", c.entity.String()),
			zap.Error(err))
	}
	metrics.ObserveEvent(string(ev.Kind), result, time.Since(start))
	if c.Idle() {
		delete(s.coordinators, c.entity)
		delete(s.synced, c.entity)
	}
}

// retry re-runs fn while it fails with ErrRetryable. The coordinator keeps
// decided actions pending, so a retry only repeats the alarm store calls.
func (e *Engine) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrRetryable) || attempt == e.attempts {
			return err
		}
		timer := time.NewTimer(e.backoff * time.Duration(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
	return err
}
