package application

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.uber.org/zap"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/observability/metrics"
)

// collaborators are shared by every coordinator of an engine.
type collaborators struct {
	resolver  *Resolver
	store     AlarmStore
	publisher LifecyclePublisher
	owners    OwnershipResolver
	relations RelationResolver
	states    RuleStateStore
	clock     Clock
	policy    DurationPolicy
	logger    *zap.Logger
}

type dispatch struct {
	agg         *aggregate
	decision    Decision
	alarmID     string
	provisional *alarms.Alarm
}

// Coordinator serializes evaluation for one entity. It is not safe for
// concurrent use; the engine owns each coordinator from a single shard worker.
type Coordinator struct {
	deps       *collaborators
	entity     alarms.EntityID
	tenantID   string
	profileID  string
	aggregates map[string]*aggregate
	order      []string
	chain      *Chain
	pending    []dispatch
	lastEvent  string
}

func newCoordinator(deps *collaborators, entity alarms.EntityID, tenantID, profileID string) *Coordinator {
	return &Coordinator{
		deps:       deps,
		entity:     entity,
		tenantID:   tenantID,
		profileID:  profileID,
		aggregates: make(map[string]*aggregate),
	}
}

// SetRules swaps the rule table. Replaced rule definitions restart from IDLE.
func (c *Coordinator) SetRules(ctx context.Context, rules []*alarms.AlarmRule) {
	next := make(map[string]*aggregate, len(rules))
	order := make([]string, 0, len(rules))
	for _, rule := range rules {
		prev, ok := c.aggregates[rule.ID]
		switch {
		case ok && sameDefinition(prev.rule, rule):
			prev.rule = rule
			next[rule.ID] = prev
		case ok:
			c.deleteStates(ctx, rule.ID)
			next[rule.ID] = newAggregate(rule, c.entity)
		default:
			next[rule.ID] = newAggregate(rule, c.entity)
		}
		order = append(order, rule.ID)
	}
	sort.Strings(order)
	c.aggregates = next
	c.order = order
}

// sameDefinition reports whether b can keep the condition states built for a.
// Sources may swap a definition without bumping its version.
func sameDefinition(a, b *alarms.AlarmRule) bool {
	if a == b {
		return true
	}
	if a.Version != b.Version || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	x, y := *a, *b
	x.CreatedAt, y.CreatedAt = time.Time{}, time.Time{}
	x.UpdatedAt, y.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(x, y)
}

// Idle reports whether the coordinator holds nothing worth keeping.
func (c *Coordinator) Idle() bool {
	return len(c.aggregates) == 0 && len(c.pending) == 0
}

// Process handles one event. Redelivery of the last event only retries the
// pending alarm store calls.
func (c *Coordinator) Process(ctx context.Context, ev Event) error {
	if ev.ID != "" && ev.ID == c.lastEvent {
		return c.flush(ctx)
	}
	if err := c.flush(ctx); err != nil {
		return err
	}
	if ev.TenantID != "" {
		c.tenantID = ev.TenantID
	}
	if ev.ProfileID != "" {
		c.profileID = ev.ProfileID
	}

	switch ev.Kind {
	case EventTelemetry, EventAttributes, EventAttributesDeleted:
		c.evaluate(ctx, ev)
	case EventAlarmClear, EventAlarmDelete:
		c.reconcile(ctx, ev.Alarm)
	case EventAlarmAck:
		c.acknowledge(ctx, ev.Alarm)
	case EventEntityAssigned, EventEntityUnassigned:
		c.chain = nil
	}
	c.lastEvent = ev.ID
	return c.flush(ctx)
}

// Tick advances time-based conditions to at.
func (c *Coordinator) Tick(ctx context.Context, at time.Time) error {
	if err := c.flush(ctx); err != nil {
		return err
	}
	timed := make([]*aggregate, 0, len(c.order))
	rules := make([]*alarms.AlarmRule, 0, len(c.order))
	for _, id := range c.order {
		agg := c.aggregates[id]
		if !hasTimedSpec(agg.rule) {
			continue
		}
		c.ensureLoaded(ctx, agg)
		timed = append(timed, agg)
		rules = append(rules, agg.rule)
	}
	if len(timed) == 0 {
		return nil
	}
	snap := alarms.NewSnapshot(at, nil, nil)
	res := c.deps.resolver.Prefetch(ctx, c.ownership(ctx), rules, snap)
	for _, agg := range timed {
		d, err := agg.harvest(res.operands(agg.rule, snap), at, c.deps.policy, c.deps.logger)
		if err != nil {
			c.ruleFailed(agg, err)
			continue
		}
		c.apply(ctx, agg, d)
	}
	return c.flush(ctx)
}

func hasTimedSpec(rule *alarms.AlarmRule) bool {
	for _, cond := range rule.CreateConditions {
		if cond.Condition.Spec.Type.Timed() {
			return true
		}
	}
	return rule.ClearCondition != nil && rule.ClearCondition.Spec.Type.Timed()
}

func (c *Coordinator) evaluate(ctx context.Context, ev Event) {
	for _, snap := range ev.Snapshots() {
		c.deps.resolver.Observe(ctx, c.entity, snap)
		changed := snap.Changed()
		selected := make([]*aggregate, 0, len(c.order))
		rules := make([]*alarms.AlarmRule, 0, len(c.order))
		for _, id := range c.order {
			agg := c.aggregates[id]
			if !agg.rule.Affected(changed) {
				continue
			}
			c.ensureLoaded(ctx, agg)
			selected = append(selected, agg)
			rules = append(rules, agg.rule)
		}
		if len(selected) == 0 {
			continue
		}
		res := c.deps.resolver.Prefetch(ctx, c.ownership(ctx), rules, snap)
		for _, agg := range selected {
			d, err := agg.decide(res.operands(agg.rule, snap), snap.TS(), c.deps.policy, c.deps.logger)
			if err != nil {
				c.ruleFailed(agg, err)
				continue
			}
			c.apply(ctx, agg, d)
		}
	}
}

func (c *Coordinator) ruleFailed(agg *aggregate, err error) {
	metrics.IncRuleError(agg.rule.ID)
	c.deps.logger.Error("rule evaluation failed",
		zap.String("tenant_id", c.tenantID),
		zap.String("entity_id", c.entity.String()),
		zap.String("rule_id", agg.rule.ID),
		zap.Error(err))
}

func (c *Coordinator) apply(ctx context.Context, agg *aggregate, d Decision) {
	changed := agg.changed(d)
	if !changed && !d.Dispatchable() {
		return
	}
	alarmID := ""
	if agg.active != nil {
		alarmID = agg.active.ID
	}
	active := agg.commit(d)
	if changed {
		c.saveStates(ctx, agg)
	}
	if !d.Dispatchable() {
		return
	}
	c.pending = append(c.pending, dispatch{agg: agg, decision: d, alarmID: alarmID, provisional: active})
}

// reconcile handles an external clear or delete of an alarm.
func (c *Coordinator) reconcile(ctx context.Context, alarm *alarms.Alarm) {
	if alarm == nil || alarm.ID == "" {
		return
	}
	for _, id := range c.order {
		agg := c.aggregates[id]
		if agg.rule.Type() != alarm.Type {
			continue
		}
		c.ensureLoaded(ctx, agg)
		if agg.active == nil || agg.active.ID != alarm.ID {
			continue
		}
		agg.reset()
		c.deleteStates(ctx, agg.rule.ID)
	}
}

func (c *Coordinator) acknowledge(ctx context.Context, alarm *alarms.Alarm) {
	if alarm == nil || alarm.ID == "" {
		return
	}
	for _, id := range c.order {
		agg := c.aggregates[id]
		if agg.active == nil || agg.active.ID != alarm.ID {
			continue
		}
		next := *agg.active
		next.Acknowledged = true
		next.AckedAt = alarm.AckedAt
		if next.AckedAt.IsZero() {
			next.AckedAt = c.deps.clock.Now()
		}
		agg.active = &next
	}
}

func (c *Coordinator) ensureLoaded(ctx context.Context, agg *aggregate) {
	if agg.loaded {
		return
	}
	agg.target = c.target(ctx, agg.rule)
	if c.deps.states != nil {
		lctx, cancel := c.lookup(ctx)
		states, err := c.deps.states.Load(lctx, c.entity, agg.rule.ID)
		cancel()
		if err != nil {
			c.deps.logger.Warn("rule state load failed",
				zap.String("entity_id", c.entity.String()),
				zap.String("rule_id", agg.rule.ID),
				zap.Error(err))
		} else {
			agg.restore(states)
		}
	}
	lctx, cancel := c.lookup(ctx)
	active, err := c.deps.store.FindActiveByOriginatorAndType(lctx, agg.target, agg.rule.Type())
	cancel()
	if err != nil {
		c.deps.logger.Warn("active alarm lookup failed",
			zap.String("entity_id", agg.target.String()),
			zap.String("rule_id", agg.rule.ID),
			zap.Error(err))
		return
	}
	if active != nil && active.Active() {
		agg.active = active
	}
	agg.loaded = true
}

// target resolves the entity the rule records its alarm against.
func (c *Coordinator) target(ctx context.Context, rule *alarms.AlarmRule) alarms.EntityID {
	switch rule.Target.Strategy {
	case alarms.TargetSpecified:
		return rule.Target.EntityID
	case alarms.TargetRelated:
		if c.deps.relations == nil {
			return c.entity
		}
		lctx, cancel := c.lookup(ctx)
		related, err := c.deps.relations.Related(lctx, c.entity, rule.Target.RelationType)
		cancel()
		if err != nil {
			c.deps.logger.Warn("relation lookup failed",
				zap.String("entity_id", c.entity.String()),
				zap.String("relation_type", rule.Target.RelationType),
				zap.Error(err))
			return c.entity
		}
		if len(related) == 0 {
			return c.entity
		}
		return related[0]
	default:
		return c.entity
	}
}

// lookup bounds a read against an external collaborator.
func (c *Coordinator) lookup(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.deps.resolver.timeout)
}

// ownership returns the entity chain, caching it once both lookups succeed.
func (c *Coordinator) ownership(ctx context.Context) Chain {
	if c.chain != nil {
		return *c.chain
	}
	ctx, cancel := c.lookup(ctx)
	defer cancel()
	chain := Chain{c.entity}
	complete := true
	if c.entity.Type == alarms.EntityTenant {
		chain[2] = c.entity
	} else {
		if c.entity.Type != alarms.EntityCustomer {
			customer, ok, err := c.deps.owners.CustomerOf(ctx, c.entity)
			if err != nil {
				complete = false
				c.deps.logger.Warn("customer lookup failed", zap.String("entity_id", c.entity.String()), zap.Error(err))
			} else if ok {
				chain[1] = customer
			}
		} else {
			chain[1] = c.entity
		}
		tenant, err := c.deps.owners.TenantOf(ctx, c.entity)
		if err != nil {
			complete = false
			c.deps.logger.Warn("tenant lookup failed", zap.String("entity_id", c.entity.String()), zap.Error(err))
		} else {
			chain[2] = tenant
		}
	}
	if complete {
		c.chain = &chain
	}
	return chain
}

func (c *Coordinator) saveStates(ctx context.Context, agg *aggregate) {
	if c.deps.states == nil {
		return
	}
	if err := c.deps.states.Save(ctx, c.entity, agg.rule.ID, agg.states()); err != nil {
		c.deps.logger.Warn("rule state save failed",
			zap.String("entity_id", c.entity.String()),
			zap.String("rule_id", agg.rule.ID),
			zap.Error(err))
	}
}

func (c *Coordinator) deleteStates(ctx context.Context, ruleID string) {
	if c.deps.states == nil {
		return
	}
	if err := c.deps.states.Delete(ctx, c.entity, ruleID); err != nil {
		c.deps.logger.Warn("rule state delete failed",
			zap.String("entity_id", c.entity.String()),
			zap.String("rule_id", ruleID),
			zap.Error(err))
	}
}

// flush sends decided actions in order, stopping at the first store failure.
func (c *Coordinator) flush(ctx context.Context) error {
	for len(c.pending) > 0 {
		p := c.pending[0]
		if err := c.send(ctx, p); err != nil {
			metrics.IncDispatchFailure(string(p.decision.Action.Kind))
			return fmt.Errorf("%w: rule %s: %w", ErrRetryable, p.agg.rule.ID, err)
		}
		c.pending = c.pending[1:]
	}
	c.pending = nil
	return nil
}

func (c *Coordinator) send(ctx context.Context, p dispatch) error {
	rule := p.agg.rule
	d := p.decision
	if d.Action.Kind == alarms.ActionClear {
		id := p.alarmID
		if id == "" {
			lctx, cancel := c.lookup(ctx)
			found, err := c.deps.store.FindActiveByOriginatorAndType(lctx, p.agg.target, rule.Type())
			cancel()
			if err != nil {
				return err
			}
			if found == nil {
				return nil
			}
			id = found.ID
		}
		cleared, err := c.deps.store.ClearActive(ctx, id, d.At, d.Details)
		if err != nil {
			return err
		}
		if cleared != nil {
			c.publish(ctx, p, *cleared, alarms.EventAlarmCleared)
		}
		return nil
	}

	result, err := c.deps.store.CreateOrUpdateActive(ctx, AlarmRequest{
		TenantID:   c.tenantID,
		Rule:       rule,
		Originator: p.agg.target,
		Severity:   d.Action.Severity,
		Details:    d.Details,
		At:         d.At,
	})
	if err != nil {
		return err
	}
	p.agg.attach(p.provisional, result.Alarm)
	eventType := alarms.EventAlarmUpdated
	switch {
	case result.Created:
		eventType = alarms.EventAlarmCreated
	case result.SeverityChanged:
		eventType = alarms.EventAlarmSeverityUpdated
	}
	c.publish(ctx, p, result.Alarm, eventType)
	return nil
}

func (c *Coordinator) publish(ctx context.Context, p dispatch, alarm alarms.Alarm, eventType string) {
	msg := LifecycleMessage{
		EventType:  eventType,
		TenantID:   c.tenantID,
		Target:     p.agg.target,
		Originator: c.entity,
		RuleID:     p.agg.rule.ID,
		RuleName:   p.agg.rule.Name,
		Action:     p.decision.Action,
		Alarm:      alarm,
		Metadata:   p.decision.Metadata,
		OccurredAt: p.decision.At,
	}
	metrics.IncLifecycleEvent(eventType)
	if c.deps.publisher == nil {
		return
	}
	if err := c.deps.publisher.PushLifecycleMessage(ctx, c.tenantID, p.agg.target, msg, eventType); err != nil {
		metrics.IncPublishFailure()
		c.deps.logger.Warn("lifecycle publish failed",
			zap.String("tenant_id", c.tenantID),
			zap.String("rule_id", p.agg.rule.ID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
