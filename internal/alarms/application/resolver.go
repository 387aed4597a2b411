package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/observability/metrics"
)

const defaultFetchTimeout = 2 * time.Second

// Chain is the ownership chain of an entity: the entity, its customer and its tenant.
// Unknown links are zero.
type Chain [3]alarms.EntityID

// Resolver resolves rule arguments against an entity and its owners.
type Resolver struct {
	attributes AttributeStore
	timeout    time.Duration
	logger     *zap.Logger
}

// ResolverOption customizes the resolver.
type ResolverOption func(*Resolver)

// WithFetchTimeout bounds each attribute prefetch.
func WithFetchTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithResolverLogger assigns a logger.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver constructs a resolver.
func NewResolver(attributes AttributeStore, opts ...ResolverOption) (*Resolver, error) {
	if attributes == nil {
		return nil, errors.New("alarms: nil attribute store")
	}
	r := &Resolver{attributes: attributes, timeout: defaultFetchTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Observe forwards event values to caching attribute stores.
func (r *Resolver) Observe(ctx context.Context, entity alarms.EntityID, snap alarms.Snapshot) {
	if observer, ok := r.attributes.(AttributeObserver); ok {
		observer.Observe(ctx, entity, snap)
	}
}

type fetchKey struct {
	level int
	typ   alarms.KeyType
	name  string
}

type fetchGroup struct {
	level int
	typ   alarms.KeyType
}

// Resolved holds the stored values fetched for one evaluation cycle.
type Resolved struct {
	chain  Chain
	values map[fetchKey]alarms.Entry
}

// Prefetch fetches every stored key the rules may read, concurrently and bounded
// by the fetch timeout. Failed fetches leave their keys absent.
func (r *Resolver) Prefetch(ctx context.Context, chain Chain, rules []*alarms.AlarmRule, snap alarms.Snapshot) *Resolved {
	res := &Resolved{chain: chain, values: make(map[fetchKey]alarms.Entry)}
	wanted := make(map[fetchGroup]map[string]struct{})
	for _, rule := range rules {
		for _, arg := range rule.Arguments {
			if !arg.Stored() {
				continue
			}
			key := alarms.Key{Type: arg.KeyType(), Name: arg.Key}
			for _, level := range levels(arg) {
				if chain[level].IsZero() {
					continue
				}
				if level == 0 {
					if _, ok := snap.Get(key); ok {
						continue
					}
					if snap.Deleted(key) {
						continue
					}
				}
				group := fetchGroup{level: level, typ: key.Type}
				if wanted[group] == nil {
					wanted[group] = make(map[string]struct{})
				}
				wanted[group][key.Name] = struct{}{}
			}
		}
	}
	if len(wanted) == 0 {
		return res
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(fetchCtx)
	for group, names := range wanted {
		group := group
		keys := make([]string, 0, len(names))
		for name := range names {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		g.Go(func() error {
			entity := chain[group.level]
			values, err := r.attributes.GetLatest(gctx, entity, group.typ, keys)
			if err != nil {
				r.logger.Warn("attribute fetch failed",
					zap.String("entity_id", entity.String()),
					zap.String("key_type", string(group.typ)),
					zap.Strings("keys", keys),
					zap.Error(err))
				metrics.IncAttributeFetchError()
				return nil
			}
			mu.Lock()
			for name, entry := range values {
				res.values[fetchKey{level: group.level, typ: group.typ, name: name}] = entry
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	metrics.ObserveAttributeFetch(time.Since(start))
	return res
}

// Resolve returns the argument value converted to its declared type.
func (res *Resolved) Resolve(arg alarms.Argument, snap alarms.Snapshot) (alarms.Value, bool) {
	switch arg.Source {
	case alarms.SourceConstant:
		if arg.Value == nil {
			return alarms.Value{}, false
		}
		return arg.Value.As(arg.Type)
	case alarms.SourceMessage:
		if entry, ok := snap.Lookup(arg.Key); ok {
			if v, ok := entry.Value.As(arg.Type); ok {
				return v, true
			}
		}
	case alarms.SourceAttribute, alarms.SourceTimeSeries:
		key := alarms.Key{Type: arg.KeyType(), Name: arg.Key}
		for _, level := range levels(arg) {
			if res.chain[level].IsZero() {
				continue
			}
			if level == 0 {
				if entry, ok := snap.Get(key); ok {
					if v, ok := entry.Value.As(arg.Type); ok {
						return v, true
					}
					continue
				}
				if snap.Deleted(key) {
					continue
				}
			}
			if entry, ok := res.values[fetchKey{level: level, typ: key.Type, name: key.Name}]; ok {
				if v, ok := entry.Value.As(arg.Type); ok {
					return v, true
				}
			}
		}
	}
	if arg.Default != nil {
		return arg.Default.As(arg.Type)
	}
	return alarms.Value{}, false
}

// levels lists the chain positions an argument may read, in lookup order.
func levels(arg alarms.Argument) []int {
	first := arg.Scope.Level()
	if !arg.Inherit {
		return []int{first}
	}
	out := make([]int, 0, 3-first)
	for l := first; l < 3; l++ {
		out = append(out, l)
	}
	return out
}

// operands binds resolved values to one rule for the evaluator.
type operands struct {
	rule  *alarms.AlarmRule
	res   *Resolved
	snap  alarms.Snapshot
	cache map[string]resolvedValue
}

type resolvedValue struct {
	value alarms.Value
	ok    bool
}

func (res *Resolved) operands(rule *alarms.AlarmRule, snap alarms.Snapshot) *operands {
	return &operands{rule: rule, res: res, snap: snap, cache: make(map[string]resolvedValue)}
}

func (o *operands) Value(argID string) (alarms.Value, bool) {
	if cached, ok := o.cache[argID]; ok {
		return cached.value, cached.ok
	}
	arg, ok := o.rule.Arguments[argID]
	if !ok {
		return alarms.Value{}, false
	}
	v, ok := o.res.Resolve(arg, o.snap)
	o.cache[argID] = resolvedValue{value: v, ok: ok}
	return v, ok
}

func (o *operands) Updated(argID string) bool {
	arg, ok := o.rule.Arguments[argID]
	if !ok {
		return false
	}
	switch arg.Source {
	case alarms.SourceMessage:
		return o.snap.Has(arg.Key)
	case alarms.SourceAttribute, alarms.SourceTimeSeries:
		if arg.Scope.Level() != 0 {
			return false
		}
		_, ok := o.snap.Get(alarms.Key{Type: arg.KeyType(), Name: arg.Key})
		return ok
	default:
		return false
	}
}

// threshold resolves a spec threshold, falling back to the spec default.
func (o *operands) threshold(spec alarms.Spec) alarms.Threshold {
	amount := spec.Default
	if spec.ArgID != "" {
		if v, ok := o.Value(spec.ArgID); ok && v.Num > 0 {
			amount = v.Num
		}
	}
	if spec.Type.Timed() {
		return alarms.Threshold{Duration: spec.Unit.Duration(amount)}
	}
	return alarms.Threshold{Count: int64(amount)}
}

// schedule returns the effective schedule, preferring a dynamic override.
func (o *operands) schedule(logger *zap.Logger) *alarms.Schedule {
	static := o.rule.Schedule
	if static == nil || static.ArgID == "" {
		return static
	}
	v, ok := o.Value(static.ArgID)
	if !ok || v.Str == "" {
		return static
	}
	dynamic, err := alarms.ParseSchedule(v.Str)
	if err != nil {
		logger.Debug("dynamic schedule ignored", zap.String("rule_id", o.rule.ID), zap.Error(err))
		return static
	}
	return &dynamic
}
