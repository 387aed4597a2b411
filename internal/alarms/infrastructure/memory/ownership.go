package memory

import (
	"context"
	"sync"

	alarms "alarm-engine/internal/alarms/domain"
)

// Directory is an in-memory ownership and relation registry.
type Directory struct {
	mu        sync.RWMutex
	customers map[alarms.EntityID]alarms.EntityID
	tenants   map[alarms.EntityID]alarms.EntityID
	relations map[alarms.EntityID]map[string][]alarms.EntityID
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		customers: make(map[alarms.EntityID]alarms.EntityID),
		tenants:   make(map[alarms.EntityID]alarms.EntityID),
		relations: make(map[alarms.EntityID]map[string][]alarms.EntityID),
	}
}

// Assign records the owners of an entity. A zero customer unassigns it.
func (d *Directory) Assign(ctx context.Context, entity, customer, tenant alarms.EntityID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if customer.IsZero() {
		delete(d.customers, entity)
	} else {
		d.customers[entity] = customer
	}
	d.tenants[entity] = tenant
	return nil
}

// Relate adds a relation from one entity to another.
func (d *Directory) Relate(from alarms.EntityID, relationType string, to alarms.EntityID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byType := d.relations[from]
	if byType == nil {
		byType = make(map[string][]alarms.EntityID)
		d.relations[from] = byType
	}
	byType[relationType] = append(byType[relationType], to)
}

// CustomerOf returns the customer owning an entity.
func (d *Directory) CustomerOf(ctx context.Context, entity alarms.EntityID) (alarms.EntityID, bool, error) {
	if err := ctx.Err(); err != nil {
		return alarms.EntityID{}, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	customer, ok := d.customers[entity]
	return customer, ok, nil
}

// TenantOf returns the tenant owning an entity.
func (d *Directory) TenantOf(ctx context.Context, entity alarms.EntityID) (alarms.EntityID, error) {
	if err := ctx.Err(); err != nil {
		return alarms.EntityID{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	tenant, ok := d.tenants[entity]
	if !ok {
		return alarms.EntityID{}, alarms.ErrNotFound
	}
	return tenant, nil
}

// Related returns entities related to from by relationType.
func (d *Directory) Related(ctx context.Context, from alarms.EntityID, relationType string) ([]alarms.EntityID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]alarms.EntityID(nil), d.relations[from][relationType]...), nil
}
