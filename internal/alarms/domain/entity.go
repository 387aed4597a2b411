package alarms

import "errors"

// EntityType names the kind of platform entity.
type EntityType string

const (
	EntityDevice   EntityType = "DEVICE"
	EntityAsset    EntityType = "ASSET"
	EntityCustomer EntityType = "CUSTOMER"
	EntityTenant   EntityType = "TENANT"
)

// Valid returns true when the entity type is supported.
func (t EntityType) Valid() bool {
	switch t {
	case EntityDevice, EntityAsset, EntityCustomer, EntityTenant:
		return true
	default:
		return false
	}
}

// EntityID identifies an entity.
type EntityID struct {
	Type EntityType `json:"entityType" yaml:"entityType"`
	ID   string     `json:"id" yaml:"id"`
}

// IsZero reports whether the id is unset.
func (e EntityID) IsZero() bool { return e.ID == "" }

func (e EntityID) String() string {
	if e.ID == "" {
		return ""
	}
	return string(e.Type) + ":" + e.ID
}

// Validate checks the entity id.
func (e EntityID) Validate() error {
	if e.ID == "" {
		return errors.New("entity: empty id")
	}
	if !e.Type.Valid() {
		return errors.New("entity: invalid type")
	}
	return nil
}
