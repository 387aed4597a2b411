package postgres

import (
	"context"
	"database/sql"
	"errors"

	alarms "alarm-engine/internal/alarms/domain"
)

// OwnershipRepository resolves entity owners and relations.
type OwnershipRepository struct {
	db *sql.DB
}

// NewOwnershipRepository constructs a repository.
func NewOwnershipRepository(db *sql.DB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

// CustomerOf returns the customer owning an entity, if any.
func (r *OwnershipRepository) CustomerOf(ctx context.Context, entity alarms.EntityID) (alarms.EntityID, bool, error) {
	if r == nil || r.db == nil {
		return alarms.EntityID{}, false, errors.New("ownership repo: nil db")
	}
	var customerID sql.NullString
	err := r.db.QueryRowContext(ctx, `
SELECT customer_id
FROM entity_owners
WHERE entity_type = $1 AND entity_id = $2`, string(entity.Type), entity.ID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return alarms.EntityID{}, false, nil
		}
		return alarms.EntityID{}, false, err
	}
	if !customerID.Valid || customerID.String == "" {
		return alarms.EntityID{}, false, nil
	}
	return alarms.EntityID{Type: alarms.EntityCustomer, ID: customerID.String}, true, nil
}

// TenantOf returns the tenant owning an entity.
func (r *OwnershipRepository) TenantOf(ctx context.Context, entity alarms.EntityID) (alarms.EntityID, error) {
	if r == nil || r.db == nil {
		return alarms.EntityID{}, errors.New("ownership repo: nil db")
	}
	var tenantID string
	err := r.db.QueryRowContext(ctx, `
SELECT tenant_id
FROM entity_owners
WHERE entity_type = $1 AND entity_id = $2`, string(entity.Type), entity.ID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return alarms.EntityID{}, alarms.ErrNotFound
		}
		return alarms.EntityID{}, err
	}
	return alarms.EntityID{Type: alarms.EntityTenant, ID: tenantID}, nil
}

// Assign records the owners of an entity. A zero customer unassigns it.
func (r *OwnershipRepository) Assign(ctx context.Context, entity, customer, tenant alarms.EntityID) error {
	if r == nil || r.db == nil {
		return errors.New("ownership repo: nil db")
	}
	var customerID sql.NullString
	if !customer.IsZero() {
		customerID = sql.NullString{String: customer.ID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO entity_owners (entity_type, entity_id, customer_id, tenant_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (entity_type, entity_id)
DO UPDATE SET customer_id = EXCLUDED.customer_id, tenant_id = EXCLUDED.tenant_id`,
		string(entity.Type), entity.ID, customerID, tenant.ID)
	return err
}

// Related returns entities related to from by relationType.
func (r *OwnershipRepository) Related(ctx context.Context, from alarms.EntityID, relationType string) ([]alarms.EntityID, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ownership repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT to_type, to_id
FROM entity_relations
WHERE from_type = $1 AND from_id = $2 AND relation_type = $3
ORDER BY created_at ASC, to_id ASC`, string(from.Type), from.ID, relationType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.EntityID
	for rows.Next() {
		var toType, toID string
		if err := rows.Scan(&toType, &toID); err != nil {
			return nil, err
		}
		result = append(result, alarms.EntityID{Type: alarms.EntityType(toType), ID: toID})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
