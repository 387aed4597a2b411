package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
)

// AttributeRepository reads and records the latest attribute and time-series values.
type AttributeRepository struct {
	db *sql.DB
}

// NewAttributeRepository constructs a repository.
func NewAttributeRepository(db *sql.DB) *AttributeRepository {
	return &AttributeRepository{db: db}
}

// GetLatest returns the stored values of the requested keys. Missing keys are absent.
func (r *AttributeRepository) GetLatest(ctx context.Context, entity alarms.EntityID, keyType alarms.KeyType, keys []string) (map[string]alarms.Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("attribute repo: nil db")
	}
	out := make(map[string]alarms.Entry, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT key, value_type, num_value, str_value, bool_value, ts
FROM entity_attributes
WHERE entity_type = $1 AND entity_id = $2 AND key_type = $3 AND key = ANY($4)`,
		string(entity.Type), entity.ID, string(keyType), keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key, valueType string
		var num sql.NullFloat64
		var str sql.NullString
		var flag sql.NullBool
		var ts time.Time
		if err := rows.Scan(&key, &valueType, &num, &str, &flag, &ts); err != nil {
			return nil, err
		}
		var value alarms.Value
		switch alarms.ValueType(valueType) {
		case alarms.ValueNumeric:
			value = alarms.Number(num.Float64)
		case alarms.ValueBoolean:
			value = alarms.Boolean(flag.Bool)
		default:
			value = alarms.String(str.String)
		}
		out[key] = alarms.Entry{Value: value, TS: ts.UTC()}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Record stores the values carried by a snapshot and removes its deleted keys.
// Older values never overwrite newer ones.
func (r *AttributeRepository) Record(ctx context.Context, entity alarms.EntityID, snap alarms.Snapshot) error {
	if r == nil || r.db == nil {
		return errors.New("attribute repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, entry := range snap.Entries() {
		var num sql.NullFloat64
		var str sql.NullString
		var flag sql.NullBool
		switch entry.Value.Type {
		case alarms.ValueNumeric:
			num = sql.NullFloat64{Float64: entry.Value.Num, Valid: true}
		case alarms.ValueBoolean:
			flag = sql.NullBool{Bool: entry.Value.Bool, Valid: true}
		default:
			str = sql.NullString{String: entry.Value.Str, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO entity_attributes (entity_type, entity_id, key_type, key, value_type, num_value, str_value, bool_value, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (entity_type, entity_id, key_type, key)
DO UPDATE SET
	value_type = EXCLUDED.value_type,
	num_value = EXCLUDED.num_value,
	str_value = EXCLUDED.str_value,
	bool_value = EXCLUDED.bool_value,
	ts = EXCLUDED.ts
WHERE entity_attributes.ts <= EXCLUDED.ts`,
			string(entity.Type), entity.ID, string(key.Type), key.Name, string(entry.Value.Type),
			num, str, flag, entry.TS.UTC()); err != nil {
			return err
		}
	}
	for _, key := range snap.DeletedKeys() {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM entity_attributes
WHERE entity_type = $1 AND entity_id = $2 AND key_type = $3 AND key = $4`,
			string(entity.Type), entity.ID, string(key.Type), key.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}
