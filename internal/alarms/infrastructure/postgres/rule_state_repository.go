package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
)

// AlarmRuleStateRepository persists condition states per entity and rule.
type AlarmRuleStateRepository struct {
	db *sql.DB
}

// NewAlarmRuleStateRepository constructs a repository.
func NewAlarmRuleStateRepository(db *sql.DB) *AlarmRuleStateRepository {
	return &AlarmRuleStateRepository{db: db}
}

// Load fetches the stored states, or nil when none exist.
func (r *AlarmRuleStateRepository) Load(ctx context.Context, entity alarms.EntityID, ruleID string) (map[string]alarms.ConditionState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm state repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT states
FROM alarm_rule_states
WHERE entity_type = $1 AND entity_id = $2 AND rule_id = $3`, string(entity.Type), entity.ID, ruleID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var states map[string]alarms.ConditionState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// Save inserts or replaces the stored states.
func (r *AlarmRuleStateRepository) Save(ctx context.Context, entity alarms.EntityID, ruleID string, states map[string]alarms.ConditionState) error {
	if r == nil || r.db == nil {
		return errors.New("alarm state repo: nil db")
	}
	raw, err := json.Marshal(states)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alarm_rule_states (entity_type, entity_id, rule_id, states, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (entity_type, entity_id, rule_id)
DO UPDATE SET
	states = EXCLUDED.states,
	updated_at = EXCLUDED.updated_at`,
		string(entity.Type), entity.ID, ruleID, raw, time.Now().UTC())
	return err
}

// Delete removes the stored states.
func (r *AlarmRuleStateRepository) Delete(ctx context.Context, entity alarms.EntityID, ruleID string) error {
	if r == nil || r.db == nil {
		return errors.New("alarm state repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM alarm_rule_states
WHERE entity_type = $1 AND entity_id = $2 AND rule_id = $3`, string(entity.Type), entity.ID, ruleID)
	return err
}
