package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/audit"
)

// AlarmRuleRepository is a Postgres repository for alarm rules. The rule body
// is stored as JSONB next to the columns used for filtering.
type AlarmRuleRepository struct {
	db    *sql.DB
	audit audit.Logger
}

// NewAlarmRuleRepository constructs a repository.
func NewAlarmRuleRepository(db *sql.DB) *AlarmRuleRepository {
	repo := &AlarmRuleRepository{db: db}
	if auditRepo := audit.NewRepository(db); auditRepo != nil {
		repo.audit = auditRepo
	}
	return repo
}

// Upsert validates and stores a rule, bumping its version.
func (r *AlarmRuleRepository) Upsert(ctx context.Context, rule *alarms.AlarmRule) error {
	if r == nil || r.db == nil {
		return errors.New("alarm rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alarm rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	definition, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("alarm rule repo: encode: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
INSERT INTO alarm_rules (id, tenant_id, name, definition, enabled, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
ON CONFLICT (id)
DO UPDATE SET
	tenant_id = EXCLUDED.tenant_id,
	name = EXCLUDED.name,
	definition = EXCLUDED.definition,
	enabled = EXCLUDED.enabled,
	version = alarm_rules.version + 1,
	updated_at = EXCLUDED.updated_at
RETURNING version`, rule.ID, rule.TenantID, rule.Name, definition, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err := row.Scan(&rule.Version); err != nil {
		return err
	}
	r.logAudit(ctx, rule)
	return nil
}

// GetByID loads a rule by id.
func (r *AlarmRuleRepository) GetByID(ctx context.Context, tenantID, ruleID string) (*alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	if tenantID == "" || ruleID == "" {
		return nil, errors.New("alarm rule repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT definition, enabled, version, created_at, updated_at
FROM alarm_rules
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, tenantID, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// ListEnabled returns every enabled rule.
func (r *AlarmRuleRepository) ListEnabled(ctx context.Context) ([]alarms.AlarmRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT definition, enabled, version, created_at, updated_at
FROM alarm_rules
WHERE enabled = TRUE
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.AlarmRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*alarms.AlarmRule, error) {
	var definition []byte
	var enabled bool
	var version int64
	var createdAt, updatedAt time.Time
	if err := row.Scan(&definition, &enabled, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var rule alarms.AlarmRule
	if err := json.Unmarshal(definition, &rule); err != nil {
		return nil, fmt.Errorf("alarm rule repo: decode: %w", err)
	}
	rule.Enabled = enabled
	rule.Version = version
	rule.CreatedAt = createdAt.UTC()
	rule.UpdatedAt = updatedAt.UTC()
	return &rule, nil
}

func (r *AlarmRuleRepository) logAudit(ctx context.Context, rule *alarms.AlarmRule) {
	if r.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"name":       rule.Name,
		"alarm_type": rule.Type(),
		"enabled":    rule.Enabled,
		"version":    rule.Version,
	})
	_ = r.audit.Log(ctx, audit.FromContext(ctx, audit.Entry{
		TenantID:     rule.TenantID,
		Action:       "alarm_rule.upsert",
		ResourceType: "alarm_rule",
		ResourceID:   rule.ID,
		Metadata:     meta,
	}))
}
