package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

const alarmColumns = `id, tenant_id, type, rule_id, originator_type, originator_id, severity, status,
	acknowledged, propagation, details, start_at, end_at, acked_at, cleared_at, created_at, updated_at`

// AlarmRepository is a Postgres repository for alarms.
type AlarmRepository struct {
	db *sql.DB
}

// NewAlarmRepository constructs a repository.
func NewAlarmRepository(db *sql.DB) *AlarmRepository {
	return &AlarmRepository{db: db}
}

// CreateOrUpdateActive creates the active alarm for the originator and type, or
// updates its severity and details. The partial unique index on active alarms
// serializes concurrent creators.
func (r *AlarmRepository) CreateOrUpdateActive(ctx context.Context, req application.AlarmRequest) (application.AlarmResult, error) {
	if r == nil || r.db == nil {
		return application.AlarmResult{}, errors.New("alarm repo: nil db")
	}
	if req.Rule == nil || req.TenantID == "" || req.Originator.IsZero() {
		return application.AlarmResult{}, errors.New("alarm repo: missing fields")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return application.AlarmResult{}, err
	}
	defer tx.Rollback()

	result, err := r.upsertActive(ctx, tx, req)
	if err != nil {
		return application.AlarmResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return application.AlarmResult{}, err
	}
	return result, nil
}

func (r *AlarmRepository) upsertActive(ctx context.Context, tx *sql.Tx, req application.AlarmRequest) (application.AlarmResult, error) {
	at := req.At.UTC()
	alarmType := req.Rule.Type()
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := scanAlarm(tx.QueryRowContext(ctx, `
SELECT `+alarmColumns+`
FROM alarms
WHERE originator_type = $1 AND originator_id = $2 AND type = $3 AND status = $4
FOR UPDATE`, string(req.Originator.Type), req.Originator.ID, alarmType, alarms.StatusActive))
		if err != nil {
			return application.AlarmResult{}, err
		}
		if existing != nil {
			changed := existing.Severity != req.Severity
			details := existing.Details
			if len(req.Details) > 0 {
				details = req.Details
			}
			updated, err := scanAlarm(tx.QueryRowContext(ctx, `
UPDATE alarms
SET severity = $1, details = $2, end_at = $3, updated_at = $3
WHERE id = $4
RETURNING `+alarmColumns, string(req.Severity), nullableJSON(details), at, existing.ID))
			if err != nil {
				return application.AlarmResult{}, err
			}
			if updated == nil {
				return application.AlarmResult{}, alarms.ErrNotFound
			}
			return application.AlarmResult{Alarm: *updated, SeverityChanged: changed}, nil
		}

		propagation, err := json.Marshal(req.Rule.Propagation)
		if err != nil {
			return application.AlarmResult{}, err
		}
		created, err := scanAlarm(tx.QueryRowContext(ctx, `
INSERT INTO alarms (
	id, tenant_id, type, rule_id, originator_type, originator_id, severity, status,
	acknowledged, propagation, details, start_at, end_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	FALSE, $9, $10, $11, $11, $11, $11
)
ON CONFLICT DO NOTHING
RETURNING `+alarmColumns,
			uuid.NewString(),
			req.TenantID,
			alarmType,
			req.Rule.ID,
			string(req.Originator.Type),
			req.Originator.ID,
			string(req.Severity),
			alarms.StatusActive,
			propagation,
			nullableJSON(req.Details),
			at,
		))
		if err != nil {
			return application.AlarmResult{}, err
		}
		if created != nil {
			return application.AlarmResult{Alarm: *created, Created: true}, nil
		}
		// Lost the insert race; the next pass locks the winner's row.
	}
	return application.AlarmResult{}, fmt.Errorf("alarm repo: active alarm %s/%s contended", req.Originator, alarmType)
}

// ClearActive clears an active alarm. It returns nil when the alarm is unknown or already cleared.
func (r *AlarmRepository) ClearActive(ctx context.Context, alarmID string, at time.Time, details json.RawMessage) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	at = at.UTC()
	row := r.db.QueryRowContext(ctx, `
UPDATE alarms
SET status = $1, details = COALESCE($2, details), end_at = $3, cleared_at = $3, updated_at = $3
WHERE id = $4 AND status = $5
RETURNING `+alarmColumns, alarms.StatusCleared, nullableJSON(details), at, alarmID, alarms.StatusActive)
	return scanAlarm(row)
}

// FindActiveByOriginatorAndType returns the active alarm or nil.
func (r *AlarmRepository) FindActiveByOriginatorAndType(ctx context.Context, originator alarms.EntityID, alarmType string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if originator.IsZero() || alarmType == "" {
		return nil, errors.New("alarm repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alarmColumns+`
FROM alarms
WHERE originator_type = $1 AND originator_id = $2 AND type = $3 AND status = $4
LIMIT 1`, string(originator.Type), originator.ID, alarmType, alarms.StatusActive)
	return scanAlarm(row)
}

// GetByID fetches an alarm by id.
func (r *AlarmRepository) GetByID(ctx context.Context, id string) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alarmColumns+`
FROM alarms
WHERE id = $1`, id)
	return scanAlarm(row)
}

// ListActive lists the active alarms of an originator.
func (r *AlarmRepository) ListActive(ctx context.Context, tenantID string, originator alarms.EntityID) ([]alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	if tenantID == "" || originator.IsZero() {
		return nil, errors.New("alarm repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+alarmColumns+`
FROM alarms
WHERE tenant_id = $1 AND originator_type = $2 AND originator_id = $3 AND status = $4
ORDER BY start_at ASC`, tenantID, string(originator.Type), originator.ID, alarms.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Acknowledge marks an alarm acknowledged. Repeated calls keep the first ack time.
func (r *AlarmRepository) Acknowledge(ctx context.Context, id string, at time.Time) (*alarms.Alarm, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm repo: nil db")
	}
	at = at.UTC()
	row := r.db.QueryRowContext(ctx, `
UPDATE alarms
SET acknowledged = TRUE,
	acked_at = COALESCE(acked_at, $1),
	updated_at = CASE WHEN acknowledged THEN updated_at ELSE $1 END
WHERE id = $2
RETURNING `+alarmColumns, at, id)
	return scanAlarm(row)
}

func scanAlarm(row rowScanner) (*alarms.Alarm, error) {
	var alarm alarms.Alarm
	var originatorType, severity string
	var propagation, details []byte
	var endAt, ackedAt, clearedAt sql.NullTime
	if err := row.Scan(
		&alarm.ID,
		&alarm.TenantID,
		&alarm.Type,
		&alarm.RuleID,
		&originatorType,
		&alarm.Originator.ID,
		&severity,
		&alarm.Status,
		&alarm.Acknowledged,
		&propagation,
		&details,
		&alarm.StartAt,
		&endAt,
		&ackedAt,
		&clearedAt,
		&alarm.CreatedAt,
		&alarm.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alarm.Originator.Type = alarms.EntityType(originatorType)
	alarm.Severity = alarms.Severity(severity)
	if len(propagation) > 0 {
		if err := json.Unmarshal(propagation, &alarm.Propagation); err != nil {
			return nil, fmt.Errorf("alarm repo: decode propagation: %w", err)
		}
	}
	if len(details) > 0 {
		alarm.Details = json.RawMessage(details)
	}
	alarm.StartAt = alarm.StartAt.UTC()
	alarm.CreatedAt = alarm.CreatedAt.UTC()
	alarm.UpdatedAt = alarm.UpdatedAt.UTC()
	if endAt.Valid {
		alarm.EndAt = endAt.Time.UTC()
	}
	if ackedAt.Valid {
		alarm.AckedAt = ackedAt.Time.UTC()
	}
	if clearedAt.Valid {
		alarm.ClearedAt = clearedAt.Time.UTC()
	}
	return &alarm, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
