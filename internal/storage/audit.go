package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/rs/zerolog/log"
)

// AppendAudit writes one audit entry
func (q *Queries) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	detail := "{}"
	if len(e.Detail) > 0 {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
		detail = string(b)
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, target_type, target_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.ActorID, e.Action, e.TargetType, e.TargetID, detail, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, optionally for one action
func (q *Queries) ListAudit(ctx context.Context, action string, limit int) ([]*models.AuditLogEntry, error) {
	query := `SELECT id, actor_id, action, target_type, target_id, detail, created_at FROM audit_log`
	args := []any{}
	if action != "" {
		query += ` WHERE action = $1`
		args = append(args, action)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	out := []*models.AuditLogEntry{}
	for rows.Next() {
		var (
			e      models.AuditLogEntry
			detail string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			log.Warn().Err(err).Str("audit_id", e.ID).Msg("Failed to decode audit detail")
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
