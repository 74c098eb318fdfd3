package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

const auditColumns = `id, action, actor_id, actor_name, target_type, target_id, details, created_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, r *Record) (*Record, error) {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal audit details")
	}

	query := `INSERT INTO audit_log (action, actor_id, actor_name, target_type, target_id, details, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING ` + auditColumns

	created, err := scanRecord(s.db.QueryRow(ctx, query,
		r.Action, r.ActorID, r.ActorName, r.TargetType, r.TargetID, details, r.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "unable to insert audit record")
	}

	return created, nil
}

func (s *PGStore) ListRecent(ctx context.Context, targetType string, targetID int64, limit int) ([]*Record, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log
	          WHERE target_type = $1 AND target_id = $2
	          ORDER BY created_at DESC
	          LIMIT $3`

	rows, err := s.db.Query(ctx, query, targetType, targetID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list audit records")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan audit record")
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r       Record
		details pgtype.JSONB
	)

	err := row.Scan(
		&r.ID, &r.Action, &r.ActorID, &r.ActorName,
		&r.TargetType, &r.TargetID, &details, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if details.Status == pgtype.Present {
		if err := json.Unmarshal(details.Bytes, &r.Details); err != nil {
			return nil, errors.Wrap(err, "unable to unmarshal audit details")
		}
	}

	return &r, nil
}
