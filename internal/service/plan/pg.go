package plan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

const planColumns = `id, name, description, price, currency, billing_cycle_days,
                 features, is_active, is_visible, display_order, created_at, updated_at`

// PGStore is the PostgreSQL plan catalog.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1 AND is_active = true`

	p, err := s.scanRow(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get plan")
	}

	return p, nil
}

func (s *PGStore) GetAny(ctx context.Context, id string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`

	p, err := s.scanRow(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get plan")
	}

	return p, nil
}

func (s *PGStore) ListVisible(ctx context.Context) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans
	          WHERE is_active = true AND is_visible = true
	          ORDER BY display_order ASC, price ASC`

	return s.list(ctx, query)
}

func (s *PGStore) ListAll(ctx context.Context) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans ORDER BY display_order ASC, price ASC`

	return s.list(ctx, query)
}

func (s *PGStore) Create(ctx context.Context, p *Plan) (*Plan, error) {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal plan features")
	}

	query := `INSERT INTO subscription_plans
	          (id, name, description, price, currency, billing_cycle_days, features, is_active, is_visible, display_order, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	          RETURNING ` + planColumns

	created, err := s.scanRow(s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.Currency, p.BillingCycleDays,
		features, p.IsActive, p.IsVisible, p.DisplayOrder, time.Now(),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create plan")
	}

	return created, nil
}

func (s *PGStore) Update(ctx context.Context, p *Plan) (*Plan, error) {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal plan features")
	}

	query := `UPDATE subscription_plans SET
	          name = $2, description = $3, price = $4, currency = $5, billing_cycle_days = $6,
	          features = $7, is_active = $8, is_visible = $9, display_order = $10, updated_at = $11
	          WHERE id = $1
	          RETURNING ` + planColumns

	updated, err := s.scanRow(s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.Currency, p.BillingCycleDays,
		features, p.IsActive, p.IsVisible, p.DisplayOrder, time.Now(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to update plan")
	}

	return updated, nil
}

func (s *PGStore) list(ctx context.Context, query string) ([]*Plan, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list plans")
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := s.scanRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan plan")
		}
		plans = append(plans, p)
	}

	return plans, rows.Err()
}

func (s *PGStore) scanRow(row pgx.Row) (*Plan, error) {
	var (
		p        Plan
		features pgtype.JSONB
	)

	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Currency, &p.BillingCycleDays,
		&features, &p.IsActive, &p.IsVisible, &p.DisplayOrder, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if features.Status == pgtype.Present {
		if err := json.Unmarshal(features.Bytes, &p.Features); err != nil {
			return nil, errors.Wrap(err, "unable to unmarshal plan features")
		}
	}

	return &p, nil
}
