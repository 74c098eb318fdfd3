package audit

import "context"

// Store appends and reads audit records. Records are never updated or
// deleted.
type Store interface {
	Insert(ctx context.Context, r *Record) (*Record, error)
	ListRecent(ctx context.Context, targetType string, targetID int64, limit int) ([]*Record, error)
}
