package quota

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

// PGLoadCounter counts loads from the loads table.
type PGLoadCounter struct {
	db *pgxpool.Pool
}

func NewPGLoadCounter(db *pgxpool.Pool) *PGLoadCounter {
	return &PGLoadCounter{db: db}
}

func (c *PGLoadCounter) CountSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := c.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM loads WHERE created_by = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "unable to count loads")
	}

	return count, nil
}

// MemoryLoadCounter is an in-memory LoadCounter used by unit tests.
type MemoryLoadCounter struct {
	mu    sync.Mutex
	loads map[int64][]time.Time
	err   error
}

func NewMemoryLoadCounter() *MemoryLoadCounter {
	return &MemoryLoadCounter{loads: make(map[int64][]time.Time)}
}

func (c *MemoryLoadCounter) Add(userID int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads[userID] = append(c.loads[userID], at)
}

// Fail makes every subsequent count return err.
func (c *MemoryLoadCounter) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *MemoryLoadCounter) CountSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return 0, c.err
	}

	var count int
	for _, at := range c.loads[userID] {
		if !at.Before(since) {
			count++
		}
	}

	return count, nil
}
