// Package usage tracks per-user token consumption for free-tier gating.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/relaychat/pkg/models"
)

// ErrQuotaExceeded is returned by the quota check when the free-tier
// budget is spent and no caller key was supplied.
var ErrQuotaExceeded = errors.New("free limit reached")

// Meter is the consumption counter. Record must be atomic per user: two
// concurrent turns from the same user must not lose an increment.
type Meter interface {
	Usage(ctx context.Context, userID int64) (int64, error)
	Record(ctx context.Context, userID int64, tokens int64) error
}

// PostgresMeter stores counters in the usage table. The increment is a
// single upsert statement, so concurrent writers serialize at the row.
type PostgresMeter struct {
	db *sql.DB
}

func NewPostgresMeter(db *sql.DB) *PostgresMeter { return &PostgresMeter{db: db} }

func (m *PostgresMeter) Usage(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := m.db.QueryRowContext(ctx, `
        SELECT total_tokens FROM usage WHERE user_id=$1
    `, userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (m *PostgresMeter) Record(ctx context.Context, userID int64, tokens int64) error {
	_, err := m.db.ExecContext(ctx, `
        INSERT INTO usage (user_id, total_tokens, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (user_id)
        DO UPDATE SET total_tokens = usage.total_tokens + EXCLUDED.total_tokens,
                      updated_at = now()
    `, userID, tokens)
	return err
}

// Get returns the full record, for the usage endpoint.
func (m *PostgresMeter) Get(ctx context.Context, userID int64) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := m.db.QueryRowContext(ctx, `
        SELECT user_id, total_tokens, updated_at FROM usage WHERE user_id=$1
    `, userID).Scan(&rec.UserID, &rec.TotalTokens, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UsageRecord{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MemoryMeter is the in-memory Meter used by tests.
type MemoryMeter struct {
	mu     sync.Mutex
	totals map[int64]int64
}

func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{totals: map[int64]int64{}}
}

func (m *MemoryMeter) Usage(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[userID], nil
}

func (m *MemoryMeter) Record(ctx context.Context, userID int64, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[userID] += tokens
	return nil
}

func (m *MemoryMeter) Get(ctx context.Context, userID int64) (*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.UsageRecord{UserID: userID, TotalTokens: m.totals[userID], UpdatedAt: time.Now()}, nil
}
