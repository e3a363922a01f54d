package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/relaychat/pkg/models"
)

// PostgresStore persists threads and messages in Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, title, created_at, updated_at
        FROM threads WHERE id=$1
    `, id)
	var t models.Thread
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, t *models.Thread) error {
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO threads (id, user_id, title)
        VALUES ($1,$2,$3)
        RETURNING created_at, updated_at
    `, t.ID, t.UserID, t.Title).Scan(&createdAt, &updatedAt)
	if err != nil {
		return err
	}
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET updated_at=$1 WHERE id=$2`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateThreadTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE threads SET title=$1, updated_at=now() WHERE id=$2
    `, title, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, userID int64) ([]*models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, title, created_at, updated_at
        FROM threads WHERE user_id=$1 ORDER BY updated_at DESC LIMIT 200
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	// Always return a non-nil slice so JSON encodes as [] instead of null
	out := make([]*models.Thread, 0)
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m *models.Message) error {
	var partsJSON []byte
	var err error
	if m.Parts != nil {
		partsJSON, err = json.Marshal(m.Parts)
		if err != nil {
			return err
		}
	}
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO messages (id, thread_id, role, model, content, parts)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING created_at
    `, m.ID, m.ThreadID, string(m.Role), m.Model, m.Content, nullIfEmptyJSON(partsJSON)).Scan(&createdAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateMessage
		}
		return err
	}
	m.CreatedAt = createdAt
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, thread_id, role, coalesce(model,''), content, parts, created_at
        FROM messages WHERE thread_id=$1 ORDER BY created_at ASC, id ASC
    `, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*models.Message, error) {
	var m models.Message
	var role string
	var partsJSON sql.NullString
	if err := scanner.Scan(&m.ID, &m.ThreadID, &role, &m.Model, &m.Content, &partsJSON, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	if partsJSON.Valid && partsJSON.String != "" {
		if err := json.Unmarshal([]byte(partsJSON.String), &m.Parts); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func nullIfEmptyJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
