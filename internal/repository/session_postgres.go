package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const sessionColumns = `id, user_id, title, is_active, message_count, created_at, updated_at`

// SessionPostgres keeps the session registry in PostgreSQL.
type SessionPostgres struct {
	db *pgxpool.Pool
}

func NewSessionPostgres(db *pgxpool.Pool) *SessionPostgres {
	return &SessionPostgres{
		db: db,
	}
}

func (r *SessionPostgres) Create(ctx context.Context, s entity.ChatSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.Title, s.IsActive, s.MessageCount, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return entity.ErrSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Touch registers activity on a session, creating the row the first time a
// session is seen. An existing title is kept.
func (r *SessionPostgres) Touch(ctx context.Context, s entity.ChatSession, addedMessages int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, TRUE, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			message_count = chat_sessions.message_count + EXCLUDED.message_count,
			is_active     = TRUE,
			title         = CASE WHEN chat_sessions.title = '' THEN EXCLUDED.title ELSE chat_sessions.title END,
			updated_at    = EXCLUDED.updated_at`,
		s.ID, s.UserID, s.Title, addedMessages, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *SessionPostgres) Get(ctx context.Context, sessionID string) (entity.ChatSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ChatSession{}, entity.ErrSessionNotFound
	}
	if err != nil {
		return entity.ChatSession{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListByUser returns the most recently active sessions first.
func (r *SessionPostgres) ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.ChatSession, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []entity.ChatSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

func (r *SessionPostgres) Delete(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrSessionNotFound
	}
	return nil
}

func (r *SessionPostgres) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanSession(row pgx.Row) (entity.ChatSession, error) {
	var s entity.ChatSession
	err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.IsActive, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return entity.ChatSession{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
