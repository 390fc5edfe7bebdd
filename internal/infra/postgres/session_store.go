package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// SessionStore persists lesson sessions in Postgres. One open session exists
// per (user, lesson); Close stamps closed_at so a later start opens a new row.
type SessionStore struct {
	pool *pgxpool.Pool
}

var _ app.SessionStore = (*SessionStore)(nil)

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) GetOrCreate(ctx context.Context, userID, lessonID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM lesson_sessions WHERE user_id=$1 AND lesson_id=$2 AND closed_at IS NULL`,
		userID, lessonID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("find session: %w", err)
	}

	id = uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO lesson_sessions (id, user_id, lesson_id, messages, started_at)
		 VALUES ($1, $2, $3, '[]'::jsonb, now())`,
		id, userID, lessonID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *SessionStore) UpdatePosition(ctx context.Context, sessionID string, slideNumber, totalSlides int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE lesson_sessions SET slide_number=$2, total_slides=$3 WHERE id=$1`,
		sessionID, slideNumber, totalSlides)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return nil
}

func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE lesson_sessions SET messages = messages || $2::jsonb WHERE id=$1`,
		sessionID, raw)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SessionStore) Close(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE lesson_sessions SET closed_at=now() WHERE id=$1 AND closed_at IS NULL`,
		sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
