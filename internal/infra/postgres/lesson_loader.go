package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lesson-flow-service/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// LessonLoader loads lesson JSONB from Postgres.
type LessonLoader struct {
	pool *pgxpool.Pool
}

func NewLessonLoader(pool *pgxpool.Pool) *LessonLoader {
	return &LessonLoader{pool: pool}
}

func (l *LessonLoader) LoadLesson(ctx context.Context, lessonID string) (domain.Lesson, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM lessons WHERE id=$1`, lessonID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lesson{}, domain.ErrLessonNotFound
	}
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("load lesson: %w", err)
	}
	var lesson domain.Lesson
	if err := json.Unmarshal(raw, &lesson); err != nil {
		return domain.Lesson{}, fmt.Errorf("unmarshal lesson: %w", err)
	}
	if lesson.ID == "" {
		lesson.ID = lessonID
	}
	return lesson, nil
}
