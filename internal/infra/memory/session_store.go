package memory

import (
	"context"
	"sync"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	"github.com/google/uuid"
)

// SessionStore is an in-memory implementation of the session collaborator.
// It keeps one open record per (user, lesson); closing a session makes room
// for a fresh one on the next start.
type SessionStore struct {
	mu      sync.Mutex
	byKey   map[string]string
	records map[string]*domain.SessionRecord
}

var _ app.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byKey:   make(map[string]string),
		records: make(map[string]*domain.SessionRecord),
	}
}

func (s *SessionStore) GetOrCreate(_ context.Context, userID, lessonID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "|" + lessonID
	if id, ok := s.byKey[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.byKey[key] = id
	s.records[id] = &domain.SessionRecord{
		ID:        id,
		UserID:    userID,
		LessonID:  lessonID,
		StartedAt: time.Now(),
	}
	return id, nil
}

func (s *SessionStore) UpdatePosition(_ context.Context, sessionID string, slideNumber, totalSlides int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok {
		rec.SlideNumber = slideNumber
		rec.TotalSlides = totalSlides
	}
	return nil
}

func (s *SessionStore) AppendMessage(_ context.Context, sessionID string, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[sessionID]; ok {
		rec.Messages = append(rec.Messages, msg)
	}
	return nil
}

func (s *SessionStore) Close(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ClosedAt = &now
	delete(s.byKey, rec.UserID+"|"+rec.LessonID)
	return nil
}

// Record returns a copy of a session record, for tests.
func (s *SessionStore) Record(sessionID string) (domain.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return domain.SessionRecord{}, false
	}
	return *rec, true
}
