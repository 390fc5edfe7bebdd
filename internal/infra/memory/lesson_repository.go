package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// LessonLoader fetches lesson metadata from a backing store (e.g., Postgres).
type LessonLoader interface {
	LoadLesson(ctx context.Context, lessonID string) (domain.Lesson, error)
}

// LessonRepository caches lessons with TTL to avoid repeated DB hits.
type LessonRepository struct {
	loader LessonLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedLesson
}

type cachedLesson struct {
	lesson    domain.Lesson
	expiresAt time.Time
}

var _ app.LessonRepository = (*LessonRepository)(nil)

func NewLessonRepository(loader LessonLoader, ttl time.Duration) *LessonRepository {
	return &LessonRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedLesson),
	}
}

func (r *LessonRepository) GetLesson(ctx context.Context, lessonID string) (domain.Lesson, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[lessonID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.lesson, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(lessonID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[lessonID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.lesson, nil
		}
		r.mu.RUnlock()

		lesson, err := r.loader.LoadLesson(ctx, lessonID)
		if err != nil {
			return domain.Lesson{}, err
		}

		r.mu.Lock()
		r.cache[lessonID] = cachedLesson{
			lesson:    lesson,
			expiresAt: now.Add(r.lessonTTLWithJitter()),
		}
		r.mu.Unlock()
		return lesson, nil
	})
	if err != nil {
		return domain.Lesson{}, err
	}
	return result.(domain.Lesson), nil
}

func (r *LessonRepository) lessonTTLWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticLessonLoader is a simple loader backed by an in-memory map (useful
// for tests/demos).
type StaticLessonLoader struct {
	lessons map[string]domain.Lesson
}

func NewStaticLessonLoader(lessons map[string]domain.Lesson) *StaticLessonLoader {
	return &StaticLessonLoader{lessons: lessons}
}

func (l *StaticLessonLoader) LoadLesson(_ context.Context, lessonID string) (domain.Lesson, error) {
	if lesson, ok := l.lessons[lessonID]; ok {
		return lesson, nil
	}
	return domain.Lesson{}, domain.ErrLessonNotFound
}
