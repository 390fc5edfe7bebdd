package redis

import (
	"context"
	"testing"
	"time"

	"lesson-flow-service/internal/domain"
	"lesson-flow-service/internal/infra/memory"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestContentCacheCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	renderer := &countingRenderer{SlideRenderer: memory.StaticRenderer{}}
	cache := NewContentCache(client, renderer, time.Minute)

	slide := domain.Slide{Number: 2, Content: "Equivalent fractions."}

	content, err := cache.SlideContent(context.Background(), "lesson-1", slide, false)
	if err != nil {
		t.Fatalf("slide content: %v", err)
	}
	if content.Markup != slide.Content {
		t.Fatalf("unexpected markup %q", content.Markup)
	}
	if renderer.calls != 1 {
		t.Fatalf("expected renderer called once, got %d", renderer.calls)
	}

	// Second call should hit the Redis hash, renderer not incremented.
	_, _ = cache.SlideContent(context.Background(), "lesson-1", slide, false)
	if renderer.calls != 1 {
		t.Fatalf("expected cache hit, renderer calls=%d", renderer.calls)
	}

	if got := mr.HGet("lesson:lesson-1:slides", "2"); got != slide.Content {
		t.Fatalf("expected markup in redis hash, got %q", got)
	}
}

func TestContentCacheRendersNarrationOnUpgrade(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	renderer := &countingRenderer{SlideRenderer: memory.StaticRenderer{}}
	cache := NewContentCache(client, renderer, time.Minute)

	slide := domain.Slide{Number: 1, Content: "Intro"}

	if _, err := cache.SlideContent(context.Background(), "lesson-1", slide, false); err != nil {
		t.Fatalf("without narration: %v", err)
	}

	// Markup alone is not enough when narration is requested.
	content, err := cache.SlideContent(context.Background(), "lesson-1", slide, true)
	if err != nil {
		t.Fatalf("with narration: %v", err)
	}
	if content.NarrationURL == "" {
		t.Fatalf("expected narration url")
	}
	if renderer.calls != 2 {
		t.Fatalf("expected re-render for narration, got %d calls", renderer.calls)
	}

	// Narration is now cached alongside the markup.
	_, _ = cache.SlideContent(context.Background(), "lesson-1", slide, true)
	if renderer.calls != 2 {
		t.Fatalf("expected cache hit, renderer calls=%d", renderer.calls)
	}
}

type countingRenderer struct {
	memory.SlideRenderer
	calls int
}

func (r *countingRenderer) RenderSlide(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error) {
	r.calls++
	return r.SlideRenderer.RenderSlide(ctx, lessonID, slide, narration)
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
