package memory

import (
	"context"
	"testing"
	"time"

	"lesson-flow-service/internal/domain"
)

func TestContentCacheCaches(t *testing.T) {
	renderer := &countingRenderer{SlideRenderer: StaticRenderer{}}
	cache := NewContentCache(renderer, time.Minute)

	slide := domain.Slide{Number: 3, Content: "Fractions compare parts of a whole."}

	content, err := cache.SlideContent(context.Background(), "lesson-1", slide, false)
	if err != nil {
		t.Fatalf("slide content: %v", err)
	}
	if content.Markup != slide.Content {
		t.Fatalf("unexpected markup %q", content.Markup)
	}
	if renderer.calls != 1 {
		t.Fatalf("expected renderer once, got %d", renderer.calls)
	}

	if _, err := cache.SlideContent(context.Background(), "lesson-1", slide, false); err != nil {
		t.Fatalf("slide content 2: %v", err)
	}
	if renderer.calls != 1 {
		t.Fatalf("expected cache hit, renderer calls %d", renderer.calls)
	}
}

func TestContentCacheNarrationVariantIsSeparate(t *testing.T) {
	renderer := &countingRenderer{SlideRenderer: StaticRenderer{}}
	cache := NewContentCache(renderer, time.Minute)

	slide := domain.Slide{Number: 1, Content: "Intro"}

	if _, err := cache.SlideContent(context.Background(), "lesson-1", slide, false); err != nil {
		t.Fatalf("without narration: %v", err)
	}
	content, err := cache.SlideContent(context.Background(), "lesson-1", slide, true)
	if err != nil {
		t.Fatalf("with narration: %v", err)
	}
	if content.NarrationURL == "" {
		t.Fatalf("expected narration url")
	}
	if renderer.calls != 2 {
		t.Fatalf("expected one render per variant, got %d", renderer.calls)
	}
}

type countingRenderer struct {
	SlideRenderer
	calls int
}

func (r *countingRenderer) RenderSlide(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error) {
	r.calls++
	return r.SlideRenderer.RenderSlide(ctx, lessonID, slide, narration)
}
