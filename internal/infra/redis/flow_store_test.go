package redis

import (
	"testing"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestFlowStoreTracksLiveness(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	store := NewFlowStore(client, time.Hour)

	lesson := domain.Lesson{
		ID:    "lesson-1",
		Title: "Fractions",
		Sections: []domain.Section{
			{ID: "sec-1", Title: "Basics", Slides: []domain.Slide{{Content: "Intro"}}},
		},
	}
	sections, total, err := app.BuildContentTree(lesson)
	if err != nil {
		t.Fatalf("build content tree: %v", err)
	}

	builds := 0
	build := func() *app.Flow {
		builds++
		return app.NewFlow("user-1", lesson.ID, "sess-1", lesson, sections, total,
			domain.PacingSettings{PlaybackSpeed: 1}, domain.FlowOptions{})
	}

	flow, created := store.GetOrCreate("user-1", "lesson-1", build)
	if !created {
		t.Fatalf("expected new flow")
	}
	if got, err := mr.Get("flow:live:user-1:lesson-1"); err != nil || got != flow.ID {
		t.Fatalf("expected liveness key with flow id, got %q err %v", got, err)
	}

	again, created := store.GetOrCreate("user-1", "lesson-1", build)
	if created || again != flow || builds != 1 {
		t.Fatalf("expected same flow without rebuild, created=%v builds=%d", created, builds)
	}

	store.Remove("user-1", "lesson-1")
	if _, ok := store.Get("user-1", "lesson-1"); ok {
		t.Fatalf("expected flow removed")
	}
	if mr.Exists("flow:live:user-1:lesson-1") {
		t.Fatalf("expected liveness key deleted")
	}
}
