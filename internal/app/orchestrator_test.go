package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"
	"lesson-flow-service/internal/infra/memory"

	"go.uber.org/zap"
)

// recordingPush captures everything the orchestrator emits, in order.
type recordingPush struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPush) SendToUser(_ string, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPush) SendToRoom(_ string, event domain.Event) {}

func (p *recordingPush) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Name
	}
	return out
}

func (p *recordingPush) byName(name string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPush) count(name string) int {
	return len(p.byName(name))
}

// waitFor polls until at least n events of the given name arrived.
func (p *recordingPush) waitFor(t *testing.T, name string, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.count(name) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, got %d (all: %v)", n, name, p.count(name), p.names())
}

func newTestOrchestrator(t *testing.T, lessons map[string]domain.Lesson, opts app.Options) (*app.Orchestrator, *recordingPush) {
	t.Helper()
	push := &recordingPush{}
	o := app.NewOrchestrator(
		memory.NewFlowStore(),
		memory.NewLessonRepository(memory.NewStaticLessonLoader(lessons), time.Minute),
		memory.NewContentCache(memory.StaticRenderer{}, time.Minute),
		memory.NewSessionStore(),
		memory.StaticGenerator{},
		push,
		zap.NewNop(),
		opts,
	)
	return o, push
}

func fractionsLesson() domain.Lesson {
	return domain.Lesson{
		ID:    "lesson-1",
		Title: "Introduction to Fractions",
		Sections: []domain.Section{
			{
				ID:       "sec-1",
				Title:    "What fractions are",
				Keywords: []string{"fraction", "numerator", "denominator"},
				Slides: []domain.Slide{
					{
						Content: "A fraction names part of a whole.",
						Points: []domain.RevealPoint{
							{Text: "The whole is divided into equal parts."},
							{Text: "A fraction counts some of those parts."},
							{Text: "Half means one of two equal parts."},
						},
					},
					{Content: "The numerator counts parts, the denominator sizes them."},
				},
			},
			{
				ID:       "sec-2",
				Title:    "Comparing fractions",
				Keywords: []string{"compare", "equivalent"},
				Slides: []domain.Slide{
					{Content: "Fractions with the same value are equivalent."},
				},
			},
		},
	}
}

func lessonMap() map[string]domain.Lesson {
	return map[string]domain.Lesson{"lesson-1": fractionsLesson()}
}

func TestStartOffersModeChoiceWhenUnset(t *testing.T) {
	o, push := newTestOrchestrator(t, lessonMap(), app.Options{})
	ctx := context.Background()

	result, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(result.Options) == 0 {
		t.Fatalf("expected mode options, got none")
	}
	if push.count(domain.EventSlideStarted) != 0 || push.count(domain.EventSlideReady) != 0 {
		t.Fatalf("no slide should be shown before a mode is picked: %v", push.names())
	}

	// Picking the first option starts presenting.
	reply, err := o.HandleMessage(ctx, "u1", "lesson-1", "1")
	if err != nil {
		t.Fatalf("choose mode: %v", err)
	}
	if reply.Action != "mode_selected" {
		t.Fatalf("expected mode_selected action, got %q", reply.Action)
	}
	if push.count(domain.EventSlideReady) == 0 {
		t.Fatalf("expected the first slide after mode selection: %v", push.names())
	}
}

func TestStartTwiceResumesSameFlow(t *testing.T) {
	o, push := newTestOrchestrator(t, lessonMap(), app.Options{})
	ctx := context.Background()

	first, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{Mode: domain.ModeSlidesOnly})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !second.Resumed {
		t.Fatalf("expected second start to resume")
	}
	if second.FlowID != first.FlowID {
		t.Fatalf("expected same flow, got %s and %s", first.FlowID, second.FlowID)
	}

	started := push.byName(domain.EventFlowStarted)
	if len(started) != 2 {
		t.Fatalf("expected two flow_started events, got %d", len(started))
	}
	if !started[1].Payload.(domain.FlowStartedPayload).Resumed {
		t.Fatalf("second flow_started should carry resumed=true")
	}
}

func TestResumeRepresentsCurrentSlide(t *testing.T) {
	on := true
	o, push := newTestOrchestrator(t, lessonMap(), app.Options{
		Defaults: domain.PacingSettings{RevealDelay: time.Hour, PlaybackSpeed: 1},
	})
	ctx := context.Background()

	if _, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{
		Mode:              domain.ModeInteractive,
		ProgressiveReveal: &on,
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := o.Navigate(ctx, "u1", "lesson-1", app.NavigateRequest{Direction: "next"}); err != nil {
		t.Fatalf("next: %v", err)
	}

	// A reconnect restarts the flow; the client must get the current slide
	// back, fully revealed, not a silent resume.
	before := push.count(domain.EventSlideReady)
	result, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !result.Resumed {
		t.Fatalf("expected a resumed start")
	}
	ready := push.byName(domain.EventSlideReady)
	if len(ready) != before+1 {
		t.Fatalf("expected one slide_ready on resume, got %d -> %d", before, len(ready))
	}
	last := ready[len(ready)-1].Payload.(domain.SlideReadyPayload)
	if last.SlideNumber != 1 || !last.FullyRevealed {
		t.Fatalf("resume should re-present slide 1 fully revealed, got %+v", last)
	}
}

func TestStartUnknownLessonEmitsError(t *testing.T) {
	o, push := newTestOrchestrator(t, lessonMap(), app.Options{})

	_, err := o.Start(context.Background(), "u1", "missing", domain.FlowOptions{})
	if !errors.Is(err, domain.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
	errs := push.byName(domain.EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	if code := errs[0].Payload.(domain.ErrorPayload).Code; code != "lesson_not_found" {
		t.Fatalf("expected lesson_not_found, got %s", code)
	}
}

func TestStartEmptyLessonRejected(t *testing.T) {
	lessons := map[string]domain.Lesson{
		"empty": {ID: "empty", Title: "Empty", Sections: []domain.Section{{ID: "s", Title: "S"}}},
	}
	o, push := newTestOrchestrator(t, lessons, app.Options{})

	_, err := o.Start(context.Background(), "u1", "empty", domain.FlowOptions{})
	if !errors.Is(err, domain.ErrEmptyLesson) {
		t.Fatalf("expected ErrEmptyLesson, got %v", err)
	}
	if push.count(domain.EventError) != 1 {
		t.Fatalf("expected an error event")
	}
	if _, ok := o.Get("u1", "empty"); ok {
		t.Fatalf("no flow should exist for a rejected start")
	}
}

func TestCompletionRemovesFlow(t *testing.T) {
	o, push := newTestOrchestrator(t, lessonMap(), app.Options{})
	ctx := context.Background()

	if _, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{Mode: domain.ModeSlidesOnly}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Three slides total: two advances land on the last, the third completes.
	for i := 0; i < 3; i++ {
		if err := o.Navigate(ctx, "u1", "lesson-1", app.NavigateRequest{Direction: "next"}); err != nil {
			t.Fatalf("navigate %d: %v", i, err)
		}
	}

	completed := push.byName(domain.EventLessonCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected one lesson_completed, got %d (%v)", len(completed), push.names())
	}
	stats := completed[0].Payload.(domain.LessonCompletedPayload).Stats
	if stats.SlidesViewed != 3 || stats.TotalSlides != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.EndedByRequest {
		t.Fatalf("natural completion should not be marked as ended by request")
	}
	if _, ok := o.Get("u1", "lesson-1"); ok {
		t.Fatalf("flow should be gone after completion")
	}

	// Operations on the completed flow now fail.
	if err := o.Navigate(ctx, "u1", "lesson-1", app.NavigateRequest{Direction: "next"}); !errors.Is(err, domain.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestEndByRequest(t *testing.T) {
	o, push := newTestOrchestrator(t, lessonMap(), app.Options{})
	ctx := context.Background()

	if _, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{Mode: domain.ModeChatOnly}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := o.End(ctx, "u1", "lesson-1", "student left"); err != nil {
		t.Fatalf("end: %v", err)
	}

	completed := push.byName(domain.EventLessonCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected lesson_completed, got %v", push.names())
	}
	if !completed[0].Payload.(domain.LessonCompletedPayload).Stats.EndedByRequest {
		t.Fatalf("expected ended-by-request stats")
	}
	if _, ok := o.Get("u1", "lesson-1"); ok {
		t.Fatalf("flow should be removed on end")
	}
}

func TestChangeSpeedValidation(t *testing.T) {
	o, _ := newTestOrchestrator(t, lessonMap(), app.Options{})
	ctx := context.Background()

	if _, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{Mode: domain.ModeSlidesOnly}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := o.ChangeSpeed("u1", "lesson-1", 0); !errors.Is(err, domain.ErrInvalidSpeed) {
		t.Fatalf("expected ErrInvalidSpeed, got %v", err)
	}
	if err := o.ChangeSpeed("u1", "lesson-1", 1.5); err != nil {
		t.Fatalf("change speed: %v", err)
	}
}

func TestConcurrentMessagesSerialized(t *testing.T) {
	o, _ := newTestOrchestrator(t, lessonMap(), app.Options{})
	ctx := context.Background()

	if _, err := o.Start(ctx, "u1", "lesson-1", domain.FlowOptions{Mode: domain.ModeChatOnly}); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.HandleMessage(ctx, "u1", "lesson-1", "what is a fraction?")
		}()
	}
	wg.Wait()

	flow, ok := o.Get("u1", "lesson-1")
	if !ok {
		t.Fatalf("flow missing")
	}
	// Every message went through the per-flow serializer; none was lost.
	if flow.Metrics.QuestionsAsked != 8 {
		t.Fatalf("expected 8 questions recorded, got %d", flow.Metrics.QuestionsAsked)
	}
}
