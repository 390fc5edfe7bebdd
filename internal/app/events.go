package app

import (
	"time"

	"lesson-flow-service/internal/domain"
)

// PushChannel delivers events to connected clients. Implementations must not
// block: flow serializers emit while holding the flow's lock.
type PushChannel interface {
	SendToUser(userID string, event domain.Event)
	SendToRoom(lessonID string, event domain.Event)
}

// Emitter publishes typed flow events, scoped to the owning user and, for
// shared-room flows, broadcast to the lesson room. Subscriptions live with
// the transport connection, so there is no cross-user filtering to get wrong.
type Emitter struct {
	push PushChannel
	now  func() time.Time
}

func NewEmitter(push PushChannel) *Emitter {
	return &Emitter{push: push, now: time.Now}
}

func (e *Emitter) emit(f *Flow, name string, payload any) {
	ev := domain.Event{Name: name, Payload: payload, At: e.now()}
	e.push.SendToUser(f.UserID, ev)
	if f.SharedRoom {
		e.push.SendToRoom(f.LessonID, ev)
	}
}

func (e *Emitter) FlowStarted(f *Flow, resumed bool) {
	e.emit(f, domain.EventFlowStarted, domain.FlowStartedPayload{
		FlowID:      f.ID,
		LessonID:    f.LessonID,
		SessionID:   f.SessionID,
		Mode:        f.Mode,
		TotalSlides: f.TotalSlides,
		Resumed:     resumed,
	})
}

func (e *Emitter) SlideStarted(f *Flow, slideNumber, pointCount int) {
	e.emit(f, domain.EventSlideStarted, domain.SlideStartedPayload{
		SlideNumber: slideNumber,
		PointCount:  pointCount,
	})
}

func (e *Emitter) PointRevealed(f *Flow, slideNumber, pointIndex int, content string) {
	e.emit(f, domain.EventPointRevealed, domain.PointRevealedPayload{
		SlideNumber: slideNumber,
		PointIndex:  pointIndex,
		Content:     content,
	})
}

func (e *Emitter) SlideReady(f *Flow, slideNumber int, content domain.SlideContent, fullyRevealed bool) {
	e.emit(f, domain.EventSlideReady, domain.SlideReadyPayload{
		SlideNumber:   slideNumber,
		Markup:        content.Markup,
		NarrationURL:  content.NarrationURL,
		FullyRevealed: fullyRevealed,
	})
}

func (e *Emitter) SectionChanged(f *Flow, section *domain.Section) {
	e.emit(f, domain.EventSectionChanged, domain.SectionChangedPayload{
		SectionID: section.ID,
		Title:     section.Title,
	})
}

func (e *Emitter) Paused(f *Flow) {
	e.emit(f, domain.EventPresentationPaused, domain.PausePayload{
		SlideNumber: f.SlideIndex,
		PointIndex:  f.reveal.lastIndex,
	})
}

func (e *Emitter) Resumed(f *Flow) {
	e.emit(f, domain.EventPresentationResumed, domain.PausePayload{
		SlideNumber: f.SlideIndex,
		PointIndex:  f.reveal.lastIndex,
	})
}

func (e *Emitter) ActionDetected(f *Flow, action string, confidence float64) {
	e.emit(f, domain.EventActionDetected, domain.ActionDetectedPayload{
		Action:     action,
		Confidence: confidence,
	})
}

func (e *Emitter) SlideGenerated(f *Flow, slide domain.Slide, markup, reason string) {
	e.emit(f, domain.EventSlideGenerated, domain.SlideGeneratedPayload{
		Slide:  slide,
		Markup: markup,
		Reason: reason,
	})
}

func (e *Emitter) ComprehensionUpdated(f *Flow, level int) {
	e.emit(f, domain.EventComprehension, domain.ComprehensionPayload{Level: level})
}

func (e *Emitter) LessonCompleted(f *Flow, stats domain.FlowStats) {
	e.emit(f, domain.EventLessonCompleted, domain.LessonCompletedPayload{Stats: stats})
}

func (e *Emitter) Error(userID, code, message string) {
	ev := domain.Event{
		Name:    domain.EventError,
		Payload: domain.ErrorPayload{Code: code, Message: message},
		At:      e.now(),
	}
	e.push.SendToUser(userID, ev)
}
