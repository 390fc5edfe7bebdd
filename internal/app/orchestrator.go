package app

import (
	"context"
	"errors"
	"fmt"

	"lesson-flow-service/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FlowRepository abstracts how live flows are stored (in-memory, Redis-marked).
// Exactly one flow exists per (userID, lessonID) at any time.
type FlowRepository interface {
	// GetOrCreate returns the live flow for the key, building it with the
	// callback when absent. The second result reports whether a flow was
	// created by this call.
	GetOrCreate(userID, lessonID string, build func() *Flow) (*Flow, bool)
	Get(userID, lessonID string) (*Flow, bool)
	Remove(userID, lessonID string)
}

// LessonRepository loads lesson metadata (from cache/backing store).
type LessonRepository interface {
	GetLesson(ctx context.Context, lessonID string) (domain.Lesson, error)
}

// ContentCache memoizes generated slide markup and narration by
// (lessonID, slideNumber) so re-visited slides are not regenerated.
type ContentCache interface {
	SlideContent(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error)
}

// Generator is the external content generator collaborator.
type Generator interface {
	Generate(ctx context.Context, kind domain.GenerationKind, gc domain.GenerationContext) (domain.GeneratedContent, error)
}

// SessionStore persists session position and chat history. All writes are
// best-effort: failures are logged and never affect in-memory correctness.
type SessionStore interface {
	GetOrCreate(ctx context.Context, userID, lessonID string) (string, error)
	UpdatePosition(ctx context.Context, sessionID string, slideNumber, totalSlides int) error
	AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error
	Close(ctx context.Context, sessionID string) error
}

// RelevanceClassifier judges whether a message concerns the current section.
type RelevanceClassifier interface {
	Relevant(ctx context.Context, message string, section *domain.Section) (bool, error)
}

// Orchestrator is the single entry point for lesson flows: start, message,
// navigate, control, speed, end. Per-flow serialization lives on the Flow
// itself; the orchestrator only routes to it.
type Orchestrator struct {
	flows     FlowRepository
	lessons   LessonRepository
	cache     ContentCache
	sessions  SessionStore
	generator Generator
	relevance RelevanceClassifier
	events    *Emitter

	defaults           domain.PacingSettings
	comprehensionEvery int
	logger             *zap.Logger
}

// Options tunes orchestrator defaults. Zero values fall back to sane ones.
type Options struct {
	Defaults           domain.PacingSettings
	ComprehensionEvery int
	Relevance          RelevanceClassifier
}

func NewOrchestrator(flows FlowRepository, lessons LessonRepository, cache ContentCache, sessions SessionStore, generator Generator, push PushChannel, logger *zap.Logger, opts Options) *Orchestrator {
	defaults := opts.Defaults
	if defaults.PlaybackSpeed <= 0 {
		defaults.PlaybackSpeed = 1.0
	}
	if defaults.RevealDelay <= 0 {
		defaults.RevealDelay = defaultRevealDelay
	}
	if defaults.AutoAdvanceGrace <= 0 {
		defaults.AutoAdvanceGrace = defaultAutoAdvanceGrace
	}
	every := opts.ComprehensionEvery
	if every <= 0 {
		every = 4
	}
	relevance := opts.Relevance
	if relevance == nil {
		relevance = KeywordRelevance{}
	}
	return &Orchestrator{
		flows:              flows,
		lessons:            lessons,
		cache:              cache,
		sessions:           sessions,
		generator:          generator,
		relevance:          relevance,
		events:             NewEmitter(push),
		defaults:           defaults,
		comprehensionEvery: every,
		logger:             logger,
	}
}

// StartResult reports what Start did, including the mode options offered
// when the caller did not pick a presentation mode up front.
type StartResult struct {
	FlowID      string                  `json:"flowId"`
	SessionID   string                  `json:"sessionId"`
	Mode        domain.PresentationMode `json:"mode,omitempty"`
	TotalSlides int                     `json:"totalSlides"`
	Resumed     bool                    `json:"resumed"`
	Options     []domain.ChoiceOption   `json:"options,omitempty"`
}

var modeOptions = []domain.ChoiceOption{
	{ID: string(domain.ModeInteractive), Label: "Interactive slides"},
	{ID: string(domain.ModeSlidesNarration), Label: "Slides with narration"},
	{ID: string(domain.ModeSlidesOnly), Label: "Slides only"},
	{ID: string(domain.ModeChatOnly), Label: "Chat only"},
}

// Start creates or resumes the flow for (userID, lessonID). A second start
// for a live pair collapses into resume: options are merged and no new flow
// is created.
func (o *Orchestrator) Start(ctx context.Context, userID, lessonID string, opts domain.FlowOptions) (StartResult, error) {
	lesson, err := o.lessons.GetLesson(ctx, lessonID)
	if err != nil {
		o.events.Error(userID, "lesson_not_found", err.Error())
		return StartResult{}, fmt.Errorf("start lesson %s: %w", lessonID, err)
	}
	sections, total, err := BuildContentTree(lesson)
	if err != nil {
		o.events.Error(userID, "empty_lesson", err.Error())
		return StartResult{}, err
	}
	lesson.Subject = ClassifySubject(lesson)

	sessionID, err := o.sessions.GetOrCreate(ctx, userID, lessonID)
	if err != nil {
		// Persistence is best-effort: fall back to a local session id.
		o.logger.Warn("session store unavailable", zap.String("user", userID), zap.Error(err))
		sessionID = uuid.NewString()
	}

	flow, created := o.flows.GetOrCreate(userID, lessonID, func() *Flow {
		return NewFlow(userID, lessonID, sessionID, lesson, sections, total, o.defaults, opts)
	})

	flow.mu.Lock()
	defer flow.mu.Unlock()

	if !created {
		flow.applyOptionsLocked(opts)
		o.events.FlowStarted(flow, true)
		result := StartResult{
			FlowID:      flow.ID,
			SessionID:   flow.SessionID,
			Mode:        flow.Mode,
			TotalSlides: flow.TotalSlides,
			Resumed:     true,
		}
		if pc := flow.conversation.awaiting; pc != nil && pc.kind == choiceMode {
			result.Options = pc.options
			return result, nil
		}
		// The reconnecting client needs current state to render: re-present
		// the slide fully revealed instead of replaying its schedule.
		o.showCurrentSlideLocked(ctx, flow, true)
		return result, nil
	}

	result := StartResult{
		FlowID:      flow.ID,
		SessionID:   flow.SessionID,
		Mode:        flow.Mode,
		TotalSlides: flow.TotalSlides,
	}

	if flow.Mode == "" {
		// No mode picked yet: offer the choice instead of presenting.
		flow.conversation.awaiting = &pendingChoice{kind: choiceMode, options: modeOptions}
		result.Options = modeOptions
		o.events.FlowStarted(flow, false)
		return result, nil
	}

	flow.Presenting = flow.Mode != domain.ModeChatOnly
	o.events.FlowStarted(flow, false)
	o.showCurrentSlideLocked(ctx, flow, false)
	return result, nil
}

// NavigateRequest is the payload of a navigate command.
type NavigateRequest struct {
	Direction string `json:"direction"` // next | previous | slide | section
	Slide     int    `json:"slide,omitempty"`
	SectionID string `json:"sectionId,omitempty"`
}

func (o *Orchestrator) Navigate(ctx context.Context, userID, lessonID string, req NavigateRequest) error {
	flow, ok := o.flows.Get(userID, lessonID)
	if !ok {
		return domain.ErrFlowNotFound
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()

	switch req.Direction {
	case "next":
		return o.nextLocked(ctx, flow)
	case "previous":
		return o.previousLocked(ctx, flow)
	case "slide":
		return o.jumpToSlideLocked(ctx, flow, req.Slide)
	case "section":
		return o.jumpToSectionLocked(ctx, flow, req.SectionID)
	default:
		return fmt.Errorf("unknown navigation direction %q", req.Direction)
	}
}

// Control applies a presentation control action.
func (o *Orchestrator) Control(ctx context.Context, userID, lessonID, action string) error {
	flow, ok := o.flows.Get(userID, lessonID)
	if !ok {
		return domain.ErrFlowNotFound
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()

	switch action {
	case "pause":
		o.pauseLocked(flow)
	case "resume":
		o.resumeLocked(flow)
	case "restart":
		flow.Presenting = flow.Mode != domain.ModeChatOnly
		o.showCurrentSlideLocked(ctx, flow, false)
	case "skip_point":
		o.skipPointLocked(flow)
	case "repeat_point":
		o.repeatPointLocked(flow)
	default:
		return fmt.Errorf("unknown control action %q", action)
	}
	return nil
}

// ChangeSpeed updates the playback multiplier and rescales any in-flight
// reveal timers.
func (o *Orchestrator) ChangeSpeed(userID, lessonID string, speed float64) error {
	if speed <= 0 {
		return domain.ErrInvalidSpeed
	}
	flow, ok := o.flows.Get(userID, lessonID)
	if !ok {
		return domain.ErrFlowNotFound
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()

	flow.Settings.PlaybackSpeed = speed
	if flow.reveal.revealing && !flow.Paused {
		flow.cancelTimersLocked()
		o.scheduleRevealsLocked(flow, flow.reveal.lastIndex+1, scale(flow.Settings.RevealDelay, speed))
	}
	return nil
}

// End tears the flow down on explicit request, emitting final stats first.
func (o *Orchestrator) End(ctx context.Context, userID, lessonID, reason string) error {
	flow, ok := o.flows.Get(userID, lessonID)
	if !ok {
		return domain.ErrFlowNotFound
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()
	o.completeLocked(ctx, flow, true)
	if reason != "" {
		o.logger.Info("flow ended by request",
			zap.String("user", userID), zap.String("lesson", lessonID), zap.String("reason", reason))
	}
	return nil
}

// Get exposes the live flow for a pair; used by transports and tests.
func (o *Orchestrator) Get(userID, lessonID string) (*Flow, bool) {
	return o.flows.Get(userID, lessonID)
}

func (o *Orchestrator) updatePosition(ctx context.Context, f *Flow) {
	if err := o.sessions.UpdatePosition(ctx, f.SessionID, f.SlideIndex, f.TotalSlides); err != nil {
		o.logger.Warn("session position update failed", zap.String("session", f.SessionID), zap.Error(err))
	}
}

func (o *Orchestrator) persistMessage(ctx context.Context, f *Flow, msg domain.ChatMessage) {
	if err := o.sessions.AppendMessage(ctx, f.SessionID, msg); err != nil {
		o.logger.Warn("session message append failed", zap.String("session", f.SessionID), zap.Error(err))
	}
}

// completeLocked emits final metrics, closes the session and detaches the
// flow. No timer owned by the flow survives this call.
func (o *Orchestrator) completeLocked(ctx context.Context, f *Flow, endedByRequest bool) {
	f.cancelTimersLocked()
	f.Presenting = false
	stats := f.statsLocked(endedByRequest)
	if err := o.sessions.Close(ctx, f.SessionID); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("session close failed", zap.String("session", f.SessionID), zap.Error(err))
	}
	o.events.LessonCompleted(f, stats)
	o.flows.Remove(f.UserID, f.LessonID)
}
