package domain

import "time"

// Event names pushed to the client. Each event is scoped to the owning user
// and optionally broadcast to the lesson room.
const (
	EventFlowStarted         = "flow_started"
	EventSlideStarted        = "slide_started"
	EventPointRevealed       = "point_revealed"
	EventSlideReady          = "slide_ready"
	EventSectionChanged      = "section_changed"
	EventPresentationPaused  = "presentation_paused"
	EventPresentationResumed = "presentation_resumed"
	EventActionDetected      = "action_detected"
	EventSlideGenerated      = "slide_generated"
	EventComprehension       = "comprehension_updated"
	EventLessonCompleted     = "lesson_completed"
	EventError               = "error"
)

type FlowStartedPayload struct {
	FlowID      string           `json:"flowId"`
	LessonID    string           `json:"lessonId"`
	SessionID   string           `json:"sessionId"`
	Mode        PresentationMode `json:"mode"`
	TotalSlides int              `json:"totalSlides"`
	Resumed     bool             `json:"resumed"`
}

type SlideStartedPayload struct {
	SlideNumber int `json:"slideNumber"`
	PointCount  int `json:"pointCount"`
}

type PointRevealedPayload struct {
	SlideNumber int    `json:"slideNumber"`
	PointIndex  int    `json:"pointIndex"`
	Content     string `json:"content"`
}

type SlideReadyPayload struct {
	SlideNumber   int    `json:"slideNumber"`
	Markup        string `json:"markup"`
	NarrationURL  string `json:"narrationUrl,omitempty"`
	FullyRevealed bool   `json:"fullyRevealed"`
}

type SectionChangedPayload struct {
	SectionID string `json:"sectionId"`
	Title     string `json:"title"`
}

type PausePayload struct {
	SlideNumber int `json:"slideNumber"`
	PointIndex  int `json:"pointIndex"`
}

type ActionDetectedPayload struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
}

type SlideGeneratedPayload struct {
	Slide  Slide  `json:"slide"`
	Markup string `json:"markup"`
	Reason string `json:"reason"`
}

type ComprehensionPayload struct {
	Level int `json:"level"`
}

type LessonCompletedPayload struct {
	Stats FlowStats `json:"stats"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is the envelope delivered through the push channel.
type Event struct {
	Name    string    `json:"name"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}
