package domain

import "time"

// PresentationMode selects how lesson content is delivered to the student.
type PresentationMode string

const (
	ModeChatOnly        PresentationMode = "chat_only"
	ModeSlidesOnly      PresentationMode = "slides_only"
	ModeSlidesNarration PresentationMode = "slides_narration"
	ModeInteractive     PresentationMode = "interactive"
)

// Subject tags what kind of material a lesson covers. Math lessons unlock
// the solve_problem trigger and the problem counters.
type Subject string

const (
	SubjectMath    Subject = "math"
	SubjectGeneral Subject = "general"
)

// SectionCategory describes the pedagogical purpose of a section.
type SectionCategory string

const (
	CategoryIntro    SectionCategory = "intro"
	CategoryConcept  SectionCategory = "concept"
	CategoryExample  SectionCategory = "example"
	CategoryPractice SectionCategory = "practice"
	CategoryQuiz     SectionCategory = "quiz"
	CategorySummary  SectionCategory = "summary"
)

// RevealPoint is one incrementally-disclosed fragment of a slide.
// Offset is relative to slide start; zero means "use the flow's cadence".
type RevealPoint struct {
	Text   string        `json:"text"`
	Offset time.Duration `json:"offset,omitempty"`
}

// Slide is one unit of displayable content. Number is assigned by the tree
// builder and is globally unique and dense within a flow.
type Slide struct {
	Number    int           `json:"number"`
	Type      string        `json:"type"`
	Content   string        `json:"content"`
	Points    []RevealPoint `json:"points,omitempty"`
	Generated bool          `json:"generated,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Section groups slides that share a pedagogical purpose.
type Section struct {
	ID                   string          `json:"id"`
	Title                string          `json:"title"`
	Category             SectionCategory `json:"category"`
	Objectives           []string        `json:"objectives,omitempty"`
	Keywords             []string        `json:"keywords,omitempty"`
	AnticipatedQuestions []string        `json:"anticipatedQuestions,omitempty"`
	DurationEstimate     time.Duration   `json:"durationEstimate,omitempty"`
	Slides               []Slide         `json:"slides"`
	Completed            bool            `json:"completed,omitempty"`

	// StartSlide is the global number of the section's first slide,
	// filled in by the tree builder.
	StartSlide int `json:"startSlide"`
}

// Lesson is the raw material the content tree is built from.
type Lesson struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Subject  Subject   `json:"subject,omitempty"`
	Keywords []string  `json:"keywords,omitempty"`
	Sections []Section `json:"sections"`
}

// SlideContent is the lazily-generated rendition of a slide.
type SlideContent struct {
	Markup       string `json:"markup"`
	NarrationURL string `json:"narrationUrl,omitempty"`
}

// ChatRole identifies who authored a conversation message.
type ChatRole string

const (
	RoleStudent   ChatRole = "student"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry of a flow's conversation history.
type ChatMessage struct {
	Role ChatRole  `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ChoiceOption is one of the options offered when a flow awaits a choice.
type ChoiceOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FlowOptions carries per-start overrides of the flow's pacing settings.
// Nil pointer fields mean "keep the current/default value" so a resume can
// merge partial options without clobbering state.
type FlowOptions struct {
	Mode              PresentationMode `json:"mode,omitempty"`
	AutoAdvance       *bool            `json:"autoAdvance,omitempty"`
	NarrationEnabled  *bool            `json:"narrationEnabled,omitempty"`
	ProgressiveReveal *bool            `json:"progressiveReveal,omitempty"`
	PlaybackSpeed     float64          `json:"playbackSpeed,omitempty"`
	SharedRoom        bool             `json:"sharedRoom,omitempty"`
}

// PacingSettings controls the reveal cadence of a flow.
type PacingSettings struct {
	AutoAdvance       bool
	NarrationEnabled  bool
	ProgressiveReveal bool
	PlaybackSpeed     float64
	RevealDelay       time.Duration
	AutoAdvanceGrace  time.Duration
}

// FlowMetrics accumulates engagement signals over the life of a flow.
type FlowMetrics struct {
	ComprehensionLevel int           `json:"comprehensionLevel"`
	EngagementScore    int           `json:"engagementScore"`
	QuestionsAsked     int           `json:"questionsAsked"`
	Interruptions      int           `json:"interruptions"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedDuration  time.Duration `json:"estimatedDuration"`

	// Math-lesson extension counters.
	ProblemsAttempted int `json:"problemsAttempted,omitempty"`
	ProblemsSolved    int `json:"problemsSolved,omitempty"`
}

// FlowStats is the final aggregate emitted with lesson_completed.
type FlowStats struct {
	LessonID       string      `json:"lessonId"`
	SlidesViewed   int         `json:"slidesViewed"`
	TotalSlides    int         `json:"totalSlides"`
	Metrics        FlowMetrics `json:"metrics"`
	CompletedAt    time.Time   `json:"completedAt"`
	EndedByRequest bool        `json:"endedByRequest,omitempty"`
}

// GenerationKind names what the content generator is asked to produce.
type GenerationKind string

const (
	GenSlideMarkup   GenerationKind = "slide_markup"
	GenNarration     GenerationKind = "narration"
	GenAnswer        GenerationKind = "answer"
	GenExplanation   GenerationKind = "explanation"
	GenExample       GenerationKind = "example"
	GenQuiz          GenerationKind = "quiz"
	GenSimplified    GenerationKind = "simplified"
	GenVideo         GenerationKind = "video"
	GenCustomSlide   GenerationKind = "custom_slide"
	GenSolution      GenerationKind = "solution"
	GenComprehension GenerationKind = "comprehension"
	GenRelevance     GenerationKind = "relevance"
)

// GenerationContext bounds what a generator call may see: the current
// section/slide plus a short excerpt of the conversation.
type GenerationContext struct {
	LessonID        string        `json:"lessonId"`
	LessonTitle     string        `json:"lessonTitle"`
	Subject         Subject       `json:"subject"`
	SectionTitle    string        `json:"sectionTitle"`
	SectionKeywords []string      `json:"sectionKeywords,omitempty"`
	SlideNumber     int           `json:"slideNumber"`
	SlideContent    string        `json:"slideContent"`
	RecentMessages  []ChatMessage `json:"recentMessages,omitempty"`
	Request         string        `json:"request,omitempty"`
}

// GeneratedContent is what a generator call yields.
type GeneratedContent struct {
	Title  string   `json:"title,omitempty"`
	Body   string   `json:"body"`
	Points []string `json:"points,omitempty"`

	// Level is set for comprehension estimates (0-100).
	Level int `json:"level,omitempty"`
	// Relevant is set for relevance judgments.
	Relevant bool `json:"relevant,omitempty"`
}

// SessionRecord is the durable view of a flow kept by the session store.
type SessionRecord struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	LessonID    string        `json:"lessonId"`
	SlideNumber int           `json:"slideNumber"`
	TotalSlides int           `json:"totalSlides"`
	Messages    []ChatMessage `json:"messages,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	ClosedAt    *time.Time    `json:"closedAt,omitempty"`
}
