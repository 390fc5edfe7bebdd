package app

import (
	"sync"
	"time"

	"lesson-flow-service/internal/domain"

	"github.com/google/uuid"
)

// Flow is the live presentation state for one (user, lesson) pair. All
// mutating operations on a Flow run under its mutex, so timer callbacks,
// incoming messages, navigation and control commands are applied one at a
// time in arrival order. Flows for different keys proceed independently.
//
// Methods with a Locked suffix must be called with mu held.
type Flow struct {
	mu sync.Mutex

	ID        string
	UserID    string
	LessonID  string
	SessionID string

	Lesson      domain.Lesson
	Sections    []domain.Section
	TotalSlides int

	SectionIndex int
	SlideIndex   int
	slidesSeen   int

	Mode       domain.PresentationMode
	Presenting bool
	Paused     bool
	SharedRoom bool

	Settings domain.PacingSettings
	Metrics  domain.FlowMetrics

	reveal       revealState
	conversation conversationState

	StartedAt time.Time
	now       func() time.Time
}

// revealState tracks the progressive disclosure of the current slide. The
// timer handles are owned here and only here; cancelTimersLocked invalidates
// them together with an epoch bump so a stopped-but-already-fired callback
// can detect it is stale.
type revealState struct {
	revealing bool
	slide     int
	lastIndex int
	revealed  []int
	epoch     uint64
	timers    []*time.Timer
}

type conversationState struct {
	history       []domain.ChatMessage
	lastStudent   string
	lastAssistant string
	awaiting      *pendingChoice
	deferred      []string
	exchanges     int
}

type choiceKind int

const (
	choiceMode choiceKind = iota
	choiceInterruption
)

// pendingChoice is set while the flow waits for the student to pick among
// offered options. Question holds the deferred interruption, if any.
type pendingChoice struct {
	kind     choiceKind
	options  []domain.ChoiceOption
	question string
}

// NewFlow constructs a complete Flow in one place. Every field used anywhere
// in the state machine is initialized here.
func NewFlow(userID, lessonID, sessionID string, lesson domain.Lesson, sections []domain.Section, totalSlides int, defaults domain.PacingSettings, opts domain.FlowOptions) *Flow {
	f := &Flow{
		ID:          uuid.NewString(),
		UserID:      userID,
		LessonID:    lessonID,
		SessionID:   sessionID,
		Lesson:      lesson,
		Sections:    sections,
		TotalSlides: totalSlides,
		SlideIndex:  0,
		slidesSeen:  1,
		Mode:        opts.Mode,
		SharedRoom:  opts.SharedRoom,
		Settings:    defaults,
		Metrics: domain.FlowMetrics{
			ComprehensionLevel: 50,
			EngagementScore:    50,
			EstimatedDuration:  estimateDuration(sections),
		},
		reveal:    revealState{lastIndex: -1, slide: -1},
		StartedAt: time.Now(),
		now:       time.Now,
	}
	f.applyOptionsLocked(opts)
	return f
}

// NewFlowWithClock is test-only for deterministic timestamps.
func NewFlowWithClock(userID, lessonID, sessionID string, lesson domain.Lesson, sections []domain.Section, totalSlides int, defaults domain.PacingSettings, opts domain.FlowOptions, now func() time.Time) *Flow {
	f := NewFlow(userID, lessonID, sessionID, lesson, sections, totalSlides, defaults, opts)
	f.now = now
	f.StartedAt = now()
	return f
}

func estimateDuration(sections []domain.Section) time.Duration {
	var total time.Duration
	for _, s := range sections {
		total += s.DurationEstimate
	}
	return total
}

// applyOptionsLocked merges partial options into the flow's settings. Used
// both at construction and on resume, so nil pointers leave state untouched.
func (f *Flow) applyOptionsLocked(opts domain.FlowOptions) {
	if opts.Mode != "" {
		f.Mode = opts.Mode
	}
	if opts.AutoAdvance != nil {
		f.Settings.AutoAdvance = *opts.AutoAdvance
	}
	if opts.NarrationEnabled != nil {
		f.Settings.NarrationEnabled = *opts.NarrationEnabled
	}
	if opts.ProgressiveReveal != nil {
		f.Settings.ProgressiveReveal = *opts.ProgressiveReveal
	}
	if opts.PlaybackSpeed > 0 {
		f.Settings.PlaybackSpeed = opts.PlaybackSpeed
	}
	if opts.SharedRoom {
		f.SharedRoom = true
	}
}

// cancelTimersLocked stops every outstanding reveal timer and bumps the
// epoch so callbacks that already fired and are waiting on the mutex become
// no-ops. Must run before any transition that moves the cursor, toggles
// pause, or destroys the flow.
func (f *Flow) cancelTimersLocked() {
	f.reveal.epoch++
	for _, t := range f.reveal.timers {
		t.Stop()
	}
	f.reveal.timers = nil
	f.reveal.revealing = false
}

func (f *Flow) currentSectionLocked() *domain.Section {
	return &f.Sections[f.SectionIndex]
}

func (f *Flow) currentSlideLocked() *domain.Slide {
	sec := f.currentSectionLocked()
	return &sec.Slides[f.SlideIndex-sec.StartSlide]
}

// sectionIndexForLocked locates the section owning a global slide number by
// summing slide counts of preceding sections.
func (f *Flow) sectionIndexForLocked(slide int) int {
	for i := range f.Sections {
		start := f.Sections[i].StartSlide
		if slide >= start && slide < start+len(f.Sections[i].Slides) {
			return i
		}
	}
	return len(f.Sections) - 1
}

// insertSlideAfterCurrentLocked splices a generated slide in right after the
// cursor and renumbers the tail so slide numbers stay dense.
func (f *Flow) insertSlideAfterCurrentLocked(slide domain.Slide) domain.Slide {
	sec := f.currentSectionLocked()
	local := f.SlideIndex - sec.StartSlide
	slide.Number = f.SlideIndex + 1

	slides := make([]domain.Slide, 0, len(sec.Slides)+1)
	slides = append(slides, sec.Slides[:local+1]...)
	slides = append(slides, slide)
	slides = append(slides, sec.Slides[local+1:]...)
	sec.Slides = slides

	for i := local + 2; i < len(sec.Slides); i++ {
		sec.Slides[i].Number++
	}
	for i := f.SectionIndex + 1; i < len(f.Sections); i++ {
		f.Sections[i].StartSlide++
		for j := range f.Sections[i].Slides {
			f.Sections[i].Slides[j].Number++
		}
	}
	f.TotalSlides++
	return slide
}

func (f *Flow) appendMessageLocked(role domain.ChatRole, text string) domain.ChatMessage {
	msg := domain.ChatMessage{Role: role, Text: text, At: f.now()}
	f.conversation.history = append(f.conversation.history, msg)
	switch role {
	case domain.RoleStudent:
		f.conversation.lastStudent = text
	case domain.RoleAssistant:
		f.conversation.lastAssistant = text
	}
	return msg
}

func (f *Flow) recentMessagesLocked(n int) []domain.ChatMessage {
	h := f.conversation.history
	if len(h) <= n {
		return append([]domain.ChatMessage(nil), h...)
	}
	return append([]domain.ChatMessage(nil), h[len(h)-n:]...)
}

func (f *Flow) noteSlideSeenLocked() {
	if f.SlideIndex+1 > f.slidesSeen {
		f.slidesSeen = f.SlideIndex + 1
	}
}

func (f *Flow) bumpEngagementLocked(delta int) {
	f.Metrics.EngagementScore += delta
	if f.Metrics.EngagementScore > 100 {
		f.Metrics.EngagementScore = 100
	}
	if f.Metrics.EngagementScore < 0 {
		f.Metrics.EngagementScore = 0
	}
}

func (f *Flow) statsLocked(endedByRequest bool) domain.FlowStats {
	m := f.Metrics
	m.Elapsed = f.now().Sub(f.StartedAt)
	return domain.FlowStats{
		LessonID:       f.LessonID,
		SlidesViewed:   f.slidesSeen,
		TotalSlides:    f.TotalSlides,
		Metrics:        m,
		CompletedAt:    f.now(),
		EndedByRequest: endedByRequest,
	}
}

// RevealedPoints returns a copy of the revealed point indices, for tests and
// state snapshots.
func (f *Flow) RevealedPoints() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.reveal.revealed...)
}

// Cursor returns the current (section, slide) position.
func (f *Flow) Cursor() (section, slide int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SectionIndex, f.SlideIndex
}
