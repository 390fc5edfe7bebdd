package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"lesson-flow-service/internal/domain"

	"go.uber.org/zap"
)

// MessageResult is what the transport delivers back on the requesting
// connection. State changes travel separately through the push channel.
type MessageResult struct {
	Reply   string                `json:"reply,omitempty"`
	Action  string                `json:"action,omitempty"`
	Options []domain.ChoiceOption `json:"options,omitempty"`
}

// actionTrigger maps phrase sets to a generation action. The table is
// ordered: the first matching trigger wins.
type actionTrigger struct {
	Action     string
	Kind       domain.GenerationKind
	Confidence float64
	Phrases    []string
	MathOnly   bool
}

const actionConfidenceFloor = 0.6

var actionTriggers = []actionTrigger{
	{Action: "explain_more", Kind: domain.GenExplanation, Confidence: 0.9,
		Phrases: []string{"explain", "tell me more", "in more detail", "اشرح", "وضح", "فصل اكثر"}},
	{Action: "show_example", Kind: domain.GenExample, Confidence: 0.85,
		Phrases: []string{"example", "show me how", "مثال", "اعطني مثال"}},
	{Action: "start_quiz", Kind: domain.GenQuiz, Confidence: 0.85,
		Phrases: []string{"quiz", "test me", "اختبار", "اختبرني"}},
	{Action: "simplify", Kind: domain.GenSimplified, Confidence: 0.8,
		Phrases: []string{"simplify", "simpler", "too hard", "i don't understand", "بسط", "لم افهم", "لم أفهم", "صعب"}},
	{Action: "show_video", Kind: domain.GenVideo, Confidence: 0.75,
		Phrases: []string{"video", "watch", "فيديو"}},
	{Action: "solve_problem", Kind: domain.GenSolution, Confidence: 0.8, MathOnly: true,
		Phrases: []string{"solve", "solution", "حل", "احسب"}},
	{Action: "generate_slide", Kind: domain.GenCustomSlide, Confidence: 0.7,
		Phrases: []string{"new slide", "make a slide", "شريحة جديدة"}},
}

var interruptionOptions = []domain.ChoiceOption{
	{ID: "answer_now", Label: "Answer now"},
	{ID: "answer_later", Label: "Answer after this slide"},
	{ID: "continue", Label: "Continue the lesson"},
}

// fallbackBodies are the deterministic canned slides produced when the
// generator fails; the visible flow is never broken by a generation failure.
var fallbackBodies = map[string]string{
	"explain_more":   "Let's look at this step again together. Re-read the points on this slide slowly; each one builds on the previous.",
	"show_example":   "Here is a worked example pattern: take the idea on this slide and apply it to the simplest case you can think of, then build up.",
	"start_quiz":     "Quick check: in your own words, what is the main idea of this slide? Write your answer and compare it with the slide text.",
	"simplify":       "In short: the key idea of this slide is the first point shown. Everything else is detail supporting it.",
	"show_video":     "No video is available right now. The slide content above covers the same material.",
	"solve_problem":  "Work through it one operation at a time and write each intermediate result down before moving on.",
	"generate_slide": "Here is a recap of what we just covered.",
}

const fallbackAnswer = "That's a good question. The answer is in the points being shown on the current slide, and you can ask me again afterwards."

// HandleMessage classifies free text against the flow's state, in fixed
// priority order: pending choice, active interruption, action trigger,
// contextual question, nothing.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, lessonID, text string) (MessageResult, error) {
	flow, ok := o.flows.Get(userID, lessonID)
	if !ok {
		return MessageResult{}, domain.ErrFlowNotFound
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()

	msg := flow.appendMessageLocked(domain.RoleStudent, text)
	o.persistMessage(ctx, flow, msg)
	flow.bumpEngagementLocked(2)

	if pc := flow.conversation.awaiting; pc != nil {
		if opt, matched := matchChoice(text, pc.options); matched {
			return o.applyChoiceLocked(ctx, flow, pc, opt), nil
		}
		// No option matched: fall through, the offer stays open.
	}

	if flow.Presenting && !flow.Paused {
		return o.interruptLocked(ctx, flow, text), nil
	}

	if trig, matched := matchAction(text, flow.Lesson.Subject); matched {
		return o.dispatchActionLocked(ctx, flow, trig, text), nil
	}

	if overlapsTopic(text, flow.currentSectionLocked(), flow.Lesson.Keywords) {
		return o.answerQuestionLocked(ctx, flow, text), nil
	}

	// Nothing actionable; the message is already in the history.
	return MessageResult{}, nil
}

// interruptLocked handles a message that arrived mid-presentation: pause
// first, then either dispatch a recognized action, answer a topic-relevant
// question in place, or offer the answer-now/later/continue choice.
func (o *Orchestrator) interruptLocked(ctx context.Context, f *Flow, text string) MessageResult {
	f.Metrics.Interruptions++
	o.pauseLocked(f)

	if trig, matched := matchAction(text, f.Lesson.Subject); matched {
		return o.dispatchActionLocked(ctx, f, trig, text)
	}

	relevant, err := o.relevance.Relevant(ctx, text, f.currentSectionLocked())
	if err != nil {
		// Classification failure degrades to contextual handling.
		o.logger.Warn("relevance classification failed", zap.Error(err))
		relevant = true
	}
	if relevant {
		return o.answerQuestionLocked(ctx, f, text)
	}

	f.conversation.awaiting = &pendingChoice{
		kind:     choiceInterruption,
		options:  interruptionOptions,
		question: text,
	}
	reply := "That seems to be about something else. Should I answer now, after this slide, or continue the lesson?"
	o.persistMessage(ctx, f, f.appendMessageLocked(domain.RoleAssistant, reply))
	return MessageResult{Reply: reply, Options: interruptionOptions}
}

// dispatchActionLocked turns a recognized trigger into generated content
// inserted right after the current slide. Generator failures produce a
// deterministic fallback slide instead.
func (o *Orchestrator) dispatchActionLocked(ctx context.Context, f *Flow, trig actionTrigger, text string) MessageResult {
	o.events.ActionDetected(f, trig.Action, trig.Confidence)
	if trig.Action == "solve_problem" {
		f.Metrics.ProblemsAttempted++
	}

	gen, err := o.generator.Generate(ctx, trig.Kind, o.generationContextLocked(f, text))
	if err != nil {
		o.logger.Warn("action generation failed, using fallback slide",
			zap.String("action", trig.Action), zap.Error(err))
		gen = domain.GeneratedContent{Body: fallbackBodies[trig.Action]}
	} else if trig.Action == "solve_problem" {
		f.Metrics.ProblemsSolved++
	}

	slide := domain.Slide{
		Type:      trig.Action,
		Content:   gen.Body,
		Generated: true,
		Reason:    trig.Action,
	}
	for _, p := range gen.Points {
		slide.Points = append(slide.Points, domain.RevealPoint{Text: p})
	}
	inserted := f.insertSlideAfterCurrentLocked(slide)
	o.events.SlideGenerated(f, inserted, gen.Body, trig.Action)

	reply := gen.Title
	if reply == "" {
		reply = fmt.Sprintf("I've added a new slide for that. It's coming up next (slide %d).", inserted.Number+1)
	}
	o.persistMessage(ctx, f, f.appendMessageLocked(domain.RoleAssistant, reply))
	return MessageResult{Reply: reply, Action: trig.Action}
}

// answerQuestionLocked forwards a contextual question to the generator and
// periodically refreshes the comprehension estimate.
func (o *Orchestrator) answerQuestionLocked(ctx context.Context, f *Flow, text string) MessageResult {
	f.Metrics.QuestionsAsked++
	f.conversation.exchanges++

	reply := fallbackAnswer
	gen, err := o.generator.Generate(ctx, domain.GenAnswer, o.generationContextLocked(f, text))
	if err != nil {
		o.logger.Warn("answer generation failed", zap.Error(err))
	} else if gen.Body != "" {
		reply = gen.Body
	}
	o.persistMessage(ctx, f, f.appendMessageLocked(domain.RoleAssistant, reply))

	if f.conversation.exchanges%o.comprehensionEvery == 0 {
		o.updateComprehensionLocked(ctx, f)
	}
	return MessageResult{Reply: reply}
}

func (o *Orchestrator) updateComprehensionLocked(ctx context.Context, f *Flow) {
	gen, err := o.generator.Generate(ctx, domain.GenComprehension, o.generationContextLocked(f, ""))
	if err != nil {
		o.logger.Warn("comprehension estimate failed", zap.Error(err))
		return
	}
	level := gen.Level
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	f.Metrics.ComprehensionLevel = level
	o.events.ComprehensionUpdated(f, level)
}

// applyChoiceLocked consumes a pending choice the student just answered.
func (o *Orchestrator) applyChoiceLocked(ctx context.Context, f *Flow, pc *pendingChoice, opt domain.ChoiceOption) MessageResult {
	f.conversation.awaiting = nil

	switch pc.kind {
	case choiceMode:
		f.Mode = domain.PresentationMode(opt.ID)
		f.Presenting = f.Mode != domain.ModeChatOnly
		reply := "Starting the lesson: " + opt.Label
		o.persistMessage(ctx, f, f.appendMessageLocked(domain.RoleAssistant, reply))
		o.showCurrentSlideLocked(ctx, f, false)
		return MessageResult{Reply: reply, Action: "mode_selected"}

	case choiceInterruption:
		switch opt.ID {
		case "answer_now":
			return o.answerQuestionLocked(ctx, f, pc.question)
		case "answer_later":
			f.conversation.deferred = append(f.conversation.deferred, pc.question)
			o.resumeLocked(f)
			reply := "I'll come back to that after this slide."
			o.persistMessage(ctx, f, f.appendMessageLocked(domain.RoleAssistant, reply))
			return MessageResult{Reply: reply}
		default: // continue
			o.resumeLocked(f)
			reply := "Continuing the lesson."
			o.persistMessage(ctx, f, f.appendMessageLocked(domain.RoleAssistant, reply))
			return MessageResult{Reply: reply}
		}
	}
	return MessageResult{}
}

func (o *Orchestrator) generationContextLocked(f *Flow, request string) domain.GenerationContext {
	sec := f.currentSectionLocked()
	slide := f.currentSlideLocked()
	return domain.GenerationContext{
		LessonID:        f.LessonID,
		LessonTitle:     f.Lesson.Title,
		Subject:         f.Lesson.Subject,
		SectionTitle:    sec.Title,
		SectionKeywords: sec.Keywords,
		SlideNumber:     slide.Number,
		SlideContent:    slide.Content,
		RecentMessages:  f.recentMessagesLocked(6),
		Request:         request,
	}
}

// matchAction runs the ordered trigger table against the message; math-only
// triggers are skipped for non-math lessons.
func matchAction(text string, subject domain.Subject) (actionTrigger, bool) {
	norm := normalize(text)
	for _, trig := range actionTriggers {
		if trig.MathOnly && subject != domain.SubjectMath {
			continue
		}
		if trig.Confidence < actionConfidenceFloor {
			continue
		}
		for _, phrase := range trig.Phrases {
			if strings.Contains(norm, phrase) {
				return trig, true
			}
		}
	}
	return actionTrigger{}, false
}

// matchChoice matches a message against offered options by identifier,
// label, or 1-based position.
func matchChoice(text string, options []domain.ChoiceOption) (domain.ChoiceOption, bool) {
	norm := normalize(text)
	if norm == "" {
		return domain.ChoiceOption{}, false
	}
	if n, err := strconv.Atoi(norm); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, opt := range options {
		id := strings.ToLower(opt.ID)
		label := strings.ToLower(opt.Label)
		if strings.Contains(norm, id) || strings.Contains(norm, label) || strings.Contains(label, norm) {
			return opt, true
		}
	}
	return domain.ChoiceOption{}, false
}

// overlapsTopic reports whether a message shares vocabulary with the current
// section's keyword set, the lesson keywords, or an anticipated question.
func overlapsTopic(text string, section *domain.Section, lessonKeywords []string) bool {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return false
	}
	keywords := append(append([]string(nil), section.Keywords...), lessonKeywords...)
	for _, kw := range keywords {
		lkw := strings.ToLower(kw)
		for _, tok := range tokens {
			if tok == lkw || strings.Contains(lkw, tok) && len(tok) > 3 {
				return true
			}
		}
	}
	for _, q := range section.AnticipatedQuestions {
		if tokenOverlap(tokens, tokenize(q)) >= 2 {
			return true
		}
	}
	return false
}

func tokenOverlap(a, b []string) int {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	n := 0
	for _, t := range a {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// KeywordRelevance is the default relevance classifier: pure keyword and
// anticipated-question overlap, no external calls.
type KeywordRelevance struct {
	LessonKeywords []string
}

func (k KeywordRelevance) Relevant(_ context.Context, message string, section *domain.Section) (bool, error) {
	return overlapsTopic(message, section, k.LessonKeywords), nil
}

// GeneratorRelevance escalates to the content generator for a yes/no
// judgment when keyword overlap finds nothing.
type GeneratorRelevance struct {
	Generator Generator
	Keywords  KeywordRelevance
}

func (g GeneratorRelevance) Relevant(ctx context.Context, message string, section *domain.Section) (bool, error) {
	if ok, _ := g.Keywords.Relevant(ctx, message, section); ok {
		return true, nil
	}
	gen, err := g.Generator.Generate(ctx, domain.GenRelevance, domain.GenerationContext{
		SectionTitle:    section.Title,
		SectionKeywords: section.Keywords,
		Request:         message,
	})
	if err != nil {
		return false, err
	}
	return gen.Relevant, nil
}
