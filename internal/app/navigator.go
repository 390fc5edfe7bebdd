package app

import (
	"context"

	"lesson-flow-service/internal/domain"

	"go.uber.org/zap"
)

// nextLocked advances the cursor by one slide, or completes the lesson when
// the cursor already sits on the last slide. Timers are canceled before the
// cursor moves so no reveal can fire against the slide being left.
func (o *Orchestrator) nextLocked(ctx context.Context, f *Flow) error {
	f.cancelTimersLocked()
	if f.SlideIndex >= f.TotalSlides-1 {
		o.completeLocked(ctx, f, false)
		return nil
	}
	f.SlideIndex++
	o.moveSectionLocked(f)
	o.showCurrentSlideLocked(ctx, f, false)
	return nil
}

// previousLocked retreats one slide, clamped at the first. The target is
// already-known content, so it is revealed in full rather than point by
// point.
func (o *Orchestrator) previousLocked(ctx context.Context, f *Flow) error {
	if f.SlideIndex == 0 {
		return nil
	}
	f.cancelTimersLocked()
	f.SlideIndex--
	o.moveSectionLocked(f)
	o.showCurrentSlideLocked(ctx, f, true)
	return nil
}

// jumpToSlideLocked relocates the cursor to an absolute slide number.
// Out-of-range targets are rejected before any state changes.
func (o *Orchestrator) jumpToSlideLocked(ctx context.Context, f *Flow, index int) error {
	if index < 0 || index >= f.TotalSlides {
		return domain.ErrSlideOutOfRange
	}
	f.cancelTimersLocked()
	f.SlideIndex = index
	o.moveSectionLocked(f)
	o.showCurrentSlideLocked(ctx, f, true)
	return nil
}

func (o *Orchestrator) jumpToSectionLocked(ctx context.Context, f *Flow, sectionID string) error {
	target := -1
	for i := range f.Sections {
		if f.Sections[i].ID == sectionID {
			target = i
			break
		}
	}
	if target < 0 {
		return domain.ErrSectionNotFound
	}
	f.cancelTimersLocked()
	f.SlideIndex = f.Sections[target].StartSlide
	o.moveSectionLocked(f)
	o.showCurrentSlideLocked(ctx, f, true)
	return nil
}

// moveSectionLocked recomputes the section index after a cursor move and
// emits section_changed when a boundary was crossed. The event goes out
// before any event of the new section's slide.
func (o *Orchestrator) moveSectionLocked(f *Flow) {
	next := f.sectionIndexForLocked(f.SlideIndex)
	if next == f.SectionIndex {
		return
	}
	if next > f.SectionIndex {
		f.Sections[f.SectionIndex].Completed = true
	}
	f.SectionIndex = next
	o.events.SectionChanged(f, f.currentSectionLocked())
}

// showCurrentSlideLocked populates the slide's content (or falls back to the
// raw payload) and only then hands off to the scheduler, so a client never
// sees slide_started for unready content. Non-presenting flows get a plain
// slide_ready instead.
func (o *Orchestrator) showCurrentSlideLocked(ctx context.Context, f *Flow, full bool) {
	slide := f.currentSlideLocked()
	narration := f.Settings.NarrationEnabled || f.Mode == domain.ModeSlidesNarration
	content, err := o.cache.SlideContent(ctx, f.LessonID, *slide, narration)
	if err != nil {
		o.logger.Warn("slide content generation failed, using raw payload",
			zap.String("lesson", f.LessonID), zap.Int("slide", slide.Number), zap.Error(err))
		content = domain.SlideContent{Markup: slide.Content}
	}

	f.noteSlideSeenLocked()
	o.updatePosition(ctx, f)

	if f.Presenting {
		o.presentLocked(f, slide, content, full)
		return
	}
	o.events.SlideReady(f, slide.Number, content, true)
}
