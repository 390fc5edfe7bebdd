package app

import (
	"context"
	"time"

	"lesson-flow-service/internal/domain"
)

const (
	defaultRevealDelay      = 5 * time.Second
	defaultAutoAdvanceGrace = 3 * time.Second
)

// scale stretches or compresses a delay by the playback multiplier.
func scale(d time.Duration, speed float64) time.Duration {
	if speed <= 0 {
		return d
	}
	return time.Duration(float64(d) / speed)
}

// baseOffset is a point's disclosure offset relative to slide start: the
// authored offset when present, otherwise the flow cadence times the index.
func baseOffset(points []domain.RevealPoint, i int, cadence time.Duration) time.Duration {
	if points[i].Offset > 0 {
		return points[i].Offset
	}
	return cadence * time.Duration(i)
}

// presentLocked starts presenting the current slide: reveal state is reset,
// prior timers are canceled, and either the points are scheduled one timer
// each or the slide is disclosed at once. full forces a non-progressive
// reveal (used for previously-seen slides).
func (o *Orchestrator) presentLocked(f *Flow, slide *domain.Slide, content domain.SlideContent, full bool) {
	f.cancelTimersLocked()
	f.reveal.slide = slide.Number
	f.reveal.lastIndex = -1
	f.reveal.revealed = nil

	o.events.SlideStarted(f, slide.Number, len(slide.Points))

	if full || !f.Settings.ProgressiveReveal || len(slide.Points) == 0 {
		for i := range slide.Points {
			f.reveal.revealed = append(f.reveal.revealed, i)
		}
		f.reveal.lastIndex = len(slide.Points) - 1
		o.events.SlideReady(f, slide.Number, content, true)
		if !full && !f.Paused {
			o.scheduleAutoAdvanceLocked(f)
		}
		return
	}

	// Markup goes out before any point so the client never renders against
	// unready content.
	o.events.SlideReady(f, slide.Number, content, false)
	if !f.Paused {
		o.scheduleRevealsLocked(f, 0, 0)
	}
}

// scheduleRevealsLocked arms one timer per pending point, preserving the
// points' relative spacing and scaling by playback speed. Each timer
// captures the slide number and epoch it was armed under; a fire that no
// longer matches live state is discarded.
func (o *Orchestrator) scheduleRevealsLocked(f *Flow, from int, lead time.Duration) {
	slide := f.currentSlideLocked()
	points := slide.Points
	if from >= len(points) {
		return
	}
	cadence := f.Settings.RevealDelay
	speed := f.Settings.PlaybackSpeed
	base := baseOffset(points, from, cadence)

	for i := from; i < len(points); i++ {
		delay := lead + scale(baseOffset(points, i, cadence)-base, speed)
		num, idx, epoch, text := slide.Number, i, f.reveal.epoch, points[i].Text
		t := time.AfterFunc(delay, func() {
			o.fireReveal(f, num, idx, epoch, text)
		})
		f.reveal.timers = append(f.reveal.timers, t)
	}
	f.reveal.revealing = true
}

// fireReveal runs in a timer goroutine. It re-acquires the flow and checks
// that the state the timer was armed against still holds before emitting.
func (o *Orchestrator) fireReveal(f *Flow, slideNumber, pointIndex int, epoch uint64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if epoch != f.reveal.epoch || f.Paused || f.reveal.slide != slideNumber || f.SlideIndex != slideNumber {
		return // stale: the flow moved on, discard silently
	}

	f.reveal.lastIndex = pointIndex
	f.reveal.revealed = append(f.reveal.revealed, pointIndex)
	o.events.PointRevealed(f, slideNumber, pointIndex, text)

	if pointIndex == len(f.currentSlideLocked().Points)-1 {
		f.reveal.revealing = false
		o.scheduleAutoAdvanceLocked(f)
	}
}

// scheduleAutoAdvanceLocked arms the speed-scaled grace timer that advances
// to the next slide after the final point, under the current epoch so any
// pause or navigation cancels the chain.
func (o *Orchestrator) scheduleAutoAdvanceLocked(f *Flow) {
	if !f.Settings.AutoAdvance {
		return
	}
	num, epoch := f.SlideIndex, f.reveal.epoch
	t := time.AfterFunc(scale(f.Settings.AutoAdvanceGrace, f.Settings.PlaybackSpeed), func() {
		o.fireAutoAdvance(f, num, epoch)
	})
	f.reveal.timers = append(f.reveal.timers, t)
}

func (o *Orchestrator) fireAutoAdvance(f *Flow, slideNumber int, epoch uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if epoch != f.reveal.epoch || f.Paused || f.SlideIndex != slideNumber {
		return
	}
	_ = o.nextLocked(context.Background(), f)
}

// pauseLocked freezes disclosure: all pending timers die before the pause is
// committed, and the emitted event carries the exact last-revealed index so
// the client can reconstruct state.
func (o *Orchestrator) pauseLocked(f *Flow) {
	if f.Paused {
		return
	}
	f.cancelTimersLocked()
	f.Paused = true
	o.events.Paused(f)
}

// resumeLocked restarts disclosure from the exact next point, preserving the
// remaining points' relative spacing.
func (o *Orchestrator) resumeLocked(f *Flow) {
	if !f.Paused {
		return
	}
	f.Paused = false
	o.events.Resumed(f)

	if !f.Presenting {
		return
	}
	slide := f.currentSlideLocked()
	if f.reveal.lastIndex >= len(slide.Points)-1 {
		o.scheduleAutoAdvanceLocked(f)
		return
	}
	if f.Settings.ProgressiveReveal {
		o.scheduleRevealsLocked(f, f.reveal.lastIndex+1, 0)
	}
}

// skipPointLocked discloses the next pending point immediately and re-arms
// the rest on the normal cadence.
func (o *Orchestrator) skipPointLocked(f *Flow) {
	if !f.Presenting {
		return
	}
	slide := f.currentSlideLocked()
	next := f.reveal.lastIndex + 1
	if next >= len(slide.Points) {
		return
	}
	f.cancelTimersLocked()
	f.reveal.lastIndex = next
	f.reveal.revealed = append(f.reveal.revealed, next)
	o.events.PointRevealed(f, slide.Number, next, slide.Points[next].Text)

	if f.Paused {
		return
	}
	if next == len(slide.Points)-1 {
		o.scheduleAutoAdvanceLocked(f)
		return
	}
	o.scheduleRevealsLocked(f, next+1, scale(f.Settings.RevealDelay, f.Settings.PlaybackSpeed))
}

// repeatPointLocked re-emits the last revealed point without touching any
// reveal state.
func (o *Orchestrator) repeatPointLocked(f *Flow) {
	if f.reveal.lastIndex < 0 || f.reveal.slide != f.SlideIndex {
		return
	}
	slide := f.currentSlideLocked()
	idx := f.reveal.lastIndex
	if idx >= len(slide.Points) {
		return
	}
	o.events.PointRevealed(f, slide.Number, idx, slide.Points[idx].Text)
}
