package app

import (
	"strings"

	"lesson-flow-service/internal/domain"
)

// BuildContentTree turns lesson metadata into the ordered tree a flow
// presents: sections keep their order, slides get dense global numbers, and
// each section records the global number of its first slide. A lesson with
// no sections or no slides cannot be presented and aborts start.
func BuildContentTree(lesson domain.Lesson) ([]domain.Section, int, error) {
	if len(lesson.Sections) == 0 {
		return nil, 0, domain.ErrEmptyLesson
	}

	sections := make([]domain.Section, len(lesson.Sections))
	copy(sections, lesson.Sections)

	number := 0
	for i := range sections {
		sections[i].StartSlide = number
		if sections[i].Category == "" {
			sections[i].Category = domain.CategoryConcept
		}
		slides := make([]domain.Slide, len(sections[i].Slides))
		copy(slides, sections[i].Slides)
		for j := range slides {
			slides[j].Number = number
			if slides[j].Type == "" {
				slides[j].Type = "content"
			}
			number++
		}
		sections[i].Slides = slides
	}
	if number == 0 {
		return nil, 0, domain.ErrEmptyLesson
	}
	return sections, number, nil
}

// mathMarkers are title/keyword fragments that tag a lesson as math. The
// heuristic is deliberately coarse; only the gate matters downstream.
var mathMarkers = []string{
	"math", "algebra", "geometry", "calculus", "equation", "fraction",
	"arithmetic", "رياضيات", "جبر", "هندسة", "معادلة", "كسور", "حساب",
}

// ClassifySubject tags a lesson as math or general from its declared
// subject, title and keywords. Math gates the solve_problem trigger and the
// attempted/solved counters.
func ClassifySubject(lesson domain.Lesson) domain.Subject {
	if lesson.Subject == domain.SubjectMath {
		return domain.SubjectMath
	}
	if lesson.Subject != "" && lesson.Subject != domain.SubjectGeneral {
		return domain.SubjectGeneral
	}
	haystack := strings.ToLower(lesson.Title)
	for _, kw := range lesson.Keywords {
		haystack += " " + strings.ToLower(kw)
	}
	for _, marker := range mathMarkers {
		if strings.Contains(haystack, marker) {
			return domain.SubjectMath
		}
	}
	return domain.SubjectGeneral
}
