package memory

import (
	"context"
	"fmt"
	"strings"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"
)

// StaticGenerator is a deterministic app.Generator used when no LLM backend
// is configured and throughout the tests. Output is derived purely from the
// generation context.
type StaticGenerator struct{}

var _ app.Generator = StaticGenerator{}

func (StaticGenerator) Generate(_ context.Context, kind domain.GenerationKind, gc domain.GenerationContext) (domain.GeneratedContent, error) {
	switch kind {
	case domain.GenSlideMarkup:
		return domain.GeneratedContent{Body: gc.SlideContent}, nil
	case domain.GenNarration:
		return domain.GeneratedContent{Body: fmt.Sprintf("/narration/%s/%d", gc.LessonID, gc.SlideNumber)}, nil
	case domain.GenComprehension:
		return domain.GeneratedContent{Level: 60}, nil
	case domain.GenRelevance:
		relevant := false
		for _, kw := range gc.SectionKeywords {
			if strings.Contains(strings.ToLower(gc.Request), strings.ToLower(kw)) {
				relevant = true
				break
			}
		}
		return domain.GeneratedContent{Relevant: relevant}, nil
	case domain.GenAnswer:
		return domain.GeneratedContent{
			Body: fmt.Sprintf("About %q: the slide you are on covers this. %s", gc.Request, gc.SlideContent),
		}, nil
	case domain.GenQuiz:
		return domain.GeneratedContent{
			Title: "Quick check",
			Body:  "Answer in your own words: " + firstSentence(gc.SlideContent),
		}, nil
	default:
		return domain.GeneratedContent{
			Title:  strings.ReplaceAll(string(kind), "_", " "),
			Body:   fmt.Sprintf("%s: %s", gc.SectionTitle, firstSentence(gc.SlideContent)),
			Points: []string{firstSentence(gc.SlideContent)},
		}, nil
	}
}

func firstSentence(text string) string {
	for _, sep := range []string{". ", "۔", "؟", "?"} {
		if i := strings.Index(text, sep); i > 0 {
			return text[:i+len(sep)]
		}
	}
	return text
}

// GeneratorRenderer adapts an app.Generator into a SlideRenderer so the
// content cache can populate markup and narration lazily.
type GeneratorRenderer struct {
	Generator app.Generator
}

var _ SlideRenderer = GeneratorRenderer{}

func (r GeneratorRenderer) RenderSlide(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error) {
	gc := domain.GenerationContext{
		LessonID:     lessonID,
		SlideNumber:  slide.Number,
		SlideContent: slide.Content,
	}
	markup, err := r.Generator.Generate(ctx, domain.GenSlideMarkup, gc)
	if err != nil {
		return domain.SlideContent{}, err
	}
	content := domain.SlideContent{Markup: markup.Body}
	if narration {
		nar, err := r.Generator.Generate(ctx, domain.GenNarration, gc)
		if err != nil {
			// Narration is an enhancement; markup alone is still a valid render.
			return content, nil
		}
		content.NarrationURL = nar.Body
	}
	return content, nil
}
