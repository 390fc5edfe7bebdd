package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds OpenAI generator settings. BaseURL allows OpenAI-compatible
// APIs (OpenRouter etc.).
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
}

const defaultModel = "gpt-4o-mini"

// Generator produces lesson content with the OpenAI chat API.
type Generator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

var _ app.Generator = (*Generator)(nil)

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &Generator{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// generatedJSON is the shape all prompts ask the model to return.
type generatedJSON struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Points   []string `json:"points"`
	Level    int      `json:"level"`
	Relevant bool     `json:"relevant"`
}

func (g *Generator) Generate(ctx context.Context, kind domain.GenerationKind, gc domain.GenerationContext) (domain.GeneratedContent, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt(kind, gc),
		},
	}
	for _, m := range recentMessages(gc, 6) {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Text,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt(kind, gc),
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return domain.GeneratedContent{}, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return domain.GeneratedContent{}, fmt.Errorf("%w: no choices", domain.ErrGenerationFailed)
	}

	var out generatedJSON
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		// Plain-text fallback: treat the whole completion as the body.
		return domain.GeneratedContent{Body: resp.Choices[0].Message.Content}, nil
	}
	if out.Level < 0 {
		out.Level = 0
	}
	if out.Level > 100 {
		out.Level = 100
	}
	return domain.GeneratedContent{
		Title:    out.Title,
		Body:     out.Body,
		Points:   out.Points,
		Level:    out.Level,
		Relevant: out.Relevant,
	}, nil
}

func systemPrompt(kind domain.GenerationKind, gc domain.GenerationContext) string {
	var b strings.Builder
	b.WriteString("You are a tutor presenting the lesson ")
	fmt.Fprintf(&b, "%q", gc.LessonTitle)
	if gc.SectionTitle != "" {
		fmt.Fprintf(&b, ", currently in section %q", gc.SectionTitle)
	}
	b.WriteString(". Answer in the language the student writes in. ")
	b.WriteString(`Respond with a single JSON object: {"title","body","points","level","relevant"}. `)

	switch kind {
	case domain.GenComprehension:
		b.WriteString("Estimate the student's comprehension of the section from the conversation and set level to an integer 0-100. Leave body empty.")
	case domain.GenRelevance:
		b.WriteString("Judge whether the student's message relates to the current section and set relevant accordingly. Leave body empty.")
	case domain.GenNarration:
		b.WriteString("Write a short spoken narration script for the slide in body.")
	default:
		b.WriteString("Put the main content in body; when producing slide content, list 3-5 key points in points.")
	}
	return b.String()
}

func userPrompt(kind domain.GenerationKind, gc domain.GenerationContext) string {
	var b strings.Builder
	if gc.SlideContent != "" {
		fmt.Fprintf(&b, "Current slide (%d):\n%s\n\n", gc.SlideNumber, gc.SlideContent)
	}
	if len(gc.SectionKeywords) > 0 {
		fmt.Fprintf(&b, "Section keywords: %s\n\n", strings.Join(gc.SectionKeywords, ", "))
	}

	switch kind {
	case domain.GenSlideMarkup:
		b.WriteString("Render this slide as concise markdown for presentation.")
	case domain.GenNarration:
		b.WriteString("Narrate this slide.")
	case domain.GenAnswer:
		fmt.Fprintf(&b, "The student asked: %s", gc.Request)
	case domain.GenExplanation:
		fmt.Fprintf(&b, "Explain this material in more depth. Student request: %s", gc.Request)
	case domain.GenExample:
		fmt.Fprintf(&b, "Give a worked example for this material. Student request: %s", gc.Request)
	case domain.GenQuiz:
		b.WriteString("Write a short quiz (2-3 questions) on this material.")
	case domain.GenSimplified:
		fmt.Fprintf(&b, "Re-explain this material in simpler terms. Student request: %s", gc.Request)
	case domain.GenVideo:
		fmt.Fprintf(&b, "Suggest a short video outline for this material. Student request: %s", gc.Request)
	case domain.GenSolution:
		fmt.Fprintf(&b, "Solve this problem step by step: %s", gc.Request)
	case domain.GenCustomSlide:
		fmt.Fprintf(&b, "Create a new slide as requested: %s", gc.Request)
	case domain.GenComprehension:
		b.WriteString("Estimate comprehension from the conversation above.")
	case domain.GenRelevance:
		fmt.Fprintf(&b, "Student message: %s", gc.Request)
	default:
		if gc.Request != "" {
			b.WriteString(gc.Request)
		} else {
			b.WriteString("Continue the lesson.")
		}
	}
	return b.String()
}

func recentMessages(gc domain.GenerationContext, limit int) []domain.ChatMessage {
	msgs := gc.RecentMessages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}
