package redis

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SlideRenderer produces the rendered markup for a slide on cache miss.
type SlideRenderer interface {
	RenderSlide(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error)
}

// ContentCache keeps rendered slide content in Redis (hash per lesson) and
// falls back to a renderer on cache miss.
// Markup is stored as:    HSET lesson:{lessonID}:slides    {slideNumber} {markup}
// Narration is stored as: HSET lesson:{lessonID}:narration {slideNumber} {url}
type ContentCache struct {
	client   *redis.Client
	renderer SlideRenderer
	ttl      time.Duration
	sf       singleflight.Group
	rnd      *rand.Rand
}

var _ app.ContentCache = (*ContentCache)(nil)

func NewContentCache(client *redis.Client, renderer SlideRenderer, ttl time.Duration) *ContentCache {
	return &ContentCache{
		client:   client,
		renderer: renderer,
		ttl:      ttl,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ContentCache) SlideContent(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error) {
	markupKey := c.markupKey(lessonID)
	narrationKey := c.narrationKey(lessonID)
	field := fmt.Sprintf("%d", slide.Number)

	if content, ok := c.lookup(ctx, markupKey, narrationKey, field, narration); ok {
		return content, nil
	}

	result, err, _ := c.sf.Do(markupKey+":"+field, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if content, ok := c.lookup(ctx, markupKey, narrationKey, field, narration); ok {
			return content, nil
		}

		content, err := c.renderer.RenderSlide(ctx, lessonID, slide, narration)
		if err != nil {
			return domain.SlideContent{}, err
		}

		ttl := c.ttlWithJitter()
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, markupKey, field, content.Markup)
		if content.NarrationURL != "" {
			pipe.HSet(ctx, narrationKey, field, content.NarrationURL)
		}
		if ttl > 0 {
			pipe.Expire(ctx, markupKey, ttl)
			pipe.Expire(ctx, narrationKey, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return content, nil
	})
	if err != nil {
		return domain.SlideContent{}, err
	}
	return result.(domain.SlideContent), nil
}

func (c *ContentCache) lookup(ctx context.Context, markupKey, narrationKey, field string, narration bool) (domain.SlideContent, bool) {
	markup, err := c.client.HGet(ctx, markupKey, field).Result()
	if err != nil || markup == "" {
		return domain.SlideContent{}, false
	}
	content := domain.SlideContent{Markup: markup}
	if narration {
		url, err := c.client.HGet(ctx, narrationKey, field).Result()
		if err != nil {
			// Markup without narration is not a full hit when narration
			// was requested; regenerate.
			return domain.SlideContent{}, false
		}
		content.NarrationURL = url
	}
	return content, true
}

func (c *ContentCache) markupKey(lessonID string) string {
	return "lesson:" + lessonID + ":slides"
}

func (c *ContentCache) narrationKey(lessonID string) string {
	return "lesson:" + lessonID + ":narration"
}

func (c *ContentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
