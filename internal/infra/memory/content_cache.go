package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// SlideRenderer produces the rendered markup (and optional narration
// reference) for a slide. In production this wraps the content generator;
// tests use static ones.
type SlideRenderer interface {
	RenderSlide(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error)
}

// ContentCache memoizes rendered slide content with TTL so re-visited slides
// are not regenerated. Concurrent requests for the same slide collapse into
// a single render via singleflight.
type ContentCache struct {
	renderer SlideRenderer
	ttl      time.Duration
	clock    func() time.Time
	sf       singleflight.Group
	rnd      *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedContent
}

type cachedContent struct {
	content   domain.SlideContent
	expiresAt time.Time
}

var _ app.ContentCache = (*ContentCache)(nil)

func NewContentCache(renderer SlideRenderer, ttl time.Duration) *ContentCache {
	return &ContentCache{
		renderer: renderer,
		ttl:      ttl,
		clock:    time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:    make(map[string]cachedContent),
	}
}

func (c *ContentCache) SlideContent(ctx context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error) {
	key := contentKey(lessonID, slide.Number, narration)
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.content, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.content, nil
		}
		c.mu.RUnlock()

		content, err := c.renderer.RenderSlide(ctx, lessonID, slide, narration)
		if err != nil {
			return domain.SlideContent{}, err
		}

		c.mu.Lock()
		c.cache[key] = cachedContent{
			content:   content,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return content, nil
	})
	if err != nil {
		return domain.SlideContent{}, err
	}
	return result.(domain.SlideContent), nil
}

func contentKey(lessonID string, slideNumber int, narration bool) string {
	return fmt.Sprintf("%s:%d:%t", lessonID, slideNumber, narration)
}

func (c *ContentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticRenderer renders slides without external calls: the raw payload
// becomes the markup and narration is a deterministic reference. Used for
// demos and whenever no generator is configured.
type StaticRenderer struct{}

func (StaticRenderer) RenderSlide(_ context.Context, lessonID string, slide domain.Slide, narration bool) (domain.SlideContent, error) {
	content := domain.SlideContent{Markup: slide.Content}
	if narration {
		content.NarrationURL = fmt.Sprintf("/narration/%s/%d", lessonID, slide.Number)
	}
	return content, nil
}
