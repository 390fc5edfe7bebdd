package redis

import (
	"context"
	"sync"
	"time"

	"lesson-flow-service/internal/app"

	"github.com/redis/go-redis/v9"
)

// FlowStore is a Redis-aware implementation of app.FlowRepository.
// Notes:
//   - Flows hold live timers, so the objects themselves stay in a local
//     in-process map; Redis marks flow liveness for observability and could
//     route cross-instance commands.
//   - For true distribution you'd pin a (user, lesson) pair to one instance
//     and pair this with a pub/sub router.
type FlowStore struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.RWMutex
	flows map[string]*app.Flow
}

var _ app.FlowRepository = (*FlowStore)(nil)

func NewFlowStore(client *redis.Client, ttl time.Duration) *FlowStore {
	return &FlowStore{
		client: client,
		ttl:    ttl,
		flows:  make(map[string]*app.Flow),
	}
}

func (s *FlowStore) GetOrCreate(userID, lessonID string, build func() *app.Flow) (*app.Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := flowKey(userID, lessonID)
	if flow, ok := s.flows[key]; ok {
		return flow, false
	}
	flow := build()
	s.flows[key] = flow
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.livenessKey(userID, lessonID), flow.ID, s.ttl).Err()
	return flow, true
}

func (s *FlowStore) Get(userID, lessonID string) (*app.Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[flowKey(userID, lessonID)]
	return flow, ok
}

func (s *FlowStore) Remove(userID, lessonID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := flowKey(userID, lessonID)
	if _, ok := s.flows[key]; !ok {
		return
	}
	delete(s.flows, key)
	_ = s.client.Del(context.Background(), s.livenessKey(userID, lessonID)).Err()
}

func (s *FlowStore) livenessKey(userID, lessonID string) string {
	return "flow:live:" + userID + ":" + lessonID
}

func flowKey(userID, lessonID string) string {
	return userID + "|" + lessonID
}
