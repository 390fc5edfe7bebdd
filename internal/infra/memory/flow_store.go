package memory

import (
	"sync"

	"lesson-flow-service/internal/app"
)

// FlowStore is an in-memory implementation of app.FlowRepository. It
// guarantees a single live flow per (user, lesson) key: the builder runs
// under the store's lock, so two racing starts cannot both create.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string]*app.Flow
}

var _ app.FlowRepository = (*FlowStore)(nil)

func NewFlowStore() *FlowStore {
	return &FlowStore{
		flows: make(map[string]*app.Flow),
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
	delete(s.flows, flowKey(userID, lessonID))
}

func flowKey(userID, lessonID string) string {
	return userID + "|" + lessonID
}
