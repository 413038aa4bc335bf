package api

import (
	"sync"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// requestsCache maps chain ids to the actors running them. Entries live for
// the lifetime of the process.
type requestsCache struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]*actor.PID
}

func newRequestsCache() *requestsCache {
	return &requestsCache{
		ids: map[uuid.UUID]*actor.PID{},
	}
}

func (s *requestsCache) remove(id uuid.UUID) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *requestsCache) add(id uuid.UUID, pid *actor.PID) {
	s.mu.Lock()
	s.ids[id] = pid
	s.mu.Unlock()
}

func (s *requestsCache) get(id uuid.UUID) (*actor.PID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.ids[id]
	return pid, ok
}
