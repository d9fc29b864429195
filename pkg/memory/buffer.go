package memory

import (
	"context"
	"sync"
)

// BufferStore is the in-process short-term backend. Not durable; contents
// are lost on restart.
type BufferStore struct {
	mu      sync.RWMutex
	buffers map[string][]ShortTermItem
}

func NewBufferStore() *BufferStore {
	return &BufferStore{
		buffers: make(map[string][]ShortTermItem),
	}
}

func (s *BufferStore) Load(ctx context.Context, agentID string) ([]ShortTermItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.buffers[agentID]
	out := make([]ShortTermItem, len(buf))
	copy(out, buf)
	return out, nil
}

func (s *BufferStore) Append(ctx context.Context, agentID string, item ShortTermItem, window int) error {
	if window <= 0 {
		window = DefaultWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.buffers[agentID], item)
	if len(buf) > window {
		buf = buf[len(buf)-window:]
	}
	s.buffers[agentID] = buf
	return nil
}

func (s *BufferStore) Clear(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buffers, agentID)
	return nil
}

var _ Store = (*BufferStore)(nil)
