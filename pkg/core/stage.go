package core

import (
	"fmt"
	"sync"
)

// StageSequence numbers stages per name so that processes executing the same
// program derive identical stage ids.
type StageSequence struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *StageSequence) Next(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	id := fmt.Sprintf("%s-%d", name, s.counts[name])
	s.counts[name]++
	return id
}
