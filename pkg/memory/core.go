package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SectionLimit is the hard cap on a core memory section, in characters.
// Writes that would exceed it fail without touching the section.
const SectionLimit = 2000

// CoreStore holds the always-in-context memory sections per agent
// (persona, operating instructions, user facts). Small by construction:
// every section is rendered into each prompt, so the cap is load-bearing.
type CoreStore struct {
	mu       sync.RWMutex
	sections map[string]map[string]string
}

func NewCoreStore() *CoreStore {
	return &CoreStore{
		sections: make(map[string]map[string]string),
	}
}

// Get returns the current content of a section, empty if never written.
func (s *CoreStore) Get(ctx context.Context, agentID, section string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sections[agentID][section], nil
}

// Set replaces a section wholesale.
func (s *CoreStore) Set(ctx context.Context, agentID, section, content string) error {
	if len(content) > SectionLimit {
		return fmt.Errorf("core memory section %q exceeds %d character limit (%d)", section, SectionLimit, len(content))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sections[agentID] == nil {
		s.sections[agentID] = make(map[string]string)
	}
	s.sections[agentID][section] = content
	return nil
}

// Append adds content to a section, newline-separated from existing text.
// If the result would exceed the limit the section is left unchanged.
func (s *CoreStore) Append(ctx context.Context, agentID, section, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.sections[agentID][section]
	next := content
	if existing != "" {
		next = existing + "\n" + content
	}
	if len(next) > SectionLimit {
		return fmt.Errorf("core memory section %q would exceed %d character limit (%d)", section, SectionLimit, len(next))
	}

	if s.sections[agentID] == nil {
		s.sections[agentID] = make(map[string]string)
	}
	s.sections[agentID][section] = next
	return nil
}

// Delete removes a section.
func (s *CoreStore) Delete(ctx context.Context, agentID, section string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sections[agentID], section)
	return nil
}

// Render produces the prompt block for an agent's core memory: sections in
// name order, each under a header. Empty when nothing is stored.
func (s *CoreStore) Render(ctx context.Context, agentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sections := s.sections[agentID]
	if len(sections) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "## %s\n%s\n\n", name, sections[name])
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
