package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// RetrieveThreshold is the minimum relevance score an episode needs to
	// be returned.
	RetrieveThreshold = 0.3

	// decayBaseHours is the base half-window of the decay curve; every
	// access stretches it by decayAccessBonus hours.
	decayBaseHours   = 168.0
	decayAccessBonus = 24.0

	// recentAccessBoost is applied when an episode was touched within the
	// last hour. Boosted scores never exceed 1.2x stored importance.
	recentAccessBoost = 1.2
)

// Episode is one remembered event with an importance weight that decays
// over time and is refreshed by access.
type Episode struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	Content      string    `json:"content"`
	Tags         []string  `json:"tags,omitempty"`
	Importance   float64   `json:"importance"`
	AccessCount  int       `json:"access_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Score computes the episode's current relevance at time now.
// Frequently accessed episodes decay slower; a very recent access adds a
// temporary boost on top.
func (e *Episode) Score(now time.Time) float64 {
	ageHours := now.Sub(e.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	halfWindow := decayBaseHours + decayAccessBonus*float64(e.AccessCount)
	current := e.Importance * math.Exp(-ageHours/halfWindow)

	if e.AccessCount > 0 && now.Sub(e.LastAccessed) < time.Hour {
		boosted := current * recentAccessBoost
		if limit := recentAccessBoost * e.Importance; boosted > limit {
			boosted = limit
		}
		current = boosted
	}
	return current
}

// EpisodicStore keeps episodes in memory and answers relevance queries.
// The clock is injectable so decay behavior can be tested deterministically.
type EpisodicStore struct {
	mu       sync.Mutex
	episodes map[string][]*Episode
	now      func() time.Time
}

func NewEpisodicStore() *EpisodicStore {
	return &EpisodicStore{
		episodes: make(map[string][]*Episode),
		now:      time.Now,
	}
}

// NewEpisodicStoreWithClock substitutes the time source. Used by tests.
func NewEpisodicStoreWithClock(now func() time.Time) *EpisodicStore {
	s := NewEpisodicStore()
	s.now = now
	return s
}

// Record stores a new episode. Importance outside [0, 1] is clamped.
func (s *EpisodicStore) Record(ctx context.Context, agentID, content string, importance float64, tags []string) (*Episode, error) {
	if content == "" {
		return nil, fmt.Errorf("episode content is required")
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ep := &Episode{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Content:    content,
		Tags:       tags,
		Importance: importance,
		CreatedAt:  s.now(),
	}
	s.episodes[agentID] = append(s.episodes[agentID], ep)
	return ep, nil
}

// Retrieve returns up to topK episodes matching query, scored by decayed
// importance, highest first. Only episodes within timeWindowHours (zero
// means unbounded) and scoring at or above the threshold are returned.
// Returned episodes have their access counters bumped.
func (s *EpisodicStore) Retrieve(ctx context.Context, agentID, query string, timeWindowHours float64, topK int) ([]*Episode, error) {
	if topK <= 0 {
		topK = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	needle := strings.ToLower(query)

	var matched []*Episode
	for _, ep := range s.episodes[agentID] {
		if timeWindowHours > 0 && now.Sub(ep.CreatedAt).Hours() > timeWindowHours {
			continue
		}
		if needle != "" && !episodeMatches(ep, needle) {
			continue
		}
		if ep.Score(now) < RetrieveThreshold {
			continue
		}
		matched = append(matched, ep)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Score(now) > matched[j].Score(now)
	})
	if len(matched) > topK {
		matched = matched[:topK]
	}

	out := make([]*Episode, len(matched))
	for i, ep := range matched {
		ep.AccessCount++
		ep.LastAccessed = now
		cp := *ep
		out[i] = &cp
	}
	return out, nil
}

func episodeMatches(ep *Episode, needle string) bool {
	if strings.Contains(strings.ToLower(ep.Content), needle) {
		return true
	}
	for _, tag := range ep.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Consolidate drops stale episodes: older than a day, decayed below the
// retrieval threshold, and untouched for a day. Returns how many were
// removed.
func (s *EpisodicStore) Consolidate(ctx context.Context, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	kept := s.episodes[agentID][:0]
	removed := 0
	for _, ep := range s.episodes[agentID] {
		stale := now.Sub(ep.CreatedAt) > 24*time.Hour &&
			ep.Score(now) <= RetrieveThreshold &&
			(ep.LastAccessed.IsZero() || now.Sub(ep.LastAccessed) > 24*time.Hour)
		if stale {
			removed++
			continue
		}
		kept = append(kept, ep)
	}
	s.episodes[agentID] = kept
	return removed, nil
}

// Count reports the number of stored episodes for an agent.
func (s *EpisodicStore) Count(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.episodes[agentID])
}
