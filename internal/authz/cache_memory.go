package authz

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DecisionEntry is the cached outcome of one permission check, together with
// the assignments that contributed to it so invalidation can be precise.
type DecisionEntry struct {
	Allowed       bool      `json:"allowed"`
	ActorID       int64     `json:"actorId"`
	EntityID      int64     `json:"entityId"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	AssignmentIDs []int64   `json:"assignmentIds,omitempty"`
	RoleIDs       []int64   `json:"roleIds,omitempty"`
	StampedAt     time.Time `json:"stampedAt"`
}

// MemoryConfig configures the process tier.
type MemoryConfig struct {
	// Capacity is the starting number of decision entries.
	Capacity int
	// MinCapacity and MaxCapacity bound adaptive resizing.
	MinCapacity int
	MaxCapacity int
	DecisionTTL time.Duration
	GrantSetTTL time.Duration
}

// DefaultMemoryConfig returns the default process-tier configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:    4096,
		MinCapacity: 1024,
		MaxCapacity: 65536,
		DecisionTTL: 5 * time.Minute,
		GrantSetTTL: 30 * time.Minute,
	}
}

// Memory is the in-process bounded cache tier. It is safe for concurrent use
// by request handlers and the invalidation subscriber.
type Memory struct {
	decisions *lru.LRU[string, DecisionEntry]
	grantSets *lru.LRU[int64, []AssignmentGrant]

	mu       sync.Mutex
	capacity int
	config   MemoryConfig
	hits     int64
	misses   int64
}

// NewMemory constructs the process tier.
func NewMemory(config MemoryConfig) *Memory {
	def := DefaultMemoryConfig()
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.MinCapacity <= 0 {
		config.MinCapacity = def.MinCapacity
	}
	if config.MaxCapacity < config.MinCapacity {
		config.MaxCapacity = def.MaxCapacity
	}
	if config.DecisionTTL <= 0 {
		config.DecisionTTL = def.DecisionTTL
	}
	if config.GrantSetTTL <= 0 {
		config.GrantSetTTL = def.GrantSetTTL
	}
	return &Memory{
		decisions: lru.NewLRU[string, DecisionEntry](config.Capacity, nil, config.DecisionTTL),
		grantSets: lru.NewLRU[int64, []AssignmentGrant](config.Capacity, nil, config.GrantSetTTL),
		capacity:  config.Capacity,
		config:    config,
	}
}

// GetDecision looks up a cached decision.
func (m *Memory) GetDecision(key string) (DecisionEntry, bool) {
	entry, ok := m.decisions.Get(key)
	m.record(ok)
	return entry, ok
}

// SetDecision stores a decision.
func (m *Memory) SetDecision(key string, entry DecisionEntry) {
	m.decisions.Add(key, entry)
}

// GetGrantSet looks up the cached assignment set for an actor.
func (m *Memory) GetGrantSet(actorID int64) ([]AssignmentGrant, bool) {
	set, ok := m.grantSets.Get(actorID)
	m.record(ok)
	return set, ok
}

// SetGrantSet stores the assignment set for an actor.
func (m *Memory) SetGrantSet(actorID int64, set []AssignmentGrant) {
	m.grantSets.Add(actorID, set)
}

// DropActor removes every entry belonging to the actor.
func (m *Memory) DropActor(actorID int64) {
	m.grantSets.Remove(actorID)
	for _, key := range m.decisions.Keys() {
		if entry, ok := m.decisions.Peek(key); ok && entry.ActorID == actorID {
			m.decisions.Remove(key)
		}
	}
}

// DropRole removes every decision a role contributed to and the grant sets
// of its holders.
func (m *Memory) DropRole(roleID int64) {
	affected := make(map[int64]struct{})
	for _, key := range m.decisions.Keys() {
		entry, ok := m.decisions.Peek(key)
		if !ok {
			continue
		}
		for _, id := range entry.RoleIDs {
			if id == roleID {
				m.decisions.Remove(key)
				affected[entry.ActorID] = struct{}{}
				break
			}
		}
	}
	for _, actorID := range m.grantSets.Keys() {
		set, ok := m.grantSets.Peek(actorID)
		if !ok {
			continue
		}
		for _, g := range set {
			if g.RoleID == roleID {
				m.grantSets.Remove(actorID)
				break
			}
		}
	}
	for actorID := range affected {
		m.grantSets.Remove(actorID)
	}
}

// DropResource removes every decision for the resource. Grant sets survive:
// they are keyed by actor and revalidated against the catalog on use.
func (m *Memory) DropResource(resource string) {
	for _, key := range m.decisions.Keys() {
		if entry, ok := m.decisions.Peek(key); ok && entry.Resource == resource {
			m.decisions.Remove(key)
		}
	}
}

// Purge empties both maps.
func (m *Memory) Purge() {
	m.decisions.Purge()
	m.grantSets.Purge()
}

func (m *Memory) record(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

// HitRate returns the hit rate since the last call and resets the window.
// The second return is false when the window saw no lookups.
func (m *Memory) HitRate() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.hits + m.misses
	if total == 0 {
		return 0, false
	}
	rate := float64(m.hits) / float64(total)
	m.hits, m.misses = 0, 0
	return rate, true
}

// Capacity reports the current decision capacity.
func (m *Memory) Capacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

// Adapt resizes the cache based on the observed hit rate: below 50% the
// capacity doubles up to the ceiling, above 90% it halves down to the floor.
// It returns the new capacity and whether a resize happened.
func (m *Memory) Adapt() (int, bool) {
	rate, ok := m.HitRate()
	if !ok {
		return m.Capacity(), false
	}

	m.mu.Lock()
	next := m.capacity
	switch {
	case rate < 0.5 && m.capacity < m.config.MaxCapacity:
		next = m.capacity * 2
		if next > m.config.MaxCapacity {
			next = m.config.MaxCapacity
		}
	case rate > 0.9 && m.capacity > m.config.MinCapacity:
		next = m.capacity / 2
		if next < m.config.MinCapacity {
			next = m.config.MinCapacity
		}
	}
	if next == m.capacity {
		m.mu.Unlock()
		return next, false
	}
	m.capacity = next
	m.mu.Unlock()

	m.decisions.Resize(next)
	m.grantSets.Resize(next)
	return next, true
}
