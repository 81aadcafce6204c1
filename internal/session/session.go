package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelminds/gradeboard/internal/dataset"
	"github.com/modelminds/gradeboard/internal/model"
)

// Role identifies how the user self-reported. Unauthenticated by design.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether the role is one of the two known values.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// Profile is the transient record for one interactive session. It owns
// the working dataset and the lazily fitted model artifact; both are
// discarded with the session.
type Profile struct {
	ID           string
	Role         Role
	Student      *dataset.StudentRecord
	TeacherEmail string
	CreatedAt    time.Time

	mu       sync.Mutex
	lastSeen time.Time
	records  []dataset.StudentRecord
	artifact *model.Artifact
	stats    model.Stats
}

// Established reports whether role and identity have been set.
func (p *Profile) Established() bool {
	return p.Role.Valid()
}

// Records returns the session's working dataset.
func (p *Profile) Records() []dataset.StudentRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records
}

// SetRecords replaces the working dataset, e.g. after a marksheet upload.
// Any fitted artifact is discarded so the next access refits.
func (p *Profile) SetRecords(records []dataset.StudentRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = records
	p.artifact = nil
}

// SetStudent replaces the active student record, e.g. after a metric
// entry form submission.
func (p *Profile) SetStudent(rec dataset.StudentRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Student = &rec
}

// Model returns the session's fitted artifact and its evaluation stats,
// fitting once on first access. The artifact is read-only afterwards.
func (p *Profile) Model() (model.Artifact, model.Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.artifact == nil {
		artifact, stats, err := model.Fit(p.records)
		if err != nil {
			return model.Artifact{}, model.Stats{}, err
		}
		p.artifact = &artifact
		p.stats = stats
	}

	return *p.artifact, p.stats, nil
}

// Manager owns all live session profiles. Each profile is independent;
// the manager lock only guards the map.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Profile
	ttl      time.Duration
	done     chan struct{}
}

// NewManager creates a session manager. Sessions idle longer than ttl are
// swept in the background.
func NewManager(ttl time.Duration) *Manager {
	m := &Manager{
		sessions: make(map[string]*Profile),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Create registers a new session profile with the given role and working
// dataset. Repeating the identity step starts from scratch.
func (m *Manager) Create(role Role, records []dataset.StudentRecord) *Profile {
	now := time.Now()
	p := &Profile{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: now,
		lastSeen:  now,
		records:   records,
	}

	m.mu.Lock()
	m.sessions[p.ID] = p
	m.mu.Unlock()

	return p
}

// Get returns the profile for a session ID, refreshing its idle timer.
func (m *Manager) Get(id string) (*Profile, bool) {
	m.mu.RLock()
	p, ok := m.sessions[id]
	m.mu.RUnlock()

	if ok {
		p.mu.Lock()
		p.lastSeen = time.Now()
		p.mu.Unlock()
	}
	return p, ok
}

// Destroy discards a session and all state it owns.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the background sweeper.
func (m *Manager) Close() {
	close(m.done)
}

func (m *Manager) sweep() {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.ttl)
			m.mu.Lock()
			for id, p := range m.sessions {
				p.mu.Lock()
				idle := p.lastSeen.Before(cutoff)
				p.mu.Unlock()
				if idle {
					delete(m.sessions, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
