package dialer

import (
	"errors"
	"sync"
	"time"
)

var ErrDuplicateSession = errors.New("session already exists for channel")

// SessionTable tracks every in-flight call by customer channel id, with a
// secondary index from agent channel to customer channel.
type SessionTable struct {
	sessions map[string]*Session
	agents   map[string]string // agent channel -> customer channel
	mu       sync.RWMutex
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[string]*Session),
		agents:   make(map[string]string),
	}
}

// Add registers a new session. At most one session exists per channel id.
func (t *SessionTable) Add(s *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[s.ChannelID]; ok {
		return ErrDuplicateSession
	}
	t.sessions[s.ChannelID] = s
	return nil
}

func (t *SessionTable) Get(channelID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[channelID]
	return s, ok
}

// LinkAgent indexes an agent leg against its customer session
func (t *SessionTable) LinkAgent(agentID, customerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[customerID]; ok {
		t.agents[agentID] = customerID
	}
}

// FindByAgent retrieves the session an agent leg belongs to
func (t *SessionTable) FindByAgent(agentID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	customerID, ok := t.agents[agentID]
	if !ok {
		return nil, false
	}
	s, ok := t.sessions[customerID]
	return s, ok
}

// Remove drops a session and its agent index entry
func (t *SessionTable) Remove(channelID string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[channelID]
	if !ok {
		return nil, false
	}
	delete(t.sessions, channelID)
	for agent, customer := range t.agents {
		if customer == channelID {
			delete(t.agents, agent)
		}
	}
	return s, true
}

func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// ForCampaign returns the sessions belonging to one campaign
func (t *SessionTable) ForCampaign(campaignID int64) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Session
	for _, s := range t.sessions {
		if s.Campaign.ID == campaignID {
			out = append(out, s)
		}
	}
	return out
}

// GetStale returns dialing sessions older than their own dial timeout plus grace.
// Used by the reaper to find originations whose events never arrived.
func (t *SessionTable) GetStale(now time.Time, grace time.Duration) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var stale []*Session
	for _, s := range t.sessions {
		limit := time.Duration(s.Campaign.DialTimeout)*time.Second + grace
		if s.State() == StateDialing && now.Sub(s.StartTime) > limit {
			stale = append(stale, s)
		}
	}
	return stale
}

// List returns all sessions (for monitoring)
func (t *SessionTable) List() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
