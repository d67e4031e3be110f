package dialer

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"aridialer/internal/database"
)

// State is the lifecycle position of a call session
type State int

const (
	StateDialing State = iota
	StateAnswered
	StateIVR
	StateBridging
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateAnswered:
		return "answered"
	case StateIVR:
		return "ivr"
	case StateBridging:
		return "bridging"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Session is one customer call from origination to cleanup. Identity fields
// are set at creation and never change; everything below mu is guarded by it.
type Session struct {
	ChannelID string
	Campaign  database.Campaign
	NumberID  int64
	Phone     string
	StartTime time.Time

	log *logrus.Entry

	mu           sync.Mutex
	state        State
	answerTime   time.Time
	agentChannel string
	bridgeID     string
	recordings   []Recording
	callTimer    Timer
	ivr          *ivrRun

	cleanup atomic.Bool
}

func newSession(log *logrus.Entry, channelID string, c database.Campaign, n database.CampaignNumber, start time.Time) *Session {
	return &Session{
		ChannelID: channelID,
		Campaign:  c,
		NumberID:  n.ID,
		Phone:     n.PhoneNumber,
		StartTime: start,
		log:       log.WithFields(logrus.Fields{"channel": channelID, "campaign": c.ID}),
		state:     StateDialing,
	}
}

// beginCleanup flips the cleanup guard. Only the first caller gets true.
func (s *Session) beginCleanup() bool {
	return s.cleanup.CompareAndSwap(false, true)
}

func (s *Session) cleaning() bool {
	return s.cleanup.Load()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateEnded {
		s.state = st
	}
	s.mu.Unlock()
}

// markAnswered moves a dialing session to answered. It returns false for any
// other state so duplicate entry events are no-ops.
func (s *Session) markAnswered(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDialing || s.cleaning() {
		return false
	}
	s.state = StateAnswered
	s.answerTime = at
	return true
}

func (s *Session) answered() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answerTime, !s.answerTime.IsZero()
}

func (s *Session) AgentChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentChannel
}

func (s *Session) BridgeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridgeID
}

// attachBridge records the session's bridge. It refuses once cleanup has
// started, in which case the caller owns the bridge and must destroy it.
func (s *Session) attachBridge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaning() || s.bridgeID != "" {
		return false
	}
	s.bridgeID = id
	return true
}

// attachAgent sets the agent leg once. The agent channel is immutable after.
func (s *Session) attachAgent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaning() || s.agentChannel != "" {
		return false
	}
	s.agentChannel = id
	s.state = StateBridging
	return true
}

func (s *Session) addRecording(r Recording) {
	s.mu.Lock()
	s.recordings = append(s.recordings, r)
	s.mu.Unlock()
}

func (s *Session) setCallTimer(t Timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaning() {
		return false
	}
	s.callTimer = t
	return true
}

// setIVR installs a new menu run, closing the previous one
func (s *Session) setIVR(run *ivrRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaning() {
		return false
	}
	if s.ivr != nil {
		s.ivr.close()
	}
	s.ivr = run
	s.state = StateIVR
	return true
}

func (s *Session) currentIVR() *ivrRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ivr
}

// teardown is what cleanup needs from a session, captured once
type teardown struct {
	agentChannel string
	bridgeID     string
	answerTime   time.Time
	state        State
}

// end stops timers, closes any IVR run and marks the session ended.
// Called only by the cleanup guard winner.
func (s *Session) end() teardown {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callTimer != nil {
		s.callTimer.Stop()
		s.callTimer = nil
	}
	if s.ivr != nil {
		s.ivr.close()
	}
	td := teardown{
		agentChannel: s.agentChannel,
		bridgeID:     s.bridgeID,
		answerTime:   s.answerTime,
		state:        s.state,
	}
	s.state = StateEnded
	return td
}

func (s *Session) logger() *logrus.Entry {
	return s.log
}

func (s *Session) campaignLabel() string {
	return strconv.FormatInt(s.Campaign.ID, 10)
}

// SessionInfo is a read-only view of a session
type SessionInfo struct {
	ChannelID    string     `json:"channel_id"`
	CampaignID   int64      `json:"campaign_id"`
	NumberID     int64      `json:"number_id"`
	Phone        string     `json:"phone"`
	State        string     `json:"state"`
	StartTime    time.Time  `json:"start_time"`
	AnswerTime   *time.Time `json:"answer_time,omitempty"`
	AgentChannel string     `json:"agent_channel,omitempty"`
	BridgeID     string     `json:"bridge_id,omitempty"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ChannelID:    s.ChannelID,
		CampaignID:   s.Campaign.ID,
		NumberID:     s.NumberID,
		Phone:        s.Phone,
		State:        s.state.String(),
		StartTime:    s.StartTime,
		AgentChannel: s.agentChannel,
		BridgeID:     s.bridgeID,
	}
	if !s.answerTime.IsZero() {
		at := s.answerTime
		info.AnswerTime = &at
	}
	return info
}
