package dialer

import (
	"context"
	"time"

	"aridialer/internal/database"
)

// OriginateRequest describes a new outbound leg placed into the Stasis app
type OriginateRequest struct {
	Endpoint  string
	App       string
	AppArgs   string
	CallerID  string
	ChannelID string
	Timeout   int // seconds
}

// RecordRequest describes a bridge recording
type RecordRequest struct {
	Name        string
	Format      string
	MaxDuration time.Duration
	MaxSilence  time.Duration
	IfExists    string
	Beep        bool
}

// Control is the subset of the telephony control protocol the engine drives.
type Control interface {
	Originate(ctx context.Context, req OriginateRequest) error
	Answer(ctx context.Context, channelID string) error
	Hangup(ctx context.Context, channelID string) error
	Play(ctx context.Context, channelID, playbackID, media string) error
	StopPlayback(ctx context.Context, playbackID string) error
	CreateBridge(ctx context.Context, bridgeID string) error
	AddChannel(ctx context.Context, bridgeID, channelID string) error
	DestroyBridge(ctx context.Context, bridgeID string) error
	RecordBridge(ctx context.Context, bridgeID string, req RecordRequest) error
	StopRecording(ctx context.Context, name string) error
}

// CampaignStore reads campaigns and moves campaign numbers through their statuses
type CampaignStore interface {
	ListRunningCampaigns(ctx context.Context) ([]database.Campaign, error)
	GetCampaignStatus(ctx context.Context, id int64) (string, error)
	ListPendingNumbers(ctx context.Context, campaignID int64, limit int) ([]database.CampaignNumber, error)
	MarkNumberCalling(ctx context.Context, id int64) error
	MarkNumberStatus(ctx context.Context, id int64, status string) error
	ScheduleRetry(ctx context.Context, id int64, delay time.Duration) error
	GetNumberAttempts(ctx context.Context, id int64) (int, error)
	CountOpenNumbers(ctx context.Context, campaignID int64) (int, error)
	MarkCampaignCompleted(ctx context.Context, id int64) error
}

// CDRWriter persists per-call timing and outcome
type CDRWriter interface {
	CreateRecord(ctx context.Context, campaignID, numberID int64, channelID, callerID, destination string, start time.Time) error
	UpdateAnswer(ctx context.Context, channelID string, at time.Time) error
	UpdateAgent(ctx context.Context, channelID, agent string) error
	UpdateRecording(ctx context.Context, channelID, path string) error
	UpdateEnd(ctx context.Context, channelID string, end time.Time, duration, billsec int, disposition string) error
}

// IVRStore loads menu definitions
type IVRStore interface {
	GetMenu(ctx context.Context, id int64) (*database.IVRMenu, error)
	GetActions(ctx context.Context, menuID int64) ([]database.IVRAction, error)
}

// Observer receives session lifecycle notifications
type Observer interface {
	Publish(ev SessionEvent)
}

// SessionEvent is what an Observer sees
type SessionEvent struct {
	Type        string    `json:"type"`
	ChannelID   string    `json:"channel_id"`
	CampaignID  int64     `json:"campaign_id"`
	Phone       string    `json:"phone"`
	State       string    `json:"state"`
	Disposition string    `json:"disposition,omitempty"`
	Time        time.Time `json:"time"`
}

type nopObserver struct{}

func (nopObserver) Publish(SessionEvent) {}

// Timer is a cancellable scheduled callback
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the per-call and per-menu timers
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
