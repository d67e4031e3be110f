package database

import "time"

// Estados de campaña
const (
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignStopped   = "stopped"
	CampaignCompleted = "completed"
)

// Estados de número
const (
	NumberPending  = "pending"
	NumberCalling  = "calling"
	NumberAnswered = "answered"
	NumberFailed   = "failed"
)

// Campaign representa una campaña de marcación saliente
type Campaign struct {
	ID              int64     `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Status          string    `db:"status" json:"status"` // running, paused, stopped, completed
	TrunkType       string    `db:"trunk_type" json:"trunk_type"`
	TrunkValue      string    `db:"trunk_value" json:"trunk_value"`
	CallerID        string    `db:"callerid" json:"callerid"`
	AgentDestType   string    `db:"agent_dest_type" json:"agent_dest_type"` // exten, queue, ivr, custom
	AgentDestValue  string    `db:"agent_dest_value" json:"agent_dest_value"`
	ConcurrentCalls int       `db:"concurrent_calls" json:"concurrent_calls"`
	DialTimeout     int       `db:"dial_timeout" json:"dial_timeout"`
	CallTimeout     int       `db:"call_timeout" json:"call_timeout"`
	RecordCalls     bool      `db:"record_calls" json:"record_calls"`
	RetryTimes      int       `db:"retry_times" json:"retry_times"`
	RetryDelay      int       `db:"retry_delay" json:"retry_delay"` // segundos
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// CampaignNumber representa un número a marcar dentro de una campaña
type CampaignNumber struct {
	ID            int64      `db:"id" json:"id"`
	CampaignID    int64      `db:"campaign_id" json:"campaign_id"`
	PhoneNumber   string     `db:"phone_number" json:"phone_number"`
	Status        string     `db:"status" json:"status"`
	Attempts      int        `db:"attempts" json:"attempts"`
	LastAttempt   *time.Time `db:"last_attempt" json:"last_attempt"`
	NextAttemptAt *time.Time `db:"next_attempt_at" json:"next_attempt_at"`
}

// CDR representa el registro de una llamada originada
type CDR struct {
	ID               int64      `db:"id" json:"id"`
	CampaignID       int64      `db:"campaign_id" json:"campaign_id"`
	CampaignNumberID int64      `db:"campaign_number_id" json:"campaign_number_id"`
	ChannelID        string     `db:"channel_id" json:"channel_id"`
	CallerID         string     `db:"callerid" json:"callerid"`
	Destination      string     `db:"destination" json:"destination"`
	Agent            *string    `db:"agent" json:"agent"`
	StartTime        time.Time  `db:"start_time" json:"start_time"`
	AnswerTime       *time.Time `db:"answer_time" json:"answer_time"`
	EndTime          *time.Time `db:"end_time" json:"end_time"`
	Duration         int        `db:"duration" json:"duration"`
	Billsec          int        `db:"billsec" json:"billsec"`
	Disposition      string     `db:"disposition" json:"disposition"`
	RecordingFile    *string    `db:"recording_file" json:"recording_file"`
}

// IVRMenu representa un menú de respuesta de voz
type IVRMenu struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	AudioFile string `db:"audio_file" json:"audio_file"`
	Timeout   int    `db:"timeout" json:"timeout"` // segundos tras terminar el audio
}

// IVRAction asocia un dígito DTMF (o t / i) a una acción
type IVRAction struct {
	ID          int64  `db:"id" json:"id"`
	MenuID      int64  `db:"ivr_menu_id" json:"ivr_menu_id"`
	Digit       string `db:"dtmf_digit" json:"dtmf_digit"`
	ActionType  string `db:"action_type" json:"action_type"` // exten, queue, hangup, goto_ivr
	ActionValue string `db:"action_value" json:"action_value"`
}
