package dialer

import "strings"

// Event is a typed notification from the control protocol's event stream
type Event interface {
	Kind() string
}

// StasisStart: a channel entered the application
type StasisStart struct {
	ChannelID   string
	ChannelName string
	Args        []string
}

// StasisEnd: a channel left the application
type StasisEnd struct {
	ChannelID string
}

type ChannelDestroyed struct {
	ChannelID string
	Cause     int
	CauseText string
}

type ChannelLeftBridge struct {
	ChannelID string
	BridgeID  string
}

type DTMFReceived struct {
	ChannelID string
	Digit     string
}

type PlaybackFinished struct {
	PlaybackID string
	ChannelID  string
}

func (StasisStart) Kind() string       { return "StasisStart" }
func (StasisEnd) Kind() string         { return "StasisEnd" }
func (ChannelDestroyed) Kind() string  { return "ChannelDestroyed" }
func (ChannelLeftBridge) Kind() string { return "ChannelLeftBridge" }
func (DTMFReceived) Kind() string      { return "ChannelDtmfReceived" }
func (PlaybackFinished) Kind() string  { return "PlaybackFinished" }

// ParseArgs turns Stasis application arguments into a map. Arguments may be
// passed as separate elements or as a single comma separated string.
func ParseArgs(args []string) map[string]string {
	out := make(map[string]string)
	for _, a := range args {
		for _, kv := range strings.Split(a, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
			if ok && k != "" {
				out[k] = v
			}
		}
	}
	return out
}

// housekeeping reports channels the platform creates on its own behalf
func housekeeping(channelID, channelName string) bool {
	return strings.HasPrefix(channelID, "snoop-") ||
		strings.HasPrefix(channelName, "Snoop/") ||
		strings.HasPrefix(channelName, "Recorder/")
}
