package dialer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"aridialer/internal/database"
)

func TestTrunkEndpoint(t *testing.T) {
	tests := []struct {
		trunkType  string
		trunkValue string
		want       string
	}{
		{"pjsip", "carrier", "PJSIP/5551000@carrier"},
		{"PJSIP", "carrier", "PJSIP/5551000@carrier"},
		{"sip", "legacy", "SIP/legacy/5551000"},
		{"iax2", "remote", "IAX2/5551000@remote"},
		{"custom", "Local/9${EXTEN}@outbound", "Local/95551000@outbound"},
	}
	for _, tt := range tests {
		t.Run(tt.trunkType, func(t *testing.T) {
			c := database.Campaign{TrunkType: tt.trunkType, TrunkValue: tt.trunkValue}
			assert.Equal(t, tt.want, TrunkEndpoint(c, "5551000"))
		})
	}
}

func TestAgentEndpoints(t *testing.T) {
	assert.Equal(t, "Local/sales@from-internal", QueueEndpoint("sales", "from-internal"))
	assert.Equal(t, `"Customer 5551000" <5551000>`, CustomerCallerID("5551000"))
}

func TestPromptMedia(t *testing.T) {
	assert.Equal(t, "sound:dialer/welcome", PromptMedia("sound:dialer/", "welcome.wav"))
	assert.Equal(t, "sound:dialer/welcome", PromptMedia("sound:dialer/", "welcome.GSM"))
	assert.Equal(t, "sound:dialer/menus/main", PromptMedia("sound:dialer/", "menus/main"))
	assert.Equal(t, "sound:dialer/promo.mp3", PromptMedia("sound:dialer/", "promo.mp3"))
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, map[string]string{"campaign": "3", "number": "41"}, ParseArgs([]string{"campaign=3,number=41"}))
	assert.Equal(t, map[string]string{"type": "agent", "call": "dialer-1-2-3"}, ParseArgs([]string{"type=agent", "call=dialer-1-2-3"}))
	assert.Empty(t, ParseArgs([]string{"", "noequals", "=x"}))
}

func TestHousekeepingChannels(t *testing.T) {
	assert.True(t, housekeeping("snoop-1234", ""))
	assert.True(t, housekeeping("1699.5", "Snoop/PJSIP/1001-0001"))
	assert.True(t, housekeeping("1699.6", "Recorder/bridge-1"))
	assert.False(t, housekeeping("dialer-1-2-3", "PJSIP/carrier-0001"))
}

func TestRecordingNameIsDatedAndUnique(t *testing.T) {
	a := recordingName("Spring Renewals!", "+1 555-1000", t0)
	b := recordingName("Spring Renewals!", "+1 555-1000", t0)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "2026/05/04/Spring_Renewals_-"), a)
	assert.True(t, strings.HasSuffix(a, "-1555-1000"), a)
}

func TestRecordingStoreTakeClears(t *testing.T) {
	rs := NewRecordingStore()
	rs.Add("b1", Recording{Name: "r1"})
	rs.Add("b1", Recording{Name: "r2"})

	assert.Equal(t, []Recording{{Name: "r1"}, {Name: "r2"}}, rs.Take("b1"))
	assert.Empty(t, rs.Take("b1"))
}
