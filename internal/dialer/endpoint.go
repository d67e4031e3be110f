package dialer

import (
	"fmt"
	"path"
	"strings"

	"aridialer/internal/database"
)

// Destination types for where an answered call goes
const (
	DestExten  = "exten"
	DestQueue  = "queue"
	DestIVR    = "ivr"
	DestCustom = "custom"
)

// TrunkEndpoint builds the dial string for a number on the campaign trunk.
// Custom trunks substitute ${EXTEN} in their value.
func TrunkEndpoint(c database.Campaign, number string) string {
	switch strings.ToLower(c.TrunkType) {
	case "custom":
		return strings.ReplaceAll(c.TrunkValue, "${EXTEN}", number)
	case "pjsip":
		return fmt.Sprintf("PJSIP/%s@%s", number, c.TrunkValue)
	case "sip":
		return fmt.Sprintf("SIP/%s/%s", c.TrunkValue, number)
	}
	return fmt.Sprintf("%s/%s@%s", strings.ToUpper(c.TrunkType), number, c.TrunkValue)
}

// QueueEndpoint reaches a queue through a Local channel
func QueueEndpoint(queue, context string) string {
	return fmt.Sprintf("Local/%s@%s", queue, context)
}

// CustomerCallerID presents the customer's number to the agent
func CustomerCallerID(phone string) string {
	return fmt.Sprintf(`"Customer %s" <%s>`, phone, phone)
}

// PromptMedia returns the media URI for an IVR prompt file
func PromptMedia(prefix, audioFile string) string {
	ext := path.Ext(audioFile)
	switch strings.ToLower(ext) {
	case ".wav", ".gsm", ".ulaw", ".alaw":
		audioFile = strings.TrimSuffix(audioFile, ext)
	}
	return prefix + audioFile
}
