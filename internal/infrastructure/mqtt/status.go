package mqtt

import (
	"encoding/json"
	"time"
)

// TopicPrefix is the root of every topic the bridge publishes on.
const TopicPrefix = "tariffbridge"

const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonGraceful   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// StatusTopic returns the retained status topic for a client.
//
// Example: tariffbridge/tariffbridge-1a2b3c4d/status
func StatusTopic(clientID string) string {
	return TopicPrefix + "/" + clientID + "/status"
}

// statusPayload is the JSON body of status and LWT messages.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildStatusPayload renders a status message. Marshalling a struct of
// strings cannot fail.
func buildStatusPayload(clientID, status, reason string, at time.Time) []byte {
	b, _ := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return b
}
