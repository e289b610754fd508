// Package protocol defines the wire messages on the trusted-service
// boundary: the offline-recompute request/response and the change events
// streamed to observers.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeOfflineRequest  = "OFFLINE_REQUEST"
	TypeOfflineResponse = "OFFLINE_RESPONSE"
	TypeEvent           = "EVENT"
	TypeError           = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
