// models/websocket.go
package models

import (
	"time"
)

// WebSocket Message Types
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	UserID    string      `json:"userId,omitempty"`
	GroupID   string      `json:"groupId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WSEmergencySnapshot carries the full Emergency document pushed to every
// subscriber when the change stream reports a mutation.
type WSEmergencySnapshot struct {
	EmergencyID string     `json:"emergencyId"`
	GroupID     string     `json:"groupId,omitempty"`
	Snapshot    *Emergency `json:"snapshot"`
	Timestamp   time.Time  `json:"timestamp"`
}

// WSAlert is an ephemeral, non-persisted alert pushed to a connected client.
type WSAlert struct {
	EmergencyID string            `json:"emergencyId"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// WS message type constants
const (
	WSTypeEmergencySnapshot = "emergency_snapshot"
	WSTypeEmergencyAlert    = "emergency_alert"
	WSTypeLocationUpdate    = "location_update"
	WSTypePing              = "ping"
	WSTypePong              = "pong"
)
