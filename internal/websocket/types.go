package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeTransition is a document state change
	EventTypeTransition EventType = "transition"
	// EventTypeCycle is the summary of a polling cycle
	EventTypeCycle EventType = "cycle"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	TaskID    string    `json:"task_id,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type         string        `json:"type"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Subscription narrows the events a client receives. Empty fields match
// everything.
type Subscription struct {
	Events      []EventType `json:"events"`
	RoutingKeys []string    `json:"routing_keys,omitempty"`
	FailedOnly  bool        `json:"failed_only,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *Subscription
	ConnectedAt  time.Time
	IP           string
	UserAgent    string
}
