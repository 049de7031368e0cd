package client

import "time"

// Config controls how a Session connects and reconnects.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://relay.myzymo.app/ws.
	URL string

	// Token is the JWT presented at the upgrade.
	Token string

	// EventId is the chat room to join on connect.
	EventId string

	UserId   string
	UserName string

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration

	// Reconnect backoff: base delay doubles per attempt up to the max,
	// and the session gives up after MaxReconnectAttempts.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}
