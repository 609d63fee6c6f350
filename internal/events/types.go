// Package events defines the in-process notifications exchanged between the
// bridge, the game server adapter and the optional outer surfaces.
package events

// EventType identifies an event on the EventBus.
type EventType string

const (
	// Bridge connection events, emitted by the listener.
	EventBridgeConnected EventType = "bridge_connected"
	EventBridgeClosed    EventType = "bridge_closed"

	// Game server events, emitted by the relay.
	EventServerStartup EventType = "server_startup"
	EventServerStopped EventType = "server_stopped"
	EventPlayerJoined  EventType = "player_joined"
	EventPlayerLeft    EventType = "player_left"
	EventPlayerChat    EventType = "player_chat"
	EventRconReady     EventType = "rcon_ready"

	// Outbound chat relayed to the bot.
	EventMessageRelayed EventType = "message_relayed"

	// System events
	EventSyncFlagChanged EventType = "sync_flag_changed"
	EventHealthAlert     EventType = "health_alert"
	EventHeartbeat       EventType = "heartbeat"
	EventShutdown        EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerPayload accompanies player join, leave and chat events.
type PlayerPayload struct {
	Player  string `json:"player"`
	Message string `json:"message,omitempty"`
}

// MessagePayload accompanies EventMessageRelayed.
type MessagePayload struct {
	Message   string `json:"message"`
	Delivered bool   `json:"delivered"`
}

// SyncFlagPayload accompanies EventSyncFlagChanged.
type SyncFlagPayload struct {
	SyncAll bool `json:"sync_all_messages"`
}

// HealthAlertPayload accompanies EventHealthAlert.
type HealthAlertPayload struct {
	Check   string `json:"check"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// HeartbeatPayload accompanies EventHeartbeat.
type HeartbeatPayload struct {
	BotConnected  bool    `json:"bot_connected"`
	RconRunning   bool    `json:"rcon_running"`
	ServerRunning bool    `json:"server_running"`
	CPU           float64 `json:"cpu,omitempty"`
	RAM           float64 `json:"ram,omitempty"`
}
