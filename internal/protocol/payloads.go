package protocol

import "encoding/json"

// RconInfo is the RCON endpoint the bot uses to open its own session.
type RconInfo struct {
	Password string `json:"password"`
	Port     int    `json:"port"`
}

// StartupPayload accompanies server_startup.
type StartupPayload struct {
	Rcon RconInfo `json:"rcon"`
	PID  int      `json:"pid,omitempty"`
}

// PIDPayload accompanies server_pid.
type PIDPayload struct {
	PID int `json:"pid"`
}

// PlayerPayload accompanies player_joined and player_left.
type PlayerPayload struct {
	Player string `json:"player"`
}

// ChatPayload accompanies player_info.
type ChatPayload struct {
	Player  string `json:"player"`
	Message string `json:"message"`
}

// MessagePayload accompanies message in both directions.
type MessagePayload struct {
	Message string `json:"message"`
}

// CommandPayload accompanies command and mcdr_command.
type CommandPayload struct {
	Command string `json:"command"`
}

// CommandResult is the reply data for command.
type CommandResult struct {
	Response string `json:"response"`
}

// Occupation is the reply data for server_occupation.
type Occupation struct {
	CPU float64 `json:"cpu"`
	RAM float64 `json:"ram"`
}

// ParseSyncFlag extracts the synchronized flag from a server_startup reply.
// Only an object carrying "flag" or "sync_all_messages" supplies it; a bare
// value, including the sentinel for a reply without data, does not. ok is
// false when no flag could be found.
func ParseSyncFlag(raw json.RawMessage) (flag bool, ok bool) {
	if IsEmpty(raw) {
		return false, false
	}

	var obj struct {
		Flag            *bool `json:"flag"`
		SyncAllMessages *bool `json:"sync_all_messages"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false, false
	}
	switch {
	case obj.Flag != nil:
		return *obj.Flag, true
	case obj.SyncAllMessages != nil:
		return *obj.SyncAllMessages, true
	}
	return false, false
}
