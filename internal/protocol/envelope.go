package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Outbound message types (this side -> bot).
const (
	TypeServerStartup  = "server_startup"
	TypeServerShutdown = "server_shutdown"
	TypePlayerJoined   = "player_joined"
	TypePlayerLeft     = "player_left"
	TypePlayerChat     = "player_info"
	TypeMessage        = "message"
	TypeServerPID      = "server_pid"
)

// Inbound message types (bot -> this side).
const (
	TypeCommand     = "command"
	TypeMcdrCommand = "mcdr_command"
	TypePlayerList  = "player_list"
	TypeOccupation  = "server_occupation"
)

// ClientType is sent in the "type" handshake header.
const ClientType = "McdReforged"

// Envelope is the request unit exchanged after the handshake.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the reply unit. Data is meaningless when Success is false.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope, marshalling payload into Data.
// A nil payload leaves Data absent.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s payload: %v", ErrCodecFault, typ, err)
	}
	env.Data = data
	return env, nil
}

// DecodeData unmarshals the envelope payload into v. An absent payload
// leaves v untouched.
func (e Envelope) DecodeData(v any) error {
	if IsEmpty(e.Data) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrCodecFault, e.Type, err)
	}
	return nil
}

// OK builds a successful reply carrying data.
func OK(data any) (Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{}, fmt.Errorf("%w: reply: %v", ErrCodecFault, err)
	}
	return Response{Success: true, Data: raw}, nil
}

// Fail builds a {success:false} reply.
func Fail() Response {
	return Response{Success: false}
}

// IsEmpty reports whether raw is absent or JSON null.
func IsEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// AuthInfo identifies this server to the bot.
type AuthInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// HandshakeHeader returns the upgrade headers carrying the encoded credentials.
func HandshakeHeader(auth AuthInfo) (http.Header, error) {
	info, err := Encode(auth)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("type", ClientType)
	header.Set("info", info)
	return header, nil
}

// ParseHandshakeHeader is the accepting side of HandshakeHeader.
func ParseHandshakeHeader(header http.Header) (AuthInfo, error) {
	var auth AuthInfo
	if header.Get("type") != ClientType {
		return auth, fmt.Errorf("%w: unexpected client type %q", ErrCodecFault, header.Get("type"))
	}
	if err := Decode(header.Get("info"), &auth); err != nil {
		return auth, err
	}
	return auth, nil
}
