// Package bridge implements the two channels between the game server and the
// bot: the Sender originates requests and waits for replies, the Listener
// accepts requests from the bot and answers them.
package bridge

import (
	"context"
	"errors"

	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
)

var (
	// ErrUnavailable is returned when no connection could be established or
	// every attempt failed.
	ErrUnavailable = errors.New("bot unavailable")

	// ErrProtocolFault is returned when the bot answered success:false.
	ErrProtocolFault = errors.New("protocol fault")
)

// Transport is the connection contract both channels run on.
// *transport.Connection satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(v any) error
	Receive(v any) error
	Ping() error
	Close() error
	Connected() bool
}

// Executor runs commands from the bot against the game server.
type Executor interface {
	// RunCommand executes a console command and returns its output. Without
	// RCON the command is written to the server console and the output is a
	// fixed notice; with neither it fails, and the bot gets success:false.
	RunCommand(ctx context.Context, command string) (string, error)
	// RunPluginCommand executes a bridge-local command with no output.
	RunPluginCommand(ctx context.Context, command string) error
	PlayerList(ctx context.Context) ([]string, error)
	Broadcast(ctx context.Context, message string) error
	// Occupation reports process usage; ok is false when no process is attached.
	Occupation(ctx context.Context) (occ protocol.Occupation, ok bool)
}

// Emitter receives the listener's connection notifications.
// *events.EventBus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}
