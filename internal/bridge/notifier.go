package bridge

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// Requester is the request side of a Sender.
type Requester interface {
	Request(ctx context.Context, typ string, payload any) (json.RawMessage, error)
}

// FlagStore persists the synchronized flag.
type FlagStore interface {
	SetSyncAll(flag bool) error
}

// ServerInfo describes the running game server.
type ServerInfo interface {
	// RconInfo is read fresh on every call.
	RconInfo() (protocol.RconInfo, error)
	// PID returns 0 when no process is attached.
	PID() int
}

// Notifier turns game server events into requests to the bot. Failures are
// logged and returned; nothing here is fatal.
type Notifier struct {
	sender Requester
	flags  FlagStore
	server ServerInfo
	logger zerolog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(sender Requester, flags FlagStore, server ServerInfo) *Notifier {
	return &Notifier{
		sender: sender,
		flags:  flags,
		server: server,
		logger: util.ComponentLogger("notifier"),
	}
}

// NotifyStartup reports the server start with its RCON credentials and
// stores the synchronized flag the bot answers with.
func (n *Notifier) NotifyStartup(ctx context.Context) error {
	info, err := n.server.RconInfo()
	if err != nil {
		n.logger.Error().Err(err).Msg("cannot read RCON settings, startup not reported")
		return err
	}

	data, err := n.sender.Request(ctx, protocol.TypeServerStartup, protocol.StartupPayload{
		Rcon: info,
		PID:  n.server.PID(),
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to report server startup")
		return err
	}
	n.logger.Info().Msg("server startup reported")

	flag, ok := protocol.ParseSyncFlag(data)
	if !ok {
		n.logger.Warn().RawJSON("data", data).Msg("startup reply carries no sync flag")
		return nil
	}
	if err := n.flags.SetSyncAll(flag); err != nil {
		n.logger.Error().Err(err).Msg("failed to save sync flag")
		return err
	}
	n.logger.Info().Bool("sync_all_messages", flag).Msg("sync flag updated")
	return nil
}

// NotifyShutdown reports the server stop.
func (n *Notifier) NotifyShutdown(ctx context.Context) error {
	return n.notify(ctx, protocol.TypeServerShutdown, nil, "server shutdown")
}

// NotifyPlayerJoined reports a player joining.
func (n *Notifier) NotifyPlayerJoined(ctx context.Context, player string) error {
	return n.notify(ctx, protocol.TypePlayerJoined, protocol.PlayerPayload{Player: player}, "player joined "+player)
}

// NotifyPlayerLeft reports a player leaving.
func (n *Notifier) NotifyPlayerLeft(ctx context.Context, player string) error {
	return n.notify(ctx, protocol.TypePlayerLeft, protocol.PlayerPayload{Player: player}, "player left "+player)
}

// NotifyChat forwards one chat line.
func (n *Notifier) NotifyChat(ctx context.Context, player, message string) error {
	return n.notify(ctx, protocol.TypePlayerChat,
		protocol.ChatPayload{Player: player, Message: message}, "chat from "+player)
}

// NotifyPID reports the game server process id.
func (n *Notifier) NotifyPID(ctx context.Context) error {
	pid := n.server.PID()
	if pid == 0 {
		n.logger.Warn().Msg("no server process attached, pid not reported")
		return nil
	}
	return n.notify(ctx, protocol.TypeServerPID, protocol.PIDPayload{PID: pid}, "server pid")
}

// SendChatMessage relays text to the bot's chat. It reports whether the bot
// accepted it.
func (n *Notifier) SendChatMessage(ctx context.Context, text string) bool {
	n.logger.Info().Str("message", text).Msg("relaying message to bot")
	return n.notify(ctx, protocol.TypeMessage, protocol.MessagePayload{Message: text}, "message") == nil
}

func (n *Notifier) notify(ctx context.Context, typ string, payload any, what string) error {
	if _, err := n.sender.Request(ctx, typ, payload); err != nil {
		n.logger.Error().Err(err).Str("type", typ).Msg("failed to report " + what)
		return err
	}
	n.logger.Info().Str("type", typ).Msg("reported " + what)
	return nil
}
