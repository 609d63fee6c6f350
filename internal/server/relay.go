package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// ErrRelayDisabled is returned by ChatCommand while the bot syncs every
// chat line itself.
var ErrRelayDisabled = errors.New("chat relay command disabled")

// consolePlayer is the sender name for chat commands typed on the console.
const consolePlayer = "Console"

// NoRconResponse is the command reply when the command went to the console
// and produced no captured output.
const NoRconResponse = "Command sent, but RCON is not connected so there is no output."

// Notifier reports game events to the bot.
type Notifier interface {
	NotifyStartup(ctx context.Context) error
	NotifyShutdown(ctx context.Context) error
	NotifyPlayerJoined(ctx context.Context, player string) error
	NotifyPlayerLeft(ctx context.Context, player string) error
	NotifyChat(ctx context.Context, player, message string) error
	NotifyPID(ctx context.Context) error
	SendChatMessage(ctx context.Context, text string) bool
}

// Rcon is an RCON session. *RconSession satisfies it.
type Rcon interface {
	Attach(info protocol.RconInfo) error
	Execute(command string) (string, error)
	Running() bool
	Close() error
}

// Console writes lines to the server's stdin. *ProcessManager satisfies it.
type Console interface {
	WriteLine(line string) error
}

// Occupier samples process usage. *ProcessManager satisfies it.
type Occupier interface {
	Occupation() (protocol.Occupation, bool)
}

// Emitter publishes local events. *events.EventBus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// RelayConfig wires a Relay.
type RelayConfig struct {
	Name        string
	ChatCommand string
	// SyncAll reports the bot-owned synchronized flag.
	SyncAll func() bool

	Notifier Notifier
	Info     interface {
		RconInfo() (protocol.RconInfo, error)
	}
	Rcon    Rcon
	Console Console  // optional
	Process Occupier // optional
	Events  Emitter  // optional
}

// Relay connects the game server to the bridge. Console lines become
// notifications to the bot; requests from the bot become RCON or console
// commands. It implements bridge.Executor.
type Relay struct {
	cfg    RelayConfig
	lines  chan string
	logger zerolog.Logger
}

// NewRelay creates a Relay.
func NewRelay(cfg RelayConfig) *Relay {
	if cfg.ChatCommand == "" {
		cfg.ChatCommand = "!!qq"
	}
	if cfg.SyncAll == nil {
		cfg.SyncAll = func() bool { return false }
	}
	return &Relay{
		cfg:    cfg,
		lines:  make(chan string, 512),
		logger: util.ComponentLogger("relay"),
	}
}

// Feed queues one console line. It never blocks the server's output; lines
// are dropped when the queue is full.
func (r *Relay) Feed(line string) {
	select {
	case r.lines <- line:
	default:
		r.logger.Warn().Str("line", line).Msg("relay queue full, line dropped")
	}
}

// Run processes queued lines in order until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-r.lines:
			r.HandleLine(ctx, line)
		}
	}
}

// HandleLine acts on one console line.
func (r *Relay) HandleLine(ctx context.Context, raw string) {
	line := ParseLine(raw)

	switch line.Kind {
	case LineChat:
		r.emit(ctx, events.EventPlayerChat, events.PlayerPayload{Player: line.Player, Message: line.Message})
		r.cfg.Notifier.NotifyChat(ctx, line.Player, line.Message)
		if text, ok := r.chatCommandText(line.Message); ok {
			r.runChatCommand(ctx, line.Player, text)
		}

	case LineJoined:
		r.emit(ctx, events.EventPlayerJoined, events.PlayerPayload{Player: line.Player})
		r.cfg.Notifier.NotifyPlayerJoined(ctx, line.Player)

	case LineLeft:
		r.emit(ctx, events.EventPlayerLeft, events.PlayerPayload{Player: line.Player})
		r.cfg.Notifier.NotifyPlayerLeft(ctx, line.Player)

	case LineRconReady:
		r.attachRcon()
		r.emit(ctx, events.EventRconReady, nil)

	case LineStartup:
		if !r.cfg.Rcon.Running() {
			r.attachRcon()
		}
		r.emit(ctx, events.EventServerStartup, nil)
		r.cfg.Notifier.NotifyStartup(ctx)

	case LineStopping:
		r.emit(ctx, events.EventServerStopped, nil)
		r.cfg.Notifier.NotifyShutdown(ctx)
		r.cfg.Rcon.Close()

	case LineBotAttached:
		r.cfg.Notifier.NotifyPID(ctx)
	}
}

func (r *Relay) attachRcon() {
	info, err := r.cfg.Info.RconInfo()
	if err != nil {
		r.logger.Error().Err(err).Msg("cannot attach RCON")
		return
	}
	if err := r.cfg.Rcon.Attach(info); err != nil {
		r.logger.Error().Err(err).Msg("cannot attach RCON")
	}
}

// chatCommandText returns the argument of a "!!qq <text>" chat line.
func (r *Relay) chatCommandText(message string) (string, bool) {
	prefix := r.cfg.ChatCommand
	if message == prefix {
		return "", true
	}
	if strings.HasPrefix(message, prefix+" ") {
		return strings.TrimSpace(message[len(prefix)+1:]), true
	}
	return "", false
}

// runChatCommand executes the chat command for player and tells them the
// outcome in game.
func (r *Relay) runChatCommand(ctx context.Context, player, text string) {
	if text == "" {
		r.tell(player, fmt.Sprintf("Usage: %s <message>", r.cfg.ChatCommand), "gray")
		return
	}

	delivered, err := r.ChatCommand(ctx, player, text)
	switch {
	case errors.Is(err, ErrRelayDisabled):
		r.tell(player, "Sync all messages is enabled, this command is disabled.", "gray")
	case delivered:
		r.tell(player, "Message sent!", "green")
	default:
		r.tell(player, "Failed to send message!", "red")
	}
}

// ChatCommand relays text from player to the bot's chat as
// "[<name>] <<player>> <text>". An empty player means the console.
func (r *Relay) ChatCommand(ctx context.Context, player, text string) (bool, error) {
	if r.cfg.SyncAll() {
		return false, ErrRelayDisabled
	}
	if player == "" {
		player = consolePlayer
	}

	message := fmt.Sprintf("[%s] <%s> %s", r.cfg.Name, player, text)
	delivered := r.cfg.Notifier.SendChatMessage(ctx, message)
	r.emit(ctx, events.EventMessageRelayed, events.MessagePayload{Message: message, Delivered: delivered})
	return delivered, nil
}

// tell shows a colored message to one player. Console replies are logged.
func (r *Relay) tell(player, text, color string) {
	if player == consolePlayer || player == "" {
		r.logger.Info().Msg(text)
		return
	}
	if _, err := r.execute("tellraw " + player + " " + textComponent(text, color)); err != nil {
		r.logger.Warn().Err(err).Str("player", player).Msg("cannot reply to player")
	}
}

func textComponent(text, color string) string {
	component := map[string]string{"text": text}
	if color != "" {
		component["color"] = color
	}
	raw, _ := json.Marshal(component)
	return string(raw)
}

// execute runs a command over RCON when attached, else on the console. The
// output is empty when it went to the console.
func (r *Relay) execute(command string) (string, error) {
	if r.cfg.Rcon.Running() {
		return r.cfg.Rcon.Execute(command)
	}
	if r.cfg.Console != nil {
		return "", r.cfg.Console.WriteLine(command)
	}
	return "", ErrNoRcon
}

// RunCommand executes a console command for the bot.
func (r *Relay) RunCommand(_ context.Context, command string) (string, error) {
	r.logger.Info().Str("command", command).Msg("running command from bot")
	if r.cfg.Rcon.Running() {
		return r.cfg.Rcon.Execute(command)
	}
	if r.cfg.Console == nil {
		return "", ErrNoRcon
	}
	if err := r.cfg.Console.WriteLine(command); err != nil {
		return "", err
	}
	return NoRconResponse, nil
}

// RunPluginCommand executes a bridge command as if typed on the console.
// The chat command is handled locally; anything else goes to the server.
func (r *Relay) RunPluginCommand(ctx context.Context, command string) error {
	if text, ok := r.chatCommandText(command); ok {
		if text == "" {
			return fmt.Errorf("usage: %s <message>", r.cfg.ChatCommand)
		}
		_, err := r.ChatCommand(ctx, consolePlayer, text)
		return err
	}
	_, err := r.execute(command)
	return err
}

// PlayerList asks the server for its online players. Without RCON the list
// is empty.
func (r *Relay) PlayerList(_ context.Context) ([]string, error) {
	if !r.cfg.Rcon.Running() {
		return []string{}, ErrNoRcon
	}
	reply, err := r.cfg.Rcon.Execute("list")
	if err != nil {
		return []string{}, err
	}
	return ParsePlayerList(reply), nil
}

// Broadcast shows message to every player.
func (r *Relay) Broadcast(_ context.Context, message string) error {
	_, err := r.execute("tellraw @a " + textComponent(message, ""))
	return err
}

// Occupation reports the server process usage.
func (r *Relay) Occupation(_ context.Context) (protocol.Occupation, bool) {
	if r.cfg.Process == nil {
		return protocol.Occupation{}, false
	}
	return r.cfg.Process.Occupation()
}

// RconRunning reports whether an RCON session is attached.
func (r *Relay) RconRunning() bool {
	return r.cfg.Rcon.Running()
}

func (r *Relay) emit(ctx context.Context, typ events.EventType, payload interface{}) {
	if r.cfg.Events == nil {
		return
	}
	r.cfg.Events.Emit(ctx, events.Event{Type: typ, Source: "relay", Payload: payload})
}
