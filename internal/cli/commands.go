// Package cli implements the interactive operator console: bridge status,
// the online player list, relaying chat to the bot and raw console commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/mcbridge-project/mcbridge/internal/config"
	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/server"
)

// Bridge is the outbound channel to the bot.
type Bridge interface {
	Connected() bool
	Reconnect(ctx context.Context) error
}

// Game is the game server side of the bridge. *server.Relay satisfies it.
type Game interface {
	RunCommand(ctx context.Context, command string) (string, error)
	ChatCommand(ctx context.Context, player, text string) (bool, error)
	PlayerList(ctx context.Context) ([]string, error)
	Occupation(ctx context.Context) (protocol.Occupation, bool)
	RconRunning() bool
}

// Emitter publishes local events. *events.EventBus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg    *config.Config
	events Emitter
	bridge Bridge
	game   Game

	in  io.Reader
	out io.Writer
}

// NewCLI creates a CLI reading commands from in and writing to out.
func NewCLI(cfg *config.Config, eventBus Emitter, bridge Bridge, game Game, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:    cfg,
		events: eventBus,
		bridge: bridge,
		game:   game,
		in:     in,
		out:    out,
	}
}

// Start reads commands until EOF, "quit" or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nmcbridge CLI ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "mcbridge> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := c.Execute(ctx, line); quit {
				return
			}
		}
	}
}

// Execute runs one command line and reports whether the CLI should exit.
func (c *CLI) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	// "/say hi" goes straight to the server console
	if strings.HasPrefix(line, "/") {
		c.report(c.cmdConsole(ctx, strings.TrimPrefix(line, "/")))
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus(ctx)
	case "players", "list":
		c.report(c.cmdPlayers(ctx))
	case "qq", "say":
		c.report(c.cmdRelay(ctx, rest))
	case "cmd", "console":
		c.report(c.cmdConsole(ctx, rest))
	case "reconnect":
		c.report(c.cmdReconnect(ctx))
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down mcbridge...")
		c.events.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false
}

func (c *CLI) report(err error) {
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                     mcbridge CLI Commands                    ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status             Show bridge and server status            ║")
	fmt.Fprintln(c.out, "║  players            List online players                      ║")
	fmt.Fprintln(c.out, "║  qq <text>          Send a chat message to the bot           ║")
	fmt.Fprintln(c.out, "║  cmd <command>      Run a server console command             ║")
	fmt.Fprintln(c.out, "║  /<command>         Same as cmd                              ║")
	fmt.Fprintln(c.out, "║  reconnect          Reconnect the outbound channel           ║")
	fmt.Fprintln(c.out, "║  quit               Shutdown mcbridge                        ║")
	fmt.Fprintln(c.out, "║  help               Show this help message                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

// printStatus displays bridge status in a formatted table.
func (c *CLI) printStatus(ctx context.Context) {
	bridgeCfg := c.cfg.GetBridge()

	occupation := "-"
	if occ, ok := c.game.Occupation(ctx); ok {
		occupation = fmt.Sprintf("%.1f%% CPU, %.0f MB", occ.CPU, occ.RAM)
	}

	fmt.Fprintln(c.out)
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Item", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	tw.Append([]string{"Name", bridgeCfg.Name})
	tw.Append([]string{"Bot URI", bridgeCfg.URI})
	tw.Append([]string{"Bot connected", yesNo(c.bridge.Connected())})
	tw.Append([]string{"RCON", yesNo(c.game.RconRunning())})
	tw.Append([]string{"Sync all messages", yesNo(c.cfg.SyncAll())})
	tw.Append([]string{"Server process", occupation})

	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdPlayers(ctx context.Context) error {
	players, err := c.game.PlayerList(ctx)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players online")
		return nil
	}
	fmt.Fprintf(c.out, "%d online: %s\n", len(players), strings.Join(players, ", "))
	return nil
}

func (c *CLI) cmdRelay(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("usage: qq <text>")
	}
	delivered, err := c.game.ChatCommand(ctx, "", text)
	if errors.Is(err, server.ErrRelayDisabled) {
		return fmt.Errorf("sync all messages is enabled, qq is disabled")
	}
	if err != nil {
		return err
	}
	if !delivered {
		return fmt.Errorf("bot unavailable, message not sent")
	}
	fmt.Fprintln(c.out, "Message sent!")
	return nil
}

func (c *CLI) cmdConsole(ctx context.Context, command string) error {
	if command == "" {
		return fmt.Errorf("usage: cmd <command>")
	}
	out, err := c.game.RunCommand(ctx, command)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Fprintln(c.out, out)
	}
	return nil
}

func (c *CLI) cmdReconnect(ctx context.Context) error {
	if err := c.bridge.Reconnect(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Reconnected")
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
