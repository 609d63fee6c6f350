package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
)

type fakeNotifier struct {
	mu       sync.Mutex
	calls    []string
	chat     []string
	deliver  bool
	startups int
}

func (n *fakeNotifier) record(call string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call)
	return nil
}

func (n *fakeNotifier) NotifyStartup(context.Context) error {
	n.mu.Lock()
	n.startups++
	n.mu.Unlock()
	return n.record("startup")
}
func (n *fakeNotifier) NotifyShutdown(context.Context) error { return n.record("shutdown") }
func (n *fakeNotifier) NotifyPlayerJoined(_ context.Context, p string) error {
	return n.record("joined:" + p)
}
func (n *fakeNotifier) NotifyPlayerLeft(_ context.Context, p string) error {
	return n.record("left:" + p)
}
func (n *fakeNotifier) NotifyChat(_ context.Context, p, m string) error {
	return n.record("chat:" + p + ":" + m)
}
func (n *fakeNotifier) NotifyPID(context.Context) error { return n.record("pid") }
func (n *fakeNotifier) SendChatMessage(_ context.Context, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chat = append(n.chat, text)
	return n.deliver
}

func (n *fakeNotifier) snapshot() ([]string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...), append([]string(nil), n.chat...)
}

type fakeRcon struct {
	mu       sync.Mutex
	running  bool
	attached []protocol.RconInfo
	commands []string
	replies  map[string]string
	err      error
	closed   int
}

func (r *fakeRcon) Attach(info protocol.RconInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, info)
	r.running = true
	return nil
}

func (r *fakeRcon) Execute(cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	if r.err != nil {
		return "", r.err
	}
	return r.replies[cmd], nil
}

func (r *fakeRcon) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *fakeRcon) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.closed++
	return nil
}

type fakeConsole struct {
	lines []string
	err   error
}

func (c *fakeConsole) WriteLine(line string) error {
	c.lines = append(c.lines, line)
	return c.err
}

type staticInfo struct {
	info protocol.RconInfo
	err  error
}

func (s staticInfo) RconInfo() (protocol.RconInfo, error) { return s.info, s.err }

type fixedOccupier struct{ occ protocol.Occupation }

func (o fixedOccupier) Occupation() (protocol.Occupation, bool) { return o.occ, true }

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *eventLog) Emit(_ context.Context, ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) types() []events.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.EventType
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type relayFixture struct {
	relay    *Relay
	notifier *fakeNotifier
	rcon     *fakeRcon
	console  *fakeConsole
	events   *eventLog
	syncAll  bool
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	f := &relayFixture{
		notifier: &fakeNotifier{deliver: true},
		rcon:     &fakeRcon{replies: map[string]string{}},
		console:  &fakeConsole{},
		events:   &eventLog{},
	}
	f.relay = NewRelay(RelayConfig{
		Name:     "Survival",
		SyncAll:  func() bool { return f.syncAll },
		Notifier: f.notifier,
		Info:     staticInfo{info: protocol.RconInfo{Password: "pw", Port: 25575}},
		Rcon:     f.rcon,
		Console:  f.console,
		Events:   f.events,
	})
	return f
}

func TestRelayChatCommandForwards(t *testing.T) {
	f := newRelayFixture(t)
	f.rcon.running = true

	f.relay.HandleLine(context.Background(), "[12:00:00] [Server thread/INFO]: <Alice> !!qq hello bot")

	calls, chat := f.notifier.snapshot()
	assert.Equal(t, []string{"chat:Alice:!!qq hello bot"}, calls)
	assert.Equal(t, []string{"[Survival] <Alice> hello bot"}, chat)

	require.Len(t, f.rcon.commands, 1)
	assert.True(t, strings.HasPrefix(f.rcon.commands[0], "tellraw Alice "))
	assert.Contains(t, f.rcon.commands[0], `"color":"green"`)
	assert.Contains(t, f.events.types(), events.EventMessageRelayed)
}

func TestRelayChatCommandFailureIsRed(t *testing.T) {
	f := newRelayFixture(t)
	f.rcon.running = true
	f.notifier.deliver = false

	f.relay.HandleLine(context.Background(), "<Alice> !!qq hello")

	require.Len(t, f.rcon.commands, 1)
	assert.Contains(t, f.rcon.commands[0], `"color":"red"`)
}

func TestRelayChatCommandDisabledWhenSyncingAll(t *testing.T) {
	f := newRelayFixture(t)
	f.syncAll = true

	f.relay.HandleLine(context.Background(), "<Alice> !!qq hello")

	_, chat := f.notifier.snapshot()
	assert.Empty(t, chat)
	// rcon not attached, so the reply goes through the console
	require.Len(t, f.console.lines, 1)
	assert.Contains(t, f.console.lines[0], "disabled")

	delivered, err := f.relay.ChatCommand(context.Background(), "Bob", "x")
	assert.False(t, delivered)
	assert.ErrorIs(t, err, ErrRelayDisabled)
}

func TestRelayChatWithoutCommand(t *testing.T) {
	f := newRelayFixture(t)

	f.relay.HandleLine(context.Background(), "<Alice> !!qqq not a command")

	calls, chat := f.notifier.snapshot()
	assert.Equal(t, []string{"chat:Alice:!!qqq not a command"}, calls)
	assert.Empty(t, chat)
	assert.Empty(t, f.console.lines)
}

func TestRelayChatCarryingBotMarkerIsChat(t *testing.T) {
	f := newRelayFixture(t)

	f.relay.HandleLine(context.Background(), "[12:00:00] [Server thread/INFO]: <Mallory> "+BotAttachedMarker)

	calls, _ := f.notifier.snapshot()
	assert.Equal(t, []string{"chat:Mallory:" + BotAttachedMarker}, calls)
}

func TestRelayLifecycleLines(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	f.relay.HandleLine(ctx, "[12:00:00] [RCON Listener #1/INFO]: RCON running on 0.0.0.0:25575")
	f.relay.HandleLine(ctx, "[12:00:01] [Server thread/INFO]: Done (2.1s)! For help, type \"help\"")
	f.relay.HandleLine(ctx, "[12:00:02] [Server thread/INFO]: Alice joined the game")
	f.relay.HandleLine(ctx, "[12:00:03] [Server thread/INFO]: [Rcon] BotServer was connected to the server!")
	f.relay.HandleLine(ctx, "[12:00:04] [Server thread/INFO]: Alice left the game")
	f.relay.HandleLine(ctx, "[12:00:05] [Server thread/INFO]: Stopping the server")
	f.relay.HandleLine(ctx, "[12:00:06] [Server thread/INFO]: Saving chunks")

	calls, _ := f.notifier.snapshot()
	assert.Equal(t, []string{"startup", "joined:Alice", "pid", "left:Alice", "shutdown"}, calls)

	// attached once on RCON ready; startup finds it running
	assert.Len(t, f.rcon.attached, 1)
	assert.Equal(t, 1, f.rcon.closed)
	assert.False(t, f.rcon.Running())

	assert.Equal(t, []events.EventType{
		events.EventRconReady,
		events.EventServerStartup,
		events.EventPlayerJoined,
		events.EventPlayerLeft,
		events.EventServerStopped,
	}, f.events.types())
}

func TestRelayStartupAttachesRcon(t *testing.T) {
	f := newRelayFixture(t)

	f.relay.HandleLine(context.Background(), "[12:00:01 INFO]: Done (2.1s)! For help, type \"help\"")

	assert.Len(t, f.rcon.attached, 1)
	assert.Equal(t, 1, f.notifier.startups)
}

func TestRelayRunCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("rcon", func(t *testing.T) {
		f := newRelayFixture(t)
		f.rcon.running = true
		f.rcon.replies["time query daytime"] = "The time is 1000"

		out, err := f.relay.RunCommand(ctx, "time query daytime")
		require.NoError(t, err)
		assert.Equal(t, "The time is 1000", out)
	})

	t.Run("console only", func(t *testing.T) {
		f := newRelayFixture(t)

		out, err := f.relay.RunCommand(ctx, "say hi")
		require.NoError(t, err)
		assert.Equal(t, NoRconResponse, out)
		assert.Equal(t, []string{"say hi"}, f.console.lines)
	})

	t.Run("nothing attached", func(t *testing.T) {
		r := NewRelay(RelayConfig{Notifier: &fakeNotifier{}, Rcon: &fakeRcon{}})
		_, err := r.RunCommand(ctx, "say hi")
		assert.ErrorIs(t, err, ErrNoRcon)
	})
}

func TestRelayRunPluginCommand(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	require.NoError(t, f.relay.RunPluginCommand(ctx, "!!qq from the bot"))
	_, chat := f.notifier.snapshot()
	assert.Equal(t, []string{"[Survival] <Console> from the bot"}, chat)

	assert.Error(t, f.relay.RunPluginCommand(ctx, "!!qq"))

	require.NoError(t, f.relay.RunPluginCommand(ctx, "!!MCDR status"))
	assert.Equal(t, []string{"!!MCDR status"}, f.console.lines)
}

func TestRelayPlayerList(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	players, err := f.relay.PlayerList(ctx)
	assert.ErrorIs(t, err, ErrNoRcon)
	assert.NotNil(t, players)
	assert.Empty(t, players)

	f.rcon.running = true
	f.rcon.replies["list"] = "There are 2 of a max 20 players online: Alice, Bob"
	players, err = f.relay.PlayerList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, players)

	f.rcon.err = errors.New("broken pipe")
	players, err = f.relay.PlayerList(ctx)
	assert.Error(t, err)
	assert.Empty(t, players)
}

func TestRelayBroadcastEscapes(t *testing.T) {
	f := newRelayFixture(t)
	f.rcon.running = true

	require.NoError(t, f.relay.Broadcast(context.Background(), `say "hi"`))
	require.Len(t, f.rcon.commands, 1)
	assert.Equal(t, `tellraw @a {"text":"say \"hi\""}`, f.rcon.commands[0])
}

func TestRelayOccupation(t *testing.T) {
	f := newRelayFixture(t)
	_, ok := f.relay.Occupation(context.Background())
	assert.False(t, ok)

	r := NewRelay(RelayConfig{
		Notifier: &fakeNotifier{},
		Rcon:     &fakeRcon{},
		Process:  fixedOccupier{occ: protocol.Occupation{CPU: 12.5, RAM: 1024}},
	})
	occ, ok := r.Occupation(context.Background())
	require.True(t, ok)
	assert.Equal(t, 12.5, occ.CPU)
}

func TestRelayRunDrainsQueueInOrder(t *testing.T) {
	f := newRelayFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.relay.Run(ctx))
	}()

	f.relay.Feed("<Alice> one")
	f.relay.Feed("<Bob> two")

	assert.Eventually(t, func() bool {
		calls, _ := f.notifier.snapshot()
		return len(calls) == 2
	}, 2*time.Second, 10*time.Millisecond)

	calls, _ := f.notifier.snapshot()
	assert.Equal(t, []string{"chat:Alice:one", "chat:Bob:two"}, calls)

	cancel()
	<-done
}

func TestRelayFeedNeverBlocks(t *testing.T) {
	f := newRelayFixture(t)
	for i := 0; i < cap(f.relay.lines)+10; i++ {
		f.relay.Feed("<Alice> spam")
	}
	assert.Len(t, f.relay.lines, cap(f.relay.lines))
}
