package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/transport"
)

// fakeConn is a scripted Transport for the sender. Hooks receive the 1-based
// call count.
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	connects  int
	sends     int
	pings     int
	closes    int
	inFlight  bool
	overlap   bool
	sent      []any

	connectFn func(n int) error
	sendFn    func(n int) error
	receiveFn func(n int, v any) error
	pingFn    func() error
	receives  int
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	n := f.connects
	hook := f.connectFn
	f.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(n)
	}

	f.mu.Lock()
	f.connected = err == nil
	f.mu.Unlock()
	return err
}

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return fmt.Errorf("%w: not connected", transport.ErrConnectionFault)
	}
	f.sends++
	n := f.sends
	if f.inFlight {
		f.overlap = true
	}
	f.inFlight = true
	f.sent = append(f.sent, v)
	hook := f.sendFn
	f.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			f.mu.Lock()
			f.connected = false
			f.inFlight = false
			f.mu.Unlock()
			return err
		}
	}
	return nil
}

func (f *fakeConn) Receive(v any) error {
	f.mu.Lock()
	f.receives++
	n := f.receives
	hook := f.receiveFn
	f.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(n, v)
	} else {
		*v.(*protocol.Response) = protocol.Response{Success: true}
	}

	f.mu.Lock()
	f.inFlight = false
	if err != nil {
		f.connected = false
	}
	f.mu.Unlock()
	return err
}

func (f *fakeConn) Ping() error {
	f.mu.Lock()
	f.pings++
	hook := f.pingFn
	f.mu.Unlock()
	if hook != nil {
		return hook()
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) counts() (connects, sends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.sends
}

func reply(resp protocol.Response) func(int, any) error {
	return func(_ int, v any) error {
		*v.(*protocol.Response) = resp
		return nil
	}
}

func alwaysFault(int) error {
	return fmt.Errorf("%w: broken pipe", transport.ErrConnectionFault)
}

// fakePeer is a Transport for the listener: requests are pushed on inbox,
// replies appear on outbox. Closing the connection unblocks Receive.
type fakePeer struct {
	mu        sync.Mutex
	connects  int
	connected bool
	done      chan struct{}

	connectFn func(n int) error

	inbox  chan protocol.Envelope
	outbox chan protocol.Response
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		inbox:  make(chan protocol.Envelope),
		outbox: make(chan protocol.Response, 16),
	}
}

func (p *fakePeer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.connectFn != nil {
		if err := p.connectFn(p.connects); err != nil {
			return err
		}
	}
	p.connected = true
	p.done = make(chan struct{})
	return nil
}

func (p *fakePeer) Send(v any) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return fmt.Errorf("%w: not connected", transport.ErrConnectionFault)
	}
	p.outbox <- v.(protocol.Response)
	return nil
}

func (p *fakePeer) Receive(v any) error {
	p.mu.Lock()
	done := p.done
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return fmt.Errorf("%w: not connected", transport.ErrConnectionFault)
	}

	select {
	case env, ok := <-p.inbox:
		if !ok {
			return fmt.Errorf("%w: peer went away", transport.ErrConnectionFault)
		}
		*v.(*protocol.Envelope) = env
		return nil
	case <-done:
		return fmt.Errorf("%w: closed", transport.ErrConnectionFault)
	}
}

func (p *fakePeer) Ping() error { return nil }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.connected = false
		close(p.done)
	}
	return nil
}

func (p *fakePeer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePeer) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// recordingEmitter collects emitted event types.
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.EventType
	ch     chan events.EventType
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{ch: make(chan events.EventType, 32)}
}

func (r *recordingEmitter) Emit(_ context.Context, ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev.Type)
	r.mu.Unlock()
	r.ch <- ev.Type
}

// fakeExecutor records what the listener asked of the game server.
type fakeExecutor struct {
	mu         sync.Mutex
	commands   []string
	plugin     []string
	broadcasts []string

	output   string
	players  []string
	occ      protocol.Occupation
	hasProcs bool
	err      error
}

func (e *fakeExecutor) RunCommand(_ context.Context, command string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	return e.output, e.err
}

func (e *fakeExecutor) RunPluginCommand(_ context.Context, command string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plugin = append(e.plugin, command)
	return e.err
}

func (e *fakeExecutor) PlayerList(context.Context) ([]string, error) {
	return e.players, e.err
}

func (e *fakeExecutor) Broadcast(_ context.Context, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcasts = append(e.broadcasts, message)
	return e.err
}

func (e *fakeExecutor) Occupation(context.Context) (protocol.Occupation, bool) {
	return e.occ, e.hasProcs
}

// fakeRequester records notifier requests.
type fakeRequester struct {
	mu    sync.Mutex
	types []string
	data  []any
	reply json.RawMessage
	err   error
}

func (r *fakeRequester) Request(_ context.Context, typ string, payload any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, typ)
	r.data = append(r.data, payload)
	if r.err != nil {
		return nil, r.err
	}
	if r.reply == nil {
		return json.RawMessage("true"), nil
	}
	return r.reply, nil
}
