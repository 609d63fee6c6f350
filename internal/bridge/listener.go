package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// Handler answers one request from the bot. A nil result or an error is
// answered with success:false.
type Handler func(ctx context.Context, env protocol.Envelope) (any, error)

// Listener holds the long-lived connection on which the bot sends requests.
// It reconnects forever until its context is cancelled.
type Listener struct {
	conn     Transport
	emitter  Emitter
	interval time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	logger zerolog.Logger
}

// NewListener creates a Listener. When exec is non-nil the standard command
// handlers are registered against it. emitter may be nil.
func NewListener(conn Transport, exec Executor, emitter Emitter, interval time.Duration) *Listener {
	l := &Listener{
		conn:     conn,
		emitter:  emitter,
		interval: interval,
		handlers: make(map[string]Handler),
		logger:   util.ComponentLogger("listener"),
	}
	if exec != nil {
		l.registerDefaults(exec)
	}
	return l
}

// Handle registers h for requests of type typ, replacing any previous one.
func (l *Listener) Handle(typ string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[typ] = h
}

// Run connects, serves requests until the connection fails, waits one
// interval and starts over. It returns when ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Dur("interval", l.interval).Msg("listener started")

	for {
		if ctx.Err() != nil {
			break
		}

		if err := l.conn.Connect(ctx); err != nil {
			l.logger.Warn().Err(err).Msg("could not connect to bot")
			if !l.wait(ctx) {
				break
			}
			continue
		}

		l.logger.Info().Msg("connection to bot established")
		l.emit(ctx, events.EventBridgeConnected)

		err := l.serve(ctx)
		l.conn.Close()
		l.emit(ctx, events.EventBridgeClosed)

		if ctx.Err() != nil {
			break
		}
		l.logger.Warn().Err(err).Msg("connection to bot lost")
		if !l.wait(ctx) {
			break
		}
	}

	l.logger.Info().Msg("listener stopped")
	return nil
}

func (l *Listener) serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()

	for {
		var env protocol.Envelope
		if err := l.conn.Receive(&env); err != nil {
			return err
		}

		l.logger.Debug().Str("type", env.Type).Msg("request from bot")
		resp := l.dispatch(ctx, env)

		if err := l.conn.Send(resp); err != nil {
			return err
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, env protocol.Envelope) (resp protocol.Response) {
	l.mu.RLock()
	h, ok := l.handlers[env.Type]
	l.mu.RUnlock()

	if !ok {
		l.logger.Warn().Str("type", env.Type).Msg("unknown request type")
		return protocol.Fail()
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Str("type", env.Type).
				Interface("panic", r).
				Msg("handler panicked")
			resp = protocol.Fail()
		}
	}()

	result, err := h(ctx, env)
	if err != nil {
		l.logger.Warn().Err(err).Str("type", env.Type).Msg("request failed")
		return protocol.Fail()
	}
	if result == nil {
		return protocol.Fail()
	}

	resp, err = protocol.OK(result)
	if err != nil {
		l.logger.Error().Err(err).Str("type", env.Type).Msg("cannot encode reply")
		return protocol.Fail()
	}
	return resp
}

func (l *Listener) registerDefaults(exec Executor) {
	l.Handle(protocol.TypeCommand, func(ctx context.Context, env protocol.Envelope) (any, error) {
		var p protocol.CommandPayload
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.Command == "" {
			return nil, fmt.Errorf("%w: empty command", ErrProtocolFault)
		}
		out, err := exec.RunCommand(ctx, p.Command)
		if err != nil {
			return nil, err
		}
		return protocol.CommandResult{Response: out}, nil
	})

	l.Handle(protocol.TypeMcdrCommand, func(ctx context.Context, env protocol.Envelope) (any, error) {
		var p protocol.CommandPayload
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.Command == "" {
			return nil, fmt.Errorf("%w: empty command", ErrProtocolFault)
		}
		if err := exec.RunPluginCommand(ctx, p.Command); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	})

	l.Handle(protocol.TypePlayerList, func(ctx context.Context, env protocol.Envelope) (any, error) {
		players, err := exec.PlayerList(ctx)
		if err != nil {
			l.logger.Warn().Err(err).Msg("player list unavailable")
		}
		if players == nil {
			players = []string{}
		}
		return players, nil
	})

	l.Handle(protocol.TypeMessage, func(ctx context.Context, env protocol.Envelope) (any, error) {
		var p protocol.MessagePayload
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if err := exec.Broadcast(ctx, p.Message); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	})

	l.Handle(protocol.TypeOccupation, func(ctx context.Context, env protocol.Envelope) (any, error) {
		occ, ok := exec.Occupation(ctx)
		if !ok {
			return false, nil
		}
		return occ, nil
	})
}

func (l *Listener) emit(ctx context.Context, typ events.EventType) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(ctx, events.Event{Type: typ, Source: "listener"})
}

// wait sleeps one interval. It reports false if ctx ended first.
func (l *Listener) wait(ctx context.Context) bool {
	t := time.NewTimer(l.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
