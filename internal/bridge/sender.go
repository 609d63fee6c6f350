package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

const (
	DefaultMaxAttempts  = 3
	DefaultPingInterval = 60 * time.Second
)

// SenderOptions tunes retry and liveness behavior.
type SenderOptions struct {
	// MaxAttempts bounds connect+send cycles per request.
	MaxAttempts  int
	PingInterval time.Duration
	// NewBackOff builds the delay schedule between attempts of one request.
	NewBackOff func() backoff.BackOff
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Sender originates requests toward the bot. The wire carries no request
// ids, so at most one request is in flight at a time.
type Sender struct {
	mu     sync.Mutex
	conn   Transport
	opts   SenderOptions
	closed atomic.Bool
	logger zerolog.Logger
}

// NewSender creates a Sender over conn. Zero options take defaults.
func NewSender(conn Transport, opts SenderOptions) *Sender {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	return &Sender{
		conn:   conn,
		opts:   opts,
		logger: util.ComponentLogger("sender"),
	}
}

// Request sends one envelope and returns the reply data. A reply with no
// data yields the JSON literal true.
//
// When disconnected a single connect is tried first; if it fails the request
// is abandoned with ErrUnavailable. A connection or codec fault during the
// exchange closes the connection and the whole connect+send cycle is retried,
// up to MaxAttempts in total. A success:false reply is not retried.
func (s *Sender) Request(ctx context.Context, typ string, payload any) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: sender closed", ErrUnavailable)
	}

	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.conn.Connected() {
		if err := s.conn.Connect(ctx); err != nil {
			s.logger.Warn().Err(err).Str("type", typ).Msg("not connected to bot, request dropped")
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.logger.Info().Msg("reconnected to bot")
	}

	attempts := 0
	var resp protocol.Response
	op := func() error {
		if s.closed.Load() {
			return backoff.Permanent(fmt.Errorf("%w: sender closed", ErrUnavailable))
		}
		attempts++
		if !s.conn.Connected() {
			if err := s.conn.Connect(ctx); err != nil {
				return err
			}
		}
		r, err := s.roundTrip(env)
		if err != nil {
			s.conn.Close()
			return err
		}
		resp = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(s.opts.NewBackOff(), uint64(s.opts.MaxAttempts-1)), ctx)

	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		s.logger.Warn().
			Err(err).
			Str("type", typ).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("connection to bot lost, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, typ, attempts, err)
	}

	if !resp.Success {
		s.logger.Warn().Str("type", typ).Msg("bot rejected request")
		return nil, fmt.Errorf("%w: %s rejected by bot", ErrProtocolFault, typ)
	}

	s.logger.Debug().Str("type", typ).RawJSON("data", nonEmpty(resp.Data)).Msg("reply from bot")
	if protocol.IsEmpty(resp.Data) {
		return json.RawMessage("true"), nil
	}
	return resp.Data, nil
}

func (s *Sender) roundTrip(env protocol.Envelope) (protocol.Response, error) {
	var resp protocol.Response
	if err := s.conn.Send(env); err != nil {
		return resp, err
	}
	if err := s.conn.Receive(&resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Reconnect replaces the current connection with a fresh one. It waits for
// any in-flight request.
func (s *Sender) Reconnect(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: sender closed", ErrUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// KeepAlive pings the open connection every PingInterval until ctx is done.
// A failed ping closes the connection so the next Request reconnects.
// Ticks that land during a request are skipped.
func (s *Sender) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.closed.Load() {
				return
			}
			s.ping()
		}
	}
}

func (s *Sender) ping() {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()

	if !s.conn.Connected() {
		return
	}
	if err := s.conn.Ping(); err != nil {
		s.logger.Warn().Err(err).Msg("keepalive failed, dropping connection")
		s.conn.Close()
		return
	}
	s.logger.Trace().Msg("keepalive ok")
}

// Connected reports whether the sender currently holds a connection.
func (s *Sender) Connected() bool {
	return s.conn.Connected()
}

// Close shuts the sender down. A request blocked on the wire fails fast and
// later requests return ErrUnavailable.
func (s *Sender) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

func nonEmpty(raw json.RawMessage) json.RawMessage {
	if protocol.IsEmpty(raw) {
		return json.RawMessage("null")
	}
	return raw
}
