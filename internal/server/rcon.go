package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorcon/rcon"
	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// ErrNoRcon is returned when no RCON session is attached.
var ErrNoRcon = errors.New("rcon not running")

// RconSession is one authenticated RCON connection to the game server.
// Calls are serialized; a broken connection is redialed once.
type RconSession struct {
	mu      sync.Mutex
	conn    *rcon.Conn
	addr    string
	pass    string
	host    string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRconSession creates a detached session for host.
func NewRconSession(host string, timeout time.Duration) *RconSession {
	if host == "" {
		host = "127.0.0.1"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RconSession{
		host:    host,
		timeout: timeout,
		logger:  util.ComponentLogger("rcon"),
	}
}

// Attach dials the server with info, replacing any previous connection.
func (r *RconSession) Attach(info protocol.RconInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	r.addr = net.JoinHostPort(r.host, strconv.Itoa(info.Port))
	r.pass = info.Password

	if err := r.dialLocked(); err != nil {
		return err
	}
	r.logger.Info().Str("addr", r.addr).Msg("rcon attached")
	return nil
}

func (r *RconSession) dialLocked() error {
	conn, err := rcon.Dial(r.addr, r.pass,
		rcon.SetDialTimeout(r.timeout),
		rcon.SetDeadline(r.timeout))
	if err != nil {
		return fmt.Errorf("rcon dial %s: %w", r.addr, err)
	}
	r.conn = conn
	return nil
}

// Execute runs command and returns the server's reply.
func (r *RconSession) Execute(command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return "", ErrNoRcon
	}

	out, err := r.conn.Execute(command)
	if err == nil {
		return out, nil
	}

	r.logger.Warn().Err(err).Str("command", command).Msg("rcon command failed, redialing")
	r.closeLocked()
	if derr := r.dialLocked(); derr != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRcon, derr)
	}
	out, err = r.conn.Execute(command)
	if err != nil {
		r.closeLocked()
		return "", fmt.Errorf("rcon execute %q: %w", command, err)
	}
	return out, nil
}

// Running reports whether a connection is attached.
func (r *RconSession) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Close detaches the session. Safe to call repeatedly.
func (r *RconSession) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RconSession) closeLocked() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.logger.Debug().Str("addr", r.addr).Msg("rcon closed")
	return err
}
