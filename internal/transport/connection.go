// Package transport owns the physical websocket to the bot. A Connection is
// parameterized by Role: the Sender dials /websocket/bot, the Listener dials
// /websocket/minecraft. Both share the same handshake and framing.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// ErrConnectionFault covers refused dials, rejected handshakes, closed
// sockets and network errors. Callers recover by reconnecting.
var ErrConnectionFault = errors.New("connection fault")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Role selects the endpoint suffix on the bot.
type Role string

const (
	RoleBot       Role = "bot"
	RoleMinecraft Role = "minecraft"
)

// Options configures a Connection.
type Options struct {
	BaseURI string
	Role    Role
	Auth    protocol.AuthInfo

	HandshakeTimeout time.Duration
	// ReadTimeout bounds every Receive. Zero waits indefinitely, which is
	// what the long-lived listening side wants.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// URIFor joins the bot base URI and the role endpoint.
func URIFor(base string, role Role) string {
	return strings.TrimRight(base, "/") + "/websocket/" + string(role)
}

// Connection wraps at most one open websocket. A failed or closed socket is
// discarded; the next Connect dials a fresh one.
type Connection struct {
	mu          sync.Mutex
	ws          *websocket.Conn
	session     string
	connectedAt time.Time

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	uri    string
	opts   Options
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewConnection creates an unconnected Connection.
func NewConnection(opts Options) *Connection {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Connection{
		uri:  URIFor(opts.BaseURI, opts.Role),
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: util.ComponentLogger("transport").With().
			Str("role", string(opts.Role)).
			Logger(),
	}
}

// Connect dials the bot, sends the credentials in the upgrade headers and
// waits for the bot's {success:true} acceptance frame. Any previous socket
// is closed first.
func (c *Connection) Connect(ctx context.Context) error {
	c.Close()

	header, err := protocol.HandshakeHeader(c.opts.Auth)
	if err != nil {
		return err
	}

	c.logger.Info().Str("uri", c.uri).Msg("connecting to bot")

	ws, resp, err := c.dialer.DialContext(ctx, c.uri, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: dial %s: %v (status %d)", ErrConnectionFault, c.uri, err, resp.StatusCode)
		}
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFault, c.uri, err)
	}

	if err := c.awaitAccept(ws); err != nil {
		ws.Close()
		return err
	}

	session := uuid.NewString()
	c.mu.Lock()
	c.ws = ws
	c.session = session
	c.connectedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info().
		Str("uri", c.uri).
		Str("session", session).
		Msg("authenticated, connected to bot")
	return nil
}

func (c *Connection) awaitAccept(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: handshake: %v", ErrConnectionFault, err)
	}
	ws.SetReadDeadline(time.Time{})

	var reply protocol.Response
	if err := protocol.Decode(string(msg), &reply); err != nil {
		return fmt.Errorf("%w: handshake reply: %v", ErrConnectionFault, err)
	}
	if !reply.Success {
		return fmt.Errorf("%w: handshake rejected by bot", ErrConnectionFault)
	}
	return nil
}

// Send encodes v and writes it as one text frame.
func (c *Connection) Send(v any) error {
	ws := c.current()
	if ws == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionFault)
	}

	frame, err := protocol.Encode(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err = ws.WriteMessage(websocket.TextMessage, []byte(frame))
	c.writeMu.Unlock()

	if err != nil {
		c.drop(ws, err)
		return fmt.Errorf("%w: write: %v", ErrConnectionFault, err)
	}

	c.logger.Debug().Str("frame", frame).Msg("frame sent")
	return nil
}

// Receive blocks for the next frame and decodes it into v. A frame that
// fails to decode returns protocol.ErrCodecFault and leaves the socket open.
// Close unblocks a pending Receive.
func (c *Connection) Receive(v any) error {
	ws := c.current()
	if ws == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionFault)
	}

	if c.opts.ReadTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	} else {
		ws.SetReadDeadline(time.Time{})
	}

	_, msg, err := ws.ReadMessage()
	if err != nil {
		c.drop(ws, err)
		return fmt.Errorf("%w: read: %v", ErrConnectionFault, err)
	}

	c.logger.Debug().Str("frame", string(msg)).Msg("frame received")
	return protocol.Decode(string(msg), v)
}

// Ping writes a control ping. A failed ping discards the socket.
func (c *Connection) Ping() error {
	ws := c.current()
	if ws == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionFault)
	}
	if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
		c.drop(ws, err)
		return fmt.Errorf("%w: ping: %v", ErrConnectionFault, err)
	}
	c.logger.Trace().Msg("ping sent")
	return nil
}

// Close closes the socket if one is open. Safe to call repeatedly and
// concurrently with Send/Receive.
func (c *Connection) Close() error {
	c.mu.Lock()
	ws := c.ws
	session := c.session
	c.ws = nil
	c.mu.Unlock()

	if ws == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := ws.Close()

	c.logger.Info().Str("session", session).Msg("connection closed")
	return err
}

// Connected reports whether a socket is currently held.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// ConnectedAt returns when the current socket was established.
func (c *Connection) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return time.Time{}
	}
	return c.connectedAt
}

// URI returns the full endpoint this connection dials.
func (c *Connection) URI() string {
	return c.uri
}

// Role returns the endpoint role.
func (c *Connection) Role() Role {
	return c.opts.Role
}

func (c *Connection) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// drop discards ws after an I/O error, unless it was already replaced.
func (c *Connection) drop(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()

	ws.Close()
	c.logger.Warn().Err(cause).Msg("connection to bot lost")
}
