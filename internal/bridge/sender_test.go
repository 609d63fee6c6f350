package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/transport"
)

func noDelay() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newTestSender(conn Transport) *Sender {
	return NewSender(conn, SenderOptions{NewBackOff: noDelay})
}

func TestSender_FirstAttemptSuccess(t *testing.T) {
	conn := &fakeConn{receiveFn: reply(protocol.Response{Success: true, Data: json.RawMessage(`{"ok":1}`)})}
	s := newTestSender(conn)

	data, err := s.Request(context.Background(), protocol.TypePlayerJoined, protocol.PlayerPayload{Player: "Alice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1}`, string(data))

	connects, sends := conn.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, sends)

	env := conn.sent[0].(protocol.Envelope)
	assert.Equal(t, protocol.TypePlayerJoined, env.Type)
	assert.JSONEq(t, `{"player":"Alice"}`, string(env.Data))
}

func TestSender_ConnectFailureDropsRequest(t *testing.T) {
	conn := &fakeConn{connectFn: alwaysFault}
	s := newTestSender(conn)

	data, err := s.Request(context.Background(), protocol.TypeServerShutdown, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, data)

	connects, sends := conn.counts()
	assert.Equal(t, 1, connects)
	assert.Zero(t, sends)
}

func TestSender_RetriesBoundedWhenWritesFail(t *testing.T) {
	conn := &fakeConn{sendFn: alwaysFault}
	s := newTestSender(conn)

	_, err := s.Request(context.Background(), protocol.TypeMessage, protocol.MessagePayload{Message: "hi"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, sends := conn.counts()
	assert.Equal(t, DefaultMaxAttempts, sends)
}

// Property: the number of writes never exceeds MaxAttempts, whatever the
// failure pattern of connects and writes.
func TestPropertySender_WritesBoundedByMaxAttempts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxAttempts := rapid.IntRange(1, 6).Draw(t, "max_attempts")
		connectFails := rapid.SliceOfN(rapid.Bool(), 8, 8).Draw(t, "connect_fails")
		sendFails := rapid.SliceOfN(rapid.Bool(), 8, 8).Draw(t, "send_fails")

		conn := &fakeConn{
			connectFn: func(n int) error {
				if n > 1 && connectFails[n-1] {
					return alwaysFault(n)
				}
				return nil
			},
			sendFn: func(n int) error {
				if sendFails[n-1] {
					return alwaysFault(n)
				}
				return nil
			},
		}
		s := NewSender(conn, SenderOptions{MaxAttempts: maxAttempts, NewBackOff: noDelay})

		_, err := s.Request(context.Background(), protocol.TypeMessage, protocol.MessagePayload{Message: "x"})

		_, sends := conn.counts()
		if sends > maxAttempts {
			t.Fatalf("%d writes with max %d attempts", sends, maxAttempts)
		}
		if err != nil && !errors.Is(err, ErrUnavailable) {
			t.Fatalf("unexpected error kind: %v", err)
		}
	})
}

func TestSender_RecoversAfterDroppedConnection(t *testing.T) {
	conn := &fakeConn{
		sendFn: func(n int) error {
			if n == 1 {
				return alwaysFault(n)
			}
			return nil
		},
	}
	s := newTestSender(conn)

	data, err := s.Request(context.Background(), protocol.TypeServerShutdown, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", string(data))

	connects, sends := conn.counts()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 2, sends)
}

func TestSender_MalformedReplyIsRetried(t *testing.T) {
	conn := &fakeConn{
		receiveFn: func(n int, v any) error {
			if n == 1 {
				return protocol.ErrCodecFault
			}
			*v.(*protocol.Response) = protocol.Response{Success: true}
			return nil
		},
	}
	s := newTestSender(conn)

	_, err := s.Request(context.Background(), protocol.TypeServerShutdown, nil)
	require.NoError(t, err)
	_, sends := conn.counts()
	assert.Equal(t, 2, sends)
}

func TestSender_RejectedRequestNotRetried(t *testing.T) {
	conn := &fakeConn{receiveFn: reply(protocol.Response{Success: false, Data: json.RawMessage(`"ignored"`)})}
	s := newTestSender(conn)

	data, err := s.Request(context.Background(), protocol.TypePlayerLeft, protocol.PlayerPayload{Player: "Bob"})
	assert.ErrorIs(t, err, ErrProtocolFault)
	assert.Nil(t, data)

	_, sends := conn.counts()
	assert.Equal(t, 1, sends)
}

func TestSender_AbsentDataIsTrue(t *testing.T) {
	for name, data := range map[string]json.RawMessage{
		"absent": nil,
		"null":   json.RawMessage("null"),
	} {
		t.Run(name, func(t *testing.T) {
			conn := &fakeConn{receiveFn: reply(protocol.Response{Success: true, Data: data})}
			got, err := newTestSender(conn).Request(context.Background(), protocol.TypeServerShutdown, nil)
			require.NoError(t, err)
			assert.Equal(t, json.RawMessage("true"), got)
		})
	}
}

func TestSender_ConcurrentRequestsSerialized(t *testing.T) {
	conn := &fakeConn{
		receiveFn: func(_ int, v any) error {
			time.Sleep(2 * time.Millisecond)
			*v.(*protocol.Response) = protocol.Response{Success: true}
			return nil
		},
	}
	s := newTestSender(conn)

	const callers = 12
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Request(context.Background(), protocol.TypeMessage, protocol.MessagePayload{Message: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.False(t, conn.overlap, "a write happened before the previous reply was read")
	assert.Equal(t, callers, conn.sends)
}

func TestSender_KeepAliveDropsDeadConnection(t *testing.T) {
	conn := &fakeConn{pingFn: func() error { return transport.ErrConnectionFault }}
	s := NewSender(conn, SenderOptions{PingInterval: 5 * time.Millisecond, NewBackOff: noDelay})
	require.NoError(t, s.Reconnect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.KeepAlive(ctx)

	assert.Eventually(t, func() bool { return !s.Connected() }, time.Second, 5*time.Millisecond)

	// the next request dials again instead of writing into the dead socket
	_, err := s.Request(context.Background(), protocol.TypeServerShutdown, nil)
	require.NoError(t, err)
	connects, _ := conn.counts()
	assert.Equal(t, 2, connects)
}

func TestSender_KeepAliveSkipsWhenDisconnected(t *testing.T) {
	conn := &fakeConn{}
	s := NewSender(conn, SenderOptions{PingInterval: 2 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.KeepAlive(ctx)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Zero(t, conn.pings)
}

func TestSender_ClosedRejectsRequests(t *testing.T) {
	conn := &fakeConn{}
	s := newTestSender(conn)
	require.NoError(t, s.Close())

	_, err := s.Request(context.Background(), protocol.TypeServerShutdown, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	connects, _ := conn.counts()
	assert.Zero(t, connects)
}

func TestSender_UnencodablePayload(t *testing.T) {
	conn := &fakeConn{}
	_, err := newTestSender(conn).Request(context.Background(), protocol.TypeMessage, make(chan int))
	assert.ErrorIs(t, err, protocol.ErrCodecFault)
	connects, _ := conn.counts()
	assert.Zero(t, connects)
}
