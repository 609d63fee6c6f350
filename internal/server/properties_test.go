package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
)

func writeProperties(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.properties")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadProperties(t *testing.T) {
	path := writeProperties(t, `#Minecraft server properties
enable-rcon=true
rcon.port=25575
rcon.password=s3cr${et}
server-port=25565
max-players=20
motd=A Minecraft Server
`)

	props, err := LoadProperties(path)
	require.NoError(t, err)
	assert.True(t, props.RconEnabled)
	assert.Equal(t, 25575, props.RconPort)
	assert.Equal(t, "s3cr${et}", props.RconPassword)
	assert.Equal(t, 25565, props.ServerPort)
	assert.Equal(t, 20, props.MaxPlayers)
	assert.Equal(t, "A Minecraft Server", props.MOTD)

	info, err := props.RconInfo()
	require.NoError(t, err)
	assert.Equal(t, protocol.RconInfo{Password: "s3cr${et}", Port: 25575}, info)
}

func TestLoadPropertiesMissingFile(t *testing.T) {
	_, err := LoadProperties(filepath.Join(t.TempDir(), "nope.properties"))
	assert.ErrorIs(t, err, ErrConfigFault)
}

func TestRconInfoFaults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"disabled", "enable-rcon=false\nrcon.port=25575\nrcon.password=x\n"},
		{"absent flag", "rcon.port=25575\nrcon.password=x\n"},
		{"no password", "enable-rcon=true\nrcon.port=25575\nrcon.password=\n"},
		{"no port", "enable-rcon=true\nrcon.password=x\n"},
		{"bad port", "enable-rcon=true\nrcon.port=abc\nrcon.password=x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInfo(writeProperties(t, tt.body), nil).RconInfo()
			assert.ErrorIs(t, err, ErrConfigFault)
		})
	}
}

type fixedPID int

func (p fixedPID) PID() int { return int(p) }

func TestInfoReadsFreshAndReportsPID(t *testing.T) {
	path := writeProperties(t, "enable-rcon=false\n")
	info := NewInfo(path, fixedPID(4242))

	_, err := info.RconInfo()
	require.ErrorIs(t, err, ErrConfigFault)

	require.NoError(t, os.WriteFile(path, []byte("enable-rcon=true\nrcon.port=25575\nrcon.password=pw\n"), 0o644))
	got, err := info.RconInfo()
	require.NoError(t, err)
	assert.Equal(t, 25575, got.Port)

	assert.Equal(t, 4242, info.PID())
	assert.Equal(t, 0, NewInfo(path, nil).PID())
}
