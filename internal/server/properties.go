package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/magiconair/properties"

	"github.com/mcbridge-project/mcbridge/internal/protocol"
)

// ErrConfigFault means server.properties is missing, RCON is disabled or
// the RCON fields are absent.
var ErrConfigFault = errors.New("server config fault")

// Properties is the subset of server.properties the bridge needs.
type Properties struct {
	RconEnabled  bool
	RconPort     int
	RconPassword string
	ServerPort   int
	MaxPlayers   int
	MOTD         string
}

// LoadProperties reads a server.properties file. Values are taken
// literally; ${...} is not expanded.
func LoadProperties(path string) (Properties, error) {
	var props Properties

	if _, err := os.Stat(path); err != nil {
		return props, fmt.Errorf("%w: %s: %v", ErrConfigFault, path, err)
	}

	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadFile(path)
	if err != nil {
		return props, fmt.Errorf("%w: %s: %v", ErrConfigFault, path, err)
	}

	props.RconEnabled = strings.EqualFold(strings.TrimSpace(p.GetString("enable-rcon", "false")), "true")
	props.RconPassword = strings.TrimSpace(p.GetString("rcon.password", ""))
	props.RconPort = intValue(p, "rcon.port")
	props.ServerPort = intValue(p, "server-port")
	props.MaxPlayers = intValue(p, "max-players")
	props.MOTD = p.GetString("motd", "")

	return props, nil
}

// RconInfo returns the RCON credentials, or ErrConfigFault if RCON is
// disabled or incomplete.
func (p Properties) RconInfo() (protocol.RconInfo, error) {
	if !p.RconEnabled {
		return protocol.RconInfo{}, fmt.Errorf("%w: enable-rcon is not true", ErrConfigFault)
	}
	if p.RconPassword == "" || p.RconPort <= 0 {
		return protocol.RconInfo{}, fmt.Errorf("%w: rcon.password or rcon.port missing", ErrConfigFault)
	}
	return protocol.RconInfo{Password: p.RconPassword, Port: p.RconPort}, nil
}

func intValue(p *properties.Properties, key string) int {
	v, ok := p.Get(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// PIDSource reports the game server process id; 0 when unknown.
type PIDSource interface {
	PID() int
}

// Info answers startup questions about the server: RCON credentials read
// fresh from disk on every call, and the process id.
type Info struct {
	propertiesPath string
	proc           PIDSource
}

// NewInfo creates an Info. proc may be nil.
func NewInfo(propertiesPath string, proc PIDSource) *Info {
	return &Info{propertiesPath: propertiesPath, proc: proc}
}

// RconInfo reads the RCON credentials from server.properties.
func (i *Info) RconInfo() (protocol.RconInfo, error) {
	props, err := LoadProperties(i.propertiesPath)
	if err != nil {
		return protocol.RconInfo{}, err
	}
	return props.RconInfo()
}

// PID returns the attached process id, or 0.
func (i *Info) PID() int {
	if i.proc == nil {
		return 0
	}
	return i.proc.PID()
}
