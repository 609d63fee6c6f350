package server

import (
	"regexp"
	"strings"
)

// LineKind classifies one console line.
type LineKind int

const (
	LineOther LineKind = iota
	LineChat
	LineJoined
	LineLeft
	LineStartup
	LineStopping
	LineRconReady
	LineBotAttached
)

var lineKindNames = map[LineKind]string{
	LineOther:       "other",
	LineChat:        "chat",
	LineJoined:      "joined",
	LineLeft:        "left",
	LineStartup:     "startup",
	LineStopping:    "stopping",
	LineRconReady:   "rcon_ready",
	LineBotAttached: "bot_attached",
}

// String returns the string representation of LineKind.
func (k LineKind) String() string {
	if s, ok := lineKindNames[k]; ok {
		return s
	}
	return "other"
}

// LogLine is a parsed console line.
type LogLine struct {
	Kind    LineKind
	Player  string
	Message string
	// Thread is the logging thread, e.g. "Server thread"; empty for
	// servers that log "[time LEVEL]".
	Thread string
	Raw    string
}

var (
	// [12:34:56] [Server thread/INFO]: body
	vanillaHeader = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] \[([^\]/]+)/[A-Z]+\](?: \[[^\]]+\])?: (.*)$`)
	// [12:34:56 INFO]: body
	paperHeader = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2} [A-Z]+\]: (.*)$`)

	chatLine     = regexp.MustCompile(`^(?:\[Not Secure\] )?<([^>\s]+)> (.*)$`)
	joinedLine   = regexp.MustCompile(`^(\S{1,32}) joined the game$`)
	leftLine     = regexp.MustCompile(`^(\S{1,32}) left the game$`)
	startupLine  = regexp.MustCompile(`^Done \([\d.,]+s\)! For help`)
	stoppingLine = regexp.MustCompile(`^Stopping (?:the )?server$`)
	rconLine     = regexp.MustCompile(`^RCON running on (\S+)$`)
)

// BotAttachedMarker is what the bot says over RCON once its session is up.
const BotAttachedMarker = "[Rcon] BotServer was connected to the server!"

// ParseLine classifies a console line. Lines that carry no log header are
// treated as bodies.
func ParseLine(raw string) LogLine {
	line := LogLine{Kind: LineOther, Raw: raw}
	body := strings.TrimRight(raw, "\r\n")

	if m := vanillaHeader.FindStringSubmatch(body); m != nil {
		line.Thread = m[1]
		body = m[2]
	} else if m := paperHeader.FindStringSubmatch(body); m != nil {
		body = m[1]
	}
	line.Message = body

	// chat first: players can type the marker text
	switch {
	case chatLine.MatchString(body):
		m := chatLine.FindStringSubmatch(body)
		line.Kind = LineChat
		line.Player = m[1]
		line.Message = m[2]
	case strings.Contains(body, BotAttachedMarker):
		line.Kind = LineBotAttached
	case joinedLine.MatchString(body):
		line.Kind = LineJoined
		line.Player = joinedLine.FindStringSubmatch(body)[1]
	case leftLine.MatchString(body):
		line.Kind = LineLeft
		line.Player = leftLine.FindStringSubmatch(body)[1]
	case startupLine.MatchString(body):
		line.Kind = LineStartup
	case stoppingLine.MatchString(body):
		line.Kind = LineStopping
	case rconLine.MatchString(body):
		line.Kind = LineRconReady
		line.Message = rconLine.FindStringSubmatch(body)[1]
	}
	return line
}
