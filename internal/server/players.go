package server

import (
	"regexp"
	"strings"
)

var (
	// vanilla: "There are 2 of a max 20 players online: Alice, Bob"
	// 1.12 and earlier: "There are 2/20 players online:"
	playerListPattern = regexp.MustCompile(
		`^There are (\d+) ?(?:of a max(?:imum)?(?: of)? \d+|/ ?\d+|out of maximum \d+) players online:(.*)$`)
	formattingCode = regexp.MustCompile(`§.`)
)

// ParsePlayerList extracts player names from the reply to "list". An
// unexpected reply yields an empty, non-nil list.
func ParsePlayerList(reply string) []string {
	players := []string{}

	text := strings.TrimSpace(formattingCode.ReplaceAllString(reply, ""))
	// some servers put the names on the next line
	text = strings.ReplaceAll(text, "\n", " ")

	m := playerListPattern.FindStringSubmatch(text)
	if m == nil || m[1] == "0" {
		return players
	}

	for _, name := range strings.Split(m[2], ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			players = append(players, name)
		}
	}
	return players
}
