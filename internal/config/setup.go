package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard prompts for the first-run settings on in and writes the
// prompts to out. The configuration is saved when it validates.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	for {
		w.println("╔══════════════════════════════════════════════╗")
		w.println("║           mcbridge - First Run Setup         ║")
		w.println("╚══════════════════════════════════════════════╝")
		w.println("")

		cfg.mu.Lock()
		w.println("── Bot Connection ──")
		cfg.Bridge.URI = w.promptString("Bot websocket URI", cfg.Bridge.URI)
		cfg.Bridge.Name = w.promptString("Server display name", cfg.Bridge.Name)
		cfg.Bridge.Token = w.promptString("Shared token", cfg.Bridge.Token)
		cfg.Bridge.ReconnectInterval = w.promptInt("Reconnect interval (seconds)", cfg.Bridge.ReconnectInterval)

		w.println("")
		w.println("── Minecraft Server ──")
		cfg.Server.Command = w.promptString("Launch command (blank to follow a log file)", cfg.Server.Command)
		if cfg.Server.Command == "" {
			cfg.Server.LogFile = w.promptString("Server log file", cfg.Server.LogFile)
		}
		cfg.Server.PropertiesPath = w.promptString("server.properties path", cfg.Server.PropertiesPath)

		w.println("")
		w.println("── Optional Services ──")
		cfg.API.Enabled = w.promptBool("Enable local REST API", cfg.API.Enabled)
		cfg.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", cfg.MQTT.Enabled)
		if cfg.MQTT.Enabled {
			cfg.MQTT.BrokerURL = w.promptString("MQTT broker host", cfg.MQTT.BrokerURL)
		}
		cfg.mu.Unlock()

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		w.println("\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			w.printf("  - [%s] %s\n", e.Field, e.Message)
		}
		if w.eof || !w.promptBool("Would you like to try again?", true) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	w.println("")
	w.println("✓ Configuration saved successfully!")
	w.println("")
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (w *wizard) println(s string) {
	fmt.Fprintln(w.out, s)
}

func (w *wizard) printf(format string, args ...any) {
	fmt.Fprintf(w.out, format, args...)
}

func (w *wizard) readLine() string {
	input, err := w.reader.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		w.printf("  %s [%s]: ", prompt, defaultVal)
	} else {
		w.printf("  %s: ", prompt)
	}

	input := w.readLine()
	if input == "" {
		return defaultVal
	}
	return input
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	w.printf("  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		w.printf("    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	w.printf("  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
