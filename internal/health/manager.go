// Package health runs periodic checks next to the bridge: adopting a
// server process started outside mcbridge, disk space under the server
// directory, and a heartbeat with the bridge status.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// Process is the supervised game server. *server.ProcessManager satisfies it.
type Process interface {
	IsRunning() bool
	CheckAttached()
	Attach(pid int32) error
	Occupation() (protocol.Occupation, bool)
}

// Bridge reports the bridge state for the heartbeat.
type Bridge interface {
	Connected() bool
	RconRunning() bool
}

// Emitter publishes local events. *events.EventBus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event events.Event)
}

// Options configures the checks. A zero interval disables a check.
type Options struct {
	// WorkDir is the server directory, used for disk usage and to find an
	// already running server.
	WorkDir string
	// Adopt enables attaching to a server process that mcbridge did not launch.
	Adopt bool

	ProcessInterval   time.Duration
	DiskInterval      time.Duration
	HeartbeatInterval time.Duration

	// FindProcess locates the server process in WorkDir.
	FindProcess func(workDir string) (int32, error)
	// DiskUsage defaults to util.GetDiskUsage.
	DiskUsage func(path string) (util.DiskUsage, error)
}

// Manager runs periodic health checks.
type Manager struct {
	opts     Options
	proc     Process
	bridge   Bridge
	eventBus Emitter

	lastDiskLevel string
}

// NewManager creates a new health check manager.
func NewManager(opts Options, proc Process, bridge Bridge, eventBus Emitter) *Manager {
	if opts.DiskUsage == nil {
		opts.DiskUsage = util.GetDiskUsage
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	return &Manager{
		opts:     opts,
		proc:     proc,
		bridge:   bridge,
		eventBus: eventBus,
	}
}

// Start runs every enabled check on its own ticker until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"server_process", m.processInterval(), m.checkServerProcess},
		{"disk_utilization", m.opts.DiskInterval, m.checkDiskUtilization},
		{"heartbeat", m.opts.HeartbeatInterval, m.heartbeat},
	}

	done := make(chan struct{})
	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		check := check
		go func() {
			defer func() { done <- struct{}{} }()

			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	for i := 0; i < started; i++ {
		<-done
	}
	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

func (m *Manager) processInterval() time.Duration {
	if !m.opts.Adopt || m.opts.FindProcess == nil {
		return 0
	}
	return m.opts.ProcessInterval
}

// checkServerProcess drops an adopted process that exited and adopts a new
// one when the server is running in WorkDir.
func (m *Manager) checkServerProcess(_ context.Context) {
	m.proc.CheckAttached()
	if m.proc.IsRunning() {
		return
	}

	pid, err := m.opts.FindProcess(m.opts.WorkDir)
	if err != nil {
		log.Trace().Err(err).Msg("no game server process to adopt")
		return
	}
	if err := m.proc.Attach(pid); err != nil {
		log.Debug().Err(err).Int32("pid", pid).Msg("failed to attach to game server")
	}
}

// checkDiskUtilization alerts once per threshold crossing at 80, 90, 95
// and 100 percent.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	usage, err := m.opts.DiskUsage(m.opts.WorkDir)
	if err != nil {
		log.Warn().Err(err).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	var level string
	switch {
	case usage.UsedPercent >= 100:
		level = "critical"
	case usage.UsedPercent >= 95:
		level = "error"
	case usage.UsedPercent >= 90:
		level = "warning"
	case usage.UsedPercent >= 80:
		level = "info"
	}

	if level == m.lastDiskLevel {
		return
	}
	m.lastDiskLevel = level
	if level == "" {
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	log.Warn().Str("level", level).Msg(message)

	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHealthAlert,
		Source: "health_check",
		Payload: events.HealthAlertPayload{
			Check:   "disk_utilization",
			Level:   level,
			Message: message,
		},
	})
}

func (m *Manager) heartbeat(ctx context.Context) {
	payload := events.HeartbeatPayload{
		BotConnected:  m.bridge.Connected(),
		RconRunning:   m.bridge.RconRunning(),
		ServerRunning: m.proc.IsRunning(),
	}
	if occ, ok := m.proc.Occupation(); ok {
		payload.CPU = occ.CPU
		payload.RAM = occ.RAM
	}
	if !payload.BotConnected {
		log.Warn().Msg("bot is not connected")
	}

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "heartbeat",
		Payload: payload,
	})
}
