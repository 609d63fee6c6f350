// mcbridge - Minecraft server to chat bot bridge.
//
// mcbridge runs next to (or launches) a Minecraft server, follows its
// console, and keeps two websocket channels to the bot: one for the
// notifications it sends, one for the commands the bot sends back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcbridge-project/mcbridge/internal/api"
	"github.com/mcbridge-project/mcbridge/internal/bridge"
	"github.com/mcbridge-project/mcbridge/internal/cli"
	"github.com/mcbridge-project/mcbridge/internal/config"
	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/health"
	"github.com/mcbridge-project/mcbridge/internal/protocol"
	"github.com/mcbridge-project/mcbridge/internal/server"
	"github.com/mcbridge-project/mcbridge/internal/telemetry"
	"github.com/mcbridge-project/mcbridge/internal/transport"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

const (
	AppName    = "mcbridge"
	AppVersion = "1.0.0"
	Banner     = `
                 _          _     _
  _ __ ___   ___| |__  _ __(_) __| | __ _  ___
 | '_ ' _ \ / __| '_ \| '__| |/ _' |/ _' |/ _ \
 | | | | | | (__| |_) | |  | | (_| | (_| |  __/
 |_| |_| |_|\___|_.__/|_|  |_|\__,_|\__, |\___|
                                    |___/  v%s
 Minecraft server to chat bot bridge
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// defaults until the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting mcbridge")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if !cfg.IsFirstRun() {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
		if v := config.Validate(cfg); !v.IsValid() {
			log.Fatal().Err(v.Errors[0]).Msg("configuration is still invalid")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridgeCfg := cfg.GetBridge()
	serverCfg := cfg.GetServer()
	auth := protocol.AuthInfo{Token: bridgeCfg.Token, Name: bridgeCfg.Name}

	eventBus := events.NewEventBus()

	// Outbound channel: notifications to the bot.
	botConn := transport.NewConnection(transport.Options{
		BaseURI:     bridgeCfg.URI,
		Role:        transport.RoleBot,
		Auth:        auth,
		ReadTimeout: bridgeCfg.ReadTimeoutDuration(),
	})
	sender := bridge.NewSender(botConn, bridge.SenderOptions{
		MaxAttempts:  bridgeCfg.MaxRetries,
		PingInterval: bridgeCfg.PingDuration(),
	})

	// Inbound channel: commands from the bot. No read timeout, the bot may
	// stay silent for as long as it likes.
	mcConn := transport.NewConnection(transport.Options{
		BaseURI: bridgeCfg.URI,
		Role:    transport.RoleMinecraft,
		Auth:    auth,
	})

	launch := serverCfg.Command != ""
	proc := server.NewProcessManager(server.ProcessConfig{
		Executable:  serverCfg.Command,
		Args:        serverCfg.Args,
		WorkDir:     serverCfg.WorkDir,
		StopTimeout: time.Duration(serverCfg.StopTimeout) * time.Second,
	})
	var console server.Console
	if launch {
		console = proc
	}

	info := server.NewInfo(serverCfg.PropertiesPath, proc)
	notifier := bridge.NewNotifier(sender, &syncFlagStore{cfg: cfg, events: eventBus}, info)
	rcon := server.NewRconSession(serverCfg.RconHost, time.Duration(serverCfg.RconTimeout)*time.Second)

	relay := server.NewRelay(server.RelayConfig{
		Name:        bridgeCfg.Name,
		ChatCommand: serverCfg.ChatCommand,
		SyncAll:     cfg.SyncAll,
		Notifier:    notifier,
		Info:        info,
		Rcon:        rcon,
		Console:     console,
		Process:     proc,
		Events:      eventBus,
	})

	listener := bridge.NewListener(mcConn, relay, eventBus, bridgeCfg.ReconnectDuration())

	// the bot restarted or came back: refresh the outbound channel too
	eventBus.Subscribe(events.EventBridgeConnected, "sender.reconnect", func(ctx context.Context, _ events.Event) error {
		return sender.Reconnect(ctx)
	})

	shutdownCh := make(chan string, 1)
	requestShutdown := func(reason string) {
		select {
		case shutdownCh <- reason:
		default:
		}
	}
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(_ context.Context, ev events.Event) error {
		requestShutdown(ev.Source)
		return nil
	})

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, botFacade{Sender: sender, Notifier: notifier}, relay)
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, bridgeCfg.Name, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	cliHandler := cli.NewCLI(cfg, eventBus, sender, relay, os.Stdin, os.Stdout)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: console line processing
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()

	// Task 2: inbound channel
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("uri", transport.URIFor(bridgeCfg.URI, transport.RoleMinecraft)).Msg("starting listener")
		listener.Run(ctx)
	}()

	// Task 3: outbound liveness
	wg.Add(1)
	go func() {
		defer wg.Done()
		sender.KeepAlive(ctx)
	}()

	// Task 4: the game server console
	if launch {
		if err := proc.Start(ctx, relay.Feed); err != nil {
			log.Fatal().Err(err).Msg("failed to start game server")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-proc.Done():
				log.Warn().Int("exit_code", proc.ExitCode()).Msg("game server exited")
				requestShutdown("server exited")
			case <-ctx.Done():
			}
		}()
	} else {
		tailer := server.NewTailer(serverCfg.LogFile, 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("path", serverCfg.LogFile).Msg("following server log")
			if err := tailer.Run(ctx, relay.Feed); err != nil {
				errCh <- fmt.Errorf("log tailer: %w", err)
			}
		}()
	}

	// Task 5: health checks
	healthMgr := health.NewManager(health.Options{
		WorkDir:           serverCfg.WorkDir,
		Adopt:             !launch,
		ProcessInterval:   15 * time.Second,
		DiskInterval:      10 * time.Minute,
		HeartbeatInterval: 60 * time.Second,
		FindProcess:       server.FindServerProcess,
	}, proc, bridgeStatus{sender: sender, relay: relay}, eventBus)
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	// Task 6: REST API
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 7: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 8: interactive CLI. Not waited for, it may block on stdin.
	go cliHandler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case reason := <-shutdownCh:
		log.Info().Str("reason", reason).Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// the server is still feeding the relay while it stops
	if launch {
		if err := proc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop game server")
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	rcon.Close()
	sender.Close()
	eventBus.Stop()

	log.Info().Msg("mcbridge stopped")
}

// botFacade is the bot as the REST API sees it.
type botFacade struct {
	*bridge.Sender
	*bridge.Notifier
}

// syncFlagStore persists the bot-owned flag and announces changes.
type syncFlagStore struct {
	cfg    *config.Config
	events *events.EventBus
}

func (s *syncFlagStore) SetSyncAll(flag bool) error {
	changed := s.cfg.SyncAll() != flag
	if err := s.cfg.SetSyncAll(flag); err != nil {
		return err
	}
	if changed {
		s.events.Emit(context.Background(), events.Event{
			Type:    events.EventSyncFlagChanged,
			Source:  "notifier",
			Payload: events.SyncFlagPayload{SyncAll: flag},
		})
	}
	return nil
}

// bridgeStatus is the bridge as the health heartbeat sees it.
type bridgeStatus struct {
	sender *bridge.Sender
	relay  *server.Relay
}

func (b bridgeStatus) Connected() bool   { return b.sender.Connected() }
func (b bridgeStatus) RconRunning() bool { return b.relay.RconRunning() }

// startWithRetry attempts to start a listener/server with retry on bind
// errors, 3 seconds apart.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
