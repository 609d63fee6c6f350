// Package telemetry publishes bridge and game server events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcbridge-project/mcbridge/internal/config"
	"github.com/mcbridge-project/mcbridge/internal/events"
	"github.com/mcbridge-project/mcbridge/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicBridge  = "bridge"
	TopicServer  = "server"
	TopicPlayers = "players"
	TopicChat    = "chat"
	TopicStatus  = "status"
)

var eventTopics = map[events.EventType]string{
	events.EventBridgeConnected: TopicBridge,
	events.EventBridgeClosed:    TopicBridge,
	events.EventServerStartup:   TopicServer,
	events.EventServerStopped:   TopicServer,
	events.EventRconReady:       TopicServer,
	events.EventPlayerJoined:    TopicPlayers,
	events.EventPlayerLeft:      TopicPlayers,
	events.EventPlayerChat:      TopicChat,
	events.EventMessageRelayed:  TopicChat,
	events.EventSyncFlagChanged: TopicStatus,
	events.EventHealthAlert:     TopicStatus,
	events.EventHeartbeat:       TopicStatus,
	events.EventShutdown:        TopicStatus,
}

// MQTTHandler mirrors events from the bus onto MQTT topics.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	prefix   string
	logger   zerolog.Logger

	// included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler for cfg. serverName tags every message.
func NewMQTTHandler(cfg config.MQTTConfig, serverName string, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "mcbridge-" + uuid.NewString()
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	h := newHandler(cfg, serverName, eventBus, nil)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

func newHandler(cfg config.MQTTConfig, serverName string, eventBus *events.EventBus, client mqtt.Client) *MQTTHandler {
	prefix := strings.TrimRight(cfg.Topic, "/")
	if prefix == "" {
		prefix = "mcbridge"
	}

	sysInfo := util.GetSystemInfo()
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		prefix:   prefix,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"server":   serverName,
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}
}

// Start connects to the broker and publishes events until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	for typ := range eventTopics {
		h.eventBus.Subscribe(typ, "mqtt", h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for typ := range eventTopics {
		h.eventBus.Unsubscribe(typ, "mqtt")
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	suffix, ok := eventTopics[event.Type]
	if !ok {
		return nil
	}
	h.publish(h.Topic(suffix), map[string]interface{}{
		"event":   string(event.Type),
		"source":  event.Source,
		"payload": event.Payload,
	})
	return nil
}

// Topic returns the full topic name for suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.prefix + "/" + suffix
}

// publish sends a JSON message with QoS 1.
func (h *MQTTHandler) publish(topic string, payload map[string]interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(payload map[string]interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+len(payload)+1)
	for k, v := range h.metadata {
		msg[k] = v
	}
	for k, v := range payload {
		msg[k] = v
	}
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown announces that the bridge is going away.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.Topic(TopicStatus), map[string]interface{}{
		"event": string(events.EventShutdown),
	})
}
