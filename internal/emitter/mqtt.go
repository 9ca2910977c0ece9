// Package emitter publishes daemon state transitions to an MQTT broker
// for home-automation or cabinet-dashboard integrations. Entirely
// optional: an empty broker address disables it and the director never
// notices.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/lumen-marquee/internal/config"
)

// GameState is the payload published on context transitions.
type GameState struct {
	System    string    `json:"system"`
	Game      string    `json:"game,omitempty"`
	Running   bool      `json:"running"`
	Timestamp time.Time `json:"timestamp"`
}

// Unlock is the payload published when an achievement unlocks.
type Unlock struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Hardcore  bool      `json:"hardcore"`
	Timestamp time.Time `json:"timestamp"`
}

// Health is the periodic liveness payload.
type Health struct {
	InstanceID string    `json:"instance_id"`
	Uptime     string    `json:"uptime"`
	Events     uint64    `json:"events"`
	Timestamp  time.Time `json:"timestamp"`
}

// MQTTEmitter publishes daemon state to the configured broker.
type MQTTEmitter struct {
	cfg    *config.Config
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTEmitter creates an emitter. Connect must be called before the
// first publish.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Enabled reports whether a broker is configured.
func (e *MQTTEmitter) Enabled() bool {
	return e.cfg.MQTT.Broker != ""
}

// Connect establishes the broker connection with auto-reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("emitter: mqtt connected",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// PublishGameState publishes a context transition.
func (e *MQTTEmitter) PublishGameState(state GameState) error {
	state.Timestamp = time.Now().UTC()
	return e.publish("game", state)
}

// PublishUnlock publishes an achievement unlock.
func (e *MQTTEmitter) PublishUnlock(u Unlock) error {
	u.Timestamp = time.Now().UTC()
	return e.publish("unlock", u)
}

// PublishHealth publishes a liveness heartbeat.
func (e *MQTTEmitter) PublishHealth(h Health) error {
	if h.InstanceID == "" {
		h.InstanceID = e.cfg.InstanceID
	}
	h.Timestamp = time.Now().UTC()
	return e.publish("health", h)
}

func (e *MQTTEmitter) publish(kind string, payload any) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("emitter: marshal %s: %w", kind, err)
	}

	topic := fmt.Sprintf("%s/%s/%s", e.cfg.MQTT.TopicPrefix, e.cfg.InstanceID, kind)
	token := e.client.Publish(topic, e.cfg.MQTT.QoS, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "size", len(data))
	return nil
}

// Disconnect closes the broker connection. Idempotent.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// StatsSnapshot returns the current counters.
func (e *MQTTEmitter) StatsSnapshot() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
