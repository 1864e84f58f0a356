//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/events"
	"zwave-go-home/internal/inclusion"
	"zwave-go-home/internal/store"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
	// Discovery publishes Home Assistant discovery config for nodes.
	Discovery bool
}

// Controller is what the bridge needs from the Z-Wave controller.
type Controller interface {
	Subscribe(fn events.Listener) func()
	GetNode(id uint8) (*store.Node, error)
	ListNodes() ([]*store.Node, error)
	StartInclusion(ctx context.Context, opts inclusion.Options) error
	StopInclusion(ctx context.Context) error
	StartExclusion(ctx context.Context, opts inclusion.Options) error
	StopExclusion(ctx context.Context) error
	SendRaw(ctx context.Context, cmd controller.RawCommand) (*controller.RawResponse, error)
	SendData(ctx context.Context, node uint8, cmd []byte) error
	SessionID() string
}

const requestTimeout = 10 * time.Second

// Bridge publishes controller events and node state to MQTT and accepts
// inclusion and command requests.
type Bridge struct {
	client pahomqtt.Client
	ctrl   Controller
	cfg    Config
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	// publish is replaced in tests.
	publish func(topic string, payload []byte, retained bool)

	mu        sync.Mutex
	announced map[uint8]int // node -> number of discovery entities published
}

func newBridge(ctrl Controller, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "zwave"
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctrl:      ctrl,
		cfg:       cfg,
		prefix:    cfg.TopicPrefix,
		logger:    logger.With("component", "mqtt"),
		ctx:       ctx,
		cancel:    cancel,
		announced: make(map[uint8]int),
	}
	b.publish = b.mqttPublish
	return b
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(ctrl Controller, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(ctrl, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zwave-go-home-" + ctrl.SessionID()[:8]
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.topic("bridge", "state"), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllNodes()
			b.subscribeRequests()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to controller events.
func (b *Bridge) Start() {
	b.unsub = b.ctrl.Subscribe(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) topic(parts ...string) string {
	return b.prefix + "/" + strings.Join(parts, "/")
}

func (b *Bridge) nodeTopic(id uint8) string {
	return b.topic("node", strconv.Itoa(int(id)))
}

func (b *Bridge) handleEvent(e events.Event) {
	b.publish(b.topic("event", e.Type()), mustJSON(events.Wrap(e)), false)

	switch ev := e.(type) {
	case events.InclusionDone:
		b.publishNode(ev.NodeID)
	case events.NodeInfo:
		b.publishNode(ev.NodeID)
	case events.ValueUpdated:
		b.publishNode(ev.NodeID)
	case events.NodeRemoved:
		if ev.NodeID != 0 {
			b.removeNode(ev.NodeID)
		}
	case events.ConnectionError:
		b.publishBridgeState("offline")
	}
}

func (b *Bridge) publishNode(id uint8) {
	node, err := b.ctrl.GetNode(id)
	if err != nil {
		b.logger.Debug("node state not available", "node", id, "err", err)
		return
	}
	b.publish(b.nodeTopic(id), mustJSON(nodeState(node)), true)

	if !b.cfg.Discovery {
		return
	}
	msgs := buildDiscovery(node, b.prefix)
	if len(msgs) == 0 {
		return
	}
	// Re-announce when a report reveals a new entity.
	b.mu.Lock()
	changed := b.announced[id] != len(msgs)
	b.announced[id] = len(msgs)
	b.mu.Unlock()
	if !changed {
		return
	}
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "node", id, "name", node.DisplayName(), "entities", len(msgs))
}

func (b *Bridge) removeNode(id uint8) {
	b.publish(b.nodeTopic(id), nil, true)
	if b.cfg.Discovery {
		for _, msg := range buildRemoveDiscovery(id) {
			b.publish(msg.Topic, msg.Payload, true)
		}
	}
	b.mu.Lock()
	delete(b.announced, id)
	b.mu.Unlock()
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.topic("bridge", "state"), []byte(state), true)
}

func (b *Bridge) publishAllNodes() {
	nodes, err := b.ctrl.ListNodes()
	if err != nil {
		b.logger.Error("list nodes", "err", err)
		return
	}
	for _, n := range nodes {
		b.publishNode(n.ID)
	}
}

func (b *Bridge) subscribeRequests() {
	handlers := map[string]func([]byte){
		b.topic("bridge", "request", "inclusion"): func(p []byte) { b.handleSession(p, true) },
		b.topic("bridge", "request", "exclusion"): func(p []byte) { b.handleSession(p, false) },
		b.topic("bridge", "request", "send"):      b.handleSend,
	}
	for topic, h := range handlers {
		b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			h(msg.Payload())
		})
	}
	b.client.Subscribe(b.topic("node", "+", "set"), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		id, ok := nodeFromSetTopic(b.prefix, msg.Topic())
		if !ok {
			b.logger.Warn("invalid command topic", "topic", msg.Topic())
			return
		}
		b.handleSet(id, msg.Payload())
	})
}

// sessionRequest is the JSON form of an inclusion/exclusion request. A plain
// "start" or "stop" payload is accepted too.
type sessionRequest struct {
	Action string `json:"action"`
	inclusion.Options
}

func parseSessionRequest(payload []byte) (sessionRequest, error) {
	var req sessionRequest
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal(payload, &req); err != nil {
			return req, err
		}
	} else {
		req.Action = text
	}
	req.Action = strings.ToLower(req.Action)
	if req.Action != "start" && req.Action != "stop" {
		return req, fmt.Errorf("unknown action %q", req.Action)
	}
	return req, nil
}

func (b *Bridge) handleSession(payload []byte, include bool) {
	req, err := parseSessionRequest(payload)
	if err != nil {
		b.logger.Warn("invalid session request", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	switch {
	case include && req.Action == "start":
		err = b.ctrl.StartInclusion(ctx, req.Options)
	case include:
		err = b.ctrl.StopInclusion(ctx)
	case req.Action == "start":
		err = b.ctrl.StartExclusion(ctx, req.Options)
	default:
		err = b.ctrl.StopExclusion(ctx)
	}
	name := "inclusion"
	if !include {
		name = "exclusion"
	}
	b.respond(name, nil, err)
}

func (b *Bridge) handleSend(payload []byte) {
	var cmd controller.RawCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.respond("send", nil, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()
	resp, err := b.ctrl.SendRaw(ctx, cmd)
	b.respond("send", resp, err)
}

// handleSet maps {"state":"ON"|"OFF"} and {"level":0..99} to a Basic Set.
func (b *Bridge) handleSet(id uint8, payload []byte) {
	value, err := parseSetCommand(payload)
	if err != nil {
		b.logger.Warn("invalid command JSON", "node", id, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()
	if err := b.ctrl.SendData(ctx, id, basicSet(value)); err != nil {
		b.logger.Warn("set command failed", "node", id, "err", err)
	}
}

func parseSetCommand(payload []byte) (uint8, error) {
	var cmd map[string]any
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, err
	}
	if level, ok := toFloat64(cmd["level"]); ok {
		return clampLevel(level), nil
	}
	if level, ok := toFloat64(cmd["brightness"]); ok {
		return clampLevel(level), nil
	}
	if state, ok := cmd["state"].(string); ok {
		switch strings.ToUpper(state) {
		case "ON":
			return 0xFF, nil
		case "OFF":
			return 0x00, nil
		}
		return 0, fmt.Errorf("unknown state %q", state)
	}
	return 0, fmt.Errorf("no state or level in command")
}

func clampLevel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 99:
		return 99
	}
	return uint8(v)
}

func basicSet(value uint8) []byte {
	return []byte{0x20, 0x01, value}
}

func nodeFromSetTopic(prefix, topic string) (uint8, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/node/")
	if !ok {
		return 0, false
	}
	idStr, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 8)
	if err != nil || !inclusion.ValidNodeID(uint8(id)) {
		return 0, false
	}
	return uint8(id), true
}

type response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

func (b *Bridge) respond(name string, result any, err error) {
	r := response{OK: err == nil, Result: result}
	if err != nil {
		r.Error = err.Error()
		b.logger.Warn("request failed", "request", name, "err", err)
	}
	b.publish(b.topic("bridge", "response", name), mustJSON(r), false)
}

// nodeState is the retained JSON state of a node.
func nodeState(n *store.Node) map[string]any {
	state := make(map[string]any, len(n.Values)+4)
	for k, v := range n.Values {
		state[k] = v
	}
	state["id"] = n.ID
	state["name"] = n.DisplayName()
	if !n.LastSeen.IsZero() {
		state["last_seen"] = n.LastSeen.Format(time.RFC3339)
	}
	if on, ok := n.Values["switch"].(bool); ok {
		state["state"] = onOff(on)
	} else if level, ok := toFloat64(n.Values["level"]); ok {
		state["state"] = onOff(level > 0)
		state["brightness"] = level
	}
	return state
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func (b *Bridge) mqttPublish(topic string, payload []byte, retained bool) {
	if b.client == nil {
		return
	}
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	default:
		return 0, false
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
