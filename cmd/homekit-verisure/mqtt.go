package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	alarm "github.com/caarlos0/homekit-verisure"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"
	mqttQOS        = 1
	mqttTimeout    = 10 * time.Second
)

type mqttCommand struct {
	Command string  `json:"command"`
	Code    *string `json:"code"`
}

// MQTT exposes the panels on an MQTT broker.
//
// States are published, retained, to <prefix>/alarm/<slug>, commands are read
// from <prefix>/alarm/<slug>/set.
type MQTT struct {
	prefix   string
	code     *string
	registry Registry
	client   mqtt.Client
	publish  func(topic string, payload []byte) error
}

func NewMQTT(prefix string, code *string, registry Registry) *MQTT {
	return &MQTT{
		prefix:   prefix,
		code:     code,
		registry: registry,
	}
}

func (m *MQTT) Connect(cfg Config) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetAutoReconnect(true)
	opts.SetWill(m.statusTopic(), offlinePayload, mqttQOS, true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error("mqtt connection lost", "err", err)
	})

	m.client = mqtt.NewClient(opts)
	m.publish = func(topic string, payload []byte) error {
		return wait(m.client.Publish(topic, mqttQOS, true, payload))
	}

	if err := wait(m.client.Connect()); err != nil {
		return fmt.Errorf("could not connect to mqtt broker: %w", err)
	}
	log.Info("connected to mqtt broker", "broker", cfg.MQTTBroker)
	return nil
}

func (m *MQTT) onConnect(client mqtt.Client) {
	if err := m.publish(m.statusTopic(), []byte(onlinePayload)); err != nil {
		log.Error("could not publish status", "err", err)
	}
	topic := m.prefix + "/alarm/+/set"
	if err := wait(client.Subscribe(topic, mqttQOS, func(_ mqtt.Client, msg mqtt.Message) {
		m.handle(context.Background(), msg.Topic(), msg.Payload())
	})); err != nil {
		log.Error("could not subscribe", "topic", topic, "err", err)
		return
	}
	log.Info("subscribed", "topic", topic)
	m.Publish()
}

// Publish publishes the state of all panels.
func (m *MQTT) Publish() {
	if m.publish == nil {
		return
	}
	for _, p := range m.registry.Panels() {
		payload, err := json.Marshal(alarm.Attributes(p))
		if err != nil {
			log.Error("could not marshal state", "id", p.ID(), "err", err)
			continue
		}
		if err := m.publish(m.stateTopic(p), payload); err != nil {
			log.Error("could not publish state", "id", p.ID(), "err", err)
		}
	}
}

func (m *MQTT) handle(ctx context.Context, topic string, payload []byte) {
	p, ok := m.panelFor(topic)
	if !ok {
		log.Warn("received command for unknown panel", "topic", topic)
		return
	}

	cmd, err := m.parseCommand(payload)
	if err != nil {
		log.Warn("invalid command", "topic", topic, "err", err)
		return
	}
	cmd.Targets = []string{p.ID()}

	log.Info("dispatching", "id", p.ID(), "service", cmd.Kind)
	if err := m.registry.Dispatch(ctx, cmd); err != nil {
		log.Error("could not change alarm state", "id", p.ID(), "service", cmd.Kind, "err", err)
	}
}

// parseCommand reads either a JSON command or a bare service name, which
// uses the configured code.
func (m *MQTT) parseCommand(payload []byte) (alarm.Command, error) {
	s := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(s, "{") {
		kind, err := alarm.ParseKind(s)
		if err != nil {
			return alarm.Command{}, err
		}
		return alarm.Command{Kind: kind, Code: m.code}, nil
	}

	var c mqttCommand
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return alarm.Command{}, fmt.Errorf("invalid json: %w", err)
	}
	kind, err := alarm.ParseKind(c.Command)
	if err != nil {
		return alarm.Command{}, err
	}
	return alarm.Command{Kind: kind, Code: c.Code}, nil
}

func (m *MQTT) panelFor(topic string) (alarm.Panel, bool) {
	slug := strings.TrimSuffix(strings.TrimPrefix(topic, m.prefix+"/alarm/"), "/set")
	for _, p := range m.registry.Panels() {
		if Slugify(p.Name()) == slug {
			return p, true
		}
	}
	return nil, false
}

func (m *MQTT) statusTopic() string {
	return m.prefix + "/status"
}

func (m *MQTT) stateTopic(p alarm.Panel) string {
	return m.prefix + "/alarm/" + Slugify(p.Name())
}

func (m *MQTT) Close() {
	if m.client == nil || !m.client.IsConnected() {
		return
	}
	if err := m.publish(m.statusTopic(), []byte(offlinePayload)); err != nil {
		log.Error("could not publish status", "err", err)
	}
	m.client.Disconnect(250)
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("timed out after %s", mqttTimeout)
	}
	return token.Error()
}

var nonAlphanumeric = regexp.MustCompile("[^a-z0-9]+")

// Slugify creates a topic-safe slug from the given string.
func Slugify(s string) string {
	s = strings.ToLower(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
