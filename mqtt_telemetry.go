package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig is the optional telemetry section of the configuration
// document (SPEC_FULL.md §12 "Telemetry"). Absent or empty Broker disables
// the publisher entirely.
type MQTTConfig struct {
	Broker       string `json:"broker"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	TopicPrefix  string `json:"topic-prefix"`
	QoS          byte   `json:"qos"`
}

// qsoTelemetry is the wire shape published to "<prefix>/qso" on every
// completed contact.
type qsoTelemetry struct {
	Timestamp int64  `json:"timestamp"`
	Slice     string `json:"slice"`
	Callsign  string `json:"callsign"`
	Grid      string `json:"grid,omitempty"`
	Band      string `json:"band"`
	Mode      string `json:"mode"`
	ReportSent string `json:"report_sent"`
	ReportReceived string `json:"report_received"`
}

// decodeTelemetry is the wire shape published to "<prefix>/decode" for every
// ingested decode, mirroring the public projection's field set.
type decodeTelemetry struct {
	Timestamp int64  `json:"timestamp"`
	Slice     string `json:"slice"`
	Band      string `json:"band"`
	Mode      string `json:"mode"`
	SNRDb     int    `json:"snr_db"`
	Callsign  string `json:"callsign"`
	IsCQ      bool   `json:"is_cq"`
}

// MQTTTelemetry publishes QSO and decode events to an MQTT broker for
// external dashboards. Grounded on the teacher's MQTTPublisher in
// mqtt_publisher.go: same client setup (auto-reconnect, keepalive,
// random client id), narrowed from the teacher's Prometheus-gatherer-driven
// fan-out to two direct event publishers, since this hub's telemetry is
// event-shaped rather than periodic-aggregate-shaped.
type MQTTTelemetry struct {
	client mqtt.Client
	config MQTTConfig
}

// generateTelemetryClientID mirrors the teacher's generateClientID.
func generateTelemetryClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "wsjtx-hub_" + hex.EncodeToString(b)
}

// NewMQTTTelemetry connects to the configured broker. Returns (nil, nil) if
// no broker is configured, so callers can treat telemetry as always-optional
// without a separate enabled flag.
func NewMQTTTelemetry(cfg MQTTConfig) (*MQTTTelemetry, error) {
	if cfg.Broker == "" {
		return nil, nil
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "wsjtx-hub"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateTelemetryClientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("mqtt telemetry: connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt telemetry: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt telemetry: connect %s: %w", cfg.Broker, token.Error())
	}

	return &MQTTTelemetry{client: client, config: cfg}, nil
}

// PublishQSO publishes a completed contact to "<prefix>/qso".
func (t *MQTTTelemetry) PublishQSO(q QSORecord) {
	if t == nil || !t.client.IsConnected() {
		return
	}
	payload := qsoTelemetry{
		Timestamp:      q.EndTime.Unix(),
		Slice:          q.SliceLetter,
		Callsign:       q.Callsign,
		Grid:           q.Grid,
		Band:           q.Band,
		Mode:           q.Mode,
		ReportSent:     q.ReportSent,
		ReportReceived: q.ReportReceived,
	}
	t.publish(t.config.TopicPrefix+"/qso", payload)
}

// PublishDecode publishes one ingested decode to "<prefix>/decode".
func (t *MQTTTelemetry) PublishDecode(sliceLetter string, rec InternalDecodeRecord) {
	if t == nil || !t.client.IsConnected() {
		return
	}
	payload := decodeTelemetry{
		Timestamp: rec.Timestamp.Unix(),
		Slice:     sliceLetter,
		Band:      rec.Band,
		Mode:      rec.Mode,
		SNRDb:     rec.SNRDb,
		Callsign:  rec.Callsign,
		IsCQ:      rec.IsCQ,
	}
	t.publish(t.config.TopicPrefix+"/decode", payload)
}

func (t *MQTTTelemetry) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mqtt telemetry: marshal failed for %s: %v", topic, err)
		return
	}
	token := t.client.Publish(topic, t.config.QoS, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("mqtt telemetry: publish %s failed: %v", topic, token.Error())
		}
	}()
}

// Disconnect gracefully closes the MQTT connection.
func (t *MQTTTelemetry) Disconnect(ctx context.Context) {
	if t == nil || t.client == nil {
		return
	}
	t.client.Disconnect(250)
}
