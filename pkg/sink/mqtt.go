package sink

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/proto"
)

// samplePayload is the JSON document published per sample. NaN readings
// are published as null, since JSON has no NaN.
type samplePayload struct {
	Time   float64  `json:"time"`
	Valve1 bool     `json:"valve_1"`
	Valve2 bool     `json:"valve_2"`
	Pump   bool     `json:"pump"`
	Humi1  *float64 `json:"humidity_1"`
	Humi2  *float64 `json:"humidity_2"`
	Temp1  *float64 `json:"temperature_1"`
	Temp2  *float64 `json:"temperature_2"`
	Pres1  *float64 `json:"pressure_1"`
	Pres2  *float64 `json:"pressure_2"`
	Band   string   `json:"band"`
}

func numOrNull(v float64) *float64 {
	if v != v { // NaN
		return nil
	}
	return &v
}

// MQTTPublisher publishes each sample as JSON on a configurable topic.
// Publish failures are logged and swallowed: telemetry must never stall
// the acquisition path.
type MQTTPublisher struct {
	client paho.Client
	topic  string
}

// NewMQTTPublisher connects to the broker and returns a publishing sink.
func NewMQTTPublisher(broker, clientID, topic string) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &MQTTPublisher{client: client, topic: topic}, nil
}

// OnSample implements Sink.
func (p *MQTTPublisher) OnSample(s proto.Sample, band control.Band) {
	payload, err := FormatPayload(s, band)
	if err != nil {
		logrus.Warnf("mqtt payload: %v", err)
		return
	}

	// QoS 0 (at-most-once), not retained: the next sample supersedes
	// this one within a second anyway.
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		logrus.Debug("mqtt publish timeout, sample dropped")
		return
	}
	if err := token.Error(); err != nil {
		logrus.Warnf("mqtt publish: %v", err)
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// FormatPayload renders one sample as the published JSON document.
func FormatPayload(s proto.Sample, band control.Band) ([]byte, error) {
	return json.Marshal(samplePayload{
		Time:   s.Time,
		Valve1: s.Valve1,
		Valve2: s.Valve2,
		Pump:   s.Pump,
		Humi1:  numOrNull(s.Humi1),
		Humi2:  numOrNull(s.Humi2),
		Temp1:  numOrNull(s.Temp1),
		Temp2:  numOrNull(s.Temp2),
		Pres1:  numOrNull(s.Pres1),
		Pres2:  numOrNull(s.Pres2),
		Band:   band.String(),
	})
}
