// Package mqtt publishes probe alerts and live readings to an MQTT broker.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/status                  retained online/offline, also the last will
//	<prefix>/probe/<id>/alert        one message per alert
//	<prefix>/probe/<id>/reading      current readings of a probe
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/grillprobe/internal/alerter"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/probe"
)

var (
	// ErrConnectionFailed is returned when the broker cannot be reached
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a message is not acknowledged
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

const disconnectQuiesce = 250 // milliseconds

// ClientFactory creates the paho client. Tests replace it with a fake.
var ClientFactory = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	return pahomqtt.NewClient(opts)
}

// Options configures the publisher
type Options struct {
	Broker         string        `default:"tcp://localhost:1883"`
	ClientID       string        `default:"grillprobe"`
	Username       string
	Password       string
	TopicPrefix    string        `default:"grillprobe"`
	QoS            byte
	ConnectTimeout time.Duration `default:"10s"`
	PublishTimeout time.Duration `default:"5s"`
}

// Publisher sends alerts and readings to the broker
type Publisher struct {
	client pahomqtt.Client
	opts   Options
	logger *logrus.Logger
	now    func() time.Time
}

// AlertMessage is the JSON payload of an alert
type AlertMessage struct {
	ID          string    `json:"id"`
	Device      string    `json:"device"`
	Name        string    `json:"name"`
	Measurement string    `json:"measurement"`
	Value       float64   `json:"value"`
	Target      float64   `json:"target"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	At          time.Time `json:"at"`
}

// ReadingMessage is the JSON payload of a reading
type ReadingMessage struct {
	Device  string    `json:"device"`
	Name    string    `json:"name"`
	Probe   *float64  `json:"probe,omitempty"`
	Grill   *float64  `json:"grill,omitempty"`
	Battery string    `json:"battery,omitempty"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`
}

type statusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Connect connects to the broker and publishes the online status
func Connect(opts Options, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	if opts.QoS > 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQoS, opts.QoS)
	}

	p := &Publisher{opts: opts, logger: logger, now: time.Now}

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	clientOpts.SetBinaryWill(p.StatusTopic(), p.status("offline", "unexpected_disconnect"), 1, true)
	clientOpts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(p.StatusTopic(), 1, true, p.status("online", ""))
		logger.WithField("broker", opts.Broker).Info("Connected to MQTT broker")
	})
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WithFields(logrus.Fields{
			"broker": opts.Broker,
			"error":  err,
		}).Warn("MQTT connection lost")
	})

	p.client = ClientFactory(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return p, nil
}

// Close publishes the offline status and disconnects
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		token := p.client.Publish(p.StatusTopic(), 1, true, p.status("offline", "graceful_shutdown"))
		token.WaitTimeout(p.opts.PublishTimeout)
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

// StatusTopic is the retained online/offline topic
func (p *Publisher) StatusTopic() string {
	return p.opts.TopicPrefix + "/status"
}

// AlertTopic is the topic alerts of a device are published to
func (p *Publisher) AlertTopic(id device.ID) string {
	return fmt.Sprintf("%s/probe/%s/alert", p.opts.TopicPrefix, id)
}

// ReadingTopic is the topic readings of a device are published to
func (p *Publisher) ReadingTopic(id device.ID) string {
	return fmt.Sprintf("%s/probe/%s/reading", p.opts.TopicPrefix, id)
}

// PublishAlert sends one alert
func (p *Publisher) PublishAlert(a alerter.Alert) error {
	msg := AlertMessage{
		ID:          a.ID.String(),
		Device:      string(a.Device),
		Name:        a.Name,
		Measurement: a.Measurement.String(),
		Value:       a.Value,
		Target:      a.Target,
		Title:       a.Title(),
		Body:        a.Body(),
		At:          a.At.UTC(),
	}
	return p.publishJSON(p.AlertTopic(a.Device), false, msg)
}

// PublishReading sends the current readings of a session snapshot. The
// message is retained so new subscribers see the latest value.
func (p *Publisher) PublishReading(s probe.Snapshot) error {
	msg := ReadingMessage{
		Device:  string(s.ID),
		Name:    s.Name(),
		Probe:   s.ProbeTemperature,
		Grill:   s.GrillTemperature,
		State:   s.State.String(),
		At:      p.now().UTC(),
	}
	if s.Battery != nil {
		msg.Battery = s.Battery.String()
	}
	return p.publishJSON(p.ReadingTopic(s.ID), true, msg)
}

func (p *Publisher) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, topic, err)
	}

	token := p.client.Publish(topic, p.opts.QoS, retained, payload)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, p.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic": topic,
		"bytes": len(payload),
	}).Debug("Published MQTT message")
	return nil
}

func (p *Publisher) status(status, reason string) []byte {
	payload, _ := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  p.opts.ClientID,
		Reason:    reason,
		Timestamp: p.now().UTC(),
	})
	return payload
}
