// Package publish mirrors cached sensor values to an MQTT broker as retained messages, one topic
// per vehicle sensor.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/polestar-community/polestar-go/internal/log"
	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/sensor"
)

// DefaultRoot is the topic prefix used when none is configured.
const DefaultRoot = "polestar"

// ConnectedTopic is the per-vehicle topic carrying the API connection state.
const ConnectedTopic = "api_connected"

// PublishTimeout bounds the wait for a broker connection and all publishes for one vehicle.
var PublishTimeout = 10 * time.Second

var logger = log.Named("publish")

// Source is the part of account.Account that the publisher reads.
type Source interface {
	sensor.Reader
	Connected() bool
}

// Sink delivers MQTT messages. It is satisfied by *autopaho.ConnectionManager.
type Sink interface {
	AwaitConnection(ctx context.Context) error
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher writes sensor values to {root}/{vin}/{sensor}.
type Publisher struct {
	src  Source
	sink Sink
	root string
	qos  byte
}

// New returns a Publisher. An empty root selects DefaultRoot.
func New(src Source, sink Sink, root string, qos byte) *Publisher {
	root = strings.Trim(root, "/")
	if root == "" {
		root = DefaultRoot
	}
	return &Publisher{src: src, sink: sink, root: root, qos: qos}
}

// Topic returns the topic for key on vin.
func (p *Publisher) Topic(vin, key string) string {
	return p.root + "/" + vin + "/" + key
}

// PublishVehicle publishes every sensor of vin that has a value. Sensors whose payload is known
// to be empty are published with an empty payload, which clears the retained message. Sensors
// without a current value are skipped.
func (p *Publisher) PublishVehicle(ctx context.Context, vin string) error {
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	if err := p.sink.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt connection unavailable: %w", err)
	}

	var errs []error
	for _, s := range sensor.All() {
		value, status := sensor.Read(p.src, vin, s)
		var payload []byte
		switch status {
		case cache.Missing:
			continue
		case cache.Found:
			encoded, err := Payload(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Key, err))
				continue
			}
			payload = encoded
		}
		if err := p.publish(ctx, p.Topic(vin, s.Key), payload); err != nil {
			errs = append(errs, err)
		}
	}
	connected := strconv.FormatBool(p.src.Connected())
	if err := p.publish(ctx, p.Topic(vin, ConnectedTopic), []byte(connected)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OnPoll publishes vin and logs failures. It matches the signature of exporter.Hook.
func (p *Publisher) OnPoll(ctx context.Context, vin string) {
	if err := p.PublishVehicle(ctx, vin); err != nil {
		logger.Warning("Failed to publish %s: %s", vin, err)
	}
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	_, err := p.sink.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     p.qos,
		Retain:  true,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	logger.Debug("Published %s", topic)
	return nil
}

// Payload encodes a sensor value. Strings and numbers are written as plain text; anything else
// is JSON.
func Payload(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case float64:
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case bool:
		return []byte(strconv.FormatBool(v)), nil
	}
	return json.Marshal(value)
}
