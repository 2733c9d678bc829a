package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nerrad567/ble-mqtt-bridge/internal/radio"
)

// Publisher is the outbound half of the bus, satisfied by the MQTT client.
type Publisher interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ResultPublisher turns executor results, scan discoveries, and errors
// into bus publications. Safe for concurrent use from all workers.
type ResultPublisher struct {
	mqtt      Publisher
	namespace string
}

// NewResultPublisher creates a publisher rooted at the given namespace.
func NewResultPublisher(mqtt Publisher, namespace string) *ResultPublisher {
	return &ResultPublisher{mqtt: mqtt, namespace: namespace}
}

// PublishResults emits a completed batch's results, retained.
//
// With CombineResponsesToTopic set, all results are collapsed into one
// JSON object under that single key; otherwise each key is published
// individually under its own data topic.
func (p *ResultPublisher) PublishResults(alias string, args BatchArgs, results *Results) error {
	if combined := args.CombineResponsesToTopic; combined != "" {
		payload, err := json.Marshal(results.Combined())
		if err != nil {
			return fmt.Errorf("marshal combined results: %w", err)
		}
		return p.mqtt.Publish(DataTopic(p.namespace, alias, combined), payload, 0, true)
	}

	for _, key := range results.Keys() {
		value, _ := results.Get(key)
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal result %s: %w", key, err)
		}
		if err := p.mqtt.Publish(DataTopic(p.namespace, alias, key), payload, 0, true); err != nil {
			return fmt.Errorf("publish result %s: %w", key, err)
		}
	}
	return nil
}

// PublishDiscovery emits one scan sighting: the RSSI reading, each
// advertised field under its own sub-topic, and a combined JSON map of
// all fields.
func (p *ResultPublisher) PublishDiscovery(d radio.Discovery) error {
	rssi := strconv.Itoa(d.RSSI)
	if err := p.mqtt.Publish(RSSITopic(p.namespace, d.Address), []byte(rssi), 0, false); err != nil {
		return fmt.Errorf("publish rssi: %w", err)
	}

	fields := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		topic := AdvertisementTopic(p.namespace, d.Address, f.ID)
		if err := p.mqtt.Publish(topic, []byte(f.Value), 0, false); err != nil {
			return fmt.Errorf("publish advertisement %02x: %w", f.ID, err)
		}
		fields[f.Name] = f.Value
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal advertisement map: %w", err)
	}
	if err := p.mqtt.Publish(AdvertisementJSONTopic(p.namespace, d.Address), payload, 0, false); err != nil {
		return fmt.Errorf("publish advertisement map: %w", err)
	}
	return nil
}

// PublishError emits an error description under the given path segment.
// Best-effort: a publish failure here has nowhere further to go.
func (p *ResultPublisher) PublishError(path string, cause error) error {
	return p.mqtt.Publish(ErrorTopic(p.namespace, path), []byte(cause.Error()), 0, false)
}
