package bridge

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/ble-mqtt-bridge/internal/radio"
)

func TestPublishResultsPerKey(t *testing.T) {
	mqtt := NewMockMQTTClient()
	p := NewResultPublisher(mqtt, "ble")

	results := newResults()
	results.add("battery", []int{90})
	results.add("temperature", []int{21, 5})

	if err := p.PublishResults("sensor", BatchArgs{}, results); err != nil {
		t.Fatalf("PublishResults() error = %v", err)
	}

	// Unset combine: exactly one retained publish per key.
	pubs := mqtt.GetPublished()
	if len(pubs) != 2 {
		t.Fatalf("got %d publishes, want 2", len(pubs))
	}
	if pubs[0].Topic != "ble/sensor/data/battery" || string(pubs[0].Payload) != "[90]" {
		t.Errorf("publish 0 = %s %s", pubs[0].Topic, pubs[0].Payload)
	}
	if pubs[1].Topic != "ble/sensor/data/temperature" || string(pubs[1].Payload) != "[21,5]" {
		t.Errorf("publish 1 = %s %s", pubs[1].Topic, pubs[1].Payload)
	}
	for _, pub := range pubs {
		if !pub.Retained {
			t.Errorf("publish to %s not retained", pub.Topic)
		}
	}
}

func TestPublishResultsCombined(t *testing.T) {
	mqtt := NewMockMQTTClient()
	p := NewResultPublisher(mqtt, "ble")

	results := newResults()
	results.add("battery", []int{90})
	results.add("temperature", []int{21})

	args := BatchArgs{CombineResponsesToTopic: "all"}
	if err := p.PublishResults("sensor", args, results); err != nil {
		t.Fatalf("PublishResults() error = %v", err)
	}

	// Combine set: exactly one retained publish carrying every key.
	pubs := mqtt.GetPublished()
	if len(pubs) != 1 {
		t.Fatalf("got %d publishes, want 1", len(pubs))
	}
	if pubs[0].Topic != "ble/sensor/data/all" {
		t.Errorf("topic = %s, want ble/sensor/data/all", pubs[0].Topic)
	}
	if !pubs[0].Retained {
		t.Error("combined publish not retained")
	}

	var combined map[string][]int
	if err := json.Unmarshal(pubs[0].Payload, &combined); err != nil {
		t.Fatalf("combined payload invalid: %v", err)
	}
	if len(combined) != 2 || combined["battery"][0] != 90 || combined["temperature"][0] != 21 {
		t.Errorf("combined = %v", combined)
	}
}

func TestPublishDiscovery(t *testing.T) {
	mqtt := NewMockMQTTClient()
	p := NewResultPublisher(mqtt, "ble")

	err := p.PublishDiscovery(radio.Discovery{
		Address: "aa:bb:cc:dd:ee:ff",
		RSSI:    -60,
		Fields: []radio.AdvertisedField{
			{ID: 0x09, Name: "localName", Value: "Sensor1"},
			{ID: 0xff, Name: "manufacturer", Value: "\x4c\x00"},
		},
	})
	if err != nil {
		t.Fatalf("PublishDiscovery() error = %v", err)
	}

	tests := []struct {
		topic   string
		payload string
	}{
		{topic: "ble/aa:bb:cc:dd:ee:ff/rssi", payload: "-60"},
		{topic: "ble/aa:bb:cc:dd:ee:ff/advertisement/09", payload: "Sensor1"},
		{topic: "ble/aa:bb:cc:dd:ee:ff/advertisement/ff", payload: "\x4c\x00"},
	}
	for _, tt := range tests {
		pubs := mqtt.PublishedTo(tt.topic)
		if len(pubs) != 1 {
			t.Errorf("publishes to %s = %d, want 1", tt.topic, len(pubs))
			continue
		}
		if string(pubs[0].Payload) != tt.payload {
			t.Errorf("%s payload = %q, want %q", tt.topic, pubs[0].Payload, tt.payload)
		}
	}

	jsonPubs := mqtt.PublishedTo("ble/aa:bb:cc:dd:ee:ff/advertisement/json")
	if len(jsonPubs) != 1 {
		t.Fatalf("json publishes = %d, want 1", len(jsonPubs))
	}
	var fields map[string]string
	if err := json.Unmarshal(jsonPubs[0].Payload, &fields); err != nil {
		t.Fatalf("json payload invalid: %v", err)
	}
	if len(fields) != 2 || fields["localName"] != "Sensor1" {
		t.Errorf("json fields = %v", fields)
	}
}

func TestPublishError(t *testing.T) {
	mqtt := NewMockMQTTClient()
	p := NewResultPublisher(mqtt, "ble")

	if err := p.PublishError("scanning", errors.New("radio unavailable")); err != nil {
		t.Fatalf("PublishError() error = %v", err)
	}

	pubs := mqtt.PublishedTo("ble/scanning/error")
	if len(pubs) != 1 || string(pubs[0].Payload) != "radio unavailable" {
		t.Fatalf("error publishes = %+v", pubs)
	}
	if pubs[0].Retained {
		t.Error("error publish retained")
	}
}
