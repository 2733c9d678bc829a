package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ble-mqtt-bridge/internal/radio"
	"github.com/nerrad567/ble-mqtt-bridge/internal/registry"

	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/config"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns the publishes made to one topic.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// mockRadio implements radio.Radio for testing.
type mockRadio struct {
	mu          sync.Mutex
	session     *mockSession
	connectErr  error
	connects    []string
	discoveries []radio.Discovery
	scanErr     error
	scanCalls   int
}

func newMockRadio() *mockRadio {
	return &mockRadio{session: newMockSession()}
}

func (r *mockRadio) Scan(ctx context.Context, duration time.Duration, found func(radio.Discovery)) error {
	r.mu.Lock()
	r.scanCalls++
	discoveries := r.discoveries
	err := r.scanErr
	r.mu.Unlock()

	for _, d := range discoveries {
		found(d)
	}
	return err
}

func (r *mockRadio) Connect(ctx context.Context, address string) (radio.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, address)
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return r.session, nil
}

func (r *mockRadio) ConnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connects)
}

func (r *mockRadio) ScanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanCalls
}

// mockSession implements radio.Session for testing. Read values are keyed
// by the reference's handle (hex) or UUID.
type mockSession struct {
	mu       sync.Mutex
	readData map[string][]byte
	readErr  map[string]error
	reads    []radio.CharacteristicRef
	writes   []mockWrite
	writeErr error
	closed   int
}

type mockWrite struct {
	Ref   radio.CharacteristicRef
	Value []byte
	Ack   bool
}

func newMockSession() *mockSession {
	return &mockSession{
		readData: make(map[string][]byte),
		readErr:  make(map[string]error),
	}
}

func refKey(ref radio.CharacteristicRef) string {
	if ref.HasHandle {
		return fmt.Sprintf("%02x", ref.Handle)
	}
	return ref.UUID
}

func (s *mockSession) Read(ctx context.Context, ref radio.CharacteristicRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, ref)
	if err := s.readErr[refKey(ref)]; err != nil {
		return nil, err
	}
	data, ok := s.readData[refKey(ref)]
	if !ok {
		return nil, radio.ErrCharacteristicNotFound
	}
	return data, nil
}

func (s *mockSession) Write(ctx context.Context, ref radio.CharacteristicRef, value []byte, ack bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, mockWrite{Ref: ref, Value: value, Ack: ack})
	return nil
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *mockSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// testRegistry builds a registry with the canonical test device.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]config.DeviceConfig{
		{
			Name:    "livingroom_sensor",
			Address: "F0:0D:00:00:00:01",
			Characteristics: []config.CharacteristicConfig{
				{Name: "battery", Handle: "0x2a19"},
				{Name: "temperature", UUID: "2a6e", Handle: "0x2a6e"},
			},
		},
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return reg
}

// testBridge wires a bridge against mocks and starts it.
func testBridge(t *testing.T, mqtt *MockMQTTClient, rad *mockRadio, opts func(*Options)) *Bridge {
	t.Helper()

	o := Options{
		Namespace:  "ble",
		Workers:    2,
		RetryDelay: 5 * time.Millisecond,
		MQTTClient: mqtt,
		Radio:      rad,
		Registry:   testRegistry(t),
	}
	if opts != nil {
		opts(&o)
	}

	b, err := New(o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

// deliver simulates an inbound message through the subscribed filter.
func deliver(t *testing.T, mqtt *MockMQTTClient, topic string, payload []byte) {
	t.Helper()
	mqtt.mu.Lock()
	handler, ok := mqtt.handlers["ble/+/commands"]
	mqtt.mu.Unlock()
	if !ok {
		t.Fatal("bridge did not subscribe to ble/+/commands")
	}
	handler(topic, payload)
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewRequiresCollaborators(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		name string
		opts Options
	}{
		{name: "missing mqtt", opts: Options{Radio: newMockRadio(), Registry: reg}},
		{name: "missing radio", opts: Options{MQTTClient: NewMockMQTTClient(), Registry: reg}},
		{name: "missing registry", opts: Options{MQTTClient: NewMockMQTTClient(), Radio: newMockRadio()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestStartSubscribesToCommandFilter(t *testing.T) {
	mqtt := NewMockMQTTClient()
	testBridge(t, mqtt, newMockRadio(), nil)

	subs := mqtt.subscriptions
	if len(subs) != 1 || subs[0].Topic != "ble/+/commands" {
		t.Fatalf("subscriptions = %+v, want one on ble/+/commands", subs)
	}
}

func TestBatteryReadPublishesRetainedResult(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.session.readData["2a19"] = []byte{0x5a}

	testBridge(t, mqtt, rad, nil)

	deliver(t, mqtt, "ble/livingroom_sensor/commands",
		[]byte(`{"commands":[{"action":"readCharacteristic","name":"battery"}]}`))

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/livingroom_sensor/data/battery")) > 0
	})

	pubs := mqtt.PublishedTo("ble/livingroom_sensor/data/battery")
	if len(pubs) != 1 {
		t.Fatalf("got %d publishes, want 1", len(pubs))
	}
	if got := string(pubs[0].Payload); got != "[90]" {
		t.Errorf("payload = %s, want [90]", got)
	}
	if !pubs[0].Retained {
		t.Error("result publish not retained")
	}
	if rad.session.CloseCount() != 1 {
		t.Errorf("session closed %d times, want 1", rad.session.CloseCount())
	}
}

func TestLiteralAddressFallback(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.session.readData["2a19"] = []byte{0x01}

	testBridge(t, mqtt, rad, nil)

	deliver(t, mqtt, "ble/AA:BB:CC:DD:EE:FF/commands",
		[]byte(`{"commands":[{"action":"readCharacteristic","handle":"0x2a19"}]}`))

	waitFor(t, time.Second, func() bool {
		return rad.ConnectCount() > 0
	})

	rad.mu.Lock()
	addr := rad.connects[0]
	rad.mu.Unlock()
	if addr != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("connected to %q, want case-normalized literal address", addr)
	}

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/AA:BB:CC:DD:EE:FF/data/2a19")) > 0
	})
}

func TestFailingBatchPublishesNothing(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.session.readData["2a19"] = []byte{0x5a}
	rad.session.readErr["2a6e"] = errors.New("read timeout")

	testBridge(t, mqtt, rad, nil)

	// First spec succeeds, second fails without ignoreError: the batch
	// aborts and nothing is published, not even the first result.
	deliver(t, mqtt, "ble/livingroom_sensor/commands",
		[]byte(`{"commands":[
			{"action":"readCharacteristic","name":"battery"},
			{"action":"readCharacteristic","name":"temperature"}
		]}`))

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/livingroom_sensor/error")) > 0
	})

	for _, p := range mqtt.GetPublished() {
		if strings.Contains(p.Topic, "/data/") {
			t.Errorf("unexpected data publish to %s", p.Topic)
		}
	}
}

func TestRetryBudgetResubmitsExactlyTwice(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.connectErr = errors.New("connect refused")

	testBridge(t, mqtt, rad, nil)

	deliver(t, mqtt, "ble/livingroom_sensor/commands",
		[]byte(`{"commands":[{"action":"readCharacteristic","name":"battery"}],"tries":3}`))

	// tries=3: the initial attempt plus exactly two automatic
	// re-submissions, then the terminal error publish.
	waitFor(t, 2*time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/livingroom_sensor/error")) > 0
	})

	if got := rad.ConnectCount(); got != 3 {
		t.Errorf("connect attempts = %d, want 3", got)
	}
	if errs := mqtt.PublishedTo("ble/livingroom_sensor/error"); len(errs) != 1 {
		t.Errorf("error publishes = %d, want 1", len(errs))
	}
}

func TestMalformedBatchPublishesError(t *testing.T) {
	mqtt := NewMockMQTTClient()
	testBridge(t, mqtt, newMockRadio(), nil)

	deliver(t, mqtt, "ble/livingroom_sensor/commands", []byte(`{not json`))

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/livingroom_sensor/error")) > 0
	})
}

func TestScanPublishesDiscoveries(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.discoveries = []radio.Discovery{
		{
			Address: "aa:bb:cc:dd:ee:ff",
			RSSI:    -60,
			Fields: []radio.AdvertisedField{
				{ID: 0x09, Name: "localName", Value: "Sensor1"},
			},
		},
	}

	testBridge(t, mqtt, rad, nil)

	deliver(t, mqtt, "ble/scan/commands", []byte("5"))

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/aa:bb:cc:dd:ee:ff/advertisement/json")) > 0
	})

	if pubs := mqtt.PublishedTo("ble/aa:bb:cc:dd:ee:ff/rssi"); len(pubs) != 1 || string(pubs[0].Payload) != "-60" {
		t.Errorf("rssi publishes = %+v, want one with payload -60", pubs)
	}
	if pubs := mqtt.PublishedTo("ble/aa:bb:cc:dd:ee:ff/advertisement/09"); len(pubs) != 1 || string(pubs[0].Payload) != "Sensor1" {
		t.Errorf("advertisement/09 publishes = %+v, want one with payload Sensor1", pubs)
	}

	var fields map[string]string
	jsonPub := mqtt.PublishedTo("ble/aa:bb:cc:dd:ee:ff/advertisement/json")[0]
	if err := json.Unmarshal(jsonPub.Payload, &fields); err != nil {
		t.Fatalf("advertisement/json payload invalid: %v", err)
	}
	if fields["localName"] != "Sensor1" {
		t.Errorf("advertisement/json = %v, want localName=Sensor1", fields)
	}
}

func TestScanInvalidDurationPublishesError(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	testBridge(t, mqtt, rad, nil)

	deliver(t, mqtt, "ble/scan/commands", []byte("soon"))

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/scanning/error")) > 0
	})
	if rad.ScanCount() != 0 {
		t.Errorf("scan ran %d times for invalid duration, want 0", rad.ScanCount())
	}
}

func TestScanLoopRepublishesCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()

	testBridge(t, mqtt, rad, func(o *Options) {
		o.Scan.Loop = true
		o.Scan.LoopDelay = 5 * time.Millisecond
	})

	deliver(t, mqtt, "ble/scan/commands", []byte("5"))

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/scan/commands")) > 0
	})

	pub := mqtt.PublishedTo("ble/scan/commands")[0]
	if string(pub.Payload) != "5" {
		t.Errorf("loop republish payload = %s, want 5", pub.Payload)
	}
}

func TestScanLoopSurvivesScanError(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.scanErr = errors.New("hci busy")

	testBridge(t, mqtt, rad, func(o *Options) {
		o.Scan.Loop = true
		o.Scan.LoopDelay = 5 * time.Millisecond
	})

	deliver(t, mqtt, "ble/scan/commands", []byte("5"))

	// A transient scan failure reports to the error topic but must not
	// break the continuous scanning cycle.
	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/scan/commands")) > 0
	})

	if errs := mqtt.PublishedTo("ble/scanning/error"); len(errs) == 0 {
		t.Error("scan error was not published to ble/scanning/error")
	}
	pub := mqtt.PublishedTo("ble/scan/commands")[0]
	if string(pub.Payload) != "5" {
		t.Errorf("loop republish payload = %s, want 5", pub.Payload)
	}
}

func TestInitialScanPublishesCommand(t *testing.T) {
	mqtt := NewMockMQTTClient()

	testBridge(t, mqtt, newMockRadio(), func(o *Options) {
		o.Scan.Initial = true
		o.Scan.Duration = 7 * time.Second
	})

	pubs := mqtt.PublishedTo("ble/scan/commands")
	if len(pubs) != 1 || string(pubs[0].Payload) != "7" {
		t.Fatalf("initial scan publishes = %+v, want one with payload 7", pubs)
	}
}

func TestDiscoverySinkReceivesSightings(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.discoveries = []radio.Discovery{{Address: "aa:bb:cc:dd:ee:ff", RSSI: -42}}

	sink := &recordingSink{}
	testBridge(t, mqtt, rad, func(o *Options) {
		o.Sink = sink
	})

	deliver(t, mqtt, "ble/scan/commands", []byte("1"))

	waitFor(t, time.Second, func() bool {
		return len(sink.Sightings()) == 1
	})

	seen := sink.Sightings()
	if seen[0].Address != "aa:bb:cc:dd:ee:ff" || seen[0].RSSI != -42 {
		t.Errorf("sink received %+v", seen[0])
	}
}

func TestScanSummaryReachesSink(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.discoveries = []radio.Discovery{
		{Address: "aa:bb:cc:dd:ee:01", RSSI: -40},
		{Address: "aa:bb:cc:dd:ee:02", RSSI: -70},
	}

	sink := &recordingSink{}
	testBridge(t, mqtt, rad, func(o *Options) {
		o.Sink = sink
	})

	deliver(t, mqtt, "ble/scan/commands", []byte("5"))

	waitFor(t, time.Second, func() bool {
		return len(sink.Summaries()) == 1
	})

	got := sink.Summaries()[0]
	if got.Devices != 2 {
		t.Errorf("summary devices = %d, want 2", got.Devices)
	}
	if got.Duration != 5*time.Second {
		t.Errorf("summary duration = %v, want 5s", got.Duration)
	}
}

func TestScanSummarySkippedOnScanError(t *testing.T) {
	mqtt := NewMockMQTTClient()
	rad := newMockRadio()
	rad.scanErr = errors.New("hci busy")

	sink := &recordingSink{}
	testBridge(t, mqtt, rad, func(o *Options) {
		o.Sink = sink
	})

	deliver(t, mqtt, "ble/scan/commands", []byte("5"))

	waitFor(t, time.Second, func() bool {
		return len(mqtt.PublishedTo("ble/scanning/error")) > 0
	})

	if got := sink.Summaries(); len(got) != 0 {
		t.Errorf("summaries = %+v, want none for a failed scan", got)
	}
}

// recordingSink implements DiscoverySink, capturing everything it is handed.
type recordingSink struct {
	mu        sync.Mutex
	sightings []radio.Discovery
	summaries []scanSummary
}

type scanSummary struct {
	Devices  int
	Duration time.Duration
}

func (s *recordingSink) RecordDiscovery(d radio.Discovery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sightings = append(s.sightings, d)
}

func (s *recordingSink) RecordScanSummary(devices int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, scanSummary{Devices: devices, Duration: duration})
}

func (s *recordingSink) Sightings() []radio.Discovery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]radio.Discovery, len(s.sightings))
	copy(out, s.sightings)
	return out
}

func (s *recordingSink) Summaries() []scanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scanSummary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

func TestStopIsIdempotent(t *testing.T) {
	mqtt := NewMockMQTTClient()
	b := testBridge(t, mqtt, newMockRadio(), nil)

	b.Stop()
	b.Stop()
}
