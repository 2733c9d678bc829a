package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ble-mqtt-bridge/internal/radio"
	"github.com/nerrad567/ble-mqtt-bridge/internal/registry"
)

// Bridge orchestrates the flow between the bus and the radio: it classifies
// inbound command messages, arbitrates radio access between scanning and
// device sessions, executes command batches, and publishes results,
// discoveries, and errors.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	namespace string
	scan      ScanSettings

	mqtt     MQTTClient
	radio    radio.Radio
	registry *registry.Registry

	locks     *LockManager
	pool      *Pool
	retry     *RetryCoordinator
	executor  *Executor
	publisher *ResultPublisher
	health    *HealthReporter

	sink DiscoverySink // Optional discovery recording (history, telemetry)

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for bus operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DiscoverySink records scan sightings. Implementations must not block;
// a slow sink delays the scan path. Optional.
type DiscoverySink interface {
	// RecordDiscovery records one sighting.
	RecordDiscovery(d radio.Discovery)

	// RecordScanSummary records one completed scan: how many devices were
	// sighted and how long the scan ran.
	RecordScanSummary(devices int, duration time.Duration)
}

// ScanSettings controls scan behavior.
type ScanSettings struct {
	// Initial publishes a scan command to the bridge's own scan topic
	// on startup.
	Initial bool

	// Loop re-publishes the scan command after LoopDelay once a scan
	// completes, creating a continuous scanning cycle.
	Loop bool

	// Duration is the default scan duration used for the initial scan.
	Duration time.Duration

	// LoopDelay is the pause between a scan completing and the loop
	// republish.
	LoopDelay time.Duration
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Namespace is the root topic segment (default "ble").
	Namespace string

	// Workers is the worker pool size. ≤ 0 uses the default.
	Workers int

	// RetryDelay is the backoff before a failed batch is re-submitted.
	// ≤ 0 uses the default.
	RetryDelay time.Duration

	// HealthTopic is the retained health topic. Empty disables health
	// reporting.
	HealthTopic string

	// HealthInterval is how often health is published.
	HealthInterval time.Duration

	// Scan controls initial and looping scans.
	Scan ScanSettings

	// MQTTClient is the bus client implementation.
	MQTTClient MQTTClient

	// Radio is the wireless transport.
	Radio radio.Radio

	// Registry is the device registry.
	Registry *registry.Registry

	// Sink is optional discovery recording.
	Sink DiscoverySink

	// Logger is optional structured logging.
	Logger Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = "ble"
	}

	// Bridge-level context aborts in-flight batches on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		namespace: namespace,
		scan:      opts.Scan,
		mqtt:      opts.MQTTClient,
		radio:     opts.Radio,
		registry:  opts.Registry,
		locks:     NewLockManager(),
		pool:      NewPool(opts.Workers),
		executor:  NewExecutor(opts.Radio),
		publisher: NewResultPublisher(opts.MQTTClient, namespace),
		sink:      opts.Sink,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	// Retries re-enter the dispatcher exactly as fresh inbound messages.
	b.retry = NewRetryCoordinator(opts.RetryDelay, b.dispatch)

	if opts.HealthTopic != "" {
		b.health = NewHealthReporter(HealthReporterConfig{
			Topic:     opts.HealthTopic,
			Interval:  opts.HealthInterval,
			Publisher: opts.MQTTClient,
			Locks:     b.locks,
			Pool:      b.pool,
		})
		b.health.SetDeviceCount(opts.Registry.Count())
		if opts.Logger != nil {
			b.health.SetLogger(opts.Logger)
		}
	}

	return b, nil
}

// Start subscribes to the command filter and begins health reporting.
// If an initial scan is configured, the scan command is published to the
// bridge's own scan topic.
func (b *Bridge) Start(ctx context.Context) error {
	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}
	}

	filter := CommandFilter(b.namespace)
	if err := b.mqtt.Subscribe(filter, 1, b.dispatch); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", filter)

	if b.health != nil {
		b.health.Start(ctx)
	}

	if b.scan.Initial {
		seconds := int(b.scan.Duration / time.Second)
		if err := b.publishScanCommand(seconds); err != nil {
			b.logError("failed to publish initial scan command", err)
		}
	}

	b.logInfo("bridge started",
		"namespace", b.namespace,
		"devices", b.registry.Count())

	return nil
}

// Stop gracefully shuts the bridge down. In-flight batches are aborted
// via the bridge context; queued retries are discarded.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		b.ctxCancel()
		b.retry.Stop()
		b.pool.Stop()
		if b.health != nil {
			b.health.Stop()
		}
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// dispatch classifies an inbound command message and submits the unit of
// work to the pool, so the bus delivery path never blocks on device I/O.
// It is also the re-entry point for the retry coordinator.
func (b *Bridge) dispatch(topic string, payload []byte) {
	segment, ok := ParseCommandTopic(b.namespace, topic)
	if !ok {
		b.reportError("process_commands",
			fmt.Errorf("%w: unexpected topic %s", ErrProtocol, topic))
		return
	}

	var task func()
	if IsScanSegment(segment) {
		task = func() { b.runScan(payload) }
	} else {
		task = func() { b.runBatch(topic, segment, payload) }
	}

	if err := b.pool.Submit(task); err != nil {
		b.reportError("process_commands",
			fmt.Errorf("submit %s: %w", topic, err))
	}
}

// runScan executes one timed discovery scan while holding the radio
// exclusively, publishing every sighting. With looping enabled the scan
// command is re-published to the bridge's own scan topic afterwards,
// whether or not the scan itself succeeded: the cycle only stops on
// shutdown.
func (b *Bridge) runScan(payload []byte) {
	seconds, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil || seconds <= 0 {
		b.reportError("scanning",
			fmt.Errorf("%w: scan duration %q", ErrProtocol, string(payload)))
		return
	}
	duration := time.Duration(seconds) * time.Second

	var devices atomic.Int64
	found := func(d radio.Discovery) {
		devices.Add(1)
		b.handleDiscovery(d)
	}

	b.locks.AcquireScan()
	err = b.radio.Scan(b.ctx, duration, found)
	b.locks.ReleaseScan()

	if err != nil {
		b.reportError("scanning", fmt.Errorf("%w: scan: %v", ErrLink, err))
	} else {
		if b.sink != nil {
			b.sink.RecordScanSummary(int(devices.Load()), duration)
		}
		b.logDebug("scan complete", "seconds", seconds, "devices", devices.Load())
	}

	if b.scan.Loop {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			select {
			case <-b.done:
			case <-time.After(b.scan.LoopDelay):
				if err := b.publishScanCommand(seconds); err != nil {
					b.logError("failed to republish scan command", err)
				}
			}
		}()
	}
}

// handleDiscovery publishes one scan sighting and hands it to the sink.
func (b *Bridge) handleDiscovery(d radio.Discovery) {
	if err := b.publisher.PublishDiscovery(d); err != nil {
		b.logError("failed to publish discovery", err, "address", d.Address)
	}
	if b.sink != nil {
		b.sink.RecordDiscovery(d)
	}
	b.logDebug("discovered device", "address", d.Address, "rssi", d.RSSI)
}

// runBatch executes one device command batch under the device's lock.
// On failure the batch is handed to the retry coordinator; with no budget
// left the failure is terminal and published to the device's error topic.
func (b *Bridge) runBatch(topic, segment string, payload []byte) {
	batch, err := ParseBatch(payload)
	if err != nil {
		b.reportError(segment, err)
		return
	}

	// Unknown aliases fall back to treating the segment as a literal
	// device address.
	dev, ok := b.registry.Lookup(segment)
	if !ok {
		dev = &registry.Device{
			Name:    segment,
			Address: registry.NormalizeAddress(segment),
		}
	}

	b.locks.AcquireDevice(dev.Address)
	results, err := b.executor.Execute(b.ctx, dev, batch)
	b.locks.ReleaseDevice(dev.Address)

	if err != nil {
		b.handleBatchFailure(topic, segment, batch, err)
		return
	}

	if err := b.publisher.PublishResults(segment, batch.Args, results); err != nil {
		b.logError("failed to publish results", err, "device", segment)
		return
	}

	b.logInfo("batch complete",
		"device", segment,
		"commands", len(batch.Commands),
		"results", results.Len())
}

// handleBatchFailure routes a failed batch through the retry coordinator
// or, with the budget exhausted, publishes the terminal error.
func (b *Bridge) handleBatchFailure(topic, segment string, batch *CommandBatch, cause error) {
	err := b.retry.Schedule(topic, batch)
	if err == nil {
		b.logWarn("batch failed, retry scheduled",
			"device", segment,
			"remaining", batch.Remaining()-1,
			"error", cause)
		return
	}

	b.reportError(segment, cause)
	b.logError("batch failed terminally", cause, "device", segment, "reason", err)
}

// publishScanCommand publishes a scan request to the bridge's own scan
// topic, re-entering via the bus like any other command.
func (b *Bridge) publishScanCommand(seconds int) error {
	if seconds <= 0 {
		seconds = 10
	}
	payload := []byte(strconv.Itoa(seconds))
	return b.mqtt.Publish(ScanCommandTopic(b.namespace), payload, 0, false)
}

// reportError logs an error and publishes it under the path's error
// topic. Errors never escape a unit of work to terminate the process.
func (b *Bridge) reportError(path string, cause error) {
	b.logError("operation failed", cause, "path", path)
	if err := b.publisher.PublishError(path, cause); err != nil {
		b.logError("failed to publish error", err, "path", path)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}
