// BLE–MQTT Bridge
//
// This is the main entry point for the bridge: it exposes BLE devices on
// an MQTT broker, turning inbound command messages into serialized,
// possibly-retried sequences of BLE reads/writes, and periodic discovery
// scans into retained bus publications.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/ble-mqtt-bridge/internal/bridge"
	"github.com/nerrad567/ble-mqtt-bridge/internal/history"
	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ble-mqtt-bridge/internal/radio"
	"github.com/nerrad567/ble-mqtt-bridge/internal/radio/goble"
	"github.com/nerrad567/ble-mqtt-bridge/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// recordTimeout bounds each history insert from the scan path.
const recordTimeout = 5 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BLE bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open scan-history store (optional)
	var store *history.Store
	if cfg.History.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening history database: %w", dbErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		store, err = history.New(ctx, db)
		if err != nil {
			return fmt.Errorf("initialising history store: %w", err)
		}

		// Drop sightings past the retention window before new ones arrive
		if cfg.History.RetentionDays > 0 {
			cutoff := time.Now().UTC().AddDate(0, 0, -cfg.History.RetentionDays)
			removed, pruneErr := store.Prune(ctx, cutoff)
			if pruneErr != nil {
				return fmt.Errorf("pruning history store: %w", pruneErr)
			}
			if removed > 0 {
				log.Info("pruned expired sightings",
					"removed", removed,
					"retention_days", cfg.History.RetentionDays,
				)
			}
		}

		recent, recentErr := store.Recent(ctx, 0)
		if recentErr != nil {
			return fmt.Errorf("querying history store: %w", recentErr)
		}
		log.Info("history store ready",
			"path", cfg.History.Path,
			"recent_devices", len(recent),
		)
	} else {
		log.Info("history store disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Bridge.Namespace)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the device registry from configuration
	deviceRegistry, err := registry.New(cfg.Devices)
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}
	log.Info("device registry built", "devices", deviceRegistry.Count())

	// Note when each configured device was last sighted
	if store != nil {
		for _, dev := range deviceRegistry.Devices() {
			sighting, seenErr := store.LastSeen(ctx, dev.Address)
			if errors.Is(seenErr, history.ErrNotSeen) {
				log.Info("device never sighted", "device", dev.Name)
				continue
			}
			if seenErr != nil {
				log.Error("failed to query last sighting", "error", seenErr, "device", dev.Name)
				continue
			}
			log.Info("device last sighted",
				"device", dev.Name,
				"rssi", sighting.RSSI,
				"seen_at", sighting.SeenAt,
			)
		}
	}

	// The radio: HCI device is opened lazily on first scan/connect
	bleRadio := goble.New()
	defer func() {
		log.Info("closing radio")
		if closeErr := bleRadio.Close(); closeErr != nil {
			log.Error("error closing radio", "error", closeErr)
		}
	}()

	// Start the bridge
	b, err := bridge.New(bridge.Options{
		Namespace:      cfg.Bridge.Namespace,
		Workers:        cfg.Bridge.Workers,
		RetryDelay:     cfg.GetRetryDelay(),
		HealthTopic:    mqtt.HealthTopic(cfg.Bridge.Namespace),
		HealthInterval: 30 * time.Second,
		Scan: bridge.ScanSettings{
			Initial:   cfg.Scan.Initial,
			Loop:      cfg.Scan.Loop,
			Duration:  cfg.GetScanDuration(),
			LoopDelay: cfg.GetLoopDelay(),
		},
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Radio:      bleRadio,
		Registry:   deviceRegistry,
		Sink: &discoveryRecorder{
			log:    log,
			store:  store,
			influx: influxClient,
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		b.Stop()
	}()

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Bridge
	// 2. Radio
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. History database (if enabled)

	log.Info("BLE bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BLEBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BLEBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The only difference is the Subscribe handler
// signature:
//   - Infrastructure mqtt: func(topic string, payload []byte) error
//   - Bridge expects:      func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler; bridge handlers report failures via error
	// topics rather than return values.
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// discoveryRecorder fans scan sightings and scan summaries out to the
// optional history store and InfluxDB telemetry. Failures are logged,
// never propagated — recording must not disturb the scan path.
type discoveryRecorder struct {
	log    *logging.Logger
	store  *history.Store
	influx *influxdb.Client
}

// RecordDiscovery implements bridge.DiscoverySink.
func (r *discoveryRecorder) RecordDiscovery(d radio.Discovery) {
	if r.influx != nil {
		r.influx.WriteRSSI(d.Address, d.RSSI)
	}

	if r.store != nil {
		fields := make(map[string]string, len(d.Fields))
		for _, f := range d.Fields {
			fields[f.Name] = f.Value
		}

		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		err := r.store.Record(ctx, history.Sighting{
			Address: d.Address,
			RSSI:    d.RSSI,
			Fields:  fields,
			SeenAt:  time.Now().UTC(),
		})
		if err != nil {
			r.log.Error("failed to record sighting", "error", err, "address", d.Address)
		}
	}
}

// RecordScanSummary implements bridge.DiscoverySink.
func (r *discoveryRecorder) RecordScanSummary(devices int, duration time.Duration) {
	if r.influx != nil {
		r.influx.WriteScanSummary(devices, duration)
	}
}
