package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteRSSI records one signal-strength reading from a discovery scan.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - address: Device radio address (e.g., "aa:bb:cc:dd:ee:ff")
//   - rssi: Received signal strength in dBm
//
// Example:
//
//	client.WriteRSSI("aa:bb:cc:dd:ee:ff", -60)
func (c *Client) WriteRSSI(address string, rssi int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rssi",
		map[string]string{
			"address": address,
		},
		map[string]interface{}{
			"value": rssi,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteScanSummary records the outcome of one discovery scan.
//
// Parameters:
//   - devices: Number of distinct devices sighted
//   - duration: How long the scan ran
func (c *Client) WriteScanSummary(devices int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"scan",
		nil,
		map[string]interface{}{
			"devices":          devices,
			"duration_seconds": duration.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., replayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
