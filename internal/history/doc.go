// Package history persists discovery-scan sightings to SQLite.
//
// Continuous scanning produces a stream of {address, rssi, advertised
// fields} sightings; this package records them so "what devices have we
// ever seen, and when" survives a restart. The store owns its schema and
// creates it on startup.
//
// The store is optional: with history disabled in configuration the
// bridge runs without it and sightings are only published to the bus.
package history
