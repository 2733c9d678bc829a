package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/database"
)

// ErrNotSeen is returned when an address has no recorded sightings.
var ErrNotSeen = errors.New("history: address never sighted")

// schema creates the sightings table on first open. Schema ownership
// lives here, not in the database package.
const schema = `
CREATE TABLE IF NOT EXISTS sightings (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	address TEXT    NOT NULL,
	rssi    INTEGER NOT NULL,
	fields  TEXT    NOT NULL DEFAULT '{}',
	seen_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sightings_address_seen
	ON sightings(address, seen_at DESC);
`

// Sighting is one recorded discovery: which device was seen, how strong
// the signal was, and what it advertised.
type Sighting struct {
	Address string
	RSSI    int
	Fields  map[string]string
	SeenAt  time.Time
}

// Store records scan discoveries in SQLite and answers "when did we last
// see this device" queries.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	db *database.DB
}

// New creates a store on the given database, creating the schema if it
// does not exist yet.
func New(ctx context.Context, db *database.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts one sighting.
func (s *Store) Record(ctx context.Context, sighting Sighting) error {
	fields := sighting.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding advertised fields: %w", err)
	}

	seenAt := sighting.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sightings (address, rssi, fields, seen_at) VALUES (?, ?, ?, ?)`,
		sighting.Address, sighting.RSSI, string(encoded), seenAt)
	if err != nil {
		return fmt.Errorf("recording sighting: %w", err)
	}
	return nil
}

// LastSeen returns the most recent sighting of the given address.
// Returns ErrNotSeen when the address was never recorded.
func (s *Store) LastSeen(ctx context.Context, address string) (Sighting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, rssi, fields, seen_at FROM sightings
		 WHERE address = ? ORDER BY seen_at DESC, id DESC LIMIT 1`,
		address)

	sighting, err := scanSighting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sighting{}, fmt.Errorf("%w: %s", ErrNotSeen, address)
	}
	if err != nil {
		return Sighting{}, fmt.Errorf("querying last sighting: %w", err)
	}
	return sighting, nil
}

// Recent returns the latest sighting per address, most recent first,
// capped at limit rows.
func (s *Store) Recent(ctx context.Context, limit int) ([]Sighting, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT address, rssi, fields, seen_at FROM sightings
		 WHERE id IN (SELECT MAX(id) FROM sightings GROUP BY address)
		 ORDER BY seen_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent sightings: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		sighting, err := scanSighting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sighting: %w", err)
		}
		out = append(out, sighting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sightings: %w", err)
	}
	return out, nil
}

// Prune deletes sightings older than the cutoff and returns how many
// rows were removed. Keeps the store bounded under continuous scanning.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sightings WHERE seen_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning sightings: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned sightings: %w", err)
	}
	return removed, nil
}

// scanner is the shared subset of sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSighting(row scanner) (Sighting, error) {
	var (
		sighting Sighting
		fields   string
	)
	if err := row.Scan(&sighting.Address, &sighting.RSSI, &fields, &sighting.SeenAt); err != nil {
		return Sighting{}, err
	}
	if err := json.Unmarshal([]byte(fields), &sighting.Fields); err != nil {
		return Sighting{}, fmt.Errorf("decoding advertised fields: %w", err)
	}
	return sighting, nil
}
