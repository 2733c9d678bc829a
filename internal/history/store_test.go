package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/ble-mqtt-bridge/internal/infrastructure/database"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	store, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestRecordAndLastSeen(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := Sighting{
		Address: "aa:bb:cc:dd:ee:ff",
		RSSI:    -70,
		Fields:  map[string]string{"localName": "Sensor1"},
		SeenAt:  time.Now().UTC().Add(-time.Minute),
	}
	second := Sighting{
		Address: "aa:bb:cc:dd:ee:ff",
		RSSI:    -61,
		Fields:  map[string]string{"localName": "Sensor1"},
		SeenAt:  time.Now().UTC(),
	}

	for _, s := range []Sighting{first, second} {
		if err := store.Record(ctx, s); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := store.LastSeen(ctx, "aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if got.RSSI != -61 {
		t.Errorf("LastSeen().RSSI = %d, want -61 (most recent)", got.RSSI)
	}
	if got.Fields["localName"] != "Sensor1" {
		t.Errorf("LastSeen().Fields = %v", got.Fields)
	}
}

func TestLastSeenUnknownAddress(t *testing.T) {
	store := testStore(t)

	_, err := store.LastSeen(context.Background(), "00:00:00:00:00:00")
	if !errors.Is(err, ErrNotSeen) {
		t.Errorf("LastSeen() error = %v, want ErrNotSeen", err)
	}
}

func TestRecordWithoutFieldsOrTime(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// Nil fields and zero time get sensible defaults.
	if err := store.Record(ctx, Sighting{Address: "11:22:33:44:55:66", RSSI: -80}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := store.LastSeen(ctx, "11:22:33:44:55:66")
	if err != nil {
		t.Fatalf("LastSeen() error = %v", err)
	}
	if got.Fields == nil || len(got.Fields) != 0 {
		t.Errorf("Fields = %v, want empty map", got.Fields)
	}
	if got.SeenAt.IsZero() {
		t.Error("SeenAt not defaulted")
	}
}

func TestRecentReturnsLatestPerAddress(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	sightings := []Sighting{
		{Address: "aa:aa:aa:aa:aa:aa", RSSI: -90, SeenAt: base},
		{Address: "aa:aa:aa:aa:aa:aa", RSSI: -50, SeenAt: base.Add(10 * time.Minute)},
		{Address: "bb:bb:bb:bb:bb:bb", RSSI: -60, SeenAt: base.Add(5 * time.Minute)},
	}
	for _, s := range sightings {
		if err := store.Record(ctx, s); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent() returned %d sightings, want 2 (one per address)", len(recent))
	}
	if recent[0].Address != "aa:aa:aa:aa:aa:aa" || recent[0].RSSI != -50 {
		t.Errorf("Recent()[0] = %+v, want latest aa:… sighting", recent[0])
	}
	if recent[1].Address != "bb:bb:bb:bb:bb:bb" {
		t.Errorf("Recent()[1] = %+v", recent[1])
	}
}

func TestPruneRemovesOldSightings(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	for _, s := range []Sighting{
		{Address: "aa:aa:aa:aa:aa:aa", RSSI: -70, SeenAt: old},
		{Address: "aa:aa:aa:aa:aa:aa", RSSI: -60, SeenAt: fresh},
	} {
		if err := store.Record(ctx, s); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	removed, err := store.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d rows, want 1", removed)
	}

	if _, err := store.LastSeen(ctx, "aa:aa:aa:aa:aa:aa"); err != nil {
		t.Errorf("fresh sighting pruned: %v", err)
	}
}
