package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

type SeedDevOptions struct {
	// Rooms to pre-create, as building.floor.room. Empty uses a small
	// two-floor default layout.
	Rooms []string
}

func defaultDevRooms() []string {
	var out []string
	for floor := 1; floor <= 2; floor++ {
		for n := 1; n <= 5; n++ {
			out = append(out, fmt.Sprintf("1.%d.%d%02d", floor, floor, n))
		}
	}
	return out
}

// SeedDev inserts the dev room registry. Existing rooms keep their
// occupancy.
func SeedDev(ctx context.Context, db *sqlx.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	rooms := opt.Rooms
	if len(rooms) == 0 {
		rooms = defaultDevRooms()
	}

	for _, id := range rooms {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		parts := strings.SplitN(id, ".", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		if _, err := db.ExecContext(ctx, `
INSERT INTO rooms(full_id, building, floor, room_no, occupancy, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, 0, ?, ?)
ON CONFLICT(full_id) DO NOTHING;
`, id, parts[0], parts[1], parts[2], now, now); err != nil {
			return fmt.Errorf("seed room %s: %w", id, err)
		}
	}

	if _, err := db.ExecContext(ctx, `
INSERT INTO watermarks(item, updated_at_ms) VALUES ('config', ?)
ON CONFLICT(item) DO UPDATE SET updated_at_ms = excluded.updated_at_ms;
`, now); err != nil {
		return fmt.Errorf("seed watermark: %w", err)
	}

	return nil
}
