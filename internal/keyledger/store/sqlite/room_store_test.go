package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/db"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

func TestRoomStore_UpsertAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertRoom(ctx, store.Room{FullID: "2.3.304", Occupancy: store.OccupancyOccupied, UpdatedAt: t0}); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}
	r, err := s.GetRoom(ctx, "2.3.304")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if r.Building != "2" || r.Floor != "3" || r.RoomNo != "304" {
		t.Errorf("columns not derived from full id: %+v", r)
	}
	if r.Occupancy != store.OccupancyOccupied {
		t.Errorf("expected occupied, got %s", r.Occupancy)
	}

	mark, err := s.LastModified(ctx, store.WatermarkConfig)
	if err != nil {
		t.Fatalf("LastModified: %v", err)
	}
	if !mark.Equal(t0) {
		t.Errorf("expected config watermark %v, got %v", t0, mark)
	}
}

func TestRoomStore_GetUnknownIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetRoom(context.Background(), "9.9.999")
	if !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestRoomStore_SetOccupancy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertRoom(ctx, store.Room{FullID: "1.1.101", Occupancy: store.OccupancyOccupied}); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}
	at := t0.Add(3 * time.Hour)
	if err := s.SetOccupancy(ctx, "1.1.101", store.OccupancyVacant, at); err != nil {
		t.Fatalf("SetOccupancy: %v", err)
	}
	r, err := s.GetRoom(ctx, "1.1.101")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if r.Occupancy != store.OccupancyVacant || !r.UpdatedAt.Equal(at) {
		t.Errorf("unexpected room after checkout: %+v", r)
	}

	err = s.SetOccupancy(ctx, "9.9.999", store.OccupancyVacant, at)
	if !apperr.HasCode(err, apperr.CodeReferentialViolation) {
		t.Errorf("expected referential_violation, got %v", err)
	}
}

func TestSeedDev_CreatesRoomsIdempotently(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	opt := db.SeedDevOptions{Rooms: []string{"1.1.101", "1.1.102"}}
	if err := db.SeedDev(ctx, conn, opt); err != nil {
		t.Fatalf("SeedDev: %v", err)
	}
	if err := s.SetOccupancy(ctx, "1.1.101", store.OccupancyOccupied, t0); err != nil {
		t.Fatalf("SetOccupancy: %v", err)
	}
	if err := db.SeedDev(ctx, conn, opt); err != nil {
		t.Fatalf("SeedDev again: %v", err)
	}

	r, err := s.GetRoom(ctx, "1.1.101")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if r.Occupancy != store.OccupancyOccupied {
		t.Errorf("reseeding should not reset occupancy")
	}

	var count int
	if err := conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM rooms"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rooms, got %d", count)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	_, conn := newTestStore(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := db.Version(ctx, conn)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != 1 {
		t.Errorf("expected schema version 1, got %d", v)
	}
}
