package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openkey-lms/keyledger/internal/apperr"
	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

type roomRow struct {
	FullID      string `db:"full_id"`
	Building    string `db:"building"`
	Floor       string `db:"floor"`
	RoomNo      string `db:"room_no"`
	Occupancy   int    `db:"occupancy"`
	UpdatedAtMs int64  `db:"updated_at_ms"`
}

func getRoom(ctx context.Context, q sqlx.QueryerContext, fullID string) (store.Room, error) {
	fullID = strings.TrimSpace(fullID)

	var r roomRow
	err := sqlx.GetContext(ctx, q, &r, `
SELECT full_id, building, floor, room_no, occupancy, updated_at_ms
FROM rooms WHERE full_id = ?;
`, fullID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Room{}, apperr.Newf(apperr.CodeNotFound, "room %q not found", fullID)
	}
	if err != nil {
		return store.Room{}, classify("get room", err)
	}
	return store.Room{
		FullID:    r.FullID,
		Building:  r.Building,
		Floor:     r.Floor,
		RoomNo:    r.RoomNo,
		Occupancy: store.Occupancy(r.Occupancy),
		UpdatedAt: credential.FromMillis(r.UpdatedAtMs),
	}, nil
}

func upsertRoom(ctx context.Context, tx *sqlx.Tx, room store.Room) error {
	room.FullID = strings.TrimSpace(room.FullID)
	if room.FullID == "" {
		return apperr.New(apperr.CodeInvalidArgument, "room full_id is required")
	}
	if room.Building == "" && room.Floor == "" && room.RoomNo == "" {
		room.Building, room.Floor, room.RoomNo = credential.SplitRoomID(room.FullID)
	}
	if room.UpdatedAt.IsZero() {
		room.UpdatedAt = time.Now()
	}
	ms := credential.ToMillis(room.UpdatedAt)

	if _, err := tx.ExecContext(ctx, `
INSERT INTO rooms(full_id, building, floor, room_no, occupancy, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(full_id) DO UPDATE SET
  building = excluded.building,
  floor = excluded.floor,
  room_no = excluded.room_no,
  occupancy = excluded.occupancy,
  updated_at_ms = excluded.updated_at_ms;
`, room.FullID, room.Building, room.Floor, room.RoomNo, int(room.Occupancy), ms, ms); err != nil {
		return classify("upsert room", err)
	}
	return bumpWatermark(ctx, tx, store.WatermarkConfig, room.UpdatedAt)
}

func setOccupancy(ctx context.Context, tx *sqlx.Tx, fullID string, occ store.Occupancy, at time.Time) error {
	fullID = strings.TrimSpace(fullID)
	if at.IsZero() {
		at = time.Now()
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE rooms SET occupancy = ?, updated_at_ms = ? WHERE full_id = ?;",
		int(occ), credential.ToMillis(at), fullID,
	)
	if err != nil {
		return classify("set occupancy", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("set occupancy", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.CodeReferentialViolation, "room %q does not exist", fullID).
			WithMetadata("room", fullID)
	}
	return bumpWatermark(ctx, tx, store.WatermarkConfig, at)
}
