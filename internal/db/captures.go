package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"labwatch/internal/models"
)

// InsertCaptures appends one capture per component inside tx and returns the new ids.
func (r *Repository) InsertCaptures(ctx context.Context, tx *sql.Tx, values map[int64]float64, at time.Time) (map[int64]int64, error) {
	ids := make(map[int64]int64, len(values))
	if len(values) == 0 {
		return ids, nil
	}
	stmt, err := tx.PrepareContext(ctx, r.q(`INSERT INTO captures (component_id,value,captured_at) VALUES (?,?,?) RETURNING id`))
	if err != nil {
		return nil, storeErr("prepare capture insert", err)
	}
	defer stmt.Close()

	componentIDs := make([]int64, 0, len(values))
	for id := range values {
		componentIDs = append(componentIDs, id)
	}
	sort.Slice(componentIDs, func(i, j int) bool { return componentIDs[i] < componentIDs[j] })

	for _, componentID := range componentIDs {
		var id int64
		if err := stmt.QueryRowContext(ctx, componentID, values[componentID], at.UTC()).Scan(&id); err != nil {
			return nil, storeErr("insert capture", err)
		}
		ids[componentID] = id
	}
	return ids, nil
}

func (r *Repository) LatestCapture(ctx context.Context, componentID int64) (models.Capture, error) {
	var c models.Capture
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id,component_id,value,captured_at FROM captures WHERE component_id=? ORDER BY captured_at DESC, id DESC LIMIT 1`), componentID).
		Scan(&c.ID, &c.ComponentID, &c.Value, &c.CapturedAt)
	return c, storeErr("latest capture", err)
}

func (r *Repository) CountCaptures(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`).Scan(&n)
	return n, storeErr("count captures", err)
}

// PruneCaptures deletes captures taken before cutoff that no alert references. Alerts and the
// captures they point at are kept forever.
func (r *Repository) PruneCaptures(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.q(`DELETE FROM captures
			WHERE captured_at < ?
			AND NOT EXISTS (SELECT 1 FROM alerts a WHERE a.capture_id = captures.id)`), cutoff.UTC())
		if err != nil {
			return storeErr("prune captures", err)
		}
		n, err = res.RowsAffected()
		return storeErr("prune captures", err)
	})
	return n, err
}
