package capture

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"labwatch/internal/db"
	"labwatch/internal/metrics"
)

type Writer struct {
	repo *db.Repository
	log  *slog.Logger
}

func NewWriter(repo *db.Repository, logger *slog.Logger) *Writer {
	return &Writer{repo: repo, log: logger}
}

// WriteCaptures persists one capture per component for a sampling cycle in a single transaction.
// Either every capture commits or none does; on error the cycle is abandoned and nothing is retried.
func (w *Writer) WriteCaptures(ctx context.Context, values map[int64]float64, at time.Time) (map[int64]int64, error) {
	var ids map[int64]int64
	err := w.repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = w.repo.InsertCaptures(ctx, tx, values, at)
		return err
	})
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("write_captures").Inc()
		return nil, err
	}
	metrics.CapturesWrittenTotal.Add(float64(len(ids)))
	w.log.Debug("captures written", "count", len(ids), "at", at)
	return ids, nil
}
