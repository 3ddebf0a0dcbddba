package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labwatch/internal/models"
)

// EnqueueAlerts writes pending alerts inside the caller's transaction.
func (r *Repository) EnqueueAlerts(ctx context.Context, tx *sql.Tx, alerts []models.PendingAlert, at time.Time) error {
	if len(alerts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, r.q(`INSERT INTO alerts (parameter_id,capture_id,message,sent,attempts,created_at) VALUES (?,?,?,?,0,?)`))
	if err != nil {
		return storeErr("prepare alert insert", err)
	}
	defer stmt.Close()
	for _, a := range alerts {
		if _, err := stmt.ExecContext(ctx, a.ParameterID, a.CaptureID, a.Message, int(models.SentPending), at.UTC()); err != nil {
			return storeErr("enqueue alert", err)
		}
	}
	return nil
}

// ClaimOnePending leases a single pending alert to owner until now+lease and returns it joined
// with its delivery details. It returns nil when nothing is claimable. Alerts with fewer failed
// attempts go first, so an undeliverable alert never holds back the ones queued after it. Alerts whose lease expired
// are claimable again, so a crashed drainer never strands an alert.
func (r *Repository) ClaimOnePending(ctx context.Context, owner string, lease time.Duration, now time.Time) (*models.OutboxAlert, error) {
	now = now.UTC().Truncate(time.Second)
	until := now.Add(lease)

	lock := ""
	if r.dialect == DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := `UPDATE alerts SET claimed_by=?, claimed_until=?
		WHERE id = (
			SELECT id FROM alerts
			WHERE sent=? AND (claimed_until IS NULL OR claimed_until < ?)
			ORDER BY attempts, id LIMIT 1` + lock + `
		)
		AND sent=? AND (claimed_until IS NULL OR claimed_until < ?)
		RETURNING id`
	var id int64
	claimed := false
	err := r.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, r.q(query), owner, until, int(models.SentPending), now, int(models.SentPending), now).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storeErr("claim alert", err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	a, err := r.loadOutboxAlert(ctx, id)
	if err != nil {
		_ = r.release(ctx, id, owner)
		return nil, err
	}
	return a, nil
}

func (r *Repository) loadOutboxAlert(ctx context.Context, id int64) (*models.OutboxAlert, error) {
	var a models.OutboxAlert
	var sent int
	var level, kind string
	var capacity, attMin, attMax, critMin, critMax sql.NullFloat64
	err := r.db.QueryRowContext(ctx, r.q(`SELECT a.id,a.parameter_id,a.capture_id,a.message,a.sent,a.attempts,a.created_at,
			m.id,m.ip,m.brand,m.os,rm.name,
			c.kind,c.formatting,c.capacity,
			cap.value,p.level,
			pa.min,pa.max,pc.min,pc.max
		FROM alerts a
		JOIN parameters p ON p.id = a.parameter_id
		JOIN components c ON c.id = p.component_id
		JOIN captures cap ON cap.id = a.capture_id
		JOIN machines m ON m.id = c.machine_id
		JOIN rooms rm ON rm.id = m.room_id
		LEFT JOIN parameters pa ON pa.component_id = c.id AND pa.level = ?
		LEFT JOIN parameters pc ON pc.component_id = c.id AND pc.level = ?
		WHERE a.id = ?`), string(models.LevelAttention), string(models.LevelCritical), id).
		Scan(&a.ID, &a.ParameterID, &a.CaptureID, &a.Message, &sent, &a.Attempts, &a.CreatedAt,
			&a.MachineID, &a.MachineIP, &a.MachineBrand, &a.MachineOS, &a.Room,
			&kind, &a.Formatting, &capacity,
			&a.Value, &level,
			&attMin, &attMax, &critMin, &critMax)
	if err != nil {
		return nil, storeErr("load claimed alert", err)
	}
	a.Sent = models.SentState(sent)
	a.Component = models.ComponentKind(kind)
	a.Level = models.Level(level)
	a.Capacity = nullFloat(capacity)
	a.Attention = models.Band{Min: nullFloat(attMin), Max: nullFloat(attMax)}
	a.Critical = models.Band{Min: nullFloat(critMin), Max: nullFloat(critMax)}
	return &a, nil
}

// MarkSent moves a pending alert to sent. A sent alert is never moved back.
func (r *Repository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, r.q(`UPDATE alerts SET sent=?, sent_at=?, claimed_by=NULL, claimed_until=NULL WHERE id=? AND sent=?`),
			int(models.SentDone), at.UTC(), id, int(models.SentPending))
		return storeErr("mark sent", err)
	})
}

// MarkFailed records a failed delivery attempt and releases the lease so the alert stays pending.
// With maxAttempts > 0 the alert becomes failed-permanently once it has failed that many times;
// permanent reports whether that happened.
func (r *Repository) MarkFailed(ctx context.Context, id int64, maxAttempts int) (permanent bool, err error) {
	var sent int
	query := fmt.Sprintf(`UPDATE alerts
		SET attempts = attempts + 1,
			claimed_by = NULL,
			claimed_until = NULL,
			sent = CASE WHEN CAST(? AS INTEGER) > 0 AND attempts + 1 >= CAST(? AS INTEGER) THEN %d ELSE %d END
		WHERE id=? AND sent=?
		RETURNING sent`, int(models.SentFailedPermanently), int(models.SentPending))
	err = r.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, r.q(query), maxAttempts, maxAttempts, id, int(models.SentPending)).Scan(&sent)
		if errors.Is(err, sql.ErrNoRows) {
			sent = int(models.SentDone)
			return nil
		}
		return storeErr("mark failed", err)
	})
	if err != nil {
		return false, err
	}
	return models.SentState(sent) == models.SentFailedPermanently, nil
}

func (r *Repository) release(ctx context.Context, id int64, owner string) error {
	_, err := r.db.ExecContext(ctx, r.q(`UPDATE alerts SET claimed_by=NULL, claimed_until=NULL WHERE id=? AND claimed_by=?`), id, owner)
	return storeErr("release alert", err)
}

func (r *Repository) GetAlert(ctx context.Context, id int64) (models.Alert, error) {
	var a models.Alert
	var sent int
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id,parameter_id,capture_id,message,sent,attempts,created_at FROM alerts WHERE id=?`), id).
		Scan(&a.ID, &a.ParameterID, &a.CaptureID, &a.Message, &sent, &a.Attempts, &a.CreatedAt)
	if err != nil {
		return a, storeErr("get alert", err)
	}
	a.Sent = models.SentState(sent)
	return a, nil
}

// OutboxCounts returns the number of alerts per sent state.
func (r *Repository) OutboxCounts(ctx context.Context) (map[models.SentState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sent, COUNT(*) FROM alerts GROUP BY sent`)
	if err != nil {
		return nil, storeErr("outbox counts", err)
	}
	defer rows.Close()
	out := map[models.SentState]int{models.SentPending: 0, models.SentDone: 0, models.SentFailedPermanently: 0}
	for rows.Next() {
		var state, n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, storeErr("outbox counts", err)
		}
		out[models.SentState(state)] = n
	}
	return out, storeErr("outbox counts", rows.Err())
}

func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM alerts WHERE sent=?`), int(models.SentPending)).Scan(&n)
	return n, storeErr("pending count", err)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
