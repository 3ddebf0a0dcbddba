package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"labwatch/internal/models"
)

// SetMachineStatus overwrites the derived status of a machine inside tx.
func (r *Repository) SetMachineStatus(ctx context.Context, tx *sql.Tx, machineID int64, status models.Level) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE machines SET status=? WHERE id=?`), string(status), machineID)
	if err != nil {
		return storeErr("set machine status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("set machine status", err)
	}
	if n == 0 {
		return storeErr("set machine status", fmt.Errorf("machine %d not found", machineID))
	}
	return nil
}

func (r *Repository) MachineStatus(ctx context.Context, machineID int64) (models.Level, error) {
	var status string
	if err := r.db.QueryRowContext(ctx, r.q(`SELECT status FROM machines WHERE id=?`), machineID).Scan(&status); err != nil {
		return "", storeErr("machine status", err)
	}
	return models.Level(status), nil
}

// ResolveForMachine returns the notification target of the organization that owns the machine's
// room. ok is false when the machine is unknown or the organization has no target configured.
func (r *Repository) ResolveForMachine(ctx context.Context, machineID int64) (target string, ok bool, err error) {
	var slackID sql.NullString
	err = r.db.QueryRowContext(ctx, r.q(`SELECT o.slack_id
		FROM organizations o
		JOIN rooms rm ON rm.organization_id = o.id
		JOIN machines m ON m.room_id = rm.id
		WHERE m.id = ?`), machineID).Scan(&slackID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("resolve target", err)
	}
	if !slackID.Valid || slackID.String == "" {
		return "", false, nil
	}
	return slackID.String, true, nil
}
