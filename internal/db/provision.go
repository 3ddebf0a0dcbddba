package db

import (
	"context"
	"database/sql"

	"labwatch/internal/inventory"
)

// Provision upserts the organization hierarchy, components and their bands from an inventory.
// Machine status is left untouched on existing rows.
func (r *Repository) Provision(ctx context.Context, inv *inventory.Inventory) error {
	return r.WithTx(ctx, func(tx *sql.Tx) error {
		for _, o := range inv.Organizations {
			var slackID any
			if o.SlackID != "" {
				slackID = o.SlackID
			}
			if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO organizations (id,name,slack_id) VALUES (?,?,?)
				ON CONFLICT(id) DO UPDATE SET name=excluded.name,slack_id=excluded.slack_id`), o.ID, o.Name, slackID); err != nil {
				return storeErr("provision organization", err)
			}
			for _, room := range o.Rooms {
				if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO rooms (id,organization_id,name) VALUES (?,?,?)
					ON CONFLICT(id) DO UPDATE SET organization_id=excluded.organization_id,name=excluded.name`), room.ID, o.ID, room.Name); err != nil {
					return storeErr("provision room", err)
				}
				for _, m := range room.Machines {
					if err := r.provisionMachine(ctx, tx, room.ID, m); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (r *Repository) provisionMachine(ctx context.Context, tx *sql.Tx, roomID int64, m inventory.Machine) error {
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO machines (id,room_id,hostname,ip,brand,os) VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET room_id=excluded.room_id,hostname=excluded.hostname,ip=excluded.ip,brand=excluded.brand,os=excluded.os`),
		m.ID, roomID, m.Hostname, m.IP, m.Brand, m.OS); err != nil {
		return storeErr("provision machine", err)
	}
	for _, c := range m.Components {
		var capacity any
		if c.Capacity != nil {
			capacity = *c.Capacity
		}
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO components (id,machine_id,kind,formatting,capacity) VALUES (?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET machine_id=excluded.machine_id,kind=excluded.kind,formatting=excluded.formatting,capacity=excluded.capacity`),
			c.ID, m.ID, c.Kind, c.Formatting, capacity); err != nil {
			return storeErr("provision component", err)
		}
		for _, p := range c.Parameters {
			if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO parameters (component_id,level,min,max) VALUES (?,?,?,?)
				ON CONFLICT(component_id,level) DO UPDATE SET min=excluded.min,max=excluded.max`),
				c.ID, p.Level, p.Min, p.Max); err != nil {
				return storeErr("provision parameter", err)
			}
		}
	}
	return nil
}
