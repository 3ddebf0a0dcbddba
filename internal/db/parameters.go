package db

import (
	"context"
	"fmt"

	"labwatch/internal/models"
)

// LoadBands returns every failure band configured for the given components in one query.
func (r *Repository) LoadBands(ctx context.Context, componentIDs []int64) ([]models.Parameter, error) {
	if len(componentIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id,component_id,level,min,max FROM parameters WHERE component_id IN (%s) ORDER BY id`, placeholders(len(componentIDs)))
	rows, err := r.db.QueryContext(ctx, r.q(query), int64Args(componentIDs)...)
	if err != nil {
		return nil, storeErr("load bands", err)
	}
	defer rows.Close()
	var out []models.Parameter
	for rows.Next() {
		var p models.Parameter
		var level string
		if err := rows.Scan(&p.ID, &p.ComponentID, &level, &p.Min, &p.Max); err != nil {
			return nil, storeErr("scan band", err)
		}
		p.Level, err = models.ParseBandLevel(level)
		if err != nil {
			return nil, storeErr("load bands", fmt.Errorf("parameter %d: %w", p.ID, err))
		}
		out = append(out, p)
	}
	return out, storeErr("load bands", rows.Err())
}

// LoadFormatting returns kind and display unit per component in one query.
func (r *Repository) LoadFormatting(ctx context.Context, componentIDs []int64) (map[int64]models.ComponentFormat, error) {
	out := make(map[int64]models.ComponentFormat, len(componentIDs))
	if len(componentIDs) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`SELECT id,kind,formatting FROM components WHERE id IN (%s)`, placeholders(len(componentIDs)))
	rows, err := r.db.QueryContext(ctx, r.q(query), int64Args(componentIDs)...)
	if err != nil {
		return nil, storeErr("load formatting", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var f models.ComponentFormat
		var kind string
		if err := rows.Scan(&id, &kind, &f.Formatting); err != nil {
			return nil, storeErr("scan formatting", err)
		}
		f.Kind = models.ComponentKind(kind)
		out[id] = f
	}
	return out, storeErr("load formatting", rows.Err())
}
