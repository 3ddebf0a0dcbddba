package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"labwatch/internal/metrics"
	"labwatch/internal/models"
)

// Store is the persistence the engine needs: read-only bands and formatting, and a transaction
// in which alerts and the machine status are written together.
type Store interface {
	LoadBands(ctx context.Context, componentIDs []int64) ([]models.Parameter, error)
	LoadFormatting(ctx context.Context, componentIDs []int64) (map[int64]models.ComponentFormat, error)
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	EnqueueAlerts(ctx context.Context, tx *sql.Tx, alerts []models.PendingAlert, at time.Time) error
	SetMachineStatus(ctx context.Context, tx *sql.Tx, machineID int64, status models.Level) error
}

type Engine struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, log: logger, now: time.Now}
}

// Evaluate classifies one machine's captures against their failure bands. Every band that
// contains its component's value (bounds inclusive) yields one pending alert. The alerts and the
// machine status (highest fired level, or Stable) commit in one transaction; on any error nothing
// is written and the status keeps its previous value.
func (e *Engine) Evaluate(ctx context.Context, machineID int64, captures map[int64]models.CaptureRef) ([]models.PendingAlert, error) {
	componentIDs := make([]int64, 0, len(captures))
	for id := range captures {
		componentIDs = append(componentIDs, id)
	}
	sort.Slice(componentIDs, func(i, j int) bool { return componentIDs[i] < componentIDs[j] })

	bands, err := e.store.LoadBands(ctx, componentIDs)
	if err != nil {
		return nil, e.fail(machineID, fmt.Errorf("evaluate machine %d: %w", machineID, err))
	}
	formats, err := e.store.LoadFormatting(ctx, componentIDs)
	if err != nil {
		return nil, e.fail(machineID, fmt.Errorf("evaluate machine %d: %w", machineID, err))
	}

	var pending []models.PendingAlert
	for _, band := range bands {
		capture, ok := captures[band.ComponentID]
		if !ok || !band.Contains(capture.Value) {
			continue
		}
		pending = append(pending, models.PendingAlert{
			ParameterID: band.ID,
			CaptureID:   capture.ID,
			ComponentID: band.ComponentID,
			Level:       band.Level,
			Message:     alertMessage(band.ComponentID, formats[band.ComponentID], capture.Value),
		})
	}
	status := models.HighestLevel(pending)

	err = e.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.store.EnqueueAlerts(ctx, tx, pending, e.now()); err != nil {
			return err
		}
		return e.store.SetMachineStatus(ctx, tx, machineID, status)
	})
	if err != nil {
		return nil, e.fail(machineID, fmt.Errorf("evaluate machine %d: %w", machineID, err))
	}

	metrics.EvaluationsTotal.WithLabelValues("ok").Inc()
	for _, a := range pending {
		metrics.AlertsEnqueuedTotal.WithLabelValues(string(a.Level)).Inc()
	}
	if len(pending) > 0 {
		e.log.Warn("alerts generated", "machine_id", machineID, "count", len(pending), "status", status)
	} else {
		e.log.Debug("no alerts", "machine_id", machineID, "status", status)
	}
	return pending, nil
}

func (e *Engine) fail(machineID int64, err error) error {
	metrics.EvaluationsTotal.WithLabelValues("error").Inc()
	metrics.StoreErrorsTotal.WithLabelValues("evaluate").Inc()
	e.log.Error("evaluation aborted", "machine_id", machineID, "err", err)
	return err
}

func alertMessage(componentID int64, f models.ComponentFormat, value float64) string {
	name := string(f.Kind)
	if name == "" {
		name = fmt.Sprintf("component %d", componentID)
	}
	return fmt.Sprintf("%s usage at %s", name, models.FormatValue(value, f.Formatting))
}
