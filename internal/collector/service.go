package collector

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"labwatch/internal/metrics"
	"labwatch/internal/models"
)

// MachineSpec maps the component kinds sampled for one machine to its component ids.
type MachineSpec struct {
	ID         int64
	Components map[models.ComponentKind]int64
}

type CaptureWriter interface {
	WriteCaptures(ctx context.Context, values map[int64]float64, at time.Time) (map[int64]int64, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, machineID int64, captures map[int64]models.CaptureRef) ([]models.PendingAlert, error)
}

// Service runs one sampling cycle per Tick: acquire a value per component kind, then for every
// machine write its captures and evaluate them. Machines are processed concurrently and a failed
// machine never blocks the others.
type Service struct {
	source   Source
	writer   CaptureWriter
	eval     Evaluator
	machines []MachineSpec
	log      *slog.Logger
	now      func() time.Time
}

// TickResult summarizes one sampling cycle.
type TickResult struct {
	Machines int
	Failed   int
	Alerts   int
	Skipped  []models.ComponentKind
}

func NewService(source Source, writer CaptureWriter, eval Evaluator, machines []MachineSpec, logger *slog.Logger) *Service {
	return &Service{source: source, writer: writer, eval: eval, machines: machines, log: logger, now: time.Now}
}

func (s *Service) Tick(ctx context.Context) TickResult {
	at := s.now().UTC()
	samples, skipped := s.sample(ctx)
	res := TickResult{Machines: len(s.machines), Skipped: skipped}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, m := range s.machines {
		wg.Add(1)
		go func(m MachineSpec) {
			defer wg.Done()
			n, err := s.cycle(ctx, m, samples, at)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				return
			}
			res.Alerts += n
		}(m)
	}
	wg.Wait()
	return res
}

// sample acquires each kind used by any machine exactly once per cycle.
func (s *Service) sample(ctx context.Context) (map[models.ComponentKind]float64, []models.ComponentKind) {
	kinds := map[models.ComponentKind]bool{}
	for _, m := range s.machines {
		for k := range m.Components {
			kinds[k] = true
		}
	}
	ordered := make([]models.ComponentKind, 0, len(kinds))
	for k := range kinds {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	out := make(map[models.ComponentKind]float64, len(ordered))
	var skipped []models.ComponentKind
	for _, k := range ordered {
		v, err := s.source.Sample(ctx, k)
		if err != nil {
			metrics.AcquisitionErrorsTotal.WithLabelValues(string(k)).Inc()
			s.log.Warn("acquisition failed, skipping component this cycle", "kind", k, "err", err)
			skipped = append(skipped, k)
			continue
		}
		out[k] = v
	}
	return out, skipped
}

func (s *Service) cycle(ctx context.Context, m MachineSpec, samples map[models.ComponentKind]float64, at time.Time) (int, error) {
	values := make(map[int64]float64, len(m.Components))
	for kind, componentID := range m.Components {
		if v, ok := samples[kind]; ok {
			values[componentID] = v
		}
	}
	if len(values) == 0 {
		s.log.Warn("no samples for machine this cycle", "machine_id", m.ID)
		return 0, nil
	}
	ids, err := s.writer.WriteCaptures(ctx, values, at)
	if err != nil {
		s.log.Error("write captures", "machine_id", m.ID, "err", err)
		return 0, err
	}
	refs := make(map[int64]models.CaptureRef, len(ids))
	for componentID, id := range ids {
		refs[componentID] = models.CaptureRef{ID: id, Value: values[componentID]}
	}
	pending, err := s.eval.Evaluate(ctx, m.ID, refs)
	if err != nil {
		s.log.Error("evaluate captures", "machine_id", m.ID, "err", err)
		return 0, err
	}
	return len(pending), nil
}
