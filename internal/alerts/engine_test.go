package alerts

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"labwatch/internal/db"
	"labwatch/internal/inventory"
	"labwatch/internal/models"
)

const (
	machineID   = int64(1)
	cpuID       = int64(10)
	memoryID    = int64(11)
	diskID      = int64(12)
	unknownMach = int64(404)
)

func TestEvaluateCriticalCPU(t *testing.T) {
	repo := newTestRepo(t)
	engine := newTestEngine(repo)
	ctx := context.Background()

	pending, err := engine.Evaluate(ctx, machineID, writeCaptures(t, repo, map[int64]float64{cpuID: 97.0}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %#v, want one alert", pending)
	}
	if pending[0].Level != models.LevelCritical {
		t.Fatalf("level = %q, want Critical", pending[0].Level)
	}
	if !strings.Contains(pending[0].Message, "97.0%") {
		t.Fatalf("message %q does not contain 97.0%%", pending[0].Message)
	}
	assertAlertCount(t, repo, 1)
	assertStatus(t, repo, models.LevelCritical)
}

func TestEvaluateNoMatchingBandSetsStable(t *testing.T) {
	repo := newTestRepo(t)
	engine := newTestEngine(repo)
	ctx := context.Background()

	if _, err := engine.Evaluate(ctx, machineID, writeCaptures(t, repo, map[int64]float64{cpuID: 99})); err != nil {
		t.Fatalf("evaluate critical cycle: %v", err)
	}
	assertStatus(t, repo, models.LevelCritical)

	pending, err := engine.Evaluate(ctx, machineID, writeCaptures(t, repo, map[int64]float64{diskID: 50.0}))
	if err != nil {
		t.Fatalf("evaluate disk cycle: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %#v, want none", pending)
	}
	assertAlertCount(t, repo, 1)
	assertStatus(t, repo, models.LevelStable)
}

func TestEvaluateHighestSeverityWins(t *testing.T) {
	repo := newTestRepo(t)
	engine := newTestEngine(repo)

	pending, err := engine.Evaluate(context.Background(), machineID, writeCaptures(t, repo, map[int64]float64{cpuID: 85, memoryID: 15.5}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %#v, want two alerts", pending)
	}
	assertStatus(t, repo, models.LevelCritical)
	if !strings.Contains(pending[1].Message, "15.5 GB") {
		t.Fatalf("memory message = %q, want 15.5 GB", pending[1].Message)
	}
}

func TestEvaluateBoundsAreInclusive(t *testing.T) {
	cases := []struct {
		value float64
		want  []models.Level
	}{
		{79, nil},
		{80, []models.Level{models.LevelAttention}},
		{94, []models.Level{models.LevelAttention}},
		{94.5, nil},
		{95, []models.Level{models.LevelCritical}},
		{100, []models.Level{models.LevelCritical}},
		{101, nil},
	}
	for _, tc := range cases {
		repo := newTestRepo(t)
		engine := newTestEngine(repo)
		pending, err := engine.Evaluate(context.Background(), machineID, writeCaptures(t, repo, map[int64]float64{cpuID: tc.value}))
		if err != nil {
			t.Fatalf("evaluate %v: %v", tc.value, err)
		}
		if len(pending) != len(tc.want) {
			t.Fatalf("value %v: got %d alerts, want %d", tc.value, len(pending), len(tc.want))
		}
		for i, level := range tc.want {
			if pending[i].Level != level {
				t.Fatalf("value %v: level %q, want %q", tc.value, pending[i].Level, level)
			}
		}
	}
}

func TestEvaluateRepeatedCyclesAppendAlerts(t *testing.T) {
	repo := newTestRepo(t)
	engine := newTestEngine(repo)
	captures := writeCaptures(t, repo, map[int64]float64{cpuID: 97})

	for i := 1; i <= 3; i++ {
		if _, err := engine.Evaluate(context.Background(), machineID, captures); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
		assertAlertCount(t, repo, i)
	}
}

func TestEvaluateIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	engine := newTestEngine(repo)
	ctx := context.Background()

	if _, err := repo.DB().Exec(`CREATE TRIGGER fail_second_alert BEFORE INSERT ON alerts
		WHEN NEW.message LIKE 'Memory%'
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, err := engine.Evaluate(ctx, machineID, writeCaptures(t, repo, map[int64]float64{cpuID: 97, memoryID: 15, diskID: 450}))
	if err == nil {
		t.Fatal("expected evaluation error")
	}
	if !strings.Contains(err.Error(), "injected failure") {
		t.Fatalf("error %v does not carry the store failure", err)
	}
	assertAlertCount(t, repo, 0)
	assertStatus(t, repo, models.LevelStable)
}

func TestEvaluateUnknownMachineWritesNothing(t *testing.T) {
	repo := newTestRepo(t)
	engine := newTestEngine(repo)

	_, err := engine.Evaluate(context.Background(), unknownMach, writeCaptures(t, repo, map[int64]float64{cpuID: 97}))
	if err == nil {
		t.Fatal("expected error for unknown machine")
	}
	assertAlertCount(t, repo, 0)
}

func newTestEngine(repo *db.Repository) *Engine {
	e := NewEngine(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC) }
	return e
}

func newTestRepo(t *testing.T) *db.Repository {
	t.Helper()
	sqldb, err := db.Open(db.DialectSQLite, t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb, db.DialectSQLite); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	repo := db.NewRepository(sqldb, db.DialectSQLite)
	inv := &inventory.Inventory{Organizations: []inventory.Organization{{
		ID: 1, Name: "org", SlackID: "C1",
		Rooms: []inventory.Room{{ID: 1, Name: "lab", Machines: []inventory.Machine{{
			ID: machineID, Hostname: "pc01",
			Components: []inventory.Component{
				{ID: cpuID, Kind: "CPU", Formatting: "%", Parameters: []inventory.Parameter{
					{Level: "Attention", Min: 80, Max: 94},
					{Level: "Critical", Min: 95, Max: 100},
				}},
				{ID: memoryID, Kind: "Memory", Formatting: "GB", Parameters: []inventory.Parameter{
					{Level: "Critical", Min: 14, Max: 16},
				}},
				{ID: diskID, Kind: "Disk", Formatting: "GB", Parameters: []inventory.Parameter{
					{Level: "Attention", Min: 400, Max: 500},
				}},
			},
		}}}},
	}}}
	if err := repo.Provision(context.Background(), inv); err != nil {
		t.Fatalf("provision: %v", err)
	}
	return repo
}

func writeCaptures(t *testing.T, repo *db.Repository, values map[int64]float64) map[int64]models.CaptureRef {
	t.Helper()
	var ids map[int64]int64
	err := repo.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		ids, err = repo.InsertCaptures(context.Background(), tx, values, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("insert captures: %v", err)
	}
	out := make(map[int64]models.CaptureRef, len(ids))
	for componentID, id := range ids {
		out[componentID] = models.CaptureRef{ID: id, Value: values[componentID]}
	}
	return out
}

func assertAlertCount(t *testing.T, repo *db.Repository, want int) {
	t.Helper()
	var got int
	if err := repo.DB().QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&got); err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	if got != want {
		t.Fatalf("alerts count = %d, want %d", got, want)
	}
}

func assertStatus(t *testing.T, repo *db.Repository, want models.Level) {
	t.Helper()
	got, err := repo.MachineStatus(context.Background(), machineID)
	if err != nil {
		t.Fatalf("machine status: %v", err)
	}
	if got != want {
		t.Fatalf("machine status = %q, want %q", got, want)
	}
}
