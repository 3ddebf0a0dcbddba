package notifier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"labwatch/internal/db"
	"labwatch/internal/inventory"
	"labwatch/internal/models"
)

type recordingSink struct {
	mu    sync.Mutex
	err   error
	sent  []string
	texts []string
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, target, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, target)
	s.texts = append(s.texts, text)
	return nil
}

func (s *recordingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDrainUnresolvableTargetLeavesAlertPending(t *testing.T) {
	repo, alertID := newOutbox(t, "")
	sink := &recordingSink{}
	n := NewNotifier(repo, repo, sink, Options{}, discardLogger())

	out, err := n.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if out != OutcomeNoTarget {
		t.Fatalf("outcome = %s, want %s", out, OutcomeNoTarget)
	}
	if sink.calls() != 0 {
		t.Fatalf("sink called %d times, want 0", sink.calls())
	}
	a := getAlert(t, repo, alertID)
	if a.Sent != models.SentPending || a.Attempts != 1 {
		t.Fatalf("alert = %+v, want pending with 1 attempt", a)
	}
}

func TestDrainSuccessMarksSentAndNeverReclaims(t *testing.T) {
	repo, alertID := newOutbox(t, "C123")
	sink := &recordingSink{}
	n := NewNotifier(repo, repo, sink, Options{}, discardLogger())
	ctx := context.Background()

	out, err := n.Drain(ctx)
	if err != nil || out != OutcomeSent {
		t.Fatalf("drain = %s, %v; want sent", out, err)
	}
	if len(sink.sent) != 1 || sink.sent[0] != "C123" {
		t.Fatalf("targets = %v, want [C123]", sink.sent)
	}
	if !strings.Contains(sink.texts[0], "97.0%") || !strings.Contains(sink.texts[0], "Room: lab-1") {
		t.Fatalf("unexpected message:\n%s", sink.texts[0])
	}
	if a := getAlert(t, repo, alertID); a.Sent != models.SentDone {
		t.Fatalf("sent = %s, want sent", a.Sent)
	}

	out, err = n.Drain(ctx)
	if err != nil || out != OutcomeIdle {
		t.Fatalf("second drain = %s, %v; want idle", out, err)
	}
	if sink.calls() != 1 {
		t.Fatalf("sink called %d times, want 1", sink.calls())
	}
}

func TestDrainSinkErrorKeepsAlertPending(t *testing.T) {
	repo, alertID := newOutbox(t, "C123")
	sink := &recordingSink{err: &SinkError{Sink: "recording", Err: errors.New("channel_not_found")}}
	n := NewNotifier(repo, repo, sink, Options{}, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := n.Drain(ctx)
		if err != nil || out != OutcomeSinkError {
			t.Fatalf("drain %d = %s, %v; want sink_error", i, out, err)
		}
	}
	a := getAlert(t, repo, alertID)
	if a.Sent != models.SentPending || a.Attempts != 3 {
		t.Fatalf("alert = %+v, want pending with 3 attempts", a)
	}

	sink.err = nil
	if out, err := n.Drain(ctx); err != nil || out != OutcomeSent {
		t.Fatalf("recovery drain = %s, %v; want sent", out, err)
	}
}

func TestDrainRetiresAlertAfterMaxAttempts(t *testing.T) {
	repo, alertID := newOutbox(t, "")
	n := NewNotifier(repo, repo, &recordingSink{}, Options{MaxAttempts: 2}, discardLogger())
	ctx := context.Background()

	if out, _ := n.Drain(ctx); out != OutcomeNoTarget {
		t.Fatalf("first drain = %s, want no_target", out)
	}
	if out, _ := n.Drain(ctx); out != OutcomeFailedPermanently {
		t.Fatalf("second drain = %s, want failed_permanently", out)
	}
	if out, _ := n.Drain(ctx); out != OutcomeIdle {
		t.Fatalf("third drain = %s, want idle", out)
	}
	if a := getAlert(t, repo, alertID); a.Sent != models.SentFailedPermanently {
		t.Fatalf("sent = %s, want failed-permanently", a.Sent)
	}
}

func TestUndeliverableAlertDoesNotBlockQueue(t *testing.T) {
	repo := newStore(t, &inventory.Inventory{Organizations: []inventory.Organization{
		cpuOrganization(1, ""),
		cpuOrganization(2, "C2"),
	}})
	stuck := enqueueCritical(t, repo, 10)
	deliverable := enqueueCritical(t, repo, 20)
	sink := &recordingSink{}
	n := NewNotifier(repo, repo, sink, Options{}, discardLogger())
	ctx := context.Background()

	var outcomes []Outcome
	for i := 0; i < 3; i++ {
		out, err := n.Drain(ctx)
		if err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
		outcomes = append(outcomes, out)
	}
	if len(sink.sent) != 1 || sink.sent[0] != "C2" {
		t.Fatalf("outcomes = %v, targets = %v; want the machine 2 alert sent", outcomes, sink.sent)
	}
	if a := getAlert(t, repo, deliverable); a.Sent != models.SentDone {
		t.Fatalf("deliverable alert = %s, want sent", a.Sent)
	}
	if a := getAlert(t, repo, stuck); a.Sent != models.SentPending || a.Attempts < 2 {
		t.Fatalf("undeliverable alert = %+v, want pending and retried", a)
	}

	// A fresh alert still goes ahead of the one that keeps failing.
	fresh := enqueueCritical(t, repo, 20)
	if out, err := n.Drain(ctx); err != nil || out != OutcomeSent {
		t.Fatalf("drain after new alert = %s, %v; want sent", out, err)
	}
	if a := getAlert(t, repo, fresh); a.Sent != models.SentDone {
		t.Fatalf("fresh alert = %s, want sent", a.Sent)
	}
}

func TestConcurrentDrainsDeliverOnce(t *testing.T) {
	repo, _ := newOutbox(t, "C123")
	sink := &recordingSink{}

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 6)
	for i := 0; i < 6; i++ {
		n := NewNotifier(repo, repo, sink, Options{}, discardLogger())
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := n.Drain(context.Background())
			if err != nil {
				t.Errorf("drain: %v", err)
			}
			outcomes <- out
		}()
	}
	wg.Wait()
	close(outcomes)

	sent := 0
	for out := range outcomes {
		if out == OutcomeSent {
			sent++
		}
	}
	if sent != 1 || sink.calls() != 1 {
		t.Fatalf("sent outcomes = %d, sink calls = %d; want 1 and 1", sent, sink.calls())
	}
}

func TestDrainReturnsClaimError(t *testing.T) {
	repo, _ := newOutbox(t, "C123")
	_ = repo.DB().Close()
	n := NewNotifier(repo, repo, &recordingSink{}, Options{}, discardLogger())

	if _, err := n.Drain(context.Background()); err == nil {
		t.Fatal("expected claim error on closed store")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOutbox provisions one machine with a CPU component whose Critical band is 95-100 and
// enqueues a single alert for a 97% capture.
func newOutbox(t *testing.T, slackID string) (*db.Repository, int64) {
	t.Helper()
	repo := newStore(t, &inventory.Inventory{Organizations: []inventory.Organization{
		cpuOrganization(1, slackID),
	}})
	return repo, enqueueCritical(t, repo, 10)
}

// cpuOrganization returns organization id with one room and machine id, whose CPU component id*10
// has an Attention band of 80-94 and a Critical band of 95-100.
func cpuOrganization(id int64, slackID string) inventory.Organization {
	capacity := 100.0
	return inventory.Organization{
		ID: id, Name: fmt.Sprintf("school-%d", id), SlackID: slackID,
		Rooms: []inventory.Room{{ID: id, Name: fmt.Sprintf("lab-%d", id), Machines: []inventory.Machine{{
			ID: id, Hostname: fmt.Sprintf("pc%02d", id), IP: "10.0.0.5", Brand: "Dell", OS: "Linux",
			Components: []inventory.Component{{
				ID: id * 10, Kind: "CPU", Formatting: "%", Capacity: &capacity,
				Parameters: []inventory.Parameter{
					{Level: "Attention", Min: 80, Max: 94},
					{Level: "Critical", Min: 95, Max: 100},
				},
			}},
		}}}},
	}
}

func newStore(t *testing.T, inv *inventory.Inventory) *db.Repository {
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
	if err := repo.Provision(context.Background(), inv); err != nil {
		t.Fatalf("provision: %v", err)
	}
	return repo
}

// enqueueCritical stores a 97% capture for componentID and the Critical alert it fires.
func enqueueCritical(t *testing.T, repo *db.Repository, componentID int64) int64 {
	t.Helper()
	ctx := context.Background()
	bands, err := repo.LoadBands(ctx, []int64{componentID})
	if err != nil {
		t.Fatalf("load bands: %v", err)
	}
	var critical int64
	for _, b := range bands {
		if b.Level == models.LevelCritical {
			critical = b.ID
		}
	}
	now := time.Now()
	err = repo.WithTx(ctx, func(tx *sql.Tx) error {
		ids, err := repo.InsertCaptures(ctx, tx, map[int64]float64{componentID: 97}, now)
		if err != nil {
			return err
		}
		return repo.EnqueueAlerts(ctx, tx, []models.PendingAlert{{
			ParameterID: critical, CaptureID: ids[componentID], ComponentID: componentID,
			Level: models.LevelCritical, Message: "CPU usage at 97.0%",
		}}, now)
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	var id int64
	if err := repo.DB().QueryRow(`SELECT MAX(id) FROM alerts`).Scan(&id); err != nil {
		t.Fatalf("alert id: %v", err)
	}
	return id
}

func getAlert(t *testing.T, repo *db.Repository, id int64) models.Alert {
	t.Helper()
	a, err := repo.GetAlert(context.Background(), id)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	return a
}
