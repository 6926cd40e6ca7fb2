package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"medisched/backend/internal/domain"
	"medisched/backend/internal/store"
)

func TestPostgresIntegration_BookingLifecycle(t *testing.T) {
	db := setupIntegrationDB(t, 2)
	repo := NewAppointmentRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	providerID := seedProviderAndUser(ctx, t, db, "u1")

	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	tenAM := day.Add(10 * time.Hour)

	number, err := repo.NextAppointmentNumber(ctx, day)
	if err != nil {
		t.Fatalf("NextAppointmentNumber error: %v", err)
	}
	if number != "APT-20260105-0001" {
		t.Fatalf("number = %q, want APT-20260105-0001 on an empty day", number)
	}

	first, err := repo.CreateBooked(ctx, bookedAppointment(providerID, "u1", number, tenAM, tenAM.Add(time.Hour)))
	if err != nil {
		t.Fatalf("CreateBooked error: %v", err)
	}
	if first.ID == uuid.Nil {
		t.Fatalf("created appointment has nil id")
	}

	// Overlapping window loses, regardless of the number.
	_, err = repo.CreateBooked(ctx, bookedAppointment(providerID, "u1", "APT-20260105-0002", tenAM.Add(30*time.Minute), tenAM.Add(90*time.Minute)))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("overlap err = %v, want store.ErrConflict", err)
	}

	// Touching windows share a boundary instant and both stand.
	second, err := repo.CreateBooked(ctx, bookedAppointment(providerID, "u1", "APT-20260105-0002", tenAM.Add(time.Hour), tenAM.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("touching window err = %v, want nil", err)
	}

	// A free window with a taken number trips the unique index, not the
	// exclusion constraint.
	_, err = repo.CreateBooked(ctx, bookedAppointment(providerID, "u1", number, tenAM.Add(3*time.Hour), tenAM.Add(4*time.Hour)))
	if !errors.Is(err, store.ErrNumberTaken) {
		t.Fatalf("duplicate number err = %v, want store.ErrNumberTaken", err)
	}

	// Compare-and-set status updates.
	updated, err := repo.UpdateStatus(ctx, first.ID, domain.StatusScheduled, domain.StatusConfirmed)
	if err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	if updated.Status != domain.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", updated.Status)
	}
	_, err = repo.UpdateStatus(ctx, first.ID, domain.StatusScheduled, domain.StatusCompleted)
	if !errors.Is(err, store.ErrStaleStatus) {
		t.Fatalf("stale update err = %v, want store.ErrStaleStatus", err)
	}

	// Cancelling releases the window for a fresh booking.
	if _, err := repo.UpdateStatus(ctx, first.ID, domain.StatusConfirmed, domain.StatusCancelled); err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	rebooked, err := repo.CreateBooked(ctx, bookedAppointment(providerID, "u1", "APT-20260105-0003", tenAM, tenAM.Add(time.Hour)))
	if err != nil {
		t.Fatalf("rebooking a cancelled window err = %v, want nil", err)
	}

	// Reschedule honors the same conflict discipline and ignores the
	// appointment's own window.
	_, err = repo.Reschedule(ctx, providerID, second.ID, tenAM.Add(30*time.Minute), tenAM.Add(90*time.Minute))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("conflicting reschedule err = %v, want store.ErrConflict", err)
	}
	moved, err := repo.Reschedule(ctx, providerID, second.ID, tenAM.Add(5*time.Hour), tenAM.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if !moved.StartTime.Equal(tenAM.Add(5 * time.Hour)) {
		t.Fatalf("moved start = %v, want %v", moved.StartTime, tenAM.Add(5*time.Hour))
	}

	// Cancelled rows never count as booked windows.
	windows, err := repo.ListBookedWindows(ctx, providerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListBookedWindows error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("booked windows = %d, want 2", len(windows))
	}
	if !windows[0].Start.Equal(rebooked.StartTime) {
		t.Fatalf("windows not ordered by start: first = %v", windows[0].Start)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetByID unknown err = %v, want store.ErrNotFound", err)
	}

	// Three rows persisted on the day, cancelled included.
	if n, err := repo.NextAppointmentNumber(ctx, day); err != nil || n != "APT-20260105-0004" {
		t.Fatalf("NextAppointmentNumber = %q, %v; want APT-20260105-0004", n, err)
	}
}

// TestPostgresIntegration_ConcurrentBookingSameSlot races several bookings for
// the identical window through real transactions. The advisory lock plus the
// in-transaction conflict check must let exactly one through.
func TestPostgresIntegration_ConcurrentBookingSameSlot(t *testing.T) {
	const rivals = 4

	db := setupIntegrationDB(t, rivals)
	repo := NewAppointmentRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	providerID := seedProviderAndUser(ctx, t, db, "u1")
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	errs := make(chan error, rivals)
	var wg sync.WaitGroup
	for i := 0; i < rivals; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			number := fmt.Sprintf("APT-20260105-%04d", i+1)
			_, err := repo.CreateBooked(ctx, bookedAppointment(providerID, "u1", number, start, start.Add(time.Hour)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var successes, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected booking error: %v", err)
		}
	}
	if successes != 1 || conflicts != rivals-1 {
		t.Fatalf("successes = %d, conflicts = %d, want 1 and %d", successes, conflicts, rivals-1)
	}

	windows, err := repo.ListBookedWindows(ctx, providerID, start.Add(-time.Hour), start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListBookedWindows error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("persisted windows = %d, want 1", len(windows))
	}
}

func bookedAppointment(providerID uuid.UUID, userID, number string, start, end time.Time) domain.Appointment {
	return domain.Appointment{
		ProviderID: providerID,
		UserID:     userID,
		Number:     number,
		StartTime:  start,
		EndTime:    end,
		Status:     domain.StatusScheduled,
		PatientIntake: domain.PatientIntake{
			PatientName: "Ada Example",
			PatientAge:  34,
		},
	}
}

func seedProviderAndUser(ctx context.Context, t *testing.T, db *bun.DB, userID string) uuid.UUID {
	t.Helper()

	provider := domain.Provider{
		DisplayName: "Dr. Example",
		Active:      true,
	}
	if _, err := db.NewInsert().Model(&provider).Exec(ctx); err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	user := User{ID: userID, Name: "Ada Example", CreatedAt: time.Now().UTC()}
	if _, err := db.NewInsert().Model(&user).Exec(ctx); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return provider.ID
}

// setupIntegrationDB opens the database named by MEDISCHED_TEST_DATABASE_URL,
// creates a throwaway schema, runs the migrations into it, and returns a pool
// whose search_path pins every connection to that schema.
func setupIntegrationDB(t *testing.T, maxConns int) *bun.DB {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("MEDISCHED_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("MEDISCHED_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	schema := "medisched_test_" + randomHex(t, 8)
	if _, err := admin.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		_ = Close(admin)
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dcancel()
		_, _ = admin.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(dctx)
		_ = Close(admin)
	})

	scoped, err := url.Parse(databaseURL)
	if err != nil {
		t.Fatalf("parse database url: %v", err)
	}
	q := scoped.Query()
	q.Set("search_path", schema+",public")
	scoped.RawQuery = q.Encode()

	db, err := Open(scoped.String(), PoolConfig{MaxOpenConns: maxConns})
	if err != nil {
		t.Fatalf("Open scoped error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	return db
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

// normalizeExtensionStatement pins the btree_gist extension to the public
// schema so a search_path scoped to the test schema still resolves its
// operator classes.
func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
