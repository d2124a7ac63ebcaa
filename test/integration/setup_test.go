//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/domain/directory"
	"github.com/clinicdesk/clinic/internal/domain/sequence"
	"github.com/clinicdesk/clinic/internal/platform/clock"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

// connStr points at the shared server; each test gets its own schema on it.
var connStr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	cleanup := func() {}
	connStr = os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
			os.Exit(1)
		}
	}

	code := m.Run()
	cleanup()
	os.Exit(code)
}

// findMigrationsDir locates the migrations directory relative to this test file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// uniqueSchema generates a schema name for test isolation.
func uniqueSchema(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("test_%s_%s", prefix, short)
}

// newSchemaPool creates a fresh schema, migrates it, and returns a pool whose
// connections resolve unqualified names there. The schema is dropped when the
// test ends.
func newSchemaPool(t *testing.T, prefix string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := uniqueSchema(prefix)

	admin, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	if _, err := db.NewMigrator(pool, findMigrationsDir()).Up(ctx); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	return pool
}

// env bundles the shared collaborators every domain service needs.
type env struct {
	pool   *pgxpool.Pool
	tx     *db.Transactor
	clock  *clock.Fixed
	minter *sequence.Minter
	dir    *directory.Service
}

var testNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, prefix string) *env {
	t.Helper()
	pool := newSchemaPool(t, prefix)
	clk := clock.NewFixed(testNow)
	minter := sequence.NewMinter(sequence.NewPGGenerator(pool), clk, sequence.SchemeYearly)
	tx := db.NewTransactor(pool)
	return &env{
		pool:   pool,
		tx:     tx,
		clock:  clk,
		minter: minter,
		dir:    directory.NewService(directory.NewRepoPG(pool), tx, minter, clk, zerolog.Nop()),
	}
}

func (e *env) patient(t *testing.T) *directory.Patient {
	t.Helper()
	p, err := e.dir.RegisterPatient(context.Background(), directory.PatientInput{Name: "Test Patient"})
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	return p
}

func (e *env) doctor(t *testing.T) *directory.Doctor {
	t.Helper()
	d, err := e.dir.RegisterDoctor(context.Background(), directory.DoctorInput{UserID: uuid.New(), Name: "Dr. Test"})
	if err != nil {
		t.Fatalf("register doctor: %v", err)
	}
	return d
}

func ptrStr(s string) *string { return &s }
