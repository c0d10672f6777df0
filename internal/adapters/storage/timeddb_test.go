package storage

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"rollcall/internal/adapters/metrics"
)

func openTimedTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.Exec("CREATE TABLE test (id TEXT PRIMARY KEY, val TEXT)")
	t.Cleanup(func() { db.Close() })
	return db
}

// observed returns how many database calls m has timed.
func observed(t *testing.T, m *metrics.Metrics) uint64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var n uint64
	for _, f := range families {
		if f.GetName() != "rollcall_db_query_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			n += metric.GetHistogram().GetSampleCount()
		}
	}
	return n
}

func newTimed(t *testing.T) (*TimedDB, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewTimedDB(openTimedTestDB(t), m, 0), m
}

// TestTimedDB_RecordsEachCall verifies every wrapped call is observed once.
func TestTimedDB_RecordsEachCall(t *testing.T) {
	tdb, m := newTimed(t)
	ctx := context.Background()

	if _, err := tdb.ExecContext(ctx, "INSERT INTO test (id, val) VALUES (?, ?)", "1", "hello"); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	rows, err := tdb.QueryContext(ctx, "SELECT id, val FROM test")
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	count := 0
	for rows.Next() {
		count++
	}
	rows.Close()
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}

	var val string
	if err := tdb.QueryRowContext(ctx, "SELECT val FROM test WHERE id = ?", "1").Scan(&val); err != nil {
		t.Fatalf("QueryRowContext: %v", err)
	}
	if val != "hello" {
		t.Errorf("val = %q, want hello", val)
	}

	tx, err := tdb.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	tx.Rollback()

	if got := observed(t, m); got != 4 {
		t.Errorf("observed = %d, want 4", got)
	}
}

// TestTimedDB_NilMetrics verifies TimedDB works without instrumentation.
func TestTimedDB_NilMetrics(t *testing.T) {
	tdb := NewTimedDB(openTimedTestDB(t), nil, 0)

	if _, err := tdb.ExecContext(context.Background(), "INSERT INTO test (id, val) VALUES (?, ?)", "1", "hello"); err != nil {
		t.Fatalf("ExecContext with nil metrics: %v", err)
	}
	if tdb.threshold != DefaultSlowQuery {
		t.Errorf("threshold = %v, want %v", tdb.threshold, DefaultSlowQuery)
	}
}

// TestTimedDB_ErrorPassthrough verifies SQL errors are returned unchanged and still timed.
func TestTimedDB_ErrorPassthrough(t *testing.T) {
	tdb, m := newTimed(t)
	ctx := context.Background()

	if _, err := tdb.ExecContext(ctx, "INSERT INTO nonexistent_table VALUES (?)", 1); err == nil {
		t.Fatal("expected error from invalid SQL, got nil")
	}
	if _, err := tdb.QueryContext(ctx, "SELECT * FROM nonexistent_table"); err == nil {
		t.Fatal("expected error from invalid SQL, got nil")
	}
	var val string
	if err := tdb.QueryRowContext(ctx, "SELECT val FROM test WHERE id = ?", "missing").Scan(&val); err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
	if got := observed(t, m); got != 3 {
		t.Errorf("observed = %d, want 3 (must record on error)", got)
	}
}

// TestTimedDB_CancelledContext verifies a cancelled context fails and is still timed.
func TestTimedDB_CancelledContext(t *testing.T) {
	tdb, m := newTimed(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tdb.ExecContext(ctx, "INSERT INTO test (id, val) VALUES (?, ?)", "1", "hello"); err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
	if got := observed(t, m); got != 1 {
		t.Errorf("observed = %d, want 1", got)
	}
}

// TestTimedDB_ResultPassthrough verifies sql.Result values pass through unchanged.
func TestTimedDB_ResultPassthrough(t *testing.T) {
	tdb, _ := newTimed(t)

	result, err := tdb.ExecContext(context.Background(), "INSERT INTO test (id, val) VALUES (?, ?)", "r1", "result")
	if err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		t.Fatalf("RowsAffected: %v", err)
	}
	if rows != 1 {
		t.Errorf("RowsAffected = %d, want 1", rows)
	}
}

// TestTimedDB_RawDB verifies RawDB returns the original *sql.DB.
func TestTimedDB_RawDB(t *testing.T) {
	db := openTimedTestDB(t)
	tdb := NewTimedDB(db, nil, time.Second)

	if tdb.RawDB() != db {
		t.Error("RawDB() should return the original *sql.DB")
	}
}

// TestTimedDB_ConcurrentMixedOps verifies no races or panics under concurrent calls.
func TestTimedDB_ConcurrentMixedOps(t *testing.T) {
	tdb, m := newTimed(t)
	ctx := context.Background()
	tdb.ExecContext(ctx, "INSERT INTO test (id, val) VALUES (?, ?)", "seed", "data")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				switch i {
				case 0:
					tdb.ExecContext(ctx, "INSERT OR REPLACE INTO test (id, val) VALUES (?, ?)", "w", "v")
				case 1:
					if rows, err := tdb.QueryContext(ctx, "SELECT id FROM test LIMIT 1"); err == nil {
						rows.Close()
					}
				default:
					var v string
					tdb.QueryRowContext(ctx, "SELECT val FROM test WHERE id = ?", "seed").Scan(&v)
				}
			}
		}(i)
	}
	wg.Wait()

	if got := observed(t, m); got != 61 {
		t.Errorf("observed = %d, want 61", got)
	}
}

// BenchmarkTimedDB_Overhead compares TimedDB against the raw *sql.DB.
func BenchmarkTimedDB_Overhead(b *testing.B) {
	db, _ := sql.Open("sqlite", ":memory:")
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.Exec("CREATE TABLE bench (id INTEGER PRIMARY KEY, val TEXT)")
	db.Exec("INSERT INTO bench VALUES (1, 'x')")
	ctx := context.Background()

	b.Run("RawDB", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			var v string
			db.QueryRowContext(ctx, "SELECT val FROM bench WHERE id = 1").Scan(&v)
		}
	})

	tdb := NewTimedDB(db, metrics.New(prometheus.NewRegistry()), 0)
	b.Run("TimedDB", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			var v string
			tdb.QueryRowContext(ctx, "SELECT val FROM bench WHERE id = 1").Scan(&v)
		}
	})
}
