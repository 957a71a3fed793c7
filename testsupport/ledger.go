package testsupport

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/tnqbao/gau-lipsync-orchestrator/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Clock is a manual clock. Every Now call moves it forward by Step so consecutive
// ledger mutations get strictly increasing timestamps.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewClock() *Clock {
	return &Clock{
		now:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Step: time.Millisecond,
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.Step)
	return now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// OpenDB opens a migrated SQLite database in the test's temp dir. The pool holds a single
// connection, so concurrent conditional updates serialize the way row locks make them on Postgres.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// OpenLedger returns a job repository on a fresh database, stamped by the given clock.
func OpenLedger(t testing.TB, clock *Clock) *repository.JobRepository {
	t.Helper()
	return repository.NewJobRepository(OpenDB(t)).WithClock(clock.Now)
}
