package services

import (
	"testing"

	"points-reward-system/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB gives each test an isolated in-memory database. A single
// connection keeps SQLite's writer semantics compatible with concurrent
// test goroutines.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Account{},
		&models.LedgerEntry{},
		&models.Task{},
		&models.CompletionAttempt{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newFixture wires the full service stack over a fresh database.
func newFixture(t *testing.T) (*gorm.DB, *LedgerService, *TaskService, *VerifierService, *WalletService) {
	t.Helper()
	db := openTestDB(t)
	relay := NewRelay()
	ledger := NewLedgerService(db, relay)
	tasks := NewTaskService(db, ledger)
	verifier := NewVerifierService(db, ledger, tasks)
	wallet := NewWalletService(db, ledger, nil)
	return db, ledger, tasks, verifier, wallet
}

// mustAccount creates an account with the given balance on top of the
// signup bonus already seeded by EnsureAccount.
func mustAccount(t *testing.T, ledger *LedgerService, name string, balance int64) *models.Account {
	t.Helper()
	acct, err := ledger.EnsureAccount("ext-"+name, name)
	if err != nil {
		t.Fatalf("ensure account %s: %v", name, err)
	}
	delta := balance - acct.Balance
	if delta != 0 {
		if _, err := ledger.Apply(acct.ID, delta, models.EntryAdminAdd, "seed:"+name, nil); err != nil {
			t.Fatalf("seed balance for %s: %v", name, err)
		}
		acct.Balance = balance
	}
	return acct
}
