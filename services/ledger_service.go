package services

import (
	"errors"

	"points-reward-system/models"
	"points-reward-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultSignupBonus seeds every newly created account.
const DefaultSignupBonus = 100

// LedgerService is the single writer of Account.Balance and LedgerEntry.
// Every mutation runs inside one transaction that inserts the entry and
// updates the balance together; partial application is never observable.
type LedgerService struct {
	DB          *gorm.DB
	Relay       *Relay
	SignupBonus int64
}

func NewLedgerService(db *gorm.DB, relay *Relay) *LedgerService {
	return &LedgerService{DB: db, Relay: relay, SignupBonus: DefaultSignupBonus}
}

// lockForUpdate takes the account row lock that serializes balance writes.
// SQLite (tests) has no FOR UPDATE; its single writer serializes instead.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// entryResult carries the outcome of one applied entry out of the
// transaction so the relay can be notified after commit, never inside it.
type entryResult struct {
	Entry      models.LedgerEntry
	NewBalance int64
	Duplicate  bool
}

// applyTx applies one ledger entry inside the caller's transaction.
// The account row is locked FOR UPDATE for the duration, so all balance
// writes for one account serialize regardless of which service drives them.
//
// A duplicate idempotency key is a success-equivalent no-op: the existing
// resulting balance is returned and nothing is written.
func (s *LedgerService) applyTx(tx *gorm.DB, accountID string, amount int64, kind models.EntryKind, idemKey string, taskID, counterpartyID *string) (*entryResult, error) {
	var acct models.Account
	if err := lockForUpdate(tx).
		First(&acct, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownAccount
		}
		return nil, err
	}

	var existing models.LedgerEntry
	err := tx.Where("account_id = ? AND kind = ? AND idempotency_key = ?", accountID, kind, idemKey).
		First(&existing).Error
	if err == nil {
		return &entryResult{Entry: existing, NewBalance: acct.Balance, Duplicate: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	newBalance := acct.Balance + amount
	if newBalance < 0 {
		return nil, ErrInsufficientFunds
	}

	entry := models.LedgerEntry{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Amount:         amount,
		Kind:           kind,
		IdempotencyKey: idemKey,
		BalanceAfter:   newBalance,
		TaskID:         taskID,
		CounterpartyID: counterpartyID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		// Backstop for cross-account interleavings the row lock can't cover.
		if isUniqueViolation(err) {
			return &entryResult{Entry: entry, NewBalance: acct.Balance, Duplicate: true}, nil
		}
		return nil, err
	}

	if err := tx.Model(&models.Account{}).Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance": newBalance,
			"version": acct.Version + 1,
		}).Error; err != nil {
		return nil, err
	}

	return &entryResult{Entry: entry, NewBalance: newBalance}, nil
}

// notify pushes balance-changed events to the relay. Called strictly after
// commit so a slow subscriber can never block or abort a financial operation.
func (s *LedgerService) notify(results ...*entryResult) {
	if s.Relay == nil {
		return
	}
	for _, r := range results {
		if r == nil || r.Duplicate {
			continue
		}
		s.Relay.Publish(BalanceEvent{
			AccountID: r.Entry.AccountID,
			Balance:   r.NewBalance,
			Kind:      r.Entry.Kind,
		})
	}
}

// Apply commits a single entry in its own transaction and notifies the relay.
func (s *LedgerService) Apply(accountID string, amount int64, kind models.EntryKind, idemKey string, taskID *string) (int64, error) {
	var res *entryResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var txErr error
		res, txErr = s.applyTx(tx, accountID, amount, kind, idemKey, taskID, nil)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	s.notify(res)
	return res.NewBalance, nil
}

// Balance reflects the latest committed entry for the account.
func (s *LedgerService) Balance(accountID string) (int64, error) {
	var acct models.Account
	if err := s.DB.First(&acct, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnknownAccount
		}
		return 0, err
	}
	return acct.Balance, nil
}

// History returns the newest entries first, for the wallet history view.
func (s *LedgerService) History(accountID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := s.DB.Where("account_id = ?", accountID).
		Order("created_at DESC").Limit(limit).
		Find(&entries).Error
	return entries, err
}

// SumEntries recomputes the balance from the append-only log. Used by the
// reconciliation sweep and the invariant tests; must always equal Balance.
func (s *LedgerService) SumEntries(accountID string) (int64, error) {
	var sum int64
	err := s.DB.Model(&models.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error
	return sum, err
}

// EnsureAccount returns the account for a gateway identity, creating it with
// the signup bonus on first touch. Idempotent under concurrent first requests.
func (s *LedgerService) EnsureAccount(externalUserID, username string) (*models.Account, error) {
	var acct models.Account
	err := s.DB.Where("external_user_id = ?", externalUserID).First(&acct).Error
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	acct = models.Account{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Username:       username,
	}
	var res *entryResult
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&acct).Error; err != nil {
			return err
		}
		var txErr error
		res, txErr = s.applyTx(tx, acct.ID, s.SignupBonus, models.EntrySignupBonus, "signup:"+externalUserID, nil, nil)
		return txErr
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the creation race; the winner's row is authoritative.
			if err2 := s.DB.Where("external_user_id = ?", externalUserID).First(&acct).Error; err2 == nil {
				return &acct, nil
			}
		}
		return nil, err
	}
	s.notify(res)
	acct.Balance = res.NewBalance
	utils.Sugar.Infow("account created", "account_id", acct.ID, "username", username, "signup_bonus", s.SignupBonus)
	return &acct, nil
}

// AccountByUsername resolves transfer recipients and admin adjustments.
func (s *LedgerService) AccountByUsername(username string) (*models.Account, error) {
	var acct models.Account
	if err := s.DB.Where("username = ?", username).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownRecipient
		}
		return nil, err
	}
	return &acct, nil
}

// Disable soft-disables an account; ledger history stays queryable.
func (s *LedgerService) Disable(accountID string) error {
	return s.DB.Model(&models.Account{}).Where("id = ?", accountID).
		Update("disabled", true).Error
}
