package services

import (
	"sort"
	"time"

	"points-reward-system/models"
	"points-reward-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultDailyLoginBonus is credited once per calendar day on claim.
	DefaultDailyLoginBonus = 5

	// DefaultLeaderboardWinners is how many top accounts an admin
	// leaderboard reward pays out to.
	DefaultLeaderboardWinners = 3
)

// PayoutHandler hands redeemed points off to the external payout system.
// The ledger debit commits before the handoff and is never rolled back by a
// payout failure; failed payouts are reconciled out-of-band.
type PayoutHandler interface {
	Payout(accountID string, amount int64) error
}

// WalletService wraps the ledger with the domain rules for money-out and
// peer-to-peer movement: amount floors, self-transfer prohibition, admin
// adjustments and the recurring bonuses.
type WalletService struct {
	DB         *gorm.DB
	Ledger     *LedgerService
	Payouts    PayoutHandler
	DailyBonus int64
}

func NewWalletService(db *gorm.DB, ledger *LedgerService, payouts PayoutHandler) *WalletService {
	return &WalletService{DB: db, Ledger: ledger, Payouts: payouts, DailyBonus: DefaultDailyLoginBonus}
}

// Wallet is the {balance, history} view the wallet page renders.
func (s *WalletService) Wallet(accountID string) (int64, []models.LedgerEntry, error) {
	balance, err := s.Ledger.Balance(accountID)
	if err != nil {
		return 0, nil, err
	}
	history, err := s.Ledger.History(accountID, 50)
	if err != nil {
		return 0, nil, err
	}
	return balance, history, nil
}

// Redeem debits the points and hands off to the payout collaborator. The
// debit is authoritative once committed, whatever the payout system does.
func (s *WalletService) Redeem(accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	newBalance, err := s.Ledger.Apply(accountID, -amount, models.EntryRedeem, uuid.NewString(), nil)
	if err != nil {
		return 0, err
	}

	if s.Payouts != nil {
		go func() {
			if err := s.Payouts.Payout(accountID, amount); err != nil {
				// Reconciled out-of-band; the debit stands.
				utils.Sugar.Errorw("payout handoff failed", "account_id", accountID, "amount", amount, "err", err)
			}
		}()
	}
	return newBalance, nil
}

// Transfer moves points between two accounts as one transaction: the
// transfer_out debit and transfer_in credit are paired under one transfer id
// and either both commit or neither does. Account rows are locked in
// canonical id order so two crossing transfers cannot deadlock.
func (s *WalletService) Transfer(fromID, recipientUsername string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	recipient, err := s.Ledger.AccountByUsername(recipientUsername)
	if err != nil {
		return 0, err
	}
	if recipient.ID == fromID {
		return 0, ErrSelfTransfer
	}

	transferID := uuid.NewString()
	type leg struct {
		accountID    string
		amount       int64
		kind         models.EntryKind
		counterparty string
	}
	legs := []leg{
		{fromID, -amount, models.EntryTransferOut, recipient.ID},
		{recipient.ID, amount, models.EntryTransferIn, fromID},
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].accountID < legs[j].accountID })

	var results []*entryResult
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		results = results[:0]
		for _, l := range legs {
			cp := l.counterparty
			res, txErr := s.Ledger.applyTx(tx, l.accountID, l.amount, l.kind, transferID, nil, &cp)
			if txErr != nil {
				return txErr
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.Ledger.notify(results...)

	utils.Sugar.Infow("transfer", "from", fromID, "to", recipient.ID, "amount", amount, "transfer_id", transferID)
	return s.Ledger.Balance(fromID)
}

// AdminAdjust credits or debits an account by username. Privileged: no floor
// beyond the global non-negative invariant enforced by the ledger.
func (s *WalletService) AdminAdjust(username string, amount int64, kind models.EntryKind) (int64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	acct, err := s.Ledger.AccountByUsername(username)
	if err != nil {
		return 0, err
	}
	return s.Ledger.Apply(acct.ID, amount, kind, uuid.NewString(), nil)
}

// RewardLeaderboard credits the current top accounts by balance.
func (s *WalletService) RewardLeaderboard(amount int64, winners int) ([]models.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if winners <= 0 {
		winners = DefaultLeaderboardWinners
	}
	top, err := s.Leaderboard(winners)
	if err != nil {
		return nil, err
	}
	for i := range top {
		if _, err := s.Ledger.Apply(top[i].ID, amount, models.EntryLeaderboardReward, uuid.NewString(), nil); err != nil {
			return nil, err
		}
	}
	return top, nil
}

// Leaderboard lists the highest balances, for the public leaderboard page.
func (s *WalletService) Leaderboard(limit int) ([]models.Account, error) {
	if limit <= 0 {
		limit = 10
	}
	var accounts []models.Account
	err := s.DB.Where("disabled = ?", false).
		Order("balance DESC").Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// ClaimDailyLogin credits the daily bonus once per calendar day. The
// idempotency key carries the date, so a racing double-claim collapses into
// one entry at the ledger.
func (s *WalletService) ClaimDailyLogin(accountID string) (int64, error) {
	var acct models.Account
	if err := s.DB.First(&acct, "id = ?", accountID).Error; err != nil {
		return 0, ErrUnknownAccount
	}
	today := time.Now().Format("2006-01-02")
	if acct.LastDailyClaim != nil && acct.LastDailyClaim.Format("2006-01-02") == today {
		return 0, ErrAlreadyClaimed
	}

	newBalance, err := s.Ledger.Apply(accountID, s.DailyBonus, models.EntryDailyLogin, "daily:"+today, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	if err := s.DB.Model(&models.Account{}).Where("id = ?", accountID).
		Update("last_daily_claim", now).Error; err != nil {
		return 0, err
	}
	return newBalance, nil
}
