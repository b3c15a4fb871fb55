package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AccountStorage implements the AccountStorage interface for Badger.
//
// BadgerHold has no compare-and-swap, so the claim step (availability
// check + in-use write) is serialized through claimMu. Within one
// process that makes claim/release a single atomic operation, which is
// the invariant the pool depends on.
type AccountStorage struct {
	db      *BadgerDB
	logger  arbor.ILogger
	claimMu sync.Mutex
}

// NewAccountStorage creates a new AccountStorage instance
func NewAccountStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AccountStorage {
	return &AccountStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AccountStorage) SaveAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		return fmt.Errorf("account ID is required")
	}
	if err := s.db.Store().Upsert(account.ID, account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *AccountStorage) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	if err := s.db.Store().Get(accountID, &account); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("account not found: %s", accountID)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (s *AccountStorage) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []models.Account
	if err := s.db.Store().Find(&accounts, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	result := make([]*models.Account, len(accounts))
	for i := range accounts {
		result[i] = &accounts[i]
	}
	return result, nil
}

// AvailableAccounts returns accounts passing the availability predicate:
// active, not in use, cooldown elapsed. An account whose cooldown expires
// exactly at the given instant counts as available.
func (s *AccountStorage) AvailableAccounts(ctx context.Context, now time.Time) ([]*models.Account, error) {
	var accounts []models.Account
	query := badgerhold.Where("IsActive").Eq(true).And("InUse").Eq(false)
	if err := s.db.Store().Find(&accounts, query); err != nil {
		return nil, fmt.Errorf("failed to query available accounts: %w", err)
	}

	result := make([]*models.Account, 0, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		if a.RateLimitedUntil != nil && now.Before(*a.RateLimitedUntil) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

// ClaimAccount atomically marks the account in-use when it is available.
// The read-check-write sequence holds claimMu for its full duration so
// concurrent scheduler rounds cannot double-book an account.
func (s *AccountStorage) ClaimAccount(ctx context.Context, accountID string, now time.Time) (bool, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var account models.Account
	if err := s.db.Store().Get(accountID, &account); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, fmt.Errorf("account not found: %s", accountID)
		}
		return false, fmt.Errorf("failed to get account: %w", err)
	}

	if !account.AvailableAt(now) {
		return false, nil
	}

	account.InUse = true
	account.LastUsedAt = &now
	if err := s.db.Store().Upsert(account.ID, &account); err != nil {
		return false, fmt.Errorf("failed to claim account: %w", err)
	}

	s.logger.Debug().Str("account_id", accountID).Msg("Account claimed")
	return true, nil
}

// ReleaseAccount clears the in-use flag. Idempotent: releasing an
// already-free account is a no-op.
func (s *AccountStorage) ReleaseAccount(ctx context.Context, accountID string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var account models.Account
	if err := s.db.Store().Get(accountID, &account); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to get account: %w", err)
	}

	if !account.InUse {
		return nil
	}

	account.InUse = false
	if err := s.db.Store().Upsert(account.ID, &account); err != nil {
		return fmt.Errorf("failed to release account: %w", err)
	}

	s.logger.Debug().Str("account_id", accountID).Msg("Account released")
	return nil
}

// ResetAllAccounts forces every account back to active/not-in-use with no
// cooldown. Idempotent operational escape hatch for stuck state.
func (s *AccountStorage) ResetAllAccounts(ctx context.Context) (int, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, account := range accounts {
		if account.IsActive && !account.InUse && account.RateLimitedUntil == nil {
			continue
		}
		account.IsActive = true
		account.InUse = false
		account.RateLimitedUntil = nil
		if err := s.db.Store().Upsert(account.ID, account); err != nil {
			s.logger.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to reset account")
			continue
		}
		count++
	}

	s.logger.Info().Int("reset_count", count).Msg("Account pool reset")
	return count, nil
}
