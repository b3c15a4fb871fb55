package accounts

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
)

// Rotation strategy names. The active strategy is read from the
// key/value store on every acquire so operators can switch at runtime.
const (
	StrategyFirstAvailable = "first_available"
	StrategyRoundRobin     = "round_robin"
	StrategyRandom         = "random"
	StrategyLRU            = "lru"

	strategyKey = "rotation_strategy"
)

// Pool coordinates account selection and hand-off. It owns no account
// state itself: availability and the in-use flag live in storage, and
// the atomic claim is delegated to the storage layer's claim lock.
type Pool struct {
	storage  interfaces.AccountStorage
	kv       interfaces.KeyValueStorage
	config   *common.AccountsConfig
	logger   arbor.ILogger
	mu       sync.Mutex
	rrCursor int
}

// NewPool creates an account pool over the given storage
func NewPool(storage interfaces.AccountStorage, kv interfaces.KeyValueStorage, config *common.AccountsConfig, logger arbor.ILogger) *Pool {
	return &Pool{
		storage: storage,
		kv:      kv,
		config:  config,
		logger:  logger,
	}
}

// AvailableCount returns how many accounts pass the availability
// predicate right now. The scheduler uses this to size its dispatch round.
func (p *Pool) AvailableCount(ctx context.Context, now time.Time) (int, error) {
	available, err := p.storage.AvailableAccounts(ctx, now)
	if err != nil {
		return 0, err
	}
	return len(available), nil
}

// Acquire selects an account per the active rotation strategy and claims
// it. Selection and claim are separate steps, so a candidate lost to a
// concurrent claim is skipped and the next one is tried. Returns
// (nil, false, nil) when no account could be claimed; that is the normal
// pool-exhausted answer, not an error.
func (p *Pool) Acquire(ctx context.Context, now time.Time) (*models.Account, bool, error) {
	available, err := p.storage.AvailableAccounts(ctx, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list available accounts: %w", err)
	}
	if len(available) == 0 {
		return nil, false, nil
	}

	ordered := p.order(ctx, available)
	for _, candidate := range ordered {
		claimed, err := p.storage.ClaimAccount(ctx, candidate.ID, now)
		if err != nil {
			return nil, false, fmt.Errorf("claim failed for %s: %w", candidate.ID, err)
		}
		if claimed {
			p.logger.Debug().
				Str("account_id", candidate.ID).
				Str("strategy", p.activeStrategy(ctx)).
				Msg("Account acquired from pool")
			return candidate, true, nil
		}
	}
	return nil, false, nil
}

// order arranges the candidates per the active strategy.
func (p *Pool) order(ctx context.Context, available []*models.Account) []*models.Account {
	strategy := p.activeStrategy(ctx)

	ordered := make([]*models.Account, len(available))
	copy(ordered, available)

	switch strategy {
	case StrategyRoundRobin:
		p.mu.Lock()
		offset := p.rrCursor % len(ordered)
		p.rrCursor++
		p.mu.Unlock()
		rotated := make([]*models.Account, 0, len(ordered))
		rotated = append(rotated, ordered[offset:]...)
		rotated = append(rotated, ordered[:offset]...)
		return rotated

	case StrategyRandom:
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
		return ordered

	case StrategyLRU:
		// Never-used accounts sort first, then oldest use first
		for i := 1; i < len(ordered); i++ {
			for j := i; j > 0 && lessRecentlyUsed(ordered[j], ordered[j-1]); j-- {
				ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
			}
		}
		return ordered

	default:
		// first_available: storage order (creation time)
		return ordered
	}
}

func lessRecentlyUsed(a, b *models.Account) bool {
	if a.LastUsedAt == nil {
		return b.LastUsedAt != nil
	}
	if b.LastUsedAt == nil {
		return false
	}
	return a.LastUsedAt.Before(*b.LastUsedAt)
}

// activeStrategy reads the runtime strategy override, falling back to the
// configured default, then to first-available.
func (p *Pool) activeStrategy(ctx context.Context) string {
	if p.kv != nil {
		if value, err := p.kv.Get(ctx, strategyKey); err == nil && value != "" {
			return value
		}
	}
	if p.config != nil && p.config.RotationStrategy != "" {
		return p.config.RotationStrategy
	}
	return StrategyFirstAvailable
}

// SetStrategy persists a runtime strategy override.
func (p *Pool) SetStrategy(ctx context.Context, strategy string) error {
	switch strategy {
	case StrategyFirstAvailable, StrategyRoundRobin, StrategyRandom, StrategyLRU:
	default:
		return fmt.Errorf("unknown rotation strategy: %s", strategy)
	}
	return p.kv.Set(ctx, strategyKey, strategy)
}

// Release returns an account to the pool and records the task outcome in
// its usage counters. Safe to call from deferred cleanup on every worker
// exit path.
func (p *Pool) Release(ctx context.Context, accountID string, success bool, failureMsg string) error {
	account, err := p.storage.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	account.UsageTotal++
	if success {
		account.UsageSuccess++
		account.LastError = ""
	} else {
		account.UsageFailure++
		if failureMsg != "" {
			account.LastError = failureMsg
		}
	}
	if err := p.storage.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to record usage for %s: %w", accountID, err)
	}

	return p.storage.ReleaseAccount(ctx, accountID)
}

// Cooldown parks the account for the configured cooldown window. Applied
// when the upstream surface signals throttling.
func (p *Pool) Cooldown(ctx context.Context, accountID string, now time.Time) (time.Time, error) {
	account, err := p.storage.GetAccount(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}

	until := now.Add(p.config.RateLimitCooldownDuration())
	account.RateLimitedUntil = &until
	if err := p.storage.SaveAccount(ctx, account); err != nil {
		return time.Time{}, fmt.Errorf("failed to apply cooldown to %s: %w", accountID, err)
	}

	p.logger.Warn().
		Str("account_id", accountID).
		Str("until", until.Format(time.RFC3339)).
		Msg("Account placed on rate-limit cooldown")

	return until, nil
}

// SweepExpiredCooldowns clears cooldown deadlines that have passed.
// Availability already treats expired deadlines as available; the sweep
// keeps the stored records tidy for operators.
func (p *Pool) SweepExpiredCooldowns(ctx context.Context, now time.Time) (int, error) {
	all, err := p.storage.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, account := range all {
		if account.RateLimitedUntil == nil || now.Before(*account.RateLimitedUntil) {
			continue
		}
		account.RateLimitedUntil = nil
		if err := p.storage.SaveAccount(ctx, account); err != nil {
			p.logger.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to clear expired cooldown")
			continue
		}
		cleared++
	}
	return cleared, nil
}

// ResetAll force-releases every account. Idempotent operator action.
func (p *Pool) ResetAll(ctx context.Context) (int, error) {
	return p.storage.ResetAllAccounts(ctx)
}
