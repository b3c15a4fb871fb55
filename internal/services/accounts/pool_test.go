package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/models"
)

// mockAccountStorage is an in-memory AccountStorage with the same claim
// atomicity guarantee as the badger implementation.
type mockAccountStorage struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	order    []string
}

func newMockAccountStorage() *mockAccountStorage {
	return &mockAccountStorage{accounts: make(map[string]*models.Account)}
}

func (m *mockAccountStorage) SaveAccount(ctx context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[account.ID]; !exists {
		m.order = append(m.order, account.ID)
	}
	copied := *account
	m.accounts[account.ID] = &copied
	return nil
}

func (m *mockAccountStorage) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, assert.AnError
	}
	copied := *account
	return &copied, nil
}

func (m *mockAccountStorage) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.Account, 0, len(m.order))
	for _, id := range m.order {
		copied := *m.accounts[id]
		result = append(result, &copied)
	}
	return result, nil
}

func (m *mockAccountStorage) AvailableAccounts(ctx context.Context, now time.Time) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.Account, 0)
	for _, id := range m.order {
		account := m.accounts[id]
		if account.AvailableAt(now) {
			copied := *account
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockAccountStorage) ClaimAccount(ctx context.Context, accountID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return false, assert.AnError
	}
	if !account.AvailableAt(now) {
		return false, nil
	}
	account.InUse = true
	account.LastUsedAt = &now
	return true, nil
}

func (m *mockAccountStorage) ReleaseAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[accountID]; ok {
		account.InUse = false
	}
	return nil
}

func (m *mockAccountStorage) ResetAllAccounts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, account := range m.accounts {
		if account.IsActive && !account.InUse && account.RateLimitedUntil == nil {
			continue
		}
		account.IsActive = true
		account.InUse = false
		account.RateLimitedUntil = nil
		count++
	}
	return count, nil
}

type mockKV struct {
	mu     sync.Mutex
	values map[string]string
}

func newMockKV() *mockKV {
	return &mockKV{values: make(map[string]string)}
}

func (m *mockKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *mockKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mockKV) GetBool(ctx context.Context, key string, fallback bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.values[key] {
	case "true":
		return true
	case "false":
		return false
	}
	return fallback
}

func newTestPool(t *testing.T) (*Pool, *mockAccountStorage, *mockKV) {
	t.Helper()
	storage := newMockAccountStorage()
	kv := newMockKV()
	config := &common.AccountsConfig{
		RateLimitCooldown: "1h",
		RotationStrategy:  StrategyFirstAvailable,
	}
	pool := NewPool(storage, kv, config, arbor.NewLogger())
	return pool, storage, kv
}

func seedAccounts(t *testing.T, storage *mockAccountStorage, ids ...string) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i, id := range ids {
		err := storage.SaveAccount(context.Background(), &models.Account{
			ID:        id,
			Email:     id + "@example.com",
			IsActive:  true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestAcquireFirstAvailable(t *testing.T) {
	pool, storage, _ := newTestPool(t)
	seedAccounts(t, storage, "acc-1", "acc-2", "acc-3")
	ctx := context.Background()
	now := time.Now()

	account, ok, err := pool.Acquire(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "acc-1", account.ID)

	// acc-1 is now held; the next acquire moves on
	account, ok, err = pool.Acquire(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "acc-2", account.ID)
}

func TestAcquireExhaustedPool(t *testing.T) {
	pool, storage, _ := newTestPool(t)
	seedAccounts(t, storage, "acc-1")
	ctx := context.Background()
	now := time.Now()

	_, ok, err := pool.Acquire(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)

	// Exhaustion is a normal answer, not an error
	account, ok, err := pool.Acquire(ctx, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, account)
}

func TestAcquireRoundRobinRotates(t *testing.T) {
	pool, storage, kv := newTestPool(t)
	seedAccounts(t, storage, "acc-1", "acc-2", "acc-3")
	ctx := context.Background()
	require.NoError(t, pool.SetStrategy(ctx, StrategyRoundRobin))
	require.Equal(t, StrategyRoundRobin, kv.values[strategyKey])

	now := time.Now()
	first, ok, err := pool.Acquire(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, pool.Release(ctx, first.ID, true, ""))

	second, ok, err := pool.Acquire(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first.ID, second.ID, "round robin must not hand the same account twice in a row")
}

func TestAcquireLRUPrefersColdest(t *testing.T) {
	pool, storage, _ := newTestPool(t)
	seedAccounts(t, storage, "acc-1", "acc-2", "acc-3")
	ctx := context.Background()
	require.NoError(t, pool.SetStrategy(ctx, StrategyLRU))

	// Stamp usage so acc-2 is coldest among used, acc-3 never used
	old := time.Now().Add(-2 * time.Hour)
	older := time.Now().Add(-4 * time.Hour)
	a1, _ := storage.GetAccount(ctx, "acc-1")
	a1.LastUsedAt = &old
	require.NoError(t, storage.SaveAccount(ctx, a1))
	a2, _ := storage.GetAccount(ctx, "acc-2")
	a2.LastUsedAt = &older
	require.NoError(t, storage.SaveAccount(ctx, a2))

	account, ok, err := pool.Acquire(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "acc-3", account.ID, "never-used account must be picked first")
}

func TestSetStrategyRejectsUnknown(t *testing.T) {
	pool, _, _ := newTestPool(t)
	err := pool.SetStrategy(context.Background(), "most_expensive")
	assert.Error(t, err)
}

func TestReleaseRecordsUsage(t *testing.T) {
	pool, storage, _ := newTestPool(t)
	seedAccounts(t, storage, "acc-1")
	ctx := context.Background()

	account, ok, err := pool.Acquire(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, pool.Release(ctx, account.ID, false, "Retryable: generation never started"))

	got, err := storage.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, got.InUse)
	assert.Equal(t, 1, got.UsageTotal)
	assert.Equal(t, 1, got.UsageFailure)
	assert.Equal(t, "Retryable: generation never started", got.LastError)

	// A later success clears the sticky error
	_, ok, err = pool.Acquire(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, pool.Release(ctx, "acc-1", true, ""))
	got, err = storage.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageTotal)
	assert.Equal(t, 1, got.UsageSuccess)
	assert.Empty(t, got.LastError)
}

func TestCooldownBlocksUntilDeadline(t *testing.T) {
	pool, storage, _ := newTestPool(t)
	seedAccounts(t, storage, "acc-1")
	ctx := context.Background()
	now := time.Now()

	until, err := pool.Cooldown(ctx, "acc-1", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour).Unix(), until.Unix())

	// Before the deadline: unavailable
	count, err := pool.AvailableCount(ctx, until.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// At the exact deadline: available again
	count, err = pool.AvailableCount(ctx, until)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweepExpiredCooldowns(t *testing.T) {
	pool, storage, _ := newTestPool(t)
	seedAccounts(t, storage, "acc-1", "acc-2")
	ctx := context.Background()
	now := time.Now()

	_, err := pool.Cooldown(ctx, "acc-1", now.Add(-2*time.Hour)) // already expired
	require.NoError(t, err)
	_, err = pool.Cooldown(ctx, "acc-2", now) // still cooling
	require.NoError(t, err)

	cleared, err := pool.SweepExpiredCooldowns(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	a1, err := storage.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, a1.RateLimitedUntil)
	a2, err := storage.GetAccount(ctx, "acc-2")
	require.NoError(t, err)
	assert.NotNil(t, a2.RateLimitedUntil)
}
