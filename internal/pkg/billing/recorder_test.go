package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/logging"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/metrics/counter"
)

func newTestRecorder() (*Recorder, *memoryRepository, *memoryAccounts, *memoryCounters) {
	clock := newTestClock()
	repo := newMemoryRepository(clock.Now)
	accts := newMemoryAccounts()
	counters := newMemoryCounters()
	r := NewRecorder(repo, accts, logging.Discard(), counters)
	r.now = clock.Now
	return r, repo, accts, counters
}

func candidateFor(t *testing.T, repo *memoryRepository, id string) *Candidate {
	t.Helper()
	repo.seedEvent(id, "buyer@example.com", "2.99", "USD", repo.now().Add(-time.Hour))
	ev, err := repo.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return &Candidate{Event: *ev, Amount: Money{Value: decimal.RequireFromString("2.99"), Currency: "USD"}}
}

func TestGrantExisting(t *testing.T) {
	r, repo, accts, counters := newTestRecorder()
	cand := candidateFor(t, repo, "E1")
	userID := accts.add("user@example.com")

	res, err := r.GrantExisting(context.Background(), userID, cand, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, res.UserID)
	assert.Equal(t, "E1", res.EventID)
	assert.True(t, accts.isPro(userID))
	assert.Equal(t, 1, repo.claimCount())
	assert.Equal(t, int64(1), counters.get(counter.ClaimGranted))
}

func TestGrantExistingDoubleSubmit(t *testing.T) {
	r, repo, accts, _ := newTestRecorder()
	cand := candidateFor(t, repo, "E1")
	userID := accts.add("user@example.com")

	_, err := r.GrantExisting(context.Background(), userID, cand, "buyer@example.com")
	require.NoError(t, err)
	_, err = r.GrantExisting(context.Background(), userID, cand, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.claimCount())
}

func TestGrantExistingConcurrent(t *testing.T) {
	r, repo, accts, counters := newTestRecorder()
	cand := candidateFor(t, repo, "E1")

	const n = 16
	ids := make([]uint, n)
	for i := range ids {
		ids[i] = accts.add(fmt.Sprintf("user%d@example.com", i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := r.GrantExisting(context.Background(), id, cand, "buyer@example.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrClaimConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, repo.claimCount())
	assert.Equal(t, 1, accts.proCount())
	assert.Equal(t, int64(n-1), counters.get(counter.ClaimConflict))
}

func TestGrantNewAccountConcurrent(t *testing.T) {
	r, repo, accts, _ := newTestRecorder()
	cand := candidateFor(t, repo, "E1")

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.GrantNewAccount(context.Background(), fmt.Sprintf("new%d@example.com", i), "password123", cand, "buyer@example.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrClaimConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, repo.claimCount())
	assert.Equal(t, 1, accts.count(), "losing accounts are removed")
	assert.Equal(t, 1, accts.proCount())
	assert.Len(t, accts.deleted, n-1)
}

func TestGrantNewAccountErrors(t *testing.T) {
	t.Run("account exists", func(t *testing.T) {
		r, repo, accts, _ := newTestRecorder()
		cand := candidateFor(t, repo, "E1")
		accts.add("taken@example.com")

		_, err := r.GrantNewAccount(context.Background(), "taken@example.com", "password123", cand, "buyer@example.com")
		assert.ErrorIs(t, err, ErrAccountExists)
		assert.Equal(t, 0, repo.claimCount())
	})

	t.Run("invalid account", func(t *testing.T) {
		r, repo, _, _ := newTestRecorder()
		cand := candidateFor(t, repo, "E1")

		_, err := r.GrantNewAccount(context.Background(), "new@example.com", "short", cand, "buyer@example.com")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "accountEmail", verr.Field)
	})

	t.Run("claim failure before commit removes account", func(t *testing.T) {
		r, repo, accts, _ := newTestRecorder()
		cand := candidateFor(t, repo, "E1")
		repo.claimErr = errBoom

		_, err := r.GrantNewAccount(context.Background(), "new@example.com", "password123", cand, "buyer@example.com")
		assert.ErrorIs(t, err, ErrStorage)
		assert.Equal(t, 0, accts.count())
		assert.Equal(t, 0, repo.claimCount())
	})

	t.Run("claim committed before error keeps account", func(t *testing.T) {
		r, repo, accts, _ := newTestRecorder()
		cand := candidateFor(t, repo, "E1")
		repo.commitErr = context.DeadlineExceeded

		res, err := r.GrantNewAccount(context.Background(), "new@example.com", "password123", cand, "buyer@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, accts.count())
		assert.Empty(t, accts.deleted)
		assert.Equal(t, 1, repo.claimCount())
		assert.True(t, accts.isPro(res.UserID))
	})

	t.Run("unknown claim outcome keeps account", func(t *testing.T) {
		r, repo, accts, _ := newTestRecorder()
		cand := candidateFor(t, repo, "E1")
		repo.commitErr = context.DeadlineExceeded
		repo.claimsErr = errBoom

		res, err := r.GrantNewAccount(context.Background(), "new@example.com", "password123", cand, "buyer@example.com")
		assert.ErrorIs(t, err, ErrStorage)
		assert.NotZero(t, res.UserID)
		assert.Equal(t, 1, accts.count())
		assert.Empty(t, accts.deleted)
	})

	t.Run("cleanup runs on canceled context", func(t *testing.T) {
		r, repo, accts, _ := newTestRecorder()
		cand := candidateFor(t, repo, "E1")
		require.NoError(t, repo.CreateClaim(context.Background(), &models.PaymentClaim{EventID: "E1", UserID: 99, PayerEmail: "buyer@example.com"}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.GrantNewAccount(ctx, "new@example.com", "password123", cand, "buyer@example.com")
		assert.ErrorIs(t, err, ErrClaimConflict)
		assert.Equal(t, 0, accts.count())
	})
}

func TestRepairEntitlement(t *testing.T) {
	r, repo, accts, _ := newTestRecorder()
	cand := candidateFor(t, repo, "E1")
	userID := accts.add("user@example.com")
	accts.setFailures = 1

	_, err := r.GrantExisting(context.Background(), userID, cand, "buyer@example.com")
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, 1, repo.claimCount(), "claim stays recorded")
	assert.False(t, accts.isPro(userID))

	owns, err := r.RepairEntitlement(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, owns)
	assert.True(t, accts.isPro(userID))

	owns, err = r.RepairEntitlement(context.Background(), accts.add("other@example.com"))
	require.NoError(t, err)
	assert.False(t, owns)
}
