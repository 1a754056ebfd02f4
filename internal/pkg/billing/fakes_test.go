package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/accounts"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/paypal"
)

var errBoom = errors.New("boom")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memoryRepository enforces the same uniqueness rules as the MySQL schema.
type memoryRepository struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID uint
	events map[string]models.PaymentEvent
	claims map[string]models.PaymentClaim

	insertErr error
	claimErr  error
	listErr   error
	// commitErr is returned after the claim was stored, like a driver
	// timeout that fires once the row is committed.
	commitErr error
	claimsErr error
}

func newMemoryRepository(now func() time.Time) *memoryRepository {
	return &memoryRepository{
		now:    now,
		events: map[string]models.PaymentEvent{},
		claims: map[string]models.PaymentClaim{},
	}
}

func (r *memoryRepository) InsertEventIfNotExists(_ context.Context, event *models.PaymentEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return false, r.insertErr
	}
	if _, ok := r.events[event.EventID]; ok {
		return false, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[event.EventID] = *event
	return true, nil
}

func (r *memoryRepository) GetEvent(_ context.Context, eventID string) (*models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: not found", eventID)
	}
	return &ev, nil
}

func (r *memoryRepository) ListCandidateEvents(_ context.Context, payerEmail string, eventTypes []string, since time.Time, limit int) ([]models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	types := map[string]bool{}
	for _, t := range eventTypes {
		types[t] = true
	}
	var out []models.PaymentEvent
	for _, ev := range r.events {
		if ev.PayerEmail == payerEmail && types[ev.EventType] && !ev.ReceivedAt.Before(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) ClaimedEventIDs(_ context.Context, eventIDs []string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]bool{}
	for _, id := range eventIDs {
		if _, ok := r.claims[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *memoryRepository) CreateClaim(_ context.Context, claim *models.PaymentClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return r.claimErr
	}
	if _, ok := r.claims[claim.EventID]; ok {
		return ErrClaimConflict
	}
	r.nextID++
	claim.ID = r.nextID
	claim.CreatedAt = r.now()
	r.claims[claim.EventID] = *claim
	return r.commitErr
}

func (r *memoryRepository) LatestClaimAt(_ context.Context, claimant Claimant) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *time.Time
	for _, c := range r.claims {
		match := (claimant.UserID != 0 && c.UserID == claimant.UserID) ||
			(claimant.PayerEmail != "" && c.PayerEmail == claimant.PayerEmail)
		if match && (latest == nil || c.CreatedAt.After(*latest)) {
			at := c.CreatedAt
			latest = &at
		}
	}
	return latest, nil
}

func (r *memoryRepository) ClaimsForUser(_ context.Context, userID uint) ([]models.PaymentClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimsErr != nil {
		return nil, r.claimsErr
	}
	var out []models.PaymentClaim
	for _, c := range r.claims {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) claimCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims)
}

func (r *memoryRepository) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// seedEvent stores a completed capture for payer received at receivedAt.
func (r *memoryRepository) seedEvent(id, payer, amount, currency string, receivedAt time.Time) {
	ev := models.PaymentEvent{
		EventID:           id,
		Provider:          models.PaymentProviderPayPal,
		EventType:         EventTypePaymentCaptureCompleted,
		Currency:          currency,
		AmountSource:      string(AmountSourceResource),
		PayerEmail:        NormalizeEmail(payer),
		SignatureVerified: true,
		PayloadJSON:       fmt.Sprintf(`{"id":%q,"event_type":%q}`, id, EventTypePaymentCaptureCompleted),
		ReceivedAt:        receivedAt,
	}
	if amount != "" {
		ev.Amount = decimal.NullDecimal{Decimal: decimal.RequireFromString(amount), Valid: true}
	}
	_, _ = r.InsertEventIfNotExists(context.Background(), &ev)
}

type memoryAccount struct {
	id    uint
	email string
	pro   bool
	ent   accounts.Entitlement
}

type memoryAccounts struct {
	mu      sync.Mutex
	nextID  uint
	byID    map[uint]*memoryAccount
	deleted []uint

	// setFailures makes the next n SetEntitlement calls fail.
	setFailures int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{byID: map[uint]*memoryAccount{}}
}

func (a *memoryAccounts) add(email string) uint {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.byID[a.nextID] = &memoryAccount{id: a.nextID, email: NormalizeEmail(email)}
	return a.nextID
}

func (a *memoryAccounts) CreateAccount(_ context.Context, email, password string) (uint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(password) < models.MinPasswordLength || !strings.Contains(email, "@") {
		return 0, accounts.ErrInvalidAccount
	}
	for _, acc := range a.byID {
		if acc.email == email {
			return 0, accounts.ErrAccountExists
		}
	}
	a.nextID++
	a.byID[a.nextID] = &memoryAccount{id: a.nextID, email: email}
	return a.nextID, nil
}

func (a *memoryAccounts) Exists(_ context.Context, email string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acc := range a.byID {
		if acc.email == email {
			return true, nil
		}
	}
	return false, nil
}

func (a *memoryAccounts) IsPro(_ context.Context, userID uint) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.byID[userID]
	if !ok {
		return false, accounts.ErrAccountNotFound
	}
	return acc.pro, nil
}

func (a *memoryAccounts) SetEntitlement(_ context.Context, userID uint, e accounts.Entitlement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.setFailures > 0 {
		a.setFailures--
		return errBoom
	}
	acc, ok := a.byID[userID]
	if !ok {
		return accounts.ErrAccountNotFound
	}
	if acc.pro {
		return nil
	}
	acc.pro = true
	acc.ent = e
	return nil
}

func (a *memoryAccounts) DeleteAccount(_ context.Context, userID uint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, userID)
	a.deleted = append(a.deleted, userID)
	return nil
}

func (a *memoryAccounts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}

func (a *memoryAccounts) proCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, acc := range a.byID {
		if acc.pro {
			n++
		}
	}
	return n
}

func (a *memoryAccounts) isPro(userID uint) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.byID[userID]
	return ok && acc.pro
}

type fakeVerifier struct {
	mu         sync.Mutex
	configured bool
	result     paypal.Verification
	err        error
	calls      int
}

func (v *fakeVerifier) Configured() bool { return v.configured }

func (v *fakeVerifier) VerifyWebhookSignature(context.Context, paypal.WebhookHeaders, []byte) (paypal.Verification, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.result, v.err
}

type memoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemoryCounters() *memoryCounters { return &memoryCounters{values: map[string]int64{}} }

func (c *memoryCounters) Incr(_ context.Context, name string) {
	c.mu.Lock()
	c.values[name]++
	c.mu.Unlock()
}

func (c *memoryCounters) get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}
