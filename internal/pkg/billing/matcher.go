package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/ProUnlock/app/models"
)

type MatchCriteria struct {
	PayerEmail string
	MinAmount  decimal.Decimal
	// Currency empty accepts any currency.
	Currency string
	Window   time.Duration
}

// Candidate is the event selected for a claim with its resolved amount.
type Candidate struct {
	Event  models.PaymentEvent
	Amount Money
}

// MatchReport counts why scanned events were skipped. It goes to logs only.
type MatchReport struct {
	Scanned          int
	MissingAmount    int
	BelowThreshold   int
	CurrencyMismatch int
	AlreadyClaimed   int
}

// Matcher picks the newest unclaimed qualifying event for a payer.
type Matcher struct {
	repo Repository
	now  func() time.Time
}

func NewMatcher(repo Repository) *Matcher {
	return &Matcher{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Match returns ErrNoEvents when nothing of an accepted type arrived for the
// payer inside the window, and ErrNoValidEvent when events arrived but none
// qualifies. The claimed check here is advisory; CreateClaim decides.
func (m *Matcher) Match(ctx context.Context, c MatchCriteria) (*Candidate, MatchReport, error) {
	var report MatchReport
	since := m.now().Add(-c.Window)
	events, err := m.repo.ListCandidateEvents(ctx, NormalizeEmail(c.PayerEmail), AcceptedEventTypes, since, CandidateScanLimit)
	if err != nil {
		return nil, report, storageErr("list candidate events", err)
	}
	report.Scanned = len(events)
	if len(events) == 0 {
		return nil, report, ErrNoEvents
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.EventID)
	}
	claimed, err := m.repo.ClaimedEventIDs(ctx, ids)
	if err != nil {
		return nil, report, storageErr("load claimed events", err)
	}

	want := normalizeCurrency(c.Currency)
	for _, ev := range events {
		amount, ok := resolveAmount(ev)
		switch {
		case !ok:
			report.MissingAmount++
		case amount.Value.LessThan(c.MinAmount):
			report.BelowThreshold++
		case want != "" && amount.Currency != "" && amount.Currency != want:
			report.CurrencyMismatch++
		case claimed[ev.EventID]:
			report.AlreadyClaimed++
		default:
			return &Candidate{Event: ev, Amount: amount}, report, nil
		}
	}
	return nil, report, ErrNoValidEvent
}

// resolveAmount prefers the stored columns and falls back to the raw payload.
func resolveAmount(ev models.PaymentEvent) (Money, bool) {
	if ev.Amount.Valid {
		return Money{Value: ev.Amount.Decimal, Currency: normalizeCurrency(ev.Currency)}, true
	}
	if m, _ := AmountFromPayload(ev.PayloadJSON); m != nil {
		return *m, true
	}
	return Money{}, false
}
