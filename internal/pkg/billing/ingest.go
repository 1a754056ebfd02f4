package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/paypal"
)

const maxVerificationNote = 255

// SignatureVerifier checks a delivery against the processor. *paypal.Client
// implements it.
type SignatureVerifier interface {
	Configured() bool
	VerifyWebhookSignature(ctx context.Context, headers paypal.WebhookHeaders, event []byte) (paypal.Verification, error)
}

// Ingestor verifies and records webhook deliveries. It never touches
// accounts or claims.
type Ingestor struct {
	repo     Repository
	verifier SignatureVerifier
	mode     VerifyMode
	log      logrus.FieldLogger
	counters counter.Recorder
	now      func() time.Time
}

func NewIngestor(repo Repository, verifier SignatureVerifier, mode VerifyMode, log logrus.FieldLogger, counters counter.Recorder) *Ingestor {
	if counters == nil {
		counters = counter.Nop{}
	}
	if mode != VerifyModePermissive {
		mode = VerifyModeStrict
	}
	return &Ingestor{
		repo:     repo,
		verifier: verifier,
		mode:     mode,
		log:      log,
		counters: counters,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest processes one delivery. A redelivered event id returns a result
// with Duplicate set and no error.
func (i *Ingestor) Ingest(ctx context.Context, d WebhookDelivery) (IngestResult, error) {
	if i.verifier == nil || !i.verifier.Configured() {
		return IngestResult{}, ErrConfiguration
	}
	i.counters.Incr(ctx, counter.WebhookReceived)

	parsed, err := ParseEvent(d.Body)
	if err != nil {
		i.counters.Incr(ctx, counter.WebhookRejected)
		return IngestResult{}, err
	}
	res := IngestResult{EventID: parsed.ID, EventType: parsed.EventType}
	log := i.log.WithFields(logrus.Fields{
		"event_id":        parsed.ID,
		"event_type":      parsed.EventType,
		"transmission_id": d.Headers.TransmissionID,
	})

	verified, note, err := i.verify(ctx, log, d)
	if err != nil {
		i.counters.Incr(ctx, counter.WebhookRejected)
		return res, err
	}
	res.Verified = verified

	event := &models.PaymentEvent{
		EventID:           parsed.ID,
		Provider:          models.PaymentProviderPayPal,
		EventType:         parsed.EventType,
		AmountSource:      string(parsed.AmountSource),
		PayerEmail:        parsed.PayerEmail,
		SignatureVerified: verified,
		VerificationNote:  truncate(note, maxVerificationNote),
		PayloadJSON:       string(d.Body),
		ReceivedAt:        i.now(),
	}
	if parsed.Amount != nil {
		event.Amount = decimal.NullDecimal{Decimal: parsed.Amount.Value, Valid: true}
		event.Currency = parsed.Amount.Currency
	}

	created, err := i.repo.InsertEventIfNotExists(ctx, event)
	if err != nil {
		return res, storageErr("insert payment event", err)
	}
	if !created {
		res.Duplicate = true
		i.counters.Incr(ctx, counter.WebhookDuplicate)
		log.Info("duplicate webhook delivery ignored")
		return res, nil
	}
	if !verified {
		i.counters.Incr(ctx, counter.WebhookUnverified)
	}

	log.WithFields(logrus.Fields{
		"payer_email":   parsed.PayerEmail,
		"amount_source": parsed.AmountSource,
		"verified":      verified,
	}).Info("payment event recorded")
	return res, nil
}

// verify applies the verification mode. Strict mode turns every negative or
// missing answer into an error; permissive mode returns a note instead.
func (i *Ingestor) verify(ctx context.Context, log logrus.FieldLogger, d WebhookDelivery) (bool, string, error) {
	v, err := i.verifier.VerifyWebhookSignature(ctx, d.Headers, d.Body)
	switch {
	case errors.Is(err, paypal.ErrNotConfigured):
		return false, "", ErrConfiguration
	case err != nil:
		log = log.WithError(err).WithField("token_unavailable", errors.Is(err, paypal.ErrTokenUnavailable))
		if i.mode == VerifyModeStrict {
			log.Warn("webhook verification unavailable; rejecting delivery")
			return false, "", fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
		log.Warn("webhook verification unavailable; ingesting unverified")
		return false, "verification unavailable: " + err.Error(), nil
	case !v.Verified:
		log = log.WithField("reason", v.Reason)
		if i.mode == VerifyModeStrict {
			log.Warn("webhook signature rejected")
			return false, "", fmt.Errorf("%w: %s", ErrSignatureInvalid, v.Reason)
		}
		log.Warn("webhook signature not verified; ingesting unverified")
		return false, "signature not verified: " + v.Reason, nil
	}
	return true, "", nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
