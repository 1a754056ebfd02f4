package billing

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/accounts"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/entitlements"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/metrics/counter"
)

// Accounts is the account collaborator. *accounts.Service implements it.
type Accounts interface {
	CreateAccount(ctx context.Context, email, password string) (uint, error)
	Exists(ctx context.Context, email string) (bool, error)
	IsPro(ctx context.Context, userID uint) (bool, error)
	SetEntitlement(ctx context.Context, userID uint, e accounts.Entitlement) error
	DeleteAccount(ctx context.Context, userID uint) error
}

type GrantResult struct {
	UserID  uint
	EventID string
}

// Recorder turns a candidate into a durable grant. The claim insert decides
// every race: whoever inserts the claim row for an event owns it, and the
// entitlement is only applied by the owner.
type Recorder struct {
	repo     Repository
	accounts Accounts
	log      logrus.FieldLogger
	counters counter.Recorder
	now      func() time.Time
}

func NewRecorder(repo Repository, accts Accounts, log logrus.FieldLogger, counters counter.Recorder) *Recorder {
	if counters == nil {
		counters = counter.Nop{}
	}
	return &Recorder{
		repo:     repo,
		accounts: accts,
		log:      log,
		counters: counters,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GrantExisting claims cand for an existing account. If the same account
// already owns the claim, for example after a double submit, the grant is
// reported as successful.
func (r *Recorder) GrantExisting(ctx context.Context, userID uint, cand *Candidate, payerEmail string) (GrantResult, error) {
	res := GrantResult{UserID: userID, EventID: cand.Event.EventID}
	log := r.log.WithFields(logrus.Fields{"user_id": userID, "event_id": cand.Event.EventID, "flow": models.ClaimFlowVerify})

	err := r.repo.CreateClaim(ctx, &models.PaymentClaim{
		EventID:    cand.Event.EventID,
		UserID:     userID,
		PayerEmail: payerEmail,
		Flow:       models.ClaimFlowVerify,
	})
	switch {
	case errors.Is(err, ErrClaimConflict):
		owned, ownErr := r.ownsClaim(ctx, userID, cand.Event.EventID)
		if ownErr != nil {
			return res, ownErr
		}
		if !owned {
			r.counters.Incr(ctx, counter.ClaimConflict)
			log.Warn("claim lost: event already claimed")
			return res, ErrClaimConflict
		}
		log.Info("event already claimed by this account")
	case err != nil:
		return res, storageErr("create claim", err)
	}

	if err := r.applyEntitlement(ctx, userID, payerEmail); err != nil {
		log.WithError(err).Error("claim recorded but entitlement not applied; will be repaired on next verify")
		return res, storageErr("apply entitlement", err)
	}
	r.counters.Incr(ctx, counter.ClaimGranted)
	log.Info("payment claimed")
	return res, nil
}

// GrantNewAccount creates an account and claims cand for it. When the claim
// is lost the new account is removed again so one event never yields two
// accounts.
func (r *Recorder) GrantNewAccount(ctx context.Context, accountEmail, password string, cand *Candidate, payerEmail string) (GrantResult, error) {
	res := GrantResult{EventID: cand.Event.EventID}
	log := r.log.WithFields(logrus.Fields{"event_id": cand.Event.EventID, "flow": models.ClaimFlowRedeem})

	userID, err := r.accounts.CreateAccount(ctx, accountEmail, password)
	switch {
	case errors.Is(err, accounts.ErrAccountExists):
		return res, ErrAccountExists
	case errors.Is(err, accounts.ErrInvalidAccount):
		return res, &ValidationError{Field: "accountEmail", Message: "account email or password is invalid"}
	case err != nil:
		return res, storageErr("create account", err)
	}
	res.UserID = userID
	log = log.WithField("user_id", userID)

	err = r.repo.CreateClaim(ctx, &models.PaymentClaim{
		EventID:    cand.Event.EventID,
		UserID:     userID,
		PayerEmail: payerEmail,
		Flow:       models.ClaimFlowRedeem,
	})
	switch {
	case errors.Is(err, ErrClaimConflict):
		r.removeAccount(ctx, log, userID)
		r.counters.Incr(ctx, counter.ClaimConflict)
		log.Warn("claim lost: event already claimed; new account removed")
		return GrantResult{EventID: cand.Event.EventID}, ErrClaimConflict
	case err != nil:
		// The insert may have committed before the error reached us. The
		// account is only removed once the claim is known to be absent.
		owned, ownErr := r.ownsClaim(context.WithoutCancel(ctx), userID, cand.Event.EventID)
		switch {
		case ownErr != nil:
			log.WithError(ownErr).Error("claim outcome unknown; keeping new account")
			return res, storageErr("create claim", err)
		case !owned:
			r.removeAccount(ctx, log, userID)
			return GrantResult{EventID: cand.Event.EventID}, storageErr("create claim", err)
		}
		log.WithError(err).Warn("claim insert reported an error but the claim was stored")
	}

	if err := r.applyEntitlement(ctx, userID, payerEmail); err != nil {
		log.WithError(err).Error("claim recorded but entitlement not applied; will be repaired on next verify")
		return res, storageErr("apply entitlement", err)
	}
	r.counters.Incr(ctx, counter.ClaimGranted)
	log.Info("payment redeemed into new account")
	return res, nil
}

// RepairEntitlement re-applies pro for an account that owns a claim but whose
// flag write failed. It reports whether the account owns any claim.
func (r *Recorder) RepairEntitlement(ctx context.Context, userID uint) (bool, error) {
	claims, err := r.repo.ClaimsForUser(ctx, userID)
	if err != nil {
		return false, storageErr("load claims", err)
	}
	if len(claims) == 0 {
		return false, nil
	}
	if err := r.applyEntitlement(ctx, userID, claims[0].PayerEmail); err != nil {
		return true, storageErr("apply entitlement", err)
	}
	r.log.WithFields(logrus.Fields{"user_id": userID, "event_id": claims[0].EventID}).Warn("pro entitlement repaired from existing claim")
	return true, nil
}

// removeAccount runs even if the request was canceled.
func (r *Recorder) removeAccount(ctx context.Context, log logrus.FieldLogger, userID uint) {
	if err := r.accounts.DeleteAccount(context.WithoutCancel(ctx), userID); err != nil {
		log.WithError(err).Error("could not remove account after failed claim")
	}
}

func (r *Recorder) ownsClaim(ctx context.Context, userID uint, eventID string) (bool, error) {
	claims, err := r.repo.ClaimsForUser(ctx, userID)
	if err != nil {
		return false, storageErr("load claims", err)
	}
	for _, c := range claims {
		if c.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Recorder) applyEntitlement(ctx context.Context, userID uint, payerEmail string) error {
	return r.accounts.SetEntitlement(ctx, userID, accounts.Entitlement{
		UnlockedAt: r.now(),
		Source:     entitlements.SourcePayPal,
		PayerEmail: payerEmail,
	})
}
