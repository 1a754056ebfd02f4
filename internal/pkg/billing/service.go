package billing

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/metrics/counter"
)

// VerifyRequest unlocks pro on the logged-in account.
type VerifyRequest struct {
	UserID     uint   `validate:"required"`
	PayerEmail string `json:"payerEmail" validate:"required,email,max=200"`
}

// RedeemRequest creates a new account from a payment.
type RedeemRequest struct {
	PayPalEmail  string `json:"paypalEmail" validate:"required,email,max=200"`
	AccountEmail string `json:"accountEmail" validate:"required,email,max=200"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
}

// ClaimResult is the outcome of a successful verify or redeem.
type ClaimResult struct {
	UserID     uint
	EventID    string
	AlreadyPro bool
}

// Service provides the verify and redeem claim flows.
type Service struct {
	policy   ClaimPolicy
	accounts Accounts
	matcher  *Matcher
	recorder *Recorder
	limiter  *RateLimiter
	validate *validator.Validate
	log      logrus.FieldLogger
	counters counter.Recorder
}

// NewService creates the claim service from injected collaborators.
func NewService(repo Repository, accts Accounts, policy ClaimPolicy, log logrus.FieldLogger, counters counter.Recorder) *Service {
	if counters == nil {
		counters = counter.Nop{}
	}
	return &Service{
		policy:   policy,
		accounts: accts,
		matcher:  NewMatcher(repo),
		recorder: NewRecorder(repo, accts, log, counters),
		limiter:  NewRateLimiter(repo),
		validate: validator.New(),
		log:      log,
		counters: counters,
	}
}

// SetClock overrides the time source of all claim components.
func (s *Service) SetClock(now func() time.Time) {
	s.matcher.now = now
	s.recorder.now = now
	s.limiter.now = now
}

// Verify grants pro to an existing account from a recent payment by
// req.PayerEmail.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*ClaimResult, error) {
	req.PayerEmail = NormalizeEmail(req.PayerEmail)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"user_id": req.UserID, "payer_email": req.PayerEmail, "flow": "verify"})

	pro, err := s.accounts.IsPro(ctx, req.UserID)
	if err != nil {
		return nil, storageErr("load entitlement", err)
	}
	if pro {
		return &ClaimResult{UserID: req.UserID, AlreadyPro: true}, nil
	}
	owns, err := s.recorder.RepairEntitlement(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if owns {
		return &ClaimResult{UserID: req.UserID}, nil
	}

	if err := s.limiter.Check(ctx, Claimant{UserID: req.UserID, PayerEmail: req.PayerEmail}, s.policy.Cooldown); err != nil {
		s.noteRateLimit(ctx, log, err)
		return nil, err
	}

	cand, err := s.match(ctx, log, req.PayerEmail, s.policy.VerifyWindow)
	if err != nil {
		return nil, err
	}
	grant, err := s.recorder.GrantExisting(ctx, req.UserID, cand, req.PayerEmail)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{UserID: grant.UserID, EventID: grant.EventID}, nil
}

// Redeem creates an account for req.AccountEmail and grants it pro from a
// recent payment by req.PayPalEmail.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*ClaimResult, error) {
	req.PayPalEmail = NormalizeEmail(req.PayPalEmail)
	req.AccountEmail = NormalizeEmail(req.AccountEmail)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"payer_email": req.PayPalEmail, "flow": "redeem"})

	exists, err := s.accounts.Exists(ctx, req.AccountEmail)
	if err != nil {
		return nil, storageErr("lookup account", err)
	}
	if exists {
		return nil, ErrAccountExists
	}

	if err := s.limiter.Check(ctx, Claimant{PayerEmail: req.PayPalEmail}, s.policy.Cooldown); err != nil {
		s.noteRateLimit(ctx, log, err)
		return nil, err
	}

	cand, err := s.match(ctx, log, req.PayPalEmail, s.policy.RedeemWindow)
	if err != nil {
		return nil, err
	}
	grant, err := s.recorder.GrantNewAccount(ctx, req.AccountEmail, req.Password, cand, req.PayPalEmail)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{UserID: grant.UserID, EventID: grant.EventID}, nil
}

func (s *Service) match(ctx context.Context, log logrus.FieldLogger, payerEmail string, window time.Duration) (*Candidate, error) {
	cand, report, err := s.matcher.Match(ctx, MatchCriteria{
		PayerEmail: payerEmail,
		MinAmount:  s.policy.MinAmount,
		Currency:   s.policy.Currency,
		Window:     window,
	})
	if err != nil {
		if errors.Is(err, ErrNoCandidate) {
			s.counters.Incr(ctx, counter.ClaimNoCandidate)
			log.WithFields(logrus.Fields{
				"window":            window.String(),
				"scanned":           report.Scanned,
				"missing_amount":    report.MissingAmount,
				"below_threshold":   report.BelowThreshold,
				"currency_mismatch": report.CurrencyMismatch,
				"already_claimed":   report.AlreadyClaimed,
			}).WithError(err).Info("no claimable payment")
		}
		return nil, err
	}
	return cand, nil
}

func (s *Service) noteRateLimit(ctx context.Context, log logrus.FieldLogger, err error) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		s.counters.Incr(ctx, counter.ClaimRateLimited)
		log.WithField("retry_after", rl.RetryAfter.String()).Info("claim rate limited")
	}
}

func (s *Service) validateRequest(req interface{}) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return validationMessage(verrs[0])
	}
	return &ValidationError{Message: "request is invalid"}
}

func validationMessage(fe validator.FieldError) *ValidationError {
	field := jsonFieldName(fe.StructField())
	switch fe.Tag() {
	case "required":
		if field == "userId" {
			return &ValidationError{Field: field, Message: MessageLoginRequired}
		}
		return &ValidationError{Field: field, Message: field + " is required"}
	case "email":
		return &ValidationError{Field: field, Message: field + " must be a valid email address"}
	case "min":
		return &ValidationError{Field: field, Message: field + " must be at least " + fe.Param() + " characters"}
	case "max":
		return &ValidationError{Field: field, Message: field + " must be at most " + fe.Param() + " characters"}
	}
	return &ValidationError{Field: field, Message: field + " is invalid"}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "UserID":
		return "userId"
	case "PayerEmail":
		return "payerEmail"
	case "PayPalEmail":
		return "paypalEmail"
	case "AccountEmail":
		return "accountEmail"
	case "Password":
		return "password"
	}
	return structField
}
