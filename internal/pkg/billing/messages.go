package billing

import (
	"errors"
	"fmt"
	"math"
	"net/http"
)

// User-facing messages. Diagnostics never go into these.
const (
	MessageVerified       = "Payment verified. Pro is now unlocked on your account."
	MessageAlreadyPro     = "Your account already has Pro."
	MessageRedeemed       = "Account created and Pro unlocked. You are now logged in."
	MessageRedeemedLogin  = "Account created and Pro unlocked. Please log in."
	MessageNoRecent       = "No recent payment found for this PayPal email."
	MessageNotEligible    = "A payment was found, but it is insufficient or has already been used."
	MessageAlreadyUsed    = "This payment has already been used to unlock an account."
	MessageAccountExists  = "An account with this email already exists. Log in and verify your payment instead."
	MessageInternal       = "Something went wrong. Please try again later."
	MessageLoginRequired  = "login required"
	messageRateLimitedFmt = "Too many attempts. Please try again in %d seconds."
)

// UserOutcome maps a claim error to an HTTP status and a templated message.
func UserOutcome(err error) (int, string) {
	var (
		verr *ValidationError
		rl   *RateLimitError
	)
	switch {
	case err == nil:
		return http.StatusOK, MessageVerified
	case errors.As(err, &verr):
		if verr.Message == MessageLoginRequired {
			return http.StatusUnauthorized, verr.Message
		}
		return http.StatusBadRequest, verr.Message
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return http.StatusTooManyRequests, fmt.Sprintf(messageRateLimitedFmt, secs)
	case errors.Is(err, ErrNoEvents):
		return http.StatusNotFound, MessageNoRecent
	case errors.Is(err, ErrNoValidEvent):
		return http.StatusNotFound, MessageNotEligible
	case errors.Is(err, ErrClaimConflict):
		return http.StatusNotFound, MessageAlreadyUsed
	case errors.Is(err, ErrAccountExists):
		return http.StatusConflict, MessageAccountExists
	default:
		return http.StatusInternalServerError, MessageInternal
	}
}
