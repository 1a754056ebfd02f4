package billing

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserOutcome(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "success", err: nil, wantStatus: http.StatusOK, wantMsg: MessageVerified},
		{name: "no events", err: ErrNoEvents, wantStatus: http.StatusNotFound, wantMsg: MessageNoRecent},
		{name: "no valid event", err: fmt.Errorf("match: %w", ErrNoValidEvent), wantStatus: http.StatusNotFound, wantMsg: MessageNotEligible},
		{name: "claim conflict", err: ErrClaimConflict, wantStatus: http.StatusNotFound, wantMsg: MessageAlreadyUsed},
		{name: "account exists", err: ErrAccountExists, wantStatus: http.StatusConflict, wantMsg: MessageAccountExists},
		{name: "rate limited rounds up", err: &RateLimitError{RetryAfter: 1500 * time.Millisecond}, wantStatus: http.StatusTooManyRequests, wantMsg: "Too many attempts. Please try again in 2 seconds."},
		{name: "rate limited floor", err: &RateLimitError{}, wantStatus: http.StatusTooManyRequests, wantMsg: "Too many attempts. Please try again in 1 seconds."},
		{name: "validation", err: &ValidationError{Field: "payerEmail", Message: "payerEmail is required"}, wantStatus: http.StatusBadRequest, wantMsg: "payerEmail is required"},
		{name: "login required", err: &ValidationError{Field: "userId", Message: MessageLoginRequired}, wantStatus: http.StatusUnauthorized, wantMsg: MessageLoginRequired},
		{name: "storage", err: storageErr("create claim", fmt.Errorf("dial tcp: refused")), wantStatus: http.StatusInternalServerError, wantMsg: MessageInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := UserOutcome(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}
