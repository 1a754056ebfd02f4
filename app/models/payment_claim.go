package models

import "time"

// PaymentClaim binds one PaymentEvent to the account it unlocked. The unique
// index on event_id is what makes a payment claimable exactly once.
type PaymentClaim struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_claims_event_id" json:"event_id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	PayerEmail string    `gorm:"type:varchar(200);not null;index" json:"payer_email"`
	Flow       string    `gorm:"type:varchar(20);not null" json:"flow"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

const (
	ClaimFlowVerify = "verify"
	ClaimFlowRedeem = "redeem"
)
