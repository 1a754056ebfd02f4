package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const PaymentProviderPayPal = "paypal"

// PaymentEvent is an accepted processor notification. Rows are written once
// and never updated; whether an event is claimed is answered by PaymentClaim.
type PaymentEvent struct {
	ID                uint                `gorm:"primaryKey" json:"id"`
	EventID           string              `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_event_id" json:"event_id"`
	Provider          string              `gorm:"type:varchar(20);not null;default:'paypal'" json:"provider"`
	EventType         string              `gorm:"type:varchar(100);not null;index:idx_payment_events_payer_type_received,priority:2" json:"event_type"`
	Amount            decimal.NullDecimal `gorm:"type:decimal(12,2);default:null" json:"amount"`
	Currency          string              `gorm:"type:char(3);not null;default:''" json:"currency"`
	AmountSource      string              `gorm:"type:varchar(40);not null;default:''" json:"amount_source"`
	PayerEmail        string              `gorm:"type:varchar(200);not null;default:'';index:idx_payment_events_payer_type_received,priority:1" json:"payer_email"`
	SignatureVerified bool                `gorm:"not null;default:false" json:"signature_verified"`
	VerificationNote  string              `gorm:"type:varchar(255);not null;default:''" json:"verification_note"`
	PayloadJSON       string              `gorm:"type:longtext;not null" json:"payload_json"`
	ReceivedAt        time.Time           `gorm:"not null;index:idx_payment_events_payer_type_received,priority:3" json:"received_at"`
}
