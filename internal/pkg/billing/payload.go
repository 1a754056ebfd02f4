package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountSource names the payload shape an amount was read from.
type AmountSource string

const (
	AmountSourceNone     AmountSource = "none"
	AmountSourceResource AmountSource = "resource.amount"
	AmountSourceCapture  AmountSource = "purchase_units.captures"
	AmountSourceSale     AmountSource = "resource.amount.total"
)

// Field limits of the payment_events columns. Values beyond them can never be
// stored, so they are rejected as malformed.
const (
	maxEventIDLen    = 191
	maxEventTypeLen  = 100
	maxPayerEmailLen = 200
	currencyCodeLen  = 3
	// amountScale is the number of decimals kept for amounts.
	amountScale = 2
)

// maxAmount is the first value that no longer fits DECIMAL(12,2).
var maxAmount = decimal.New(1, 10)

// ParsedEvent is the normalized view of a webhook payload.
type ParsedEvent struct {
	ID           string
	EventType    string
	PayerEmail   string
	Amount       *Money
	AmountSource AmountSource
}

type rawEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

// resource decodes the resource object. Shapes that do not fit are treated
// as carrying no amount or payer rather than failing the whole event.
func (e rawEvent) resource() rawResource {
	var r rawResource
	if len(e.Resource) > 0 {
		if err := json.Unmarshal(e.Resource, &r); err != nil {
			return rawResource{}
		}
	}
	return r
}

type rawResource struct {
	Amount        *rawAmount `json:"amount"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				Amount *rawAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Payer *struct {
		EmailAddress string `json:"email_address"`
		PayerInfo    *struct {
			Email string `json:"email"`
		} `json:"payer_info"`
	} `json:"payer"`
	PayerEmail string `json:"payer_email"`
}

type rawAmount struct {
	Value        amountValue `json:"value"`
	CurrencyCode string      `json:"currency_code"`
	// Legacy sale events use total/currency.
	Total    amountValue `json:"total"`
	Currency string      `json:"currency"`
}

// amountValue accepts both "2.99" and 2.99.
type amountValue string

func (v *amountValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = amountValue(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = amountValue(n.String())
	return nil
}

func (v amountValue) decimal() (decimal.Decimal, bool) {
	if v == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(string(v))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// amountShape is one place a payload may carry its amount.
type amountShape interface {
	source() AmountSource
	extract(r *rawResource) (Money, bool)
}

type resourceAmount struct{}

func (resourceAmount) source() AmountSource { return AmountSourceResource }

func (resourceAmount) extract(r *rawResource) (Money, bool) {
	if r.Amount == nil {
		return Money{}, false
	}
	d, ok := r.Amount.Value.decimal()
	if !ok {
		return Money{}, false
	}
	return Money{Value: d, Currency: normalizeCurrency(r.Amount.CurrencyCode)}, true
}

type captureAmount struct{}

func (captureAmount) source() AmountSource { return AmountSourceCapture }

func (captureAmount) extract(r *rawResource) (Money, bool) {
	if len(r.PurchaseUnits) == 0 || len(r.PurchaseUnits[0].Payments.Captures) == 0 {
		return Money{}, false
	}
	a := r.PurchaseUnits[0].Payments.Captures[0].Amount
	if a == nil {
		return Money{}, false
	}
	d, ok := a.Value.decimal()
	if !ok {
		return Money{}, false
	}
	return Money{Value: d, Currency: normalizeCurrency(a.CurrencyCode)}, true
}

type saleAmount struct{}

func (saleAmount) source() AmountSource { return AmountSourceSale }

func (saleAmount) extract(r *rawResource) (Money, bool) {
	if r.Amount == nil {
		return Money{}, false
	}
	d, ok := r.Amount.Total.decimal()
	if !ok {
		return Money{}, false
	}
	return Money{Value: d, Currency: normalizeCurrency(r.Amount.Currency)}, true
}

// amountShapes is tried in order; the first shape that yields an amount wins.
var amountShapes = []amountShape{resourceAmount{}, captureAmount{}, saleAmount{}}

// amount returns the first amount found, cut to amountScale decimals. The cut
// truncates so that 2.985 compares as 2.98, never as 2.99.
func (r *rawResource) amount() (*Money, AmountSource) {
	for _, shape := range amountShapes {
		if m, ok := shape.extract(r); ok {
			m.Value = m.Value.Truncate(amountScale)
			return &m, shape.source()
		}
	}
	return nil, AmountSourceNone
}

func (r *rawResource) payerEmail() string {
	if r.Payer != nil {
		if e := NormalizeEmail(r.Payer.EmailAddress); e != "" {
			return e
		}
		if r.Payer.PayerInfo != nil {
			if e := NormalizeEmail(r.Payer.PayerInfo.Email); e != "" {
				return e
			}
		}
	}
	return NormalizeEmail(r.PayerEmail)
}

// ParseEvent decodes a webhook body. The body must be a JSON object with a
// non-empty id and event_type; amount and payer are optional.
func ParseEvent(body []byte) (*ParsedEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id := strings.TrimSpace(raw.ID)
	eventType := strings.ToUpper(strings.TrimSpace(raw.EventType))
	if id == "" || eventType == "" {
		return nil, fmt.Errorf("%w: id and event_type are required", ErrMalformedPayload)
	}

	if len(id) > maxEventIDLen {
		return nil, fmt.Errorf("%w: id longer than %d bytes", ErrMalformedPayload, maxEventIDLen)
	}
	if len(eventType) > maxEventTypeLen {
		return nil, fmt.Errorf("%w: event_type longer than %d bytes", ErrMalformedPayload, maxEventTypeLen)
	}

	res := raw.resource()
	payer := res.payerEmail()
	if len(payer) > maxPayerEmailLen {
		return nil, fmt.Errorf("%w: payer email longer than %d bytes", ErrMalformedPayload, maxPayerEmailLen)
	}
	amount, source := res.amount()
	if amount != nil {
		if amount.Currency != "" && len(amount.Currency) != currencyCodeLen {
			return nil, fmt.Errorf("%w: currency %q is not a %d-letter code", ErrMalformedPayload, amount.Currency, currencyCodeLen)
		}
		if amount.Value.Abs().GreaterThanOrEqual(maxAmount) {
			return nil, fmt.Errorf("%w: amount %s out of range", ErrMalformedPayload, amount.Value)
		}
	}
	return &ParsedEvent{
		ID:           id,
		EventType:    eventType,
		PayerEmail:   payer,
		Amount:       amount,
		AmountSource: source,
	}, nil
}

// AmountFromPayload re-extracts the amount from a stored raw payload.
func AmountFromPayload(payloadJSON string) (*Money, AmountSource) {
	var raw rawEvent
	if err := json.Unmarshal([]byte(payloadJSON), &raw); err != nil {
		return nil, AmountSourceNone
	}
	res := raw.resource()
	return res.amount()
}
