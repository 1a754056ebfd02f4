package paypal

import "strings"

// Transmission headers PayPal sends with every webhook delivery.
const (
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
)

type WebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// HeadersFrom reads the transmission headers through get, which is typically
// a request's header accessor.
func HeadersFrom(get func(key string) string) WebhookHeaders {
	return WebhookHeaders{
		TransmissionID:   strings.TrimSpace(get(HeaderTransmissionID)),
		TransmissionTime: strings.TrimSpace(get(HeaderTransmissionTime)),
		TransmissionSig:  strings.TrimSpace(get(HeaderTransmissionSig)),
		CertURL:          strings.TrimSpace(get(HeaderCertURL)),
		AuthAlgo:         strings.TrimSpace(get(HeaderAuthAlgo)),
	}
}

// Missing lists the headers that are empty.
func (h WebhookHeaders) Missing() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{HeaderTransmissionID, h.TransmissionID},
		{HeaderTransmissionTime, h.TransmissionTime},
		{HeaderTransmissionSig, h.TransmissionSig},
		{HeaderCertURL, h.CertURL},
		{HeaderAuthAlgo, h.AuthAlgo},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
