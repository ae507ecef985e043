package payments

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// URIScheme is the wallet deep-link scheme for the settlement chain
const URIScheme = "solana"

// URIParams carries all fields encoded into a payment URI
type URIParams struct {
	Recipient string
	BaseUnits int64
	Token     Token
	Reference string
	Label     string
	Message   string
	Memo      string
}

// PaymentURI is a wallet deep link plus the payload a storefront renders
// as a QR code (the same text; wallets scan the URI directly).
type PaymentURI struct {
	URI       string
	QRPayload string
}

// BuildPaymentURI encodes recipient, amount, reference and display strings
// into a deep-link URI. It is deterministic and pure: the amount is written
// in the token's display units so a compliant wallet reconstructs the exact
// base-unit transfer without ambiguity.
func BuildPaymentURI(p URIParams) (PaymentURI, error) {
	if p.Recipient == "" {
		return PaymentURI{}, fmt.Errorf("recipient is required")
	}
	if p.Reference == "" {
		return PaymentURI{}, fmt.Errorf("reference is required")
	}
	if p.BaseUnits <= 0 {
		return PaymentURI{}, fmt.Errorf("amount must be a positive number of base units")
	}

	display := decimal.NewFromInt(p.BaseUnits).Shift(-p.Token.Decimals)

	q := url.Values{}
	q.Set("amount", display.String())
	if p.Token.Mint != "" {
		q.Set("spl-token", p.Token.Mint)
	}
	q.Set("reference", p.Reference)
	if p.Label != "" {
		q.Set("label", p.Label)
	}
	if p.Message != "" {
		q.Set("message", p.Message)
	}
	if p.Memo != "" {
		q.Set("memo", p.Memo)
	}

	var b strings.Builder
	b.WriteString(URIScheme)
	b.WriteString(":")
	b.WriteString(p.Recipient)
	b.WriteString("?")
	b.WriteString(q.Encode())

	uri := b.String()
	return PaymentURI{URI: uri, QRPayload: uri}, nil
}
