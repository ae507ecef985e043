package payments

import (
	"net/url"
	"strings"
	"testing"
)

func usdcToken(t *testing.T) Token {
	t.Helper()
	tok, ok := DefaultTokens().Get("USDC")
	if !ok {
		t.Fatal("USDC missing from default registry")
	}
	return tok
}

func TestBuildPaymentURISPLToken(t *testing.T) {
	result, err := BuildPaymentURI(URIParams{
		Recipient: "merchant111",
		BaseUnits: 5000000,
		Token:     usdcToken(t),
		Reference: "ref111",
		Label:     "Bursar Store",
		Message:   "Order ORD-1",
		Memo:      "ORD-1",
	})
	if err != nil {
		t.Fatalf("BuildPaymentURI failed: %v", err)
	}

	if !strings.HasPrefix(result.URI, "solana:merchant111?") {
		t.Errorf("unexpected URI prefix: %s", result.URI)
	}
	if result.QRPayload != result.URI {
		t.Errorf("QR payload should be the URI text")
	}

	q, err := url.ParseQuery(strings.SplitN(result.URI, "?", 2)[1])
	if err != nil {
		t.Fatalf("failed to parse URI query: %v", err)
	}
	if got := q.Get("amount"); got != "5" {
		t.Errorf("expected amount 5, got %s", got)
	}
	if got := q.Get("spl-token"); got != "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v" {
		t.Errorf("unexpected spl-token: %s", got)
	}
	if got := q.Get("reference"); got != "ref111" {
		t.Errorf("unexpected reference: %s", got)
	}
	if got := q.Get("label"); got != "Bursar Store" {
		t.Errorf("unexpected label: %s", got)
	}
}

func TestBuildPaymentURINativeToken(t *testing.T) {
	sol, _ := DefaultTokens().Get("SOL")
	result, err := BuildPaymentURI(URIParams{
		Recipient: "merchant111",
		BaseUnits: 1500000000,
		Token:     sol,
		Reference: "ref222",
	})
	if err != nil {
		t.Fatalf("BuildPaymentURI failed: %v", err)
	}

	q, _ := url.ParseQuery(strings.SplitN(result.URI, "?", 2)[1])
	if q.Has("spl-token") {
		t.Error("native transfer must not carry spl-token")
	}
	if got := q.Get("amount"); got != "1.5" {
		t.Errorf("expected amount 1.5, got %s", got)
	}
	if q.Has("label") || q.Has("message") || q.Has("memo") {
		t.Error("optional params should be omitted when empty")
	}
}

func TestBuildPaymentURIDeterministic(t *testing.T) {
	params := URIParams{
		Recipient: "merchant111",
		BaseUnits: 42,
		Token:     usdcToken(t),
		Reference: "ref333",
	}
	a, err := BuildPaymentURI(params)
	if err != nil {
		t.Fatalf("BuildPaymentURI failed: %v", err)
	}
	b, err := BuildPaymentURI(params)
	if err != nil {
		t.Fatalf("BuildPaymentURI failed: %v", err)
	}
	if a.URI != b.URI {
		t.Errorf("URI not deterministic: %s vs %s", a.URI, b.URI)
	}
}

func TestBuildPaymentURIValidation(t *testing.T) {
	tok := Token{Symbol: "USDC", Decimals: 6}
	cases := []struct {
		name   string
		params URIParams
	}{
		{"missing recipient", URIParams{BaseUnits: 1, Token: tok, Reference: "r"}},
		{"missing reference", URIParams{Recipient: "m", BaseUnits: 1, Token: tok}},
		{"zero amount", URIParams{Recipient: "m", Token: tok, Reference: "r"}},
		{"negative amount", URIParams{Recipient: "m", BaseUnits: -1, Token: tok, Reference: "r"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildPaymentURI(tc.params); err == nil {
				t.Error("expected error")
			}
		})
	}
}
