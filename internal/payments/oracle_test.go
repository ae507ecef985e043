package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type fixedRates struct {
	rate decimal.Decimal
	err  error
}

func (f fixedRates) Rate(_ context.Context, _, _ string) (decimal.Decimal, error) {
	return f.rate, f.err
}

func TestQuoteExactDivision(t *testing.T) {
	// $10.00 at $2.00 per token with 6 decimals is exactly 5,000,000
	// base units.
	oracle := NewOracle(fixedRates{rate: decimal.RequireFromString("2.00")}, DefaultTokens())

	q, err := oracle.Quote(context.Background(), decimal.RequireFromString("10.00"), "USD", "USDC")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.BaseUnits != 5000000 {
		t.Errorf("expected 5000000 base units, got %d", q.BaseUnits)
	}
	if q.DisplayAmount.String() != "5" {
		t.Errorf("expected display amount 5, got %s", q.DisplayAmount)
	}
	if !q.RateUsed.Equal(decimal.RequireFromString("2.00")) {
		t.Errorf("expected rate 2.00, got %s", q.RateUsed)
	}
}

func TestQuoteRoundsUp(t *testing.T) {
	// $10.00 at $3.00 per token: 10/3 * 10^6 = 3333333.33..., which must
	// round up so the merchant is never underpaid.
	oracle := NewOracle(fixedRates{rate: decimal.RequireFromString("3.00")}, DefaultTokens())

	q, err := oracle.Quote(context.Background(), decimal.RequireFromString("10.00"), "USD", "USDC")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.BaseUnits != 3333334 {
		t.Errorf("expected 3333334 base units, got %d", q.BaseUnits)
	}

	// The quoted base units must cover the fiat amount at the rate used.
	covered := decimal.NewFromInt(q.BaseUnits).Shift(-6).Mul(q.RateUsed)
	if covered.LessThan(decimal.RequireFromString("10.00")) {
		t.Errorf("quote underpays: %s covers only %s", q.DisplayAmount, covered)
	}
}

func TestQuoteNeverUnderquotes(t *testing.T) {
	// Rates whose quotient lands a hair above an integer exercise the
	// division-precision edge: the quotient rounds onto the integer
	// before the ceiling is taken, so the quote must be verified and
	// bumped. At this rate $10.00 needs 1,000,001 base units, not
	// 1,000,000.
	rates := []string{
		"9.999999999999999999999999",
		"0.9999999999999999999999999",
		"3.00",
		"0.000021",
	}
	fiat := decimal.RequireFromString("10.00")

	for _, r := range rates {
		t.Run(r, func(t *testing.T) {
			rate := decimal.RequireFromString(r)
			oracle := NewOracle(fixedRates{rate: rate}, DefaultTokens())

			q, err := oracle.Quote(context.Background(), fiat, "USD", "USDC")
			if err != nil {
				t.Fatalf("Quote failed: %v", err)
			}
			paid := decimal.NewFromInt(q.BaseUnits).Shift(-6).Mul(rate)
			if paid.LessThan(fiat) {
				t.Errorf("under-quote: %d base units pays %s < %s at rate %s",
					q.BaseUnits, paid, fiat, rate)
			}
			// The bump never overshoots: one unit less must not cover.
			short := decimal.NewFromInt(q.BaseUnits - 1).Shift(-6).Mul(rate)
			if !short.LessThan(fiat) {
				t.Errorf("over-quote: %d base units is not the minimal cover at rate %s", q.BaseUnits, rate)
			}
		})
	}

	rate := decimal.RequireFromString("9.999999999999999999999999")
	oracle := NewOracle(fixedRates{rate: rate}, DefaultTokens())
	q, err := oracle.Quote(context.Background(), fiat, "USD", "USDC")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.BaseUnits != 1000001 {
		t.Errorf("expected 1000001 base units, got %d", q.BaseUnits)
	}
}

func TestQuoteNativeTokenDecimals(t *testing.T) {
	// SOL has 9 decimals.
	oracle := NewOracle(fixedRates{rate: decimal.RequireFromString("100")}, DefaultTokens())

	q, err := oracle.Quote(context.Background(), decimal.RequireFromString("1.00"), "USD", "SOL")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.BaseUnits != 10000000 {
		t.Errorf("expected 10000000 lamports, got %d", q.BaseUnits)
	}
}

func TestQuoteErrors(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		token   string
		rates   fixedRates
		wantErr error
	}{
		{
			name:    "zero amount",
			amount:  "0",
			token:   "USDC",
			rates:   fixedRates{rate: decimal.NewFromInt(1)},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			amount:  "-5.00",
			token:   "USDC",
			rates:   fixedRates{rate: decimal.NewFromInt(1)},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "unsupported token",
			amount:  "10.00",
			token:   "DOGE",
			rates:   fixedRates{rate: decimal.NewFromInt(1)},
			wantErr: ErrUnsupportedToken,
		},
		{
			name:    "rate source failure",
			amount:  "10.00",
			token:   "USDC",
			rates:   fixedRates{err: errors.New("api down")},
			wantErr: ErrRateUnavailable,
		},
		{
			name:    "zero rate",
			amount:  "10.00",
			token:   "USDC",
			rates:   fixedRates{rate: decimal.Zero},
			wantErr: ErrRateUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := NewOracle(tt.rates, DefaultTokens())
			_, err := oracle.Quote(context.Background(), decimal.RequireFromString(tt.amount), "USD", tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestQuoteTinyRate(t *testing.T) {
	// A very cheap token still quotes without overflow for normal cart
	// totals.
	oracle := NewOracle(fixedRates{rate: decimal.RequireFromString("0.000021")}, DefaultTokens())

	q, err := oracle.Quote(context.Background(), decimal.RequireFromString("10.00"), "USD", "USDC")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.BaseUnits <= 0 {
		t.Errorf("expected positive base units, got %d", q.BaseUnits)
	}
}
