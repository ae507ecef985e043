package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource supplies the current fiat price of one whole token
// (e.g. 2.00 for a token trading at $2.00). Implementations may cache;
// the oracle never retries a failed lookup itself.
type RateSource interface {
	Rate(ctx context.Context, fiatCurrency, token string) (decimal.Decimal, error)
}

// Quote is a snapshot conversion of a fiat amount into token base units.
// Once used to create a payment request it is never recomputed.
type Quote struct {
	BaseUnits     int64
	DisplayAmount decimal.Decimal
	RateUsed      decimal.Decimal
	QuotedAt      time.Time
}

// Oracle converts fiat amounts into integer token base units
type Oracle struct {
	rates  RateSource
	tokens *TokenRegistry
	now    func() time.Time
}

// NewOracle creates a price oracle over the given rate source and token set
func NewOracle(rates RateSource, tokens *TokenRegistry) *Oracle {
	return &Oracle{rates: rates, tokens: tokens, now: time.Now}
}

// Quote converts fiatAmount into base units of the given token. Rounding is
// always up so truncation can never underpay the merchant.
func (o *Oracle) Quote(ctx context.Context, fiatAmount decimal.Decimal, fiatCurrency, token string) (Quote, error) {
	if !fiatAmount.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidAmount, fiatAmount)
	}

	tok, ok := o.tokens.Get(token)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedToken, token)
	}

	rate, err := o.rates.Rate(ctx, fiatCurrency, tok.Symbol)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		return Quote{}, fmt.Errorf("%w: non-positive rate %s", ErrRateUnavailable, rate)
	}

	// baseUnits = ceil(fiat / rate * 10^decimals)
	baseUnits := fiatAmount.Shift(tok.Decimals).Div(rate).Ceil()
	if !baseUnits.IsInteger() || !baseUnits.IsPositive() {
		return Quote{}, fmt.Errorf("%w: quote produced non-positive amount", ErrInvalidAmount)
	}
	units := baseUnits.IntPart()
	if !decimal.NewFromInt(units).Equal(baseUnits) {
		return Quote{}, fmt.Errorf("quoted amount overflows base units: %s", baseUnits)
	}
	// Div rounds the quotient to DivisionPrecision fractional digits
	// before Ceil sees it, so a quotient a hair above an integer can be
	// rounded down onto it. The true ceiling is then one unit higher:
	// verify the quote covers the fiat amount and bump if not.
	if decimal.NewFromInt(units).Mul(rate).LessThan(fiatAmount.Shift(tok.Decimals)) {
		units++
	}

	return Quote{
		BaseUnits:     units,
		DisplayAmount: decimal.NewFromInt(units).Shift(-tok.Decimals),
		RateUsed:      rate,
		QuotedAt:      o.now(),
	}, nil
}
