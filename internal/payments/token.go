package payments

import "strings"

// Token describes a settlement currency accepted by the engine.
// Mint is empty for the chain's native token.
type Token struct {
	Symbol      string
	Mint        string
	Decimals    int32
	CoinGeckoID string
}

// TokenRegistry is the set of supported settlement tokens
type TokenRegistry struct {
	bySymbol map[string]Token
}

// NewTokenRegistry creates a registry from the given tokens
func NewTokenRegistry(tokens ...Token) *TokenRegistry {
	r := &TokenRegistry{bySymbol: make(map[string]Token, len(tokens))}
	for _, t := range tokens {
		r.bySymbol[strings.ToUpper(t.Symbol)] = t
	}
	return r
}

// DefaultTokens returns the registry of tokens the storefront settles in
func DefaultTokens() *TokenRegistry {
	return NewTokenRegistry(
		Token{Symbol: "SOL", Mint: "", Decimals: 9, CoinGeckoID: "solana"},
		Token{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6, CoinGeckoID: "usd-coin"},
		Token{Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6, CoinGeckoID: "tether"},
	)
}

// Get looks up a token by symbol (case-insensitive)
func (r *TokenRegistry) Get(symbol string) (Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Symbols returns the supported token symbols
func (r *TokenRegistry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	return out
}
