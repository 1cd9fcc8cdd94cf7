package loyalty

// Tier thresholds and their discount percentages. Tokens accumulate one per
// completed settlement; the discount applies to future payments.
const (
	tierOneTokens   = 25
	tierTwoTokens   = 50
	tierThreeTokens = 100

	tierOneDiscount   = 5
	tierTwoDiscount   = 10
	tierThreeDiscount = 20
)

// TierFor maps an accumulated token count to a discount percentage.
// Deterministic step function with no failure modes; negative balances map
// to the zero tier.
func TierFor(tokens int64) uint8 {
	switch {
	case tokens >= tierThreeTokens:
		return tierThreeDiscount
	case tokens >= tierTwoTokens:
		return tierTwoDiscount
	case tokens >= tierOneTokens:
		return tierOneDiscount
	default:
		return 0
	}
}

// NextTierGap returns the tokens remaining until the next discount threshold,
// or zero once the maximum tier is reached.
func NextTierGap(tokens int64) int64 {
	switch {
	case tokens >= tierThreeTokens:
		return 0
	case tokens >= tierTwoTokens:
		return tierThreeTokens - tokens
	case tokens >= tierOneTokens:
		return tierTwoTokens - tokens
	case tokens < 0:
		return tierOneTokens
	default:
		return tierOneTokens - tokens
	}
}

// BalanceSource supplies a participant's current token count from an
// external balance store.
type BalanceSource interface {
	TokenBalance(participant string) (int64, error)
}
