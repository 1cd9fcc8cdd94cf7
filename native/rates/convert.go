package rates

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidRate rejects nil, zero or negative exchange rates.
	ErrInvalidRate = errors.New("rates: invalid rate")
	// ErrInvalidAmount rejects negative fiat amounts.
	ErrInvalidAmount = errors.New("rates: invalid amount")
)

// ToBaseUnits converts a fiat amount in cents into crypto base units at the
// given fiat-per-crypto-unit rate, flooring toward zero so rounding never
// overcharges the payer. decimals is the asset's base-unit exponent (9 for
// lamport-style assets). Pure function, no I/O.
func ToBaseUnits(fiatCents int64, rate *big.Rat, decimals uint8) (*big.Int, error) {
	if rate == nil || rate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	if fiatCents < 0 {
		return nil, fmt.Errorf("%w: %d cents", ErrInvalidAmount, fiatCents)
	}

	fiat := new(big.Rat).SetFrac(big.NewInt(fiatCents), big.NewInt(100))
	units := new(big.Rat).Quo(fiat, rate)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	units.Mul(units, new(big.Rat).SetInt(scale))
	// Quo truncates toward zero; amounts are non-negative so this floors.
	return new(big.Int).Quo(units.Num(), units.Denom()), nil
}

// BaseUnitsToFiatCents converts base units back to fiat cents at the given
// rate, flooring toward zero. It is the inverse bound used to verify that
// ToBaseUnits never overcharges the payer.
func BaseUnitsToFiatCents(amount *big.Int, rate *big.Rat, decimals uint8) (int64, error) {
	if rate == nil || rate.Sign() <= 0 {
		return 0, ErrInvalidRate
	}
	if amount == nil || amount.Sign() < 0 {
		return 0, fmt.Errorf("%w: nil or negative base units", ErrInvalidAmount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole := new(big.Rat).SetFrac(amount, scale)
	fiat := new(big.Rat).Mul(whole, rate)
	fiat.Mul(fiat, big.NewRat(100, 1))
	return new(big.Int).Quo(fiat.Num(), fiat.Denom()).Int64(), nil
}
