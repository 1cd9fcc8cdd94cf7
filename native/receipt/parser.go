package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"tabsplit/native/split"
)

// maxPayloadBytes bounds the decoded QR payload accepted by the parser.
const maxPayloadBytes = 1 << 20

// wireItem is the tuple shape supplied by the external decoder. Unit prices
// travel as decimal strings so the wire never carries binary floats.
type wireItem struct {
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int64  `json:"quantity"`
}

// Parse turns a raw decoded receipt payload into sanitized line items ready
// for the ledger. Every decode or validation failure surfaces as
// split.ErrInvalidReceipt so callers handle one taxonomy regardless of where
// the payload broke.
func Parse(raw []byte) ([]split.LineItem, error) {
	if len(raw) > maxPayloadBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", split.ErrInvalidReceipt, maxPayloadBytes)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var wire []wireItem
	if err := decoder.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", split.ErrInvalidReceipt, err)
	}

	items := make([]split.LineItem, 0, len(wire))
	for i, entry := range wire {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: item %d missing name", split.ErrInvalidReceipt, i)
		}
		cents, err := parseCents(entry.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: item %q: %v", split.ErrInvalidReceipt, name, err)
		}
		if entry.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %q has non-positive quantity %d", split.ErrInvalidReceipt, name, entry.Quantity)
		}
		items = append(items, split.LineItem{
			ID:             strconv.Itoa(i + 1),
			Name:           name,
			UnitPriceCents: cents,
			Quantity:       entry.Quantity,
		})
	}
	return items, nil
}

// parseCents converts a decimal price string into fiat cents, rounding
// half-up at the smallest currency unit.
func parseCents(price string) (int64, error) {
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return 0, fmt.Errorf("missing unit price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return 0, fmt.Errorf("invalid unit price %q", price)
	}
	if rat.Sign() < 0 {
		return 0, fmt.Errorf("negative unit price %q", price)
	}
	// cents = floor(price*100 + 1/2)
	scaled := new(big.Rat).Mul(rat, big.NewRat(100, 1))
	scaled.Add(scaled, big.NewRat(1, 2))
	cents := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if !cents.IsInt64() {
		return 0, fmt.Errorf("unit price %q out of range", price)
	}
	return cents.Int64(), nil
}
