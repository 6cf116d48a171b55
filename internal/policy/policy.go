package policy

import (
	"strconv"

	"github.com/veritome/knowledge-gateway/internal/record"
)

// Access is the result of classifying a record: either open, or monetized
// with the paywall terms attached.
type Access struct {
	Monetized bool
	Wallet    string
	Price     float64
	PriceRaw  string
}

// Amount returns the challenge amount as a string, preferring the exact
// form the publisher set.
func (a Access) Amount() string {
	if a.PriceRaw != "" {
		return a.PriceRaw
	}
	return strconv.FormatFloat(a.Price, 'f', 2, 64)
}

// Classify decides whether a record is open or monetized. Monetized
// requires all three: the user-contribution marker (case-insensitive), a
// non-empty wallet, and a price strictly greater than zero. A marker with
// incomplete terms degrades to open rather than blocking the record.
func Classify(rec *record.Record) Access {
	if !rec.IsUserContributed() {
		return Access{}
	}
	m := rec.Monetization
	if m == nil || m.WalletAddress == "" || m.PriceUsd <= 0 {
		return Access{}
	}
	return Access{
		Monetized: true,
		Wallet:    m.WalletAddress,
		Price:     m.PriceUsd,
		PriceRaw:  m.PriceRaw,
	}
}
