package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// CommissionRateNumerator / CommissionRateDenominator encode the 1.5% fee.
const (
	CommissionRateNumerator   = 3
	CommissionRateDenominator = 200
)

// Commission computes the sender fee: ceil(amount * 3 / 200), i.e. 1.5%
// rounded up to the nearest minor unit. Rounding up is an invariant; rounding
// down would leak value from the closed system one sub-cent at a time.
func Commission(amount int64) int64 {
	return (amount*CommissionRateNumerator + CommissionRateDenominator - 1) / CommissionRateDenominator
}

// TotalDebited returns amount plus commission.
func TotalDebited(amount int64) int64 {
	return amount + Commission(amount)
}

// DeriveIdempotencyKey builds a key for callers that omit the Idempotency-Key
// header: sha256("sender|receiver|amount|timestamp") hex-encoded.
func DeriveIdempotencyKey(senderID, receiverID, amount, timestamp int64) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d|%d|%d|%d", senderID, receiverID, amount, timestamp))
	return hex.EncodeToString(h[:])
}

// FormatDollars renders minor units as a decimal string ("123.45").
// Read path only; all balance arithmetic stays in int64 minor units.
func FormatDollars(minorUnits int64) string {
	return decimal.NewFromInt(minorUnits).Div(decimal.NewFromInt(100)).StringFixed(2)
}
