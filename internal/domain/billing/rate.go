package billing

import "github.com/shopspring/decimal"

// RatePolicy converts an aggregated byte total into a billed amount.
// Implementations must be pure so that re-running a batch for the same
// period reproduces the same amount and therefore the same snapshot hash.
type RatePolicy interface {
	// Name identifies the policy in logs and reports
	Name() string

	// Rate maps total bytes to the billed amount
	Rate(totalBytes uint64) decimal.Decimal
}

// IdentityRatePolicy bills one unit per byte (1 byte = 1 wei).
type IdentityRatePolicy struct{}

// Name identifies the policy
func (IdentityRatePolicy) Name() string {
	return "identity"
}

// Rate maps bytes one-to-one onto the billed amount
func (IdentityRatePolicy) Rate(totalBytes uint64) decimal.Decimal {
	return decimal.NewFromUint64(totalBytes)
}

// PerByteRatePolicy bills a fixed price per byte.
type PerByteRatePolicy struct {
	PricePerByte decimal.Decimal
}

// Name identifies the policy
func (PerByteRatePolicy) Name() string {
	return "per-byte"
}

// Rate multiplies the byte total by the configured unit price
func (p PerByteRatePolicy) Rate(totalBytes uint64) decimal.Decimal {
	return decimal.NewFromUint64(totalBytes).Mul(p.PricePerByte)
}
