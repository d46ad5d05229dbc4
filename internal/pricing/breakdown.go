package pricing

import "fmt"

const bpsScale = 10_000

// Rates are expressed in basis points so every line item stays in integer arithmetic.
type Rates struct {
	PlatformFeeBps int64
	VATBps         int64
}

var DefaultRates = Rates{PlatformFeeBps: 1000, VATBps: 1600}

// Breakdown is the line-by-line price of a stay in whole currency units.
type Breakdown struct {
	NightlyRate    int64 `json:"nightlyRate"`
	Nights         int   `json:"nights"`
	BaseAmount     int64 `json:"baseAmount"`
	PlatformFeeBps int64 `json:"platformFeeBps"`
	PlatformFee    int64 `json:"platformFee"`
	VATBps         int64 `json:"vatBps"`
	VAT            int64 `json:"vat"`
	TotalAmount    int64 `json:"totalAmount"`
}

// Balanced reports whether the displayed lines add up to the displayed total.
func (b Breakdown) Balanced() bool {
	return b.BaseAmount+b.PlatformFee+b.VAT == b.TotalAmount
}

// ComputeBreakdown prices a stay with the default 10% platform fee and 16% VAT.
func ComputeBreakdown(nightlyRate int64, nights int) (Breakdown, error) {
	return DefaultRates.Compute(nightlyRate, nights)
}

// Compute rounds the fee, then VAT on base+fee, each to the nearest unit on its own.
func (r Rates) Compute(nightlyRate int64, nights int) (Breakdown, error) {
	if nightlyRate <= 0 {
		return Breakdown{}, &InvalidInputError{Param: "nightlyRate", Reason: fmt.Sprintf("must be positive, got %d", nightlyRate)}
	}
	if nights < 1 {
		return Breakdown{}, &InvalidInputError{Param: "nights", Reason: fmt.Sprintf("must be at least 1, got %d", nights)}
	}
	if r.PlatformFeeBps < 0 || r.VATBps < 0 {
		return Breakdown{}, &InvalidInputError{Param: "rates", Reason: "must not be negative"}
	}

	base := nightlyRate * int64(nights)
	fee := roundBps(base, r.PlatformFeeBps)
	vat := roundBps(base+fee, r.VATBps)

	return Breakdown{
		NightlyRate:    nightlyRate,
		Nights:         nights,
		BaseAmount:     base,
		PlatformFeeBps: r.PlatformFeeBps,
		PlatformFee:    fee,
		VATBps:         r.VATBps,
		VAT:            vat,
		TotalAmount:    base + fee + vat,
	}, nil
}

// roundBps returns round(amount * bps / 10000) with halves rounded up; amount >= 0.
func roundBps(amount, bps int64) int64 {
	return (amount*bps + bpsScale/2) / bpsScale
}
