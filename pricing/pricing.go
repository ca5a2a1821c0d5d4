// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/harvy-btc/harvy/bitcoin"
	"github.com/harvy-btc/harvy/internal/numbers"
)

var (
	// ErrInvalidBitcoinPrice defines that the BTC/USD reference price is not positive.
	ErrInvalidBitcoinPrice = errors.New("btc price must be positive")
	// ErrInvalidTiers defines that the fee tier table is empty or not strictly ascending.
	ErrInvalidTiers = errors.New("fee tiers must be ascending and non-empty")
	// ErrInvalidTaxRate defines that the configured marginal tax rate is out of (0, 1] range.
	ErrInvalidTaxRate = errors.New("tax rate must be in (0, 1]")
)

// Tier defines one step of the service fee function: the percent charged for
// tax savings up to and including ThresholdUSD.
type Tier struct {
	ThresholdUSD float64
	Percent      int
}

// FeeQuote describes the service fee derived from a tax savings value.
type FeeQuote struct {
	FeeUSD     float64 // rounded to cents.
	FeePercent int
	Tier       int // 1-based tier index.
}

// DefaultTiers returns the standard service fee schedule.
// The last tier is unbounded and applies to any larger savings.
func DefaultTiers() []Tier {
	return []Tier{
		{ThresholdUSD: 100, Percent: 5},
		{ThresholdUSD: 500, Percent: 7},
		{ThresholdUSD: 2000, Percent: 10},
		{ThresholdUSD: 10000, Percent: 12},
		{ThresholdUSD: math.Inf(1), Percent: 15},
	}
}

// DefaultTaxRate defines the assumed marginal tax rate used to turn a
// realized loss into an estimated tax savings.
const DefaultTaxRate = 0.30

// Calculator converts between currency units and computes tiered service
// fees. Pure computation, no external I/O.
type Calculator struct {
	tiers   []Tier
	taxRate float64
}

// NewCalculator is a constructor for Calculator. Tier thresholds and percents
// must be strictly ascending so the fee function stays monotonic.
func NewCalculator(tiers []Tier, taxRate float64) (*Calculator, error) {
	if len(tiers) == 0 {
		return nil, ErrInvalidTiers
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].ThresholdUSD <= tiers[i-1].ThresholdUSD || tiers[i].Percent < tiers[i-1].Percent {
			return nil, fmt.Errorf("%w: tier %d", ErrInvalidTiers, i+1)
		}
	}
	if taxRate <= 0 || taxRate > 1 {
		return nil, ErrInvalidTaxRate
	}

	return &Calculator{tiers: tiers, taxRate: taxRate}, nil
}

// ServiceFee walks the ascending tier table and applies the first tier whose
// threshold covers the input. A non-positive input still resolves to tier 1,
// rejecting non-positive losses is the builder's job.
func (c *Calculator) ServiceFee(taxSavingsUSD float64) FeeQuote {
	for i, tier := range c.tiers {
		if taxSavingsUSD <= tier.ThresholdUSD || i == len(c.tiers)-1 {
			return FeeQuote{
				FeeUSD:     numbers.RoundTo(taxSavingsUSD*float64(tier.Percent)/100, 2),
				FeePercent: tier.Percent,
				Tier:       i + 1,
			}
		}
	}

	// unreachable, the constructor rejects empty tier tables.
	return FeeQuote{}
}

// TaxSavings returns the estimated tax savings for a realized loss in USD.
func (c *Calculator) TaxSavings(taxLossUSD float64) float64 {
	return numbers.RoundTo(taxLossUSD*c.taxRate, 2)
}

// USDToSats converts a USD value to whole satoshi at the given reference price.
func USDToSats(usd, btcPriceUSD float64) (int64, error) {
	if btcPriceUSD <= 0 {
		return 0, ErrInvalidBitcoinPrice
	}

	return numbers.RoundToSats(usd / btcPriceUSD * float64(bitcoin.SatoshiPerBitcoin)), nil
}

// SatsToUSD converts a satoshi amount to USD rounded to cents at the given reference price.
func SatsToUSD(sats int64, btcPriceUSD float64) (float64, error) {
	if btcPriceUSD <= 0 {
		return 0, ErrInvalidBitcoinPrice
	}

	return numbers.RoundTo(float64(sats)/float64(bitcoin.SatoshiPerBitcoin)*btcPriceUSD, 2), nil
}
