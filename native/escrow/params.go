package escrow

import (
	"fmt"
	"math/big"
)

const day int64 = 24 * 60 * 60

// Timing windows, in seconds.
const (
	DisputeWindow    = 7 * day
	OracleDelay      = 14 * day
	FirstOfferWindow = 4 * day
	OfferWindow      = 2 * day
	ArbiterTimeout   = 30 * day
)

const (
	// MaxDisputeRounds caps accepted offers and counter-offers.
	MaxDisputeRounds uint8 = 6
	// CancelPenaltyPercent of the order amount goes to the fee recipient on
	// cancellation.
	CancelPenaltyPercent = 5
	// ArbitrationTaxPercent of the order amount goes to the fee recipient
	// once the arbiter is involved.
	ArbitrationTaxPercent = 10

	// DefaultPremiumBps is the deposit premium over the order amount that
	// funds the gas cushion and the platform fee.
	DefaultPremiumBps uint32 = 250
	// DefaultFeeBps is the platform fee, in basis points of the order amount.
	DefaultFeeBps uint32 = 50

	bpsDenominator = 10_000
)

// Split is the fixed division of a deposit into its earmarked parts.
type Split struct {
	OrderAmount *big.Int
	GasCushion  *big.Int
	FeeAmount   *big.Int
}

// SplitDeposit divides deposit into order amount, gas cushion and fee. The
// order amount is deposit / (1 + premium), rounded down; the fee is feeBps of
// the order amount and the cushion is whatever remains of the premium, so
// the three parts always add up to the deposit.
func SplitDeposit(deposit *big.Int, premiumBps, feeBps uint32) (Split, error) {
	if deposit == nil || deposit.Sign() <= 0 {
		return Split{}, fmt.Errorf("deposit must be positive")
	}
	if premiumBps == 0 || premiumBps > bpsDenominator {
		return Split{}, fmt.Errorf("premium bps out of range: %d", premiumBps)
	}
	if feeBps >= premiumBps {
		return Split{}, fmt.Errorf("fee bps %d must be below premium bps %d", feeBps, premiumBps)
	}
	order := new(big.Int).Mul(deposit, big.NewInt(bpsDenominator))
	order.Quo(order, big.NewInt(int64(bpsDenominator)+int64(premiumBps)))
	fee := new(big.Int).Mul(order, big.NewInt(int64(feeBps)))
	fee.Quo(fee, big.NewInt(bpsDenominator))
	cushion := new(big.Int).Sub(deposit, order)
	cushion.Sub(cushion, fee)
	if cushion.Sign() < 0 {
		return Split{}, fmt.Errorf("deposit too small to fund the fee")
	}
	return Split{OrderAmount: order, GasCushion: cushion, FeeAmount: fee}, nil
}

func percentOf(amount *big.Int, percent uint64) *big.Int {
	out := new(big.Int).Mul(cloneBigInt(amount), new(big.Int).SetUint64(percent))
	return out.Quo(out, big.NewInt(100))
}

func offerWindow(round uint8) int64 {
	if round <= 1 {
		return FirstOfferWindow
	}
	return OfferWindow
}
