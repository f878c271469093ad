package models

import "math/big"

// GasPricing describes how a broadcast attempt paid for gas. It is a closed
// two-variant union: LegacyGas carries a single gas price, FeeMarketGas
// carries an EIP-1559 max-fee/max-priority-fee pair. All submissions of one
// job must use the same variant.
type GasPricing interface {
	// TransactionType returns the on-chain transaction type for the variant:
	// 0 for legacy, 2 for fee-market.
	TransactionType() uint8
	// Complete reports whether every field of the variant is populated.
	Complete() bool
}

// LegacyGas is single-gas-price (pre-EIP-1559) pricing.
type LegacyGas struct {
	GasPrice *big.Int `json:"gasPrice"`
}

// TransactionType implements GasPricing.
func (LegacyGas) TransactionType() uint8 { return 0 }

// Complete implements GasPricing.
func (g LegacyGas) Complete() bool { return g.GasPrice != nil }

// FeeMarketGas is EIP-1559 fee-market pricing.
type FeeMarketGas struct {
	MaxFeePerGas         *big.Int `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas"`
}

// TransactionType implements GasPricing.
func (FeeMarketGas) TransactionType() uint8 { return 2 }

// Complete implements GasPricing.
func (g FeeMarketGas) Complete() bool {
	return g.MaxFeePerGas != nil && g.MaxPriorityFeePerGas != nil
}
