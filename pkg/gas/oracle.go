// Package gas prices transactions and escalates stuck ones.
package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/metrics"
	"github.com/quotient-hq/rfq-relay/pkg/models"
)

const (
	// bumpNumerator/bumpDenominator give the 10% minimum replacement bump
	// nodes require, plus headroom
	bumpNumerator   = 115
	bumpDenominator = 100

	// defaultPriorityFeeWei is used when the node has no fee history
	defaultPriorityFeeWei = 1_500_000_000 // 1.5 gwei
)

// Oracle suggests gas pricing for new submissions and escalates pricing for
// replacements. All submissions of one trade share a single pricing format,
// so Escalate never switches formats.
type Oracle struct {
	client *ethclient.Client
	logger logger.Logger
}

// NewOracle creates a gas oracle backed by the given RPC client
func NewOracle(client *ethclient.Client, log logger.Logger) *Oracle {
	return &Oracle{client: client, logger: log}
}

// SuggestInitial returns pricing for a first broadcast. Chains whose head
// block carries a base fee get EIP-1559 pricing; everything else gets legacy.
func (o *Oracle) SuggestInitial(ctx context.Context) (models.GasPricing, error) {
	head, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head block: %v", err)
	}

	if head.BaseFee == nil {
		gasPrice, err := o.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch gas price: %v", err)
		}
		metrics.GasPrice.Set(weiToGwei(gasPrice))
		return models.LegacyGas{GasPrice: gasPrice}, nil
	}

	tip, err := o.client.SuggestGasTipCap(ctx)
	if err != nil {
		o.logger.DebugWith(logger.Chain, "Tip suggestion failed, using default: %v", err)
		tip = big.NewInt(defaultPriorityFeeWei)
	}

	// maxFee = 2*baseFee + tip survives six consecutive full blocks
	maxFee := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	metrics.GasPrice.Set(weiToGwei(maxFee))

	return models.FeeMarketGas{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	}, nil
}

// Escalate returns pricing for a replacement transaction: the previous
// pricing bumped by at least the node's replacement threshold. The format
// of the previous pricing is preserved.
func (o *Oracle) Escalate(prev models.GasPricing) (models.GasPricing, error) {
	metrics.GasBumps.Inc()

	switch p := prev.(type) {
	case models.LegacyGas:
		if p.GasPrice == nil {
			return nil, fmt.Errorf("cannot escalate incomplete legacy pricing")
		}
		return models.LegacyGas{GasPrice: bump(p.GasPrice)}, nil
	case models.FeeMarketGas:
		if p.MaxFeePerGas == nil || p.MaxPriorityFeePerGas == nil {
			return nil, fmt.Errorf("cannot escalate incomplete fee market pricing")
		}
		return models.FeeMarketGas{
			MaxFeePerGas:         bump(p.MaxFeePerGas),
			MaxPriorityFeePerGas: bump(p.MaxPriorityFeePerGas),
		}, nil
	default:
		return nil, fmt.Errorf("unknown gas pricing format %T", prev)
	}
}

func bump(v *big.Int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bumpNumerator))
	return out.Div(out, big.NewInt(bumpDenominator))
}

func weiToGwei(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	return f
}
