package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

func TestCalculateCost(t *testing.T) {
	m := NewDefaultCostModel(types.CostConfig{
		CommissionRate: 0.001,
		MinCommission:  1,
		TaxRate:        0.002,
	})

	tests := []struct {
		name  string
		trade types.Trade
		want  float64
	}{
		{"min commission on small buy", types.Trade{Side: types.SideBuy, Quantity: 10, Price: 10}, 1},
		{"rate commission on large buy", types.Trade{Side: types.SideBuy, Quantity: 1000, Price: 10}, 10},
		{"sell adds tax", types.Trade{Side: types.SideSell, Quantity: 1000, Price: 10}, 30},
		{"empty trade is free", types.Trade{Side: types.SideBuy}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, m.CalculateCost(tc.trade), 1e-9)
		})
	}
}

func TestCalculateSlippage(t *testing.T) {
	m := NewDefaultCostModel(types.CostConfig{SlippageRate: 0.01})

	assert.InDelta(t, 101.0, m.CalculateSlippage(100, types.SideBuy), 1e-9)
	assert.InDelta(t, 99.0, m.CalculateSlippage(100, types.SideSell), 1e-9)
}

func TestMaxAffordable(t *testing.T) {
	zero := NewZeroCostModel()
	assert.InDelta(t, 100.0, zero.MaxAffordable(1000, 10), 1e-9)
	assert.Equal(t, 0.0, zero.MaxAffordable(0, 10))
	assert.Equal(t, 0.0, zero.MaxAffordable(1000, 0))

	withFees := NewDefaultCostModel(types.CostConfig{CommissionRate: 0.01})
	q := withFees.MaxAffordable(1010, 10)
	assert.InDelta(t, 100.0, q, 1e-9)
	cost := q*10 + withFees.CalculateCost(types.Trade{Side: types.SideBuy, Quantity: q, Price: 10})
	assert.LessOrEqual(t, cost, 1010.0+1e-9)

	minFee := NewDefaultCostModel(types.CostConfig{CommissionRate: 0.001, MinCommission: 5})
	q = minFee.MaxAffordable(105, 10)
	assert.InDelta(t, 10.0, q, 1e-9)
	assert.Equal(t, 0.0, minFee.MaxAffordable(3, 10))
}
