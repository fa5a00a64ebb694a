package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsxjacky/multistock-rl/internal/cost"
	"github.com/opsxjacky/multistock-rl/pkg/types"
)

var day0 = time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)

func newManager(cash float64) *Manager {
	return NewManager([]string{"AAPL", "MSFT"}, cash, cost.NewZeroCostModel(), false)
}

func TestExecuteOrder_Buy(t *testing.T) {
	m := newManager(1000)

	trade, ok := m.ExecuteOrder(types.Order{Stock: 0, Symbol: "AAPL", Side: types.SideBuy, Quantity: 10, Price: 50}, 0, day0)
	require.True(t, ok)
	assert.Equal(t, 10.0, trade.Quantity)
	assert.InDelta(t, 500.0, m.Cash(), 1e-9)
	assert.Equal(t, []float64{10, 0}, m.Shares())
	assert.Len(t, m.GetTrades(), 1)
}

func TestExecuteOrder_BuyClippedToCash(t *testing.T) {
	m := newManager(1000)

	trade, ok := m.ExecuteOrder(types.Order{Stock: 1, Symbol: "MSFT", Side: types.SideBuy, Quantity: 500, Price: 30}, 0, day0)
	require.True(t, ok)
	assert.Equal(t, 500.0, trade.Requested)
	assert.Equal(t, 33.0, trade.Quantity)
	assert.InDelta(t, 10.0, m.Cash(), 1e-9)
	assert.GreaterOrEqual(t, m.Cash(), 0.0)
}

func TestExecuteOrder_SellClippedToHoldings(t *testing.T) {
	m := newManager(1000)
	_, ok := m.ExecuteOrder(types.Order{Stock: 0, Side: types.SideBuy, Quantity: 5, Price: 100}, 0, day0)
	require.True(t, ok)

	trade, ok := m.ExecuteOrder(types.Order{Stock: 0, Side: types.SideSell, Quantity: 50, Price: 100}, 1, day0)
	require.True(t, ok)
	assert.Equal(t, 5.0, trade.Quantity)
	assert.Equal(t, []float64{0, 0}, m.Shares())
	assert.InDelta(t, 1000.0, m.Cash(), 1e-9)
}

func TestExecuteOrder_NoOps(t *testing.T) {
	m := newManager(1000)

	tests := []struct {
		name  string
		order types.Order
	}{
		{"sell without holdings", types.Order{Stock: 0, Side: types.SideSell, Quantity: 1, Price: 10}},
		{"zero price", types.Order{Stock: 0, Side: types.SideBuy, Quantity: 1, Price: 0}},
		{"negative price", types.Order{Stock: 0, Side: types.SideBuy, Quantity: 1, Price: -5}},
		{"zero quantity", types.Order{Stock: 0, Side: types.SideBuy, Quantity: 0, Price: 10}},
		{"unaffordable", types.Order{Stock: 0, Side: types.SideBuy, Quantity: 1, Price: 5000}},
		{"unknown stock", types.Order{Stock: 7, Side: types.SideBuy, Quantity: 1, Price: 10}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := m.ExecuteOrder(tc.order, 0, day0)
			assert.False(t, ok)
			assert.Equal(t, 1000.0, m.Cash())
			assert.Equal(t, []float64{0, 0}, m.Shares())
		})
	}
}

func TestExecuteOrder_FeesNeverOverdraw(t *testing.T) {
	costModel := cost.NewDefaultCostModel(types.CostConfig{CommissionRate: 0.01, MinCommission: 2, SlippageRate: 0.001})
	m := NewManager([]string{"AAPL"}, 1000, costModel, false)

	trade, ok := m.ExecuteOrder(types.Order{Stock: 0, Side: types.SideBuy, Quantity: 1000, Price: 9.99}, 0, day0)
	require.True(t, ok)
	assert.Greater(t, trade.Fee, 0.0)
	assert.GreaterOrEqual(t, m.Cash(), 0.0)
	assert.InDelta(t, 1000.0, m.Cash()+trade.Value+trade.Fee, 1e-6)
}

func TestExecuteOrder_Fractional(t *testing.T) {
	m := NewManager([]string{"AAPL"}, 100, cost.NewZeroCostModel(), true)

	trade, ok := m.ExecuteOrder(types.Order{Stock: 0, Side: types.SideBuy, Quantity: 50, Price: 30}, 0, day0)
	require.True(t, ok)
	assert.InDelta(t, 100.0/30.0, trade.Quantity, 1e-6)
	assert.GreaterOrEqual(t, m.Cash(), 0.0)
}

func TestValueAndReset(t *testing.T) {
	m := newManager(1000)
	_, ok := m.ExecuteOrder(types.Order{Stock: 0, Side: types.SideBuy, Quantity: 4, Price: 100}, 0, day0)
	require.True(t, ok)

	assert.InDelta(t, 600.0+4*120.0, m.Value([]float64{120, 50}), 1e-9)
	assert.InDelta(t, 600.0, m.Value([]float64{0, 50}), 1e-9)

	m.Reset(2000)
	assert.Equal(t, 2000.0, m.Cash())
	assert.Equal(t, []float64{0, 0}, m.Shares())
	assert.Empty(t, m.GetTrades())
}
