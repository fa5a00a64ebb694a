package portfolio

import (
	"math"
	"time"

	"github.com/opsxjacky/multistock-rl/internal/cost"
	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// cashEpsilon 浮点误差容忍度
const cashEpsilon = 1e-9

// Manager 投资组合管理器
//
// 所有成交都会被裁剪: 卖出不超过持仓, 买入不超过可用现金,
// 因此现金和持股始终非负。
type Manager struct {
	symbols    []string
	cash       float64
	shares     []float64
	costModel  cost.CostModel
	fractional bool
	trades     []types.Trade
}

// NewManager 创建投资组合管理器
func NewManager(symbols []string, initialCash float64, costModel cost.CostModel, fractional bool) *Manager {
	m := &Manager{
		symbols:    symbols,
		costModel:  costModel,
		fractional: fractional,
	}
	m.Reset(initialCash)
	return m
}

// Reset 恢复初始现金并清空持仓
func (m *Manager) Reset(initialCash float64) {
	m.cash = initialCash
	m.shares = make([]float64, len(m.symbols))
	m.trades = make([]types.Trade, 0)
}

// Cash 当前现金
func (m *Manager) Cash() float64 {
	return m.cash
}

// Shares 当前持股 (副本)
func (m *Manager) Shares() []float64 {
	out := make([]float64, len(m.shares))
	copy(out, m.shares)
	return out
}

// State 当前账户状态 (副本)
func (m *Manager) State() types.PortfolioState {
	return types.PortfolioState{Cash: m.cash, Shares: m.Shares()}
}

// Value 按给定价格计算总价值
func (m *Manager) Value(prices []float64) float64 {
	return types.PortfolioState{Cash: m.cash, Shares: m.shares}.Value(prices)
}

// GetTrades 获取所有成交记录
func (m *Manager) GetTrades() []types.Trade {
	return m.trades
}

// ExecuteOrder 执行订单, 返回实际成交; 裁剪后数量为 0 时返回 false
func (m *Manager) ExecuteOrder(order types.Order, day int, timestamp time.Time) (types.Trade, bool) {
	if order.Stock < 0 || order.Stock >= len(m.shares) {
		return types.Trade{}, false
	}
	if !types.ValidPrice(order.Price) || math.IsNaN(order.Quantity) || order.Quantity <= 0 {
		return types.Trade{}, false
	}

	// 计算滑点调整后的价格
	executionPrice := m.costModel.CalculateSlippage(order.Price, order.Side)
	if !types.ValidPrice(executionPrice) {
		return types.Trade{}, false
	}

	trade := types.Trade{
		Day:       day,
		Timestamp: timestamp,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Requested: order.Quantity,
		Price:     executionPrice,
	}

	var ok bool
	if order.Side == types.SideBuy {
		ok = m.executeBuy(order.Stock, &trade)
	} else {
		ok = m.executeSell(order.Stock, &trade)
	}
	if !ok {
		return types.Trade{}, false
	}

	m.trades = append(m.trades, trade)
	return trade, true
}

// executeBuy 执行买入, 超出可用现金的部分被削减
func (m *Manager) executeBuy(stock int, trade *types.Trade) bool {
	quantity := math.Min(trade.Requested, m.costModel.MaxAffordable(m.cash, trade.Price))
	quantity = m.roundQuantity(quantity)

	affordable := false
	for i := 0; quantity > 0 && i < 64; i++ {
		trade.Quantity = quantity
		trade.Value = quantity * trade.Price
		trade.Fee = m.costModel.CalculateCost(*trade)
		if trade.Value+trade.Fee <= m.cash+cashEpsilon {
			affordable = true
			break
		}
		// 浮点误差导致超支时减少一股 (或按比例收缩)
		if m.fractional {
			quantity *= 1 - 1e-6
		} else {
			quantity--
		}
	}
	if !affordable {
		return false
	}

	m.cash -= trade.Value + trade.Fee
	if m.cash < 0 {
		m.cash = 0
	}
	m.shares[stock] += quantity
	return true
}

// executeSell 执行卖出, 超出持仓的部分被削减
func (m *Manager) executeSell(stock int, trade *types.Trade) bool {
	quantity := m.roundQuantity(math.Min(trade.Requested, m.shares[stock]))
	if quantity <= 0 {
		return false
	}

	trade.Quantity = quantity
	trade.Value = quantity * trade.Price
	trade.Fee = m.costModel.CalculateCost(*trade)

	// 费用超过卖出所得且现金不足以支付时放弃该笔交易
	if m.cash+trade.Value-trade.Fee < 0 {
		return false
	}

	m.cash += trade.Value - trade.Fee
	m.shares[stock] -= quantity
	if m.shares[stock] < cashEpsilon {
		m.shares[stock] = 0
	}
	return true
}

// roundQuantity 非碎股模式下向下取整
func (m *Manager) roundQuantity(q float64) float64 {
	if q <= 0 || math.IsNaN(q) {
		return 0
	}
	if m.fractional {
		return q
	}
	// 容忍 99.99999999 这类浮点误差
	return math.Floor(q + 1e-9)
}
