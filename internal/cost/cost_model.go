package cost

import (
	"math"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// CostModel 成本模型接口
type CostModel interface {
	// CalculateCost 计算交易成本
	CalculateCost(trade types.Trade) float64

	// CalculateSlippage 计算滑点
	CalculateSlippage(price float64, side types.Side) float64

	// MaxAffordable 在给定现金下按成交价最多可买入的数量 (含费用)
	MaxAffordable(cash float64, price float64) float64
}

// DefaultCostModel 默认成本模型
type DefaultCostModel struct {
	CommissionRate float64 // 佣金率
	MinCommission  float64 // 最低佣金
	SlippageRate   float64 // 滑点率
	TaxRate        float64 // 税率 (卖出时收取)
}

// NewDefaultCostModel 创建默认成本模型
func NewDefaultCostModel(config types.CostConfig) *DefaultCostModel {
	return &DefaultCostModel{
		CommissionRate: config.CommissionRate,
		MinCommission:  config.MinCommission,
		SlippageRate:   config.SlippageRate,
		TaxRate:        config.TaxRate,
	}
}

// NewZeroCostModel 创建零成本模型
func NewZeroCostModel() *DefaultCostModel {
	return &DefaultCostModel{}
}

// CalculateCost 计算交易成本
func (m *DefaultCostModel) CalculateCost(trade types.Trade) float64 {
	tradeValue := math.Abs(trade.Quantity * trade.Price)

	// 佣金
	commission := tradeValue * m.CommissionRate
	if commission < m.MinCommission && tradeValue > 0 {
		commission = m.MinCommission
	}

	// 税费 (仅卖出时收取)
	var tax float64
	if trade.Side == types.SideSell {
		tax = tradeValue * m.TaxRate
	}

	return commission + tax
}

// CalculateSlippage 计算滑点调整后的价格
func (m *DefaultCostModel) CalculateSlippage(price float64, side types.Side) float64 {
	if side == types.SideBuy {
		// 买入时价格上浮
		return price * (1 + m.SlippageRate)
	}
	// 卖出时价格下浮
	return price * (1 - m.SlippageRate)
}

// MaxAffordable 计算最大可买数量
func (m *DefaultCostModel) MaxAffordable(cash float64, price float64) float64 {
	if cash <= 0 || price <= 0 {
		return 0
	}

	quantity := cash / (price * (1 + m.CommissionRate))
	// 最低佣金生效时按扣除最低佣金后的现金计算
	if m.MinCommission > 0 && quantity*price*m.CommissionRate < m.MinCommission {
		quantity = (cash - m.MinCommission) / price
	}
	if quantity < 0 {
		return 0
	}
	return quantity
}
