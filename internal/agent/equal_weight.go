package agent

import (
	"context"
	"math"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// EqualWeight 等权再平衡策略
//
// 以窗口内最近收盘价估算持仓市值, 把偏离 1/n 目标权重超过阈值的标的
// 拉回目标, 交易量按单次上限 k 换算为 [-1, 1] 的动作。
type EqualWeight struct {
	spec          types.EnvSpec
	params        types.AgentParams
	threshold     float64 // 偏离阈值，触发再平衡
	minTradeValue float64 // 最小交易金额
}

// NewEqualWeight 创建等权策略
func NewEqualWeight(spec types.EnvSpec, params types.AgentParams) *EqualWeight {
	return &EqualWeight{
		spec:          spec,
		params:        params,
		threshold:     params.Threshold,
		minTradeValue: params.MinTradeValue,
	}
}

// Family 返回类型
func (s *EqualWeight) Family() Family {
	return FamilyEQW
}

// Learn 等权策略无需训练
func (s *EqualWeight) Learn(ctx context.Context, env Environment, budget int) error {
	if err := checkLayout(s.spec, env); err != nil {
		return err
	}
	return ctx.Err()
}

// Predict 生成再平衡动作
func (s *EqualWeight) Predict(obs types.Observation) []float64 {
	n := s.spec.Stocks
	action := make([]float64, n)

	prices := make([]float64, n)
	values := make([]float64, n)
	totalValue := s.spec.Cash(obs)
	for i := 0; i < n; i++ {
		prices[i] = s.spec.LastClose(obs, i)
		if !types.ValidPrice(prices[i]) {
			continue
		}
		values[i] = s.spec.Shares(obs, i) * prices[i]
		totalValue += values[i]
	}
	if totalValue <= 0 {
		return action
	}

	target := 1.0 / float64(n)
	for i := 0; i < n; i++ {
		if !types.ValidPrice(prices[i]) {
			continue
		}

		// 偏离未超过阈值时不交易
		if math.Abs(values[i]/totalValue-target) <= s.threshold {
			continue
		}

		diff := totalValue*target - values[i]
		// 忽略小额交易
		if math.Abs(diff) < s.minTradeValue {
			continue
		}

		quantity := math.Abs(diff) / prices[i]
		a := math.Min(1, quantity/s.spec.MaxTrade)
		if diff < 0 {
			a = -a
		}
		action[i] = a
	}
	return action
}

func (s *EqualWeight) snapshot() artifact {
	return artifact{Family: string(FamilyEQW), Spec: s.spec, Params: s.params}
}

func (s *EqualWeight) restore(artifact) error {
	return nil
}
