package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

var (
	// ErrUnsupportedFamily 未知的智能体类型
	ErrUnsupportedFamily = errors.New("unsupported agent family")
	// ErrLayoutMismatch 模型的观测结构与当前环境不一致
	ErrLayoutMismatch = errors.New("model observation layout does not match environment")
)

// Family 智能体类型
type Family string

const (
	FamilyARS  Family = "ARS"
	FamilyEQW  Family = "EQW"
	FamilyHOLD Family = "HOLD"
)

// Families 已支持的智能体类型
var Families = []Family{FamilyARS, FamilyEQW, FamilyHOLD}

// Environment 智能体训练所需的环境接口
type Environment interface {
	// Reset 重置回合并返回初始观测
	Reset() types.Observation

	// Step 执行一个动作
	Step(action []float64) (types.StepResult, error)

	// ActionDim 动作维度
	ActionDim() int

	// ObservationDim 观测维度
	ObservationDim() int
}

// Agent 交易智能体接口
type Agent interface {
	// Family 智能体类型
	Family() Family

	// Predict 根据观测给出动作, 每个分量在 [-1, 1]
	Predict(obs types.Observation) []float64

	// Learn 在环境中训练, budget 为环境步数上限
	Learn(ctx context.Context, env Environment, budget int) error
}

// ParseFamily 解析智能体类型 (大小写不敏感)
func ParseFamily(s string) (Family, error) {
	for _, f := range Families {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFamily, s)
}

// DefaultParams 默认训练参数
func DefaultParams() types.AgentParams {
	return types.AgentParams{
		Seed:          42,
		Gamma:         0.99,
		LearningRate:  0.02,
		NoiseStd:      0.03,
		Directions:    8,
		TopDirections: 4,
		Threshold:     0.05,
		MinTradeValue: 100,
	}
}

// New 按类型创建智能体
func New(family Family, spec types.EnvSpec, params types.AgentParams, log zerolog.Logger) (Agent, error) {
	if spec.Stocks < 1 || spec.Window < 1 || spec.Features < 1 {
		return nil, fmt.Errorf("invalid observation layout: %d stocks, window %d, %d features", spec.Stocks, spec.Window, spec.Features)
	}
	params = withDefaults(params)
	log = log.With().Str("component", "agent").Str("family", string(family)).Logger()

	switch family {
	case FamilyARS:
		return NewARS(spec, params, log), nil
	case FamilyEQW:
		return NewEqualWeight(spec, params), nil
	case FamilyHOLD:
		return NewHold(spec), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFamily, family)
	}
}

// withDefaults 用默认值补齐未设置的参数
func withDefaults(p types.AgentParams) types.AgentParams {
	d := DefaultParams()
	if p.Gamma <= 0 || p.Gamma > 1 {
		p.Gamma = d.Gamma
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.NoiseStd <= 0 {
		p.NoiseStd = d.NoiseStd
	}
	if p.Directions <= 0 {
		p.Directions = d.Directions
	}
	if p.TopDirections <= 0 {
		p.TopDirections = d.TopDirections
	}
	if p.TopDirections > p.Directions {
		p.TopDirections = p.Directions
	}
	if p.Threshold < 0 {
		p.Threshold = 0
	}
	if p.MinTradeValue < 0 {
		p.MinTradeValue = 0
	}
	return p
}

// checkLayout 校验环境维度与智能体的观测结构一致
func checkLayout(spec types.EnvSpec, env Environment) error {
	if env.ActionDim() != spec.ActionDim() || env.ObservationDim() != spec.ObservationDim() {
		return fmt.Errorf("%w: agent expects obs=%d act=%d, env has obs=%d act=%d",
			ErrLayoutMismatch, spec.ObservationDim(), spec.ActionDim(), env.ObservationDim(), env.ActionDim())
	}
	return nil
}
