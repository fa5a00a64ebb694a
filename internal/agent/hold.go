package agent

import (
	"context"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// Hold 不交易的基准策略
type Hold struct {
	spec types.EnvSpec
}

// NewHold 创建持有策略
func NewHold(spec types.EnvSpec) *Hold {
	return &Hold{spec: spec}
}

func (h *Hold) Family() Family { return FamilyHOLD }

func (h *Hold) Predict(types.Observation) []float64 {
	return make([]float64, h.spec.ActionDim())
}

func (h *Hold) Learn(ctx context.Context, env Environment, _ int) error {
	if err := checkLayout(h.spec, env); err != nil {
		return err
	}
	return ctx.Err()
}

func (h *Hold) snapshot() artifact {
	return artifact{Family: string(FamilyHOLD), Spec: h.spec}
}

func (h *Hold) restore(artifact) error { return nil }
