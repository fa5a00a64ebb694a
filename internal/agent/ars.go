package agent

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// ARS 线性策略 tanh(W · norm(obs)), 使用增强随机搜索训练
//
// 每轮采样 Directions 个高斯扰动方向, 对 W±σδ 各跑一次回合,
// 取得分最高的 TopDirections 个方向按奖励标准差缩放后更新 W。
type ARS struct {
	spec    types.EnvSpec
	params  types.AgentParams
	weights *mat.Dense // ActionDim x ObservationDim
	norm    *runningNorm
	rng     *rand.Rand
	log     zerolog.Logger
}

// NewARS 创建 ARS 智能体, 初始权重为 0 (即初始策略不交易)
func NewARS(spec types.EnvSpec, params types.AgentParams, log zerolog.Logger) *ARS {
	seed := uint64(params.Seed)
	return &ARS{
		spec:    spec,
		params:  params,
		weights: mat.NewDense(spec.ActionDim(), spec.ObservationDim(), nil),
		norm:    newRunningNorm(spec.ObservationDim()),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log:     log,
	}
}

// Family 返回类型
func (a *ARS) Family() Family {
	return FamilyARS
}

// Predict 计算动作
func (a *ARS) Predict(obs types.Observation) []float64 {
	return a.act(a.weights, obs)
}

func (a *ARS) act(w mat.Matrix, obs types.Observation) []float64 {
	x := mat.NewVecDense(len(obs), a.norm.apply(obs))
	rows, _ := w.Dims()
	y := mat.NewVecDense(rows, nil)
	y.MulVec(w, x)

	action := make([]float64, rows)
	for i := range action {
		action[i] = math.Tanh(y.AtVec(i))
	}
	return action
}

// direction 一组对称扰动的评估结果
type direction struct {
	delta *mat.Dense
	plus  float64
	minus float64
}

// Learn 训练直到消耗 budget 个环境步; 每次 rollout 的长度为 budget/(2·Directions)
func (a *ARS) Learn(ctx context.Context, env Environment, budget int) error {
	if err := checkLayout(a.spec, env); err != nil {
		return err
	}
	if budget <= 0 {
		return nil
	}

	horizon := budget / (2 * a.params.Directions)
	if horizon < 1 {
		horizon = 1
	}

	used := 0
	iteration := 0
	for used < budget {
		dirs := make([]direction, 0, a.params.Directions)
		for k := 0; k < a.params.Directions && used < budget; k++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			delta := a.sampleDirection()

			plus, n, err := a.rollout(env, a.perturb(delta, a.params.NoiseStd), horizon)
			if err != nil {
				return err
			}
			used += n

			minus, n, err := a.rollout(env, a.perturb(delta, -a.params.NoiseStd), horizon)
			if err != nil {
				return err
			}
			used += n

			dirs = append(dirs, direction{delta: delta, plus: plus, minus: minus})
		}

		iteration++
		step := a.update(dirs)
		a.log.Debug().
			Int("iteration", iteration).
			Int("steps", used).
			Int("budget", budget).
			Float64("step_size", step).
			Msg("ARS update")
	}

	a.log.Info().Int("iterations", iteration).Int("steps", used).Msg("Training finished")
	return nil
}

// sampleDirection 采样标准高斯扰动矩阵
func (a *ARS) sampleDirection() *mat.Dense {
	r, c := a.weights.Dims()
	data := make([]float64, r*c)
	for i := range data {
		data[i] = a.rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

// perturb 返回 W + scale·δ
func (a *ARS) perturb(delta *mat.Dense, scale float64) *mat.Dense {
	var theta mat.Dense
	theta.Scale(scale, delta)
	theta.Add(&theta, a.weights)
	return &theta
}

// rollout 用给定权重从 Reset 开始运行至多 horizon 步, 返回折扣回报和实际步数
func (a *ARS) rollout(env Environment, w *mat.Dense, horizon int) (float64, int, error) {
	obs := env.Reset()
	score := 0.0
	discount := 1.0
	steps := 0

	for steps < horizon {
		a.norm.push(obs)
		res, err := env.Step(a.act(w, obs))
		if err != nil {
			return 0, steps, fmt.Errorf("rollout step %d: %w", steps, err)
		}
		steps++
		score += discount * res.Reward
		discount *= a.params.Gamma
		obs = res.Observation
		if res.Done {
			break
		}
	}
	return score, steps, nil
}

// update 用得分最高的方向更新权重, 返回实际步长
func (a *ARS) update(dirs []direction) float64 {
	if len(dirs) == 0 {
		return 0
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		return math.Max(dirs[i].plus, dirs[i].minus) > math.Max(dirs[j].plus, dirs[j].minus)
	})
	top := a.params.TopDirections
	if top > len(dirs) {
		top = len(dirs)
	}
	dirs = dirs[:top]

	rewards := make([]float64, 0, 2*top)
	for _, d := range dirs {
		rewards = append(rewards, d.plus, d.minus)
	}
	sigma := stat.StdDev(rewards, nil)
	if sigma < 1e-12 || math.IsNaN(sigma) {
		return 0
	}

	r, c := a.weights.Dims()
	grad := mat.NewDense(r, c, nil)
	for _, d := range dirs {
		var scaled mat.Dense
		scaled.Scale(d.plus-d.minus, d.delta)
		grad.Add(grad, &scaled)
	}

	step := a.params.LearningRate / (float64(top) * sigma)
	grad.Scale(step, grad)
	a.weights.Add(a.weights, grad)
	return step
}

// Weights 当前权重 (副本)
func (a *ARS) Weights() *mat.Dense {
	return mat.DenseCopyOf(a.weights)
}

func (a *ARS) snapshot() artifact {
	r, c := a.weights.Dims()
	raw := a.weights.RawMatrix()
	weights := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		weights = append(weights, raw.Data[i*raw.Stride:i*raw.Stride+c]...)
	}
	return artifact{
		Family: string(FamilyARS),
		Spec:   a.spec,
		Params: a.params,
		Policy: &policyState{
			Rows:    r,
			Cols:    c,
			Weights: weights,
			ObsMean: append([]float64(nil), a.norm.mean...),
			ObsM2:   append([]float64(nil), a.norm.m2...),
			Count:   a.norm.count,
		},
	}
}

func (a *ARS) restore(art artifact) error {
	p := art.Policy
	if p == nil {
		return fmt.Errorf("ARS artifact has no policy weights")
	}
	r, c := a.weights.Dims()
	if p.Rows != r || p.Cols != c || len(p.Weights) != r*c || len(p.ObsMean) != c || len(p.ObsM2) != c {
		return fmt.Errorf("%w: weights %dx%d, expected %dx%d", ErrLayoutMismatch, p.Rows, p.Cols, r, c)
	}
	a.weights = mat.NewDense(r, c, append([]float64(nil), p.Weights...))
	a.norm.mean = append([]float64(nil), p.ObsMean...)
	a.norm.m2 = append([]float64(nil), p.ObsM2...)
	a.norm.count = p.Count
	return nil
}
