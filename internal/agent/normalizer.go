package agent

import (
	"math"
)

// normClip 归一化后的观测截断范围
const normClip = 5.0

// runningNorm 逐维度在线均值/方差 (Welford)
type runningNorm struct {
	mean  []float64
	m2    []float64
	count float64
}

func newRunningNorm(dim int) *runningNorm {
	return &runningNorm{
		mean: make([]float64, dim),
		m2:   make([]float64, dim),
	}
}

// push 累计一条观测
func (n *runningNorm) push(x []float64) {
	n.count++
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		delta := v - n.mean[i]
		n.mean[i] += delta / n.count
		n.m2[i] += delta * (v - n.mean[i])
	}
}

// std 第 i 维的样本标准差, 样本不足或方差过小时返回 1
func (n *runningNorm) std(i int) float64 {
	if n.count < 2 {
		return 1
	}
	s := math.Sqrt(n.m2[i] / (n.count - 1))
	if s < 1e-8 {
		return 1
	}
	return s
}

// apply 归一化观测, 非有限值按 0 处理
func (n *runningNorm) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		z := (v - n.mean[i]) / n.std(i)
		out[i] = math.Max(-normClip, math.Min(normClip, z))
	}
	return out
}
