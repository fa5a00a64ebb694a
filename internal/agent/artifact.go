package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// ArtifactExt 模型文件扩展名
const ArtifactExt = ".msgpack"

// artifactVersion 模型文件格式版本
const artifactVersion = 1

// artifact 模型文件内容
type artifact struct {
	Version int               `msgpack:"version"`
	Family  string            `msgpack:"family"`
	Spec    types.EnvSpec     `msgpack:"spec"`
	Params  types.AgentParams `msgpack:"params"`
	Policy  *policyState      `msgpack:"policy,omitempty"`
}

// policyState 线性策略权重 (行优先) 与观测归一化统计量
type policyState struct {
	Rows    int       `msgpack:"rows"`
	Cols    int       `msgpack:"cols"`
	Weights []float64 `msgpack:"weights"`
	ObsMean []float64 `msgpack:"obs_mean"`
	ObsM2   []float64 `msgpack:"obs_m2"`
	Count   float64   `msgpack:"count"`
}

// persistable 可保存到模型文件的智能体
type persistable interface {
	Agent
	snapshot() artifact
	restore(artifact) error
}

// ModelPath 模型基础路径 <dir>/<prefix>_<FAMILY>, 不含扩展名
func ModelPath(dir, prefix string, family Family) string {
	return filepath.Join(dir, prefix+"_"+string(family))
}

// FamilyFromPath 从模型路径解析智能体类型: 文件名最后一个 "_" 之后的部分
func FamilyFromPath(path string) (Family, error) {
	base := strings.TrimSuffix(filepath.Base(path), ArtifactExt)
	idx := strings.LastIndex(base, "_")
	if idx < 0 || idx == len(base)-1 {
		return "", fmt.Errorf("%w: cannot infer family from %q", ErrUnsupportedFamily, path)
	}
	return ParseFamily(base[idx+1:])
}

// artifactFile 补齐扩展名
func artifactFile(path string) string {
	if strings.HasSuffix(path, ArtifactExt) {
		return path
	}
	return path + ArtifactExt
}

// Save 保存智能体, 返回实际写入的文件路径
func Save(a Agent, path string) (string, error) {
	p, ok := a.(persistable)
	if !ok {
		return "", fmt.Errorf("agent %s cannot be saved", a.Family())
	}

	art := p.snapshot()
	art.Version = artifactVersion
	data, err := msgpack.Marshal(&art)
	if err != nil {
		return "", fmt.Errorf("failed to encode model: %w", err)
	}

	file := artifactFile(path)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := os.WriteFile(file, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write model %s: %w", file, err)
	}
	return file, nil
}

// Load 加载模型并校验其观测结构与当前环境一致
//
// 智能体类型由路径后缀决定, 在读取文件之前校验。单次交易上限 k 取当前环境的值。
func Load(path string, spec types.EnvSpec, log zerolog.Logger) (Agent, error) {
	family, err := FamilyFromPath(path)
	if err != nil {
		return nil, err
	}

	file := artifactFile(path)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", file, err)
	}

	var art artifact
	if err := msgpack.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", file, err)
	}
	if art.Version != artifactVersion {
		return nil, fmt.Errorf("model %s has unsupported format version %d", file, art.Version)
	}
	if art.Family != string(family) {
		return nil, fmt.Errorf("model %s contains %s agent, path says %s", file, art.Family, family)
	}
	if !art.Spec.Compatible(spec) {
		return nil, fmt.Errorf("%w: model %s was trained on %d stocks, window %d, %d features",
			ErrLayoutMismatch, file, art.Spec.Stocks, art.Spec.Window, art.Spec.Features)
	}

	a, err := New(family, spec, art.Params, log)
	if err != nil {
		return nil, err
	}
	if err := a.(persistable).restore(art); err != nil {
		return nil, fmt.Errorf("failed to restore model %s: %w", file, err)
	}
	return a, nil
}
