package store

import (
	"context"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// NoopRecorder 未配置数据库时使用
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ context.Context, _ *types.EpisodeResult) (string, error) {
	return "", nil
}
func (n *NoopRecorder) ListRuns(_ context.Context, _ int) ([]RunSummary, error) { return nil, nil }
func (n *NoopRecorder) Close() error                                            { return nil }
