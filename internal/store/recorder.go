package store

import (
	"context"
	"time"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// RunSummary runs 表中的一条记录
type RunSummary struct {
	ID              string
	Mode            string
	Family          string
	ModelPath       string
	Symbols         []string
	StartDate       time.Time
	EndDate         time.Time
	Steps           int
	StartingBalance float64
	FinalBalance    float64
	FinalValue      float64
	TotalReturn     float64
	Sharpe          float64
	MaxDrawdown     float64
	CreatedAt       time.Time
}

// Recorder 训练/评估结果持久化
type Recorder interface {
	// RecordRun 保存一次回合结果及逐日轨迹, 返回运行 ID
	RecordRun(ctx context.Context, result *types.EpisodeResult) (string, error)

	// ListRuns 按创建时间倒序列出最近的运行
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	Close() error
}
