package data

import (
	"errors"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

var (
	// ErrNoData 没有任何标的满足数据要求
	ErrNoData = errors.New("no stock has enough data in range")
	// ErrMisaligned 各标的交易日不一致 (strict 模式)
	ErrMisaligned = errors.New("stock series are not date-aligned")
)

// MarketLoader 行情数据加载器接口
type MarketLoader interface {
	// Load 按请求加载并对齐多标的行情
	Load(req types.LoadRequest) (*types.MarketData, error)

	// SourceType 支持的数据源类型
	SourceType() string
}
