package types

import (
	"math"
	"strings"
	"time"
)

// DefaultFeatures 默认特征列 (与训练数据文件保持一致)
var DefaultFeatures = []string{"Close", "MACD", "Signal", "RSI", "CCI", "ADX"}

// CloseFeature 收盘价特征名, 交易环境以此列作为成交价
const CloseFeature = "Close"

// AlignPolicy 多标的日期对齐策略
type AlignPolicy string

const (
	// AlignIntersect 仅保留所有标的共有的交易日
	AlignIntersect AlignPolicy = "intersect"
	// AlignStrict 日期不一致时直接报错
	AlignStrict AlignPolicy = "strict"
)

// LoadRequest 行情数据加载请求
type LoadRequest struct {
	Symbols  []string
	Start    time.Time
	End      time.Time // 零值表示不设上限 (Present)
	MinRows  int       // 0 表示以第一个标的的区间行数为准
	Features []string
	Align    AlignPolicy
}

// OpenEnded 是否为开放区间
func (r LoadRequest) OpenEnded() bool {
	return r.End.IsZero()
}

// InRange 判断日期是否在请求区间内
func (r LoadRequest) InRange(t time.Time) bool {
	if t.Before(r.Start) {
		return false
	}
	return r.OpenEnded() || !t.After(r.End)
}

// MarketData 多标的对齐行情, Values 索引为 [stock][day][feature]
type MarketData struct {
	Symbols  []string
	Dates    []time.Time
	Features []string
	Values   [][][]float64
}

// NumStocks 标的数量
func (m *MarketData) NumStocks() int {
	return len(m.Symbols)
}

// NumDays 交易日数量
func (m *MarketData) NumDays() int {
	return len(m.Dates)
}

// NumFeatures 特征数量
func (m *MarketData) NumFeatures() int {
	return len(m.Features)
}

// FeatureIndex 返回特征列下标, 不存在时返回 -1
func (m *MarketData) FeatureIndex(name string) int {
	for i, f := range m.Features {
		if strings.EqualFold(f, name) {
			return i
		}
	}
	return -1
}

// EnvConfig 交易环境参数
type EnvConfig struct {
	WindowSize       int
	MaxTrade         float64 // k: 单次最大买卖股数
	StartingBalance  float64
	FractionalShares bool
}

// ResolveMaxTrade 未设置 k 时按 100/(2·标的数) 取值
func (c EnvConfig) ResolveMaxTrade(numStocks int) EnvConfig {
	if c.MaxTrade <= 0 && numStocks > 0 {
		c.MaxTrade = 100 / (2 * float64(numStocks))
	}
	return c
}

// EnvSpec 环境对外暴露的观测/动作结构
type EnvSpec struct {
	Stocks     int
	Window     int
	Features   int
	CloseIndex int
	MaxTrade   float64
}

// ObservationDim 观测向量长度: 窗口特征 + 现金 + 各标的持股
func (s EnvSpec) ObservationDim() int {
	return s.Stocks*s.Window*s.Features + 1 + s.Stocks
}

// ActionDim 动作向量长度
func (s EnvSpec) ActionDim() int {
	return s.Stocks
}

// Compatible 判断两个环境的观测结构是否一致 (MaxTrade 不影响观测)
func (s EnvSpec) Compatible(o EnvSpec) bool {
	return s.Stocks == o.Stocks && s.Window == o.Window &&
		s.Features == o.Features && s.CloseIndex == o.CloseIndex
}

// Observation 观测向量
type Observation []float64

// LastClose 窗口内最近一天的收盘价
func (s EnvSpec) LastClose(obs Observation, stock int) float64 {
	return obs[stock*s.Window*s.Features+(s.Window-1)*s.Features+s.CloseIndex]
}

// Cash 观测中的现金余额
func (s EnvSpec) Cash(obs Observation) float64 {
	return obs[s.Stocks*s.Window*s.Features]
}

// Shares 观测中某标的的持股数
func (s EnvSpec) Shares(obs Observation, stock int) float64 {
	return obs[s.Stocks*s.Window*s.Features+1+stock]
}

// ValidPrice 价格是否可用于成交和估值
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// PortfolioState 账户状态
type PortfolioState struct {
	Cash   float64
	Shares []float64
}

// Value 计算账户总价值, 无效价格的持仓按 0 计
func (p PortfolioState) Value(prices []float64) float64 {
	total := p.Cash
	for i, q := range p.Shares {
		if i < len(prices) && ValidPrice(prices[i]) {
			total += q * prices[i]
		}
	}
	return total
}

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order 交易订单
type Order struct {
	Stock    int
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
}

// Trade 成交记录
type Trade struct {
	Day       int       `json:"day"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Requested float64   `json:"requested"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Value     float64   `json:"value"` // 成交金额 (不含手续费)
}

// EpisodeInfo 回合累计轨迹, 每个模拟交易日追加一条
type EpisodeInfo struct {
	Dates               []time.Time `json:"dates"`
	AccountBalance      []float64   `json:"account_balance"`
	NumShares           [][]float64 `json:"num_shares"`
	TotalPortfolioValue []float64   `json:"total_portfolio_value"`
}

// Len 已记录的步数
func (i EpisodeInfo) Len() int {
	return len(i.TotalPortfolioValue)
}

// StepResult 单步结果
type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
	Info        EpisodeInfo
}

// AgentParams 智能体参数
type AgentParams struct {
	Seed          int64   `msgpack:"seed"`
	Gamma         float64 `msgpack:"gamma"`
	LearningRate  float64 `msgpack:"learning_rate"`
	NoiseStd      float64 `msgpack:"noise_std"`
	Directions    int     `msgpack:"directions"`
	TopDirections int     `msgpack:"top_directions"`
	Threshold     float64 `msgpack:"threshold"`
	MinTradeValue float64 `msgpack:"min_trade_value"`
}

// CostConfig 成本配置
type CostConfig struct {
	CommissionRate float64 // 佣金率
	MinCommission  float64 // 最低佣金
	SlippageRate   float64 // 滑点率
	TaxRate        float64 // 税率
}

// PerformanceStats 绩效指标
type PerformanceStats struct {
	Days        int       `json:"days"`
	TotalReturn float64   `json:"total_return"`
	Volatility  float64   `json:"volatility"`
	Sharpe      float64   `json:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown"`
	Turnover    []float64 `json:"turnover"` // 各标的累计成交股数
}

// EpisodeResult 回合结果
type EpisodeResult struct {
	Mode            string           `json:"mode"` // "train" or "evaluate"
	Family          string           `json:"family"`
	ModelPath       string           `json:"model_path"`
	Symbols         []string         `json:"symbols"`
	StartDate       time.Time        `json:"start_date"`
	EndDate         time.Time        `json:"end_date"`
	StartingBalance float64          `json:"starting_balance"`
	FinalBalance    float64          `json:"final_balance"`
	FinalShares     []float64        `json:"final_shares"`
	FinalValue      float64          `json:"final_value"`
	Stats           PerformanceStats `json:"stats"`
	Info            EpisodeInfo      `json:"info"`
	Trades          []Trade          `json:"trades"`
}
