package env

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsxjacky/multistock-rl/internal/cost"
	"github.com/opsxjacky/multistock-rl/internal/portfolio"
	"github.com/opsxjacky/multistock-rl/pkg/types"
)

var (
	// ErrEpisodeDone 回合结束后继续调用 Step
	ErrEpisodeDone = errors.New("episode is done, call Reset")
	// ErrActionDimension 动作长度与标的数量不一致
	ErrActionDimension = errors.New("action length does not match number of stocks")
	// ErrMisaligned 各标的序列长度不一致
	ErrMisaligned = errors.New("stock series have different lengths")
)

// TradingEnv 多标的交易环境
//
// 每次 Step 模拟一个交易日: 按当日收盘价先卖后买, 随后以当日收盘价估值,
// 奖励为总价值相对上一步的变化。观测为 [day-window, day) 的特征窗口加账户状态。
type TradingEnv struct {
	data       *types.MarketData
	cfg        types.EnvConfig
	closeIndex int
	ledger     *portfolio.Manager
	log        zerolog.Logger

	day       int
	done      bool
	lastValue float64
	info      types.EpisodeInfo
}

// New 创建交易环境并完成一次 Reset
func New(data *types.MarketData, cfg types.EnvConfig, costModel cost.CostModel, log zerolog.Logger) (*TradingEnv, error) {
	if err := validate(data, cfg); err != nil {
		return nil, err
	}
	if costModel == nil {
		costModel = cost.NewZeroCostModel()
	}

	e := &TradingEnv{
		data:       data,
		cfg:        cfg,
		closeIndex: data.FeatureIndex(types.CloseFeature),
		ledger:     portfolio.NewManager(data.Symbols, cfg.StartingBalance, costModel, cfg.FractionalShares),
		log:        log.With().Str("component", "trading_env").Logger(),
	}
	e.Reset()
	return e, nil
}

func validate(data *types.MarketData, cfg types.EnvConfig) error {
	if data == nil || data.NumStocks() == 0 {
		return errors.New("market data has no stocks")
	}
	if len(data.Values) != data.NumStocks() {
		return fmt.Errorf("%w: %d symbols but %d series", ErrMisaligned, data.NumStocks(), len(data.Values))
	}
	for i, s := range data.Values {
		if len(s) != data.NumDays() {
			return fmt.Errorf("%w: %s has %d rows, expected %d", ErrMisaligned, data.Symbols[i], len(s), data.NumDays())
		}
	}
	if data.FeatureIndex(types.CloseFeature) < 0 {
		return fmt.Errorf("market data has no %q feature", types.CloseFeature)
	}
	if cfg.WindowSize < 1 {
		return fmt.Errorf("window size must be at least 1, got %d", cfg.WindowSize)
	}
	if data.NumDays() <= cfg.WindowSize {
		return fmt.Errorf("need more than %d days of data, got %d", cfg.WindowSize, data.NumDays())
	}
	if cfg.MaxTrade <= 0 || math.IsNaN(cfg.MaxTrade) {
		return fmt.Errorf("max trade size k must be positive, got %v", cfg.MaxTrade)
	}
	if cfg.StartingBalance <= 0 {
		return fmt.Errorf("starting balance must be positive, got %v", cfg.StartingBalance)
	}
	return nil
}

// Reset 恢复初始资金和空仓, 日期指针回到第一个完整窗口
func (e *TradingEnv) Reset() types.Observation {
	e.ledger.Reset(e.cfg.StartingBalance)
	e.day = e.cfg.WindowSize
	e.done = false
	e.lastValue = e.cfg.StartingBalance
	e.info = types.EpisodeInfo{
		Dates:               make([]time.Time, 0, e.Steps()),
		AccountBalance:      make([]float64, 0, e.Steps()),
		NumShares:           make([][]float64, 0, e.Steps()),
		TotalPortfolioValue: make([]float64, 0, e.Steps()),
	}
	return e.observation()
}

// Step 执行一个交易日
func (e *TradingEnv) Step(action []float64) (types.StepResult, error) {
	if e.done {
		return types.StepResult{}, ErrEpisodeDone
	}
	if len(action) != e.data.NumStocks() {
		return types.StepResult{}, fmt.Errorf("%w: got %d, want %d", ErrActionDimension, len(action), e.data.NumStocks())
	}

	prices := e.prices(e.day)
	date := e.data.Dates[e.day]

	// 先卖后买, 释放现金
	for _, order := range e.orders(action, prices) {
		if _, ok := e.ledger.ExecuteOrder(order, e.day, date); !ok {
			e.log.Trace().Str("symbol", order.Symbol).Str("side", string(order.Side)).Msg("Order clipped to no-op")
		}
	}

	value := e.ledger.Value(prices)
	reward := value - e.lastValue
	e.lastValue = value

	e.info.Dates = append(e.info.Dates, date)
	e.info.AccountBalance = append(e.info.AccountBalance, e.ledger.Cash())
	e.info.NumShares = append(e.info.NumShares, e.ledger.Shares())
	e.info.TotalPortfolioValue = append(e.info.TotalPortfolioValue, value)

	e.day++
	if e.day >= e.data.NumDays() {
		e.done = true
	}

	return types.StepResult{
		Observation: e.observation(),
		Reward:      reward,
		Done:        e.done,
		Info:        e.info,
	}, nil
}

// orders 把动作向量转换为订单, 卖单排在买单之前
func (e *TradingEnv) orders(action []float64, prices []float64) []types.Order {
	sells := make([]types.Order, 0, len(action))
	buys := make([]types.Order, 0, len(action))

	for i, a := range action {
		if math.IsNaN(a) || !types.ValidPrice(prices[i]) {
			continue
		}
		a = math.Max(-1, math.Min(1, a))
		quantity := math.Abs(a) * e.cfg.MaxTrade
		if !e.cfg.FractionalShares {
			quantity = math.Floor(quantity)
		}
		if quantity <= 0 {
			continue
		}

		order := types.Order{
			Stock:    i,
			Symbol:   e.data.Symbols[i],
			Quantity: quantity,
			Price:    prices[i],
		}
		if a > 0 {
			order.Side = types.SideBuy
			buys = append(buys, order)
		} else {
			order.Side = types.SideSell
			sells = append(sells, order)
		}
	}
	return append(sells, buys...)
}

// observation 构造观测: 各标的 window 天特征 (按标的、日期、特征展开) + 现金 + 持股
func (e *TradingEnv) observation() types.Observation {
	w := e.cfg.WindowSize
	nf := e.data.NumFeatures()
	obs := make(types.Observation, 0, e.Spec().ObservationDim())

	for s := range e.data.Values {
		for d := e.day - w; d < e.day; d++ {
			obs = append(obs, e.data.Values[s][d][:nf]...)
		}
	}
	obs = append(obs, e.ledger.Cash())
	obs = append(obs, e.ledger.Shares()...)
	return obs
}

func (e *TradingEnv) prices(day int) []float64 {
	prices := make([]float64, e.data.NumStocks())
	for s := range e.data.Values {
		prices[s] = e.data.Values[s][day][e.closeIndex]
	}
	return prices
}

// Spec 观测与动作结构
func (e *TradingEnv) Spec() types.EnvSpec {
	return types.EnvSpec{
		Stocks:     e.data.NumStocks(),
		Window:     e.cfg.WindowSize,
		Features:   e.data.NumFeatures(),
		CloseIndex: e.closeIndex,
		MaxTrade:   e.cfg.MaxTrade,
	}
}

// ActionDim 动作维度
func (e *TradingEnv) ActionDim() int {
	return e.data.NumStocks()
}

// ObservationDim 观测维度
func (e *TradingEnv) ObservationDim() int {
	return e.Spec().ObservationDim()
}

// Steps 每个回合的交易日数
func (e *TradingEnv) Steps() int {
	return e.data.NumDays() - e.cfg.WindowSize
}

// Day 当前日期下标
func (e *TradingEnv) Day() int {
	return e.day
}

// Done 回合是否结束
func (e *TradingEnv) Done() bool {
	return e.done
}

// Portfolio 当前账户状态
func (e *TradingEnv) Portfolio() types.PortfolioState {
	return e.ledger.State()
}

// Info 当前回合的累计轨迹
func (e *TradingEnv) Info() types.EpisodeInfo {
	return e.info
}

// Trades 当前回合的成交记录
func (e *TradingEnv) Trades() []types.Trade {
	return e.ledger.GetTrades()
}

// Symbols 参与交易的标的
func (e *TradingEnv) Symbols() []string {
	return e.data.Symbols
}

// Data 环境使用的行情数据
func (e *TradingEnv) Data() *types.MarketData {
	return e.data
}

// Config 环境参数
func (e *TradingEnv) Config() types.EnvConfig {
	return e.cfg
}
