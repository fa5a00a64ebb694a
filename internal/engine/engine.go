package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsxjacky/multistock-rl/internal/agent"
	"github.com/opsxjacky/multistock-rl/internal/analytics"
	"github.com/opsxjacky/multistock-rl/internal/cost"
	"github.com/opsxjacky/multistock-rl/internal/data"
	"github.com/opsxjacky/multistock-rl/internal/env"
	"github.com/opsxjacky/multistock-rl/internal/store"
	"github.com/opsxjacky/multistock-rl/pkg/types"
)

const (
	ModeTrain    = "train"
	ModeEvaluate = "evaluate"
)

// progressEvery 每隔多少步输出一次进度
const progressEvery = 100

// Engine 训练/评估驱动
type Engine struct {
	loader    data.MarketLoader
	costModel cost.CostModel
	recorder  store.Recorder
	log       zerolog.Logger
}

// New 创建驱动; costModel 和 recorder 可为 nil
func New(loader data.MarketLoader, costModel cost.CostModel, recorder store.Recorder, log zerolog.Logger) *Engine {
	if costModel == nil {
		costModel = cost.NewZeroCostModel()
	}
	if recorder == nil {
		recorder = store.NewNoopRecorder()
	}
	return &Engine{
		loader:    loader,
		costModel: costModel,
		recorder:  recorder,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

// TrainRequest 训练请求
type TrainRequest struct {
	Family    string
	Load      types.LoadRequest
	Env       types.EnvConfig // MaxTrade 为 0 时按加载后的标的数推导
	Params    types.AgentParams
	Timesteps int
	ModelPath string // 不含扩展名, 如 models/multistock_ARS
}

// EvalRequest 评估请求, 多个模型共用同一份数据
type EvalRequest struct {
	ModelPaths []string
	Load       types.LoadRequest
	Env        types.EnvConfig
}

// Train 训练并保存模型, 随后在训练区间上跑一个评估回合
func (e *Engine) Train(ctx context.Context, req TrainRequest) (*types.EpisodeResult, error) {
	if e.loader == nil {
		return nil, errors.New("data loader not set")
	}
	family, err := agent.ParseFamily(req.Family)
	if err != nil {
		return nil, err
	}
	if req.ModelPath == "" {
		return nil, errors.New("model path not set")
	}

	tradingEnv, err := e.buildEnv(req.Load, req.Env)
	if err != nil {
		return nil, err
	}

	a, err := agent.New(family, tradingEnv.Spec(), req.Params, e.log)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("family", string(family)).
		Int("timesteps", req.Timesteps).
		Int("steps_per_episode", tradingEnv.Steps()).
		Msg("Training agent")
	if err := a.Learn(ctx, tradingEnv, req.Timesteps); err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	file, err := agent.Save(a, req.ModelPath)
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("path", file).Msg("Model saved")

	result, err := e.RunEpisode(ctx, tradingEnv, a)
	if err != nil {
		return nil, err
	}
	result.Mode = ModeTrain
	result.ModelPath = req.ModelPath
	e.record(ctx, result)
	return result, nil
}

// Evaluate 在同一份数据上依次评估每个模型
func (e *Engine) Evaluate(ctx context.Context, req EvalRequest) ([]*types.EpisodeResult, error) {
	if e.loader == nil {
		return nil, errors.New("data loader not set")
	}
	if len(req.ModelPaths) == 0 {
		return nil, errors.New("no model specified")
	}
	// 先校验类型, 再加载数据
	for _, path := range req.ModelPaths {
		if _, err := agent.FamilyFromPath(path); err != nil {
			return nil, err
		}
	}

	tradingEnv, err := e.buildEnv(req.Load, req.Env)
	if err != nil {
		return nil, err
	}

	results := make([]*types.EpisodeResult, 0, len(req.ModelPaths))
	for _, path := range req.ModelPaths {
		a, err := agent.Load(path, tradingEnv.Spec(), e.log)
		if err != nil {
			return nil, err
		}

		result, err := e.RunEpisode(ctx, tradingEnv, a)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", path, err)
		}
		result.Mode = ModeEvaluate
		result.ModelPath = path
		e.record(ctx, result)
		results = append(results, result)
	}
	return results, nil
}

// buildEnv 加载数据并创建环境
func (e *Engine) buildEnv(load types.LoadRequest, cfg types.EnvConfig) (*env.TradingEnv, error) {
	e.log.Info().Strs("symbols", load.Symbols).Msg("Loading market data")
	md, err := e.loader.Load(load)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}

	cfg = cfg.ResolveMaxTrade(md.NumStocks())
	tradingEnv, err := env.New(md, cfg, e.costModel, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	e.log.Info().
		Str("from", md.Dates[0].Format("2006-01-02")).
		Str("to", md.Dates[md.NumDays()-1].Format("2006-01-02")).
		Int("days", md.NumDays()).
		Float64("max_trade", cfg.MaxTrade).
		Msg("Environment ready")
	return tradingEnv, nil
}

// RunEpisode 从 Reset 开始按策略动作推进环境直至结束
func (e *Engine) RunEpisode(ctx context.Context, tradingEnv *env.TradingEnv, a agent.Agent) (*types.EpisodeResult, error) {
	obs := tradingEnv.Reset()
	md := tradingEnv.Data()
	total := tradingEnv.Steps()

	var last types.StepResult
	for i := 0; i < md.NumDays(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := tradingEnv.Step(a.Predict(obs))
		if err != nil {
			return nil, err
		}
		obs = res.Observation
		last = res

		if (i+1)%progressEvery == 0 || res.Done {
			e.log.Debug().
				Int("step", i+1).
				Int("total", total).
				Float64("value", res.Info.TotalPortfolioValue[res.Info.Len()-1]).
				Msg("Progress")
		}
		if res.Done {
			break
		}
	}

	return e.generateResult(tradingEnv, a, last.Info), nil
}

// generateResult 生成回合结果
func (e *Engine) generateResult(tradingEnv *env.TradingEnv, a agent.Agent, info types.EpisodeInfo) *types.EpisodeResult {
	cfg := tradingEnv.Config()
	result := &types.EpisodeResult{
		Family:          string(a.Family()),
		Symbols:         tradingEnv.Symbols(),
		StartingBalance: cfg.StartingBalance,
		FinalBalance:    cfg.StartingBalance,
		FinalShares:     make([]float64, len(tradingEnv.Symbols())),
		FinalValue:      cfg.StartingBalance,
		Info:            info,
		Trades:          tradingEnv.Trades(),
	}

	if n := info.Len(); n > 0 {
		result.StartDate = info.Dates[0]
		result.EndDate = info.Dates[n-1]
		result.FinalBalance = info.AccountBalance[n-1]
		result.FinalShares = info.NumShares[n-1]
		result.FinalValue = info.TotalPortfolioValue[n-1]
	}
	result.Stats = analytics.Compute(cfg.StartingBalance, info)

	e.log.Info().
		Str("family", result.Family).
		Float64("final_balance", result.FinalBalance).
		Float64("final_value", result.FinalValue).
		Float64("total_return", result.Stats.TotalReturn).
		Int("trades", len(result.Trades)).
		Msg("Episode finished")
	return result
}

// record 写入运行记录; 失败只记日志
func (e *Engine) record(ctx context.Context, result *types.EpisodeResult) {
	id, err := e.recorder.RecordRun(ctx, result)
	if err != nil {
		e.log.Warn().Err(err).Str("mode", result.Mode).Msg("Failed to record run")
		return
	}
	if id != "" {
		e.log.Info().Str("run_id", id).Msg("Run recorded")
	}
}

// ResultSummary 结果摘要
type ResultSummary struct {
	Mode            string    `json:"mode"`
	Family          string    `json:"family"`
	ModelPath       string    `json:"model_path"`
	Symbols         []string  `json:"symbols"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	StartingBalance float64   `json:"starting_balance"`
	FinalBalance    float64   `json:"final_balance"`
	FinalShares     []float64 `json:"final_shares"`
	FinalValue      float64   `json:"final_value"`
	TotalReturn     float64   `json:"total_return"`
	Volatility      float64   `json:"volatility"`
	Sharpe          float64   `json:"sharpe"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	TotalTrades     int       `json:"total_trades"`
	TotalFees       float64   `json:"total_fees"`
}

// Summarize 获取结果摘要
func Summarize(r *types.EpisodeResult) ResultSummary {
	var totalFees float64
	for _, trade := range r.Trades {
		totalFees += trade.Fee
	}
	return ResultSummary{
		Mode:            r.Mode,
		Family:          r.Family,
		ModelPath:       r.ModelPath,
		Symbols:         r.Symbols,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		StartingBalance: r.StartingBalance,
		FinalBalance:    r.FinalBalance,
		FinalShares:     r.FinalShares,
		FinalValue:      r.FinalValue,
		TotalReturn:     r.Stats.TotalReturn,
		Volatility:      r.Stats.Volatility,
		Sharpe:          r.Stats.Sharpe,
		MaxDrawdown:     r.Stats.MaxDrawdown,
		TotalTrades:     len(r.Trades),
		TotalFees:       totalFees,
	}
}

// ExportResults 导出结果到JSON文件
func ExportResults(r *types.EpisodeResult, path string) error {
	if r == nil {
		return errors.New("no results to export")
	}

	output := struct {
		Summary ResultSummary     `json:"summary"`
		Info    types.EpisodeInfo `json:"info"`
		Trades  []types.Trade     `json:"trades"`
	}{
		Summary: Summarize(r),
		Info:    r.Info,
		Trades:  r.Trades,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ResultFileName 结果文件名, 如 evaluate_multistock_ARS.json
func ResultFileName(r *types.EpisodeResult) string {
	base := strings.TrimSuffix(filepath.Base(r.ModelPath), agent.ArtifactExt)
	if r.ModelPath == "" {
		base = r.Family
	}
	return fmt.Sprintf("%s_%s.json", r.Mode, base)
}
