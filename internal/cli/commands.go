package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opsxjacky/multistock-rl/internal/agent"
	"github.com/opsxjacky/multistock-rl/internal/config"
	"github.com/opsxjacky/multistock-rl/internal/cost"
	"github.com/opsxjacky/multistock-rl/internal/data"
	"github.com/opsxjacky/multistock-rl/internal/engine"
	"github.com/opsxjacky/multistock-rl/internal/logger"
	"github.com/opsxjacky/multistock-rl/internal/report"
	"github.com/opsxjacky/multistock-rl/internal/store"
	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// Version 版本号, 构建时可通过 -ldflags 覆盖
var Version = "0.1.0"

// app 子命令共享的运行状态
type app struct {
	cfg *config.Config
	log zerolog.Logger
	out io.Writer
}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	rootCmd := &cobra.Command{
		Use:           "multistock",
		Short:         "Multi-stock trading simulator and agent driver",
		Long:          "Train, evaluate and compare trading agents on a multi-stock simulation built from per-symbol CSV files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	rootCmd.SetOut(a.out)

	rootCmd.AddCommand(newTrainCmd(a))
	rootCmd.AddCommand(newEvaluateCmd(a))
	rootCmd.AddCommand(newCompareCmd(a))
	rootCmd.AddCommand(newFeaturesCmd(a))
	rootCmd.AddCommand(newRunsCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Configuration file path (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human-readable console logs")

	return rootCmd
}

// init 加载配置并初始化日志
func (a *app) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	a.out = cmd.OutOrStdout()

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
		cfg.Logging.Pretty = true
	}

	a.cfg = cfg
	a.log = logger.New(logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty, Output: cmd.ErrOrStderr()})
	logger.SetGlobalLogger(a.log)
	return nil
}

// newEngine 按配置组装驱动, 调用方负责关闭返回的 recorder
func (a *app) newEngine() (*engine.Engine, store.Recorder, error) {
	recorder, err := store.Open(a.cfg.Storage.SQLitePath, a.log)
	if err != nil {
		return nil, nil, err
	}
	loader := data.NewCSVLoader(a.cfg.GetDataDir(), a.log)
	costModel := cost.NewDefaultCostModel(a.cfg.ToCostConfig())
	return engine.New(loader, costModel, recorder, a.log), recorder, nil
}

func (a *app) modelPath(family agent.Family) string {
	return agent.ModelPath(a.cfg.Output.ModelsDir, a.cfg.Output.ModelPrefix, family)
}

func (a *app) plotPath(name string) string {
	return filepath.Join(a.cfg.Output.PlotsDir, name)
}

// finish 打印摘要并按配置导出 JSON
func (a *app) finish(result *types.EpisodeResult) error {
	report.PrintSummary(a.out, result)
	if !a.cfg.Output.ExportJSON {
		return nil
	}
	path := filepath.Join(a.cfg.GetOutputPath(), engine.ResultFileName(result))
	if err := engine.ExportResults(result, path); err != nil {
		return err
	}
	a.log.Info().Str("path", path).Msg("Results exported")
	return nil
}

// newTrainCmd 训练命令
func newTrainCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent on the training period and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("family"); v != "" {
				a.cfg.Agent.Family = v
			}
			if cmd.Flags().Changed("timesteps") {
				a.cfg.Agent.Timesteps, _ = cmd.Flags().GetInt("timesteps")
			}
			return a.runTrain(cmd.Context())
		},
	}
	cmd.Flags().String("family", "", "Agent family: ARS, EQW or HOLD (config value if empty)")
	cmd.Flags().Int("timesteps", 0, "Environment step budget for training")
	return cmd
}

func (a *app) runTrain(ctx context.Context) error {
	family, err := agent.ParseFamily(a.cfg.Agent.Family)
	if err != nil {
		return err
	}
	load, err := a.cfg.ToLoadRequest(a.cfg.Data.Train)
	if err != nil {
		return err
	}

	eng, recorder, err := a.newEngine()
	if err != nil {
		return err
	}
	defer recorder.Close()

	result, err := eng.Train(ctx, engine.TrainRequest{
		Family:    string(family),
		Load:      load,
		Env:       a.cfg.ToEnvConfig(0),
		Params:    a.cfg.ToAgentParams(),
		Timesteps: a.cfg.Agent.Timesteps,
		ModelPath: a.modelPath(family),
	})
	if err != nil {
		return err
	}

	if a.cfg.Output.Plots {
		path := a.plotPath(report.TrainingPlotName(string(family)))
		if err := report.PlotPortfolioValue(result, "Portfolio Value, Multistock", a.cfg.Data.Train.Label(), path); err != nil {
			return err
		}
		a.log.Info().Str("path", path).Msg("Plot saved")
	}
	return a.finish(result)
}

// newEvaluateCmd 评估命令
func newEvaluateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a saved model on the testing period",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("model")
			if path == "" {
				family, err := agent.ParseFamily(a.cfg.Agent.Family)
				if err != nil {
					return err
				}
				path = a.modelPath(family)
			}
			return a.runEvaluate(cmd.Context(), path)
		},
	}
	cmd.Flags().String("model", "", "Model path, e.g. models/multistock_ARS (derived from agent.family if empty)")
	return cmd
}

func (a *app) runEvaluate(ctx context.Context, path string) error {
	results, err := a.evaluate(ctx, []string{path})
	if err != nil {
		return err
	}
	result := results[0]

	if a.cfg.Output.Plots {
		period := a.cfg.Data.Test.Label()
		title := fmt.Sprintf("Portfolio Value, %s Multistock", result.Family)
		if err := report.PlotPortfolioValue(result, title, period, a.plotPath(report.TestingPlotName(result.Family))); err != nil {
			return err
		}
		if err := report.PlotShares(result, period, a.plotPath(report.SharesPlotName(result.Family))); err != nil {
			return err
		}
		a.log.Info().Str("dir", a.cfg.Output.PlotsDir).Msg("Plots saved")
	}
	return a.finish(result)
}

func (a *app) evaluate(ctx context.Context, paths []string) ([]*types.EpisodeResult, error) {
	load, err := a.cfg.ToLoadRequest(a.cfg.Data.Test)
	if err != nil {
		return nil, err
	}

	eng, recorder, err := a.newEngine()
	if err != nil {
		return nil, err
	}
	defer recorder.Close()

	return eng.Evaluate(ctx, engine.EvalRequest{
		ModelPaths: paths,
		Load:       load,
		Env:        a.cfg.ToEnvConfig(0),
	})
}

// newCompareCmd 多模型对比命令
func newCompareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare MODEL [MODEL...]",
		Short: "Evaluate several saved models on the testing period and plot them together",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.evaluate(cmd.Context(), args)
			if err != nil {
				return err
			}

			if a.cfg.Output.Plots {
				path := a.plotPath(report.EnsemblePlotName)
				if err := report.PlotComparison(results, a.cfg.Data.Test.Label(), path); err != nil {
					return err
				}
				a.log.Info().Str("path", path).Msg("Plot saved")
			}
			for _, r := range results {
				if err := a.finish(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// newFeaturesCmd 指标补齐命令
func newFeaturesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features [SYMBOL...]",
		Short: "Derive missing indicator columns (MACD, Signal, RSI, CCI, ADX) into new CSV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := args
			if len(symbols) == 0 {
				symbols = a.cfg.Data.Symbols
			}
			outDir, _ := cmd.Flags().GetString("out")
			if outDir == "" {
				outDir = filepath.Join(a.cfg.GetDataDir(), "enriched")
			}

			loader := data.NewCSVLoader(a.cfg.GetDataDir(), a.log)
			for _, symbol := range symbols {
				path, added, err := loader.EnrichCSV(symbol, outDir)
				if err != nil {
					return fmt.Errorf("failed to enrich %s: %w", symbol, err)
				}
				fmt.Fprintf(a.out, "%s -> %s (added %d columns)\n", symbol, path, len(added))
			}
			return nil
		},
	}
	cmd.Flags().String("out", "", "Output directory (default <data dir>/enriched)")
	return cmd
}

// newRunsCmd 运行记录命令
func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs from the SQLite ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Storage.SQLitePath == "" {
				return fmt.Errorf("storage.sqlite_path is not configured")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			id, _ := cmd.Flags().GetString("id")

			recorder, err := store.NewSQLiteRecorder(a.cfg.Storage.SQLitePath, a.log)
			if err != nil {
				return err
			}
			defer recorder.Close()

			if id != "" {
				return printRunValues(cmd.Context(), a.out, recorder, id)
			}

			runs, err := recorder.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRuns(a.out, runs)
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().String("id", "", "Print the daily portfolio values of one run (full id or unique prefix)")
	return cmd
}

// printRunValues 按 id 前缀定位一次运行并打印逐日总价值
func printRunValues(ctx context.Context, w io.Writer, recorder *store.SQLiteRecorder, prefix string) error {
	runs, err := recorder.ListRuns(ctx, 0)
	if err != nil {
		return err
	}
	var matches []store.RunSummary
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("run %q not found", prefix)
	case 1:
	default:
		return fmt.Errorf("run id prefix %q is ambiguous (%d runs)", prefix, len(matches))
	}
	run := matches[0]

	values, err := recorder.StepValues(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s %s\n", run.ID, run.Mode, run.Family)
	t := newTable("STEP", "VALUE")
	for i, v := range values {
		t.Row(fmt.Sprintf("%d", i+1), fmt.Sprintf("%.2f", v))
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// newTable 圆角边框表格
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func printRuns(w io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	t := newTable("ID", "CREATED", "MODE", "FAMILY", "PERIOD", "STEPS", "FINAL VALUE", "RETURN", "SHARPE", "MAX DD")
	for _, r := range runs {
		t.Row(
			shortID(r.ID),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Mode,
			r.Family,
			r.StartDate.Format("2006-01-02")+".."+r.EndDate.Format("2006-01-02"),
			fmt.Sprintf("%d", r.Steps),
			fmt.Sprintf("%.2f", r.FinalValue),
			fmt.Sprintf("%.2f%%", r.TotalReturn*100),
			fmt.Sprintf("%.2f", r.Sharpe),
			fmt.Sprintf("%.2f%%", r.MaxDrawdown*100),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// newVersionCmd 版本命令
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "multistock %s\n", Version)
		},
	}
}
