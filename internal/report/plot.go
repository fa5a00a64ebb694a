package report

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// 图片尺寸 15x6 英寸
const (
	plotWidth  = 15 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// EnsemblePlotName 多模型对比图文件名
const EnsemblePlotName = "testing_multistock_ensemble.png"

// TrainingPlotName 训练区间价值曲线文件名
func TrainingPlotName(family string) string {
	return fmt.Sprintf("training_multistock_%s.png", family)
}

// TestingPlotName 测试区间价值曲线文件名
func TestingPlotName(family string) string {
	return fmt.Sprintf("testing_multistock_%s.png", family)
}

// SharesPlotName 持股曲线文件名
func SharesPlotName(family string) string {
	return fmt.Sprintf("portfolio_shares_%s.png", family)
}

// series 以步数为横轴的折线数据
func series(ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(ys))
	for i, y := range ys {
		pts[i].X = float64(i)
		pts[i].Y = y
	}
	return pts
}

func newPlot(title, xLabel, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return p
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// PlotPortfolioValue 绘制组合总价值曲线
func PlotPortfolioValue(result *types.EpisodeResult, title, period, path string) error {
	if result.Info.Len() == 0 {
		return fmt.Errorf("no trajectory to plot for %s", result.Family)
	}
	p := newPlot(title, "Day "+period, "Portfolio Value ($)")
	if err := plotutil.AddLines(p, "Portfolio value", series(result.Info.TotalPortfolioValue)); err != nil {
		return fmt.Errorf("failed to add line: %w", err)
	}
	return save(p, path)
}

// PlotShares 绘制每个标的的持股数
func PlotShares(result *types.EpisodeResult, period, path string) error {
	info := result.Info
	if info.Len() == 0 {
		return fmt.Errorf("no trajectory to plot for %s", result.Family)
	}

	p := newPlot("Portfolio Shares, "+result.Family, "Day "+period, "Number of Shares")
	lines := make([]interface{}, 0, 2*len(result.Symbols))
	for s, symbol := range result.Symbols {
		ys := make([]float64, info.Len())
		for d := range ys {
			ys[d] = info.NumShares[d][s]
		}
		lines = append(lines, symbol, series(ys))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("failed to add lines: %w", err)
	}
	return save(p, path)
}

// PlotComparison 在同一张图上对比多个模型的组合价值
func PlotComparison(results []*types.EpisodeResult, period, path string) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to compare")
	}

	p := newPlot("Portfolio Value, Multistock", "Day "+period, "Portfolio Value ($)")
	lines := make([]interface{}, 0, 2*len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("Portfolio Value (%s)", r.Family), series(r.Info.TotalPortfolioValue))
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("failed to add lines: %w", err)
	}
	return save(p, path)
}
