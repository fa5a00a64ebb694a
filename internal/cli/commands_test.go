package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsxjacky/multistock-rl/internal/agent"
	"github.com/opsxjacky/multistock-rl/internal/store"
)

// workspace 在临时目录中准备行情文件和配置
func workspace(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	start := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	for s, symbol := range []string{"AAPL", "MSFT", "NVDA"} {
		var b strings.Builder
		b.WriteString("Date,Open,High,Low,Close,Volume\n")
		for i := 0; i < 120; i++ {
			c := 100 + float64(10*s) + float64(i%9) + 0.2*float64(i)
			fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,1000\n", start.AddDate(0, 0, i).Format("2006-01-02"), c, c+1, c-1, c)
		}
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, symbol+".csv"), []byte(b.String()), 0644))
	}

	config := fmt.Sprintf(`
data:
  dir: %[1]s/data
  symbols: [AAPL, MSFT, NVDA]
  features: [Close, RSI]
  train:
    start: "2022-06-01"
    end: "2022-08-15"
  test:
    start: "2022-08-16"
    end: Present
environment:
  window_size: 5
agent:
  family: EQW
  timesteps: 200
  directions: 4
  top_directions: 2
output:
  models_dir: %[1]s/models
  plots_dir: %[1]s/plots
  path: %[1]s/output
  model_prefix: multistock
  plots: true
  export_json: true
storage:
  sqlite_path: %[1]s/runs.db
`, root)
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return root, path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "multistock "+Version+"\n", out)
}

func TestTrainEvaluateCompareRuns(t *testing.T) {
	root, config := workspace(t)

	out, err := run(t, "train", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "Train summary: EQW")
	assert.FileExists(t, filepath.Join(root, "models", "multistock_EQW"+agent.ArtifactExt))
	assert.FileExists(t, filepath.Join(root, "plots", "training_multistock_EQW.png"))
	assert.FileExists(t, filepath.Join(root, "output", "train_multistock_EQW.json"))

	_, err = run(t, "train", "--config", config, "--family", "ars", "--timesteps", "100")
	require.NoError(t, err)

	out, err = run(t, "evaluate", "--config", config, "--model", filepath.Join(root, "models", "multistock_ARS"))
	require.NoError(t, err)
	assert.Contains(t, out, "Evaluate summary: ARS")
	assert.FileExists(t, filepath.Join(root, "plots", "testing_multistock_ARS.png"))
	assert.FileExists(t, filepath.Join(root, "plots", "portfolio_shares_ARS.png"))

	out, err = run(t, "compare", "--config", config,
		filepath.Join(root, "models", "multistock_ARS"),
		filepath.Join(root, "models", "multistock_EQW"))
	require.NoError(t, err)
	assert.Contains(t, out, "Evaluate summary: ARS")
	assert.Contains(t, out, "Evaluate summary: EQW")
	assert.FileExists(t, filepath.Join(root, "plots", "testing_multistock_ensemble.png"))

	out, err = run(t, "runs", "--config", config, "--limit", "0")
	require.NoError(t, err)
	// 两次训练, 一次评估, 一次两模型对比
	assert.Equal(t, 2, strings.Count(out, " train "), out)
	assert.Equal(t, 3, strings.Count(out, " evaluate "), out)
}

func TestRunsStepValues(t *testing.T) {
	root, config := workspace(t)

	_, err := run(t, "train", "--config", config, "--family", "HOLD")
	require.NoError(t, err)

	recorder, err := store.NewSQLiteRecorder(filepath.Join(root, "runs.db"), zerolog.Nop())
	require.NoError(t, err)
	runs, err := recorder.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, recorder.Close())
	require.Len(t, runs, 1)

	out, err := run(t, "runs", "--config", config, "--id", runs[0].ID[:8])
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].ID+" train HOLD")
	// HOLD 不交易, 每一步总价值都等于初始资金
	assert.Equal(t, runs[0].Steps, strings.Count(out, " 100000.00 "), out)

	_, err = run(t, "runs", "--config", config, "--id", "missing")
	assert.Error(t, err)
}

func TestUnsupportedFamily(t *testing.T) {
	_, config := workspace(t)

	_, err := run(t, "train", "--config", config, "--family", "PPO")
	assert.ErrorIs(t, err, agent.ErrUnsupportedFamily)

	_, err = run(t, "compare", "--config", config, "models/multistock_A2C")
	assert.ErrorIs(t, err, agent.ErrUnsupportedFamily)
}

func TestFeatures(t *testing.T) {
	root, config := workspace(t)
	outDir := filepath.Join(root, "enriched")

	out, err := run(t, "features", "--config", config, "--out", outDir, "AAPL")
	require.NoError(t, err)
	assert.Contains(t, out, "AAPL ->")
	assert.FileExists(t, filepath.Join(outDir, "AAPL.csv"))
}

func TestRunsRequiresStorage(t *testing.T) {
	t.Setenv("MULTISTOCK_SQLITE_PATH", "")
	_, config := workspace(t)

	_, err := run(t, "runs", "--config", config)
	assert.Error(t, err)
}
