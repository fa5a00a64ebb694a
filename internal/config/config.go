package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opsxjacky/multistock-rl/internal/agent"
	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// openEndMarker 表示区间不设上限
const openEndMarker = "Present"

// Config 配置文件结构
type Config struct {
	Data        DataSection        `yaml:"data"`
	Environment EnvironmentSection `yaml:"environment"`
	Agent       AgentSection       `yaml:"agent"`
	Costs       CostsSection       `yaml:"costs"`
	Output      OutputSection      `yaml:"output"`
	Storage     StorageSection     `yaml:"storage"`
	Logging     LoggingSection     `yaml:"logging"`
}

// DataSection 行情数据配置
type DataSection struct {
	Dir      string   `yaml:"dir"`
	Symbols  []string `yaml:"symbols"`
	Features []string `yaml:"features"`
	MinRows  int      `yaml:"min_rows"` // 0 表示以第一个标的为参照
	Align    string   `yaml:"align"`
	Train    Period   `yaml:"train"`
	Test     Period   `yaml:"test"`
}

// Period 日期区间, End 为空或 "Present" 表示至今
type Period struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// EnvironmentSection 交易环境配置
type EnvironmentSection struct {
	WindowSize       int     `yaml:"window_size"`
	MaxTrade         float64 `yaml:"max_trade"` // 0 表示 100/(2·标的数)
	StartingBalance  float64 `yaml:"starting_balance"`
	FractionalShares bool    `yaml:"fractional_shares"`
}

// AgentSection 智能体配置
type AgentSection struct {
	Family        string  `yaml:"family"`
	Timesteps     int     `yaml:"timesteps"`
	Seed          int64   `yaml:"seed"`
	Gamma         float64 `yaml:"gamma"`
	LearningRate  float64 `yaml:"learning_rate"`
	NoiseStd      float64 `yaml:"noise_std"`
	Directions    int     `yaml:"directions"`
	TopDirections int     `yaml:"top_directions"`
	Threshold     float64 `yaml:"threshold"`
	MinTradeValue float64 `yaml:"min_trade_value"`
}

// CostsSection 成本配置
type CostsSection struct {
	CommissionRate float64 `yaml:"commission_rate"`
	MinCommission  float64 `yaml:"min_commission"`
	SlippageRate   float64 `yaml:"slippage_rate"`
	TaxRate        float64 `yaml:"tax_rate"`
}

// OutputSection 输出配置
type OutputSection struct {
	ModelsDir   string `yaml:"models_dir"`
	PlotsDir    string `yaml:"plots_dir"`
	Path        string `yaml:"path"` // JSON 结果目录
	ModelPrefix string `yaml:"model_prefix"`
	Plots       bool   `yaml:"plots"`
	ExportJSON  bool   `yaml:"export_json"`
}

// StorageSection 运行记录配置
type StorageSection struct {
	SQLitePath string `yaml:"sqlite_path"` // 为空时不记录
}

// LoggingSection 日志配置
type LoggingSection struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Data: DataSection{
			Dir:      "data",
			Symbols:  []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL"},
			Features: append([]string(nil), types.DefaultFeatures...),
			Align:    string(types.AlignIntersect),
			Train:    Period{Start: "2021-01-01", End: "2023-01-01"},
			Test:     Period{Start: "2023-01-01", End: openEndMarker},
		},
		Environment: EnvironmentSection{
			WindowSize:      10,
			StartingBalance: 100000,
		},
		Agent: AgentSection{
			Family:        string(agent.FamilyARS),
			Timesteps:     250,
			Seed:          42,
			Gamma:         0.95,
			LearningRate:  0.02,
			NoiseStd:      0.03,
			Directions:    8,
			TopDirections: 4,
			Threshold:     0.05,
			MinTradeValue: 100,
		},
		Output: OutputSection{
			ModelsDir:   "models",
			PlotsDir:    "plots",
			Path:        "output",
			ModelPrefix: "multistock",
			Plots:       true,
			ExportJSON:  true,
		},
		Logging: LoggingSection{Level: "info"},
	}
}

// LoadConfig 从文件加载配置, 再应用 .env 与 MULTISTOCK_* 环境变量; path 为空时只用默认值
func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	if filepath != "" {
		data, err := os.ReadFile(filepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	_ = godotenv.Load()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() error {
	if v := os.Getenv("MULTISTOCK_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("MULTISTOCK_SYMBOLS"); v != "" {
		c.Data.Symbols = splitList(v)
	}
	if v := os.Getenv("MULTISTOCK_AGENT_FAMILY"); v != "" {
		c.Agent.Family = v
	}
	if v := os.Getenv("MULTISTOCK_MODELS_DIR"); v != "" {
		c.Output.ModelsDir = v
	}
	if v := os.Getenv("MULTISTOCK_PLOTS_DIR"); v != "" {
		c.Output.PlotsDir = v
	}
	if v := os.Getenv("MULTISTOCK_OUTPUT_DIR"); v != "" {
		c.Output.Path = v
	}
	if v, ok := os.LookupEnv("MULTISTOCK_SQLITE_PATH"); ok {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("MULTISTOCK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("MULTISTOCK_TIMESTEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MULTISTOCK_TIMESTEPS: %w", err)
		}
		c.Agent.Timesteps = n
	}
	if v := os.Getenv("MULTISTOCK_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MULTISTOCK_SEED: %w", err)
		}
		c.Agent.Seed = n
	}
	if v := os.Getenv("MULTISTOCK_STARTING_BALANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid MULTISTOCK_STARTING_BALANCE: %w", err)
		}
		c.Environment.StartingBalance = f
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if len(c.Data.Symbols) == 0 {
		errs = append(errs, errors.New("data.symbols must not be empty"))
	}
	switch types.AlignPolicy(c.Data.Align) {
	case "", types.AlignIntersect, types.AlignStrict:
	default:
		errs = append(errs, fmt.Errorf("data.align must be %q or %q, got %q", types.AlignIntersect, types.AlignStrict, c.Data.Align))
	}
	if c.Data.MinRows < 0 {
		errs = append(errs, errors.New("data.min_rows must not be negative"))
	}
	if c.Environment.WindowSize < 1 {
		errs = append(errs, errors.New("environment.window_size must be at least 1"))
	}
	if c.Environment.MaxTrade < 0 {
		errs = append(errs, errors.New("environment.max_trade must not be negative"))
	}
	if c.Environment.StartingBalance <= 0 {
		errs = append(errs, errors.New("environment.starting_balance must be positive"))
	}
	if _, err := agent.ParseFamily(c.Agent.Family); err != nil {
		errs = append(errs, fmt.Errorf("agent.family: %w", err))
	}
	if c.Agent.Timesteps < 0 {
		errs = append(errs, errors.New("agent.timesteps must not be negative"))
	}
	if _, err := c.Data.Train.Range(); err != nil {
		errs = append(errs, fmt.Errorf("data.train: %w", err))
	}
	if _, err := c.Data.Test.Range(); err != nil {
		errs = append(errs, fmt.Errorf("data.test: %w", err))
	}

	return errors.Join(errs...)
}

// DateRange 解析后的日期区间
type DateRange struct {
	Start time.Time
	End   time.Time // 零值表示至今
}

// Range 解析区间
func (p Period) Range() (DateRange, error) {
	start, err := time.Parse("2006-01-02", strings.TrimSpace(p.Start))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date: %w", err)
	}

	end := strings.TrimSpace(p.End)
	if end == "" || strings.EqualFold(end, openEndMarker) {
		return DateRange{Start: start}, nil
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date: %w", err)
	}
	if endDate.Before(start) {
		return DateRange{}, fmt.Errorf("end date %s is before start date %s", end, p.Start)
	}
	return DateRange{Start: start, End: endDate}, nil
}

// Label 图表横轴使用的区间描述
func (p Period) Label() string {
	end := strings.TrimSpace(p.End)
	if end == "" {
		end = openEndMarker
	}
	return fmt.Sprintf("%s - %s", p.Start, end)
}

// ToLoadRequest 转换为加载请求
func (c *Config) ToLoadRequest(period Period) (types.LoadRequest, error) {
	r, err := period.Range()
	if err != nil {
		return types.LoadRequest{}, err
	}

	align := types.AlignPolicy(c.Data.Align)
	if align == "" {
		align = types.AlignIntersect
	}
	return types.LoadRequest{
		Symbols:  append([]string(nil), c.Data.Symbols...),
		Start:    r.Start,
		End:      r.End,
		MinRows:  c.Data.MinRows,
		Features: append([]string(nil), c.Data.Features...),
		Align:    align,
	}, nil
}

// ToEnvConfig 转换为环境参数, max_trade 为 0 时按实际加载的标的数计算
func (c *Config) ToEnvConfig(numStocks int) types.EnvConfig {
	return types.EnvConfig{
		WindowSize:       c.Environment.WindowSize,
		MaxTrade:         c.Environment.MaxTrade,
		StartingBalance:  c.Environment.StartingBalance,
		FractionalShares: c.Environment.FractionalShares,
	}.ResolveMaxTrade(numStocks)
}

// ToAgentParams 转换为智能体参数
func (c *Config) ToAgentParams() types.AgentParams {
	return types.AgentParams{
		Seed:          c.Agent.Seed,
		Gamma:         c.Agent.Gamma,
		LearningRate:  c.Agent.LearningRate,
		NoiseStd:      c.Agent.NoiseStd,
		Directions:    c.Agent.Directions,
		TopDirections: c.Agent.TopDirections,
		Threshold:     c.Agent.Threshold,
		MinTradeValue: c.Agent.MinTradeValue,
	}
}

// ToCostConfig 转换为成本配置
func (c *Config) ToCostConfig() types.CostConfig {
	return types.CostConfig{
		CommissionRate: c.Costs.CommissionRate,
		MinCommission:  c.Costs.MinCommission,
		SlippageRate:   c.Costs.SlippageRate,
		TaxRate:        c.Costs.TaxRate,
	}
}

// GetDataDir 获取数据目录
func (c *Config) GetDataDir() string {
	if c.Data.Dir != "" {
		return c.Data.Dir
	}
	return "data"
}

// GetOutputPath 获取输出路径
func (c *Config) GetOutputPath() string {
	if c.Output.Path != "" {
		return c.Output.Path
	}
	return "output"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
