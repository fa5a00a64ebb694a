package data

import (
	"fmt"
	"strings"

	"github.com/markcheno/go-talib"
)

// 指标参数
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	rsiPeriod  = 14
	cciPeriod  = 14
	adxPeriod  = 14
)

// DerivedIndicators 可从 OHLC 推导的指标列 (输出列名)
var DerivedIndicators = []string{"MACD", "Signal", "RSI", "CCI", "ADX"}

// OHLC 推导指标所需的价格序列, 按日期升序
type OHLC struct {
	High  []float64
	Low   []float64
	Close []float64
}

// CanDerive 判断列是否可推导
func CanDerive(name string) bool {
	switch canonicalColumn(name) {
	case "macd", "signal", "rsi", "cci", "adx":
		return true
	}
	return false
}

// DeriveIndicator 使用 go-talib 计算指标; 数据不足预热期时返回全 0 序列
func DeriveIndicator(name string, ohlc OHLC) ([]float64, error) {
	n := len(ohlc.Close)
	if n == 0 {
		return nil, fmt.Errorf("cannot derive %s: no close prices", name)
	}

	switch canonicalColumn(name) {
	case "macd", "signal":
		if n <= macdSlow+macdSignal {
			return make([]float64, n), nil
		}
		macd, signal, _ := talib.Macd(ohlc.Close, macdFast, macdSlow, macdSignal)
		if canonicalColumn(name) == "macd" {
			return macd, nil
		}
		return signal, nil
	case "rsi":
		if n <= rsiPeriod {
			return make([]float64, n), nil
		}
		return talib.Rsi(ohlc.Close, rsiPeriod), nil
	case "cci":
		if err := requireRange(name, ohlc); err != nil {
			return nil, err
		}
		if n <= cciPeriod {
			return make([]float64, n), nil
		}
		return talib.Cci(ohlc.High, ohlc.Low, ohlc.Close, cciPeriod), nil
	case "adx":
		if err := requireRange(name, ohlc); err != nil {
			return nil, err
		}
		if n <= 2*adxPeriod {
			return make([]float64, n), nil
		}
		return talib.Adx(ohlc.High, ohlc.Low, ohlc.Close, adxPeriod), nil
	}
	return nil, fmt.Errorf("indicator %q is not derivable", name)
}

func requireRange(name string, ohlc OHLC) error {
	if len(ohlc.High) != len(ohlc.Close) || len(ohlc.Low) != len(ohlc.Close) {
		return fmt.Errorf("cannot derive %s: High and Low columns are required", name)
	}
	return nil
}

// canonicalColumn 统一列名: 小写并去掉空格/下划线/连字符
func canonicalColumn(name string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	c := strings.ToLower(r.Replace(strings.TrimSpace(name)))
	switch c {
	case "timestamp":
		return "date"
	case "macdsignal":
		return "signal"
	}
	return c
}
