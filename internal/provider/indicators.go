package provider

import (
	"math"

	"github.com/marcusvale/equityscore/pkg/types"
)

// computeIndicators derives the named indicator families from a bar
// history. Every series is aligned 1:1 with bars; entries that cannot
// yet be computed (insufficient lookback) are left nil rather than
// zero, per the DataBundle "missing marker" invariant.
func computeIndicators(bars []types.Bar) map[string]types.Indicator {
	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		volumes[i], _ = b.Volume.Float64()
	}

	out := map[string]types.Indicator{}
	out["sma_50"] = series(sma(closes, 50))
	out["sma_200"] = series(sma(closes, 200))
	out["rsi_14"] = series(rsi(closes, 14))
	macdLine, signalLine := macd(closes, 12, 26, 9)
	out["macd"] = series(macdLine)
	out["macd_signal"] = series(signalLine)
	out["atr_14"] = series(atr(highs, lows, closes, 14))
	out["obv"] = series(obv(closes, volumes))
	out["ad"] = series(adLine(highs, lows, closes, volumes))
	out["mfi_14"] = series(mfi(highs, lows, closes, volumes, 14))
	out["cmf_20"] = series(cmf(highs, lows, closes, volumes, 20))
	out["vwap"] = series(vwap(highs, lows, closes, volumes))
	out["volume_zscore"] = series(zscore(volumes, 20))

	if n > 0 {
		out["current_price"] = scalar(closes[n-1])
	}
	return out
}

func scalar(v float64) types.Indicator {
	vv := v
	return types.Indicator{Scalar: &vv}
}

func series(vals []float64) types.Indicator {
	out := make([]*float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		vv := v
		out[i] = &vv
	}
	return types.Indicator{Series: out}
}

func sma(vals []float64, window int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.NaN()
	}
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= window {
			sum -= vals[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

func ema(vals []float64, window int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(vals) == 0 {
		return out
	}
	k := 2.0 / (float64(window) + 1.0)
	var prev float64
	started := false
	for i, v := range vals {
		if !started {
			prev = v
			started = true
		} else {
			prev = v*k + prev*(1-k)
		}
		if i >= window-1 {
			out[i] = prev
		}
	}
	return out
}

func rsi(vals []float64, window int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(vals) <= window {
		return out
	}
	var gainSum, lossSum float64
	for i := 1; i <= window; i++ {
		d := vals[i] - vals[i-1]
		if d > 0 {
			gainSum += d
		} else {
			lossSum -= d
		}
	}
	avgGain := gainSum / float64(window)
	avgLoss := lossSum / float64(window)
	out[window] = rsiFromAvg(avgGain, avgLoss)
	for i := window + 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(window-1) + gain) / float64(window)
		avgLoss = (avgLoss*float64(window-1) + loss) / float64(window)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func macd(vals []float64, fast, slow, signalWindow int) ([]float64, []float64) {
	emaFast := ema(vals, fast)
	emaSlow := ema(vals, slow)
	line := make([]float64, len(vals))
	for i := range vals {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			line[i] = math.NaN()
			continue
		}
		line[i] = emaFast[i] - emaSlow[i]
	}
	cleanLine := make([]float64, 0, len(line))
	for _, v := range line {
		if !math.IsNaN(v) {
			cleanLine = append(cleanLine, v)
		}
	}
	sig := ema(cleanLine, signalWindow)
	signalFull := make([]float64, len(vals))
	for i := range signalFull {
		signalFull[i] = math.NaN()
	}
	offset := len(vals) - len(cleanLine)
	for i, v := range sig {
		signalFull[offset+i] = v
	}
	return line, signalFull
}

func atr(highs, lows, closes []float64, window int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if n == 0 {
		return out
	}
	trs := make([]float64, n)
	trs[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trs[i] = math.Max(hl, math.Max(hc, lc))
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += trs[i]
		if i >= window {
			sum -= trs[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

func obv(closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}
	out[0] = 0
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

func adLine(highs, lows, closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	var cum float64
	for i := range closes {
		rng := highs[i] - lows[i]
		var mfm float64
		if rng != 0 {
			mfm = ((closes[i] - lows[i]) - (highs[i] - closes[i])) / rng
		}
		cum += mfm * volumes[i]
		out[i] = cum
	}
	return out
}

func mfi(highs, lows, closes, volumes []float64, window int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if n == 0 {
		return out
	}
	typicalPrice := make([]float64, n)
	for i := range closes {
		typicalPrice[i] = (highs[i] + lows[i] + closes[i]) / 3
	}
	for i := window; i < n; i++ {
		var posFlow, negFlow float64
		for j := i - window + 1; j <= i; j++ {
			if j == 0 {
				continue
			}
			mf := typicalPrice[j] * volumes[j]
			if typicalPrice[j] > typicalPrice[j-1] {
				posFlow += mf
			} else if typicalPrice[j] < typicalPrice[j-1] {
				negFlow += mf
			}
		}
		if negFlow == 0 {
			out[i] = 100
			continue
		}
		ratio := posFlow / negFlow
		out[i] = 100 - (100 / (1 + ratio))
	}
	return out
}

func cmf(highs, lows, closes, volumes []float64, window int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	for i := window - 1; i < n; i++ {
		var mfvSum, volSum float64
		for j := i - window + 1; j <= i; j++ {
			rng := highs[j] - lows[j]
			var mfm float64
			if rng != 0 {
				mfm = ((closes[j] - lows[j]) - (highs[j] - closes[j])) / rng
			}
			mfvSum += mfm * volumes[j]
			volSum += volumes[j]
		}
		if volSum != 0 {
			out[i] = mfvSum / volSum
		}
	}
	return out
}

func vwap(highs, lows, closes, volumes []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	var cumPV, cumV float64
	for i := 0; i < n; i++ {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += typical * volumes[i]
		cumV += volumes[i]
		if cumV != 0 {
			out[i] = cumPV / cumV
		}
	}
	return out
}

func zscore(vals []float64, window int) []float64 {
	n := len(vals)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	for i := window - 1; i < n; i++ {
		slice := vals[i-window+1 : i+1]
		mean := 0.0
		for _, v := range slice {
			mean += v
		}
		mean /= float64(len(slice))
		var variance float64
		for _, v := range slice {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(slice))
		std := math.Sqrt(variance)
		if std == 0 {
			out[i] = 0
			continue
		}
		out[i] = (vals[i] - mean) / std
	}
	return out
}
