// Package indicator computes technical indicators as pure functions over
// price/volume series. Every function takes the full slice and returns a
// same-length slice (leading entries before the warmup period are NaN),
// mirroring the slice-in/slice-out style used across the retrieval pack's
// strategy packages rather than a stateful streaming indicator object.
package indicator

import "math"

// EMA computes the exponential moving average of x with period n.
func EMA(x []float64, n int) []float64 {
	res := make([]float64, len(x))
	if len(x) == 0 {
		return res
	}
	k := 2.0 / (float64(n) + 1)
	res[0] = x[0]
	for i := 1; i < len(x); i++ {
		res[i] = x[i]*k + res[i-1]*(1-k)
	}
	for i := 0; i < n-1 && i < len(res); i++ {
		res[i] = math.NaN()
	}
	return res
}

// SMA computes the simple moving average of x with period n.
func SMA(x []float64, n int) []float64 {
	res := make([]float64, len(x))
	sum := 0.0
	for i := range x {
		sum += x[i]
		if i >= n {
			sum -= x[i-n]
		}
		if i < n-1 {
			res[i] = math.NaN()
			continue
		}
		res[i] = sum / float64(n)
	}
	return res
}

// TrueRange computes the per-bar true range series.
func TrueRange(highs, lows, closes []float64) []float64 {
	tr := make([]float64, len(closes))
	for i := range closes {
		if i == 0 {
			tr[i] = highs[i] - lows[i]
			continue
		}
		tr[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
	}
	return tr
}

// ATR computes Wilder's average true range with period n.
func ATR(highs, lows, closes []float64, n int) []float64 {
	tr := TrueRange(highs, lows, closes)
	return wilderSmooth(tr, n)
}

// wilderSmooth applies Wilder's smoothing (an EMA variant with alpha=1/n),
// used by ATR, ADX and RSI. The first n-1 outputs are NaN.
func wilderSmooth(x []float64, n int) []float64 {
	res := make([]float64, len(x))
	if len(x) < n {
		for i := range res {
			res[i] = math.NaN()
		}
		return res
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += x[i]
		res[i] = math.NaN()
	}
	prev := sum / float64(n)
	res[n-1] = prev
	for i := n; i < len(x); i++ {
		prev = (prev*float64(n-1) + x[i]) / float64(n)
		res[i] = prev
	}
	return res
}

// RSI computes Wilder's relative strength index over close-to-close changes
// with period n.
func RSI(closes []float64, n int) []float64 {
	res := make([]float64, len(closes))
	if len(closes) == 0 {
		return res
	}
	res[0] = math.NaN()
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	avgGain := wilderSmooth(gains[1:], n)
	avgLoss := wilderSmooth(losses[1:], n)
	for i := 1; i < len(closes); i++ {
		ag := avgGain[i-1]
		al := avgLoss[i-1]
		if math.IsNaN(ag) || math.IsNaN(al) {
			res[i] = math.NaN()
			continue
		}
		if al == 0 {
			res[i] = 100
			continue
		}
		rs := ag / al
		res[i] = 100 - 100/(1+rs)
	}
	return res
}

// ADX computes the Wilder average directional index with period n, alongside
// its +DI/-DI components.
func ADX(highs, lows, closes []float64, n int) (adx, plusDI, minusDI []float64) {
	size := len(closes)
	adx = make([]float64, size)
	plusDI = make([]float64, size)
	minusDI = make([]float64, size)
	if size < 2 {
		for i := range adx {
			adx[i], plusDI[i], minusDI[i] = math.NaN(), math.NaN(), math.NaN()
		}
		return
	}

	plusDM := make([]float64, size)
	minusDM := make([]float64, size)
	tr := TrueRange(highs, lows, closes)
	for i := 1; i < size; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := wilderSmooth(tr[1:], n)
	smoothPlusDM := wilderSmooth(plusDM[1:], n)
	smoothMinusDM := wilderSmooth(minusDM[1:], n)

	dx := make([]float64, size)
	plusDI[0] = math.NaN()
	minusDI[0] = math.NaN()
	dx[0] = math.NaN()
	for i := 1; i < size; i++ {
		trv := smoothTR[i-1]
		if math.IsNaN(trv) || trv == 0 {
			plusDI[i], minusDI[i], dx[i] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		plusDI[i] = 100 * smoothPlusDM[i-1] / trv
		minusDI[i] = 100 * smoothMinusDM[i-1] / trv
		diSum := plusDI[i] + minusDI[i]
		if diSum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / diSum
	}
	adxRaw := wilderSmooth(dx[1:], n)
	adx[0] = math.NaN()
	for i := 1; i < size; i++ {
		adx[i] = adxRaw[i-1]
	}
	return
}

// BollingerBands computes the middle/upper/lower bands with the given
// period and standard-deviation multiplier.
type BollingerBands struct {
	Mid   []float64
	Upper []float64
	Lower []float64
}

// Bollinger computes Bollinger Bands over closes with period n and factor k
// standard deviations.
func Bollinger(closes []float64, n int, k float64) BollingerBands {
	mid := SMA(closes, n)
	size := len(closes)
	upper := make([]float64, size)
	lower := make([]float64, size)
	for i := range closes {
		if i < n-1 {
			upper[i], lower[i] = math.NaN(), math.NaN()
			continue
		}
		var sumSq float64
		for j := i - n + 1; j <= i; j++ {
			diff := closes[j] - mid[i]
			sumSq += diff * diff
		}
		std := math.Sqrt(sumSq / float64(n))
		upper[i] = mid[i] + k*std
		lower[i] = mid[i] - k*std
	}
	return BollingerBands{Mid: mid, Upper: upper, Lower: lower}
}

// BandWidth returns (upper-lower)/mid at each bar, the raw input to the
// squeeze regime's percentile-rank test.
func (b BollingerBands) BandWidth() []float64 {
	out := make([]float64, len(b.Mid))
	for i := range b.Mid {
		if b.Mid[i] == 0 || math.IsNaN(b.Mid[i]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (b.Upper[i] - b.Lower[i]) / b.Mid[i]
	}
	return out
}

// Donchian computes the n-period highest-high and lowest-low channel.
type Donchian struct {
	Upper []float64
	Lower []float64
}

// DonchianChannel computes the Donchian channel over highs/lows with period n.
func DonchianChannel(highs, lows []float64, n int) Donchian {
	size := len(highs)
	upper := make([]float64, size)
	lower := make([]float64, size)
	for i := range highs {
		if i < n-1 {
			upper[i], lower[i] = math.NaN(), math.NaN()
			continue
		}
		hh, ll := highs[i], lows[i]
		for j := i - n + 1; j <= i; j++ {
			if highs[j] > hh {
				hh = highs[j]
			}
			if lows[j] < ll {
				ll = lows[j]
			}
		}
		upper[i] = hh
		lower[i] = ll
	}
	return Donchian{Upper: upper, Lower: lower}
}

// Keltner holds an ATR-based channel around an EMA midline.
type Keltner struct {
	Mid   []float64
	Upper []float64
	Lower []float64
}

// KeltnerChannel computes an EMA(n) midline +/- mult*ATR(n), the containment
// reference for the squeeze regime's Keltner test: a squeeze requires the
// Bollinger Bands to sit tucked inside this channel, not just a narrow BB
// width on its own.
func KeltnerChannel(closes, highs, lows []float64, n int, mult float64) Keltner {
	mid := EMA(closes, n)
	atr := ATR(highs, lows, closes, n)
	size := len(closes)
	upper := make([]float64, size)
	lower := make([]float64, size)
	for i := 0; i < size; i++ {
		if math.IsNaN(mid[i]) || math.IsNaN(atr[i]) {
			upper[i], lower[i] = math.NaN(), math.NaN()
			continue
		}
		upper[i] = mid[i] + mult*atr[i]
		lower[i] = mid[i] - mult*atr[i]
	}
	return Keltner{Mid: mid, Upper: upper, Lower: lower}
}

// PercentileRank returns the fraction of the trailing `lookback` values
// (including the current one) that are <= the current value, at each index.
// Used for the ATR-percentile and BB-width-percentile squeeze/expansion
// tests.
func PercentileRank(x []float64, lookback int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i < lookback-1 || math.IsNaN(x[i]) {
			out[i] = math.NaN()
			continue
		}
		count := 0
		total := 0
		for j := i - lookback + 1; j <= i; j++ {
			if math.IsNaN(x[j]) {
				continue
			}
			total++
			if x[j] <= x[i] {
				count++
			}
		}
		if total == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(count) / float64(total)
	}
	return out
}

// VolumeStats is the rolling mean/stddev of a volume series at each bar,
// used by strategies to test for volume confirmation (e.g. current volume
// >= mean + k*stddev).
type VolumeStats struct {
	Mean   []float64
	StdDev []float64
}

// RollingVolumeStats computes a trailing rolling mean/stddev of volumes over
// window n.
func RollingVolumeStats(volumes []float64, n int) VolumeStats {
	mean := make([]float64, len(volumes))
	std := make([]float64, len(volumes))
	for i := range volumes {
		if i < n-1 {
			mean[i], std[i] = math.NaN(), math.NaN()
			continue
		}
		var sum float64
		for j := i - n + 1; j <= i; j++ {
			sum += volumes[j]
		}
		m := sum / float64(n)
		var sumSq float64
		for j := i - n + 1; j <= i; j++ {
			diff := volumes[j] - m
			sumSq += diff * diff
		}
		mean[i] = m
		std[i] = math.Sqrt(sumSq / float64(n))
	}
	return VolumeStats{Mean: mean, StdDev: std}
}

// Last returns the final element of x, or NaN for an empty slice.
func Last(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return x[len(x)-1]
}
