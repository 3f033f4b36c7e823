package strategy

import "github.com/tsygulevsergey-pixel/BinanceBotAssistant/internal/market"

// VolumeNodes is the value-area summary of a volume profile: point of
// control, value-area high/low, built from a fixed-bin histogram over the
// series' full high/low range (grounded on the original's vectorized
// per-candle-range bin overlap distribution).
type VolumeNodes struct {
	POC float64
	VAH float64
	VAL float64
}

// buildVolumeProfile distributes each candle's volume across the price bins
// its high-low range overlaps, then grows a contiguous value area around the
// point of control until it holds 70% of total volume.
func buildVolumeProfile(series market.Series, numBins int) VolumeNodes {
	if len(series) == 0 {
		return VolumeNodes{}
	}
	if numBins < 10 {
		numBins = 10
	}
	if numBins > 200 {
		numBins = 200
	}

	minPrice := series[0].Low
	maxPrice := series[0].High
	for _, c := range series {
		if c.Low < minPrice {
			minPrice = c.Low
		}
		if c.High > maxPrice {
			maxPrice = c.High
		}
	}
	if maxPrice <= minPrice {
		return VolumeNodes{POC: minPrice, VAH: minPrice, VAL: minPrice}
	}

	binSize := (maxPrice - minPrice) / float64(numBins)
	volumeByBin := make([]float64, numBins)
	binCenter := func(i int) float64 { return minPrice + binSize*(float64(i)+0.5) }

	for _, c := range series {
		candleRange := c.High - c.Low
		if candleRange <= 0 {
			idx := binIndex(c.Close, minPrice, binSize, numBins)
			volumeByBin[idx] += c.Volume
			continue
		}
		for i := 0; i < numBins; i++ {
			binLow := minPrice + binSize*float64(i)
			binHigh := binLow + binSize
			overlap := minF(c.High, binHigh) - maxF(c.Low, binLow)
			if overlap <= 0 {
				continue
			}
			volumeByBin[i] += c.Volume * (overlap / candleRange)
		}
	}

	pocIdx := 0
	for i, v := range volumeByBin {
		if v > volumeByBin[pocIdx] {
			pocIdx = i
		}
	}

	total := 0.0
	for _, v := range volumeByBin {
		total += v
	}
	target := total * 0.70

	inArea := map[int]bool{pocIdx: true}
	cum := volumeByBin[pocIdx]
	left, right := pocIdx-1, pocIdx+1
	for cum < target {
		leftVol, rightVol := 0.0, 0.0
		if left >= 0 {
			leftVol = volumeByBin[left]
		}
		if right < numBins {
			rightVol = volumeByBin[right]
		}
		if leftVol == 0 && rightVol == 0 {
			break
		}
		if leftVol >= rightVol && left >= 0 {
			inArea[left] = true
			cum += leftVol
			left--
		} else if right < numBins {
			inArea[right] = true
			cum += rightVol
			right++
		} else {
			break
		}
	}

	lo, hi := pocIdx, pocIdx
	for idx := range inArea {
		if idx < lo {
			lo = idx
		}
		if idx > hi {
			hi = idx
		}
	}

	return VolumeNodes{POC: binCenter(pocIdx), VAH: binCenter(hi), VAL: binCenter(lo)}
}

func binIndex(price, minPrice, binSize float64, numBins int) int {
	if binSize <= 0 {
		return 0
	}
	idx := int((price - minPrice) / binSize)
	if idx < 0 {
		idx = 0
	}
	if idx >= numBins {
		idx = numBins - 1
	}
	return idx
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
