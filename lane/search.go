package lane

import "math"

// baseColumn finds the column-histogram peak of the mask's bottom half inside the
// half-image belonging to side. ok is false when that half has no pixels.
func baseColumn(m Mask, side Side) (col int, ok bool) {
	lo, hi := 0, m.Width/2
	if side == Right {
		lo, hi = m.Width/2, m.Width
	}
	hist := make([]int, hi-lo)
	for y := m.Height / 2; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := lo; x < hi; x++ {
			if row[x] != 0 {
				hist[x-lo]++
			}
		}
	}
	best := 0
	for i, v := range hist {
		if v > best {
			best, col = v, i+lo
		}
	}
	return col, best > 0
}

// slidingWindow is the cold-start search: bands from the bottom up, each window
// recentred on the pixel mean of the band below when it held enough pixels.
func slidingWindow(m Mask, side Side, cfg Config) []Point {
	center, ok := baseColumn(m, side)
	if !ok {
		return nil
	}
	bandHeight := m.Height / cfg.Windows
	if bandHeight < 1 {
		bandHeight = 1
	}

	var pts []Point
	for w := 0; w < cfg.Windows; w++ {
		yHigh := m.Height - w*bandHeight
		yLow := yHigh - bandHeight
		if w == cfg.Windows-1 || yLow < 0 {
			yLow = 0
		}
		if yHigh <= 0 {
			break
		}
		xLow := max(center-cfg.WindowMargin, 0)
		xHigh := min(center+cfg.WindowMargin, m.Width)

		count, sumX := 0, 0
		for y := yLow; y < yHigh; y++ {
			row := m.Pix[y*m.Width : (y+1)*m.Width]
			for x := xLow; x < xHigh; x++ {
				if row[x] != 0 {
					pts = append(pts, Point{X: x, Y: y})
					count++
					sumX += x
				}
			}
		}
		if count > cfg.MinWindowPixels {
			center = sumX / count
		}
	}
	return pts
}

// localSearch is the warm search: pixels within margin of the previous curve, row by row.
func localSearch(m Mask, fit Coefficients, margin int) []Point {
	var pts []Point
	for y := 0; y < m.Height; y++ {
		cx := fit.At(float64(y))
		if math.IsNaN(cx) || math.IsInf(cx, 0) {
			continue
		}
		xLow := max(int(math.Ceil(cx-float64(margin))), 0)
		xHigh := min(int(math.Floor(cx+float64(margin))), m.Width-1)
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := xLow; x <= xHigh; x++ {
			if row[x] != 0 {
				pts = append(pts, Point{X: x, Y: y})
			}
		}
	}
	return pts
}
