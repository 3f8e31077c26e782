package lane

import "gonum.org/v1/gonum/stat"

// history is a fixed-size FIFO of accepted fits.
type history struct {
	buf   []Coefficients
	start int
	n     int
}

func newHistory(size int) *history {
	return &history{buf: make([]Coefficients, size)}
}

func (h *history) push(c Coefficients) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = c
		h.n++
		return
	}
	// full: overwrite the oldest
	h.buf[h.start] = c
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

// entries returns the buffer oldest first.
func (h *history) entries() []Coefficients {
	out := make([]Coefficients, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *history) newest() (Coefficients, bool) {
	if h.n == 0 {
		return Coefficients{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

func (h *history) mean() Coefficients {
	var out Coefficients
	if h.n == 0 {
		return out
	}
	col := make([]float64, h.n)
	for k := range out {
		for i, c := range h.entries() {
			col[i] = c[k]
		}
		out[k] = stat.Mean(col, nil)
	}
	return out
}

func (h *history) reset() {
	h.start, h.n = 0, 0
}

func (h *history) clone() *history {
	c := &history{buf: make([]Coefficients, len(h.buf)), start: h.start, n: h.n}
	copy(c.buf, h.buf)
	return c
}
