package ledger

import "github.com/alanyoungcy/poolledger/internal/domain"

// DefaultHistoryWindow is the number of daily records retained per pool.
const DefaultHistoryWindow = 365

// history is a fixed-capacity ring of performance records. The oldest record
// is overwritten once the ring is full.
type history struct {
	buf   []domain.PerformanceRecord
	start int
	size  int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistoryWindow
	}
	return &history{buf: make([]domain.PerformanceRecord, capacity)}
}

func (h *history) push(rec domain.PerformanceRecord) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = rec
		h.size++
		return
	}
	h.buf[h.start] = rec
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.size }

func (h *history) last() (domain.PerformanceRecord, bool) {
	if h.size == 0 {
		return domain.PerformanceRecord{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

// records copies the retained records oldest first.
func (h *history) records() []domain.PerformanceRecord {
	out := make([]domain.PerformanceRecord, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// series splits the retained records into daily and cumulative return slices.
func (h *history) series() (returns, cumulative []float64) {
	returns = make([]float64, h.size)
	cumulative = make([]float64, h.size)
	for i := 0; i < h.size; i++ {
		rec := h.buf[(h.start+i)%len(h.buf)]
		returns[i] = rec.DailyReturn
		cumulative[i] = rec.CumulativeReturn
	}
	return returns, cumulative
}
