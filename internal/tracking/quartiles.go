package tracking

// Quartiles tracks which quartile markers one playback has crossed. The zero
// value is ready to use; markers stay crossed until Reset.
type Quartiles struct {
	fired [3]bool
}

var quartileEvents = [3]Event{EventFirstQuartile, EventMidpoint, EventThirdQuartile}

// Update returns the quartile events newly crossed at positionMs of a
// durationMs long creative. With an unknown duration every threshold is zero,
// so the first update crosses all three.
func (q *Quartiles) Update(positionMs, durationMs int64) []Event {
	if durationMs < 0 {
		durationMs = 0
	}
	var out []Event
	for i, e := range quartileEvents {
		if q.fired[i] {
			continue
		}
		threshold := durationMs * int64(i+1) / 4
		if positionMs >= threshold {
			q.fired[i] = true
			out = append(out, e)
		}
	}
	return out
}

// Crossed reports how many markers have fired
func (q *Quartiles) Crossed() int {
	n := 0
	for _, f := range q.fired {
		if f {
			n++
		}
	}
	return n
}

// Reset clears every marker for a new playback
func (q *Quartiles) Reset() {
	q.fired = [3]bool{}
}
