package proctor

import "github.com/stemsi/exstem-proctor/internal/model"

// DefaultViolationThreshold is the total at which an attempt is force-submitted.
const DefaultViolationThreshold = 3

// Outcome is the result of recording one violation.
type Outcome struct {
	Type       model.ViolationType
	Count      int
	Total      int
	AutoSubmit bool
}

// Accumulator counts violations per type and in aggregate. Counts only grow.
// It is not safe for concurrent use; the Controller serialises access.
type Accumulator struct {
	threshold int
	order     []model.ViolationType
	counts    map[model.ViolationType]int
	total     int
}

func NewAccumulator(threshold int) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultViolationThreshold
	}
	return &Accumulator{
		threshold: threshold,
		counts:    make(map[model.ViolationType]int),
	}
}

// Record increments the count for vt and reports whether the threshold is reached.
func (a *Accumulator) Record(vt model.ViolationType) Outcome {
	if _, seen := a.counts[vt]; !seen {
		a.order = append(a.order, vt)
	}
	a.counts[vt]++
	a.total++

	return Outcome{
		Type:       vt,
		Count:      a.counts[vt],
		Total:      a.total,
		AutoSubmit: a.total >= a.threshold,
	}
}

func (a *Accumulator) Total() int { return a.total }

func (a *Accumulator) Threshold() int { return a.threshold }

// Remaining is the number of violations left before auto-submit.
func (a *Accumulator) Remaining() int {
	if r := a.threshold - a.total; r > 0 {
		return r
	}
	return 0
}

// Violations returns one record per type in first-seen order.
func (a *Accumulator) Violations() []model.Violation {
	out := make([]model.Violation, 0, len(a.order))
	for _, vt := range a.order {
		out = append(out, model.Violation{Type: vt, Count: a.counts[vt]})
	}
	return out
}
