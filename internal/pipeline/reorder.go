package pipeline

// frameOutcome is the result of one inference call, before reordering.
type frameOutcome struct {
	frame Frame
	dets  []Detection
	err   error
}

// reorderBuffer restores strict ascending frame order behind the inference
// worker pool. It is a sequencing barrier keyed by frame index, not a lock on
// the whole pipeline: outcomes arrive in any order and drain only when the
// next expected index is present.
type reorderBuffer struct {
	next    int
	pending map[int]frameOutcome
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[int]frameOutcome)}
}

// add stores an outcome and returns the contiguous run now ready to drain, in
// ascending index order.
func (b *reorderBuffer) add(o frameOutcome) []frameOutcome {
	b.pending[o.frame.Index] = o
	var ready []frameOutcome
	for {
		next, ok := b.pending[b.next]
		if !ok {
			return ready
		}
		delete(b.pending, b.next)
		ready = append(ready, next)
		b.next++
	}
}

// drainRemaining empties the buffer regardless of gaps, ascending. Used on
// abort so every buffered frame can be released.
func (b *reorderBuffer) drainRemaining() []frameOutcome {
	out := make([]frameOutcome, 0, len(b.pending))
	for len(b.pending) > 0 {
		min := -1
		for idx := range b.pending {
			if min < 0 || idx < min {
				min = idx
			}
		}
		out = append(out, b.pending[min])
		delete(b.pending, min)
	}
	return out
}
