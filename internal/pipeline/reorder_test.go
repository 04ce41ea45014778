package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func outcome(index int) frameOutcome {
	return frameOutcome{frame: Frame{Index: index}}
}

func indices(outcomes []frameOutcome) []int {
	out := make([]int, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.frame.Index)
	}
	return out
}

func TestReorderBufferInOrder(t *testing.T) {
	buf := newReorderBuffer()

	assert.Equal(t, []int{0}, indices(buf.add(outcome(0))))
	assert.Equal(t, []int{1}, indices(buf.add(outcome(1))))
	assert.Equal(t, []int{2}, indices(buf.add(outcome(2))))
}

func TestReorderBufferHoldsUntilGapFills(t *testing.T) {
	buf := newReorderBuffer()

	assert.Empty(t, buf.add(outcome(2)))
	assert.Empty(t, buf.add(outcome(1)))
	assert.Equal(t, []int{0, 1, 2}, indices(buf.add(outcome(0))))
}

func TestReorderBufferInterleaved(t *testing.T) {
	buf := newReorderBuffer()

	assert.Equal(t, []int{0}, indices(buf.add(outcome(0))))
	assert.Empty(t, buf.add(outcome(3)))
	assert.Empty(t, buf.add(outcome(2)))
	assert.Equal(t, []int{1, 2, 3}, indices(buf.add(outcome(1))))
	assert.Equal(t, []int{4}, indices(buf.add(outcome(4))))
}

func TestDrainRemainingAscendingDespiteGaps(t *testing.T) {
	buf := newReorderBuffer()
	buf.add(outcome(7))
	buf.add(outcome(3))
	buf.add(outcome(5))

	assert.Equal(t, []int{3, 5, 7}, indices(buf.drainRemaining()))
	assert.Empty(t, buf.drainRemaining())
}
