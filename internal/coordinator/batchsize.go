package coordinator

// BatchSizer grows the insert batch size after sustained success and collapses
// it back to the minimum on any failure. Growth is linear and capped.
type BatchSizer struct {
	size      int
	min       int
	max       int
	step      int
	growAfter int
	streak    int
}

// NewBatchSizer creates a sizer starting at min. growAfter is the number of
// consecutive successful batches required before each growth step.
func NewBatchSizer(min, max, step, growAfter int) *BatchSizer {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	if step < 1 {
		step = 1
	}
	if growAfter < 1 {
		growAfter = 1
	}
	return &BatchSizer{size: min, min: min, max: max, step: step, growAfter: growAfter}
}

// Size returns the current batch size.
func (b *BatchSizer) Size() int {
	return b.size
}

// RecordSuccess notes a successful batch. After growAfter consecutive
// successes the size grows by one step, up to the cap.
func (b *BatchSizer) RecordSuccess() {
	b.streak++
	if b.streak < b.growAfter {
		return
	}
	b.streak = 0
	b.size += b.step
	if b.size > b.max {
		b.size = b.max
	}
}

// RecordFailure collapses the batch size back to the minimum.
func (b *BatchSizer) RecordFailure() {
	b.size = b.min
	b.streak = 0
}
