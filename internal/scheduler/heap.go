package scheduler

// entry wraps an [Utterance] with its insertion order. The seq field provides
// FIFO ordering within the same priority bucket.
type entry struct {
	utt Utterance
	seq uint64
}

// utteranceHeap implements [container/heap.Interface] ordered by priority
// (descending), with FIFO tie-breaking on seq (ascending). This yields the
// three-bucket queue: every High entry ahead of every Normal entry, and
// arrival order within a bucket.
type utteranceHeap []entry

func (h utteranceHeap) Len() int { return len(h) }

func (h utteranceHeap) Less(i, j int) bool {
	if h[i].utt.Priority != h[j].utt.Priority {
		return h[i].utt.Priority > h[j].utt.Priority
	}
	return h[i].seq < h[j].seq
}

func (h utteranceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *utteranceHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *utteranceHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
