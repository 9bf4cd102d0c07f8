package player

import "container/heap"

// pendingEntry is one scheduled decode: which track fires, and when.
type pendingEntry struct {
	tick  uint64
	track int
}

// pendingSet is the ordered set of pending per-track events. pop yields
// entries in ascending tick order; equal ticks yield the lower track index
// first. That tie break is part of the playback contract, not an
// implementation detail: it fixes the delivery order of simultaneous
// events.
//
// Two implementations are provided. The heap is the default; the linear
// scan exists because it is trivially correct and serves as the oracle in
// tests. They are interchangeable.
type pendingSet interface {
	push(e pendingEntry)
	peek() (pendingEntry, bool)
	pop() (pendingEntry, bool)
	clear()
	len() int
}

// linearSet selects by scanning all entries. Fine for typical MIDI files
// (under 32 tracks).
type linearSet struct {
	entries []pendingEntry
}

func newLinearSet() *linearSet { return &linearSet{} }

func (s *linearSet) push(e pendingEntry) {
	s.entries = append(s.entries, e)
}

func (s *linearSet) peek() (pendingEntry, bool) {
	i := s.minIndex()
	if i < 0 {
		return pendingEntry{}, false
	}
	return s.entries[i], true
}

func (s *linearSet) pop() (pendingEntry, bool) {
	i := s.minIndex()
	if i < 0 {
		return pendingEntry{}, false
	}
	e := s.entries[i]
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return e, true
}

func (s *linearSet) minIndex() int {
	if len(s.entries) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(s.entries); i++ {
		if entryLess(s.entries[i], s.entries[best]) {
			best = i
		}
	}
	return best
}

func (s *linearSet) clear()   { s.entries = s.entries[:0] }
func (s *linearSet) len() int { return len(s.entries) }

// heapSet is a min-heap keyed by (tick, track).
type heapSet struct {
	h entryHeap
}

func newHeapSet() *heapSet { return &heapSet{} }

func (s *heapSet) push(e pendingEntry) {
	heap.Push(&s.h, e)
}

func (s *heapSet) peek() (pendingEntry, bool) {
	if len(s.h) == 0 {
		return pendingEntry{}, false
	}
	return s.h[0], true
}

func (s *heapSet) pop() (pendingEntry, bool) {
	if len(s.h) == 0 {
		return pendingEntry{}, false
	}
	return heap.Pop(&s.h).(pendingEntry), true
}

func (s *heapSet) clear()   { s.h = s.h[:0] }
func (s *heapSet) len() int { return len(s.h) }

func entryLess(a, b pendingEntry) bool {
	if a.tick != b.tick {
		return a.tick < b.tick
	}
	return a.track < b.track
}

type entryHeap []pendingEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return entryLess(h[i], h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(pendingEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
