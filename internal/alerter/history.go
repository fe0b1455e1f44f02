package alerter

import "crypto/sha256"

type digest [sha256.Size]byte

// History is a bounded FIFO window of accepted alert text digests.
// Entries live at ring[(start+i)%cap] for i < size, oldest first.
// It is not safe for concurrent use; the Validator serializes access.
type History struct {
	ring  []digest
	start int
	size  int
	count map[digest]int
}

// NewHistory creates a window holding at most size entries
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{
		ring:  make([]digest, size),
		count: make(map[digest]int, size),
	}
}

// Contains reports whether text is inside the window
func (h *History) Contains(text string) bool {
	return h.count[sha256.Sum256([]byte(text))] > 0
}

// Add appends text, evicting the oldest entry only when the window is
// full. It reports whether an entry was evicted.
func (h *History) Add(text string) bool {
	sum := sha256.Sum256([]byte(text))
	evicted := false

	if h.size == len(h.ring) {
		h.release(h.ring[h.start])
		h.start = (h.start + 1) % len(h.ring)
		h.size--
		evicted = true
	}
	h.ring[h.at(h.size)] = sum
	h.size++
	h.count[sum]++
	return evicted
}

// Remove drops the most recent occurrence of text. Later entries shift
// back so the window stays contiguous.
func (h *History) Remove(text string) bool {
	sum := sha256.Sum256([]byte(text))
	if h.count[sum] == 0 {
		return false
	}
	for i := h.size - 1; i >= 0; i-- {
		if h.ring[h.at(i)] != sum {
			continue
		}
		for j := i; j < h.size-1; j++ {
			h.ring[h.at(j)] = h.ring[h.at(j+1)]
		}
		h.size--
		h.ring[h.at(h.size)] = digest{}
		h.release(sum)
		return true
	}
	return false
}

// Len returns the number of entries in the window
func (h *History) Len() int {
	return h.size
}

// Cap returns the window size
func (h *History) Cap() int {
	return len(h.ring)
}

func (h *History) at(i int) int {
	return (h.start + i) % len(h.ring)
}

func (h *History) release(sum digest) {
	if h.count[sum] <= 1 {
		delete(h.count, sum)
		return
	}
	h.count[sum]--
}
