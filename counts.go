package hdrhistogram

// countsArray is the single-threaded backing store for recorded counts: a
// fixed-stride slice of counters plus a normalizing-index offset that lets
// the tracked range be rotated (shifted) without reallocating or copying
// the bulk of the array (C2).
type countsArray struct {
	counts []uint64
	// normalizingIndexOffset rotates logical index i to physical slot
	// normalizeIndex(i, offset, len(counts)).
	normalizingIndexOffset int32
}

func newCountsArray(length int32) countsArray {
	return countsArray{counts: make([]uint64, length)}
}

func (c *countsArray) length() int32 { return int32(len(c.counts)) }

// NormalizeIndex maps a logical index to its physical slot within an array
// of length n rotated by offset, wrapping around. It is exported so the
// concurrent package's double-buffered counts arrays can reuse the exact
// same wraparound arithmetic as the single-threaded countsArray.
func NormalizeIndex(i, offset, n int32) int32 {
	return normalizeIndex(i, offset, n)
}

// normalizeIndex maps a logical index to its physical slot, wrapping around the
// array length.
func normalizeIndex(i, offset, n int32) int32 {
	if n == 0 {
		return 0
	}
	p := (i - offset) % n
	if p < 0 {
		p += n
	}
	return p
}

func (c *countsArray) physicalIndex(logical int32) int32 {
	return normalizeIndex(logical, c.normalizingIndexOffset, c.length())
}

func (c *countsArray) get(logical int32) uint64 {
	return c.counts[c.physicalIndex(logical)]
}

func (c *countsArray) set(logical int32, v uint64) {
	c.counts[c.physicalIndex(logical)] = v
}

func (c *countsArray) increment(logical int32, delta uint64) {
	c.counts[c.physicalIndex(logical)] += delta
}

// decrement returns false (and leaves the slot untouched) if delta would
// underflow the current count.
func (c *countsArray) decrement(logical int32, delta uint64) bool {
	p := c.physicalIndex(logical)
	if c.counts[p] < delta {
		return false
	}
	c.counts[p] -= delta
	return true
}

func (c *countsArray) clear() {
	for i := range c.counts {
		c.counts[i] = 0
	}
	c.normalizingIndexOffset = 0
}

// lowestHalfBucketPopulated reports whether any of the first
// subBucketHalfCount logical slots holds a non-zero count.
// Histogram.ShiftValuesLeft and Histogram.ShiftValuesRight consult this before rotating, since values living in
// the lowest half bucket straddle a bucket boundary when the covered range
// moves.
func (c *countsArray) lowestHalfBucketPopulated(halfCount int32) bool {
	for i := int32(0); i < halfCount && i < c.length(); i++ {
		if c.get(i) != 0 {
			return true
		}
	}
	return false
}

// toSlice returns a freshly allocated, normalized copy of the counts: index
// i of the result holds the count for logical index i. This is the
// contiguous view the serialization collaborator (§6) consumes.
func (c *countsArray) toSlice() []uint64 {
	out := make([]uint64, c.length())
	for i := range out {
		out[i] = c.get(int32(i))
	}
	return out
}
