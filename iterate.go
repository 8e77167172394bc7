package hdrhistogram

// recordedSource is the minimal read-only view a recordedIterator walks.
// Histogram, concurrent.Fixed and concurrent.Resizable (via their own
// snapshot/View types) all satisfy it.
type recordedSource interface {
	Settings() Settings
	ArrayLength() int32
	CountAtIndex(i int32) uint64
}

// recordedIterator walks the non-zero slots of a histogram in logical-index
// order. It is the internal equivalent of the original crate's
// RecordedValuesIterator: not exported, since the public iteration
// subsystem (percentile/linear/log strategies) is out of this core's
// scope, but Add, Subtract, Equals, GetMean, and GetStdDeviation all need
// exactly this walk.
type recordedIterator struct {
	src      recordedSource
	settings Settings
	index    int32
	n        int32

	valueFromIndex     uint64
	countAtIndex       uint64
	countAddedThisStep uint64
	countToIndex       uint64
}

func newRecordedIterator(src recordedSource) *recordedIterator {
	return &recordedIterator{
		src:      src,
		settings: src.Settings(),
		index:    -1,
		n:        src.ArrayLength(),
	}
}

// next advances to the next populated logical index, returning false once
// the array is exhausted.
func (it *recordedIterator) next() bool {
	for it.index++; it.index < it.n; it.index++ {
		c := it.src.CountAtIndex(it.index)
		if c == 0 {
			continue
		}
		it.countAtIndex = c
		it.countAddedThisStep = c
		it.countToIndex += c
		it.valueFromIndex = it.settings.ValueFromIndex(it.index)
		return true
	}
	return false
}
