// Package hdrhistogram records the distribution of values spanning a
// large dynamic range (latencies, sizes, anything where both the typical
// case and the rare tail matter) in constant memory and O(1) per-value
// time, at a configurable number of significant decimal digits.
//
// Settings derives the bucket/sub-bucket geometry once from a
// (lowest discernible value, highest trackable value, significant digits)
// triple. Histogram is the single-threaded recorder built on that
// geometry. Double wraps a Histogram to track float64 values over a
// configured dynamic-range ratio instead of a fixed absolute range.
//
// The concurrent subpackage provides lock-free variants (Fixed,
// Resizable) and an interval Recorder for recording from many goroutines
// at once; errs collects the error taxonomy shared across all of them.
package hdrhistogram
