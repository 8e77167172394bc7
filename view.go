package hdrhistogram

// View is the read-only surface an (external, out-of-scope) iteration or
// reporting subsystem consumes. Implementations must only be handed out
// once quiesced — a snapshot, or a single-threaded Histogram the caller
// knows is not concurrently mutated.
type View interface {
	Settings() Settings
	ArrayLength() int32
	TotalCount() uint64
	CountAtIndex(i int32) uint64
	MaxValue() uint64
	GetMinValue() uint64
	GetStartTimeMs() int64
	GetEndTimeMs() int64
}

// Recordable is the capability set shared by every variant that can record
// values: the single-threaded Histogram, and (via the concurrent package)
// Fixed and Resizable. It is satisfied by interface conformance, never by
// embedding-as-inheritance.
type Recordable interface {
	Settings() Settings
	TotalCount() uint64
	CountAtIndex(i int32) uint64
	MaxValue() uint64
	GetMinValue() uint64
	RecordValue(v uint64) error
	RecordValues(v uint64, count uint64) error
	Reset()
}

var (
	_ View       = (*Histogram)(nil)
	_ Recordable = (*Histogram)(nil)
)
