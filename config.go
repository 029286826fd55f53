package zram

// Config holds the attributes that are only settable while the device is unconfigured,
// plus the tunables that may change at any time. Device.Configure reads the former;
// Device.WriteAttr mutates the latter after the fact, pushing the new value into the
// live collaborator it backs (e.g. mem_limit into pool.Pool.SetLimit, writeback_limit
// into backing.Store.SetWriteLimit) rather than only updating this struct.
type Config struct {
	// DiskSize is the device capacity in bytes, rounded up to PageSize. Zero is invalid.
	DiskSize int64

	// CompAlgorithm names the codec to use. Only "zstd" is wired up; unknown names
	// fail configuration.
	CompAlgorithm string

	// CompLevel is passed through to the zstd codec. Zero asks the library for its
	// default.
	CompLevel int

	// BackingDevPath, if non-empty, is opened as the writeback target at configure
	// time. Left empty, writeback is unavailable until one is set (which, per the
	// control surface, is itself only allowed while unconfigured).
	BackingDevPath string

	// HugeClassSize and LowRatioThreshold feed the write path's same-fill/huge/
	// compression-ratio decisions; zero selects the package defaults.
	HugeClassSize     int
	LowRatioThreshold int

	// Dedup turns on the content-deduplication index.
	Dedup bool

	// DedupIndexPath, if non-empty, backs the dedup index with a bbolt database at this
	// path instead of the default in-memory map, so the checksum table survives a process
	// restart. Ignored unless Dedup is also set.
	DedupIndexPath string

	// MemLimitPages caps the pool's page count; zero means unbounded.
	MemLimitPages int64

	// MaxCompStreams is an advisory cap on concurrent codec streams. The in-process
	// zstd pool grows and shrinks with demand regardless, so this is accepted and
	// read back for compatibility with the control surface but does not change
	// codec behavior.
	MaxCompStreams int
}

func (c Config) normalized() Config {
	if c.HugeClassSize == 0 {
		c.HugeClassSize = DefaultHugeClassSize
	}
	if c.CompAlgorithm == "" {
		c.CompAlgorithm = "zstd"
	}
	return c
}
