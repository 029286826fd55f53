package zram

// PageSize is the fixed logical and physical block size the device exposes.
const PageSize = 1 << 12 // 4096

// DefaultHugeClassSize is the compressed-length threshold at or above which a page is
// stored uncompressed and marked HUGE: by default, not compressing at all beats storing
// a compressed form no smaller than the page itself.
const DefaultHugeClassSize = PageSize

// DefaultLowRatioThreshold is the percent compression-ratio floor below which a freshly
// stored page is marked COMPRESS_LOW and becomes eligible for idle writeback.
const DefaultLowRatioThreshold = 0

// IdleMax is the saturating ceiling of a slot's idle_count field.
const IdleMax = 255

// DefaultWritebackIdleMin is the default minimum idle_count an "idle" writeback request
// requires, when the control write doesn't specify one.
const DefaultWritebackIdleMin = 1
