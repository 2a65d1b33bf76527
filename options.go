package sixfs

// Default container geometry, matching §6's create() signature defaults.
const (
	DefaultPageSize  = 4096
	DefaultInodes    = 512
	DefaultMaxBlocks = 4096
)

// createConfig collects the parameters Create honors, filled in by
// CreateOption functions in the style of github.com/KarpelesLab/squashfs's
// own functional Option/WriterOption pattern.
type createConfig struct {
	pageSize   uint64
	inodeCount uint64
	maxBlocks  uint64
	cacheSlots int
	debugLog   bool
}

// CreateOption configures a newly formatted container.
type CreateOption func(*createConfig)

// WithPageSize overrides the 4096-byte default page size. Changing it
// changes the maximum file size (pageSize/4 * pageSize) and the
// directory-entry packing is unaffected since dirEntrySize is fixed.
func WithPageSize(n uint64) CreateOption {
	return func(c *createConfig) { c.pageSize = n }
}

// WithInodeCount overrides the default inode table capacity.
func WithInodeCount(n uint64) CreateOption {
	return func(c *createConfig) { c.inodeCount = n }
}

// WithMaxBlocks overrides the default data-block region size.
func WithMaxBlocks(n uint64) CreateOption {
	return func(c *createConfig) { c.maxBlocks = n }
}

// WithCacheSlots sets the page cache's clock-cache slot count (C) for
// Create. Open takes the equivalent WithOpenCacheSlots.
func WithCacheSlots(n int) CreateOption {
	return func(c *createConfig) { c.cacheSlots = n }
}

// WithDebugLog enables the package's verbose log.Printf diagnostics,
// mirroring squashfs's commented-out //log.Printf calls gated behind
// an explicit toggle instead of left permanently on.
func WithDebugLog(enabled bool) CreateOption {
	return func(c *createConfig) { c.debugLog = enabled }
}

func defaultCreateConfig() *createConfig {
	return &createConfig{
		pageSize:   DefaultPageSize,
		inodeCount: DefaultInodes,
		maxBlocks:  DefaultMaxBlocks,
		cacheSlots: DefaultCacheSlots,
	}
}

// OpenOption configures how an existing container is reopened. Only the
// runtime knobs (cache slots, debug logging) apply; geometry is read
// from the on-disk header.
type OpenOption func(*openConfig)

type openConfig struct {
	cacheSlots int
	debugLog   bool
}

// WithOpenCacheSlots sets the page cache slot count for Open.
func WithOpenCacheSlots(n int) OpenOption {
	return func(c *openConfig) { c.cacheSlots = n }
}

// WithOpenDebugLog enables verbose logging for Open.
func WithOpenDebugLog(enabled bool) OpenOption {
	return func(c *openConfig) { c.debugLog = enabled }
}

func defaultOpenConfig() *openConfig {
	return &openConfig{cacheSlots: DefaultCacheSlots}
}
