package pagination

import "sync"

// Cursor tracks backward pagination through the history endpoint.
// It moves Idle -> Loading -> Idle per request. Once a load completes
// at page index 0, HasMore flips to false and never reverts.
type Cursor struct {
	mu sync.Mutex

	// oldestPage is the lowest page index loaded so far
	oldestPage int

	// totalsKnown is set once the first page response reported totals
	totalsKnown bool

	hasMore bool
	loading bool
}

// NewCursor creates a cursor with no pages loaded yet.
func NewCursor() *Cursor {
	return &Cursor{hasMore: true}
}

// Init records the result of the initial (latest-page) load.
func (c *Cursor) Init(lastPage int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.oldestPage = lastPage
	c.totalsKnown = true
	c.hasMore = lastPage > 0
	c.loading = false
}

// Begin attempts to start a backward-pagination request and returns the
// page index to fetch. A request while one is already loading, or after
// the first page has been reached, is refused (not queued).
func (c *Cursor) Begin() (page int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loading || !c.hasMore || !c.totalsKnown || c.oldestPage == 0 {
		return 0, false
	}
	c.loading = true
	return c.oldestPage - 1, true
}

// Complete applies a successful load of the given page index.
// hasMore flips to false exactly once, when page 0 has been loaded.
func (c *Cursor) Complete(pageIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loading = false
	if pageIndex < c.oldestPage {
		c.oldestPage = pageIndex
	}
	if c.oldestPage == 0 {
		c.hasMore = false
	}
}

// Fail reverts to Idle with no partial application; the caller may retry.
func (c *Cursor) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
}

// HasMore reports whether older pages remain to be loaded.
func (c *Cursor) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Loading reports whether a pagination request is in flight.
func (c *Cursor) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// OldestPage returns the lowest page index loaded so far.
func (c *Cursor) OldestPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oldestPage
}
