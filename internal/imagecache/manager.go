package imagecache

import (
	"context"
	"image"
	"sync"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"
)

// Defaults for Manager options.
const (
	DefaultMargin      = 10
	DefaultInitialLoad = 30
)

// DefaultSize is the preview size requested from providers.
var DefaultSize = Size{Width: 300, Height: 300}

// Update reports a new image for a position.
type Update struct {
	Position int
	ItemID   string
	Image    image.Image
	Degraded bool
}

// entry tracks one position. gen is non-zero while a request is pending and
// identifies which request deliveries must belong to.
type entry struct {
	itemID    string
	gen       uint64
	handle    RequestID
	hasHandle bool
	image     image.Image
	degraded  bool
}

func (e *entry) pending() bool { return e.gen != 0 }

// request is a reserved fetch waiting to be issued outside the lock.
type request struct {
	pos  int
	gen  uint64
	item asset.Item
}

type window struct {
	lo, hi int
	valid  bool
}

// Manager issues, tracks and cancels provider requests by position.
type Manager struct {
	provider    Provider
	size        Size
	opts        Options
	margin      int
	initialLoad int

	mu      sync.Mutex
	items   []asset.Item
	entries map[int]*entry
	nextGen uint64
	window  window
	subs    map[int]func(Update)
	nextSub int
	closed  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSize sets the requested image size.
func WithSize(s Size) Option {
	return func(m *Manager) { m.size = s }
}

// WithMargin sets how many positions around the visible ones are preloaded.
func WithMargin(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.margin = n
		}
	}
}

// WithOptions sets the delivery options passed to the provider.
func WithOptions(o Options) Option {
	return func(m *Manager) { m.opts = o }
}

// WithInitialLoad sets how many leading positions are requested when items
// first appear.
func WithInitialLoad(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.initialLoad = n
		}
	}
}

// NewManager creates a Manager using provider.
func NewManager(provider Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:    provider,
		size:        DefaultSize,
		opts:        Options{Mode: Opportunistic, NetworkAllowed: true},
		margin:      DefaultMargin,
		initialLoad: DefaultInitialLoad,
		entries:     make(map[int]*entry),
		subs:        make(map[int]func(Update)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Len returns the number of items.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Pending returns the number of positions with an outstanding request.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.pending() {
			n++
		}
	}
	return n
}

// IsPending reports whether pos has an outstanding request.
func (m *Manager) IsPending(pos int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[pos]
	return ok && e.pending()
}

// Image returns the latest image delivered for pos.
func (m *Manager) Image(pos int) (img image.Image, degraded bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.entries[pos]
	if !found || e.image == nil {
		return nil, false, false
	}
	return e.image, e.degraded, true
}

// Subscribe registers fn for every accepted delivery. fn is called outside
// the manager's lock from provider goroutines. The returned function
// unregisters it.
func (m *Manager) Subscribe(fn func(Update)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SetItems replaces the item list. Positions past the new end, or whose item
// changed, are cancelled and forgotten. When items first appear the leading
// positions are requested; otherwise positions inside the last preload
// window are.
func (m *Manager) SetItems(items []asset.Item) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	wasEmpty := len(m.items) == 0
	m.items = append([]asset.Item(nil), items...)

	var cancels []RequestID
	for pos, e := range m.entries {
		if pos < len(items) && items[pos].ID() == e.itemID {
			continue
		}
		if id, ok := m.detachLocked(e); ok {
			cancels = append(cancels, id)
		}
		delete(m.entries, pos)
	}

	var reqs []request
	if wasEmpty {
		for pos := 0; pos < min(m.initialLoad, len(items)); pos++ {
			if r, ok := m.reserveLocked(pos); ok {
				reqs = append(reqs, r)
			}
		}
	}
	if m.window.valid {
		for pos := m.window.lo; pos <= min(m.window.hi, len(items)-1); pos++ {
			if r, ok := m.reserveLocked(pos); ok {
				reqs = append(reqs, r)
			}
		}
	}
	m.mu.Unlock()

	m.cancelAll(cancels)
	m.issueAll(reqs)
}

// LoadIfNeeded requests pos unless it already has a final image or a
// pending request.
func (m *Manager) LoadIfNeeded(pos int) {
	m.mu.Lock()
	r, ok := m.reserveLocked(pos)
	m.mu.Unlock()

	if ok {
		m.issue(r)
	}
}

// Cancel abandons the pending request for pos, if any. A delivered image
// is kept.
func (m *Manager) Cancel(pos int) {
	m.mu.Lock()
	var (
		id RequestID
		ok bool
	)
	if e, found := m.entries[pos]; found {
		id, ok = m.detachLocked(e)
		if e.image == nil {
			delete(m.entries, pos)
		}
	}
	m.mu.Unlock()

	if ok {
		m.cancelAll([]RequestID{id})
	}
}

// Preload requests every position within the margin of visible and cancels
// pending requests outside that window.
func (m *Manager) Preload(visible []int) {
	if len(visible) == 0 {
		return
	}
	first, last := visible[0], visible[0]
	for _, p := range visible[1:] {
		first = min(first, p)
		last = max(last, p)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	// hi is kept unclamped so that growth of the list fills the window.
	lo := max(first-m.margin, 0)
	hi := last + m.margin
	m.window = window{lo: lo, hi: hi, valid: true}

	var reqs []request
	for pos := lo; pos <= min(hi, len(m.items)-1); pos++ {
		if r, ok := m.reserveLocked(pos); ok {
			reqs = append(reqs, r)
		}
	}

	var cancels []RequestID
	for pos, e := range m.entries {
		if pos >= lo && pos <= hi {
			continue
		}
		if id, ok := m.detachLocked(e); ok {
			cancels = append(cancels, id)
		}
		if e.image == nil {
			delete(m.entries, pos)
		}
	}
	m.mu.Unlock()

	m.cancelAll(cancels)
	m.issueAll(reqs)
}

// StartBulkCache forwards a pre-caching hint for positions to the provider.
func (m *Manager) StartBulkCache(positions []int) {
	if items := m.itemsAt(positions); len(items) > 0 {
		m.provider.StartCaching(items, m.size)
	}
}

// StopBulkCache withdraws a StartBulkCache hint.
func (m *Manager) StopBulkCache(positions []int) {
	if items := m.itemsAt(positions); len(items) > 0 {
		m.provider.StopCaching(items, m.size)
	}
}

// Follow applies every item list received from feed until ctx is done or
// feed is closed.
func (m *Manager) Follow(ctx context.Context, feed <-chan []asset.Item) {
	for {
		select {
		case <-ctx.Done():
			return
		case items, ok := <-feed:
			if !ok {
				return
			}
			m.SetItems(items)
		}
	}
}

// Close cancels every pending request. Later calls are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	var cancels []RequestID
	for pos, e := range m.entries {
		if id, ok := m.detachLocked(e); ok {
			cancels = append(cancels, id)
		}
		delete(m.entries, pos)
	}
	m.items = nil
	m.mu.Unlock()

	m.cancelAll(cancels)
}

func (m *Manager) itemsAt(positions []int) []asset.Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]asset.Item, 0, len(positions))
	for _, pos := range positions {
		if pos >= 0 && pos < len(m.items) {
			items = append(items, m.items[pos])
		}
	}
	return items
}

// reserveLocked marks pos pending under a fresh generation. It reports false
// when pos is out of range, already final, or already pending.
func (m *Manager) reserveLocked(pos int) (request, bool) {
	if m.closed || pos < 0 || pos >= len(m.items) {
		return request{}, false
	}
	item := m.items[pos]

	e, ok := m.entries[pos]
	if !ok {
		e = &entry{itemID: item.ID()}
		m.entries[pos] = e
	}
	if e.pending() || (e.image != nil && !e.degraded) {
		return request{}, false
	}

	m.nextGen++
	e.gen = m.nextGen
	e.hasHandle = false
	return request{pos: pos, gen: e.gen, item: item}, true
}

// detachLocked clears the pending request of e and returns its handle, if
// one has been recorded. Deliveries for the old generation are ignored from
// here on.
func (m *Manager) detachLocked(e *entry) (RequestID, bool) {
	if !e.pending() {
		return 0, false
	}
	id, ok := e.handle, e.hasHandle
	e.gen = 0
	e.hasHandle = false
	metrics.ImageRequestsCancelled.Inc()
	return id, ok
}

func (m *Manager) issueAll(reqs []request) {
	for _, r := range reqs {
		m.issue(r)
	}
}

func (m *Manager) issue(r request) {
	metrics.ImageRequestsTotal.Inc()
	id := m.provider.Request(r.item, m.size, m.opts, func(d Delivery) {
		m.deliver(r.pos, r.gen, d)
	})

	m.mu.Lock()
	if e, ok := m.entries[r.pos]; ok && e.gen == r.gen {
		e.handle = id
		e.hasHandle = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Cancelled or finished before the handle was recorded. Cancelling a
	// finished request is a no-op for the provider.
	m.provider.Cancel(id)
}

func (m *Manager) deliver(pos int, gen uint64, d Delivery) {
	metrics.ImageDeliveriesTotal.WithLabelValues(d.Kind.String()).Inc()

	m.mu.Lock()
	e, ok := m.entries[pos]
	if !ok || e.gen != gen {
		m.mu.Unlock()
		return
	}

	var update *Update
	switch d.Kind {
	case Degraded:
		if d.Image != nil && (e.image == nil || e.degraded) {
			e.image = d.Image
			e.degraded = true
			update = &Update{Position: pos, ItemID: e.itemID, Image: d.Image, Degraded: true}
		}
	case Final:
		e.gen = 0
		e.hasHandle = false
		if d.Image != nil {
			e.image = d.Image
			e.degraded = false
			update = &Update{Position: pos, ItemID: e.itemID, Image: d.Image}
		}
	case Cancelled:
		e.gen = 0
		e.hasHandle = false
		logging.Debug("Image request for position %d cancelled by provider", pos)
	case Failed:
		e.gen = 0
		e.hasHandle = false
		logging.Warn("Image request for %s (position %d) failed: %v", e.itemID, pos, d.Err)
	}
	if !e.pending() && e.image == nil {
		delete(m.entries, pos)
	}

	var subs []func(Update)
	if update != nil {
		subs = make([]func(Update), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(*update)
	}
}

func (m *Manager) cancelAll(ids []RequestID) {
	for _, id := range ids {
		m.provider.Cancel(id)
	}
}
