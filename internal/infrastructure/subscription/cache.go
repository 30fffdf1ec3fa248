package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/document"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Cache.
type Config struct {
	// Store is the remote document store collaborator. Required.
	Store document.Store

	// Staleness is the maximum age of a cached snapshot before a new
	// subscriber no longer gets a synchronous warm replay.
	Staleness time.Duration

	// MaxEntries bounds the entry map as a memory-pressure safeguard.
	// Only entries without listeners are ever evicted for capacity.
	MaxEntries int

	// SweepInterval is how often the staleness sweep runs. Zero disables
	// the background sweep.
	SweepInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults around the given store.
func DefaultConfig(store document.Store) Config {
	return Config{
		Store:         store,
		Staleness:     5 * time.Minute,
		MaxEntries:    50,
		SweepInterval: time.Minute,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS AND HANDLES
// ══════════════════════════════════════════════════════════════════════════════

// Event is one delivery to a consumer: a full ordered snapshot, or a store
// delivery error. Docs must be treated as read-only; the slice is shared
// across consumers of the same signature.
type Event struct {
	Docs []document.Document
	Err  error
}

// ChangeFunc receives events for one consumer. Calls for a given handle are
// serialized and monotone: a consumer never observes an older snapshot after
// a newer one.
type ChangeFunc func(Event)

// Handle is the owned registration returned by Subscribe. Unsubscribe is the
// only way to detach, which keeps the listener count from ever being
// decremented twice.
type Handle struct {
	cache    *Cache
	sig      Signature
	id       uint64
	onChange ChangeFunc

	mu          sync.Mutex
	lastVersion uint64
	disposed    atomic.Bool
}

// Signature returns the signature the handle is attached to.
func (h *Handle) Signature() Signature {
	return h.sig
}

// Unsubscribe detaches the consumer. After it returns no further ChangeFunc
// calls are made for this handle, even for pushes already in flight. When the
// last handle for a signature detaches, the underlying store subscription is
// closed and the entry is dropped immediately. A second call returns
// ErrHandleDisposed.
func (h *Handle) Unsubscribe() error {
	if !h.disposed.CompareAndSwap(false, true) {
		return ErrHandleDisposed
	}

	// Wait out an in-flight delivery so the no-calls-after guarantee holds.
	h.mu.Lock()
	h.mu.Unlock() //nolint:staticcheck // empty critical section is the barrier

	h.cache.detach(h)
	return nil
}

// deliver hands one event to the consumer if the handle is still attached
// and the event is newer than anything delivered before.
func (h *Handle) deliver(version uint64, docs []document.Document, err error) {
	if h.disposed.Load() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed.Load() {
		return
	}
	if version <= h.lastVersion {
		return
	}
	h.lastVersion = version
	h.onChange(Event{Docs: docs, Err: err})
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// entry is the per-signature shared state: last-known snapshot, attached
// listeners, and the single underlying store subscription.
type entry struct {
	sig   Signature
	query document.Query

	docs        []document.Document
	hasData     bool
	lastUpdated time.Time
	lastErr     error

	// version increases on every applied update or error, so consumers
	// can reject out-of-order deliveries.
	version uint64

	listeners map[uint64]*Handle

	// sub is the live store subscription; nil after a delivery error tears
	// the stream down. gen invalidates pump deliveries from replaced streams.
	sub document.Subscription
	gen uint64
}

// Cache is the process-wide subscription coordinator. It guarantees at most
// one underlying store subscription per distinct query signature for its
// whole lifetime. Construct with New; instances are independent, so tests
// can run isolated caches side by side.
type Cache struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[Signature]*entry
	nextID  uint64
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Entries     int
	Listeners   int
	WarmReplays int64
	Opens       int64
	Evictions   int64
}

// New creates a Cache. The returned cache must be released with Shutdown.
func New(config Config) (*Cache, error) {
	if config.Store == nil {
		return nil, ErrNoStore
	}
	if config.Staleness <= 0 {
		config.Staleness = 5 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 50
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		config:  config,
		logger:  config.Logger,
		now:     time.Now,
		entries: make(map[Signature]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}

	if config.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(config.SweepInterval)
	}

	return c, nil
}

// Subscribe registers a consumer for the query. When a fresh, non-empty
// snapshot for the same signature is already cached, onChange is invoked
// synchronously with it before Subscribe returns; afterwards onChange fires
// on every store push and on delivery errors. The listener count increments
// on every call regardless of cache state.
func (c *Cache) Subscribe(q document.Query, onChange ChangeFunc) (*Handle, error) {
	if onChange == nil {
		return nil, ErrNilCallback
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}

	sig := SignatureOf(q)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}

	e, ok := c.entries[sig]
	if !ok {
		c.evictForCapacityLocked()
		e = &entry{
			sig:       sig,
			query:     q.Clone(),
			listeners: make(map[uint64]*Handle),
		}
		c.entries[sig] = e
	}

	// Reopen after a delivery error tore the stream down, or open for the
	// first time. Either way there is never a second live stream per
	// signature: openStreamLocked replaces gen before the old pump can act.
	if e.sub == nil {
		if err := c.openStreamLocked(e); err != nil {
			if len(e.listeners) == 0 {
				delete(c.entries, sig)
			}
			c.mu.Unlock()
			return nil, fmt.Errorf("subscription: open stream: %w", err)
		}
	}

	c.nextID++
	h := &Handle{
		cache:    c,
		sig:      sig,
		id:       c.nextID,
		onChange: onChange,
	}
	e.listeners[h.id] = h

	var warmDocs []document.Document
	var warmVersion uint64
	warm := e.hasData &&
		e.lastErr == nil &&
		len(e.docs) > 0 &&
		c.now().Sub(e.lastUpdated) < c.config.Staleness
	if warm {
		warmDocs = e.docs
		warmVersion = e.version
		c.stats.WarmReplays++
	}
	c.mu.Unlock()

	if warm {
		h.deliver(warmVersion, warmDocs, nil)
	}
	return h, nil
}

// Shutdown closes every underlying subscription and rejects further use.
func (c *Cache) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]document.Subscription, 0, len(c.entries))
	for _, e := range c.entries {
		if e.sub != nil {
			subs = append(subs, e.sub)
			e.sub = nil
		}
	}
	c.entries = make(map[Signature]*entry)
	c.mu.Unlock()

	c.cancel()
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			c.logger.Warn("close store subscription", "error", err)
		}
	}
	c.wg.Wait()

	c.logger.Info("subscription cache shut down")
	return nil
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	for _, e := range c.entries {
		s.Listeners += len(e.listeners)
	}
	return s
}

// ListenerCount returns the number of consumers attached to the signature.
func (c *Cache) ListenerCount(sig Signature) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sig]; ok {
		return len(e.listeners)
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNALS
// ══════════════════════════════════════════════════════════════════════════════

// openStreamLocked opens the single underlying store subscription for the
// entry and starts its pump. Caller holds c.mu.
func (c *Cache) openStreamLocked(e *entry) error {
	sub, err := c.config.Store.Subscribe(c.ctx, e.query)
	if err != nil {
		return err
	}

	e.sub = sub
	e.gen++
	e.lastErr = nil
	c.stats.Opens++

	gen := e.gen
	c.wg.Add(1)
	go c.pump(e, sub, gen)
	return nil
}

// pump consumes the store's push stream for one entry generation. Updates
// apply in arrival order; latest value wins, nothing is buffered.
func (c *Cache) pump(e *entry, sub document.Subscription, gen uint64) {
	defer c.wg.Done()
	for update := range sub.Updates() {
		if update.Err != nil {
			c.applyError(e, gen, sub, update.Err)
			continue
		}
		c.applyUpdate(e, gen, update.Docs)
	}
}

// applyUpdate installs a new snapshot and fans it out to all listeners
// attached at that moment.
func (c *Cache) applyUpdate(e *entry, gen uint64, docs []document.Document) {
	c.mu.Lock()
	if c.closed || e.gen != gen {
		c.mu.Unlock()
		return
	}
	e.docs = docs
	e.hasData = true
	e.lastErr = nil
	e.lastUpdated = c.now()
	e.version++
	version := e.version
	targets := snapshotListeners(e)
	c.mu.Unlock()

	for _, h := range targets {
		h.deliver(version, docs, nil)
	}
}

// applyError marks the entry errored, tears down the stream, and surfaces
// the error to every attached consumer. The entry itself stays cached so a
// later Subscribe can retry on a clean underlying connection.
func (c *Cache) applyError(e *entry, gen uint64, sub document.Subscription, cause error) {
	c.mu.Lock()
	if c.closed || e.gen != gen {
		c.mu.Unlock()
		return
	}
	e.lastErr = cause
	e.version++
	version := e.version
	if e.sub == sub {
		e.sub = nil
	}
	targets := snapshotListeners(e)
	c.mu.Unlock()

	if err := sub.Close(); err != nil {
		c.logger.Warn("close errored subscription", "signature", e.sig.String(), "error", err)
	}
	c.logger.Error("store delivery error", "signature", e.sig.String(), "error", cause)

	for _, h := range targets {
		h.deliver(version, nil, cause)
	}
}

// detach removes a handle and evicts the entry when it was the last one.
func (c *Cache) detach(h *Handle) {
	c.mu.Lock()
	e, ok := c.entries[h.sig]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(e.listeners, h.id)

	var sub document.Subscription
	if len(e.listeners) == 0 {
		sub = e.sub
		e.sub = nil
		e.gen++ // invalidate the pump before the channel drains
		delete(c.entries, h.sig)
		c.stats.Evictions++
	}
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			c.logger.Warn("close store subscription", "signature", h.sig.String(), "error", err)
		}
	}
}

// evictForCapacityLocked enforces the entry bound by dropping the
// least-recently-updated listener-free entries. Entries with listeners are
// never evicted for capacity. Caller holds c.mu.
func (c *Cache) evictForCapacityLocked() {
	for len(c.entries) >= c.config.MaxEntries {
		var victim *entry
		for _, e := range c.entries {
			if len(e.listeners) > 0 {
				continue
			}
			if victim == nil || e.lastUpdated.Before(victim.lastUpdated) {
				victim = e
			}
		}
		if victim == nil {
			return // everything is in use; the bound is a safeguard, not a contract
		}
		c.dropEntryLocked(victim)
	}
}

// dropEntryLocked removes an entry and schedules its stream close outside
// the lock. Caller holds c.mu.
func (c *Cache) dropEntryLocked(e *entry) {
	sub := e.sub
	e.sub = nil
	e.gen++
	delete(c.entries, e.sig)
	c.stats.Evictions++

	if sub != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := sub.Close(); err != nil {
				c.logger.Warn("close store subscription", "signature", e.sig.String(), "error", err)
			}
		}()
	}
}

// sweepLoop periodically drops listener-free entries whose snapshot has
// aged past the staleness window.
func (c *Cache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops stale, listener-free entries.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	cutoff := c.now().Add(-c.config.Staleness)
	for _, e := range c.entries {
		if len(e.listeners) == 0 && e.lastUpdated.Before(cutoff) {
			c.dropEntryLocked(e)
		}
	}
}

// snapshotListeners copies the attached handles. Caller holds c.mu.
func snapshotListeners(e *entry) []*Handle {
	targets := make([]*Handle, 0, len(e.listeners))
	for _, h := range e.listeners {
		targets = append(targets, h)
	}
	return targets
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNoStore - the cache was constructed without a document store.
	ErrNoStore = errors.New("subscription: store is required")

	// ErrNilCallback - Subscribe was called without an onChange callback.
	ErrNilCallback = errors.New("subscription: onChange callback is required")

	// ErrMalformedQuery - the query failed validation; no entry was touched.
	ErrMalformedQuery = errors.New("subscription: malformed query")

	// ErrCacheClosed - the cache has been shut down.
	ErrCacheClosed = errors.New("subscription: cache is closed")

	// ErrHandleDisposed - Unsubscribe was called twice on one handle.
	ErrHandleDisposed = errors.New("subscription: handle already unsubscribed")
)
