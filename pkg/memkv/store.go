package memkv

import (
	"container/heap"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configure a Store.
type Options struct {
	Shards   int    // number of shards, default 64
	MaxBytes uint64 // limit for the sum of value sizes, 0 = unlimited
}

// Store is a sharded TTL map.
type Store struct {
	opts   Options
	shards []shard
	exp    expQueue
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
	nowFn  func() time.Time

	keys, bytes              atomic.Uint64
	sets, gets, hits, misses atomic.Uint64
	dels, expired, updates   atomic.Uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano, 0 = never
}

func (e *entry) dead(now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

// New starts a store and its expiry goroutine.
func New(opts Options) *Store {
	if opts.Shards <= 0 {
		opts.Shards = 64
	}
	s := &Store{
		opts:   opts,
		shards: make([]shard, opts.Shards),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		nowFn:  time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry)
	}
	s.wg.Add(1)
	go s.expirer()
	return s
}

// Close stops the expiry goroutine. The store stays readable.
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	// FNV-1a
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[h%uint64(len(s.shards))]
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// reserve accounts for delta more bytes, failing when MaxBytes would be exceeded.
func (s *Store) reserve(delta int) bool {
	if delta <= 0 {
		s.release(-delta)
		return true
	}
	if s.opts.MaxBytes == 0 {
		s.bytes.Add(uint64(delta))
		return true
	}
	for {
		cur := s.bytes.Load()
		next := cur + uint64(delta)
		if next > s.opts.MaxBytes {
			return false
		}
		if s.bytes.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (s *Store) release(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := s.bytes.Load()
		next := uint64(0)
		if uint64(n) < cur {
			next = cur - uint64(n)
		}
		if s.bytes.CompareAndSwap(cur, next) {
			return
		}
	}
}

// removeLocked deletes key from sh; the caller holds sh.mu.
func (s *Store) removeLocked(sh *shard, key string, e *entry, expired bool) {
	delete(sh.m, key)
	s.keys.Add(^uint64(0))
	s.release(len(e.val))
	if expired {
		s.expired.Add(1)
	} else {
		s.dels.Add(1)
	}
}

func (s *Store) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.nowFn().Add(ttl).UnixNano()
}

// Set stores val under key. ttl <= 0 keeps the key until deleted. It returns
// false when the key existed before or when the size limit rejected the write.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	v := clone(val)
	expAt := s.deadline(ttl)
	sh := s.shardFor(key)
	sh.mu.Lock()
	prev, existed := sh.m[key]
	oldLen := 0
	if existed {
		oldLen = len(prev.val)
	}
	if !s.reserve(len(v) - oldLen) {
		sh.mu.Unlock()
		return false
	}
	sh.m[key] = &entry{val: v, expireAt: expAt}
	sh.mu.Unlock()
	if !existed {
		s.keys.Add(1)
	}
	s.sets.Add(1)
	if expAt != 0 {
		s.schedule(key, expAt)
	}
	return !existed
}

// Get returns a copy of the value of key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.gets.Add(1)
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	if ok && !e.dead(s.nowFn().UnixNano()) {
		v := clone(e.val)
		sh.mu.RUnlock()
		s.hits.Add(1)
		return v, true
	}
	sh.mu.RUnlock()
	s.misses.Add(1)
	if ok {
		s.reap(key)
	}
	return nil, false
}

// GetDel returns the value of key and deletes it.
func (s *Store) GetDel(key string) ([]byte, bool) {
	s.gets.Add(1)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	if e.dead(s.nowFn().UnixNano()) {
		s.removeLocked(sh, key, e, true)
		s.misses.Add(1)
		return nil, false
	}
	s.removeLocked(sh, key, e, false)
	s.hits.Add(1)
	return e.val, true
}

// Update replaces the value of an existing key with fn(old). The TTL is kept.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return false
	}
	if e.dead(s.nowFn().UnixNano()) {
		s.removeLocked(sh, key, e, true)
		return false
	}
	nv := clone(fn(clone(e.val)))
	if !s.reserve(len(nv) - len(e.val)) {
		return false
	}
	e.val = nv
	s.updates.Add(1)
	return true
}

// Upsert is Update that creates a missing key with fn(nil) and ttl.
// An existing key gets its TTL refreshed to ttl.
func (s *Store) Upsert(key string, ttl time.Duration, fn func(old []byte) []byte) bool {
	expAt := s.deadline(ttl)
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if ok && e.dead(s.nowFn().UnixNano()) {
		s.removeLocked(sh, key, e, true)
		ok = false
	}
	var old []byte
	if ok {
		old = clone(e.val)
	}
	nv := clone(fn(old))
	oldLen := 0
	if ok {
		oldLen = len(e.val)
	}
	if !s.reserve(len(nv) - oldLen) {
		sh.mu.Unlock()
		return false
	}
	if ok {
		e.val, e.expireAt = nv, expAt
		s.updates.Add(1)
	} else {
		sh.m[key] = &entry{val: nv, expireAt: expAt}
		s.keys.Add(1)
		s.sets.Add(1)
	}
	sh.mu.Unlock()
	if expAt != 0 {
		s.schedule(key, expAt)
	}
	return true
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if ok {
		s.removeLocked(sh, key, e, false)
	}
	return ok
}

// Expire sets a new TTL on key; ttl <= 0 deletes it.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return s.Delete(key)
	}
	expAt := s.deadline(ttl)
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok {
		sh.mu.Unlock()
		return false
	}
	if e.dead(s.nowFn().UnixNano()) {
		s.removeLocked(sh, key, e, true)
		sh.mu.Unlock()
		return false
	}
	e.expireAt = expAt
	sh.mu.Unlock()
	s.schedule(key, expAt)
	return true
}

// TTL returns the remaining lifetime of key; 0 with ok=true means no expiry.
func (s *Store) TTL(key string) (time.Duration, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	if !ok {
		sh.mu.RUnlock()
		return 0, false
	}
	exp := e.expireAt
	sh.mu.RUnlock()
	if exp == 0 {
		return 0, true
	}
	now := s.nowFn().UnixNano()
	if exp <= now {
		s.reap(key)
		return 0, false
	}
	return time.Duration(exp - now), true
}

// Keys returns the live keys with prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	now := s.nowFn().UnixNano()
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.m {
			if strings.HasPrefix(k, prefix) && !e.dead(now) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// reap drops key if it is still expired.
func (s *Store) reap(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	if e, ok := sh.m[key]; ok && e.dead(s.nowFn().UnixNano()) {
		s.removeLocked(sh, key, e, true)
	}
	sh.mu.Unlock()
}

// Stats is a snapshot of store counters.
type Stats struct {
	Keys    uint64
	Bytes   uint64
	Sets    uint64
	Gets    uint64
	Hits    uint64
	Misses  uint64
	Dels    uint64
	Expired uint64
	Updates uint64
}

// Metrics returns the current counters.
func (s *Store) Metrics() Stats {
	return Stats{
		Keys:    s.keys.Load(),
		Bytes:   s.bytes.Load(),
		Sets:    s.sets.Load(),
		Gets:    s.gets.Load(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Dels:    s.dels.Load(),
		Expired: s.expired.Load(),
		Updates: s.updates.Load(),
	}
}

type expItem struct {
	when int64
	key  string
}

// expQueue is a min-heap of deadlines. Stale items are skipped on pop.
type expQueue struct {
	mu    sync.Mutex
	items []expItem
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)         { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items = q.items[:n-1]
	return it
}

func (s *Store) schedule(key string, when int64) {
	s.exp.mu.Lock()
	heap.Push(&s.exp, expItem{when: when, key: key})
	s.exp.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) expirer() {
	defer s.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.exp.mu.Lock()
		var due []string
		now := s.nowFn().UnixNano()
		for s.exp.Len() > 0 && s.exp.items[0].when <= now {
			due = append(due, heap.Pop(&s.exp).(expItem).key)
		}
		wait := time.Hour
		if s.exp.Len() > 0 {
			wait = time.Duration(s.exp.items[0].when - now)
		}
		s.exp.mu.Unlock()

		for _, k := range due {
			s.reap(k)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}
