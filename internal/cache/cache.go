// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cache implements dnswall's TTL-aware DNS response cache,
// keyed by (name, qtype), with a sentinel TTL marking pinned/static
// entries that survive dynamic purge.
package cache

import (
	"container/list"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/miekg/dns"

	"grimm.is/dnswall/internal/clock"
)

// MaxTTL is the sentinel TTL (max signed 32-bit int, seconds) used for
// static/pinned entries. It is exempt from PurgeDynamic.
const MaxTTL = math.MaxInt32

const numShards = 64

// Key identifies a cached answer by query name and type.
type Key struct {
	Name  string
	Qtype uint16
}

type entry struct {
	msg      *dns.Msg
	deadline time.Time
	pinned   bool
	elem     *list.Element
}

// shard tracks recency with a doubly-linked list alongside its map: the
// front of the list is the least recently used key, the back the most
// recently used. Every Get and Put moves the touched key to the back,
// so evictOneLocked only ever has to look at the front.
type shard struct {
	mu    sync.RWMutex
	items map[Key]entry
	lru   *list.List // list of Key, front = least recently used
}

// Cache is a bounded, sharded map of (name, qtype) -> cached response.
type Cache struct {
	shards   [numShards]*shard
	capacity int // per-shard capacity; 0 means unbounded
}

// New returns a Cache with the given total capacity, spread evenly
// across shards and rounded up to a whole number of entries per shard.
// A capacity of 0 means unbounded.
func New(capacity int) *Cache {
	c := &Cache{capacity: (capacity + numShards - 1) / numShards}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[Key]entry), lru: list.New()}
	}
	return c
}

func (c *Cache) shardFor(k Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.Name))
	var b [2]byte
	b[0] = byte(k.Qtype)
	b[1] = byte(k.Qtype >> 8)
	h.Write(b[:])
	return c.shards[h.Sum32()%numShards]
}

// Get returns the cached response for key if present and not expired.
// An expired entry is evicted as a side effect of the lookup.
func (c *Cache) Get(key Key) (*dns.Msg, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if !e.pinned && clock.Now().After(e.deadline) {
		s.lru.Remove(e.elem)
		delete(s.items, key)
		return nil, false
	}
	s.lru.MoveToBack(e.elem)
	return e.msg.Copy(), true
}

// Put stores msg under key with the given TTL. A ttl of MaxTTL seconds
// marks the entry pinned, exempting it from PurgeDynamic.
func (c *Cache) Put(key Key, msg *dns.Msg, ttl time.Duration) {
	s := c.shardFor(key)
	pinned := ttl >= MaxTTL*time.Second

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok {
		s.lru.MoveToBack(existing.elem)
		s.items[key] = entry{
			msg:      msg.Copy(),
			deadline: clock.Now().Add(ttl),
			pinned:   pinned,
			elem:     existing.elem,
		}
		return
	}
	if c.capacity > 0 && len(s.items) >= c.capacity {
		c.evictOneLocked(s)
	}
	elem := s.lru.PushBack(key)
	s.items[key] = entry{
		msg:      msg.Copy(),
		deadline: clock.Now().Add(ttl),
		pinned:   pinned,
		elem:     elem,
	}
}

// evictOneLocked removes one entry, preferring an already-expired one;
// falling back to the least recently used entry (front of the shard's
// recency list) otherwise. Callers must hold s.mu.
func (c *Cache) evictOneLocked(s *shard) {
	now := clock.Now()
	for k, e := range s.items {
		if !e.pinned && now.After(e.deadline) {
			s.lru.Remove(e.elem)
			delete(s.items, k)
			return
		}
	}
	for elem := s.lru.Front(); elem != nil; elem = elem.Next() {
		k := elem.Value.(Key)
		if s.items[k].pinned {
			continue
		}
		s.lru.Remove(elem)
		delete(s.items, k)
		return
	}
}

// PurgeDynamic removes every entry whose TTL is not the pinned sentinel.
func (c *Cache) PurgeDynamic() {
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if !e.pinned {
				s.lru.Remove(e.elem)
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}

// Purge removes every entry, pinned or not.
func (c *Cache) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[Key]entry)
		s.lru.Init()
		s.mu.Unlock()
	}
}

// Remove deletes the entry at key, if any, and reports whether one was
// present.
func (c *Cache) Remove(key Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return false
	}
	s.lru.Remove(e.elem)
	delete(s.items, key)
	return true
}

// DeriveTTL computes the cache TTL for resp: the maximum TTL among its
// A-record answers, since all answers in a response go stale together
// and using the maximum avoids discarding the most authoritative one.
// If resp carries no A records, def is returned.
func DeriveTTL(resp *dns.Msg, def time.Duration) time.Duration {
	var maxTTL uint32
	found := false
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype != dns.TypeA {
			continue
		}
		if !found || rr.Header().Ttl > maxTTL {
			maxTTL = rr.Header().Ttl
			found = true
		}
	}
	if !found {
		return def
	}
	return time.Duration(maxTTL) * time.Second
}
