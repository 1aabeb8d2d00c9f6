// Copyright (C) 2024 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registry holds the handler tables that protocol codecs dispatch
// through. Tables are filled by extension activators at startup; lookups
// read an immutable snapshot and never block on registration.
package registry

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Registration is returned by every Register call. Close removes exactly
// the entry it was returned for and may be called more than once.
type Registration interface {
	Close()
}

type entry[H any] struct {
	id      uint64
	handler H
}

// Table maps keys to handlers. Writers serialize on a mutex and publish a
// freshly built map; readers load the current map without locking.
type Table[K comparable, H any] struct {
	name   string
	mu     sync.Mutex
	nextID uint64
	snap   atomic.Pointer[map[K]entry[H]]
}

func NewTable[K comparable, H any](name string) *Table[K, H] {
	t := &Table[K, H]{name: name}
	m := make(map[K]entry[H])
	t.snap.Store(&m)
	return t
}

func (t *Table[K, H]) Name() string {
	return t.name
}

// Register adds handler under key. Registering a key twice is a bug in
// the activator that did it and panics.
func (t *Table[K, H]) Register(key K, handler H) Registration {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.snap.Load()
	if _, ok := cur[key]; ok {
		panic(fmt.Sprintf("%s: duplicate registration for %v", t.name, key))
	}
	t.nextID++
	next := make(map[K]entry[H], len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[key] = entry[H]{id: t.nextID, handler: handler}
	t.snap.Store(&next)
	return &tableRegistration[K, H]{table: t, key: key, id: t.nextID}
}

func (t *Table[K, H]) remove(key K, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.snap.Load()
	if e, ok := cur[key]; !ok || e.id != id {
		return
	}
	next := make(map[K]entry[H], len(cur))
	for k, v := range cur {
		if k != key {
			next[k] = v
		}
	}
	t.snap.Store(&next)
}

func (t *Table[K, H]) Lookup(key K) (H, bool) {
	e, ok := (*t.snap.Load())[key]
	return e.handler, ok
}

func (t *Table[K, H]) Len() int {
	return len(*t.snap.Load())
}

// Keys returns the registered keys; ordered keys come back sorted.
func (t *Table[K, H]) Keys() []K {
	m := *t.snap.Load()
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys is Keys for ordered key types.
func SortedKeys[K cmp.Ordered, H any](t *Table[K, H]) []K {
	keys := t.Keys()
	slices.Sort(keys)
	return keys
}

type tableRegistration[K comparable, H any] struct {
	table *Table[K, H]
	key   K
	id    uint64
	once  sync.Once
}

func (r *tableRegistration[K, H]) Close() {
	r.once.Do(func() {
		r.table.remove(r.key, r.id)
	})
}

// Registrations groups handles so an activator can be stopped at once.
type Registrations []Registration

func (rs Registrations) Close() {
	for i := len(rs) - 1; i >= 0; i-- {
		rs[i].Close()
	}
}

// SortedKeysOf sorts a key slice returned by Codes or Keys.
func SortedKeysOf[K cmp.Ordered](keys []K) []K {
	slices.Sort(keys)
	return keys
}
