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

package table

import (
	"fmt"
	"net/netip"
	"slices"
)

// RouteKey identifies one contributing path of a destination: the BGP
// identifier of the peer it came from and the path id that peer sent
// (0 without add-path).
type RouteKey struct {
	RouterID netip.Addr
	PathID   uint32
}

func NewRouteKey(routerID netip.Addr, pathID uint32) RouteKey {
	return RouteKey{RouterID: routerID, PathID: pathID}
}

func (k RouteKey) Compare(o RouteKey) int {
	if c := k.RouterID.Compare(o.RouterID); c != 0 {
		return c
	}
	switch {
	case k.PathID < o.PathID:
		return -1
	case k.PathID > o.PathID:
		return 1
	}
	return 0
}

func (k RouteKey) String() string {
	if k.PathID == 0 {
		return k.RouterID.String()
	}
	return fmt.Sprintf("%s#%d", k.RouterID, k.PathID)
}

// OffsetMap assigns a dense offset to every RouteKey of a destination.
// Keys are kept sorted, so offsets are stable for a given key set and
// independent of insertion order. An OffsetMap is immutable: With and
// Without return a new map and the parallel value slices are migrated
// with expand and shrink.
type OffsetMap struct {
	keys []RouteKey
}

var EmptyOffsetMap = OffsetMap{}

func (m OffsetMap) Len() int {
	return len(m.keys)
}

func (m OffsetMap) Empty() bool {
	return len(m.keys) == 0
}

func (m OffsetMap) Key(offset int) RouteKey {
	return m.keys[offset]
}

// OffsetOf returns -1 when key is not present.
func (m OffsetMap) OffsetOf(key RouteKey) int {
	i, found := slices.BinarySearchFunc(m.keys, key, RouteKey.Compare)
	if !found {
		return -1
	}
	return i
}

func (m OffsetMap) With(key RouteKey) OffsetMap {
	i, found := slices.BinarySearchFunc(m.keys, key, RouteKey.Compare)
	if found {
		panic(fmt.Sprintf("offset map already contains %s", key))
	}
	keys := make([]RouteKey, 0, len(m.keys)+1)
	keys = append(keys, m.keys[:i]...)
	keys = append(keys, key)
	return OffsetMap{keys: append(keys, m.keys[i:]...)}
}

func (m OffsetMap) Without(key RouteKey) OffsetMap {
	i, found := slices.BinarySearchFunc(m.keys, key, RouteKey.Compare)
	if !found {
		panic(fmt.Sprintf("offset map does not contain %s", key))
	}
	if len(m.keys) == 1 {
		return EmptyOffsetMap
	}
	keys := make([]RouteKey, 0, len(m.keys)-1)
	keys = append(keys, m.keys[:i]...)
	return OffsetMap{keys: append(keys, m.keys[i+1:]...)}
}

// expand migrates values laid out for old into a slice laid out for m,
// which must be old plus the key at offset. The new slot is zero.
func expand[T any](m, old OffsetMap, values []T, offset int) []T {
	if m.Len() != old.Len()+1 || len(values) != old.Len() {
		panic(fmt.Sprintf("offset map migration from %d to %d keys with %d values", old.Len(), m.Len(), len(values)))
	}
	if offset < 0 || offset >= m.Len() {
		panic(fmt.Sprintf("offset %d out of range for %d keys", offset, m.Len()))
	}
	out := make([]T, m.Len())
	copy(out, values[:offset])
	copy(out[offset+1:], values[offset:])
	return out
}

// shrink drops the value at offset. values must be laid out for m, the
// map before the key is removed.
func shrink[T any](m OffsetMap, values []T, offset int) []T {
	if len(values) != m.Len() {
		panic(fmt.Sprintf("%d values for %d keys", len(values), m.Len()))
	}
	if offset < 0 || offset >= m.Len() {
		panic(fmt.Sprintf("offset %d out of range for %d keys", offset, m.Len()))
	}
	out := make([]T, 0, len(values)-1)
	out = append(out, values[:offset]...)
	return append(out, values[offset+1:]...)
}
