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
	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

// Value is what an entry stores per offset.
type Value interface {
	attributes() *Attributes
	nlri(dest bgp.AddrPrefixInterface) bgp.AddrPrefixInterface
}

// RouteEntry is the per-destination state shared by both storage
// strategies. It is not safe for concurrent use; Table serializes
// mutations per destination.
type RouteEntry interface {
	addRoute(key RouteKey, r *Route) int
	RemoveRoute(key RouteKey) bool
	SelectBest(localAS uint32) bool
	BestPaths() []*Path
	Advertised() []*Path
	Withdrawn() []uint32
	BestChanged() bool
	Reason() BestPathReason
	Keys() []RouteKey
	Empty() bool
	Len() int
}

type entry[V Value] struct {
	dest      bgp.AddrPrefixInterface
	policy    Policy
	opts      SelectionOptions
	fromRoute func(*Route) V

	offsets  OffsetMap
	values   []V
	localIDs []uint32
	ids      *Bitmap
	// ids of removed paths, free again once SelectBest has withdrawn them
	released []uint32

	best        []*Path
	advertised  []*Path
	withdrawn   []uint32
	bestChanged bool
	reason      BestPathReason
}

// SimpleEntry keeps only the attributes of each path; the NLRI of every
// path is the destination itself.
type SimpleEntry = entry[*Attributes]

// ComplexEntry keeps the whole route of each path.
type ComplexEntry = entry[*Route]

func NewSimpleEntry(dest bgp.AddrPrefixInterface, policy Policy, opts SelectionOptions) *SimpleEntry {
	return newEntry(dest, policy, opts, func(r *Route) *Attributes { return r.Attributes })
}

func NewComplexEntry(dest bgp.AddrPrefixInterface, policy Policy, opts SelectionOptions) *ComplexEntry {
	return newEntry(dest, policy, opts, func(r *Route) *Route { return r })
}

func newEntry[V Value](dest bgp.AddrPrefixInterface, policy Policy, opts SelectionOptions, fromRoute func(*Route) V) *entry[V] {
	if policy == nil {
		policy = SingleBest{}
	}
	return &entry[V]{
		dest:      dest,
		policy:    policy,
		opts:      opts,
		fromRoute: fromRoute,
		offsets:   EmptyOffsetMap,
		ids:       NewBitmap(0),
	}
}

// AddRoute stores value for key and returns its offset. A new key grows
// the offset map and gets a local path id; a known key is overwritten in
// place and keeps its id.
func (e *entry[V]) AddRoute(key RouteKey, value V) int {
	offset := e.offsets.OffsetOf(key)
	if offset < 0 {
		m := e.offsets.With(key)
		offset = m.OffsetOf(key)
		e.values = expand(m, e.offsets, e.values, offset)
		e.localIDs = expand(m, e.offsets, e.localIDs, offset)
		e.offsets = m
		e.localIDs[offset] = uint32(e.ids.FindAndSetZeroBit())
	}
	e.values[offset] = value
	return offset
}

// addRoute keeps the age of a path that is advertised again unchanged,
// so a refresh never wins or loses the oldest-path step.
func (e *entry[V]) addRoute(key RouteKey, r *Route) int {
	if v, ok := e.Value(key); ok {
		if old := v.attributes(); old.Equal(r.Attributes) && !old.Timestamp.Equal(r.Attributes.Timestamp) {
			a := *r.Attributes
			a.Timestamp = old.Timestamp
			r = NewRoute(r.NLRI, &a)
		}
	}
	return e.AddRoute(key, e.fromRoute(r))
}

// RemoveRoute is a no-op for a key that was never added. The local id of
// the path is not handed out again before the next SelectBest, so an id
// never shows up in both Withdrawn and Advertised.
func (e *entry[V]) RemoveRoute(key RouteKey) bool {
	offset := e.offsets.OffsetOf(key)
	if offset < 0 {
		return false
	}
	e.released = append(e.released, e.localIDs[offset])
	e.values = shrink(e.offsets, e.values, offset)
	e.localIDs = shrink(e.offsets, e.localIDs, offset)
	e.offsets = e.offsets.Without(key)
	return true
}

func (e *entry[V]) Value(key RouteKey) (V, bool) {
	offset := e.offsets.OffsetOf(key)
	if offset < 0 {
		var zero V
		return zero, false
	}
	return e.values[offset], true
}

// SelectBest runs the policy over every stored path and reports whether
// the selection differs from the previous one. The previous selection is
// kept for Advertised and Withdrawn.
func (e *entry[V]) SelectBest(localAS uint32) bool {
	c := NewComparator(localAS, e.opts)
	candidates := make([]*pathState, len(e.values))
	for i, v := range e.values {
		candidates[i] = c.state(i, e.offsets.Key(i), v.attributes())
	}
	incumbent := -1
	if len(e.best) > 0 {
		incumbent = e.offsets.OffsetOf(e.best[0].Key)
	}
	selected, reason := e.policy.selectPaths(candidates, c, incumbent)

	best := make([]*Path, 0, len(selected))
	for _, s := range selected {
		v := e.values[s.offset]
		best = append(best, &Path{
			Key:        s.key,
			LocalID:    e.localIDs[s.offset],
			NLRI:       v.nlri(e.dest),
			Attributes: v.attributes(),
		})
	}
	if len(best) == 0 {
		best = nil
	}

	old := e.best
	e.advertised, e.withdrawn = diffPaths(old, best)
	e.bestChanged = len(old) != 0 && len(best) == 0 || len(best) != 0 && (len(old) == 0 || !old[0].equal(best[0]))
	e.reason = reason
	e.best = best
	for _, id := range e.released {
		e.ids.Unflag(uint(id))
	}
	e.released = e.released[:0]
	return !samePaths(old, best)
}

// diffPaths returns the paths of cur that are new or changed, and the
// local ids of the paths of old whose key is no longer selected.
func diffPaths(old, cur []*Path) ([]*Path, []uint32) {
	var advertised []*Path
	for _, p := range cur {
		found := false
		for _, o := range old {
			if p.equal(o) && p.LocalID == o.LocalID {
				found = true
				break
			}
		}
		if !found {
			advertised = append(advertised, p)
		}
	}
	var withdrawn []uint32
	for _, o := range old {
		found := false
		for _, p := range cur {
			if o.Key == p.Key && o.LocalID == p.LocalID {
				found = true
				break
			}
		}
		if !found {
			withdrawn = append(withdrawn, o.LocalID)
		}
	}
	return advertised, withdrawn
}

func samePaths(a, b []*Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) || a[i].LocalID != b[i].LocalID {
			return false
		}
	}
	return true
}

// BestPaths returns the current selection. The slice is replaced, never
// modified, by the next SelectBest, so callers may keep it.
func (e *entry[V]) BestPaths() []*Path {
	return e.best
}

func (e *entry[V]) Advertised() []*Path {
	return e.advertised
}

func (e *entry[V]) Withdrawn() []uint32 {
	return e.withdrawn
}

// BestChanged reports whether the first selected path changed in the
// last SelectBest, which is all a peer without add-path cares about.
func (e *entry[V]) BestChanged() bool {
	return e.bestChanged
}

func (e *entry[V]) Reason() BestPathReason {
	return e.reason
}

func (e *entry[V]) Keys() []RouteKey {
	keys := make([]RouteKey, e.offsets.Len())
	for i := range keys {
		keys[i] = e.offsets.Key(i)
	}
	return keys
}

// Empty reports whether the destination can be dropped: no path is
// stored and none is selected.
func (e *entry[V]) Empty() bool {
	return e.offsets.Empty() && len(e.best) == 0
}

func (e *entry[V]) Len() int {
	return e.offsets.Len()
}
