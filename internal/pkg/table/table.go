// Copyright (C) 2014-2024 Nippon Telegraph and Telephone Corporation.
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
	"net/netip"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	radix "github.com/armon/go-radix"
	farm "github.com/dgryski/go-farm"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

const shardCount = 64

type shard struct {
	mu    sync.Mutex
	dests map[string]*Destination
}

// Table is the Loc-RIB of one address family. Destinations are spread
// over shards by a hash of their key; mutations of one destination are
// serialized by its shard lock.
type Table struct {
	logger  log.Logger
	support RIBSupport
	policy  Policy
	opts    SelectionOptions
	localAS uint32
	shards  [shardCount]shard

	// index orders IP destinations by prefix bits.
	indexMu sync.RWMutex
	index   *radix.Tree

	routes          atomic.Int64
	bestPathChanges atomic.Uint64
}

func NewTable(logger log.Logger, support RIBSupport, localAS uint32, policy Policy, opts SelectionOptions) *Table {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if policy == nil {
		policy = SingleBest{}
	}
	t := &Table{
		logger:  logger,
		support: support,
		policy:  policy,
		opts:    opts,
		localAS: localAS,
		index:   radix.New(),
	}
	for i := range t.shards {
		t.shards[i].dests = make(map[string]*Destination)
	}
	return t
}

func (t *Table) GetFamily() bgp.Family {
	return t.support.Family()
}

func (t *Table) Policy() Policy {
	return t.policy
}

func (t *Table) shardOf(key string) *shard {
	return &t.shards[farm.Hash64([]byte(key))%shardCount]
}

// radixKey spells out the prefix bits so that the radix tree orders
// prefixes and finds covering ones.
func radixKey(p netip.Prefix) string {
	b := p.Addr().AsSlice()
	var sb strings.Builder
	sb.Grow(p.Bits())
	for i := 0; i < p.Bits(); i++ {
		if b[i/8]&(0x80>>(i%8)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// AddRoute stores r as the path from key and reruns the selection. The
// returned Update is nil when the selection did not change.
func (t *Table) AddRoute(key RouteKey, r *Route) *Update {
	destKey := t.support.RouteKey(r.NLRI)
	s := t.shardOf(destKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dests[destKey]
	if !ok {
		d = newDestination(destKey, r.NLRI, newRouteEntry(t.support, r.NLRI, t.policy, t.opts))
		s.dests[destKey] = d
		if p, ok := t.support.Prefix(r.NLRI); ok {
			t.indexMu.Lock()
			t.index.Insert(radixKey(p), d)
			t.indexMu.Unlock()
		}
	}
	n := d.entry.Len()
	d.entry.addRoute(key, r)
	t.routes.Add(int64(d.entry.Len() - n))
	return t.selectBest(s, d)
}

// RemoveRoute withdraws the path from key. Unknown routes are ignored.
func (t *Table) RemoveRoute(key RouteKey, nlri bgp.AddrPrefixInterface) *Update {
	destKey := t.support.RouteKey(nlri)
	s := t.shardOf(destKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dests[destKey]
	if !ok || !d.entry.RemoveRoute(key) {
		t.logger.Debug("withdraw of unknown route",
			log.Fields{
				"Topic": "Table",
				"Key":   destKey,
				"Peer":  key.String(),
			})
		return nil
	}
	t.routes.Add(-1)
	return t.selectBest(s, d)
}

// selectBest must be called with the shard lock held.
func (t *Table) selectBest(s *shard, d *Destination) *Update {
	changed := d.entry.SelectBest(t.localAS)
	d.publish()
	if d.entry.Empty() {
		delete(s.dests, d.key)
		if p, ok := t.support.Prefix(d.nlri); ok {
			t.indexMu.Lock()
			t.index.Delete(radixKey(p))
			t.indexMu.Unlock()
		}
	}
	if !changed {
		return nil
	}
	t.bestPathChanges.Add(1)
	u := &Update{
		Family:      t.GetFamily(),
		Key:         d.key,
		NLRI:        d.nlri,
		Best:        d.entry.BestPaths(),
		Advertised:  d.entry.Advertised(),
		Withdrawn:   d.entry.Withdrawn(),
		BestChanged: d.entry.BestChanged(),
		Reason:      d.entry.Reason(),
	}
	t.logger.Debug("best path changed",
		log.Fields{
			"Topic":  "Table",
			"Key":    d.key,
			"Best":   len(u.Best),
			"Reason": u.Reason.String(),
		})
	return u
}

func (t *Table) GetDestination(nlri bgp.AddrPrefixInterface) *Destination {
	destKey := t.support.RouteKey(nlri)
	s := t.shardOf(destKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dests[destKey]
}

func (t *Table) destinations() []*Destination {
	var dests []*Destination
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, d := range s.dests {
			dests = append(dests, d)
		}
		s.mu.Unlock()
	}
	return dests
}

// GetDestinations returns every destination sorted by key.
func (t *Table) GetDestinations() []*Destination {
	dests := t.destinations()
	sort.Slice(dests, func(i, j int) bool { return dests[i].key < dests[j].key })
	return dests
}

// Snapshot maps every destination key to its selected paths. The path
// slices are shared with the table and must not be modified.
func (t *Table) Snapshot() map[string][]*Path {
	dests := t.destinations()
	m := make(map[string][]*Path, len(dests))
	for _, d := range dests {
		if best := d.BestPaths(); len(best) > 0 {
			m[d.key] = best
		}
	}
	return m
}

// LongestMatch returns the most specific destination covering addr.
// Only families with an IP prefix are indexed.
func (t *Table) LongestMatch(addr netip.Addr) (*Destination, bool) {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	_, v, ok := t.index.LongestPrefix(radixKey(netip.PrefixFrom(addr, addr.BitLen())))
	if !ok {
		return nil, false
	}
	return v.(*Destination), true
}

// Walk visits destinations in prefix order for indexed families and in
// key order otherwise, until fn returns false.
func (t *Table) Walk(fn func(d *Destination) bool) {
	t.indexMu.RLock()
	var dests []*Destination
	t.index.Walk(func(_ string, v interface{}) bool {
		dests = append(dests, v.(*Destination))
		return false
	})
	t.indexMu.RUnlock()
	if len(dests) == 0 {
		dests = t.GetDestinations()
	}
	for _, d := range dests {
		if !fn(d) {
			return
		}
	}
}

// Len is the number of destinations.
func (t *Table) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.dests)
		s.mu.Unlock()
	}
	return n
}

// RouteCount is the number of stored paths over all destinations.
func (t *Table) RouteCount() int {
	return int(t.routes.Load())
}

// BestPathChanges counts the selections that changed something.
func (t *Table) BestPathChanges() uint64 {
	return t.bestPathChanges.Load()
}
