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
	"sync"
	"time"

	farm "github.com/dgryski/go-farm"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// TableManager owns the Loc-RIB tables of one speaker and turns UPDATE
// messages into table changes.
type TableManager struct {
	logger  log.Logger
	ctx     *bgp.ExtensionContext
	localAS uint32
	tables  map[bgp.Family]*Table

	// IGPMetric resolves the cost to a next hop. Nil means every next
	// hop costs the same.
	IGPMetric func(nexthop netip.Addr) uint32

	mu   sync.Mutex
	adjs map[netip.Addr]*AdjRib
}

// NewTableManager creates one table per family of policies.
func NewTableManager(logger log.Logger, ctx *bgp.ExtensionContext, localAS uint32, opts SelectionOptions, policies map[bgp.Family]Policy) (*TableManager, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &TableManager{
		logger:  logger,
		ctx:     ctx,
		localAS: localAS,
		tables:  make(map[bgp.Family]*Table, len(policies)),
		adjs:    make(map[netip.Addr]*AdjRib),
	}
	for f, policy := range policies {
		support, err := NewRIBSupport(f)
		if err != nil {
			return nil, err
		}
		m.tables[f] = NewTable(logger, support, localAS, policy, opts)
	}
	return m, nil
}

func (m *TableManager) GetTable(f bgp.Family) (*Table, bool) {
	t, ok := m.tables[f]
	return t, ok
}

func (m *TableManager) Families() []bgp.Family {
	families := make([]bgp.Family, 0, len(m.tables))
	for f := range m.tables {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

func peerKey(peer *PeerInfo) netip.Addr {
	if peer == nil {
		return netip.Addr{}
	}
	return peer.Address
}

func routeKey(peer *PeerInfo, nlri bgp.AddrPrefixInterface) RouteKey {
	var id netip.Addr
	if peer != nil {
		id = peer.ID
	}
	return NewRouteKey(id, nlri.PathIdentifier())
}

// AdjRib returns the Adj-RIB-In of peer, creating it on first use.
func (m *TableManager) AdjRib(peer *PeerInfo) *AdjRib {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj, ok := m.adjs[peerKey(peer)]
	if !ok {
		adj = NewAdjRib(peer)
		m.adjs[peerKey(peer)] = adj
	}
	return adj
}

// hash identifies the encoded attribute set so that a re-advertisement
// of the same attributes is not reported as a change.
func (m *TableManager) hash(attrs []bgp.PathAttributeInterface, opts *bgp.MarshallingOption) uint64 {
	if m.ctx == nil || len(attrs) == 0 {
		return 0
	}
	w := wire.NewWriter(256)
	for _, a := range attrs {
		if err := m.ctx.PutPathAttribute(a, w, opts); err != nil {
			return 0
		}
	}
	return farm.Hash64(w.Bytes())
}

// ProcessMessage applies an UPDATE received from peer and returns the
// resulting selection changes in message order.
func (m *TableManager) ProcessMessage(peer *PeerInfo, msg *bgp.BGPMessage, opts *bgp.MarshallingOption, timestamp time.Time) []*Update {
	update, ok := msg.Body.(*bgp.BGPUpdate)
	if !ok {
		return nil
	}
	if f, eor := update.IsEndOfRib(); eor {
		m.logger.Debug("end of rib",
			log.Fields{
				"Topic":  "Table",
				"Key":    peerKey(peer).String(),
				"Family": f.String(),
			})
		return nil
	}
	adj := m.AdjRib(peer)
	var updates []*Update
	withdraw := func(nlri bgp.AddrPrefixInterface) {
		t, ok := m.tables[nlri.Family()]
		if !ok {
			return
		}
		key := routeKey(peer, nlri)
		adj.Remove(t.GetFamily(), t.support.RouteKey(nlri), key)
		if u := t.RemoveRoute(key, nlri); u != nil {
			updates = append(updates, u)
		}
	}
	for _, nlri := range update.Unreachable() {
		withdraw(nlri)
	}

	reach := update.Reachable()
	if len(reach) == 0 {
		return updates
	}
	if update.ErrorHandling() == bgp.ERROR_HANDLING_TREAT_AS_WITHDRAW {
		m.logger.Warn("malformed attributes, treating as withdraw",
			log.Fields{
				"Topic": "Table",
				"Key":   peerKey(peer).String(),
				"Count": len(reach),
			})
		for _, nlri := range reach {
			withdraw(nlri)
		}
		return updates
	}

	attrs := update.RouteAttributes()
	hash := m.hash(attrs, opts)
	for _, nlri := range reach {
		f := nlri.Family()
		t, ok := m.tables[f]
		if !ok {
			m.logger.Debug("no table for family",
				log.Fields{
					"Topic":  "Table",
					"Key":    peerKey(peer).String(),
					"Family": f.String(),
				})
			continue
		}
		a := &Attributes{
			Source:    peer,
			PathAttrs: attrs,
			Nexthop:   update.NextHop(f),
			Timestamp: timestamp,
			Hash:      hash,
		}
		if m.IGPMetric != nil {
			a.IGPMetric = m.IGPMetric(a.Nexthop)
		}
		key := routeKey(peer, nlri)
		r := NewRoute(nlri, a)
		adj.Update(f, t.support.RouteKey(nlri), key, r)
		if u := t.AddRoute(key, r); u != nil {
			updates = append(updates, u)
		}
	}
	return updates
}

// PeerDown withdraws every route peer advertised and forgets its
// Adj-RIB-In.
func (m *TableManager) PeerDown(peer *PeerInfo) []*Update {
	m.mu.Lock()
	adj, ok := m.adjs[peerKey(peer)]
	delete(m.adjs, peerKey(peer))
	m.mu.Unlock()
	if !ok {
		return nil
	}
	var updates []*Update
	for _, f := range adj.Families() {
		t, ok := m.tables[f]
		if !ok {
			continue
		}
		for _, r := range adj.Drop(f) {
			if u := t.RemoveRoute(r.key, r.route.NLRI); u != nil {
				updates = append(updates, u)
			}
		}
	}
	m.logger.Info("peer routes withdrawn",
		log.Fields{
			"Topic":   "Table",
			"Key":     peerKey(peer).String(),
			"Updates": len(updates),
		})
	return updates
}
