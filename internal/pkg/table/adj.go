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
	"fmt"
	"sort"
	"sync"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bgp/rtc"
)

// rtCounter keeps per route target reference counts of the RTC routes a
// peer advertised.
type rtCounter struct {
	rts map[string]int
}

func rtKey(nlri bgp.AddrPrefixInterface) (string, bool) {
	n, ok := nlri.(*rtc.RouteTargetMembershipNLRI)
	if !ok {
		return "", false
	}
	if n.RouteTarget == nil {
		return "default", true
	}
	return n.RouteTarget.String(), true
}

func (c *rtCounter) add(nlri bgp.AddrPrefixInterface) {
	if k, ok := rtKey(nlri); ok {
		c.rts[k]++
	}
}

func (c *rtCounter) sub(nlri bgp.AddrPrefixInterface) {
	k, ok := rtKey(nlri)
	if !ok {
		return
	}
	if v := c.rts[k]; v <= 1 {
		delete(c.rts, k)
	} else {
		c.rts[k] = v - 1
	}
}

type adjRoute struct {
	key   RouteKey
	route *Route
}

// AdjRib is the Adj-RIB-In of one peer: the routes it currently
// advertises, per family. It lets the Loc-RIB drop them all when the
// session goes down.
type AdjRib struct {
	mu     sync.Mutex
	peer   *PeerInfo
	routes map[bgp.Family]map[string]adjRoute
	rts    rtCounter
}

func NewAdjRib(peer *PeerInfo) *AdjRib {
	return &AdjRib{
		peer:   peer,
		routes: make(map[bgp.Family]map[string]adjRoute),
		rts:    rtCounter{rts: make(map[string]int)},
	}
}

func adjKey(destKey string, key RouteKey) string {
	return fmt.Sprintf("%s#%d", destKey, key.PathID)
}

func (adj *AdjRib) Update(f bgp.Family, destKey string, key RouteKey, r *Route) {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	m, ok := adj.routes[f]
	if !ok {
		m = make(map[string]adjRoute)
		adj.routes[f] = m
	}
	k := adjKey(destKey, key)
	if _, found := m[k]; !found {
		adj.rts.add(r.NLRI)
	}
	m[k] = adjRoute{key: key, route: r}
}

// Remove reports whether the route was known.
func (adj *AdjRib) Remove(f bgp.Family, destKey string, key RouteKey) bool {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	k := adjKey(destKey, key)
	old, ok := adj.routes[f][k]
	if !ok {
		return false
	}
	adj.rts.sub(old.route.NLRI)
	delete(adj.routes[f], k)
	return true
}

// Drop empties family f and returns what it held.
func (adj *AdjRib) Drop(f bgp.Family) []adjRoute {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	m := adj.routes[f]
	delete(adj.routes, f)
	out := make([]adjRoute, 0, len(m))
	for _, r := range m {
		adj.rts.sub(r.route.NLRI)
		out = append(out, r)
	}
	return out
}

func (adj *AdjRib) Count(f bgp.Family) int {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	return len(adj.routes[f])
}

func (adj *AdjRib) Families() []bgp.Family {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	families := make([]bgp.Family, 0, len(adj.routes))
	for f := range adj.routes {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

// Routes returns the routes of family f sorted by NLRI.
func (adj *AdjRib) Routes(f bgp.Family) []*Route {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	out := make([]*Route, 0, len(adj.routes[f]))
	for _, r := range adj.routes[f] {
		out = append(out, r.route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NLRI.String() < out[j].NLRI.String() })
	return out
}

func (adj *AdjRib) HasRouteTarget(rt bgp.ExtendedCommunityInterface) bool {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	return adj.rts.rts[rt.String()] > 0
}

func (adj *AdjRib) HasDefaultRT() bool {
	adj.mu.Lock()
	defer adj.mu.Unlock()
	return adj.rts.rts["default"] > 0
}
