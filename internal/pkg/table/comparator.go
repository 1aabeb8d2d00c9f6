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
	"math"
	"net/netip"
	"time"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

type BestPathReason uint8

const (
	BPR_UNKNOWN BestPathReason = iota
	BPR_ONLY_PATH
	BPR_AS_LOOP
	BPR_NON_LLGR_STALE
	BPR_LOCAL_PREF
	BPR_ASPATH
	BPR_ORIGIN
	BPR_MED
	BPR_ASN
	BPR_IGP_COST
	BPR_OLDER
	BPR_ROUTER_ID
	BPR_NEIGH_ADDR
	BPR_CLUSTER_LIST
	BPR_INCUMBENT
)

var BestPathReasonStringMap = map[BestPathReason]string{
	BPR_UNKNOWN:        "Unknown",
	BPR_ONLY_PATH:      "Only Path",
	BPR_AS_LOOP:        "No AS Loop",
	BPR_NON_LLGR_STALE: "no LLGR Stale",
	BPR_LOCAL_PREF:     "Local Pref",
	BPR_ASPATH:         "AS Path",
	BPR_ORIGIN:         "Origin",
	BPR_MED:            "MED",
	BPR_ASN:            "ASN",
	BPR_IGP_COST:       "IGP Cost",
	BPR_OLDER:          "Older",
	BPR_ROUTER_ID:      "Router ID",
	BPR_NEIGH_ADDR:     "Neighbor Address",
	BPR_CLUSTER_LIST:   "Cluster List",
	BPR_INCUMBENT:      "Incumbent",
}

func (r BestPathReason) String() string {
	return BestPathReasonStringMap[r]
}

// SelectionOptions tunes the decision process of one table.
type SelectionOptions struct {
	// DefaultLocalPref stands in for a missing LOCAL_PREF. Zero means
	// DEFAULT_LOCAL_PREF.
	DefaultLocalPref uint32
	DefaultMed       uint32
	// MedMissingAsWorst overrides DefaultMed with the largest MED.
	MedMissingAsWorst bool
	// AlwaysCompareMed compares MED across neighbor ASes.
	AlwaysCompareMed        bool
	ExternalCompareRouterId bool
	// DeterministicMed picks a winner per neighbor AS before comparing
	// across ASes and disables the oldest-path preference.
	DeterministicMed   bool
	IgnoreAsPathLength bool
}

func (o *SelectionOptions) localPref() uint32 {
	if o.DefaultLocalPref == 0 {
		return DEFAULT_LOCAL_PREF
	}
	return o.DefaultLocalPref
}

func (o *SelectionOptions) missingMed() uint32 {
	if o.MedMissingAsWorst {
		return math.MaxUint32
	}
	return o.DefaultMed
}

// pathState is the part of a path the decision process looks at, read
// out of the attributes once per selection.
type pathState struct {
	offset     int
	key        RouteKey
	attrs      *Attributes
	loop       bool
	stale      bool
	localPref  uint32
	asPathLen  int
	origin     uint8
	med        uint32
	neighborAS uint32
	internal   bool
	ebgp       bool
	igpMetric  uint32
	timestamp  time.Time
	routerID   netip.Addr
	peerAddr   netip.Addr
	clusterLen int
}

func newPathState(offset int, key RouteKey, attrs *Attributes, localAS uint32, opts *SelectionOptions) *pathState {
	s := &pathState{
		offset:    offset,
		key:       key,
		attrs:     attrs,
		localPref: opts.localPref(),
		origin:    bgp.BGP_ORIGIN_ATTR_TYPE_INCOMPLETE,
		med:       opts.missingMed(),
		igpMetric: attrs.IGPMetric,
		timestamp: attrs.Timestamp,
		routerID:  key.RouterID,
	}
	if src := attrs.Source; src != nil {
		s.ebgp = !src.IsIBGP()
		s.peerAddr = src.Address
		if src.ID.IsValid() {
			s.routerID = src.ID
		}
	}
	for _, a := range attrs.PathAttrs {
		switch a := a.(type) {
		case *bgp.PathAttributeOrigin:
			s.origin = a.Value
		case *bgp.PathAttributeAsPath:
			s.asPathLen = a.PathLength()
			s.neighborAS = a.FirstAS()
			s.loop = localAS != 0 && a.Contains(localAS)
		case *bgp.PathAttributeMultiExitDisc:
			s.med = a.Value
		case *bgp.PathAttributeLocalPref:
			s.localPref = a.Value
		case *bgp.PathAttributeCommunities:
			s.stale = a.Has(bgp.COMMUNITY_LLGR_STALE)
		case *bgp.PathAttributeOriginatorId:
			s.routerID = a.Value
		case *bgp.PathAttributeClusterList:
			s.clusterLen = len(a.Value)
		}
	}
	s.internal = s.asPathLen == 0
	return s
}

// Comparator runs the decision process between two candidate paths.
type Comparator struct {
	localAS uint32
	opts    SelectionOptions
}

func NewComparator(localAS uint32, opts SelectionOptions) *Comparator {
	return &Comparator{localAS: localAS, opts: opts}
}

func (c *Comparator) state(offset int, key RouteKey, attrs *Attributes) *pathState {
	return newPathState(offset, key, attrs, c.localAS, &c.opts)
}

// compare returns the preferred path and the step that decided. On a
// full tie the incumbent p1 is kept.
func (c *Comparator) compare(p1, p2 *pathState) (*pathState, BestPathReason) {
	if p := compareByASLoop(p1, p2); p != nil {
		return p, BPR_AS_LOOP
	}
	if p := compareByLLGRStaleCommunity(p1, p2); p != nil {
		return p, BPR_NON_LLGR_STALE
	}
	if p := compareByLocalPref(p1, p2); p != nil {
		return p, BPR_LOCAL_PREF
	}
	if !c.opts.IgnoreAsPathLength {
		if p := compareByASPath(p1, p2); p != nil {
			return p, BPR_ASPATH
		}
	}
	if p := compareByOrigin(p1, p2); p != nil {
		return p, BPR_ORIGIN
	}
	if p := c.compareByMED(p1, p2); p != nil {
		return p, BPR_MED
	}
	if p := compareByASNumber(p1, p2); p != nil {
		return p, BPR_ASN
	}
	if p := compareByIGPCost(p1, p2); p != nil {
		return p, BPR_IGP_COST
	}
	if p := c.compareByAge(p1, p2); p != nil {
		return p, BPR_OLDER
	}
	if p := compareByRouterID(p1, p2); p != nil {
		return p, BPR_ROUTER_ID
	}
	if p := compareByNeighborAddress(p1, p2); p != nil {
		return p, BPR_NEIGH_ADDR
	}
	if p := compareByClusterList(p1, p2); p != nil {
		return p, BPR_CLUSTER_LIST
	}
	return p1, BPR_INCUMBENT
}

// Better reports whether a is strictly preferred over b.
func (c *Comparator) Better(a, b *Attributes, ka, kb RouteKey) bool {
	p, reason := c.compare(c.state(0, kb, b), c.state(1, ka, a))
	return p.offset == 1 && reason != BPR_INCUMBENT
}

func compareByASLoop(p1, p2 *pathState) *pathState {
	if p1.loop == p2.loop {
		return nil
	} else if p1.loop {
		return p2
	}
	return p1
}

func compareByLLGRStaleCommunity(p1, p2 *pathState) *pathState {
	if p1.stale == p2.stale {
		return nil
	} else if p1.stale {
		return p2
	}
	return p1
}

func compareByLocalPref(p1, p2 *pathState) *pathState {
	if p1.localPref > p2.localPref {
		return p1
	} else if p1.localPref < p2.localPref {
		return p2
	}
	return nil
}

func compareByASPath(p1, p2 *pathState) *pathState {
	if p1.asPathLen < p2.asPathLen {
		return p1
	} else if p1.asPathLen > p2.asPathLen {
		return p2
	}
	return nil
}

func compareByOrigin(p1, p2 *pathState) *pathState {
	if p1.origin < p2.origin {
		return p1
	} else if p1.origin > p2.origin {
		return p2
	}
	return nil
}

// MED is only meaningful between paths from the same neighbor AS, or
// between paths that never left the local AS.
func (c *Comparator) compareByMED(p1, p2 *pathState) *pathState {
	sameAS := p1.neighborAS != 0 && p1.neighborAS == p2.neighborAS
	if !c.opts.AlwaysCompareMed && !sameAS && !(p1.internal && p2.internal) {
		return nil
	}
	if p1.med < p2.med {
		return p1
	} else if p1.med > p2.med {
		return p2
	}
	return nil
}

func compareByASNumber(p1, p2 *pathState) *pathState {
	if p1.ebgp == p2.ebgp {
		return nil
	} else if p1.ebgp {
		return p1
	}
	return p2
}

func compareByIGPCost(p1, p2 *pathState) *pathState {
	if p1.igpMetric < p2.igpMetric {
		return p1
	} else if p1.igpMetric > p2.igpMetric {
		return p2
	}
	return nil
}

func (c *Comparator) compareByAge(p1, p2 *pathState) *pathState {
	if c.opts.ExternalCompareRouterId || c.opts.DeterministicMed || !p1.ebgp || !p2.ebgp {
		return nil
	}
	if p1.timestamp.IsZero() || p2.timestamp.IsZero() || p1.timestamp.Equal(p2.timestamp) {
		return nil
	} else if p1.timestamp.Before(p2.timestamp) {
		return p1
	}
	return p2
}

func compareByRouterID(p1, p2 *pathState) *pathState {
	cmp := p1.routerID.Compare(p2.routerID)
	if cmp < 0 {
		return p1
	} else if cmp > 0 {
		return p2
	}
	return nil
}

func compareByNeighborAddress(p1, p2 *pathState) *pathState {
	if !p1.peerAddr.IsValid() || !p2.peerAddr.IsValid() {
		return nil
	}
	cmp := p1.peerAddr.Compare(p2.peerAddr)
	if cmp < 0 {
		return p1
	} else if cmp > 0 {
		return p2
	}
	return nil
}

func compareByClusterList(p1, p2 *pathState) *pathState {
	if p1.clusterLen < p2.clusterLen {
		return p1
	} else if p1.clusterLen > p2.clusterLen {
		return p2
	}
	return nil
}
