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
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

const (
	DEFAULT_LOCAL_PREF = 100
)

// PeerInfo describes the session a route was learned from. A nil
// PeerInfo stands for a locally originated route.
type PeerInfo struct {
	AS      uint32
	LocalAS uint32
	ID      netip.Addr
	LocalID netip.Addr
	Address netip.Addr
}

func (p *PeerInfo) Equal(o *PeerInfo) bool {
	if p == nil || o == nil {
		return p == o
	}
	return *p == *o
}

func (p *PeerInfo) IsIBGP() bool {
	return p != nil && p.AS == p.LocalAS
}

func (p *PeerInfo) String() string {
	if p == nil {
		return "local"
	}
	return fmt.Sprintf("{AS: %d, ID: %s, Address: %s}", p.AS, p.ID, p.Address)
}

// Attributes is what a simple entry stores per contributing path.
type Attributes struct {
	Source    *PeerInfo
	PathAttrs []bgp.PathAttributeInterface
	Nexthop   netip.Addr
	// IGPMetric is the cost to Nexthop, resolved outside the RIB.
	IGPMetric uint32
	Timestamp time.Time
	// Hash of the encoded attributes, 0 when unknown.
	Hash uint64
}

func (a *Attributes) PathAttr(typ bgp.BGPAttrType) bgp.PathAttributeInterface {
	for _, p := range a.PathAttrs {
		if p.GetType() == typ {
			return p
		}
	}
	return nil
}

// Equal reports whether a and o would be advertised identically.
func (a *Attributes) Equal(o *Attributes) bool {
	if a == o {
		return true
	}
	if a == nil || o == nil {
		return false
	}
	return a.Hash != 0 && a.Hash == o.Hash && a.Nexthop == o.Nexthop && a.Source.Equal(o.Source)
}

func (a *Attributes) String() string {
	s := make([]string, 0, len(a.PathAttrs))
	for _, p := range a.PathAttrs {
		s = append(s, p.String())
	}
	return fmt.Sprintf("{Source: %s, Nexthop: %s, Attrs: [%s]}", a.Source, a.Nexthop, strings.Join(s, ", "))
}

func (a *Attributes) attributes() *Attributes { return a }

func (a *Attributes) nlri(dest bgp.AddrPrefixInterface) bgp.AddrPrefixInterface { return dest }

// Route is what a complex entry stores per contributing path: families
// whose NLRI carries more than the destination key (labels, ESI) keep
// the whole route.
type Route struct {
	NLRI       bgp.AddrPrefixInterface
	Attributes *Attributes
}

func NewRoute(nlri bgp.AddrPrefixInterface, attrs *Attributes) *Route {
	return &Route{NLRI: nlri, Attributes: attrs}
}

func (r *Route) attributes() *Attributes { return r.Attributes }

func (r *Route) nlri(bgp.AddrPrefixInterface) bgp.AddrPrefixInterface { return r.NLRI }

func (r *Route) String() string {
	return fmt.Sprintf("{NLRI: %s, %s}", r.NLRI, r.Attributes)
}

// Path is one selected best path.
type Path struct {
	Key RouteKey
	// LocalID is the path id advertised to add-path peers.
	LocalID    uint32
	NLRI       bgp.AddrPrefixInterface
	Attributes *Attributes
}

func (p *Path) GetSource() *PeerInfo {
	return p.Attributes.Source
}

func (p *Path) GetNexthop() netip.Addr {
	return p.Attributes.Nexthop
}

// equal ignores LocalID so a path keeps its identity across selections.
func (p *Path) equal(o *Path) bool {
	return p.Key == o.Key && p.Attributes.Equal(o.Attributes)
}

func (p *Path) String() string {
	return fmt.Sprintf("{Key: %s, LocalID: %d, NLRI: %s, Attributes: %s}", p.Key, p.LocalID, p.NLRI, p.Attributes)
}

// Bitmap allocates local path ids. Bit 0 is reserved for "no id".
type Bitmap struct {
	bitmap []uint64
}

func NewBitmap(size int) *Bitmap {
	b := &Bitmap{bitmap: make([]uint64, (size+64-1)/64+1)}
	b.Flag(0)
	return b
}

func (b *Bitmap) Flag(i uint) {
	b.bitmap[i/64] |= 1 << (i % 64)
}

func (b *Bitmap) Unflag(i uint) {
	if int(i/64) < len(b.bitmap) {
		b.bitmap[i/64] &^= 1 << (i % 64)
	}
}

func (b *Bitmap) GetFlag(i uint) bool {
	return int(i/64) < len(b.bitmap) && b.bitmap[i/64]&(1<<(i%64)) > 0
}

// FindAndSetZeroBit returns the lowest free id, growing the bitmap when
// every id is taken.
func (b *Bitmap) FindAndSetZeroBit() uint {
	for i := range b.bitmap {
		if b.bitmap[i] == math.MaxUint64 {
			continue
		}
		v := ^b.bitmap[i]
		for j := 0; j < 64; j++ {
			if v&(1<<uint(j)) > 0 {
				r := uint(i*64 + j)
				b.Flag(r)
				return r
			}
		}
	}
	b.bitmap = append(b.bitmap, 1)
	return uint((len(b.bitmap) - 1) * 64)
}
