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

// Package rtc implements RFC 4684 route target membership NLRI.
package rtc

import (
	"fmt"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// RouteTargetMembershipNLRI with Length 0 is the default route. At 96
// bits RouteTarget is decoded; shorter lengths keep the masked bytes in
// Partial.
type RouteTargetMembershipNLRI struct {
	bgp.PrefixDefault
	Length      uint8
	AS          uint32
	RouteTarget bgp.ExtendedCommunityInterface
	Partial     [8]byte
}

func NewRouteTargetMembershipNLRI(as uint32, rt bgp.ExtendedCommunityInterface) *RouteTargetMembershipNLRI {
	if rt == nil {
		return &RouteTargetMembershipNLRI{Length: 32, AS: as}
	}
	return &RouteTargetMembershipNLRI{Length: 96, AS: as, RouteTarget: rt}
}

func NewDefaultRouteTargetMembershipNLRI() *RouteTargetMembershipNLRI {
	return &RouteTargetMembershipNLRI{}
}

func (n *RouteTargetMembershipNLRI) Family() bgp.Family { return bgp.RF_RTC_UC }

func (n *RouteTargetMembershipNLRI) String() string {
	switch {
	case n.Length == 0:
		return "default"
	case n.RouteTarget != nil:
		return fmt.Sprintf("%d:%s", n.AS, n.RouteTarget)
	case n.Length == 32:
		return fmt.Sprintf("%d:*", n.AS)
	}
	return fmt.Sprintf("%d:%x/%d", n.AS, n.Partial, n.Length)
}

func parser(c *bgp.ExtensionContext) registry.ParserFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(r *wire.Reader, opts *bgp.MarshallingOption) (bgp.AddrPrefixInterface, error) {
		l, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		if l == 0 {
			return NewDefaultRouteTargetMembershipNLRI(), nil
		}
		if l < 32 || l > 96 {
			return nil, fmt.Errorf("invalid route target membership length %d", l)
		}
		n := &RouteTargetMembershipNLRI{Length: l}
		n.AS, err = r.Uint32()
		if err != nil {
			return nil, err
		}
		if l == 96 {
			n.RouteTarget, err = c.ReadExtendedCommunity(r, opts)
			return n, err
		}
		b, err := r.Bytes(wire.PrefixByteLen(int(l) - 32))
		if err != nil {
			return nil, err
		}
		copy(n.Partial[:], b)
		if rem := (int(l) - 32) % 8; rem != 0 {
			n.Partial[len(b)-1] &= 0xff << (8 - rem)
		}
		return n, nil
	}
}

func serializer(c *bgp.ExtensionContext) registry.SerializerFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(v bgp.AddrPrefixInterface, w *wire.Writer, opts *bgp.MarshallingOption) error {
		n := v.(*RouteTargetMembershipNLRI)
		w.PutUint8(n.Length)
		if n.Length == 0 {
			return nil
		}
		w.PutUint32(n.AS)
		if n.RouteTarget != nil {
			if n.Length != 96 {
				return fmt.Errorf("route target with length %d", n.Length)
			}
			if !c.ExtendedCommunities().Serializable(n.RouteTarget) {
				return fmt.Errorf("route target %s cannot be encoded", n.RouteTarget)
			}
			return c.PutExtendedCommunity(n.RouteTarget, w, opts)
		}
		w.PutBytes(n.Partial[:wire.PrefixByteLen(int(n.Length)-32)])
		return nil
	}
}

type Activator struct{}

func (Activator) Start(c *bgp.ExtensionContext) registry.Registrations {
	return c.RegisterNLRI(bgp.RF_RTC_UC, parser(c), &RouteTargetMembershipNLRI{}, serializer(c))
}
