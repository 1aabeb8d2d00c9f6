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

// Package labeled implements RFC 8277 labeled unicast NLRI.
package labeled

import (
	"fmt"
	"net/netip"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type LabeledIPAddrPrefix struct {
	bgp.PrefixDefault
	Labels bgp.MPLSLabelStack
	Prefix netip.Prefix
}

func NewLabeledIPAddrPrefix(p netip.Prefix, labels bgp.MPLSLabelStack) *LabeledIPAddrPrefix {
	return &LabeledIPAddrPrefix{Labels: labels, Prefix: p.Masked()}
}

func (p *LabeledIPAddrPrefix) Family() bgp.Family {
	if p.Prefix.Addr().Is4() {
		return bgp.RF_IPv4_MPLS
	}
	return bgp.RF_IPv6_MPLS
}

func (p *LabeledIPAddrPrefix) String() string {
	return fmt.Sprintf("[%s]:%s", p.Labels.String(), p.Prefix)
}

func addrBits(afi uint16) int {
	if afi == bgp.AFI_IP6 {
		return 128
	}
	return 32
}

func parser(afi uint16) registry.ParserFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.AddrPrefixInterface, error) {
		l, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		labels, err := bgp.ReadMPLSLabelStack(r)
		if err != nil {
			return nil, err
		}
		bits := int(l) - 8*labels.Len()
		if bits < 0 {
			return nil, fmt.Errorf("labeled prefix length %d shorter than %d labels", l, len(labels.Labels))
		}
		p, err := r.PrefixBits(bits, addrBits(afi))
		if err != nil {
			return nil, err
		}
		return &LabeledIPAddrPrefix{Labels: *labels, Prefix: p}, nil
	}
}

func serialize(n bgp.AddrPrefixInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	p := n.(*LabeledIPAddrPrefix)
	if len(p.Labels.Labels) == 0 {
		return fmt.Errorf("labeled prefix %s without label", p.Prefix)
	}
	bits := 8*p.Labels.Len() + p.Prefix.Bits()
	if bits > 255 {
		return fmt.Errorf("labeled prefix %s too long", p)
	}
	w.PutUint8(uint8(bits))
	p.Labels.Put(w)
	w.PutPrefixBits(p.Prefix)
	return nil
}

type Activator struct{}

func (Activator) Start(c *bgp.ExtensionContext) registry.Registrations {
	regs := c.RegisterNLRI(bgp.RF_IPv4_MPLS, parser(bgp.AFI_IP), &LabeledIPAddrPrefix{}, serialize)
	return append(regs, c.RegisterNLRI(bgp.RF_IPv6_MPLS, parser(bgp.AFI_IP6), nil, nil)...)
}
