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

// Package l3vpn implements RFC 4364 and RFC 4659 VPN-IPv4/IPv6 NLRI.
package l3vpn

import (
	"fmt"
	"net/netip"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type LabeledVPNIPAddrPrefix struct {
	bgp.PrefixDefault
	Labels bgp.MPLSLabelStack
	RD     bgp.RouteDistinguisherInterface
	Prefix netip.Prefix
}

func NewLabeledVPNIPAddrPrefix(p netip.Prefix, labels bgp.MPLSLabelStack, rd bgp.RouteDistinguisherInterface) *LabeledVPNIPAddrPrefix {
	return &LabeledVPNIPAddrPrefix{Labels: labels, RD: rd, Prefix: p.Masked()}
}

func (p *LabeledVPNIPAddrPrefix) Family() bgp.Family {
	if p.Prefix.Addr().Is4() {
		return bgp.RF_IPv4_VPN
	}
	return bgp.RF_IPv6_VPN
}

func (p *LabeledVPNIPAddrPrefix) String() string {
	rd := "0:0"
	if p.RD != nil {
		rd = p.RD.String()
	}
	return fmt.Sprintf("%s:%s", rd, p.Prefix)
}

func parser(addrBits int) registry.ParserFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.AddrPrefixInterface, error) {
		l, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		labels, err := bgp.ReadMPLSLabelStack(r)
		if err != nil {
			return nil, err
		}
		rd, err := bgp.ReadRouteDistinguisher(r)
		if err != nil {
			return nil, err
		}
		bits := int(l) - 8*labels.Len() - 64
		if bits < 0 {
			return nil, fmt.Errorf("vpn prefix length %d too short", l)
		}
		p, err := r.PrefixBits(bits, addrBits)
		if err != nil {
			return nil, err
		}
		return &LabeledVPNIPAddrPrefix{Labels: *labels, RD: rd, Prefix: p}, nil
	}
}

func serialize(n bgp.AddrPrefixInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	p := n.(*LabeledVPNIPAddrPrefix)
	if len(p.Labels.Labels) == 0 {
		return fmt.Errorf("vpn prefix %s without label", p)
	}
	bits := 8*p.Labels.Len() + 64 + p.Prefix.Bits()
	if bits > 255 {
		return fmt.Errorf("vpn prefix %s too long", p)
	}
	w.PutUint8(uint8(bits))
	p.Labels.Put(w)
	bgp.PutRouteDistinguisher(w, p.RD)
	w.PutPrefixBits(p.Prefix)
	return nil
}

type Activator struct{}

func (Activator) Start(c *bgp.ExtensionContext) registry.Registrations {
	regs := c.RegisterNLRI(bgp.RF_IPv4_VPN, parser(32), &LabeledVPNIPAddrPrefix{}, serialize)
	return append(regs, c.RegisterNLRI(bgp.RF_IPv6_VPN, parser(128), nil, nil)...)
}
