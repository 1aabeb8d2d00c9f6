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

package bgp

import (
	"net/netip"

	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type AddrPrefixInterface interface {
	Family() Family
	String() string
	PathIdentifier() uint32
	SetPathIdentifier(uint32)
}

type PrefixDefault struct {
	id uint32
}

func (p *PrefixDefault) PathIdentifier() uint32 {
	return p.id
}

func (p *PrefixDefault) SetPathIdentifier(id uint32) {
	p.id = id
}

// IPAddrPrefix is an IPv4 or IPv6 unicast prefix.
type IPAddrPrefix struct {
	PrefixDefault
	Prefix netip.Prefix
}

func NewIPAddrPrefix(p netip.Prefix) *IPAddrPrefix {
	return &IPAddrPrefix{Prefix: p.Masked()}
}

func (p *IPAddrPrefix) Family() Family {
	if p.Prefix.Addr().Is4() {
		return RF_IPv4_UC
	}
	return RF_IPv6_UC
}

func (p *IPAddrPrefix) String() string {
	return p.Prefix.String()
}

func addrBits(afi uint16) int {
	if afi == AFI_IP6 {
		return 128
	}
	return 32
}

func ipPrefixParser(afi uint16) func(r *wire.Reader, _ *MarshallingOption) (AddrPrefixInterface, error) {
	return func(r *wire.Reader, _ *MarshallingOption) (AddrPrefixInterface, error) {
		p, err := r.Prefix(addrBits(afi))
		if err != nil {
			return nil, err
		}
		return &IPAddrPrefix{Prefix: p}, nil
	}
}

func serializeIPAddrPrefix(n AddrPrefixInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutPrefix(n.(*IPAddrPrefix).Prefix)
	return nil
}
