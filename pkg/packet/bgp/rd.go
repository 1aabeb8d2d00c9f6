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
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/osrg/bgpcep/pkg/packet/wire"
)

const (
	BGP_RD_TWO_OCTET_AS  = 0
	BGP_RD_IPV4_ADDRESS  = 1
	BGP_RD_FOUR_OCTET_AS = 2
)

// RouteDistinguisherInterface is one of the three RFC 4364 encodings.
type RouteDistinguisherInterface interface {
	String() string
	rdType() uint16
	putValue(w *wire.Writer)
}

type RouteDistinguisherTwoOctetAS struct {
	Admin    uint16
	Assigned uint32
}

func (rd *RouteDistinguisherTwoOctetAS) rdType() uint16 { return BGP_RD_TWO_OCTET_AS }

func (rd *RouteDistinguisherTwoOctetAS) putValue(w *wire.Writer) {
	w.PutUint16(rd.Admin)
	w.PutUint32(rd.Assigned)
}

func (rd *RouteDistinguisherTwoOctetAS) String() string {
	return fmt.Sprintf("%d:%d", rd.Admin, rd.Assigned)
}

type RouteDistinguisherIPAddressAS struct {
	Admin    netip.Addr
	Assigned uint16
}

func (rd *RouteDistinguisherIPAddressAS) rdType() uint16 { return BGP_RD_IPV4_ADDRESS }

func (rd *RouteDistinguisherIPAddressAS) putValue(w *wire.Writer) {
	w.PutAddr(rd.Admin)
	w.PutUint16(rd.Assigned)
}

func (rd *RouteDistinguisherIPAddressAS) String() string {
	return fmt.Sprintf("%s:%d", rd.Admin, rd.Assigned)
}

type RouteDistinguisherFourOctetAS struct {
	Admin    uint32
	Assigned uint16
}

func (rd *RouteDistinguisherFourOctetAS) rdType() uint16 { return BGP_RD_FOUR_OCTET_AS }

func (rd *RouteDistinguisherFourOctetAS) putValue(w *wire.Writer) {
	w.PutUint32(rd.Admin)
	w.PutUint16(rd.Assigned)
}

func (rd *RouteDistinguisherFourOctetAS) String() string {
	return fmt.Sprintf("%d.%d:%d", rd.Admin>>16, rd.Admin&0xffff, rd.Assigned)
}

// RouteDistinguisherUnknown keeps RD types this package does not know.
type RouteDistinguisherUnknown struct {
	Type  uint16
	Value [6]byte
}

func (rd *RouteDistinguisherUnknown) rdType() uint16 { return rd.Type }

func (rd *RouteDistinguisherUnknown) putValue(w *wire.Writer) {
	w.PutBytes(rd.Value[:])
}

func (rd *RouteDistinguisherUnknown) String() string {
	return fmt.Sprintf("%d:%x", rd.Type, rd.Value)
}

func ReadRouteDistinguisher(r *wire.Reader) (RouteDistinguisherInterface, error) {
	typ, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	value, err := r.Bytes(6)
	if err != nil {
		return nil, err
	}
	v := wire.NewReader(value)
	switch typ {
	case BGP_RD_TWO_OCTET_AS:
		admin, _ := v.Uint16()
		assigned, _ := v.Uint32()
		return &RouteDistinguisherTwoOctetAS{Admin: admin, Assigned: assigned}, nil
	case BGP_RD_IPV4_ADDRESS:
		admin, _ := v.Addr4()
		assigned, _ := v.Uint16()
		return &RouteDistinguisherIPAddressAS{Admin: admin, Assigned: assigned}, nil
	case BGP_RD_FOUR_OCTET_AS:
		admin, _ := v.Uint32()
		assigned, _ := v.Uint16()
		return &RouteDistinguisherFourOctetAS{Admin: admin, Assigned: assigned}, nil
	}
	return &RouteDistinguisherUnknown{Type: typ, Value: [6]byte(value)}, nil
}

func PutRouteDistinguisher(w *wire.Writer, rd RouteDistinguisherInterface) {
	if rd == nil {
		w.PutZeros(8)
		return
	}
	w.PutUint16(rd.rdType())
	rd.putValue(w)
}

// ParseRouteDistinguisher accepts "65000:100", "10.0.0.1:100" and
// "4200000000:100".
func ParseRouteDistinguisher(s string) (RouteDistinguisherInterface, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return nil, fmt.Errorf("invalid route distinguisher %q", s)
	}
	admin, assigned := s[:i], s[i+1:]
	if addr, err := netip.ParseAddr(admin); err == nil && addr.Is4() {
		n, err := strconv.ParseUint(assigned, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid route distinguisher %q: %w", s, err)
		}
		return &RouteDistinguisherIPAddressAS{Admin: addr, Assigned: uint16(n)}, nil
	}
	as, err := strconv.ParseUint(admin, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid route distinguisher %q: %w", s, err)
	}
	if as <= 0xffff {
		n, err := strconv.ParseUint(assigned, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid route distinguisher %q: %w", s, err)
		}
		return &RouteDistinguisherTwoOctetAS{Admin: uint16(as), Assigned: uint32(n)}, nil
	}
	n, err := strconv.ParseUint(assigned, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid route distinguisher %q: %w", s, err)
	}
	return &RouteDistinguisherFourOctetAS{Admin: uint32(as), Assigned: uint16(n)}, nil
}
