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

package rsvp

import (
	"fmt"
	"net/netip"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// Record route flags of the prefix and unnumbered subobjects (RFC 3209
// 4.4.1, RFC 4090 4.4).
const (
	RRO_FLAG_LOCAL_PROTECTION_AVAILABLE = 0x01
	RRO_FLAG_LOCAL_PROTECTION_IN_USE    = 0x02
	RRO_FLAG_BANDWIDTH_PROTECTION       = 0x04
	RRO_FLAG_NODE_PROTECTION            = 0x08
)

// Label subobject flags.
const (
	LABEL_FLAG_GLOBAL   = 0x01
	LABEL_FLAG_UPSTREAM = 0x80
)

// IPPrefixSubobject is the IPv4 (type 1) or IPv6 (type 2) prefix hop.
// Flags is reserved in explicit routes, carries protection flags in
// record routes and the attribute octet in exclude routes.
type IPPrefixSubobject struct {
	Prefix netip.Prefix
	Flags  uint8
}

func NewIPPrefixSubobject(p netip.Prefix) *IPPrefixSubobject {
	return &IPPrefixSubobject{Prefix: p}
}

func (s *IPPrefixSubobject) SubobjectType() uint8 {
	if s.Prefix.Addr().Is4() {
		return SUBOBJECT_IPV4_PREFIX
	}
	return SUBOBJECT_IPV6_PREFIX
}

func (s *IPPrefixSubobject) String() string {
	if s.Flags != 0 {
		return fmt.Sprintf("%s flags 0x%02x", s.Prefix, s.Flags)
	}
	return s.Prefix.String()
}

func prefixParser(addrBits int) func(r *wire.Reader, _ RouteKind) (SubobjectBody, error) {
	return func(r *wire.Reader, _ RouteKind) (SubobjectBody, error) {
		var addr netip.Addr
		var err error
		if addrBits == 32 {
			addr, err = r.Addr4()
		} else {
			addr, err = r.Addr16()
		}
		if err != nil {
			return nil, err
		}
		bits, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		if int(bits) > addrBits {
			return nil, fmt.Errorf("prefix subobject: invalid prefix length %d", bits)
		}
		flags, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		return &IPPrefixSubobject{Prefix: netip.PrefixFrom(addr, int(bits)), Flags: flags}, nil
	}
}

func serializePrefix(v SubobjectBody, w *wire.Writer, _ RouteKind) error {
	s := v.(*IPPrefixSubobject)
	if !s.Prefix.IsValid() {
		return fmt.Errorf("prefix subobject: invalid prefix")
	}
	w.PutAddr(s.Prefix.Addr())
	w.PutUint8(uint8(s.Prefix.Bits()))
	w.PutUint8(s.Flags)
	return nil
}

// UnnumberedSubobject is the RFC 3477 unnumbered interface hop.
type UnnumberedSubobject struct {
	Flags       uint8
	RouterID    netip.Addr
	InterfaceID uint32
}

func (s *UnnumberedSubobject) SubobjectType() uint8 { return SUBOBJECT_UNNUMBERED }

func (s *UnnumberedSubobject) String() string {
	return fmt.Sprintf("%s/%d", s.RouterID, s.InterfaceID)
}

func parseUnnumbered(r *wire.Reader, _ RouteKind) (SubobjectBody, error) {
	s := &UnnumberedSubobject{}
	var err error
	if s.Flags, err = r.Uint8(); err != nil {
		return nil, err
	}
	if err = r.Skip(1); err != nil {
		return nil, err
	}
	if s.RouterID, err = r.Addr4(); err != nil {
		return nil, err
	}
	if s.InterfaceID, err = r.Uint32(); err != nil {
		return nil, err
	}
	return s, nil
}

func serializeUnnumbered(v SubobjectBody, w *wire.Writer, _ RouteKind) error {
	s := v.(*UnnumberedSubobject)
	if !s.RouterID.Is4() {
		return fmt.Errorf("unnumbered subobject: router id %s is not IPv4", s.RouterID)
	}
	w.PutUint8(s.Flags)
	w.PutUint8(0)
	w.PutAddr(s.RouterID)
	w.PutUint32(s.InterfaceID)
	return nil
}

// ASNumberSubobject is the autonomous system hop of RFC 3209 4.3.3.4.
type ASNumberSubobject struct {
	AS uint16
}

func (s *ASNumberSubobject) SubobjectType() uint8 { return SUBOBJECT_AS_NUMBER }

func (s *ASNumberSubobject) String() string {
	return fmt.Sprintf("AS%d", s.AS)
}

func parseASNumber(r *wire.Reader, _ RouteKind) (SubobjectBody, error) {
	as, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	return &ASNumberSubobject{AS: as}, nil
}

func serializeASNumber(v SubobjectBody, w *wire.Writer, _ RouteKind) error {
	w.PutUint16(v.(*ASNumberSubobject).AS)
	return nil
}

// LabelSubobject wraps one label whose format is chosen by its C-Type.
type LabelSubobject struct {
	Flags uint8
	Label LabelInterface
}

func NewLabelSubobject(upstream bool, l LabelInterface) *LabelSubobject {
	s := &LabelSubobject{Label: l}
	if upstream {
		s.Flags |= LABEL_FLAG_UPSTREAM
	}
	return s
}

func (s *LabelSubobject) SubobjectType() uint8 { return SUBOBJECT_LABEL }

func (s *LabelSubobject) IsUpstream() bool { return s.Flags&LABEL_FLAG_UPSTREAM != 0 }

func (s *LabelSubobject) String() string {
	if s.IsUpstream() {
		return "label " + s.Label.String() + " upstream"
	}
	return "label " + s.Label.String()
}

func (c *ExtensionContext) parseLabelSubobject(r *wire.Reader, kind RouteKind) (SubobjectBody, error) {
	flags, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	ctype, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	value := r.Rest()
	s := &LabelSubobject{Flags: flags}
	if _, ok := c.labels.Parser(ctype); !ok {
		c.logger.Debug("unknown label c-type, kept as opaque",
			log.Fields{
				"Topic": "RSVP",
				"Key":   kind.String(),
				"Type":  ctype,
			})
		s.Label = &UnknownLabel{Type: ctype, Value: append([]byte(nil), value...)}
		return s, nil
	}
	if s.Label, err = c.labels.Parse(ctype, value, kind); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *ExtensionContext) serializeLabelSubobject(v SubobjectBody, w *wire.Writer, kind RouteKind) error {
	s := v.(*LabelSubobject)
	if s.Label == nil {
		return fmt.Errorf("label subobject without label")
	}
	w.PutUint8(s.Flags)
	w.PutUint8(s.Label.CType())
	if u, ok := s.Label.(*UnknownLabel); ok {
		w.PutBytes(u.Value)
		return nil
	}
	ok, err := c.labels.Serialize(s.Label, w, kind)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no serializer for label c-type %d", s.Label.CType())
	}
	return nil
}
