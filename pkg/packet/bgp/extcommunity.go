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
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// RFC7153 5.1. Registries for the "Type" Field
type ExtendedCommunityAttrType uint8

const (
	EC_TYPE_TRANSITIVE_TWO_OCTET_AS_SPECIFIC      ExtendedCommunityAttrType = 0x00
	EC_TYPE_TRANSITIVE_IP4_SPECIFIC               ExtendedCommunityAttrType = 0x01
	EC_TYPE_TRANSITIVE_FOUR_OCTET_AS_SPECIFIC     ExtendedCommunityAttrType = 0x02
	EC_TYPE_TRANSITIVE_OPAQUE                     ExtendedCommunityAttrType = 0x03
	EC_TYPE_EVPN                                  ExtendedCommunityAttrType = 0x06
	EC_TYPE_FLOWSPEC_REDIRECT_MIRROR              ExtendedCommunityAttrType = 0x08
	EC_TYPE_NON_TRANSITIVE_TWO_OCTET_AS_SPECIFIC  ExtendedCommunityAttrType = 0x40
	EC_TYPE_NON_TRANSITIVE_IP4_SPECIFIC           ExtendedCommunityAttrType = 0x41
	EC_TYPE_NON_TRANSITIVE_FOUR_OCTET_AS_SPECIFIC ExtendedCommunityAttrType = 0x42
	EC_TYPE_NON_TRANSITIVE_OPAQUE                 ExtendedCommunityAttrType = 0x43
	EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL       ExtendedCommunityAttrType = 0x80
	EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL2      ExtendedCommunityAttrType = 0x81
	EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL3      ExtendedCommunityAttrType = 0x82
)

// RFC7153 5.2. Registraction for the "Sub-Type" Field
type ExtendedCommunityAttrSubType uint8

const (
	EC_SUBTYPE_ORIGIN_VALIDATION ExtendedCommunityAttrSubType = 0x00
	EC_SUBTYPE_ROUTE_TARGET      ExtendedCommunityAttrSubType = 0x02
	EC_SUBTYPE_ROUTE_ORIGIN      ExtendedCommunityAttrSubType = 0x03
	EC_SUBTYPE_LINK_BANDWIDTH    ExtendedCommunityAttrSubType = 0x04
	EC_SUBTYPE_COLOR             ExtendedCommunityAttrSubType = 0x0B
	EC_SUBTYPE_ENCAPSULATION     ExtendedCommunityAttrSubType = 0x0C

	EC_SUBTYPE_FLOWSPEC_TRAFFIC_RATE   ExtendedCommunityAttrSubType = 0x06
	EC_SUBTYPE_FLOWSPEC_TRAFFIC_ACTION ExtendedCommunityAttrSubType = 0x07
	EC_SUBTYPE_FLOWSPEC_REDIRECT       ExtendedCommunityAttrSubType = 0x08
	EC_SUBTYPE_FLOWSPEC_TRAFFIC_REMARK ExtendedCommunityAttrSubType = 0x09

	EC_SUBTYPE_MAC_MOBILITY   ExtendedCommunityAttrSubType = 0x00
	EC_SUBTYPE_ESI_MPLS_LABEL ExtendedCommunityAttrSubType = 0x01
	EC_SUBTYPE_ES_IMPORT      ExtendedCommunityAttrSubType = 0x02
)

// ExtendedCommunityKey is type<<8 | subtype, the registry key.
type ExtendedCommunityKey uint16

func NewExtendedCommunityKey(t ExtendedCommunityAttrType, st ExtendedCommunityAttrSubType) ExtendedCommunityKey {
	return ExtendedCommunityKey(uint16(t)<<8 | uint16(st))
}

func (k ExtendedCommunityKey) String() string {
	return fmt.Sprintf("0x%02x/0x%02x", uint8(k>>8), uint8(k))
}

type ExtendedCommunityInterface interface {
	GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType)
	String() string
}

type TwoOctetAsSpecificExtended struct {
	SubType      ExtendedCommunityAttrSubType
	AS           uint16
	LocalAdmin   uint32
	IsTransitive bool
}

func (e *TwoOctetAsSpecificExtended) GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType) {
	if e.IsTransitive {
		return EC_TYPE_TRANSITIVE_TWO_OCTET_AS_SPECIFIC, e.SubType
	}
	return EC_TYPE_NON_TRANSITIVE_TWO_OCTET_AS_SPECIFIC, e.SubType
}

func (e *TwoOctetAsSpecificExtended) String() string {
	return fmt.Sprintf("%s:%d:%d", subTypeName(e.SubType), e.AS, e.LocalAdmin)
}

func NewTwoOctetAsSpecificExtended(subtype ExtendedCommunityAttrSubType, as uint16, localAdmin uint32, isTransitive bool) *TwoOctetAsSpecificExtended {
	return &TwoOctetAsSpecificExtended{SubType: subtype, AS: as, LocalAdmin: localAdmin, IsTransitive: isTransitive}
}

type IPv4AddressSpecificExtended struct {
	SubType      ExtendedCommunityAttrSubType
	IPv4         netip.Addr
	LocalAdmin   uint16
	IsTransitive bool
}

func (e *IPv4AddressSpecificExtended) GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType) {
	if e.IsTransitive {
		return EC_TYPE_TRANSITIVE_IP4_SPECIFIC, e.SubType
	}
	return EC_TYPE_NON_TRANSITIVE_IP4_SPECIFIC, e.SubType
}

func (e *IPv4AddressSpecificExtended) String() string {
	return fmt.Sprintf("%s:%s:%d", subTypeName(e.SubType), e.IPv4, e.LocalAdmin)
}

func NewIPv4AddressSpecificExtended(subtype ExtendedCommunityAttrSubType, ip netip.Addr, localAdmin uint16, isTransitive bool) *IPv4AddressSpecificExtended {
	return &IPv4AddressSpecificExtended{SubType: subtype, IPv4: ip, LocalAdmin: localAdmin, IsTransitive: isTransitive}
}

type FourOctetAsSpecificExtended struct {
	SubType      ExtendedCommunityAttrSubType
	AS           uint32
	LocalAdmin   uint16
	IsTransitive bool
}

func (e *FourOctetAsSpecificExtended) GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType) {
	if e.IsTransitive {
		return EC_TYPE_TRANSITIVE_FOUR_OCTET_AS_SPECIFIC, e.SubType
	}
	return EC_TYPE_NON_TRANSITIVE_FOUR_OCTET_AS_SPECIFIC, e.SubType
}

func (e *FourOctetAsSpecificExtended) String() string {
	return fmt.Sprintf("%s:%d:%d", subTypeName(e.SubType), e.AS, e.LocalAdmin)
}

func NewFourOctetAsSpecificExtended(subtype ExtendedCommunityAttrSubType, as uint32, localAdmin uint16, isTransitive bool) *FourOctetAsSpecificExtended {
	return &FourOctetAsSpecificExtended{SubType: subtype, AS: as, LocalAdmin: localAdmin, IsTransitive: isTransitive}
}

type OpaqueExtended struct {
	SubType      ExtendedCommunityAttrSubType
	Value        [6]byte
	IsTransitive bool
}

func (e *OpaqueExtended) GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType) {
	if e.IsTransitive {
		return EC_TYPE_TRANSITIVE_OPAQUE, e.SubType
	}
	return EC_TYPE_NON_TRANSITIVE_OPAQUE, e.SubType
}

func (e *OpaqueExtended) String() string {
	return fmt.Sprintf("opaque:%d:%x", e.SubType, e.Value)
}

// LinkBandwidthExtended is draft-ietf-idr-link-bandwidth, bytes per second.
type LinkBandwidthExtended struct {
	AS        uint16
	Bandwidth float32
}

func (e *LinkBandwidthExtended) GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType) {
	return EC_TYPE_NON_TRANSITIVE_TWO_OCTET_AS_SPECIFIC, EC_SUBTYPE_LINK_BANDWIDTH
}

func (e *LinkBandwidthExtended) String() string {
	return fmt.Sprintf("link-bandwidth:%d:%g", e.AS, e.Bandwidth)
}

type UnknownExtended struct {
	Type    ExtendedCommunityAttrType
	SubType ExtendedCommunityAttrSubType
	Value   [6]byte
}

func (e *UnknownExtended) GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType) {
	return e.Type, e.SubType
}

func (e *UnknownExtended) String() string {
	return fmt.Sprintf("unknown:%d:%d:%x", e.Type, e.SubType, e.Value)
}

func subTypeName(st ExtendedCommunityAttrSubType) string {
	switch st {
	case EC_SUBTYPE_ROUTE_TARGET:
		return "rt"
	case EC_SUBTYPE_ROUTE_ORIGIN:
		return "soo"
	}
	return fmt.Sprintf("%d", st)
}

// ParseRouteTarget accepts "65000:100", "10.0.0.1:100" and
// "4200000000:100".
func ParseRouteTarget(s string) (ExtendedCommunityInterface, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return nil, fmt.Errorf("invalid route target %q", s)
	}
	admin, assigned := s[:i], s[i+1:]
	if addr, err := netip.ParseAddr(admin); err == nil && addr.Is4() {
		n, err := strconv.ParseUint(assigned, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid route target %q: %w", s, err)
		}
		return NewIPv4AddressSpecificExtended(EC_SUBTYPE_ROUTE_TARGET, addr, uint16(n), true), nil
	}
	as, err := strconv.ParseUint(admin, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid route target %q: %w", s, err)
	}
	if as <= 0xffff {
		n, err := strconv.ParseUint(assigned, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid route target %q: %w", s, err)
		}
		return NewTwoOctetAsSpecificExtended(EC_SUBTYPE_ROUTE_TARGET, uint16(as), uint32(n), true), nil
	}
	n, err := strconv.ParseUint(assigned, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid route target %q: %w", s, err)
	}
	return NewFourOctetAsSpecificExtended(EC_SUBTYPE_ROUTE_TARGET, uint32(as), uint16(n), true), nil
}

type extCommunityParser = registry.ParserFunc[*MarshallingOption, ExtendedCommunityInterface]

func twoOctetAsParser(subtype ExtendedCommunityAttrSubType, transitive bool) extCommunityParser {
	return func(r *wire.Reader, _ *MarshallingOption) (ExtendedCommunityInterface, error) {
		as, _ := r.Uint16()
		admin, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		return NewTwoOctetAsSpecificExtended(subtype, as, admin, transitive), nil
	}
}

func serializeTwoOctetAs(v ExtendedCommunityInterface, w *wire.Writer, _ *MarshallingOption) error {
	e := v.(*TwoOctetAsSpecificExtended)
	w.PutUint16(e.AS)
	w.PutUint32(e.LocalAdmin)
	return nil
}

func ipv4SpecificParser(subtype ExtendedCommunityAttrSubType, transitive bool) extCommunityParser {
	return func(r *wire.Reader, _ *MarshallingOption) (ExtendedCommunityInterface, error) {
		ip, _ := r.Addr4()
		admin, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		return NewIPv4AddressSpecificExtended(subtype, ip, admin, transitive), nil
	}
}

func serializeIPv4Specific(v ExtendedCommunityInterface, w *wire.Writer, _ *MarshallingOption) error {
	e := v.(*IPv4AddressSpecificExtended)
	w.PutAddr(e.IPv4)
	w.PutUint16(e.LocalAdmin)
	return nil
}

func fourOctetAsParser(subtype ExtendedCommunityAttrSubType, transitive bool) extCommunityParser {
	return func(r *wire.Reader, _ *MarshallingOption) (ExtendedCommunityInterface, error) {
		as, _ := r.Uint32()
		admin, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		return NewFourOctetAsSpecificExtended(subtype, as, admin, transitive), nil
	}
}

func serializeFourOctetAs(v ExtendedCommunityInterface, w *wire.Writer, _ *MarshallingOption) error {
	e := v.(*FourOctetAsSpecificExtended)
	w.PutUint32(e.AS)
	w.PutUint16(e.LocalAdmin)
	return nil
}

func opaqueParser(subtype ExtendedCommunityAttrSubType, transitive bool) extCommunityParser {
	return func(r *wire.Reader, _ *MarshallingOption) (ExtendedCommunityInterface, error) {
		b, err := r.Bytes(6)
		if err != nil {
			return nil, err
		}
		return &OpaqueExtended{SubType: subtype, Value: [6]byte(b), IsTransitive: transitive}, nil
	}
}

func serializeOpaque(v ExtendedCommunityInterface, w *wire.Writer, _ *MarshallingOption) error {
	e := v.(*OpaqueExtended)
	w.PutBytes(e.Value[:])
	return nil
}

func parseLinkBandwidth(r *wire.Reader, _ *MarshallingOption) (ExtendedCommunityInterface, error) {
	as, _ := r.Uint16()
	bw, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &LinkBandwidthExtended{AS: as, Bandwidth: math.Float32frombits(bw)}, nil
}

func serializeLinkBandwidth(v ExtendedCommunityInterface, w *wire.Writer, _ *MarshallingOption) error {
	e := v.(*LinkBandwidthExtended)
	w.PutUint16(e.AS)
	w.PutUint32(math.Float32bits(e.Bandwidth))
	return nil
}

func serializeUnknownExtended(v ExtendedCommunityInterface, w *wire.Writer, _ *MarshallingOption) error {
	e := v.(*UnknownExtended)
	w.PutBytes(e.Value[:])
	return nil
}

// ReadExtendedCommunity reads one 8 byte extended community. Unknown
// type and subtype pairs are kept as UnknownExtended.
func (c *ExtensionContext) ReadExtendedCommunity(r *wire.Reader, opts *MarshallingOption) (ExtendedCommunityInterface, error) {
	typ, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	sub, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	value, err := r.Bytes(6)
	if err != nil {
		return nil, err
	}
	key := NewExtendedCommunityKey(ExtendedCommunityAttrType(typ), ExtendedCommunityAttrSubType(sub))
	if _, ok := c.extCommunities.Parser(key); !ok {
		c.logger.Debug("unknown extended community, kept as opaque", log.Fields{
			"Topic": "Registry",
			"Key":   key.String(),
		})
		return &UnknownExtended{Type: ExtendedCommunityAttrType(typ), SubType: ExtendedCommunityAttrSubType(sub), Value: [6]byte(value)}, nil
	}
	return c.extCommunities.Parse(key, value, opts)
}

// PutExtendedCommunity writes nothing for a community without a
// serializer.
func (c *ExtensionContext) PutExtendedCommunity(e ExtendedCommunityInterface, w *wire.Writer, opts *MarshallingOption) error {
	t, st := e.GetTypes()
	if !c.extCommunities.Serializable(e) {
		c.logger.Debug("extended community without serializer, skipped", log.Fields{
			"Topic": "Registry",
			"Key":   NewExtendedCommunityKey(t, st).String(),
		})
		return nil
	}
	w.PutUint8(uint8(t))
	w.PutUint8(uint8(st))
	_, err := c.extCommunities.Serialize(e, w, opts)
	return err
}

// RegisterExtendedCommunity adds a parser under (t, st) and, when sample
// is not nil, a serializer for sample's type.
func (c *ExtensionContext) RegisterExtendedCommunity(t ExtendedCommunityAttrType, st ExtendedCommunityAttrSubType, p extCommunityParser, sample ExtendedCommunityInterface, s registry.SerializerFunc[*MarshallingOption, ExtendedCommunityInterface]) registry.Registrations {
	regs := registry.Registrations{c.extCommunities.RegisterParser(NewExtendedCommunityKey(t, st), p)}
	if sample != nil {
		regs = append(regs, c.extCommunities.RegisterSerializer(sample, s))
	}
	return regs
}
