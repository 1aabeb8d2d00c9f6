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

package pcep

import (
	"fmt"
	"net/netip"

	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/rsvp"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// SUBOBJECT_SR is the SR-ERO and SR-RRO subobject type of RFC 8664.
const SUBOBJECT_SR = 36

// NAI types.
const (
	SR_NAI_ABSENT = iota
	SR_NAI_IPV4_NODE
	SR_NAI_IPV6_NODE
	SR_NAI_IPV4_ADJACENCY
	SR_NAI_IPV6_ADJACENCY
	SR_NAI_UNNUMBERED_ADJACENCY
)

const (
	srFlagM = 0x001
	srFlagC = 0x002
	srFlagS = 0x004
	srFlagF = 0x008
)

// SR-PCE-CAPABILITY flags.
const (
	SR_CAPABILITY_FLAG_X = 0x01
	SR_CAPABILITY_FLAG_N = 0x02
)

// SRSubobject is one segment of a segment routed path. NoSID and NoNAI
// map to the S and F flags; at least one of SID and NAI is present.
type SRSubobject struct {
	NAIType uint8
	// MPLS is the M flag: SID carries an MPLS label in its top 20 bits.
	MPLS bool
	// C flag: the TC, S and TTL fields of the label are meaningful.
	C     bool
	NoSID bool
	SID   uint32
	NoNAI bool

	// Local and Remote hold node or adjacency addresses.
	Local, Remote netip.Addr
	// Unnumbered adjacency identifiers.
	LocalNodeID, LocalInterfaceID, RemoteNodeID, RemoteInterfaceID uint32
}

func (s *SRSubobject) SubobjectType() uint8 { return SUBOBJECT_SR }

// Label returns the MPLS label carried in SID.
func (s *SRSubobject) Label() uint32 { return s.SID >> 12 }

func (s *SRSubobject) String() string {
	sid := "-"
	if !s.NoSID {
		if s.MPLS {
			sid = fmt.Sprintf("label %d", s.Label())
		} else {
			sid = fmt.Sprintf("sid %d", s.SID)
		}
	}
	nai := "-"
	if !s.NoNAI {
		switch s.NAIType {
		case SR_NAI_IPV4_NODE, SR_NAI_IPV6_NODE:
			nai = s.Local.String()
		case SR_NAI_IPV4_ADJACENCY, SR_NAI_IPV6_ADJACENCY:
			nai = s.Local.String() + "->" + s.Remote.String()
		case SR_NAI_UNNUMBERED_ADJACENCY:
			nai = fmt.Sprintf("%d/%d->%d/%d", s.LocalNodeID, s.LocalInterfaceID, s.RemoteNodeID, s.RemoteInterfaceID)
		}
	}
	return fmt.Sprintf("sr(%s nai %s)", sid, nai)
}

func parseSRSubobject(r *wire.Reader, _ rsvp.RouteKind) (rsvp.SubobjectBody, error) {
	v, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	s := &SRSubobject{
		NAIType: uint8(v >> 12),
		MPLS:    v&srFlagM != 0,
		C:       v&srFlagC != 0,
		NoSID:   v&srFlagS != 0,
		NoNAI:   v&srFlagF != 0,
	}
	if s.NoSID && s.NoNAI {
		return nil, fmt.Errorf("sr subobject: both SID and NAI absent")
	}
	if !s.NoSID {
		if s.SID, err = r.Uint32(); err != nil {
			return nil, err
		}
	}
	if s.NoNAI {
		return s, nil
	}
	switch s.NAIType {
	case SR_NAI_IPV4_NODE:
		s.Local, err = r.Addr4()
	case SR_NAI_IPV6_NODE:
		s.Local, err = r.Addr16()
	case SR_NAI_IPV4_ADJACENCY:
		if s.Local, err = r.Addr4(); err == nil {
			s.Remote, err = r.Addr4()
		}
	case SR_NAI_IPV6_ADJACENCY:
		if s.Local, err = r.Addr16(); err == nil {
			s.Remote, err = r.Addr16()
		}
	case SR_NAI_UNNUMBERED_ADJACENCY:
		for _, p := range []*uint32{&s.LocalNodeID, &s.LocalInterfaceID, &s.RemoteNodeID, &s.RemoteInterfaceID} {
			if *p, err = r.Uint32(); err != nil {
				break
			}
		}
	default:
		return nil, fmt.Errorf("sr subobject: unsupported nai type %d", s.NAIType)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func serializeSRSubobject(v rsvp.SubobjectBody, w *wire.Writer, _ rsvp.RouteKind) error {
	s := v.(*SRSubobject)
	if s.NoSID && s.NoNAI {
		return fmt.Errorf("sr subobject: both SID and NAI absent")
	}
	x := uint16(s.NAIType&0x0f) << 12
	for _, f := range []struct {
		set bool
		bit uint16
	}{{s.MPLS, srFlagM}, {s.C, srFlagC}, {s.NoSID, srFlagS}, {s.NoNAI, srFlagF}} {
		if f.set {
			x |= f.bit
		}
	}
	w.PutUint16(x)
	if !s.NoSID {
		w.PutUint32(s.SID)
	}
	if s.NoNAI {
		return nil
	}
	switch s.NAIType {
	case SR_NAI_IPV4_NODE, SR_NAI_IPV6_NODE:
		if s.Local.Is4() != (s.NAIType == SR_NAI_IPV4_NODE) {
			return fmt.Errorf("sr subobject: nai %s does not match type %d", s.Local, s.NAIType)
		}
		w.PutAddr(s.Local)
	case SR_NAI_IPV4_ADJACENCY, SR_NAI_IPV6_ADJACENCY:
		is4 := s.NAIType == SR_NAI_IPV4_ADJACENCY
		if s.Local.Is4() != is4 || s.Remote.Is4() != is4 {
			return fmt.Errorf("sr subobject: nai %s->%s does not match type %d", s.Local, s.Remote, s.NAIType)
		}
		w.PutAddr(s.Local)
		w.PutAddr(s.Remote)
	case SR_NAI_UNNUMBERED_ADJACENCY:
		w.PutUint32(s.LocalNodeID)
		w.PutUint32(s.LocalInterfaceID)
		w.PutUint32(s.RemoteNodeID)
		w.PutUint32(s.RemoteInterfaceID)
	default:
		return fmt.Errorf("sr subobject: unsupported nai type %d", s.NAIType)
	}
	return nil
}

// SRCapabilityTLV advertises SR support and the maximum SID depth in the
// OPEN object.
type SRCapabilityTLV struct {
	Flags uint8
	MSD   uint8
}

func (t *SRCapabilityTLV) TLVType() uint16 { return PCEP_TLV_SR_PCE_CAPABILITY }

func (t *SRCapabilityTLV) String() string {
	return fmt.Sprintf("sr-capability(msd %d flags 0x%02x)", t.MSD, t.Flags)
}

func parseSRCapability(r *wire.Reader, _ *ExtensionContext) (TLVInterface, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	return &SRCapabilityTLV{Flags: b[2], MSD: b[3]}, nil
}

func serializeSRCapability(v TLVInterface, w *wire.Writer, _ *ExtensionContext) error {
	t := v.(*SRCapabilityTLV)
	w.PutUint16(0)
	w.PutUint8(t.Flags)
	w.PutUint8(t.MSD)
	return nil
}

// SegmentRoutingActivator registers the SR capability TLV and the SR
// subobject into the RSVP context shared by the route objects.
type SegmentRoutingActivator struct{}

func (SegmentRoutingActivator) Start(c *ExtensionContext) registry.Registrations {
	s := c.rsvp.Subobjects()
	return registry.Registrations{
		c.tlvs.RegisterParser(PCEP_TLV_SR_PCE_CAPABILITY, parseSRCapability),
		c.tlvs.RegisterSerializer(&SRCapabilityTLV{}, serializeSRCapability),
		s.RegisterParser(SUBOBJECT_SR, parseSRSubobject),
		s.RegisterSerializer(&SRSubobject{}, serializeSRSubobject),
	}
}
