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
	"errors"
	"fmt"
	"net/netip"

	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type BGPUpdate struct {
	WithdrawnRoutes []AddrPrefixInterface
	PathAttributes  []PathAttributeInterface
	NLRI            []AddrPrefixInterface
	// Errors holds the attribute errors that were recovered from instead
	// of resetting the session.
	Errors []*MessageError
}

func (msg *BGPUpdate) MessageType() uint8 { return BGP_MSG_UPDATE }

func NewBGPUpdateMessage(withdrawn []AddrPrefixInterface, attrs []PathAttributeInterface, nlri []AddrPrefixInterface) *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_UPDATE},
		Body:   &BGPUpdate{WithdrawnRoutes: withdrawn, PathAttributes: attrs, NLRI: nlri},
	}
}

func NewEndOfRib(f Family) *BGPMessage {
	if f == RF_IPv4_UC {
		return NewBGPUpdateMessage(nil, nil, nil)
	}
	return NewBGPUpdateMessage(nil, []PathAttributeInterface{NewPathAttributeMpUnreachNLRI(f, nil)}, nil)
}

// ErrorHandling is the most severe action among the recovered errors.
func (msg *BGPUpdate) ErrorHandling() ErrorHandling {
	h := ERROR_HANDLING_NONE
	for _, e := range msg.Errors {
		if e.ErrorHandling > h {
			h = e.ErrorHandling
		}
	}
	return h
}

func (msg *BGPUpdate) PathAttribute(t BGPAttrType) PathAttributeInterface {
	for _, a := range msg.PathAttributes {
		if a.GetType() == t {
			return a
		}
	}
	return nil
}

func (msg *BGPUpdate) IsEndOfRib() (Family, bool) {
	if len(msg.WithdrawnRoutes) == 0 && len(msg.NLRI) == 0 {
		if len(msg.PathAttributes) == 0 {
			return RF_IPv4_UC, true
		}
		if len(msg.PathAttributes) == 1 {
			if u, ok := msg.PathAttributes[0].(*PathAttributeMpUnreachNLRI); ok && len(u.Value) == 0 {
				return u.Family(), true
			}
		}
	}
	return 0, false
}

// Reachable returns the advertised NLRI from both the NLRI field and
// MP_REACH_NLRI.
func (msg *BGPUpdate) Reachable() []AddrPrefixInterface {
	out := append([]AddrPrefixInterface(nil), msg.NLRI...)
	if a, ok := msg.PathAttribute(BGP_ATTR_TYPE_MP_REACH_NLRI).(*PathAttributeMpReachNLRI); ok {
		out = append(out, a.Value...)
	}
	return out
}

// Unreachable returns the withdrawn NLRI from both the withdrawn routes
// field and MP_UNREACH_NLRI.
func (msg *BGPUpdate) Unreachable() []AddrPrefixInterface {
	out := append([]AddrPrefixInterface(nil), msg.WithdrawnRoutes...)
	if a, ok := msg.PathAttribute(BGP_ATTR_TYPE_MP_UNREACH_NLRI).(*PathAttributeMpUnreachNLRI); ok {
		out = append(out, a.Value...)
	}
	return out
}

// RouteAttributes are the attributes shared by every reachable NLRI,
// without the multiprotocol containers.
func (msg *BGPUpdate) RouteAttributes() []PathAttributeInterface {
	out := make([]PathAttributeInterface, 0, len(msg.PathAttributes))
	for _, a := range msg.PathAttributes {
		switch a.GetType() {
		case BGP_ATTR_TYPE_MP_REACH_NLRI, BGP_ATTR_TYPE_MP_UNREACH_NLRI:
			continue
		}
		out = append(out, a)
	}
	return out
}

// NextHop of family f: MP_REACH_NLRI for multiprotocol families and the
// NEXT_HOP attribute for IPv4 unicast.
func (msg *BGPUpdate) NextHop(f Family) netip.Addr {
	if a, ok := msg.PathAttribute(BGP_ATTR_TYPE_MP_REACH_NLRI).(*PathAttributeMpReachNLRI); ok && a.Family() == f {
		return a.Nexthop
	}
	if a, ok := msg.PathAttribute(BGP_ATTR_TYPE_NEXT_HOP).(*PathAttributeNextHop); ok {
		return a.Value
	}
	return netip.Addr{}
}

func (c *ExtensionContext) parseUpdate(r *wire.Reader, opts *MarshallingOption) (BGPBody, error) {
	malformed := func(msg string) error {
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST, nil, msg)
	}
	if err := checkBodyLength(r, 4, -1); err != nil {
		return nil, err
	}
	msg := &BGPUpdate{}

	wlen, _ := r.Uint16()
	wr, err := r.Slice(int(wlen))
	if err != nil {
		return nil, malformed(fmt.Sprintf("withdrawn routes length %d overruns message", wlen))
	}
	if msg.WithdrawnRoutes, err = c.ReadNLRIs(RF_IPv4_UC, wr, opts); err != nil {
		return nil, NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_INVALID_NETWORK_FIELD, nil, err.Error())
	}

	alen, err := r.Uint16()
	if err != nil {
		return nil, malformed("truncated path attribute length")
	}
	ar, err := r.Slice(int(alen))
	if err != nil {
		return nil, malformed(fmt.Sprintf("path attribute length %d overruns message", alen))
	}
	seen := make(map[BGPAttrType]bool)
	for ar.Len() > 0 {
		a, err := c.ReadPathAttribute(ar, opts)
		if err != nil {
			var me *MessageError
			if !errors.As(err, &me) || me.ErrorHandling == ERROR_HANDLING_SESSION_RESET {
				return nil, err
			}
			msg.Errors = append(msg.Errors, me)
			continue
		}
		t := a.GetType()
		if seen[t] {
			switch t {
			case BGP_ATTR_TYPE_MP_REACH_NLRI, BGP_ATTR_TYPE_MP_UNREACH_NLRI:
				return nil, malformed(fmt.Sprintf("duplicate %s", t))
			}
			msg.Errors = append(msg.Errors, newMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST, nil, fmt.Sprintf("duplicate %s", t), ERROR_HANDLING_ATTRIBUTE_DISCARD))
			continue
		}
		seen[t] = true
		msg.PathAttributes = append(msg.PathAttributes, a)
	}

	if msg.NLRI, err = c.ReadNLRIs(RF_IPv4_UC, r, opts); err != nil {
		return nil, NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_INVALID_NETWORK_FIELD, nil, err.Error())
	}

	if len(msg.NLRI) > 0 || seen[BGP_ATTR_TYPE_MP_REACH_NLRI] {
		required := []BGPAttrType{BGP_ATTR_TYPE_ORIGIN, BGP_ATTR_TYPE_AS_PATH}
		if len(msg.NLRI) > 0 {
			required = append(required, BGP_ATTR_TYPE_NEXT_HOP)
		}
		for _, t := range required {
			if !seen[t] {
				msg.Errors = append(msg.Errors, newMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_MISSING_WELL_KNOWN_ATTRIBUTE, []byte{uint8(t)}, fmt.Sprintf("missing %s", t), ERROR_HANDLING_TREAT_AS_WITHDRAW))
			}
		}
	}
	return msg, nil
}

func (c *ExtensionContext) serializeUpdate(b BGPBody, w *wire.Writer, opts *MarshallingOption) error {
	msg := b.(*BGPUpdate)
	wlenOff := w.Reserve(2)
	start := w.Len()
	for _, n := range msg.WithdrawnRoutes {
		if err := c.PutNLRI(n, w, opts); err != nil {
			return err
		}
	}
	w.SetUint16(wlenOff, uint16(w.Len()-start))

	alenOff := w.Reserve(2)
	start = w.Len()
	for _, a := range msg.PathAttributes {
		if err := c.PutPathAttribute(a, w, opts); err != nil {
			return err
		}
	}
	w.SetUint16(alenOff, uint16(w.Len()-start))

	for _, n := range msg.NLRI {
		if err := c.PutNLRI(n, w, opts); err != nil {
			return err
		}
	}
	return nil
}
