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

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

const (
	BGP_OPT_CAPABILITY = 2
)

type BGPCapabilityCode uint8

const (
	BGP_CAP_MULTIPROTOCOL               BGPCapabilityCode = 1
	BGP_CAP_ROUTE_REFRESH               BGPCapabilityCode = 2
	BGP_CAP_EXTENDED_MESSAGE            BGPCapabilityCode = 6
	BGP_CAP_GRACEFUL_RESTART            BGPCapabilityCode = 64
	BGP_CAP_FOUR_OCTET_AS_NUMBER        BGPCapabilityCode = 65
	BGP_CAP_ADD_PATH                    BGPCapabilityCode = 69
	BGP_CAP_ENHANCED_ROUTE_REFRESH      BGPCapabilityCode = 70
	BGP_CAP_LONG_LIVED_GRACEFUL_RESTART BGPCapabilityCode = 71
)

type ParameterCapabilityInterface interface {
	Code() BGPCapabilityCode
}

type CapMultiProtocol struct {
	CapValue Family
}

func (c *CapMultiProtocol) Code() BGPCapabilityCode { return BGP_CAP_MULTIPROTOCOL }

func NewCapMultiProtocol(f Family) *CapMultiProtocol {
	return &CapMultiProtocol{CapValue: f}
}

type CapRouteRefresh struct{}

func (c *CapRouteRefresh) Code() BGPCapabilityCode { return BGP_CAP_ROUTE_REFRESH }

type CapEnhancedRouteRefresh struct{}

func (c *CapEnhancedRouteRefresh) Code() BGPCapabilityCode { return BGP_CAP_ENHANCED_ROUTE_REFRESH }

type CapExtendedMessage struct{}

func (c *CapExtendedMessage) Code() BGPCapabilityCode { return BGP_CAP_EXTENDED_MESSAGE }

type CapFourOctetASNumber struct {
	CapValue uint32
}

func (c *CapFourOctetASNumber) Code() BGPCapabilityCode { return BGP_CAP_FOUR_OCTET_AS_NUMBER }

func NewCapFourOctetASNumber(asnum uint32) *CapFourOctetASNumber {
	return &CapFourOctetASNumber{CapValue: asnum}
}

type CapAddPathTuple struct {
	Family Family
	Mode   BGPAddPathMode
}

type CapAddPath struct {
	Tuples []*CapAddPathTuple
}

func (c *CapAddPath) Code() BGPCapabilityCode { return BGP_CAP_ADD_PATH }

func NewCapAddPath(tuples ...*CapAddPathTuple) *CapAddPath {
	return &CapAddPath{Tuples: tuples}
}

type CapGracefulRestartTuple struct {
	Family Family
	Flags  uint8
}

type CapGracefulRestart struct {
	Flags  uint8
	Time   uint16
	Tuples []*CapGracefulRestartTuple
}

func (c *CapGracefulRestart) Code() BGPCapabilityCode { return BGP_CAP_GRACEFUL_RESTART }

// CapUnknown keeps capabilities without a registered parser.
type CapUnknown struct {
	CapCode  BGPCapabilityCode
	CapValue []byte
}

func (c *CapUnknown) Code() BGPCapabilityCode { return c.CapCode }

func parseCapMultiProtocol(r *wire.Reader, _ *MarshallingOption) (ParameterCapabilityInterface, error) {
	if r.Len() != 4 {
		return nil, fmt.Errorf("multiprotocol capability length %d", r.Len())
	}
	afi, _ := r.Uint16()
	_ = r.Skip(1)
	safi, _ := r.Uint8()
	return &CapMultiProtocol{CapValue: NewFamily(afi, safi)}, nil
}

func serializeCapMultiProtocol(v ParameterCapabilityInterface, w *wire.Writer, _ *MarshallingOption) error {
	c := v.(*CapMultiProtocol)
	w.PutUint16(c.CapValue.Afi())
	w.PutUint8(0)
	w.PutUint8(c.CapValue.Safi())
	return nil
}

func emptyCapability(sample ParameterCapabilityInterface) (registry.ParserFunc[*MarshallingOption, ParameterCapabilityInterface], registry.SerializerFunc[*MarshallingOption, ParameterCapabilityInterface]) {
	parse := func(r *wire.Reader, _ *MarshallingOption) (ParameterCapabilityInterface, error) {
		if r.Len() != 0 {
			return nil, fmt.Errorf("capability %d must be empty", sample.Code())
		}
		return sample, nil
	}
	serialize := func(ParameterCapabilityInterface, *wire.Writer, *MarshallingOption) error {
		return nil
	}
	return parse, serialize
}

func parseCapFourOctetASNumber(r *wire.Reader, _ *MarshallingOption) (ParameterCapabilityInterface, error) {
	as, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &CapFourOctetASNumber{CapValue: as}, nil
}

func serializeCapFourOctetASNumber(v ParameterCapabilityInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutUint32(v.(*CapFourOctetASNumber).CapValue)
	return nil
}

func parseCapAddPath(r *wire.Reader, _ *MarshallingOption) (ParameterCapabilityInterface, error) {
	if r.Len()%4 != 0 || r.Len() == 0 {
		return nil, fmt.Errorf("add-path capability length %d", r.Len())
	}
	c := &CapAddPath{}
	for r.Len() > 0 {
		afi, _ := r.Uint16()
		safi, _ := r.Uint8()
		mode, _ := r.Uint8()
		if mode == 0 || mode > uint8(BGP_ADD_PATH_BOTH) {
			return nil, fmt.Errorf("invalid add-path mode %d", mode)
		}
		c.Tuples = append(c.Tuples, &CapAddPathTuple{Family: NewFamily(afi, safi), Mode: BGPAddPathMode(mode)})
	}
	return c, nil
}

func serializeCapAddPath(v ParameterCapabilityInterface, w *wire.Writer, _ *MarshallingOption) error {
	for _, t := range v.(*CapAddPath).Tuples {
		w.PutUint16(t.Family.Afi())
		w.PutUint8(t.Family.Safi())
		w.PutUint8(uint8(t.Mode))
	}
	return nil
}

func parseCapGracefulRestart(r *wire.Reader, _ *MarshallingOption) (ParameterCapabilityInterface, error) {
	if r.Len() < 2 || (r.Len()-2)%4 != 0 {
		return nil, fmt.Errorf("graceful restart capability length %d", r.Len())
	}
	v, _ := r.Uint16()
	c := &CapGracefulRestart{Flags: uint8(v >> 12), Time: v & 0x0fff}
	for r.Len() > 0 {
		afi, _ := r.Uint16()
		safi, _ := r.Uint8()
		flags, _ := r.Uint8()
		c.Tuples = append(c.Tuples, &CapGracefulRestartTuple{Family: NewFamily(afi, safi), Flags: flags})
	}
	return c, nil
}

func serializeCapGracefulRestart(v ParameterCapabilityInterface, w *wire.Writer, _ *MarshallingOption) error {
	c := v.(*CapGracefulRestart)
	w.PutUint16(uint16(c.Flags)<<12 | c.Time&0x0fff)
	for _, t := range c.Tuples {
		w.PutUint16(t.Family.Afi())
		w.PutUint8(t.Family.Safi())
		w.PutUint8(t.Flags)
	}
	return nil
}

func serializeCapUnknown(v ParameterCapabilityInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutBytes(v.(*CapUnknown).CapValue)
	return nil
}

type OptionParameterInterface interface {
	ParamType() uint8
}

type OptionParameterCapability struct {
	Capability []ParameterCapabilityInterface
}

func (o *OptionParameterCapability) ParamType() uint8 { return BGP_OPT_CAPABILITY }

func NewOptionParameterCapability(capability []ParameterCapabilityInterface) *OptionParameterCapability {
	return &OptionParameterCapability{Capability: capability}
}

type BGPOpen struct {
	Version   uint8
	MyAS      uint16
	HoldTime  uint16
	ID        netip.Addr
	OptParams []OptionParameterInterface
}

func (msg *BGPOpen) MessageType() uint8 { return BGP_MSG_OPEN }

// Capabilities flattens the capabilities of every capability parameter.
func (msg *BGPOpen) Capabilities() []ParameterCapabilityInterface {
	var caps []ParameterCapabilityInterface
	for _, p := range msg.OptParams {
		if c, ok := p.(*OptionParameterCapability); ok {
			caps = append(caps, c.Capability...)
		}
	}
	return caps
}

// AS returns the four octet AS if advertised, else MyAS.
func (msg *BGPOpen) AS() uint32 {
	for _, c := range msg.Capabilities() {
		if as, ok := c.(*CapFourOctetASNumber); ok {
			return as.CapValue
		}
	}
	return uint32(msg.MyAS)
}

func NewBGPOpenMessage(myas uint32, holdtime uint16, id netip.Addr, caps []ParameterCapabilityInterface) *BGPMessage {
	as2 := uint16(AS_TRANS)
	if myas <= 0xffff {
		as2 = uint16(myas)
	}
	var params []OptionParameterInterface
	if len(caps) > 0 {
		params = []OptionParameterInterface{NewOptionParameterCapability(caps)}
	}
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_OPEN},
		Body:   &BGPOpen{Version: BGP_VERSION, MyAS: as2, HoldTime: holdtime, ID: id, OptParams: params},
	}
}

var errUnsupportedParameter = errors.New("unsupported optional parameter")

func (c *ExtensionContext) parseOpen(r *wire.Reader, opts *MarshallingOption) (BGPBody, error) {
	if err := checkBodyLength(r, 10, -1); err != nil {
		return nil, err
	}
	msg := &BGPOpen{}
	msg.Version, _ = r.Uint8()
	if msg.Version != BGP_VERSION {
		return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_VERSION_NUMBER, []byte{0, BGP_VERSION}, fmt.Sprintf("unsupported version %d", msg.Version))
	}
	msg.MyAS, _ = r.Uint16()
	msg.HoldTime, _ = r.Uint16()
	if msg.HoldTime == 1 || msg.HoldTime == 2 {
		return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNACCEPTABLE_HOLD_TIME, nil, fmt.Sprintf("unacceptable hold time %d", msg.HoldTime))
	}
	msg.ID, _ = r.Addr4()
	optLen, _ := r.Uint8()
	params, err := r.Slice(int(optLen))
	if err != nil || r.Len() != 0 {
		return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, 0, nil, "optional parameter length mismatch")
	}
	for params.Len() > 0 {
		typ, err := params.Uint8()
		if err != nil {
			return nil, err
		}
		l, err := params.Uint8()
		if err != nil {
			return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, 0, nil, "truncated optional parameter")
		}
		value, err := params.Bytes(int(l))
		if err != nil {
			return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, 0, nil, "truncated optional parameter")
		}
		if typ != BGP_OPT_CAPABILITY {
			return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER, nil, fmt.Sprintf("%v: %d", errUnsupportedParameter, typ))
		}
		caps, err := c.parseCapabilities(wire.NewReader(value), opts)
		if err != nil {
			return nil, err
		}
		msg.OptParams = append(msg.OptParams, &OptionParameterCapability{Capability: caps})
	}
	return msg, nil
}

func (c *ExtensionContext) parseCapabilities(r *wire.Reader, opts *MarshallingOption) ([]ParameterCapabilityInterface, error) {
	var caps []ParameterCapabilityInterface
	for r.Len() > 0 {
		code, _ := r.Uint8()
		l, err := r.Uint8()
		if err != nil {
			return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, 0, nil, "truncated capability")
		}
		value, err := r.Bytes(int(l))
		if err != nil {
			return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, 0, nil, "truncated capability")
		}
		if _, ok := c.capabilities.Parser(BGPCapabilityCode(code)); !ok {
			c.logger.Debug("unknown capability", log.Fields{
				"Topic": "Registry",
				"Key":   code,
			})
			caps = append(caps, &CapUnknown{CapCode: BGPCapabilityCode(code), CapValue: cloneBytes(value)})
			continue
		}
		capability, err := c.capabilities.Parse(BGPCapabilityCode(code), value, opts)
		if err != nil {
			return nil, NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, 0, nil, err.Error())
		}
		caps = append(caps, capability)
	}
	return caps, nil
}

func (c *ExtensionContext) serializeOpen(b BGPBody, w *wire.Writer, opts *MarshallingOption) error {
	msg := b.(*BGPOpen)
	w.PutUint8(msg.Version)
	w.PutUint16(msg.MyAS)
	w.PutUint16(msg.HoldTime)
	if msg.ID.IsValid() {
		w.PutAddr(msg.ID)
	} else {
		w.PutZeros(4)
	}
	optLenOff := w.Reserve(1)
	start := w.Len()
	for _, p := range msg.OptParams {
		pc, ok := p.(*OptionParameterCapability)
		if !ok {
			return fmt.Errorf("%w: %d", errUnsupportedParameter, p.ParamType())
		}
		w.PutUint8(BGP_OPT_CAPABILITY)
		lenOff := w.Reserve(1)
		pstart := w.Len()
		for _, capability := range pc.Capability {
			if !c.capabilities.Serializable(capability) {
				c.logger.Debug("capability without serializer, skipped", log.Fields{
					"Topic": "Registry",
					"Key":   capability.Code(),
				})
				continue
			}
			w.PutUint8(uint8(capability.Code()))
			clenOff := w.Reserve(1)
			cstart := w.Len()
			if _, err := c.capabilities.Serialize(capability, w, opts); err != nil {
				return err
			}
			w.SetUint8(clenOff, uint8(w.Len()-cstart))
		}
		if w.Len()-pstart > 255 {
			return fmt.Errorf("capability parameter too long: %d", w.Len()-pstart)
		}
		w.SetUint8(lenOff, uint8(w.Len()-pstart))
	}
	if w.Len()-start > 255 {
		return fmt.Errorf("optional parameters too long: %d", w.Len()-start)
	}
	w.SetUint8(optLenOff, uint8(w.Len()-start))
	return nil
}

func findCapability[T ParameterCapabilityInterface](caps []ParameterCapabilityInterface) (T, bool) {
	for _, c := range caps {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Families lists the multiprotocol families announced in the OPEN; IPv4
// unicast is implied when there are none.
func (msg *BGPOpen) Families() []Family {
	var out []Family
	for _, c := range msg.Capabilities() {
		if mp, ok := c.(*CapMultiProtocol); ok {
			out = append(out, mp.CapValue)
		}
	}
	if len(out) == 0 {
		out = append(out, RF_IPv4_UC)
	}
	return out
}

// NegotiatedOption derives the wire encoding of a session from the OPEN
// sent and the OPEN received.
func NegotiatedOption(local, remote *BGPOpen) *MarshallingOption {
	lcaps, rcaps := local.Capabilities(), remote.Capabilities()
	opt := &MarshallingOption{}
	_, l4 := findCapability[*CapFourOctetASNumber](lcaps)
	_, r4 := findCapability[*CapFourOctetASNumber](rcaps)
	opt.AS2 = !(l4 && r4)
	_, lx := findCapability[*CapExtendedMessage](lcaps)
	_, rx := findCapability[*CapExtendedMessage](rcaps)
	opt.ExtendedMessage = lx && rx

	lap, lok := findCapability[*CapAddPath](lcaps)
	rap, rok := findCapability[*CapAddPath](rcaps)
	if lok && rok {
		remoteModes := make(map[Family]BGPAddPathMode, len(rap.Tuples))
		for _, t := range rap.Tuples {
			remoteModes[t.Family] = t.Mode
		}
		for _, t := range lap.Tuples {
			var mode BGPAddPathMode
			if t.Mode&BGP_ADD_PATH_RECEIVE != 0 && remoteModes[t.Family]&BGP_ADD_PATH_SEND != 0 {
				mode |= BGP_ADD_PATH_RECEIVE
			}
			if t.Mode&BGP_ADD_PATH_SEND != 0 && remoteModes[t.Family]&BGP_ADD_PATH_RECEIVE != 0 {
				mode |= BGP_ADD_PATH_SEND
			}
			if mode != BGP_ADD_PATH_NONE {
				if opt.AddPath == nil {
					opt.AddPath = make(map[Family]BGPAddPathMode)
				}
				opt.AddPath[t.Family] = mode
			}
		}
	}
	return opt
}
