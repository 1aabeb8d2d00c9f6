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

// Package flowspec implements RFC 8955 and RFC 8956 flow specification
// NLRI and the traffic filtering action extended communities.
package flowspec

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type BGPFlowSpecType uint8

const (
	FLOW_SPEC_TYPE_UNKNOWN BGPFlowSpecType = iota
	FLOW_SPEC_TYPE_DST_PREFIX
	FLOW_SPEC_TYPE_SRC_PREFIX
	FLOW_SPEC_TYPE_IP_PROTO
	FLOW_SPEC_TYPE_PORT
	FLOW_SPEC_TYPE_DST_PORT
	FLOW_SPEC_TYPE_SRC_PORT
	FLOW_SPEC_TYPE_ICMP_TYPE
	FLOW_SPEC_TYPE_ICMP_CODE
	FLOW_SPEC_TYPE_TCP_FLAG
	FLOW_SPEC_TYPE_PKT_LEN
	FLOW_SPEC_TYPE_DSCP
	FLOW_SPEC_TYPE_FRAGMENT
	FLOW_SPEC_TYPE_LABEL
)

var flowSpecNameMap = map[BGPFlowSpecType]string{
	FLOW_SPEC_TYPE_DST_PREFIX: "destination",
	FLOW_SPEC_TYPE_SRC_PREFIX: "source",
	FLOW_SPEC_TYPE_IP_PROTO:   "protocol",
	FLOW_SPEC_TYPE_PORT:       "port",
	FLOW_SPEC_TYPE_DST_PORT:   "destination-port",
	FLOW_SPEC_TYPE_SRC_PORT:   "source-port",
	FLOW_SPEC_TYPE_ICMP_TYPE:  "icmp-type",
	FLOW_SPEC_TYPE_ICMP_CODE:  "icmp-code",
	FLOW_SPEC_TYPE_TCP_FLAG:   "tcp-flags",
	FLOW_SPEC_TYPE_PKT_LEN:    "packet-length",
	FLOW_SPEC_TYPE_DSCP:       "dscp",
	FLOW_SPEC_TYPE_FRAGMENT:   "fragment",
	FLOW_SPEC_TYPE_LABEL:      "label",
}

func (t BGPFlowSpecType) String() string {
	if n, ok := flowSpecNameMap[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Operator byte bits shared by numeric and bitmask operators.
const (
	FS_OP_END    = 0x80
	FS_OP_AND    = 0x40
	fsOpLenMask  = 0x30
	fsOpCtrlMask = FS_OP_END | fsOpLenMask
)

// Numeric operators (RFC 8955 4.2.1.1).
const (
	DEC_NUM_OP_TRUE   = 0x00
	DEC_NUM_OP_EQ     = 0x01
	DEC_NUM_OP_GT     = 0x02
	DEC_NUM_OP_GT_EQ  = 0x03
	DEC_NUM_OP_LT     = 0x04
	DEC_NUM_OP_LT_EQ  = 0x05
	DEC_NUM_OP_NOT_EQ = 0x06
	DEC_NUM_OP_FALSE  = 0x07
)

// Bitmask operators (RFC 8955 4.2.1.2).
const (
	BITMASK_FLAG_OP_MATCH = 0x01
	BITMASK_FLAG_OP_NOT   = 0x02
)

type FlowSpecComponentInterface interface {
	Type() BGPFlowSpecType
	String() string
}

// FlowSpecPrefix is a destination or source prefix component. Offset is
// only meaningful for IPv6 and counts the leading bits not matched.
type FlowSpecPrefix struct {
	ComponentType BGPFlowSpecType
	Prefix        netip.Prefix
	Offset        uint8
}

func NewFlowSpecDestinationPrefix(p netip.Prefix) *FlowSpecPrefix {
	return &FlowSpecPrefix{ComponentType: FLOW_SPEC_TYPE_DST_PREFIX, Prefix: p.Masked()}
}

func NewFlowSpecSourcePrefix(p netip.Prefix) *FlowSpecPrefix {
	return &FlowSpecPrefix{ComponentType: FLOW_SPEC_TYPE_SRC_PREFIX, Prefix: p.Masked()}
}

func (p *FlowSpecPrefix) Type() BGPFlowSpecType { return p.ComponentType }

func (p *FlowSpecPrefix) String() string {
	if p.Offset != 0 {
		return fmt.Sprintf("[%s: %s/%d]", p.ComponentType, p.Prefix, p.Offset)
	}
	return fmt.Sprintf("[%s: %s]", p.ComponentType, p.Prefix)
}

type FlowSpecComponentItem struct {
	Op    uint8
	Value uint64
}

func NewFlowSpecComponentItem(op uint8, value uint64) *FlowSpecComponentItem {
	return &FlowSpecComponentItem{Op: op &^ fsOpCtrlMask, Value: value}
}

func (i *FlowSpecComponentItem) String(bitmask bool) string {
	var s strings.Builder
	if i.Op&FS_OP_AND != 0 {
		s.WriteString("&")
	}
	if bitmask {
		if i.Op&BITMASK_FLAG_OP_NOT != 0 {
			s.WriteString("!")
		}
		if i.Op&BITMASK_FLAG_OP_MATCH != 0 {
			s.WriteString("=")
		}
	} else {
		s.WriteString([]string{"true", "==", ">", ">=", "<", "<=", "!=", "false"}[i.Op&0x07])
	}
	fmt.Fprintf(&s, "%d", i.Value)
	return s.String()
}

// FlowSpecComponent is any operator list component.
type FlowSpecComponent struct {
	ComponentType BGPFlowSpecType
	Items         []*FlowSpecComponentItem
}

func NewFlowSpecComponent(t BGPFlowSpecType, items ...*FlowSpecComponentItem) *FlowSpecComponent {
	return &FlowSpecComponent{ComponentType: t, Items: items}
}

func (c *FlowSpecComponent) Type() BGPFlowSpecType { return c.ComponentType }

func isBitmask(t BGPFlowSpecType) bool {
	return t == FLOW_SPEC_TYPE_TCP_FLAG || t == FLOW_SPEC_TYPE_FRAGMENT
}

func (c *FlowSpecComponent) String() string {
	s := make([]string, 0, len(c.Items))
	for _, i := range c.Items {
		s = append(s, i.String(isBitmask(c.ComponentType)))
	}
	return fmt.Sprintf("[%s: %s]", c.ComponentType, strings.Join(s, " "))
}

type componentRegistry = registry.Registry[uint8, *bgp.MarshallingOption, FlowSpecComponentInterface]

func prefixParser(t BGPFlowSpecType, afi uint16) registry.ParserFunc[*bgp.MarshallingOption, FlowSpecComponentInterface] {
	return func(r *wire.Reader, _ *bgp.MarshallingOption) (FlowSpecComponentInterface, error) {
		l, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		if afi == bgp.AFI_IP {
			p, err := r.PrefixBits(int(l), 32)
			if err != nil {
				return nil, err
			}
			return &FlowSpecPrefix{ComponentType: t, Prefix: p}, nil
		}
		offset, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		if l > 128 || offset > l {
			return nil, fmt.Errorf("invalid flowspec ipv6 prefix length %d offset %d", l, offset)
		}
		pattern, err := r.Bytes(wire.PrefixByteLen(int(l - offset)))
		if err != nil {
			return nil, err
		}
		var addr [16]byte
		for i := 0; i < int(l-offset); i++ {
			if pattern[i/8]&(0x80>>(i%8)) != 0 {
				j := int(offset) + i
				addr[j/8] |= 0x80 >> (j % 8)
			}
		}
		return &FlowSpecPrefix{ComponentType: t, Prefix: netip.PrefixFrom(netip.AddrFrom16(addr), int(l)), Offset: offset}, nil
	}
}

func serializePrefix(v FlowSpecComponentInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	p := v.(*FlowSpecPrefix)
	w.PutUint8(uint8(p.Prefix.Bits()))
	if p.Prefix.Addr().Is4() {
		w.PutPrefixBits(p.Prefix)
		return nil
	}
	l, offset := p.Prefix.Bits(), int(p.Offset)
	if offset > l {
		return fmt.Errorf("flowspec prefix offset %d beyond length %d", offset, l)
	}
	w.PutUint8(p.Offset)
	addr := p.Prefix.Masked().Addr().As16()
	pattern := make([]byte, wire.PrefixByteLen(l-offset))
	for i := 0; i < l-offset; i++ {
		j := offset + i
		if addr[j/8]&(0x80>>(j%8)) != 0 {
			pattern[i/8] |= 0x80 >> (i % 8)
		}
	}
	w.PutBytes(pattern)
	return nil
}

func componentParser(t BGPFlowSpecType) registry.ParserFunc[*bgp.MarshallingOption, FlowSpecComponentInterface] {
	return func(r *wire.Reader, _ *bgp.MarshallingOption) (FlowSpecComponentInterface, error) {
		c := &FlowSpecComponent{ComponentType: t}
		for {
			op, err := r.Uint8()
			if err != nil {
				return nil, err
			}
			var value uint64
			switch 1 << ((op & fsOpLenMask) >> 4) {
			case 1:
				v, err := r.Uint8()
				if err != nil {
					return nil, err
				}
				value = uint64(v)
			case 2:
				v, err := r.Uint16()
				if err != nil {
					return nil, err
				}
				value = uint64(v)
			case 4:
				v, err := r.Uint32()
				if err != nil {
					return nil, err
				}
				value = uint64(v)
			case 8:
				if value, err = r.Uint64(); err != nil {
					return nil, err
				}
			}
			c.Items = append(c.Items, NewFlowSpecComponentItem(op, value))
			if op&FS_OP_END != 0 {
				return c, nil
			}
		}
	}
}

func serializeComponent(v FlowSpecComponentInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	c := v.(*FlowSpecComponent)
	if len(c.Items) == 0 {
		return fmt.Errorf("flowspec %s component without operator", c.ComponentType)
	}
	for idx, i := range c.Items {
		op := i.Op &^ fsOpCtrlMask
		if idx == len(c.Items)-1 {
			op |= FS_OP_END
		}
		switch {
		case i.Value <= 0xff:
			w.PutUint8(op)
			w.PutUint8(uint8(i.Value))
		case i.Value <= 0xffff:
			w.PutUint8(op | 0x10)
			w.PutUint16(uint16(i.Value))
		case i.Value <= 0xffffffff:
			w.PutUint8(op | 0x20)
			w.PutUint32(uint32(i.Value))
		default:
			w.PutUint8(op | 0x30)
			w.PutUint64(i.Value)
		}
	}
	return nil
}

func newComponentRegistry(c *bgp.ExtensionContext, afi uint16) (*componentRegistry, registry.Registrations) {
	r := registry.New[uint8, *bgp.MarshallingOption, FlowSpecComponentInterface](fmt.Sprintf("flowspec afi %d component", afi), c.Logger())
	regs := registry.Registrations{
		r.RegisterParser(uint8(FLOW_SPEC_TYPE_DST_PREFIX), prefixParser(FLOW_SPEC_TYPE_DST_PREFIX, afi)),
		r.RegisterParser(uint8(FLOW_SPEC_TYPE_SRC_PREFIX), prefixParser(FLOW_SPEC_TYPE_SRC_PREFIX, afi)),
		r.RegisterSerializer(&FlowSpecPrefix{}, serializePrefix),
		r.RegisterSerializer(&FlowSpecComponent{}, serializeComponent),
	}
	last := FLOW_SPEC_TYPE_FRAGMENT
	if afi == bgp.AFI_IP6 {
		last = FLOW_SPEC_TYPE_LABEL
	}
	for t := FLOW_SPEC_TYPE_IP_PROTO; t <= last; t++ {
		regs = append(regs, r.RegisterParser(uint8(t), componentParser(t)))
	}
	return r, regs
}

type FlowSpecNLRI struct {
	bgp.PrefixDefault
	AFI   uint16
	Value []FlowSpecComponentInterface
}

func NewFlowSpecIPv4Unicast(value []FlowSpecComponentInterface) *FlowSpecNLRI {
	return &FlowSpecNLRI{AFI: bgp.AFI_IP, Value: value}
}

func NewFlowSpecIPv6Unicast(value []FlowSpecComponentInterface) *FlowSpecNLRI {
	return &FlowSpecNLRI{AFI: bgp.AFI_IP6, Value: value}
}

func (n *FlowSpecNLRI) Family() bgp.Family {
	return bgp.NewFamily(n.AFI, bgp.SAFI_FLOW_SPEC_UNICAST)
}

func (n *FlowSpecNLRI) String() string {
	s := make([]string, 0, len(n.Value))
	for _, v := range n.Value {
		s = append(s, v.String())
	}
	return strings.Join(s, "")
}

func parser(afi uint16, components *componentRegistry) registry.ParserFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(r *wire.Reader, opts *bgp.MarshallingOption) (bgp.AddrPrefixInterface, error) {
		b, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		l := int(b)
		if b >= 0xf0 {
			b2, err := r.Uint8()
			if err != nil {
				return nil, err
			}
			l = int(b&0x0f)<<8 | int(b2)
		}
		body, err := r.Slice(l)
		if err != nil {
			return nil, err
		}
		n := &FlowSpecNLRI{AFI: afi}
		var prev BGPFlowSpecType
		for body.Len() > 0 {
			t, _ := body.Uint8()
			if BGPFlowSpecType(t) <= prev {
				return nil, fmt.Errorf("flowspec component %d out of order", t)
			}
			prev = BGPFlowSpecType(t)
			p, ok := components.Parser(t)
			if !ok {
				return nil, &registry.ParseError{Registry: components.Name(), Code: t, Err: registry.ErrNoHandler}
			}
			c, err := p(body, opts)
			if err != nil {
				return nil, err
			}
			n.Value = append(n.Value, c)
		}
		if len(n.Value) == 0 {
			return nil, fmt.Errorf("empty flowspec nlri")
		}
		return n, nil
	}
}

func serializer(v4, v6 *componentRegistry) registry.SerializerFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(v bgp.AddrPrefixInterface, w *wire.Writer, opts *bgp.MarshallingOption) error {
		n := v.(*FlowSpecNLRI)
		components := v4
		if n.AFI == bgp.AFI_IP6 {
			components = v6
		}
		body := wire.NewWriter(32)
		for _, c := range n.Value {
			body.PutUint8(uint8(c.Type()))
			ok, err := components.Serialize(c, body, opts)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no serializer for flowspec component %T", c)
			}
		}
		switch l := body.Len(); {
		case l < 0xf0:
			w.PutUint8(uint8(l))
		case l <= 0xfff:
			w.PutUint16(0xf000 | uint16(l))
		default:
			return fmt.Errorf("flowspec nlri too long: %d", l)
		}
		w.PutBytes(body.Bytes())
		return nil
	}
}

type Activator struct{}

func (Activator) Start(c *bgp.ExtensionContext) registry.Registrations {
	v4, regs := newComponentRegistry(c, bgp.AFI_IP)
	v6, regs6 := newComponentRegistry(c, bgp.AFI_IP6)
	regs = append(regs, regs6...)
	regs = append(regs, c.RegisterNLRI(bgp.RF_FS_IPv4_UC, parser(bgp.AFI_IP, v4), &FlowSpecNLRI{}, serializer(v4, v6))...)
	regs = append(regs, c.RegisterNLRI(bgp.RF_FS_IPv6_UC, parser(bgp.AFI_IP6, v6), nil, nil)...)
	return append(regs, registerExtendedCommunities(c)...)
}
