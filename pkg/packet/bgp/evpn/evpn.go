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

// Package evpn implements RFC 7432 EVPN NLRI and extended communities.
package evpn

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

const (
	EVPN_ROUTE_TYPE_ETHERNET_AUTO_DISCOVERY      = 1
	EVPN_ROUTE_TYPE_MAC_IP_ADVERTISEMENT         = 2
	EVPN_INCLUSIVE_MULTICAST_ETHERNET_TAG        = 3
	EVPN_ETHERNET_SEGMENT_ROUTE                  = 4
	EVPN_MAX_ET                                  = 0xffffffff
	MAC_MOBILITY_STICKY                     byte = 0x01
	ESI_LABEL_SINGLE_ACTIVE                 byte = 0x01
)

// EthernetSegmentIdentifier is the 10 byte ESI: a type followed by nine
// type specific bytes.
type EthernetSegmentIdentifier struct {
	Type  uint8
	Value [9]byte
}

func (esi EthernetSegmentIdentifier) String() string {
	return fmt.Sprintf("%d:%x", esi.Type, esi.Value)
}

func readESI(r *wire.Reader) (EthernetSegmentIdentifier, error) {
	b, err := r.Bytes(10)
	if err != nil {
		return EthernetSegmentIdentifier{}, err
	}
	return EthernetSegmentIdentifier{Type: b[0], Value: [9]byte(b[1:])}, nil
}

func (esi EthernetSegmentIdentifier) put(w *wire.Writer) {
	w.PutUint8(esi.Type)
	w.PutBytes(esi.Value[:])
}

// readIP reads a one byte bit length and the address; 0 means absent.
func readIP(r *wire.Reader) (netip.Addr, error) {
	l, err := r.Uint8()
	if err != nil {
		return netip.Addr{}, err
	}
	switch l {
	case 0:
		return netip.Addr{}, nil
	case 32:
		return r.Addr4()
	case 128:
		return r.Addr16()
	}
	return netip.Addr{}, fmt.Errorf("invalid evpn ip address length %d", l)
}

func putIP(w *wire.Writer, a netip.Addr) {
	if !a.IsValid() {
		w.PutUint8(0)
		return
	}
	w.PutUint8(uint8(a.BitLen()))
	w.PutAddr(a)
}

type EVPNRouteTypeInterface interface {
	RouteType() uint8
	RD() bgp.RouteDistinguisherInterface
	String() string
}

type EVPNEthernetAutoDiscoveryRoute struct {
	Distinguisher bgp.RouteDistinguisherInterface
	ESI           EthernetSegmentIdentifier
	ETag          uint32
	Label         uint32
}

func (er *EVPNEthernetAutoDiscoveryRoute) RouteType() uint8 {
	return EVPN_ROUTE_TYPE_ETHERNET_AUTO_DISCOVERY
}
func (er *EVPNEthernetAutoDiscoveryRoute) RD() bgp.RouteDistinguisherInterface {
	return er.Distinguisher
}
func (er *EVPNEthernetAutoDiscoveryRoute) String() string {
	return fmt.Sprintf("[type:A-D][rd:%s][esi:%s][etag:%d][label:%d]", er.Distinguisher, er.ESI, er.ETag, er.Label)
}

func parseAutoDiscovery(r *wire.Reader, _ *bgp.MarshallingOption) (EVPNRouteTypeInterface, error) {
	rd, err := bgp.ReadRouteDistinguisher(r)
	if err != nil {
		return nil, err
	}
	er := &EVPNEthernetAutoDiscoveryRoute{Distinguisher: rd}
	if er.ESI, err = readESI(r); err != nil {
		return nil, err
	}
	er.ETag, _ = r.Uint32()
	if er.Label, err = r.Uint24(); err != nil {
		return nil, err
	}
	return er, nil
}

func serializeAutoDiscovery(v EVPNRouteTypeInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	er := v.(*EVPNEthernetAutoDiscoveryRoute)
	bgp.PutRouteDistinguisher(w, er.Distinguisher)
	er.ESI.put(w)
	w.PutUint32(er.ETag)
	w.PutUint24(er.Label)
	return nil
}

type EVPNMacIPAdvertisementRoute struct {
	Distinguisher bgp.RouteDistinguisherInterface
	ESI           EthernetSegmentIdentifier
	ETag          uint32
	MacAddress    net.HardwareAddr
	IPAddress     netip.Addr
	Labels        []uint32
}

func (er *EVPNMacIPAdvertisementRoute) RouteType() uint8 {
	return EVPN_ROUTE_TYPE_MAC_IP_ADVERTISEMENT
}
func (er *EVPNMacIPAdvertisementRoute) RD() bgp.RouteDistinguisherInterface {
	return er.Distinguisher
}
func (er *EVPNMacIPAdvertisementRoute) String() string {
	ip := "0.0.0.0"
	if er.IPAddress.IsValid() {
		ip = er.IPAddress.String()
	}
	return fmt.Sprintf("[type:macadv][rd:%s][etag:%d][mac:%s][ip:%s][labels:%v]", er.Distinguisher, er.ETag, er.MacAddress, ip, er.Labels)
}

func parseMacIPAdvertisement(r *wire.Reader, _ *bgp.MarshallingOption) (EVPNRouteTypeInterface, error) {
	rd, err := bgp.ReadRouteDistinguisher(r)
	if err != nil {
		return nil, err
	}
	er := &EVPNMacIPAdvertisementRoute{Distinguisher: rd}
	if er.ESI, err = readESI(r); err != nil {
		return nil, err
	}
	er.ETag, _ = r.Uint32()
	macLen, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	if macLen != 48 {
		return nil, fmt.Errorf("invalid mac address length %d", macLen)
	}
	mac, err := r.Bytes(6)
	if err != nil {
		return nil, err
	}
	er.MacAddress = net.HardwareAddr(append([]byte(nil), mac...))
	if er.IPAddress, err = readIP(r); err != nil {
		return nil, err
	}
	for r.Len() > 0 && len(er.Labels) < 2 {
		l, err := r.Uint24()
		if err != nil {
			return nil, err
		}
		er.Labels = append(er.Labels, l)
	}
	if len(er.Labels) == 0 {
		return nil, fmt.Errorf("mac/ip advertisement without label")
	}
	return er, nil
}

func serializeMacIPAdvertisement(v EVPNRouteTypeInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	er := v.(*EVPNMacIPAdvertisementRoute)
	if len(er.MacAddress) != 6 {
		return fmt.Errorf("invalid mac address %s", er.MacAddress)
	}
	if len(er.Labels) == 0 || len(er.Labels) > 2 {
		return fmt.Errorf("mac/ip advertisement with %d labels", len(er.Labels))
	}
	bgp.PutRouteDistinguisher(w, er.Distinguisher)
	er.ESI.put(w)
	w.PutUint32(er.ETag)
	w.PutUint8(48)
	w.PutBytes(er.MacAddress)
	putIP(w, er.IPAddress)
	for _, l := range er.Labels {
		w.PutUint24(l)
	}
	return nil
}

type EVPNMulticastEthernetTagRoute struct {
	Distinguisher bgp.RouteDistinguisherInterface
	ETag          uint32
	IPAddress     netip.Addr
}

func (er *EVPNMulticastEthernetTagRoute) RouteType() uint8 {
	return EVPN_INCLUSIVE_MULTICAST_ETHERNET_TAG
}
func (er *EVPNMulticastEthernetTagRoute) RD() bgp.RouteDistinguisherInterface {
	return er.Distinguisher
}
func (er *EVPNMulticastEthernetTagRoute) String() string {
	return fmt.Sprintf("[type:multicast][rd:%s][etag:%d][ip:%s]", er.Distinguisher, er.ETag, er.IPAddress)
}

func parseMulticastEthernetTag(r *wire.Reader, _ *bgp.MarshallingOption) (EVPNRouteTypeInterface, error) {
	rd, err := bgp.ReadRouteDistinguisher(r)
	if err != nil {
		return nil, err
	}
	er := &EVPNMulticastEthernetTagRoute{Distinguisher: rd}
	if er.ETag, err = r.Uint32(); err != nil {
		return nil, err
	}
	if er.IPAddress, err = readIP(r); err != nil {
		return nil, err
	}
	return er, nil
}

func serializeMulticastEthernetTag(v EVPNRouteTypeInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	er := v.(*EVPNMulticastEthernetTagRoute)
	bgp.PutRouteDistinguisher(w, er.Distinguisher)
	w.PutUint32(er.ETag)
	putIP(w, er.IPAddress)
	return nil
}

type EVPNEthernetSegmentRoute struct {
	Distinguisher bgp.RouteDistinguisherInterface
	ESI           EthernetSegmentIdentifier
	IPAddress     netip.Addr
}

func (er *EVPNEthernetSegmentRoute) RouteType() uint8 {
	return EVPN_ETHERNET_SEGMENT_ROUTE
}
func (er *EVPNEthernetSegmentRoute) RD() bgp.RouteDistinguisherInterface {
	return er.Distinguisher
}
func (er *EVPNEthernetSegmentRoute) String() string {
	return fmt.Sprintf("[type:esi][rd:%s][esi:%s][ip:%s]", er.Distinguisher, er.ESI, er.IPAddress)
}

func parseEthernetSegment(r *wire.Reader, _ *bgp.MarshallingOption) (EVPNRouteTypeInterface, error) {
	rd, err := bgp.ReadRouteDistinguisher(r)
	if err != nil {
		return nil, err
	}
	er := &EVPNEthernetSegmentRoute{Distinguisher: rd}
	if er.ESI, err = readESI(r); err != nil {
		return nil, err
	}
	if er.IPAddress, err = readIP(r); err != nil {
		return nil, err
	}
	return er, nil
}

func serializeEthernetSegment(v EVPNRouteTypeInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	er := v.(*EVPNEthernetSegmentRoute)
	bgp.PutRouteDistinguisher(w, er.Distinguisher)
	er.ESI.put(w)
	putIP(w, er.IPAddress)
	return nil
}

// EVPNUnknownRoute keeps route types without a parser.
type EVPNUnknownRoute struct {
	Type  uint8
	Value []byte
}

func (er *EVPNUnknownRoute) RouteType() uint8                    { return er.Type }
func (er *EVPNUnknownRoute) RD() bgp.RouteDistinguisherInterface { return nil }
func (er *EVPNUnknownRoute) String() string {
	return fmt.Sprintf("[type:%d][%x]", er.Type, er.Value)
}

type EVPNNLRI struct {
	bgp.PrefixDefault
	RouteTypeData EVPNRouteTypeInterface
}

func NewEVPNNLRI(route EVPNRouteTypeInterface) *EVPNNLRI {
	return &EVPNNLRI{RouteTypeData: route}
}

func (n *EVPNNLRI) Family() bgp.Family { return bgp.RF_EVPN }

func (n *EVPNNLRI) String() string {
	return n.RouteTypeData.String()
}

type routeRegistry = registry.Registry[uint8, *bgp.MarshallingOption, EVPNRouteTypeInterface]

func parser(routes *routeRegistry, logger log.Logger) registry.ParserFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(r *wire.Reader, opts *bgp.MarshallingOption) (bgp.AddrPrefixInterface, error) {
		typ, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		l, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		value, err := r.Bytes(int(l))
		if err != nil {
			return nil, err
		}
		if _, ok := routes.Parser(typ); !ok {
			logger.Debug("unknown evpn route type, kept as opaque", log.Fields{
				"Topic": "Registry",
				"Key":   typ,
			})
			return NewEVPNNLRI(&EVPNUnknownRoute{Type: typ, Value: append([]byte(nil), value...)}), nil
		}
		route, err := routes.Parse(typ, value, opts)
		if err != nil {
			return nil, err
		}
		return NewEVPNNLRI(route), nil
	}
}

func serializer(routes *routeRegistry) registry.SerializerFunc[*bgp.MarshallingOption, bgp.AddrPrefixInterface] {
	return func(v bgp.AddrPrefixInterface, w *wire.Writer, opts *bgp.MarshallingOption) error {
		n := v.(*EVPNNLRI)
		w.PutUint8(n.RouteTypeData.RouteType())
		off := w.Reserve(1)
		start := w.Len()
		if u, ok := n.RouteTypeData.(*EVPNUnknownRoute); ok {
			w.PutBytes(u.Value)
		} else {
			ok, err := routes.Serialize(n.RouteTypeData, w, opts)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no serializer for evpn route type %d", n.RouteTypeData.RouteType())
			}
		}
		if w.Len()-start > 255 {
			return fmt.Errorf("evpn route too long: %d", w.Len()-start)
		}
		w.SetUint8(off, uint8(w.Len()-start))
		return nil
	}
}

type Activator struct{}

func (Activator) Start(c *bgp.ExtensionContext) registry.Registrations {
	routes := registry.New[uint8, *bgp.MarshallingOption, EVPNRouteTypeInterface]("evpn route type", c.Logger())
	regs := registry.Registrations{
		routes.RegisterParser(EVPN_ROUTE_TYPE_ETHERNET_AUTO_DISCOVERY, parseAutoDiscovery),
		routes.RegisterSerializer(&EVPNEthernetAutoDiscoveryRoute{}, serializeAutoDiscovery),
		routes.RegisterParser(EVPN_ROUTE_TYPE_MAC_IP_ADVERTISEMENT, parseMacIPAdvertisement),
		routes.RegisterSerializer(&EVPNMacIPAdvertisementRoute{}, serializeMacIPAdvertisement),
		routes.RegisterParser(EVPN_INCLUSIVE_MULTICAST_ETHERNET_TAG, parseMulticastEthernetTag),
		routes.RegisterSerializer(&EVPNMulticastEthernetTagRoute{}, serializeMulticastEthernetTag),
		routes.RegisterParser(EVPN_ETHERNET_SEGMENT_ROUTE, parseEthernetSegment),
		routes.RegisterSerializer(&EVPNEthernetSegmentRoute{}, serializeEthernetSegment),
	}
	regs = append(regs, c.RegisterNLRI(bgp.RF_EVPN, parser(routes, c.Logger()), &EVPNNLRI{}, serializer(routes))...)
	regs = append(regs, c.RegisterExtendedCommunity(bgp.EC_TYPE_EVPN, bgp.EC_SUBTYPE_MAC_MOBILITY, parseMacMobility, &MacMobilityExtended{}, serializeMacMobility)...)
	regs = append(regs, c.RegisterExtendedCommunity(bgp.EC_TYPE_EVPN, bgp.EC_SUBTYPE_ESI_MPLS_LABEL, parseESILabel, &ESILabelExtended{}, serializeESILabel)...)
	regs = append(regs, c.RegisterExtendedCommunity(bgp.EC_TYPE_EVPN, bgp.EC_SUBTYPE_ES_IMPORT, parseESImportRouteTarget, &ESImportRouteTarget{}, serializeESImportRouteTarget)...)
	return regs
}
