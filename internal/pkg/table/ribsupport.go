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

package table

import (
	"fmt"
	"net/netip"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bgp/evpn"
	"github.com/osrg/bgpcep/pkg/packet/bgp/l3vpn"
	"github.com/osrg/bgpcep/pkg/packet/bgp/labeled"
)

// RIBSupport holds what differs between address families as far as the
// RIB is concerned.
type RIBSupport interface {
	Family() bgp.Family
	// RouteKey identifies the destination nlri belongs to. Paths of the
	// same destination compete in one decision process.
	RouteKey(nlri bgp.AddrPrefixInterface) string
	// Complex reports whether paths keep their own NLRI.
	Complex() bool
	// Prefix returns the IP prefix to index nlri by, if the family has
	// one.
	Prefix(nlri bgp.AddrPrefixInterface) (netip.Prefix, bool)
}

type ribSupport struct {
	family  bgp.Family
	complex bool
	key     func(bgp.AddrPrefixInterface) string
	prefix  func(bgp.AddrPrefixInterface) (netip.Prefix, bool)
}

func (s *ribSupport) Family() bgp.Family { return s.family }

func (s *ribSupport) RouteKey(nlri bgp.AddrPrefixInterface) string { return s.key(nlri) }

func (s *ribSupport) Complex() bool { return s.complex }

func (s *ribSupport) Prefix(nlri bgp.AddrPrefixInterface) (netip.Prefix, bool) {
	if s.prefix == nil {
		return netip.Prefix{}, false
	}
	return s.prefix(nlri)
}

func stringKey(nlri bgp.AddrPrefixInterface) string {
	return nlri.String()
}

func ipPrefix(nlri bgp.AddrPrefixInterface) (netip.Prefix, bool) {
	switch n := nlri.(type) {
	case *bgp.IPAddrPrefix:
		return n.Prefix, true
	case *labeled.LabeledIPAddrPrefix:
		return n.Prefix, true
	}
	return netip.Prefix{}, false
}

func ipKey(nlri bgp.AddrPrefixInterface) string {
	if p, ok := ipPrefix(nlri); ok {
		return p.String()
	}
	return nlri.String()
}

func vpnKey(nlri bgp.AddrPrefixInterface) string {
	n, ok := nlri.(*l3vpn.LabeledVPNIPAddrPrefix)
	if !ok {
		return nlri.String()
	}
	rd := "0:0"
	if n.RD != nil {
		rd = n.RD.String()
	}
	return rd + ":" + n.Prefix.String()
}

// evpnKey leaves out the fields RFC 7432 does not use for route
// uniqueness, labels in particular.
func evpnKey(nlri bgp.AddrPrefixInterface) string {
	n, ok := nlri.(*evpn.EVPNNLRI)
	if !ok {
		return nlri.String()
	}
	switch r := n.RouteTypeData.(type) {
	case *evpn.EVPNEthernetAutoDiscoveryRoute:
		return fmt.Sprintf("1:%s:%s:%d", r.Distinguisher, r.ESI, r.ETag)
	case *evpn.EVPNMacIPAdvertisementRoute:
		return fmt.Sprintf("2:%s:%d:%s:%s", r.Distinguisher, r.ETag, r.MacAddress, r.IPAddress)
	case *evpn.EVPNMulticastEthernetTagRoute:
		return fmt.Sprintf("3:%s:%d:%s", r.Distinguisher, r.ETag, r.IPAddress)
	case *evpn.EVPNEthernetSegmentRoute:
		return fmt.Sprintf("4:%s:%s:%s", r.Distinguisher, r.ESI, r.IPAddress)
	}
	return n.String()
}

var ribSupports = map[bgp.Family]*ribSupport{
	bgp.RF_IPv4_UC:    {family: bgp.RF_IPv4_UC, key: ipKey, prefix: ipPrefix},
	bgp.RF_IPv6_UC:    {family: bgp.RF_IPv6_UC, key: ipKey, prefix: ipPrefix},
	bgp.RF_IPv4_MPLS:  {family: bgp.RF_IPv4_MPLS, complex: true, key: ipKey, prefix: ipPrefix},
	bgp.RF_IPv6_MPLS:  {family: bgp.RF_IPv6_MPLS, complex: true, key: ipKey, prefix: ipPrefix},
	bgp.RF_IPv4_VPN:   {family: bgp.RF_IPv4_VPN, complex: true, key: vpnKey},
	bgp.RF_IPv6_VPN:   {family: bgp.RF_IPv6_VPN, complex: true, key: vpnKey},
	bgp.RF_RTC_UC:     {family: bgp.RF_RTC_UC, key: stringKey},
	bgp.RF_EVPN:       {family: bgp.RF_EVPN, complex: true, key: evpnKey},
	bgp.RF_FS_IPv4_UC: {family: bgp.RF_FS_IPv4_UC, key: stringKey},
	bgp.RF_FS_IPv6_UC: {family: bgp.RF_FS_IPv6_UC, key: stringKey},
}

// NewRIBSupport returns the support of f. Families without one cannot
// have a table.
func NewRIBSupport(f bgp.Family) (RIBSupport, error) {
	s, ok := ribSupports[f]
	if !ok {
		return nil, fmt.Errorf("no rib support for family %s", f)
	}
	return s, nil
}

func SupportedFamilies() []bgp.Family {
	families := make([]bgp.Family, 0, len(ribSupports))
	for f := range ribSupports {
		families = append(families, f)
	}
	return families
}

func newRouteEntry(s RIBSupport, dest bgp.AddrPrefixInterface, policy Policy, opts SelectionOptions) RouteEntry {
	if s.Complex() {
		return NewComplexEntry(dest, policy, opts)
	}
	return NewSimpleEntry(dest, policy, opts)
}
