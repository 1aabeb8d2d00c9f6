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

package bgp

import (
	"github.com/osrg/bgpcep/pkg/packet/registry"
)

// BaseActivator registers the RFC 4271 messages, the common capabilities
// and attributes, IPv4/IPv6 unicast and the generic extended communities.
type BaseActivator struct{}

func (BaseActivator) Start(c *ExtensionContext) registry.Registrations {
	var regs registry.Registrations
	add := func(r ...registry.Registration) {
		regs = append(regs, r...)
	}

	m := c.messages
	add(m.RegisterParser(BGP_MSG_OPEN, c.parseOpen), m.RegisterSerializer(&BGPOpen{}, c.serializeOpen))
	add(m.RegisterParser(BGP_MSG_UPDATE, c.parseUpdate), m.RegisterSerializer(&BGPUpdate{}, c.serializeUpdate))
	add(m.RegisterParser(BGP_MSG_NOTIFICATION, parseNotification), m.RegisterSerializer(&BGPNotification{}, serializeNotification))
	add(m.RegisterParser(BGP_MSG_KEEPALIVE, parseKeepAlive), m.RegisterSerializer(&BGPKeepAlive{}, serializeKeepAlive))
	add(m.RegisterParser(BGP_MSG_ROUTE_REFRESH, parseRouteRefresh), m.RegisterSerializer(&BGPRouteRefresh{}, serializeRouteRefresh))

	caps := c.capabilities
	add(caps.RegisterParser(BGP_CAP_MULTIPROTOCOL, parseCapMultiProtocol), caps.RegisterSerializer(&CapMultiProtocol{}, serializeCapMultiProtocol))
	for _, sample := range []ParameterCapabilityInterface{&CapRouteRefresh{}, &CapEnhancedRouteRefresh{}, &CapExtendedMessage{}} {
		p, s := emptyCapability(sample)
		add(caps.RegisterParser(sample.Code(), p), caps.RegisterSerializer(sample, s))
	}
	add(caps.RegisterParser(BGP_CAP_FOUR_OCTET_AS_NUMBER, parseCapFourOctetASNumber), caps.RegisterSerializer(&CapFourOctetASNumber{}, serializeCapFourOctetASNumber))
	add(caps.RegisterParser(BGP_CAP_ADD_PATH, parseCapAddPath), caps.RegisterSerializer(&CapAddPath{}, serializeCapAddPath))
	add(caps.RegisterParser(BGP_CAP_GRACEFUL_RESTART, parseCapGracefulRestart), caps.RegisterSerializer(&CapGracefulRestart{}, serializeCapGracefulRestart))
	add(caps.RegisterSerializer(&CapUnknown{}, serializeCapUnknown))

	a := c.attributes
	for _, e := range []struct {
		t      BGPAttrType
		p      registry.ParserFunc[*MarshallingOption, PathAttributeInterface]
		sample PathAttributeInterface
		s      registry.SerializerFunc[*MarshallingOption, PathAttributeInterface]
	}{
		{BGP_ATTR_TYPE_ORIGIN, parseOrigin, &PathAttributeOrigin{}, serializeOrigin},
		{BGP_ATTR_TYPE_AS_PATH, parseAsPath, &PathAttributeAsPath{}, serializeAsPath},
		{BGP_ATTR_TYPE_NEXT_HOP, parseNextHop, &PathAttributeNextHop{}, serializeNextHop},
		{BGP_ATTR_TYPE_MULTI_EXIT_DISC, parseMultiExitDisc, &PathAttributeMultiExitDisc{}, serializeMultiExitDisc},
		{BGP_ATTR_TYPE_LOCAL_PREF, parseLocalPref, &PathAttributeLocalPref{}, serializeLocalPref},
		{BGP_ATTR_TYPE_ATOMIC_AGGREGATE, parseAtomicAggregate, &PathAttributeAtomicAggregate{}, serializeAtomicAggregate},
		{BGP_ATTR_TYPE_AGGREGATOR, parseAggregator, &PathAttributeAggregator{}, serializeAggregator},
		{BGP_ATTR_TYPE_COMMUNITIES, parseCommunities, &PathAttributeCommunities{}, serializeCommunities},
		{BGP_ATTR_TYPE_ORIGINATOR_ID, parseOriginatorId, &PathAttributeOriginatorId{}, serializeOriginatorId},
		{BGP_ATTR_TYPE_CLUSTER_LIST, parseClusterList, &PathAttributeClusterList{}, serializeClusterList},
		{BGP_ATTR_TYPE_MP_REACH_NLRI, c.parseMpReachNLRI, &PathAttributeMpReachNLRI{}, c.serializeMpReachNLRI},
		{BGP_ATTR_TYPE_MP_UNREACH_NLRI, c.parseMpUnreachNLRI, &PathAttributeMpUnreachNLRI{}, c.serializeMpUnreachNLRI},
		{BGP_ATTR_TYPE_EXTENDED_COMMUNITIES, c.parseExtendedCommunities, &PathAttributeExtendedCommunities{}, c.serializeExtendedCommunities},
		{BGP_ATTR_TYPE_AS4_PATH, parseAs4Path, &PathAttributeAs4Path{}, serializeAs4Path},
		{BGP_ATTR_TYPE_AS4_AGGREGATOR, parseAs4Aggregator, &PathAttributeAs4Aggregator{}, serializeAs4Aggregator},
		{BGP_ATTR_TYPE_LARGE_COMMUNITY, parseLargeCommunities, &PathAttributeLargeCommunities{}, serializeLargeCommunities},
	} {
		add(a.RegisterParser(e.t, e.p), a.RegisterSerializer(e.sample, e.s))
	}
	add(a.RegisterSerializer(&PathAttributeUnknown{}, serializeUnknownAttribute))

	add(c.RegisterNLRI(RF_IPv4_UC, ipPrefixParser(AFI_IP), &IPAddrPrefix{}, serializeIPAddrPrefix)...)
	add(c.RegisterNLRI(RF_IPv6_UC, ipPrefixParser(AFI_IP6), nil, nil)...)

	// One serializer per Go type; the first registration of each family
	// carries it.
	for i, transitive := range []bool{true, false} {
		two, ip4, four, opaque := EC_TYPE_TRANSITIVE_TWO_OCTET_AS_SPECIFIC, EC_TYPE_TRANSITIVE_IP4_SPECIFIC, EC_TYPE_TRANSITIVE_FOUR_OCTET_AS_SPECIFIC, EC_TYPE_TRANSITIVE_OPAQUE
		if !transitive {
			two, ip4, four, opaque = EC_TYPE_NON_TRANSITIVE_TWO_OCTET_AS_SPECIFIC, EC_TYPE_NON_TRANSITIVE_IP4_SPECIFIC, EC_TYPE_NON_TRANSITIVE_FOUR_OCTET_AS_SPECIFIC, EC_TYPE_NON_TRANSITIVE_OPAQUE
		}
		for j, st := range []ExtendedCommunityAttrSubType{EC_SUBTYPE_ROUTE_TARGET, EC_SUBTYPE_ROUTE_ORIGIN} {
			first := i == 0 && j == 0
			add(c.RegisterExtendedCommunity(two, st, twoOctetAsParser(st, transitive), sampleIf(first, &TwoOctetAsSpecificExtended{}), serializeTwoOctetAs)...)
			add(c.RegisterExtendedCommunity(ip4, st, ipv4SpecificParser(st, transitive), sampleIf(first, &IPv4AddressSpecificExtended{}), serializeIPv4Specific)...)
			add(c.RegisterExtendedCommunity(four, st, fourOctetAsParser(st, transitive), sampleIf(first, &FourOctetAsSpecificExtended{}), serializeFourOctetAs)...)
		}
		for j, st := range []ExtendedCommunityAttrSubType{EC_SUBTYPE_COLOR, EC_SUBTYPE_ENCAPSULATION} {
			add(c.RegisterExtendedCommunity(opaque, st, opaqueParser(st, transitive), sampleIf(i == 0 && j == 0, &OpaqueExtended{}), serializeOpaque)...)
		}
	}
	add(c.RegisterExtendedCommunity(EC_TYPE_NON_TRANSITIVE_TWO_OCTET_AS_SPECIFIC, EC_SUBTYPE_LINK_BANDWIDTH, parseLinkBandwidth, &LinkBandwidthExtended{}, serializeLinkBandwidth)...)
	add(c.extCommunities.RegisterSerializer(&UnknownExtended{}, serializeUnknownExtended))
	return regs
}

func sampleIf(ok bool, sample ExtendedCommunityInterface) ExtendedCommunityInterface {
	if ok {
		return sample
	}
	return nil
}
