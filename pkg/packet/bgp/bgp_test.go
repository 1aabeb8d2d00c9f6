// Copyright (C) 2016-2024 Nippon Telegraph and Telephone Corporation.
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
	"bytes"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/log"
)

func newTestContext(t *testing.T) (*ExtensionContext, *log.TestLogger) {
	logger := log.NewTestLogger()
	c := NewExtensionContext(logger)
	regs := c.Activate(BaseActivator{})
	t.Cleanup(regs.Close)
	return c, logger
}

func bgpMessage(typ uint8, body ...byte) []byte {
	b := bytes.Repeat([]byte{0xff}, 16)
	l := BGP_HEADER_LENGTH + len(body)
	b = append(b, byte(l>>8), byte(l), typ)
	return append(b, body...)
}

func requireMessageError(t *testing.T, err error, code, subcode uint8) *MessageError {
	t.Helper()
	require.Error(t, err)
	var me *MessageError
	require.True(t, errors.As(err, &me), "%v is not a MessageError", err)
	assert.Equal(t, code, me.TypeCode)
	assert.Equal(t, subcode, me.SubTypeCode)
	return me
}

func prefix(s string) *IPAddrPrefix {
	return NewIPAddrPrefix(netip.MustParsePrefix(s))
}

func testOpen() *BGPMessage {
	return NewBGPOpenMessage(4200000001, 90, netip.MustParseAddr("192.0.2.1"), []ParameterCapabilityInterface{
		NewCapMultiProtocol(RF_IPv4_UC),
		NewCapMultiProtocol(RF_IPv6_UC),
		&CapRouteRefresh{},
		&CapEnhancedRouteRefresh{},
		&CapExtendedMessage{},
		NewCapFourOctetASNumber(4200000001),
		NewCapAddPath(&CapAddPathTuple{Family: RF_IPv4_UC, Mode: BGP_ADD_PATH_BOTH}),
		&CapGracefulRestart{Flags: 0x8, Time: 120, Tuples: []*CapGracefulRestartTuple{{Family: RF_IPv4_UC, Flags: 0x80}}},
	})
}

func testUpdate() *BGPMessage {
	attrs := []PathAttributeInterface{
		NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_IGP),
		NewPathAttributeAsPath([]*AsPathParam{
			NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001, 4200000000}),
			NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SET, []uint32{65003, 65004}),
		}),
		NewPathAttributeNextHop(netip.MustParseAddr("192.0.2.1")),
		NewPathAttributeMultiExitDisc(10),
		NewPathAttributeLocalPref(200),
		NewPathAttributeAtomicAggregate(),
		NewPathAttributeAggregator(65001, netip.MustParseAddr("192.0.2.2")),
		NewPathAttributeCommunities([]uint32{COMMUNITY_NO_EXPORT, 65001<<16 | 100}),
		NewPathAttributeOriginatorId(netip.MustParseAddr("192.0.2.3")),
		NewPathAttributeClusterList([]netip.Addr{netip.MustParseAddr("192.0.2.4")}),
		NewPathAttributeExtendedCommunities([]ExtendedCommunityInterface{
			NewTwoOctetAsSpecificExtended(EC_SUBTYPE_ROUTE_TARGET, 65001, 100, true),
			NewIPv4AddressSpecificExtended(EC_SUBTYPE_ROUTE_ORIGIN, netip.MustParseAddr("192.0.2.5"), 7, true),
			NewFourOctetAsSpecificExtended(EC_SUBTYPE_ROUTE_TARGET, 4200000000, 1, false),
			&OpaqueExtended{SubType: EC_SUBTYPE_COLOR, Value: [6]byte{0, 0, 0, 0, 0, 100}, IsTransitive: true},
			&LinkBandwidthExtended{AS: 65001, Bandwidth: 125000},
		}),
		NewPathAttributeLargeCommunities([]*LargeCommunity{{ASN: 4200000000, LocalData1: 1, LocalData2: 2}}),
	}
	return NewBGPUpdateMessage(
		[]AddrPrefixInterface{prefix("10.2.0.0/24")},
		attrs,
		[]AddrPrefixInterface{prefix("10.1.0.0/16"), prefix("10.3.0.0/24")},
	)
}

func testMpUpdate() *BGPMessage {
	reach := NewPathAttributeMpReachNLRI(RF_IPv6_UC, netip.MustParseAddr("2001:db8::1"), []AddrPrefixInterface{prefix("2001:db8:1::/48")})
	reach.LinkLocalNexthop = netip.MustParseAddr("fe80::1")
	return NewBGPUpdateMessage(nil, []PathAttributeInterface{
		NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_INCOMPLETE),
		NewPathAttributeAsPath(nil),
		reach,
		NewPathAttributeMpUnreachNLRI(RF_IPv6_UC, []AddrPrefixInterface{prefix("2001:db8:2::/48")}),
	}, nil)
}

func Test_MessageRoundTrip(t *testing.T) {
	c, _ := newTestContext(t)
	l := []*BGPMessage{
		NewBGPKeepAliveMessage(),
		NewBGPNotificationMessage(BGP_ERROR_CEASE, BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN, []byte{3, 'b', 'y', 'e'}),
		NewBGPRouteRefreshMessage(AFI_IP6, 0, SAFI_UNICAST),
		testOpen(),
		testUpdate(),
		testMpUpdate(),
		NewEndOfRib(RF_IPv4_UC),
		NewEndOfRib(RF_IPv6_UC),
	}
	for _, m1 := range l {
		buf, err := c.SerializeMessage(m1, nil)
		require.NoError(t, err)
		assert.Equal(t, int(m1.Header.Len), len(buf))

		m2, err := c.ParseMessage(buf, nil)
		require.NoError(t, err)
		assert.Equal(t, m1, m2)
	}
}

func Test_KeepAliveBytes(t *testing.T) {
	c, _ := newTestContext(t)
	buf, err := c.SerializeMessage(NewBGPKeepAliveMessage(), nil)
	require.NoError(t, err)
	assert.Equal(t, bgpMessage(BGP_MSG_KEEPALIVE), buf)
}

func Test_UpdateNLRIHelpers(t *testing.T) {
	c, _ := newTestContext(t)
	buf, err := c.SerializeMessage(testMpUpdate(), nil)
	require.NoError(t, err)
	m, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)

	u := m.Body.(*BGPUpdate)
	assert.Equal(t, []AddrPrefixInterface{prefix("2001:db8:1::/48")}, u.Reachable())
	assert.Equal(t, []AddrPrefixInterface{prefix("2001:db8:2::/48")}, u.Unreachable())
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), u.NextHop(RF_IPv6_UC))
	assert.Len(t, u.RouteAttributes(), 2)
	_, eor := u.IsEndOfRib()
	assert.False(t, eor)

	eorMsg := NewEndOfRib(RF_IPv6_UC)
	f, ok := eorMsg.Body.(*BGPUpdate).IsEndOfRib()
	assert.True(t, ok)
	assert.Equal(t, RF_IPv6_UC, f)
}

func Test_AddPathNLRI(t *testing.T) {
	c, _ := newTestContext(t)
	opts := &MarshallingOption{AddPath: map[Family]BGPAddPathMode{RF_IPv4_UC: BGP_ADD_PATH_BOTH}}
	p := prefix("10.1.2.0/24")
	p.SetPathIdentifier(33)

	buf, err := c.SerializeMessage(NewBGPUpdateMessage(nil, nil, []AddrPrefixInterface{p}), opts)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 33, 24, 10, 1, 2}, buf[BGP_HEADER_LENGTH:])

	m, err := c.ParseMessage(buf, opts)
	require.NoError(t, err)
	nlri := m.Body.(*BGPUpdate).NLRI
	require.Len(t, nlri, 1)
	assert.Equal(t, uint32(33), nlri[0].PathIdentifier())
	assert.Equal(t, "10.1.2.0/24", nlri[0].String())

	// without add-path the identifier is read as prefix lengths and 33
	// overflows IPv4
	_, err = c.ParseMessage(buf, nil)
	requireMessageError(t, err, BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_INVALID_NETWORK_FIELD)
}

func Test_AS2Encoding(t *testing.T) {
	c, _ := newTestContext(t)
	opts := &MarshallingOption{AS2: true}
	m := NewBGPUpdateMessage(nil, []PathAttributeInterface{
		NewPathAttributeAsPath([]*AsPathParam{NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001, 4200000000})}),
		NewPathAttributeAggregator(4200000000, netip.MustParseAddr("192.0.2.1")),
	}, nil)
	buf, err := c.SerializeMessage(m, opts)
	require.NoError(t, err)

	m2, err := c.ParseMessage(buf, opts)
	require.NoError(t, err)
	u := m2.Body.(*BGPUpdate)
	assert.Equal(t, []uint32{65001, AS_TRANS}, u.PathAttribute(BGP_ATTR_TYPE_AS_PATH).(*PathAttributeAsPath).Value[0].AS)
	assert.Equal(t, uint32(AS_TRANS), u.PathAttribute(BGP_ATTR_TYPE_AGGREGATOR).(*PathAttributeAggregator).AS)
}

func Test_AsPathLength(t *testing.T) {
	p := NewPathAttributeAsPath([]*AsPathParam{
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_CONFED_SEQ, []uint32{64512, 64513}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001, 65002}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SET, []uint32{65003, 65004, 65005}),
	})
	assert.Equal(t, 3, p.PathLength())
	assert.Equal(t, uint32(65001), p.FirstAS())
	assert.True(t, p.Contains(65004))
	assert.False(t, p.Contains(65006))
	assert.Equal(t, "{AsPath: (64512 64513) 65001 65002 {65003,65004,65005}}", p.String())
	assert.Equal(t, uint32(0), NewPathAttributeAsPath(nil).FirstAS())

	p = NewPathAttributeAsPath([]*AsPathParam{
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{1}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SET, []uint32{2, 3}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{4}),
		NewAsPathParam(BGP_ASPATH_ATTR_TYPE_SET, []uint32{5, 6}),
	})
	assert.Equal(t, 4, p.PathLength())
	assert.Equal(t, 0, NewPathAttributeAsPath(nil).PathLength())
}

func Test_HeaderErrors(t *testing.T) {
	c, _ := newTestContext(t)

	short := bgpMessage(BGP_MSG_KEEPALIVE)
	short[17] = 18
	me := requireMessageError(t, func() error { _, err := c.ParseMessage(short, nil); return err }(), BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH)
	assert.Equal(t, []byte{0, 18}, me.Data())

	marker := bgpMessage(BGP_MSG_KEEPALIVE)
	marker[3] = 0
	_, err := c.ParseMessage(marker, nil)
	requireMessageError(t, err, BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED)

	_, err = c.ParseMessage(bgpMessage(9), nil)
	me = requireMessageError(t, err, BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE)
	assert.Equal(t, []byte{9}, me.Data())

	_, err = c.ParseMessage(bgpMessage(BGP_MSG_KEEPALIVE, 0), nil)
	me = requireMessageError(t, err, BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH)
	assert.Equal(t, []byte{0, 20}, me.Data())

	_, err = c.ParseMessage(bgpMessage(BGP_MSG_ROUTE_REFRESH, 0, 1, 0), nil)
	requireMessageError(t, err, BGP_ERROR_ROUTE_REFRESH_MESSAGE_ERROR, BGP_ERROR_SUB_INVALID_MESSAGE_LENGTH)
}

func Test_ExtendedMessageLength(t *testing.T) {
	c, _ := newTestContext(t)
	body := append([]byte{BGP_ERROR_CEASE, 0}, make([]byte, 4097-BGP_HEADER_LENGTH-2)...)
	buf := bgpMessage(BGP_MSG_NOTIFICATION, body...)
	require.Len(t, buf, 4097)

	_, err := c.ParseMessage(buf, nil)
	me := requireMessageError(t, err, BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH)
	assert.Equal(t, []byte{16, 1}, me.Data())

	m, err := c.ParseMessage(buf, &MarshallingOption{ExtendedMessage: true})
	require.NoError(t, err)
	assert.Equal(t, uint16(4097), m.Header.Len)

	_, err = c.SerializeMessage(m, nil)
	assert.Error(t, err)
}

func Test_UpdateInvalidOrigin(t *testing.T) {
	c, _ := newTestContext(t)
	m, err := c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 4, 0x40, 1, 1, 5), nil)
	require.NoError(t, err)
	u := m.Body.(*BGPUpdate)
	assert.Empty(t, u.PathAttributes)
	require.Len(t, u.Errors, 1)
	assert.Equal(t, uint8(BGP_ERROR_SUB_INVALID_ORIGIN_ATTRIBUTE), u.Errors[0].SubTypeCode)
	assert.Equal(t, []byte{0x40, 1, 1, 5}, u.Errors[0].Data())
	assert.Equal(t, ERROR_HANDLING_TREAT_AS_WITHDRAW, u.ErrorHandling())
}

func Test_UpdateAttributeFlags(t *testing.T) {
	c, _ := newTestContext(t)
	m, err := c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 4, 0xc0, 1, 1, 0), nil)
	require.NoError(t, err)
	u := m.Body.(*BGPUpdate)
	require.Len(t, u.Errors, 1)
	assert.Equal(t, uint8(BGP_ERROR_SUB_ATTRIBUTE_FLAGS_ERROR), u.Errors[0].SubTypeCode)
}

func Test_UpdateAggregatorDiscard(t *testing.T) {
	c, _ := newTestContext(t)
	m, err := c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 8, 0xc0, 7, 5, 1, 2, 3, 4, 5), nil)
	require.NoError(t, err)
	u := m.Body.(*BGPUpdate)
	require.Len(t, u.Errors, 1)
	assert.Equal(t, uint8(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR), u.Errors[0].SubTypeCode)
	assert.Equal(t, ERROR_HANDLING_ATTRIBUTE_DISCARD, u.ErrorHandling())
}

func Test_UpdateMissingWellKnown(t *testing.T) {
	c, _ := newTestContext(t)
	m, err := c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 4, 0x40, 1, 1, 0, 8, 10), nil)
	require.NoError(t, err)
	u := m.Body.(*BGPUpdate)
	require.Len(t, u.NLRI, 1)
	require.Len(t, u.Errors, 2)
	assert.Equal(t, uint8(BGP_ERROR_SUB_MISSING_WELL_KNOWN_ATTRIBUTE), u.Errors[0].SubTypeCode)
	assert.Equal(t, []byte{uint8(BGP_ATTR_TYPE_AS_PATH)}, u.Errors[0].Data())
	assert.Equal(t, []byte{uint8(BGP_ATTR_TYPE_NEXT_HOP)}, u.Errors[1].Data())
	assert.Equal(t, ERROR_HANDLING_TREAT_AS_WITHDRAW, u.ErrorHandling())
}

func Test_UpdateSessionResetErrors(t *testing.T) {
	c, _ := newTestContext(t)

	// unrecognized well-known attribute
	_, err := c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 3, 0x40, 99, 0), nil)
	me := requireMessageError(t, err, BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_UNRECOGNIZED_WELL_KNOWN_ATTRIBUTE)
	assert.Equal(t, []byte{0x40, 99, 0}, me.Data())

	// duplicate MP_UNREACH_NLRI
	dup := []byte{0x80, 15, 3, 0, 1, 1}
	_, err = c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, append(append([]byte{0, 0, 0, 12}, dup...), dup...)...), nil)
	requireMessageError(t, err, BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST)

	// attribute length overruns the attribute list
	_, err = c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 5, 0x40, 1, 10, 0, 0), nil)
	requireMessageError(t, err, BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR)

	// withdrawn routes length overruns the message
	_, err = c.ParseMessage(bgpMessage(BGP_MSG_UPDATE, 0, 9, 0, 0), nil)
	requireMessageError(t, err, BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST)
}

func Test_UpdateUnknownOptionalAttribute(t *testing.T) {
	c, logger := newTestContext(t)
	buf := bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 5, 0xc0, 99, 2, 1, 2)
	m, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	u := m.Body.(*BGPUpdate)
	require.Len(t, u.PathAttributes, 1)
	assert.Equal(t, &PathAttributeUnknown{PathAttribute: PathAttribute{Flags: 0xc0, Type: 99}, Value: []byte{1, 2}}, u.PathAttributes[0])
	assert.Contains(t, logger.Messages(log.DebugLevel), "unknown optional attribute, kept as opaque")

	out, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)
	assert.Equal(t, buf, out)
}

func Test_UnknownExtendedCommunity(t *testing.T) {
	c, logger := newTestContext(t)
	buf := bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 11, 0xc0, 16, 8, 0x80, 0x77, 1, 2, 3, 4, 5, 6)
	m, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	ext := m.Body.(*BGPUpdate).PathAttribute(BGP_ATTR_TYPE_EXTENDED_COMMUNITIES).(*PathAttributeExtendedCommunities)
	assert.Equal(t, []ExtendedCommunityInterface{&UnknownExtended{Type: 0x80, SubType: 0x77, Value: [6]byte{1, 2, 3, 4, 5, 6}}}, ext.Value)
	assert.Contains(t, logger.Messages(log.DebugLevel), "unknown extended community, kept as opaque")

	out, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)
	assert.Equal(t, buf, out)
}

func Test_ExtendedLengthAttribute(t *testing.T) {
	c, _ := newTestContext(t)
	comms := make([]uint32, 70)
	for i := range comms {
		comms[i] = 65001<<16 | uint32(i)
	}
	buf, err := c.SerializeMessage(NewBGPUpdateMessage(nil, []PathAttributeInterface{NewPathAttributeCommunities(comms)}, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, byte(BGP_ATTR_FLAG_OPTIONAL|BGP_ATTR_FLAG_TRANSITIVE|BGP_ATTR_FLAG_EXTENDED_LENGTH), buf[BGP_HEADER_LENGTH+4])

	m, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, comms, m.Body.(*BGPUpdate).PathAttributes[0].(*PathAttributeCommunities).Value)
}

func Test_OpenErrors(t *testing.T) {
	c, _ := newTestContext(t)

	_, err := c.ParseMessage(bgpMessage(BGP_MSG_OPEN, 4, 0xfd, 0xe9, 0, 1, 192, 0, 2, 1, 0), nil)
	requireMessageError(t, err, BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNACCEPTABLE_HOLD_TIME)

	_, err = c.ParseMessage(bgpMessage(BGP_MSG_OPEN, 3, 0xfd, 0xe9, 0, 90, 192, 0, 2, 1, 0), nil)
	requireMessageError(t, err, BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_VERSION_NUMBER)

	_, err = c.ParseMessage(bgpMessage(BGP_MSG_OPEN, 4, 0xfd, 0xe9, 0, 90, 192, 0, 2, 1, 2, 9, 0), nil)
	requireMessageError(t, err, BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER)
}

func Test_OpenUnknownCapability(t *testing.T) {
	c, _ := newTestContext(t)
	buf := bgpMessage(BGP_MSG_OPEN, 4, 0xfd, 0xe9, 0, 180, 192, 0, 2, 1, 6, 2, 4, 99, 2, 0xaa, 0xbb)
	m, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	open := m.Body.(*BGPOpen)
	assert.Equal(t, []ParameterCapabilityInterface{&CapUnknown{CapCode: 99, CapValue: []byte{0xaa, 0xbb}}}, open.Capabilities())
	assert.Equal(t, uint32(65001), open.AS())
	assert.Equal(t, []Family{RF_IPv4_UC}, open.Families())

	out, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)
	assert.Equal(t, buf, out)
}

func Test_NegotiatedOption(t *testing.T) {
	local := NewBGPOpenMessage(65001, 90, netip.MustParseAddr("192.0.2.1"), []ParameterCapabilityInterface{
		NewCapFourOctetASNumber(65001),
		&CapExtendedMessage{},
		NewCapAddPath(
			&CapAddPathTuple{Family: RF_IPv4_UC, Mode: BGP_ADD_PATH_BOTH},
			&CapAddPathTuple{Family: RF_IPv6_UC, Mode: BGP_ADD_PATH_RECEIVE},
		),
	}).Body.(*BGPOpen)
	remote := NewBGPOpenMessage(65002, 90, netip.MustParseAddr("192.0.2.2"), []ParameterCapabilityInterface{
		NewCapFourOctetASNumber(65002),
		NewCapAddPath(
			&CapAddPathTuple{Family: RF_IPv4_UC, Mode: BGP_ADD_PATH_SEND},
			&CapAddPathTuple{Family: RF_IPv6_UC, Mode: BGP_ADD_PATH_RECEIVE},
		),
	}).Body.(*BGPOpen)

	opt := NegotiatedOption(local, remote)
	assert.False(t, opt.AS2)
	assert.False(t, opt.ExtendedMessage)
	assert.Equal(t, map[Family]BGPAddPathMode{RF_IPv4_UC: BGP_ADD_PATH_RECEIVE}, opt.AddPath)

	legacy := NewBGPOpenMessage(65003, 90, netip.MustParseAddr("192.0.2.3"), nil).Body.(*BGPOpen)
	assert.True(t, NegotiatedOption(local, legacy).AS2)
}

func Test_NotificationFromError(t *testing.T) {
	c, _ := newTestContext(t)
	_, err := c.ParseMessage(bgpMessage(9), nil)
	var me *MessageError
	require.True(t, errors.As(err, &me))

	buf, err := c.SerializeMessage(me.Notification(), nil)
	require.NoError(t, err)
	m, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	n := m.Body.(*BGPNotification)
	assert.Equal(t, NewNotificationErrorCode(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE), n.Code())
	assert.Equal(t, []byte{9}, n.Data)
}

func Test_RegistrationsClose(t *testing.T) {
	c := NewExtensionContext(nil)
	regs := c.Activate(BaseActivator{})
	_, err := c.ParseMessage(bgpMessage(BGP_MSG_KEEPALIVE), nil)
	require.NoError(t, err)

	regs.Close()
	_, err = c.ParseMessage(bgpMessage(BGP_MSG_KEEPALIVE), nil)
	requireMessageError(t, err, BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE)
	assert.Empty(t, c.Families())

	// a second activation after close starts from a clean table
	regs = c.Activate(BaseActivator{})
	defer regs.Close()
	assert.Equal(t, []Family{RF_IPv4_UC, RF_IPv6_UC}, c.Families())
}

type attrWithoutSerializer struct {
	PathAttribute
}

func (a *attrWithoutSerializer) String() string { return "{Unregistered}" }

type extWithoutSerializer struct{}

func (*extWithoutSerializer) GetTypes() (ExtendedCommunityAttrType, ExtendedCommunityAttrSubType) {
	return 0x7f, 0x7f
}
func (*extWithoutSerializer) String() string { return "unregistered" }

type capWithoutSerializer struct{}

func (*capWithoutSerializer) Code() BGPCapabilityCode { return 0xf0 }

func Test_SerializeSkipsUnregisteredAttribute(t *testing.T) {
	c, logger := newTestContext(t)
	m := NewBGPUpdateMessage(nil, []PathAttributeInterface{
		NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_IGP),
		&attrWithoutSerializer{PathAttribute: PathAttribute{Flags: BGP_ATTR_FLAG_OPTIONAL, Type: 250}},
	}, nil)
	b, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)
	assert.Equal(t, bgpMessage(BGP_MSG_UPDATE, 0, 0, 0, 4, uint8(PathAttrFlags[BGP_ATTR_TYPE_ORIGIN]), uint8(BGP_ATTR_TYPE_ORIGIN), 1, BGP_ORIGIN_ATTR_TYPE_IGP), b)
	assert.Len(t, b, 27)
	assert.Contains(t, logger.Messages(log.DebugLevel), "attribute without serializer, skipped")
}

func Test_SerializeSkipsUnregisteredExtendedCommunity(t *testing.T) {
	c, _ := newTestContext(t)
	rt := NewTwoOctetAsSpecificExtended(EC_SUBTYPE_ROUTE_TARGET, 65001, 100, true)
	m := NewBGPUpdateMessage(nil, []PathAttributeInterface{
		NewPathAttributeOrigin(BGP_ORIGIN_ATTR_TYPE_IGP),
		NewPathAttributeExtendedCommunities([]ExtendedCommunityInterface{&extWithoutSerializer{}, rt}),
	}, nil)
	b, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)

	parsed, err := c.ParseMessage(b, nil)
	require.NoError(t, err)
	attrs := parsed.Body.(*BGPUpdate).PathAttributes
	require.Len(t, attrs, 2)
	assert.Equal(t, NewPathAttributeExtendedCommunities([]ExtendedCommunityInterface{rt}), attrs[1])
}

func Test_SerializeSkipsUnregisteredCapability(t *testing.T) {
	c, _ := newTestContext(t)
	m := NewBGPOpenMessage(65001, 90, netip.MustParseAddr("192.0.2.1"), []ParameterCapabilityInterface{
		&capWithoutSerializer{},
		NewCapMultiProtocol(RF_IPv4_UC),
	})
	b, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)

	parsed, err := c.ParseMessage(b, nil)
	require.NoError(t, err)
	open := parsed.Body.(*BGPOpen)
	require.Len(t, open.OptParams, 1)
	assert.Equal(t, []ParameterCapabilityInterface{NewCapMultiProtocol(RF_IPv4_UC)}, open.OptParams[0].(*OptionParameterCapability).Capability)
}

func FuzzParseBGPMessage(f *testing.F) {
	c := NewExtensionContext(nil)
	c.Activate(BaseActivator{})
	for _, m := range []*BGPMessage{testOpen(), testUpdate(), testMpUpdate(), NewBGPKeepAliveMessage()} {
		buf, err := c.SerializeMessage(m, nil)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(buf)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := c.ParseMessage(data, nil)
		if err != nil {
			return
		}
		if _, err := c.SerializeMessage(m, nil); err != nil {
			t.Logf("re-encode: %v", err)
		}
	})
}
