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

package bmp

import (
	"bufio"
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

func newContext(t testing.TB) *ExtensionContext {
	logger := log.NewTestLogger()
	b := bgp.NewExtensionContext(logger)
	c := NewExtensionContext(logger, b)
	regs := append(b.Activate(bgp.BaseActivator{}), c.Activate(BaseActivator{})...)
	t.Cleanup(regs.Close)
	return c
}

func verify(t *testing.T, c *ExtensionContext, m1 *BMPMessage) {
	buf, err := c.SerializeMessage(m1, nil)
	require.NoError(t, err)
	assert.Equal(t, len(buf), m1.Len())

	m2, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

var stamp = time.Unix(1700000000, 123456000)

func peer(addr string, flags uint8) BMPPeerHeader {
	return *NewBMPPeerHeader(BMP_PEER_TYPE_GLOBAL, flags, 1000, netip.MustParseAddr(addr), 70000, netip.MustParseAddr("10.0.0.2"), stamp)
}

func testOpen(as uint32) *bgp.BGPMessage {
	return bgp.NewBGPOpenMessage(as, 90, netip.MustParseAddr("10.0.0.1"), []bgp.ParameterCapabilityInterface{
		bgp.NewCapMultiProtocol(bgp.RF_IPv4_UC),
		bgp.NewCapFourOctetASNumber(as),
	})
}

func testUpdate() *bgp.BGPMessage {
	return bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001, 65002})}),
		bgp.NewPathAttributeNextHop(netip.MustParseAddr("129.1.1.2")),
	}, []bgp.AddrPrefixInterface{bgp.NewIPAddrPrefix(netip.MustParsePrefix("10.10.10.0/24"))})
}

func Test_PeerHeader(t *testing.T) {
	p := peer("fe80::6e40:8ff:feab:2c2a", BMP_PEER_FLAG_POST_POLICY)
	assert.Equal(t, uint8(BMP_PEER_FLAG_IPV6|BMP_PEER_FLAG_POST_POLICY), p.Flags)
	assert.True(t, p.IsPostPolicy())
	assert.False(t, p.IsAdjRIBOut())
	assert.Equal(t, uint32(123456), p.TimestampMicro)
	assert.True(t, stamp.Equal(p.Time()))

	w := wire.NewWriter(BMP_PEER_HEADER_SIZE)
	p4 := peer("10.0.0.1", 0)
	p4.put(w)
	b := w.Bytes()
	require.Len(t, b, BMP_PEER_HEADER_SIZE)
	// IPv4 peer addresses are right justified
	assert.Equal(t, make([]byte, 12), b[10:22])
	assert.Equal(t, []byte{10, 0, 0, 1}, b[22:26])
}

func Test_Initiation(t *testing.T) {
	c := newContext(t)
	verify(t, c, NewBMPInitiation(nil))
	verify(t, c, NewBMPInitiation([]BMPTLVInterface{
		NewBMPTLVString(BMP_INIT_TLV_TYPE_STRING, "free-form UTF-8 string"),
		NewBMPTLVString(BMP_INIT_TLV_TYPE_SYS_NAME, "r1"),
		NewBMPTLVUnknown(0xff, []byte{0x01, 0x02, 0x03, 0x04}),
	}))
}

func Test_Termination(t *testing.T) {
	c := newContext(t)
	verify(t, c, NewBMPTermination(nil))
	m := NewBMPTermination([]BMPTLVInterface{
		NewBMPTLVString(BMP_TERM_TLV_TYPE_STRING, "free-form UTF-8 string"),
		NewBMPTLV16(BMP_TERM_TLV_TYPE_REASON, BMP_TERM_REASON_ADMIN),
		NewBMPTLVUnknown(0xff, []byte{0x01, 0x02, 0x03, 0x04}),
	})
	verify(t, c, m)
	reason, ok := m.Body.(*BMPTermination).Reason()
	assert.True(t, ok)
	assert.Equal(t, uint16(BMP_TERM_REASON_ADMIN), reason)
}

func Test_PeerUpNotification(t *testing.T) {
	c := newContext(t)
	verify(t, c, NewBMPPeerUpNotification(peer("10.0.0.1", 0), netip.MustParseAddr("10.0.0.3"), 10, 100, testOpen(65001), testOpen(70000)))

	m := NewBMPPeerUpNotification(peer("fe80::6e40:8ff:feab:2c2a", 0), netip.MustParseAddr("fe80::1"), 10, 100, testOpen(65001), testOpen(65002))
	m.Body.(*BMPPeerUpNotification).Info = []BMPTLVInterface{
		NewBMPTLVString(BMP_INIT_TLV_TYPE_STRING, "uplink"),
		NewBMPTLVString(BMP_PEER_UP_TLV_TYPE_VRF, "blue"),
	}
	verify(t, c, m)
	assert.Equal(t, "fe80::6e40:8ff:feab:2c2a", m.PeerHeader().PeerAddress.String())
}

func Test_PeerUpRequiresOpen(t *testing.T) {
	c := newContext(t)
	m := NewBMPPeerUpNotification(peer("10.0.0.1", 0), netip.MustParseAddr("10.0.0.3"), 10, 100, testOpen(65001), bgp.NewBGPKeepAliveMessage())
	buf, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)
	_, err = c.ParseMessage(buf, nil)
	assert.Error(t, err)
}

func Test_PeerDownNotification(t *testing.T) {
	c := newContext(t)
	p := peer("10.0.0.1", 0)
	verify(t, c, NewBMPPeerDownNotification(p, BMP_PEER_DOWN_REASON_LOCAL_NO_NOTIFICATION, nil, []byte{0x3, 0xb}))
	verify(t, c, NewBMPPeerDownNotification(p, BMP_PEER_DOWN_REASON_REMOTE_NO_NOTIFICATION, nil, nil))
	verify(t, c, NewBMPPeerDownNotification(p, BMP_PEER_DOWN_REASON_LOCAL_BGP_NOTIFICATION, bgp.NewBGPNotificationMessage(1, 2, nil), nil))
}

func Test_RouteMonitoring(t *testing.T) {
	c := newContext(t)
	verify(t, c, NewBMPRouteMonitoring(peer("fe80::6e40:8ff:feab:2c2a", 0), testUpdate()))

	p := peer("10.0.0.1", BMP_PEER_FLAG_ADJ_RIB_OUT)
	assert.True(t, p.IsAdjRIBOut())
	verify(t, c, NewBMPRouteMonitoring(p, testUpdate()))
}

func Test_RouteMonitoringTwoOctetAS(t *testing.T) {
	c := newContext(t)
	m := NewBMPRouteMonitoring(peer("10.0.0.1", BMP_PEER_FLAG_TWO_AS), testUpdate())
	buf, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)

	// the A flag selects 2 byte AS_PATH encoding: 3 header bytes, 2 segment
	// header bytes and 2 bytes per AS
	bgpUpdate := buf[BMP_HEADER_SIZE+BMP_PEER_HEADER_SIZE:]
	asPath := []byte{0x40, 2, 6, 2, 2, 0xfd, 0xe9, 0xfd, 0xea}
	assert.True(t, bytes.Contains(bgpUpdate, asPath))

	m2, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, m, m2)
}

func Test_RouteMonitoringAddPath(t *testing.T) {
	c := newContext(t)
	opts := &MarshallingOption{
		BGP: func(*BMPPeerHeader) *bgp.MarshallingOption {
			return &bgp.MarshallingOption{AddPath: map[bgp.Family]bgp.BGPAddPathMode{bgp.RF_IPv4_UC: bgp.BGP_ADD_PATH_BOTH}}
		},
	}
	u := testUpdate()
	nlri := u.Body.(*bgp.BGPUpdate).NLRI[0]
	nlri.SetPathIdentifier(10)
	m1 := NewBMPRouteMonitoring(peer("10.0.0.1", 0), u)

	buf, err := c.SerializeMessage(m1, opts)
	require.NoError(t, err)
	m2, err := c.ParseMessage(buf, opts)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
	assert.Equal(t, uint32(10), m2.Body.(*BMPRouteMonitoring).BGPUpdate.Body.(*bgp.BGPUpdate).NLRI[0].PathIdentifier())
}

func Test_StatisticsReport(t *testing.T) {
	c := newContext(t)
	verify(t, c, NewBMPStatisticsReport(peer("10.0.0.1", 0), []BMPStatsTLVInterface{
		NewBMPStatsTLV32(BMP_STAT_TYPE_REJECTED, 100),
		NewBMPStatsTLV64(BMP_STAT_TYPE_ADJ_RIB_IN, 200),
		NewBMPStatsTLVPerAfiSafi64(BMP_STAT_TYPE_PER_AFI_SAFI_LOC_RIB, bgp.AFI_IP, bgp.SAFI_UNICAST, 300),
		&BMPStatsTLVUnknown{Type: 0x8000, Value: []byte{1, 2}},
	}))
	verify(t, c, NewBMPStatisticsReport(peer("10.0.0.1", BMP_PEER_FLAG_ADJ_RIB_OUT), []BMPStatsTLVInterface{
		NewBMPStatsTLV64(BMP_STAT_TYPE_ADJ_RIB_OUT_POST_POLICY, 200),
		NewBMPStatsTLVPerAfiSafi64(BMP_STAT_TYPE_PER_AFI_SAFI_ADJ_RIB_OUT_POST_POLICY, bgp.AFI_IP, bgp.SAFI_UNICAST, 300),
	}))
}

func Test_StatisticsReportUnknownType(t *testing.T) {
	c := newContext(t)
	data := []byte{0x03, 0x00, 0x00, 0x00, 0xe4, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x20, 0x01, 0x04, 0x70, 0x00, 0x00, 0x00, 0x1a, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x1b, 0x1b, 0xd8, 0xda, 0xfc, 0xa4, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x11, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x06, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x07, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x2b, 0xb5, 0x00, 0x08, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x2b, 0xb5, 0x7f, 0xff, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0xe8, 0x80, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0xeb, 0x80, 0x01, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x80, 0x02, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0xeb, 0x80, 0x03, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x16, 0x80, 0x04, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 0x54, 0x80, 0x05, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xc8, 0x80, 0x06, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 0xa0}
	m, err := c.ParseMessage(data, nil)
	require.NoError(t, err)

	s := m.Body.(*BMPStatisticsReport)
	assert.Equal(t, "2001:470:0:1a::1", s.PeerHeader.PeerAddress.String())
	require.Len(t, s.Stats, 17)
	assert.Equal(t, NewBMPStatsTLV64(BMP_STAT_TYPE_ADJ_RIB_IN, 0x12bb5), s.Stats[7])
	assert.IsType(t, &BMPStatsTLVUnknown{}, s.Stats[9])

	buf, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

type statWithoutSerializer struct{}

func (*statWithoutSerializer) StatType() uint16 { return 0x7ff0 }
func (*statWithoutSerializer) String() string   { return "unregistered" }

func Test_StatisticsReportSkipsUnregistered(t *testing.T) {
	c := newContext(t)
	rejected := NewBMPStatsTLV32(BMP_STAT_TYPE_REJECTED, 100)
	buf, err := c.SerializeMessage(NewBMPStatisticsReport(peer("10.0.0.1", 0), []BMPStatsTLVInterface{
		&statWithoutSerializer{},
		rejected,
	}), nil)
	require.NoError(t, err)

	m, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, []BMPStatsTLVInterface{rejected}, m.Body.(*BMPStatisticsReport).Stats)
}

func Test_RouteMirroring(t *testing.T) {
	c := newContext(t)
	verify(t, c, NewBMPRouteMirroring(peer("10.0.0.1", 0), []BMPTLVInterface{
		NewBMPTLV16(BMP_ROUTE_MIRRORING_TLV_TYPE_INFO, BMP_ROUTE_MIRRORING_INFO_MSG_LOST),
		NewBMPTLVUnknown(0xff, []byte{0x01, 0x02, 0x03, 0x04}),
		// the BGP message TLV comes last
		NewBMPTLVBGPMsg(BMP_ROUTE_MIRRORING_TLV_TYPE_BGP_MSG, testOpen(65001)),
	}))
}

type testBody struct {
	Value uint32
}

func (b *testBody) MessageType() uint8 { return 15 }

func Test_CustomMessageType(t *testing.T) {
	c := newContext(t)
	regs := c.Activate(ActivatorFunc(func(c *ExtensionContext) registry.Registrations {
		return registry.Registrations{
			c.Messages().RegisterParser(15, func(r *wire.Reader, _ *MarshallingOption) (BMPBody, error) {
				v, err := r.Uint32()
				if err != nil {
					return nil, err
				}
				return &testBody{Value: v}, nil
			}),
			c.Messages().RegisterSerializer(&testBody{}, func(v BMPBody, w *wire.Writer, _ *MarshallingOption) error {
				w.PutUint32(v.(*testBody).Value)
				return nil
			}),
		}
	}))
	defer regs.Close()

	data := []byte{0x03, 0x00, 0x00, 0x00, 0x0a, 0x0f, 0x00, 0x00, 0x01, 0x01}
	m, err := c.ParseMessage(data, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(257), m.Body.(*testBody).Value)
	assert.Nil(t, m.PeerHeader())

	buf, err := c.SerializeMessage(&BMPMessage{Body: &testBody{Value: 257}}, nil)
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

func Test_LengthValidation(t *testing.T) {
	c := newContext(t)
	buf, err := c.SerializeMessage(NewBMPRouteMonitoring(peer("10.0.0.1", 0), testUpdate()), nil)
	require.NoError(t, err)

	_, err = c.ParseMessage(buf[:len(buf)-1], nil)
	assert.Error(t, err)

	// trailing bytes after the declared length belong to the next message
	m, err := c.ParseMessage(append(buf, 0x03, 0x00), nil)
	require.NoError(t, err)
	assert.Equal(t, len(buf), m.Len())
}

func Test_BogusHeader(t *testing.T) {
	c := newContext(t)
	m, err := c.ParseMessage(make([]byte, 10), nil)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = c.ParseMessage([]byte{0x03, 0x00, 0x00, 0x00, 0x06, 0x63}, nil)
	assert.Error(t, err)
}

func Test_SplitBMP(t *testing.T) {
	c := newContext(t)
	var stream []byte
	for _, m := range []*BMPMessage{
		NewBMPInitiation([]BMPTLVInterface{NewBMPTLVString(BMP_INIT_TLV_TYPE_SYS_NAME, "r1")}),
		NewBMPRouteMonitoring(peer("10.0.0.1", 0), testUpdate()),
		NewBMPTermination(nil),
	} {
		b, err := c.SerializeMessage(m, nil)
		require.NoError(t, err)
		stream = append(stream, b...)
	}

	s := bufio.NewScanner(bytes.NewReader(stream))
	s.Split(SplitBMP)
	var types []uint8
	for s.Scan() {
		m, err := c.ParseMessage(s.Bytes(), nil)
		require.NoError(t, err)
		types = append(types, m.Header.Type)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []uint8{BMP_MSG_INITIATION, BMP_MSG_ROUTE_MONITORING, BMP_MSG_TERMINATION}, types)
}

func FuzzParseBMPMessage(f *testing.F) {
	c := newContext(f)
	f.Add([]byte{0x03, 0x00, 0x00, 0x00, 0x0a, 0x04, 0x00, 0x00, 0x00, 0x00})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = c.ParseMessage(data, nil)
	})
}
