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

package server

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bmp"
)

// monitoredRouter speaks BMP to a station.
type monitoredRouter struct {
	t    *testing.T
	conn net.Conn
	ctx  *bmp.ExtensionContext
}

func dialStation(t *testing.T, port uint16) *monitoredRouter {
	bgpCtx := bgp.NewExtensionContext(log.NewTestLogger())
	t.Cleanup(bgpCtx.Activate(bgp.BaseActivator{}).Close)
	ctx := bmp.NewExtensionContext(log.NewTestLogger(), bgpCtx)
	t.Cleanup(ctx.Activate(bmp.BaseActivator{}).Close)

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &monitoredRouter{t: t, conn: conn, ctx: ctx}
}

func (r *monitoredRouter) write(m *bmp.BMPMessage) {
	b, err := r.ctx.SerializeMessage(m, nil)
	require.NoError(r.t, err)
	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = r.conn.Write(b)
	require.NoError(r.t, err)
}

func monitoredPeer(flags uint8) bmp.BMPPeerHeader {
	return *bmp.NewBMPPeerHeader(bmp.BMP_PEER_TYPE_GLOBAL, flags, 0, netip.MustParseAddr("192.0.2.1"), 65001, netip.MustParseAddr("192.0.2.1"), time.Now())
}

func testOpen(as uint32, id string) *bgp.BGPMessage {
	return bgp.NewBGPOpenMessage(as, 90, netip.MustParseAddr(id), []bgp.ParameterCapabilityInterface{
		bgp.NewCapMultiProtocol(bgp.RF_IPv4_UC),
		bgp.NewCapFourOctetASNumber(as),
	})
}

func bmpRouters(t *testing.T, s *BgpServer) []*BmpRouterState {
	var l []*BmpRouterState
	require.NoError(t, s.ListBmpRouter(context.Background(), func(r *BmpRouterState) { l = append(l, r) }))
	return l
}

func TestBmpStationRequiresBgp(t *testing.T) {
	s := newTestServer(t)
	assert.Error(t, s.AddBmpStation(context.Background(), config.BmpStation{Address: "127.0.0.1", Port: uint32(freePort(t))}))
}

func TestBmpStation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.StartBgp(ctx, testGlobal(-1)))

	port := freePort(t)
	station := config.BmpStation{Address: "127.0.0.1", Port: uint32(port)}
	require.NoError(t, s.AddBmpStation(ctx, station))
	assert.Error(t, s.AddBmpStation(ctx, station))

	w, err := s.WatchEvent(ctx, WatchBmp())
	require.NoError(t, err)
	defer w.Stop()

	r := dialStation(t, port)
	r.write(bmp.NewBMPInitiation([]bmp.BMPTLVInterface{
		bmp.NewBMPTLVString(bmp.BMP_INIT_TLV_TYPE_SYS_NAME, "r1"),
		bmp.NewBMPTLVString(bmp.BMP_INIT_TLV_TYPE_SYS_DESCR, "edge router"),
	}))
	r.write(bmp.NewBMPPeerUpNotification(monitoredPeer(0), netip.MustParseAddr("192.0.2.254"), 179, 40000,
		testOpen(65000, "10.0.0.1"), testOpen(65001, "192.0.2.1")))
	r.write(bmp.NewBMPRouteMonitoring(monitoredPeer(0), testUpdate("198.51.100.0/24")))
	r.write(bmp.NewBMPRouteMonitoring(monitoredPeer(bmp.BMP_PEER_FLAG_POST_POLICY), testUpdate("203.0.113.0/24")))
	r.write(bmp.NewBMPRouteMonitoring(monitoredPeer(bmp.BMP_PEER_FLAG_ADJ_RIB_OUT), testUpdate("192.0.2.0/24")))

	pre := waitEvent(t, w, func(*WatchEventBmp) bool { return true })
	require.Len(t, pre.Updates, 1)
	assert.Equal(t, "198.51.100.0/24", pre.Updates[0].Key)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), pre.Router.Addr())
	post := waitEvent(t, w, func(*WatchEventBmp) bool { return true })
	require.Len(t, post.Updates, 1)
	assert.Equal(t, "203.0.113.0/24", post.Updates[0].Key)

	var st *BmpRouterState
	require.Eventually(t, func() bool {
		l := bmpRouters(t, s)
		if len(l) != 1 || l[0].Ignored != 1 {
			return false
		}
		st = l[0]
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "r1", st.SysName)
	assert.Equal(t, "edge router", st.SysDescr)
	assert.Equal(t, uint64(5), st.Messages)
	require.Len(t, st.Peers, 1)
	assert.Equal(t, uint32(65001), st.Peers[0].PeerInfo.AS)
	assert.Equal(t, uint32(65000), st.Peers[0].PeerInfo.LocalAS)
	require.Len(t, st.PrePolicy, 1)
	assert.Equal(t, 1, st.PrePolicy[0].Routes)
	require.Len(t, st.PostPolicy, 1)
	assert.Equal(t, 1, st.PostPolicy[0].Routes)

	var keys []string
	require.NoError(t, s.ListBmpPath(ctx, netip.MustParseAddr("127.0.0.1"), false, bgp.RF_IPv4_UC, func(d *table.Destination) {
		keys = append(keys, d.Key())
	}))
	assert.Equal(t, []string{"198.51.100.0/24"}, keys)
	assert.Error(t, s.ListBmpPath(ctx, netip.MustParseAddr("127.0.0.1"), false, bgp.RF_IPv6_UC, func(*table.Destination) {}))
	assert.Error(t, s.ListBmpPath(ctx, netip.MustParseAddr("10.9.9.9"), false, bgp.RF_IPv4_UC, func(*table.Destination) {}))

	// the routes of a peer that went down are withdrawn from both views
	r.write(bmp.NewBMPPeerDownNotification(monitoredPeer(0), bmp.BMP_PEER_DOWN_REASON_REMOTE_NO_NOTIFICATION, nil, nil))
	down := waitEvent(t, w, func(*WatchEventBmp) bool { return true })
	require.Len(t, down.Updates, 2)
	for _, u := range down.Updates {
		assert.Empty(t, u.Best)
	}

	r.write(bmp.NewBMPTermination([]bmp.BMPTLVInterface{
		bmp.NewBMPTLV16(bmp.BMP_TERM_TLV_TYPE_REASON, bmp.BMP_TERM_REASON_ADMIN),
	}))
	assert.Eventually(t, func() bool {
		return len(bmpRouters(t, s)) == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.DeleteBmpStation(ctx, station))
	assert.Error(t, s.DeleteBmpStation(ctx, station))
}

func TestBmpRouterDisconnect(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.StartBgp(ctx, testGlobal(-1)))
	port := freePort(t)
	require.NoError(t, s.AddBmpStation(ctx, config.BmpStation{Address: "127.0.0.1", Port: uint32(port)}))

	w, err := s.WatchEvent(ctx, WatchBmp())
	require.NoError(t, err)
	defer w.Stop()

	r := dialStation(t, port)
	// route monitoring without a peer up still learns the peer
	r.write(bmp.NewBMPRouteMonitoring(monitoredPeer(0), testUpdate("198.51.100.0/24")))
	waitEvent(t, w, func(*WatchEventBmp) bool { return true })
	r.conn.Close()

	gone := waitEvent(t, w, func(*WatchEventBmp) bool { return true })
	require.Len(t, gone.Updates, 1)
	assert.Empty(t, gone.Updates[0].Best)
	assert.Eventually(t, func() bool {
		return len(bmpRouters(t, s)) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
