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
	"io"
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
	"github.com/osrg/bgpcep/pkg/peering"
)

func freePort(t *testing.T) uint16 {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func newTestServer(t *testing.T) *BgpServer {
	s := NewBgpServer(LoggerOption(log.NewTestLogger()))
	go s.Serve()
	t.Cleanup(s.Shutdown)
	return s
}

func testGlobal(port int32) config.Global {
	return config.Global{
		As:              65000,
		RouterId:        "10.0.0.1",
		Port:            port,
		ListenAddresses: []string{"127.0.0.1"},
		AfiSafis:        []config.AfiSafi{{AfiSafiName: "ipv4-unicast"}},
	}
}

func testNeighbor(addr string) config.Neighbor {
	return config.Neighbor{
		NeighborAddress: addr,
		PeerAs:          65001,
		LocalAs:         65000,
		PassiveMode:     true,
		RemotePort:      bgp.BGP_PORT,
		Timers: config.Timers{
			ConnectRetry:           1,
			HoldTime:               90,
			KeepaliveInterval:      30,
			IdleHoldTimeAfterReset: 1,
		},
		AfiSafis: []config.AfiSafi{{AfiSafiName: "ipv4-unicast"}},
	}
}

func testUpdate(prefix string) *bgp.BGPMessage {
	return bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001})}),
		bgp.NewPathAttributeNextHop(netip.MustParseAddr("192.0.2.1")),
	}, []bgp.AddrPrefixInterface{bgp.NewIPAddrPrefix(netip.MustParsePrefix(prefix))})
}

// waitEvent returns the first event of type T accepted by match.
func waitEvent[T WatchEvent](t *testing.T, w Watcher, match func(T) bool) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Event():
			if e, ok := ev.(T); ok && match(e) {
				return e
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for an event")
		}
	}
}

func peerInState(state bgp.FSMState) func(*WatchEventPeer) bool {
	return func(e *WatchEventPeer) bool {
		return e.State == state
	}
}

// speaker is the remote end of a session with the server.
type speaker struct {
	t    *testing.T
	conn net.Conn
	ctx  *bgp.ExtensionContext
}

func dialSpeaker(t *testing.T, s *BgpServer, port uint16) *speaker {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &speaker{t: t, conn: conn, ctx: s.bgpCtx}
}

func (sp *speaker) write(m *bgp.BGPMessage) {
	b, err := sp.ctx.SerializeMessage(m, nil)
	require.NoError(sp.t, err)
	sp.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = sp.conn.Write(b)
	require.NoError(sp.t, err)
}

func (sp *speaker) read() *bgp.BGPMessage {
	sp.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	hdr := make([]byte, bgp.BGP_HEADER_LENGTH)
	_, err := io.ReadFull(sp.conn, hdr)
	require.NoError(sp.t, err)
	h, err := bgp.ReadHeader(hdr, bgp.BGP_MAX_MESSAGE_LENGTH)
	require.NoError(sp.t, err)
	body := make([]byte, int(h.Len)-bgp.BGP_HEADER_LENGTH)
	_, err = io.ReadFull(sp.conn, body)
	require.NoError(sp.t, err)
	m, err := sp.ctx.ParseBody(h, body, nil)
	require.NoError(sp.t, err)
	return m
}

// readNotification skips keepalives.
func (sp *speaker) readNotification() *bgp.BGPNotification {
	for {
		m := sp.read()
		if n, ok := m.Body.(*bgp.BGPNotification); ok {
			return n
		}
		require.Equal(sp.t, uint8(bgp.BGP_MSG_KEEPALIVE), m.Header.Type)
	}
}

func (sp *speaker) establish() {
	_, ok := sp.read().Body.(*bgp.BGPOpen)
	require.True(sp.t, ok)
	sp.write(bgp.NewBGPOpenMessage(65001, 90, netip.MustParseAddr("10.0.0.2"), []bgp.ParameterCapabilityInterface{
		bgp.NewCapMultiProtocol(bgp.RF_IPv4_UC),
		bgp.NewCapFourOctetASNumber(65001),
	}))
	_, ok = sp.read().Body.(*bgp.BGPKeepAlive)
	require.True(sp.t, ok)
	sp.write(bgp.NewBGPKeepAliveMessage())
}

func TestServerNotStarted(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	assert.Error(t, s.AddPeer(ctx, testNeighbor("127.0.0.1")))
	assert.Error(t, s.ListTable(ctx, func(*TableInfo) {}))

	g := testGlobal(-1)
	g.As = 0
	assert.Error(t, s.StartBgp(ctx, g))
	g = testGlobal(-1)
	g.RouterId = "2001:db8::1"
	assert.Error(t, s.StartBgp(ctx, g))

	require.NoError(t, s.StartBgp(ctx, testGlobal(-1)))
	assert.Error(t, s.StartBgp(ctx, testGlobal(-1)))
	got, err := s.GetBgp(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(65000), got.As)

	require.NoError(t, s.StopBgp(ctx))
	got, err = s.GetBgp(ctx)
	require.NoError(t, err)
	assert.Zero(t, got.As)
}

func TestServerPeerRoutes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	port := freePort(t)
	require.NoError(t, s.StartBgp(ctx, testGlobal(int32(port))))

	w, err := s.WatchEvent(ctx, WatchBestPath(), WatchPeerState())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, s.AddPeer(ctx, testNeighbor("127.0.0.1")))
	assert.Error(t, s.AddPeer(ctx, testNeighbor("127.0.0.1")))
	waitEvent(t, w, peerInState(bgp.BGP_FSM_ACTIVE))

	sp := dialSpeaker(t, s, port)
	sp.establish()
	up := waitEvent(t, w, peerInState(bgp.BGP_FSM_ESTABLISHED))
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), up.PeerAddress)
	require.NotNil(t, up.PeerInfo)
	assert.Equal(t, uint32(65001), up.PeerInfo.AS)

	sp.write(testUpdate("198.51.100.0/24"))
	best := waitEvent(t, w, func(*WatchEventBestPath) bool { return true })
	require.Len(t, best.Updates, 1)
	u := best.Updates[0]
	assert.Equal(t, bgp.RF_IPv4_UC, u.Family)
	assert.Equal(t, "198.51.100.0/24", u.Key)
	require.NotNil(t, u.GetBestPath())
	assert.Equal(t, uint32(65001), u.GetBestPath().GetSource().AS)

	var keys []string
	require.NoError(t, s.ListPath(ctx, bgp.RF_IPv4_UC, func(d *table.Destination) {
		keys = append(keys, d.Key())
	}))
	assert.Equal(t, []string{"198.51.100.0/24"}, keys)
	assert.Error(t, s.ListPath(ctx, bgp.RF_IPv6_UC, func(*table.Destination) {}))

	d, err := s.LookupPath(ctx, bgp.RF_IPv4_UC, netip.MustParseAddr("198.51.100.7"))
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.0/24", d.Key())
	_, err = s.LookupPath(ctx, bgp.RF_IPv4_UC, netip.MustParseAddr("203.0.113.1"))
	assert.Error(t, err)

	var tables []*TableInfo
	require.NoError(t, s.ListTable(ctx, func(i *TableInfo) { tables = append(tables, i) }))
	require.Len(t, tables, 1)
	assert.Equal(t, 1, tables[0].Destinations)
	assert.Equal(t, 1, tables[0].Routes)

	var peers []*PeerState
	require.NoError(t, s.ListPeer(ctx, "", func(p *PeerState) { peers = append(peers, p) }))
	require.Len(t, peers, 1)
	assert.Equal(t, bgp.BGP_FSM_ESTABLISHED, peers[0].State)
	assert.Equal(t, 1, peers[0].Routes[bgp.RF_IPv4_UC])
	assert.Equal(t, uint64(1), peers[0].Stats.Received.Update)

	require.NoError(t, s.DisablePeer(ctx, "127.0.0.1", "maintenance"))
	n := sp.readNotification()
	assert.Equal(t, uint8(bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN), n.ErrorSubcode)

	// the state change is reported before the withdrawals it caused
	down := waitEvent(t, w, peerInState(bgp.BGP_FSM_IDLE))
	assert.Equal(t, peering.FSMAdminDown, down.Reason)
	withdraw := waitEvent(t, w, func(*WatchEventBestPath) bool { return true })
	require.Len(t, withdraw.Updates, 1)
	assert.Empty(t, withdraw.Updates[0].Best)

	keys = nil
	require.NoError(t, s.ListPath(ctx, bgp.RF_IPv4_UC, func(d *table.Destination) {
		keys = append(keys, d.Key())
	}))
	assert.Empty(t, keys)

	require.NoError(t, s.DeletePeer(ctx, "127.0.0.1"))
	assert.Error(t, s.DeletePeer(ctx, "127.0.0.1"))
	assert.Error(t, s.EnablePeer(ctx, "127.0.0.1"))
}

func TestServerUnknownConnection(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	port := freePort(t)
	require.NoError(t, s.StartBgp(ctx, testGlobal(int32(port))))

	sp := dialSpeaker(t, s, port)
	sp.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := sp.conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestWatchPeerStateInitial(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.StartBgp(ctx, testGlobal(-1)))
	n := testNeighbor("10.0.0.2")
	n.AdminDown = true
	require.NoError(t, s.AddPeer(ctx, n))

	w, err := s.WatchEvent(ctx, WatchPeerState())
	require.NoError(t, err)
	e := waitEvent(t, w, func(*WatchEventPeer) bool { return true })
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), e.PeerAddress)
	assert.Equal(t, uint32(65001), e.PeerAS)
	w.Stop()

	// a stopped watcher no longer receives events
	require.NoError(t, s.DeletePeer(ctx, "10.0.0.2"))
	_, ok := <-w.Event()
	assert.False(t, ok)
}

func TestInitialAndUpdateConfig(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	c := &config.BgpcepConfig{
		Global:    testGlobal(-1),
		Neighbors: []config.Neighbor{testNeighbor("10.0.0.2"), testNeighbor("10.0.0.3")},
	}
	cur, err := InitialConfig(ctx, s, c)
	require.NoError(t, err)

	addrs := func() map[string]*PeerState {
		m := make(map[string]*PeerState)
		require.NoError(t, s.ListPeer(ctx, "", func(p *PeerState) { m[p.Conf.NeighborAddress] = p }))
		return m
	}
	assert.Len(t, addrs(), 2)

	disabled := testNeighbor("10.0.0.3")
	disabled.AdminDown = true
	changed := testNeighbor("10.0.0.4")
	changed.Description = "new"
	newC := &config.BgpcepConfig{
		Global:    testGlobal(-1),
		Neighbors: []config.Neighbor{disabled, changed},
	}
	cur, err = UpdateConfig(ctx, s, cur, newC)
	require.NoError(t, err)
	assert.Equal(t, newC.Neighbors, cur.Neighbors)

	m := addrs()
	require.Len(t, m, 2)
	assert.Contains(t, m, "10.0.0.3")
	assert.Contains(t, m, "10.0.0.4")
	assert.Eventually(t, func() bool {
		return addrs()["10.0.0.3"].AdminState == peering.AdminStateDown
	}, 5*time.Second, 10*time.Millisecond)

	// a changed description restarts the peer with the new config
	changed.Description = "newer"
	_, err = UpdateConfig(ctx, s, cur, &config.BgpcepConfig{
		Global:    testGlobal(-1),
		Neighbors: []config.Neighbor{disabled, changed},
	})
	require.NoError(t, err)
	assert.Equal(t, "newer", addrs()["10.0.0.4"].Conf.Description)
}
