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

package peering

import (
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

var localID = netip.MustParseAddr("10.0.0.1")

// remote plays the other end of the session over a net.Pipe.
type remote struct {
	t    *testing.T
	conn net.Conn
	ctx  *bgp.ExtensionContext
}

func (r *remote) write(m *bgp.BGPMessage) {
	b, err := r.ctx.SerializeMessage(m, nil)
	require.NoError(r.t, err)
	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = r.conn.Write(b)
	require.NoError(r.t, err)
}

func (r *remote) read() *bgp.BGPMessage {
	r.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	hdr := make([]byte, bgp.BGP_HEADER_LENGTH)
	_, err := io.ReadFull(r.conn, hdr)
	require.NoError(r.t, err)
	h, err := bgp.ReadHeader(hdr, bgp.BGP_MAX_MESSAGE_LENGTH)
	require.NoError(r.t, err)
	body := make([]byte, int(h.Len)-bgp.BGP_HEADER_LENGTH)
	_, err = io.ReadFull(r.conn, body)
	require.NoError(r.t, err)
	m, err := r.ctx.ParseBody(h, body, nil)
	require.NoError(r.t, err)
	return m
}

func (r *remote) open(as uint32, id string) *bgp.BGPMessage {
	return bgp.NewBGPOpenMessage(as, 90, netip.MustParseAddr(id), []bgp.ParameterCapabilityInterface{
		bgp.NewCapMultiProtocol(bgp.RF_IPv4_UC),
		bgp.NewCapFourOctetASNumber(as),
	})
}

type harness struct {
	peer        *Peer
	msgs        chan *FSMMsg
	transitions chan *FSMStateTransition
}

func testNeighbor() config.Neighbor {
	return config.Neighbor{
		NeighborAddress: "10.0.0.2",
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

func newHarness(t *testing.T, conf config.Neighbor) (*harness, *bgp.ExtensionContext) {
	ctx := bgp.NewExtensionContext(log.NewTestLogger())
	t.Cleanup(ctx.Activate(bgp.BaseActivator{}).Close)
	h := &harness{
		peer:        NewPeer(log.NewTestLogger(), ctx, localID, conf),
		msgs:        make(chan *FSMMsg, 16),
		transitions: make(chan *FSMStateTransition, 16),
	}
	h.peer.Start(func(m *FSMMsg) { h.msgs <- m }, func(e *FSMStateTransition) { h.transitions <- e })
	return h, ctx
}

func (h *harness) waitState(t *testing.T, state bgp.FSMState) *FSMStateTransition {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-h.transitions:
			if e.NewState == state {
				return e
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for state", state.String())
		}
	}
}

// connect hands the peer one end of a pipe once it listens in Active.
func (h *harness) connect(t *testing.T, ctx *bgp.ExtensionContext) *remote {
	h.waitState(t, bgp.BGP_FSM_ACTIVE)
	local, other := net.Pipe()
	t.Cleanup(func() { other.Close() })
	h.peer.PassConn(local)
	return &remote{t: t, conn: other, ctx: ctx}
}

func (h *harness) establish(t *testing.T, ctx *bgp.ExtensionContext) *remote {
	r := h.connect(t, ctx)
	m := r.read()
	open, ok := m.Body.(*bgp.BGPOpen)
	require.True(t, ok)
	assert.Equal(t, uint32(65000), open.AS())
	assert.Equal(t, localID, open.ID)
	assert.Equal(t, uint16(90), open.HoldTime)

	r.write(r.open(65001, "10.0.0.2"))
	_, ok = r.read().Body.(*bgp.BGPKeepAlive)
	require.True(t, ok)
	r.write(bgp.NewBGPKeepAliveMessage())
	h.waitState(t, bgp.BGP_FSM_ESTABLISHED)
	return r
}

func TestPeerEstablished(t *testing.T) {
	h, ctx := newHarness(t, testNeighbor())
	r := h.establish(t, ctx)
	assert.Equal(t, bgp.BGP_FSM_ESTABLISHED, h.peer.State())

	info := h.peer.PeerInfo()
	require.NotNil(t, info)
	assert.Equal(t, uint32(65001), info.AS)
	assert.Equal(t, uint32(65000), info.LocalAS)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), info.ID)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), info.Address)
	assert.NotNil(t, h.peer.MarshallingOptions())

	r.write(bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath([]*bgp.AsPathParam{bgp.NewAsPathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, []uint32{65001})}),
		bgp.NewPathAttributeNextHop(netip.MustParseAddr("10.0.0.2")),
	}, []bgp.AddrPrefixInterface{bgp.NewIPAddrPrefix(netip.MustParsePrefix("198.51.100.0/24"))}))

	select {
	case m := <-h.msgs:
		assert.Equal(t, uint8(bgp.BGP_MSG_UPDATE), m.Message.Header.Type)
		assert.Equal(t, info, m.PeerInfo)
		assert.False(t, m.Timestamp.IsZero())
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no update delivered")
	}

	r.write(bgp.NewBGPNotificationMessage(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_OTHER_CONFIGURATION_CHANGE, nil))
	e := h.waitState(t, bgp.BGP_FSM_IDLE)
	assert.Equal(t, bgp.BGP_FSM_ESTABLISHED, e.OldState)
	assert.Equal(t, FSMNotificationRecv, e.Reason)
	assert.Equal(t, info, e.PeerInfo)

	stats := h.peer.Stats()
	assert.Equal(t, uint32(1), stats.EstablishedCounter)
	assert.Equal(t, uint64(1), stats.Received.Open)
	assert.Equal(t, uint64(1), stats.Received.Update)
	assert.Equal(t, uint64(1), stats.Received.Notification)
	assert.Equal(t, uint64(1), stats.Sent.Open)
	assert.False(t, stats.UpSince.IsZero())

	h.peer.Stop()
}

func TestPeerBadPeerAS(t *testing.T) {
	h, ctx := newHarness(t, testNeighbor())
	r := h.connect(t, ctx)
	_, ok := r.read().Body.(*bgp.BGPOpen)
	require.True(t, ok)

	r.write(r.open(65099, "10.0.0.2"))
	n, ok := r.read().Body.(*bgp.BGPNotification)
	require.True(t, ok)
	assert.Equal(t, uint8(bgp.BGP_ERROR_OPEN_MESSAGE_ERROR), n.ErrorCode)
	assert.Equal(t, uint8(bgp.BGP_ERROR_SUB_BAD_PEER_AS), n.ErrorSubcode)

	e := h.waitState(t, bgp.BGP_FSM_IDLE)
	assert.Equal(t, bgp.BGP_FSM_OPENSENT, e.OldState)
	assert.Equal(t, FSMMessageError, e.Reason)
	h.peer.Stop()
}

func TestPeerUnexpectedMessageInOpenSent(t *testing.T) {
	h, ctx := newHarness(t, testNeighbor())
	r := h.connect(t, ctx)
	r.read()

	r.write(bgp.NewBGPKeepAliveMessage())
	n, ok := r.read().Body.(*bgp.BGPNotification)
	require.True(t, ok)
	assert.Equal(t, uint8(bgp.BGP_ERROR_FSM_ERROR), n.ErrorCode)
	assert.Equal(t, FSMUnexpectedMsg, h.waitState(t, bgp.BGP_FSM_IDLE).Reason)
	h.peer.Stop()
}

func TestPeerStopSendsCease(t *testing.T) {
	h, ctx := newHarness(t, testNeighbor())
	r := h.establish(t, ctx)

	done := make(chan struct{})
	go func() {
		h.peer.Stop()
		close(done)
	}()
	n, ok := r.read().Body.(*bgp.BGPNotification)
	require.True(t, ok)
	assert.Equal(t, uint8(bgp.BGP_ERROR_CEASE), n.ErrorCode)
	assert.Equal(t, uint8(bgp.BGP_ERROR_SUB_PEER_DECONFIGURED), n.ErrorSubcode)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Stop did not return")
	}
	assert.Equal(t, bgp.BGP_FSM_IDLE, h.peer.State())
	// callbacks are all delivered before Stop returns
	var last *FSMStateTransition
	for len(h.transitions) > 0 {
		last = <-h.transitions
	}
	require.NotNil(t, last)
	assert.Equal(t, FSMDeconfigured, last.Reason)
}

func TestPeerAdminDown(t *testing.T) {
	h, ctx := newHarness(t, testNeighbor())
	r := h.establish(t, ctx)

	h.peer.SetAdminState(AdminStateDown, "maintenance")
	n, ok := r.read().Body.(*bgp.BGPNotification)
	require.True(t, ok)
	assert.Equal(t, uint8(bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN), n.ErrorSubcode)
	assert.Equal(t, "maintenance", string(n.Data[1:]))

	e := h.waitState(t, bgp.BGP_FSM_IDLE)
	assert.Equal(t, FSMAdminDown, e.Reason)
	assert.Equal(t, AdminStateDown, h.peer.AdminState())

	// an admin-down peer refuses connections
	local, other := net.Pipe()
	defer other.Close()
	h.peer.PassConn(local)
	other.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := other.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	h.peer.Stop()
}

func TestPeerActiveConnect(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	conf := testNeighbor()
	conf.NeighborAddress = "127.0.0.1"
	conf.PeerAs = 65000
	conf.PassiveMode = false
	conf.RemotePort = uint16(l.Addr().(*net.TCPAddr).Port)
	h, ctx := newHarness(t, conf)

	conn, err := l.Accept()
	require.NoError(t, err)
	r := &remote{t: t, conn: conn, ctx: ctx}
	defer conn.Close()
	open, ok := r.read().Body.(*bgp.BGPOpen)
	require.True(t, ok)
	assert.Equal(t, uint32(65000), open.AS())
	h.waitState(t, bgp.BGP_FSM_OPENSENT)
	h.peer.Stop()
}

func TestNegotiateHoldTime(t *testing.T) {
	conf := testNeighbor()
	f := newFSM(log.NewNopLogger(), nil, localID, &conf)
	s := newSession(f, nil)

	s.negotiate(&bgp.BGPOpen{HoldTime: 30, ID: netip.MustParseAddr("10.0.0.2")})
	assert.Equal(t, 30*time.Second, s.holdTime)
	assert.Equal(t, 10*time.Second, s.keepaliveInterval)

	s.negotiate(&bgp.BGPOpen{HoldTime: 180, ID: netip.MustParseAddr("10.0.0.2")})
	assert.Equal(t, 90*time.Second, s.holdTime)
	assert.Equal(t, 30*time.Second, s.keepaliveInterval)

	s.negotiate(&bgp.BGPOpen{HoldTime: 0, ID: netip.MustParseAddr("10.0.0.2")})
	assert.Equal(t, time.Duration(0), s.holdTime)
}

func TestHandlingError(t *testing.T) {
	conf := testNeighbor()
	f := newFSM(log.NewNopLogger(), nil, localID, &conf)
	s := newSession(f, nil)

	assert.Nil(t, s.handlingError(&bgp.BGPUpdate{}))

	withdraw := &bgp.MessageError{TypeCode: bgp.BGP_ERROR_UPDATE_MESSAGE_ERROR, ErrorHandling: bgp.ERROR_HANDLING_TREAT_AS_WITHDRAW}
	discard := &bgp.MessageError{TypeCode: bgp.BGP_ERROR_UPDATE_MESSAGE_ERROR, ErrorHandling: bgp.ERROR_HANDLING_ATTRIBUTE_DISCARD}
	assert.Nil(t, s.handlingError(&bgp.BGPUpdate{Errors: []*bgp.MessageError{withdraw, discard}}))

	reset := &bgp.MessageError{
		TypeCode:      bgp.BGP_ERROR_UPDATE_MESSAGE_ERROR,
		SubTypeCode:   bgp.BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST,
		ErrorHandling: bgp.ERROR_HANDLING_SESSION_RESET,
	}
	disable := &bgp.MessageError{TypeCode: bgp.BGP_ERROR_UPDATE_MESSAGE_ERROR, ErrorHandling: bgp.ERROR_HANDLING_AFISAFI_DISABLE}
	assert.Equal(t, reset, s.handlingError(&bgp.BGPUpdate{Errors: []*bgp.MessageError{discard, reset, disable}}))
	assert.Equal(t, disable, s.handlingError(&bgp.BGPUpdate{Errors: []*bgp.MessageError{withdraw, disable}}))
}
