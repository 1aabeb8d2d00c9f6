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

package table

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bgp/evpn"
	"github.com/osrg/bgpcep/pkg/packet/bgp/l3vpn"
	"github.com/osrg/bgpcep/pkg/packet/bgp/rtc"
)

func ipv4Table(t *testing.T, policy Policy) *Table {
	support, err := NewRIBSupport(bgp.RF_IPv4_UC)
	require.NoError(t, err)
	return NewTable(log.NewTestLogger(), support, localAS, policy, SelectionOptions{})
}

func ipv4Route(prefix, peer string, lp uint32) *Route {
	return NewRoute(bgp.NewIPAddrPrefix(netip.MustParsePrefix(prefix)), localPrefAttrs(peer, lp))
}

func TestTableAddRemove(t *testing.T) {
	tbl := ipv4Table(t, nil)
	assert.Equal(t, bgp.RF_IPv4_UC, tbl.GetFamily())

	u := tbl.AddRoute(key("10.0.0.1", 0), ipv4Route("192.0.2.0/24", "10.0.0.1", 100))
	require.NotNil(t, u)
	assert.Equal(t, "192.0.2.0/24", u.Key)
	assert.True(t, u.BestChanged)
	assert.Equal(t, BPR_ONLY_PATH, u.Reason)

	u = tbl.AddRoute(key("10.0.0.2", 0), ipv4Route("192.0.2.0/24", "10.0.0.2", 200))
	require.NotNil(t, u)
	assert.Equal(t, key("10.0.0.2", 0), u.GetBestPath().Key)

	// worse path, no change
	assert.Nil(t, tbl.AddRoute(key("10.0.0.3", 0), ipv4Route("192.0.2.0/24", "10.0.0.3", 50)))
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 3, tbl.RouteCount())
	assert.Equal(t, uint64(2), tbl.BestPathChanges())

	d := tbl.GetDestination(bgp.NewIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24")))
	require.NotNil(t, d)
	assert.Equal(t, key("10.0.0.2", 0), d.GetBestPath().Key)

	u = tbl.RemoveRoute(key("10.0.0.2", 0), bgp.NewIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24")))
	require.NotNil(t, u)
	assert.Equal(t, key("10.0.0.1", 0), u.GetBestPath().Key)
	assert.Nil(t, tbl.RemoveRoute(key("10.0.0.9", 0), bgp.NewIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24"))))
	assert.Nil(t, tbl.RemoveRoute(key("10.0.0.1", 0), bgp.NewIPAddrPrefix(netip.MustParsePrefix("198.51.100.0/24"))))

	tbl.RemoveRoute(key("10.0.0.1", 0), bgp.NewIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24")))
	u = tbl.RemoveRoute(key("10.0.0.3", 0), bgp.NewIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24")))
	require.NotNil(t, u)
	assert.Nil(t, u.GetBestPath())
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, 0, tbl.RouteCount())
	assert.Nil(t, tbl.GetDestination(bgp.NewIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24"))))
	_, ok := tbl.LongestMatch(netip.MustParseAddr("192.0.2.1"))
	assert.False(t, ok)
}

func TestTableLongestMatchAndWalk(t *testing.T) {
	tbl := ipv4Table(t, nil)
	for _, p := range []string{"10.1.0.0/16", "0.0.0.0/0", "10.0.0.0/8", "10.1.2.0/24", "192.0.2.0/24"} {
		tbl.AddRoute(key("10.0.0.1", 0), ipv4Route(p, "10.0.0.1", 100))
	}

	for addr, want := range map[string]string{
		"10.1.2.3":    "10.1.2.0/24",
		"10.1.3.1":    "10.1.0.0/16",
		"10.200.0.1":  "10.0.0.0/8",
		"203.0.113.1": "0.0.0.0/0",
	} {
		d, ok := tbl.LongestMatch(netip.MustParseAddr(addr))
		require.True(t, ok, addr)
		assert.Equal(t, want, d.Key(), addr)
	}

	var order []string
	tbl.Walk(func(d *Destination) bool {
		order = append(order, d.Key())
		return true
	})
	assert.Equal(t, []string{"0.0.0.0/0", "10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24", "192.0.2.0/24"}, order)

	order = nil
	tbl.Walk(func(d *Destination) bool {
		order = append(order, d.Key())
		return len(order) < 2
	})
	assert.Len(t, order, 2)

	snap := tbl.Snapshot()
	assert.Len(t, snap, 5)
	assert.Len(t, snap["10.1.0.0/16"], 1)
}

func TestTableWalkUnindexed(t *testing.T) {
	support, err := NewRIBSupport(bgp.RF_IPv4_VPN)
	require.NoError(t, err)
	assert.True(t, support.Complex())
	tbl := NewTable(nil, support, localAS, nil, SelectionOptions{})
	for _, s := range []string{"65000:2", "65000:1"} {
		rd, err := bgp.ParseRouteDistinguisher(s)
		require.NoError(t, err)
		nlri := l3vpn.NewLabeledVPNIPAddrPrefix(netip.MustParsePrefix("10.0.0.0/24"), bgp.MPLSLabelStack{Labels: []uint32{100}}, rd)
		tbl.AddRoute(key("10.0.0.1", 0), NewRoute(nlri, localPrefAttrs("10.0.0.1", 100)))
	}
	var keys []string
	tbl.Walk(func(d *Destination) bool {
		keys = append(keys, d.Key())
		return true
	})
	assert.Equal(t, []string{"65000:1:10.0.0.0/24", "65000:2:10.0.0.0/24"}, keys)
	_, ok := tbl.LongestMatch(netip.MustParseAddr("10.0.0.1"))
	assert.False(t, ok)
}

func TestTableBestN(t *testing.T) {
	tbl := ipv4Table(t, BestN{N: 2})
	for i, lp := range []uint32{100, 300, 200} {
		peer := fmt.Sprintf("10.0.0.%d", i+1)
		tbl.AddRoute(key(peer, 0), ipv4Route("192.0.2.0/24", peer, lp))
	}
	best := tbl.GetDestination(bgp.NewIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24"))).BestPaths()
	require.Len(t, best, 2)
	assert.Equal(t, key("10.0.0.2", 0), best[0].Key)
	assert.Equal(t, key("10.0.0.3", 0), best[1].Key)
	assert.NotEqual(t, best[0].LocalID, best[1].LocalID)
}

func TestTableConcurrentUpdates(t *testing.T) {
	tbl := ipv4Table(t, AllPaths{})
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		peer := fmt.Sprintf("10.0.0.%d", p+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tbl.AddRoute(key(peer, 0), ipv4Route(fmt.Sprintf("10.%d.0.0/16", i), peer, 100))
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			tbl.Snapshot()
		}
	}()
	wg.Wait()
	<-done
	assert.Equal(t, 100, tbl.Len())
	assert.Equal(t, 400, tbl.RouteCount())
	for _, d := range tbl.GetDestinations() {
		assert.Len(t, d.BestPaths(), 4)
	}
}

func TestRIBSupportKeys(t *testing.T) {
	_, err := NewRIBSupport(bgp.NewFamily(bgp.AFI_IP, 99))
	assert.Error(t, err)
	assert.Len(t, SupportedFamilies(), 10)

	s, _ := NewRIBSupport(bgp.RF_EVPN)
	rd, _ := bgp.ParseRouteDistinguisher("65000:1")
	mac := []byte{0, 1, 2, 3, 4, 5}
	r1 := evpn.NewEVPNNLRI(&evpn.EVPNMacIPAdvertisementRoute{Distinguisher: rd, MacAddress: mac, Labels: []uint32{100}})
	r2 := evpn.NewEVPNNLRI(&evpn.EVPNMacIPAdvertisementRoute{Distinguisher: rd, MacAddress: mac, Labels: []uint32{200}})
	assert.Equal(t, s.RouteKey(r1), s.RouteKey(r2))
	assert.True(t, s.Complex())

	s, _ = NewRIBSupport(bgp.RF_RTC_UC)
	assert.False(t, s.Complex())
	assert.Equal(t, "default", s.RouteKey(&rtc.RouteTargetMembershipNLRI{}))
	_, ok := s.Prefix(&rtc.RouteTargetMembershipNLRI{})
	assert.False(t, ok)
}

func testUpdate(nlri []bgp.AddrPrefixInterface, withdrawn []bgp.AddrPrefixInterface, as ...uint32) *bgp.BGPMessage {
	var attrs []bgp.PathAttributeInterface
	if len(nlri) > 0 {
		attrs = []bgp.PathAttributeInterface{
			bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
			asPath(as...),
			bgp.NewPathAttributeNextHop(netip.MustParseAddr("192.0.2.254")),
		}
	}
	return bgp.NewBGPUpdateMessage(withdrawn, attrs, nlri)
}

func newTestManager(t *testing.T) *TableManager {
	ctx := bgp.NewExtensionContext(log.NewTestLogger())
	t.Cleanup(ctx.Activate(bgp.BaseActivator{}).Close)
	m, err := NewTableManager(log.NewTestLogger(), ctx, localAS, SelectionOptions{}, map[bgp.Family]Policy{
		bgp.RF_IPv4_UC: SingleBest{},
		bgp.RF_IPv6_UC: AllPaths{},
	})
	require.NoError(t, err)
	return m
}

func TestTableManagerProcessMessage(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, []bgp.Family{bgp.RF_IPv4_UC, bgp.RF_IPv6_UC}, m.Families())
	peer1 := ebgpPeer(65001, "10.0.0.1")
	peer2 := ebgpPeer(65002, "10.0.0.2")
	p1 := bgp.NewIPAddrPrefix(netip.MustParsePrefix("198.51.100.0/24"))
	p2 := bgp.NewIPAddrPrefix(netip.MustParsePrefix("203.0.113.0/24"))
	now := time.Now()

	updates := m.ProcessMessage(peer1, testUpdate([]bgp.AddrPrefixInterface{p1, p2}, nil, 65001, 1, 2), nil, now)
	require.Len(t, updates, 2)
	assert.Equal(t, netip.MustParseAddr("192.0.2.254"), updates[0].GetBestPath().GetNexthop())
	assert.NotZero(t, updates[0].GetBestPath().Attributes.Hash)

	// the same attributes again change nothing
	assert.Empty(t, m.ProcessMessage(peer1, testUpdate([]bgp.AddrPrefixInterface{p1}, nil, 65001, 1, 2), nil, now))

	// a shorter path from peer2 wins p1
	updates = m.ProcessMessage(peer2, testUpdate([]bgp.AddrPrefixInterface{p1}, nil, 65002), nil, now)
	require.Len(t, updates, 1)
	assert.Equal(t, peer2, updates[0].GetBestPath().GetSource())
	assert.Equal(t, BPR_ASPATH, updates[0].Reason)

	adj := m.AdjRib(peer1)
	assert.Equal(t, 2, adj.Count(bgp.RF_IPv4_UC))
	assert.Len(t, adj.Routes(bgp.RF_IPv4_UC), 2)

	// withdrawal of p2 by peer1
	updates = m.ProcessMessage(peer1, testUpdate(nil, []bgp.AddrPrefixInterface{p2}), nil, now)
	require.Len(t, updates, 1)
	assert.Nil(t, updates[0].GetBestPath())
	assert.Equal(t, 1, adj.Count(bgp.RF_IPv4_UC))

	// peer2 goes away, peer1's p1 is best again
	updates = m.PeerDown(peer2)
	require.Len(t, updates, 1)
	assert.Equal(t, peer1, updates[0].GetBestPath().GetSource())
	assert.Nil(t, m.PeerDown(peer2))

	tbl, ok := m.GetTable(bgp.RF_IPv4_UC)
	require.True(t, ok)
	assert.Equal(t, 1, tbl.RouteCount())

	updates = m.PeerDown(peer1)
	require.Len(t, updates, 1)
	assert.Equal(t, 0, tbl.Len())
}

func TestTableManagerRefreshKeepsAge(t *testing.T) {
	m := newTestManager(t)
	peer1 := ebgpPeer(65001, "10.0.0.1")
	peer2 := ebgpPeer(65002, "10.0.0.2")
	p := []bgp.AddrPrefixInterface{bgp.NewIPAddrPrefix(netip.MustParsePrefix("198.51.100.0/24"))}
	now := time.Now()

	updates := m.ProcessMessage(peer2, testUpdate(p, nil, 65002), nil, now)
	require.Len(t, updates, 1)
	m.ProcessMessage(peer1, testUpdate(p, nil, 65001), nil, now.Add(time.Second))

	// the older path of peer2 stays best when it is sent again unchanged
	assert.Empty(t, m.ProcessMessage(peer2, testUpdate(p, nil, 65002), nil, now.Add(2*time.Second)))
	tbl, ok := m.GetTable(bgp.RF_IPv4_UC)
	require.True(t, ok)
	d, ok := tbl.LongestMatch(netip.MustParseAddr("198.51.100.1"))
	require.True(t, ok)
	best := d.BestPaths()
	require.Len(t, best, 1)
	assert.Equal(t, peer2, best[0].GetSource())
	assert.Equal(t, now, best[0].Attributes.Timestamp)

	// changed attributes make it the newest path
	updates = m.ProcessMessage(peer2, testUpdate(p, nil, 65003), nil, now.Add(3*time.Second))
	require.Len(t, updates, 1)
	assert.Equal(t, peer1, updates[0].GetBestPath().GetSource())
}

func TestTableManagerMultiprotocol(t *testing.T) {
	m := newTestManager(t)
	peer := ebgpPeer(65001, "10.0.0.1")
	p := bgp.NewIPAddrPrefix(netip.MustParsePrefix("2001:db8:1::/64"))
	nh := netip.MustParseAddr("2001:db8::1")
	msg := bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		asPath(65001),
		bgp.NewPathAttributeMpReachNLRI(bgp.RF_IPv6_UC, nh, []bgp.AddrPrefixInterface{p}),
	}, nil)
	m.IGPMetric = func(addr netip.Addr) uint32 {
		if addr == nh {
			return 7
		}
		return 0
	}
	updates := m.ProcessMessage(peer, msg, nil, time.Now())
	require.Len(t, updates, 1)
	assert.Equal(t, bgp.RF_IPv6_UC, updates[0].Family)
	best := updates[0].GetBestPath()
	assert.Equal(t, nh, best.GetNexthop())
	assert.Equal(t, uint32(7), best.Attributes.IGPMetric)
	// the multiprotocol container is not a route attribute
	assert.Nil(t, best.Attributes.PathAttr(bgp.BGP_ATTR_TYPE_MP_REACH_NLRI))
	assert.NotNil(t, best.Attributes.PathAttr(bgp.BGP_ATTR_TYPE_AS_PATH))

	// end of rib is not a route
	assert.Empty(t, m.ProcessMessage(peer, bgp.NewEndOfRib(bgp.RF_IPv6_UC), nil, time.Now()))
}

func TestTableManagerTreatAsWithdraw(t *testing.T) {
	m := newTestManager(t)
	peer := ebgpPeer(65001, "10.0.0.1")
	p := bgp.NewIPAddrPrefix(netip.MustParsePrefix("198.51.100.0/24"))
	require.Len(t, m.ProcessMessage(peer, testUpdate([]bgp.AddrPrefixInterface{p}, nil, 65001), nil, time.Now()), 1)

	msg := testUpdate([]bgp.AddrPrefixInterface{p}, nil, 65001)
	msg.Body.(*bgp.BGPUpdate).Errors = []*bgp.MessageError{{
		TypeCode:      bgp.BGP_ERROR_UPDATE_MESSAGE_ERROR,
		SubTypeCode:   bgp.BGP_ERROR_SUB_MALFORMED_AS_PATH,
		ErrorHandling: bgp.ERROR_HANDLING_TREAT_AS_WITHDRAW,
	}}
	updates := m.ProcessMessage(peer, msg, nil, time.Now())
	require.Len(t, updates, 1)
	assert.Nil(t, updates[0].GetBestPath())
}

func TestAdjRibRouteTargets(t *testing.T) {
	adj := NewAdjRib(ebgpPeer(65001, "10.0.0.1"))
	rt := bgp.NewTwoOctetAsSpecificExtended(bgp.EC_SUBTYPE_ROUTE_TARGET, 65000, 100, true)
	n := &rtc.RouteTargetMembershipNLRI{Length: 96, AS: 65001, RouteTarget: rt}
	r := NewRoute(n, localPrefAttrs("10.0.0.1", 100))

	adj.Update(bgp.RF_RTC_UC, "a", key("10.0.0.1", 0), r)
	adj.Update(bgp.RF_RTC_UC, "a", key("10.0.0.1", 0), r)
	assert.True(t, adj.HasRouteTarget(rt))
	assert.False(t, adj.HasDefaultRT())

	adj.Update(bgp.RF_RTC_UC, "default", key("10.0.0.1", 0), NewRoute(&rtc.RouteTargetMembershipNLRI{}, r.Attributes))
	assert.True(t, adj.HasDefaultRT())
	assert.Equal(t, []bgp.Family{bgp.RF_RTC_UC}, adj.Families())

	assert.True(t, adj.Remove(bgp.RF_RTC_UC, "a", key("10.0.0.1", 0)))
	assert.False(t, adj.Remove(bgp.RF_RTC_UC, "a", key("10.0.0.1", 0)))
	assert.False(t, adj.HasRouteTarget(rt))

	assert.Len(t, adj.Drop(bgp.RF_RTC_UC), 1)
	assert.False(t, adj.HasDefaultRT())
	assert.Empty(t, adj.Families())
}
