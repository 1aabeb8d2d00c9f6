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

package l3vpn

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

func newContext(t *testing.T) *bgp.ExtensionContext {
	c := bgp.NewExtensionContext(nil)
	regs := c.Activate(bgp.BaseActivator{}, Activator{})
	t.Cleanup(regs.Close)
	return c
}

func Test_VPNPrefixBytes(t *testing.T) {
	c := newContext(t)
	rd, err := bgp.ParseRouteDistinguisher("65000:100")
	require.NoError(t, err)
	p := NewLabeledVPNIPAddrPrefix(netip.MustParsePrefix("10.0.0.0/8"), bgp.MPLSLabelStack{Labels: []uint32{16}}, rd)

	w := wire.NewWriter(16)
	require.NoError(t, c.PutNLRI(p, w, nil))
	assert.Equal(t, []byte{
		24 + 64 + 8,
		0x00, 0x01, 0x01,
		0x00, 0x00, 0xfd, 0xe8, 0x00, 0x00, 0x00, 0x64,
		10,
	}, w.Bytes())

	n, err := c.ReadNLRI(bgp.RF_IPv4_VPN, wire.NewReader(w.Bytes()), nil)
	require.NoError(t, err)
	assert.Equal(t, p, n)
	assert.Equal(t, "65000:100:10.0.0.0/8", n.String())
}

func Test_VPNUpdateRoundTrip(t *testing.T) {
	c := newContext(t)
	for _, s := range []string{"192.0.2.1:7", "4200000000:1"} {
		rd, err := bgp.ParseRouteDistinguisher(s)
		require.NoError(t, err)
		v4 := NewLabeledVPNIPAddrPrefix(netip.MustParsePrefix("10.1.0.0/16"), bgp.MPLSLabelStack{Labels: []uint32{1000}}, rd)
		v6 := NewLabeledVPNIPAddrPrefix(netip.MustParsePrefix("2001:db8::/32"), bgp.MPLSLabelStack{Labels: []uint32{2000}}, rd)

		for _, reach := range []*bgp.PathAttributeMpReachNLRI{
			bgp.NewPathAttributeMpReachNLRI(bgp.RF_IPv4_VPN, netip.MustParseAddr("192.0.2.1"), []bgp.AddrPrefixInterface{v4}),
			bgp.NewPathAttributeMpReachNLRI(bgp.RF_IPv6_VPN, netip.MustParseAddr("2001:db8::1"), []bgp.AddrPrefixInterface{v6}),
		} {
			m := bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{
				bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
				bgp.NewPathAttributeAsPath(nil),
				reach,
			}, nil)
			buf, err := c.SerializeMessage(m, nil)
			require.NoError(t, err)
			m2, err := c.ParseMessage(buf, nil)
			require.NoError(t, err)
			assert.Equal(t, m, m2)
		}
	}
}
