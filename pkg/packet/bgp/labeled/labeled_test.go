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

package labeled

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

func Test_LabeledPrefixBytes(t *testing.T) {
	c := newContext(t)
	p := NewLabeledIPAddrPrefix(netip.MustParsePrefix("192.0.2.0/24"), bgp.MPLSLabelStack{Labels: []uint32{100}})

	w := wire.NewWriter(16)
	require.NoError(t, c.PutNLRI(p, w, nil))
	assert.Equal(t, []byte{48, 0x00, 0x06, 0x41, 192, 0, 2}, w.Bytes())

	n, err := c.ReadNLRI(bgp.RF_IPv4_MPLS, wire.NewReader(w.Bytes()), nil)
	require.NoError(t, err)
	assert.Equal(t, p, n)
	assert.Equal(t, "[100]:192.0.2.0/24", n.String())
}

func Test_LabeledUpdateRoundTrip(t *testing.T) {
	c := newContext(t)
	v6 := NewLabeledIPAddrPrefix(netip.MustParsePrefix("2001:db8:1::/48"), bgp.MPLSLabelStack{Labels: []uint32{16001, 24000}})
	withdraw := NewLabeledIPAddrPrefix(netip.MustParsePrefix("2001:db8:2::/48"), bgp.MPLSLabelStack{Labels: []uint32{bgp.WITHDRAW_LABEL >> 4}})
	m := bgp.NewBGPUpdateMessage(nil, []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(bgp.BGP_ORIGIN_ATTR_TYPE_IGP),
		bgp.NewPathAttributeAsPath(nil),
		bgp.NewPathAttributeMpReachNLRI(bgp.RF_IPv6_MPLS, netip.MustParseAddr("2001:db8::1"), []bgp.AddrPrefixInterface{v6}),
		bgp.NewPathAttributeMpUnreachNLRI(bgp.RF_IPv6_MPLS, []bgp.AddrPrefixInterface{withdraw}),
	}, nil)
	buf, err := c.SerializeMessage(m, nil)
	require.NoError(t, err)

	m2, err := c.ParseMessage(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, m, m2)
}

func Test_LabeledPrefixTooShort(t *testing.T) {
	c := newContext(t)
	// 8 bits cannot hold a 24 bit label
	_, err := c.ReadNLRI(bgp.RF_IPv4_MPLS, wire.NewReader([]byte{8, 0x00, 0x06, 0x41}), nil)
	assert.Error(t, err)
}
