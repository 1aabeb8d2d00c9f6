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

package config

import (
	"bytes"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

const testConfig = `
[global]
as = 65000
router-id = "10.0.0.1"

[global.route-selection-options]
always-compare-med = true

[[neighbors]]
neighbor-address = "10.0.0.2"
peer-as = 65001
auth-password = "secret"

[[neighbors]]
neighbor-address = "2001:db8::2"
peer-as = 65000

  [neighbors.timers]
  hold-time = 0

  [[neighbors.afi-safis]]
  afi-safi-name = "ipv6-unicast"

    [neighbors.afi-safis.add-paths]
    receive = true
    send-max = 4

[[bmp-stations]]
address = "0.0.0.0"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bgpcepd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadConfigFile(t *testing.T) {
	c, err := ReadConfigFile(writeConfig(t, testConfig), "toml")
	require.NoError(t, err)

	assert.Equal(t, uint32(65000), c.Global.As)
	assert.Equal(t, int32(bgp.BGP_PORT), c.Global.Port)
	assert.Equal(t, []string{"0.0.0.0", "::"}, c.Global.ListenAddresses)
	assert.True(t, c.Global.RouteSelectionOptions.AlwaysCompareMed)
	assert.Len(t, c.Global.AfiSafis, len(defaultTables))

	require.Len(t, c.Neighbors, 2)
	n := c.Neighbors[0]
	assert.Equal(t, uint32(65000), n.LocalAs)
	assert.False(t, n.IsIBGP())
	assert.Equal(t, float64(DEFAULT_HOLDTIME), n.Timers.HoldTime)
	assert.Equal(t, float64(DEFAULT_HOLDTIME)/3, n.Timers.KeepaliveInterval)
	assert.Equal(t, float64(DEFAULT_CONNECT_RETRY), n.Timers.ConnectRetry)
	assert.Equal(t, uint16(bgp.BGP_PORT), n.RemotePort)
	assert.Equal(t, []bgp.Family{bgp.RF_IPv4_UC}, n.Families())
	assert.Equal(t, "secret", n.AuthPassword)

	// an explicit zero hold time survives the defaults
	n = c.Neighbors[1]
	assert.True(t, n.IsIBGP())
	assert.Zero(t, n.Timers.HoldTime)
	assert.Zero(t, n.Timers.KeepaliveInterval)
	require.Len(t, n.AfiSafis, 1)
	assert.Equal(t, bgp.RF_IPv6_UC, n.AfiSafis[0].Family())
	assert.Equal(t, bgp.BGP_ADD_PATH_BOTH, n.AfiSafis[0].AddPaths.Mode())

	require.Len(t, c.BmpStations, 1)
	assert.Equal(t, uint32(11019), c.BmpStations[0].Port)
}

func TestReadConfigFileErrors(t *testing.T) {
	_, err := ReadConfigFile(filepath.Join(t.TempDir(), "missing.toml"), "toml")
	assert.Error(t, err)

	_, err = ReadConfigFile(writeConfig(t, "[global]\nas = 1\n"), "toml")
	assert.ErrorContains(t, err, "router-id")
}

func validConfig(t *testing.T) *BgpcepConfig {
	c := &BgpcepConfig{
		Global: Global{As: 65000, RouterId: "10.0.0.1"},
		Neighbors: []Neighbor{
			{NeighborAddress: "10.0.0.2", PeerAs: 65001},
			{NeighborAddress: "10.0.0.3", PeerAs: 65000},
		},
	}
	require.NoError(t, SetDefaultConfigValues(nil, c))
	require.NoError(t, c.Validate())
	return c
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *BgpcepConfig)
		errMsg string
	}{
		{"no as", func(c *BgpcepConfig) { c.Global.As = 0 }, "global as"},
		{"ipv6 router id", func(c *BgpcepConfig) { c.Global.RouterId = "2001:db8::1" }, "router-id"},
		{"bad listen address", func(c *BgpcepConfig) { c.Global.ListenAddresses = []string{"nowhere"} }, "listen address"},
		{"unknown table", func(c *BgpcepConfig) { c.Global.AfiSafis = []AfiSafi{{AfiSafiName: "ipv4-multicast"}} }, "afi-safi"},
		{"duplicate table", func(c *BgpcepConfig) {
			c.Global.AfiSafis = []AfiSafi{{AfiSafiName: "rtc"}, {AfiSafiName: "rtc"}}
		}, "duplicate afi-safi"},
		{"duplicate neighbor", func(c *BgpcepConfig) { c.Neighbors[1].NeighborAddress = "::ffff:10.0.0.2" }, "duplicate neighbor"},
		{"no peer as", func(c *BgpcepConfig) { c.Neighbors[0].PeerAs = 0 }, "peer-as"},
		{"hold time", func(c *BgpcepConfig) { c.Neighbors[0].Timers.HoldTime = 2 }, "hold-time"},
		{"long password", func(c *BgpcepConfig) { c.Neighbors[0].AuthPassword = string(make([]byte, 81)) }, "auth-password"},
		{"bmp port", func(c *BgpcepConfig) { c.BmpStations = []BmpStation{{Address: "0.0.0.0"}} }, "bmp station port"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig(t)
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.errMsg)
		})
	}
}

func TestUpdateConfig(t *testing.T) {
	cur := validConfig(t)

	c, added, deleted, updated := UpdateConfig(nil, cur)
	assert.Len(t, added, 2)
	assert.Empty(t, deleted)
	assert.Empty(t, updated)
	assert.Equal(t, cur.Global, c.Global)

	next := validConfig(t)
	next.Global.As = 65500
	next.Neighbors[0].Timers.HoldTime = 30
	next.Neighbors[1] = Neighbor{NeighborAddress: "10.0.0.4", PeerAs: 65004}

	c, added, deleted, updated = UpdateConfig(cur, next)
	require.Len(t, added, 1)
	assert.Equal(t, "10.0.0.4", added[0].NeighborAddress)
	require.Len(t, deleted, 1)
	assert.Equal(t, "10.0.0.3", deleted[0].NeighborAddress)
	require.Len(t, updated, 1)
	assert.Equal(t, float64(30), updated[0].Timers.HoldTime)
	// global settings are not reloadable
	assert.Equal(t, uint32(65000), c.Global.As)
	assert.Equal(t, next.Neighbors, c.Neighbors)
}

func TestEncode(t *testing.T) {
	c := validConfig(t)
	c.Neighbors[0].AfiSafis[0].AddPaths = AddPaths{Receive: true, SendMax: 2}

	var b bytes.Buffer
	require.NoError(t, Encode(&b, c))
	assert.Contains(t, b.String(), `router-id = "10.0.0.1"`)
	assert.Contains(t, b.String(), "[[neighbors]]")

	got, err := ReadConfigFile(writeConfig(t, b.String()), "toml")
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestNeighborCapabilities(t *testing.T) {
	n := &Neighbor{
		LocalAs: 65000,
		AfiSafis: []AfiSafi{
			{AfiSafiName: "ipv4-unicast", AddPaths: AddPaths{SendMax: 8}},
			{AfiSafiName: "l2vpn-evpn"},
		},
	}
	open := bgp.NewBGPOpenMessage(n.LocalAs, 90, netip.MustParseAddr("10.0.0.1"), n.Capabilities()).Body.(*bgp.BGPOpen)
	assert.Equal(t, uint32(65000), open.AS())
	assert.Equal(t, []bgp.Family{bgp.RF_IPv4_UC, bgp.RF_EVPN}, open.Families())
}
