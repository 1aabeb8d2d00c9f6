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
	"net/netip"
	"time"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

// BgpcepConfig is everything the daemon reads from its config file.
type BgpcepConfig struct {
	Global      Global       `mapstructure:"global" toml:"global"`
	Neighbors   []Neighbor   `mapstructure:"neighbors" toml:"neighbors"`
	BmpStations []BmpStation `mapstructure:"bmp-stations" toml:"bmp-stations"`
}

type Global struct {
	As       uint32 `mapstructure:"as" toml:"as"`
	RouterId string `mapstructure:"router-id" toml:"router-id"`
	// Port is the BGP listen port. A negative value disables the
	// listener and peers are only reached by active connects.
	Port            int32    `mapstructure:"port" toml:"port"`
	ListenAddresses []string `mapstructure:"listen-addresses" toml:"listen-addresses"`
	BindToDevice    string   `mapstructure:"bind-to-device" toml:"bind-to-device"`

	RouteSelectionOptions RouteSelectionOptions `mapstructure:"route-selection-options" toml:"route-selection-options"`
	// AfiSafis are the Loc-RIB tables.
	AfiSafis []AfiSafi `mapstructure:"afi-safis" toml:"afi-safis"`
}

type RouteSelectionOptions struct {
	AlwaysCompareMed        bool   `mapstructure:"always-compare-med" toml:"always-compare-med"`
	IgnoreAsPathLength      bool   `mapstructure:"ignore-as-path-length" toml:"ignore-as-path-length"`
	ExternalCompareRouterId bool   `mapstructure:"external-compare-router-id" toml:"external-compare-router-id"`
	DeterministicMed        bool   `mapstructure:"deterministic-med" toml:"deterministic-med"`
	MedMissingAsWorst       bool   `mapstructure:"med-missing-as-worst" toml:"med-missing-as-worst"`
	DefaultLocalPref        uint32 `mapstructure:"default-local-pref" toml:"default-local-pref"`
	DefaultMed              uint32 `mapstructure:"default-med" toml:"default-med"`
}

// AddPaths configures RFC 7911. On a table, Receive keeps every path
// and SendMax bounds the selected set (0 selects all of them). On a
// neighbor, they become the send/receive bits of the capability.
type AddPaths struct {
	Receive bool  `mapstructure:"receive" toml:"receive"`
	SendMax uint8 `mapstructure:"send-max" toml:"send-max"`
}

func (a AddPaths) Enabled() bool {
	return a.Receive || a.SendMax > 0
}

func (a AddPaths) Mode() bgp.BGPAddPathMode {
	var m bgp.BGPAddPathMode
	if a.Receive {
		m |= bgp.BGP_ADD_PATH_RECEIVE
	}
	if a.SendMax > 0 {
		m |= bgp.BGP_ADD_PATH_SEND
	}
	return m
}

type AfiSafi struct {
	AfiSafiName string   `mapstructure:"afi-safi-name" toml:"afi-safi-name"`
	AddPaths    AddPaths `mapstructure:"add-paths" toml:"add-paths"`
}

// Family is only valid on a validated config.
func (a AfiSafi) Family() bgp.Family {
	f, _ := bgp.FamilyFromString(a.AfiSafiName)
	return f
}

type Neighbor struct {
	NeighborAddress string `mapstructure:"neighbor-address" toml:"neighbor-address"`
	PeerAs          uint32 `mapstructure:"peer-as" toml:"peer-as"`
	LocalAs         uint32 `mapstructure:"local-as" toml:"local-as"`
	Description     string `mapstructure:"description" toml:"description"`
	AuthPassword    string `mapstructure:"auth-password" toml:"auth-password"`
	AdminDown       bool   `mapstructure:"admin-down" toml:"admin-down"`
	PassiveMode     bool   `mapstructure:"passive-mode" toml:"passive-mode"`

	LocalAddress    string `mapstructure:"local-address" toml:"local-address"`
	BindInterface   string `mapstructure:"bind-interface" toml:"bind-interface"`
	RemotePort      uint16 `mapstructure:"remote-port" toml:"remote-port"`
	EbgpMultihopTtl uint8  `mapstructure:"ebgp-multihop-ttl" toml:"ebgp-multihop-ttl"`
	TtlMin          uint8  `mapstructure:"ttl-min" toml:"ttl-min"`

	Timers   Timers    `mapstructure:"timers" toml:"timers"`
	AfiSafis []AfiSafi `mapstructure:"afi-safis" toml:"afi-safis"`
}

// Timers are in seconds, as in the config file.
type Timers struct {
	ConnectRetry           float64 `mapstructure:"connect-retry" toml:"connect-retry"`
	HoldTime               float64 `mapstructure:"hold-time" toml:"hold-time"`
	KeepaliveInterval      float64 `mapstructure:"keepalive-interval" toml:"keepalive-interval"`
	IdleHoldTimeAfterReset float64 `mapstructure:"idle-hold-time-after-reset" toml:"idle-hold-time-after-reset"`
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func (t Timers) ConnectRetryDuration() time.Duration      { return seconds(t.ConnectRetry) }
func (t Timers) HoldTimeDuration() time.Duration          { return seconds(t.HoldTime) }
func (t Timers) KeepaliveIntervalDuration() time.Duration { return seconds(t.KeepaliveInterval) }
func (t Timers) IdleHoldDuration() time.Duration          { return seconds(t.IdleHoldTimeAfterReset) }

// Addr is only valid on a validated config.
func (n *Neighbor) Addr() netip.Addr {
	a, _ := netip.ParseAddr(n.NeighborAddress)
	return a.Unmap()
}

func (n *Neighbor) IsIBGP() bool {
	return n.PeerAs == n.LocalAs
}

func (n *Neighbor) Families() []bgp.Family {
	out := make([]bgp.Family, 0, len(n.AfiSafis))
	for _, a := range n.AfiSafis {
		out = append(out, a.Family())
	}
	return out
}

// Capabilities is what the neighbor announces in its OPEN.
func (n *Neighbor) Capabilities() []bgp.ParameterCapabilityInterface {
	caps := []bgp.ParameterCapabilityInterface{
		&bgp.CapRouteRefresh{},
		bgp.NewCapFourOctetASNumber(n.LocalAs),
	}
	var tuples []*bgp.CapAddPathTuple
	for _, a := range n.AfiSafis {
		caps = append(caps, bgp.NewCapMultiProtocol(a.Family()))
		if a.AddPaths.Enabled() {
			tuples = append(tuples, &bgp.CapAddPathTuple{Family: a.Family(), Mode: a.AddPaths.Mode()})
		}
	}
	if len(tuples) > 0 {
		caps = append(caps, bgp.NewCapAddPath(tuples...))
	}
	return caps
}

type BmpStation struct {
	Address string `mapstructure:"address" toml:"address"`
	Port    uint32 `mapstructure:"port" toml:"port"`
}
