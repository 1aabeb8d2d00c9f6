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

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bmp"
)

const (
	DEFAULT_HOLDTIME                  = 90
	DEFAULT_IDLE_HOLDTIME_AFTER_RESET = 30
	DEFAULT_CONNECT_RETRY             = 120
)

var defaultTables = []string{
	"ipv4-unicast",
	"ipv6-unicast",
	"l3vpn-ipv4-unicast",
	"l3vpn-ipv6-unicast",
	"l2vpn-evpn",
	"rtc",
}

// neighborList returns the raw neighbor tables so that per-neighbor
// presence checks can tell an explicit zero from a missing key.
func neighborList(v *viper.Viper) ([]interface{}, error) {
	val := v.Get("neighbors")
	if val == nil {
		return nil, nil
	}
	// yaml and json are decoded as []interface{}, toml may be decoded
	// as []map[string]interface{}.
	switch l := val.(type) {
	case []interface{}:
		return l, nil
	case []map[string]interface{}:
		list := make([]interface{}, 0, len(l))
		for _, m := range l {
			list = append(list, m)
		}
		return list, nil
	}
	return nil, errors.New("invalid configuration: neighbors must be a list")
}

// SetDefaultConfigValues fills what the file left out. v is the viper
// instance the config was read with, or nil for a config built in code.
func SetDefaultConfigValues(v *viper.Viper, c *BgpcepConfig) error {
	if v == nil {
		v = viper.New()
	}
	if !v.IsSet("global.port") {
		c.Global.Port = bgp.BGP_PORT
	}
	if len(c.Global.ListenAddresses) == 0 {
		c.Global.ListenAddresses = []string{"0.0.0.0", "::"}
	}
	if !v.IsSet("global.afi-safis") {
		c.Global.AfiSafis = make([]AfiSafi, 0, len(defaultTables))
		for _, name := range defaultTables {
			c.Global.AfiSafis = append(c.Global.AfiSafis, AfiSafi{AfiSafiName: name})
		}
	}

	for i := range c.BmpStations {
		if c.BmpStations[i].Port == 0 {
			c.BmpStations[i].Port = bmp.BMP_DEFAULT_PORT
		}
	}

	list, err := neighborList(v)
	if err != nil {
		return err
	}
	for idx := range c.Neighbors {
		n := &c.Neighbors[idx]
		vv := viper.New()
		if len(list) > idx {
			vv.Set("neighbor", list[idx])
		}
		if n.LocalAs == 0 {
			n.LocalAs = c.Global.As
		}
		if !vv.IsSet("neighbor.timers.connect-retry") {
			n.Timers.ConnectRetry = DEFAULT_CONNECT_RETRY
		}
		if !vv.IsSet("neighbor.timers.hold-time") {
			n.Timers.HoldTime = DEFAULT_HOLDTIME
		}
		if !vv.IsSet("neighbor.timers.keepalive-interval") {
			n.Timers.KeepaliveInterval = n.Timers.HoldTime / 3
		}
		if !vv.IsSet("neighbor.timers.idle-hold-time-after-reset") {
			n.Timers.IdleHoldTimeAfterReset = DEFAULT_IDLE_HOLDTIME_AFTER_RESET
		}
		if n.RemotePort == 0 {
			n.RemotePort = bgp.BGP_PORT
		}
		if len(n.AfiSafis) == 0 {
			addr, err := netip.ParseAddr(n.NeighborAddress)
			if err != nil {
				return errors.Wrapf(err, "invalid neighbor address %q", n.NeighborAddress)
			}
			if addr.Unmap().Is4() {
				n.AfiSafis = []AfiSafi{{AfiSafiName: "ipv4-unicast"}}
			} else {
				n.AfiSafis = []AfiSafi{{AfiSafiName: "ipv6-unicast"}}
			}
		}
	}
	return nil
}

func validateAfiSafis(list []AfiSafi) error {
	seen := make(map[string]struct{}, len(list))
	for _, a := range list {
		name := a.AfiSafiName
		if _, err := bgp.FamilyFromString(name); err != nil {
			return errors.Wrap(err, "invalid afi-safi")
		}
		if _, ok := seen[name]; ok {
			return errors.Errorf("duplicate afi-safi %s", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Validate reports the first inconsistency in c. Defaults are expected
// to be applied already.
func (c *BgpcepConfig) Validate() error {
	g := &c.Global
	if g.As == 0 {
		return errors.New("global as is not configured")
	}
	id, err := netip.ParseAddr(g.RouterId)
	if err != nil || !id.Is4() {
		return errors.Errorf("invalid router-id %q", g.RouterId)
	}
	if g.Port > 65535 {
		return errors.Errorf("invalid port %d", g.Port)
	}
	for _, a := range g.ListenAddresses {
		if _, err := netip.ParseAddr(a); err != nil {
			return errors.Wrapf(err, "invalid listen address %q", a)
		}
	}
	if err := validateAfiSafis(g.AfiSafis); err != nil {
		return errors.Wrap(err, "global")
	}

	seen := make(map[netip.Addr]struct{}, len(c.Neighbors))
	for i := range c.Neighbors {
		n := &c.Neighbors[i]
		addr, err := netip.ParseAddr(n.NeighborAddress)
		if err != nil {
			return errors.Wrapf(err, "invalid neighbor address %q", n.NeighborAddress)
		}
		addr = addr.Unmap()
		if _, ok := seen[addr]; ok {
			return errors.Errorf("duplicate neighbor %s", addr)
		}
		seen[addr] = struct{}{}
		if n.PeerAs == 0 {
			return errors.Errorf("neighbor %s: peer-as is not configured", addr)
		}
		if h := n.Timers.HoldTime; (h != 0 && h < 3) || h > 65535 {
			return errors.Errorf("neighbor %s: unacceptable hold-time %v", addr, h)
		}
		if n.LocalAddress != "" {
			if _, err := netip.ParseAddr(n.LocalAddress); err != nil {
				return errors.Wrapf(err, "neighbor %s: invalid local-address", addr)
			}
		}
		if len(n.AuthPassword) > 80 {
			return errors.Errorf("neighbor %s: auth-password longer than 80 bytes", addr)
		}
		if err := validateAfiSafis(n.AfiSafis); err != nil {
			return errors.Wrapf(err, "neighbor %s", addr)
		}
	}

	for _, s := range c.BmpStations {
		if _, err := netip.ParseAddr(s.Address); err != nil {
			return errors.Wrapf(err, "invalid bmp station address %q", s.Address)
		}
		if s.Port == 0 || s.Port > 65535 {
			return errors.Errorf("invalid bmp station port %d", s.Port)
		}
	}
	return nil
}
