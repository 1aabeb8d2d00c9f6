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

package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

func Test_AllFamilies(t *testing.T) {
	c, regs := NewContext(log.NewTestLogger())
	defer regs.Close()

	assert.ElementsMatch(t, []bgp.Family{
		bgp.RF_IPv4_UC, bgp.RF_IPv6_UC,
		bgp.RF_IPv4_MPLS, bgp.RF_IPv6_MPLS,
		bgp.RF_IPv4_VPN, bgp.RF_IPv6_VPN,
		bgp.RF_RTC_UC, bgp.RF_EVPN,
		bgp.RF_FS_IPv4_UC, bgp.RF_FS_IPv6_UC,
	}, c.Families())
}

func Test_CloseUnregisters(t *testing.T) {
	c, regs := NewContext(nil)
	regs.Close()
	assert.Empty(t, c.Families())

	// re-activating after close must not hit duplicate registrations
	var again func()
	assert.NotPanics(t, func() { again = c.Activate(All()...).Close })
	assert.Len(t, c.Families(), 10)
	again()
}
