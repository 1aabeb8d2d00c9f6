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

// Package extensions bundles every BGP extension shipped with bgpcep.
package extensions

import (
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bgp/evpn"
	"github.com/osrg/bgpcep/pkg/packet/bgp/flowspec"
	"github.com/osrg/bgpcep/pkg/packet/bgp/l3vpn"
	"github.com/osrg/bgpcep/pkg/packet/bgp/labeled"
	"github.com/osrg/bgpcep/pkg/packet/bgp/rtc"
	"github.com/osrg/bgpcep/pkg/packet/registry"
)

// All returns the base activator followed by every extension.
func All() []bgp.Activator {
	return []bgp.Activator{
		bgp.BaseActivator{},
		labeled.Activator{},
		l3vpn.Activator{},
		rtc.Activator{},
		evpn.Activator{},
		flowspec.Activator{},
	}
}

// NewContext returns a context with All activated.
func NewContext(logger log.Logger) (*bgp.ExtensionContext, registry.Registrations) {
	c := bgp.NewExtensionContext(logger)
	return c, c.Activate(All()...)
}
