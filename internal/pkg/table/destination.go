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
	"sync/atomic"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

// Destination is a table slot: one route key and the paths competing
// for it.
type Destination struct {
	key   string
	nlri  bgp.AddrPrefixInterface
	entry RouteEntry
	// best is published after every selection so that readers never
	// need the shard lock.
	best atomic.Pointer[[]*Path]
}

func newDestination(key string, nlri bgp.AddrPrefixInterface, entry RouteEntry) *Destination {
	return &Destination{key: key, nlri: nlri, entry: entry}
}

func (d *Destination) Key() string {
	return d.key
}

func (d *Destination) GetNlri() bgp.AddrPrefixInterface {
	return d.nlri
}

// BestPaths is safe to call concurrently with table updates.
func (d *Destination) BestPaths() []*Path {
	if p := d.best.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *Destination) GetBestPath() *Path {
	if best := d.BestPaths(); len(best) > 0 {
		return best[0]
	}
	return nil
}

func (d *Destination) publish() {
	best := d.entry.BestPaths()
	d.best.Store(&best)
}

func (d *Destination) String() string {
	return fmt.Sprintf("Destination NLRI: %s", d.nlri)
}

// Update is the outcome of a selection that changed something.
type Update struct {
	Family bgp.Family
	Key    string
	NLRI   bgp.AddrPrefixInterface
	// Best is the new selection, single best first. Empty when the
	// destination is gone.
	Best []*Path
	// Advertised holds the paths to send to add-path peers; Withdrawn
	// the local path ids to withdraw from them.
	Advertised []*Path
	Withdrawn  []uint32
	// BestChanged is set when peers without add-path need an update.
	BestChanged bool
	Reason      BestPathReason
}

func (u *Update) GetBestPath() *Path {
	if len(u.Best) > 0 {
		return u.Best[0]
	}
	return nil
}

func (u *Update) String() string {
	return fmt.Sprintf("{Family: %s, Key: %s, Best: %d, Advertised: %d, Withdrawn: %v, BestChanged: %t, Reason: %s}",
		u.Family, u.Key, len(u.Best), len(u.Advertised), u.Withdrawn, u.BestChanged, u.Reason)
}
