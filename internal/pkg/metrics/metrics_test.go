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

package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/server"
)

func TestMetrics(t *testing.T) {
	s := server.NewBgpServer(server.LoggerOption(log.NewTestLogger()))
	go s.Serve()
	defer s.Shutdown()

	ctx := context.Background()
	require.NoError(t, s.StartBgp(ctx, config.Global{
		As:       65000,
		RouterId: "10.0.0.1",
		Port:     -1,
		AfiSafis: []config.AfiSafi{{AfiSafiName: "ipv4-unicast"}},
	}))
	require.NoError(t, s.AddPeer(ctx, config.Neighbor{
		NeighborAddress: "10.0.0.2",
		PeerAs:          65001,
		LocalAs:         65000,
		AdminDown:       true,
		Timers:          config.Timers{ConnectRetry: 1, HoldTime: 90, KeepaliveInterval: 30, IdleHoldTimeAfterReset: 1},
		AfiSafis:        []config.AfiSafi{{AfiSafiName: "ipv4-unicast"}},
	}))

	c := NewBgpCollector(s)
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	expected := `
# HELP bgpcep_peer_state State of the BGP session with peer
# TYPE bgpcep_peer_state gauge
bgpcep_peer_state{admin_state="down",peer="10.0.0.2",session_state="idle"} 1
# HELP bgpcep_rib_routes Number of paths in the Loc-RIB
# TYPE bgpcep_rib_routes gauge
bgpcep_rib_routes{route_family="ipv4-unicast"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "bgpcep_peer_state", "bgpcep_rib_routes"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "bgpcep_received_update_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "bgpcep_rib_best_path_changes"))
	assert.Zero(t, testutil.CollectAndCount(c, "bgpcep_peer_routes_received"))
}

func TestMetricsNotStarted(t *testing.T) {
	s := server.NewBgpServer(server.LoggerOption(log.NewTestLogger()))
	go s.Serve()
	defer s.Shutdown()

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(NewBgpCollector(s)))
	_, err := registry.Gather()
	assert.Error(t, err)
}
