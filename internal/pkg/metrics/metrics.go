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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osrg/bgpcep/pkg/peering"
	"github.com/osrg/bgpcep/pkg/server"
)

type bgpCollector struct {
	server *server.BgpServer
}

var (
	peerLabels      = []string{"peer"}
	peerStateLabels = []string{"peer", "session_state", "admin_state"}
	familyLabels    = []string{"route_family"}
	peerRFLabels    = []string{"peer", "route_family"}

	bgpReceivedUpdateTotalDesc       = prometheus.NewDesc("bgpcep_received_update_total", "Number of received BGP UPDATE messages from peer", peerLabels, nil)
	bgpReceivedNotificationTotalDesc = prometheus.NewDesc("bgpcep_received_notification_total", "Number of received BGP NOTIFICATION messages from peer", peerLabels, nil)
	bgpReceivedOpenTotalDesc         = prometheus.NewDesc("bgpcep_received_open_total", "Number of received BGP OPEN messages from peer", peerLabels, nil)
	bgpReceivedRefreshTotalDesc      = prometheus.NewDesc("bgpcep_received_refresh_total", "Number of received BGP REFRESH messages from peer", peerLabels, nil)
	bgpReceivedKeepaliveTotalDesc    = prometheus.NewDesc("bgpcep_received_keepalive_total", "Number of received BGP KEEPALIVE messages from peer", peerLabels, nil)
	bgpReceivedDiscardedTotalDesc    = prometheus.NewDesc("bgpcep_received_discarded_total", "Number of discarded BGP messages from peer", peerLabels, nil)
	bgpReceivedMessageTotalDesc      = prometheus.NewDesc("bgpcep_received_message_total", "Number of received BGP messages from peer", peerLabels, nil)

	bgpSentNotificationTotalDesc = prometheus.NewDesc("bgpcep_sent_notification_total", "Number of sent BGP NOTIFICATION messages to peer", peerLabels, nil)
	bgpSentOpenTotalDesc         = prometheus.NewDesc("bgpcep_sent_open_total", "Number of sent BGP OPEN messages to peer", peerLabels, nil)
	bgpSentKeepaliveTotalDesc    = prometheus.NewDesc("bgpcep_sent_keepalive_total", "Number of sent BGP KEEPALIVE messages to peer", peerLabels, nil)
	bgpSentMessageTotalDesc      = prometheus.NewDesc("bgpcep_sent_message_total", "Number of sent BGP messages to peer", peerLabels, nil)

	bgpPeerStateDesc          = prometheus.NewDesc("bgpcep_peer_state", "State of the BGP session with peer", peerStateLabels, nil)
	bgpPeerEstablishedDesc    = prometheus.NewDesc("bgpcep_peer_established_total", "Number of times the session with peer was established", peerLabels, nil)
	bgpPeerRoutesReceivedDesc = prometheus.NewDesc("bgpcep_peer_routes_received", "Number of routes in the Adj-RIB-In of peer", peerRFLabels, nil)

	ribRoutesDesc          = prometheus.NewDesc("bgpcep_rib_routes", "Number of paths in the Loc-RIB", familyLabels, nil)
	ribBestPathsDesc       = prometheus.NewDesc("bgpcep_rib_best_paths", "Number of destinations with a selected path", familyLabels, nil)
	ribBestPathChangesDesc = prometheus.NewDesc("bgpcep_rib_best_path_changes", "Number of times a best path was selected, replaced or withdrawn", familyLabels, nil)
)

// NewBgpCollector exports the sessions and the Loc-RIB of server.
func NewBgpCollector(server *server.BgpServer) prometheus.Collector {
	return &bgpCollector{server: server}
}

func (c *bgpCollector) Describe(out chan<- *prometheus.Desc) {
	out <- bgpReceivedUpdateTotalDesc
	out <- bgpReceivedNotificationTotalDesc
	out <- bgpReceivedOpenTotalDesc
	out <- bgpReceivedRefreshTotalDesc
	out <- bgpReceivedKeepaliveTotalDesc
	out <- bgpReceivedDiscardedTotalDesc
	out <- bgpReceivedMessageTotalDesc

	out <- bgpSentNotificationTotalDesc
	out <- bgpSentOpenTotalDesc
	out <- bgpSentKeepaliveTotalDesc
	out <- bgpSentMessageTotalDesc

	out <- bgpPeerStateDesc
	out <- bgpPeerEstablishedDesc
	out <- bgpPeerRoutesReceivedDesc

	out <- ribRoutesDesc
	out <- ribBestPathsDesc
	out <- ribBestPathChangesDesc
}

func (c *bgpCollector) collectPeer(out chan<- prometheus.Metric, p *server.PeerState) {
	peerAddr := p.Conf.NeighborAddress
	send := func(desc *prometheus.Desc, cnt uint64) {
		out <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(cnt), peerAddr)
	}
	recv, sent := p.Stats.Received, p.Stats.Sent

	send(bgpReceivedUpdateTotalDesc, recv.Update)
	send(bgpReceivedNotificationTotalDesc, recv.Notification)
	send(bgpReceivedOpenTotalDesc, recv.Open)
	send(bgpReceivedRefreshTotalDesc, recv.Refresh)
	send(bgpReceivedKeepaliveTotalDesc, recv.Keepalive)
	send(bgpReceivedDiscardedTotalDesc, recv.Discarded)
	send(bgpReceivedMessageTotalDesc, recv.Total)

	send(bgpSentNotificationTotalDesc, sent.Notification)
	send(bgpSentOpenTotalDesc, sent.Open)
	send(bgpSentKeepaliveTotalDesc, sent.Keepalive)
	send(bgpSentMessageTotalDesc, sent.Total)

	send(bgpPeerEstablishedDesc, uint64(p.Stats.EstablishedCounter))

	out <- prometheus.MustNewConstMetric(
		bgpPeerStateDesc,
		prometheus.GaugeValue,
		1.0,
		peerAddr,
		p.State.String(),
		adminStateLabel(p.AdminState),
	)

	for f, n := range p.Routes {
		out <- prometheus.MustNewConstMetric(
			bgpPeerRoutesReceivedDesc,
			prometheus.GaugeValue,
			float64(n),
			peerAddr, f.String(),
		)
	}
}

func adminStateLabel(s peering.AdminState) string {
	if s == peering.AdminStateDown {
		return "down"
	}
	return "up"
}

func (c *bgpCollector) Collect(out chan<- prometheus.Metric) {
	ctx := context.Background()
	err := c.server.ListPeer(ctx, "", func(p *server.PeerState) {
		c.collectPeer(out, p)
	})
	if err == nil {
		err = c.server.ListTable(ctx, func(t *server.TableInfo) {
			family := t.Family.String()
			out <- prometheus.MustNewConstMetric(ribRoutesDesc, prometheus.GaugeValue, float64(t.Routes), family)
			out <- prometheus.MustNewConstMetric(ribBestPathsDesc, prometheus.GaugeValue, float64(t.Destinations), family)
			out <- prometheus.MustNewConstMetric(ribBestPathChangesDesc, prometheus.CounterValue, float64(t.BestPathChanges), family)
		})
	}
	if err != nil {
		out <- prometheus.NewInvalidMetric(prometheus.NewDesc("error", "error during metric collection", nil, nil), err)
	}
}
