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

package bmp

import (
	"github.com/osrg/bgpcep/pkg/packet/registry"
)

// BaseActivator registers the RFC 7854 message types and the statistics
// counters of RFC 7854 and RFC 8671.
type BaseActivator struct{}

func (BaseActivator) Start(c *ExtensionContext) registry.Registrations {
	m := c.messages
	regs := registry.Registrations{
		m.RegisterParser(BMP_MSG_ROUTE_MONITORING, c.parseRouteMonitoring),
		m.RegisterSerializer(&BMPRouteMonitoring{}, c.serializeRouteMonitoring),
		m.RegisterParser(BMP_MSG_STATISTICS_REPORT, c.parseStatisticsReport),
		m.RegisterSerializer(&BMPStatisticsReport{}, c.serializeStatisticsReport),
		m.RegisterParser(BMP_MSG_PEER_DOWN_NOTIFICATION, c.parsePeerDown),
		m.RegisterSerializer(&BMPPeerDownNotification{}, c.serializePeerDown),
		m.RegisterParser(BMP_MSG_PEER_UP_NOTIFICATION, c.parsePeerUp),
		m.RegisterSerializer(&BMPPeerUpNotification{}, c.serializePeerUp),
		m.RegisterParser(BMP_MSG_INITIATION, c.parseInitiation),
		m.RegisterSerializer(&BMPInitiation{}, c.serializeInitiation),
		m.RegisterParser(BMP_MSG_TERMINATION, c.parseTermination),
		m.RegisterSerializer(&BMPTermination{}, c.serializeTermination),
		m.RegisterParser(BMP_MSG_ROUTE_MIRRORING, c.parseRouteMirroring),
		m.RegisterSerializer(&BMPRouteMirroring{}, c.serializeRouteMirroring),
	}

	s := c.stats
	for _, t := range []uint16{
		BMP_STAT_TYPE_REJECTED, BMP_STAT_TYPE_DUPLICATE_PREFIX, BMP_STAT_TYPE_DUPLICATE_WITHDRAW,
		BMP_STAT_TYPE_INV_UPDATE_DUE_TO_CLUSTER_LIST_LOOP, BMP_STAT_TYPE_INV_UPDATE_DUE_TO_AS_PATH_LOOP,
		BMP_STAT_TYPE_INV_UPDATE_DUE_TO_ORIGINATOR_ID, BMP_STAT_TYPE_INV_UPDATE_DUE_TO_AS_CONFED_LOOP,
		BMP_STAT_TYPE_WITHDRAW_UPDATE, BMP_STAT_TYPE_WITHDRAW_PREFIX, BMP_STAT_TYPE_DUPLICATE_UPDATE,
	} {
		regs = append(regs, s.RegisterParser(t, stats32Parser(t)))
	}
	for _, t := range []uint16{
		BMP_STAT_TYPE_ADJ_RIB_IN, BMP_STAT_TYPE_LOC_RIB,
		BMP_STAT_TYPE_ADJ_RIB_OUT_PRE_POLICY, BMP_STAT_TYPE_ADJ_RIB_OUT_POST_POLICY,
	} {
		regs = append(regs, s.RegisterParser(t, stats64Parser(t)))
	}
	for _, t := range []uint16{
		BMP_STAT_TYPE_PER_AFI_SAFI_ADJ_RIB_IN, BMP_STAT_TYPE_PER_AFI_SAFI_LOC_RIB,
		BMP_STAT_TYPE_PER_AFI_SAFI_ADJ_RIB_OUT_PRE_POLICY, BMP_STAT_TYPE_PER_AFI_SAFI_ADJ_RIB_OUT_POST_POLICY,
	} {
		regs = append(regs, s.RegisterParser(t, statsPerAfiSafiParser(t)))
	}
	return append(regs,
		s.RegisterSerializer(&BMPStatsTLV32{}, serializeStats32),
		s.RegisterSerializer(&BMPStatsTLV64{}, serializeStats64),
		s.RegisterSerializer(&BMPStatsTLVPerAfiSafi64{}, serializeStatsPerAfiSafi),
		s.RegisterSerializer(&BMPStatsTLVUnknown{}, serializeStatsUnknown),
	)
}
