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

package flowspec

import (
	"fmt"
	"math"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// Traffic action flags.
const (
	TRAFFIC_ACTION_TERMINAL = 0x01
	TRAFFIC_ACTION_SAMPLE   = 0x02
)

// TrafficRateExtended limits matching traffic to Rate bytes per second.
// A rate of zero discards the traffic.
type TrafficRateExtended struct {
	AS   uint16
	Rate float32
}

func NewTrafficRateExtended(as uint16, rate float32) *TrafficRateExtended {
	return &TrafficRateExtended{AS: as, Rate: rate}
}

func (e *TrafficRateExtended) GetTypes() (bgp.ExtendedCommunityAttrType, bgp.ExtendedCommunityAttrSubType) {
	return bgp.EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL, bgp.EC_SUBTYPE_FLOWSPEC_TRAFFIC_RATE
}

func (e *TrafficRateExtended) String() string {
	if e.Rate == 0 {
		return "discard"
	}
	return fmt.Sprintf("rate: %f", e.Rate)
}

type TrafficActionExtended struct {
	Terminal bool
	Sample   bool
}

func NewTrafficActionExtended(terminal, sample bool) *TrafficActionExtended {
	return &TrafficActionExtended{Terminal: terminal, Sample: sample}
}

func (e *TrafficActionExtended) GetTypes() (bgp.ExtendedCommunityAttrType, bgp.ExtendedCommunityAttrSubType) {
	return bgp.EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL, bgp.EC_SUBTYPE_FLOWSPEC_TRAFFIC_ACTION
}

func (e *TrafficActionExtended) String() string {
	s := "action:"
	if e.Terminal {
		s += " terminal"
	}
	if e.Sample {
		s += " sample"
	}
	return s
}

// RedirectExtended redirects matching traffic into the VRF importing the
// route target AS:LocalAdmin.
type RedirectExtended struct {
	AS         uint16
	LocalAdmin uint32
}

func NewRedirectExtended(as uint16, localAdmin uint32) *RedirectExtended {
	return &RedirectExtended{AS: as, LocalAdmin: localAdmin}
}

func (e *RedirectExtended) GetTypes() (bgp.ExtendedCommunityAttrType, bgp.ExtendedCommunityAttrSubType) {
	return bgp.EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL, bgp.EC_SUBTYPE_FLOWSPEC_REDIRECT
}

func (e *RedirectExtended) String() string {
	return fmt.Sprintf("redirect: %d:%d", e.AS, e.LocalAdmin)
}

type TrafficRemarkExtended struct {
	DSCP uint8
}

func NewTrafficRemarkExtended(dscp uint8) *TrafficRemarkExtended {
	return &TrafficRemarkExtended{DSCP: dscp}
}

func (e *TrafficRemarkExtended) GetTypes() (bgp.ExtendedCommunityAttrType, bgp.ExtendedCommunityAttrSubType) {
	return bgp.EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL, bgp.EC_SUBTYPE_FLOWSPEC_TRAFFIC_REMARK
}

func (e *TrafficRemarkExtended) String() string {
	return fmt.Sprintf("remark: %d", e.DSCP)
}

func parseTrafficRate(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.ExtendedCommunityInterface, error) {
	as, _ := r.Uint16()
	rate, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return NewTrafficRateExtended(as, math.Float32frombits(rate)), nil
}

func serializeTrafficRate(v bgp.ExtendedCommunityInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	e := v.(*TrafficRateExtended)
	w.PutUint16(e.AS)
	w.PutUint32(math.Float32bits(e.Rate))
	return nil
}

func parseTrafficAction(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.ExtendedCommunityInterface, error) {
	_ = r.Skip(5)
	flags, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	return NewTrafficActionExtended(flags&TRAFFIC_ACTION_TERMINAL != 0, flags&TRAFFIC_ACTION_SAMPLE != 0), nil
}

func serializeTrafficAction(v bgp.ExtendedCommunityInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	e := v.(*TrafficActionExtended)
	var flags uint8
	if e.Terminal {
		flags |= TRAFFIC_ACTION_TERMINAL
	}
	if e.Sample {
		flags |= TRAFFIC_ACTION_SAMPLE
	}
	w.PutZeros(5)
	w.PutUint8(flags)
	return nil
}

func parseRedirect(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.ExtendedCommunityInterface, error) {
	as, _ := r.Uint16()
	admin, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return NewRedirectExtended(as, admin), nil
}

func serializeRedirect(v bgp.ExtendedCommunityInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	e := v.(*RedirectExtended)
	w.PutUint16(e.AS)
	w.PutUint32(e.LocalAdmin)
	return nil
}

func parseTrafficRemark(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.ExtendedCommunityInterface, error) {
	_ = r.Skip(5)
	dscp, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	return NewTrafficRemarkExtended(dscp & 0x3f), nil
}

func serializeTrafficRemark(v bgp.ExtendedCommunityInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	e := v.(*TrafficRemarkExtended)
	w.PutZeros(5)
	w.PutUint8(e.DSCP & 0x3f)
	return nil
}

func registerExtendedCommunities(c *bgp.ExtensionContext) registry.Registrations {
	t := bgp.EC_TYPE_GENERIC_TRANSITIVE_EXPERIMENTAL
	var regs registry.Registrations
	regs = append(regs, c.RegisterExtendedCommunity(t, bgp.EC_SUBTYPE_FLOWSPEC_TRAFFIC_RATE, parseTrafficRate, &TrafficRateExtended{}, serializeTrafficRate)...)
	regs = append(regs, c.RegisterExtendedCommunity(t, bgp.EC_SUBTYPE_FLOWSPEC_TRAFFIC_ACTION, parseTrafficAction, &TrafficActionExtended{}, serializeTrafficAction)...)
	regs = append(regs, c.RegisterExtendedCommunity(t, bgp.EC_SUBTYPE_FLOWSPEC_REDIRECT, parseRedirect, &RedirectExtended{}, serializeRedirect)...)
	regs = append(regs, c.RegisterExtendedCommunity(t, bgp.EC_SUBTYPE_FLOWSPEC_TRAFFIC_REMARK, parseTrafficRemark, &TrafficRemarkExtended{}, serializeTrafficRemark)...)
	return regs
}
