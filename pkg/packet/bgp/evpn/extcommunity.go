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

package evpn

import (
	"fmt"
	"net"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type MacMobilityExtended struct {
	Sequence uint32
	IsSticky bool
}

func (e *MacMobilityExtended) GetTypes() (bgp.ExtendedCommunityAttrType, bgp.ExtendedCommunityAttrSubType) {
	return bgp.EC_TYPE_EVPN, bgp.EC_SUBTYPE_MAC_MOBILITY
}

func (e *MacMobilityExtended) String() string {
	if e.IsSticky {
		return fmt.Sprintf("mac-mobility:%d:sticky", e.Sequence)
	}
	return fmt.Sprintf("mac-mobility:%d", e.Sequence)
}

func parseMacMobility(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.ExtendedCommunityInterface, error) {
	flags, _ := r.Uint8()
	_ = r.Skip(1)
	seq, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &MacMobilityExtended{Sequence: seq, IsSticky: flags&MAC_MOBILITY_STICKY != 0}, nil
}

func serializeMacMobility(v bgp.ExtendedCommunityInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	e := v.(*MacMobilityExtended)
	var flags byte
	if e.IsSticky {
		flags |= MAC_MOBILITY_STICKY
	}
	w.PutUint8(flags)
	w.PutUint8(0)
	w.PutUint32(e.Sequence)
	return nil
}

type ESILabelExtended struct {
	Label          uint32
	IsSingleActive bool
}

func (e *ESILabelExtended) GetTypes() (bgp.ExtendedCommunityAttrType, bgp.ExtendedCommunityAttrSubType) {
	return bgp.EC_TYPE_EVPN, bgp.EC_SUBTYPE_ESI_MPLS_LABEL
}

func (e *ESILabelExtended) String() string {
	mode := "all-active"
	if e.IsSingleActive {
		mode = "single-active"
	}
	return fmt.Sprintf("esi-label:%d:%s", e.Label, mode)
}

func parseESILabel(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.ExtendedCommunityInterface, error) {
	flags, _ := r.Uint8()
	_ = r.Skip(2)
	label, err := r.Uint24()
	if err != nil {
		return nil, err
	}
	return &ESILabelExtended{Label: label, IsSingleActive: flags&ESI_LABEL_SINGLE_ACTIVE != 0}, nil
}

func serializeESILabel(v bgp.ExtendedCommunityInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	e := v.(*ESILabelExtended)
	var flags byte
	if e.IsSingleActive {
		flags |= ESI_LABEL_SINGLE_ACTIVE
	}
	w.PutUint8(flags)
	w.PutZeros(2)
	w.PutUint24(e.Label)
	return nil
}

type ESImportRouteTarget struct {
	ESImport net.HardwareAddr
}

func (e *ESImportRouteTarget) GetTypes() (bgp.ExtendedCommunityAttrType, bgp.ExtendedCommunityAttrSubType) {
	return bgp.EC_TYPE_EVPN, bgp.EC_SUBTYPE_ES_IMPORT
}

func (e *ESImportRouteTarget) String() string {
	return fmt.Sprintf("es-import:%s", e.ESImport)
}

func parseESImportRouteTarget(r *wire.Reader, _ *bgp.MarshallingOption) (bgp.ExtendedCommunityInterface, error) {
	b, err := r.Bytes(6)
	if err != nil {
		return nil, err
	}
	return &ESImportRouteTarget{ESImport: net.HardwareAddr(append([]byte(nil), b...))}, nil
}

func serializeESImportRouteTarget(v bgp.ExtendedCommunityInterface, w *wire.Writer, _ *bgp.MarshallingOption) error {
	e := v.(*ESImportRouteTarget)
	if len(e.ESImport) != 6 {
		return fmt.Errorf("invalid es-import %s", e.ESImport)
	}
	w.PutBytes(e.ESImport)
	return nil
}
