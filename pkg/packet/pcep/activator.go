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

package pcep

import (
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/rsvp"
)

// BaseActivator registers the RFC 5440 session messages, the stateful
// messages of RFC 8231 and RFC 8281, and the objects and TLVs they carry.
type BaseActivator struct{}

func (BaseActivator) Start(c *ExtensionContext) registry.Registrations {
	m, o, t := c.messages, c.objects, c.tlvs
	return registry.Registrations{
		m.RegisterParser(PCEP_MSG_OPEN, parseOpen),
		m.RegisterSerializer(&PCEPOpen{}, serializeOpen),
		m.RegisterParser(PCEP_MSG_KEEPALIVE, parseKeepalive),
		m.RegisterSerializer(&PCEPKeepalive{}, serializeKeepalive),
		m.RegisterParser(PCEP_MSG_PCERR, parsePCErr),
		m.RegisterSerializer(&PCErr{}, serializePCErr),
		m.RegisterParser(PCEP_MSG_CLOSE, parseClose),
		m.RegisterSerializer(&PCEPClose{}, serializeClose),
		m.RegisterParser(PCEP_MSG_PCRPT, parsePCRpt),
		m.RegisterSerializer(&PCRpt{}, serializePCRpt),
		m.RegisterParser(PCEP_MSG_PCUPD, parsePCUpd),
		m.RegisterSerializer(&PCUpd{}, serializePCUpd),
		m.RegisterParser(PCEP_MSG_PCINITIATE, parsePCInitiate),
		m.RegisterSerializer(&PCInitiate{}, serializePCInitiate),

		o.RegisterParser(ObjectKey{PCEP_OBJ_OPEN, 1}, parseOpenObject),
		o.RegisterSerializer(&OpenObject{}, serializeOpenObject),
		o.RegisterParser(ObjectKey{PCEP_OBJ_SRP, 1}, parseSRPObject),
		o.RegisterSerializer(&SRPObject{}, serializeSRPObject),
		o.RegisterParser(ObjectKey{PCEP_OBJ_LSP, 1}, parseLSPObject),
		o.RegisterSerializer(&LSPObject{}, serializeLSPObject),
		o.RegisterParser(ObjectKey{PCEP_OBJ_ERO, 1}, routeParser(rsvp.ROUTE_EXPLICIT, func(s []*rsvp.Subobject) ObjectInterface {
			return &EROObject{Subobjects: s}
		})),
		o.RegisterSerializer(&EROObject{}, serializeERO),
		o.RegisterParser(ObjectKey{PCEP_OBJ_IRO, 1}, routeParser(rsvp.ROUTE_EXPLICIT, func(s []*rsvp.Subobject) ObjectInterface {
			return &IROObject{Subobjects: s}
		})),
		o.RegisterSerializer(&IROObject{}, serializeIRO),
		o.RegisterParser(ObjectKey{PCEP_OBJ_RRO, 1}, routeParser(rsvp.ROUTE_RECORD, func(s []*rsvp.Subobject) ObjectInterface {
			return &RROObject{Subobjects: s}
		})),
		o.RegisterSerializer(&RROObject{}, serializeRRO),
		o.RegisterParser(ObjectKey{PCEP_OBJ_ENDPOINTS, 1}, endPointsParser(false)),
		o.RegisterParser(ObjectKey{PCEP_OBJ_ENDPOINTS, 2}, endPointsParser(true)),
		o.RegisterSerializer(&EndPointsObject{}, serializeEndPoints),
		o.RegisterParser(ObjectKey{PCEP_OBJ_BANDWIDTH, 1}, bandwidthParser(false)),
		o.RegisterParser(ObjectKey{PCEP_OBJ_BANDWIDTH, 2}, bandwidthParser(true)),
		o.RegisterSerializer(&BandwidthObject{}, serializeBandwidth),
		o.RegisterParser(ObjectKey{PCEP_OBJ_METRIC, 1}, parseMetric),
		o.RegisterSerializer(&MetricObject{}, serializeMetric),
		o.RegisterParser(ObjectKey{PCEP_OBJ_LSPA, 1}, parseLSPA),
		o.RegisterSerializer(&LSPAObject{}, serializeLSPA),
		o.RegisterParser(ObjectKey{PCEP_OBJ_ERROR, 1}, parseErrorObject),
		o.RegisterSerializer(&ErrorObject{}, serializeErrorObject),
		o.RegisterParser(ObjectKey{PCEP_OBJ_CLOSE, 1}, parseCloseObject),
		o.RegisterSerializer(&CloseObject{}, serializeCloseObject),

		t.RegisterParser(PCEP_TLV_STATEFUL_PCE_CAPABILITY, parseStatefulCapability),
		t.RegisterSerializer(&StatefulCapabilityTLV{}, serializeStatefulCapability),
		t.RegisterParser(PCEP_TLV_SYMBOLIC_PATH_NAME, parseSymbolicPathName),
		t.RegisterSerializer(&SymbolicPathNameTLV{}, serializeSymbolicPathName),
		t.RegisterParser(PCEP_TLV_IPV4_LSP_IDENTIFIERS, lspIdentifiersParser(false)),
		t.RegisterParser(PCEP_TLV_IPV6_LSP_IDENTIFIERS, lspIdentifiersParser(true)),
		t.RegisterSerializer(&LSPIdentifiersTLV{}, serializeLSPIdentifiers),
		t.RegisterParser(PCEP_TLV_LSP_ERROR_CODE, parseLSPErrorCode),
		t.RegisterSerializer(&LSPErrorCodeTLV{}, serializeLSPErrorCode),
		t.RegisterParser(PCEP_TLV_PATH_SETUP_TYPE, parsePathSetupType),
		t.RegisterSerializer(&PathSetupTypeTLV{}, serializePathSetupType),
	}
}
