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
	"fmt"
	"math"
	"net/netip"
	"strings"

	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/rsvp"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// Object classes.
const (
	PCEP_OBJ_OPEN           = 1
	PCEP_OBJ_RP             = 2
	PCEP_OBJ_NO_PATH        = 3
	PCEP_OBJ_ENDPOINTS      = 4
	PCEP_OBJ_BANDWIDTH      = 5
	PCEP_OBJ_METRIC         = 6
	PCEP_OBJ_ERO            = 7
	PCEP_OBJ_RRO            = 8
	PCEP_OBJ_LSPA           = 9
	PCEP_OBJ_IRO            = 10
	PCEP_OBJ_SVEC           = 11
	PCEP_OBJ_NOTIFICATION   = 12
	PCEP_OBJ_ERROR          = 13
	PCEP_OBJ_LOAD_BALANCING = 14
	PCEP_OBJ_CLOSE          = 15
	PCEP_OBJ_LSP            = 32
	PCEP_OBJ_SRP            = 33
)

const (
	objectFlagIgnore         = 0x01
	objectFlagProcessingRule = 0x02
)

// ObjectKey identifies an object by Object-Class and Object-Type.
type ObjectKey struct {
	Class uint8
	Type  uint8
}

func (k ObjectKey) String() string {
	return fmt.Sprintf("%d/%d", k.Class, k.Type)
}

// ObjectHeader carries the P and I flags common to every object.
type ObjectHeader struct {
	ProcessingRule bool
	Ignore         bool
}

func (h *ObjectHeader) objectHeader() *ObjectHeader { return h }

func (h *ObjectHeader) flags() uint8 {
	var f uint8
	if h.ProcessingRule {
		f |= objectFlagProcessingRule
	}
	if h.Ignore {
		f |= objectFlagIgnore
	}
	return f
}

// ObjectInterface is implemented by every object; concrete objects embed
// ObjectHeader.
type ObjectInterface interface {
	ObjectKey() ObjectKey
	String() string
	objectHeader() *ObjectHeader
}

func (c *ExtensionContext) unknownObject(h registry.FrameHeader[ObjectKey]) error {
	for _, k := range c.objects.Codes() {
		if k.Class == h.Code.Class {
			return NewPCEPError(PCEP_ERR_UNKNOWN_OBJECT, PCEP_ERR_SUB_UNRECOGNIZED_TYPE, fmt.Sprintf("unknown object type %s", h.Code))
		}
	}
	return NewPCEPError(PCEP_ERR_UNKNOWN_OBJECT, PCEP_ERR_SUB_UNRECOGNIZED_CLASS, fmt.Sprintf("unknown object class %d", h.Code.Class))
}

// ReadObjects consumes r entirely.
func (c *ExtensionContext) ReadObjects(r *wire.Reader) ([]ObjectInterface, error) {
	var objs []ObjectInterface
	for r.Len() > 0 {
		b := r.Rest()
		if len(b) >= 4 && (int(b[2])<<8|int(b[3]))%4 != 0 {
			return nil, &registry.ParseError{
				Registry: c.objects.Name(),
				Code:     ObjectKey{Class: b[0], Type: b[1] >> 4},
				Err:      fmt.Errorf("object length %d is not a multiple of 4", int(b[2])<<8|int(b[3])),
			}
		}
		o, n, err := c.objectFramer.Decode(b, c)
		if err != nil {
			return nil, err
		}
		h := o.objectHeader()
		h.ProcessingRule = b[1]&objectFlagProcessingRule != 0
		h.Ignore = b[1]&objectFlagIgnore != 0
		objs = append(objs, o)
		r = wire.NewReader(b[n:])
	}
	return objs, nil
}

func (c *ExtensionContext) PutObject(w *wire.Writer, o ObjectInterface) error {
	start := w.Len()
	if err := c.objectFramer.EncodeTo(w, o.ObjectKey(), o, c); err != nil {
		return err
	}
	if l := w.Len() - start; l%4 != 0 {
		return fmt.Errorf("object %s: length %d is not a multiple of 4", o.ObjectKey(), l)
	}
	w.SetUint8(start+1, o.ObjectKey().Type<<4|o.objectHeader().flags())
	return nil
}

func (c *ExtensionContext) putObjects(w *wire.Writer, objs ...ObjectInterface) error {
	for _, o := range objs {
		if o == nil {
			continue
		}
		if err := c.PutObject(w, o); err != nil {
			return err
		}
	}
	return nil
}

func tlvString(tlvs []TLVInterface) string {
	if len(tlvs) == 0 {
		return ""
	}
	s := make([]string, 0, len(tlvs))
	for _, t := range tlvs {
		s = append(s, t.String())
	}
	return " [" + strings.Join(s, ", ") + "]"
}

type OpenObject struct {
	ObjectHeader
	Version   uint8
	Keepalive uint8
	DeadTimer uint8
	SessionID uint8
	TLVs      []TLVInterface
}

func NewOpenObject(keepalive, deadTimer, sessionID uint8, tlvs ...TLVInterface) *OpenObject {
	return &OpenObject{
		ObjectHeader: ObjectHeader{ProcessingRule: true},
		Version:      PCEP_VERSION,
		Keepalive:    keepalive,
		DeadTimer:    deadTimer,
		SessionID:    sessionID,
		TLVs:         tlvs,
	}
}

func (o *OpenObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_OPEN, 1} }

func (o *OpenObject) String() string {
	return fmt.Sprintf("open(keepalive %d dead %d sid %d)%s", o.Keepalive, o.DeadTimer, o.SessionID, tlvString(o.TLVs))
}

func parseOpenObject(r *wire.Reader, c *ExtensionContext) (ObjectInterface, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	o := &OpenObject{Version: b[0] >> 5, Keepalive: b[1], DeadTimer: b[2], SessionID: b[3]}
	if o.Version != PCEP_VERSION {
		return nil, NewPCEPError(PCEP_ERR_SESSION_FAILURE, PCEP_ERR_SUB_UNACCEPTABLE_NON_NEGOTIABLE,
			fmt.Sprintf("unsupported open version %d", o.Version))
	}
	if o.TLVs, err = c.ReadTLVs(r); err != nil {
		return nil, err
	}
	return o, nil
}

func serializeOpenObject(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	o := v.(*OpenObject)
	w.PutUint8(PCEP_VERSION << 5)
	w.PutUint8(o.Keepalive)
	w.PutUint8(o.DeadTimer)
	w.PutUint8(o.SessionID)
	return c.PutTLVs(w, o.TLVs)
}

const SRP_FLAG_REMOVE = 0x01

// SRPObject correlates PCE requests with PCC reports (RFC 8231 7.2).
type SRPObject struct {
	ObjectHeader
	Flags uint32
	ID    uint32
	TLVs  []TLVInterface
}

func NewSRPObject(id uint32, remove bool, tlvs ...TLVInterface) *SRPObject {
	o := &SRPObject{ObjectHeader: ObjectHeader{ProcessingRule: true}, ID: id, TLVs: tlvs}
	if remove {
		o.Flags |= SRP_FLAG_REMOVE
	}
	return o
}

func (o *SRPObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_SRP, 1} }
func (o *SRPObject) Remove() bool         { return o.Flags&SRP_FLAG_REMOVE != 0 }

func (o *SRPObject) String() string {
	return fmt.Sprintf("srp(%d remove=%t)%s", o.ID, o.Remove(), tlvString(o.TLVs))
}

func parseSRPObject(r *wire.Reader, c *ExtensionContext) (ObjectInterface, error) {
	o := &SRPObject{}
	var err error
	if o.Flags, err = r.Uint32(); err != nil {
		return nil, err
	}
	if o.ID, err = r.Uint32(); err != nil {
		return nil, err
	}
	if o.TLVs, err = c.ReadTLVs(r); err != nil {
		return nil, err
	}
	return o, nil
}

func serializeSRPObject(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	o := v.(*SRPObject)
	w.PutUint32(o.Flags)
	w.PutUint32(o.ID)
	return c.PutTLVs(w, o.TLVs)
}

// LSP operational states.
const (
	LSP_OPER_DOWN = iota
	LSP_OPER_UP
	LSP_OPER_ACTIVE
	LSP_OPER_GOING_DOWN
	LSP_OPER_GOING_UP
)

const (
	lspFlagDelegate       = 0x001
	lspFlagSync           = 0x002
	lspFlagRemove         = 0x004
	lspFlagAdministrative = 0x008
	lspFlagCreate         = 0x080
)

// LSPObject identifies an LSP by its PLSP-ID (RFC 8231 7.3) and carries
// the delegation and state flags.
type LSPObject struct {
	ObjectHeader
	PLSPID         uint32
	Delegate       bool
	Sync           bool
	Remove         bool
	Administrative bool
	Create         bool
	Operational    uint8
	TLVs           []TLVInterface
}

func (o *LSPObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_LSP, 1} }

func (o *LSPObject) String() string {
	var f []string
	for _, x := range []struct {
		set  bool
		name string
	}{{o.Delegate, "D"}, {o.Sync, "S"}, {o.Remove, "R"}, {o.Administrative, "A"}, {o.Create, "C"}} {
		if x.set {
			f = append(f, x.name)
		}
	}
	return fmt.Sprintf("lsp(%d oper %d flags %s)%s", o.PLSPID, o.Operational, strings.Join(f, ""), tlvString(o.TLVs))
}

func parseLSPObject(r *wire.Reader, c *ExtensionContext) (ObjectInterface, error) {
	v, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	o := &LSPObject{
		PLSPID:         v >> 12,
		Delegate:       v&lspFlagDelegate != 0,
		Sync:           v&lspFlagSync != 0,
		Remove:         v&lspFlagRemove != 0,
		Administrative: v&lspFlagAdministrative != 0,
		Create:         v&lspFlagCreate != 0,
		Operational:    uint8(v>>4) & 0x07,
	}
	if o.TLVs, err = c.ReadTLVs(r); err != nil {
		return nil, err
	}
	return o, nil
}

func serializeLSPObject(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	o := v.(*LSPObject)
	if o.PLSPID > 0xfffff {
		return fmt.Errorf("plsp-id %d exceeds 20 bits", o.PLSPID)
	}
	x := o.PLSPID<<12 | uint32(o.Operational&0x07)<<4
	for _, f := range []struct {
		set bool
		bit uint32
	}{{o.Delegate, lspFlagDelegate}, {o.Sync, lspFlagSync}, {o.Remove, lspFlagRemove}, {o.Administrative, lspFlagAdministrative}, {o.Create, lspFlagCreate}} {
		if f.set {
			x |= f.bit
		}
	}
	w.PutUint32(x)
	return c.PutTLVs(w, o.TLVs)
}

// EROObject is the explicit route. IROObject and RROObject share its
// subobject encoding.
type EROObject struct {
	ObjectHeader
	Subobjects []*rsvp.Subobject
}

type IROObject struct {
	ObjectHeader
	Subobjects []*rsvp.Subobject
}

type RROObject struct {
	ObjectHeader
	Subobjects []*rsvp.Subobject
}

func (o *EROObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_ERO, 1} }
func (o *IROObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_IRO, 1} }
func (o *RROObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_RRO, 1} }

func (o *EROObject) String() string { return "ero" + routeString(o.Subobjects) }
func (o *IROObject) String() string { return "iro" + routeString(o.Subobjects) }
func (o *RROObject) String() string { return "rro" + routeString(o.Subobjects) }

func routeString(subs []*rsvp.Subobject) string {
	s := make([]string, 0, len(subs))
	for _, x := range subs {
		s = append(s, x.String())
	}
	return "(" + strings.Join(s, ", ") + ")"
}

func routeParser(kind rsvp.RouteKind, build func([]*rsvp.Subobject) ObjectInterface) registry.ParserFunc[*ExtensionContext, ObjectInterface] {
	return func(r *wire.Reader, c *ExtensionContext) (ObjectInterface, error) {
		subs, err := c.rsvp.ReadSubobjects(r, kind)
		if err != nil {
			return nil, err
		}
		return build(subs), nil
	}
}

func serializeERO(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	return c.rsvp.PutSubobjects(w, v.(*EROObject).Subobjects, rsvp.ROUTE_EXPLICIT)
}

func serializeIRO(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	return c.rsvp.PutSubobjects(w, v.(*IROObject).Subobjects, rsvp.ROUTE_EXPLICIT)
}

func serializeRRO(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	return c.rsvp.PutSubobjects(w, v.(*RROObject).Subobjects, rsvp.ROUTE_RECORD)
}

// EndPointsObject is the IPv4 (type 1) or IPv6 (type 2) END-POINTS object.
type EndPointsObject struct {
	ObjectHeader
	Source      netip.Addr
	Destination netip.Addr
}

func (o *EndPointsObject) ObjectKey() ObjectKey {
	if o.Source.Is4() {
		return ObjectKey{PCEP_OBJ_ENDPOINTS, 1}
	}
	return ObjectKey{PCEP_OBJ_ENDPOINTS, 2}
}

func (o *EndPointsObject) String() string {
	return fmt.Sprintf("endpoints(%s->%s)", o.Source, o.Destination)
}

func endPointsParser(ipv6 bool) registry.ParserFunc[*ExtensionContext, ObjectInterface] {
	addr := (*wire.Reader).Addr4
	if ipv6 {
		addr = (*wire.Reader).Addr16
	}
	return func(r *wire.Reader, _ *ExtensionContext) (ObjectInterface, error) {
		o := &EndPointsObject{}
		var err error
		if o.Source, err = addr(r); err != nil {
			return nil, err
		}
		if o.Destination, err = addr(r); err != nil {
			return nil, err
		}
		return o, nil
	}
}

func serializeEndPoints(v ObjectInterface, w *wire.Writer, _ *ExtensionContext) error {
	o := v.(*EndPointsObject)
	if !o.Source.IsValid() || o.Source.Is4() != o.Destination.Is4() {
		return fmt.Errorf("endpoints: mixed or missing address families")
	}
	w.PutAddr(o.Source)
	w.PutAddr(o.Destination)
	return nil
}

// BandwidthObject carries bytes per second as an IEEE float.
// Reoptimization selects object type 2.
type BandwidthObject struct {
	ObjectHeader
	Reoptimization bool
	Bandwidth      float32
}

func (o *BandwidthObject) ObjectKey() ObjectKey {
	if o.Reoptimization {
		return ObjectKey{PCEP_OBJ_BANDWIDTH, 2}
	}
	return ObjectKey{PCEP_OBJ_BANDWIDTH, 1}
}

func (o *BandwidthObject) String() string {
	return fmt.Sprintf("bandwidth(%g)", o.Bandwidth)
}

func bandwidthParser(reopt bool) registry.ParserFunc[*ExtensionContext, ObjectInterface] {
	return func(r *wire.Reader, _ *ExtensionContext) (ObjectInterface, error) {
		v, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		return &BandwidthObject{Reoptimization: reopt, Bandwidth: math.Float32frombits(v)}, nil
	}
}

func serializeBandwidth(v ObjectInterface, w *wire.Writer, _ *ExtensionContext) error {
	w.PutUint32(math.Float32bits(v.(*BandwidthObject).Bandwidth))
	return nil
}

// Metric types (RFC 5440 7.8).
const (
	METRIC_IGP = 1
	METRIC_TE  = 2
	METRIC_HOP = 3
)

const (
	metricFlagBound    = 0x01
	metricFlagComputed = 0x02
)

type MetricObject struct {
	ObjectHeader
	Bound    bool
	Computed bool
	Type     uint8
	Value    float32
}

func (o *MetricObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_METRIC, 1} }

func (o *MetricObject) String() string {
	return fmt.Sprintf("metric(type %d value %g bound=%t computed=%t)", o.Type, o.Value, o.Bound, o.Computed)
}

func parseMetric(r *wire.Reader, _ *ExtensionContext) (ObjectInterface, error) {
	if err := r.Skip(2); err != nil {
		return nil, err
	}
	flags, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	typ, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	v, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &MetricObject{
		Bound:    flags&metricFlagBound != 0,
		Computed: flags&metricFlagComputed != 0,
		Type:     typ,
		Value:    math.Float32frombits(v),
	}, nil
}

func serializeMetric(v ObjectInterface, w *wire.Writer, _ *ExtensionContext) error {
	o := v.(*MetricObject)
	var flags uint8
	if o.Bound {
		flags |= metricFlagBound
	}
	if o.Computed {
		flags |= metricFlagComputed
	}
	w.PutUint16(0)
	w.PutUint8(flags)
	w.PutUint8(o.Type)
	w.PutUint32(math.Float32bits(o.Value))
	return nil
}

const LSPA_FLAG_LOCAL_PROTECTION = 0x01

// LSPAObject carries the LSP attributes of RFC 5440 7.11.
type LSPAObject struct {
	ObjectHeader
	ExcludeAny      uint32
	IncludeAny      uint32
	IncludeAll      uint32
	SetupPriority   uint8
	HoldingPriority uint8
	Flags           uint8
	TLVs            []TLVInterface
}

func (o *LSPAObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_LSPA, 1} }

func (o *LSPAObject) String() string {
	return fmt.Sprintf("lspa(setup %d holding %d)%s", o.SetupPriority, o.HoldingPriority, tlvString(o.TLVs))
}

func parseLSPA(r *wire.Reader, c *ExtensionContext) (ObjectInterface, error) {
	o := &LSPAObject{}
	var err error
	if o.ExcludeAny, err = r.Uint32(); err != nil {
		return nil, err
	}
	if o.IncludeAny, err = r.Uint32(); err != nil {
		return nil, err
	}
	if o.IncludeAll, err = r.Uint32(); err != nil {
		return nil, err
	}
	b, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	o.SetupPriority, o.HoldingPriority, o.Flags = b[0], b[1], b[2]
	if o.TLVs, err = c.ReadTLVs(r); err != nil {
		return nil, err
	}
	return o, nil
}

func serializeLSPA(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	o := v.(*LSPAObject)
	w.PutUint32(o.ExcludeAny)
	w.PutUint32(o.IncludeAny)
	w.PutUint32(o.IncludeAll)
	w.PutUint8(o.SetupPriority)
	w.PutUint8(o.HoldingPriority)
	w.PutUint8(o.Flags)
	w.PutUint8(0)
	return c.PutTLVs(w, o.TLVs)
}

// ErrorObject is the PCEP-ERROR object.
type ErrorObject struct {
	ObjectHeader
	Flags uint8
	Type  uint8
	Value uint8
	TLVs  []TLVInterface
}

func (o *ErrorObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_ERROR, 1} }

func (o *ErrorObject) String() string {
	return fmt.Sprintf("error(type %d value %d)%s", o.Type, o.Value, tlvString(o.TLVs))
}

func parseErrorObject(r *wire.Reader, c *ExtensionContext) (ObjectInterface, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	o := &ErrorObject{Flags: b[1], Type: b[2], Value: b[3]}
	if o.TLVs, err = c.ReadTLVs(r); err != nil {
		return nil, err
	}
	return o, nil
}

func serializeErrorObject(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	o := v.(*ErrorObject)
	w.PutUint8(0)
	w.PutUint8(o.Flags)
	w.PutUint8(o.Type)
	w.PutUint8(o.Value)
	return c.PutTLVs(w, o.TLVs)
}

// CLOSE object reasons (RFC 5440 7.17).
const (
	CLOSE_REASON_NO_EXPLANATION = iota + 1
	CLOSE_REASON_DEADTIMER_EXPIRED
	CLOSE_REASON_MALFORMED_MESSAGE
	CLOSE_REASON_TOO_MANY_UNKNOWN_REQUESTS
	CLOSE_REASON_TOO_MANY_UNKNOWN_MESSAGES
)

type CloseObject struct {
	ObjectHeader
	Flags  uint8
	Reason uint8
	TLVs   []TLVInterface
}

func (o *CloseObject) ObjectKey() ObjectKey { return ObjectKey{PCEP_OBJ_CLOSE, 1} }

func (o *CloseObject) String() string {
	return fmt.Sprintf("close(reason %d)%s", o.Reason, tlvString(o.TLVs))
}

func parseCloseObject(r *wire.Reader, c *ExtensionContext) (ObjectInterface, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return nil, err
	}
	o := &CloseObject{Flags: b[2], Reason: b[3]}
	if o.TLVs, err = c.ReadTLVs(r); err != nil {
		return nil, err
	}
	return o, nil
}

func serializeCloseObject(v ObjectInterface, w *wire.Writer, c *ExtensionContext) error {
	o := v.(*CloseObject)
	w.PutUint16(0)
	w.PutUint8(o.Flags)
	w.PutUint8(o.Reason)
	return c.PutTLVs(w, o.TLVs)
}
