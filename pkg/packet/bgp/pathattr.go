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

package bgp

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type BGPAttrType uint8

const (
	_ BGPAttrType = iota
	BGP_ATTR_TYPE_ORIGIN
	BGP_ATTR_TYPE_AS_PATH
	BGP_ATTR_TYPE_NEXT_HOP
	BGP_ATTR_TYPE_MULTI_EXIT_DISC
	BGP_ATTR_TYPE_LOCAL_PREF
	BGP_ATTR_TYPE_ATOMIC_AGGREGATE
	BGP_ATTR_TYPE_AGGREGATOR
	BGP_ATTR_TYPE_COMMUNITIES
	BGP_ATTR_TYPE_ORIGINATOR_ID
	BGP_ATTR_TYPE_CLUSTER_LIST
	_
	_
	_
	BGP_ATTR_TYPE_MP_REACH_NLRI // = 14
	BGP_ATTR_TYPE_MP_UNREACH_NLRI
	BGP_ATTR_TYPE_EXTENDED_COMMUNITIES
	BGP_ATTR_TYPE_AS4_PATH
	BGP_ATTR_TYPE_AS4_AGGREGATOR
)

const BGP_ATTR_TYPE_LARGE_COMMUNITY BGPAttrType = 32

func (t BGPAttrType) String() string {
	switch t {
	case BGP_ATTR_TYPE_ORIGIN:
		return "ORIGIN"
	case BGP_ATTR_TYPE_AS_PATH:
		return "AS_PATH"
	case BGP_ATTR_TYPE_NEXT_HOP:
		return "NEXT_HOP"
	case BGP_ATTR_TYPE_MULTI_EXIT_DISC:
		return "MULTI_EXIT_DISC"
	case BGP_ATTR_TYPE_LOCAL_PREF:
		return "LOCAL_PREF"
	case BGP_ATTR_TYPE_ATOMIC_AGGREGATE:
		return "ATOMIC_AGGREGATE"
	case BGP_ATTR_TYPE_AGGREGATOR:
		return "AGGREGATOR"
	case BGP_ATTR_TYPE_COMMUNITIES:
		return "COMMUNITIES"
	case BGP_ATTR_TYPE_ORIGINATOR_ID:
		return "ORIGINATOR_ID"
	case BGP_ATTR_TYPE_CLUSTER_LIST:
		return "CLUSTER_LIST"
	case BGP_ATTR_TYPE_MP_REACH_NLRI:
		return "MP_REACH_NLRI"
	case BGP_ATTR_TYPE_MP_UNREACH_NLRI:
		return "MP_UNREACH_NLRI"
	case BGP_ATTR_TYPE_EXTENDED_COMMUNITIES:
		return "EXTENDED_COMMUNITIES"
	case BGP_ATTR_TYPE_AS4_PATH:
		return "AS4_PATH"
	case BGP_ATTR_TYPE_AS4_AGGREGATOR:
		return "AS4_AGGREGATOR"
	case BGP_ATTR_TYPE_LARGE_COMMUNITY:
		return "LARGE_COMMUNITY"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

type BGPAttrFlag uint8

const (
	BGP_ATTR_FLAG_EXTENDED_LENGTH BGPAttrFlag = 1 << 4
	BGP_ATTR_FLAG_PARTIAL         BGPAttrFlag = 1 << 5
	BGP_ATTR_FLAG_TRANSITIVE      BGPAttrFlag = 1 << 6
	BGP_ATTR_FLAG_OPTIONAL        BGPAttrFlag = 1 << 7
)

var PathAttrFlags = map[BGPAttrType]BGPAttrFlag{
	BGP_ATTR_TYPE_ORIGIN:               BGP_ATTR_FLAG_TRANSITIVE,
	BGP_ATTR_TYPE_AS_PATH:              BGP_ATTR_FLAG_TRANSITIVE,
	BGP_ATTR_TYPE_NEXT_HOP:             BGP_ATTR_FLAG_TRANSITIVE,
	BGP_ATTR_TYPE_MULTI_EXIT_DISC:      BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_LOCAL_PREF:           BGP_ATTR_FLAG_TRANSITIVE,
	BGP_ATTR_TYPE_ATOMIC_AGGREGATE:     BGP_ATTR_FLAG_TRANSITIVE,
	BGP_ATTR_TYPE_AGGREGATOR:           BGP_ATTR_FLAG_TRANSITIVE | BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_COMMUNITIES:          BGP_ATTR_FLAG_TRANSITIVE | BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_ORIGINATOR_ID:        BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_CLUSTER_LIST:         BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_MP_REACH_NLRI:        BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_MP_UNREACH_NLRI:      BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_EXTENDED_COMMUNITIES: BGP_ATTR_FLAG_TRANSITIVE | BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_AS4_PATH:             BGP_ATTR_FLAG_TRANSITIVE | BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_AS4_AGGREGATOR:       BGP_ATTR_FLAG_TRANSITIVE | BGP_ATTR_FLAG_OPTIONAL,
	BGP_ATTR_TYPE_LARGE_COMMUNITY:      BGP_ATTR_FLAG_TRANSITIVE | BGP_ATTR_FLAG_OPTIONAL,
}

type PathAttributeInterface interface {
	GetType() BGPAttrType
	GetFlags() BGPAttrFlag
	String() string
	attrHeader() *PathAttribute
}

type PathAttribute struct {
	Flags BGPAttrFlag
	Type  BGPAttrType
}

func newPathAttribute(t BGPAttrType) PathAttribute {
	return PathAttribute{Flags: PathAttrFlags[t], Type: t}
}

func (p *PathAttribute) GetType() BGPAttrType       { return p.Type }
func (p *PathAttribute) GetFlags() BGPAttrFlag      { return p.Flags }
func (p *PathAttribute) attrHeader() *PathAttribute { return p }

// attrError is returned by attribute parsers that know which UPDATE
// error subcode applies; anything else maps to an attribute length error.
type attrError struct {
	subcode uint8
	msg     string
}

func (e *attrError) Error() string { return e.msg }

func newAttrError(subcode uint8, format string, args ...interface{}) error {
	return &attrError{subcode: subcode, msg: fmt.Sprintf(format, args...)}
}

func attrLength(r *wire.Reader, want int, t BGPAttrType) error {
	if r.Len() != want {
		return newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "%s length %d, want %d", t, r.Len(), want)
	}
	return nil
}

// RFC 7606 section 7.
func attrErrorHandling(t BGPAttrType) ErrorHandling {
	switch t {
	case BGP_ATTR_TYPE_ATOMIC_AGGREGATE, BGP_ATTR_TYPE_AGGREGATOR, BGP_ATTR_TYPE_AS4_PATH, BGP_ATTR_TYPE_AS4_AGGREGATOR:
		return ERROR_HANDLING_ATTRIBUTE_DISCARD
	case BGP_ATTR_TYPE_MP_REACH_NLRI, BGP_ATTR_TYPE_MP_UNREACH_NLRI:
		return ERROR_HANDLING_SESSION_RESET
	}
	return ERROR_HANDLING_TREAT_AS_WITHDRAW
}

type PathAttributeOrigin struct {
	PathAttribute
	Value uint8
}

func NewPathAttributeOrigin(value uint8) *PathAttributeOrigin {
	return &PathAttributeOrigin{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_ORIGIN), Value: value}
}

func (p *PathAttributeOrigin) String() string {
	switch p.Value {
	case BGP_ORIGIN_ATTR_TYPE_IGP:
		return "{Origin: i}"
	case BGP_ORIGIN_ATTR_TYPE_EGP:
		return "{Origin: e}"
	}
	return "{Origin: ?}"
}

func parseOrigin(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if err := attrLength(r, 1, BGP_ATTR_TYPE_ORIGIN); err != nil {
		return nil, err
	}
	v, _ := r.Uint8()
	if v > BGP_ORIGIN_ATTR_TYPE_INCOMPLETE {
		return nil, newAttrError(BGP_ERROR_SUB_INVALID_ORIGIN_ATTRIBUTE, "invalid origin %d", v)
	}
	return NewPathAttributeOrigin(v), nil
}

func serializeOrigin(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutUint8(a.(*PathAttributeOrigin).Value)
	return nil
}

type AsPathParam struct {
	Type uint8
	AS   []uint32
}

func NewAsPathParam(segType uint8, as []uint32) *AsPathParam {
	return &AsPathParam{Type: segType, AS: as}
}

func (a *AsPathParam) String() string {
	s := make([]string, 0, len(a.AS))
	for _, as := range a.AS {
		s = append(s, fmt.Sprintf("%d", as))
	}
	switch a.Type {
	case BGP_ASPATH_ATTR_TYPE_SET:
		return "{" + strings.Join(s, ",") + "}"
	case BGP_ASPATH_ATTR_TYPE_CONFED_SEQ:
		return "(" + strings.Join(s, " ") + ")"
	case BGP_ASPATH_ATTR_TYPE_CONFED_SET:
		return "[" + strings.Join(s, ",") + "]"
	}
	return strings.Join(s, " ")
}

func readAsPathParams(r *wire.Reader, asLen int) ([]*AsPathParam, error) {
	var params []*AsPathParam
	for r.Len() > 0 {
		segType, _ := r.Uint8()
		num, err := r.Uint8()
		if err != nil {
			return nil, newAttrError(BGP_ERROR_SUB_MALFORMED_AS_PATH, "truncated as path segment")
		}
		if segType < BGP_ASPATH_ATTR_TYPE_SET || segType > BGP_ASPATH_ATTR_TYPE_CONFED_SET {
			return nil, newAttrError(BGP_ERROR_SUB_MALFORMED_AS_PATH, "invalid as path segment type %d", segType)
		}
		if num == 0 || r.Len() < int(num)*asLen {
			return nil, newAttrError(BGP_ERROR_SUB_MALFORMED_AS_PATH, "invalid as path segment length %d", num)
		}
		p := &AsPathParam{Type: segType, AS: make([]uint32, 0, num)}
		for i := 0; i < int(num); i++ {
			var as uint32
			if asLen == 2 {
				v, _ := r.Uint16()
				as = uint32(v)
			} else {
				as, _ = r.Uint32()
			}
			p.AS = append(p.AS, as)
		}
		params = append(params, p)
	}
	return params, nil
}

func putAsPathParams(w *wire.Writer, params []*AsPathParam, asLen int) error {
	for _, p := range params {
		if len(p.AS) == 0 || len(p.AS) > 255 {
			return fmt.Errorf("as path segment with %d ASes", len(p.AS))
		}
		w.PutUint8(p.Type)
		w.PutUint8(uint8(len(p.AS)))
		for _, as := range p.AS {
			if asLen == 2 {
				if as > 0xffff {
					as = AS_TRANS
				}
				w.PutUint16(uint16(as))
			} else {
				w.PutUint32(as)
			}
		}
	}
	return nil
}

type PathAttributeAsPath struct {
	PathAttribute
	Value []*AsPathParam
}

func NewPathAttributeAsPath(value []*AsPathParam) *PathAttributeAsPath {
	return &PathAttributeAsPath{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_AS_PATH), Value: value}
}

func (p *PathAttributeAsPath) String() string {
	s := make([]string, 0, len(p.Value))
	for _, v := range p.Value {
		s = append(s, v.String())
	}
	return "{AsPath: " + strings.Join(s, " ") + "}"
}

// PathLength counts every AS of a sequence, one for each set and nothing
// for confederation segments.
func (p *PathAttributeAsPath) PathLength() int {
	l := 0
	for _, seg := range p.Value {
		switch seg.Type {
		case BGP_ASPATH_ATTR_TYPE_SEQ:
			l += len(seg.AS)
		case BGP_ASPATH_ATTR_TYPE_SET:
			l++
		}
	}
	return l
}

// FirstAS is the neighboring AS: the first AS of the leading sequence,
// skipping confederation segments. 0 when the path is empty.
func (p *PathAttributeAsPath) FirstAS() uint32 {
	for _, seg := range p.Value {
		switch seg.Type {
		case BGP_ASPATH_ATTR_TYPE_CONFED_SEQ, BGP_ASPATH_ATTR_TYPE_CONFED_SET:
			continue
		case BGP_ASPATH_ATTR_TYPE_SEQ:
			if len(seg.AS) > 0 {
				return seg.AS[0]
			}
		}
		return 0
	}
	return 0
}

func (p *PathAttributeAsPath) Contains(as uint32) bool {
	for _, seg := range p.Value {
		for _, a := range seg.AS {
			if a == as {
				return true
			}
		}
	}
	return false
}

func parseAsPath(r *wire.Reader, opts *MarshallingOption) (PathAttributeInterface, error) {
	asLen := 4
	if opts.as2() {
		asLen = 2
	}
	params, err := readAsPathParams(r, asLen)
	if err != nil {
		return nil, err
	}
	return NewPathAttributeAsPath(params), nil
}

func serializeAsPath(a PathAttributeInterface, w *wire.Writer, opts *MarshallingOption) error {
	asLen := 4
	if opts.as2() {
		asLen = 2
	}
	return putAsPathParams(w, a.(*PathAttributeAsPath).Value, asLen)
}

type PathAttributeAs4Path struct {
	PathAttribute
	Value []*AsPathParam
}

func NewPathAttributeAs4Path(value []*AsPathParam) *PathAttributeAs4Path {
	return &PathAttributeAs4Path{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_AS4_PATH), Value: value}
}

func (p *PathAttributeAs4Path) String() string {
	s := make([]string, 0, len(p.Value))
	for _, v := range p.Value {
		s = append(s, v.String())
	}
	return "{As4Path: " + strings.Join(s, " ") + "}"
}

func parseAs4Path(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	params, err := readAsPathParams(r, 4)
	if err != nil {
		return nil, err
	}
	return NewPathAttributeAs4Path(params), nil
}

func serializeAs4Path(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	return putAsPathParams(w, a.(*PathAttributeAs4Path).Value, 4)
}

type PathAttributeNextHop struct {
	PathAttribute
	Value netip.Addr
}

func NewPathAttributeNextHop(addr netip.Addr) *PathAttributeNextHop {
	return &PathAttributeNextHop{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_NEXT_HOP), Value: addr}
}

func (p *PathAttributeNextHop) String() string {
	return "{Nexthop: " + p.Value.String() + "}"
}

func parseNextHop(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if err := attrLength(r, 4, BGP_ATTR_TYPE_NEXT_HOP); err != nil {
		return nil, err
	}
	addr, _ := r.Addr4()
	return NewPathAttributeNextHop(addr), nil
}

func serializeNextHop(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutAddr(a.(*PathAttributeNextHop).Value)
	return nil
}

type PathAttributeMultiExitDisc struct {
	PathAttribute
	Value uint32
}

func NewPathAttributeMultiExitDisc(med uint32) *PathAttributeMultiExitDisc {
	return &PathAttributeMultiExitDisc{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_MULTI_EXIT_DISC), Value: med}
}

func (p *PathAttributeMultiExitDisc) String() string {
	return fmt.Sprintf("{Med: %d}", p.Value)
}

func parseMultiExitDisc(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if err := attrLength(r, 4, BGP_ATTR_TYPE_MULTI_EXIT_DISC); err != nil {
		return nil, err
	}
	v, _ := r.Uint32()
	return NewPathAttributeMultiExitDisc(v), nil
}

func serializeMultiExitDisc(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutUint32(a.(*PathAttributeMultiExitDisc).Value)
	return nil
}

type PathAttributeLocalPref struct {
	PathAttribute
	Value uint32
}

func NewPathAttributeLocalPref(lp uint32) *PathAttributeLocalPref {
	return &PathAttributeLocalPref{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_LOCAL_PREF), Value: lp}
}

func (p *PathAttributeLocalPref) String() string {
	return fmt.Sprintf("{LocalPref: %d}", p.Value)
}

func parseLocalPref(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if err := attrLength(r, 4, BGP_ATTR_TYPE_LOCAL_PREF); err != nil {
		return nil, err
	}
	v, _ := r.Uint32()
	return NewPathAttributeLocalPref(v), nil
}

func serializeLocalPref(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutUint32(a.(*PathAttributeLocalPref).Value)
	return nil
}

type PathAttributeAtomicAggregate struct {
	PathAttribute
}

func NewPathAttributeAtomicAggregate() *PathAttributeAtomicAggregate {
	return &PathAttributeAtomicAggregate{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_ATOMIC_AGGREGATE)}
}

func (p *PathAttributeAtomicAggregate) String() string {
	return "{AtomicAggregate}"
}

func parseAtomicAggregate(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if err := attrLength(r, 0, BGP_ATTR_TYPE_ATOMIC_AGGREGATE); err != nil {
		return nil, err
	}
	return NewPathAttributeAtomicAggregate(), nil
}

func serializeAtomicAggregate(PathAttributeInterface, *wire.Writer, *MarshallingOption) error {
	return nil
}

type PathAttributeAggregator struct {
	PathAttribute
	AS      uint32
	Address netip.Addr
}

func NewPathAttributeAggregator(as uint32, address netip.Addr) *PathAttributeAggregator {
	return &PathAttributeAggregator{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_AGGREGATOR), AS: as, Address: address}
}

func (p *PathAttributeAggregator) String() string {
	return fmt.Sprintf("{Aggregate: {AS: %d, Address: %s}}", p.AS, p.Address)
}

func parseAggregator(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	var as uint32
	switch r.Len() {
	case 6:
		v, _ := r.Uint16()
		as = uint32(v)
	case 8:
		as, _ = r.Uint32()
	default:
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "aggregator length %d", r.Len())
	}
	addr, _ := r.Addr4()
	return NewPathAttributeAggregator(as, addr), nil
}

func serializeAggregator(a PathAttributeInterface, w *wire.Writer, opts *MarshallingOption) error {
	p := a.(*PathAttributeAggregator)
	if opts.as2() {
		as := p.AS
		if as > 0xffff {
			as = AS_TRANS
		}
		w.PutUint16(uint16(as))
	} else {
		w.PutUint32(p.AS)
	}
	w.PutAddr(p.Address)
	return nil
}

type PathAttributeAs4Aggregator struct {
	PathAttribute
	AS      uint32
	Address netip.Addr
}

func (p *PathAttributeAs4Aggregator) String() string {
	return fmt.Sprintf("{As4Aggregate: {AS: %d, Address: %s}}", p.AS, p.Address)
}

func parseAs4Aggregator(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if err := attrLength(r, 8, BGP_ATTR_TYPE_AS4_AGGREGATOR); err != nil {
		return nil, err
	}
	as, _ := r.Uint32()
	addr, _ := r.Addr4()
	return &PathAttributeAs4Aggregator{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_AS4_AGGREGATOR), AS: as, Address: addr}, nil
}

func serializeAs4Aggregator(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	p := a.(*PathAttributeAs4Aggregator)
	w.PutUint32(p.AS)
	w.PutAddr(p.Address)
	return nil
}

type PathAttributeCommunities struct {
	PathAttribute
	Value []uint32
}

func NewPathAttributeCommunities(value []uint32) *PathAttributeCommunities {
	return &PathAttributeCommunities{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_COMMUNITIES), Value: value}
}

func (p *PathAttributeCommunities) String() string {
	s := make([]string, 0, len(p.Value))
	for _, c := range p.Value {
		s = append(s, fmt.Sprintf("%d:%d", c>>16, c&0xffff))
	}
	return "{Communities: " + strings.Join(s, ", ") + "}"
}

func (p *PathAttributeCommunities) Has(c uint32) bool {
	for _, v := range p.Value {
		if v == c {
			return true
		}
	}
	return false
}

func parseCommunities(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if r.Len()%4 != 0 || r.Len() == 0 {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "communities length %d", r.Len())
	}
	value := make([]uint32, 0, r.Len()/4)
	for r.Len() > 0 {
		v, _ := r.Uint32()
		value = append(value, v)
	}
	return NewPathAttributeCommunities(value), nil
}

func serializeCommunities(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	for _, v := range a.(*PathAttributeCommunities).Value {
		w.PutUint32(v)
	}
	return nil
}

type PathAttributeOriginatorId struct {
	PathAttribute
	Value netip.Addr
}

func NewPathAttributeOriginatorId(id netip.Addr) *PathAttributeOriginatorId {
	return &PathAttributeOriginatorId{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_ORIGINATOR_ID), Value: id}
}

func (p *PathAttributeOriginatorId) String() string {
	return "{Originator: " + p.Value.String() + "}"
}

func parseOriginatorId(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if err := attrLength(r, 4, BGP_ATTR_TYPE_ORIGINATOR_ID); err != nil {
		return nil, err
	}
	addr, _ := r.Addr4()
	return NewPathAttributeOriginatorId(addr), nil
}

func serializeOriginatorId(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutAddr(a.(*PathAttributeOriginatorId).Value)
	return nil
}

type PathAttributeClusterList struct {
	PathAttribute
	Value []netip.Addr
}

func NewPathAttributeClusterList(value []netip.Addr) *PathAttributeClusterList {
	return &PathAttributeClusterList{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_CLUSTER_LIST), Value: value}
}

func (p *PathAttributeClusterList) String() string {
	s := make([]string, 0, len(p.Value))
	for _, v := range p.Value {
		s = append(s, v.String())
	}
	return "{ClusterList: " + strings.Join(s, ", ") + "}"
}

func parseClusterList(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if r.Len()%4 != 0 || r.Len() == 0 {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "cluster list length %d", r.Len())
	}
	value := make([]netip.Addr, 0, r.Len()/4)
	for r.Len() > 0 {
		v, _ := r.Addr4()
		value = append(value, v)
	}
	return NewPathAttributeClusterList(value), nil
}

func serializeClusterList(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	for _, v := range a.(*PathAttributeClusterList).Value {
		w.PutAddr(v)
	}
	return nil
}

type LargeCommunity struct {
	ASN        uint32
	LocalData1 uint32
	LocalData2 uint32
}

func (c *LargeCommunity) String() string {
	return fmt.Sprintf("%d:%d:%d", c.ASN, c.LocalData1, c.LocalData2)
}

type PathAttributeLargeCommunities struct {
	PathAttribute
	Values []*LargeCommunity
}

func NewPathAttributeLargeCommunities(values []*LargeCommunity) *PathAttributeLargeCommunities {
	return &PathAttributeLargeCommunities{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_LARGE_COMMUNITY), Values: values}
}

func (p *PathAttributeLargeCommunities) String() string {
	s := make([]string, 0, len(p.Values))
	for _, v := range p.Values {
		s = append(s, v.String())
	}
	return "{LargeCommunity: " + strings.Join(s, ", ") + "}"
}

func parseLargeCommunities(r *wire.Reader, _ *MarshallingOption) (PathAttributeInterface, error) {
	if r.Len()%12 != 0 || r.Len() == 0 {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "large communities length %d", r.Len())
	}
	values := make([]*LargeCommunity, 0, r.Len()/12)
	for r.Len() > 0 {
		asn, _ := r.Uint32()
		d1, _ := r.Uint32()
		d2, _ := r.Uint32()
		values = append(values, &LargeCommunity{ASN: asn, LocalData1: d1, LocalData2: d2})
	}
	return NewPathAttributeLargeCommunities(values), nil
}

func serializeLargeCommunities(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	for _, v := range a.(*PathAttributeLargeCommunities).Values {
		w.PutUint32(v.ASN)
		w.PutUint32(v.LocalData1)
		w.PutUint32(v.LocalData2)
	}
	return nil
}

type PathAttributeExtendedCommunities struct {
	PathAttribute
	Value []ExtendedCommunityInterface
}

func NewPathAttributeExtendedCommunities(value []ExtendedCommunityInterface) *PathAttributeExtendedCommunities {
	return &PathAttributeExtendedCommunities{PathAttribute: newPathAttribute(BGP_ATTR_TYPE_EXTENDED_COMMUNITIES), Value: value}
}

func (p *PathAttributeExtendedCommunities) String() string {
	s := make([]string, 0, len(p.Value))
	for _, v := range p.Value {
		s = append(s, v.String())
	}
	return "{Extcomms: [" + strings.Join(s, "], [") + "]}"
}

func (c *ExtensionContext) parseExtendedCommunities(r *wire.Reader, opts *MarshallingOption) (PathAttributeInterface, error) {
	if r.Len()%8 != 0 || r.Len() == 0 {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "extended communities length %d", r.Len())
	}
	value := make([]ExtendedCommunityInterface, 0, r.Len()/8)
	for r.Len() > 0 {
		e, err := c.ReadExtendedCommunity(r, opts)
		if err != nil {
			return nil, err
		}
		value = append(value, e)
	}
	return NewPathAttributeExtendedCommunities(value), nil
}

func (c *ExtensionContext) serializeExtendedCommunities(a PathAttributeInterface, w *wire.Writer, opts *MarshallingOption) error {
	for _, e := range a.(*PathAttributeExtendedCommunities).Value {
		if err := c.PutExtendedCommunity(e, w, opts); err != nil {
			return err
		}
	}
	return nil
}

type PathAttributeMpReachNLRI struct {
	PathAttribute
	AFI              uint16
	SAFI             uint8
	Nexthop          netip.Addr
	LinkLocalNexthop netip.Addr
	Value            []AddrPrefixInterface
}

func NewPathAttributeMpReachNLRI(f Family, nexthop netip.Addr, nlri []AddrPrefixInterface) *PathAttributeMpReachNLRI {
	return &PathAttributeMpReachNLRI{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_MP_REACH_NLRI),
		AFI:           f.Afi(),
		SAFI:          f.Safi(),
		Nexthop:       nexthop,
		Value:         nlri,
	}
}

func (p *PathAttributeMpReachNLRI) Family() Family {
	return NewFamily(p.AFI, p.SAFI)
}

func (p *PathAttributeMpReachNLRI) String() string {
	s := make([]string, 0, len(p.Value))
	for _, n := range p.Value {
		s = append(s, n.String())
	}
	return fmt.Sprintf("{MpReach(%s): {Nexthop: %s, NLRIs: [%s]}}", p.Family(), p.Nexthop, strings.Join(s, ", "))
}

func hasRDNexthop(safi uint8) bool {
	return safi == SAFI_MPLS_VPN
}

func (c *ExtensionContext) parseMpReachNLRI(r *wire.Reader, opts *MarshallingOption) (PathAttributeInterface, error) {
	afi, _ := r.Uint16()
	safi, _ := r.Uint8()
	nhLen, err := r.Uint8()
	if err != nil {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "truncated mp_reach_nlri")
	}
	nh, err := r.Slice(int(nhLen))
	if err != nil {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "mp_reach_nlri nexthop length %d", nhLen)
	}
	p := NewPathAttributeMpReachNLRI(NewFamily(afi, safi), netip.Addr{}, nil)
	if hasRDNexthop(safi) && nh.Len() >= 8 {
		_ = nh.Skip(8)
	}
	switch nh.Len() {
	case 0:
	case 4:
		p.Nexthop, _ = nh.Addr4()
	case 16:
		p.Nexthop, _ = nh.Addr16()
	case 32, 40:
		p.Nexthop, _ = nh.Addr16()
		if hasRDNexthop(safi) {
			_ = nh.Skip(8)
		}
		p.LinkLocalNexthop, _ = nh.Addr16()
	default:
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "mp_reach_nlri nexthop length %d", nhLen)
	}
	if nh.Len() != 0 {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "mp_reach_nlri nexthop length %d", nhLen)
	}
	if err := r.Skip(1); err != nil {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "truncated mp_reach_nlri")
	}
	nlri, err := c.ReadNLRIs(p.Family(), r, opts)
	if err != nil {
		return nil, newAttrError(BGP_ERROR_SUB_OPTIONAL_ATTRIBUTE_ERROR, "mp_reach_nlri: %v", err)
	}
	p.Value = nlri
	return p, nil
}

func (c *ExtensionContext) serializeMpReachNLRI(a PathAttributeInterface, w *wire.Writer, opts *MarshallingOption) error {
	p := a.(*PathAttributeMpReachNLRI)
	w.PutUint16(p.AFI)
	w.PutUint8(p.SAFI)
	lenOff := w.Reserve(1)
	start := w.Len()
	if p.Nexthop.IsValid() {
		if hasRDNexthop(p.SAFI) {
			w.PutZeros(8)
		}
		w.PutAddr(p.Nexthop)
		if p.LinkLocalNexthop.IsValid() {
			if hasRDNexthop(p.SAFI) {
				w.PutZeros(8)
			}
			w.PutAddr(p.LinkLocalNexthop)
		}
	}
	w.SetUint8(lenOff, uint8(w.Len()-start))
	w.PutUint8(0)
	for _, n := range p.Value {
		if err := c.PutNLRI(n, w, opts); err != nil {
			return err
		}
	}
	return nil
}

type PathAttributeMpUnreachNLRI struct {
	PathAttribute
	AFI   uint16
	SAFI  uint8
	Value []AddrPrefixInterface
}

func NewPathAttributeMpUnreachNLRI(f Family, nlri []AddrPrefixInterface) *PathAttributeMpUnreachNLRI {
	return &PathAttributeMpUnreachNLRI{
		PathAttribute: newPathAttribute(BGP_ATTR_TYPE_MP_UNREACH_NLRI),
		AFI:           f.Afi(),
		SAFI:          f.Safi(),
		Value:         nlri,
	}
}

func (p *PathAttributeMpUnreachNLRI) Family() Family {
	return NewFamily(p.AFI, p.SAFI)
}

func (p *PathAttributeMpUnreachNLRI) String() string {
	s := make([]string, 0, len(p.Value))
	for _, n := range p.Value {
		s = append(s, n.String())
	}
	return fmt.Sprintf("{MpUnreach(%s): {NLRIs: [%s]}}", p.Family(), strings.Join(s, ", "))
}

func (c *ExtensionContext) parseMpUnreachNLRI(r *wire.Reader, opts *MarshallingOption) (PathAttributeInterface, error) {
	afi, _ := r.Uint16()
	safi, err := r.Uint8()
	if err != nil {
		return nil, newAttrError(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, "truncated mp_unreach_nlri")
	}
	p := NewPathAttributeMpUnreachNLRI(NewFamily(afi, safi), nil)
	nlri, err := c.ReadNLRIs(p.Family(), r, opts)
	if err != nil {
		return nil, newAttrError(BGP_ERROR_SUB_OPTIONAL_ATTRIBUTE_ERROR, "mp_unreach_nlri: %v", err)
	}
	p.Value = nlri
	return p, nil
}

func (c *ExtensionContext) serializeMpUnreachNLRI(a PathAttributeInterface, w *wire.Writer, opts *MarshallingOption) error {
	p := a.(*PathAttributeMpUnreachNLRI)
	w.PutUint16(p.AFI)
	w.PutUint8(p.SAFI)
	for _, n := range p.Value {
		if err := c.PutNLRI(n, w, opts); err != nil {
			return err
		}
	}
	return nil
}

// PathAttributeUnknown keeps optional attributes without a parser so they
// can be propagated unchanged.
type PathAttributeUnknown struct {
	PathAttribute
	Value []byte
}

func (p *PathAttributeUnknown) String() string {
	return fmt.Sprintf("{Flags: %d, Type: %d, Value: %x}", p.Flags, p.Type, p.Value)
}

func serializeUnknownAttribute(a PathAttributeInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutBytes(a.(*PathAttributeUnknown).Value)
	return nil
}

// ReadPathAttribute decodes one attribute. Errors are MessageErrors whose
// ErrorHandling tells the caller how to proceed per RFC 7606.
func (c *ExtensionContext) ReadPathAttribute(r *wire.Reader, opts *MarshallingOption) (PathAttributeInterface, error) {
	start := r.Offset()
	all, _ := r.Peek(r.Len())
	malformed := func(msg string) error {
		return newMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST, nil, msg, ERROR_HANDLING_SESSION_RESET)
	}
	f, err := r.Uint8()
	if err != nil {
		return nil, malformed("truncated attribute header")
	}
	t, err := r.Uint8()
	if err != nil {
		return nil, malformed("truncated attribute header")
	}
	flags, typ := BGPAttrFlag(f), BGPAttrType(t)
	var length int
	if flags&BGP_ATTR_FLAG_EXTENDED_LENGTH != 0 {
		l, err := r.Uint16()
		if err != nil {
			return nil, malformed("truncated attribute header")
		}
		length = int(l)
	} else {
		l, err := r.Uint8()
		if err != nil {
			return nil, malformed("truncated attribute header")
		}
		length = int(l)
	}
	value, err := r.Bytes(length)
	if err != nil {
		return nil, newMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR, all, fmt.Sprintf("%s: attribute length %d overruns message", typ, length), ERROR_HANDLING_SESSION_RESET)
	}
	data := all[:r.Offset()-start]

	if want, ok := PathAttrFlags[typ]; ok {
		mask := BGP_ATTR_FLAG_OPTIONAL | BGP_ATTR_FLAG_TRANSITIVE
		if flags&mask != want&mask {
			return nil, newMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_ATTRIBUTE_FLAGS_ERROR, data, fmt.Sprintf("%s: invalid flags 0x%02x", typ, uint8(flags)), attrErrorHandling(typ))
		}
	}

	if _, ok := c.attributes.Parser(typ); !ok {
		if flags&BGP_ATTR_FLAG_OPTIONAL == 0 {
			return nil, newMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_UNRECOGNIZED_WELL_KNOWN_ATTRIBUTE, data, fmt.Sprintf("unrecognized well-known attribute %d", typ), ERROR_HANDLING_SESSION_RESET)
		}
		c.logger.Debug("unknown optional attribute, kept as opaque", log.Fields{
			"Topic": "Registry",
			"Key":   typ.String(),
		})
		return &PathAttributeUnknown{PathAttribute: PathAttribute{Flags: flags, Type: typ}, Value: cloneBytes(value)}, nil
	}

	a, err := c.attributes.Parse(typ, value, opts)
	if err != nil {
		var me *MessageError
		if errors.As(err, &me) {
			return nil, me
		}
		subcode := uint8(BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR)
		var ae *attrError
		if errors.As(err, &ae) {
			subcode = ae.subcode
		}
		return nil, newMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, subcode, data, fmt.Sprintf("%s: %v", typ, err), attrErrorHandling(typ))
	}
	a.attrHeader().Flags = flags
	return a, nil
}

// PutPathAttribute writes flags, type, length and value, setting the
// extended length flag when the value needs it. An attribute without a
// serializer is left out.
func (c *ExtensionContext) PutPathAttribute(a PathAttributeInterface, w *wire.Writer, opts *MarshallingOption) error {
	if !c.attributes.Serializable(a) {
		c.logger.Debug("attribute without serializer, skipped", log.Fields{
			"Topic": "Registry",
			"Key":   a.GetType().String(),
		})
		return nil
	}
	value := wire.NewWriter(16)
	if _, err := c.attributes.Serialize(a, value, opts); err != nil {
		return err
	}
	flags := a.GetFlags()
	if value.Len() > 255 {
		flags |= BGP_ATTR_FLAG_EXTENDED_LENGTH
	}
	w.PutUint8(uint8(flags))
	w.PutUint8(uint8(a.GetType()))
	if flags&BGP_ATTR_FLAG_EXTENDED_LENGTH != 0 {
		w.PutUint16(uint16(value.Len()))
	} else {
		w.PutUint8(uint8(value.Len()))
	}
	w.PutBytes(value.Bytes())
	return nil
}
