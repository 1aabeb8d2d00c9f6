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
	"fmt"
	"strings"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// Information TLV types used by initiation and peer up messages.
const (
	BMP_INIT_TLV_TYPE_STRING    = 0
	BMP_INIT_TLV_TYPE_SYS_DESCR = 1
	BMP_INIT_TLV_TYPE_SYS_NAME  = 2
	BMP_PEER_UP_TLV_TYPE_VRF    = 3
)

const (
	BMP_TERM_TLV_TYPE_STRING = 0
	BMP_TERM_TLV_TYPE_REASON = 1
)

const (
	BMP_TERM_REASON_ADMIN = iota
	BMP_TERM_REASON_UNSPEC
	BMP_TERM_REASON_OUT_OF_RESOURCES
	BMP_TERM_REASON_REDUNDANT_CONNECTION
	BMP_TERM_REASON_PERMANENTLY_ADMIN
)

const (
	BMP_ROUTE_MIRRORING_TLV_TYPE_BGP_MSG = 0
	BMP_ROUTE_MIRRORING_TLV_TYPE_INFO    = 1
)

const (
	BMP_ROUTE_MIRRORING_INFO_ERR_PDU = iota
	BMP_ROUTE_MIRRORING_INFO_MSG_LOST
)

type BMPTLVInterface interface {
	TLVType() uint16
	String() string
}

type BMPTLVString struct {
	Type  uint16
	Value string
}

func NewBMPTLVString(t uint16, v string) *BMPTLVString {
	return &BMPTLVString{Type: t, Value: v}
}

func (t *BMPTLVString) TLVType() uint16 { return t.Type }
func (t *BMPTLVString) String() string  { return fmt.Sprintf("{%d: %q}", t.Type, t.Value) }

type BMPTLV16 struct {
	Type  uint16
	Value uint16
}

func NewBMPTLV16(t uint16, v uint16) *BMPTLV16 {
	return &BMPTLV16{Type: t, Value: v}
}

func (t *BMPTLV16) TLVType() uint16 { return t.Type }
func (t *BMPTLV16) String() string  { return fmt.Sprintf("{%d: %d}", t.Type, t.Value) }

type BMPTLVBGPMsg struct {
	Type  uint16
	Value *bgp.BGPMessage
}

func NewBMPTLVBGPMsg(t uint16, m *bgp.BGPMessage) *BMPTLVBGPMsg {
	return &BMPTLVBGPMsg{Type: t, Value: m}
}

func (t *BMPTLVBGPMsg) TLVType() uint16 { return t.Type }
func (t *BMPTLVBGPMsg) String() string {
	return fmt.Sprintf("{%d: bgp type %d}", t.Type, t.Value.Header.Type)
}

// BMPTLVUnknown keeps a TLV whose type the container does not know.
type BMPTLVUnknown struct {
	Type  uint16
	Value []byte
}

func NewBMPTLVUnknown(t uint16, v []byte) *BMPTLVUnknown {
	return &BMPTLVUnknown{Type: t, Value: v}
}

func (t *BMPTLVUnknown) TLVType() uint16 { return t.Type }
func (t *BMPTLVUnknown) String() string  { return fmt.Sprintf("{%d: %x}", t.Type, t.Value) }

func tlvsString(tlvs []BMPTLVInterface) string {
	s := make([]string, 0, len(tlvs))
	for _, t := range tlvs {
		s = append(s, t.String())
	}
	return "[" + strings.Join(s, ", ") + "]"
}

type tlvKind int

const (
	tlvUnknown tlvKind = iota
	tlvString
	tlv16
	tlvBGPMsg
)

// tlvDecoder parses the TLV list of one message type. kinds maps the
// types that container knows.
type tlvDecoder struct {
	kinds map[uint16]tlvKind
	bgp   func(b []byte) (*bgp.BGPMessage, error)
	log   log.Logger
}

func (d *tlvDecoder) decode(r *wire.Reader) ([]BMPTLVInterface, error) {
	var tlvs []BMPTLVInterface
	err := registry.ForEachTLV(r, 1, func(typ uint16, value []byte) error {
		switch d.kinds[typ] {
		case tlvString:
			tlvs = append(tlvs, NewBMPTLVString(typ, string(value)))
		case tlv16:
			if len(value) != 2 {
				return fmt.Errorf("bmp tlv %d: invalid length %d", typ, len(value))
			}
			tlvs = append(tlvs, NewBMPTLV16(typ, uint16(value[0])<<8|uint16(value[1])))
		case tlvBGPMsg:
			m, err := d.bgp(value)
			if err != nil {
				return err
			}
			tlvs = append(tlvs, NewBMPTLVBGPMsg(typ, m))
		default:
			d.log.Debug("unknown bmp tlv, kept as opaque", log.Fields{
				"Topic": "BMP",
				"Key":   typ,
			})
			tlvs = append(tlvs, NewBMPTLVUnknown(typ, append([]byte(nil), value...)))
		}
		return nil
	})
	return tlvs, err
}

func (c *ExtensionContext) putTLVs(w *wire.Writer, tlvs []BMPTLVInterface, opts *bgp.MarshallingOption) error {
	for _, t := range tlvs {
		err := registry.PutTLV(w, t.TLVType(), 1, func(w *wire.Writer) error {
			switch v := t.(type) {
			case *BMPTLVString:
				w.PutBytes([]byte(v.Value))
			case *BMPTLV16:
				w.PutUint16(v.Value)
			case *BMPTLVUnknown:
				w.PutBytes(v.Value)
			case *BMPTLVBGPMsg:
				b, err := c.bgp.SerializeMessage(v.Value, opts)
				if err != nil {
					return err
				}
				w.PutBytes(b)
			default:
				return fmt.Errorf("unsupported bmp tlv %T", t)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Statistics types (RFC 7854 4.8 and RFC 8671).
const (
	BMP_STAT_TYPE_REJECTED = iota
	BMP_STAT_TYPE_DUPLICATE_PREFIX
	BMP_STAT_TYPE_DUPLICATE_WITHDRAW
	BMP_STAT_TYPE_INV_UPDATE_DUE_TO_CLUSTER_LIST_LOOP
	BMP_STAT_TYPE_INV_UPDATE_DUE_TO_AS_PATH_LOOP
	BMP_STAT_TYPE_INV_UPDATE_DUE_TO_ORIGINATOR_ID
	BMP_STAT_TYPE_INV_UPDATE_DUE_TO_AS_CONFED_LOOP
	BMP_STAT_TYPE_ADJ_RIB_IN
	BMP_STAT_TYPE_LOC_RIB
	BMP_STAT_TYPE_PER_AFI_SAFI_ADJ_RIB_IN
	BMP_STAT_TYPE_PER_AFI_SAFI_LOC_RIB
	BMP_STAT_TYPE_WITHDRAW_UPDATE
	BMP_STAT_TYPE_WITHDRAW_PREFIX
	BMP_STAT_TYPE_DUPLICATE_UPDATE
	BMP_STAT_TYPE_ADJ_RIB_OUT_PRE_POLICY
	BMP_STAT_TYPE_ADJ_RIB_OUT_POST_POLICY
	BMP_STAT_TYPE_PER_AFI_SAFI_ADJ_RIB_OUT_PRE_POLICY
	BMP_STAT_TYPE_PER_AFI_SAFI_ADJ_RIB_OUT_POST_POLICY
)

type BMPStatsTLVInterface interface {
	StatType() uint16
	String() string
}

// BMPStatsTLV32 is a 32-bit counter.
type BMPStatsTLV32 struct {
	Type  uint16
	Value uint32
}

func NewBMPStatsTLV32(t uint16, v uint32) *BMPStatsTLV32 {
	return &BMPStatsTLV32{Type: t, Value: v}
}

func (s *BMPStatsTLV32) StatType() uint16 { return s.Type }
func (s *BMPStatsTLV32) String() string   { return fmt.Sprintf("{%d: %d}", s.Type, s.Value) }

// BMPStatsTLV64 is a 64-bit gauge.
type BMPStatsTLV64 struct {
	Type  uint16
	Value uint64
}

func NewBMPStatsTLV64(t uint16, v uint64) *BMPStatsTLV64 {
	return &BMPStatsTLV64{Type: t, Value: v}
}

func (s *BMPStatsTLV64) StatType() uint16 { return s.Type }
func (s *BMPStatsTLV64) String() string   { return fmt.Sprintf("{%d: %d}", s.Type, s.Value) }

type BMPStatsTLVPerAfiSafi64 struct {
	Type  uint16
	AFI   uint16
	SAFI  uint8
	Value uint64
}

func NewBMPStatsTLVPerAfiSafi64(t uint16, afi uint16, safi uint8, v uint64) *BMPStatsTLVPerAfiSafi64 {
	return &BMPStatsTLVPerAfiSafi64{Type: t, AFI: afi, SAFI: safi, Value: v}
}

func (s *BMPStatsTLVPerAfiSafi64) StatType() uint16 { return s.Type }

func (s *BMPStatsTLVPerAfiSafi64) String() string {
	return fmt.Sprintf("{%d: %s: %d}", s.Type, bgp.NewFamily(s.AFI, s.SAFI), s.Value)
}

type BMPStatsTLVUnknown struct {
	Type  uint16
	Value []byte
}

func (s *BMPStatsTLVUnknown) StatType() uint16 { return s.Type }
func (s *BMPStatsTLVUnknown) String() string   { return fmt.Sprintf("{%d: %x}", s.Type, s.Value) }

func stats32Parser(t uint16) registry.ParserFunc[*MarshallingOption, BMPStatsTLVInterface] {
	return func(r *wire.Reader, _ *MarshallingOption) (BMPStatsTLVInterface, error) {
		v, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		return NewBMPStatsTLV32(t, v), nil
	}
}

func stats64Parser(t uint16) registry.ParserFunc[*MarshallingOption, BMPStatsTLVInterface] {
	return func(r *wire.Reader, _ *MarshallingOption) (BMPStatsTLVInterface, error) {
		v, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return NewBMPStatsTLV64(t, v), nil
	}
}

func statsPerAfiSafiParser(t uint16) registry.ParserFunc[*MarshallingOption, BMPStatsTLVInterface] {
	return func(r *wire.Reader, _ *MarshallingOption) (BMPStatsTLVInterface, error) {
		afi, _ := r.Uint16()
		safi, _ := r.Uint8()
		v, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		return NewBMPStatsTLVPerAfiSafi64(t, afi, safi, v), nil
	}
}

func serializeStats32(v BMPStatsTLVInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutUint32(v.(*BMPStatsTLV32).Value)
	return nil
}

func serializeStats64(v BMPStatsTLVInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutUint64(v.(*BMPStatsTLV64).Value)
	return nil
}

func serializeStatsPerAfiSafi(v BMPStatsTLVInterface, w *wire.Writer, _ *MarshallingOption) error {
	s := v.(*BMPStatsTLVPerAfiSafi64)
	w.PutUint16(s.AFI)
	w.PutUint8(s.SAFI)
	w.PutUint64(s.Value)
	return nil
}

func serializeStatsUnknown(v BMPStatsTLVInterface, w *wire.Writer, _ *MarshallingOption) error {
	w.PutBytes(v.(*BMPStatsTLVUnknown).Value)
	return nil
}

func (c *ExtensionContext) readStats(r *wire.Reader, count uint32, opts *MarshallingOption) ([]BMPStatsTLVInterface, error) {
	stats := make([]BMPStatsTLVInterface, 0, min(int(count), r.Len()/4))
	for i := uint32(0); i < count; i++ {
		typ, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		l, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		value, err := r.Bytes(int(l))
		if err != nil {
			return nil, err
		}
		if _, ok := c.stats.Parser(typ); !ok {
			c.logger.Debug("unknown bmp statistics type, kept as opaque", log.Fields{
				"Topic": "BMP",
				"Key":   typ,
			})
			stats = append(stats, &BMPStatsTLVUnknown{Type: typ, Value: append([]byte(nil), value...)})
			continue
		}
		s, err := c.stats.Parse(typ, value, opts)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// putStats returns how many counters it wrote; those without a
// serializer are left out.
func (c *ExtensionContext) putStats(w *wire.Writer, stats []BMPStatsTLVInterface, opts *MarshallingOption) (int, error) {
	n := 0
	for _, s := range stats {
		if !c.stats.Serializable(s) {
			c.logger.Debug("bmp statistics without serializer, skipped", log.Fields{
				"Topic": "BMP",
				"Key":   s.StatType(),
			})
			continue
		}
		err := registry.PutTLV(w, s.StatType(), 1, func(w *wire.Writer) error {
			_, err := c.stats.Serialize(s, w, opts)
			return err
		})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
