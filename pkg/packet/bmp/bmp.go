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

// Package bmp implements the BGP Monitoring Protocol (RFC 7854) on top of
// the bgp codec registry.
package bmp

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

const (
	BMP_VERSION          = 3
	BMP_HEADER_SIZE      = 6
	BMP_PEER_HEADER_SIZE = 42
	BMP_DEFAULT_PORT     = 11019
)

const (
	BMP_MSG_ROUTE_MONITORING = iota
	BMP_MSG_STATISTICS_REPORT
	BMP_MSG_PEER_DOWN_NOTIFICATION
	BMP_MSG_PEER_UP_NOTIFICATION
	BMP_MSG_INITIATION
	BMP_MSG_TERMINATION
	BMP_MSG_ROUTE_MIRRORING
)

const (
	BMP_PEER_TYPE_GLOBAL uint8 = iota
	BMP_PEER_TYPE_L3VPN
	BMP_PEER_TYPE_LOCAL
	BMP_PEER_TYPE_LOCAL_RIB
)

const (
	BMP_PEER_FLAG_IPV6        = 1 << 7
	BMP_PEER_FLAG_POST_POLICY = 1 << 6
	BMP_PEER_FLAG_TWO_AS      = 1 << 5
	BMP_PEER_FLAG_ADJ_RIB_OUT = 1 << 4
)

var ErrUnsupportedVersion = errors.New("unsupported bmp version")

type BMPHeader struct {
	Version uint8
	Length  uint32
	Type    uint8
}

// BMPPeerHeader is the per-peer header carried by every message but
// initiation and termination.
type BMPPeerHeader struct {
	PeerType          uint8
	Flags             uint8
	PeerDistinguisher uint64
	PeerAddress       netip.Addr
	PeerAS            uint32
	PeerBGPID         netip.Addr
	Timestamp         uint32
	TimestampMicro    uint32
}

func NewBMPPeerHeader(t uint8, flags uint8, dist uint64, address netip.Addr, as uint32, id netip.Addr, stamp time.Time) *BMPPeerHeader {
	h := &BMPPeerHeader{
		PeerType:          t,
		Flags:             flags &^ BMP_PEER_FLAG_IPV6,
		PeerDistinguisher: dist,
		PeerAddress:       address.Unmap(),
		PeerAS:            as,
		PeerBGPID:         id,
	}
	if !h.PeerAddress.Is4() {
		h.Flags |= BMP_PEER_FLAG_IPV6
	}
	if !stamp.IsZero() {
		h.Timestamp = uint32(stamp.Unix())
		h.TimestampMicro = uint32(stamp.Nanosecond() / 1000)
	}
	return h
}

func (h *BMPPeerHeader) IsPostPolicy() bool {
	return h.Flags&BMP_PEER_FLAG_POST_POLICY != 0
}

func (h *BMPPeerHeader) IsAdjRIBOut() bool {
	return h.Flags&BMP_PEER_FLAG_ADJ_RIB_OUT != 0
}

func (h *BMPPeerHeader) Time() time.Time {
	return time.Unix(int64(h.Timestamp), int64(h.TimestampMicro)*1000)
}

func (h *BMPPeerHeader) String() string {
	return fmt.Sprintf("{type: %d, flags: 0x%02x, rd: %d, peer: %s, as: %d, id: %s}",
		h.PeerType, h.Flags, h.PeerDistinguisher, h.PeerAddress, h.PeerAS, h.PeerBGPID)
}

// readAddr16 reads a 16 byte address field. IPv4 addresses are right
// justified unless ipv6 is set.
func readAddr16(r *wire.Reader, ipv6 bool) (netip.Addr, error) {
	if ipv6 {
		return r.Addr16()
	}
	if err := r.Skip(12); err != nil {
		return netip.Addr{}, err
	}
	return r.Addr4()
}

func putAddr16(w *wire.Writer, a netip.Addr) {
	if a.Is4() {
		w.PutZeros(12)
	}
	if !a.IsValid() {
		w.PutZeros(16)
		return
	}
	w.PutAddr(a)
}

func readPeerHeader(r *wire.Reader) (*BMPPeerHeader, error) {
	if r.Len() < BMP_PEER_HEADER_SIZE {
		return nil, fmt.Errorf("%w: per-peer header needs %d bytes, have %d", wire.ErrShortBuffer, BMP_PEER_HEADER_SIZE, r.Len())
	}
	h := &BMPPeerHeader{}
	h.PeerType, _ = r.Uint8()
	h.Flags, _ = r.Uint8()
	h.PeerDistinguisher, _ = r.Uint64()
	h.PeerAddress, _ = readAddr16(r, h.Flags&BMP_PEER_FLAG_IPV6 != 0)
	h.PeerAS, _ = r.Uint32()
	h.PeerBGPID, _ = r.Addr4()
	h.Timestamp, _ = r.Uint32()
	h.TimestampMicro, _ = r.Uint32()
	return h, nil
}

func (h *BMPPeerHeader) put(w *wire.Writer) {
	w.PutUint8(h.PeerType)
	w.PutUint8(h.Flags)
	w.PutUint64(h.PeerDistinguisher)
	putAddr16(w, h.PeerAddress)
	w.PutUint32(h.PeerAS)
	if h.PeerBGPID.Is4() {
		w.PutAddr(h.PeerBGPID)
	} else {
		w.PutZeros(4)
	}
	w.PutUint32(h.Timestamp)
	w.PutUint32(h.TimestampMicro)
}

type BMPBody interface {
	MessageType() uint8
}

// PeerBody is implemented by bodies that start with a per-peer header.
type PeerBody interface {
	BMPBody
	Peer() *BMPPeerHeader
}

type BMPMessage struct {
	Header BMPHeader
	Body   BMPBody
}

// PeerHeader returns the per-peer header, or nil for initiation and
// termination messages.
func (m *BMPMessage) PeerHeader() *BMPPeerHeader {
	if p, ok := m.Body.(PeerBody); ok {
		return p.Peer()
	}
	return nil
}

func (m *BMPMessage) Len() int {
	return int(m.Header.Length)
}

// MarshallingOption controls the decoding of BGP messages carried inside
// BMP messages.
type MarshallingOption struct {
	// BGP returns the options negotiated with the monitored peer.
	BGP func(h *BMPPeerHeader) *bgp.MarshallingOption
}

func (o *MarshallingOption) bgpOption(h *BMPPeerHeader) *bgp.MarshallingOption {
	var opt *bgp.MarshallingOption
	if o != nil && o.BGP != nil {
		opt = o.BGP(h)
	}
	if h != nil && h.Flags&BMP_PEER_FLAG_TWO_AS != 0 {
		c := bgp.MarshallingOption{}
		if opt != nil {
			c = *opt
		}
		c.AS2 = true
		opt = &c
	}
	return opt
}

type (
	MessageRegistry = registry.Registry[uint8, *MarshallingOption, BMPBody]
	StatsRegistry   = registry.Registry[uint16, *MarshallingOption, BMPStatsTLVInterface]
)

// Activator registers BMP handlers into an ExtensionContext.
type Activator interface {
	Start(ctx *ExtensionContext) registry.Registrations
}

type ActivatorFunc func(ctx *ExtensionContext) registry.Registrations

func (f ActivatorFunc) Start(ctx *ExtensionContext) registry.Registrations {
	return f(ctx)
}

// ExtensionContext holds the BMP handler tables and the BGP context used
// for the messages BMP carries.
type ExtensionContext struct {
	logger   log.Logger
	bgp      *bgp.ExtensionContext
	messages *MessageRegistry
	stats    *StatsRegistry
	framer   *registry.Framer[uint8, *MarshallingOption, BMPBody]
}

func NewExtensionContext(logger log.Logger, bgpCtx *bgp.ExtensionContext) *ExtensionContext {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if bgpCtx == nil {
		bgpCtx = bgp.NewExtensionContext(logger)
	}
	c := &ExtensionContext{
		logger:   logger,
		bgp:      bgpCtx,
		messages: registry.New[uint8, *MarshallingOption, BMPBody]("bmp message", logger),
		stats:    registry.New[uint16, *MarshallingOption, BMPStatsTLVInterface]("bmp statistics", logger),
	}
	c.framer = &registry.Framer[uint8, *MarshallingOption, BMPBody]{
		HeaderLen: BMP_HEADER_SIZE,
		Registry:  c.messages,
		ReadHeader: func(r *wire.Reader) (registry.FrameHeader[uint8], error) {
			h, err := readHeader(r)
			if err != nil {
				return registry.FrameHeader[uint8]{}, err
			}
			return registry.FrameHeader[uint8]{Code: h.Type, Length: int(h.Length)}, nil
		},
		WriteHeader: func(w *wire.Writer, code uint8, length int) {
			w.PutUint8(BMP_VERSION)
			w.PutUint32(uint32(length))
			w.PutUint8(code)
		},
	}
	return c
}

func (c *ExtensionContext) Activate(activators ...Activator) registry.Registrations {
	var regs registry.Registrations
	for _, a := range activators {
		regs = append(regs, a.Start(c)...)
	}
	return regs
}

func (c *ExtensionContext) Logger() log.Logger         { return c.logger }
func (c *ExtensionContext) BGP() *bgp.ExtensionContext { return c.bgp }
func (c *ExtensionContext) Messages() *MessageRegistry { return c.messages }
func (c *ExtensionContext) Statistics() *StatsRegistry { return c.stats }

func readHeader(r *wire.Reader) (*BMPHeader, error) {
	b, err := r.Peek(BMP_HEADER_SIZE)
	if err != nil {
		return nil, err
	}
	h := &BMPHeader{
		Version: b[0],
		Length:  uint32(b[1])<<24 | uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4]),
		Type:    b[5],
	}
	if h.Version != BMP_VERSION {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// ParseMessage decodes one complete message from the start of b.
func (c *ExtensionContext) ParseMessage(b []byte, opts *MarshallingOption) (*BMPMessage, error) {
	body, n, err := c.framer.Decode(b, opts)
	if err != nil {
		return nil, err
	}
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Length: uint32(n), Type: b[5]},
		Body:   body,
	}, nil
}

// SerializeMessage encodes m and fills in its header.
func (c *ExtensionContext) SerializeMessage(m *BMPMessage, opts *MarshallingOption) ([]byte, error) {
	w := wire.NewWriter(BMP_HEADER_SIZE + BMP_PEER_HEADER_SIZE + 64)
	if err := c.framer.EncodeTo(w, m.Body.MessageType(), m.Body, opts); err != nil {
		return nil, err
	}
	m.Header = BMPHeader{Version: BMP_VERSION, Length: uint32(w.Len()), Type: m.Body.MessageType()}
	return w.Bytes(), nil
}

// SplitBMP is a bufio.SplitFunc returning one message per token.
func SplitBMP(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) < BMP_HEADER_SIZE {
		if atEOF && len(data) > 0 {
			return 0, nil, fmt.Errorf("%w: truncated bmp header", wire.ErrShortBuffer)
		}
		return 0, nil, nil
	}
	h, err := readHeader(wire.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	if h.Length < BMP_HEADER_SIZE {
		return 0, nil, fmt.Errorf("invalid bmp message length %d", h.Length)
	}
	if uint64(len(data)) < uint64(h.Length) {
		if atEOF {
			return 0, nil, fmt.Errorf("%w: truncated bmp message", wire.ErrShortBuffer)
		}
		return 0, nil, nil
	}
	return int(h.Length), data[:h.Length], nil
}
