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
	"net/netip"

	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type BMPRouteMonitoring struct {
	PeerHeader BMPPeerHeader
	BGPUpdate  *bgp.BGPMessage
}

func NewBMPRouteMonitoring(p BMPPeerHeader, update *bgp.BGPMessage) *BMPMessage {
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Type: BMP_MSG_ROUTE_MONITORING},
		Body:   &BMPRouteMonitoring{PeerHeader: p, BGPUpdate: update},
	}
}

func (b *BMPRouteMonitoring) MessageType() uint8   { return BMP_MSG_ROUTE_MONITORING }
func (b *BMPRouteMonitoring) Peer() *BMPPeerHeader { return &b.PeerHeader }

type BMPStatisticsReport struct {
	PeerHeader BMPPeerHeader
	Stats      []BMPStatsTLVInterface
}

func NewBMPStatisticsReport(p BMPPeerHeader, stats []BMPStatsTLVInterface) *BMPMessage {
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Type: BMP_MSG_STATISTICS_REPORT},
		Body:   &BMPStatisticsReport{PeerHeader: p, Stats: stats},
	}
}

func (b *BMPStatisticsReport) MessageType() uint8   { return BMP_MSG_STATISTICS_REPORT }
func (b *BMPStatisticsReport) Peer() *BMPPeerHeader { return &b.PeerHeader }

const (
	BMP_PEER_DOWN_REASON_UNKNOWN = iota
	BMP_PEER_DOWN_REASON_LOCAL_BGP_NOTIFICATION
	BMP_PEER_DOWN_REASON_LOCAL_NO_NOTIFICATION
	BMP_PEER_DOWN_REASON_REMOTE_BGP_NOTIFICATION
	BMP_PEER_DOWN_REASON_REMOTE_NO_NOTIFICATION
	BMP_PEER_DOWN_REASON_PEER_DE_CONFIGURED
)

type BMPPeerDownNotification struct {
	PeerHeader      BMPPeerHeader
	Reason          uint8
	BGPNotification *bgp.BGPMessage
	Data            []byte
}

func NewBMPPeerDownNotification(p BMPPeerHeader, reason uint8, notification *bgp.BGPMessage, data []byte) *BMPMessage {
	b := &BMPPeerDownNotification{PeerHeader: p, Reason: reason}
	if carriesNotification(reason) {
		b.BGPNotification = notification
	} else {
		b.Data = data
	}
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Type: BMP_MSG_PEER_DOWN_NOTIFICATION},
		Body:   b,
	}
}

func (b *BMPPeerDownNotification) MessageType() uint8   { return BMP_MSG_PEER_DOWN_NOTIFICATION }
func (b *BMPPeerDownNotification) Peer() *BMPPeerHeader { return &b.PeerHeader }

func carriesNotification(reason uint8) bool {
	return reason == BMP_PEER_DOWN_REASON_LOCAL_BGP_NOTIFICATION || reason == BMP_PEER_DOWN_REASON_REMOTE_BGP_NOTIFICATION
}

type BMPPeerUpNotification struct {
	PeerHeader      BMPPeerHeader
	LocalAddress    netip.Addr
	LocalPort       uint16
	RemotePort      uint16
	SentOpenMsg     *bgp.BGPMessage
	ReceivedOpenMsg *bgp.BGPMessage
	Info            []BMPTLVInterface
}

func NewBMPPeerUpNotification(p BMPPeerHeader, lAddr netip.Addr, lPort, rPort uint16, sent, recv *bgp.BGPMessage) *BMPMessage {
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Type: BMP_MSG_PEER_UP_NOTIFICATION},
		Body: &BMPPeerUpNotification{
			PeerHeader:      p,
			LocalAddress:    lAddr.Unmap(),
			LocalPort:       lPort,
			RemotePort:      rPort,
			SentOpenMsg:     sent,
			ReceivedOpenMsg: recv,
		},
	}
}

func (b *BMPPeerUpNotification) MessageType() uint8   { return BMP_MSG_PEER_UP_NOTIFICATION }
func (b *BMPPeerUpNotification) Peer() *BMPPeerHeader { return &b.PeerHeader }

type BMPInitiation struct {
	Info []BMPTLVInterface
}

func NewBMPInitiation(info []BMPTLVInterface) *BMPMessage {
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Type: BMP_MSG_INITIATION},
		Body:   &BMPInitiation{Info: info},
	}
}

func (b *BMPInitiation) MessageType() uint8 { return BMP_MSG_INITIATION }

type BMPTermination struct {
	Info []BMPTLVInterface
}

func NewBMPTermination(info []BMPTLVInterface) *BMPMessage {
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Type: BMP_MSG_TERMINATION},
		Body:   &BMPTermination{Info: info},
	}
}

func (b *BMPTermination) MessageType() uint8 { return BMP_MSG_TERMINATION }

// Reason returns the termination reason TLV value, if present.
func (b *BMPTermination) Reason() (uint16, bool) {
	for _, t := range b.Info {
		if v, ok := t.(*BMPTLV16); ok && v.Type == BMP_TERM_TLV_TYPE_REASON {
			return v.Value, true
		}
	}
	return 0, false
}

type BMPRouteMirroring struct {
	PeerHeader BMPPeerHeader
	Info       []BMPTLVInterface
}

func NewBMPRouteMirroring(p BMPPeerHeader, info []BMPTLVInterface) *BMPMessage {
	return &BMPMessage{
		Header: BMPHeader{Version: BMP_VERSION, Type: BMP_MSG_ROUTE_MIRRORING},
		Body:   &BMPRouteMirroring{PeerHeader: p, Info: info},
	}
}

func (b *BMPRouteMirroring) MessageType() uint8   { return BMP_MSG_ROUTE_MIRRORING }
func (b *BMPRouteMirroring) Peer() *BMPPeerHeader { return &b.PeerHeader }

// parseBGP decodes exactly one BGP message from the front of b and
// returns it with the remaining bytes.
func (c *ExtensionContext) parseBGP(b []byte, opts *bgp.MarshallingOption) (*bgp.BGPMessage, []byte, error) {
	m, err := c.bgp.ParseMessage(b, opts)
	if err != nil {
		return nil, nil, err
	}
	return m, b[m.Header.Len:], nil
}

func (c *ExtensionContext) parseSingleBGP(b []byte, opts *bgp.MarshallingOption) (*bgp.BGPMessage, error) {
	m, rest, err := c.parseBGP(b, opts)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d bytes after bgp message", len(rest))
	}
	return m, nil
}

func (c *ExtensionContext) putBGP(w *wire.Writer, m *bgp.BGPMessage, opts *bgp.MarshallingOption) error {
	if m == nil {
		return nil
	}
	b, err := c.bgp.SerializeMessage(m, opts)
	if err != nil {
		return err
	}
	w.PutBytes(b)
	return nil
}

func (c *ExtensionContext) parseRouteMonitoring(r *wire.Reader, opts *MarshallingOption) (BMPBody, error) {
	h, err := readPeerHeader(r)
	if err != nil {
		return nil, err
	}
	m, err := c.parseSingleBGP(r.Rest(), opts.bgpOption(h))
	if err != nil {
		return nil, err
	}
	return &BMPRouteMonitoring{PeerHeader: *h, BGPUpdate: m}, nil
}

func (c *ExtensionContext) serializeRouteMonitoring(v BMPBody, w *wire.Writer, opts *MarshallingOption) error {
	b := v.(*BMPRouteMonitoring)
	b.PeerHeader.put(w)
	return c.putBGP(w, b.BGPUpdate, opts.bgpOption(&b.PeerHeader))
}

func (c *ExtensionContext) parseStatisticsReport(r *wire.Reader, opts *MarshallingOption) (BMPBody, error) {
	h, err := readPeerHeader(r)
	if err != nil {
		return nil, err
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	stats, err := c.readStats(r, count, opts)
	if err != nil {
		return nil, err
	}
	return &BMPStatisticsReport{PeerHeader: *h, Stats: stats}, nil
}

func (c *ExtensionContext) serializeStatisticsReport(v BMPBody, w *wire.Writer, opts *MarshallingOption) error {
	b := v.(*BMPStatisticsReport)
	b.PeerHeader.put(w)
	countOff := w.Reserve(4)
	n, err := c.putStats(w, b.Stats, opts)
	if err != nil {
		return err
	}
	w.SetUint32(countOff, uint32(n))
	return nil
}

func (c *ExtensionContext) parsePeerDown(r *wire.Reader, opts *MarshallingOption) (BMPBody, error) {
	h, err := readPeerHeader(r)
	if err != nil {
		return nil, err
	}
	reason, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	b := &BMPPeerDownNotification{PeerHeader: *h, Reason: reason}
	if carriesNotification(reason) {
		if b.BGPNotification, err = c.parseSingleBGP(r.Rest(), opts.bgpOption(h)); err != nil {
			return nil, err
		}
	} else if r.Len() > 0 {
		b.Data = append([]byte(nil), r.Rest()...)
	}
	return b, nil
}

func (c *ExtensionContext) serializePeerDown(v BMPBody, w *wire.Writer, opts *MarshallingOption) error {
	b := v.(*BMPPeerDownNotification)
	b.PeerHeader.put(w)
	w.PutUint8(b.Reason)
	if carriesNotification(b.Reason) {
		return c.putBGP(w, b.BGPNotification, opts.bgpOption(&b.PeerHeader))
	}
	w.PutBytes(b.Data)
	return nil
}

func (c *ExtensionContext) parsePeerUp(r *wire.Reader, opts *MarshallingOption) (BMPBody, error) {
	h, err := readPeerHeader(r)
	if err != nil {
		return nil, err
	}
	local, err := readAddr16(r, h.Flags&BMP_PEER_FLAG_IPV6 != 0)
	if err != nil {
		return nil, err
	}
	lport, _ := r.Uint16()
	rport, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	b := &BMPPeerUpNotification{PeerHeader: *h, LocalAddress: local, LocalPort: lport, RemotePort: rport}
	rest := r.Rest()
	if b.SentOpenMsg, rest, err = c.parseBGP(rest, nil); err != nil {
		return nil, err
	}
	if b.ReceivedOpenMsg, rest, err = c.parseBGP(rest, nil); err != nil {
		return nil, err
	}
	if _, ok := b.SentOpenMsg.Body.(*bgp.BGPOpen); !ok {
		return nil, fmt.Errorf("peer up carries bgp message type %d, want open", b.SentOpenMsg.Header.Type)
	}
	if _, ok := b.ReceivedOpenMsg.Body.(*bgp.BGPOpen); !ok {
		return nil, fmt.Errorf("peer up carries bgp message type %d, want open", b.ReceivedOpenMsg.Header.Type)
	}
	d := &tlvDecoder{
		kinds: map[uint16]tlvKind{BMP_INIT_TLV_TYPE_STRING: tlvString, BMP_PEER_UP_TLV_TYPE_VRF: tlvString},
		log:   c.logger,
	}
	if b.Info, err = d.decode(wire.NewReader(rest)); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *ExtensionContext) serializePeerUp(v BMPBody, w *wire.Writer, _ *MarshallingOption) error {
	b := v.(*BMPPeerUpNotification)
	b.PeerHeader.put(w)
	putAddr16(w, b.LocalAddress)
	w.PutUint16(b.LocalPort)
	w.PutUint16(b.RemotePort)
	if b.SentOpenMsg == nil || b.ReceivedOpenMsg == nil {
		return fmt.Errorf("peer up needs both open messages")
	}
	if err := c.putBGP(w, b.SentOpenMsg, nil); err != nil {
		return err
	}
	if err := c.putBGP(w, b.ReceivedOpenMsg, nil); err != nil {
		return err
	}
	return c.putTLVs(w, b.Info, nil)
}

func (c *ExtensionContext) parseInitiation(r *wire.Reader, _ *MarshallingOption) (BMPBody, error) {
	d := &tlvDecoder{
		kinds: map[uint16]tlvKind{
			BMP_INIT_TLV_TYPE_STRING:    tlvString,
			BMP_INIT_TLV_TYPE_SYS_DESCR: tlvString,
			BMP_INIT_TLV_TYPE_SYS_NAME:  tlvString,
		},
		log: c.logger,
	}
	info, err := d.decode(r)
	if err != nil {
		return nil, err
	}
	return &BMPInitiation{Info: info}, nil
}

func (c *ExtensionContext) serializeInitiation(v BMPBody, w *wire.Writer, _ *MarshallingOption) error {
	return c.putTLVs(w, v.(*BMPInitiation).Info, nil)
}

func (c *ExtensionContext) parseTermination(r *wire.Reader, _ *MarshallingOption) (BMPBody, error) {
	d := &tlvDecoder{
		kinds: map[uint16]tlvKind{BMP_TERM_TLV_TYPE_STRING: tlvString, BMP_TERM_TLV_TYPE_REASON: tlv16},
		log:   c.logger,
	}
	info, err := d.decode(r)
	if err != nil {
		return nil, err
	}
	return &BMPTermination{Info: info}, nil
}

func (c *ExtensionContext) serializeTermination(v BMPBody, w *wire.Writer, _ *MarshallingOption) error {
	return c.putTLVs(w, v.(*BMPTermination).Info, nil)
}

func (c *ExtensionContext) parseRouteMirroring(r *wire.Reader, opts *MarshallingOption) (BMPBody, error) {
	h, err := readPeerHeader(r)
	if err != nil {
		return nil, err
	}
	bgpOpts := opts.bgpOption(h)
	d := &tlvDecoder{
		kinds: map[uint16]tlvKind{BMP_ROUTE_MIRRORING_TLV_TYPE_BGP_MSG: tlvBGPMsg, BMP_ROUTE_MIRRORING_TLV_TYPE_INFO: tlv16},
		bgp: func(b []byte) (*bgp.BGPMessage, error) {
			return c.parseSingleBGP(b, bgpOpts)
		},
		log: c.logger,
	}
	info, err := d.decode(r)
	if err != nil {
		return nil, err
	}
	return &BMPRouteMirroring{PeerHeader: *h, Info: info}, nil
}

func (c *ExtensionContext) serializeRouteMirroring(v BMPBody, w *wire.Writer, opts *MarshallingOption) error {
	b := v.(*BMPRouteMirroring)
	b.PeerHeader.put(w)
	return c.putTLVs(w, b.Info, opts.bgpOption(&b.PeerHeader))
}
