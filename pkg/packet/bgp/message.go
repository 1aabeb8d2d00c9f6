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
	"fmt"

	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type BGPHeader struct {
	Len  uint16
	Type uint8
}

// ReadHeader decodes and validates a 19 byte message header. maxLen is
// 4096 unless the extended message capability was negotiated.
func ReadHeader(b []byte, maxLen int) (*BGPHeader, error) {
	if len(b) < BGP_HEADER_LENGTH {
		return nil, badMessageLength(len(b), "not all BGP message header")
	}
	for _, m := range b[:16] {
		if m != 0xff {
			return nil, NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED, nil, "invalid marker")
		}
	}
	h := &BGPHeader{
		Len:  uint16(b[16])<<8 | uint16(b[17]),
		Type: b[18],
	}
	if int(h.Len) < BGP_HEADER_LENGTH || int(h.Len) > maxLen {
		return nil, badMessageLength(int(h.Len), fmt.Sprintf("unknown message length %d", h.Len))
	}
	return h, nil
}

func (h *BGPHeader) put(w *wire.Writer) {
	for i := 0; i < 16; i++ {
		w.PutUint8(0xff)
	}
	w.PutUint16(h.Len)
	w.PutUint8(h.Type)
}

type BGPBody interface {
	MessageType() uint8
}

type BGPMessage struct {
	Header BGPHeader
	Body   BGPBody
}

func newMessageFramer(r *MessageRegistry) *registry.Framer[uint8, *MarshallingOption, BGPBody] {
	return &registry.Framer[uint8, *MarshallingOption, BGPBody]{
		HeaderLen: BGP_HEADER_LENGTH,
		MaxLen:    BGP_MAX_EXTENDED_MESSAGE_LENGTH,
		Registry:  r,
		ReadHeader: func(rd *wire.Reader) (registry.FrameHeader[uint8], error) {
			b, err := rd.Peek(BGP_HEADER_LENGTH)
			if err != nil {
				return registry.FrameHeader[uint8]{}, badMessageLength(rd.Len(), "not all BGP message header")
			}
			// length is validated by the framer against the negotiated limit
			h, err := ReadHeader(b, BGP_MAX_EXTENDED_MESSAGE_LENGTH)
			if err != nil {
				return registry.FrameHeader[uint8]{}, err
			}
			return registry.FrameHeader[uint8]{Code: h.Type, Length: int(h.Len)}, nil
		},
		WriteHeader: func(w *wire.Writer, code uint8, length int) {
			(&BGPHeader{Len: uint16(length), Type: code}).put(w)
		},
		LengthError: func(h registry.FrameHeader[uint8]) error {
			return badMessageLength(h.Length, fmt.Sprintf("unknown message length %d", h.Length))
		},
		UnknownError: func(h registry.FrameHeader[uint8]) error {
			return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE, []byte{h.Code}, fmt.Sprintf("unknown message type %d", h.Code))
		},
	}
}

// ParseMessage decodes one complete message from the start of b.
func (c *ExtensionContext) ParseMessage(b []byte, opts *MarshallingOption) (*BGPMessage, error) {
	body, n, err := c.framer.DecodeLimit(b, opts.maxMessageLength(), opts)
	if err != nil {
		return nil, err
	}
	return &BGPMessage{
		Header: BGPHeader{Len: uint16(n), Type: b[18]},
		Body:   body,
	}, nil
}

// ParseBody decodes a message body whose header was read separately, as
// a session reading from a stream does.
func (c *ExtensionContext) ParseBody(h *BGPHeader, body []byte, opts *MarshallingOption) (*BGPMessage, error) {
	if int(h.Len) != BGP_HEADER_LENGTH+len(body) {
		return nil, badMessageLength(int(h.Len), "body does not match header length")
	}
	v, err := c.messages.Parse(h.Type, body, opts)
	if err != nil {
		if _, ok := c.messages.Parser(h.Type); !ok {
			return nil, NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE, []byte{h.Type}, fmt.Sprintf("unknown message type %d", h.Type))
		}
		return nil, err
	}
	return &BGPMessage{Header: *h, Body: v}, nil
}

// SerializeMessage encodes m and fills in its header.
func (c *ExtensionContext) SerializeMessage(m *BGPMessage, opts *MarshallingOption) ([]byte, error) {
	w := wire.NewWriter(BGP_HEADER_LENGTH + 64)
	if err := c.framer.EncodeTo(w, m.Body.MessageType(), m.Body, opts); err != nil {
		return nil, err
	}
	if w.Len() > opts.maxMessageLength() {
		return nil, fmt.Errorf("message length %d exceeds %d", w.Len(), opts.maxMessageLength())
	}
	m.Header = BGPHeader{Len: uint16(w.Len()), Type: m.Body.MessageType()}
	return w.Bytes(), nil
}

// checkBodyLength reports a bad message length for fixed size bodies.
func checkBodyLength(r *wire.Reader, min, max int) error {
	l := r.Len()
	if l < min || (max >= 0 && l > max) {
		return badMessageLength(l+BGP_HEADER_LENGTH, fmt.Sprintf("invalid message length %d", l+BGP_HEADER_LENGTH))
	}
	return nil
}

type BGPKeepAlive struct{}

func (msg *BGPKeepAlive) MessageType() uint8 { return BGP_MSG_KEEPALIVE }

func NewBGPKeepAliveMessage() *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Len: BGP_HEADER_LENGTH, Type: BGP_MSG_KEEPALIVE},
		Body:   &BGPKeepAlive{},
	}
}

func parseKeepAlive(r *wire.Reader, _ *MarshallingOption) (BGPBody, error) {
	if err := checkBodyLength(r, 0, 0); err != nil {
		return nil, err
	}
	return &BGPKeepAlive{}, nil
}

func serializeKeepAlive(BGPBody, *wire.Writer, *MarshallingOption) error {
	return nil
}

type BGPNotification struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
}

func (msg *BGPNotification) MessageType() uint8 { return BGP_MSG_NOTIFICATION }

func (msg *BGPNotification) Code() NotificationErrorCode {
	return NewNotificationErrorCode(msg.ErrorCode, msg.ErrorSubcode)
}

func NewBGPNotificationMessage(errcode uint8, errsubcode uint8, data []byte) *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_NOTIFICATION},
		Body:   &BGPNotification{ErrorCode: errcode, ErrorSubcode: errsubcode, Data: cloneBytes(data)},
	}
}

func parseNotification(r *wire.Reader, _ *MarshallingOption) (BGPBody, error) {
	if err := checkBodyLength(r, 2, -1); err != nil {
		return nil, err
	}
	code, _ := r.Uint8()
	sub, _ := r.Uint8()
	msg := &BGPNotification{ErrorCode: code, ErrorSubcode: sub}
	if r.Len() > 0 {
		msg.Data = cloneBytes(r.Rest())
	}
	return msg, nil
}

func serializeNotification(b BGPBody, w *wire.Writer, _ *MarshallingOption) error {
	msg := b.(*BGPNotification)
	w.PutUint8(msg.ErrorCode)
	w.PutUint8(msg.ErrorSubcode)
	w.PutBytes(msg.Data)
	return nil
}

type BGPRouteRefresh struct {
	AFI         uint16
	Demarcation uint8
	SAFI        uint8
}

func (msg *BGPRouteRefresh) MessageType() uint8 { return BGP_MSG_ROUTE_REFRESH }

func NewBGPRouteRefreshMessage(afi uint16, demarcation uint8, safi uint8) *BGPMessage {
	return &BGPMessage{
		Header: BGPHeader{Type: BGP_MSG_ROUTE_REFRESH},
		Body:   &BGPRouteRefresh{AFI: afi, Demarcation: demarcation, SAFI: safi},
	}
}

func parseRouteRefresh(r *wire.Reader, _ *MarshallingOption) (BGPBody, error) {
	if r.Len() != 4 {
		return nil, NewMessageError(BGP_ERROR_ROUTE_REFRESH_MESSAGE_ERROR, BGP_ERROR_SUB_INVALID_MESSAGE_LENGTH, r.Rest(), "invalid route refresh length")
	}
	afi, _ := r.Uint16()
	dem, _ := r.Uint8()
	safi, _ := r.Uint8()
	return &BGPRouteRefresh{AFI: afi, Demarcation: dem, SAFI: safi}, nil
}

func serializeRouteRefresh(b BGPBody, w *wire.Writer, _ *MarshallingOption) error {
	msg := b.(*BGPRouteRefresh)
	w.PutUint16(msg.AFI)
	w.PutUint8(msg.Demarcation)
	w.PutUint8(msg.SAFI)
	return nil
}
