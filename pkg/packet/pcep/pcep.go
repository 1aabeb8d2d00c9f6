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

// Package pcep implements the PCEP codec of RFC 5440 with the stateful
// extensions of RFC 8231 and RFC 8281 and the segment routing extension
// of RFC 8664.
package pcep

import (
	"errors"
	"fmt"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/rsvp"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

const (
	PCEP_VERSION            = 1
	PCEP_HEADER_SIZE        = 4
	PCEP_OBJECT_HEADER_SIZE = 4
	PCEP_MAX_MESSAGE_SIZE   = 0xffff
	PCEP_PORT               = 4189
)

const (
	_ = iota
	PCEP_MSG_OPEN
	PCEP_MSG_KEEPALIVE
	PCEP_MSG_PCREQ
	PCEP_MSG_PCREP
	PCEP_MSG_PCNTF
	PCEP_MSG_PCERR
	PCEP_MSG_CLOSE
	PCEP_MSG_PCMONREQ
	PCEP_MSG_PCMONREP
	PCEP_MSG_PCRPT
	PCEP_MSG_PCUPD
	PCEP_MSG_PCINITIATE
)

var ErrUnsupportedVersion = errors.New("unsupported pcep version")

type PCEPHeader struct {
	Version uint8
	Flags   uint8
	Type    uint8
	Length  uint16
}

type PCEPBody interface {
	MessageType() uint8
}

type PCEPMessage struct {
	Header PCEPHeader
	Body   PCEPBody
}

func NewPCEPMessage(body PCEPBody) *PCEPMessage {
	return &PCEPMessage{
		Header: PCEPHeader{Version: PCEP_VERSION, Type: body.MessageType()},
		Body:   body,
	}
}

type (
	MessageRegistry = registry.Registry[uint8, *ExtensionContext, PCEPBody]
	ObjectRegistry  = registry.Registry[ObjectKey, *ExtensionContext, ObjectInterface]
	TLVRegistry     = registry.Registry[uint16, *ExtensionContext, TLVInterface]
)

type Activator interface {
	Start(ctx *ExtensionContext) registry.Registrations
}

type ActivatorFunc func(ctx *ExtensionContext) registry.Registrations

func (f ActivatorFunc) Start(ctx *ExtensionContext) registry.Registrations {
	return f(ctx)
}

// ExtensionContext holds the message, object and TLV handler tables and
// the RSVP context used for route objects. Handlers receive the context
// itself so nested constructs dispatch through the same tables.
type ExtensionContext struct {
	logger       log.Logger
	rsvp         *rsvp.ExtensionContext
	messages     *registry.Registry[uint8, *ExtensionContext, PCEPBody]
	objects      *registry.Registry[ObjectKey, *ExtensionContext, ObjectInterface]
	tlvs         *registry.Registry[uint16, *ExtensionContext, TLVInterface]
	framer       *registry.Framer[uint8, *ExtensionContext, PCEPBody]
	objectFramer *registry.Framer[ObjectKey, *ExtensionContext, ObjectInterface]
}

func NewExtensionContext(logger log.Logger, rsvpCtx *rsvp.ExtensionContext) *ExtensionContext {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if rsvpCtx == nil {
		rsvpCtx = rsvp.NewExtensionContext(logger)
	}
	c := &ExtensionContext{
		logger:   logger,
		rsvp:     rsvpCtx,
		messages: registry.New[uint8, *ExtensionContext, PCEPBody]("pcep message", logger),
		objects:  registry.New[ObjectKey, *ExtensionContext, ObjectInterface]("pcep object", logger),
		tlvs:     registry.New[uint16, *ExtensionContext, TLVInterface]("pcep tlv", logger),
	}
	c.framer = &registry.Framer[uint8, *ExtensionContext, PCEPBody]{
		HeaderLen: PCEP_HEADER_SIZE,
		MaxLen:    PCEP_MAX_MESSAGE_SIZE,
		Registry:  c.messages,
		ReadHeader: func(r *wire.Reader) (registry.FrameHeader[uint8], error) {
			h, err := readHeader(r)
			if err != nil {
				return registry.FrameHeader[uint8]{}, err
			}
			return registry.FrameHeader[uint8]{Code: h.Type, Length: int(h.Length)}, nil
		},
		WriteHeader: func(w *wire.Writer, code uint8, length int) {
			w.PutUint8(PCEP_VERSION << 5)
			w.PutUint8(code)
			w.PutUint16(uint16(length))
		},
		UnknownError: func(h registry.FrameHeader[uint8]) error {
			return NewPCEPError(PCEP_ERR_CAPABILITY_NOT_SUPPORTED, 0, fmt.Sprintf("unknown message type %d", h.Code))
		},
	}
	c.objectFramer = &registry.Framer[ObjectKey, *ExtensionContext, ObjectInterface]{
		HeaderLen: PCEP_OBJECT_HEADER_SIZE,
		Registry:  c.objects,
		ReadHeader: func(r *wire.Reader) (registry.FrameHeader[ObjectKey], error) {
			class, err := r.Uint8()
			if err != nil {
				return registry.FrameHeader[ObjectKey]{}, err
			}
			b, err := r.Uint8()
			if err != nil {
				return registry.FrameHeader[ObjectKey]{}, err
			}
			l, err := r.Uint16()
			if err != nil {
				return registry.FrameHeader[ObjectKey]{}, err
			}
			return registry.FrameHeader[ObjectKey]{Code: ObjectKey{Class: class, Type: b >> 4}, Length: int(l)}, nil
		},
		WriteHeader: func(w *wire.Writer, key ObjectKey, length int) {
			w.PutUint8(key.Class)
			w.PutUint8(key.Type << 4)
			w.PutUint16(uint16(length))
		},
		LengthError: func(h registry.FrameHeader[ObjectKey]) error {
			return &registry.ParseError{Registry: c.objects.Name(), Code: h.Code, Err: fmt.Errorf("invalid object length %d", h.Length)}
		},
		UnknownError: c.unknownObject,
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

func (c *ExtensionContext) Logger() log.Logger           { return c.logger }
func (c *ExtensionContext) RSVP() *rsvp.ExtensionContext { return c.rsvp }
func (c *ExtensionContext) Messages() *MessageRegistry   { return c.messages }
func (c *ExtensionContext) Objects() *ObjectRegistry     { return c.objects }
func (c *ExtensionContext) TLVs() *TLVRegistry           { return c.tlvs }

func readHeader(r *wire.Reader) (*PCEPHeader, error) {
	b, err := r.Peek(PCEP_HEADER_SIZE)
	if err != nil {
		return nil, err
	}
	h := &PCEPHeader{
		Version: b[0] >> 5,
		Flags:   b[0] & 0x1f,
		Type:    b[1],
		Length:  uint16(b[2])<<8 | uint16(b[3]),
	}
	if h.Version != PCEP_VERSION {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// ParseMessage decodes one complete message from the start of b.
func (c *ExtensionContext) ParseMessage(b []byte) (*PCEPMessage, error) {
	body, n, err := c.framer.Decode(b, c)
	if err != nil {
		return nil, err
	}
	return &PCEPMessage{
		Header: PCEPHeader{Version: PCEP_VERSION, Flags: b[0] & 0x1f, Type: b[1], Length: uint16(n)},
		Body:   body,
	}, nil
}

// SerializeMessage encodes m and fills in its header.
func (c *ExtensionContext) SerializeMessage(m *PCEPMessage) ([]byte, error) {
	w := wire.NewWriter(64)
	if err := c.framer.EncodeTo(w, m.Body.MessageType(), m.Body, c); err != nil {
		return nil, err
	}
	m.Header = PCEPHeader{Version: PCEP_VERSION, Type: m.Body.MessageType(), Length: uint16(w.Len())}
	return w.Bytes(), nil
}

// SplitPCEP is a bufio.SplitFunc returning one message per token.
func SplitPCEP(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) < PCEP_HEADER_SIZE {
		if atEOF && len(data) > 0 {
			return 0, nil, fmt.Errorf("%w: truncated pcep header", wire.ErrShortBuffer)
		}
		return 0, nil, nil
	}
	h, err := readHeader(wire.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	if h.Length < PCEP_HEADER_SIZE {
		return 0, nil, fmt.Errorf("invalid pcep message length %d", h.Length)
	}
	if len(data) < int(h.Length) {
		if atEOF {
			return 0, nil, fmt.Errorf("%w: truncated pcep message", wire.ErrShortBuffer)
		}
		return 0, nil, nil
	}
	return int(h.Length), data[:h.Length], nil
}
