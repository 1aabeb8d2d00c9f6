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

// Package rsvp encodes the RSVP-TE route subobjects (RFC 3209, RFC 3477,
// RFC 3473, RFC 4874) that PCEP reuses in its ERO, RRO and XRO objects.
package rsvp

import (
	"fmt"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

const (
	SUBOBJECT_IPV4_PREFIX = 1
	SUBOBJECT_IPV6_PREFIX = 2
	SUBOBJECT_LABEL       = 3
	SUBOBJECT_UNNUMBERED  = 4
	SUBOBJECT_AS_NUMBER   = 32
)

// RouteKind selects the subobject header convention: explicit and exclude
// routes carry a flag in the top bit of the type byte, record routes do
// not.
type RouteKind uint8

const (
	ROUTE_EXPLICIT RouteKind = iota
	ROUTE_RECORD
	ROUTE_EXCLUDE
)

func (k RouteKind) String() string {
	switch k {
	case ROUTE_EXPLICIT:
		return "ero"
	case ROUTE_RECORD:
		return "rro"
	case ROUTE_EXCLUDE:
		return "xro"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

const subobjectHeaderLen = 2

// SubobjectBody is the value of one route subobject.
type SubobjectBody interface {
	SubobjectType() uint8
	String() string
}

// Subobject is one hop of a route. Loose is the L bit of an explicit
// route or the X (mandatory exclusion) bit of an exclude route.
type Subobject struct {
	Loose bool
	Body  SubobjectBody
}

func (s *Subobject) String() string {
	if s.Loose {
		return s.Body.String() + " loose"
	}
	return s.Body.String()
}

// UnknownSubobject keeps subobjects no activator registered.
type UnknownSubobject struct {
	Type  uint8
	Value []byte
}

func (s *UnknownSubobject) SubobjectType() uint8 { return s.Type }

func (s *UnknownSubobject) String() string {
	return fmt.Sprintf("{type %d: %x}", s.Type, s.Value)
}

type (
	SubobjectRegistry = registry.Registry[uint8, RouteKind, SubobjectBody]
	LabelRegistry     = registry.Registry[uint8, RouteKind, LabelInterface]
)

type Activator interface {
	Start(ctx *ExtensionContext) registry.Registrations
}

type ActivatorFunc func(ctx *ExtensionContext) registry.Registrations

func (f ActivatorFunc) Start(ctx *ExtensionContext) registry.Registrations {
	return f(ctx)
}

// ExtensionContext holds the subobject and label handler tables.
type ExtensionContext struct {
	logger     log.Logger
	subobjects *SubobjectRegistry
	labels     *LabelRegistry
}

func NewExtensionContext(logger log.Logger) *ExtensionContext {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ExtensionContext{
		logger:     logger,
		subobjects: registry.New[uint8, RouteKind, SubobjectBody]("rsvp subobject", logger),
		labels:     registry.New[uint8, RouteKind, LabelInterface]("rsvp label", logger),
	}
}

func (c *ExtensionContext) Activate(activators ...Activator) registry.Registrations {
	var regs registry.Registrations
	for _, a := range activators {
		regs = append(regs, a.Start(c)...)
	}
	return regs
}

func (c *ExtensionContext) Logger() log.Logger             { return c.logger }
func (c *ExtensionContext) Subobjects() *SubobjectRegistry { return c.subobjects }
func (c *ExtensionContext) Labels() *LabelRegistry         { return c.labels }

// ReadSubobjects consumes r entirely.
func (c *ExtensionContext) ReadSubobjects(r *wire.Reader, kind RouteKind) ([]*Subobject, error) {
	var subs []*Subobject
	for r.Len() > 0 {
		b0, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		l, err := r.Uint8()
		if err != nil {
			return nil, err
		}
		if l < subobjectHeaderLen {
			return nil, fmt.Errorf("%s subobject %d: invalid length %d", kind, b0, l)
		}
		value, err := r.Bytes(int(l) - subobjectHeaderLen)
		if err != nil {
			return nil, fmt.Errorf("%s subobject %d: %w", kind, b0, err)
		}
		s := &Subobject{}
		typ := b0
		if kind != ROUTE_RECORD {
			s.Loose = b0&0x80 != 0
			typ = b0 & 0x7f
		}
		if _, ok := c.subobjects.Parser(typ); !ok {
			c.logger.Debug("unknown subobject, kept as opaque",
				log.Fields{
					"Topic": "RSVP",
					"Key":   kind.String(),
					"Type":  typ,
				})
			s.Body = &UnknownSubobject{Type: typ, Value: append([]byte(nil), value...)}
		} else if s.Body, err = c.subobjects.Parse(typ, value, kind); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func (c *ExtensionContext) PutSubobjects(w *wire.Writer, subs []*Subobject, kind RouteKind) error {
	for _, s := range subs {
		u, unknown := s.Body.(*UnknownSubobject)
		if !unknown && !c.subobjects.Serializable(s.Body) {
			c.logger.Debug("subobject without serializer, skipped", log.Fields{
				"Topic": "RSVP",
				"Key":   s.Body.SubobjectType(),
				"Kind":  kind.String(),
			})
			continue
		}
		b0 := s.Body.SubobjectType()
		if s.Loose && kind != ROUTE_RECORD {
			b0 |= 0x80
		}
		w.PutUint8(b0)
		off := w.Reserve(1)
		start := w.Len()
		if unknown {
			w.PutBytes(u.Value)
		} else if _, err := c.subobjects.Serialize(s.Body, w, kind); err != nil {
			return err
		}
		l := w.Len() - start + subobjectHeaderLen
		if l > 0xff {
			return fmt.Errorf("%s subobject %s: length %d overflows", kind, s.Body, l)
		}
		w.SetUint8(off, uint8(l))
	}
	return nil
}
