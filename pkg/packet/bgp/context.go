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

package bgp

import (
	"fmt"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type (
	MessageRegistry      = registry.Registry[uint8, *MarshallingOption, BGPBody]
	CapabilityRegistry   = registry.Registry[BGPCapabilityCode, *MarshallingOption, ParameterCapabilityInterface]
	AttributeRegistry    = registry.Registry[BGPAttrType, *MarshallingOption, PathAttributeInterface]
	NLRIRegistry         = registry.Registry[Family, *MarshallingOption, AddrPrefixInterface]
	ExtCommunityRegistry = registry.Registry[ExtendedCommunityKey, *MarshallingOption, ExtendedCommunityInterface]
)

// Activator registers one extension's handlers. It performs no I/O and
// may run in any order relative to other activators.
type Activator interface {
	Start(ctx *ExtensionContext) registry.Registrations
}

type ActivatorFunc func(ctx *ExtensionContext) registry.Registrations

func (f ActivatorFunc) Start(ctx *ExtensionContext) registry.Registrations {
	return f(ctx)
}

// ExtensionContext owns every BGP handler table. One context is built at
// startup, filled by activators, and shared read-only by all sessions.
type ExtensionContext struct {
	logger         log.Logger
	messages       *MessageRegistry
	capabilities   *CapabilityRegistry
	attributes     *AttributeRegistry
	nlri           *NLRIRegistry
	extCommunities *ExtCommunityRegistry
	framer         *registry.Framer[uint8, *MarshallingOption, BGPBody]
}

func NewExtensionContext(logger log.Logger) *ExtensionContext {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &ExtensionContext{
		logger:         logger,
		messages:       registry.New[uint8, *MarshallingOption, BGPBody]("bgp message", logger),
		capabilities:   registry.New[BGPCapabilityCode, *MarshallingOption, ParameterCapabilityInterface]("bgp capability", logger),
		attributes:     registry.New[BGPAttrType, *MarshallingOption, PathAttributeInterface]("bgp attribute", logger),
		nlri:           registry.New[Family, *MarshallingOption, AddrPrefixInterface]("bgp nlri", logger),
		extCommunities: registry.New[ExtendedCommunityKey, *MarshallingOption, ExtendedCommunityInterface]("bgp extended community", logger),
	}
	c.framer = newMessageFramer(c.messages)
	return c
}

// Activate starts each activator and returns all of their registrations.
func (c *ExtensionContext) Activate(activators ...Activator) registry.Registrations {
	var regs registry.Registrations
	for _, a := range activators {
		regs = append(regs, a.Start(c)...)
	}
	return regs
}

func (c *ExtensionContext) Logger() log.Logger                         { return c.logger }
func (c *ExtensionContext) Messages() *MessageRegistry                 { return c.messages }
func (c *ExtensionContext) Capabilities() *CapabilityRegistry          { return c.capabilities }
func (c *ExtensionContext) Attributes() *AttributeRegistry             { return c.attributes }
func (c *ExtensionContext) NLRI() *NLRIRegistry                        { return c.nlri }
func (c *ExtensionContext) ExtendedCommunities() *ExtCommunityRegistry { return c.extCommunities }

// RegisterNLRI adds a parser and a serializer for one address family.
func (c *ExtensionContext) RegisterNLRI(f Family, p registry.ParserFunc[*MarshallingOption, AddrPrefixInterface], sample AddrPrefixInterface, s registry.SerializerFunc[*MarshallingOption, AddrPrefixInterface]) registry.Registrations {
	regs := registry.Registrations{c.nlri.RegisterParser(f, p)}
	if sample != nil {
		regs = append(regs, c.nlri.RegisterSerializer(sample, s))
	}
	return regs
}

// Families lists the address families with a registered NLRI parser.
func (c *ExtensionContext) Families() []Family {
	return registry.SortedKeysOf(c.nlri.Codes())
}

// ReadNLRI reads one NLRI of family f, including the add-path identifier
// when receive was negotiated for f.
func (c *ExtensionContext) ReadNLRI(f Family, r *wire.Reader, opts *MarshallingOption) (AddrPrefixInterface, error) {
	p, ok := c.nlri.Parser(f)
	if !ok {
		return nil, &registry.ParseError{Registry: c.nlri.Name(), Code: f, Err: registry.ErrNoHandler}
	}
	var id uint32
	if opts.addPathRecv(f) {
		var err error
		if id, err = r.Uint32(); err != nil {
			return nil, err
		}
	}
	n, err := p(r, opts)
	if err != nil {
		return nil, err
	}
	n.SetPathIdentifier(id)
	return n, nil
}

// ReadNLRIs reads NLRIs of family f until r is exhausted.
func (c *ExtensionContext) ReadNLRIs(f Family, r *wire.Reader, opts *MarshallingOption) ([]AddrPrefixInterface, error) {
	var out []AddrPrefixInterface
	for r.Len() > 0 {
		n, err := c.ReadNLRI(f, r, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *ExtensionContext) PutNLRI(n AddrPrefixInterface, w *wire.Writer, opts *MarshallingOption) error {
	if opts.addPathSend(n.Family()) {
		w.PutUint32(n.PathIdentifier())
	}
	ok, err := c.nlri.Serialize(n, w, opts)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no serializer for %s nlri %T", n.Family(), n)
	}
	return nil
}
