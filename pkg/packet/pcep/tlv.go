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
	"net/netip"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

const (
	PCEP_TLV_NO_PATH_VECTOR          = 1
	PCEP_TLV_STATEFUL_PCE_CAPABILITY = 16
	PCEP_TLV_SYMBOLIC_PATH_NAME      = 17
	PCEP_TLV_IPV4_LSP_IDENTIFIERS    = 18
	PCEP_TLV_IPV6_LSP_IDENTIFIERS    = 19
	PCEP_TLV_LSP_ERROR_CODE          = 20
	PCEP_TLV_SR_PCE_CAPABILITY       = 26
	PCEP_TLV_PATH_SETUP_TYPE         = 28
)

// STATEFUL-PCE-CAPABILITY flags.
const (
	STATEFUL_FLAG_UPDATE     = 0x01
	STATEFUL_FLAG_DB_VERSION = 0x02
	STATEFUL_FLAG_INITIATION = 0x04
)

// PATH-SETUP-TYPE values (RFC 8408, RFC 8664).
const (
	PATH_SETUP_TYPE_RSVP_TE = 0
	PATH_SETUP_TYPE_SR      = 1
)

type TLVInterface interface {
	TLVType() uint16
	String() string
}

type UnknownTLV struct {
	Type  uint16
	Value []byte
}

func (t *UnknownTLV) TLVType() uint16 { return t.Type }
func (t *UnknownTLV) String() string  { return fmt.Sprintf("{tlv %d: %x}", t.Type, t.Value) }

type StatefulCapabilityTLV struct {
	Flags uint32
}

func NewStatefulCapabilityTLV(update, initiation bool) *StatefulCapabilityTLV {
	t := &StatefulCapabilityTLV{}
	if update {
		t.Flags |= STATEFUL_FLAG_UPDATE
	}
	if initiation {
		t.Flags |= STATEFUL_FLAG_INITIATION
	}
	return t
}

func (t *StatefulCapabilityTLV) TLVType() uint16 { return PCEP_TLV_STATEFUL_PCE_CAPABILITY }
func (t *StatefulCapabilityTLV) Update() bool    { return t.Flags&STATEFUL_FLAG_UPDATE != 0 }
func (t *StatefulCapabilityTLV) Initiation() bool {
	return t.Flags&STATEFUL_FLAG_INITIATION != 0
}

func (t *StatefulCapabilityTLV) String() string {
	return fmt.Sprintf("stateful(update=%t initiation=%t)", t.Update(), t.Initiation())
}

func parseStatefulCapability(r *wire.Reader, _ *ExtensionContext) (TLVInterface, error) {
	flags, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &StatefulCapabilityTLV{Flags: flags}, nil
}

func serializeStatefulCapability(v TLVInterface, w *wire.Writer, _ *ExtensionContext) error {
	w.PutUint32(v.(*StatefulCapabilityTLV).Flags)
	return nil
}

type SymbolicPathNameTLV struct {
	Name string
}

func (t *SymbolicPathNameTLV) TLVType() uint16 { return PCEP_TLV_SYMBOLIC_PATH_NAME }
func (t *SymbolicPathNameTLV) String() string  { return fmt.Sprintf("name %q", t.Name) }

func parseSymbolicPathName(r *wire.Reader, _ *ExtensionContext) (TLVInterface, error) {
	b := r.Rest()
	if len(b) == 0 {
		return nil, fmt.Errorf("empty symbolic path name")
	}
	return &SymbolicPathNameTLV{Name: string(b)}, nil
}

func serializeSymbolicPathName(v TLVInterface, w *wire.Writer, _ *ExtensionContext) error {
	t := v.(*SymbolicPathNameTLV)
	if t.Name == "" {
		return fmt.Errorf("empty symbolic path name")
	}
	w.PutBytes([]byte(t.Name))
	return nil
}

// LSPIdentifiersTLV is the IPv4 (type 18) or IPv6 (type 19) LSP
// identifiers TLV, chosen by the address family of Sender.
type LSPIdentifiersTLV struct {
	Sender           netip.Addr
	LSPID            uint16
	TunnelID         uint16
	ExtendedTunnelID netip.Addr
	Endpoint         netip.Addr
}

func (t *LSPIdentifiersTLV) TLVType() uint16 {
	if t.Sender.Is4() {
		return PCEP_TLV_IPV4_LSP_IDENTIFIERS
	}
	return PCEP_TLV_IPV6_LSP_IDENTIFIERS
}

func (t *LSPIdentifiersTLV) String() string {
	return fmt.Sprintf("lsp %s->%s lsp-id %d tunnel-id %d ext %s", t.Sender, t.Endpoint, t.LSPID, t.TunnelID, t.ExtendedTunnelID)
}

func lspIdentifiersParser(ipv6 bool) registry.ParserFunc[*ExtensionContext, TLVInterface] {
	addr := (*wire.Reader).Addr4
	if ipv6 {
		addr = (*wire.Reader).Addr16
	}
	return func(r *wire.Reader, _ *ExtensionContext) (TLVInterface, error) {
		t := &LSPIdentifiersTLV{}
		var err error
		if t.Sender, err = addr(r); err != nil {
			return nil, err
		}
		if t.LSPID, err = r.Uint16(); err != nil {
			return nil, err
		}
		if t.TunnelID, err = r.Uint16(); err != nil {
			return nil, err
		}
		if t.ExtendedTunnelID, err = addr(r); err != nil {
			return nil, err
		}
		if t.Endpoint, err = addr(r); err != nil {
			return nil, err
		}
		return t, nil
	}
}

func serializeLSPIdentifiers(v TLVInterface, w *wire.Writer, _ *ExtensionContext) error {
	t := v.(*LSPIdentifiersTLV)
	is4 := t.Sender.Is4()
	if t.Endpoint.Is4() != is4 || t.ExtendedTunnelID.Is4() != is4 {
		return fmt.Errorf("lsp identifiers: mixed address families")
	}
	w.PutAddr(t.Sender)
	w.PutUint16(t.LSPID)
	w.PutUint16(t.TunnelID)
	w.PutAddr(t.ExtendedTunnelID)
	w.PutAddr(t.Endpoint)
	return nil
}

type LSPErrorCodeTLV struct {
	Code uint32
}

func (t *LSPErrorCodeTLV) TLVType() uint16 { return PCEP_TLV_LSP_ERROR_CODE }
func (t *LSPErrorCodeTLV) String() string  { return fmt.Sprintf("lsp error %d", t.Code) }

func parseLSPErrorCode(r *wire.Reader, _ *ExtensionContext) (TLVInterface, error) {
	code, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return &LSPErrorCodeTLV{Code: code}, nil
}

func serializeLSPErrorCode(v TLVInterface, w *wire.Writer, _ *ExtensionContext) error {
	w.PutUint32(v.(*LSPErrorCodeTLV).Code)
	return nil
}

type PathSetupTypeTLV struct {
	PST uint8
}

func (t *PathSetupTypeTLV) TLVType() uint16 { return PCEP_TLV_PATH_SETUP_TYPE }

func (t *PathSetupTypeTLV) String() string {
	switch t.PST {
	case PATH_SETUP_TYPE_RSVP_TE:
		return "pst rsvp-te"
	case PATH_SETUP_TYPE_SR:
		return "pst sr"
	}
	return fmt.Sprintf("pst %d", t.PST)
}

func parsePathSetupType(r *wire.Reader, _ *ExtensionContext) (TLVInterface, error) {
	if err := r.Skip(3); err != nil {
		return nil, err
	}
	pst, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	return &PathSetupTypeTLV{PST: pst}, nil
}

func serializePathSetupType(v TLVInterface, w *wire.Writer, _ *ExtensionContext) error {
	w.PutZeros(3)
	w.PutUint8(v.(*PathSetupTypeTLV).PST)
	return nil
}

// ReadTLVs consumes r entirely. TLVs without a registered parser are kept
// as UnknownTLV.
func (c *ExtensionContext) ReadTLVs(r *wire.Reader) ([]TLVInterface, error) {
	var tlvs []TLVInterface
	err := registry.ForEachTLV(r, 4, func(typ uint16, value []byte) error {
		if _, ok := c.tlvs.Parser(typ); !ok {
			c.logger.Debug("unknown pcep tlv, kept as opaque",
				log.Fields{
					"Topic": "PCEP",
					"Key":   typ,
				})
			tlvs = append(tlvs, &UnknownTLV{Type: typ, Value: append([]byte(nil), value...)})
			return nil
		}
		t, err := c.tlvs.Parse(typ, value, c)
		if err != nil {
			return err
		}
		tlvs = append(tlvs, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tlvs, nil
}

func (c *ExtensionContext) PutTLVs(w *wire.Writer, tlvs []TLVInterface) error {
	for _, t := range tlvs {
		u, unknown := t.(*UnknownTLV)
		if !unknown && !c.tlvs.Serializable(t) {
			c.logger.Debug("tlv without serializer, skipped", log.Fields{
				"Topic": "PCEP",
				"Key":   t.TLVType(),
			})
			continue
		}
		err := registry.PutTLV(w, t.TLVType(), 4, func(w *wire.Writer) error {
			if unknown {
				w.PutBytes(u.Value)
				return nil
			}
			_, err := c.tlvs.Serialize(t, w, c)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// FindTLV returns the first TLV of type T in tlvs.
func FindTLV[T TLVInterface](tlvs []TLVInterface) (T, bool) {
	for _, t := range tlvs {
		if v, ok := t.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
