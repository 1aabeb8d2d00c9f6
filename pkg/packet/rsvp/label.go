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

package rsvp

import (
	"fmt"

	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// Label C-Types (RFC 3209 4.1, RFC 3471 3.2, RFC 3471 3.2.2).
const (
	LABEL_TYPE1       = 1
	LABEL_GENERALIZED = 2
	LABEL_WAVEBAND    = 3
)

type LabelInterface interface {
	CType() uint8
	String() string
}

// Type1Label is a 20-bit MPLS label right-justified in four octets.
type Type1Label struct {
	Label uint32
}

func (l *Type1Label) CType() uint8   { return LABEL_TYPE1 }
func (l *Type1Label) String() string { return fmt.Sprintf("%d", l.Label) }

type GeneralizedLabel struct {
	Label []byte
}

func (l *GeneralizedLabel) CType() uint8   { return LABEL_GENERALIZED }
func (l *GeneralizedLabel) String() string { return fmt.Sprintf("0x%x", l.Label) }

type WavebandLabel struct {
	WavebandID uint32
	StartLabel uint32
	EndLabel   uint32
}

func (l *WavebandLabel) CType() uint8 { return LABEL_WAVEBAND }

func (l *WavebandLabel) String() string {
	return fmt.Sprintf("waveband %d [%d-%d]", l.WavebandID, l.StartLabel, l.EndLabel)
}

type UnknownLabel struct {
	Type  uint8
	Value []byte
}

func (l *UnknownLabel) CType() uint8   { return l.Type }
func (l *UnknownLabel) String() string { return fmt.Sprintf("{c-type %d: %x}", l.Type, l.Value) }

func parseType1Label(r *wire.Reader, _ RouteKind) (LabelInterface, error) {
	v, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if v > 0xfffff {
		return nil, fmt.Errorf("type-1 label %d exceeds 20 bits", v)
	}
	return &Type1Label{Label: v}, nil
}

func serializeType1Label(v LabelInterface, w *wire.Writer, _ RouteKind) error {
	w.PutUint32(v.(*Type1Label).Label & 0xfffff)
	return nil
}

func parseGeneralizedLabel(r *wire.Reader, _ RouteKind) (LabelInterface, error) {
	b := r.Rest()
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("generalized label: invalid length %d", len(b))
	}
	return &GeneralizedLabel{Label: append([]byte(nil), b...)}, nil
}

func serializeGeneralizedLabel(v LabelInterface, w *wire.Writer, _ RouteKind) error {
	l := v.(*GeneralizedLabel)
	if len(l.Label) == 0 || len(l.Label)%4 != 0 {
		return fmt.Errorf("generalized label: invalid length %d", len(l.Label))
	}
	w.PutBytes(l.Label)
	return nil
}

func parseWavebandLabel(r *wire.Reader, _ RouteKind) (LabelInterface, error) {
	l := &WavebandLabel{}
	var err error
	if l.WavebandID, err = r.Uint32(); err != nil {
		return nil, err
	}
	if l.StartLabel, err = r.Uint32(); err != nil {
		return nil, err
	}
	if l.EndLabel, err = r.Uint32(); err != nil {
		return nil, err
	}
	return l, nil
}

func serializeWavebandLabel(v LabelInterface, w *wire.Writer, _ RouteKind) error {
	l := v.(*WavebandLabel)
	w.PutUint32(l.WavebandID)
	w.PutUint32(l.StartLabel)
	w.PutUint32(l.EndLabel)
	return nil
}
