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

package registry

import (
	"errors"
	"fmt"

	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// FrameHeader is the decoded fixed header of a type-length framed unit.
// Length counts the header itself.
type FrameHeader[K comparable] struct {
	Code   K
	Length int
}

// Framer runs header decoding, length validation, dispatch and body
// parsing for one framing convention (BGP message, BMP message, PCEP
// message or object and so on).
type Framer[K comparable, C, T any] struct {
	HeaderLen int
	MaxLen    int
	Registry  *Registry[K, C, T]

	ReadHeader  func(r *wire.Reader) (FrameHeader[K], error)
	WriteHeader func(w *wire.Writer, code K, length int)
	// LengthError builds the protocol error for a header whose length is
	// out of range. nil falls back to a ParseError.
	LengthError func(h FrameHeader[K]) error
	// UnknownError builds the protocol error for an unregistered code.
	UnknownError func(h FrameHeader[K]) error
}

// Decode parses the unit at the start of b and returns it together with
// the number of bytes consumed.
func (f *Framer[K, C, T]) Decode(b []byte, c C) (T, int, error) {
	return f.DecodeLimit(b, f.MaxLen, c)
}

func (f *Framer[K, C, T]) DecodeLimit(b []byte, maxLen int, c C) (T, int, error) {
	var zero T
	r := wire.NewReader(b)
	h, err := f.ReadHeader(r)
	if err != nil {
		return zero, 0, err
	}
	if h.Length < f.HeaderLen || (maxLen > 0 && h.Length > maxLen) {
		if f.LengthError != nil {
			return zero, 0, f.LengthError(h)
		}
		return zero, 0, &ParseError{
			Registry: f.Registry.Name(),
			Code:     h.Code,
			Err:      fmt.Errorf("invalid length %d", h.Length),
		}
	}
	if h.Length > len(b) {
		return zero, 0, &ParseError{
			Registry: f.Registry.Name(),
			Code:     h.Code,
			Err:      fmt.Errorf("%w: declared length %d, buffer %d", wire.ErrShortBuffer, h.Length, len(b)),
		}
	}
	v, err := f.Registry.Parse(h.Code, b[f.HeaderLen:h.Length], c)
	if err != nil {
		if errors.Is(err, ErrNoHandler) && f.UnknownError != nil {
			return zero, 0, f.UnknownError(h)
		}
		return zero, 0, err
	}
	return v, h.Length, nil
}

// Encode serializes v behind a header carrying code and the final length.
func (f *Framer[K, C, T]) Encode(code K, v T, c C) ([]byte, error) {
	w := wire.NewWriter(f.HeaderLen + 64)
	if err := f.EncodeTo(w, code, v, c); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (f *Framer[K, C, T]) EncodeTo(w *wire.Writer, code K, v T, c C) error {
	start := w.Len()
	w.Reserve(f.HeaderLen)
	ok, err := f.Registry.Serialize(v, w, c)
	if err != nil {
		return err
	}
	if !ok {
		return &ParseError{Registry: f.Registry.Name(), Code: code, Err: ErrNoHandler}
	}
	length := w.Len() - start
	if f.MaxLen > 0 && length > f.MaxLen {
		return fmt.Errorf("%s: encoded length %d exceeds maximum %d", f.Registry.Name(), length, f.MaxLen)
	}
	hdr := wire.NewWriter(f.HeaderLen)
	f.WriteHeader(hdr, code, length)
	copy(w.Bytes()[start:], hdr.Bytes())
	return nil
}

// ForEachTLV walks a sequence of 2-byte type, 2-byte length TLVs. When
// align is above 1 each value is followed by padding up to a multiple of
// align, as PCEP does.
func ForEachTLV(r *wire.Reader, align int, fn func(typ uint16, value []byte) error) error {
	for r.Len() > 0 {
		typ, err := r.Uint16()
		if err != nil {
			return err
		}
		l, err := r.Uint16()
		if err != nil {
			return err
		}
		value, err := r.Bytes(int(l))
		if err != nil {
			return err
		}
		if align > 1 {
			if pad := (align - int(l)%align) % align; pad > 0 {
				if err := r.Skip(min(pad, r.Len())); err != nil {
					return err
				}
			}
		}
		if err := fn(typ, value); err != nil {
			return err
		}
	}
	return nil
}

// PutTLV writes a TLV header in front of whatever body writes, padding
// the value to align bytes.
func PutTLV(w *wire.Writer, typ uint16, align int, body func(w *wire.Writer) error) error {
	w.PutUint16(typ)
	off := w.Reserve(2)
	start := w.Len()
	if err := body(w); err != nil {
		return err
	}
	l := w.Len() - start
	w.SetUint16(off, uint16(l))
	if align > 1 {
		w.PutZeros((align - l%align) % align)
	}
	return nil
}
