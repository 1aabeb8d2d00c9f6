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

package wire

import (
	"encoding/binary"
	"net/netip"
)

// Writer is a growable output buffer. Writes never fail; length fields
// that are only known after the body is written are reserved first and
// patched afterwards.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) PutUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) PutUint24(v uint32) {
	w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
}

func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) PutUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) PutZeros(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// PutAddr writes 4 bytes for IPv4 and 16 bytes for IPv6 addresses.
func (w *Writer) PutAddr(a netip.Addr) {
	if a.Is4() {
		b := a.As4()
		w.buf = append(w.buf, b[:]...)
		return
	}
	b := a.As16()
	w.buf = append(w.buf, b[:]...)
}

// PutPrefix writes the length byte followed by the minimal address bytes.
func (w *Writer) PutPrefix(p netip.Prefix) {
	w.PutUint8(uint8(p.Bits()))
	w.PutPrefixBits(p)
}

// PutPrefixBits writes only the minimal address bytes of p.
func (w *Writer) PutPrefixBits(p netip.Prefix) {
	p = p.Masked()
	n := PrefixByteLen(p.Bits())
	if p.Addr().Is4() {
		b := p.Addr().As4()
		w.buf = append(w.buf, b[:n]...)
		return
	}
	b := p.Addr().As16()
	w.buf = append(w.buf, b[:n]...)
}

// Reserve appends n zero bytes and returns their offset.
func (w *Writer) Reserve(n int) int {
	off := len(w.buf)
	w.PutZeros(n)
	return off
}

func (w *Writer) SetUint8(off int, v uint8) {
	w.buf[off] = v
}

func (w *Writer) SetUint16(off int, v uint16) {
	binary.BigEndian.PutUint16(w.buf[off:], v)
}

func (w *Writer) SetUint32(off int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[off:], v)
}
