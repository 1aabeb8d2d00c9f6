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

// Package wire provides bounds checked cursors over network byte order
// buffers. Every read either returns exactly the requested bytes or fails
// with an error wrapping ErrShortBuffer; it never returns truncated data.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrShortBuffer   = errors.New("short buffer")
	ErrPrefixTooLong = errors.New("prefix length exceeds address size")
)

type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) need(n int) error {
	if n < 0 || r.Len() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, r.Len())
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) Uint24() (uint32, error) {
	if err := r.need(3); err != nil {
		return 0, err
	}
	b := r.buf[r.off:]
	r.off += 3
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// Bytes returns the next n bytes. The result aliases the underlying buffer.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

// Slice returns a reader limited to the next n bytes and advances past them.
func (r *Reader) Slice(n int) (*Reader, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.off += n
	return nil
}

// Rest consumes and returns every unread byte.
func (r *Reader) Rest() []byte {
	b := r.buf[r.off:len(r.buf):len(r.buf)]
	r.off = len(r.buf)
	return b
}

// Peek returns the next n bytes without consuming them.
func (r *Reader) Peek(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	return r.buf[r.off : r.off+n : r.off+n], nil
}

func (r *Reader) Addr4() (netip.Addr, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4([4]byte(b)), nil
}

func (r *Reader) Addr16() (netip.Addr, error) {
	b, err := r.Bytes(16)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom16([16]byte(b)), nil
}

// Prefix reads a length byte followed by the minimal number of address
// bytes. addrBits must be 32 or 128.
func (r *Reader) Prefix(addrBits int) (netip.Prefix, error) {
	l, err := r.Uint8()
	if err != nil {
		return netip.Prefix{}, err
	}
	return r.PrefixBits(int(l), addrBits)
}

// PrefixBits reads the address bytes of a prefix whose bit length was
// already decoded by the caller, as done by labeled and VPN encodings.
func (r *Reader) PrefixBits(bits, addrBits int) (netip.Prefix, error) {
	if bits < 0 || bits > addrBits {
		return netip.Prefix{}, fmt.Errorf("%w: %d > %d", ErrPrefixTooLong, bits, addrBits)
	}
	b, err := r.Bytes(PrefixByteLen(bits))
	if err != nil {
		return netip.Prefix{}, err
	}
	var addr netip.Addr
	if addrBits == 32 {
		var a [4]byte
		copy(a[:], b)
		addr = netip.AddrFrom4(a)
	} else {
		var a [16]byte
		copy(a[:], b)
		addr = netip.AddrFrom16(a)
	}
	return netip.PrefixFrom(addr, bits).Masked(), nil
}

// PrefixByteLen is the number of bytes needed to carry a prefix of the
// given bit length.
func PrefixByteLen(bits int) int {
	return (bits + 7) / 8
}
