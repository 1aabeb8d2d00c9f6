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
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ReaderIntegers(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a})
	v8, err := r.Uint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v8)
	v16, err := r.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0203), v16)
	v32, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04050607), v32)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 7, r.Offset())

	_, err = r.Uint32()
	assert.ErrorIs(t, err, ErrShortBuffer)
	// a failed read does not move the cursor
	assert.Equal(t, 3, r.Len())
	v24, err := r.Uint24()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x08090a), v24)
	assert.Equal(t, 0, r.Len())
}

func Test_ReaderSlice(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	sub, err := r.Slice(3)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.Len())
	assert.Equal(t, 2, r.Len())
	_, err = sub.Bytes(4)
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Equal(t, []byte{1, 2, 3}, sub.Rest())
	assert.Error(t, r.Skip(3))
	assert.NoError(t, r.Skip(2))
}

func Test_PrefixMinimalEncoding(t *testing.T) {
	p := netip.MustParsePrefix("2001:db8:1::/64")
	w := NewWriter(0)
	w.PutPrefix(p)
	assert.Equal(t, 9, w.Len())
	assert.Equal(t, []byte{64, 0x20, 0x01, 0x0d, 0xb8, 0x00, 0x01, 0x00, 0x00}, w.Bytes())

	r := NewReader(w.Bytes())
	got, err := r.Prefix(128)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, 9, r.Offset())
}

func Test_PrefixRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0.0/0", "10.0.0.0/8", "10.1.128.0/17", "192.0.2.1/32", "::/0", "2001:db8::1/128", "fe80::/10"} {
		p := netip.MustParsePrefix(s)
		w := NewWriter(0)
		w.PutPrefix(p)
		assert.Equal(t, 1+PrefixByteLen(p.Bits()), w.Len(), s)
		bits := 32
		if p.Addr().Is6() {
			bits = 128
		}
		got, err := NewReader(w.Bytes()).Prefix(bits)
		require.NoError(t, err, s)
		assert.Equal(t, p, got, s)
	}
}

func Test_PrefixErrors(t *testing.T) {
	_, err := NewReader([]byte{33, 10, 0, 0, 0, 0}).Prefix(32)
	assert.ErrorIs(t, err, ErrPrefixTooLong)

	_, err = NewReader([]byte{24, 10, 0}).Prefix(32)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func Test_WriterPatch(t *testing.T) {
	w := NewWriter(8)
	off := w.Reserve(2)
	w.PutUint32(0xdeadbeef)
	w.SetUint16(off, uint16(w.Len()))
	assert.Equal(t, []byte{0, 6, 0xde, 0xad, 0xbe, 0xef}, w.Bytes())
}
