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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

type value interface{ isValue() }

type counter struct{ N uint16 }

func (counter) isValue() {}

type other struct{}

func (other) isValue() {}

func parseCounter(r *wire.Reader, _ struct{}) (value, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	return counter{N: n}, nil
}

func serializeCounter(v value, w *wire.Writer, _ struct{}) error {
	w.PutUint16(v.(counter).N)
	return nil
}

func Test_RegistryParseSerialize(t *testing.T) {
	r := New[uint8, struct{}, value]("test", nil)
	r.RegisterParser(7, parseCounter)
	r.RegisterSerializer(counter{}, serializeCounter)

	v, err := r.Parse(7, []byte{0x01, 0x01}, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, counter{N: 257}, v)

	w := wire.NewWriter(0)
	ok, err := r.Serialize(v, w, struct{}{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x01}, w.Bytes())
}

func Test_RegistryUnknown(t *testing.T) {
	logger := log.NewTestLogger()
	r := New[uint8, struct{}, value]("test", logger)

	_, err := r.Parse(9, []byte{1}, struct{}{})
	assert.ErrorIs(t, err, ErrNoHandler)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, uint8(9), perr.Code)

	w := wire.NewWriter(0)
	ok, err := r.Serialize(other{}, w, struct{}{})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, w.Len())
	assert.Len(t, logger.Messages(log.DebugLevel), 1)
}

func Test_RegistryLength(t *testing.T) {
	r := New[uint8, struct{}, value]("test", nil)
	r.RegisterParser(7, parseCounter)

	_, err := r.Parse(7, []byte{0x01}, struct{}{})
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	_, err = r.Parse(7, []byte{0x01, 0x02, 0x03}, struct{}{})
	assert.ErrorIs(t, err, ErrTrailingData)
}

func Test_RegistrationClose(t *testing.T) {
	r := New[uint8, struct{}, value]("test", nil)
	reg := r.RegisterParser(7, parseCounter)
	assert.Panics(t, func() { r.RegisterParser(7, parseCounter) })

	reg.Close()
	_, ok := r.Parser(7)
	assert.False(t, ok)

	// a stale handle must not remove a newer registration
	r.RegisterParser(7, parseCounter)
	reg.Close()
	_, ok = r.Parser(7)
	assert.True(t, ok)
}

func Test_RegistrationsCloseAll(t *testing.T) {
	tbl := NewTable[int, string]("names")
	rs := Registrations{tbl.Register(1, "a"), tbl.Register(2, "b")}
	assert.Equal(t, []int{1, 2}, SortedKeys(tbl))
	rs.Close()
	assert.Equal(t, 0, tbl.Len())
}

func Test_TableConcurrentLookup(t *testing.T) {
	tbl := NewTable[int, int]("numbers")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tbl.Lookup(j % 16)
			}
		}()
	}
	for i := 0; i < 16; i++ {
		tbl.Register(i, i*i)
	}
	wg.Wait()
	v, ok := tbl.Lookup(5)
	assert.True(t, ok)
	assert.Equal(t, 25, v)
}

func newTestFramer(r *Registry[uint8, struct{}, value]) *Framer[uint8, struct{}, value] {
	return &Framer[uint8, struct{}, value]{
		HeaderLen: 3,
		MaxLen:    16,
		Registry:  r,
		ReadHeader: func(rd *wire.Reader) (FrameHeader[uint8], error) {
			typ, err := rd.Uint8()
			if err != nil {
				return FrameHeader[uint8]{}, err
			}
			l, err := rd.Uint16()
			return FrameHeader[uint8]{Code: typ, Length: int(l)}, err
		},
		WriteHeader: func(w *wire.Writer, code uint8, length int) {
			w.PutUint8(code)
			w.PutUint16(uint16(length))
		},
	}
}

func Test_FramerRoundTrip(t *testing.T) {
	r := New[uint8, struct{}, value]("test", nil)
	r.RegisterParser(7, parseCounter)
	r.RegisterSerializer(counter{}, serializeCounter)
	f := newTestFramer(r)

	b, err := f.Encode(7, counter{N: 42}, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 0, 5, 0, 42}, b)

	v, n, err := f.Decode(append(b, 0xff), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, counter{N: 42}, v)

	// one byte short of the declared length
	_, _, err = f.Decode(b[:4], struct{}{})
	assert.ErrorIs(t, err, wire.ErrShortBuffer)

	// declared length below the header size
	_, _, err = f.Decode([]byte{7, 0, 2, 0, 42}, struct{}{})
	assert.Error(t, err)
}

func Test_FramerUnknownError(t *testing.T) {
	sentinel := errors.New("bad type")
	f := newTestFramer(New[uint8, struct{}, value]("test", nil))
	f.UnknownError = func(FrameHeader[uint8]) error { return sentinel }
	_, _, err := f.Decode([]byte{9, 0, 3}, struct{}{})
	assert.ErrorIs(t, err, sentinel)
}

func Test_ForEachTLV(t *testing.T) {
	w := wire.NewWriter(0)
	require.NoError(t, PutTLV(w, 1, 4, func(w *wire.Writer) error {
		w.PutBytes([]byte{0xaa, 0xbb, 0xcc})
		return nil
	}))
	require.NoError(t, PutTLV(w, 2, 4, func(w *wire.Writer) error {
		w.PutUint32(1)
		return nil
	}))
	assert.Equal(t, 16, w.Len())

	var types []uint16
	err := ForEachTLV(wire.NewReader(w.Bytes()), 4, func(typ uint16, value []byte) error {
		types = append(types, typ)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, types)

	err = ForEachTLV(wire.NewReader([]byte{0, 1, 0, 8, 1}), 1, func(uint16, []byte) error { return nil })
	assert.ErrorIs(t, err, wire.ErrShortBuffer)
}
