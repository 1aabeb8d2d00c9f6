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
	"reflect"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/wire"
)

var (
	ErrNoHandler    = errors.New("no handler registered")
	ErrTrailingData = errors.New("unparsed bytes after body")
)

// ParseError is an undocumented parsing failure, i.e. one that has no
// protocol error code to report to the peer.
type ParseError struct {
	Registry string
	Code     any
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: code %v: %v", e.Registry, e.Code, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParserFunc decodes one value from r. C carries per-session decoding
// options such as negotiated capabilities.
type ParserFunc[C, T any] func(r *wire.Reader, c C) (T, error)

type SerializerFunc[C, T any] func(v T, w *wire.Writer, c C) error

// Registry dispatches parsing by wire code and serialization by the
// concrete Go type of the value.
type Registry[K comparable, C, T any] struct {
	name        string
	parsers     *Table[K, ParserFunc[C, T]]
	serializers *Table[reflect.Type, SerializerFunc[C, T]]
	logger      log.Logger
}

func New[K comparable, C, T any](name string, logger log.Logger) *Registry[K, C, T] {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry[K, C, T]{
		name:        name,
		parsers:     NewTable[K, ParserFunc[C, T]](name + " parsers"),
		serializers: NewTable[reflect.Type, SerializerFunc[C, T]](name + " serializers"),
		logger:      logger,
	}
}

func (r *Registry[K, C, T]) Name() string {
	return r.name
}

func (r *Registry[K, C, T]) RegisterParser(code K, p ParserFunc[C, T]) Registration {
	return r.parsers.Register(code, p)
}

// RegisterSerializer keys s by the dynamic type of sample.
func (r *Registry[K, C, T]) RegisterSerializer(sample T, s SerializerFunc[C, T]) Registration {
	return r.serializers.Register(reflect.TypeOf(sample), s)
}

func (r *Registry[K, C, T]) Parser(code K) (ParserFunc[C, T], bool) {
	return r.parsers.Lookup(code)
}

func (r *Registry[K, C, T]) Codes() []K {
	return r.parsers.Keys()
}

// Parse hands body to the parser registered for code. The parser must
// consume body exactly.
func (r *Registry[K, C, T]) Parse(code K, body []byte, c C) (T, error) {
	var zero T
	p, ok := r.parsers.Lookup(code)
	if !ok {
		return zero, &ParseError{Registry: r.Name(), Code: code, Err: ErrNoHandler}
	}
	rd := wire.NewReader(body)
	v, err := p(rd, c)
	if err != nil {
		return zero, err
	}
	if rd.Len() != 0 {
		return zero, &ParseError{Registry: r.Name(), Code: code, Err: fmt.Errorf("%w: %d bytes", ErrTrailingData, rd.Len())}
	}
	return v, nil
}

// Serializable reports whether a serializer is registered for the type
// of v. Containers check it before writing any framing for v.
func (r *Registry[K, C, T]) Serializable(v T) bool {
	_, ok := r.serializers.Lookup(reflect.TypeOf(v))
	return ok
}

// Serialize writes v with the serializer registered for its type. It
// reports false, and writes nothing, when no serializer is known.
func (r *Registry[K, C, T]) Serialize(v T, w *wire.Writer, c C) (bool, error) {
	typ := reflect.TypeOf(v)
	s, ok := r.serializers.Lookup(typ)
	if !ok {
		r.logger.Debug("no serializer registered, skipping",
			log.Fields{
				"Topic": "Registry",
				"Key":   r.Name(),
				"Type":  fmt.Sprint(typ),
			})
		return false, nil
	}
	return true, s(v, w, c)
}
