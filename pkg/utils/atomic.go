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

package utils

import "sync/atomic"

// Atomic is a typed atomic.Value. The zero value is not usable; build it
// with NewAtomic so that Load never sees nil.
type Atomic[T any] struct {
	v atomic.Value
}

func NewAtomic[T any](v T) *Atomic[T] {
	a := &Atomic[T]{}
	a.v.Store(box[T]{v})
	return a
}

// box lets interface typed values, nil included, be stored.
type box[T any] struct {
	v T
}

func (a *Atomic[T]) Load() T {
	return a.v.Load().(box[T]).v
}

func (a *Atomic[T]) Store(v T) {
	a.v.Store(box[T]{v})
}

func (a *Atomic[T]) Swap(v T) T {
	return a.v.Swap(box[T]{v}).(box[T]).v
}
