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

import (
	"math/rand/v2"
	"time"
)

type jitterOptions struct {
	minFactor float64
	maxFactor float64
}

type JitterOption func(*jitterOptions)

func WithMinFactor(f float64) JitterOption {
	return func(o *jitterOptions) {
		o.minFactor = f
	}
}

func WithMaxFactor(f float64) JitterOption {
	return func(o *jitterOptions) {
		o.maxFactor = f
	}
}

// Jitterize scales d by a random factor in [min, max]. Without options
// d is returned unchanged.
func Jitterize(d time.Duration, opts ...JitterOption) time.Duration {
	o := jitterOptions{minFactor: 1.0, maxFactor: 1.0}
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxFactor < o.minFactor {
		o.maxFactor = o.minFactor
	}
	f := o.minFactor + (o.maxFactor-o.minFactor)*rand.Float64()
	return time.Duration(float64(d) * f)
}
