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

import "slices"

// Classify splits all into the members found in part and the rest,
// keeping the order of all.
func Classify[T comparable](all, part []T) (in, out []T) {
	for _, v := range all {
		if slices.Contains(part, v) {
			in = append(in, v)
		} else {
			out = append(out, v)
		}
	}
	return in, out
}
