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
	"context"

	"github.com/eapache/channels"
)

// DrainInfiniteChannel closes ch and returns how many buffered items were
// thrown away.
func DrainInfiniteChannel(ch *channels.InfiniteChannel) int {
	ch.Close()
	n := 0
	for range ch.Out() {
		n++
	}
	return n
}

// PushWithContext reports whether item was queued on ch before ctx ended.
// Without wait a full channel counts as a failure.
func PushWithContext[T any](ctx context.Context, ch chan<- T, item T, wait bool) bool {
	if err := ctx.Err(); err != nil {
		return false
	}
	if wait {
		select {
		case ch <- item:
			return true
		case <-ctx.Done():
			return false
		}
	}
	select {
	case ch <- item:
		return true
	default:
		return false
	}
}
