// Copyright (C) 2014-2024 Nippon Telegraph and Telephone Corporation.
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

package server

import (
	"context"
	"net/netip"
	"time"

	"github.com/eapache/channels"

	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/peering"
	"github.com/osrg/bgpcep/pkg/utils"
)

type watchEventType string

const (
	watchEventTypeBestPath  watchEventType = "bestpath"
	watchEventTypePeerState watchEventType = "peerstate"
	watchEventTypeBmp       watchEventType = "bmp"
)

type WatchEvent any

// WatchEventBestPath carries the selection changes of one UPDATE or one
// peer going down, in the order the tables produced them.
type WatchEventBestPath struct {
	Updates   []*table.Update
	Timestamp time.Time
}

type WatchEventPeer struct {
	PeerAddress netip.Addr
	PeerAS      uint32
	PeerInfo    *table.PeerInfo
	State       bgp.FSMState
	OldState    bgp.FSMState
	Reason      peering.FSMStateReasonType
	AdminState  peering.AdminState
	Timestamp   time.Time
}

// WatchEventBmp reports the selection changes of a monitored router's
// tables.
type WatchEventBmp struct {
	Router    netip.AddrPort
	Updates   []*table.Update
	Timestamp time.Time
}

type watchOptions struct {
	bestPath  bool
	peerState bool
	bmp       bool
}

type WatchOption func(*watchOptions)

func WatchBestPath() WatchOption {
	return func(o *watchOptions) {
		o.bestPath = true
	}
}

func WatchPeerState() WatchOption {
	return func(o *watchOptions) {
		o.peerState = true
	}
}

func WatchBmp() WatchOption {
	return func(o *watchOptions) {
		o.bmp = true
	}
}

type watcher struct {
	opts   watchOptions
	realCh chan WatchEvent
	ch     *channels.InfiniteChannel
	s      *BgpServer
}

// Event is closed once the watcher is stopped.
func (w *watcher) Event() <-chan WatchEvent {
	return w.realCh
}

func (w *watcher) notify(v WatchEvent) {
	w.ch.In() <- v
}

func (w *watcher) loop() {
	for ev := range w.ch.Out() {
		w.realCh <- ev.(WatchEvent)
	}
	close(w.realCh)
}

func (w *watcher) Stop() {
	w.s.shared.mu.Lock()
	for k, l := range w.s.watcherMap {
		for i, v := range l {
			if w == v {
				w.s.watcherMap[k] = append(l[:i:i], l[i+1:]...)
				break
			}
		}
	}
	w.s.shared.mu.Unlock()

	utils.DrainInfiniteChannel(w.ch)
	// the loop goroutine might be blocked writing to realCh
	for range w.realCh {
	}
}

func (s *BgpServer) notifyWatcher(typ watchEventType, ev WatchEvent) {
	for _, w := range s.watcherMap[typ] {
		w.notify(ev)
	}
}

func (s *BgpServer) notifyBestWatcher(updates []*table.Update, timestamp time.Time) {
	if len(s.watcherMap[watchEventTypeBestPath]) == 0 {
		return
	}
	s.notifyWatcher(watchEventTypeBestPath, &WatchEventBestPath{Updates: updates, Timestamp: timestamp})
}

// Watcher delivers events in the order they were produced. A slow
// reader never blocks the producers.
type Watcher interface {
	Event() <-chan WatchEvent
	Stop()
}

// WatchEvent registers a watcher. With WatchPeerState, the current
// state of every neighbor is reported first.
func (s *BgpServer) WatchEvent(ctx context.Context, opts ...WatchOption) (Watcher, error) {
	w := &watcher{
		s:      s,
		realCh: make(chan WatchEvent, 8),
		ch:     channels.NewInfiniteChannel(),
	}
	for _, opt := range opts {
		opt(&w.opts)
	}
	err := s.mgmtOperation(func() error {
		if w.opts.bestPath {
			s.watcherMap[watchEventTypeBestPath] = append(s.watcherMap[watchEventTypeBestPath], w)
		}
		if w.opts.bmp {
			s.watcherMap[watchEventTypeBmp] = append(s.watcherMap[watchEventTypeBmp], w)
		}
		if w.opts.peerState {
			for _, peer := range s.neighborMap {
				w.notify(&WatchEventPeer{
					PeerAddress: peer.Address(),
					PeerAS:      peer.Config().PeerAs,
					PeerInfo:    peer.PeerInfo(),
					State:       peer.State(),
					OldState:    peer.State(),
					AdminState:  peer.AdminState(),
					Timestamp:   time.Now(),
				})
			}
			s.watcherMap[watchEventTypePeerState] = append(s.watcherMap[watchEventTypePeerState], w)
		}
		return nil
	}, false)
	if err != nil {
		w.ch.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}
