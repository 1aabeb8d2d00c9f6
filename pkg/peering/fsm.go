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

package peering

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/channels"

	"github.com/osrg/bgpcep/internal/pkg/netutils"
	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/utils"
)

type msgCounters struct {
	open         atomic.Uint64
	update       atomic.Uint64
	notification atomic.Uint64
	keepalive    atomic.Uint64
	refresh      atomic.Uint64
	discarded    atomic.Uint64
	total        atomic.Uint64
}

func (c *msgCounters) inc(typ uint8) {
	switch typ {
	case bgp.BGP_MSG_OPEN:
		c.open.Add(1)
	case bgp.BGP_MSG_UPDATE:
		c.update.Add(1)
	case bgp.BGP_MSG_NOTIFICATION:
		c.notification.Add(1)
	case bgp.BGP_MSG_KEEPALIVE:
		c.keepalive.Add(1)
	case bgp.BGP_MSG_ROUTE_REFRESH:
		c.refresh.Add(1)
	}
	c.total.Add(1)
}

func (c *msgCounters) load() MessageCounters {
	return MessageCounters{
		Open:         c.open.Load(),
		Update:       c.update.Load(),
		Notification: c.notification.Load(),
		Keepalive:    c.keepalive.Load(),
		Refresh:      c.refresh.Load(),
		Discarded:    c.discarded.Load(),
		Total:        c.total.Load(),
	}
}

// https://datatracker.ietf.org/doc/html/rfc4271#section-8
type fsm struct {
	conf     *config.Neighbor
	bgpCtx   *bgp.ExtensionContext
	routerID netip.Addr
	logger   log.Logger

	state        *utils.Atomic[bgp.FSMState]
	adminState   *utils.Atomic[AdminState]
	adminStateCh chan *AdminStateOperation
	connCh       chan net.Conn
	// incoming carries *FSMMsg and *FSMStateTransition in the order
	// they happened.
	incoming *channels.InfiniteChannel

	idleHoldTime       time.Duration
	peerInfo           atomic.Pointer[table.PeerInfo]
	marshallingOptions atomic.Pointer[bgp.MarshallingOption]

	sessionLock sync.Mutex
	session     *session

	sent               msgCounters
	recv               msgCounters
	establishedCounter atomic.Uint32
	upSince            *utils.Atomic[time.Time]
}

func newFSM(logger log.Logger, bgpCtx *bgp.ExtensionContext, routerID netip.Addr, conf *config.Neighbor) *fsm {
	adminState := AdminStateUp
	if conf.AdminDown {
		adminState = AdminStateDown
	}
	return &fsm{
		conf:         conf,
		bgpCtx:       bgpCtx,
		routerID:     routerID,
		logger:       logger,
		state:        utils.NewAtomic(bgp.BGP_FSM_IDLE),
		adminState:   utils.NewAtomic(adminState),
		adminStateCh: make(chan *AdminStateOperation, 1),
		connCh:       make(chan net.Conn, 1),
		incoming:     channels.NewInfiniteChannel(),
		upSince:      utils.NewAtomic(time.Time{}),
	}
}

func (fsm *fsm) key() string {
	return fsm.conf.NeighborAddress
}

func (fsm *fsm) stateChange(next bgp.FSMState, reason FSMStateReasonType, data any) {
	old := fsm.state.Swap(next)
	if old == next {
		return
	}
	fsm.logger.Debug("state changed",
		log.Fields{
			"Topic":  "Peer",
			"Key":    fsm.key(),
			"Old":    old.String(),
			"New":    next.String(),
			"Reason": reason.String(),
		})
	fsm.incoming.In() <- &FSMStateTransition{
		OldState: old,
		NewState: next,
		Reason:   reason,
		Data:     data,
		PeerInfo: fsm.peerInfo.Load(),
	}
}

func (fsm *fsm) changeAdminState(s AdminState) bool {
	if fsm.adminState.Swap(s) == s {
		fsm.logger.Warn("cannot change to the same state",
			log.Fields{
				"Topic":    "Peer",
				"Key":      fsm.key(),
				"FSMState": fsm.state.Load().String(),
			})
		return false
	}
	msg := "Administrative start"
	if s == AdminStateDown {
		msg = "Administrative shutdown"
	}
	fsm.logger.Info(msg,
		log.Fields{
			"Topic":    "Peer",
			"Key":      fsm.key(),
			"FSMState": fsm.state.Load().String(),
		})
	return true
}

func (fsm *fsm) closeAcceptedConn(conn net.Conn) {
	conn.Close()
	fsm.logger.Warn("Closed an accepted connection",
		log.Fields{
			"Topic": "Peer",
			"Key":   fsm.key(),
			"State": fsm.state.Load().String(),
		})
}

// loop drives the FSM until ctx is done. It always leaves the FSM in
// Idle and closes incoming on return.
func (fsm *fsm) loop(ctx context.Context) error {
	defer fsm.incoming.Close()
	for {
		if ctx.Err() != nil {
			return nil
		}
		switch fsm.state.Load() {
		case bgp.BGP_FSM_IDLE:
			if fsm.idle(ctx) {
				fsm.stateChange(bgp.BGP_FSM_ACTIVE, FSMIdleTimerExpired, nil)
			}
		case bgp.BGP_FSM_ACTIVE:
			conn, reason := fsm.active(ctx)
			if conn == nil {
				fsm.stateChange(bgp.BGP_FSM_IDLE, reason, nil)
				continue
			}
			fsm.runSession(ctx, conn)
		}
	}
}

func (fsm *fsm) idle(ctx context.Context) bool {
	idleHoldTimer := time.NewTimer(fsm.idleHoldTime)
	defer idleHoldTimer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case conn := <-fsm.connCh:
			fsm.closeAcceptedConn(conn)
		case <-idleHoldTimer.C:
			if fsm.adminState.Load() == AdminStateUp {
				fsm.idleHoldTime = fsm.conf.Timers.IdleHoldDuration()
				return true
			}
			fsm.logger.Debug("IdleHoldTimer expired, but stay at idle because the admin state is DOWN",
				log.Fields{
					"Topic": "Peer",
					"Key":   fsm.key(),
				})
		case op := <-fsm.adminStateCh:
			if fsm.changeAdminState(op.State) {
				switch op.State {
				case AdminStateDown:
					idleHoldTimer.Stop()
				case AdminStateUp:
					resetTimer(idleHoldTimer, fsm.idleHoldTime)
				}
			}
		}
	}
}

func (fsm *fsm) active(ctx context.Context) (net.Conn, FSMStateReasonType) {
	var wg sync.WaitGroup
	defer wg.Wait()
	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !fsm.conf.PassiveMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fsm.connectLoop(connectCtx)
		}()
	}
	for {
		select {
		case <-ctx.Done():
			return nil, FSMDeconfigured
		case conn := <-fsm.connCh:
			// a successful connect or accept cancels the pending retry
			return conn, FSMNewConnection
		case op := <-fsm.adminStateCh:
			if fsm.changeAdminState(op.State) && op.State == AdminStateDown {
				return nil, FSMAdminDown
			}
		}
	}
}

func (fsm *fsm) dialOptions() netutils.DialOptions {
	conf := fsm.conf
	var ttl uint8
	if !conf.IsIBGP() {
		ttl = 1
		if conf.EbgpMultihopTtl != 0 {
			ttl = conf.EbgpMultihopTtl
		}
	}
	if conf.TtlMin != 0 {
		ttl = 255
	}
	return netutils.DialOptions{
		LocalAddress:  conf.LocalAddress,
		Password:      conf.AuthPassword,
		TTL:           ttl,
		MinTTL:        conf.TtlMin,
		BindInterface: conf.BindInterface,
		Timeout:       fsm.connectRetry(),
	}
}

func (fsm *fsm) connectRetry() time.Duration {
	retry := fsm.conf.Timers.ConnectRetryDuration()
	if retry < MinConnectRetryInterval {
		retry = MinConnectRetryInterval
	}
	return retry
}

func (fsm *fsm) connectLoop(ctx context.Context) {
	retry := fsm.connectRetry()
	opts := fsm.dialOptions()
	addr := fsm.conf.Addr().String()

	timer := time.NewTimer(utils.Jitterize(MinConnectRetryInterval, utils.WithMinFactor(0)))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		conn, err := netutils.DialTCP(ctx, addr, fsm.conf.RemotePort, opts)
		if err == nil {
			if !utils.PushWithContext(ctx, fsm.connCh, conn, false) {
				conn.Close()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		fsm.logger.Debug("failed to connect",
			log.Fields{
				"Topic": "Peer",
				"Key":   fsm.key(),
				"Error": err,
			})
		timer.Reset(utils.Jitterize(retry, utils.WithMinFactor(0.75)))
	}
}

func (fsm *fsm) runSession(ctx context.Context, conn net.Conn) {
	s := newSession(fsm, conn)
	fsm.sessionLock.Lock()
	fsm.session = s
	fsm.sessionLock.Unlock()

	reason, data := s.run(ctx)

	fsm.sessionLock.Lock()
	fsm.session = nil
	fsm.sessionLock.Unlock()
	s.close()
	fsm.stateChange(bgp.BGP_FSM_IDLE, reason, data)
	fsm.marshallingOptions.Store(nil)
}

func (fsm *fsm) currentSession() *session {
	fsm.sessionLock.Lock()
	defer fsm.sessionLock.Unlock()
	return fsm.session
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
