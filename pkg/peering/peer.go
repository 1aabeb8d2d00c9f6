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
	"time"

	"gopkg.in/tomb.v2"

	"github.com/osrg/bgpcep/internal/pkg/netutils"
	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/utils"
)

// Peer is one configured neighbor and the FSM that keeps a session
// with it.
type Peer struct {
	fsm    *fsm
	logger log.Logger

	t      tomb.Tomb
	cancel context.CancelFunc

	bgpCallback        FSMBGPCallback
	transitionCallback FSMTransitionCallback
}

// NewPeer copies conf, later changes to it are not seen by the peer.
func NewPeer(logger log.Logger, bgpCtx *bgp.ExtensionContext, routerID netip.Addr, conf config.Neighbor) *Peer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Peer{
		fsm:    newFSM(logger, bgpCtx, routerID, &conf),
		logger: logger,
	}
}

// Start runs the FSM. Callbacks are called from a single goroutine in
// the order things happened on the session.
func (peer *Peer) Start(bgpCallback FSMBGPCallback, transitionCallback FSMTransitionCallback) {
	ctx, cancel := context.WithCancel(context.Background())
	peer.cancel = cancel
	peer.bgpCallback = bgpCallback
	peer.transitionCallback = transitionCallback
	peer.t.Go(func() error {
		return peer.fsm.loop(ctx)
	})
	peer.t.Go(peer.dispatch)
}

func (peer *Peer) dispatch() error {
	for v := range peer.fsm.incoming.Out() {
		switch e := v.(type) {
		case *FSMMsg:
			if peer.bgpCallback != nil {
				peer.bgpCallback(e)
			}
		case *FSMStateTransition:
			if peer.transitionCallback != nil {
				peer.transitionCallback(e)
			}
		}
	}
	return nil
}

// Stop sends a Cease if a session is up and waits until every callback
// has been delivered.
func (peer *Peer) Stop() {
	if peer.cancel == nil {
		return
	}
	peer.cancel()
	peer.t.Kill(nil)
	peer.t.Wait()
	for {
		select {
		case conn := <-peer.fsm.connCh:
			conn.Close()
		default:
			return
		}
	}
}

func (peer *Peer) connLocalAddressValid(conn net.Conn) bool {
	laddr := peer.fsm.conf.LocalAddress
	if laddr == "" || laddr == "0.0.0.0" || laddr == "::" || peer.fsm.conf.BindInterface != "" {
		return true
	}
	l, ok := netutils.AddrPort(conn.LocalAddr())
	if !ok {
		// already closed
		return false
	}
	want, err := netip.ParseAddr(laddr)
	return err == nil && want.Unmap() == l.Addr()
}

// PassConn hands an accepted connection to the FSM, which only takes it
// in Active.
func (peer *Peer) PassConn(conn net.Conn) {
	adminState := peer.fsm.adminState.Load()
	if adminState != AdminStateUp {
		peer.logger.Debug("new connection for administratively down peer",
			log.Fields{
				"Topic":       "Peer",
				"Key":         peer.ID(),
				"Remote Addr": conn.RemoteAddr().String(),
				"Admin State": adminState.String(),
			})
		conn.Close()
		return
	}
	if !peer.connLocalAddressValid(conn) {
		peer.logger.Debug("peer tries to connect with mismatched local address",
			log.Fields{
				"Topic":         "Peer",
				"Key":           peer.ID(),
				"ExpectedLocal": peer.fsm.conf.LocalAddress,
				"ConnLocal":     conn.LocalAddr().String(),
			})
		conn.Close()
		return
	}
	peer.logger.Debug("peer tries to connect",
		log.Fields{
			"Topic": "Peer",
			"Key":   peer.ID(),
		})
	if !utils.PushWithContext(context.Background(), peer.fsm.connCh, conn, false) {
		conn.Close()
	}
}

func (peer *Peer) SetAdminState(state AdminState, communication string) {
	op := &AdminStateOperation{State: state, Communication: communication}
	if !utils.PushWithContext(context.Background(), peer.fsm.adminStateCh, op, false) {
		peer.logger.Warn("previous setting admin state request is still remaining",
			log.Fields{
				"Topic": "Peer",
				"Key":   peer.ID(),
			})
	}
}

// SendMessage queues m on the established session. m must not be
// shared with other peers since serialization fills in its header.
func (peer *Peer) SendMessage(m *bgp.BGPMessage) bool {
	if peer.State() != bgp.BGP_FSM_ESTABLISHED {
		return false
	}
	s := peer.fsm.currentSession()
	return s != nil && s.send(m)
}

func (peer *Peer) ID() string {
	return peer.fsm.conf.NeighborAddress
}

func (peer *Peer) Address() netip.Addr {
	return peer.fsm.conf.Addr()
}

func (peer *Peer) Config() config.Neighbor {
	return *peer.fsm.conf
}

func (peer *Peer) State() bgp.FSMState {
	return peer.fsm.state.Load()
}

func (peer *Peer) AdminState() AdminState {
	return peer.fsm.adminState.Load()
}

// PeerInfo describes the last session that reached OpenConfirm.
func (peer *Peer) PeerInfo() *table.PeerInfo {
	return peer.fsm.peerInfo.Load()
}

func (peer *Peer) MarshallingOptions() *bgp.MarshallingOption {
	return peer.fsm.marshallingOptions.Load()
}

type PeerStats struct {
	Sent               MessageCounters
	Received           MessageCounters
	EstablishedCounter uint32
	UpSince            time.Time
}

func (peer *Peer) Stats() PeerStats {
	return PeerStats{
		Sent:               peer.fsm.sent.load(),
		Received:           peer.fsm.recv.load(),
		EstablishedCounter: peer.fsm.establishedCounter.Load(),
		UpSince:            peer.fsm.upSince.Load(),
	}
}
