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
	"net"
	"net/netip"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/osrg/bgpcep/internal/pkg/netutils"
	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bgp/extensions"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/peering"
)

type options struct {
	logger log.Logger
}

type ServerOption func(*options)

func LoggerOption(logger log.Logger) ServerOption {
	return func(o *options) {
		o.logger = logger
	}
}

type sharedData struct {
	mu sync.Mutex
}

// BgpServer is a receive-only BGP speaker: it keeps sessions with the
// configured neighbors and selects best paths from what they advertise.
type BgpServer struct {
	shared      *sharedData
	bgpConfig   config.Global
	routerID    netip.Addr
	bgpCtx      *bgp.ExtensionContext
	regs        registry.Registrations
	acceptCh    chan net.Conn
	mgmtCh      chan *mgmtOp
	listeners   []*netutils.TCPListener
	neighborMap map[netip.Addr]*peering.Peer
	globalRib   *table.TableManager
	policies    map[bgp.Family]table.Policy
	watcherMap  map[watchEventType][]*watcher
	bmpManager  *bmpStationManager
	logger      log.Logger

	isServing     atomic.Bool
	shutdownWG    *sync.WaitGroup
	runningCtx    context.Context
	runningCancel context.CancelFunc
}

func NewBgpServer(opt ...ServerOption) *BgpServer {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	logger := opts.logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	bgpCtx, regs := extensions.NewContext(logger)
	s := &BgpServer{
		shared:      &sharedData{},
		bgpCtx:      bgpCtx,
		regs:        regs,
		acceptCh:    make(chan net.Conn, 32),
		mgmtCh:      make(chan *mgmtOp, 1),
		neighborMap: make(map[netip.Addr]*peering.Peer),
		watcherMap:  make(map[watchEventType][]*watcher),
		logger:      logger,
		shutdownWG:  &sync.WaitGroup{},
	}
	s.runningCtx, s.runningCancel = context.WithCancel(context.Background())
	s.bmpManager = newBmpStationManager(s)
	return s
}

func (s *BgpServer) active() error {
	if s.bgpConfig.As == 0 {
		return errors.New("bgp server hasn't started yet")
	}
	return nil
}

type mgmtOp struct {
	f           func() error
	errCh       chan error
	checkActive bool // check BGP global setting is configured before calling f()
}

func (s *BgpServer) handleMGMTOp(op *mgmtOp) {
	if op.checkActive {
		if err := s.active(); err != nil {
			op.errCh <- err
			return
		}
	}
	op.errCh <- op.f()
}

// mgmtOperation runs f on the Serve goroutine. f must not wait for a
// peer to stop: peer callbacks take the same lock.
func (s *BgpServer) mgmtOperation(f func() error, checkActive bool) error {
	ch := make(chan error, 1)
	op := &mgmtOp{f: f, errCh: ch, checkActive: checkActive}
	select {
	case s.mgmtCh <- op:
	case <-s.runningCtx.Done():
		return errors.New("bgp server is shut down")
	}
	return <-ch
}

// Serve handles management operations and accepted connections until
// Shutdown is called.
func (s *BgpServer) Serve() {
	if s.isServing.Swap(true) {
		s.logger.Warn("server is already serving", log.Fields{"Topic": "BgpServer"})
		return
	}
	s.shutdownWG.Add(1)
	defer func() {
		s.shutdownWG.Done()
		s.isServing.Store(false)
	}()

	for {
		select {
		case <-s.runningCtx.Done():
			s.logger.Info("shutting down", log.Fields{"Topic": "BgpServer"})
			return
		case op := <-s.mgmtCh:
			s.shared.mu.Lock()
			s.handleMGMTOp(op)
			s.shared.mu.Unlock()
		case conn := <-s.acceptCh:
			s.shared.mu.Lock()
			s.passConnToPeer(conn)
			s.shared.mu.Unlock()
		}
	}
}

// Shutdown stops BGP and the BMP stations and ends Serve.
func (s *BgpServer) Shutdown() {
	if err := s.StopBgp(context.Background()); err != nil {
		s.logger.Debug("failed to stop BGP server",
			log.Fields{
				"Topic": "BgpServer",
				"Error": err,
			})
	}
	s.bmpManager.stopAll()
	s.runningCancel()
	s.shutdownWG.Wait()
	s.regs.Close()
}

func (s *BgpServer) passConnToPeer(conn net.Conn) {
	remote, ok := netutils.AddrPort(conn.RemoteAddr())
	if !ok {
		s.logger.Warn("Failed to get remote address of an accepted connection",
			log.Fields{
				"Topic":       "Server",
				"Remote Addr": conn.RemoteAddr().String(),
			})
		conn.Close()
		return
	}
	peer, found := s.neighborMap[remote.Addr()]
	if !found {
		s.logger.Info("Can't find configuration for a new passive connection",
			log.Fields{
				"Topic": "Server",
				"Key":   remote.Addr().String(),
			})
		conn.Close()
		return
	}
	peer.PassConn(conn)
}

func selectionOptions(c config.RouteSelectionOptions) table.SelectionOptions {
	return table.SelectionOptions{
		DefaultLocalPref:        c.DefaultLocalPref,
		DefaultMed:              c.DefaultMed,
		MedMissingAsWorst:       c.MedMissingAsWorst,
		AlwaysCompareMed:        c.AlwaysCompareMed,
		ExternalCompareRouterId: c.ExternalCompareRouterId,
		DeterministicMed:        c.DeterministicMed,
		IgnoreAsPathLength:      c.IgnoreAsPathLength,
	}
}

func tablePolicies(afiSafis []config.AfiSafi) map[bgp.Family]table.Policy {
	policies := make(map[bgp.Family]table.Policy, len(afiSafis))
	for _, a := range afiSafis {
		policies[a.Family()] = table.PolicyFromAddPath(a.AddPaths.Enabled(), int(a.AddPaths.SendMax))
	}
	return policies
}

// StartBgp creates the Loc-RIB tables and the listeners of g.
func (s *BgpServer) StartBgp(ctx context.Context, g config.Global) error {
	return s.mgmtOperation(func() error {
		if s.bgpConfig.As != 0 {
			return errors.New("bgp server is already started")
		}
		if g.As == 0 {
			return errors.New("invalid as number")
		}
		routerID, err := netip.ParseAddr(g.RouterId)
		if err != nil || !routerID.Is4() {
			return errors.Errorf("invalid router-id format: %s", g.RouterId)
		}

		s.policies = tablePolicies(g.AfiSafis)
		rib, err := table.NewTableManager(s.logger, s.bgpCtx, g.As, selectionOptions(g.RouteSelectionOptions), s.policies)
		if err != nil {
			return errors.Wrap(err, "failed to create tables")
		}

		if g.Port > 0 {
			for _, addr := range g.ListenAddresses {
				l, err := netutils.NewTCPListener(s.logger, addr, uint32(g.Port), g.BindToDevice, s.acceptCh)
				if err != nil {
					for _, l := range s.listeners {
						l.Close()
					}
					s.listeners = nil
					return errors.Wrapf(err, "failed to listen on %s", addr)
				}
				s.listeners = append(s.listeners, l)
			}
		}
		s.bgpConfig = g
		s.routerID = routerID
		s.globalRib = rib
		s.logger.Info("bgp started",
			log.Fields{
				"Topic":    "BgpServer",
				"AS":       g.As,
				"RouterID": g.RouterId,
				"Tables":   rib.Families(),
			})
		return nil
	}, false)
}

// StopBgp tears down every peer and listener. The tables are dropped.
func (s *BgpServer) StopBgp(ctx context.Context) error {
	var peers []*peering.Peer
	err := s.mgmtOperation(func() error {
		for addr, peer := range s.neighborMap {
			peers = append(peers, peer)
			delete(s.neighborMap, addr)
		}
		for _, l := range s.listeners {
			l.Close()
		}
		s.listeners = nil
		s.bgpConfig = config.Global{}
		s.globalRib = nil
		return nil
	}, true)
	if err != nil {
		return err
	}
	stopPeers(peers)
	s.bmpManager.stopAll()
	return nil
}

func stopPeers(peers []*peering.Peer) {
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peering.Peer) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
}

func (s *BgpServer) setPeerPassword(addr netip.Addr, password string) {
	for _, l := range s.listeners {
		la, ok := netutils.AddrPort(l.Addr())
		if !ok || la.Addr().Is4() != addr.Is4() {
			continue
		}
		if err := l.SetPeerPassword(addr.String(), password); err != nil {
			s.logger.Warn("failed to set md5",
				log.Fields{
					"Topic": "Peer",
					"Key":   addr.String(),
					"Error": err,
				})
		}
	}
}

func (s *BgpServer) startFsmHandler(peer *peering.Peer) {
	// the rib is bound here so that a peer stopping after StopBgp still
	// withdraws from the tables it fed
	rib := s.globalRib
	peer.Start(
		func(e *peering.FSMMsg) {
			s.handleFSMMessage(rib, peer, e)
		},
		func(e *peering.FSMStateTransition) {
			s.handleFSMTransition(rib, peer, e)
		})
}

func (s *BgpServer) handleFSMMessage(rib *table.TableManager, peer *peering.Peer, e *peering.FSMMsg) {
	updates := rib.ProcessMessage(e.PeerInfo, e.Message, e.MarshallingOptions, e.Timestamp)
	if len(updates) == 0 {
		return
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.notifyBestWatcher(updates, e.Timestamp)
}

func (s *BgpServer) handleFSMTransition(rib *table.TableManager, peer *peering.Peer, e *peering.FSMStateTransition) {
	var updates []*table.Update
	if e.OldState == bgp.BGP_FSM_ESTABLISHED && e.PeerInfo != nil {
		s.logger.Info("Peer Down",
			log.Fields{
				"Topic":  "Peer",
				"Key":    peer.ID(),
				"State":  e.NewState.String(),
				"Reason": e.Reason.String(),
			})
		updates = rib.PeerDown(e.PeerInfo)
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.notifyWatcher(watchEventTypePeerState, &WatchEventPeer{
		PeerAddress: peer.Address(),
		PeerAS:      peer.Config().PeerAs,
		PeerInfo:    e.PeerInfo,
		State:       e.NewState,
		OldState:    e.OldState,
		Reason:      e.Reason,
		AdminState:  peer.AdminState(),
		Timestamp:   time.Now(),
	})
	if len(updates) > 0 {
		s.notifyBestWatcher(updates, time.Now())
	}
}

func (s *BgpServer) addNeighbor(c config.Neighbor) error {
	addr := c.Addr()
	if !addr.IsValid() {
		return errors.Errorf("invalid neighbor address: %s", c.NeighborAddress)
	}
	if _, y := s.neighborMap[addr]; y {
		return errors.Errorf("can't overwrite the existing peer: %s", c.NeighborAddress)
	}
	for _, f := range c.Families() {
		if _, ok := s.policies[f]; !ok {
			s.logger.Warn("no table for a negotiated family, its routes are dropped",
				log.Fields{
					"Topic":  "Peer",
					"Key":    c.NeighborAddress,
					"Family": f.String(),
				})
		}
	}
	if c.AuthPassword != "" {
		s.setPeerPassword(addr, c.AuthPassword)
	}
	peer := peering.NewPeer(s.logger, s.bgpCtx, s.routerID, c)
	s.neighborMap[addr] = peer
	s.startFsmHandler(peer)
	s.logger.Info("Add a peer configuration",
		log.Fields{
			"Topic": "Peer",
			"Key":   c.NeighborAddress,
		})
	return nil
}

func (s *BgpServer) deleteNeighbor(addr netip.Addr) (*peering.Peer, error) {
	peer, y := s.neighborMap[addr]
	if !y {
		return nil, errors.Errorf("can't delete a peer configuration for %s", addr)
	}
	if peer.Config().AuthPassword != "" {
		s.setPeerPassword(addr, "")
	}
	delete(s.neighborMap, addr)
	s.logger.Info("Delete a peer configuration",
		log.Fields{
			"Topic": "Peer",
			"Key":   addr.String(),
		})
	return peer, nil
}

func parseAddr(addr string) (netip.Addr, error) {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "invalid neighbor address %q", addr)
	}
	return a.Unmap(), nil
}

func (s *BgpServer) AddPeer(ctx context.Context, c config.Neighbor) error {
	return s.mgmtOperation(func() error {
		return s.addNeighbor(c)
	}, true)
}

// DeletePeer sends a Cease to the neighbor and withdraws its routes
// before returning.
func (s *BgpServer) DeletePeer(ctx context.Context, address string) error {
	addr, err := parseAddr(address)
	if err != nil {
		return err
	}
	var peer *peering.Peer
	err = s.mgmtOperation(func() error {
		peer, err = s.deleteNeighbor(addr)
		return err
	}, true)
	if err != nil {
		return err
	}
	peer.Stop()
	return nil
}

// UpdatePeer applies c to an existing neighbor. Changing only the admin
// state keeps the peer, anything else restarts its session.
func (s *BgpServer) UpdatePeer(ctx context.Context, c config.Neighbor) error {
	var old *peering.Peer
	err := s.mgmtOperation(func() error {
		peer, y := s.neighborMap[c.Addr()]
		if !y {
			return errors.Errorf("neighbor that has %s doesn't exist", c.NeighborAddress)
		}
		cur := peer.Config()
		if cur.AdminDown != c.AdminDown {
			cur.AdminDown = c.AdminDown
			if reflect.DeepEqual(cur, c) {
				state := peering.AdminStateUp
				if c.AdminDown {
					state = peering.AdminStateDown
				}
				peer.SetAdminState(state, "")
				return nil
			}
		} else if reflect.DeepEqual(cur, c) {
			return nil
		}
		old, _ = s.deleteNeighbor(c.Addr())
		return nil
	}, true)
	if err != nil || old == nil {
		return err
	}
	old.Stop()
	return s.AddPeer(ctx, c)
}

func (s *BgpServer) setAdminState(address, communication string, state peering.AdminState) error {
	addr, err := parseAddr(address)
	if err != nil {
		return err
	}
	return s.mgmtOperation(func() error {
		peer, y := s.neighborMap[addr]
		if !y {
			return errors.Errorf("neighbor that has %s doesn't exist", address)
		}
		peer.SetAdminState(state, communication)
		return nil
	}, true)
}

func (s *BgpServer) EnablePeer(ctx context.Context, address string) error {
	return s.setAdminState(address, "", peering.AdminStateUp)
}

// DisablePeer sends communication with the administrative shutdown.
func (s *BgpServer) DisablePeer(ctx context.Context, address, communication string) error {
	return s.setAdminState(address, communication, peering.AdminStateDown)
}

// PeerState is a point in time view of one neighbor.
type PeerState struct {
	Conf       config.Neighbor
	State      bgp.FSMState
	AdminState peering.AdminState
	PeerInfo   *table.PeerInfo
	Stats      peering.PeerStats
	// Routes is the number of routes in the neighbor's Adj-RIB-In, per
	// family.
	Routes map[bgp.Family]int
}

// ListPeer calls fn for every neighbor, or only for address when set.
func (s *BgpServer) ListPeer(ctx context.Context, address string, fn func(*PeerState)) error {
	var l []*PeerState
	err := s.mgmtOperation(func() error {
		for addr, peer := range s.neighborMap {
			if address != "" && address != addr.String() {
				continue
			}
			st := &PeerState{
				Conf:       peer.Config(),
				State:      peer.State(),
				AdminState: peer.AdminState(),
				PeerInfo:   peer.PeerInfo(),
				Stats:      peer.Stats(),
				Routes:     make(map[bgp.Family]int),
			}
			if st.State == bgp.BGP_FSM_ESTABLISHED && st.PeerInfo != nil {
				adj := s.globalRib.AdjRib(st.PeerInfo)
				for _, f := range adj.Families() {
					st.Routes[f] = len(adj.Routes(f))
				}
			}
			l = append(l, st)
		}
		return nil
	}, false)
	if err != nil {
		return err
	}
	for _, st := range l {
		fn(st)
	}
	return nil
}

// TableInfo summarizes one Loc-RIB table.
type TableInfo struct {
	Family          bgp.Family
	Destinations    int
	Routes          int
	BestPathChanges uint64
}

func tableInfo(t *table.Table) *TableInfo {
	return &TableInfo{
		Family:          t.GetFamily(),
		Destinations:    t.Len(),
		Routes:          t.RouteCount(),
		BestPathChanges: t.BestPathChanges(),
	}
}

func (s *BgpServer) ListTable(ctx context.Context, fn func(*TableInfo)) error {
	var l []*TableInfo
	err := s.mgmtOperation(func() error {
		for _, f := range s.globalRib.Families() {
			t, _ := s.globalRib.GetTable(f)
			l = append(l, tableInfo(t))
		}
		return nil
	}, true)
	if err != nil {
		return err
	}
	for _, info := range l {
		fn(info)
	}
	return nil
}

func (s *BgpServer) getTable(family bgp.Family) (*table.Table, error) {
	var t *table.Table
	err := s.mgmtOperation(func() error {
		var ok bool
		if t, ok = s.globalRib.GetTable(family); !ok {
			return errors.Errorf("address family: %s not supported", family)
		}
		return nil
	}, true)
	return t, err
}

// ListPath walks the destinations of a table in key order. The table is
// not locked as a whole, so concurrent updates may or may not be seen.
func (s *BgpServer) ListPath(ctx context.Context, family bgp.Family, fn func(d *table.Destination)) error {
	t, err := s.getTable(family)
	if err != nil {
		return err
	}
	t.Walk(func(d *table.Destination) bool {
		if ctx.Err() != nil {
			return false
		}
		fn(d)
		return true
	})
	return nil
}

// LookupPath returns the most specific destination covering addr.
func (s *BgpServer) LookupPath(ctx context.Context, family bgp.Family, addr netip.Addr) (*table.Destination, error) {
	t, err := s.getTable(family)
	if err != nil {
		return nil, err
	}
	d, ok := t.LongestMatch(addr)
	if !ok {
		return nil, errors.Errorf("no route to %s in %s", addr, family)
	}
	return d, nil
}

func (s *BgpServer) GetBgp(ctx context.Context) (config.Global, error) {
	var g config.Global
	err := s.mgmtOperation(func() error {
		g = s.bgpConfig
		return nil
	}, false)
	return g, err
}
