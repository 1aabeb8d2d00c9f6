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
	"bufio"
	"context"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/channels"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/osrg/bgpcep/internal/pkg/netutils"
	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bmp"
	"github.com/osrg/bgpcep/pkg/packet/registry"
)

// maxBMPMessageLength bounds a single message read from a router.
const maxBMPMessageLength = 1 << 24

type bmpPeerKey struct {
	distinguisher uint64
	address       netip.Addr
}

func peerKeyOf(h *bmp.BMPPeerHeader) bmpPeerKey {
	return bmpPeerKey{distinguisher: h.PeerDistinguisher, address: h.PeerAddress}
}

// bmpEvent is a parsed message on its way from the reader to the RIB.
type bmpEvent struct {
	msg       *bmp.BMPMessage
	opts      *bgp.MarshallingOption
	timestamp time.Time
}

type bmpPeer struct {
	info *table.PeerInfo
	// stats are the counters of the last statistics report.
	stats []bmp.BMPStatsTLVInterface
	up    time.Time
}

// bmpRouter is one monitored router connected to a station. The reader
// goroutine parses, the apply goroutine owns the peers and the tables.
type bmpRouter struct {
	t        tomb.Tomb
	station  *bmpStation
	conn     net.Conn
	remote   netip.AddrPort
	id       uuid.UUID
	incoming *channels.InfiniteChannel
	// peerOptions is owned by the reader: a peer up changes how the
	// very next route monitoring of that peer is decoded.
	peerOptions map[bmpPeerKey]*bgp.MarshallingOption

	mu       sync.Mutex
	sysName  string
	sysDescr string
	peers    map[bmpPeerKey]*bmpPeer
	// ribs holds the pre-policy and the post-policy Adj-RIB-In views.
	ribs     [2]*table.TableManager
	upSince  time.Time
	messages atomic.Uint64
	ignored  atomic.Uint64
}

func newBmpRouter(station *bmpStation, conn net.Conn, remote netip.AddrPort) *bmpRouter {
	return &bmpRouter{
		station:     station,
		conn:        conn,
		remote:      remote,
		id:          uuid.New(),
		incoming:    channels.NewInfiniteChannel(),
		peerOptions: make(map[bmpPeerKey]*bgp.MarshallingOption),
		peers:       make(map[bmpPeerKey]*bmpPeer),
		upSince:     time.Now(),
	}
}

func (r *bmpRouter) logger() log.Logger {
	return r.station.logger
}

func (r *bmpRouter) fields(f log.Fields) log.Fields {
	f["Topic"] = "BMP"
	f["Key"] = r.remote.String()
	f["Router"] = r.id.String()
	return f
}

func (r *bmpRouter) start() {
	r.t.Go(r.readLoop)
	r.t.Go(r.applyLoop)
}

func (r *bmpRouter) stop() {
	r.t.Kill(nil)
	r.conn.Close()
	r.t.Wait()
}

func (r *bmpRouter) marshallingOption() *bmp.MarshallingOption {
	return &bmp.MarshallingOption{
		BGP: func(h *bmp.BMPPeerHeader) *bgp.MarshallingOption {
			return r.peerOptions[peerKeyOf(h)]
		},
	}
}

func (r *bmpRouter) readLoop() error {
	defer r.incoming.Close()
	scanner := bufio.NewScanner(r.conn)
	scanner.Buffer(make([]byte, 64*1024), maxBMPMessageLength)
	scanner.Split(bmp.SplitBMP)
	opts := r.marshallingOption()
	for scanner.Scan() {
		m, err := r.station.ctx.ParseMessage(scanner.Bytes(), opts)
		if err != nil {
			// one bad message does not desynchronize the stream, the
			// framing is already known
			r.ignored.Add(1)
			r.logger().Warn("failed to parse bmp message", r.fields(log.Fields{"Error": err}))
			continue
		}
		r.messages.Add(1)
		ev := &bmpEvent{msg: m, timestamp: time.Now()}
		if h := m.PeerHeader(); h != nil {
			ev.opts = r.peerOptions[peerKeyOf(h)]
			switch body := m.Body.(type) {
			case *bmp.BMPPeerUpNotification:
				sent, ok1 := openOf(body.SentOpenMsg)
				recv, ok2 := openOf(body.ReceivedOpenMsg)
				if ok1 && ok2 {
					r.peerOptions[peerKeyOf(h)] = bgp.NegotiatedOption(sent, recv)
				}
			case *bmp.BMPPeerDownNotification:
				delete(r.peerOptions, peerKeyOf(h))
			}
		}
		r.incoming.In() <- ev
		if _, ok := m.Body.(*bmp.BMPTermination); ok {
			return nil
		}
	}
	fields := log.Fields{}
	if err := scanner.Err(); err != nil {
		fields["Error"] = err
	}
	r.logger().Info("bmp router disconnected", r.fields(fields))
	return nil
}

func openOf(m *bgp.BGPMessage) (*bgp.BGPOpen, bool) {
	if m == nil {
		return nil, false
	}
	open, ok := m.Body.(*bgp.BGPOpen)
	return open, ok
}

func (r *bmpRouter) applyLoop() error {
	for v := range r.incoming.Out() {
		r.apply(v.(*bmpEvent))
	}
	// the router is gone, and so is everything it reported
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[bmpPeerKey]*bmpPeer)
	r.mu.Unlock()
	var updates []*table.Update
	for _, p := range peers {
		updates = append(updates, r.peerDown(p.info)...)
	}
	r.notify(updates, time.Now())
	r.conn.Close()
	r.station.removeRouter(r)
	return nil
}

func (r *bmpRouter) rib(postPolicy bool, localAS uint32) *table.TableManager {
	i := 0
	if postPolicy {
		i = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ribs[i] == nil {
		rib, err := table.NewTableManager(r.logger(), r.station.ctx.BGP(), localAS, r.station.selection, r.station.policies)
		if err != nil {
			r.logger().Error("failed to create tables", r.fields(log.Fields{"Error": err}))
			return nil
		}
		r.ribs[i] = rib
	}
	return r.ribs[i]
}

func (r *bmpRouter) peerDown(info *table.PeerInfo) []*table.Update {
	var updates []*table.Update
	r.mu.Lock()
	ribs := r.ribs
	r.mu.Unlock()
	for _, rib := range ribs {
		if rib != nil {
			updates = append(updates, rib.PeerDown(info)...)
		}
	}
	return updates
}

// peer returns the peer of h, learning it from the header when the
// router skipped the peer up.
func (r *bmpRouter) peer(h *bmp.BMPPeerHeader) *bmpPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := peerKeyOf(h)
	p, ok := r.peers[key]
	if !ok {
		p = &bmpPeer{
			info: &table.PeerInfo{
				AS:      h.PeerAS,
				ID:      h.PeerBGPID,
				Address: h.PeerAddress,
			},
			up: h.Time(),
		}
		r.peers[key] = p
	}
	return p
}

func (r *bmpRouter) apply(ev *bmpEvent) {
	switch body := ev.msg.Body.(type) {
	case *bmp.BMPInitiation:
		r.mu.Lock()
		for _, t := range body.Info {
			if s, ok := t.(*bmp.BMPTLVString); ok {
				switch s.Type {
				case bmp.BMP_INIT_TLV_TYPE_SYS_NAME:
					r.sysName = s.Value
				case bmp.BMP_INIT_TLV_TYPE_SYS_DESCR:
					r.sysDescr = s.Value
				}
			}
		}
		r.mu.Unlock()
		r.logger().Info("bmp router initiated", r.fields(log.Fields{"Info": body.Info}))
	case *bmp.BMPTermination:
		reason, _ := body.Reason()
		r.logger().Info("bmp router terminated", r.fields(log.Fields{"Reason": reason}))
	case *bmp.BMPPeerUpNotification:
		h := &body.PeerHeader
		info := &table.PeerInfo{
			AS:      h.PeerAS,
			ID:      h.PeerBGPID,
			Address: h.PeerAddress,
		}
		if open, ok := openOf(body.SentOpenMsg); ok {
			info.LocalAS = open.AS()
			info.LocalID = open.ID
		}
		r.mu.Lock()
		old, ok := r.peers[peerKeyOf(h)]
		r.peers[peerKeyOf(h)] = &bmpPeer{info: info, up: h.Time()}
		r.mu.Unlock()
		if ok {
			// a second peer up without a peer down replaces the session
			r.notify(r.peerDown(old.info), ev.timestamp)
		}
		r.logger().Info("monitored peer up", r.fields(log.Fields{"Peer": h.String()}))
	case *bmp.BMPPeerDownNotification:
		h := &body.PeerHeader
		r.mu.Lock()
		p, ok := r.peers[peerKeyOf(h)]
		delete(r.peers, peerKeyOf(h))
		r.mu.Unlock()
		r.logger().Info("monitored peer down", r.fields(log.Fields{"Peer": h.String(), "Reason": body.Reason}))
		if ok {
			r.notify(r.peerDown(p.info), ev.timestamp)
		}
	case *bmp.BMPRouteMonitoring:
		h := &body.PeerHeader
		if h.IsAdjRIBOut() {
			r.ignored.Add(1)
			return
		}
		p := r.peer(h)
		rib := r.rib(h.IsPostPolicy(), p.info.LocalAS)
		if rib == nil {
			return
		}
		stamp := h.Time()
		if h.Timestamp == 0 {
			stamp = ev.timestamp
		}
		r.notify(rib.ProcessMessage(p.info, body.BGPUpdate, ev.opts, stamp), stamp)
	case *bmp.BMPStatisticsReport:
		p := r.peer(&body.PeerHeader)
		r.mu.Lock()
		p.stats = body.Stats
		r.mu.Unlock()
	case *bmp.BMPRouteMirroring:
		r.logger().Debug("route mirroring", r.fields(log.Fields{"Peer": body.PeerHeader.String()}))
	}
}

func (r *bmpRouter) notify(updates []*table.Update, timestamp time.Time) {
	if len(updates) == 0 {
		return
	}
	s := r.station.s
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.notifyWatcher(watchEventTypeBmp, &WatchEventBmp{Router: r.remote, Updates: updates, Timestamp: timestamp})
}

// BmpPeerState is a monitored peer as last reported.
type BmpPeerState struct {
	Distinguisher uint64
	PeerInfo      table.PeerInfo
	UpSince       time.Time
	Stats         []bmp.BMPStatsTLVInterface
}

type BmpRouterState struct {
	Station  netip.AddrPort
	Address  netip.AddrPort
	ID       string
	SysName  string
	SysDescr string
	UpSince  time.Time
	Messages uint64
	Ignored  uint64
	Peers    []BmpPeerState
	// PrePolicy and PostPolicy summarize the tables of each view that
	// received routes.
	PrePolicy  []*TableInfo
	PostPolicy []*TableInfo
}

func ribInfo(rib *table.TableManager) []*TableInfo {
	if rib == nil {
		return nil
	}
	var l []*TableInfo
	for _, f := range rib.Families() {
		t, _ := rib.GetTable(f)
		l = append(l, tableInfo(t))
	}
	return l
}

func (r *bmpRouter) state() *BmpRouterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &BmpRouterState{
		Station:    r.station.addr,
		Address:    r.remote,
		ID:         r.id.String(),
		SysName:    r.sysName,
		SysDescr:   r.sysDescr,
		UpSince:    r.upSince,
		Messages:   r.messages.Load(),
		Ignored:    r.ignored.Load(),
		PrePolicy:  ribInfo(r.ribs[0]),
		PostPolicy: ribInfo(r.ribs[1]),
	}
	for k, p := range r.peers {
		st.Peers = append(st.Peers, BmpPeerState{
			Distinguisher: k.distinguisher,
			PeerInfo:      *p.info,
			UpSince:       p.up,
			Stats:         p.stats,
		})
	}
	sort.Slice(st.Peers, func(i, j int) bool {
		if st.Peers[i].Distinguisher != st.Peers[j].Distinguisher {
			return st.Peers[i].Distinguisher < st.Peers[j].Distinguisher
		}
		return st.Peers[i].PeerInfo.Address.Less(st.Peers[j].PeerInfo.Address)
	})
	return st
}

// bmpStation accepts monitored routers on one address.
type bmpStation struct {
	s         *BgpServer
	ctx       *bmp.ExtensionContext
	logger    log.Logger
	addr      netip.AddrPort
	l         *netutils.TCPListener
	connCh    chan net.Conn
	t         tomb.Tomb
	selection table.SelectionOptions
	policies  map[bgp.Family]table.Policy

	mu      sync.Mutex
	routers map[netip.AddrPort]*bmpRouter
}

func (b *bmpStation) loop() error {
	for {
		select {
		case <-b.t.Dying():
			return nil
		case conn := <-b.connCh:
			remote, ok := netutils.AddrPort(conn.RemoteAddr())
			if !ok {
				conn.Close()
				continue
			}
			r := newBmpRouter(b, conn, remote)
			b.mu.Lock()
			b.routers[remote] = r
			b.mu.Unlock()
			b.logger.Info("bmp router connected", r.fields(log.Fields{"Station": b.addr.String()}))
			r.start()
		}
	}
}

func (b *bmpStation) removeRouter(r *bmpRouter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.routers[r.remote] == r {
		delete(b.routers, r.remote)
	}
}

func (b *bmpStation) stop() {
	b.t.Kill(nil)
	b.t.Wait()
	b.l.Close()
	for len(b.connCh) > 0 {
		(<-b.connCh).Close()
	}
	b.mu.Lock()
	routers := make([]*bmpRouter, 0, len(b.routers))
	for _, r := range b.routers {
		routers = append(routers, r)
	}
	b.mu.Unlock()
	for _, r := range routers {
		r.stop()
	}
}

type bmpStationManager struct {
	s    *BgpServer
	ctx  *bmp.ExtensionContext
	regs registry.Registrations

	mu         sync.Mutex
	stationMap map[netip.AddrPort]*bmpStation
}

func newBmpStationManager(s *BgpServer) *bmpStationManager {
	ctx := bmp.NewExtensionContext(s.logger, s.bgpCtx)
	return &bmpStationManager{
		s:          s,
		ctx:        ctx,
		regs:       ctx.Activate(bmp.BaseActivator{}),
		stationMap: make(map[netip.AddrPort]*bmpStation),
	}
}

func stationAddr(c config.BmpStation) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(c.Address)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "invalid bmp station address %q", c.Address)
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(c.Port)), nil
}

func (m *bmpStationManager) addStation(c config.BmpStation, selection table.SelectionOptions, policies map[bgp.Family]table.Policy) error {
	addr, err := stationAddr(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, y := m.stationMap[addr]; y {
		return errors.Errorf("bmp station %s is already configured", addr)
	}
	b := &bmpStation{
		s:         m.s,
		ctx:       m.ctx,
		logger:    m.s.logger,
		addr:      addr,
		connCh:    make(chan net.Conn, 8),
		selection: selection,
		policies:  policies,
		routers:   make(map[netip.AddrPort]*bmpRouter),
	}
	b.l, err = netutils.NewTCPListener(m.s.logger, addr.Addr().String(), uint32(addr.Port()), "", b.connCh)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", net.JoinHostPort(addr.Addr().String(), strconv.Itoa(int(addr.Port()))))
	}
	m.stationMap[addr] = b
	b.t.Go(b.loop)
	m.s.logger.Info("bmp station started",
		log.Fields{
			"Topic": "BMP",
			"Key":   addr.String(),
		})
	return nil
}

func (m *bmpStationManager) deleteStation(c config.BmpStation) error {
	addr, err := stationAddr(c)
	if err != nil {
		return err
	}
	m.mu.Lock()
	b, y := m.stationMap[addr]
	delete(m.stationMap, addr)
	m.mu.Unlock()
	if !y {
		return errors.Errorf("bmp station %s isn't found", addr)
	}
	b.stop()
	return nil
}

func (m *bmpStationManager) stopAll() {
	m.mu.Lock()
	stations := m.stationMap
	m.stationMap = make(map[netip.AddrPort]*bmpStation)
	m.mu.Unlock()
	for _, b := range stations {
		b.stop()
	}
}

func (m *bmpStationManager) routers() []*bmpRouter {
	m.mu.Lock()
	defer m.mu.Unlock()
	var l []*bmpRouter
	for _, b := range m.stationMap {
		b.mu.Lock()
		for _, r := range b.routers {
			l = append(l, r)
		}
		b.mu.Unlock()
	}
	return l
}

// AddBmpStation listens for monitored routers. Their tables use the
// families and selection options BGP was started with.
func (s *BgpServer) AddBmpStation(ctx context.Context, c config.BmpStation) error {
	var selection table.SelectionOptions
	var policies map[bgp.Family]table.Policy
	err := s.mgmtOperation(func() error {
		selection = selectionOptions(s.bgpConfig.RouteSelectionOptions)
		policies = s.policies
		return nil
	}, true)
	if err != nil {
		return err
	}
	return s.bmpManager.addStation(c, selection, policies)
}

// DeleteBmpStation disconnects the routers of the station and drops
// their tables.
func (s *BgpServer) DeleteBmpStation(ctx context.Context, c config.BmpStation) error {
	return s.bmpManager.deleteStation(c)
}

func (s *BgpServer) ListBmpRouter(ctx context.Context, fn func(*BmpRouterState)) error {
	routers := s.bmpManager.routers()
	sort.Slice(routers, func(i, j int) bool {
		return routers[i].remote.Addr().Less(routers[j].remote.Addr()) ||
			(routers[i].remote.Addr() == routers[j].remote.Addr() && routers[i].remote.Port() < routers[j].remote.Port())
	})
	for _, r := range routers {
		fn(r.state())
	}
	return nil
}

// bmpTable returns a table of the router at addr, for lookups.
func (s *BgpServer) bmpTable(addr netip.Addr, postPolicy bool, family bgp.Family) (*table.Table, error) {
	for _, r := range s.bmpManager.routers() {
		if r.remote.Addr() != addr {
			continue
		}
		i := 0
		if postPolicy {
			i = 1
		}
		r.mu.Lock()
		rib := r.ribs[i]
		r.mu.Unlock()
		if rib == nil {
			break
		}
		if t, ok := rib.GetTable(family); ok {
			return t, nil
		}
		return nil, errors.Errorf("address family: %s not supported", family)
	}
	return nil, errors.Errorf("no bmp table for %s", addr)
}

// ListBmpPath walks a table of the router at addr like ListPath.
func (s *BgpServer) ListBmpPath(ctx context.Context, addr netip.Addr, postPolicy bool, family bgp.Family, fn func(d *table.Destination)) error {
	t, err := s.bmpTable(addr, postPolicy, family)
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
