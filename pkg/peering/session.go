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
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/eapache/channels"
	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/utils"
)

type recvMsg struct {
	msg       *bgp.BGPMessage
	err       error
	readError bool
	timestamp time.Time
}

// session is one TCP connection from OpenSent to its close. recvLoop
// and sendLoop run under the tomb, the state functions run on the
// goroutine of fsm.loop.
type session struct {
	t        tomb.Tomb
	fsm      *fsm
	conn     net.Conn
	id       uuid.UUID
	msgCh    chan *recvMsg
	errorCh  chan FSMStateReasonType
	sendDone chan struct{}

	lock     sync.Mutex
	closed   bool
	outgoing *channels.InfiniteChannel

	sentOpen          *bgp.BGPOpen
	holdTime          time.Duration
	keepaliveInterval time.Duration
}

func newSession(fsm *fsm, conn net.Conn) *session {
	return &session{
		fsm:      fsm,
		conn:     conn,
		id:       uuid.New(),
		msgCh:    make(chan *recvMsg),
		errorCh:  make(chan FSMStateReasonType, 2),
		sendDone: make(chan struct{}),
		outgoing: channels.NewInfiniteChannel(),
	}
}

func (s *session) fields(f log.Fields) log.Fields {
	f["Topic"] = "Peer"
	f["Key"] = s.fsm.key()
	f["Session"] = s.id.String()
	return f
}

// send queues m unless the session is already closed.
func (s *session) send(m *bgp.BGPMessage) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return false
	}
	s.outgoing.In() <- m
	return true
}

func (s *session) sendNotification(code, subcode uint8, data []byte) {
	s.send(bgp.NewBGPNotificationMessage(code, subcode, data))
}

// close flushes what is queued, NOTIFICATIONs included, before the
// connection goes away.
func (s *session) close() {
	s.t.Kill(nil)
	<-s.sendDone
	s.conn.Close()
	s.t.Wait()

	s.lock.Lock()
	s.closed = true
	s.lock.Unlock()
	if n := utils.DrainInfiniteChannel(s.outgoing); n > 0 {
		s.fsm.sent.discarded.Add(uint64(n))
	}
}

func (s *session) write(m *bgp.BGPMessage) error {
	b, err := s.fsm.bgpCtx.SerializeMessage(m, s.fsm.marshallingOptions.Load())
	if err != nil {
		s.fsm.logger.Warn("failed to serialize", s.fields(log.Fields{"Error": err}))
		s.fsm.sent.discarded.Add(1)
		return nil
	}
	if _, err := s.conn.Write(b); err != nil {
		return err
	}
	typ := m.Body.MessageType()
	s.fsm.sent.inc(typ)
	if typ == bgp.BGP_MSG_NOTIFICATION {
		s.fsm.logger.Warn("sent notification", s.fields(log.Fields{"Data": m.Body.(*bgp.BGPNotification).Code().String()}))
	} else {
		s.fsm.logger.Debug("sent", s.fields(log.Fields{"Type": typ}))
	}
	return nil
}

func (s *session) sendLoop() error {
	defer close(s.sendDone)
	for {
		select {
		case <-s.t.Dying():
			s.conn.SetWriteDeadline(time.Now().Add(NotificationFlushTimeout))
			for s.outgoing.Len() > 0 {
				m := (<-s.outgoing.Out()).(*bgp.BGPMessage)
				if err := s.write(m); err != nil {
					return nil
				}
			}
			return nil
		case v := <-s.outgoing.Out():
			if err := s.write(v.(*bgp.BGPMessage)); err != nil {
				select {
				case s.errorCh <- FSMWriteFailed:
				default:
				}
				return nil
			}
		}
	}
}

func maxMessageLength(opts *bgp.MarshallingOption) int {
	if opts != nil && opts.ExtendedMessage {
		return bgp.BGP_MAX_EXTENDED_MESSAGE_LENGTH
	}
	return bgp.BGP_MAX_MESSAGE_LENGTH
}

func (s *session) readMessage() *recvMsg {
	hdr := make([]byte, bgp.BGP_HEADER_LENGTH)
	if _, err := io.ReadFull(s.conn, hdr); err != nil {
		return &recvMsg{err: err, readError: true}
	}
	opts := s.fsm.marshallingOptions.Load()
	h, err := bgp.ReadHeader(hdr, maxMessageLength(opts))
	if err != nil {
		s.fsm.recv.discarded.Add(1)
		return &recvMsg{err: err}
	}
	body := make([]byte, int(h.Len)-bgp.BGP_HEADER_LENGTH)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return &recvMsg{err: err, readError: true}
	}
	m, err := s.fsm.bgpCtx.ParseBody(h, body, opts)
	if err != nil {
		s.fsm.recv.discarded.Add(1)
		return &recvMsg{err: err}
	}
	s.fsm.recv.inc(h.Type)
	if open, ok := m.Body.(*bgp.BGPOpen); ok {
		// the next message may already depend on the negotiation
		s.fsm.marshallingOptions.Store(bgp.NegotiatedOption(s.sentOpen, open))
	}
	return &recvMsg{msg: m, timestamp: time.Now()}
}

func (s *session) recvLoop() error {
	for {
		m := s.readMessage()
		select {
		case s.msgCh <- m:
		case <-s.t.Dying():
			return nil
		}
		if m.err != nil {
			return nil
		}
	}
}

func (s *session) run(ctx context.Context) (FSMStateReasonType, any) {
	fsm := s.fsm
	open := bgp.NewBGPOpenMessage(fsm.conf.LocalAs, uint16(fsm.conf.Timers.HoldTime), fsm.routerID, fsm.conf.Capabilities())
	s.sentOpen = open.Body.(*bgp.BGPOpen)
	s.t.Go(s.sendLoop)
	s.t.Go(s.recvLoop)
	s.send(open)
	fsm.stateChange(bgp.BGP_FSM_OPENSENT, FSMNewConnection, nil)

	if reason, data, ok := s.opensent(ctx); !ok {
		return reason, data
	}
	fsm.stateChange(bgp.BGP_FSM_OPENCONFIRM, FSMOpenMsgReceived, nil)

	holdTimer, keepalive := s.timers()
	defer holdTimer.Stop()
	defer keepalive.Stop()
	if reason, data, ok := s.openconfirm(ctx, holdTimer, keepalive); !ok {
		return reason, data
	}
	fsm.establishedCounter.Add(1)
	fsm.upSince.Store(time.Now())
	fsm.logger.Info("Peer Up", s.fields(log.Fields{"State": bgp.BGP_FSM_OPENCONFIRM.String()}))
	fsm.stateChange(bgp.BGP_FSM_ESTABLISHED, FSMOpenMsgNegotiated, nil)
	return s.established(ctx, holdTimer, keepalive)
}

// timers returns stopped timers when the negotiated hold time is zero.
func (s *session) timers() (*time.Timer, *time.Ticker) {
	if s.holdTime == 0 {
		t := time.NewTimer(time.Hour)
		t.Stop()
		k := time.NewTicker(time.Hour)
		k.Stop()
		return t, k
	}
	return time.NewTimer(s.holdTime), time.NewTicker(s.keepaliveInterval)
}

// common handles what every post-connect state handles alike. It
// reports true when the session must end.
func (s *session) common(ctx context.Context, op *AdminStateOperation) (FSMStateReasonType, bool) {
	if ctx.Err() != nil {
		s.sendNotification(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_PEER_DECONFIGURED, nil)
		return FSMDeconfigured, true
	}
	if op != nil && s.fsm.changeAdminState(op.State) && op.State == AdminStateDown {
		s.sendNotification(bgp.BGP_ERROR_CEASE, bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN,
			utils.NewAdministrativeCommunication(op.Communication))
		return FSMAdminDown, true
	}
	return 0, false
}

func (s *session) recvError(m *recvMsg) (FSMStateReasonType, any) {
	if m.readError {
		s.fsm.logger.Debug("connection closed", s.fields(log.Fields{"Error": m.err}))
		return FSMReadFailed, m.err
	}
	s.fsm.logger.Warn("malformed BGP message", s.fields(log.Fields{"Error": m.err}))
	var e *bgp.MessageError
	if errors.As(m.err, &e) {
		s.sendNotification(e.TypeCode, e.SubTypeCode, e.Data())
	}
	return FSMMessageError, m.err
}

func (s *session) recvNotification(m *bgp.BGPMessage) (FSMStateReasonType, any) {
	body := m.Body.(*bgp.BGPNotification)
	fields := log.Fields{"Code": body.Code().String()}
	if body.ErrorCode == bgp.BGP_ERROR_CEASE && (body.ErrorSubcode == bgp.BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN || body.ErrorSubcode == bgp.BGP_ERROR_SUB_ADMINISTRATIVE_RESET) {
		communication, rest := utils.DecodeAdministrativeCommunication(body.Data)
		fields["Communicated-Reason"] = communication
		if len(rest) != 0 {
			fields["Data"] = rest
		}
	}
	s.fsm.logger.Warn("received notification", s.fields(fields))
	return FSMNotificationRecv, m
}

func (s *session) validateOpen(open *bgp.BGPOpen) error {
	conf := s.fsm.conf
	if as := open.AS(); as != conf.PeerAs {
		return bgp.NewMessageError(bgp.BGP_ERROR_OPEN_MESSAGE_ERROR, bgp.BGP_ERROR_SUB_BAD_PEER_AS, nil,
			fmt.Sprintf("expected %d, received %d", conf.PeerAs, as))
	}
	id := open.ID
	if !id.Is4() || id.IsUnspecified() || (conf.IsIBGP() && id == s.fsm.routerID) {
		return bgp.NewMessageError(bgp.BGP_ERROR_OPEN_MESSAGE_ERROR, bgp.BGP_ERROR_SUB_BAD_BGP_IDENTIFIER, nil,
			fmt.Sprintf("invalid bgp identifier %s", id))
	}
	in, _ := utils.Classify(conf.Families(), open.Families())
	if len(in) == 0 {
		s.fsm.logger.Warn("no common address family", s.fields(log.Fields{"Remote": open.Families()}))
	}
	return nil
}

func (s *session) negotiate(open *bgp.BGPOpen) {
	conf := s.fsm.conf
	hold := conf.Timers.HoldTimeDuration()
	if peer := time.Duration(open.HoldTime) * time.Second; peer < hold {
		hold = peer
	}
	keepalive := conf.Timers.KeepaliveIntervalDuration()
	if keepalive == 0 || hold < conf.Timers.HoldTimeDuration() {
		keepalive = hold / 3
	}
	s.holdTime = hold
	s.keepaliveInterval = keepalive
	s.fsm.peerInfo.Store(&table.PeerInfo{
		AS:      open.AS(),
		LocalAS: conf.LocalAs,
		ID:      open.ID,
		LocalID: s.fsm.routerID,
		Address: conf.Addr(),
	})
}

func (s *session) opensent(ctx context.Context) (FSMStateReasonType, any, bool) {
	// RFC 4271 P.60: a large value for the HoldTimer until OPEN arrives
	holdTimer := time.NewTimer(OpenSentHoldTime)
	defer holdTimer.Stop()
	for {
		select {
		case <-ctx.Done():
			reason, _ := s.common(ctx, nil)
			return reason, nil, false
		case op := <-s.fsm.adminStateCh:
			if reason, done := s.common(ctx, op); done {
				return reason, nil, false
			}
		case conn := <-s.fsm.connCh:
			s.fsm.closeAcceptedConn(conn)
		case reason := <-s.errorCh:
			return reason, nil, false
		case <-holdTimer.C:
			s.sendNotification(bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, 0, nil)
			return FSMHoldTimerExpired, nil, false
		case m := <-s.msgCh:
			if m.err != nil {
				reason, data := s.recvError(m)
				return reason, data, false
			}
			switch body := m.msg.Body.(type) {
			case *bgp.BGPOpen:
				if err := s.validateOpen(body); err != nil {
					e := err.(*bgp.MessageError)
					s.sendNotification(e.TypeCode, e.SubTypeCode, e.Data())
					return FSMMessageError, err, false
				}
				s.negotiate(body)
				s.send(bgp.NewBGPKeepAliveMessage())
				return FSMOpenMsgReceived, nil, true
			case *bgp.BGPNotification:
				reason, data := s.recvNotification(m.msg)
				return reason, data, false
			default:
				s.sendNotification(bgp.BGP_ERROR_FSM_ERROR, bgp.BGP_ERROR_SUB_RECEIVE_UNEXPECTED_MESSAGE_IN_OPENSENT_STATE, nil)
				return FSMUnexpectedMsg, m.msg, false
			}
		}
	}
}

func (s *session) openconfirm(ctx context.Context, holdTimer *time.Timer, keepalive *time.Ticker) (FSMStateReasonType, any, bool) {
	for {
		select {
		case <-ctx.Done():
			reason, _ := s.common(ctx, nil)
			return reason, nil, false
		case op := <-s.fsm.adminStateCh:
			if reason, done := s.common(ctx, op); done {
				return reason, nil, false
			}
		case conn := <-s.fsm.connCh:
			s.fsm.closeAcceptedConn(conn)
		case reason := <-s.errorCh:
			return reason, nil, false
		case <-holdTimer.C:
			s.sendNotification(bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, 0, nil)
			return FSMHoldTimerExpired, nil, false
		case <-keepalive.C:
			s.send(bgp.NewBGPKeepAliveMessage())
		case m := <-s.msgCh:
			if m.err != nil {
				reason, data := s.recvError(m)
				return reason, data, false
			}
			switch m.msg.Body.(type) {
			case *bgp.BGPKeepAlive:
				if s.holdTime != 0 {
					resetTimer(holdTimer, s.holdTime)
				}
				return FSMOpenMsgNegotiated, nil, true
			case *bgp.BGPNotification:
				reason, data := s.recvNotification(m.msg)
				return reason, data, false
			default:
				s.sendNotification(bgp.BGP_ERROR_FSM_ERROR, bgp.BGP_ERROR_SUB_RECEIVE_UNEXPECTED_MESSAGE_IN_OPENCONFIRM_STATE, nil)
				return FSMUnexpectedMsg, m.msg, false
			}
		}
	}
}

func (s *session) established(ctx context.Context, holdTimer *time.Timer, keepalive *time.Ticker) (FSMStateReasonType, any) {
	fsm := s.fsm
	for {
		select {
		case <-ctx.Done():
			reason, _ := s.common(ctx, nil)
			return reason, nil
		case op := <-fsm.adminStateCh:
			if reason, done := s.common(ctx, op); done {
				return reason, nil
			}
		case conn := <-fsm.connCh:
			fsm.closeAcceptedConn(conn)
		case reason := <-s.errorCh:
			return reason, nil
		case <-holdTimer.C:
			fsm.logger.Warn("hold timer expired", s.fields(log.Fields{"State": bgp.BGP_FSM_ESTABLISHED.String()}))
			s.sendNotification(bgp.BGP_ERROR_HOLD_TIMER_EXPIRED, 0, nil)
			return FSMHoldTimerExpired, nil
		case <-keepalive.C:
			s.send(bgp.NewBGPKeepAliveMessage())
		case m := <-s.msgCh:
			if m.err != nil {
				return s.recvError(m)
			}
			if s.holdTime != 0 {
				resetTimer(holdTimer, s.holdTime)
			}
			switch body := m.msg.Body.(type) {
			case *bgp.BGPUpdate:
				if e := s.handlingError(body); e != nil {
					s.sendNotification(e.TypeCode, e.SubTypeCode, e.Data())
					return FSMMessageError, e
				}
				fsm.incoming.In() <- &FSMMsg{
					Message:            m.msg,
					PeerInfo:           fsm.peerInfo.Load(),
					MarshallingOptions: fsm.marshallingOptions.Load(),
					Timestamp:          m.timestamp,
				}
			case *bgp.BGPNotification:
				return s.recvNotification(m.msg)
			case *bgp.BGPKeepAlive:
			case *bgp.BGPRouteRefresh:
				// nothing is advertised, so there is nothing to refresh
				fsm.logger.Debug("ignored route refresh", s.fields(log.Fields{"Family": bgp.NewFamily(body.AFI, body.SAFI).String()}))
			default:
				s.sendNotification(bgp.BGP_ERROR_FSM_ERROR, bgp.BGP_ERROR_SUB_RECEIVE_UNEXPECTED_MESSAGE_IN_ESTABLISHED_STATE, nil)
				return FSMUnexpectedMsg, m.msg
			}
		}
	}
}
