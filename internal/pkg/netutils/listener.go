// Copyright (C) 2016-2024 Nippon Telegraph and Telephone Corporation.
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

package netutils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/osrg/bgpcep/pkg/log"
)

// TCPConn removes itself from its listener's table when closed.
type TCPConn struct {
	*net.TCPConn
	cb func(*TCPConn)
}

func (c *TCPConn) Close() error {
	if c.cb != nil {
		c.cb(c)
	}
	return c.TCPConn.Close()
}

func (c *TCPConn) Key() string {
	if c == nil || c.TCPConn == nil {
		return ""
	}
	addr := c.RemoteAddr()
	if addr == nil {
		return ""
	}
	return addr.String()
}

var (
	_ net.Conn     = (*TCPConn)(nil)
	_ syscall.Conn = (*TCPConn)(nil)
)

// TCPListener accepts sessions and hands them to connCh. It remembers
// the accepted connections so that Close can tear them down.
type TCPListener struct {
	ctx          context.Context
	cancel       context.CancelFunc
	l            *net.TCPListener
	connCh       chan<- net.Conn
	acceptedConn cmap.ConcurrentMap[string, *TCPConn] // key is RemoteAddr().String()
	md5Keys      cmap.ConcurrentMap[string, string]
	stopWg       sync.WaitGroup
	logger       log.Logger
}

func listenControl(logger log.Logger, bindToDev string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		host, _, _ := net.SplitHostPort(address)
		if bindToDev != "" {
			if err := SetBindToDevSockopt(c, bindToDev); err != nil {
				logger.Warn("failed to bind listener to device",
					log.Fields{
						"Topic":     "Peer",
						"Key":       address,
						"BindToDev": bindToDev,
						"Error":     err,
					})
				return err
			}
		}
		// accept peers that use TTL security
		if err := setListenerTTL(c, extractFamilyFromAddress(host)); err != nil {
			logger.Warn("cannot set TTL (255) for TCPListener",
				log.Fields{
					"Topic": "Peer",
					"Key":   address,
					"Error": err,
				})
		}
		return nil
	}
}

func (l *TCPListener) closeConnCb(c *TCPConn) {
	if key := c.Key(); key != "" {
		l.acceptedConn.Remove(key)
	}
}

func (l *TCPListener) acceptLoop() {
	defer l.stopWg.Done()
	for {
		conn, err := l.l.AcceptTCP()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Warn("failed to accept",
					log.Fields{
						"Topic": "Peer",
						"Key":   l.l.Addr().String(),
						"Error": err,
					})
			}
			return
		}
		c := &TCPConn{TCPConn: conn, cb: l.closeConnCb}
		key := c.Key()
		if err := conn.SetKeepAlive(false); err != nil {
			l.logger.Warn("failed to disable keepalive",
				log.Fields{
					"Topic": "Peer",
					"Key":   key,
					"Error": err,
				})
			conn.Close()
			continue
		}
		l.acceptedConn.Set(key, c)
		select {
		case l.connCh <- c:
		case <-l.ctx.Done():
			c.Close()
			return
		}
	}
}

// NewTCPListener listens on address:port. IPv4 and IPv6 listeners are
// kept apart so that IPv4 peers never show up as mapped addresses.
func NewTCPListener(logger log.Logger, address string, port uint32, bindToDev string, connCh chan<- net.Conn) (*TCPListener, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	lc := net.ListenConfig{Control: listenControl(logger, bindToDev)}
	addr := net.JoinHostPort(address, strconv.Itoa(int(port)))
	listener, err := lc.Listen(context.Background(), extractProtoFromAddress(address), addr)
	if err != nil {
		return nil, err
	}
	tl, ok := listener.(*net.TCPListener)
	if !ok {
		listener.Close()
		return nil, fmt.Errorf("unexpected listener type %T", listener)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &TCPListener{
		ctx:          ctx,
		cancel:       cancel,
		l:            tl,
		connCh:       connCh,
		acceptedConn: cmap.New[*TCPConn](),
		md5Keys:      cmap.New[string](),
		logger:       logger,
	}
	l.stopWg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// SetPeerPassword installs the TCP-MD5 key for address; an empty
// password removes a key installed earlier.
func (l *TCPListener) SetPeerPassword(address, password string) error {
	if password == "" {
		if _, ok := l.md5Keys.Get(address); !ok {
			return nil
		}
	}
	if err := SetTCPMD5SigSockopt(l.l, address, password); err != nil {
		return err
	}
	if password == "" {
		l.md5Keys.Remove(address)
	} else {
		l.md5Keys.Set(address, password)
	}
	return nil
}

func (l *TCPListener) Close() {
	l.cancel()
	_ = l.l.Close()
	l.stopWg.Wait()
	for t := range l.acceptedConn.IterBuffered() {
		_ = t.Val.TCPConn.Close()
	}
	l.acceptedConn.Clear()
}

func (l *TCPListener) Addr() net.Addr {
	if l.l == nil {
		return nil
	}
	return l.l.Addr()
}

// Accepted is the number of accepted connections not yet closed.
func (l *TCPListener) Accepted() int {
	return l.acceptedConn.Count()
}

// DialOptions are the socket options of an outgoing session.
type DialOptions struct {
	LocalAddress  string
	Password      string
	TTL           uint8
	MinTTL        uint8
	BindInterface string
	Timeout       time.Duration
}

// DialTCP connects to address:port with the options applied before the
// SYN is sent.
func DialTCP(ctx context.Context, address string, port uint16, o DialOptions) (net.Conn, error) {
	d := net.Dialer{
		Timeout: o.Timeout,
		Control: func(network, addr string, c syscall.RawConn) error {
			return dialerControl(&o, addr, c)
		},
	}
	if o.LocalAddress != "" {
		laddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(o.LocalAddress, "0"))
		if err != nil {
			return nil, err
		}
		d.LocalAddr = laddr
	}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(int(port))))
}
