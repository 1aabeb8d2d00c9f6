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

//go:build !linux

package netutils

import (
	"errors"
	"net"
	"syscall"
)

var errNotSupported = errors.New("socket option not supported on this platform")

func SetTCPMD5SigSockopt(l *net.TCPListener, address string, key string) error {
	if key == "" {
		return nil
	}
	return errNotSupported
}

func SetBindToDevSockopt(sc syscall.RawConn, device string) error {
	return errNotSupported
}

func SetTCPTTLSockopt(conn net.Conn, ttl int) error {
	return errNotSupported
}

func SetTCPMinTTLSockopt(conn net.Conn, ttl int) error {
	return errNotSupported
}

func setListenerTTL(sc syscall.RawConn, family int) error {
	return nil
}

func dialerControl(o *DialOptions, address string, c syscall.RawConn) error {
	if o.Password != "" || o.MinTTL != 0 || o.BindInterface != "" {
		return errNotSupported
	}
	return nil
}
