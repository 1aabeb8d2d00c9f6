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
	"net"
	"net/netip"
	"syscall"
)

func extractFamilyFromAddress(address string) int {
	if a, err := netip.ParseAddr(address); err == nil && a.Unmap().Is6() {
		return syscall.AF_INET6
	}
	return syscall.AF_INET
}

func extractFamilyFromConn(conn net.Conn) int {
	if a, ok := AddrPort(conn.RemoteAddr()); ok && a.Addr().Unmap().Is6() {
		return syscall.AF_INET6
	}
	return syscall.AF_INET
}

// extractProtoFromAddress picks tcp4 or tcp6 so that IPv4 listeners never
// see mapped addresses.
func extractProtoFromAddress(address string) string {
	if extractFamilyFromAddress(address) == syscall.AF_INET6 {
		return "tcp6"
	}
	return "tcp4"
}

// AddrPort converts a TCP address into a netip.AddrPort with IPv4 mapped
// addresses unmapped.
func AddrPort(addr net.Addr) (netip.AddrPort, bool) {
	if addr == nil {
		return netip.AddrPort{}, false
	}
	if t, ok := addr.(*net.TCPAddr); ok {
		ap := t.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}

// HostPort splits addr into host and port, or returns "" and 0.
func HostPort(addr net.Addr) (string, uint16) {
	ap, ok := AddrPort(addr)
	if !ok {
		return "", 0
	}
	return ap.Addr().String(), ap.Port()
}
