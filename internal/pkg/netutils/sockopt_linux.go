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

//go:build linux

package netutils

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	ipv6MinHopCount = 73 // Generalized TTL Security Mechanism (RFC5082)
)

func setSockOptInt(sc syscall.RawConn, level, name, value int) error {
	var opterr error
	err := sc.Control(func(fd uintptr) {
		opterr = os.NewSyscallError("setsockopt", unix.SetsockoptInt(int(fd), level, name, value))
	})
	if err != nil {
		return err
	}
	return opterr
}

func setSockOptIpTtl(sc syscall.RawConn, family int, value int) error {
	level, name := unix.IPPROTO_IP, unix.IP_TTL
	if family == syscall.AF_INET6 {
		level, name = unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS
	}
	return setSockOptInt(sc, level, name, value)
}

func setSockOptMinTtl(sc syscall.RawConn, family int, value int) error {
	level, name := unix.IPPROTO_IP, unix.IP_MINTTL
	if family == syscall.AF_INET6 {
		level, name = unix.IPPROTO_IPV6, ipv6MinHopCount
	}
	return setSockOptInt(sc, level, name, value)
}

// buildTCPMD5Sig accepts a host address or a prefix; the latter needs the
// extended option.
func buildTCPMD5Sig(address, key string) (*unix.TCPMD5Sig, int, error) {
	if len(key) > unix.TCP_MD5SIG_MAXKEYLEN {
		return nil, 0, fmt.Errorf("md5 key longer than %d bytes", unix.TCP_MD5SIG_MAXKEYLEN)
	}
	t := &unix.TCPMD5Sig{}
	opt := unix.TCP_MD5SIG
	var addr netip.Addr
	if p, err := netip.ParsePrefix(address); err == nil {
		addr = p.Addr()
		t.Prefixlen = uint8(p.Bits())
		t.Flags = unix.TCP_MD5SIG_FLAG_PREFIX
		opt = unix.TCP_MD5SIG_EXT
	} else if a, err := netip.ParseAddr(address); err == nil {
		addr = a
	} else {
		return nil, 0, fmt.Errorf("unable to generate TCPMD5Sig from %s", address)
	}
	addr = addr.Unmap()
	if addr.Is4() {
		t.Addr.Family = unix.AF_INET
		b := addr.As4()
		copy(t.Addr.Data[2:], b[:])
	} else {
		t.Addr.Family = unix.AF_INET6
		b := addr.As16()
		copy(t.Addr.Data[6:], b[:])
	}
	t.Keylen = uint16(len(key))
	copy(t.Key[:], key)
	return t, opt, nil
}

func setTCPMD5Sig(sc syscall.RawConn, address, key string) error {
	t, opt, err := buildTCPMD5Sig(address, key)
	if err != nil {
		return err
	}
	var sockerr error
	if err := sc.Control(func(fd uintptr) {
		sockerr = os.NewSyscallError("setsockopt", unix.SetsockoptTCPMD5Sig(int(fd), unix.IPPROTO_TCP, opt, t))
	}); err != nil {
		return err
	}
	return sockerr
}

// SetTCPMD5SigSockopt installs key for connections from address on l. An
// empty key removes it.
func SetTCPMD5SigSockopt(l *net.TCPListener, address string, key string) error {
	sc, err := l.SyscallConn()
	if err != nil {
		return err
	}
	return setTCPMD5Sig(sc, address, key)
}

func SetBindToDevSockopt(sc syscall.RawConn, device string) error {
	var opterr error
	err := sc.Control(func(fd uintptr) {
		opterr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
	})
	if err != nil {
		return err
	}
	return opterr
}

func SetTCPTTLSockopt(conn net.Conn, ttl int) error {
	sc, err := conn.(syscall.Conn).SyscallConn()
	if err != nil {
		return err
	}
	return setSockOptIpTtl(sc, extractFamilyFromConn(conn), ttl)
}

func SetTCPMinTTLSockopt(conn net.Conn, ttl int) error {
	sc, err := conn.(syscall.Conn).SyscallConn()
	if err != nil {
		return err
	}
	return setSockOptMinTtl(sc, extractFamilyFromConn(conn), ttl)
}

func setListenerTTL(sc syscall.RawConn, family int) error {
	return setSockOptIpTtl(sc, family, 255)
}

func dialerControl(o *DialOptions, address string, c syscall.RawConn) error {
	family := extractFamilyFromAddress(address)
	if host, _, err := net.SplitHostPort(address); err == nil {
		family = extractFamilyFromAddress(host)
		if o.Password != "" {
			if err := setTCPMD5Sig(c, host, o.Password); err != nil {
				return err
			}
		}
	}
	if o.TTL != 0 {
		if err := setSockOptIpTtl(c, family, int(o.TTL)); err != nil {
			return err
		}
	}
	if o.MinTTL != 0 {
		if err := setSockOptMinTtl(c, family, int(o.MinTTL)); err != nil {
			return err
		}
	}
	if o.BindInterface != "" {
		return SetBindToDevSockopt(c, o.BindInterface)
	}
	return nil
}
