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
	"net"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/log"
)

func TestListenerAcceptAndClose(t *testing.T) {
	connCh := make(chan net.Conn, 1)
	l, err := NewTCPListener(log.NewTestLogger(), "127.0.0.1", 0, "", connCh)
	require.NoError(t, err)

	host, port := HostPort(l.Addr())
	assert.Equal(t, "127.0.0.1", host)
	require.NotZero(t, port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := DialTCP(ctx, host, port, DialOptions{Timeout: time.Second})
	require.NoError(t, err)
	defer client.Close()

	var server net.Conn
	select {
	case server = <-connCh:
	case <-ctx.Done():
		t.Fatal("no connection accepted")
	}
	assert.Equal(t, client.LocalAddr().String(), server.RemoteAddr().String())
	assert.Equal(t, 1, l.Accepted())

	require.NoError(t, server.Close())
	assert.Equal(t, 0, l.Accepted())

	l.Close()
	_, err = DialTCP(ctx, host, port, DialOptions{Timeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestAddrHelpers(t *testing.T) {
	ap, ok := AddrPort(&net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 179})
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.1:179"), ap)
	assert.True(t, ap.Addr().Is4())

	_, ok = AddrPort(nil)
	assert.False(t, ok)
	host, port := HostPort(nil)
	assert.Empty(t, host)
	assert.Zero(t, port)

	assert.Equal(t, "tcp6", extractProtoFromAddress("2001:db8::1"))
	assert.Equal(t, "tcp4", extractProtoFromAddress("0.0.0.0"))
	assert.Equal(t, syscall.AF_INET6, extractFamilyFromAddress("::"))
}
