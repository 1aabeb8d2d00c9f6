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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBuildTCPMD5Sig(t *testing.T) {
	sig, opt, err := buildTCPMD5Sig("192.0.2.1", "secret")
	require.NoError(t, err)
	assert.Equal(t, unix.TCP_MD5SIG, opt)
	assert.Equal(t, uint16(unix.AF_INET), sig.Addr.Family)
	assert.Equal(t, []byte{192, 0, 2, 1}, sig.Addr.Data[2:6])
	assert.Equal(t, uint16(6), sig.Keylen)

	sig, opt, err = buildTCPMD5Sig("2001:db8::/32", "secret")
	require.NoError(t, err)
	assert.Equal(t, unix.TCP_MD5SIG_EXT, opt)
	assert.Equal(t, uint8(32), sig.Prefixlen)
	assert.Equal(t, uint16(unix.AF_INET6), sig.Addr.Family)

	_, _, err = buildTCPMD5Sig("not-an-address", "secret")
	assert.Error(t, err)
}
