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

package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bmp"
	"github.com/osrg/bgpcep/pkg/packet/pcep"
)

func run(t *testing.T, args ...string) (string, error) {
	globalOpts.Json = false
	decodeOpts.AS2 = false
	cmd := newRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestParseHex(t *testing.T) {
	for _, in := range [][]string{
		{"ffff0013"},
		{"ff", "ff", "00", "13"},
		{"0xff:ff:00:13"},
		{"FF-FF-00-13"},
	} {
		b, err := parseHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, []byte{0xff, 0xff, 0x00, 0x13}, b, in)
	}
	_, err := parseHex([]string{"fff"})
	assert.Error(t, err)
	_, err = parseHex([]string{"zz"})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	c := newCodecs(log.NewTestLogger())
	defer c.Close()

	keepalive, err := c.bgp.SerializeMessage(bgp.NewBGPKeepAliveMessage(), nil)
	require.NoError(t, err)
	out, err := run(t, "decode", "bgp", hex.EncodeToString(keepalive))
	require.NoError(t, err)
	assert.Contains(t, out, "BGPKeepAlive")

	out, err = run(t, "--json", "decode", "bgp", hex.EncodeToString(keepalive))
	require.NoError(t, err)
	assert.Contains(t, out, "\"Type\": 4")

	initiation, err := c.bmp.SerializeMessage(bmp.NewBMPInitiation([]bmp.BMPTLVInterface{
		bmp.NewBMPTLVString(bmp.BMP_INIT_TLV_TYPE_SYS_NAME, "r1"),
	}), nil)
	require.NoError(t, err)
	out, err = run(t, "decode", "bmp", hex.EncodeToString(initiation))
	require.NoError(t, err)
	assert.Contains(t, out, "BMPInitiation")
	assert.Contains(t, out, "r1")

	ka, err := c.pcep.SerializeMessage(pcep.NewPCEPKeepaliveMessage())
	require.NoError(t, err)
	out, err = run(t, "decode", "pcep", hex.EncodeToString(ka))
	require.NoError(t, err)
	assert.Contains(t, out, "PCEPKeepalive")

	// truncated
	_, err = run(t, "decode", "bgp", hex.EncodeToString(keepalive[:len(keepalive)-1]))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	out, err := run(t, "registry")
	require.NoError(t, err)
	for _, name := range []string{"bgp message:", "bgp family:", "bmp message:", "pcep object:", "rsvp subobject:"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "ipv4-unicast")
	assert.Contains(t, out, "l2vpn-evpn")

	c := newCodecs(log.NewTestLogger())
	defer c.Close()
	lines := c.registries()
	require.NotEmpty(t, lines)
	assert.Equal(t, "bgp message", lines[0].Name)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, lines[0].Codes)
}
