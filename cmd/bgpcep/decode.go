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
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
	"github.com/osrg/bgpcep/pkg/packet/bgp/extensions"
	"github.com/osrg/bgpcep/pkg/packet/bmp"
	"github.com/osrg/bgpcep/pkg/packet/pcep"
	"github.com/osrg/bgpcep/pkg/packet/registry"
	"github.com/osrg/bgpcep/pkg/packet/rsvp"
)

// codecs holds one context per protocol with every extension active.
type codecs struct {
	bgp  *bgp.ExtensionContext
	bmp  *bmp.ExtensionContext
	pcep *pcep.ExtensionContext
	regs registry.Registrations
}

func newCodecs(logger log.Logger) *codecs {
	c := &codecs{}
	c.bgp, c.regs = extensions.NewContext(logger)
	c.bmp = bmp.NewExtensionContext(logger, c.bgp)
	c.regs = append(c.regs, c.bmp.Activate(bmp.BaseActivator{})...)
	r := rsvp.NewExtensionContext(logger)
	c.regs = append(c.regs, r.Activate(rsvp.BaseActivator{})...)
	c.pcep = pcep.NewExtensionContext(logger, r)
	c.regs = append(c.regs, c.pcep.Activate(pcep.BaseActivator{}, pcep.SegmentRoutingActivator{})...)
	return c
}

func (c *codecs) Close() {
	c.regs.Close()
}

// parseHex accepts "ffff 0013", "ff:ff:00:13" and a leading 0x.
func parseHex(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', ':', '-':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex input")
	}
	return b, nil
}

var decodeOpts struct {
	AS2 bool
}

func newDecodeSubCmd(use, short string, decode func(c *codecs, b []byte) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <hex>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseHex(args)
			if err != nil {
				return err
			}
			c := newCodecs(newLogger())
			defer c.Close()
			m, err := decode(c, b)
			if err != nil {
				return errors.Wrapf(err, "failed to decode %s message", use)
			}
			return output(cmd.OutOrStdout(), m)
		},
	}
}

func newDecodeCmd() *cobra.Command {
	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "decode a message given in hex",
	}

	bgpCmd := newDecodeSubCmd("bgp", "decode a BGP message, marker included", func(c *codecs, b []byte) (any, error) {
		var opts *bgp.MarshallingOption
		if decodeOpts.AS2 {
			opts = &bgp.MarshallingOption{AS2: true}
		}
		return c.bgp.ParseMessage(b, opts)
	})
	bgpCmd.Flags().BoolVarP(&decodeOpts.AS2, "as2", "", false, "decode AS_PATH with 2 octet AS numbers")

	bmpCmd := newDecodeSubCmd("bmp", "decode a BMP message", func(c *codecs, b []byte) (any, error) {
		return c.bmp.ParseMessage(b, nil)
	})
	pcepCmd := newDecodeSubCmd("pcep", "decode a PCEP message", func(c *codecs, b []byte) (any, error) {
		return c.pcep.ParseMessage(b)
	})

	decodeCmd.AddCommand(bgpCmd, bmpCmd, pcepCmd)
	return decodeCmd
}
