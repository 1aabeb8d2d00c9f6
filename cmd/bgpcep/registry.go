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
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osrg/bgpcep/pkg/packet/registry"
)

// registryLine is one registry and the codes it has a parser for.
type registryLine struct {
	Name  string
	Codes []string
}

func lineOf[K comparable, C, T any](r *registry.Registry[K, C, T]) registryLine {
	codes := r.Codes()
	l := registryLine{Name: r.Name(), Codes: make([]string, 0, len(codes))}
	for _, k := range codes {
		l.Codes = append(l.Codes, fmt.Sprint(k))
	}
	// shorter first keeps plain numbers in numeric order
	sort.Slice(l.Codes, func(i, j int) bool {
		a, b := l.Codes[i], l.Codes[j]
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return l
}

func (c *codecs) registries() []registryLine {
	families := registryLine{Name: "bgp family"}
	for _, f := range c.bgp.Families() {
		families.Codes = append(families.Codes, f.String())
	}
	return []registryLine{
		lineOf(c.bgp.Messages()),
		lineOf(c.bgp.Capabilities()),
		lineOf(c.bgp.Attributes()),
		families,
		lineOf(c.bgp.ExtendedCommunities()),
		lineOf(c.bmp.Messages()),
		lineOf(c.bmp.Statistics()),
		lineOf(c.pcep.Messages()),
		lineOf(c.pcep.Objects()),
		lineOf(c.pcep.TLVs()),
		lineOf(c.pcep.RSVP().Subobjects()),
		lineOf(c.pcep.RSVP().Labels()),
	}
}

func printRegistries(w io.Writer, lines []registryLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "%-24s %s\n", l.Name+":", strings.Join(l.Codes, " "))
	}
}

func newRegistryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "list the registered message, object and attribute codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newCodecs(newLogger())
			defer c.Close()
			lines := c.registries()
			if globalOpts.Json {
				return output(cmd.OutOrStdout(), lines)
			}
			printRegistries(cmd.OutOrStdout(), lines)
			return nil
		},
	}
}
