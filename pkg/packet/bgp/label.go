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

package bgp

import (
	"fmt"
	"strings"

	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// WITHDRAW_LABEL is the RFC 8277 compatibility value for withdrawals.
const WITHDRAW_LABEL = uint32(0x800000)

type MPLSLabelStack struct {
	Labels []uint32
}

func NewMPLSLabelStack(labels ...uint32) *MPLSLabelStack {
	return &MPLSLabelStack{Labels: labels}
}

// ReadMPLSLabelStack reads 3 byte labels until the bottom of stack bit or
// the withdraw label.
func ReadMPLSLabelStack(r *wire.Reader) (*MPLSLabelStack, error) {
	labels := []uint32{}
	for {
		b, err := r.Uint24()
		if err != nil {
			return nil, err
		}
		labels = append(labels, b>>4)
		if b&1 == 1 || b == WITHDRAW_LABEL {
			break
		}
	}
	return &MPLSLabelStack{Labels: labels}, nil
}

func (l *MPLSLabelStack) Put(w *wire.Writer) {
	if len(l.Labels) == 1 && l.Labels[0]<<4 == WITHDRAW_LABEL {
		w.PutUint24(WITHDRAW_LABEL)
		return
	}
	for i, label := range l.Labels {
		v := label << 4
		if i == len(l.Labels)-1 {
			v |= 1
		}
		w.PutUint24(v)
	}
}

func (l *MPLSLabelStack) Len() int {
	return 3 * len(l.Labels)
}

func (l *MPLSLabelStack) String() string {
	if len(l.Labels) == 0 {
		return ""
	}
	s := make([]string, 0, len(l.Labels))
	for _, label := range l.Labels {
		s = append(s, fmt.Sprintf("%d", label))
	}
	return strings.Join(s, "/")
}
