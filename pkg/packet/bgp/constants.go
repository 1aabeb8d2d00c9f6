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

import "fmt"

const (
	AFI_IP    = 1
	AFI_IP6   = 2
	AFI_L2VPN = 25
)

const (
	SAFI_UNICAST                  = 1
	SAFI_MULTICAST                = 2
	SAFI_MPLS_LABEL               = 4
	SAFI_EVPN                     = 70
	SAFI_MPLS_VPN                 = 128
	SAFI_ROUTE_TARGET_CONSTRAINTS = 132
	SAFI_FLOW_SPEC_UNICAST        = 133
)

// Family packs an AFI and a SAFI as afi<<16 | safi.
type Family uint32

func NewFamily(afi uint16, safi uint8) Family {
	return Family(uint32(afi)<<16 | uint32(safi))
}

func (f Family) Afi() uint16 {
	return uint16(f >> 16)
}

func (f Family) Safi() uint8 {
	return uint8(f)
}

const (
	RF_IPv4_UC    Family = AFI_IP<<16 | SAFI_UNICAST
	RF_IPv6_UC    Family = AFI_IP6<<16 | SAFI_UNICAST
	RF_IPv4_MPLS  Family = AFI_IP<<16 | SAFI_MPLS_LABEL
	RF_IPv6_MPLS  Family = AFI_IP6<<16 | SAFI_MPLS_LABEL
	RF_IPv4_VPN   Family = AFI_IP<<16 | SAFI_MPLS_VPN
	RF_IPv6_VPN   Family = AFI_IP6<<16 | SAFI_MPLS_VPN
	RF_RTC_UC     Family = AFI_IP<<16 | SAFI_ROUTE_TARGET_CONSTRAINTS
	RF_EVPN       Family = AFI_L2VPN<<16 | SAFI_EVPN
	RF_FS_IPv4_UC Family = AFI_IP<<16 | SAFI_FLOW_SPEC_UNICAST
	RF_FS_IPv6_UC Family = AFI_IP6<<16 | SAFI_FLOW_SPEC_UNICAST
)

var familyNames = map[Family]string{
	RF_IPv4_UC:    "ipv4-unicast",
	RF_IPv6_UC:    "ipv6-unicast",
	RF_IPv4_MPLS:  "ipv4-labelled-unicast",
	RF_IPv6_MPLS:  "ipv6-labelled-unicast",
	RF_IPv4_VPN:   "l3vpn-ipv4-unicast",
	RF_IPv6_VPN:   "l3vpn-ipv6-unicast",
	RF_RTC_UC:     "rtc",
	RF_EVPN:       "l2vpn-evpn",
	RF_FS_IPv4_UC: "ipv4-flowspec",
	RF_FS_IPv6_UC: "ipv6-flowspec",
}

func (f Family) String() string {
	if n, ok := familyNames[f]; ok {
		return n
	}
	return fmt.Sprintf("afi(%d)-safi(%d)", f.Afi(), f.Safi())
}

// FamilyFromString is the inverse of Family.String.
func FamilyFromString(s string) (Family, error) {
	for f, n := range familyNames {
		if n == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown address family %q", s)
}

const (
	_ = iota
	BGP_MSG_OPEN
	BGP_MSG_UPDATE
	BGP_MSG_NOTIFICATION
	BGP_MSG_KEEPALIVE
	BGP_MSG_ROUTE_REFRESH
)

const (
	BGP_HEADER_LENGTH               = 19
	BGP_MAX_MESSAGE_LENGTH          = 4096
	BGP_MAX_EXTENDED_MESSAGE_LENGTH = 65535
	BGP_VERSION                     = 4
	AS_TRANS                        = 23456
)

const (
	BGP_ORIGIN_ATTR_TYPE_IGP        uint8 = 0
	BGP_ORIGIN_ATTR_TYPE_EGP        uint8 = 1
	BGP_ORIGIN_ATTR_TYPE_INCOMPLETE uint8 = 2
)

const (
	BGP_ASPATH_ATTR_TYPE_SET        uint8 = 1
	BGP_ASPATH_ATTR_TYPE_SEQ        uint8 = 2
	BGP_ASPATH_ATTR_TYPE_CONFED_SEQ uint8 = 3
	BGP_ASPATH_ATTR_TYPE_CONFED_SET uint8 = 4
)

// well-known communities
const (
	COMMUNITY_INTERNET            uint32 = 0x00000000
	COMMUNITY_LLGR_STALE          uint32 = 0xFFFF0006
	COMMUNITY_NO_LLGR             uint32 = 0xFFFF0007
	COMMUNITY_NO_EXPORT           uint32 = 0xFFFFFF01
	COMMUNITY_NO_ADVERTISE        uint32 = 0xFFFFFF02
	COMMUNITY_NO_EXPORT_SUBCONFED uint32 = 0xFFFFFF03
)

type BGPAddPathMode uint8

const (
	BGP_ADD_PATH_NONE BGPAddPathMode = iota
	BGP_ADD_PATH_RECEIVE
	BGP_ADD_PATH_SEND
	BGP_ADD_PATH_BOTH
)

func (m BGPAddPathMode) String() string {
	switch m {
	case BGP_ADD_PATH_NONE:
		return "none"
	case BGP_ADD_PATH_RECEIVE:
		return "receive"
	case BGP_ADD_PATH_SEND:
		return "send"
	case BGP_ADD_PATH_BOTH:
		return "receive/send"
	}
	return fmt.Sprintf("unknown(%d)", uint8(m))
}

// MarshallingOption carries what was negotiated on a session and changes
// the wire encoding. A nil option means no add-path, four octet AS and
// standard message size.
type MarshallingOption struct {
	AddPath         map[Family]BGPAddPathMode
	AS2             bool
	ExtendedMessage bool
}

func (o *MarshallingOption) addPathRecv(f Family) bool {
	if o == nil || o.AddPath == nil {
		return false
	}
	return o.AddPath[f]&BGP_ADD_PATH_RECEIVE != 0
}

func (o *MarshallingOption) addPathSend(f Family) bool {
	if o == nil || o.AddPath == nil {
		return false
	}
	return o.AddPath[f]&BGP_ADD_PATH_SEND != 0
}

func (o *MarshallingOption) as2() bool {
	return o != nil && o.AS2
}

func (o *MarshallingOption) maxMessageLength() int {
	if o != nil && o.ExtendedMessage {
		return BGP_MAX_EXTENDED_MESSAGE_LENGTH
	}
	return BGP_MAX_MESSAGE_LENGTH
}

const BGP_PORT = 179

type FSMState int

const (
	BGP_FSM_IDLE FSMState = iota
	BGP_FSM_CONNECT
	BGP_FSM_ACTIVE
	BGP_FSM_OPENSENT
	BGP_FSM_OPENCONFIRM
	BGP_FSM_ESTABLISHED
)

func (s FSMState) String() string {
	switch s {
	case BGP_FSM_IDLE:
		return "idle"
	case BGP_FSM_CONNECT:
		return "connect"
	case BGP_FSM_ACTIVE:
		return "active"
	case BGP_FSM_OPENSENT:
		return "opensent"
	case BGP_FSM_OPENCONFIRM:
		return "openconfirm"
	case BGP_FSM_ESTABLISHED:
		return "established"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}
