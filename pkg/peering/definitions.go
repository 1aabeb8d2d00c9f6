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

package peering

import (
	"fmt"
	"time"

	"github.com/osrg/bgpcep/internal/pkg/table"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

var (
	MinConnectRetryInterval = time.Second
	OpenSentHoldTime        = time.Second * 240
	// NotificationFlushTimeout bounds the final write of a session.
	NotificationFlushTimeout = time.Second * 5
)

type FSMStateReasonType uint8

const (
	FSMDying FSMStateReasonType = iota
	FSMAdminDown
	FSMConnectFailed
	FSMReadFailed
	FSMWriteFailed
	FSMNotificationSent
	FSMNotificationRecv
	FSMHoldTimerExpired
	FSMIdleTimerExpired
	FSMUnexpectedMsg
	FSMNewConnection
	FSMMessageError
	FSMOpenMsgReceived
	FSMOpenMsgNegotiated
	FSMDeconfigured
)

var fsmStateReasonNames = map[FSMStateReasonType]string{
	FSMDying:             "dying",
	FSMAdminDown:         "admin-down",
	FSMConnectFailed:     "connect-failed",
	FSMReadFailed:        "read-failed",
	FSMWriteFailed:       "write-failed",
	FSMNotificationSent:  "notification-sent",
	FSMNotificationRecv:  "notification-received",
	FSMHoldTimerExpired:  "hold-timer-expired",
	FSMIdleTimerExpired:  "idle-hold-timer-expired",
	FSMUnexpectedMsg:     "unexpected-message",
	FSMNewConnection:     "new-connection",
	FSMMessageError:      "message-error",
	FSMOpenMsgReceived:   "open-msg-received",
	FSMOpenMsgNegotiated: "open-msg-negotiated",
	FSMDeconfigured:      "deconfigured",
}

func (r FSMStateReasonType) String() string {
	if s, ok := fsmStateReasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

type FSMStateTransition struct {
	OldState bgp.FSMState
	NewState bgp.FSMState
	Reason   FSMStateReasonType
	// Data is the NOTIFICATION or error behind the transition, if any.
	Data any
	// PeerInfo is the session that went up or down.
	PeerInfo *table.PeerInfo
}

// FSMMsg is an UPDATE received in Established, with what is needed to
// interpret it.
type FSMMsg struct {
	Message            *bgp.BGPMessage
	PeerInfo           *table.PeerInfo
	MarshallingOptions *bgp.MarshallingOption
	Timestamp          time.Time
}

type AdminState int

const (
	AdminStateUp AdminState = iota
	AdminStateDown
)

func (s AdminState) String() string {
	switch s {
	case AdminStateUp:
		return "admin-up"
	case AdminStateDown:
		return "admin-down"
	default:
		return "unknown"
	}
}

type AdminStateOperation struct {
	State         AdminState
	Communication string
}

type (
	FSMBGPCallback        func(*FSMMsg)
	FSMTransitionCallback func(*FSMStateTransition)
)

// MessageCounters counts messages by type in one direction.
type MessageCounters struct {
	Open         uint64
	Update       uint64
	Notification uint64
	Keepalive    uint64
	Refresh      uint64
	Discarded    uint64
	Total        uint64
}
