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

// NOTIFICATION Error Code  RFC 4271 4.5.
const (
	_ = iota
	BGP_ERROR_MESSAGE_HEADER_ERROR
	BGP_ERROR_OPEN_MESSAGE_ERROR
	BGP_ERROR_UPDATE_MESSAGE_ERROR
	BGP_ERROR_HOLD_TIMER_EXPIRED
	BGP_ERROR_FSM_ERROR
	BGP_ERROR_CEASE
	BGP_ERROR_ROUTE_REFRESH_MESSAGE_ERROR
)

// NOTIFICATION Error Subcode for BGP_ERROR_MESSAGE_HEADER_ERROR
const (
	_ = iota
	BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED
	BGP_ERROR_SUB_BAD_MESSAGE_LENGTH
	BGP_ERROR_SUB_BAD_MESSAGE_TYPE
)

// NOTIFICATION Error Subcode for BGP_ERROR_OPEN_MESSAGE_ERROR
const (
	_ = iota
	BGP_ERROR_SUB_UNSUPPORTED_VERSION_NUMBER
	BGP_ERROR_SUB_BAD_PEER_AS
	BGP_ERROR_SUB_BAD_BGP_IDENTIFIER
	BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER
	BGP_ERROR_SUB_DEPRECATED_AUTHENTICATION_FAILURE
	BGP_ERROR_SUB_UNACCEPTABLE_HOLD_TIME
	BGP_ERROR_SUB_UNSUPPORTED_CAPABILITY
)

// NOTIFICATION Error Subcode for BGP_ERROR_UPDATE_MESSAGE_ERROR
const (
	_ = iota
	BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST
	BGP_ERROR_SUB_UNRECOGNIZED_WELL_KNOWN_ATTRIBUTE
	BGP_ERROR_SUB_MISSING_WELL_KNOWN_ATTRIBUTE
	BGP_ERROR_SUB_ATTRIBUTE_FLAGS_ERROR
	BGP_ERROR_SUB_ATTRIBUTE_LENGTH_ERROR
	BGP_ERROR_SUB_INVALID_ORIGIN_ATTRIBUTE
	BGP_ERROR_SUB_ROUTING_LOOP
	BGP_ERROR_SUB_INVALID_NEXT_HOP_ATTRIBUTE
	BGP_ERROR_SUB_OPTIONAL_ATTRIBUTE_ERROR
	BGP_ERROR_SUB_INVALID_NETWORK_FIELD
	BGP_ERROR_SUB_MALFORMED_AS_PATH
)

// NOTIFICATION Error Subcode for BGP_ERROR_HOLD_TIMER_EXPIRED
const (
	_ = iota
	BGP_ERROR_SUB_HOLD_TIMER_EXPIRED
)

// NOTIFICATION Error Subcode for BGP_ERROR_FSM_ERROR
const (
	_ = iota
	BGP_ERROR_SUB_RECEIVE_UNEXPECTED_MESSAGE_IN_OPENSENT_STATE
	BGP_ERROR_SUB_RECEIVE_UNEXPECTED_MESSAGE_IN_OPENCONFIRM_STATE
	BGP_ERROR_SUB_RECEIVE_UNEXPECTED_MESSAGE_IN_ESTABLISHED_STATE
)

// NOTIFICATION Error Subcode for BGP_ERROR_CEASE  (RFC 4486)
const (
	_ = iota
	BGP_ERROR_SUB_MAXIMUM_NUMBER_OF_PREFIXES_REACHED
	BGP_ERROR_SUB_ADMINISTRATIVE_SHUTDOWN
	BGP_ERROR_SUB_PEER_DECONFIGURED
	BGP_ERROR_SUB_ADMINISTRATIVE_RESET
	BGP_ERROR_SUB_CONNECTION_REJECTED
	BGP_ERROR_SUB_OTHER_CONFIGURATION_CHANGE
	BGP_ERROR_SUB_CONNECTION_COLLISION_RESOLUTION
	BGP_ERROR_SUB_OUT_OF_RESOURCES
	BGP_ERROR_SUB_HARD_RESET
)

// NOTIFICATION Error Subcode for BGP_ERROR_ROUTE_REFRESH_MESSAGE_ERROR
const (
	_ = iota
	BGP_ERROR_SUB_INVALID_MESSAGE_LENGTH
)

type NotificationErrorCode uint16

func (c NotificationErrorCode) String() string {
	code := uint8(uint16(c) >> 8)
	subcode := uint8(uint16(c) & 0xff)
	unknown := fmt.Sprintf("unknown(%d)", subcode)
	switch code {
	case BGP_ERROR_MESSAGE_HEADER_ERROR:
		return "header/" + pick(subcode, unknown, "", "connection not synchronized", "bad message length", "bad message type")
	case BGP_ERROR_OPEN_MESSAGE_ERROR:
		return "open/" + pick(subcode, unknown, "", "unsupported version number", "bad peer as", "bad bgp identifier",
			"unsupported optional parameter", "deprecated authentication failure", "unacceptable hold time", "unsupported capability")
	case BGP_ERROR_UPDATE_MESSAGE_ERROR:
		return "update/" + pick(subcode, unknown, "", "malformed attribute list", "unrecognized well known attribute",
			"missing well known attribute", "attribute flags error", "attribute length error", "invalid origin attribute",
			"routing loop", "invalid next hop attribute", "optional attribute error", "invalid network field", "malformed as_path")
	case BGP_ERROR_HOLD_TIMER_EXPIRED:
		return "hold timer expired"
	case BGP_ERROR_FSM_ERROR:
		return "fsm"
	case BGP_ERROR_CEASE:
		return "cease/" + pick(subcode, unknown, "", "maximum number of prefixes reached", "administrative shutdown",
			"peer deconfigured", "administrative reset", "connection rejected", "other configuration change",
			"connection collision resolution", "out of resources", "hard reset")
	case BGP_ERROR_ROUTE_REFRESH_MESSAGE_ERROR:
		return "route refresh/invalid message length"
	}
	return fmt.Sprintf("unknown(%d)/%d", code, subcode)
}

func pick(i uint8, def string, names ...string) string {
	if int(i) < len(names) && names[i] != "" {
		return names[i]
	}
	return def
}

func NewNotificationErrorCode(code, subcode uint8) NotificationErrorCode {
	return NotificationErrorCode(uint16(code)<<8 | uint16(subcode))
}

// ErrorHandling is the RFC 7606 action taken for a malformed UPDATE.
// Higher values are more severe.
type ErrorHandling int

const (
	ERROR_HANDLING_NONE ErrorHandling = iota
	ERROR_HANDLING_ATTRIBUTE_DISCARD
	ERROR_HANDLING_TREAT_AS_WITHDRAW
	ERROR_HANDLING_AFISAFI_DISABLE
	ERROR_HANDLING_SESSION_RESET
)

func (h ErrorHandling) String() string {
	switch h {
	case ERROR_HANDLING_NONE:
		return "none"
	case ERROR_HANDLING_ATTRIBUTE_DISCARD:
		return "attribute discard"
	case ERROR_HANDLING_TREAT_AS_WITHDRAW:
		return "treat as withdraw"
	case ERROR_HANDLING_AFISAFI_DISABLE:
		return "afi/safi disable"
	case ERROR_HANDLING_SESSION_RESET:
		return "session reset"
	}
	return fmt.Sprintf("unknown(%d)", int(h))
}

// MessageError is a documented protocol error: it carries the code pair
// and the offending bytes to send back in a NOTIFICATION.
type MessageError struct {
	TypeCode      uint8
	SubTypeCode   uint8
	Message       string
	ErrorHandling ErrorHandling
	data          []byte
}

// NewMessageError copies data, so the caller may reuse its buffer.
func NewMessageError(typeCode, subTypeCode uint8, data []byte, msg string) error {
	return newMessageError(typeCode, subTypeCode, data, msg, ERROR_HANDLING_SESSION_RESET)
}

func newMessageError(typeCode, subTypeCode uint8, data []byte, msg string, handling ErrorHandling) *MessageError {
	return &MessageError{
		TypeCode:      typeCode,
		SubTypeCode:   subTypeCode,
		Message:       msg,
		ErrorHandling: handling,
		data:          cloneBytes(data),
	}
}

// Data returns a copy of the offending bytes.
func (e *MessageError) Data() []byte {
	return cloneBytes(e.data)
}

func (e *MessageError) Code() NotificationErrorCode {
	return NewNotificationErrorCode(e.TypeCode, e.SubTypeCode)
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code())
}

// Notification builds the NOTIFICATION to send for this error.
func (e *MessageError) Notification() *BGPMessage {
	return NewBGPNotificationMessage(e.TypeCode, e.SubTypeCode, e.data)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

func lengthErrorData(length int) []byte {
	return []byte{byte(length / 256), byte(length % 256)}
}

func badMessageLength(length int, msg string) error {
	return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, lengthErrorData(length), msg)
}
