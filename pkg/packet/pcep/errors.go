// Copyright (C) 2024 Nippon Telegraph and Telephone Corporation.
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

package pcep

import "fmt"

// PCEP-ERROR object Error-Types (RFC 5440 9.12, RFC 8231 8.5, RFC 8281,
// RFC 8408).
const (
	PCEP_ERR_SESSION_FAILURE           = 1
	PCEP_ERR_CAPABILITY_NOT_SUPPORTED  = 2
	PCEP_ERR_UNKNOWN_OBJECT            = 3
	PCEP_ERR_NOT_SUPPORTED_OBJECT      = 4
	PCEP_ERR_POLICY_VIOLATION          = 5
	PCEP_ERR_MANDATORY_OBJECT_MISSING  = 6
	PCEP_ERR_SYNC_PATH_REQUEST_MISSING = 7
	PCEP_ERR_UNKNOWN_REQUEST_REFERENCE = 8
	PCEP_ERR_SECOND_SESSION            = 9
	PCEP_ERR_INVALID_OBJECT            = 10
	PCEP_ERR_INVALID_OPERATION         = 19
	PCEP_ERR_STATE_SYNC                = 20
	PCEP_ERR_INVALID_PATH_SETUP_TYPE   = 21
	PCEP_ERR_LSP_INSTANTIATION         = 24
)

// Error-Values for PCEP_ERR_SESSION_FAILURE
const (
	_ = iota
	PCEP_ERR_SUB_INVALID_OPEN
	PCEP_ERR_SUB_NO_OPEN
	PCEP_ERR_SUB_UNACCEPTABLE_NON_NEGOTIABLE
	PCEP_ERR_SUB_UNACCEPTABLE_NEGOTIABLE
	PCEP_ERR_SUB_SECOND_OPEN_UNACCEPTABLE
	PCEP_ERR_SUB_PCERR_UNACCEPTABLE
	PCEP_ERR_SUB_NO_KEEPALIVE
)

// Error-Values for PCEP_ERR_UNKNOWN_OBJECT and PCEP_ERR_NOT_SUPPORTED_OBJECT
const (
	_ = iota
	PCEP_ERR_SUB_UNRECOGNIZED_CLASS
	PCEP_ERR_SUB_UNRECOGNIZED_TYPE
)

// Error-Values for PCEP_ERR_MANDATORY_OBJECT_MISSING
const (
	PCEP_ERR_SUB_RP_MISSING              = 1
	PCEP_ERR_SUB_RRO_MISSING             = 2
	PCEP_ERR_SUB_ENDPOINTS_MISSING       = 3
	PCEP_ERR_SUB_LSP_MISSING             = 8
	PCEP_ERR_SUB_ERO_MISSING             = 9
	PCEP_ERR_SUB_SRP_MISSING             = 10
	PCEP_ERR_SUB_LSP_IDENTIFIERS_MISSING = 11
)

// Error-Values for PCEP_ERR_INVALID_OBJECT
const (
	PCEP_ERR_SUB_SYMBOLIC_PATH_NAME_MISSING = 8
	PCEP_ERR_SUB_MALFORMED_OBJECT           = 11
)

// PCEPError is a documented protocol error. PCErr builds the message that
// reports it to the peer.
type PCEPError struct {
	Type    uint8
	Value   uint8
	Message string
}

func NewPCEPError(typ, value uint8, msg string) error {
	return &PCEPError{Type: typ, Value: value, Message: msg}
}

func (e *PCEPError) Error() string {
	return fmt.Sprintf("%s (type %d value %d)", e.Message, e.Type, e.Value)
}

// PCErr returns the PCErr message for e. Stateful errors quote the SRP
// of the request they answer.
func (e *PCEPError) PCErr(srps ...*SRPObject) *PCEPMessage {
	return NewPCEPMessage(&PCErr{
		SRPs:   srps,
		Errors: []*ErrorObject{{Type: e.Type, Value: e.Value}},
	})
}
