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
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/packet/bgp"
)

// handlingError logs the errors an UPDATE was recovered from and
// returns the one that must reset the session, if any. Disabling a
// single family is not supported, so it resets the session too.
func (s *session) handlingError(u *bgp.BGPUpdate) *bgp.MessageError {
	var reset *bgp.MessageError
	for _, e := range u.Errors {
		switch e.ErrorHandling {
		case bgp.ERROR_HANDLING_ATTRIBUTE_DISCARD:
			s.fsm.logger.Warn("Some attributes were discarded",
				s.fields(log.Fields{
					"State": bgp.BGP_FSM_ESTABLISHED.String(),
					"Error": e,
				}))
		case bgp.ERROR_HANDLING_TREAT_AS_WITHDRAW:
			s.fsm.logger.Warn("the received Update message was treated as withdraw",
				s.fields(log.Fields{
					"State": bgp.BGP_FSM_ESTABLISHED.String(),
					"Error": e,
				}))
		case bgp.ERROR_HANDLING_AFISAFI_DISABLE, bgp.ERROR_HANDLING_SESSION_RESET:
			if reset == nil || e.ErrorHandling > reset.ErrorHandling {
				reset = e
			}
		}
	}
	return reset
}
