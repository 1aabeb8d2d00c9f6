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

package utils

// RFC 9003 caps the shutdown communication at 255 bytes.
const AdministrativeCommunicationMax = 255

// NewAdministrativeCommunication builds the data of a CEASE shutdown or
// reset NOTIFICATION: one length byte and the UTF-8 text.
func NewAdministrativeCommunication(communication string) []byte {
	if communication == "" {
		return nil
	}
	com := []byte(communication)
	if len(com) > AdministrativeCommunicationMax {
		com = com[:AdministrativeCommunicationMax]
	}
	return append([]byte{byte(len(com))}, com...)
}

// DecodeAdministrativeCommunication returns the text and whatever follows
// it. A length byte that overruns data is clamped.
func DecodeAdministrativeCommunication(data []byte) (string, []byte) {
	if len(data) == 0 {
		return "", data
	}
	n := min(int(data[0]), len(data)-1)
	return string(data[1 : n+1]), data[n+1:]
}
