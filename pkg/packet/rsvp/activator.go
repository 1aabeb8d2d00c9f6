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

package rsvp

import (
	"github.com/osrg/bgpcep/pkg/packet/registry"
)

// BaseActivator registers the prefix, unnumbered, AS number and label
// subobjects together with the three label C-Types.
type BaseActivator struct{}

func (BaseActivator) Start(c *ExtensionContext) registry.Registrations {
	s, l := c.subobjects, c.labels
	return registry.Registrations{
		s.RegisterParser(SUBOBJECT_IPV4_PREFIX, prefixParser(32)),
		s.RegisterParser(SUBOBJECT_IPV6_PREFIX, prefixParser(128)),
		s.RegisterSerializer(&IPPrefixSubobject{}, serializePrefix),
		s.RegisterParser(SUBOBJECT_UNNUMBERED, parseUnnumbered),
		s.RegisterSerializer(&UnnumberedSubobject{}, serializeUnnumbered),
		s.RegisterParser(SUBOBJECT_AS_NUMBER, parseASNumber),
		s.RegisterSerializer(&ASNumberSubobject{}, serializeASNumber),
		s.RegisterParser(SUBOBJECT_LABEL, c.parseLabelSubobject),
		s.RegisterSerializer(&LabelSubobject{}, c.serializeLabelSubobject),

		l.RegisterParser(LABEL_TYPE1, parseType1Label),
		l.RegisterSerializer(&Type1Label{}, serializeType1Label),
		l.RegisterParser(LABEL_GENERALIZED, parseGeneralizedLabel),
		l.RegisterSerializer(&GeneralizedLabel{}, serializeGeneralizedLabel),
		l.RegisterParser(LABEL_WAVEBAND, parseWavebandLabel),
		l.RegisterSerializer(&WavebandLabel{}, serializeWavebandLabel),
	}
}
