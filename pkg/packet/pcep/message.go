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

import (
	"errors"
	"fmt"

	"github.com/osrg/bgpcep/pkg/packet/wire"
)

// ErrUnexpectedObject reports an object that does not fit the grammar of
// the message carrying it.
var ErrUnexpectedObject = errors.New("unexpected object")

type objectQueue struct {
	objs []ObjectInterface
}

func (q *objectQueue) empty() bool { return len(q.objs) == 0 }

func (q *objectQueue) peek() ObjectInterface {
	if q.empty() {
		return nil
	}
	return q.objs[0]
}

func (q *objectQueue) pop() {
	q.objs = q.objs[1:]
}

// take pops the head of q when it is a T.
func take[T ObjectInterface](q *objectQueue) T {
	var zero T
	if q.empty() {
		return zero
	}
	v, ok := q.objs[0].(T)
	if !ok {
		return zero
	}
	q.pop()
	return v
}

func (q *objectQueue) finish(msg string) error {
	if q.empty() {
		return nil
	}
	return fmt.Errorf("%s: %w %s", msg, ErrUnexpectedObject, q.peek())
}

func (c *ExtensionContext) readQueue(r *wire.Reader) (*objectQueue, error) {
	objs, err := c.ReadObjects(r)
	if err != nil {
		return nil, err
	}
	return &objectQueue{objs: objs}, nil
}

// Path is the route of an LSP with its attribute list.
type Path struct {
	ERO       *EROObject
	LSPA      *LSPAObject
	Bandwidth *BandwidthObject
	Metrics   []*MetricObject
	IRO       *IROObject
	RRO       *RROObject
}

func (p *Path) objects() []ObjectInterface {
	if p == nil {
		return nil
	}
	var objs []ObjectInterface
	if p.ERO != nil {
		objs = append(objs, p.ERO)
	}
	if p.LSPA != nil {
		objs = append(objs, p.LSPA)
	}
	if p.Bandwidth != nil {
		objs = append(objs, p.Bandwidth)
	}
	for _, m := range p.Metrics {
		objs = append(objs, m)
	}
	if p.IRO != nil {
		objs = append(objs, p.IRO)
	}
	if p.RRO != nil {
		objs = append(objs, p.RRO)
	}
	return objs
}

// readPath collects an optional ERO and the attribute objects following
// it. It returns nil when none is present.
func readPath(q *objectQueue, withRRO bool) *Path {
	p := &Path{ERO: take[*EROObject](q)}
	empty := p.ERO == nil
loop:
	for {
		switch o := q.peek().(type) {
		case *LSPAObject:
			if p.LSPA != nil {
				break loop
			}
			p.LSPA = o
		case *BandwidthObject:
			if p.Bandwidth != nil {
				break loop
			}
			p.Bandwidth = o
		case *MetricObject:
			p.Metrics = append(p.Metrics, o)
		case *IROObject:
			if p.IRO != nil {
				break loop
			}
			p.IRO = o
		case *RROObject:
			if !withRRO || p.RRO != nil {
				break loop
			}
			p.RRO = o
		default:
			break loop
		}
		q.pop()
		empty = false
	}
	if empty {
		return nil
	}
	return p
}

func (c *ExtensionContext) putPath(w *wire.Writer, p *Path) error {
	return c.putObjects(w, p.objects()...)
}

type PCEPOpen struct {
	Open *OpenObject
}

func NewPCEPOpenMessage(o *OpenObject) *PCEPMessage {
	return NewPCEPMessage(&PCEPOpen{Open: o})
}

func (m *PCEPOpen) MessageType() uint8 { return PCEP_MSG_OPEN }

func parseOpen(r *wire.Reader, c *ExtensionContext) (PCEPBody, error) {
	q, err := c.readQueue(r)
	if err != nil {
		return nil, err
	}
	o := take[*OpenObject](q)
	if o == nil || !q.empty() {
		return nil, NewPCEPError(PCEP_ERR_SESSION_FAILURE, PCEP_ERR_SUB_INVALID_OPEN, "open message must carry exactly one OPEN object")
	}
	return &PCEPOpen{Open: o}, nil
}

func serializeOpen(v PCEPBody, w *wire.Writer, c *ExtensionContext) error {
	m := v.(*PCEPOpen)
	if m.Open == nil {
		return fmt.Errorf("open message without OPEN object")
	}
	return c.PutObject(w, m.Open)
}

type PCEPKeepalive struct{}

func NewPCEPKeepaliveMessage() *PCEPMessage {
	return NewPCEPMessage(&PCEPKeepalive{})
}

func (m *PCEPKeepalive) MessageType() uint8 { return PCEP_MSG_KEEPALIVE }

func parseKeepalive(_ *wire.Reader, _ *ExtensionContext) (PCEPBody, error) {
	return &PCEPKeepalive{}, nil
}

func serializeKeepalive(_ PCEPBody, _ *wire.Writer, _ *ExtensionContext) error {
	return nil
}

// PCErr reports one or more errors. SRPs quote the stateful requests the
// errors answer; Open carries acceptable parameters during negotiation.
type PCErr struct {
	SRPs   []*SRPObject
	Errors []*ErrorObject
	Open   *OpenObject
}

func (m *PCErr) MessageType() uint8 { return PCEP_MSG_PCERR }

func parsePCErr(r *wire.Reader, c *ExtensionContext) (PCEPBody, error) {
	q, err := c.readQueue(r)
	if err != nil {
		return nil, err
	}
	m := &PCErr{}
	for o := take[*SRPObject](q); o != nil; o = take[*SRPObject](q) {
		m.SRPs = append(m.SRPs, o)
	}
	for o := take[*ErrorObject](q); o != nil; o = take[*ErrorObject](q) {
		m.Errors = append(m.Errors, o)
	}
	if len(m.Errors) == 0 {
		return nil, fmt.Errorf("pcerr without PCEP-ERROR object: %w", ErrUnexpectedObject)
	}
	m.Open = take[*OpenObject](q)
	return m, q.finish("pcerr")
}

func serializePCErr(v PCEPBody, w *wire.Writer, c *ExtensionContext) error {
	m := v.(*PCErr)
	if len(m.Errors) == 0 {
		return fmt.Errorf("pcerr without PCEP-ERROR object")
	}
	for _, o := range m.SRPs {
		if err := c.PutObject(w, o); err != nil {
			return err
		}
	}
	for _, o := range m.Errors {
		if err := c.PutObject(w, o); err != nil {
			return err
		}
	}
	if m.Open != nil {
		return c.PutObject(w, m.Open)
	}
	return nil
}

type PCEPClose struct {
	Close *CloseObject
}

func NewPCEPCloseMessage(reason uint8) *PCEPMessage {
	return NewPCEPMessage(&PCEPClose{Close: &CloseObject{Reason: reason}})
}

func (m *PCEPClose) MessageType() uint8 { return PCEP_MSG_CLOSE }

func parseClose(r *wire.Reader, c *ExtensionContext) (PCEPBody, error) {
	q, err := c.readQueue(r)
	if err != nil {
		return nil, err
	}
	o := take[*CloseObject](q)
	if o == nil {
		return nil, fmt.Errorf("close message without CLOSE object: %w", ErrUnexpectedObject)
	}
	return &PCEPClose{Close: o}, q.finish("close")
}

func serializeClose(v PCEPBody, w *wire.Writer, c *ExtensionContext) error {
	m := v.(*PCEPClose)
	if m.Close == nil {
		return fmt.Errorf("close message without CLOSE object")
	}
	return c.PutObject(w, m.Close)
}

// StateReport is one LSP state report (RFC 8231 6.1). A report with
// PLSP-ID 0 marks the end of state synchronization.
type StateReport struct {
	SRP  *SRPObject
	LSP  *LSPObject
	Path *Path
}

type PCRpt struct {
	Reports []*StateReport
}

func (m *PCRpt) MessageType() uint8 { return PCEP_MSG_PCRPT }

func parsePCRpt(r *wire.Reader, c *ExtensionContext) (PCEPBody, error) {
	q, err := c.readQueue(r)
	if err != nil {
		return nil, err
	}
	m := &PCRpt{}
	for len(m.Reports) == 0 || !q.empty() {
		rep := &StateReport{SRP: take[*SRPObject](q), LSP: take[*LSPObject](q)}
		if rep.LSP == nil {
			return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_LSP_MISSING, "state report without LSP object")
		}
		rep.Path = readPath(q, true)
		if (rep.Path == nil || rep.Path.ERO == nil) && !rep.LSP.Remove && rep.LSP.PLSPID != 0 {
			return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_ERO_MISSING, "state report without ERO object")
		}
		m.Reports = append(m.Reports, rep)
	}
	return m, nil
}

func serializePCRpt(v PCEPBody, w *wire.Writer, c *ExtensionContext) error {
	for _, rep := range v.(*PCRpt).Reports {
		if rep.LSP == nil {
			return fmt.Errorf("state report without LSP object")
		}
		if rep.SRP != nil {
			if err := c.PutObject(w, rep.SRP); err != nil {
				return err
			}
		}
		if err := c.PutObject(w, rep.LSP); err != nil {
			return err
		}
		if err := c.putPath(w, rep.Path); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRequest asks the PCC to re-signal a delegated LSP along Path.
type UpdateRequest struct {
	SRP  *SRPObject
	LSP  *LSPObject
	Path *Path
}

type PCUpd struct {
	Updates []*UpdateRequest
}

func (m *PCUpd) MessageType() uint8 { return PCEP_MSG_PCUPD }

func parsePCUpd(r *wire.Reader, c *ExtensionContext) (PCEPBody, error) {
	q, err := c.readQueue(r)
	if err != nil {
		return nil, err
	}
	m := &PCUpd{}
	for len(m.Updates) == 0 || !q.empty() {
		u := &UpdateRequest{SRP: take[*SRPObject](q)}
		if u.SRP == nil {
			return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_SRP_MISSING, "update request without SRP object")
		}
		if u.LSP = take[*LSPObject](q); u.LSP == nil {
			return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_LSP_MISSING, "update request without LSP object")
		}
		if u.Path = readPath(q, false); u.Path == nil || u.Path.ERO == nil {
			return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_ERO_MISSING, "update request without ERO object")
		}
		m.Updates = append(m.Updates, u)
	}
	return m, nil
}

func serializePCUpd(v PCEPBody, w *wire.Writer, c *ExtensionContext) error {
	for _, u := range v.(*PCUpd).Updates {
		if u.SRP == nil || u.LSP == nil || u.Path == nil || u.Path.ERO == nil {
			return fmt.Errorf("update request needs SRP, LSP and ERO objects")
		}
		if err := c.putObjects(w, u.SRP, u.LSP); err != nil {
			return err
		}
		if err := c.putPath(w, u.Path); err != nil {
			return err
		}
	}
	return nil
}

// InitiateRequest instantiates an LSP on the PCC (RFC 8281 5.1) or, when
// the SRP carries the remove flag, deletes it.
type InitiateRequest struct {
	SRP       *SRPObject
	LSP       *LSPObject
	EndPoints *EndPointsObject
	Path      *Path
}

type PCInitiate struct {
	Requests []*InitiateRequest
}

func (m *PCInitiate) MessageType() uint8 { return PCEP_MSG_PCINITIATE }

func parsePCInitiate(r *wire.Reader, c *ExtensionContext) (PCEPBody, error) {
	q, err := c.readQueue(r)
	if err != nil {
		return nil, err
	}
	m := &PCInitiate{}
	for len(m.Requests) == 0 || !q.empty() {
		req := &InitiateRequest{SRP: take[*SRPObject](q)}
		if req.SRP == nil {
			return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_SRP_MISSING, "initiate request without SRP object")
		}
		if req.LSP = take[*LSPObject](q); req.LSP == nil {
			return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_LSP_MISSING, "initiate request without LSP object")
		}
		if !req.SRP.Remove() {
			if _, ok := FindTLV[*SymbolicPathNameTLV](req.LSP.TLVs); !ok {
				return nil, NewPCEPError(PCEP_ERR_INVALID_OBJECT, PCEP_ERR_SUB_SYMBOLIC_PATH_NAME_MISSING, "initiate request without symbolic path name")
			}
			req.EndPoints = take[*EndPointsObject](q)
			if req.Path = readPath(q, false); req.Path == nil || req.Path.ERO == nil {
				return nil, NewPCEPError(PCEP_ERR_MANDATORY_OBJECT_MISSING, PCEP_ERR_SUB_ERO_MISSING, "initiate request without ERO object")
			}
		}
		m.Requests = append(m.Requests, req)
	}
	return m, nil
}

func serializePCInitiate(v PCEPBody, w *wire.Writer, c *ExtensionContext) error {
	for _, req := range v.(*PCInitiate).Requests {
		if req.SRP == nil || req.LSP == nil {
			return fmt.Errorf("initiate request needs SRP and LSP objects")
		}
		if err := c.putObjects(w, req.SRP, req.LSP); err != nil {
			return err
		}
		if req.EndPoints != nil {
			if err := c.PutObject(w, req.EndPoints); err != nil {
				return err
			}
		}
		if err := c.putPath(w, req.Path); err != nil {
			return err
		}
	}
	return nil
}
