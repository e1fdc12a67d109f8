/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package model

import (
	"encoding/base64"
	"sort"
	"strconv"
	"strings"

	"github.com/runtimeco/go-coap"
	"github.com/spf13/cast"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/tlv"
)

// InstFilter selects the instances included in an object-level read.
type InstFilter func(inst *Instance) bool

func scalarEntry(t ResourceType, id uint16, v interface{}) tlv.Entry {
	switch t {
	case TypeString:
		return tlv.StringResource(id, cast.ToString(v))
	case TypeInt, TypeTime:
		return tlv.IntResource(id, cast.ToInt64(v))
	case TypeFloat:
		return tlv.FloatResource(id, cast.ToFloat64(v))
	case TypeBool:
		return tlv.BoolResource(id, cast.ToBool(v))
	default:
		b, _ := v.([]byte)
		return tlv.OpaqueResource(id, b)
	}
}

func resourceEntry(rd *ResourceDef, v interface{}) tlv.Entry {
	if !rd.Multiple {
		return scalarEntry(rd.Type, rd.ID, v)
	}

	m, _ := v.(map[uint16]interface{})
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	children := make([]tlv.Entry, 0, len(ids))
	for _, id := range ids {
		e := scalarEntry(rd.Type, uint16(id), m[uint16(id)])
		e.Type = tlv.TypeResourceInstance
		children = append(children, e)
	}
	return tlv.MultipleResource(rd.ID, children...)
}

// InstanceEntries encodes the values of an instance.  Unless all is set
// only readable resources are included; skip excludes resources by id.
func InstanceEntries(inst *Instance, all bool,
	skip func(rid uint16) bool) []tlv.Entry {

	var entries []tlv.Entry
	for _, rid := range inst.ResourceIDs() {
		rd := inst.def.Resource(rid)
		if rd == nil {
			continue
		}
		if !all && rd.Ops&OpRead == 0 {
			continue
		}
		if skip != nil && skip(rid) {
			continue
		}
		entries = append(entries, resourceEntry(rd, inst.values[rid]))
	}
	return entries
}

func (s *Store) readable(p Path) (*Instance, *ResourceDef, error) {
	inst := s.Instance(p.Obj, p.Inst)
	if inst == nil {
		return nil, nil, notFound(p)
	}
	if p.Len < 3 {
		return inst, nil, nil
	}

	rd := inst.def.Resource(p.Res)
	if rd == nil {
		return nil, nil, notFound(p)
	}
	if rd.Ops&OpRead == 0 {
		return nil, nil, lwutil.FmtCoapError(coap.MethodNotAllowed,
			"resource not readable: %s", p.String())
	}

	rid := int(p.Res)
	if err := s.handler(p.Obj).OnRead(inst, rid); err != nil {
		return nil, nil, err
	}
	if !inst.Has(p.Res) {
		return nil, nil, notFound(p)
	}

	return inst, rd, nil
}

// ReadTLV encodes the object, instance, resource or resource instance
// named by p.  For object reads, filter selects the instances included.
func (s *Store) ReadTLV(p Path, filter InstFilter) ([]byte, error) {
	switch p.Len {
	case 1:
		o := s.objs[p.Obj]
		if o == nil {
			return nil, notFound(p)
		}

		var entries []tlv.Entry
		for _, inst := range s.Instances(p.Obj) {
			if filter != nil && !filter(inst) {
				continue
			}
			if err := o.handler.OnRead(inst, AllResources); err != nil {
				return nil, err
			}
			entries = append(entries, tlv.ObjectInstance(inst.InstanceID,
				InstanceEntries(inst, false, nil)...))
		}
		return tlv.Encode(entries), nil

	case 2:
		inst, _, err := s.readable(p)
		if err != nil {
			return nil, err
		}
		if err := s.handler(p.Obj).OnRead(inst, AllResources); err != nil {
			return nil, err
		}
		return tlv.Encode(InstanceEntries(inst, false, nil)), nil

	case 3:
		inst, rd, err := s.readable(p)
		if err != nil {
			return nil, err
		}
		return tlv.Encode([]tlv.Entry{
			resourceEntry(rd, inst.values[p.Res]),
		}), nil

	case 4:
		inst, rd, err := s.readable(p)
		if err != nil {
			return nil, err
		}
		v, ok := inst.Multi(p.Res)[p.ResInst]
		if !ok {
			return nil, notFound(p)
		}
		e := scalarEntry(rd.Type, p.ResInst, v)
		e.Type = tlv.TypeResourceInstance
		return tlv.Encode([]tlv.Entry{e}), nil

	default:
		return nil, lwutil.FmtCoapError(coap.MethodNotAllowed,
			"cannot read %s", p.String())
	}
}

func textValue(t ResourceType, v interface{}) string {
	switch t {
	case TypeOpaque:
		b, _ := v.([]byte)
		return base64.StdEncoding.EncodeToString(b)
	case TypeBool:
		if cast.ToBool(v) {
			return "1"
		}
		return "0"
	case TypeFloat:
		return strconv.FormatFloat(cast.ToFloat64(v), 'g', -1, 64)
	default:
		return cast.ToString(v)
	}
}

// ReadText encodes a single resource value as text/plain.
func (s *Store) ReadText(p Path) ([]byte, error) {
	if p.Len < 3 {
		return nil, lwutil.FmtCoapError(coap.NotAcceptable,
			"text/plain requires a single resource: %s", p.String())
	}

	inst, rd, err := s.readable(p)
	if err != nil {
		return nil, err
	}

	if p.Len == 4 {
		v, ok := inst.Multi(p.Res)[p.ResInst]
		if !ok {
			return nil, notFound(p)
		}
		return []byte(textValue(rd.Type, v)), nil
	}

	if rd.Multiple {
		return nil, lwutil.FmtCoapError(coap.NotAcceptable,
			"text/plain requires a single resource: %s", p.String())
	}
	return []byte(textValue(rd.Type, inst.values[p.Res])), nil
}

func decodeScalar(t ResourceType, e *tlv.Entry) (interface{}, error) {
	switch t {
	case TypeString:
		return e.Text(), nil
	case TypeInt, TypeTime:
		return e.Int()
	case TypeFloat:
		return e.Float()
	case TypeBool:
		return e.Bool()
	case TypeOpaque:
		return append([]byte(nil), e.Value...), nil
	default:
		return nil, lwutil.NewCoapError(coap.MethodNotAllowed,
			"resource takes no value")
	}
}

func decodeResource(rd *ResourceDef, e *tlv.Entry) (interface{}, error) {
	if !rd.Multiple {
		if e.Type != tlv.TypeResourceValue {
			return nil, lwutil.FmtCoapError(coap.BadRequest,
				"resource %d: unexpected TLV type %s", rd.ID, e.Type)
		}
		return decodeScalar(rd.Type, e)
	}

	m := map[uint16]interface{}{}
	switch e.Type {
	case tlv.TypeMultipleResource:
		for i := range e.Children {
			v, err := decodeScalar(rd.Type, &e.Children[i])
			if err != nil {
				return nil, err
			}
			m[e.Children[i].ID] = v
		}

	case tlv.TypeResourceValue:
		v, err := decodeScalar(rd.Type, e)
		if err != nil {
			return nil, err
		}
		m[0] = v

	default:
		return nil, lwutil.FmtCoapError(coap.BadRequest,
			"resource %d: unexpected TLV type %s", rd.ID, e.Type)
	}
	return m, nil
}

type pendingWrite struct {
	rid uint16
	val interface{}
}

// WriteEntries applies decoded resource entries to an instance.  Bootstrap
// writes may set resources the servers cannot write and silently ignore
// unknown resources.
func (s *Store) WriteEntries(inst *Instance, entries []tlv.Entry,
	bootstrap bool) error {

	var writes []pendingWrite
	for i := range entries {
		e := &entries[i]

		rd := inst.def.Resource(e.ID)
		if rd == nil {
			if bootstrap {
				continue
			}
			return notFound(ResourcePath(inst.ObjectID, inst.InstanceID,
				e.ID))
		}
		if !bootstrap && rd.Ops&OpWrite == 0 {
			return lwutil.FmtCoapError(coap.MethodNotAllowed,
				"resource not writable: %s", ResourcePath(inst.ObjectID,
					inst.InstanceID, e.ID).String())
		}
		if rd.Type == TypeNone {
			continue
		}

		v, err := decodeResource(rd, e)
		if err != nil {
			if lwutil.IsCoap(err) {
				return err
			}
			return lwutil.NewCoapError(coap.BadRequest, err.Error())
		}
		writes = append(writes, pendingWrite{rid: rd.ID, val: v})
	}

	h := s.handler(inst.ObjectID)
	for _, w := range writes {
		if err := h.OnWrite(inst, w.rid, w.val); err != nil {
			return err
		}
	}
	for _, w := range writes {
		if err := s.setValue(inst, w.rid, w.val); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) writeInstance(oid uint16, iid uint16, entries []tlv.Entry,
	bootstrap bool) error {

	inst := s.Instance(oid, iid)
	if inst == nil {
		if !bootstrap {
			return notFound(InstancePath(oid, iid))
		}

		var err error
		inst, err = s.CreateInstance(oid, iid, NewACL(BootstrapSSID))
		if err != nil {
			return err
		}
	}

	return s.WriteEntries(inst, entries, bootstrap)
}

// WriteTLV decodes a TLV payload and writes it to the path.  Object-level
// writes are only accepted from the bootstrap server.
func (s *Store) WriteTLV(p Path, payload []byte, bootstrap bool) error {
	entries, err := tlv.Decode(payload)
	if err != nil {
		return lwutil.NewCoapError(coap.BadRequest, err.Error())
	}
	if s.objs[p.Obj] == nil {
		return notFound(p)
	}

	switch p.Len {
	case 1:
		if !bootstrap {
			return lwutil.FmtCoapError(coap.MethodNotAllowed,
				"cannot write object %s", p.String())
		}
		for i := range entries {
			e := &entries[i]
			if e.Type != tlv.TypeObjectInstance {
				return lwutil.NewCoapError(coap.BadRequest,
					"object write requires instance entries")
			}
			if err := s.writeInstance(p.Obj, e.ID, e.Children,
				bootstrap); err != nil {

				return err
			}
		}
		return nil

	case 2:
		if len(entries) == 1 && entries[0].Type == tlv.TypeObjectInstance {
			if entries[0].ID != p.Inst {
				return lwutil.NewCoapError(coap.BadRequest,
					"instance id mismatch")
			}
			entries = entries[0].Children
		}
		return s.writeInstance(p.Obj, p.Inst, entries, bootstrap)

	case 3:
		e := tlv.Find(entries, tlv.TypeResourceValue, p.Res)
		if e == nil {
			e = tlv.Find(entries, tlv.TypeMultipleResource, p.Res)
		}
		if e == nil {
			return lwutil.NewCoapError(coap.BadRequest,
				"resource id mismatch")
		}
		return s.writeInstance(p.Obj, p.Inst, []tlv.Entry{*e}, bootstrap)

	default:
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"cannot write %s", p.String())
	}
}

func parseText(t ResourceType, s string) (interface{}, error) {
	switch t {
	case TypeString:
		return s, nil
	case TypeInt, TypeTime:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	case TypeBool:
		switch strings.TrimSpace(s) {
		case "0":
			return false, nil
		case "1":
			return true, nil
		default:
			return strconv.ParseBool(strings.TrimSpace(s))
		}
	case TypeOpaque:
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, lwutil.NewCoapError(coap.MethodNotAllowed,
			"resource takes no value")
	}
}

// WriteText writes a text/plain value to a single resource.
func (s *Store) WriteText(p Path, payload []byte, bootstrap bool) error {
	if p.Len != 3 {
		return lwutil.FmtCoapError(coap.BadRequest,
			"text/plain requires a single resource: %s", p.String())
	}

	inst := s.Instance(p.Obj, p.Inst)
	if inst == nil {
		return notFound(p)
	}
	rd := inst.def.Resource(p.Res)
	if rd == nil {
		return notFound(p)
	}
	if rd.Multiple {
		return lwutil.FmtCoapError(coap.BadRequest,
			"text/plain cannot carry multiple resource %s", p.String())
	}
	if !bootstrap && rd.Ops&OpWrite == 0 {
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"resource not writable: %s", p.String())
	}

	v, err := parseText(rd.Type, string(payload))
	if err != nil {
		if lwutil.IsCoap(err) {
			return err
		}
		return lwutil.NewCoapError(coap.BadRequest, err.Error())
	}

	if err := s.handler(p.Obj).OnWrite(inst, p.Res, v); err != nil {
		return err
	}
	return s.setValue(inst, p.Res, v)
}
