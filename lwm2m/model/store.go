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

// Package model is the object / instance / resource store exposed to LwM2M
// servers.  The store is not safe for concurrent use; the client owns it
// and serializes all access.
package model

import (
	"reflect"
	"sort"

	"github.com/runtimeco/go-coap"
	"github.com/spf13/cast"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

// AllResources is passed to Handler.OnRead when a whole instance is about
// to be read.
const AllResources = -1

// Handler implements the behavior of one object.  Instances only carry
// data; the store dispatches to the handler registered for the object id.
type Handler interface {
	// Called before a value is encoded for a server.  The handler may
	// refresh values with Store.Set.
	OnRead(inst *Instance, rid int) error

	// Called before a server write is stored.  A non-nil error rejects the
	// write.
	OnWrite(inst *Instance, rid uint16, val interface{}) error

	OnExecute(inst *Instance, rid uint16, args []byte) error
}

// DefaultHandler accepts reads and writes and rejects executes.
type DefaultHandler struct{}

func (DefaultHandler) OnRead(inst *Instance, rid int) error {
	return nil
}

func (DefaultHandler) OnWrite(inst *Instance, rid uint16,
	val interface{}) error {

	return nil
}

func (DefaultHandler) OnExecute(inst *Instance, rid uint16,
	args []byte) error {

	return lwutil.FmtCoapError(coap.MethodNotAllowed,
		"no execute handler for %s",
		ResourcePath(inst.ObjectID, inst.InstanceID, rid).String())
}

type ChangeFn func(p Path)

type object struct {
	def     *ObjectDef
	handler Handler
	insts   map[uint16]*Instance
}

type Store struct {
	objs     map[uint16]*object
	changeCb ChangeFn
}

func NewStore() *Store {
	return &Store{
		objs: map[uint16]*object{},
	}
}

func notFound(p Path) error {
	return lwutil.FmtCoapError(coap.NotFound, "no such path: %s", p.String())
}

func (s *Store) AddObject(def *ObjectDef, h Handler) {
	if h == nil {
		h = DefaultHandler{}
	}
	s.objs[def.ID] = &object{
		def:     def,
		handler: h,
		insts:   map[uint16]*Instance{},
	}
}

func (s *Store) SetHandler(oid uint16, h Handler) {
	if o := s.objs[oid]; o != nil {
		o.handler = h
	}
}

// SetChangeCb registers the function called with the resource path whenever
// a stored value changes.
func (s *Store) SetChangeCb(cb ChangeFn) {
	s.changeCb = cb
}

func (s *Store) Def(oid uint16) *ObjectDef {
	if o := s.objs[oid]; o != nil {
		return o.def
	}
	return nil
}

func (s *Store) handler(oid uint16) Handler {
	if o := s.objs[oid]; o != nil {
		return o.handler
	}
	return DefaultHandler{}
}

func (s *Store) ObjectIDs() []uint16 {
	ids := make([]uint16, 0, len(s.objs))
	for id := range s.objs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Instances returns the instances of an object sorted by instance id.
func (s *Store) Instances(oid uint16) []*Instance {
	o := s.objs[oid]
	if o == nil {
		return nil
	}

	insts := make([]*Instance, 0, len(o.insts))
	for _, inst := range o.insts {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool {
		return insts[i].InstanceID < insts[j].InstanceID
	})
	return insts
}

func (s *Store) Instance(oid uint16, iid uint16) *Instance {
	if o := s.objs[oid]; o != nil {
		return o.insts[iid]
	}
	return nil
}

func (s *Store) CreateInstance(oid uint16, iid uint16,
	acl ACL) (*Instance, error) {

	o := s.objs[oid]
	if o == nil {
		return nil, notFound(ObjectPath(oid))
	}
	if iid == InvalidInstance {
		return nil, lwutil.FmtCoapError(coap.BadRequest,
			"invalid instance id %d", iid)
	}
	if o.insts[iid] != nil {
		return nil, lwutil.FmtCoapError(coap.BadRequest,
			"instance exists: %s", InstancePath(oid, iid).String())
	}
	if !o.def.Multiple && len(o.insts) > 0 {
		return nil, lwutil.FmtCoapError(coap.BadRequest,
			"object %d is single-instance", oid)
	}

	inst := newInstance(o.def, iid, acl)
	o.insts[iid] = inst
	return inst, nil
}

func (s *Store) DeleteInstance(oid uint16, iid uint16) error {
	o := s.objs[oid]
	if o == nil || o.insts[iid] == nil {
		return notFound(InstancePath(oid, iid))
	}

	delete(o.insts, iid)
	return nil
}

// Set stores a value on behalf of the application.  The value is coerced
// to the resource type; the change callback fires if the stored value
// differs.
func (s *Store) Set(oid uint16, iid uint16, rid uint16, v interface{}) error {
	inst := s.Instance(oid, iid)
	if inst == nil {
		return notFound(InstancePath(oid, iid))
	}

	return s.setValue(inst, rid, v)
}

func (s *Store) setValue(inst *Instance, rid uint16, v interface{}) error {
	rd := inst.def.Resource(rid)
	if rd == nil {
		return notFound(ResourcePath(inst.ObjectID, inst.InstanceID, rid))
	}

	cv, err := coerce(rd, v)
	if err != nil {
		return lwutil.FmtCoapError(coap.BadRequest,
			"bad value for %s: %s",
			ResourcePath(inst.ObjectID, inst.InstanceID, rid).String(),
			err.Error())
	}

	old, had := inst.values[rid]
	inst.values[rid] = cv

	if !had || !reflect.DeepEqual(old, cv) {
		if s.changeCb != nil {
			s.changeCb(ResourcePath(inst.ObjectID, inst.InstanceID, rid))
		}
	}

	return nil
}

// Clear removes a resource value without firing the change callback.
func (s *Store) Clear(oid uint16, iid uint16, rid uint16) {
	if inst := s.Instance(oid, iid); inst != nil {
		inst.clear(rid)
	}
}

func (s *Store) Get(oid uint16, iid uint16, rid uint16) (interface{}, bool) {
	inst := s.Instance(oid, iid)
	if inst == nil {
		return nil, false
	}
	return inst.Value(rid)
}

// Exists reports whether the path names an existing object, instance or
// resource.
func (s *Store) Exists(p Path) bool {
	switch p.Len {
	case 0:
		return true

	case 1:
		return s.objs[p.Obj] != nil

	case 2:
		return s.Instance(p.Obj, p.Inst) != nil

	default:
		inst := s.Instance(p.Obj, p.Inst)
		if inst == nil {
			return false
		}
		rd := inst.def.Resource(p.Res)
		if rd == nil {
			return false
		}
		if p.Len == 4 {
			_, ok := inst.Multi(p.Res)[p.ResInst]
			return ok
		}
		return true
	}
}

// Numeric returns the current value of a numeric resource.
func (s *Store) Numeric(p Path) (float64, bool) {
	if p.Len < 3 {
		return 0, false
	}

	inst := s.Instance(p.Obj, p.Inst)
	if inst == nil {
		return 0, false
	}
	rd := inst.def.Resource(p.Res)
	if rd == nil || !rd.Type.Numeric() {
		return 0, false
	}

	var v interface{}
	var ok bool
	if p.Len == 4 {
		v, ok = inst.Multi(p.Res)[p.ResInst]
	} else if rd.Multiple {
		return 0, false
	} else {
		v, ok = inst.values[p.Res]
	}
	if !ok {
		return 0, false
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ResourceType returns the type of the resource a path points at, or
// TypeNone for object and instance paths.
func (s *Store) ResourceType(p Path) ResourceType {
	if p.Len < 3 {
		return TypeNone
	}
	def := s.Def(p.Obj)
	if def == nil {
		return TypeNone
	}
	rd := def.Resource(p.Res)
	if rd == nil {
		return TypeNone
	}
	return rd.Type
}

// Execute runs an executable resource on behalf of a server.
func (s *Store) Execute(p Path, args []byte) error {
	if p.Len != 3 {
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"execute requires a resource path: %s", p.String())
	}

	inst := s.Instance(p.Obj, p.Inst)
	if inst == nil {
		return notFound(p)
	}
	rd := inst.def.Resource(p.Res)
	if rd == nil {
		return notFound(p)
	}
	if rd.Ops&OpExecute == 0 {
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"resource not executable: %s", p.String())
	}

	return s.handler(p.Obj).OnExecute(inst, p.Res, args)
}

// Delete removes an instance on behalf of a server.
func (s *Store) Delete(p Path) error {
	if p.Len != 2 {
		return lwutil.FmtCoapError(coap.MethodNotAllowed,
			"delete requires an instance path: %s", p.String())
	}

	return s.DeleteInstance(p.Obj, p.Inst)
}
