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
	"fmt"
	"sort"

	"github.com/spf13/cast"
)

// Instance holds the data of one object instance.  Single resources map to
// a scalar (string, int64, float64, bool, []byte); multiple resources map to
// a map[uint16]interface{} of resource instances.
type Instance struct {
	ObjectID   uint16
	InstanceID uint16
	ACL        ACL

	def    *ObjectDef
	values map[uint16]interface{}
}

func newInstance(def *ObjectDef, iid uint16, acl ACL) *Instance {
	return &Instance{
		ObjectID:   def.ID,
		InstanceID: iid,
		ACL:        acl,
		def:        def,
		values:     map[uint16]interface{}{},
	}
}

func (inst *Instance) Path() Path {
	return InstancePath(inst.ObjectID, inst.InstanceID)
}

func (inst *Instance) Def() *ObjectDef {
	return inst.def
}

func (inst *Instance) Value(rid uint16) (interface{}, bool) {
	v, ok := inst.values[rid]
	return v, ok
}

func (inst *Instance) Has(rid uint16) bool {
	_, ok := inst.values[rid]
	return ok
}

func (inst *Instance) Int(rid uint16) int64 {
	return cast.ToInt64(inst.values[rid])
}

func (inst *Instance) String(rid uint16) string {
	switch v := inst.values[rid].(type) {
	case []byte:
		return string(v)
	default:
		return cast.ToString(v)
	}
}

func (inst *Instance) Bool(rid uint16) bool {
	return cast.ToBool(inst.values[rid])
}

func (inst *Instance) Float(rid uint16) float64 {
	return cast.ToFloat64(inst.values[rid])
}

func (inst *Instance) Bytes(rid uint16) []byte {
	switch v := inst.values[rid].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

func (inst *Instance) Multi(rid uint16) map[uint16]interface{} {
	m, _ := inst.values[rid].(map[uint16]interface{})
	return m
}

// ResourceIDs returns the identifiers of resources that hold a value, in
// ascending order.
func (inst *Instance) ResourceIDs() []uint16 {
	ids := make([]uint16, 0, len(inst.values))
	for id := range inst.values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (inst *Instance) clear(rid uint16) {
	delete(inst.values, rid)
}

func coerceScalar(t ResourceType, v interface{}) (interface{}, error) {
	switch t {
	case TypeString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return cast.ToStringE(v)

	case TypeInt, TypeTime:
		return cast.ToInt64E(v)

	case TypeFloat:
		return cast.ToFloat64E(v)

	case TypeBool:
		return cast.ToBoolE(v)

	case TypeOpaque:
		switch b := v.(type) {
		case []byte:
			return append([]byte(nil), b...), nil
		case string:
			return []byte(b), nil
		default:
			return nil, fmt.Errorf("cannot convert %T to opaque", v)
		}

	default:
		return nil, fmt.Errorf("resource is not writable with a value")
	}
}

// coerce converts an application or decoded value to the canonical
// representation for the resource.
func coerce(rd *ResourceDef, v interface{}) (interface{}, error) {
	if !rd.Multiple {
		return coerceScalar(rd.Type, v)
	}

	out := map[uint16]interface{}{}
	switch m := v.(type) {
	case map[uint16]interface{}:
		for k, e := range m {
			cv, err := coerceScalar(rd.Type, e)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}

	default:
		list, err := cast.ToSliceE(v)
		if err != nil {
			switch s := v.(type) {
			case []string:
				for _, e := range s {
					list = append(list, e)
				}
			case []int64:
				for _, e := range s {
					list = append(list, e)
				}
			default:
				return nil, err
			}
		}
		for i, e := range list {
			cv, err := coerceScalar(rd.Type, e)
			if err != nil {
				return nil, err
			}
			out[uint16(i)] = cv
		}
	}

	return out, nil
}
