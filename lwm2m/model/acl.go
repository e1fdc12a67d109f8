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
	"strings"

	"mynewt.apache.org/lwm2mclient/lwm2m/tlv"
)

type Perm uint16

const (
	PermRead    Perm = 0x01
	PermWrite   Perm = 0x02
	PermExecute Perm = 0x04
	PermDelete  Perm = 0x08
	PermCreate  Perm = 0x10
	PermObserve Perm = 0x40

	PermNone Perm = 0
	PermFull Perm = PermRead | PermWrite | PermExecute | PermDelete |
		PermCreate | PermObserve
)

// Owner of objects that only the bootstrap server may manage.
const BootstrapSSID uint16 = 65535

// Key of the default entry in an access list.
const DefaultSSID uint16 = 0

func (p Perm) String() string {
	if p == PermNone {
		return "none"
	}

	var parts []string
	names := []struct {
		p Perm
		s string
	}{
		{PermRead, "r"},
		{PermWrite, "w"},
		{PermExecute, "x"},
		{PermDelete, "d"},
		{PermCreate, "c"},
		{PermObserve, "o"},
	}
	for _, n := range names {
		if p&n.p != 0 {
			parts = append(parts, n.s)
		}
	}
	return strings.Join(parts, "")
}

// ACL is the per-instance access control list.  The owner always has full
// access; other servers without an entry fall back to the default entry.
type ACL struct {
	Owner  uint16
	Access map[uint16]Perm
}

func NewACL(owner uint16) ACL {
	return ACL{
		Owner:  owner,
		Access: map[uint16]Perm{},
	}
}

func (a *ACL) Set(ssid uint16, p Perm) {
	if a.Access == nil {
		a.Access = map[uint16]Perm{}
	}
	a.Access[ssid] = p
}

func (a *ACL) SetDefault(p Perm) {
	a.Set(DefaultSSID, p)
}

// Perms returns the effective permissions of a server.
func (a *ACL) Perms(ssid uint16) Perm {
	if ssid == a.Owner {
		return PermFull
	}
	if p, ok := a.Access[ssid]; ok && ssid != DefaultSSID {
		return p
	}
	return a.Access[DefaultSSID]
}

func (a *ACL) Allowed(ssid uint16, p Perm) bool {
	return a.Perms(ssid)&p != 0
}

func (a ACL) String() string {
	ids := make([]int, 0, len(a.Access))
	for id := range a.Access {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	s := fmt.Sprintf("owner=%d", a.Owner)
	for _, id := range ids {
		s += fmt.Sprintf(" %d:%s", id, a.Access[uint16(id)])
	}
	return s
}

// TLV returns the access list as a multiple resource of ssid -> permission
// entries followed by the owner.
func (a *ACL) TLV(accessID uint16, ownerID uint16) []tlv.Entry {
	ids := make([]int, 0, len(a.Access))
	for id := range a.Access {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var insts []tlv.Entry
	for _, id := range ids {
		insts = append(insts, tlv.IntInstance(uint16(id),
			int64(a.Access[uint16(id)])))
	}

	return []tlv.Entry{
		tlv.MultipleResource(accessID, insts...),
		tlv.IntResource(ownerID, int64(a.Owner)),
	}
}

// ParseACL is the inverse of TLV.
func ParseACL(entries []tlv.Entry, accessID uint16, ownerID uint16) (ACL, error) {
	a := NewACL(BootstrapSSID)

	if own := tlv.Find(entries, tlv.TypeResourceValue, ownerID); own != nil {
		v, err := own.Int()
		if err != nil {
			return a, err
		}
		a.Owner = uint16(v)
	}

	if acc := tlv.Find(entries, tlv.TypeMultipleResource,
		accessID); acc != nil {

		for _, c := range acc.Children {
			v, err := c.Int()
			if err != nil {
				return a, err
			}
			a.Access[c.ID] = Perm(v)
		}
	}

	return a, nil
}
