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
	"strconv"
	"strings"
)

// Path addresses an object, instance, resource or resource instance.  Len
// is the number of valid levels; a zero-length path is the root.
type Path struct {
	Obj     uint16
	Inst    uint16
	Res     uint16
	ResInst uint16
	Len     int
}

func ObjectPath(obj uint16) Path {
	return Path{Obj: obj, Len: 1}
}

func InstancePath(obj uint16, inst uint16) Path {
	return Path{Obj: obj, Inst: inst, Len: 2}
}

func ResourcePath(obj uint16, inst uint16, res uint16) Path {
	return Path{Obj: obj, Inst: inst, Res: res, Len: 3}
}

// ParsePath converts URI path segments into a Path.  Identifiers must fit in
// 16 bits; 65535 is reserved.
func ParsePath(segs []string) (Path, error) {
	p := Path{}

	if len(segs) > 4 {
		return p, fmt.Errorf("path too deep: /%s", strings.Join(segs, "/"))
	}

	for i, s := range segs {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil || n == 0xffff {
			return p, fmt.Errorf("invalid path segment \"%s\"", s)
		}

		switch i {
		case 0:
			p.Obj = uint16(n)
		case 1:
			p.Inst = uint16(n)
		case 2:
			p.Res = uint16(n)
		case 3:
			p.ResInst = uint16(n)
		}
	}
	p.Len = len(segs)

	return p, nil
}

// ParsePathString parses the "/3/0/9" form produced by String.
func ParsePathString(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, nil
	}
	return ParsePath(strings.Split(s, "/"))
}

func (p Path) String() string {
	ids := []uint16{p.Obj, p.Inst, p.Res, p.ResInst}

	s := ""
	for i := 0; i < p.Len; i++ {
		s += "/" + strconv.Itoa(int(ids[i]))
	}
	if s == "" {
		return "/"
	}
	return s
}

// Contains reports whether q equals p or lies below it.
func (p Path) Contains(q Path) bool {
	if q.Len < p.Len {
		return false
	}

	pi := []uint16{p.Obj, p.Inst, p.Res, p.ResInst}
	qi := []uint16{q.Obj, q.Inst, q.Res, q.ResInst}
	for i := 0; i < p.Len; i++ {
		if pi[i] != qi[i] {
			return false
		}
	}
	return true
}

// Parent returns the path one level up; the root is its own parent.
func (p Path) Parent() Path {
	if p.Len == 0 {
		return p
	}

	q := p
	q.Len--
	switch q.Len {
	case 0:
		q.Obj = 0
		fallthrough
	case 1:
		q.Inst = 0
		fallthrough
	case 2:
		q.Res = 0
		fallthrough
	case 3:
		q.ResInst = 0
	}
	return q
}
