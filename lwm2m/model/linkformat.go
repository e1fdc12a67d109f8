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
	"strings"

	"github.com/runtimeco/go-coap"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

const rootLink = `</>;rt="oma.lwm2m"`

// registerLinks lists the entries advertised to a server in ascending
// (object, instance) order.  The Security object is never advertised and
// instances without Read permission for ssid are omitted.
func (s *Store) registerLinks(ssid uint16) []string {
	links := []string{rootLink}

	for _, oid := range s.ObjectIDs() {
		if oid == ObjSecurity {
			continue
		}

		insts := s.Instances(oid)
		if len(insts) == 0 {
			links = append(links, fmt.Sprintf("</%d>", oid))
			continue
		}

		for _, inst := range insts {
			if ssid != BootstrapSSID && !inst.ACL.Allowed(ssid, PermRead) {
				continue
			}
			links = append(links, fmt.Sprintf("<%s>", inst.Path().String()))
		}
	}

	return links
}

// LinkFormat writes the registration payload for ssid into buf and returns
// its length.  A nil buf only computes the length, so callers size the
// buffer with a first pass and fill it with a second.
func (s *Store) LinkFormat(buf []byte, ssid uint16) (int, error) {
	links := s.registerLinks(ssid)

	size := len(links) - 1
	for _, l := range links {
		size += len(l)
	}

	if buf == nil {
		return size, nil
	}
	if len(buf) < size {
		return 0, fmt.Errorf("link format buffer too small; have=%d want=%d",
			len(buf), size)
	}

	off := 0
	for i, l := range links {
		if i > 0 {
			buf[off] = ','
			off++
		}
		off += copy(buf[off:], l)
	}

	return off, nil
}

func (s *Store) LinkFormatBytes(ssid uint16) ([]byte, error) {
	n, err := s.LinkFormat(nil, ssid)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := s.LinkFormat(buf, ssid); err != nil {
		return nil, err
	}
	return buf, nil
}

// AttrFn returns the attribute suffix (e.g. ";pmin=10;pmax=60") shown for a
// path in a Discover response.
type AttrFn func(p Path) string

// Discover lists the paths below p in link format with their attributes.
func (s *Store) Discover(p Path, attrs AttrFn) ([]byte, error) {
	if p.Len == 0 || p.Len > 3 || !s.Exists(p) {
		return nil, lwutil.FmtCoapError(coap.NotFound,
			"cannot discover %s", p.String())
	}

	link := func(q Path) string {
		l := fmt.Sprintf("<%s>", q.String())
		if attrs != nil {
			l += attrs(q)
		}
		return l
	}

	var links []string
	addInst := func(inst *Instance) {
		for _, rid := range inst.def.ResourceIDs() {
			if inst.Has(rid) || inst.def.Resource(rid).Type == TypeNone {
				links = append(links, link(ResourcePath(inst.ObjectID,
					inst.InstanceID, rid)))
			}
		}
	}

	switch p.Len {
	case 1:
		links = append(links, link(p))
		for _, inst := range s.Instances(p.Obj) {
			links = append(links, link(inst.Path()))
			addInst(inst)
		}

	case 2:
		links = append(links, link(p))
		addInst(s.Instance(p.Obj, p.Inst))

	case 3:
		links = append(links, link(p))
	}

	return []byte(strings.Join(links, ",")), nil
}
