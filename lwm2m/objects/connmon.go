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

package objects

import (
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
)

// APN classes; the class is the resource instance of /4/0/7 the name is
// stored at.
const (
	APNClassDefault uint16 = 0
	APNClassAdmin   uint16 = 1
)

const DefaultAdminAPN = "VZWADMIN"

// Network Bearer values.
const (
	BearerLteFdd = 6
	BearerNbIot  = 7
)

// ConnMon is the handler of /4/0.  All its resources are read-only for
// servers; the modem side updates them.
type ConnMon struct {
	model.DefaultHandler

	st *model.Store
}

func NewConnMon(st *model.Store) *ConnMon {
	return &ConnMon{
		st: st,
	}
}

func (c *ConnMon) Install(apns []string, acl model.ACL) error {
	c.st.AddObject(model.ConnMonDef, c)
	if _, err := c.st.CreateInstance(model.ObjConnMon, 0, acl); err != nil {
		return err
	}

	c.st.Set(model.ObjConnMon, 0, model.ConnBearer, BearerLteFdd)
	c.st.Set(model.ObjConnMon, 0, model.ConnAvailBearers,
		[]int64{BearerLteFdd, BearerNbIot})
	return c.SetAPNs(apns)
}

func (c *ConnMon) SetAPNs(apns []string) error {
	return c.st.Set(model.ObjConnMon, 0, model.ConnAPN, apns)
}

func (c *ConnMon) SetRadio(signal int, cellID int64, mnc int, mcc int) {
	c.st.Set(model.ObjConnMon, 0, model.ConnSignal, signal)
	c.st.Set(model.ObjConnMon, 0, model.ConnCellID, cellID)
	c.st.Set(model.ObjConnMon, 0, model.ConnSMNC, mnc)
	c.st.Set(model.ObjConnMon, 0, model.ConnSMCC, mcc)
}

func (c *ConnMon) SetIPAddrs(addrs []string) error {
	return c.st.Set(model.ObjConnMon, 0, model.ConnIPAddrs, addrs)
}

// AdminAPN returns the class 2 administrative APN from /4/0/7.
func AdminAPN(st *model.Store) string {
	inst := st.Instance(model.ObjConnMon, 0)
	if inst == nil {
		return DefaultAdminAPN
	}

	if s, ok := inst.Multi(model.ConnAPN)[APNClassAdmin].(string); ok &&
		s != "" {

		return s
	}
	return DefaultAdminAPN
}
