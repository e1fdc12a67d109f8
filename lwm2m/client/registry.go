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

package client

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/modem"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
	"mynewt.apache.org/lwm2mclient/lwm2m/xport"
)

const (
	MaxSlots = persist.MaxSlots

	// Slot 0 always holds the bootstrap server.
	BootstrapSlot = 0
)

// Well-known short server ids on Verizon.
const (
	VzwBootstrapSSID   uint16 = 100
	VzwDiagnosticsSSID uint16 = 101
	VzwManagementSSID  uint16 = 102
	VzwRepositorySSID  uint16 = 1000
)

// Slot is the runtime state of one server connection.  The slot index is
// the Security instance id; Server data is looked up through srvInst.
type Slot struct {
	Index int

	srvInst uint16
	hasSrv  bool

	family   modem.Family
	fellBack bool

	sess    xport.Session
	pending bool // handshake in progress
	retry   *retry.Counter

	registered bool
	location   string

	// Values last sent to the server in a REGISTER or UPDATE.
	sentLifetime int64
	sentBinding  string
	sentMSISDN   string

	updateReq    bool
	reconnectReq bool
	deregReq     bool
	updating     bool
	holdOffDone  bool
	parked       bool
	retryWait    bool
	disabling    bool
	disableUntil time.Duration
}

func newSlot(idx int, table []time.Duration) *Slot {
	return &Slot{
		Index:  idx,
		family: modem.FamilyIPv6,
		retry:  retry.NewCounter(table),
	}
}

func (s *Slot) String() string {
	return fmt.Sprintf("slot %d", s.Index)
}

// resetFamily forgets a learned IPv4 preference.
func (s *Slot) resetFamily() {
	s.family = modem.FamilyIPv6
	s.fellBack = false
}

func (s *Slot) connected() bool {
	return s.sess != nil && !s.pending
}

// SlotStatus is a snapshot of one slot for display.
type SlotStatus struct {
	Index      int
	Bootstrap  bool
	SSID       uint16
	URI        string
	Lifetime   int64
	Binding    string
	Registered bool
	Location   string
	Connected  bool
	Family     string
	Attempts   int
	Disabled   bool
}

func (c *Client) slot(idx int) *Slot {
	if idx < 0 || idx >= MaxSlots {
		return nil
	}
	return c.slots[idx]
}

func (c *Client) security(s *Slot) (model.Security, bool) {
	inst := c.st.Instance(model.ObjSecurity, uint16(s.Index))
	if inst == nil {
		return model.Security{}, false
	}
	return model.SecurityFrom(inst), true
}

func (c *Client) server(s *Slot) (model.Server, bool) {
	if !s.hasSrv {
		return model.Server{}, false
	}
	inst := c.st.Instance(model.ObjServer, s.srvInst)
	if inst == nil {
		return model.Server{}, false
	}
	return model.ServerFrom(inst), true
}

func (c *Client) ssidOf(s *Slot) uint16 {
	if s.Index == BootstrapSlot {
		return model.BootstrapSSID
	}
	sec, _ := c.security(s)
	return sec.SSID
}

// remoteKey identifies a server to the observer registry.  It stays the
// same across reconnects and restarts.
func (c *Client) remoteKey(s *Slot) string {
	sec, _ := c.security(s)
	return fmt.Sprintf("%d:%s", sec.SSID, sec.URI)
}

func (c *Client) slotBySSID(ssid uint16) *Slot {
	for _, s := range c.slots {
		if s == nil || s.Index == BootstrapSlot {
			continue
		}
		if c.ssidOf(s) == ssid {
			return s
		}
	}
	return nil
}

func (c *Client) slotByServerInst(iid uint16) *Slot {
	for _, s := range c.slots {
		if s != nil && s.hasSrv && s.srvInst == iid {
			return s
		}
	}
	return nil
}

func (c *Client) slotBySession(sess xport.Session) *Slot {
	for _, s := range c.slots {
		if s != nil && s.sess != nil && s.sess == sess {
			return s
		}
	}
	return nil
}

// rebuildSlots maps Security instances to slots and pairs each management
// server with its Server instance by short server id.  Registration state
// is taken from regs, keyed by Server instance id.
func (c *Client) rebuildSlots(regs map[uint16]persist.RegState) {
	var slots [MaxSlots]*Slot
	usedSSID := map[uint16]int{}

	for _, inst := range c.st.Instances(model.ObjSecurity) {
		idx := int(inst.InstanceID)
		if idx >= MaxSlots {
			log.Warnf("security instance %d outside slot range; ignored", idx)
			continue
		}
		sec := model.SecurityFrom(inst)

		if sec.Bootstrap != (idx == BootstrapSlot) {
			log.Warnf("security instance %d: bootstrap=%t in slot %d; ignored",
				idx, sec.Bootstrap, idx)
			continue
		}

		if !sec.Bootstrap {
			if sec.SSID == 0 {
				log.Warnf("security instance %d has no short server id", idx)
				continue
			}
			if other, ok := usedSSID[sec.SSID]; ok {
				log.Warnf("security instances %d and %d share ssid %d; "+
					"using %d", other, idx, sec.SSID, other)
				continue
			}
			usedSSID[sec.SSID] = idx
		}

		s := c.slots[idx]
		if s == nil {
			s = newSlot(idx, c.profile.Connect)
		}
		s.hasSrv = false
		slots[idx] = s
	}

	for _, inst := range c.st.Instances(model.ObjServer) {
		srv := model.ServerFrom(inst)
		idx, ok := usedSSID[srv.SSID]
		if !ok {
			log.Warnf("server instance %d: no security instance for ssid %d",
				inst.InstanceID, srv.SSID)
			continue
		}
		s := slots[idx]
		if s.hasSrv {
			continue
		}
		s.srvInst = inst.InstanceID
		s.hasSrv = true

		// Management servers own their Server instance.
		if inst.ACL.Owner == model.BootstrapSSID {
			inst.ACL.Owner = srv.SSID
		}

		if regs != nil {
			reg := regs[inst.InstanceID]
			s.registered = reg.Registered && reg.Location != ""
			s.location = reg.Location
		}
	}

	// A management slot without a Server instance cannot register.
	for i, s := range slots {
		if s != nil && i != BootstrapSlot && !s.hasSrv {
			log.Warnf("slot %d has no server instance; ignored", i)
			slots[i] = nil
		}
	}

	// Sessions of slots that went away are closed.
	for i, s := range c.slots {
		if s != nil && slots[i] != s {
			c.closeSlot(s)
		}
	}

	c.slots = slots
	for _, s := range c.slots {
		if s != nil {
			log.Debugf("%s: ssid=%d registered=%t location=%s", s,
				c.ssidOf(s), s.registered, s.location)
		}
	}
}

// managementSlots returns the non-bootstrap slots in ascending order.
func (c *Client) managementSlots() []*Slot {
	var out []*Slot
	for i, s := range c.slots {
		if s != nil && i != BootstrapSlot {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) slotStatus(s *Slot) SlotStatus {
	st := SlotStatus{
		Index:      s.Index,
		Bootstrap:  s.Index == BootstrapSlot,
		Registered: s.registered,
		Location:   s.location,
		Connected:  s.connected(),
		Family:     s.family.String(),
		Attempts:   s.retry.Attempts(),
		Disabled:   s.disableUntil > 0,
	}
	if sec, ok := c.security(s); ok {
		st.SSID = sec.SSID
		st.URI = sec.URI
	}
	if srv, ok := c.server(s); ok {
		st.Lifetime = srv.Lifetime
		st.Binding = srv.Binding
	}
	return st
}
