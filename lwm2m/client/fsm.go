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
	"bytes"
	"time"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/fota"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
)

// Delay between attempts to read the modem firmware version after an
// update.
const fwCheckRetry = time.Second

// transition moves to a new state unless a connect or disconnect request is
// being processed; those states are only left by their own handlers.
func (c *Client) transition(to State) {
	if c.state == StateRequestConnect || c.state == StateRequestDisconnect {
		log.Debugf("transition %s -> %s refused", c.state, to)
		return
	}
	c.forceState(to)
}

func (c *Client) forceState(to State) {
	if c.state == to {
		return
	}

	log.Debugf("state %s -> %s", c.state, to)
	c.state = to

	switch to {
	case StateBootstrapConnect, StateServerConnect:
		c.emitSimple(EventConnecting, c.focus)
	}
}

// runFSM performs one iteration of the state machine.
func (c *Client) runFSM() {
	switch c.state {
	case StateModemFirmwareUpdate:
		c.runModemFirmwareUpdate()

	case StateRequestConnect:
		c.runRequestConnect()

	case StateBootstrapConnect:
		c.startConnect(c.slots[BootstrapSlot], StateBootstrapConnect,
			StateBootstrapConnectWait, StateBootstrapConnected,
			StateBootstrapConnectRetryWait)

	case StateBootstrapConnectWait:
		c.pollConnect(c.slots[BootstrapSlot], StateBootstrapConnect,
			StateBootstrapConnected, StateBootstrapConnectRetryWait)

	case StateBootstrapConnected:
		c.sendBootstrapRequest()

	case StateBootstrapping:
		if c.bsFinished {
			c.completeBootstrap()
		}

	case StateBootstrapTimedOut:
		c.bootstrapTimedOut()

	case StateServerConnect:
		s := c.slot(c.focus)
		if s == nil {
			c.transition(StateIdle)
			return
		}
		c.startConnect(s, StateServerConnect, StateServerConnectWait,
			StateServerConnected, StateServerConnectRetryWait)

	case StateServerConnectWait:
		s := c.slot(c.focus)
		if s == nil {
			c.transition(StateIdle)
			return
		}
		c.pollConnect(s, StateServerConnect, StateServerConnected,
			StateServerConnectRetryWait)

	case StateServerConnectRetryWait:
		// Other servers are served while this one waits.
		if c.otherWork(c.focus) {
			c.transition(StateIdle)
		}

	case StateServerConnected:
		c.sendRegistration()

	case StateIdle:
		c.runIdle()

	case StateServerDeregister:
		c.runDeregister()

	case StateRequestDisconnect:
		c.runRequestDisconnect()

	case StateReset:
		c.runReset()
	}
}

func (c *Client) runModemFirmwareUpdate() {
	if c.timers.pending("fwcheck") {
		return
	}

	ver, err := c.deps.Modem.FirmwareVersion()
	if err != nil {
		log.Warnf("failed to read modem firmware version: %s", err.Error())
		c.timers.set("fwcheck", fwCheckRetry, func() {})
		return
	}

	id := fota.VersionUUID(ver)
	result := fota.ResultSuccess
	if bytes.Equal(id[:], c.misc.FwVersion) {
		result = fota.ResultFailed
	}
	log.Infof("modem firmware update to %s: %s", ver, result)

	c.misc.FwState = persist.FwUpdateExecuted
	c.misc.FwResult = int(result)
	c.misc.FwVersion = nil
	c.saveMisc()

	if c.fw != nil {
		c.fw.Restore(result)
	}
	if c.device != nil {
		c.device.SetFirmwareVersion(ver)
	}

	c.forceState(StateLinkDown)
}

func (c *Client) runRequestConnect() {
	if c.installFactoryCreds() {
		c.forceState(StateLinkDown)
		return
	}

	c.ready = false
	for _, s := range c.slots {
		if s != nil {
			s.holdOffDone = false
			s.parked = false
		}
	}

	if c.misc.Bootstrapped {
		c.forceState(StateIdle)
		return
	}

	bs := c.slots[BootstrapSlot]
	if bs == nil {
		log.Errorf("no bootstrap server")
		c.bootstrapFailed(0)
		return
	}

	c.focus = BootstrapSlot
	sec, _ := c.security(bs)
	if sec.HoldOff > 0 {
		d := time.Duration(sec.HoldOff) * time.Second
		c.timers.set(slotTimer("holdoff", BootstrapSlot), d, func() {
			if c.state == StateBootstrapHoldOff {
				c.transition(StateBootstrapConnect)
			}
		})
		c.forceState(StateBootstrapHoldOff)
		return
	}

	c.forceState(StateBootstrapConnect)
}

// otherWork reports whether a slot other than idx has something for the
// scheduler to do.
func (c *Client) otherWork(idx int) bool {
	for _, s := range c.managementSlots() {
		if s.Index == idx {
			continue
		}
		if s.deregReq && s.registered {
			return true
		}
		if s.parked || s.retryWait || s.disableUntil > 0 {
			continue
		}
		if !s.connected() || !s.registered || s.reconnectReq {
			return true
		}
		if s.updateReq {
			return true
		}
	}
	return false
}

// runIdle is the scheduler: it serves pending deregistrations first, then
// connects, then updates, one slot per iteration in ascending order.
func (c *Client) runIdle() {
	for _, s := range c.managementSlots() {
		if !s.deregReq {
			continue
		}
		if s.registered && s.connected() {
			c.focus = s.Index
			c.transition(StateServerDeregister)
			return
		}
		// Nothing to tell the server.
		c.deregistered(s)
	}

	if c.deregAll {
		c.deregAll = false
		c.closeAll()
		c.emitSimple(EventDisconnected, -1)
		c.forceState(StateDisconnected)
		return
	}

	for _, s := range c.managementSlots() {
		if s.parked || s.retryWait || s.disableUntil > 0 {
			continue
		}
		if s.connected() && s.registered && !s.reconnectReq {
			continue
		}

		if s.reconnectReq {
			s.reconnectReq = false
			c.closeSlot(s)
		}

		c.focus = s.Index
		c.ready = false

		if sec, _ := c.security(s); sec.HoldOff > 0 && !s.holdOffDone {
			s.holdOffDone = true
			idx := s.Index
			d := time.Duration(sec.HoldOff) * time.Second
			c.timers.set(slotTimer("holdoff", idx), d, func() {
				if c.state == StateClientHoldOff && c.focus == idx {
					c.transition(StateServerConnect)
				}
			})
			c.transition(StateClientHoldOff)
			return
		}

		c.transition(StateServerConnect)
		return
	}

	for _, s := range c.managementSlots() {
		if !s.updateReq || !s.registered || !s.connected() || s.updating {
			continue
		}
		s.updateReq = false
		if err := c.sendUpdate(s, false); err != nil {
			log.Warnf("%s: update failed: %s", s, err.Error())
			c.closeSlot(s)
			s.updateReq = true
		}
		return
	}

	if !c.ready {
		for _, s := range c.managementSlots() {
			if s.registered {
				c.ready = true
				c.emitSimple(EventReady, -1)
				break
			}
		}
	}
}

func (c *Client) runRequestDisconnect() {
	c.emitSimple(EventDisconnecting, -1)

	c.closeAll()
	for _, s := range c.slots {
		if s == nil {
			continue
		}
		c.timers.cancel(slotTimer("retry", s.Index))
		c.timers.cancel(slotTimer("pdn", s.Index))
		c.timers.cancel(slotTimer("holdoff", s.Index))
		s.retryWait = false
		s.updating = false
	}
	c.timers.cancel("bootstrap")
	c.bsFinished = false
	c.ready = false

	c.emitSimple(EventDisconnected, -1)
	if c.linkUp {
		c.forceState(StateDisconnected)
	} else {
		c.forceState(StateLinkDown)
	}
}

func (c *Client) runReset() {
	if c.deferred {
		return
	}

	if c.emit(Event{Type: EventReboot, Slot: -1}) != 0 {
		log.Infof("reset deferred by application")
		c.deferred = true
		return
	}

	c.closeAll()
	if c.fwQueue != nil {
		c.fwQueue.StopNoWait(nil)
	}
	if err := c.deps.Modem.Shutdown(); err != nil {
		log.Warnf("modem shutdown failed: %s", err.Error())
	}
	if c.deps.SystemReset != nil {
		if err := c.deps.SystemReset(); err != nil {
			log.Errorf("system reset failed: %s", err.Error())
		}
	}

	c.forceState(StateShutdown)
}
