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

	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwcoap"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
	"mynewt.apache.org/lwm2mclient/lwm2m/xport"
)

// sendRegistration registers the slot in focus, or updates it when a
// registration survived from an earlier session.
func (c *Client) sendRegistration() {
	s := c.slot(c.focus)
	if s == nil || !s.connected() {
		c.transition(StateServerConnect)
		return
	}

	c.transition(StateServerRegisterWait)

	var err error
	if s.registered && s.location != "" {
		err = c.sendUpdate(s, true)
	} else {
		err = c.sendRegister(s)
	}
	if err != nil {
		log.Warnf("%s: registration not sent: %s", s, err.Error())
		c.registrationFailed(s, nil, err)
	}
}

func (c *Client) sendRegister(s *Slot) error {
	srv, ok := c.server(s)
	if !ok {
		return lwutil.NewError(lwutil.KindNotFound,
			"no server instance for "+s.String())
	}

	payload, err := c.st.LinkFormatBytes(srv.SSID)
	if err != nil {
		return err
	}

	m, err := lwcoap.CreateRequest(lwcoap.ReqParams{
		Code: coap.POST,
		Path: "/rd",
		Queries: []string{
			"ep=" + c.endpoint,
			fmt.Sprintf("lt=%d", srv.Lifetime),
			"lwm2m=1.0",
			"b=" + srv.Binding,
		},
		Token:   lwutil.NextToken(),
		Format:  int(lwcoap.MediaLinkFormat),
		Payload: payload,
	})
	if err != nil {
		return err
	}

	log.Infof("%s: REGISTER ep=%s lt=%d b=%s", s, c.endpoint, srv.Lifetime,
		srv.Binding)

	sess := s.sess
	return c.engine.Request(sess, m, func(rsp coap.Message, err error) {
		if s.sess != sess || c.state != StateServerRegisterWait ||
			c.focus != s.Index {

			return
		}

		if err == nil && rsp.Code() == coap.Created {
			loc := lwcoap.LocationPath(rsp)
			if loc == "" {
				log.Warnf("%s: registration without location", s)
				c.registrationFailed(s, rsp, nil)
				return
			}
			s.registered = true
			s.location = loc
			c.registrationDone(s, srv)
			return
		}

		c.registrationFailed(s, rsp, err)
	})
}

// sendUpdate sends an UPDATE carrying only the parameters that changed
// since the server last heard from us.
func (c *Client) sendUpdate(s *Slot, connecting bool) error {
	srv, ok := c.server(s)
	if !ok {
		return lwutil.NewError(lwutil.KindNotFound,
			"no server instance for "+s.String())
	}

	var queries []string
	if srv.Lifetime != s.sentLifetime {
		queries = append(queries, fmt.Sprintf("lt=%d", srv.Lifetime))
	}
	if srv.Binding != s.sentBinding {
		queries = append(queries, "b="+srv.Binding)
	}
	if c.msisdn != "" && c.msisdn != s.sentMSISDN {
		queries = append(queries, "sms="+c.msisdn)
	}

	m, err := lwcoap.CreateRequest(lwcoap.ReqParams{
		Code:    coap.POST,
		Path:    s.location,
		Queries: queries,
		Token:   lwutil.NextToken(),
		Format:  -1,
	})
	if err != nil {
		return err
	}

	log.Infof("%s: UPDATE %s %v", s, s.location, queries)

	sess := s.sess
	s.updating = true
	err = c.engine.Request(sess, m, func(rsp coap.Message, err error) {
		if s.sess != sess {
			return
		}
		s.updating = false

		if connecting && (c.state != StateServerRegisterWait ||
			c.focus != s.Index) {

			return
		}

		if err == nil && rsp.Code() == coap.Changed {
			if connecting {
				c.registrationDone(s, srv)
			} else {
				c.markSent(s, srv)
				c.armLifetime(s, srv.Lifetime)
			}
			return
		}

		if connecting {
			c.registrationFailed(s, rsp, err)
			return
		}
		c.updateFailed(s, rsp, err)
	})
	if err != nil {
		s.updating = false
	}
	return err
}

func (c *Client) markSent(s *Slot, srv model.Server) {
	s.sentLifetime = srv.Lifetime
	s.sentBinding = srv.Binding
	s.sentMSISDN = c.msisdn
}

func (c *Client) registrationDone(s *Slot, srv model.Server) {
	log.Infof("%s: registered at %s", s, s.location)

	c.markSent(s, srv)
	s.retry.Reset()
	s.parked = false
	s.updateReq = false
	s.reconnectReq = false

	c.armLifetime(s, srv.Lifetime)
	c.saveSlot(s)
	c.transition(StateIdle)
}

// registrationFailed handles a failed REGISTER or connect-time UPDATE.  A
// rejection drops the registration; the slot retries from its table.
func (c *Client) registrationFailed(s *Slot, rsp coap.Message, err error) {
	code := coap.COAPCode(0)
	if rsp != nil {
		code = rsp.Code()
		log.Warnf("%s: registration rejected: %s", s, lwutil.CodeString(code))
	} else if err != nil {
		log.Warnf("%s: registration failed: %s", s, err.Error())
	}

	if rsp != nil {
		s.registered = false
		s.location = ""
		c.timers.cancel(slotTimer("lifetime", s.Index))
		c.saveSlot(s)

		if c.carrier == retry.CarrierVZW && code == coap.BadRequest &&
			c.ssidOf(s) == VzwManagementSSID {

			s.retry.FastForward()
		}
	}

	c.closeSlot(s)
	c.scheduleRetry(s, false, StateServerConnect, StateServerConnectRetryWait)
}

// updateFailed handles a failed UPDATE sent from Idle.  A rejection means
// the registration is gone and the server is registered afresh; a timeout
// reconnects and updates again.
func (c *Client) updateFailed(s *Slot, rsp coap.Message, err error) {
	if rsp != nil {
		log.Warnf("%s: update rejected: %s", s,
			lwutil.CodeString(rsp.Code()))
		s.registered = false
		s.location = ""
		c.timers.cancel(slotTimer("lifetime", s.Index))
		c.saveSlot(s)
	} else {
		log.Warnf("%s: update failed: %s", s, err.Error())
		s.updateReq = true
	}
	c.closeSlot(s)
}

// armLifetime schedules the UPDATE that keeps a registration alive.
func (c *Client) armLifetime(s *Slot, lifetime int64) {
	d := time.Duration(lifetime)*time.Second - LifetimeMargin
	if d < time.Second {
		d = time.Duration(lifetime) * time.Second / 2
	}

	c.timers.set(slotTimer("lifetime", s.Index), d, func() {
		if s.registered {
			s.updateReq = true
		}
	})
}

func (c *Client) runDeregister() {
	s := c.slot(c.focus)
	if s == nil || !s.registered || !s.connected() {
		if s != nil {
			c.deregistered(s)
		}
		c.transition(StateIdle)
		return
	}

	m, err := lwcoap.CreateRequest(lwcoap.ReqParams{
		Code:   coap.DELETE,
		Path:   s.location,
		Token:  lwutil.NextToken(),
		Format: -1,
	})
	if err != nil {
		c.deregistered(s)
		c.transition(StateIdle)
		return
	}

	log.Infof("%s: DEREGISTER %s", s, s.location)
	c.transition(StateServerDeregistering)

	sess := s.sess
	err = c.engine.Request(sess, m, func(rsp coap.Message, err error) {
		c.onDeregisterRsp(s, sess, rsp, err)
	})
	if err != nil {
		c.onDeregisterRsp(s, sess, nil, err)
	}
}

func (c *Client) onDeregisterRsp(s *Slot, sess xport.Session,
	rsp coap.Message, err error) {

	if s.sess != sess || c.state != StateServerDeregistering {
		return
	}

	if err != nil {
		log.Warnf("%s: deregister: %s", s, err.Error())
	} else if rsp.Code() != coap.Deleted {
		log.Warnf("%s: deregister: %s", s, lwutil.CodeString(rsp.Code()))
		c.emitError(ErrorDisconnectFail, s.Index, int(rsp.Code()))
	}

	c.deregistered(s)
	c.transition(StateIdle)
}

// deregistered forgets the registration of a slot and, when the server
// disabled itself, keeps the slot quiet for its disable timeout.
func (c *Client) deregistered(s *Slot) {
	s.deregReq = false
	s.updateReq = false
	s.registered = false
	s.location = ""
	c.timers.cancel(slotTimer("lifetime", s.Index))

	c.observers.RemoveRemote(c.remoteKey(s))
	c.saveSlot(s)
	c.closeSlot(s)

	if s.disabling {
		s.disabling = false
		c.startDisable(s)
	}
}

// disableSlot handles an execute of the Disable resource.
func (c *Client) disableSlot(s *Slot) {
	if s.registered {
		s.deregReq = true
		s.disabling = true
		return
	}
	c.startDisable(s)
}

func (c *Client) startDisable(s *Slot) {
	tmo := int64(model.DefaultDisableTimeout)
	if srv, ok := c.server(s); ok {
		tmo = srv.DisableTmo
	}
	d := time.Duration(tmo) * time.Second

	log.Infof("%s: disabled for %s", s, d)
	s.disableUntil = c.clock.Uptime() + d
	c.timers.set(slotTimer("disable", s.Index), d, func() {
		s.disableUntil = 0
	})
}
