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
	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwcoap"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/tlv"
	"mynewt.apache.org/lwm2mclient/lwm2m/xport"
)

func (c *Client) sendBootstrapRequest() {
	s := c.slots[BootstrapSlot]
	if s == nil || !s.connected() {
		c.transition(StateBootstrapConnect)
		return
	}

	m, err := lwcoap.CreateRequest(lwcoap.ReqParams{
		Code:    coap.POST,
		Path:    "/bs",
		Queries: []string{"ep=" + c.endpoint},
		Token:   lwutil.NextToken(),
		Format:  -1,
	})
	if err != nil {
		log.Errorf("failed to build bootstrap request: %s", err.Error())
		c.bootstrapFailed(0)
		return
	}

	c.transition(StateBootstrapRequested)

	sess := s.sess
	err = c.engine.Request(sess, m, func(rsp coap.Message, err error) {
		c.onBootstrapRsp(s, sess, rsp, err)
	})
	if err != nil {
		log.Warnf("bootstrap request failed: %s", err.Error())
		c.closeSlot(s)
		c.scheduleRetry(s, false, StateBootstrapConnect, StateBootstrapWait)
	}
}

func (c *Client) onBootstrapRsp(s *Slot, sess xport.Session,
	rsp coap.Message, err error) {

	if s.sess != sess || c.state != StateBootstrapRequested {
		return
	}

	if err == nil && rsp.Code() == coap.Changed {
		log.Infof("bootstrap request accepted")
		c.bsFinished = false
		c.timers.set("bootstrap", BootstrapTimeout, func() {
			if c.state == StateBootstrapping {
				c.transition(StateBootstrapTimedOut)
			}
		})
		c.transition(StateBootstrapping)
		return
	}

	if err != nil || rsp.Code() == coap.Forbidden {
		if err != nil {
			log.Warnf("bootstrap request: %s", err.Error())
		} else {
			log.Warnf("bootstrap request rejected: %s",
				lwutil.CodeString(rsp.Code()))
		}
		c.closeSlot(s)
		c.scheduleRetry(s, false, StateBootstrapConnect, StateBootstrapWait)
		return
	}

	log.Errorf("bootstrap request failed: %s", lwutil.CodeString(rsp.Code()))
	c.bootstrapFailed(int(rsp.Code()))
}

func (c *Client) bootstrapFailed(code int) {
	c.timers.cancel("bootstrap")
	c.closeSlot(c.slots[BootstrapSlot])
	c.emitError(ErrorBootstrap, BootstrapSlot, code)
	c.emitSimple(EventDisconnected, -1)
	c.forceState(StateDisconnected)
}

func (c *Client) bootstrapTimedOut() {
	log.Warnf("bootstrap server did not finish in %s", BootstrapTimeout)

	s := c.slots[BootstrapSlot]
	c.closeSlot(s)
	c.bsFinished = false
	c.scheduleRetry(s, false, StateBootstrapConnect, StateBootstrapWait)
}

// completeBootstrap installs what the bootstrap server wrote: credentials
// go to the credential store, records to storage, and the bootstrapped
// flag is set last.
func (c *Client) completeBootstrap() {
	c.bsFinished = false
	c.timers.cancel("bootstrap")

	bs := c.slots[BootstrapSlot]
	c.closeSlot(bs)
	bs.retry.Reset()

	c.observers.Clear()

	for i := 1; i < MaxSlots; i++ {
		if s := c.slots[i]; s != nil {
			c.closeSlot(s)
			c.timers.cancel(slotTimer("lifetime", i))
			c.slots[i] = nil
		}
	}
	c.rebuildSlots(nil)

	if len(c.managementSlots()) == 0 {
		log.Errorf("bootstrap provisioned no usable server")
		c.bootstrapFailed(0)
		return
	}

	offline := false
	if !c.misc.Bootstrapped {
		var err error
		offline, err = c.installCredentials()
		if err != nil {
			log.Errorf("failed to install credentials: %s", err.Error())
			c.bootstrapFailed(0)
			if offline {
				c.forceState(StateLinkDown)
			}
			return
		}
	}

	if err := c.saveSlots(); err != nil {
		c.bootstrapFailed(0)
		return
	}
	if err := c.setBootstrapped(true); err != nil {
		c.bootstrapFailed(0)
		return
	}

	c.emitSimple(EventBootstrapped, -1)

	if offline {
		// Registration starts once the modem is back on the network.
		c.forceState(StateLinkDown)
	} else {
		c.forceState(StateRequestConnect)
	}
}

/* Requests from the bootstrap server. */

func (c *Client) handleBootstrapRequest(s *Slot,
	req coap.Message) coap.Message {

	if c.state != StateBootstrapping && c.state != StateBootstrapRequested {
		return errorResponse(req, lwutil.NewCoapError(coap.MethodNotAllowed,
			"not bootstrapping"))
	}

	segs := lwcoap.PathSegments(req)
	if len(segs) == 1 && segs[0] == "bs" {
		if req.Code() != coap.POST && req.Code() != coap.PUT {
			return errorResponse(req, lwutil.NewCoapError(
				coap.MethodNotAllowed, "bootstrap finish must be POST"))
		}
		log.Infof("bootstrap finished")
		c.bsFinished = true
		return lwcoap.NewResponse(req, coap.Changed)
	}

	p, err := model.ParsePath(segs)
	if err != nil {
		return errorResponse(req, lwutil.NewCoapError(coap.NotFound,
			err.Error()))
	}

	switch req.Code() {
	case coap.PUT, coap.POST:
		if err := c.bootstrapWrite(p, req); err != nil {
			return errorResponse(req, err)
		}
		return lwcoap.NewResponse(req, coap.Changed)

	case coap.DELETE:
		if err := c.bootstrapDelete(p); err != nil {
			return errorResponse(req, err)
		}
		return lwcoap.NewResponse(req, coap.Deleted)

	case coap.GET:
		if lwcoap.Accept(req) != int(lwcoap.MediaLinkFormat) {
			return errorResponse(req, lwutil.NewCoapError(
				coap.MethodNotAllowed, "bootstrap read not supported"))
		}
		var b []byte
		if p.Len == 0 {
			b, err = c.st.LinkFormatBytes(model.BootstrapSSID)
		} else {
			b, err = c.st.Discover(p, nil)
		}
		if err != nil {
			return errorResponse(req, err)
		}
		return contentResponse(req, b, int(lwcoap.MediaLinkFormat))

	default:
		return errorResponse(req, lwutil.NewCoapError(coap.MethodNotAllowed,
			"unsupported bootstrap method"))
	}
}

// checkServerURI rejects Security writes carrying an over-long server URI.
func checkServerURI(p model.Path, req coap.Message) error {
	if p.Obj != model.ObjSecurity {
		return nil
	}

	tooLong := func(uri []byte) error {
		if len(uri) > MaxServerURILen {
			return lwutil.FmtCoapError(coap.BadRequest,
				"server URI too long: %d bytes", len(uri))
		}
		return nil
	}

	if lwcoap.ContentFormat(req) == int(lwcoap.MediaTextPlain) {
		if p.Len == 3 && p.Res == model.SecServerURI {
			return tooLong(req.Payload())
		}
		return nil
	}

	entries, err := tlv.Decode(req.Payload())
	if err != nil {
		return lwutil.NewCoapError(coap.BadRequest, err.Error())
	}

	var check func(es []tlv.Entry) error
	check = func(es []tlv.Entry) error {
		for i := range es {
			e := &es[i]
			switch {
			case e.Type == tlv.TypeObjectInstance:
				if err := check(e.Children); err != nil {
					return err
				}
			case e.Type == tlv.TypeResourceValue &&
				e.ID == model.SecServerURI:

				if err := tooLong(e.Value); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return check(entries)
}

func (c *Client) bootstrapWrite(p model.Path, req coap.Message) error {
	if p.Len == 0 {
		return lwutil.NewCoapError(coap.MethodNotAllowed,
			"cannot write the root")
	}
	if err := checkServerURI(p, req); err != nil {
		return err
	}

	switch lwcoap.ContentFormat(req) {
	case int(lwcoap.MediaTextPlain):
		return c.st.WriteText(p, req.Payload(), true)
	case int(lwcoap.MediaTlv), -1:
		return c.st.WriteTLV(p, req.Payload(), true)
	default:
		return lwutil.NewCoapError(coap.UnsupportedMediaType,
			"unsupported content format")
	}
}

// bootstrapDelete removes instances on behalf of the bootstrap server.
// The bootstrap server's own Security instance survives every delete.
func (c *Client) bootstrapDelete(p model.Path) error {
	isBootstrapInst := func(oid uint16, iid uint16) bool {
		if oid != model.ObjSecurity {
			return false
		}
		inst := c.st.Instance(oid, iid)
		return inst != nil && model.SecurityFrom(inst).Bootstrap
	}

	var oids []uint16
	switch p.Len {
	case 0:
		oids = c.st.ObjectIDs()
	case 1:
		oids = []uint16{p.Obj}
	case 2:
		if isBootstrapInst(p.Obj, p.Inst) {
			return lwutil.NewCoapError(coap.BadRequest,
				"cannot delete the bootstrap server")
		}
		return c.st.DeleteInstance(p.Obj, p.Inst)
	default:
		return lwutil.NewCoapError(coap.BadRequest,
			"delete requires an object or instance path")
	}

	for _, oid := range oids {
		if oid != model.ObjSecurity && oid != model.ObjServer {
			continue
		}
		for _, inst := range c.st.Instances(oid) {
			if isBootstrapInst(oid, inst.InstanceID) {
				continue
			}
			c.st.DeleteInstance(oid, inst.InstanceID)
		}
	}
	return nil
}
