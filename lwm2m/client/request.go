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
	"strconv"

	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwcoap"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/modem"
	"mynewt.apache.org/lwm2mclient/lwm2m/tlv"
)

func errorResponse(req coap.Message, err error) coap.Message {
	code := lwutil.CoapCodeFor(err)
	log.Debugf("request %s failed: %s: %s", lwcoap.MsgString(req),
		lwutil.CodeString(code), err.Error())
	return lwcoap.NewResponse(req, code)
}

func contentResponse(req coap.Message, payload []byte,
	format int) coap.Message {

	rsp := lwcoap.NewResponse(req, coap.Content)
	if format >= 0 {
		rsp.SetOption(coap.ContentFormat, coap.MediaType(format))
	}
	rsp.SetPayload(payload)
	return rsp
}

func unauthorized(p model.Path) error {
	return lwutil.FmtCoapError(coap.Unauthorized, "access denied: %s",
		p.String())
}

// handleRequest serves a request received from a server and sends the
// response.
func (c *Client) handleRequest(s *Slot, req coap.Message) {
	var rsp coap.Message
	if s.Index == BootstrapSlot {
		rsp = c.handleBootstrapRequest(s, req)
	} else {
		rsp = c.handleServerRequest(s, req)
	}

	if rsp == nil || s.sess == nil {
		return
	}
	if err := c.engine.Respond(s.sess, req, rsp); err != nil {
		log.Warnf("%s: failed to send response: %s", s, err.Error())
		c.writeFailed(s, err)
	}
}

// onRegStatus runs in the modem's context; the work is queued for the loop.
func (c *Client) onRegStatus(st modem.RegStatus) {
	c.post(func() { c.linkStatus(st) })
}

func (c *Client) linkStatus(st modem.RegStatus) {
	log.Infof("network registration: %s", st)

	switch st {
	case modem.RegSearching, modem.RegUnknown:
		return

	case modem.RegHome, modem.RegRoaming:
		if st == modem.RegRoaming && !c.cfg.RoamAsHome {
			break
		}
		c.linkUp = true
		switch c.state {
		case StateLinkDown, StateDisconnected:
			c.forceState(StateRequestConnect)
		}
		return
	}

	c.linkUp = false
	for _, s := range c.slots {
		if s != nil {
			s.resetFamily()
		}
	}
	switch c.state {
	case StateBooting, StateModemFirmwareUpdate, StateLinkDown,
		StateDisconnected, StateReset, StateShutdown:

		return
	}
	c.forceState(StateRequestDisconnect)
}

/* Requests from management servers. */

// readFor encodes a path for a server.  format is the requested content
// format or -1 to pick one: text for a single-valued resource, TLV
// otherwise.
func (c *Client) readFor(p model.Path, format int,
	ssid uint16) ([]byte, int, error) {

	single := false
	if p.Len == 3 {
		if def := c.st.Def(p.Obj); def != nil {
			if rd := def.Resource(p.Res); rd != nil && !rd.Multiple {
				single = true
			}
		}
	}
	if p.Len == 4 {
		single = true
	}

	if format < 0 {
		if single && p.Len == 3 {
			format = int(lwcoap.MediaTextPlain)
		} else {
			format = int(lwcoap.MediaTlv)
		}
	}

	switch format {
	case int(lwcoap.MediaTextPlain):
		if !single || p.Len != 3 {
			return nil, format, lwutil.NewCoapError(coap.NotAcceptable,
				"text/plain requires a single resource")
		}
		b, err := c.st.ReadText(p)
		return b, format, err

	case int(lwcoap.MediaTlv):
		filter := func(inst *model.Instance) bool {
			return inst.ACL.Allowed(ssid, model.PermRead)
		}
		b, err := c.st.ReadTLV(p, filter)
		return b, format, err

	default:
		return nil, format, lwutil.FmtCoapError(coap.NotAcceptable,
			"unsupported content format %d", format)
	}
}

// authorize checks the access list of the instance named by p.  Object
// paths are checked per instance by the operation itself or by
// authorizeObject.
func (c *Client) authorize(p model.Path, ssid uint16, perm model.Perm) error {
	if p.Obj == model.ObjSecurity {
		return unauthorized(p)
	}
	if p.Len < 2 {
		if c.st.Def(p.Obj) == nil {
			return lwutil.FmtCoapError(coap.NotFound, "no such object: %s",
				p.String())
		}
		return nil
	}

	inst := c.st.Instance(p.Obj, p.Inst)
	if inst == nil {
		return lwutil.FmtCoapError(coap.NotFound, "no such instance: %s",
			p.String())
	}
	if !inst.ACL.Allowed(ssid, perm) {
		return unauthorized(p)
	}
	return nil
}

// authorizeObject checks that some instance of the object named by p grants
// every permission in perms.  An object without instances passes.
func (c *Client) authorizeObject(p model.Path, ssid uint16,
	perms ...model.Perm) error {

	if p.Len != 1 {
		return nil
	}

	insts := c.st.Instances(p.Obj)
	if len(insts) == 0 {
		return nil
	}
	for _, inst := range insts {
		ok := true
		for _, perm := range perms {
			if !inst.ACL.Allowed(ssid, perm) {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
	}
	return unauthorized(p)
}

func (c *Client) handleServerRequest(s *Slot, req coap.Message) coap.Message {
	ssid := c.ssidOf(s)

	p, err := model.ParsePath(lwcoap.PathSegments(req))
	if err != nil {
		return errorResponse(req, lwutil.NewCoapError(coap.NotFound,
			err.Error()))
	}

	switch req.Code() {
	case coap.GET:
		return c.serveGet(s, ssid, p, req)
	case coap.PUT:
		return c.servePut(ssid, p, req)
	case coap.POST:
		return c.servePost(ssid, p, req)
	case coap.DELETE:
		return c.serveDelete(ssid, p, req)
	default:
		return errorResponse(req, lwutil.NewCoapError(coap.MethodNotAllowed,
			"unsupported method"))
	}
}

func (c *Client) serveGet(s *Slot, ssid uint16, p model.Path,
	req coap.Message) coap.Message {

	if p.Len == 0 {
		return errorResponse(req, lwutil.NewCoapError(coap.MethodNotAllowed,
			"cannot read the root"))
	}

	accept := lwcoap.Accept(req)
	if accept == int(lwcoap.MediaLinkFormat) {
		if p.Obj == model.ObjSecurity {
			return errorResponse(req, unauthorized(p))
		}
		b, err := c.st.Discover(p, func(q model.Path) string {
			return c.observers.AttrString(q, ssid)
		})
		if err != nil {
			return errorResponse(req, err)
		}
		return contentResponse(req, b, int(lwcoap.MediaLinkFormat))
	}

	obs := lwcoap.Observe(req)
	if err := c.authorize(p, ssid, model.PermRead); err != nil {
		return errorResponse(req, err)
	}
	if obs == 0 {
		if err := c.authorize(p, ssid, model.PermObserve); err != nil {
			return errorResponse(req, err)
		}
		err := c.authorizeObject(p, ssid, model.PermRead, model.PermObserve)
		if err != nil {
			return errorResponse(req, err)
		}
	}

	b, format, err := c.readFor(p, accept, ssid)
	if err != nil {
		return errorResponse(req, err)
	}

	rsp := contentResponse(req, b, format)

	switch obs {
	case 0:
		o, err := c.observers.Add(c.remoteKey(s), s.sess, req.Token(), p,
			format, ssid)
		if err != nil {
			return errorResponse(req, err)
		}
		rsp.SetObserve(int(o.Seq))
		log.Infof("%s: observing %s", s, p)

	case 1:
		if c.observers.Cancel(c.remoteKey(s), req.Token()) {
			log.Infof("%s: observation of %s cancelled", s, p)
		}
	}

	return rsp
}

func (c *Client) servePut(ssid uint16, p model.Path,
	req coap.Message) coap.Message {

	if p.Len == 0 {
		return errorResponse(req, lwutil.NewCoapError(coap.MethodNotAllowed,
			"cannot write the root"))
	}

	queries := lwcoap.Queries(req)
	if len(queries) > 0 && len(req.Payload()) == 0 {
		// Write-Attributes.
		if err := c.authorize(p, ssid, model.PermRead); err != nil {
			return errorResponse(req, err)
		}
		if err := c.authorizeObject(p, ssid, model.PermRead); err != nil {
			return errorResponse(req, err)
		}
		if err := c.observers.WriteAttributes(p, ssid, queries); err != nil {
			return errorResponse(req, err)
		}
		return lwcoap.NewResponse(req, coap.Changed)
	}

	if p.Len < 2 {
		return errorResponse(req, lwutil.NewCoapError(coap.MethodNotAllowed,
			"cannot write an object"))
	}
	if err := c.serverWrite(ssid, p, req); err != nil {
		return errorResponse(req, err)
	}
	return lwcoap.NewResponse(req, coap.Changed)
}

func (c *Client) serverWrite(ssid uint16, p model.Path,
	req coap.Message) error {

	if err := c.authorize(p, ssid, model.PermWrite); err != nil {
		return err
	}

	switch lwcoap.ContentFormat(req) {
	case int(lwcoap.MediaTextPlain):
		return c.st.WriteText(p, req.Payload(), false)
	case int(lwcoap.MediaTlv), -1:
		return c.st.WriteTLV(p, req.Payload(), false)
	default:
		return lwutil.NewCoapError(coap.UnsupportedMediaType,
			"unsupported content format")
	}
}

func (c *Client) servePost(ssid uint16, p model.Path,
	req coap.Message) coap.Message {

	switch p.Len {
	case 1:
		return c.serveCreate(ssid, p, req)

	case 2:
		if err := c.serverWrite(ssid, p, req); err != nil {
			return errorResponse(req, err)
		}
		return lwcoap.NewResponse(req, coap.Changed)

	case 3:
		if err := c.authorize(p, ssid, model.PermExecute); err != nil {
			return errorResponse(req, err)
		}
		if err := c.st.Execute(p, req.Payload()); err != nil {
			return errorResponse(req, err)
		}
		return lwcoap.NewResponse(req, coap.Changed)

	default:
		return errorResponse(req, lwutil.NewCoapError(coap.MethodNotAllowed,
			"unsupported POST target"))
	}
}

// serveCreate adds an object instance.  The creating server owns it.
func (c *Client) serveCreate(ssid uint16, p model.Path,
	req coap.Message) coap.Message {

	if p.Obj == model.ObjSecurity || p.Obj == model.ObjServer {
		return errorResponse(req, unauthorized(p))
	}
	def := c.st.Def(p.Obj)
	if def == nil {
		return errorResponse(req, lwutil.FmtCoapError(coap.NotFound,
			"no such object: %s", p.String()))
	}
	if f := lwcoap.ContentFormat(req); f != int(lwcoap.MediaTlv) && f != -1 {
		return errorResponse(req, lwutil.NewCoapError(
			coap.UnsupportedMediaType, "create requires TLV"))
	}

	entries, err := tlv.Decode(req.Payload())
	if err != nil {
		return errorResponse(req, lwutil.NewCoapError(coap.BadRequest,
			err.Error()))
	}

	iid := uint16(0)
	if len(entries) == 1 && entries[0].Type == tlv.TypeObjectInstance {
		iid = entries[0].ID
		entries = entries[0].Children
	} else {
		for c.st.Instance(p.Obj, iid) != nil {
			iid++
		}
	}

	inst, err := c.st.CreateInstance(p.Obj, iid, model.NewACL(ssid))
	if err != nil {
		return errorResponse(req, err)
	}
	if err := c.st.WriteEntries(inst, entries, false); err != nil {
		c.st.DeleteInstance(p.Obj, iid)
		return errorResponse(req, err)
	}

	log.Infof("server %d created %s", ssid, inst.Path())

	rsp := lwcoap.NewResponse(req, coap.Created)
	rsp.AddOption(coap.LocationPath, strconv.Itoa(int(p.Obj)))
	rsp.AddOption(coap.LocationPath, strconv.Itoa(int(iid)))
	return rsp
}

func (c *Client) serveDelete(ssid uint16, p model.Path,
	req coap.Message) coap.Message {

	if p.Len != 2 {
		return errorResponse(req, unauthorized(p))
	}
	if p.Obj == model.ObjServer || p.Obj == model.ObjSecurity {
		return errorResponse(req, unauthorized(p))
	}
	if err := c.authorize(p, ssid, model.PermDelete); err != nil {
		return errorResponse(req, err)
	}
	if err := c.st.Delete(p); err != nil {
		return errorResponse(req, err)
	}

	for _, s := range c.managementSlots() {
		c.observers.CancelPath(c.remoteKey(s), p)
	}
	return lwcoap.NewResponse(req, coap.Deleted)
}
