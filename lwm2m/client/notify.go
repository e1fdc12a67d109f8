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
	"mynewt.apache.org/lwm2mclient/lwm2m/observe"
)

// notifyReady reports whether the server may receive notifications now.
// Notifications wait while the client is connecting or registering, except
// for a server whose UPDATE is in flight.
func (c *Client) notifyReady(ssid uint16) bool {
	s := c.slotBySSID(ssid)
	if s == nil || !s.registered || !s.connected() || s.reconnectReq {
		return false
	}
	return c.state == StateIdle || s.updating
}

// writeFailed asks for a reconnect of the slot when a message could not
// be written to its session.  Observers are rebound and notified again
// once the session is back.
func (c *Client) writeFailed(s *Slot, err error) {
	if s == nil || s.reconnectReq || !lwutil.IsXport(err) {
		return
	}
	log.Warnf("%s: write failed; reconnecting: %s", s, err.Error())
	c.requestUpdate(s, true)
}

func (c *Client) sendNotification(o *observe.Observer, con bool) error {
	remote := o.Remote
	token := append([]byte(nil), o.Token...)

	params := lwcoap.NotifyParams{
		Token:  token,
		Seq:    int(o.Seq),
		Format: o.Format,
		Con:    con,
	}

	b, _, err := c.readFor(o.Path, o.Format, o.SSID)
	if err != nil {
		// The observed path went away; tell the server and stop.
		params.Code = lwutil.CoapCodeFor(err)
		params.Format = -1
		log.Infof("observation %s ends: %s", o, err.Error())

		nerr := c.engine.Notify(o.Conn, params, nil)
		c.observers.Cancel(remote, token)
		c.writeFailed(c.slotBySSID(o.SSID), nerr)
		return nerr
	}
	params.Code = coap.Content
	params.Payload = b

	err = c.engine.Notify(o.Conn, params, func(err error) {
		if err == nil {
			return
		}
		if lwcoap.IsReset(err) {
			log.Infof("notification reset by server; cancelling %s",
				o.Path)
			c.observers.Cancel(remote, token)
			return
		}
		log.Debugf("notification not acknowledged: %s", err.Error())
	})
	c.writeFailed(c.slotBySSID(o.SSID), err)
	return err
}
