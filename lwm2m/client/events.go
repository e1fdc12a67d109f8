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

	log "github.com/sirupsen/logrus"
)

type EventType int

const (
	EventModemInit EventType = iota
	EventConnecting
	EventConnected
	EventDisconnecting
	EventDisconnected
	EventBootstrapped
	EventReady
	EventDeferred
	EventReboot
	EventError
)

var eventTypeNameMap = map[EventType]string{
	EventModemInit:     "MODEM_INIT",
	EventConnecting:    "CONNECTING",
	EventConnected:     "CONNECTED",
	EventDisconnecting: "DISCONNECTING",
	EventDisconnected:  "DISCONNECTED",
	EventBootstrapped:  "BOOTSTRAPPED",
	EventReady:         "READY",
	EventDeferred:      "DEFERRED",
	EventReboot:        "REBOOT",
	EventError:         "ERROR",
}

func (t EventType) String() string {
	s := eventTypeNameMap[t]
	if s == "" {
		return "???"
	}
	return s
}

type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorConnectFail
	ErrorDisconnectFail
	ErrorBootstrap
)

var errorCodeNameMap = map[ErrorCode]string{
	ErrorNone:           "none",
	ErrorConnectFail:    "CONNECT_FAIL",
	ErrorDisconnectFail: "DISCONNECT_FAIL",
	ErrorBootstrap:      "BOOTSTRAP",
}

func (c ErrorCode) String() string {
	return errorCodeNameMap[c]
}

// Event is delivered to the application.  Slot is the server slot the
// event concerns, or -1.
type Event struct {
	Type  EventType
	Code  ErrorCode
	Slot  int
	Value int
}

func (e Event) String() string {
	s := e.Type.String()
	if e.Type == EventError {
		s += fmt.Sprintf("(%s, %d)", e.Code, e.Value)
	}
	if e.Slot >= 0 {
		s += fmt.Sprintf(" slot=%d", e.Slot)
	}
	return s
}

// EventFn receives client events.  For EventReboot a non-zero return
// defers the reset.  It runs on the client's loop and must not block.
type EventFn func(ev Event) int

func (c *Client) emit(ev Event) int {
	log.Infof("event: %s", ev)

	c.events = append(c.events, ev)
	if len(c.events) > maxEventHistory {
		c.events = c.events[1:]
	}

	if c.deps.Events == nil {
		return 0
	}
	return c.deps.Events(ev)
}

func (c *Client) emitSimple(t EventType, slot int) {
	c.emit(Event{Type: t, Slot: slot})
}

func (c *Client) emitError(code ErrorCode, slot int, value int) {
	c.emit(Event{Type: EventError, Code: code, Slot: slot, Value: value})
}
