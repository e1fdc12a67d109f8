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

// Package xport provides the datagram sessions LwM2M traffic runs over:
// plain UDP and PSK DTLS 1.2.
package xport

import (
	"fmt"
	"net"
	"time"

	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
)

const MaxPacketSize = 2048

const DefaultHandshakeTimeout = 30 * time.Second

// Params describes one session to a server.
type Params struct {
	Addr   *net.UDPAddr
	Secure bool
	SecTag uint32

	// Access point the socket is bound to; empty for the default PDN.
	APN string
}

func (p Params) String() string {
	scheme := "coap"
	if p.Secure {
		scheme = "coaps"
	}
	s := fmt.Sprintf("%s://%s", scheme, p.Addr)
	if p.Secure {
		s += fmt.Sprintf(" sec_tag=%d", p.SecTag)
	}
	if p.APN != "" {
		s += " apn=" + p.APN
	}
	return s
}

// RxFn receives every datagram a session reads.  It runs on the session's
// reader goroutine.
type RxFn func(s Session, data []byte)

// Session is a connected datagram transport.
type Session interface {
	Write(b []byte) error
	Remote() string

	// Poll reports the state of a non-blocking setup: nil once usable,
	// an InProgressError while still connecting, any other error on
	// failure.
	Poll() error

	Close() error
}

// Dialer opens sessions.  A secure session may be returned together with
// an InProgressError while its handshake runs in the background.
type Dialer interface {
	Dial(p Params, rx RxFn) (Session, error)
}

// NetDialer dials real sockets.  Credentials for secure sessions come from
// Creds by security tag.
type NetDialer struct {
	Creds            creds.Store
	HandshakeTimeout time.Duration
}

func NewNetDialer(cs creds.Store) *NetDialer {
	return &NetDialer{
		Creds:            cs,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

func (d *NetDialer) Dial(p Params, rx RxFn) (Session, error) {
	if p.Secure {
		s, err := dialDtls(p, d.Creds, d.HandshakeTimeout, rx)
		if s == nil {
			return nil, err
		}
		return s, err
	}

	s, err := dialUdp(p, rx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
