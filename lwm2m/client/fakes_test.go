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
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/runtimeco/go-coap"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwcoap"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/modem"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
	"mynewt.apache.org/lwm2mclient/lwm2m/tlv"
	"mynewt.apache.org/lwm2mclient/lwm2m/xport"
)

const (
	testIMEI   = "123456789012345"
	testMSISDN = "15551234567"
	testBsURI  = "coap://bs.example.com:5683"
	testDmURI  = "coap://dm.example.com:5683"
)

type fakeModem struct {
	imei     string
	msisdn   string
	operator string
	fw       string
	fwErr    error

	online   bool
	offlines int
	shutdown bool
	pdns     []string
	regCb    func(s modem.RegStatus)
}

func newFakeModem() *fakeModem {
	return &fakeModem{
		imei:     testIMEI,
		msisdn:   testMSISDN,
		operator: "311480",
		fw:       "mfw_1.0.0",
		online:   true,
	}
}

func (m *fakeModem) IMEI() (string, error) { return m.imei, nil }
func (m *fakeModem) MSISDN() (string, error) { return m.msisdn, nil }
func (m *fakeModem) ICCID() (string, error) { return "8914800000000000000", nil }
func (m *fakeModem) Operator() (string, error) { return m.operator, nil }

func (m *fakeModem) FirmwareVersion() (string, error) {
	return m.fw, m.fwErr
}

func (m *fakeModem) SetOnline(on bool) error {
	m.online = on
	if !on {
		m.offlines++
	}
	if m.regCb != nil {
		if on {
			m.regCb(modem.RegHome)
		} else {
			m.regCb(modem.RegNotRegistered)
		}
	}
	return nil
}

func (m *fakeModem) ActivatePDN(apn string) error {
	m.pdns = append(m.pdns, apn)
	return nil
}

func (m *fakeModem) DeactivatePDN(apn string) error { return nil }
func (m *fakeModem) IPv6Ready(apn string) (bool, error) { return true, nil }

func (m *fakeModem) Shutdown() error {
	m.shutdown = true
	return nil
}

func (m *fakeModem) SetRegStatusCb(cb func(s modem.RegStatus)) {
	m.regCb = cb
}

type fakeResolver struct {
	noIPv6      bool
	ipv6Timeout bool
	calls       []modem.Family
}

func (r *fakeResolver) Resolve(ctx context.Context, host string,
	family modem.Family, apn string) (net.IP, error) {

	r.calls = append(r.calls, family)
	if family == modem.FamilyIPv6 {
		if r.noIPv6 {
			return nil, lwutil.NewNoAddressError(int(family), host)
		}
		if r.ipv6Timeout {
			return nil, lwutil.NewRspTimeoutError("DNS query timed out")
		}
		return net.ParseIP("2001:db8::1"), nil
	}
	return net.ParseIP("192.0.2.1"), nil
}

type fakeSession struct {
	params     xport.Params
	rx         xport.RxFn
	writes     [][]byte
	closed     bool
	failWrites bool
}

func (s *fakeSession) Write(b []byte) error {
	if s.closed {
		return lwutil.NewXportError("session closed")
	}
	if s.failWrites {
		return lwutil.NewXportError("no route to host")
	}
	s.writes = append(s.writes, append([]byte(nil), b...))
	return nil
}

func (s *fakeSession) Remote() string { return s.params.Addr.String() }
func (s *fakeSession) Poll() error { return nil }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// last parses the most recent datagram the client sent.
func (s *fakeSession) last(t *testing.T) coap.Message {
	require.NotEmpty(t, s.writes)
	m, err := lwcoap.Parse(s.writes[len(s.writes)-1])
	require.NoError(t, err)
	return m
}

func (s *fakeSession) inject(t *testing.T, m coap.Message) {
	b, err := lwcoap.Encode(m)
	require.NoError(t, err)
	s.rx(s, b)
}

type fakeDialer struct {
	sessions []*fakeSession
	err      error
}

func (d *fakeDialer) Dial(p xport.Params, rx xport.RxFn) (xport.Session,
	error) {

	if d.err != nil {
		return nil, d.err
	}
	s := &fakeSession{params: p, rx: rx}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) last() *fakeSession {
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

type harness struct {
	t        *testing.T
	clk      *lwutil.ManualClock
	modem    *fakeModem
	resolver *fakeResolver
	dialer   *fakeDialer
	creds    *creds.MemStore
	kv       *persist.MemKV
	events   []Event
	veto     int
	c        *Client
	mid      uint16
}

// newPlatform sets up the fake platform without starting a client.
func newPlatform(t *testing.T) *harness {
	return &harness{
		t:        t,
		clk:      lwutil.NewManualClock(time.Unix(1500000000, 0)),
		modem:    newFakeModem(),
		resolver: &fakeResolver{},
		dialer:   &fakeDialer{},
		creds:    creds.NewMemStore(),
		kv:       persist.NewMemKV(),
		mid:      0x4000,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := newPlatform(t)
	h.start(cfg)
	return h
}

// start creates and initializes a client on the harness' platform; a
// second call simulates a reboot.
func (h *harness) start(cfg Config) {
	if cfg.BootstrapURI == "" {
		cfg.BootstrapURI = testBsURI
	}

	c, err := New(cfg, Deps{
		Clock:    h.clk,
		Modem:    h.modem,
		Resolver: h.resolver,
		Dialer:   h.dialer,
		Creds:    h.creds,
		KV:       h.kv,
		Events: func(ev Event) int {
			h.events = append(h.events, ev)
			if ev.Type == EventReboot {
				return h.veto
			}
			return 0
		},
	})
	require.NoError(h.t, err)
	require.NoError(h.t, c.Init())
	h.c = c
}

func (h *harness) step(n int) {
	for i := 0; i < n; i++ {
		h.c.Step()
	}
}

// stepUntil steps the client until cond holds, failing after max steps.
func (h *harness) stepUntil(cond func() bool, max int) {
	for i := 0; i < max && !cond(); i++ {
		h.step(1)
	}
	require.True(h.t, cond(), "condition not reached; state=%s focus=%d",
		h.c.state, h.c.focus)
}

func (h *harness) stepToState(st State) {
	h.stepUntil(func() bool { return h.c.state == st }, 10)
}

func (h *harness) linkUp() {
	h.modem.regCb(modem.RegHome)
	h.step(1)
}

func (h *harness) sawEvent(typ EventType) bool {
	for _, ev := range h.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func (h *harness) countEvents(typ EventType) int {
	n := 0
	for _, ev := range h.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (h *harness) nextMid() uint16 {
	h.mid++
	return h.mid
}

// request builds a confirmable request as a server would send it.
func (h *harness) request(code coap.COAPCode, path string,
	format int, payload []byte) coap.Message {

	m := coap.NewDgramMessage(coap.MessageParams{
		Type:      coap.Confirmable,
		Code:      code,
		MessageID: h.nextMid(),
		Token:     []byte(fmt.Sprintf("t%04x", h.mid)),
		Payload:   payload,
	})
	m.SetPathString(path)
	if format >= 0 {
		m.SetOption(coap.ContentFormat, coap.MediaType(format))
	}
	return m
}

// serve delivers a server request and returns the client's response.  The
// response is the first datagram sent after the request arrived.
func (h *harness) serve(s *fakeSession, req coap.Message) coap.Message {
	n := len(s.writes)
	s.inject(h.t, req)
	h.step(1)
	require.Greater(h.t, len(s.writes), n, "no response to %s",
		lwcoap.MsgString(req))

	rsp, err := lwcoap.Parse(s.writes[n])
	require.NoError(h.t, err)
	require.Equal(h.t, req.MessageID(), rsp.MessageID())
	return rsp
}

func (h *harness) elapse(d time.Duration) {
	h.clk.Advance(d)
	h.c.Step()
}

// ack answers the client's last request on s with a piggybacked response.
func (h *harness) ack(s *fakeSession, code coap.COAPCode,
	location ...string) {

	req := s.last(h.t)
	rsp := coap.NewDgramMessage(coap.MessageParams{
		Type:      coap.Acknowledgement,
		Code:      code,
		MessageID: req.MessageID(),
		Token:     req.Token(),
	})
	for _, l := range location {
		rsp.AddOption(coap.LocationPath, l)
	}
	s.inject(h.t, rsp)
	h.step(1)
}

func securityTLV(iid uint16, uri string, ssid uint16) []byte {
	return tlv.Encode([]tlv.Entry{
		tlv.ObjectInstance(iid,
			tlv.StringResource(0, uri),
			tlv.BoolResource(1, false),
			tlv.IntResource(2, 3),
			tlv.IntResource(10, int64(ssid)),
		),
	})
}

func pskSecurityTLV(iid uint16, uri string, ssid uint16, identity string,
	psk []byte) []byte {

	return tlv.Encode([]tlv.Entry{
		tlv.ObjectInstance(iid,
			tlv.StringResource(0, uri),
			tlv.BoolResource(1, false),
			tlv.IntResource(2, 0),
			tlv.OpaqueResource(3, []byte(identity)),
			tlv.OpaqueResource(5, psk),
			tlv.IntResource(10, int64(ssid)),
		),
	})
}

func serverTLV(iid uint16, ssid uint16, lifetime int64) []byte {
	return tlv.Encode([]tlv.Entry{
		tlv.ObjectInstance(iid,
			tlv.IntResource(0, int64(ssid)),
			tlv.IntResource(1, lifetime),
			tlv.StringResource(7, "U"),
		),
	})
}
