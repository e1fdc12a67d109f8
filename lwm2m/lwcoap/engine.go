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

package lwcoap

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

const (
	AckTimeout      = 2 * time.Second
	AckRandomFactor = 1.5
	MaxRetransmit   = 4

	// Time a separate response may take to follow an empty ACK.
	SeparateTimeout = 30 * time.Second

	// How long the ID of a non-confirmable notification is remembered so
	// that a reset can be matched to it.
	NonLifetime = 145 * time.Second

	// How long a response to a confirmable request is cached for duplicate
	// detection.
	ExchangeLifetime = 247 * time.Second

	maxCachedRsps = 16
)

// Conn is the datagram channel a message travels on.  Implementations must
// be comparable (pointer types); the engine keys its tables by Conn.
type Conn interface {
	Write(b []byte) error
}

// Called exactly once per request, with the response or an error.
type RspFn func(rsp coap.Message, err error)

// Called once per confirmable notification (nil on ACK), and for a
// non-confirmable notification only when the peer resets it.
type AckFn func(err error)

type Token struct {
	Len  int
	Data [8]byte
}

func NewToken(rawToken []byte) (Token, error) {
	ot := Token{}

	if len(rawToken) > 8 {
		return ot, fmt.Errorf("Invalid CoAP token: too long (%d bytes)",
			len(rawToken))
	}

	ot.Len = len(rawToken)
	copy(ot.Data[:], rawToken)

	return ot, nil
}

// Indicates that the peer answered a message with a reset.
type ResetError struct {
	Text string
}

func (e *ResetError) Error() string {
	return e.Text
}

func IsReset(err error) bool {
	_, ok := err.(*ResetError)
	return ok
}

type txnKind int

const (
	txnRequest txnKind = iota
	txnNotify
)

type txn struct {
	kind     txnKind
	conn     Conn
	mid      uint16
	token    Token
	raw      []byte
	con      bool
	acked    bool
	tries    int
	tmo      time.Duration
	deadline time.Duration
	rspCb    RspFn
	ackCb    AckFn
}

type midKey struct {
	conn Conn
	mid  uint16
}

type tokKey struct {
	conn Conn
	tok  Token
}

type cachedRsp struct {
	key     midKey
	raw     []byte
	expires time.Duration
}

// Engine tracks outstanding exchanges: retransmission of confirmable
// messages, matching of ACK / RST / separate responses, and duplicate
// detection of inbound confirmable requests.
type Engine struct {
	clock  lwutil.Clock
	byMid  map[midKey]*txn
	byTok  map[tokKey]*txn
	cached []cachedRsp
	rng    *rand.Rand
	mtx    sync.Mutex
}

func NewEngine(clock lwutil.Clock) *Engine {
	return &Engine{
		clock: clock,
		byMid: map[midKey]*txn{},
		byTok: map[tokKey]*txn{},
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) initialTimeout() time.Duration {
	spread := float64(AckTimeout) * (AckRandomFactor - 1) * e.rng.Float64()
	return AckTimeout + time.Duration(spread)
}

func writeRaw(conn Conn, b []byte) error {
	if err := conn.Write(b); err != nil {
		return lwutil.FmtXportError("CoAP tx failed: %s", err.Error())
	}
	return nil
}

func (e *Engine) send(conn Conn, m coap.Message) ([]byte, error) {
	b, err := Encode(m)
	if err != nil {
		return nil, err
	}

	log.Debugf("Tx CoAP %s\n%s", MsgString(m), hex.Dump(b))
	if err := writeRaw(conn, b); err != nil {
		return nil, err
	}

	return b, nil
}

func (e *Engine) insert(t *txn) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	mk := midKey{t.conn, t.mid}
	if _, ok := e.byMid[mk]; ok {
		return fmt.Errorf("Duplicate CoAP message ID %d", t.mid)
	}

	if t.kind == txnRequest {
		tk := tokKey{t.conn, t.token}
		if _, ok := e.byTok[tk]; ok {
			return fmt.Errorf("Duplicate CoAP token %x",
				t.token.Data[:t.token.Len])
		}
		e.byTok[tk] = t
	}
	e.byMid[mk] = t

	return nil
}

func (e *Engine) remove(t *txn) {
	delete(e.byMid, midKey{t.conn, t.mid})
	if t.kind == txnRequest {
		tk := tokKey{t.conn, t.token}
		if e.byTok[tk] == t {
			delete(e.byTok, tk)
		}
	}
}

func (t *txn) finish(rsp coap.Message, err error) {
	switch t.kind {
	case txnRequest:
		if t.rspCb != nil {
			t.rspCb(rsp, err)
		}
	case txnNotify:
		if t.ackCb != nil && (t.con || err != nil) {
			t.ackCb(err)
		}
	}
}

// Request sends a confirmable request built with CreateRequest.
func (e *Engine) Request(conn Conn, m coap.Message, cb RspFn) error {
	tok, err := NewToken(m.Token())
	if err != nil {
		return err
	}

	b, err := Encode(m)
	if err != nil {
		return err
	}

	now := e.clock.Uptime()
	t := &txn{
		kind:  txnRequest,
		conn:  conn,
		mid:   m.MessageID(),
		token: tok,
		raw:   b,
		con:   true,
		tmo:   e.initialTimeout(),
		rspCb: cb,
	}
	t.deadline = now + t.tmo

	if err := e.insert(t); err != nil {
		return err
	}

	log.Debugf("Tx CoAP %s\n%s", MsgString(m), hex.Dump(b))
	if err := writeRaw(conn, b); err != nil {
		e.mtx.Lock()
		e.remove(t)
		e.mtx.Unlock()
		return err
	}

	return nil
}

type NotifyParams struct {
	Token   []byte
	Seq     int
	Code    coap.COAPCode
	Format  int
	Payload []byte
	Con     bool
}

// Notify sends an observe notification.
func (e *Engine) Notify(conn Conn, p NotifyParams, cb AckFn) error {
	tok, err := NewToken(p.Token)
	if err != nil {
		return err
	}

	typ := coap.NonConfirmable
	if p.Con {
		typ = coap.Confirmable
	}
	code := p.Code
	if code == 0 {
		code = coap.Content
	}

	m := coap.NewDgramMessage(coap.MessageParams{
		Type:      typ,
		Code:      code,
		MessageID: lwutil.NextMessageId(),
		Token:     p.Token,
		Payload:   p.Payload,
	})
	m.SetObserve(p.Seq & 0xffffff)
	if p.Format >= 0 {
		m.SetOption(coap.ContentFormat, coap.MediaType(p.Format))
	}

	b, err := Encode(m)
	if err != nil {
		return err
	}

	now := e.clock.Uptime()
	t := &txn{
		kind:  txnNotify,
		conn:  conn,
		mid:   m.MessageID(),
		token: tok,
		raw:   b,
		con:   p.Con,
		ackCb: cb,
	}
	if p.Con {
		t.tmo = e.initialTimeout()
		t.deadline = now + t.tmo
	} else {
		t.deadline = now + NonLifetime
	}

	if err := e.insert(t); err != nil {
		return err
	}

	log.Debugf("Tx CoAP %s\n%s", MsgString(m), hex.Dump(b))
	if err := writeRaw(conn, b); err != nil {
		e.mtx.Lock()
		e.remove(t)
		e.mtx.Unlock()
		return err
	}

	return nil
}

// Respond sends a response to an inbound request.  Responses to confirmable
// requests are cached so that a retransmitted request gets the same answer
// without being processed twice.
func (e *Engine) Respond(conn Conn, req coap.Message, rsp coap.Message) error {
	b, err := e.send(conn, rsp)
	if err != nil {
		return err
	}

	if req.Type() == coap.Confirmable {
		e.mtx.Lock()
		defer e.mtx.Unlock()

		if len(e.cached) >= maxCachedRsps {
			e.cached = e.cached[1:]
		}
		e.cached = append(e.cached, cachedRsp{
			key:     midKey{conn, req.MessageID()},
			raw:     b,
			expires: e.clock.Uptime() + ExchangeLifetime,
		})
	}

	return nil
}

func (e *Engine) lookupCached(conn Conn, mid uint16) []byte {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	key := midKey{conn, mid}
	for _, c := range e.cached {
		if c.key == key {
			return c.raw
		}
	}
	return nil
}

func (e *Engine) sendEmpty(conn Conn, typ coap.COAPType, mid uint16) {
	if _, err := e.send(conn, newEmpty(typ, mid)); err != nil {
		log.Debugf("Failed to send empty CoAP message: %s", err.Error())
	}
}

// Input processes one received datagram.  Inbound requests are returned to
// the caller for handling; everything else is consumed by the engine.
func (e *Engine) Input(conn Conn, data []byte) coap.Message {
	m, err := Parse(data)
	if err != nil {
		log.Debugf("CoAP parse failure: %s", err.Error())
		return nil
	}

	log.Debugf("Rx CoAP %s\n%s", MsgString(m), hex.Dump(data))

	switch m.Type() {
	case coap.Acknowledgement:
		e.rxAck(conn, m)
		return nil

	case coap.Reset:
		e.rxReset(conn, m)
		return nil
	}

	if IsRequest(m) {
		if m.Type() == coap.Confirmable {
			if raw := e.lookupCached(conn, m.MessageID()); raw != nil {
				log.Debugf("Duplicate CoAP request mid=%d; resending response",
					m.MessageID())
				if err := writeRaw(conn, raw); err != nil {
					log.Debugf("%s", err.Error())
				}
				return nil
			}
		}
		return m
	}

	if IsEmpty(m) {
		// CoAP ping.
		if m.Type() == coap.Confirmable {
			e.sendEmpty(conn, coap.Reset, m.MessageID())
		}
		return nil
	}

	e.rxSeparate(conn, m)
	return nil
}

func (e *Engine) rxAck(conn Conn, m coap.Message) {
	e.mtx.Lock()

	t := e.byMid[midKey{conn, m.MessageID()}]
	if t == nil {
		e.mtx.Unlock()
		log.Debugf("Unmatched CoAP ACK mid=%d", m.MessageID())
		return
	}

	if t.kind == txnRequest && IsEmpty(m) {
		// Separate response follows.
		t.acked = true
		t.deadline = e.clock.Uptime() + SeparateTimeout
		e.mtx.Unlock()
		return
	}

	e.remove(t)
	e.mtx.Unlock()

	if t.kind == txnRequest {
		t.finish(m, nil)
	} else {
		t.finish(nil, nil)
	}
}

func (e *Engine) rxReset(conn Conn, m coap.Message) {
	e.mtx.Lock()

	t := e.byMid[midKey{conn, m.MessageID()}]
	if t == nil {
		e.mtx.Unlock()
		log.Debugf("Unmatched CoAP RST mid=%d", m.MessageID())
		return
	}
	e.remove(t)
	e.mtx.Unlock()

	t.finish(nil, &ResetError{
		Text: fmt.Sprintf("CoAP message reset by peer; mid=%d", t.mid),
	})
}

func (e *Engine) rxSeparate(conn Conn, m coap.Message) {
	tok, err := NewToken(m.Token())
	if err != nil {
		return
	}

	e.mtx.Lock()
	t := e.byTok[tokKey{conn, tok}]
	if t != nil {
		e.remove(t)
	}
	e.mtx.Unlock()

	if t == nil {
		log.Debugf("No exchange for CoAP response; token=%x", m.Token())
		if m.Type() == coap.Confirmable {
			e.sendEmpty(conn, coap.Reset, m.MessageID())
		}
		return
	}

	if m.Type() == coap.Confirmable {
		e.sendEmpty(conn, coap.Acknowledgement, m.MessageID())
	}

	t.finish(m, nil)
}

// TimeTick retransmits confirmable messages whose timer expired and fails
// the exchanges that ran out of attempts.
func (e *Engine) TimeTick() {
	now := e.clock.Uptime()

	var expired []*txn

	e.mtx.Lock()
	for _, t := range e.byMid {
		if now < t.deadline {
			continue
		}

		if t.con && !t.acked && t.tries < MaxRetransmit {
			t.tries++
			t.tmo *= 2
			t.deadline = now + t.tmo
			log.Debugf("Retransmitting CoAP mid=%d (attempt %d)",
				t.mid, t.tries+1)
			if err := writeRaw(t.conn, t.raw); err != nil {
				log.Debugf("%s", err.Error())
			}
			continue
		}

		expired = append(expired, t)
	}

	for _, t := range expired {
		e.remove(t)
	}

	live := e.cached[:0]
	for _, c := range e.cached {
		if now < c.expires {
			live = append(live, c)
		}
	}
	e.cached = live
	e.mtx.Unlock()

	for _, t := range expired {
		if t.kind == txnNotify && !t.con {
			continue
		}
		t.finish(nil, lwutil.FmtRspTimeoutError(
			"CoAP exchange timed out; mid=%d", t.mid))
	}
}

// Abort fails every exchange on the specified channel.  Called when the
// transport under it is torn down.
func (e *Engine) Abort(conn Conn, cause error) {
	var aborted []*txn

	e.mtx.Lock()
	for _, t := range e.byMid {
		if t.conn == conn {
			aborted = append(aborted, t)
		}
	}
	for _, t := range aborted {
		e.remove(t)
	}

	live := e.cached[:0]
	for _, c := range e.cached {
		if c.key.conn != conn {
			live = append(live, c)
		}
	}
	e.cached = live
	e.mtx.Unlock()

	for _, t := range aborted {
		if t.kind == txnNotify && !t.con {
			continue
		}
		t.finish(nil, cause)
	}
}

// Pending returns the number of outstanding exchanges on a channel.
func (e *Engine) Pending(conn Conn) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	n := 0
	for _, t := range e.byMid {
		if t.conn == conn {
			n++
		}
	}
	return n
}
