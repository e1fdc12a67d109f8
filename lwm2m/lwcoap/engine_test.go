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
	"testing"
	"time"

	"github.com/runtimeco/go-coap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

type recConn struct {
	sent [][]byte
}

func (c *recConn) Write(b []byte) error {
	c.sent = append(c.sent, append([]byte(nil), b...))
	return nil
}

func (c *recConn) last(t *testing.T) coap.Message {
	require.NotEmpty(t, c.sent)
	m, err := Parse(c.sent[len(c.sent)-1])
	require.NoError(t, err)
	return m
}

func encode(t *testing.T, m coap.Message) []byte {
	b, err := Encode(m)
	require.NoError(t, err)
	return b
}

func newTestEngine() (*Engine, *lwutil.ManualClock, *recConn) {
	clk := lwutil.NewManualClock(time.Unix(0, 0))
	return NewEngine(clk), clk, &recConn{}
}

func TestPiggybackedResponse(t *testing.T) {
	e, _, conn := newTestEngine()

	req, err := CreateRequest(ReqParams{
		Code:    coap.POST,
		Path:    "/rd",
		Queries: []string{"ep=urn:imei:1", "lt=86400", "b=U"},
		Token:   []byte{1, 2, 3, 4},
		Format:  int(MediaLinkFormat),
		Payload: []byte("</1/0>"),
	})
	require.NoError(t, err)

	var got coap.Message
	var gotErr error
	calls := 0
	require.NoError(t, e.Request(conn, req, func(rsp coap.Message, err error) {
		calls++
		got = rsp
		gotErr = err
	}))

	sent := conn.last(t)
	assert.Equal(t, []string{"ep=urn:imei:1", "lt=86400", "b=U"}, Queries(sent))
	assert.Equal(t, int(MediaLinkFormat), ContentFormat(sent))
	assert.Equal(t, []string{"rd"}, PathSegments(sent))

	ack := NewResponse(sent, coap.Created)
	ack.AddOption(coap.LocationPath, "rd")
	ack.AddOption(coap.LocationPath, "5a3f")
	assert.Nil(t, e.Input(conn, encode(t, ack)))

	require.Equal(t, 1, calls)
	require.NoError(t, gotErr)
	assert.Equal(t, coap.Created, got.Code())
	assert.Equal(t, "/rd/5a3f", LocationPath(got))
	assert.Equal(t, 0, e.Pending(conn))
}

func TestRetransmitThenTimeout(t *testing.T) {
	e, clk, conn := newTestEngine()

	req, err := CreateRequest(ReqParams{
		Code:   coap.POST,
		Path:   "/bs",
		Token:  []byte{9},
		Format: -1,
	})
	require.NoError(t, err)

	var gotErr error
	require.NoError(t, e.Request(conn, req, func(rsp coap.Message, err error) {
		gotErr = err
	}))

	for i := 0; i < 200 && gotErr == nil; i++ {
		clk.Advance(time.Second)
		e.TimeTick()
	}

	require.Error(t, gotErr)
	assert.True(t, lwutil.IsRspTimeout(gotErr))
	assert.Len(t, conn.sent, 1+MaxRetransmit)
}

func TestSeparateResponse(t *testing.T) {
	e, clk, conn := newTestEngine()

	req, err := CreateRequest(ReqParams{
		Code:   coap.POST,
		Path:   "/rd/5a3f",
		Token:  []byte{7, 7},
		Format: -1,
	})
	require.NoError(t, err)

	var got coap.Message
	require.NoError(t, e.Request(conn, req, func(rsp coap.Message, err error) {
		require.NoError(t, err)
		got = rsp
	}))

	// Empty ACK stops retransmission.
	e.Input(conn, encode(t, newEmpty(coap.Acknowledgement, req.MessageID())))
	clk.Advance(10 * time.Second)
	e.TimeTick()
	assert.Len(t, conn.sent, 1)

	rsp := coap.NewDgramMessage(coap.MessageParams{
		Type:      coap.Confirmable,
		Code:      coap.Changed,
		MessageID: 4242,
		Token:     []byte{7, 7},
	})
	e.Input(conn, encode(t, rsp))

	require.NotNil(t, got)
	assert.Equal(t, coap.Changed, got.Code())

	ack := conn.last(t)
	assert.Equal(t, coap.Acknowledgement, ack.Type())
	assert.EqualValues(t, 4242, ack.MessageID())
}

func TestNonNotificationReset(t *testing.T) {
	e, _, conn := newTestEngine()

	var gotErr error
	calls := 0
	require.NoError(t, e.Notify(conn, NotifyParams{
		Token:   []byte{1},
		Seq:     3,
		Format:  int(MediaTextPlain),
		Payload: []byte("20"),
	}, func(err error) {
		calls++
		gotErr = err
	}))

	n := conn.last(t)
	assert.Equal(t, coap.NonConfirmable, n.Type())
	assert.Equal(t, 3, Observe(n))

	e.Input(conn, encode(t, newEmpty(coap.Reset, n.MessageID())))
	require.Equal(t, 1, calls)
	assert.True(t, IsReset(gotErr))
}

func TestDuplicateRequestReplaysResponse(t *testing.T) {
	e, _, conn := newTestEngine()

	req := coap.NewDgramMessage(coap.MessageParams{
		Type:      coap.Confirmable,
		Code:      coap.PUT,
		MessageID: 100,
		Token:     []byte{5},
	})
	req.SetPathString("1/0/1")
	raw := encode(t, req)

	in := e.Input(conn, raw)
	require.NotNil(t, in)
	require.NoError(t, e.Respond(conn, in, NewResponse(in, coap.Changed)))
	require.Len(t, conn.sent, 1)

	// Retransmission is answered from the cache and not handed up.
	assert.Nil(t, e.Input(conn, raw))
	require.Len(t, conn.sent, 2)
	assert.Equal(t, conn.sent[0], conn.sent[1])
}

func TestAbortFailsPending(t *testing.T) {
	e, _, conn := newTestEngine()

	req, err := CreateRequest(ReqParams{
		Code:   coap.DELETE,
		Path:   "/rd/1",
		Token:  []byte{3},
		Format: -1,
	})
	require.NoError(t, err)

	var gotErr error
	require.NoError(t, e.Request(conn, req, func(rsp coap.Message, err error) {
		gotErr = err
	}))

	e.Abort(conn, lwutil.NewXportError("closed"))
	assert.True(t, lwutil.IsXport(gotErr))
	assert.Equal(t, 0, e.Pending(conn))
}
