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

package lwutil

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/runtimeco/go-coap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	err := errors.Wrap(NewNoAddressError(6, "no AAAA"), "resolve")
	assert.True(t, IsNoAddress(err))
	assert.Equal(t, KindAfUnsupported, KindOf(err))

	err = errors.Wrapf(NewRspTimeoutError("no ack"), "slot %d", 1)
	assert.True(t, IsRspTimeout(err))
	assert.Equal(t, KindTransient, KindOf(err))

	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindFatalBootstrap,
		KindOf(NewError(KindFatalBootstrap, "bad response")))
}

func TestCoapCodeFor(t *testing.T) {
	assert.Equal(t, coap.NotFound,
		CoapCodeFor(NewCoapError(coap.NotFound, "no instance")))
	assert.Equal(t, coap.Unauthorized,
		CoapCodeFor(NewError(KindUnauthorized, "acl")))
	assert.Equal(t, coap.InternalServerError,
		CoapCodeFor(errors.New("boom")))
	assert.Equal(t, "4.04", CodeString(coap.NotFound))
	assert.Equal(t, "2.01", CodeString(coap.Created))
}

func TestErrorCausedBy(t *testing.T) {
	base := errors.New("base")
	assert.True(t, ErrorCausedBy(errors.Wrap(base, "outer"), base))
	assert.False(t, ErrorCausedBy(errors.New("other"), base))
}

func TestTokensDiffer(t *testing.T) {
	a := NextToken()
	b := NextToken()
	require.Len(t, a, 4)
	assert.NotEqual(t, a, b)
	assert.Equal(t, NextMessageId()+1, NextMessageId())
}

func TestManualClock(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(base)
	c.Advance(5 * time.Second)
	assert.Equal(t, 5*time.Second, c.Uptime())
	assert.Equal(t, base.Add(5*time.Second), c.Now())
}
