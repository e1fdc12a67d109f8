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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

func TestTimers(t *testing.T) {
	clk := lwutil.NewManualClock(time.Unix(0, 0))
	ts := newTimers(clk)

	var fired []string
	ts.set("b", 2*time.Second, func() { fired = append(fired, "b") })
	ts.set("a", 2*time.Second, func() { fired = append(fired, "a") })
	ts.set("c", time.Second, func() { fired = append(fired, "c") })
	ts.set("d", time.Second, func() { fired = append(fired, "d") })
	ts.cancel("d")

	ts.fire()
	assert.Empty(t, fired)

	rem, ok := ts.remaining("a")
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, rem)
	_, ok = ts.remaining("d")
	assert.False(t, ok)

	clk.Advance(3 * time.Second)
	ts.fire()
	assert.Equal(t, []string{"c", "a", "b"}, fired)
	assert.False(t, ts.pending("a"))
}

func TestTimerRearmFromCallback(t *testing.T) {
	clk := lwutil.NewManualClock(time.Unix(0, 0))
	ts := newTimers(clk)

	n := 0
	var tick func()
	tick = func() {
		n++
		ts.set("tick", time.Second, tick)
	}
	ts.set("tick", time.Second, tick)

	// Cancelled by an earlier callback in the same pass.
	ts.set("early", 500*time.Millisecond, func() { ts.cancel("tick") })

	clk.Advance(time.Second)
	ts.fire()
	assert.Equal(t, 0, n)

	ts.set("tick", time.Second, tick)
	clk.Advance(time.Second)
	ts.fire()
	assert.Equal(t, 1, n)
	assert.True(t, ts.pending("tick"))
	assert.Equal(t, "tick-3", slotTimer("tick", 3))
}
