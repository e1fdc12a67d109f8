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
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var logLevel log.Level = log.InfoLevel

func SetLogLevel(level log.Level) {
	logLevel = level
	log.SetLevel(level)
}

func LogLevel() log.Level {
	return logLevel
}

var nextMsgId uint16
var nextTokenVal uint32
var beenRead bool
var seqMutex sync.Mutex

func seed() {
	if !beenRead {
		nextMsgId = uint16(rand.Uint32())
		nextTokenVal = rand.Uint32()
		beenRead = true
	}
}

// NextMessageId returns the next CoAP message ID.  The sequence starts at a
// random value so that a restarted client does not reuse recent IDs.
func NextMessageId() uint16 {
	seqMutex.Lock()
	defer seqMutex.Unlock()

	seed()

	val := nextMsgId
	nextMsgId++

	return val
}

// NextToken returns a fresh 4-byte CoAP token.
func NextToken() []byte {
	seqMutex.Lock()
	defer seqMutex.Unlock()

	seed()

	val := nextTokenVal
	nextTokenVal++

	return []byte{
		byte(val >> 24),
		byte(val >> 16),
		byte(val >> 8),
		byte(val),
	}
}

// Clock abstracts the uptime counter and wall clock.  All protocol timing
// (timers, observation periods, retransmission) uses Uptime.
type Clock interface {
	// Uptime since an arbitrary, fixed origin.
	Uptime() time.Duration
	Now() time.Time
}

type sysClock struct {
	start time.Time
}

func NewSysClock() Clock {
	return &sysClock{start: time.Now()}
}

func (c *sysClock) Uptime() time.Duration {
	return time.Since(c.start)
}

func (c *sysClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a clock that only moves when told to.  It is used by tests
// and by tools that replay recorded sessions.
type ManualClock struct {
	mtx    sync.Mutex
	uptime time.Duration
	base   time.Time
}

func NewManualClock(base time.Time) *ManualClock {
	return &ManualClock{base: base}
}

func (c *ManualClock) Uptime() time.Duration {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.uptime
}

func (c *ManualClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.base.Add(c.uptime)
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.uptime += d
}

func (c *ManualClock) Set(uptime time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.uptime = uptime
}
