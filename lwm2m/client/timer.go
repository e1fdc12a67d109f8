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
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

type timer struct {
	name     string
	deadline time.Duration
	fn       func()
}

// timers is a set of named one-shot timers on the client clock.  Expired
// timers run from Step; arming a name again replaces the earlier timer.
type timers struct {
	clock lwutil.Clock
	m     map[string]*timer
}

func newTimers(clock lwutil.Clock) *timers {
	return &timers{
		clock: clock,
		m:     map[string]*timer{},
	}
}

func (ts *timers) set(name string, d time.Duration, fn func()) {
	log.Debugf("timer %s armed: %s", name, d)
	ts.m[name] = &timer{
		name:     name,
		deadline: ts.clock.Uptime() + d,
		fn:       fn,
	}
}

func (ts *timers) cancel(name string) {
	delete(ts.m, name)
}

func (ts *timers) pending(name string) bool {
	_, ok := ts.m[name]
	return ok
}

// remaining returns the time until a timer fires.
func (ts *timers) remaining(name string) (time.Duration, bool) {
	t := ts.m[name]
	if t == nil {
		return 0, false
	}
	return t.deadline - ts.clock.Uptime(), true
}

// fire runs every expired timer in deadline order.
func (ts *timers) fire() {
	now := ts.clock.Uptime()

	var due []*timer
	for _, t := range ts.m {
		if now >= t.deadline {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].name < due[j].name
	})

	for _, t := range due {
		// A callback may have re-armed or cancelled it.
		if ts.m[t.name] != t {
			continue
		}
		delete(ts.m, t.name)
		log.Debugf("timer %s fired", t.name)
		t.fn()
	}
}

func slotTimer(kind string, slot int) string {
	return fmt.Sprintf("%s-%d", kind, slot)
}
