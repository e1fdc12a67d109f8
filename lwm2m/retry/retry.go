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

// Package retry holds the carrier connect and PDN retry tables.
package retry

import (
	"fmt"
	"strings"
	"time"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

type Carrier int

const (
	CarrierGeneric Carrier = iota
	CarrierVZW
	CarrierATT
)

var carrierNameMap = map[Carrier]string{
	CarrierGeneric: "generic",
	CarrierVZW:     "vzw",
	CarrierATT:     "att",
}

func (c Carrier) String() string {
	return carrierNameMap[c]
}

func ParseCarrier(s string) (Carrier, error) {
	for c, n := range carrierNameMap {
		if n == strings.ToLower(s) {
			return c, nil
		}
	}
	return CarrierGeneric, fmt.Errorf("unknown carrier \"%s\"", s)
}

// Operator ids (MCC+MNC) that select a carrier profile.
var operatorMap = map[string]Carrier{
	"311480": CarrierVZW,
	"310410": CarrierATT,
	"310170": CarrierATT,
	"310280": CarrierATT,
	"310380": CarrierATT,
	"310950": CarrierATT,
}

// CarrierForOperator maps an operator id to its carrier.  Unknown operators
// use the generic profile.
func CarrierForOperator(op string) Carrier {
	if c, ok := operatorMap[op]; ok {
		return c
	}
	return CarrierGeneric
}

type Profile struct {
	Carrier Carrier
	Connect []time.Duration
	Pdn     []time.Duration
}

var pdnTable = []time.Duration{
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
	64 * time.Second,
}

var VZW = Profile{
	Carrier: CarrierVZW,
	Connect: []time.Duration{
		2 * time.Minute,
		4 * time.Minute,
		6 * time.Minute,
		8 * time.Minute,
		24 * time.Hour,
	},
	Pdn: pdnTable,
}

var ATT = Profile{
	Carrier: CarrierATT,
	Connect: []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		24 * time.Hour,
	},
	Pdn: pdnTable,
}

var Generic = Profile{
	Carrier: CarrierGeneric,
	Connect: ATT.Connect,
	Pdn:     pdnTable,
}

func ProfileFor(c Carrier) Profile {
	switch c {
	case CarrierVZW:
		return VZW
	case CarrierATT:
		return ATT
	default:
		return Generic
	}
}

// Counter walks one retry table.
type Counter struct {
	table []time.Duration
	next  int
}

func NewCounter(table []time.Duration) *Counter {
	return &Counter{table: table}
}

// Next returns the delay before the next attempt and whether it is the
// final entry of the table.  After the final entry it returns an
// ExhaustedError.
func (c *Counter) Next() (time.Duration, bool, error) {
	if c.next >= len(c.table) {
		return 0, false, lwutil.FmtExhaustedError(
			"retry table exhausted after %d attempts", len(c.table))
	}

	d := c.table[c.next]
	c.next++
	return d, c.next == len(c.table), nil
}

// FastForward makes the next call to Next return the final entry.
func (c *Counter) FastForward() {
	if len(c.table) > 0 && c.next < len(c.table)-1 {
		c.next = len(c.table) - 1
	}
}

func (c *Counter) Reset() {
	c.next = 0
}

// Attempts returns how many delays have been handed out since the last
// reset.
func (c *Counter) Attempts() int {
	return c.next
}

func (c *Counter) Exhausted() bool {
	return c.next >= len(c.table)
}
