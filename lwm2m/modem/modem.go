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

// Package modem is the cellular modem interface: identity, network
// registration, PDN control and DNS.
package modem

import (
	"context"
	"net"
)

// RegStatus is the EPS network registration status (+CEREG <stat>).
type RegStatus int

const (
	RegNotRegistered RegStatus = 0
	RegHome          RegStatus = 1
	RegSearching     RegStatus = 2
	RegDenied        RegStatus = 3
	RegUnknown       RegStatus = 4
	RegRoaming       RegStatus = 5
)

var regStatusNameMap = map[RegStatus]string{
	RegNotRegistered: "not-registered",
	RegHome:          "home",
	RegSearching:     "searching",
	RegDenied:        "denied",
	RegUnknown:       "unknown",
	RegRoaming:       "roaming",
}

func (s RegStatus) String() string {
	n := regStatusNameMap[s]
	if n == "" {
		return "???"
	}
	return n
}

type Family int

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

func (f Family) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ipv4"
}

type Modem interface {
	IMEI() (string, error)
	MSISDN() (string, error)
	ICCID() (string, error)

	// Operator returns the MCC+MNC of the serving network.
	Operator() (string, error)

	FirmwareVersion() (string, error)

	// SetOnline switches the radio on or to offline mode.  Credentials may
	// only be written while offline.
	SetOnline(on bool) error

	ActivatePDN(apn string) error
	DeactivatePDN(apn string) error
	IPv6Ready(apn string) (bool, error)

	Shutdown() error

	// SetRegStatusCb installs the network registration listener.
	SetRegStatusCb(cb func(s RegStatus))
}

// Resolver looks up one address of the requested family, optionally over
// a specific access point.
type Resolver interface {
	Resolve(ctx context.Context, host string, family Family,
		apn string) (net.IP, error)
}
