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
	"net"
	"net/url"
	"strconv"
	"strings"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
)

const (
	DefaultCoapPort  = 5683
	DefaultCoapsPort = 5684

	// Longest server URI accepted in a Security instance.
	MaxServerURILen = 128
)

// ClientID builds the endpoint name the carrier expects.
func ClientID(carrier retry.Carrier, imei string, msisdn string) string {
	if carrier == retry.CarrierVZW {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, msisdn)
		if len(digits) > 10 {
			digits = digits[len(digits)-10:]
		}
		return fmt.Sprintf("urn:imei-msisdn:%s-%s", imei, digits)
	}

	return "urn:imei:" + imei
}

// Indicates a server URI scheme other than coap or coaps.
type UnsupportedProtocolError struct {
	Scheme string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("UNSUPPORTED_PROTOCOL: \"%s\"", e.Scheme)
}

type ServerURI struct {
	Host   string
	Port   int
	Secure bool
}

func (u ServerURI) String() string {
	scheme := "coap"
	if u.Secure {
		scheme = "coaps"
	}
	return fmt.Sprintf("%s://%s", scheme,
		net.JoinHostPort(u.Host, strconv.Itoa(u.Port)))
}

// ParseServerURI parses coap://host[:port] and coaps://host[:port].
func ParseServerURI(s string) (ServerURI, error) {
	su := ServerURI{}

	u, err := url.Parse(s)
	if err != nil {
		return su, lwutil.NewError(lwutil.KindBadRequest,
			fmt.Sprintf("invalid server URI \"%s\": %s", s, err.Error()))
	}

	switch u.Scheme {
	case "coap":
		su.Port = DefaultCoapPort
	case "coaps":
		su.Port = DefaultCoapsPort
		su.Secure = true
	default:
		return su, &UnsupportedProtocolError{Scheme: u.Scheme}
	}

	su.Host = u.Hostname()
	if su.Host == "" {
		return su, lwutil.NewError(lwutil.KindBadRequest,
			fmt.Sprintf("server URI without host: \"%s\"", s))
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return su, lwutil.NewError(lwutil.KindBadRequest,
				fmt.Sprintf("invalid port in server URI \"%s\"", s))
		}
		su.Port = n
	}

	return su, nil
}
