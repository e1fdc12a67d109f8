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
	"github.com/pkg/errors"
	"github.com/runtimeco/go-coap"
)

// Kind classifies an error by how the client reacts to it.
type Kind int

const (
	KindNone Kind = iota

	// DNS failure, socket setup failure, handshake failure, request
	// timeout.  Retried per the carrier retry table.
	KindTransient

	// No address of the requested family; triggers IPv6 to IPv4 fallback
	// without consuming a retry slot.
	KindAfUnsupported

	// 4.00 / 4.03 / 4.04 from a server during bootstrap or registration.
	KindProtocolReject

	// Access control denial of an inbound request.
	KindUnauthorized

	KindNotFound
	KindMethodNotAllowed
	KindBadRequest

	// Unexpected bootstrap response or exhausted bootstrap retries.
	KindFatalBootstrap

	// Platform initialisation or storage failure.
	KindFatalPlatform

	// Bad firmware image or failed DFU.
	KindFirmwareIntegrity
)

var kindNameMap = map[Kind]string{
	KindNone:              "none",
	KindTransient:         "transient",
	KindAfUnsupported:     "af_unsupported",
	KindProtocolReject:    "protocol_reject",
	KindUnauthorized:      "unauthorized",
	KindNotFound:          "not_found",
	KindMethodNotAllowed:  "method_not_allowed",
	KindBadRequest:        "bad_request",
	KindFatalBootstrap:    "fatal_bootstrap",
	KindFatalPlatform:     "fatal_platform",
	KindFirmwareIntegrity: "firmware_integrity",
}

func (k Kind) String() string {
	s := kindNameMap[k]
	if s == "" {
		return "???"
	}
	return s
}

// Error is an error tagged with an explicit kind.
type Error struct {
	Kind Kind
	Text string
}

func NewError(kind Kind, text string) *Error {
	return &Error{
		Kind: kind,
		Text: text,
	}
}

func (e *Error) Error() string {
	return e.Text
}

// KindOf maps an error to its kind.  Explicitly tagged errors keep their
// kind; the typed errors of this package map to their natural kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	switch e := errors.Cause(err).(type) {
	case *Error:
		return e.Kind

	case *NoAddressError:
		return KindAfUnsupported

	case *RspTimeoutError, *XportError, *PdnDownError, *InProgressError:
		return KindTransient

	case *CoapError:
		switch e.Code {
		case coap.Unauthorized:
			return KindUnauthorized
		case coap.NotFound:
			return KindNotFound
		case coap.MethodNotAllowed:
			return KindMethodNotAllowed
		case coap.BadRequest:
			return KindBadRequest
		case coap.Forbidden:
			return KindProtocolReject
		default:
			return KindProtocolReject
		}

	default:
		return KindTransient
	}
}

// CoapCodeFor returns the response code to send to a server for an error
// produced while serving one of its requests.
func CoapCodeFor(err error) coap.COAPCode {
	if cerr := ToCoapError(err); cerr != nil {
		return cerr.Code
	}

	switch KindOf(err) {
	case KindUnauthorized:
		return coap.Unauthorized
	case KindNotFound:
		return coap.NotFound
	case KindMethodNotAllowed:
		return coap.MethodNotAllowed
	case KindBadRequest:
		return coap.BadRequest
	default:
		return coap.InternalServerError
	}
}
