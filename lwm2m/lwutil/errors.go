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
	"fmt"

	"github.com/pkg/errors"
	"github.com/runtimeco/go-coap"
)

// Represents a CoAP-layer timeout; request sent, but no response received
// after all retransmissions.
type RspTimeoutError struct {
	Text string
}

func NewRspTimeoutError(text string) *RspTimeoutError {
	return &RspTimeoutError{
		Text: text,
	}
}

func FmtRspTimeoutError(format string, args ...interface{}) *RspTimeoutError {
	return NewRspTimeoutError(fmt.Sprintf(format, args...))
}

func (e *RspTimeoutError) Error() string {
	return e.Text
}

func IsRspTimeout(err error) bool {
	_, ok := errors.Cause(err).(*RspTimeoutError)
	return ok
}

// Represents a low-level transport error (socket, DTLS handshake).
type XportError struct {
	Text string
}

func NewXportError(text string) *XportError {
	return &XportError{text}
}

func FmtXportError(format string, args ...interface{}) *XportError {
	return NewXportError(fmt.Sprintf(format, args...))
}

func (e *XportError) Error() string {
	return e.Text
}

func IsXport(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*XportError)
	return ok
}

// Indicates that a non-blocking operation has been started and has not
// completed yet.
type InProgressError struct {
	Text string
}

func NewInProgressError(text string) *InProgressError {
	return &InProgressError{text}
}

func (e *InProgressError) Error() string {
	return e.Text
}

func IsInProgress(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*InProgressError)
	return ok
}

// Indicates that a host name has no address of the requested family.
type NoAddressError struct {
	Text   string
	Family int
}

func NewNoAddressError(family int, text string) *NoAddressError {
	return &NoAddressError{
		Text:   text,
		Family: family,
	}
}

func (e *NoAddressError) Error() string {
	return e.Text
}

func IsNoAddress(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*NoAddressError)
	return ok
}

// Indicates that the packet data network used by a connection went away.
type PdnDownError struct {
	Text string
}

func NewPdnDownError(text string) *PdnDownError {
	return &PdnDownError{text}
}

func (e *PdnDownError) Error() string {
	return e.Text
}

func IsPdnDown(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*PdnDownError)
	return ok
}

// Indicates an attempt to transition to the already-current state.
type AlreadyError struct {
	Text string
}

func NewAlreadyError(text string) *AlreadyError {
	return &AlreadyError{text}
}

func (err *AlreadyError) Error() string {
	return err.Text
}

func IsAlready(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*AlreadyError)
	return ok
}

// Indicates that a retry table has no entries left.
type ExhaustedError struct {
	Text string
}

func NewExhaustedError(text string) *ExhaustedError {
	return &ExhaustedError{text}
}

func FmtExhaustedError(format string, args ...interface{}) *ExhaustedError {
	return NewExhaustedError(fmt.Sprintf(format, args...))
}

func (err *ExhaustedError) Error() string {
	return err.Text
}

func IsExhausted(err error) bool {
	if err == nil {
		return false
	}

	_, ok := errors.Cause(err).(*ExhaustedError)
	return ok
}

// Carries a CoAP response code.  Returned by object handlers to select the
// response sent to the server, and by the request engine when a server
// answers with an error code.
type CoapError struct {
	Code coap.COAPCode
	Text string
}

func NewCoapError(code coap.COAPCode, text string) *CoapError {
	return &CoapError{
		Code: code,
		Text: text,
	}
}

func FmtCoapError(code coap.COAPCode, format string,
	args ...interface{}) *CoapError {

	return NewCoapError(code, fmt.Sprintf(format, args...))
}

func (e *CoapError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Text, CodeString(e.Code))
}

func ToCoapError(err error) *CoapError {
	if err == nil {
		return nil
	}

	if cerr, ok := errors.Cause(err).(*CoapError); ok {
		return cerr
	} else {
		return nil
	}
}

func IsCoap(err error) bool {
	return ToCoapError(err) != nil
}

// CodeString formats a CoAP code in dotted "c.dd" notation.
func CodeString(code coap.COAPCode) string {
	return fmt.Sprintf("%d.%02d", uint8(code)>>5, uint8(code)&0x1f)
}

func ErrorCausedBy(err error, cause error) bool {
	cur := err
	for {
		if cur == cause {
			return true
		}

		child := errors.Cause(cur)
		if child == cur {
			return false
		}

		cur = child
	}
}
