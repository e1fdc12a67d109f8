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
	"fmt"
	"strings"

	"github.com/runtimeco/go-coap"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

const (
	MediaTextPlain  = coap.MediaType(0)
	MediaLinkFormat = coap.MediaType(40)
	MediaOpaque     = coap.MediaType(42)
	MediaTlv        = coap.MediaType(11542)
)

func validateToken(t []byte) error {
	if len(t) > 8 {
		return fmt.Errorf("Invalid token; len=%d, must be <= 8", len(t))
	}

	return nil
}

func Encode(m coap.Message) ([]byte, error) {
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("Failed to encode CoAP: %s", err.Error())
	}

	return b, nil
}

func Parse(data []byte) (coap.Message, error) {
	m, err := coap.ParseDgramMessage(data)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ReqParams describes a client-initiated request.
type ReqParams struct {
	Code    coap.COAPCode
	Path    string
	Queries []string
	Token   []byte
	Format  int
	Payload []byte
}

// CreateRequest builds a confirmable request with a fresh message ID.  A
// negative Format omits the Content-Format option.
func CreateRequest(p ReqParams) (coap.Message, error) {
	if err := validateToken(p.Token); err != nil {
		return nil, err
	}

	m := coap.NewDgramMessage(coap.MessageParams{
		Type:      coap.Confirmable,
		Code:      p.Code,
		MessageID: lwutil.NextMessageId(),
		Token:     p.Token,
		Payload:   p.Payload,
	})

	m.SetPathString(strings.TrimPrefix(p.Path, "/"))
	for _, q := range p.Queries {
		m.AddOption(coap.URIQuery, q)
	}
	if p.Format >= 0 {
		m.SetOption(coap.ContentFormat, coap.MediaType(p.Format))
	}

	return m, nil
}

// NewResponse builds a response to the specified request: a piggybacked ACK
// for a confirmable request, a non-confirmable message otherwise.
func NewResponse(req coap.Message, code coap.COAPCode) coap.Message {
	typ := coap.NonConfirmable
	if req.Type() == coap.Confirmable {
		typ = coap.Acknowledgement
	}

	return coap.NewDgramMessage(coap.MessageParams{
		Type:      typ,
		Code:      code,
		MessageID: req.MessageID(),
		Token:     req.Token(),
	})
}

func newEmpty(typ coap.COAPType, mid uint16) coap.Message {
	return coap.NewDgramMessage(coap.MessageParams{
		Type:      typ,
		Code:      0,
		MessageID: mid,
	})
}

// IsRequest reports whether the message carries a method code (class 0,
// non-empty).
func IsRequest(m coap.Message) bool {
	c := uint8(m.Code())
	return c > 0 && c < 32
}

func IsEmpty(m coap.Message) bool {
	return m.Code() == 0
}

// IsSuccess reports whether the message carries a 2.xx code.
func IsSuccess(code coap.COAPCode) bool {
	return uint8(code)>>5 == 2
}

func optionUint(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case uint16:
		return uint32(n), true
	case uint8:
		return uint32(n), true
	case uint:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	case int:
		return uint32(n), true
	case int32:
		return uint32(n), true
	case coap.MediaType:
		return uint32(n), true
	default:
		return 0, false
	}
}

// ContentFormat returns the Content-Format option; -1 when absent.
func ContentFormat(m coap.Message) int {
	v, ok := optionUint(m.Option(coap.ContentFormat))
	if !ok {
		return -1
	}
	return int(v)
}

// Accept returns the Accept option; -1 when absent.
func Accept(m coap.Message) int {
	v, ok := optionUint(m.Option(coap.Accept))
	if !ok {
		return -1
	}
	return int(v)
}

// Observe returns the Observe option; -1 when absent.
func Observe(m coap.Message) int {
	v, ok := optionUint(m.Option(coap.Observe))
	if !ok {
		return -1
	}
	return int(v)
}

func stringOptions(m coap.Message, id coap.OptionID) []string {
	var ss []string
	for _, o := range m.Options(id) {
		switch v := o.(type) {
		case string:
			ss = append(ss, v)
		case []byte:
			ss = append(ss, string(v))
		}
	}
	return ss
}

func Queries(m coap.Message) []string {
	return stringOptions(m, coap.URIQuery)
}

// LocationPath returns the Location-Path options joined into an absolute
// path, e.g. "/rd/5a3f".
func LocationPath(m coap.Message) string {
	segs := stringOptions(m, coap.LocationPath)
	if len(segs) == 0 {
		return ""
	}
	return "/" + strings.Join(segs, "/")
}

func PathSegments(m coap.Message) []string {
	var segs []string
	for _, s := range m.Path() {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func MsgString(m coap.Message) string {
	return fmt.Sprintf("type=%d code=%s mid=%d token=%x path=/%s len=%d",
		m.Type(), lwutil.CodeString(m.Code()), m.MessageID(), m.Token(),
		strings.Join(m.Path(), "/"), len(m.Payload()))
}
