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

package modem

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/dns/dnsmessage"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

const DefaultDnsTimeout = 5 * time.Second

// DnsResolver queries a single DNS server directly.  With no server
// configured it falls back to the system resolver.
type DnsResolver struct {
	// host:port of the name server.
	Server  string
	Timeout time.Duration
}

func NewDnsResolver(server string) *DnsResolver {
	if server != "" && !strings.Contains(server, ":") {
		server = net.JoinHostPort(server, "53")
	}
	return &DnsResolver{
		Server:  server,
		Timeout: DefaultDnsTimeout,
	}
}

func noAddress(host string, family Family) error {
	return lwutil.NewNoAddressError(int(family),
		"no "+family.String()+" address for "+host)
}

// lookupErr reports a lookup that ran out of time as a response timeout
// so callers can tell it apart from an unreachable name server.
func lookupErr(host string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return lwutil.FmtRspTimeoutError("DNS query for %s timed out", host)
	}
	if err == context.DeadlineExceeded {
		return lwutil.FmtRspTimeoutError("DNS query for %s timed out", host)
	}
	return lwutil.FmtXportError("DNS query for %s failed: %s",
		host, err.Error())
}

func matchFamily(ip net.IP, family Family) bool {
	if family == FamilyIPv4 {
		return ip.To4() != nil
	}
	return ip.To4() == nil && ip.To16() != nil
}

func (r *DnsResolver) Resolve(ctx context.Context, host string,
	family Family, apn string) (net.IP, error) {

	if ip := net.ParseIP(host); ip != nil {
		if !matchFamily(ip, family) {
			return nil, noAddress(host, family)
		}
		return ip, nil
	}

	if apn != "" {
		log.Debugf("resolving %s over apn %s", host, apn)
	}

	if r.Server == "" {
		return r.resolveSystem(ctx, host, family)
	}
	return r.resolveDirect(ctx, host, family)
}

func (r *DnsResolver) resolveSystem(ctx context.Context, host string,
	family Family) (net.IP, error) {

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, lookupErr(host, err)
	}

	for _, a := range addrs {
		if matchFamily(a.IP, family) {
			return a.IP, nil
		}
	}
	return nil, noAddress(host, family)
}

func (r *DnsResolver) resolveDirect(ctx context.Context, host string,
	family Family) (net.IP, error) {

	fqdn := host
	if !strings.HasSuffix(fqdn, ".") {
		fqdn += "."
	}
	name, err := dnsmessage.NewName(fqdn)
	if err != nil {
		return nil, lwutil.FmtXportError("bad host name %q: %s",
			host, err.Error())
	}

	qtype := dnsmessage.TypeA
	if family == FamilyIPv6 {
		qtype = dnsmessage.TypeAAAA
	}

	id := uint16(rand.Uint32())
	msg := dnsmessage.Message{
		Header: dnsmessage.Header{
			ID:               id,
			RecursionDesired: true,
		},
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  qtype,
			Class: dnsmessage.ClassINET,
		}},
	}
	req, err := msg.Pack()
	if err != nil {
		return nil, lwutil.FmtXportError("failed to build DNS query: %s",
			err.Error())
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", r.Server)
	if err != nil {
		return nil, lwutil.FmtXportError("failed to reach DNS server %s: %s",
			r.Server, err.Error())
	}
	defer conn.Close()

	deadline := time.Now().Add(r.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write(req); err != nil {
		return nil, lwutil.FmtXportError("DNS write failed: %s", err.Error())
	}

	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, lookupErr(host, err)
		}

		ip, match, err := parseAnswer(buf[:n], id, qtype)
		if !match {
			continue
		}
		if err != nil {
			return nil, err
		}
		if ip == nil {
			return nil, noAddress(host, family)
		}
		return ip, nil
	}
}

// parseAnswer extracts the first address of the queried type.  match is
// false if the message is not the response to our query.
func parseAnswer(b []byte, id uint16,
	qtype dnsmessage.Type) (net.IP, bool, error) {

	var p dnsmessage.Parser
	hdr, err := p.Start(b)
	if err != nil || hdr.ID != id || !hdr.Response {
		return nil, false, nil
	}

	if hdr.RCode == dnsmessage.RCodeNameError {
		return nil, true, nil
	}
	if hdr.RCode != dnsmessage.RCodeSuccess {
		return nil, true, lwutil.FmtXportError("DNS error: %s",
			hdr.RCode.String())
	}

	if err := p.SkipAllQuestions(); err != nil {
		return nil, true, lwutil.FmtXportError("bad DNS response: %s",
			err.Error())
	}

	for {
		ah, err := p.AnswerHeader()
		if err == dnsmessage.ErrSectionDone {
			return nil, true, nil
		}
		if err != nil {
			return nil, true, lwutil.FmtXportError("bad DNS response: %s",
				err.Error())
		}

		switch {
		case ah.Type == dnsmessage.TypeA && qtype == dnsmessage.TypeA:
			r, err := p.AResource()
			if err != nil {
				return nil, true, err
			}
			return net.IP(r.A[:]), true, nil

		case ah.Type == dnsmessage.TypeAAAA && qtype == dnsmessage.TypeAAAA:
			r, err := p.AAAAResource()
			if err != nil {
				return nil, true, err
			}
			return net.IP(r.AAAA[:]), true, nil

		default:
			if err := p.SkipAnswer(); err != nil {
				return nil, true, err
			}
		}
	}
}
