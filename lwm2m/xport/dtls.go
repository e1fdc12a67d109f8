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

package xport

import (
	"context"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

// DtlsSesn is a PSK DTLS 1.2 client session.  The handshake runs on its
// own goroutine; Poll reports its progress.
type DtlsSesn struct {
	remote string
	cancel context.CancelFunc

	mtx    sync.Mutex
	conn   *dtls.Conn
	err    error
	closed bool
}

// PskConfig builds the DTLS configuration for the credentials at a
// security tag.
func PskConfig(cs creds.Store, tag uint32) (*dtls.Config, error) {
	identity, psk, err := cs.Read(tag)
	if err != nil {
		return nil, err
	}

	return &dtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return psk, nil
		},
		PSKIdentityHint: identity,
		CipherSuites: []dtls.CipherSuiteID{
			dtls.TLS_PSK_WITH_AES_128_CCM_8,
			dtls.TLS_PSK_WITH_AES_128_CBC_SHA256,
		},
	}, nil
}

func dialDtls(p Params, cs creds.Store, timeout time.Duration,
	rx RxFn) (*DtlsSesn, error) {

	if cs == nil {
		return nil, lwutil.NewXportError("no credential store")
	}
	cfg, err := PskConfig(cs, p.SecTag)
	if err != nil {
		return nil, lwutil.FmtXportError(
			"no credentials for sec_tag %d: %s", p.SecTag, err.Error())
	}

	uconn, err := net.DialUDP("udp", nil, p.Addr)
	if err != nil {
		return nil, lwutil.FmtXportError("failed to open UDP socket: %s",
			err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s := &DtlsSesn{
		remote: p.Addr.String(),
		cancel: cancel,
	}

	go func() {
		defer cancel()

		conn, err := dtls.ClientWithContext(ctx, uconn, cfg)

		s.mtx.Lock()
		if s.closed {
			s.mtx.Unlock()
			if conn != nil {
				conn.Close()
			} else {
				uconn.Close()
			}
			return
		}
		if err != nil {
			s.err = lwutil.FmtXportError("DTLS handshake with %s failed: %s",
				s.remote, err.Error())
			s.mtx.Unlock()
			uconn.Close()
			return
		}
		s.conn = conn
		s.mtx.Unlock()

		log.Debugf("DTLS session established with %s", s.remote)
		s.readLoop(conn, rx)
	}()

	return s, lwutil.NewInProgressError("DTLS handshake in progress")
}

func (s *DtlsSesn) readLoop(conn *dtls.Conn, rx RxFn) {
	data := make([]byte, MaxPacketSize)

	for {
		nr, err := conn.Read(data)
		if err != nil {
			s.mtx.Lock()
			if !s.closed && s.err == nil {
				s.err = lwutil.FmtXportError("DTLS read failed: %s",
					err.Error())
			}
			s.mtx.Unlock()
			return
		}

		log.Debugf("rx %d bytes from %s", nr, s.remote)
		rx(s, append([]byte(nil), data[:nr]...))
	}
}

func (s *DtlsSesn) Poll() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.err != nil {
		return s.err
	}
	if s.closed {
		return lwutil.NewXportError("session closed")
	}
	if s.conn == nil {
		return lwutil.NewInProgressError("DTLS handshake in progress")
	}
	return nil
}

func (s *DtlsSesn) Write(b []byte) error {
	s.mtx.Lock()
	conn := s.conn
	s.mtx.Unlock()

	if conn == nil {
		return lwutil.NewXportError("DTLS session not established")
	}

	log.Debugf("tx %d bytes to %s:\n%s", len(b), s.remote, hex.Dump(b))
	if _, err := conn.Write(b); err != nil {
		return lwutil.FmtXportError("DTLS write failed: %s", err.Error())
	}
	return nil
}

func (s *DtlsSesn) Remote() string {
	return s.remote
}

func (s *DtlsSesn) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mtx.Unlock()

	s.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
